// Package config finds the scraper's configuration file. Viper searches a
// fixed list of directories for a file named "config" with any supported
// extension, so a deployment can drop config.yaml into /etc/fisscraper and
// run the binary without flags.
package config

import (
	"errors"
	"fmt"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// FileName is the config file base name, without extension.
const FileName = "config"

// SearchPaths lists the directories checked, in order, when no explicit path is given.
var SearchPaths = []string{
	".",
	"./configs",
	"/etc/fisscraper",
	"$HOME/.fisscraper",
}

// Locate resolves the config file to load. An explicit path always wins.
// Otherwise the search paths are tried, and an empty string means none was
// found and the caller should run on defaults and environment variables.
func Locate(explicit string, logger *zap.Logger) (string, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if explicit != "" {
		return explicit, nil
	}

	v := viper.New()
	v.SetConfigName(FileName)
	for _, p := range SearchPaths {
		v.AddConfigPath(p)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			logger.Warn("config file not found; using defaults and environment variables")
			return "", nil
		}
		return "", fmt.Errorf("locate config: %w", err)
	}

	logger.Info("using config file", zap.String("path", v.ConfigFileUsed()))
	return v.ConfigFileUsed(), nil
}
