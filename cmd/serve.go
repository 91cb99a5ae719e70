package cmd

import (
	"context"
	"errors"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newServeCmd() *cobra.Command {
	var scrapeOnStart bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the results API until interrupted.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			logger := appInstance.Logger()

			if scrapeOnStart {
				go func() {
					_, summary, err := appInstance.Scrape(ctx, "")
					if err != nil {
						if !errors.Is(err, context.Canceled) {
							logger.Error("startup scrape failed", zap.Error(err))
						}
						return
					}
					logger.Info("startup scrape finished",
						zap.String("run_id", summary.RunID),
						zap.Int("succeeded", summary.Succeeded),
						zap.Int("failed", summary.Failed),
					)
				}()
			}
			return appInstance.Serve(ctx)
		},
	}
	cmd.Flags().BoolVar(&scrapeOnStart, "scrape-on-start", false, "run a full scrape in the background once the server starts")
	return cmd
}
