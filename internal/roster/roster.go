// Package roster loads the athlete list the pipeline scrapes.
package roster

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/jjjenkim/fis-results-scraper/internal/scrape"
)

// ProfileURLFormat is filled with the sector code and competitor id.
const ProfileURLFormat = "https://www.fis-ski.com/DB/general/athlete-biography.html?sectorcode=%s&competitorid=%s&type=result"

// ErrEmpty is returned when a roster file lists no athletes.
var ErrEmpty = errors.New("roster has no athletes")

type file struct {
	Athletes []scrape.AthleteDescriptor `json:"athletes" yaml:"athletes" toml:"athletes"`
}

// Load reads a roster file. The format follows the extension: .yaml/.yml,
// .json or .toml.
func Load(path string) ([]scrape.AthleteDescriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read roster %s: %w", path, err)
	}
	athletes, err := Decode(data, filepath.Ext(path))
	if err != nil {
		return nil, fmt.Errorf("roster %s: %w", path, err)
	}
	return athletes, nil
}

// Decode parses roster bytes in the format named by ext and normalizes
// every entry.
func Decode(data []byte, ext string) ([]scrape.AthleteDescriptor, error) {
	var f file
	switch strings.ToLower(strings.TrimPrefix(ext, ".")) {
	case "yaml", "yml":
		if err := yaml.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("decode yaml: %w", err)
		}
	case "json":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&f); err != nil {
			return nil, fmt.Errorf("decode json: %w", err)
		}
	case "toml":
		if _, err := toml.Decode(string(data), &f); err != nil {
			return nil, fmt.Errorf("decode toml: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported roster format %q", ext)
	}
	return Normalize(f.Athletes)
}

// Normalize trims fields, fills the identifier from the profile URL or the
// profile URL from the identifier, and rejects duplicates.
func Normalize(athletes []scrape.AthleteDescriptor) ([]scrape.AthleteDescriptor, error) {
	if len(athletes) == 0 {
		return nil, ErrEmpty
	}
	out := make([]scrape.AthleteDescriptor, 0, len(athletes))
	seen := make(map[string]int, len(athletes))
	for i, a := range athletes {
		a = trim(a)
		if a.ID == "" && a.ProfileURL != "" {
			a.ID = competitorID(a.ProfileURL)
		}
		if a.ID == "" {
			return nil, fmt.Errorf("athlete %d (%s): missing fis_code", i, a.DisplayName())
		}
		if a.Name == "" && a.NameEn == "" {
			return nil, fmt.Errorf("athlete %s: missing name", a.ID)
		}
		if a.ProfileURL == "" {
			if a.SectorCode == "" {
				return nil, fmt.Errorf("athlete %s: sector_code is required to derive profile_url", a.ID)
			}
			a.ProfileURL = fmt.Sprintf(ProfileURLFormat, url.QueryEscape(a.SectorCode), url.QueryEscape(a.ID))
		}
		if prev, dup := seen[a.ID]; dup {
			return nil, fmt.Errorf("athlete %s listed twice (entries %d and %d)", a.ID, prev, i)
		}
		seen[a.ID] = i
		out = append(out, a)
	}
	return out, nil
}

// Find returns the athlete with the given identifier.
func Find(athletes []scrape.AthleteDescriptor, id string) (scrape.AthleteDescriptor, bool) {
	for _, a := range athletes {
		if a.ID == id {
			return a, true
		}
	}
	return scrape.AthleteDescriptor{}, false
}

// Filter keeps athletes whose sector code matches sector, case-insensitively.
// An empty sector keeps everyone.
func Filter(athletes []scrape.AthleteDescriptor, sector string) []scrape.AthleteDescriptor {
	if sector == "" {
		return athletes
	}
	var out []scrape.AthleteDescriptor
	for _, a := range athletes {
		if strings.EqualFold(a.SectorCode, sector) {
			out = append(out, a)
		}
	}
	return out
}

func competitorID(profileURL string) string {
	u, err := url.Parse(profileURL)
	if err != nil {
		return ""
	}
	return u.Query().Get("competitorid")
}

func trim(a scrape.AthleteDescriptor) scrape.AthleteDescriptor {
	for _, field := range []*string{
		&a.ID, &a.Name, &a.NameEn, &a.SectorCode, &a.Discipline,
		&a.SubDiscipline, &a.BirthYear, &a.Gender, &a.Team, &a.ProfileURL,
	} {
		*field = strings.TrimSpace(*field)
	}
	a.SectorCode = strings.ToUpper(a.SectorCode)
	return a
}
