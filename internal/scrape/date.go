package scrape

import (
	"fmt"
	"strings"
	"time"
)

var sourceDateLayouts = []string{"02-01-2006", "02.01.2006", "2-1-2006", "2006-01-02", "02/01/2006"}

// NormalizeDate converts a profile-page date (DD-MM-YYYY and friends) to
// YYYY-MM-DD.
func NormalizeDate(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	for _, layout := range sourceDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format(time.DateOnly), nil
		}
	}
	return "", fmt.Errorf("unrecognized date %q", raw)
}
