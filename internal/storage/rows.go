// Package storage holds the row model shared by the relational sinks.
package storage

import (
	"regexp"
	"sort"

	"github.com/jjjenkim/fis-results-scraper/internal/scrape"
)

var validPrefix = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$|^$`)

// ValidPrefix reports whether prefix can be spliced into table names.
func ValidPrefix(prefix string) bool {
	return validPrefix.MatchString(prefix)
}

// ResultRow is one competition result flattened for SQL.
type ResultRow struct {
	FISCode       string   `json:"fisCode"`
	ResultDate    string   `json:"date"`
	Location      string   `json:"location"`
	Nation        string   `json:"nation,omitempty"`
	Category      string   `json:"category"`
	CategoryLabel string   `json:"categoryLabel,omitempty"`
	Discipline    string   `json:"discipline"`
	RankPosition  *int     `json:"rankPosition,omitempty"`
	RankStatus    *string  `json:"rankStatus,omitempty"`
	FISPoints     *float64 `json:"fisPoints,omitempty"`
	CupPoints     *float64 `json:"cupPoints,omitempty"`
}

// Flatten turns a snapshot into rows ordered by athlete then page order.
// Dates are normalized to YYYY-MM-DD when recognized and kept raw otherwise.
func Flatten(snapshot scrape.Snapshot) []ResultRow {
	ids := make([]string, 0, len(snapshot.Results))
	for id := range snapshot.Results {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var rows []ResultRow
	for _, id := range ids {
		for _, r := range snapshot.Results[id].LatestResults {
			date, err := scrape.NormalizeDate(r.Date)
			if err != nil {
				date = r.Date
			}
			row := ResultRow{
				FISCode:       id,
				ResultDate:    date,
				Location:      r.Location,
				Nation:        r.Nation,
				Category:      string(r.Category),
				CategoryLabel: r.CategoryLabel,
				Discipline:    r.Discipline,
				FISPoints:     r.FISPoints,
				CupPoints:     r.CupPoints,
			}
			if r.Rank.IsPlaced() {
				pos := r.Rank.Position
				row.RankPosition = &pos
			} else if r.Rank.Status != "" {
				status := r.Rank.Status
				row.RankStatus = &status
			}
			rows = append(rows, row)
		}
	}
	return rows
}
