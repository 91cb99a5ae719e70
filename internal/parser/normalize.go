package parser

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/jjjenkim/fis-results-scraper/internal/scrape"
)

var (
	leadingDigits = regexp.MustCompile(`^\d+`)
	leadingFloat  = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?`)
)

// ParseRank reads a rank cell. Leading digits become a position and anything
// after them is dropped ("18 (1)" is 18); other text is kept as a status.
func ParseRank(text string) scrape.Rank {
	s := strings.TrimSpace(text)
	if digits := leadingDigits.FindString(s); digits != "" {
		if n, err := strconv.Atoi(digits); err == nil {
			return scrape.PositionRank(n)
		}
	}
	return scrape.StatusRank(s)
}

// ParsePoints reads a points cell. Empty text, a lone "-" and non-numeric
// text yield nil, never zero.
func ParsePoints(text string) *float64 {
	s := strings.TrimSpace(text)
	if s == "" || s == "-" {
		return nil
	}
	num := leadingFloat.FindString(s)
	if num == "" {
		return nil
	}
	v, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return nil
	}
	return &v
}
