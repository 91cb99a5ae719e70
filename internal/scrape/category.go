package scrape

import (
	"strings"
	"unicode"
)

// Category is the normalized competition level.
type Category string

// Known competition categories.
const (
	CategoryWorldCup          Category = "WC"
	CategoryWorldChampionship Category = "WCH"
	CategoryOlympicGames      Category = "OG"
	CategoryContinentalCup    Category = "EC"
	CategoryFIS               Category = "FIS"
	CategoryUnknown           Category = "Unknown"
)

var continentalCodes = []string{"EC", "COC", "NAC", "ANC", "SAC", "AUC", "FEC", "ECP"}

// ParseCategory maps the category label printed on a profile page onto a
// Category. Empty labels map to CategoryUnknown; any other unrecognized label
// is treated as a generic FIS race.
func ParseCategory(label string) Category {
	s := strings.ToUpper(strings.TrimSpace(label))
	if s == "" {
		return CategoryUnknown
	}
	tokens := strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	has := func(codes ...string) bool {
		for _, tok := range tokens {
			for _, code := range codes {
				if tok == code {
					return true
				}
			}
		}
		return false
	}

	switch {
	case has("OWG", "OG", "YOG") || strings.Contains(s, "OLYMPIC"):
		return CategoryOlympicGames
	case has("WSC", "WCH", "WJC") || strings.Contains(s, "WORLD CHAMPIONSHIP"):
		return CategoryWorldChampionship
	case has("WC") || strings.Contains(s, "WORLD CUP"):
		return CategoryWorldCup
	case has(continentalCodes...) || strings.Contains(s, "EUROPA CUP") || strings.Contains(s, "CONTINENTAL CUP"):
		return CategoryContinentalCup
	default:
		return CategoryFIS
	}
}
