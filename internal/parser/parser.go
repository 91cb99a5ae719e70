package parser

import (
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/jjjenkim/fis-results-scraper/internal/scrape"
)

// DefaultRowLimit caps how many result rows are read per page. Profile pages
// list newest first.
const DefaultRowLimit = 50

const minCells = 4

// SkipKind classifies why a row produced no result.
type SkipKind string

const (
	// SkipIncomplete rows lack a date, location or rank. Decorative rows land here.
	SkipIncomplete SkipKind = "incomplete"
	// SkipMalformed rows are missing a required cell entirely.
	SkipMalformed SkipKind = "malformed"
)

// Skip records one row that was not emitted.
type Skip struct {
	Row    int
	Kind   SkipKind
	Reason string
}

// Diagnostics accompanies every parse.
type Diagnostics struct {
	RowsSeen    int
	RowsDropped int
	Skips       []Skip
}

// Count returns the number of skips of the given kind.
func (d Diagnostics) Count(kind SkipKind) int {
	n := 0
	for _, s := range d.Skips {
		if s.Kind == kind {
			n++
		}
	}
	return n
}

// Result is the outcome of parsing one page.
type Result struct {
	Results     []scrape.CompetitionResult
	Diagnostics Diagnostics
}

// Parser extracts competition results from profile pages.
type Parser struct {
	rowLimit int
	columns  []columnRule
	logger   *zap.Logger
}

// Option configures a Parser.
type Option func(*Parser)

// WithRowLimit overrides DefaultRowLimit. Non-positive values are ignored.
func WithRowLimit(n int) Option {
	return func(p *Parser) {
		if n > 0 {
			p.rowLimit = n
		}
	}
}

// WithLogger sets the logger used for row-level warnings.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Parser) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// New builds a Parser for athlete biography pages.
func New(opts ...Option) *Parser {
	p := &Parser{
		rowLimit: DefaultRowLimit,
		columns:  profileColumns,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Parse reads an HTML document. fallbackDiscipline fills rows whose
// discipline cell is empty. Row problems never fail the parse; they are
// reported through Diagnostics.
func (p *Parser) Parse(r io.Reader, fallbackDiscipline string) (Result, error) {
	root, err := NewDocument(r)
	if err != nil {
		return Result{}, err
	}
	return p.ParseNode(root, fallbackDiscipline), nil
}

// ParseNode runs the extraction against an already-built tree.
func (p *Parser) ParseNode(root Node, fallbackDiscipline string) Result {
	var res Result
	body, ok := first(root, ByID("results-body"))
	if !ok {
		return res
	}
	rows := body.Find(AllOf(ByTag("a"), ByClass("table-row")))
	res.Diagnostics.RowsSeen = len(rows)
	if len(rows) > p.rowLimit {
		res.Diagnostics.RowsDropped = len(rows) - p.rowLimit
		rows = rows[:p.rowLimit]
	}

	for i, row := range rows {
		result, reason, err := p.parseRow(row, fallbackDiscipline)
		switch {
		case err != nil:
			p.logger.Warn("skipping malformed result row", zap.Int("row", i), zap.Error(err))
			res.Diagnostics.Skips = append(res.Diagnostics.Skips, Skip{Row: i, Kind: SkipMalformed, Reason: err.Error()})
		case reason != "":
			p.logger.Debug("skipping incomplete result row", zap.Int("row", i), zap.String("reason", reason))
			res.Diagnostics.Skips = append(res.Diagnostics.Skips, Skip{Row: i, Kind: SkipIncomplete, Reason: reason})
		default:
			res.Results = append(res.Results, result)
		}
	}
	return res
}

func (p *Parser) parseRow(row Node, fallbackDiscipline string) (scrape.CompetitionResult, string, error) {
	var cells []Node
	if container, ok := first(row, ByClass("container")); ok {
		cells = childrenMatching(container, ByTag("div"))
	}
	if len(cells) < minCells {
		return scrape.CompetitionResult{}, fmt.Sprintf("only %d cells", len(cells)), nil
	}

	var vals rowValues
	for _, rule := range p.columns {
		if err := rule.apply(cells, &vals); err != nil {
			return scrape.CompetitionResult{}, "", err
		}
	}

	rank := ParseRank(vals[fieldRank])
	switch {
	case vals[fieldDate] == "":
		return scrape.CompetitionResult{}, "empty date", nil
	case vals[fieldLocation] == "":
		return scrape.CompetitionResult{}, "empty location", nil
	case rank.IsZero():
		return scrape.CompetitionResult{}, "empty rank", nil
	}

	discipline := vals[fieldDiscipline]
	if discipline == "" {
		discipline = fallbackDiscipline
	}
	return scrape.CompetitionResult{
		Date:          vals[fieldDate],
		Location:      vals[fieldLocation],
		Nation:        vals[fieldNation],
		Category:      scrape.ParseCategory(vals[fieldCategory]),
		CategoryLabel: vals[fieldCategory],
		Discipline:    discipline,
		Rank:          rank,
		FISPoints:     ParsePoints(vals[fieldFISPoints]),
		CupPoints:     ParsePoints(vals[fieldCupPoints]),
	}, "", nil
}
