package parser

import (
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/jjjenkim/fis-results-scraper/internal/scrape"
)

func TestParseProfileFixture(t *testing.T) {
	t.Parallel()

	f, err := os.Open("testdata/profile.html")
	require.NoError(t, err)
	defer f.Close() //nolint:errcheck

	core, logs := observer.New(zapcore.WarnLevel)
	p := New(WithLogger(zap.New(core)))

	res, err := p.Parse(f, "HP/SS")
	require.NoError(t, err)
	require.Len(t, res.Results, 3)

	first := res.Results[0]
	assert.Equal(t, "07-03-2025", first.Date)
	assert.Equal(t, "Engadin", first.Location)
	assert.Equal(t, "SUI", first.Nation)
	assert.Equal(t, scrape.CategoryWorldCup, first.Category)
	assert.Equal(t, "World Cup", first.CategoryLabel)
	assert.Equal(t, "Halfpipe", first.Discipline)
	assert.Equal(t, scrape.PositionRank(18), first.Rank)
	require.NotNil(t, first.FISPoints)
	assert.InDelta(t, 150.0, *first.FISPoints, 1e-9)
	assert.Nil(t, first.CupPoints)

	second := res.Results[1]
	assert.Equal(t, "Copper Mountain", second.Location)
	assert.Equal(t, "HP/SS", second.Discipline)
	assert.Equal(t, scrape.StatusRank("DNF"), second.Rank)
	assert.Nil(t, second.FISPoints)

	third := res.Results[2]
	assert.Equal(t, "15-11-2024", third.Date)
	assert.Equal(t, scrape.CategoryContinentalCup, third.Category)
	require.NotNil(t, third.CupPoints)
	assert.InDelta(t, 60.0, *third.CupPoints, 1e-9)

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "skipping malformed result row", entry.Message)
	assert.Equal(t, int64(2), entry.ContextMap()["row"])

	assert.Equal(t, 4, res.Diagnostics.RowsSeen)
	assert.Equal(t, 1, res.Diagnostics.Count(SkipMalformed))
	assert.Equal(t, 0, res.Diagnostics.Count(SkipIncomplete))
	assert.Contains(t, res.Diagnostics.Skips[0].Reason, "rank")
}

func TestParseSkipsIncompleteRowsSilently(t *testing.T) {
	t.Parallel()

	html := `<div id="results-body">
  <a class="table-row"><div class="container"><div>header</div></div></a>
  <a class="table-row"><div class="container">
    <div></div>
    <div class="hidden-sm-down">Laax</div>
    <div class="hidden-sm-down">WC</div>
    <div class="g-xs-6"><div>5</div></div>
  </div></a>
  <a class="table-row"><div class="container">
    <div>10-01-2025</div>
    <div class="hidden-sm-down">Laax</div>
    <div class="hidden-sm-down">WC</div>
    <div class="g-xs-6"><div></div></div>
  </div></a>
</div>`

	core, logs := observer.New(zapcore.WarnLevel)
	res, err := New(WithLogger(zap.New(core))).Parse(strings.NewReader(html), "SS")
	require.NoError(t, err)
	assert.Empty(t, res.Results)
	assert.Equal(t, 3, res.Diagnostics.Count(SkipIncomplete))
	assert.Equal(t, 0, logs.Len())

	reasons := []string{}
	for _, s := range res.Diagnostics.Skips {
		reasons = append(reasons, s.Reason)
	}
	assert.Equal(t, []string{"only 1 cells", "empty date", "empty rank"}, reasons)
}

func TestParseRowLimit(t *testing.T) {
	t.Parallel()

	var b strings.Builder
	b.WriteString(`<div id="results-body">`)
	for i := 1; i <= 5; i++ {
		fmt.Fprintf(&b, `<a class="table-row"><div class="container">
<div>0%d-01-2025</div><div class="hidden-sm-down">Venue %d</div><div></div>
<div class="g-xs-6"><div>%d</div><div>10</div></div></div></a>`, i, i, i)
	}
	b.WriteString(`</div>`)

	res, err := New(WithRowLimit(3)).Parse(strings.NewReader(b.String()), "GS")
	require.NoError(t, err)
	require.Len(t, res.Results, 3)
	assert.Equal(t, "Venue 1", res.Results[0].Location)
	assert.Equal(t, "Venue 3", res.Results[2].Location)
	assert.Equal(t, "GS", res.Results[0].Discipline)
	assert.Equal(t, scrape.CategoryUnknown, res.Results[0].Category)
	assert.Equal(t, 2, res.Diagnostics.RowsDropped)
}

func TestParseWithoutResultsTable(t *testing.T) {
	t.Parallel()

	res, err := New().Parse(strings.NewReader(`<html><body><p>No results</p></body></html>`), "SL")
	require.NoError(t, err)
	assert.Empty(t, res.Results)
	assert.Zero(t, res.Diagnostics.RowsSeen)
}

func TestParseVenueCellsByPosition(t *testing.T) {
	t.Parallel()

	html := `<div id="results-body">
  <a class="table-row"><div class="container">
    <div>10-01-2025</div>
    <div class="hidden-sm-down"></div>
    <div class="hidden-sm-down">World Cup</div>
    <div class="hidden-sm-down">Slalom</div>
    <div class="g-xs-6"><div>5</div></div>
  </div></a>
  <a class="table-row"><div class="container">
    <div>11-01-2025</div>
    <div class="hidden-sm-down">Engadin</div>
    <div class="hidden-sm-down"></div>
    <div class="hidden-sm-down">Slalom</div>
    <div class="g-xs-6"><div>7</div></div>
  </div></a>
  <a class="table-row"><div class="container">
    <div>12-01-2025</div>
    <div class="hidden-sm-down">Laax</div>
    <div class="hidden-sm-down">FIS</div>
    <div class="hidden-sm-down"></div>
    <div class="g-xs-6"><div>0</div></div>
  </div></a>
</div>`

	res, err := New().Parse(strings.NewReader(html), "Halfpipe")
	require.NoError(t, err)
	require.Len(t, res.Results, 2)

	require.Len(t, res.Diagnostics.Skips, 1)
	assert.Equal(t, 0, res.Diagnostics.Skips[0].Row)
	assert.Equal(t, "empty location", res.Diagnostics.Skips[0].Reason)

	emptyCategory := res.Results[0]
	assert.Equal(t, "Engadin", emptyCategory.Location)
	assert.Empty(t, emptyCategory.CategoryLabel)
	assert.Equal(t, scrape.CategoryUnknown, emptyCategory.Category)
	assert.Equal(t, "Slalom", emptyCategory.Discipline)

	zeroRank := res.Results[1]
	assert.Equal(t, "FIS", zeroRank.CategoryLabel)
	assert.Equal(t, "Halfpipe", zeroRank.Discipline)
	assert.Equal(t, scrape.PositionRank(0), zeroRank.Rank)
}
