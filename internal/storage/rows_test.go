package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jjjenkim/fis-results-scraper/internal/scrape"
)

func TestFlatten(t *testing.T) {
	t.Parallel()

	points := 150.0
	snapshot := scrape.Snapshot{Results: map[string]scrape.AthleteResults{
		"b": {LatestResults: []scrape.CompetitionResult{
			{Date: "07-03-2025", Location: "Engadin", Category: scrape.CategoryWorldCup, Rank: scrape.PositionRank(18), FISPoints: &points},
			{Date: "sometime", Location: "Calgary", Category: scrape.CategoryFIS, Rank: scrape.StatusRank("DNF")},
		}},
		"a": {LatestResults: []scrape.CompetitionResult{
			{Date: "21.12.2024", Location: "Copper", Rank: scrape.Rank{}},
		}},
		"c": {LatestResults: []scrape.CompetitionResult{}},
	}}

	rows := Flatten(snapshot)
	require.Len(t, rows, 3)

	assert.Equal(t, "a", rows[0].FISCode)
	assert.Equal(t, "2024-12-21", rows[0].ResultDate)
	assert.Nil(t, rows[0].RankPosition)
	assert.Nil(t, rows[0].RankStatus)

	assert.Equal(t, "2025-03-07", rows[1].ResultDate)
	require.NotNil(t, rows[1].RankPosition)
	assert.Equal(t, 18, *rows[1].RankPosition)
	assert.Equal(t, &points, rows[1].FISPoints)

	assert.Equal(t, "sometime", rows[2].ResultDate)
	require.NotNil(t, rows[2].RankStatus)
	assert.Equal(t, "DNF", *rows[2].RankStatus)
}

func TestValidPrefix(t *testing.T) {
	t.Parallel()

	assert.True(t, ValidPrefix(""))
	assert.True(t, ValidPrefix("fis_"))
	assert.False(t, ValidPrefix("fis; drop"))
	assert.False(t, ValidPrefix("1abc"))
}
