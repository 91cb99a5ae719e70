package scrape

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// AthleteDescriptor is one roster entry. It is read-only once loaded.
type AthleteDescriptor struct {
	ID            string `json:"fisCode" yaml:"fis_code" toml:"fis_code"`
	Name          string `json:"name" yaml:"name" toml:"name"`
	NameEn        string `json:"nameEn" yaml:"name_en" toml:"name_en"`
	SectorCode    string `json:"sectorCode" yaml:"sector_code" toml:"sector_code"`
	Discipline    string `json:"discipline" yaml:"discipline" toml:"discipline"`
	SubDiscipline string `json:"subDiscipline" yaml:"sub_discipline" toml:"sub_discipline"`
	BirthYear     string `json:"birthYear,omitempty" yaml:"birth_year" toml:"birth_year"`
	Gender        string `json:"gender,omitempty" yaml:"gender" toml:"gender"`
	Team          string `json:"team,omitempty" yaml:"team" toml:"team"`
	ProfileURL    string `json:"profileUrl" yaml:"profile_url" toml:"profile_url"`
}

// DisplayName prefers the English name when present.
func (a AthleteDescriptor) DisplayName() string {
	if a.NameEn != "" {
		return a.NameEn
	}
	return a.Name
}

// TaskKey is the orchestrator cache identity for the athlete.
func (a AthleteDescriptor) TaskKey() string {
	return "athlete-" + a.ID
}

// Rank is either a finishing position or a status such as DNF, DNS, DSQ or DNQ.
// Position is meaningful only when Numeric is set, so a literal "0" stays
// distinct from an empty cell.
type Rank struct {
	Position int
	Numeric  bool
	Status   string
}

// PositionRank builds a numeric rank.
func PositionRank(position int) Rank {
	return Rank{Position: position, Numeric: true}
}

// StatusRank builds a non-numeric rank.
func StatusRank(status string) Rank {
	return Rank{Status: status}
}

// IsZero reports whether no rank was recorded.
func (r Rank) IsZero() bool {
	return !r.Numeric && r.Status == ""
}

// IsPlaced reports whether the rank is a finishing position.
func (r Rank) IsPlaced() bool {
	return r.Numeric && r.Status == ""
}

func (r Rank) String() string {
	if r.Status != "" {
		return r.Status
	}
	if !r.Numeric {
		return ""
	}
	return strconv.Itoa(r.Position)
}

// MarshalJSON encodes positions as numbers and statuses as strings.
func (r Rank) MarshalJSON() ([]byte, error) {
	if r.Status != "" {
		return json.Marshal(r.Status)
	}
	if !r.Numeric {
		return []byte("null"), nil
	}
	return json.Marshal(r.Position)
}

// UnmarshalJSON accepts a number, a string, or null.
func (r *Rank) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*r = Rank{}
		return nil
	}
	var position int
	if err := json.Unmarshal(data, &position); err == nil {
		*r = PositionRank(position)
		return nil
	}
	var status string
	if err := json.Unmarshal(data, &status); err != nil {
		return fmt.Errorf("decode rank: %w", err)
	}
	*r = StatusRank(status)
	return nil
}

// CompetitionResult is one row read from an athlete profile page.
// Date keeps the source format; see NormalizeDate.
type CompetitionResult struct {
	Date          string   `json:"date"`
	Location      string   `json:"location"`
	Nation        string   `json:"nation,omitempty"`
	Category      Category `json:"category"`
	CategoryLabel string   `json:"categoryLabel,omitempty"`
	Discipline    string   `json:"discipline"`
	Rank          Rank     `json:"rank"`
	FISPoints     *float64 `json:"fisPoints,omitempty"`
	CupPoints     *float64 `json:"cupPoints,omitempty"`
}

// AthleteResults is the per-athlete entry of a Snapshot. An athlete whose
// scrape failed still appears, with an empty LatestResults.
type AthleteResults struct {
	ID            string              `json:"fisCode"`
	Name          string              `json:"name"`
	NameEn        string              `json:"nameEn,omitempty"`
	LatestResults []CompetitionResult `json:"latestResults"`
	LastUpdated   time.Time           `json:"lastUpdated"`
}

// Snapshot is the final output of one pipeline run.
type Snapshot struct {
	RunID       string                    `json:"runId,omitempty"`
	Results     map[string]AthleteResults `json:"results"`
	LastUpdated time.Time                 `json:"lastUpdated"`
}

// RunSummary reports the outcome counters of one pipeline run.
type RunSummary struct {
	RunID      string        `json:"runId"`
	StartedAt  time.Time     `json:"startedAt"`
	FinishedAt time.Time     `json:"finishedAt"`
	Athletes   int           `json:"athletes"`
	Batches    []int         `json:"batches"`
	Succeeded  int           `json:"succeeded"`
	Failed     int           `json:"failed"`
	Forbidden  int           `json:"forbidden"`
	Results    int           `json:"results"`
	CacheHits  int64         `json:"cacheHits"`
	CacheMiss  int64         `json:"cacheMisses"`
	Duration   time.Duration `json:"durationNs"`
}
