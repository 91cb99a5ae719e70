package roster

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jjjenkim/fis-results-scraper/internal/scrape"
)

const yamlRoster = `
athletes:
  - fis_code: "235622"
    name: 이승훈
    name_en: LEE Seunghoon
    sector_code: fs
    discipline: Freestyle Ski
    sub_discipline: HP/SS
    birth_year: "2005"
    gender: M
  - name: 정대윤
    name_en: JUNG Daeyoon
    sector_code: FS
    profile_url: https://www.fis-ski.com/DB/general/athlete-biography.html?sectorcode=FS&competitorid=197811&type=result
`

const jsonRoster = `{"athletes": [
  {"fisCode": "9245123", "name": "김건희", "sectorCode": "SB", "subDiscipline": "HP"}
]}`

const tomlRoster = `
[[athletes]]
fis_code = "9245123"
name_en = "KIM Gunhee"
sector_code = "SB"

[[athletes]]
fis_code = "235622"
name_en = "LEE Seunghoon"
sector_code = "FS"
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()

	athletes, err := Load(writeFile(t, "roster.yaml", yamlRoster))
	require.NoError(t, err)
	require.Len(t, athletes, 2)

	lee := athletes[0]
	assert.Equal(t, "235622", lee.ID)
	assert.Equal(t, "FS", lee.SectorCode)
	assert.Equal(t, "HP/SS", lee.SubDiscipline)
	assert.Equal(t,
		"https://www.fis-ski.com/DB/general/athlete-biography.html?sectorcode=FS&competitorid=235622&type=result",
		lee.ProfileURL)

	assert.Equal(t, "197811", athletes[1].ID, "identifier comes from the profile url")
}

func TestLoadJSONAndTOML(t *testing.T) {
	t.Parallel()

	fromJSON, err := Load(writeFile(t, "roster.json", jsonRoster))
	require.NoError(t, err)
	require.Len(t, fromJSON, 1)
	assert.Equal(t, "9245123", fromJSON[0].ID)
	assert.Contains(t, fromJSON[0].ProfileURL, "sectorcode=SB")

	fromTOML, err := Load(writeFile(t, "roster.toml", tomlRoster))
	require.NoError(t, err)
	require.Len(t, fromTOML, 2)
	assert.Equal(t, "KIM Gunhee", fromTOML[0].DisplayName())
}

func TestLoadErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		file    string
		content string
		want    string
	}{
		{name: "extension", file: "roster.csv", content: "x", want: "unsupported roster format"},
		{name: "empty", file: "roster.yaml", content: "athletes: []", want: ErrEmpty.Error()},
		{name: "missing id", file: "roster.yaml", content: "athletes:\n  - name: A\n    sector_code: FS\n", want: "missing fis_code"},
		{name: "missing sector", file: "roster.yaml", content: "athletes:\n  - fis_code: '1'\n    name: A\n", want: "sector_code is required"},
		{name: "duplicate", file: "roster.toml", content: "[[athletes]]\nfis_code='1'\nname='A'\nsector_code='FS'\n[[athletes]]\nfis_code='1'\nname='B'\nsector_code='FS'\n", want: "listed twice"},
		{name: "unknown json field", file: "roster.json", content: `{"athletes":[{"fisCode":"1","name":"A","sectorCode":"FS","rank":3}]}`, want: "decode json"},
		{name: "bad yaml", file: "roster.yml", content: "athletes: [", want: "decode yaml"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := Load(writeFile(t, tc.file, tc.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestFindAndFilter(t *testing.T) {
	t.Parallel()

	athletes := []scrape.AthleteDescriptor{
		{ID: "1", SectorCode: "FS"},
		{ID: "2", SectorCode: "SB"},
		{ID: "3", SectorCode: "FS"},
	}
	a, ok := Find(athletes, "2")
	require.True(t, ok)
	assert.Equal(t, "SB", a.SectorCode)
	_, ok = Find(athletes, "9")
	assert.False(t, ok)

	assert.Len(t, Filter(athletes, "fs"), 2)
	assert.Len(t, Filter(athletes, ""), 3)
	assert.Empty(t, Filter(athletes, "AL"))
}

func TestBundledRoster(t *testing.T) {
	t.Parallel()

	athletes, err := Load("../../configs/roster.yaml")
	require.NoError(t, err)
	assert.Len(t, athletes, 43)

	lee, ok := Find(athletes, "235622")
	require.True(t, ok)
	assert.Equal(t, "LEE Seunghoon", lee.NameEn)
	assert.Contains(t, lee.ProfileURL, "competitorid=235622")
	assert.NotEmpty(t, Filter(athletes, "SB"))
}
