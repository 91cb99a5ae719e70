package headless

import (
	"bytes"
	"net/http"
	"strings"

	"github.com/jjjenkim/fis-results-scraper/internal/scrape"
)

// DefaultShellThreshold is the body size under which a script-heavy page is
// treated as an unrendered shell.
const DefaultShellThreshold = 4096

// challengeMarkers show up on bot-check interstitials that answer 200 but
// carry no profile.
var challengeMarkers = [][]byte{
	[]byte("cf-browser-verification"),
	[]byte("challenge-platform"),
	[]byte("<title>just a moment"),
	[]byte("enable javascript and cookies"),
}

// Detector decides whether a successful static response still needs a
// browser render.
type Detector struct {
	ShellThreshold int
}

// NewDetector returns a Detector. A zero threshold selects DefaultShellThreshold.
func NewDetector(threshold int) *Detector {
	if threshold <= 0 {
		threshold = DefaultShellThreshold
	}
	return &Detector{ShellThreshold: threshold}
}

// NeedsRender reports whether resp looks like an empty, challenge or
// script-only page.
func (d *Detector) NeedsRender(resp scrape.FetchResponse) bool {
	if resp.StatusCode != http.StatusOK || resp.Headless {
		return false
	}
	if len(bytes.TrimSpace(resp.Body)) == 0 {
		return true
	}
	lower := bytes.ToLower(resp.Body)
	for _, marker := range challengeMarkers {
		if bytes.Contains(lower, marker) {
			return true
		}
	}
	return len(resp.Body) < d.ShellThreshold && scriptShare(string(lower)) >= 25
}

// scriptShare returns the percentage of the document covered by <script>
// elements. An unterminated tag covers the rest of the document.
func scriptShare(lower string) int {
	total := len(lower)
	if total == 0 {
		return 0
	}
	const (
		openTag  = "<script"
		closeTag = "</script>"
	)
	covered, pos := 0, 0
	for {
		rel := strings.Index(lower[pos:], openTag)
		if rel == -1 {
			break
		}
		start := pos + rel
		gt := strings.IndexByte(lower[start:], '>')
		if gt == -1 {
			covered += total - start
			break
		}
		contentStart := start + gt + 1
		end := strings.Index(lower[contentStart:], closeTag)
		next := total
		if end != -1 {
			next = contentStart + end + len(closeTag)
		}
		covered += next - start
		pos = next
	}
	return covered * 100 / total
}
