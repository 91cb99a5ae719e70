package scrape

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrAthleteNotFound is returned when an identifier is not on the roster.
var ErrAthleteNotFound = errors.New("athlete not in roster")

// StatusError reports a non-2xx response for a profile page.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("profile request returned status %d %s", e.Code, http.StatusText(e.Code))
}

// IsForbidden reports whether err carries a 403 status.
func IsForbidden(err error) bool {
	var statusErr *StatusError
	return errors.As(err, &statusErr) && statusErr.Code == http.StatusForbidden
}
