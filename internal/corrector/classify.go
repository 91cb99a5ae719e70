// Package corrector retries fallible operations with error classification and
// exponential backoff.
package corrector

import (
	"errors"
	"strings"
)

// ErrorKind is the classified failure category of an attempt.
type ErrorKind int

// Error kinds, in classification priority order.
const (
	KindUnknown ErrorKind = iota
	KindNetwork
	KindTimeout
	KindParse
	KindNotFound
	KindRateLimit
)

// ErrTimeout is returned by DoWithTimeout when an attempt runs out of time.
var ErrTimeout = errors.New("operation timeout")

func (k ErrorKind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindTimeout:
		return "timeout"
	case KindParse:
		return "parse"
	case KindNotFound:
		return "not_found"
	case KindRateLimit:
		return "rate_limit"
	default:
		return "unknown"
	}
}

// Retryable reports whether another attempt could succeed. Parse and
// not-found failures are permanent.
func (k ErrorKind) Retryable() bool {
	return k != KindParse && k != KindNotFound
}

func (k ErrorKind) multiplier() int64 {
	if k == KindRateLimit {
		return 3
	}
	return 1
}

var classifierRules = []struct {
	kind    ErrorKind
	needles []string
}{
	{KindNetwork, []string{"network", "fetch"}},
	{KindTimeout, []string{"timeout"}},
	{KindParse, []string{"parse", "json"}},
	{KindNotFound, []string{"404", "not found"}},
	{KindRateLimit, []string{"429", "rate limit"}},
}

// Classify inspects the lowercased error message. The first matching rule wins.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}
	msg := strings.ToLower(err.Error())
	for _, rule := range classifierRules {
		for _, needle := range rule.needles {
			if strings.Contains(msg, needle) {
				return rule.kind
			}
		}
	}
	return KindUnknown
}
