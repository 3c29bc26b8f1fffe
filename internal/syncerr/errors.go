package syncerr

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrConfig    = errors.New("config error")
	ErrAuth      = errors.New("auth error")
	ErrRateLimit = errors.New("rate limit exceeded")
	ErrUpstream  = errors.New("upstream error")
	ErrNotFound  = errors.New("not found")
	ErrConflict  = errors.New("conflict")
	ErrDownload  = errors.New("download error")
	ErrUpload    = errors.New("upload error")
)

// Kind names reported in outcomes. KindCircuitOpen and KindInternal have no sentinel.
const (
	KindConfig      = "config"
	KindAuth        = "auth"
	KindRateLimit   = "rate_limit"
	KindUpstream    = "upstream"
	KindNotFound    = "not_found"
	KindConflict    = "conflict"
	KindDownload    = "download"
	KindUpload      = "upload"
	KindCircuitOpen = "circuit_open"
	KindInternal    = "internal"
)

var kinds = []struct {
	marker error
	kind   string
}{
	{ErrConfig, KindConfig},
	{ErrAuth, KindAuth},
	{ErrRateLimit, KindRateLimit},
	{ErrUpstream, KindUpstream},
	{ErrNotFound, KindNotFound},
	{ErrConflict, KindConflict},
	{ErrDownload, KindDownload},
	{ErrUpload, KindUpload},
}

// Wrap tags err with marker and an "operation: message" detail so callers can
// classify it with errors.Is while keeping the original cause in the chain.
func Wrap(marker error, operation, message string, err error) error {
	if marker == nil {
		marker = ErrUpstream
	}
	detail := buildDetail(operation, message)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// KindOf returns the outcome kind for err.
func KindOf(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.marker) {
			return k.kind
		}
	}
	return KindInternal
}

// Retryable reports whether a worker should replay the item after err.
// Auth, config, not-found and conflict failures need operator action or a
// fresh enumeration, so replaying them is wasted budget.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, ErrAuth), errors.Is(err, ErrConfig),
		errors.Is(err, ErrNotFound), errors.Is(err, ErrConflict):
		return false
	}
	return true
}

// IsAuth reports whether err counts toward the circuit breaker.
func IsAuth(err error) bool { return errors.Is(err, ErrAuth) }

func buildDetail(operation, message string) string {
	parts := make([]string, 0, 2)
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "sync failure"
	}
	return strings.Join(parts, ": ")
}
