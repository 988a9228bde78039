package domain

import (
	"errors"
	"strings"
)

// Error taxonomy (§7). Sentinels are wrapped with op context at each layer
// boundary and translated to an HTTP status only at the outermost handler.
var (
	// ErrInvalidArgument covers validation failures, bad filters, bad sort columns. 400.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrNotFound covers a missing resource. 404.
	ErrNotFound = errors.New("not found")
	// ErrConflict covers duplicate-key / constraint failures on create. 409.
	ErrConflict = errors.New("conflict")
	// ErrPoolNotReady is raised when a pool is acquired from before pre-warm completes.
	ErrPoolNotReady = errors.New("pool not ready")
	// ErrPoolExhausted is raised when acquire times out with no handle available. 503.
	ErrPoolExhausted = errors.New("pool exhausted")
	// ErrBackendUnreachable covers connection-refused/DNS/gone-away failures. 503.
	ErrBackendUnreachable = errors.New("backend unreachable")
	// ErrContractViolation covers a handler/task failing its interface assertion. 500.
	ErrContractViolation = errors.New("contract violation")
	// ErrRouteNotFound is the router's internal no-match result, translated to 404.
	ErrRouteNotFound = errors.New("route not found")
	// ErrWorkerNotReady is raised by the readiness gate when worker start hasn't finished. 503.
	ErrWorkerNotReady = errors.New("worker not ready")
	// ErrCacheSet is raised when a cache table write fails.
	ErrCacheSet = errors.New("cache set error")
	// ErrRateLimited is raised when a per-key token bucket has no tokens left. 429.
	ErrRateLimited = errors.New("rate limited")
	// ErrInternal is the catch-all. 500, generic message to the client.
	ErrInternal = errors.New("internal error")
)

// Retryable reports whether an error classifies as a transient transport
// failure that with_connection_and_retry (§4.1) should retry: connection
// refused, DNS failure, server-gone-away, transient timeout.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, ErrBackendUnreachable):
		return true
	case errors.Is(err, ErrPoolExhausted):
		return false
	case errors.Is(err, ErrConflict), errors.Is(err, ErrInvalidArgument):
		return false
	}
	return containsAny(err.Error(), retryableSubstrings)
}

var retryableSubstrings = []string{
	"connection refused",
	"no such host",
	"server gone away",
	"i/o timeout",
	"eof",
	"broken pipe",
	"reset by peer",
}

func containsAny(s string, subs []string) bool {
	s = strings.ToLower(s)
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// IsDomainError reports whether err is one of the recognized sentinels
// above, whose message is safe to pass through to the client verbatim
// (§7). Anything else yields a generic message instead.
func IsDomainError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidArgument), errors.Is(err, ErrNotFound), errors.Is(err, ErrConflict),
		errors.Is(err, ErrPoolNotReady), errors.Is(err, ErrPoolExhausted), errors.Is(err, ErrBackendUnreachable),
		errors.Is(err, ErrContractViolation), errors.Is(err, ErrRouteNotFound), errors.Is(err, ErrWorkerNotReady),
		errors.Is(err, ErrCacheSet), errors.Is(err, ErrRateLimited):
		return true
	default:
		return false
	}
}

// StatusCode maps a domain error to the HTTP status the handler should write.
func StatusCode(err error) int {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrRouteNotFound):
		return 404
	case errors.Is(err, ErrInvalidArgument):
		return 400
	case errors.Is(err, ErrConflict):
		return 409
	case errors.Is(err, ErrPoolNotReady), errors.Is(err, ErrPoolExhausted),
		errors.Is(err, ErrBackendUnreachable), errors.Is(err, ErrWorkerNotReady):
		return 503
	case errors.Is(err, ErrRateLimited):
		return 429
	default:
		return 500
	}
}
