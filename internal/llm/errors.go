package llm

import (
	"errors"
	"net"
	"strings"
	"syscall"

	"github.com/rotisserie/eris"

	"github.com/sells-group/outreach-cli/pkg/anthropic"
	"github.com/sells-group/outreach-cli/pkg/perplexity"
)

var (
	// ErrMalformedOutput is returned when a structured call yields text
	// that does not decode into the requested shape.
	ErrMalformedOutput = eris.New("llm: malformed structured output")

	// ErrSearchUnavailable is returned by WebSearch when no search provider
	// is configured.
	ErrSearchUnavailable = eris.New("llm: web search not configured")
)

// IsTransient reports whether err is a provider failure worth retrying:
// HTTP 408/429/5xx from either provider, network timeouts and resets.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrMalformedOutput) || errors.Is(err, ErrSearchUnavailable) {
		return false
	}

	if code := anthropic.StatusCode(err); code != 0 {
		return IsTransientHTTPStatus(code)
	}
	var se *perplexity.StatusError
	if errors.As(err, &se) {
		return IsTransientHTTPStatus(se.StatusCode)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, p := range []string{
		"connection reset by peer",
		"broken pipe",
		"temporary failure in name resolution",
		"tls handshake timeout",
		"i/o timeout",
		"server closed idle connection",
		"overloaded",
	} {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// IsTransientHTTPStatus reports whether an HTTP status is safe to retry.
func IsTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case 408, 429, 500, 502, 503, 504, 529:
		return true
	default:
		return false
	}
}
