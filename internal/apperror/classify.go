package apperror

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// ErrOffline is returned by collaborators that detect missing connectivity
// before attempting a call.
var ErrOffline = errors.New("no network connectivity")

// HTTPError is a non-2xx response from a hosted completion or transcription
// service.
type HTTPError struct {
	// Provider is the name of the service that returned the response
	Provider string

	// StatusCode is the HTTP status code
	StatusCode int

	// Body is the raw response body (may be truncated by the caller)
	Body string

	// Header holds the response headers, used for Retry-After and rate limits
	Header http.Header

	// Cause is the underlying SDK error, if any
	Cause error
}

// Error implements the error interface.
func (e *HTTPError) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("provider %q returned status %d", e.Provider, e.StatusCode)
	}
	return fmt.Sprintf("upstream returned status %d", e.StatusCode)
}

// Unwrap returns the underlying error for error chain support.
func (e *HTTPError) Unwrap() error {
	return e.Cause
}

// ValidationError represents input rejected before any call was made, such
// as an empty transcription clip or an oversized message.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field %q: %s", e.Field, e.Message)
}

// Classify maps any failure to a classified *Error. Already classified
// errors are returned unchanged. Classify(nil) returns nil.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}

	var classified *Error
	if errors.As(err, &classified) {
		return classified
	}

	var verr *ValidationError
	if errors.As(err, &verr) {
		return Wrap(KindValidation, err, verr.Error())
	}

	var herr *HTTPError
	if errors.As(err, &herr) {
		return FromHTTP(herr)
	}

	// Cancellation is checked before deadlines: a caller abort must never be
	// retried as a timeout.
	if errors.Is(err, context.Canceled) {
		return Wrap(KindCancelled, err, "")
	}
	if isTimeout(err) {
		return Wrap(KindNetworkTimeout, err, "")
	}
	if isOffline(err) {
		return Wrap(KindNetworkOffline, err, "")
	}

	return Wrap(KindUnknown, err, "")
}

// FromHTTP maps an upstream status to a kind using the vendor-agnostic table.
func FromHTTP(herr *HTTPError) *Error {
	detail := parseVendorBody(herr.Body)

	var kind Kind
	switch herr.StatusCode {
	case http.StatusUnauthorized:
		kind = KindAPIInvalidKey
	case http.StatusTooManyRequests:
		if detail.quotaExhausted() {
			kind = KindAPIQuotaExceeded
		} else {
			kind = KindAPIRateLimited
		}
	case http.StatusPaymentRequired:
		kind = KindAPIInsufficientFunds
	case http.StatusServiceUnavailable:
		kind = KindAPIModelOverloaded
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusGatewayTimeout:
		kind = KindAPIServerError
	default:
		kind = KindUnknown
	}

	message := herr.Error()
	if detail.Message != "" {
		message = message + ": " + detail.Message
	}

	e := Wrap(kind, herr, message)
	e.StatusCode = herr.StatusCode
	e.RetryAfter = ParseRetryAfter(herr.Header, time.Now())
	return e
}

type vendorDetail struct {
	Message string
	Type    string
	Code    string
}

func (d vendorDetail) quotaExhausted() bool {
	return d.Code == "insufficient_quota" || d.Type == "insufficient_quota"
}

// parseVendorBody extracts {"error":{"message","type","code"}} bodies. The
// code field is a string for some vendors and a number for others.
func parseVendorBody(body string) vendorDetail {
	if body == "" {
		return vendorDetail{}
	}
	var payload struct {
		Error struct {
			Message string          `json:"message"`
			Type    string          `json:"type"`
			Code    json.RawMessage `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		return vendorDetail{}
	}
	code := strings.Trim(string(payload.Error.Code), `"`)
	if code == "null" {
		code = ""
	}
	return vendorDetail{
		Message: payload.Error.Message,
		Type:    payload.Error.Type,
		Code:    code,
	}
}

// ParseRetryAfter reads a Retry-After header given in seconds or as an HTTP
// date. It returns 0 when absent or unparseable.
func ParseRetryAfter(h http.Header, now time.Time) time.Duration {
	if h == nil {
		return 0
	}
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}

func isOffline(err error) bool {
	if errors.Is(err, ErrOffline) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	return errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ENETUNREACH) ||
		errors.Is(err, syscall.EHOSTUNREACH) ||
		errors.Is(err, syscall.ENETDOWN)
}
