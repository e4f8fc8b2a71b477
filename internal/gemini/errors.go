package gemini

import (
	"errors"
	"fmt"
)

// ErrorKind classifies Gemini API errors. The sync engine only needs to
// distinguish auth-expired, rate-limited and everything-else; the full set
// is kept for diagnostics.
type ErrorKind string

const (
	KindInternalServer     ErrorKind = "internal_server_error"
	KindUnknownReporting   ErrorKind = "unknown_reporting_error"
	KindUnsupportedFeature ErrorKind = "unsupported_feature"
	KindInvalidInput       ErrorKind = "invalid_input"
	KindAuthorization      ErrorKind = "authorization_error"
	KindServiceUnavailable ErrorKind = "service_unavailable"
	KindRequestTimeout     ErrorKind = "request_timeout"
	KindAccountReadOnly    ErrorKind = "account_in_sync_read_only"
	KindTooManyRequests    ErrorKind = "too_many_requests"
	KindRequestConflict    ErrorKind = "request_conflict"
	KindNotFound           ErrorKind = "not_found"
	KindUndefined          ErrorKind = "undefined"
)

// errorKindMap is the fixed HTTP status + API error code lookup.
// https://developer.verizonmedia.com/nativeandsearch/guide/v1-api/error-responses.html
var errorKindMap = map[int]map[string]ErrorKind{
	500: {
		"E10000_INTERNAL_SERVER_ERROR":   KindInternalServer,
		"E60000_UNKNOWN_REPORTING_ERROR": KindUnknownReporting,
	},
	406: {
		"E30001_UNSUPPORTED_FEATURE": KindUnsupportedFeature,
	},
	400: {
		"INVALID_CONSUMER_KEY": KindInvalidInput,
		"E40000_INVALID_INPUT": KindInvalidInput,
	},
	401: {
		"E50000_AUTHORIZATION_ERROR": KindAuthorization,
	},
	503: {
		"E50003_SERVICE_UNAVAILABLE": KindServiceUnavailable,
	},
	408: {
		"E40001_REQUEST_TIMEOUT": KindRequestTimeout,
	},
	405: {
		"E40002_ACCOUNT_IN_SYNC_READ_ONLY": KindAccountReadOnly,
	},
	403: {
		"E40003_TOO_MANY_REQUESTS": KindTooManyRequests,
	},
	409: {
		"E40004_REQUEST_CONFLICT": KindRequestConflict,
	},
	404: {
		"E40005_NOT_FOUND": KindNotFound,
	},
}

// statusKindDefaults classify responses whose body carries no usable code.
var statusKindDefaults = map[int]ErrorKind{
	500: KindInternalServer,
	406: KindUnsupportedFeature,
	400: KindInvalidInput,
	401: KindAuthorization,
	503: KindServiceUnavailable,
	408: KindRequestTimeout,
	405: KindAccountReadOnly,
	403: KindTooManyRequests,
	409: KindRequestConflict,
	404: KindNotFound,
}

// APIError is an error response from the Gemini API.
type APIError struct {
	Kind        ErrorKind
	StatusCode  int
	Code        string
	Message     string
	Description string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("gemini api error %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("gemini api error %d (%s): %s", e.StatusCode, e.Kind, e.Message)
}

// classify resolves an HTTP status and API error code to an ErrorKind.
func classify(statusCode int, code string) ErrorKind {
	if codes, ok := errorKindMap[statusCode]; ok {
		if kind, ok := codes[code]; ok {
			return kind
		}
	}
	if kind, ok := statusKindDefaults[statusCode]; ok {
		return kind
	}
	return KindUndefined
}

// IsAuthExpired reports whether err is a 401-style authorization failure.
func IsAuthExpired(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Kind == KindAuthorization
}

// IsRateLimited reports whether err should be retried after a back-off.
func IsRateLimited(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Kind == KindTooManyRequests || apiErr.Kind == KindServiceUnavailable
}

// IsInvalidInput reports whether err is a request-validation rejection.
func IsInvalidInput(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Kind == KindInvalidInput
}
