package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/apex/log"

	"github.com/singer-io/tap-gemini/internal/config"
	"github.com/singer-io/tap-gemini/internal/metrics"
)

const (
	baseURLFormat    = "https://api.gemini.yahoo.com/v%d/rest/"
	sandboxURLFormat = "https://sandbox-api.gemini.yahoo.com/v%d/rest/"

	// https://developer.yahoo.com/nativeandsearch/guide/navigate-the-api/versioning/
	defaultAPIVersion = 3

	// Bounded retries for rate-limited calls
	maxRateLimitAttempts = 5
)

// envelope is the standard Gemini response wrapper.
type envelope struct {
	Errors   json.RawMessage `json:"errors"`
	Response json.RawMessage `json:"response"`
}

// apiErrorBody is one error object in a response body.
type apiErrorBody struct {
	Code        string `json:"code"`
	Message     string `json:"message"`
	Description string `json:"description"`
}

// Session is an authenticated Gemini API client. Safe for concurrent use
// across streams: the http.Client is shared and token refresh is guarded
// inside the Authenticator.
type Session struct {
	client    *http.Client
	auth      *Authenticator
	baseURL   string
	userAgent string

	// retryWait computes the back-off before retrying a rate-limited
	// call; stubbed in tests
	retryWait func(attempt int) time.Duration
}

func defaultRetryWait(attempt int) time.Duration {
	return time.Duration(math.Pow(2, float64(attempt))) * time.Second
}

// NewSession builds a Session from configuration.
func NewSession(cfg config.GeminiConfig) *Session {
	version := cfg.APIVersion
	if version == 0 {
		version = defaultAPIVersion
	}

	format := baseURLFormat
	if cfg.Sandbox {
		format = sandboxURLFormat
	}

	client := &http.Client{Timeout: cfg.Timeout}
	return &Session{
		client:    client,
		auth:      NewAuthenticator(cfg.ClientID, cfg.ClientSecret, cfg.RefreshToken, client),
		baseURL:   fmt.Sprintf(format, version),
		userAgent: cfg.UserAgent,
		retryWait: defaultRetryWait,
	}
}

// NewSessionWithBase builds a Session against an explicit base URL, for
// tests.
func NewSessionWithBase(baseURL string, auth *Authenticator) *Session {
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return &Session{
		client:    &http.Client{Timeout: 30 * time.Second},
		auth:      auth,
		baseURL:   baseURL,
		retryWait: defaultRetryWait,
	}
}

// BuildURL resolves an endpoint path against the API base URL.
func (s *Session) BuildURL(endpoint string) string {
	return s.baseURL + strings.TrimPrefix(endpoint, "/")
}

// Call makes an API request and returns the payload of the response
// envelope. A 401 clears the cached token and retries the request exactly
// once; rate-limited responses are retried with exponential back-off up to
// a bounded number of attempts. All other errors are returned as *APIError.
func (s *Session) Call(ctx context.Context, method, endpoint string, params url.Values, body interface{}) (json.RawMessage, error) {
	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
	}

	reauthenticated := false
	for attempt := 1; ; attempt++ {
		payload, err := s.callOnce(ctx, method, endpoint, params, bodyBytes)
		if err == nil {
			return payload, nil
		}

		switch {
		case IsAuthExpired(err) && !reauthenticated:
			// One re-authentication per expired token; a second
			// consecutive 401 propagates as fatal.
			reauthenticated = true
			log.WithField("endpoint", endpoint).Info("access token expired, re-authenticating")
			continue

		case IsRateLimited(err) && attempt < maxRateLimitAttempts:
			wait := s.retryWait(attempt)
			log.WithFields(log.Fields{
				"endpoint": endpoint,
				"attempt":  attempt,
				"wait":     wait.String(),
			}).Warn("rate limited, backing off")

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
			continue

		default:
			return nil, err
		}
	}
}

// callOnce performs a single HTTP round trip and decodes the envelope.
func (s *Session) callOnce(ctx context.Context, method, endpoint string, params url.Values, body []byte) (json.RawMessage, error) {
	token, err := s.auth.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("authentication failed: %w", err)
	}

	u := s.BuildURL(endpoint)
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.userAgent != "" {
		req.Header.Set("User-Agent", s.userAgent)
	}

	started := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	metrics.ObserveRequest(endpoint, method, time.Since(started))
	logHeaders(req, resp)

	if resp.StatusCode >= 400 {
		apiErr := decodeError(resp)
		if apiErr.Kind == KindAuthorization {
			s.auth.Invalidate(token)
		}
		log.WithFields(log.Fields{
			"endpoint": endpoint,
			"status":   resp.StatusCode,
			"code":     apiErr.Code,
		}).Error(apiErr.Message)
		return nil, apiErr
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	if errs := decodeEnvelopeErrors(env.Errors); len(errs) > 0 {
		for _, e := range errs {
			log.WithField("endpoint", endpoint).Error(e.Message)
		}
		return nil, &APIError{
			Kind:        classify(resp.StatusCode, errs[0].Code),
			StatusCode:  resp.StatusCode,
			Code:        errs[0].Code,
			Message:     errs[0].Message,
			Description: errs[0].Description,
		}
	}

	return env.Response, nil
}

// Download performs a plain GET against an absolute URL (report data is
// served from a signed location outside the API base) and returns the
// response body as a stream.
func (s *Session) Download(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create download request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("download returned status %d", resp.StatusCode)
	}
	return resp.Body, nil
}

// decodeError builds an *APIError from a non-2xx response body.
func decodeError(resp *http.Response) *APIError {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	var body struct {
		Errors []apiErrorBody `json:"errors"`
		Error  *apiErrorBody  `json:"error"`
	}
	_ = json.Unmarshal(raw, &body)

	var first apiErrorBody
	if len(body.Errors) > 0 {
		first = body.Errors[0]
	} else if body.Error != nil {
		first = *body.Error
	} else {
		first.Message = strings.TrimSpace(string(raw))
	}

	return &APIError{
		Kind:        classify(resp.StatusCode, first.Code),
		StatusCode:  resp.StatusCode,
		Code:        first.Code,
		Message:     first.Message,
		Description: first.Description,
	}
}

// decodeEnvelopeErrors parses the errors field, which may be null, a list
// or a single object.
func decodeEnvelopeErrors(raw json.RawMessage) []apiErrorBody {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}

	var many []apiErrorBody
	if err := json.Unmarshal(raw, &many); err == nil {
		return many
	}

	var one apiErrorBody
	if err := json.Unmarshal(raw, &one); err == nil {
		return []apiErrorBody{one}
	}
	return nil
}

// logHeaders dumps request and response headers at debug level with the
// Authorization value obfuscated.
func logHeaders(req *http.Request, resp *http.Response) {
	for header, values := range req.Header {
		value := strings.Join(values, ", ")
		if header == "Authorization" {
			value = "************************"
		}
		log.Debugf("REQUEST %s: %s", header, value)
	}
	for header, values := range resp.Header {
		log.Debugf("RESPONSE %s: %s", header, strings.Join(values, ", "))
	}
}
