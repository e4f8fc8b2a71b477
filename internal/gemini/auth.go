package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// AuthenticationURL exchanges a refresh token for an access token.
// https://developer.yahoo.com/oauth2/guide/flows_authcode/
const AuthenticationURL = "https://api.login.yahoo.com/oauth2/get_token"

// Authenticator holds OAuth client credentials and the current access
// token. Token refresh is guarded by a mutex so that concurrent streams
// hitting a 401 at the same time trigger a single re-authentication.
type Authenticator struct {
	clientID     string
	clientSecret string
	refreshToken string
	tokenURL     string
	client       *http.Client

	mu     sync.Mutex
	token  string
	expiry time.Time
}

// NewAuthenticator builds an Authenticator against the production token
// endpoint.
func NewAuthenticator(clientID, clientSecret, refreshToken string, client *http.Client) *Authenticator {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Authenticator{
		clientID:     clientID,
		clientSecret: clientSecret,
		refreshToken: refreshToken,
		tokenURL:     AuthenticationURL,
		client:       client,
	}
}

// Token returns a valid access token, refreshing it if absent or expired.
func (a *Authenticator) Token(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.token != "" && time.Now().Before(a.expiry) {
		return a.token, nil
	}
	return a.refreshLocked(ctx)
}

// Invalidate discards the cached token if it still matches the one that
// just failed. A caller whose 401 raced another stream's refresh leaves
// the fresh token untouched.
func (a *Authenticator) Invalidate(failed string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.token == failed {
		a.token = ""
		a.expiry = time.Time{}
	}
}

// refreshLocked performs the refresh-token grant. Caller must hold mu.
func (a *Authenticator) refreshLocked(ctx context.Context) (string, error) {
	form := url.Values{
		"client_id":     {a.clientID},
		"client_secret": {a.clientSecret},
		"refresh_token": {a.refreshToken},
		"grant_type":    {"refresh_token"},
		// No redirect URL (server-side authentication)
		"redirect_uri": {"oob"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.tokenURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token endpoint returned status %d", resp.StatusCode)
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("failed to decode token response: %w", err)
	}
	if payload.AccessToken == "" {
		return "", fmt.Errorf("token endpoint returned an empty access token")
	}

	a.token = payload.AccessToken
	// Renew slightly early to avoid using a token at the edge of expiry
	a.expiry = time.Now().Add(time.Duration(payload.ExpiresIn)*time.Second - 30*time.Second)
	return a.token, nil
}

// SetTokenURL overrides the token endpoint, for tests against a local server.
func (a *Authenticator) SetTokenURL(u string) {
	a.tokenURL = u
}
