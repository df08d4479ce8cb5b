package ticketclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"
)

// tokenCache is the single guarded, single-writer, revalidating token cache
// the spec allows as the only in-memory shared state outside the Store
// (§5). Renews transparently near expiry and once on 401 (c.tokens.invalidate).
type tokenCache struct {
	cfg        Config
	httpClient *http.Client

	mu      sync.Mutex
	token   string
	expires time.Time
}

func newTokenCache(cfg Config) *tokenCache {
	return &tokenCache{cfg: cfg, httpClient: &http.Client{Timeout: cfg.Timeout}}
}

// get returns a valid token, fetching a fresh one if absent or within 30s
// of expiry.
func (t *tokenCache) get(ctx context.Context) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.token != "" && time.Now().Add(30*time.Second).Before(t.expires) {
		return t.token, nil
	}
	return t.refreshLocked(ctx)
}

// invalidate forces the next get to fetch a fresh token, used after a 401.
func (t *tokenCache) invalidate() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.token = ""
}

func (t *tokenCache) refreshLocked(ctx context.Context) (string, error) {
	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {t.cfg.ClientID},
		"client_secret": {t.cfg.ClientSecret},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.BaseURL+"/oauth/token", bytes.NewReader([]byte(form.Encode())))
	if err != nil {
		return "", fmt.Errorf("ticketclient: building token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("ticketclient: requesting token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ticketclient: token endpoint returned HTTP %d", resp.StatusCode)
	}

	var tokenResp struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return "", fmt.Errorf("ticketclient: decoding token response: %w", err)
	}

	t.token = tokenResp.AccessToken
	t.expires = time.Now().Add(time.Duration(tokenResp.ExpiresIn) * time.Second)
	return t.token, nil
}
