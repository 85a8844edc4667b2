package occ

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// refreshSkew renews tokens slightly before expiry so in-flight requests do
// not race the server-side cutoff.
const refreshSkew = 30 * time.Second

const maxTokenResponseBytes = 1 << 20

// tokenSource serves OAuth2 client-credentials tokens. Concurrent callers
// needing a refresh are collapsed into a single token request; everyone else
// reads the cached token under a read lock.
type tokenSource struct {
	tokenURL     string
	clientID     string
	clientSecret string
	httpClient   *http.Client
	now          func() time.Time

	group singleflight.Group

	mu     sync.RWMutex
	value  string
	expiry time.Time
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

func newTokenSource(tokenURL, clientID, clientSecret string, httpClient *http.Client) (*tokenSource, error) {
	tokenURL = strings.TrimSpace(tokenURL)
	if tokenURL == "" {
		return nil, errors.New("token url is required")
	}
	if strings.TrimSpace(clientID) == "" {
		return nil, errors.New("client id is required")
	}
	if strings.TrimSpace(clientSecret) == "" {
		return nil, errors.New("client secret is required")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &tokenSource{
		tokenURL:     tokenURL,
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient:   httpClient,
		now:          time.Now,
	}, nil
}

// Token returns a valid access token, fetching one when the cache is empty
// or near expiry.
func (t *tokenSource) Token(ctx context.Context) (string, error) {
	if tok, ok := t.cached(); ok {
		return tok, nil
	}

	result, err, _ := t.group.Do("token", func() (any, error) {
		// Another flight may have refreshed while this caller queued.
		if tok, ok := t.cached(); ok {
			return tok, nil
		}
		return t.fetch(ctx)
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

// Invalidate drops the cached token if it still matches stale. A token
// already replaced by a newer one is left alone, so one rejected request
// cannot discard its successor's refresh.
func (t *tokenSource) Invalidate(stale string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.value == stale {
		t.value = ""
		t.expiry = time.Time{}
	}
}

func (t *tokenSource) cached() (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.value == "" {
		return "", false
	}
	if !t.now().Before(t.expiry.Add(-refreshSkew)) {
		return "", false
	}
	return t.value, true
}

func (t *tokenSource) fetch(ctx context.Context) (string, error) {
	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", t.clientID)
	form.Set("client_secret", t.clientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", transientErr(fmt.Errorf("call token endpoint: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenResponseBytes))
	if err != nil {
		return "", transientErr(fmt.Errorf("read token response: %w", err))
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusBadRequest:
		return "", fmt.Errorf("%w: token endpoint status %d", ErrUnauthorized, resp.StatusCode)
	default:
		return "", transientErr(fmt.Errorf("token endpoint status %d", resp.StatusCode))
	}

	var parsed tokenResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if parsed.AccessToken == "" {
		return "", fmt.Errorf("%w: token endpoint returned empty access_token", ErrUnauthorized)
	}

	expiresIn := parsed.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = 300
	}
	expiry := t.now().Add(time.Duration(expiresIn) * time.Second)

	t.mu.Lock()
	t.value = parsed.AccessToken
	t.expiry = expiry
	t.mu.Unlock()

	return parsed.AccessToken, nil
}
