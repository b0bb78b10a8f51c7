package badge

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/taskhub/server/internal/infra/httpclient"
)

// HTTPFetcher reads counts from GET {baseURL}/badges.
type HTTPFetcher struct {
	baseURL string
	token   func() string
	client  *http.Client
}

// NewHTTPFetcher creates a fetcher. token is called per request so
// callers can rotate credentials. A nil client uses the default pool.
func NewHTTPFetcher(baseURL string, token func() string, client *http.Client) *HTTPFetcher {
	if client == nil {
		client = httpclient.New(httpclient.DefaultConfig())
	}
	return &HTTPFetcher{baseURL: strings.TrimRight(baseURL, "/"), token: token, client: client}
}

// Fetch implements Fetcher.
func (f *HTTPFetcher) Fetch(ctx context.Context) (Counts, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.baseURL+"/badges", nil)
	if err != nil {
		return Counts{}, fmt.Errorf("build badge request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if f.token != nil {
		req.Header.Set("Authorization", "Bearer "+f.token())
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return Counts{}, fmt.Errorf("fetch badges: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Counts{}, fmt.Errorf("fetch badges: unexpected status %d", resp.StatusCode)
	}
	var counts Counts
	if err := json.NewDecoder(resp.Body).Decode(&counts); err != nil {
		return Counts{}, fmt.Errorf("decode badges: %w", err)
	}
	return counts, nil
}
