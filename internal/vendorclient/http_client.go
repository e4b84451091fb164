package vendorclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/sony/gobreaker"

	"github.com/romiteld/crm-sync-engine/internal/module"
)

// HTTPClient is the one concrete Client: an HTTP wrapper around the
// vendor's REST surface, wrapped in a gobreaker circuit so a wedged vendor
// cannot stall every Poller sweep (SPEC_FULL.md §B: "wraps the two
// outbound-to-the-world calls that can wedge the system").
type HTTPClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
}

func NewHTTPClient(baseURL, apiKey string, timeout time.Duration) *HTTPClient {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "vendor-http",
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= 5
		},
	})
	return &HTTPClient{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		breaker:    breaker,
	}
}

type listResponse struct {
	Records []struct {
		ID      string          `json:"id"`
		Payload json.RawMessage `json:"payload"`
	} `json:"records"`
}

func (c *HTTPClient) ListModifiedSince(ctx context.Context, mod module.Kind, cursor time.Time, pageSize int) ([]Record, error) {
	result, err := c.breaker.Execute(func() (any, error) {
		return c.doList(ctx, mod, cursor, pageSize)
	})
	if err != nil {
		return nil, fmt.Errorf("vendorclient: list modified since: %w", err)
	}
	return result.([]Record), nil
}

func (c *HTTPClient) doList(ctx context.Context, mod module.Kind, cursor time.Time, pageSize int) ([]Record, error) {
	u := fmt.Sprintf("%s/%s/search?%s", c.baseURL, mod.String(), url.Values{
		"modified_since": {cursor.UTC().Format(time.RFC3339)},
		"per_page":       {fmt.Sprint(pageSize)},
	}.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("vendor returned %d", resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("vendor rejected request: %d", resp.StatusCode)
	}

	var parsed listResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode vendor response: %w", err)
	}

	out := make([]Record, 0, len(parsed.Records))
	for _, r := range parsed.Records {
		out = append(out, Record{ExternalID: r.ID, Payload: r.Payload})
	}
	return out, nil
}
