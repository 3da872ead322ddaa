package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// HTTPOracle calls a remote assessment service over HTTP. The request
// carries the transaction; the response is expected to be a JSON
// object with "score" and "confidence" fields in [0,100].
type HTTPOracle struct {
	url    string
	client *http.Client
}

// NewHTTPOracle creates an oracle client for the given endpoint.
// Per-call deadlines come from the caller's context, not the client.
func NewHTTPOracle(url string) *HTTPOracle {
	return &HTTPOracle{
		url:    url,
		client: &http.Client{},
	}
}

// Assess posts the transaction and parses the oracle's verdict.
func (o *HTTPOracle) Assess(ctx context.Context, tx *domain.Transaction) (Assessment, error) {
	body, err := json.Marshal(tx)
	if err != nil {
		return Assessment{}, fmt.Errorf("failed to encode transaction: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.url, bytes.NewReader(body))
	if err != nil {
		return Assessment{}, fmt.Errorf("failed to build oracle request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return Assessment{}, fmt.Errorf("oracle request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Assessment{}, fmt.Errorf("oracle returned status %d", resp.StatusCode)
	}

	var a Assessment
	if err := json.NewDecoder(resp.Body).Decode(&a); err != nil {
		return Assessment{}, fmt.Errorf("failed to decode oracle response: %w", err)
	}

	if a.Score < 0 || a.Score > 100 || a.Confidence < 0 || a.Confidence > 100 {
		return Assessment{}, fmt.Errorf("oracle returned out-of-range assessment: score=%d confidence=%d", a.Score, a.Confidence)
	}

	return a, nil
}
