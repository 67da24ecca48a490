// Package insight asks an external generator for a structured insight about
// one subject (a campaign, a recipient, a program) and stores the answer as
// the insight_generation job result.
package insight

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/teranos/cadence/errors"
	"github.com/teranos/cadence/internal/httpclient"
)

// Request is what the generator is asked
type Request struct {
	SubjectType string `json:"subject_type"`
	SubjectID   string `json:"subject_id"`
	Prompt      string `json:"prompt,omitempty"`
}

// Insight is the generator's structured answer
type Insight struct {
	Summary string          `json:"summary"`
	Details json.RawMessage `json:"details,omitempty"`
	Model   string          `json:"model,omitempty"`
}

// Generator produces insights. Implementations are opaque to the runner.
type Generator interface {
	Generate(ctx context.Context, req Request) (*Insight, error)
}

// HTTPGenerator POSTs the request as JSON to an insight service
type HTTPGenerator struct {
	client   *httpclient.Client
	endpoint string
	apiKey   string
}

// NewHTTPGenerator creates a generator for endpoint
func NewHTTPGenerator(client *httpclient.Client, endpoint, apiKey string) (*HTTPGenerator, error) {
	if strings.TrimSpace(endpoint) == "" {
		return nil, errors.NewInvalidRequestError("insight.endpoint is not configured")
	}
	if _, err := client.ValidateURL(endpoint); err != nil {
		return nil, errors.Wrap(err, "invalid insight endpoint")
	}
	return &HTTPGenerator{client: client, endpoint: endpoint, apiKey: apiKey}, nil
}

func (g *HTTPGenerator) Generate(ctx context.Context, req Request) (*Insight, error) {
	headers := map[string]string{}
	if g.apiKey != "" {
		headers["Authorization"] = "Bearer " + g.apiKey
	}

	var out Insight
	if err := g.client.PostJSON(ctx, g.endpoint, headers, req, &out); err != nil {
		return nil, errors.Wrapf(err, "insight request for %s %s", req.SubjectType, req.SubjectID)
	}
	if strings.TrimSpace(out.Summary) == "" {
		return nil, errors.Newf("insight service returned no summary for %s %s", req.SubjectType, req.SubjectID)
	}
	return &out, nil
}
