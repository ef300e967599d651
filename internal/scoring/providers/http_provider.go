// Package providers implements the HTTP-backed scoring providers: thin
// adapters over whichever model family sits behind a given endpoint.
package providers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/aristath/ibkr-bridge/internal/scoring"
)

// requestPayload is the wire shape sent to every provider endpoint.
type requestPayload struct {
	Symbol        string             `json:"symbol"`
	FeatureVector map[string]float64 `json:"feature_vector"`
	Prompt        string             `json:"prompt"`
}

// responsePayload is the wire shape every provider endpoint is expected to
// return. A provider that fails to parse into this shape, or whose fields
// fail validation, is non-compliant.
type responsePayload struct {
	Score       float64 `json:"score"`
	ExpectedRR  float64 `json:"expected_rr"`
	Confidence  float64 `json:"confidence"`
	ShouldTrade bool    `json:"should_trade"`
	RawText     string  `json:"raw_text"`
}

// HTTPProvider scores a request by POSTing to a configured model endpoint.
// The provider family (GPT-class, Claude-class, Gemini-class) is opaque at
// this layer — only the id and base URL differ between instances.
type HTTPProvider struct {
	id   string
	http *resty.Client
}

// NewHTTPProvider builds a provider bound to baseURL, identified by id.
func NewHTTPProvider(id, baseURL string, timeout time.Duration) *HTTPProvider {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(1).
		SetRetryWaitTime(200 * time.Millisecond).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json")

	return &HTTPProvider{id: id, http: client}
}

func (p *HTTPProvider) ID() string { return p.id }

// Score posts the request and validates the response into a
// ProviderOutput. A transport error or a status other than 200 is returned
// as an error, which the ensemble records as a non-compliant output; a
// response with a value outside its documented range yields
// Compliant=false with a nil error. In both cases the aggregation
// continues without this provider.
func (p *HTTPProvider) Score(ctx context.Context, req scoring.Request) (scoring.ProviderOutput, error) {
	out := scoring.ProviderOutput{ProviderID: p.id}

	var body responsePayload
	resp, err := p.http.R().
		SetContext(ctx).
		SetBody(requestPayload{Symbol: req.Symbol, FeatureVector: req.FeatureVector, Prompt: req.Prompt}).
		SetResult(&body).
		Post("/score")
	if err != nil {
		return out, fmt.Errorf("provider %s: %w", p.id, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return out, fmt.Errorf("provider %s: status %d", p.id, resp.StatusCode())
	}

	if body.Score < 0 || body.Score > 100 || body.Confidence < 0 || body.Confidence > 1 {
		return out, nil // non-compliant, but not a transport error
	}

	out.Score = body.Score
	out.ExpectedRR = body.ExpectedRR
	out.Confidence = body.Confidence
	out.ShouldTrade = body.ShouldTrade
	out.RawText = body.RawText
	out.Compliant = true
	return out, nil
}
