package connectors

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"tradefunnel/src/model"

	"github.com/go-resty/resty/v2"
	logger "github.com/sirupsen/logrus"
)

type candidatesResponse struct {
	Candidates []model.Candidate `json:"candidates"`
}

type scoreRequest struct {
	Stage    string            `json:"stage"`
	Symbol   string            `json:"symbol"`
	Side     model.Side        `json:"side"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type scoreResponse struct {
	Score *float64 `json:"score"`
}

// SignalProvider is the client of the Catalyst & Signal Provider service.
type SignalProvider struct {
	http *resty.Client
	log  *logger.Entry
}

func NewSignalProvider(cfg Config, log *logger.Entry) *SignalProvider {
	if log == nil {
		log = logger.NewEntry(logger.StandardLogger())
	}
	timeout := cfg.SignalTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client := resty.New().
		SetBaseURL(cfg.SignalBaseURL).
		SetTimeout(timeout).
		SetRetryCount(defaultRetryAttempts - 1).
		SetRetryWaitTime(defaultRetryBaseDelay).
		SetRetryMaxWaitTime(defaultRetryMaxBackoff).
		AddRetryCondition(isRetryableResp)
	if cfg.SignalAPIKey != "" {
		client.SetHeader("X-API-KEY", cfg.SignalAPIKey)
	}
	return &SignalProvider{http: client, log: log.WithField("component", "signal_provider")}
}

// Candidates returns the scored universe for this cycle.
func (p *SignalProvider) Candidates(ctx context.Context) ([]model.Candidate, error) {
	resp, err := p.http.R().
		SetContext(ctx).
		SetHeader("Accept", "application/json").
		Get("/v1/candidates")
	if err != nil {
		return nil, fmt.Errorf("fetch candidates: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("fetch candidates: HTTP %d: %s", resp.StatusCode(), strings.TrimSpace(resp.String()))
	}
	var out candidatesResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return nil, fmt.Errorf("decode candidates: %w", err)
	}

	p.log.WithField("count", len(out.Candidates)).Debug("candidates fetched")
	return out.Candidates, nil
}

// Score asks the provider for a fresh score of the candidate at the given stage.
func (p *SignalProvider) Score(ctx context.Context, stage string, c model.Candidate) (float64, error) {
	resp, err := p.http.R().
		SetContext(ctx).
		SetHeader("Accept", "application/json").
		SetBody(scoreRequest{Stage: stage, Symbol: c.Symbol, Side: c.EffectiveSide(), Metadata: c.Metadata}).
		Post("/v1/score")
	if err != nil {
		return 0, fmt.Errorf("score %s/%s: %w", stage, c.Symbol, err)
	}
	if resp.IsError() {
		return 0, fmt.Errorf("score %s/%s: HTTP %d", stage, c.Symbol, resp.StatusCode())
	}
	var out scoreResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return 0, fmt.Errorf("decode score %s/%s: %w", stage, c.Symbol, err)
	}
	if out.Score == nil {
		return 0, fmt.Errorf("score %s/%s: response has no score", stage, c.Symbol)
	}
	return *out.Score, nil
}
