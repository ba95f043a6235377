package selectors

import (
	"context"
	"fmt"

	"github.com/hazyhaar/seltrust/capture"
	"github.com/hazyhaar/seltrust/kit"
)

// Endpoint requests shared by the MCP and connectivity surfaces.

type domainRequest struct {
	Domain string `json:"domain"`
}

type analyzeRequest struct {
	EventID string `json:"event_id"`
	// Sync runs the analysis in the call instead of enqueueing it.
	Sync bool `json:"sync,omitempty"`
}

// BestSelectorsResponse is returned by the best_selectors endpoint.
type BestSelectorsResponse struct {
	Domain    string            `json:"domain"`
	Selectors map[string]string `json:"selectors"`
}

// BestCategoryResponse is returned by the best_category endpoint.
type BestCategoryResponse struct {
	Domain   string `json:"domain"`
	Category string `json:"category,omitempty"`
	Found    bool   `json:"found"`
}

// SubmitResponse is returned when a capture is accepted.
type SubmitResponse struct {
	ID string `json:"id"`
}

// AnalyzeResponse is returned by the analyze endpoint. Report is set only
// for synchronous runs.
type AnalyzeResponse struct {
	EventID string `json:"event_id"`
	Queued  bool   `json:"queued"`
	Report  any    `json:"report,omitempty"`
}

type endpointSet struct {
	bestSelectors kit.Endpoint
	bestCategory  kit.Endpoint
	domainRecords kit.Endpoint
	submitCapture kit.Endpoint
	analyze       kit.Endpoint
	stats         kit.Endpoint
}

func (e *Engine) wrap(name string, ep kit.Endpoint) kit.Endpoint {
	return kit.Chain(kit.Logging(e.logger, name), kit.Timeout(e.config.RequestTimeout))(ep)
}

func (e *Engine) buildEndpoints() endpointSet {
	return endpointSet{
		bestSelectors: e.wrap("best_selectors", func(ctx context.Context, req any) (any, error) {
			r := req.(*domainRequest)
			sels, err := e.BestSelectors(ctx, r.Domain)
			if err != nil {
				return nil, err
			}
			return &BestSelectorsResponse{Domain: r.Domain, Selectors: sels}, nil
		}),
		bestCategory: e.wrap("best_category", func(ctx context.Context, req any) (any, error) {
			r := req.(*domainRequest)
			cat, ok, err := e.BestCategory(ctx, r.Domain)
			if err != nil {
				return nil, err
			}
			return &BestCategoryResponse{Domain: r.Domain, Category: cat, Found: ok}, nil
		}),
		domainRecords: e.wrap("domain_records", func(ctx context.Context, req any) (any, error) {
			return e.DomainRecords(ctx, req.(*domainRequest).Domain)
		}),
		submitCapture: e.wrap("submit_capture", func(ctx context.Context, req any) (any, error) {
			id, err := e.SubmitCapture(ctx, req.(*capture.Event))
			if err != nil {
				return nil, err
			}
			return &SubmitResponse{ID: id}, nil
		}),
		analyze: e.wrap("analyze", func(ctx context.Context, req any) (any, error) {
			r := req.(*analyzeRequest)
			if r.EventID == "" {
				return nil, fmt.Errorf("%w: event_id is required", ErrInvalidInput)
			}
			if !r.Sync {
				if err := e.Enqueue(ctx, r.EventID); err != nil {
					return nil, err
				}
				return &AnalyzeResponse{EventID: r.EventID, Queued: true}, nil
			}
			rep, err := e.AnalyzeEvent(ctx, r.EventID)
			if err != nil {
				return nil, err
			}
			return &AnalyzeResponse{EventID: r.EventID, Report: rep}, nil
		}),
		stats: e.wrap("stats", func(ctx context.Context, _ any) (any, error) {
			return e.Stats(ctx)
		}),
	}
}
