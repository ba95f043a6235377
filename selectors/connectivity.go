package selectors

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hazyhaar/seltrust/capture"
	"github.com/hazyhaar/seltrust/connectivity"
	"github.com/hazyhaar/seltrust/kit"
)

// RegisterConnectivity registers seltrust service handlers on a connectivity Router.
//
// Registered services:
//
//	seltrust_best_selectors  recommended selector per field for a domain
//	seltrust_best_category   recommended category for a domain
//	seltrust_submit_capture  store a capture event and queue its analysis
//	seltrust_analyze         queue (or run, with "sync": true) an analysis
func (e *Engine) RegisterConnectivity(router *connectivity.Router) {
	router.RegisterLocal("seltrust_best_selectors", localHandler[domainRequest](e.ep.bestSelectors))
	router.RegisterLocal("seltrust_best_category", localHandler[domainRequest](e.ep.bestCategory))
	router.RegisterLocal("seltrust_submit_capture", localHandler[capture.Event](e.ep.submitCapture))
	router.RegisterLocal("seltrust_analyze", localHandler[analyzeRequest](e.ep.analyze))
}

// localHandler decodes the payload into a fresh T and runs ep with the
// connectivity transport marked on the context.
func localHandler[T any](ep kit.Endpoint) connectivity.Handler {
	return func(ctx context.Context, payload []byte) ([]byte, error) {
		var req T
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &req); err != nil {
				return nil, fmt.Errorf("%w: decode: %v", ErrInvalidInput, err)
			}
		}
		resp, err := ep(kit.WithTransport(ctx, kit.TransportConnectivity), &req)
		if err != nil {
			return nil, err
		}
		return json.Marshal(resp)
	}
}
