package selectors

import (
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/seltrust/capture"
	"github.com/hazyhaar/seltrust/kit"
)

// RegisterMCP registers seltrust tools on an MCP server.
func (e *Engine) RegisterMCP(srv *mcp.Server) {
	domainSchema := inputSchema(map[string]any{
		"domain": map[string]any{"type": "string", "description": "Shop domain, e.g. shop.example (www. is ignored)"},
	}, []string{"domain"})

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "seltrust_best_selectors",
		Description: "Recommended extraction selector per field (name, price, thumbnail) for a domain. Fields without a trustworthy selector are omitted.",
		InputSchema: domainSchema,
	}, e.ep.bestSelectors, kit.DecodeArgs[domainRequest])

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "seltrust_best_category",
		Description: "Recommended product category for a domain, if one is trusted enough.",
		InputSchema: domainSchema,
	}, e.ep.bestCategory, kit.DecodeArgs[domainRequest])

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "seltrust_domain_records",
		Description: "Every selector and category record of a domain with counters and Wilson confidence.",
		InputSchema: domainSchema,
	}, e.ep.domainRecords, kit.DecodeArgs[domainRequest])

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "seltrust_submit_capture",
		Description: "Store a capture event (extracted vs. kept values) and queue it for analysis. Returns the event id.",
		InputSchema: inputSchema(map[string]any{
			"id":             map[string]any{"type": "string", "description": "Optional event id (generated when empty)"},
			"domain":         map[string]any{"type": "string", "description": "Shop domain of the captured page"},
			"raw_payload":    map[string]any{"type": "object", "description": "Values extracted by the selectors"},
			"final_payload":  map[string]any{"type": "object", "description": "Values the user kept"},
			"final_category": map[string]any{"type": "string", "description": "Category the user kept"},
			"context": map[string]any{
				"type":        "object",
				"description": "Capture context: selectors, discovered_selectors, suggested_category",
			},
		}, []string{"domain"}),
	}, e.ep.submitCapture, kit.DecodeArgs[capture.Event])

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "seltrust_stats",
		Description: "Table sizes, queue depth and analysis counters.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}, e.ep.stats, kit.DecodeArgs[struct{}])
}

// inputSchema builds a JSON Schema object with type "object".
func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}
