package capture

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Event is one capture as stored by the collaborating application: what the
// selectors extracted, what the user finally kept, and the selectors behind
// it. The engine reads events and never mutates them.
type Event struct {
	ID            string         `json:"id"`
	Domain        string         `json:"domain"`
	RawPayload    map[string]any `json:"raw_payload"`
	FinalPayload  map[string]any `json:"final_payload"`
	Context       Context        `json:"context"`
	FinalCategory string         `json:"final_category,omitempty"`
	CreatedAt     int64          `json:"created_at"`
}

// Context carries the capture-time metadata sent by the client.
type Context struct {
	// Selectors maps a field key to the selector that produced the raw value.
	Selectors map[string]string `json:"selectors,omitempty"`
	// DiscoveredSelectors maps a field key to client-side discovery results,
	// best candidate first.
	DiscoveredSelectors map[string]Discovered `json:"discovered_selectors,omitempty"`
	SuggestedCategory   string                `json:"suggested_category,omitempty"`
}

// Discovered wraps the ordered candidate list for one field.
type Discovered struct {
	Candidates []Candidate `json:"candidates"`
}

// Candidate is a selector proposed by discovery with its optional score.
type Candidate struct {
	Selector string   `json:"selector"`
	Score    *float64 `json:"score,omitempty"`
}

// UnmarshalJSON decodes a context leniently. Client payloads come from
// arbitrary pages; entries of the wrong shape are dropped instead of failing
// the whole event.
func (c *Context) UnmarshalJSON(b []byte) error {
	*c = Context{}
	var raw map[string]any
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil
	}

	if sel, ok := raw["selectors"].(map[string]any); ok {
		c.Selectors = make(map[string]string, len(sel))
		for k, v := range sel {
			if s, ok := v.(string); ok {
				c.Selectors[k] = s
			}
		}
	}

	if disc, ok := raw["discovered_selectors"].(map[string]any); ok {
		c.DiscoveredSelectors = make(map[string]Discovered, len(disc))
		for k, v := range disc {
			c.DiscoveredSelectors[k] = Discovered{Candidates: decodeCandidates(v)}
		}
	}

	c.SuggestedCategory, _ = raw["suggested_category"].(string)
	return nil
}

// decodeCandidates accepts {"candidates": [...]} or a bare list.
func decodeCandidates(v any) []Candidate {
	var list []any
	switch t := v.(type) {
	case map[string]any:
		list, _ = t["candidates"].([]any)
	case []any:
		list = t
	}
	out := make([]Candidate, 0, len(list))
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		cand := Candidate{}
		cand.Selector, _ = m["selector"].(string)
		if score, ok := toFloat(m["score"]); ok {
			cand.Score = &score
		}
		out = append(out, cand)
	}
	return out
}

// FinalCategoryValue returns the user's final category: the explicit field
// first, then a "category" key in the final payload.
func (e *Event) FinalCategoryValue() string {
	if s := strings.TrimSpace(e.FinalCategory); s != "" {
		return s
	}
	if s, ok := e.FinalPayload["category"].(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	}
	return 0, false
}
