package capture

import (
	"encoding/json"
	"testing"
)

func TestParseField(t *testing.T) {
	tests := []struct {
		key  string
		want Field
		ok   bool
	}{
		{"name", FieldName, true},
		{"price", FieldPrice, true},
		{"unit_price", FieldPrice, true},
		{"unit_price_cents", FieldPrice, true},
		{"thumbnail_url", FieldThumbnail, true},
		{" Thumbnail ", FieldThumbnail, true},
		{"description", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := ParseField(tt.key)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ParseField(%q) = %q, %v; want %q, %v", tt.key, got, ok, tt.want, tt.ok)
		}
	}
}

func TestParseMethod(t *testing.T) {
	if ParseMethod("discovered") != MethodDiscovered {
		t.Fatal("discovered")
	}
	if ParseMethod("MANUAL") != MethodManual {
		t.Fatal("manual")
	}
	if ParseMethod("") != MethodHeuristic || ParseMethod("bogus") != MethodHeuristic {
		t.Fatal("fallback must be heuristic")
	}
}

func TestParseCategory(t *testing.T) {
	if c, ok := ParseCategory(" Lighting "); !ok || c != "lighting" {
		t.Fatalf("ParseCategory(Lighting) = %q, %v", c, ok)
	}
	if _, ok := ParseCategory("spaceships"); ok {
		t.Fatal("unknown category accepted")
	}
	if _, ok := ParseCategory(""); ok {
		t.Fatal("blank category accepted")
	}
}

func TestEventDecode_LenientContext(t *testing.T) {
	raw := `{
		"id": "ev-1",
		"domain": "www.ikea.pl",
		"raw_payload": {"name": "Chair"},
		"final_payload": {"name": "chair", "category": "furniture"},
		"context": {
			"selectors": {"name": "h1.title", "price": 42},
			"discovered_selectors": {
				"price": {"candidates": [{"selector": ".price", "score": 87}, "junk"]},
				"thumbnail": [{"selector": "img.main", "score": "55.5"}],
				"name": "not-a-list"
			},
			"suggested_category": "decor"
		}
	}`
	var ev Event
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ev.Context.Selectors["name"] != "h1.title" {
		t.Fatalf("selectors = %v", ev.Context.Selectors)
	}
	if _, ok := ev.Context.Selectors["price"]; ok {
		t.Fatal("non-string selector should be dropped")
	}
	price := ev.Context.DiscoveredSelectors["price"].Candidates
	if len(price) != 1 || price[0].Selector != ".price" || price[0].Score == nil || *price[0].Score != 87 {
		t.Fatalf("price candidates = %+v", price)
	}
	thumb := ev.Context.DiscoveredSelectors["thumbnail"].Candidates
	if len(thumb) != 1 || thumb[0].Score == nil || *thumb[0].Score != 55.5 {
		t.Fatalf("thumbnail candidates = %+v", thumb)
	}
	if len(ev.Context.DiscoveredSelectors["name"].Candidates) != 0 {
		t.Fatal("malformed discovery entry should yield no candidates")
	}
	if ev.Context.SuggestedCategory != "decor" {
		t.Fatalf("suggested = %q", ev.Context.SuggestedCategory)
	}
	if ev.FinalCategoryValue() != "furniture" {
		t.Fatalf("final category = %q", ev.FinalCategoryValue())
	}
}

func TestEventDecode_GarbageContext(t *testing.T) {
	var ev Event
	if err := json.Unmarshal([]byte(`{"domain":"a.pl","context":"oops"}`), &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ev.Context.Selectors != nil || ev.Context.DiscoveredSelectors != nil {
		t.Fatalf("context = %+v, want empty", ev.Context)
	}
}
