package selectors

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/hazyhaar/seltrust/connectivity"
)

func testEngineConn(t *testing.T) (*Engine, *connectivity.Router) {
	t.Helper()
	e := testEngine(t)
	router := connectivity.New()
	e.RegisterConnectivity(router)
	return e, router
}

func TestConn_Services(t *testing.T) {
	_, router := testEngineConn(t)
	want := []string{
		"seltrust_analyze",
		"seltrust_best_category",
		"seltrust_best_selectors",
		"seltrust_submit_capture",
	}
	got := router.Services()
	if len(got) != len(want) {
		t.Fatalf("services = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("services = %v, want %v", got, want)
		}
	}
}

func TestConn_SubmitAnalyzeSync(t *testing.T) {
	_, router := testEngineConn(t)
	ctx := context.Background()

	payload, _ := json.Marshal(chairCapture("shop.example"))
	resp, err := router.Call(ctx, "seltrust_submit_capture", payload)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	var sub SubmitResponse
	if err := json.Unmarshal(resp, &sub); err != nil {
		t.Fatal(err)
	}

	payload, _ = json.Marshal(map[string]any{"event_id": sub.ID, "sync": true})
	resp, err = router.Call(ctx, "seltrust_analyze", payload)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	var out struct {
		EventID string `json:"event_id"`
		Queued  bool   `json:"queued"`
		Report  struct {
			Domain    string   `json:"domain"`
			Successes []string `json:"successes"`
			Failures  []string `json:"failures"`
		} `json:"report"`
	}
	if err := json.Unmarshal(resp, &out); err != nil {
		t.Fatal(err)
	}
	if out.Queued || out.Report.Domain != "shop.example" {
		t.Fatalf("analyze response = %s", resp)
	}
	if len(out.Report.Successes) != 1 || out.Report.Successes[0] != "name" {
		t.Errorf("successes = %v", out.Report.Successes)
	}
	if len(out.Report.Failures) != 1 || out.Report.Failures[0] != "price" {
		t.Errorf("failures = %v", out.Report.Failures)
	}
}

func TestConn_AnalyzeQueues(t *testing.T) {
	e, router := testEngineConn(t)
	ctx := context.Background()

	resp, err := router.Call(ctx, "seltrust_analyze", []byte(`{"event_id":"cap_later"}`))
	if err != nil {
		t.Fatal(err)
	}
	var out AnalyzeResponse
	json.Unmarshal(resp, &out)
	if !out.Queued {
		t.Fatalf("response = %s", resp)
	}
	ready, _, err := e.queue.Counts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if ready != 1 {
		t.Fatalf("ready = %d, want 1", ready)
	}
}

func TestConn_BestCategoryNone(t *testing.T) {
	_, router := testEngineConn(t)
	resp, err := router.Call(context.Background(), "seltrust_best_category", []byte(`{"domain":"shop.example"}`))
	if err != nil {
		t.Fatal(err)
	}
	var out BestCategoryResponse
	json.Unmarshal(resp, &out)
	if out.Found || out.Category != "" {
		t.Fatalf("response = %s", resp)
	}
}

func TestConn_InvalidInput(t *testing.T) {
	_, router := testEngineConn(t)
	ctx := context.Background()

	tests := []struct {
		service string
		payload string
	}{
		{"seltrust_best_selectors", `{`},
		{"seltrust_best_selectors", `{"domain":""}`},
		{"seltrust_analyze", `{}`},
		{"seltrust_submit_capture", `{"domain":"  "}`},
	}
	for _, tt := range tests {
		_, err := router.Call(ctx, tt.service, []byte(tt.payload))
		if !errors.Is(err, ErrInvalidInput) {
			t.Errorf("%s %s: got %v, want ErrInvalidInput", tt.service, tt.payload, err)
		}
	}
}
