package selectors

import (
	"bytes"
	"context"
	"fmt"
	"html"
	"time"
)

// LeaderboardHTML renders a static page with table sizes, the domain
// leaderboard and the latest admin actions.
func (e *Engine) LeaderboardHTML(ctx context.Context, limit int) ([]byte, error) {
	domains, err := e.Leaderboard(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("domain leaderboard: %w", err)
	}
	counts, err := e.store.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("counts: %w", err)
	}
	events, err := e.AdminEvents(ctx, 20)
	if err != nil {
		return nil, fmt.Errorf("admin events: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>seltrust: selector reliability</title>
<style>
*{box-sizing:border-box;margin:0;padding:0}
body{font-family:system-ui,-apple-system,sans-serif;background:#f8f9fa;color:#212529;max-width:960px;margin:0 auto;padding:2rem 1rem}
h1{font-size:1.5rem;margin-bottom:.5rem}
h2{font-size:1.2rem;margin:2rem 0 .75rem;border-bottom:2px solid #dee2e6;padding-bottom:.25rem}
.stats{display:flex;gap:1rem;margin-bottom:2rem}
.stat{background:#fff;border:1px solid #dee2e6;border-radius:.5rem;padding:1rem;flex:1;text-align:center}
.stat-num{font-size:1.5rem;font-weight:700;color:#495057}
.stat-label{font-size:.8rem;color:#868e96;text-transform:uppercase}
table{width:100%;border-collapse:collapse;background:#fff;border:1px solid #dee2e6;border-radius:.5rem;overflow:hidden;margin-bottom:2rem}
th{background:#e9ecef;padding:.5rem .75rem;text-align:left;font-size:.85rem;font-weight:600}
td{padding:.5rem .75rem;border-top:1px solid #dee2e6;font-size:.85rem}
tr:hover td{background:#f1f3f5}
.badge{display:inline-block;padding:.1rem .4rem;border-radius:.25rem;font-size:.75rem;font-weight:600}
.badge-good{background:#d3f9d8;color:#2b8a3e}
.badge-warn{background:#fff3bf;color:#e67700}
.badge-bad{background:#ffe3e3;color:#c92a2a}
.generated{text-align:center;font-size:.75rem;color:#868e96;margin-top:2rem}
</style>
</head>
<body>
<h1>Selector reliability</h1>
`)

	fmt.Fprintf(&buf, `<div class="stats">
<div class="stat"><div class="stat-num">%d</div><div class="stat-label">Domains</div></div>
<div class="stat"><div class="stat-num">%d</div><div class="stat-label">Selectors</div></div>
<div class="stat"><div class="stat-num">%d</div><div class="stat-label">Categories</div></div>
<div class="stat"><div class="stat-num">%d</div><div class="stat-label">Captures</div></div>
</div>
`, counts.Domains, counts.Selectors, counts.Categories, counts.Events)

	buf.WriteString(`<h2>Domains</h2>
<table>
<thead><tr><th>#</th><th>Domain</th><th>Success</th><th>Records</th><th>Discovered</th><th>Manual</th><th>Observations</th><th>Last seen</th></tr></thead>
<tbody>
`)
	for i, d := range domains {
		badge := "badge-good"
		if d.SuccessShare < 0.5 {
			badge = "badge-bad"
		} else if d.SuccessShare < 0.8 {
			badge = "badge-warn"
		}
		seen := "-"
		if d.LastSeenAt > 0 {
			seen = time.UnixMilli(d.LastSeenAt).UTC().Format("2006-01-02")
		}
		fmt.Fprintf(&buf, `<tr><td>%d</td><td>%s</td><td><span class="badge %s">%.0f%%</span></td><td>%d</td><td>%d</td><td>%d</td><td>%d</td><td>%s</td></tr>
`,
			i+1, html.EscapeString(d.Domain), badge, d.SuccessShare*100,
			d.Records, d.Discovered, d.Manual, d.Successes+d.Failures, seen)
	}
	buf.WriteString(`</tbody></table>
`)

	buf.WriteString(`<h2>Admin actions</h2>
<table>
<thead><tr><th>When</th><th>Actor</th><th>Action</th><th>Entity</th><th>Result</th></tr></thead>
<tbody>
`)
	for _, ev := range events {
		badge, result := "badge-good", "ok"
		if !ev.Success {
			badge, result = "badge-bad", "failed"
		}
		fmt.Fprintf(&buf, `<tr><td>%s</td><td>%s</td><td>%s</td><td><code>%s %s</code></td><td><span class="badge %s">%s</span></td></tr>
`,
			ev.CreatedAt.UTC().Format("2006-01-02 15:04"),
			html.EscapeString(ev.Actor), html.EscapeString(ev.Action),
			html.EscapeString(ev.EntityType), html.EscapeString(ev.EntityID),
			badge, result)
	}
	buf.WriteString(`</tbody></table>
`)

	fmt.Fprintf(&buf, `<div class="generated">Generated %s</div>
</body>
</html>
`, time.Now().UTC().Format("2006-01-02 15:04:05 UTC"))

	return buf.Bytes(), nil
}
