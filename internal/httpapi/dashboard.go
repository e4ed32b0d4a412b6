package httpapi

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
)

// Workflow is an operator action exposed as a button on the dashboard.
type Workflow struct {
	Name        string
	Description string
	Run         func(ctx context.Context) (string, error)
}

// HealthCheck reports a flat status map, conventionally with a "status" key.
type HealthCheck struct {
	Name        string
	Description string
	Evaluate    func(ctx context.Context) map[string]string
}

var errNoDelivery = errors.New("no delivery received yet")

type Dashboard struct {
	Workflows    []Workflow
	HealthChecks []HealthCheck
}

// DefaultDashboard wires the built-in replay workflow and the queue and
// sync activity checks to this server.
func (s *Server) DefaultDashboard() Dashboard {
	return Dashboard{
		Workflows: []Workflow{
			{
				Name:        "replay-last-delivery",
				Description: "Queue the most recent webhook delivery again",
				Run:         s.replayLastDelivery,
			},
		},
		HealthChecks: []HealthCheck{
			{
				Name:        "delivery-queue",
				Description: "Backlog of webhook deliveries waiting for the sync worker",
				Evaluate:    s.queueHealth,
			},
			{
				Name:        "sync-activity",
				Description: "Entities synced, skipped and failed since start",
				Evaluate:    s.syncActivityHealth,
			},
		},
	}
}

func (s *Server) replayLastDelivery(ctx context.Context) (string, error) {
	last, ok := s.LastDelivery()
	if !ok {
		return "", errNoDelivery
	}
	if !s.queue.Enqueue(ctx, last) {
		return "", fmt.Errorf("replay %s: %w", last.ID, ctx.Err())
	}
	s.logger.InfoContext(ctx, "Replayed webhook delivery",
		"event", "webhook.replayed",
		"delivery_id", last.ID,
		"event_name", last.Event,
	)
	return fmt.Sprintf("Delivery %s queued again", last.ID), nil
}

func (s *Server) queueHealth(context.Context) map[string]string {
	depth, capacity := s.queue.Depth(), s.queue.Capacity()
	status := "ok"
	if capacity > 0 && depth*10 >= capacity*9 {
		status = "degraded"
	}
	return map[string]string{
		"status":   status,
		"depth":    strconv.Itoa(depth),
		"capacity": strconv.Itoa(capacity),
	}
}

func (s *Server) syncActivityHealth(context.Context) map[string]string {
	if s.hub == nil {
		return map[string]string{"status": "unknown"}
	}
	counts := s.hub.Counts()
	status := "ok"
	if counts["error"] > 0 {
		status = "degraded"
	}
	return map[string]string{
		"status":  status,
		"synced":  strconv.Itoa(counts["synced"]),
		"skipped": strconv.Itoa(counts["skipped"]),
		"errors":  strconv.Itoa(counts["error"]),
	}
}

func (s *Server) evaluateChecks(ctx context.Context) map[string]map[string]string {
	out := make(map[string]map[string]string, len(s.dashboard.HealthChecks))
	for _, check := range s.dashboard.HealthChecks {
		out[check.Name] = check.Evaluate(ctx)
	}
	return out
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"updated": s.now().UTC().Format(time.RFC3339),
		"checks":  s.evaluateChecks(r.Context()),
	})
}

func (s *Server) handleRunWorkflow(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	flash := url.Values{}
	var found bool
	for _, wf := range s.dashboard.Workflows {
		if wf.Name != name {
			continue
		}
		found = true
		message, err := wf.Run(r.Context())
		switch {
		case err != nil:
			flash.Set("flash", fmt.Sprintf("Workflow '%s' failed: %v", name, err))
			flash.Set("level", "error")
		case message == "":
			flash.Set("flash", fmt.Sprintf("Workflow '%s' executed.", name))
		default:
			flash.Set("flash", message)
		}
		break
	}
	if !found {
		flash.Set("flash", fmt.Sprintf("Workflow '%s' not found.", name))
		flash.Set("level", "error")
	}
	if s.cfg.AdminToken != "" {
		flash.Set("token", s.cfg.AdminToken)
	}
	http.Redirect(w, r, "/?"+flash.Encode(), http.StatusSeeOther)
}

type indexView struct {
	Flash        string
	FlashLevel   string
	Token        string
	Workflows    []Workflow
	HealthChecks []healthView
	LastUpdated  string
}

type healthView struct {
	Name        string
	Description string
	Status      string
	Details     []detail
}

type detail struct {
	Key   string
	Value string
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	statuses := s.evaluateChecks(r.Context())
	view := indexView{
		Flash:       r.URL.Query().Get("flash"),
		FlashLevel:  r.URL.Query().Get("level"),
		Token:       s.cfg.AdminToken,
		Workflows:   s.dashboard.Workflows,
		LastUpdated: s.now().UTC().Format(time.RFC3339),
	}
	for _, check := range s.dashboard.HealthChecks {
		hv := healthView{Name: check.Name, Description: check.Description}
		for key, value := range statuses[check.Name] {
			if key == "status" {
				hv.Status = value
				continue
			}
			hv.Details = append(hv.Details, detail{Key: key, Value: value})
		}
		sort.Slice(hv.Details, func(i, j int) bool { return hv.Details[i].Key < hv.Details[j].Key })
		view.HealthChecks = append(view.HealthChecks, hv)
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := indexTemplate.Execute(w, view); err != nil {
		s.logger.ErrorContext(r.Context(), "Dashboard render failed", "event", "dashboard.render_error", "error", err.Error())
	}
}

var indexTemplate = template.Must(template.New("index").Parse(`<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1" />
  <title>notionsync</title>
  <style>
    :root { --ink: #102223; --paper: #f8f4ea; --line: #d7cbb3; --accent: #1f9d88; --danger: #c2483f; --muted: #6f7d7d; }
    body { margin: 0; padding: 20px; font-family: "Avenir Next", "Segoe UI", sans-serif; color: var(--ink); background: var(--paper); }
    .shell { max-width: 960px; margin: 0 auto; display: grid; gap: 14px; }
    .card { background: #fffdf9; border: 1px solid var(--line); border-radius: 14px; padding: 16px; }
    .flash { border-left: 4px solid var(--accent); }
    .flash.error { border-left-color: var(--danger); }
    .status-ok { color: var(--accent); }
    .status-degraded, .status-unknown { color: var(--danger); }
    .muted { color: var(--muted); font-size: 0.9rem; }
    button { border: 0; border-radius: 10px; padding: 8px 12px; font-weight: 700; background: var(--accent); color: #fff; cursor: pointer; }
    dl { display: grid; grid-template-columns: max-content 1fr; gap: 4px 12px; margin: 8px 0 0; }
  </style>
</head>
<body>
  <div class="shell">
    <div class="card">
      <h1>GitHub to Notion sync</h1>
      <div class="muted">Updated {{.LastUpdated}}</div>
    </div>
    {{if .Flash}}<div class="card flash {{.FlashLevel}}">{{.Flash}}</div>{{end}}
    <div class="card">
      <h2>Health</h2>
      {{range .HealthChecks}}
      <section>
        <h3>{{.Name}} <span class="status-{{.Status}}">{{.Status}}</span></h3>
        <div class="muted">{{.Description}}</div>
        <dl>{{range .Details}}<dt>{{.Key}}</dt><dd>{{.Value}}</dd>{{end}}</dl>
      </section>
      {{end}}
    </div>
    <div class="card">
      <h2>Workflows</h2>
      {{range .Workflows}}
      <form method="post" action="/workflows/{{.Name}}">
        {{if $.Token}}<input type="hidden" name="token" value="{{$.Token}}" />{{end}}
        <button type="submit">{{.Name}}</button>
        <span class="muted">{{.Description}}</span>
      </form>
      {{end}}
    </div>
  </div>
</body>
</html>
`))
