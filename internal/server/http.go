package server

import (
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/morezero/app-gateway/pkg/commsutil"
	"github.com/morezero/app-gateway/pkg/dispatcher"
)

// HealthOutput is the /health response body.
type HealthOutput struct {
	Status      string          `json:"status"`
	Checks      map[string]bool `json:"checks"`
	Resolutions int             `json:"resolutions"`
	QueueDepth  int             `json:"queueDepth"`
	Timestamp   string          `json:"timestamp"`
}

// ResolutionView is one row of the /resolutions listing.
type ResolutionView struct {
	Method          string `json:"method"`
	Alias           string `json:"alias"`
	Transport       string `json:"transport"`
	PermissionGroup string `json:"permissionGroup,omitempty"`
	Event           string `json:"event,omitempty"`
	IncludeContext  bool   `json:"includeContext"`
	Listeners       int    `json:"listeners,omitempty"`
}

// Handler returns the HTTP admin mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleHome())
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ready", s.handleReady)
	mux.HandleFunc("/resolutions", s.handleResolutions)
	mux.HandleFunc("/listeners", s.handleListeners)
	mux.HandleFunc("/reload", s.handleReload)
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{Registry: s.registry}))
	return mux
}

// Health runs the component checks.
func (s *Server) Health(ctx context.Context) *HealthOutput {
	checks := map[string]bool{
		"resolutions": s.resolver.IsConfigured(),
		"scheduler":   s.scheduler.IsRunning(),
	}
	if s.nc != nil {
		checks["comms"] = commsutil.IsConnected(s.nc)
	}
	if s.db != nil {
		err := s.db.Ping(ctx)
		if err != nil {
			slog.Warn(fmt.Sprintf("%s - database health check failed: %v", logPrefix, err))
		}
		checks["database"] = err == nil
	}

	status := "healthy"
	for _, ok := range checks {
		if !ok {
			status = "unhealthy"
			break
		}
	}
	return &HealthOutput{
		Status:      status,
		Checks:      checks,
		Resolutions: s.resolver.Len(),
		QueueDepth:  s.scheduler.QueueDepth(),
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.HealthCheckTimeout)
	defer cancel()
	h := s.Health(ctx)
	status := http.StatusOK
	if h.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, h)
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if !s.ready.Load() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "starting"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) resolutionViews() []ResolutionView {
	entries := s.resolver.Entries()
	out := make([]ResolutionView, 0, len(entries))
	for _, e := range entries {
		v := ResolutionView{
			Method:          e.Method,
			Alias:           e.Alias,
			Transport:       e.Transport.String(),
			PermissionGroup: e.PermissionGroup,
			Event:           e.Event,
			IncludeContext:  e.IncludeContext,
		}
		if e.IsSubscription() {
			v.Listeners = s.hub.Count(e.Event)
		}
		out = append(out, v)
	}
	return out
}

func (s *Server) handleResolutions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.resolutionViews())
}

func (s *Server) handleListeners(w http.ResponseWriter, r *http.Request) {
	event := r.URL.Query().Get("event")
	if event == "" {
		counts := make(map[string]int)
		for _, e := range s.hub.Events() {
			counts[e] = s.hub.Count(e)
		}
		writeJSON(w, http.StatusOK, counts)
		return
	}
	listeners := s.hub.Listeners(event)
	if listeners == nil {
		listeners = []dispatcher.Listener{}
	}
	writeJSON(w, http.StatusOK, listeners)
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, http.StatusMethodNotAllowed, &dispatcher.ErrorEnvelope{
			Code:    dispatcher.CodeBadRequest,
			Message: "reload requires POST",
		})
		return
	}
	loaded := s.Reload()
	writeJSON(w, http.StatusOK, map[string]int{
		"loaded":      loaded,
		"sources":     len(s.cfg.ResolutionFiles),
		"resolutions": s.resolver.Len(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error(fmt.Sprintf("%s - response encode: %v", logPrefix, err))
	}
}

// homePageTemplate is the HTML for the gateway home page (white bg, black/blue text).
const homePageTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <title>App Gateway</title>
  <style>
    * { box-sizing: border-box; }
    body { background: #fff; color: #000; font-family: system-ui, sans-serif; margin: 0; padding: 2rem; line-height: 1.5; }
    h1, h2 { color: #0066cc; }
    .status-healthy { color: #0066cc; font-weight: bold; }
    .status-unhealthy { color: #cc0000; font-weight: bold; }
    table { border-collapse: collapse; width: 100%; max-width: 1000px; margin-top: 0.5rem; }
    th, td { text-align: left; padding: 0.5rem 0.75rem; border: 1px solid #ccc; }
    th { background: #f0f4f8; color: #0066cc; }
    .stat { font-weight: bold; color: #0066cc; }
    .meta { color: #333; font-size: 0.9rem; margin-top: 1rem; }
    section { margin-bottom: 2rem; }
    .error { color: #cc0000; }
  </style>
</head>
<body>
  <h1>App Gateway</h1>
  <p class="meta">Gateway health and resolution table.</p>

  <section>
    <h2>Health</h2>
    <p>Status: <span class="status-{{.Health.Status}}">{{.Health.Status}}</span></p>
    {{range $name, $ok := .Health.Checks}}
    <p>{{$name}}: {{if $ok}}<span class="stat">OK</span>{{else}}<span class="error">Failed</span>{{end}}</p>
    {{end}}
    <p>Queued registrations: <span class="stat">{{.Health.QueueDepth}}</span></p>
    <p>Timestamp: {{.Health.Timestamp}}</p>
  </section>

  <section>
    <h2>Resolutions</h2>
    {{if not .Resolutions}}
    <p class="error">No resolution source loaded.</p>
    {{else}}
    <p>Total methods: <span class="stat">{{len .Resolutions}}</span></p>
    <table>
      <thead>
        <tr><th>Method</th><th>Service</th><th>Transport</th><th>Permission group</th><th>Event</th><th>Listeners</th></tr>
      </thead>
      <tbody>
        {{range .Resolutions}}
        <tr>
          <td>{{.Method}}</td>
          <td>{{.Alias}}</td>
          <td>{{.Transport}}{{if .IncludeContext}} + context{{end}}</td>
          <td>{{.PermissionGroup}}</td>
          <td>{{.Event}}</td>
          <td>{{if .Event}}{{.Listeners}}{{end}}</td>
        </tr>
        {{end}}
      </tbody>
    </table>
    {{end}}
  </section>
</body>
</html>
`

// homeData is the data passed to the home page template.
type homeData struct {
	Health      *HealthOutput
	Resolutions []ResolutionView
}

// handleHome returns an HTTP handler for the gateway home page.
func (s *Server) handleHome() http.HandlerFunc {
	tmpl := template.Must(template.New("home").Parse(homePageTemplate))
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), s.cfg.HealthCheckTimeout)
		defer cancel()

		data := homeData{Health: s.Health(ctx), Resolutions: s.resolutionViews()}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := tmpl.Execute(w, data); err != nil {
			slog.Error(fmt.Sprintf("%s - home template execute: %v", logPrefix, err))
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
	}
}
