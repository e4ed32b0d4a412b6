package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/pr-cybr/notionsync/internal/delivery"
	"github.com/pr-cybr/notionsync/internal/logging"
)

const defaultMaxBodyBytes = 1 << 20

type ServerConfig struct {
	// WebhookSecret enables X-Hub-Signature-256 verification when set.
	WebhookSecret string
	// AdminToken guards the dashboard, workflows, admin and stream routes
	// when set.
	AdminToken    string
	MaxBodyBytes  int64
}

type Options struct {
	Config ServerConfig
	Queue  delivery.Queue
	Ledger delivery.Ledger
	Hub    *logging.Hub
	Logger *slog.Logger
	// Dashboard replaces the default workflows and health checks.
	Dashboard *Dashboard
	Now       func() time.Time
}

type Server struct {
	cfg       ServerConfig
	queue     delivery.Queue
	ledger    delivery.Ledger
	hub       *logging.Hub
	logger    *slog.Logger
	dashboard Dashboard
	now       func() time.Time
	router    chi.Router

	lastMu       sync.Mutex
	lastDelivery *delivery.Delivery
}

func NewServer(opts Options) (*Server, error) {
	if opts.Queue == nil || opts.Ledger == nil {
		return nil, delivery.ErrInvalidInput
	}
	cfg := opts.Config
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	s := &Server{
		cfg:    cfg,
		queue:  opts.Queue,
		ledger: opts.Ledger,
		hub:    opts.Hub,
		logger: logger,
		now:    now,
	}
	if opts.Dashboard != nil {
		s.dashboard = *opts.Dashboard
	} else {
		s.dashboard = s.DefaultDashboard()
	}
	s.router = s.routes()
	return s, nil
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Post("/webhooks/github", s.handleGitHubWebhook)

	r.Group(func(r chi.Router) {
		r.Use(s.requireAdmin)
		r.Get("/", s.handleIndex)
		r.With(http.NewCrossOriginProtection().Handler).Post("/workflows/{name}", s.handleRunWorkflow)
		r.Get("/v1/admin/deliveries", s.handleAdminDeliveries)
		r.Get("/v1/events/stream", s.handleEventStream)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", "route not found", getCorrelationID(r))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed", getCorrelationID(r))
	})
	return r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleGitHubWebhook(w http.ResponseWriter, r *http.Request) {
	correlationID := getCorrelationID(r)
	body, ok := s.readRequestBody(w, r, correlationID)
	if !ok {
		return
	}
	if s.cfg.WebhookSecret != "" {
		if authErr := verifyGitHubSignature(s.cfg.WebhookSecret, r.Header.Get("X-Hub-Signature-256"), body); authErr != nil {
			s.logger.WarnContext(r.Context(), "Rejected webhook with bad signature",
				"event", "webhook.unauthorized",
				"correlation_id", correlationID,
				"error", authErr.message,
			)
			writeError(w, authErr.status, authErr.code, authErr.message, correlationID)
			return
		}
	}

	eventName := strings.TrimSpace(r.Header.Get("X-GitHub-Event"))
	if eventName == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "missing X-GitHub-Event header", correlationID)
		return
	}
	if eventName == "ping" {
		writeJSON(w, http.StatusOK, map[string]string{"status": "pong"})
		return
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil || fields == nil {
		writeError(w, http.StatusBadRequest, "bad_request", "body must be a JSON object", correlationID)
		return
	}

	id := strings.TrimSpace(r.Header.Get("X-GitHub-Delivery"))
	if id == "" {
		id = uuid.NewString()
	}
	duplicate, err := s.ledger.MarkSeen(r.Context(), id)
	if err != nil {
		s.logger.ErrorContext(r.Context(), "Delivery ledger unavailable",
			"event", "webhook.ledger_error",
			"delivery_id", id,
			"error", err.Error(),
		)
		writeError(w, http.StatusInternalServerError, "internal_error", "delivery ledger unavailable", id)
		return
	}
	if duplicate {
		s.logger.InfoContext(r.Context(), "Ignoring redelivered webhook",
			"event", "webhook.duplicate",
			"delivery_id", id,
			"event_name", eventName,
		)
		writeJSON(w, http.StatusOK, map[string]string{"status": "duplicate", "id": id})
		return
	}

	d := delivery.Delivery{
		ID:         id,
		Event:      eventName,
		ReceivedAt: s.now().UTC(),
		Payload:    json.RawMessage(bytes.Clone(body)),
	}
	if !s.queue.TryEnqueue(d) {
		// Let GitHub's retry of this delivery through once there is room.
		_ = s.ledger.Forget(r.Context(), id)
		s.logger.WarnContext(r.Context(), "Delivery queue full",
			"event", "webhook.queue_full",
			"delivery_id", id,
			"event_name", eventName,
		)
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusTooManyRequests, "queue_full", delivery.ErrQueueFull.Error(), id)
		return
	}
	s.rememberDelivery(d)
	s.logger.InfoContext(r.Context(), "Queued webhook delivery",
		"event", "webhook.queued",
		"delivery_id", id,
		"event_name", eventName,
		"queue_depth", s.queue.Depth(),
	)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued", "id": id})
}

type deliveryStatus struct {
	Queue struct {
		Depth    int      `json:"depth"`
		Capacity int      `json:"capacity"`
		Pending  []string `json:"pending,omitempty"`
	} `json:"queue"`
	Ledger struct {
		Size  int    `json:"size"`
		Error string `json:"error,omitempty"`
	} `json:"ledger"`
	LastDelivery *lastDeliveryStatus `json:"lastDelivery,omitempty"`
}

type lastDeliveryStatus struct {
	ID         string    `json:"id"`
	Event      string    `json:"event"`
	ReceivedAt time.Time `json:"receivedAt"`
}

func (s *Server) handleAdminDeliveries(w http.ResponseWriter, r *http.Request) {
	var status deliveryStatus
	status.Queue.Depth = s.queue.Depth()
	status.Queue.Capacity = s.queue.Capacity()
	if snap, ok := s.queue.(delivery.Snapshotter); ok {
		for _, d := range snap.Snapshot() {
			status.Queue.Pending = append(status.Queue.Pending, d.ID)
		}
	}
	size, err := s.ledger.Size(r.Context())
	status.Ledger.Size = size
	if err != nil {
		status.Ledger.Error = err.Error()
	}
	if last, ok := s.LastDelivery(); ok {
		status.LastDelivery = &lastDeliveryStatus{ID: last.ID, Event: last.Event, ReceivedAt: last.ReceivedAt}
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) rememberDelivery(d delivery.Delivery) {
	s.lastMu.Lock()
	defer s.lastMu.Unlock()
	s.lastDelivery = &d
}

// LastDelivery is the most recently queued delivery since start.
func (s *Server) LastDelivery() (delivery.Delivery, bool) {
	s.lastMu.Lock()
	defer s.lastMu.Unlock()
	if s.lastDelivery == nil {
		return delivery.Delivery{}, false
	}
	return *s.lastDelivery, true
}

func getCorrelationID(r *http.Request) string {
	if id := r.Header.Get("X-Correlation-Id"); id != "" {
		return id
	}
	return r.Header.Get("X-GitHub-Delivery")
}

func (s *Server) readRequestBody(w http.ResponseWriter, r *http.Request, correlationID string) ([]byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "request body exceeds configured limit", correlationID)
			return nil, false
		}
		writeError(w, http.StatusBadRequest, "bad_request", "failed to read request body", correlationID)
		return nil, false
	}
	return body, true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message, correlationID string) {
	writeJSON(w, status, map[string]any{
		"code":          code,
		"message":       message,
		"correlationId": correlationID,
	})
}
