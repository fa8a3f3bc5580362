package http

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aretw0/journey"
	"github.com/aretw0/journey/pkg/domain"
	"github.com/aretw0/journey/pkg/ports"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Engine is the coordinator surface the HTTP adapter drives.
type Engine interface {
	ports.Coordinator
	Watch(ctx context.Context) (<-chan string, error)
}

// Server implements ServerInterface.
type Server struct {
	Engine  Engine
	Streams *StreamManager
	logger  *slog.Logger
}

var _ ServerInterface = (*Server)(nil)

type handlerConfig struct {
	gatherer prometheus.Gatherer
	logger   *slog.Logger
	streams  *StreamManager
}

// HandlerOption configures NewHandler.
type HandlerOption func(*handlerConfig)

// WithMetrics serves the gathered metrics on /metrics.
func WithMetrics(g prometheus.Gatherer) HandlerOption {
	return func(c *handlerConfig) { c.gatherer = g }
}

// WithLogger sets the request logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) HandlerOption {
	return func(c *handlerConfig) { c.logger = l }
}

// WithStreams shares a StreamManager, e.g. with other handlers of the same engine.
func WithStreams(sm *StreamManager) HandlerOption {
	return func(c *handlerConfig) { c.streams = sm }
}

// NewHandler creates a new HTTP handler for the engine.
func NewHandler(engine Engine, opts ...HandlerOption) http.Handler {
	cfg := handlerConfig{logger: slog.Default()}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.streams == nil {
		cfg.streams = NewStreamManager(cfg.logger)
	}

	server := &Server{
		Engine:  engine,
		Streams: cfg.streams,
		logger:  cfg.logger,
	}
	r := chi.NewRouter()

	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		spec, err := rawSpec()
		if err != nil {
			http.Error(w, "Failed to load spec", http.StatusInternalServerError)
			server.logger.Error("Failed to load OpenAPI spec", "err", err)
			return
		}
		w.Write(spec)
	})
	r.Get("/swagger", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(swaggerHTML))
	})
	if cfg.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.gatherer, promhttp.HandlerOpts{}))
	}

	handler := HandlerFromMux(server, r)
	return enableCORS(handler)
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

const swaggerHTML = `
<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="utf-8" />
    <meta name="viewport" content="width=device-width, initial-scale=1" />
    <title>Journey API Documentation</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5.11.0/swagger-ui.css" />
</head>
<body>
<div id="swagger-ui"></div>
<script src="https://unpkg.com/swagger-ui-dist@5.11.0/swagger-ui-bundle.js" crossorigin></script>
<script>
    window.onload = () => {
    window.ui = SwaggerUIBundle({
        url: '/openapi.yaml',
        dom_id: '#swagger-ui',
    });
    };
</script>
</body>
</html>
`

// ResultView is the JSON shape of a domain.Result.
type ResultView struct {
	Progress     domain.Progress            `json:"progress"`
	Responses    map[string]domain.Response `json:"responses"`
	Outcome      domain.Outcome             `json:"outcome,omitempty"`
	Blocking     []string                   `json:"blocking,omitempty"`
	Source       domain.Source              `json:"source"`
	Degraded     bool                       `json:"degraded"`
	DurableError string                     `json:"durable_error,omitempty"`
	CacheError   string                     `json:"cache_error,omitempty"`
}

func newResultView(res domain.Result) ResultView {
	v := ResultView{
		Progress:  res.Progress,
		Responses: res.Responses,
		Outcome:   res.Outcome,
		Blocking:  res.Blocking,
		Source:    res.Source,
		Degraded:  res.Degraded(),
	}
	if v.Responses == nil {
		v.Responses = map[string]domain.Response{}
	}
	if res.Durable != nil {
		v.DurableError = res.Durable.Error()
	}
	if res.Cache != nil {
		v.CacheError = res.Cache.Error()
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("response encode failed", "err", err)
	}
}

// respond writes the result of a session operation and broadcasts its diff.
func (s *Server) respond(w http.ResponseWriter, r *http.Request, op string, key domain.SessionKey, res domain.Result, err error, answered ...string) {
	if err != nil {
		s.fail(w, op, key, err)
		return
	}
	if res.Degraded() {
		s.logger.Warn("operation held by recovery cache only",
			"op", op, "user_id", key.UserID, "playbook_id", key.PlaybookID, "err", res.Durable)
	}
	s.Streams.Publish(key, res.Progress, answered...)
	writeJSON(w, http.StatusOK, newResultView(res))
}

func (s *Server) fail(w http.ResponseWriter, op string, key domain.SessionKey, err error) {
	status, body := errorResponse(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error(op+" failed", "user_id", key.UserID, "playbook_id", key.PlaybookID, "err", err)
	} else {
		s.logger.Debug(op+" rejected", "user_id", key.UserID, "playbook_id", key.PlaybookID, "err", err)
	}
	writeJSON(w, status, body)
}

// GetHealth handles the GET /health request.
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GetInfo handles the GET /info request.
func (s *Server) GetInfo(w http.ResponseWriter, r *http.Request) {
	apiVersion := "unknown"
	if swagger, err := GetSwagger(); err == nil && swagger.Info != nil {
		apiVersion = swagger.Info.Version
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"app":         "journey-http",
		"version":     strings.TrimSpace(journey.Version),
		"api_version": apiVersion,
	})
}

// ListPlaybooks handles the GET /playbooks request.
func (s *Server) ListPlaybooks(w http.ResponseWriter, r *http.Request) {
	playbooks, err := s.Engine.Definitions().ListPlaybooks(r.Context())
	if err != nil {
		s.fail(w, "list playbooks", domain.SessionKey{}, err)
		return
	}
	if playbooks == nil {
		playbooks = []domain.Playbook{}
	}
	writeJSON(w, http.StatusOK, playbooks)
}

// GetPlaybook handles the GET /playbooks/{playbookID} request.
func (s *Server) GetPlaybook(w http.ResponseWriter, r *http.Request, playbookID string) {
	defs := s.Engine.Definitions()
	pb, err := defs.GetPlaybook(r.Context(), playbookID)
	if err != nil {
		s.fail(w, "get playbook", domain.NewSessionKey("", playbookID), err)
		return
	}
	items, err := defs.GetItems(r.Context(), playbookID)
	if err != nil {
		s.fail(w, "get playbook", domain.NewSessionKey("", playbookID), err)
		return
	}
	writeJSON(w, http.StatusOK, domain.Definition{Playbook: pb, Items: items})
}

// GetStatus handles the GET /users/{userID}/playbooks/{playbookID} request.
func (s *Server) GetStatus(w http.ResponseWriter, r *http.Request, userID string, playbookID string) {
	key := domain.NewSessionKey(userID, playbookID)
	res, err := s.Engine.GetStatus(r.Context(), key)
	s.respond(w, r, "status", key, res, err)
}

// ResetPlaybook handles the DELETE /users/{userID}/playbooks/{playbookID} request.
func (s *Server) ResetPlaybook(w http.ResponseWriter, r *http.Request, userID string, playbookID string) {
	key := domain.NewSessionKey(userID, playbookID)
	res, err := s.Engine.ResetPlaybook(r.Context(), key)
	s.respond(w, r, "reset", key, res, err)
}

// StartPlaybook handles the POST .../start request. The body is optional.
func (s *Server) StartPlaybook(w http.ResponseWriter, r *http.Request, userID string, playbookID string) {
	var body StartPlaybookJSONRequestBody
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("invalid request body: %w", err))
			return
		}
	}
	key := domain.NewSessionKey(userID, playbookID)
	res, err := s.Engine.StartPlaybook(r.Context(), key, body.ExternalRef)
	s.respond(w, r, "start", key, res, err)
}

// SaveResponse handles the PUT .../responses/{itemID} request.
func (s *Server) SaveResponse(w http.ResponseWriter, r *http.Request, userID string, playbookID string, itemID string) {
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	var payload map[string]any
	if err := dec.Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("invalid request body: %w", err))
		return
	}
	key := domain.NewSessionKey(userID, playbookID)
	res, err := s.Engine.SaveItemResponse(r.Context(), key, itemID, payload)
	s.respond(w, r, "respond", key, res, err, itemID)
}

// MoveNext handles the POST .../next request.
func (s *Server) MoveNext(w http.ResponseWriter, r *http.Request, userID string, playbookID string) {
	key := domain.NewSessionKey(userID, playbookID)
	res, err := s.Engine.MoveNext(r.Context(), key)
	s.respond(w, r, "next", key, res, err)
}

// MovePrevious handles the POST .../previous request.
func (s *Server) MovePrevious(w http.ResponseWriter, r *http.Request, userID string, playbookID string) {
	key := domain.NewSessionKey(userID, playbookID)
	res, err := s.Engine.MovePrevious(r.Context(), key)
	s.respond(w, r, "previous", key, res, err)
}

// JumpTo handles the POST .../jump/{index} request.
func (s *Server) JumpTo(w http.ResponseWriter, r *http.Request, userID string, playbookID string, index int) {
	key := domain.NewSessionKey(userID, playbookID)
	res, err := s.Engine.JumpTo(r.Context(), key, index)
	s.respond(w, r, "jump", key, res, err)
}

// AbandonPlaybook handles the POST .../abandon request.
func (s *Server) AbandonPlaybook(w http.ResponseWriter, r *http.Request, userID string, playbookID string) {
	key := domain.NewSessionKey(userID, playbookID)
	res, err := s.Engine.AbandonPlaybook(r.Context(), key)
	s.respond(w, r, "abandon", key, res, err)
}

// ResolveConflict handles the POST .../resolve?keep= request.
func (s *Server) ResolveConflict(w http.ResponseWriter, r *http.Request, userID string, playbookID string, params ResolveConflictParams) {
	keep, err := domain.ParseResolution(params.Keep)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	key := domain.NewSessionKey(userID, playbookID)
	res, err := s.Engine.ResolveConflict(r.Context(), key, keep)
	s.respond(w, r, "resolve", key, res, err)
}

// SubscribeEvents handles the GET /events request (SSE).
func (s *Server) SubscribeEvents(w http.ResponseWriter, r *http.Request, params SubscribeEventsParams) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		s.logger.Error("SubscribeEvents: Streaming not supported")
		return
	}

	// Without a session the stream carries definition reloads.
	if params.UserId == nil || params.PlaybookId == nil {
		events, err := s.Engine.Watch(r.Context())
		if err != nil {
			http.Error(w, fmt.Sprintf("Watch error: %v", err), http.StatusInternalServerError)
			return
		}
		s.logger.Info("SSE: Subscribing to definition reloads")
		sseHeaders(w)
		fmt.Fprintf(w, "event: ping\ndata: connected\n\n")
		flusher.Flush()

		for {
			select {
			case <-r.Context().Done():
				return
			case event, ok := <-events:
				if !ok {
					return
				}
				fmt.Fprintf(w, "event: reload\ndata: %s\n\n", event)
				flusher.Flush()
			}
		}
	}

	key := domain.NewSessionKey(*params.UserId, *params.PlaybookId)
	s.logger.Info("SSE: Subscribing to session updates", "user_id", key.UserID, "playbook_id", key.PlaybookID)

	ch, cancel := s.Streams.Subscribe(key)
	defer cancel()

	sseHeaders(w)
	fmt.Fprintf(w, "event: ping\ndata: connected\n\n")
	flusher.Flush()

	var watch []string
	if params.Watch != nil {
		watch = strings.Split(*params.Watch, ",")
	}

	for {
		select {
		case <-r.Context().Done():
			s.logger.Info("SSE client disconnected", "user_id", key.UserID, "playbook_id", key.PlaybookID)
			return
		case diff, ok := <-ch:
			if !ok {
				return
			}
			if !matchesWatch(diff, watch) {
				continue
			}
			data, err := json.Marshal(diff)
			if err != nil {
				s.logger.Error("SSE: diff encode failed", "err", err)
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}

func sseHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
}

// matchesWatch reports whether diff touches one of the watched fields.
// An empty filter matches everything.
func matchesWatch(diff *domain.ProgressDiff, watch []string) bool {
	if len(watch) == 0 {
		return true
	}
	for _, field := range watch {
		switch strings.TrimSpace(field) {
		case "status":
			if diff.Status != nil {
				return true
			}
		case "index":
			if diff.CurrentIndex != nil || diff.FrontierIndex != nil {
				return true
			}
		case "answers":
			if len(diff.Answered) > 0 {
				return true
			}
		}
	}
	return false
}
