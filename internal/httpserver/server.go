package httpserver

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/blackmichael/social-scheduler/internal/config"
	"github.com/blackmichael/social-scheduler/internal/domain"
)

// Option configures optional collaborators of the Server.
type Option func(*Server)

// WithAuth enables the Twitter authorization routes.
func WithAuth(auth *domain.AuthService) Option {
	return func(s *Server) { s.auth = auth }
}

// WithScheduler enables POST /scheduler/run and reports scheduler state on
// the health endpoint.
func WithScheduler(scheduler *domain.Scheduler) Option {
	return func(s *Server) { s.scheduler = scheduler }
}

// WithEvents mounts the live event stream at GET /events.
func WithEvents(h http.Handler) Option {
	return func(s *Server) { s.events = h }
}

// Server is the HTTP API for managing and publishing posts.
type Server struct {
	service    *domain.PublicationService
	auth       *domain.AuthService
	scheduler  *domain.Scheduler
	events     http.Handler
	logger     *slog.Logger
	handler    http.Handler
	httpServer *http.Server
}

// NewServer creates a new HTTP server backed by the publication service.
func NewServer(cfg *config.Config, service *domain.PublicationService, logger *slog.Logger, opts ...Option) *Server {
	s := &Server{
		service: service,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(s)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /posts", s.handleListPosts)
	mux.HandleFunc("POST /posts/add", s.handleAddPost)
	mux.HandleFunc("POST /posts/create", s.handleGeneratePost)
	mux.HandleFunc("GET /posts/{id}", s.handleGetPost)
	mux.HandleFunc("PUT /posts/{id}", s.handleUpdatePost)
	mux.HandleFunc("POST /posts/{id}/tweet", s.handlePublish(domain.PlatformTwitter))
	mux.HandleFunc("POST /posts/{id}/bsky", s.handlePublish(domain.PlatformBluesky))
	mux.HandleFunc("POST /bsky/thread", s.handleThread)
	mux.HandleFunc("POST /bsky/thread/generate", s.handleGenerateThread)
	mux.HandleFunc("GET /auth/twitter", s.handleAuthorize)
	mux.HandleFunc("GET /callback", s.handleCallback)
	mux.HandleFunc("POST /scheduler/run", s.handleRunScheduler)
	if s.events != nil {
		mux.Handle("GET /events", s.events)
	}

	s.handler = withLogging(logger, mux)
	s.httpServer = &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Port),
		Handler:     s.handler,
		ReadTimeout: 10 * time.Second,
		// Threads are delivered inside the request.
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler returns the routed handler including request logging.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start begins listening for HTTP requests. It blocks until the server is
// shut down or an error occurs.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{"status": "ok", "targets": s.service.Targets()}
	if s.scheduler != nil {
		resp["scheduler"] = s.scheduler.State().String()
		resp["schedulerRuns"] = s.scheduler.Runs()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListPosts(w http.ResponseWriter, r *http.Request) {
	limit := domain.RecentPostsLimit
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 || parsed > 100 {
			writeError(w, http.StatusBadRequest, "ValidationError", "limit must be between 1 and 100")
			return
		}
		limit = parsed
	}

	posts, err := s.service.ListRecent(r.Context(), limit)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, posts)
}

type addPostRequest struct {
	Title       string     `json:"title"`
	Content     string     `json:"content"`
	Hashtags    []string   `json:"hashtags"`
	ScheduledAt *time.Time `json:"scheduledAt"`
}

func (s *Server) handleAddPost(w http.ResponseWriter, r *http.Request) {
	var req addPostRequest
	if !s.decode(w, r, &req) {
		return
	}

	post, err := s.service.CreatePost(r.Context(), domain.NewPostInput{
		Title:       req.Title,
		Content:     req.Content,
		Hashtags:    req.Hashtags,
		ScheduledAt: req.ScheduledAt,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	s.logger.Info("post created", "id", post.ID, "scheduled_at", post.ScheduledAt)
	writeJSON(w, http.StatusCreated, post)
}

type generatePostRequest struct {
	Prompt      string     `json:"prompt"`
	ScheduledAt *time.Time `json:"scheduledAt"`
}

func (s *Server) handleGeneratePost(w http.ResponseWriter, r *http.Request) {
	var req generatePostRequest
	if !s.decode(w, r, &req) {
		return
	}

	post, err := s.service.GeneratePost(r.Context(), req.Prompt, req.ScheduledAt)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	s.logger.Info("post generated", "id", post.ID, "title", post.Title)
	writeJSON(w, http.StatusCreated, post)
}

func (s *Server) handleGetPost(w http.ResponseWriter, r *http.Request) {
	post, err := s.service.GetPost(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, post)
}

type updatePostRequest struct {
	Title       *string    `json:"title"`
	Content     *string    `json:"content"`
	Hashtags    *[]string  `json:"hashtags"`
	ScheduledAt *time.Time `json:"scheduledAt"`
}

func (s *Server) handleUpdatePost(w http.ResponseWriter, r *http.Request) {
	var req updatePostRequest
	if !s.decode(w, r, &req) {
		return
	}

	post, err := s.service.UpdatePost(r.Context(), r.PathValue("id"), domain.PostUpdate{
		Title:       req.Title,
		Content:     req.Content,
		Hashtags:    req.Hashtags,
		ScheduledAt: req.ScheduledAt,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, post)
}

func (s *Server) handlePublish(platform domain.Platform) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		result, err := s.service.PublishNow(r.Context(), domain.PublishRequest{
			PostID:      id,
			Platform:    platform,
			BearerToken: bearerToken(r),
		})
		if err != nil {
			// Parts of a thread may already be live; report how far it got.
			if result != nil && result.Thread != nil {
				s.writeThreadError(w, r, *result.Thread, err)
				return
			}
			s.writeServiceError(w, r, err)
			return
		}

		s.logger.Info("post published", "id", id, "platform", platform)
		writeJSON(w, http.StatusOK, result)
	}
}

type threadRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleThread(w http.ResponseWriter, r *http.Request) {
	var req threadRequest
	if !s.decode(w, r, &req) {
		return
	}

	result, err := s.service.PublishThread(r.Context(), domain.PlatformBluesky, req.Text)
	if err != nil {
		s.writeThreadError(w, r, result, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type generateThreadRequest struct {
	Subject string `json:"subject"`
}

func (s *Server) handleGenerateThread(w http.ResponseWriter, r *http.Request) {
	var req generateThreadRequest
	if !s.decode(w, r, &req) {
		return
	}

	text, result, err := s.service.GenerateThread(r.Context(), domain.PlatformBluesky, req.Subject)
	if err != nil {
		s.writeThreadError(w, r, result, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"text":   text,
		"thread": result,
	})
}

func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	if s.auth == nil {
		writeError(w, http.StatusServiceUnavailable, "Unavailable", "twitter authorization is not configured")
		return
	}

	url, err := s.auth.Begin(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	http.Redirect(w, r, url, http.StatusFound)
}

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	if s.auth == nil {
		writeError(w, http.StatusServiceUnavailable, "Unavailable", "twitter authorization is not configured")
		return
	}

	q := r.URL.Query()
	if reason := q.Get("error"); reason != "" {
		s.logger.Warn("authorization denied", "reason", reason)
		writeError(w, http.StatusBadRequest, "ValidationError", "authorization denied: "+reason)
		return
	}

	tokens, err := s.auth.Complete(r.Context(), q.Get("state"), q.Get("code"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tokens)
}

func (s *Server) handleRunScheduler(w http.ResponseWriter, r *http.Request) {
	if s.scheduler == nil {
		writeError(w, http.StatusServiceUnavailable, "Unavailable", "scheduler is not configured")
		return
	}

	report, err := s.scheduler.RunOnce(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.logger.Warn("invalid request body", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusBadRequest, "ValidationError", "invalid JSON body")
		return false
	}
	return true
}

func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	kind := domain.ErrorKind(err)
	status := statusFor(kind)
	message := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		message = "internal error"
	} else {
		s.logger.Warn("request rejected", "method", r.Method, "path", r.URL.Path, "kind", kind, "error", err)
	}
	writeError(w, status, kind, message)
}

// writeThreadError reports how far a failed thread got alongside the error.
func (s *Server) writeThreadError(w http.ResponseWriter, r *http.Request, result domain.ThreadResult, err error) {
	kind := domain.ErrorKind(err)
	status := statusFor(kind)
	s.logger.Warn("thread failed",
		"path", r.URL.Path,
		"kind", kind,
		"delivered", result.Delivered,
		"total", result.Total,
		"error", err,
	)
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "internal error"
	}
	writeJSON(w, status, map[string]any{
		"error":     kind,
		"message":   message,
		"delivered": result.Delivered,
		"total":     result.Total,
		"refs":      result.Refs,
	})
}

func statusFor(kind string) int {
	switch kind {
	case "ValidationError":
		return http.StatusBadRequest
	case "Unauthorized", "CredentialsInvalid":
		return http.StatusUnauthorized
	case "NotFound":
		return http.StatusNotFound
	case "DeliveryError":
		return http.StatusBadGateway
	case "Unavailable":
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func bearerToken(r *http.Request) string {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return ""
	}
	return strings.TrimSpace(token)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, errType, message string) {
	writeJSON(w, status, map[string]string{
		"error":   errType,
		"message": message,
	})
}

func withLogging(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.status,
			"duration", time.Since(start),
		)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Hijack lets the websocket upgrader take over the connection.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
