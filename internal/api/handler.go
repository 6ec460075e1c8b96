// Package api exposes the coordinator to a UI process over HTTP and a
// websocket event stream. Every handler runs its coordinator calls on the
// executor loop.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/sealbox/internal/coordinator"
	"github.com/ashureev/sealbox/internal/engine"
	"github.com/ashureev/sealbox/internal/executor"
	"github.com/ashureev/sealbox/internal/middleware"
	"github.com/ashureev/sealbox/internal/store"
)

// Options configures a Server.
type Options struct {
	Loop        *executor.Loop
	Coordinator *coordinator.Coordinator
	// Token guards every route. Empty disables authentication.
	Token          string
	AllowedOrigins []string
	// Dev accepts websocket connections from any origin.
	Dev    bool
	Logger *slog.Logger
}

// Server serves the UI bridge.
type Server struct {
	loop   *executor.Loop
	coord  *coordinator.Coordinator
	hub    *Hub
	token  string
	cors   []string
	logger *slog.Logger
}

// NewServer creates the bridge and its event hub.
func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		loop:   opts.Loop,
		coord:  opts.Coordinator,
		token:  opts.Token,
		cors:   opts.AllowedOrigins,
		logger: logger,
	}
	s.hub = newHub(s, opts.AllowedOrigins, opts.Dev)
	return s
}

// Hub returns the websocket event hub.
func (s *Server) Hub() *Hub { return s.hub }

// Routes returns the HTTP handler of the bridge.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.CORS(s.cors))
	r.Use(BearerAuth(s.token))

	r.Route("/api", func(r chi.Router) {
		r.Get("/session", s.GetSession)
		r.Post("/session/login", s.Login)
		r.Post("/session/register", s.Register)
		r.Post("/session/logout", s.Logout)
		r.Post("/keys/generate", s.GenerateKeys)
		r.Get("/addresses/{address}/exists", s.AddressExists)

		r.Get("/sync", s.GetSync)
		r.Post("/sync", s.RequestSync)

		r.Get("/conversations", s.ListConversations)
		r.Post("/conversations", s.AddConversation)
		r.Delete("/conversations/{id}", s.RemoveConversation)
		r.Get("/conversations/{id}/messages", s.ListMessages)
		r.Get("/conversations/{id}/draft", s.GetDraft)
		r.Put("/conversations/{id}/draft", s.SaveDraft)
		r.Delete("/conversations/{id}/draft", s.ClearDraft)
		r.Post("/conversations/{id}/draft/send", s.SendDraft)
		r.Post("/conversations/{id}/draft/attachments", s.AddDraftAttachment)
		r.Delete("/conversations/{id}/draft/attachments/{index}", s.RemoveDraftAttachment)
		r.Post("/conversations/{id}/draft/attachments/{index}/save", s.SaveDraftAttachment)

		r.Get("/messages/{id}", s.GetMessage)
		r.Delete("/messages/{id}", s.RemoveMessage)
		r.Post("/messages/{id}/read", s.MarkRead)
		r.Post("/messages/{id}/attachments/{index}/download", s.DownloadAttachment)
		r.Post("/messages/{id}/attachments/{index}/save", s.SaveMessageAttachment)

		r.Get("/settings", s.GetSettings)
		r.Put("/settings", s.UpdateSettings)
		r.Post("/push-token", s.RegisterPushToken)
	})
	r.Get("/ws/events", s.hub.ServeHTTP)

	return r
}

// do runs fn on the executor loop and waits for it.
func (s *Server) do(ctx context.Context, fn func()) error {
	return s.loop.Do(ctx, fn)
}

// await starts an operation on the loop and waits for its completion
// callback.
func (s *Server) await(ctx context.Context, start func(done func(error))) error {
	result := make(chan error, 1)
	if err := s.loop.Do(ctx, func() {
		start(func(err error) { result <- err })
	}); err != nil {
		return err
	}
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// statusFor maps an operation error to an HTTP status.
func statusFor(err error) int {
	var netErr *engine.NetworkError
	var localErr *engine.LocalError
	switch {
	case errors.Is(err, coordinator.ErrNoSession), errors.Is(err, coordinator.ErrNoCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, coordinator.ErrSessionExists), errors.Is(err, coordinator.ErrBusy),
		errors.Is(err, coordinator.ErrSessionClosed):
		return http.StatusConflict
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, executor.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusGatewayTimeout
	case errors.As(err, &netErr):
		switch netErr.Kind {
		case engine.NetworkUnauthorized:
			return http.StatusUnauthorized
		case engine.NetworkForbidden:
			return http.StatusForbidden
		case engine.NetworkProtocol:
			return http.StatusBadRequest
		default:
			return http.StatusBadGateway
		}
	case errors.As(err, &localErr):
		if localErr.Kind == engine.LocalFileTooBig {
			return http.StatusRequestEntityTooLarge
		}
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err with its mapped status and a user-facing message.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("[API] Request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	} else {
		s.logger.Debug("[API] Request rejected", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	}
	Error(w, status, describe(err, status))
}

// describe returns the message shown to the user for err.
func describe(err error, status int) string {
	var netErr *engine.NetworkError
	var localErr *engine.LocalError
	if errors.As(err, &netErr) || errors.As(err, &localErr) || status >= http.StatusInternalServerError {
		return engine.Describe(err)
	}
	return err.Error()
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func timeOrNil(t time.Time, ok bool) *time.Time {
	if !ok {
		return nil
	}
	return &t
}
