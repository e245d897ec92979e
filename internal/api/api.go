// Package api is the HTTP control surface for the lifecycle manager.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/skip2/go-qrcode"

	"holedeck/internal/constants"
	"holedeck/internal/dashboard"
	"holedeck/internal/engine"
	"holedeck/internal/lifecycle"
	"holedeck/internal/security"
)

// StartRequest is the body of POST /api/sessions/{id}/start.
type StartRequest struct {
	Mode   engine.Mode         `json:"mode"`
	Config lifecycle.RawConfig `json:"config"`
}

// StartResponse reports the outcome of a start.
type StartResponse struct {
	Success bool                   `json:"success"`
	Info    *lifecycle.SessionInfo `json:"info,omitempty"`
	Error   string                 `json:"error,omitempty"`
}

// StopResponse reports the outcome of a stop. Stopping an unknown id
// succeeds with Stopped false.
type StopResponse struct {
	Success bool `json:"success"`
	Stopped bool `json:"stopped"`
}

// Handler serves the control API on top of a lifecycle Manager.
type Handler struct {
	Manager *lifecycle.Manager
}

// NewRouter mounts the control API. The event routes are mounted only when
// feed is non-nil.
func NewRouter(m *lifecycle.Manager, feed *dashboard.Feed) http.Handler {
	h := &Handler{Manager: m}

	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(security.SecurityHeaders)

	r.Get(constants.EndpointHealth, h.Health)

	r.Route("/api/sessions", func(r chi.Router) {
		r.Get("/", h.List)
		r.Get("/{id}", h.Get)
		r.Get("/{id}/qr", h.QR)
		r.Post("/{id}/start", h.Start)
		r.Post("/{id}/stop", h.Stop)
	})

	if feed != nil {
		r.Get("/api/events", feed.HandleWebSocket)
		r.Get("/api/events/recent", feed.HandleRecent)
	}

	return r
}

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(chimw.RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(chimw.RequestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": len(h.Manager.Sessions()),
		"version":  constants.Version,
	})
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Manager.Sessions())
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	info, ok := h.Manager.Lookup(chi.URLParam(r, "id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "session not running"})
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req StartRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, constants.MaxConfigBodySize)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, StartResponse{Error: constants.MsgInvalidJSON})
		return
	}

	info, err := h.Manager.Start(r.Context(), id, req.Mode, req.Config)
	if err != nil {
		writeJSON(w, startStatus(err), StartResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, StartResponse{Success: true, Info: info})
}

func startStatus(err error) int {
	var invalid *lifecycle.InvalidConfigError
	var engineErr *lifecycle.EngineStartError
	switch {
	case errors.Is(err, lifecycle.ErrDuplicateSession):
		return http.StatusConflict
	case errors.Is(err, lifecycle.ErrStoppedWhileStarting):
		return http.StatusGone
	case errors.Is(err, lifecycle.ErrManagerClosed):
		return http.StatusServiceUnavailable
	case errors.As(err, &invalid):
		return http.StatusBadRequest
	case errors.As(err, &engineErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) Stop(w http.ResponseWriter, r *http.Request) {
	outcome := h.Manager.Stop(r.Context(), chi.URLParam(r, "id"))
	writeJSON(w, http.StatusOK, StopResponse{Success: true, Stopped: outcome == lifecycle.Stopped})
}

// QR renders the session's connection string as a PNG.
func (h *Handler) QR(w http.ResponseWriter, r *http.Request) {
	info, ok := h.Manager.Lookup(chi.URLParam(r, "id"))
	if !ok || info.URL == "" {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "session not running"})
		return
	}

	png, err := qrcode.Encode(info.URL, qrcode.Medium, 256)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Write(png)
}
