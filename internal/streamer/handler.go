package streamer

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-chi/chi/v5"
)

// Handler exposes the streaming HTTP surface using go-chi. All stateful work
// is delegated to the Service; the handler only translates HTTP. Request
// counts and errors are recorded by the metrics middleware, session counts by
// the Service.
type Handler struct {
	svc *Service
	log *slog.Logger
}

// NewHandler returns a Handler using the given Service and Logger.
func NewHandler(svc *Service, log *slog.Logger) *Handler {
	return &Handler{svc: svc, log: log}
}

// Routes mounts the handler's endpoints on a chi router.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/stream", h.CreateStream)
	r.Route("/streams/{session_id}", func(r chi.Router) {
		r.Get("/status", h.SessionStatus)
		r.Get("/*", h.ServeSessionFile)
	})
}

type createStreamRequest struct {
	Locator string `json:"locator"`
}

type createStreamResponse struct {
	SessionID   string `json:"sessionId"`
	PlaylistURL string `json:"playlistUrl"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// CreateStream handles POST /stream. Body: { "locator": "magnet:?xt=..." }.
// The response is sent only once the session is active and the playlist is
// about to appear, matching how players expect to poll immediately.
func (h *Handler) CreateStream(w http.ResponseWriter, r *http.Request) {
	var req createStreamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Locator == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "locator is required"})
		return
	}

	result, err := h.svc.Create(r.Context(), req.Locator)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidLocator):
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		default:
			h.log.Error("create session failed", slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		}
		return
	}

	writeJSON(w, http.StatusOK, createStreamResponse{
		SessionID:   string(result.SessionID),
		PlaylistURL: result.PlaylistURL,
	})
}

// ServeSessionFile handles GET /streams/{session_id}/*: the playlist and
// segment files from the session's directory. Every lookup touches the
// session, whether or not the file exists yet: a player polling for a
// playlist that ffmpeg has not written counts as activity.
func (h *Handler) ServeSessionFile(w http.ResponseWriter, r *http.Request) {
	id := SessionID(chi.URLParam(r, "session_id"))
	session, ok := h.svc.Lookup(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "session not found"})
		return
	}

	// Rooted Clean strips any ".." so the path cannot escape the session
	// directory.
	rel := filepath.Clean("/" + chi.URLParam(r, "*"))
	path := filepath.Join(session.Dir, rel)

	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	http.ServeFile(w, r, path)
}

type sessionStatusResponse struct {
	SessionID       string `json:"sessionId"`
	State           string `json:"state"`
	File            string `json:"file,omitempty"`
	DownloadedBytes int64  `json:"downloadedBytes"`
	TotalBytes      int64  `json:"totalBytes"`
	Complete        bool   `json:"complete"`
}

// SessionStatus handles GET /streams/{session_id}/status with a download
// progress snapshot. Counts as activity like any other session access.
func (h *Handler) SessionStatus(w http.ResponseWriter, r *http.Request) {
	id := SessionID(chi.URLParam(r, "session_id"))
	session, ok := h.svc.Lookup(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "session not found"})
		return
	}

	resp := sessionStatusResponse{
		SessionID: string(session.ID),
		State:     string(session.State()),
	}
	if f := session.File(); f != nil {
		resp.File = f.Name()
		resp.DownloadedBytes = f.BytesCompleted()
		resp.TotalBytes = f.Length()
	}
	if dl := session.DownloadHandle(); dl != nil {
		resp.Complete = dl.Complete()
	}

	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
