package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Guilhem-Bonnet/streamhub/internal/app"
	"github.com/Guilhem-Bonnet/streamhub/internal/domain"
	"github.com/Guilhem-Bonnet/streamhub/internal/httpjson"
)

type SessionsHandler struct {
	watches *app.WatchService
}

func NewSessionsHandler(watches *app.WatchService) *SessionsHandler {
	return &SessionsHandler{watches: watches}
}

type openSessionRequest struct {
	Content    domain.Content `json:"content"`
	PosterPath string         `json:"posterPath"`
	Genres     []string       `json:"genres"`
	Rating     float64        `json:"rating"`
	Wait       bool           `json:"wait"`
}

type changeEpisodeRequest struct {
	Season  int  `json:"season"`
	Episode int  `json:"episode"`
	Wait    bool `json:"wait"`
}

// bootstrapFailure garde la session (lecteurs externes utilisables) à côté de l'erreur.
type bootstrapFailure struct {
	Error   string        `json:"error"`
	Code    string        `json:"code"`
	Session app.WatchView `json:"session"`
}

func (h *SessionsHandler) Routes(r chi.Router) {
	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", h.open)
		r.Get("/{id}", h.get)
		r.Delete("/{id}", h.close)
		r.Get("/{id}/wait", h.wait)
		r.Post("/{id}/select", h.selectSource)
		r.Post("/{id}/episode", h.changeEpisode)
	})
}

func (h *SessionsHandler) open(w http.ResponseWriter, r *http.Request) {
	var req openSessionRequest
	if err := httpjson.Decode(r, &req); err != nil {
		httpjson.WriteError(w, http.StatusBadRequest, "invalid json")
		return
	}
	view, err := h.watches.Open(r.Context(), clientID(r), app.OpenRequest{
		Content:    req.Content,
		PosterPath: req.PosterPath,
		Genres:     req.Genres,
		Rating:     req.Rating,
		Wait:       req.Wait,
	})
	h.respond(w, http.StatusCreated, view, err)
}

func (h *SessionsHandler) get(w http.ResponseWriter, r *http.Request) {
	view, err := h.watches.Get(clientID(r), chi.URLParam(r, "id"))
	h.respond(w, http.StatusOK, view, err)
}

func (h *SessionsHandler) wait(w http.ResponseWriter, r *http.Request) {
	view, err := h.watches.Wait(r.Context(), clientID(r), chi.URLParam(r, "id"))
	h.respond(w, http.StatusOK, view, err)
}

func (h *SessionsHandler) selectSource(w http.ResponseWriter, r *http.Request) {
	var req app.SelectRequest
	if err := httpjson.Decode(r, &req); err != nil {
		httpjson.WriteError(w, http.StatusBadRequest, "invalid json")
		return
	}
	view, err := h.watches.Select(r.Context(), clientID(r), chi.URLParam(r, "id"), req)
	h.respond(w, http.StatusOK, view, err)
}

func (h *SessionsHandler) changeEpisode(w http.ResponseWriter, r *http.Request) {
	var req changeEpisodeRequest
	if err := httpjson.Decode(r, &req); err != nil {
		httpjson.WriteError(w, http.StatusBadRequest, "invalid json")
		return
	}
	view, err := h.watches.ChangeEpisode(r.Context(), clientID(r), chi.URLParam(r, "id"), req.Season, req.Episode, req.Wait)
	h.respond(w, http.StatusOK, view, err)
}

func (h *SessionsHandler) close(w http.ResponseWriter, r *http.Request) {
	if err := h.watches.Close(clientID(r), chi.URLParam(r, "id")); err != nil {
		writeAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *SessionsHandler) respond(w http.ResponseWriter, status int, view app.WatchView, err error) {
	switch {
	case err == nil:
		httpjson.Write(w, status, view)
	case app.IsBootstrapFailure(err) && view.ID != "":
		httpjson.Write(w, http.StatusBadGateway, bootstrapFailure{Error: err.Error(), Code: "bootstrap_failed", Session: view})
	default:
		writeAppError(w, err)
	}
}
