package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Guilhem-Bonnet/streamhub/internal/app"
)

type TMDBHandler struct {
	svc *app.TMDBService
}

func NewTMDBHandler(svc *app.TMDBService) *TMDBHandler {
	return &TMDBHandler{svc: svc}
}

func (h *TMDBHandler) Routes(r chi.Router) {
	r.Get("/tmdb/*", h.get)
}

// get relaie le statut et le corps TMDB tels quels (y compris 4xx).
func (h *TMDBHandler) get(w http.ResponseWriter, r *http.Request) {
	if h.svc == nil {
		notImplemented(w, "tmdb")
		return
	}
	res, err := h.svc.Get(r.Context(), chi.URLParam(r, "*"), r.URL.Query())
	if err != nil {
		writeAppError(w, err)
		return
	}
	w.Header().Set("Content-Type", res.ContentType)
	if res.Cached {
		w.Header().Set("X-Cache", "HIT")
	} else {
		w.Header().Set("X-Cache", "MISS")
	}
	w.WriteHeader(res.Status)
	_, _ = w.Write(res.Body)
}
