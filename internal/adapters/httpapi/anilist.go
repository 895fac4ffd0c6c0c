package httpapi

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Guilhem-Bonnet/streamhub/internal/app"
	"github.com/Guilhem-Bonnet/streamhub/internal/httpjson"
)

type AniListHandler struct {
	svc *app.AniListService
}

func NewAniListHandler(svc *app.AniListService) *AniListHandler {
	return &AniListHandler{svc: svc}
}

func (h *AniListHandler) Routes(r chi.Router) {
	r.Route("/anilist", func(r chi.Router) {
		r.Get("/{op}", h.run)
		r.Get("/{op}/{id}", h.run)
	})
}

// run: /api/anilist/search?query=..., /api/anilist/info/21, /api/anilist/popular?page=2.
func (h *AniListHandler) run(w http.ResponseWriter, r *http.Request) {
	if h.svc == nil {
		notImplemented(w, "anilist")
		return
	}
	params := map[string]any{}
	for k, v := range r.URL.Query() {
		if len(v) > 0 {
			params[k] = v[0]
		}
	}
	if id := chi.URLParam(r, "id"); id != "" {
		params["id"] = id
	}

	data, err := h.svc.Run(r.Context(), chi.URLParam(r, "op"), params)
	switch {
	case err == nil:
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	case errors.Is(err, app.ErrUnknownOperation), app.ErrorCode(err) == "invalid_params":
		writeAppError(w, err)
	default:
		httpjson.WriteError(w, http.StatusBadGateway, err.Error())
	}
}
