package httpapi

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/Guilhem-Bonnet/streamhub/internal/app"
	"github.com/Guilhem-Bonnet/streamhub/internal/domain"
	"github.com/Guilhem-Bonnet/streamhub/internal/httpjson"
)

// StateHandler expose le cache client (préférences, épisodes, historique, watchlist).
type StateHandler struct {
	cache *app.ClientCache
}

func NewStateHandler(cache *app.ClientCache) *StateHandler {
	return &StateHandler{cache: cache}
}

func (h *StateHandler) Routes(r chi.Router) {
	r.Route("/state", func(r chi.Router) {
		r.Use(h.requireCache)
		r.Post("/client", h.newClient)

		r.Get("/preferences/{category}", h.getPreference)
		r.Put("/preferences/{category}", h.putPreference)

		r.Get("/episodes/{type}/{id}", h.getEpisode)
		r.Put("/episodes/{type}/{id}", h.putEpisode)

		r.Get("/history", h.listHistory)
		r.Post("/history", h.addHistory)
		r.Delete("/history", h.clearHistory)
		r.Delete("/history/{type}/{id}", h.removeHistory)

		r.Get("/watchlist", h.listWatchlist)
		r.Get("/watchlist/{id}", h.inWatchlist)
		r.Put("/watchlist/{id}", h.addWatchlist)
		r.Delete("/watchlist/{id}", h.removeWatchlist)

		r.Get("/dev-popup", h.getDevPopup)
		r.Post("/dev-popup", h.markDevPopup)
	})
}

func (h *StateHandler) requireCache(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.cache == nil {
			notImplemented(w, "state")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// newClient attribue un identifiant client à envoyer ensuite dans X-Client-ID.
func (h *StateHandler) newClient(w http.ResponseWriter, r *http.Request) {
	httpjson.Write(w, http.StatusCreated, map[string]string{"clientId": uuid.NewString()})
}

func parseCategory(raw string) (domain.Category, bool) {
	switch domain.Category(strings.ToLower(raw)) {
	case domain.CategoryAnime:
		return domain.CategoryAnime, true
	case domain.CategoryRegular:
		return domain.CategoryRegular, true
	}
	return "", false
}

func (h *StateHandler) getPreference(w http.ResponseWriter, r *http.Request) {
	cat, ok := parseCategory(chi.URLParam(r, "category"))
	if !ok {
		httpjson.WriteError(w, http.StatusBadRequest, "invalid category")
		return
	}
	rec, found, err := h.cache.Preference(r.Context(), clientID(r), cat)
	if err != nil {
		writeAppError(w, err)
		return
	}
	if !found {
		httpjson.WriteError(w, http.StatusNotFound, "no fresh preference")
		return
	}
	httpjson.Write(w, http.StatusOK, rec)
}

func (h *StateHandler) putPreference(w http.ResponseWriter, r *http.Request) {
	cat, ok := parseCategory(chi.URLParam(r, "category"))
	if !ok {
		httpjson.WriteError(w, http.StatusBadRequest, "invalid category")
		return
	}
	var body struct {
		ServerName string `json:"serverName"`
	}
	if err := httpjson.Decode(r, &body); err != nil || strings.TrimSpace(body.ServerName) == "" {
		httpjson.WriteError(w, http.StatusBadRequest, "serverName is required")
		return
	}
	rec, err := h.cache.SetPreference(r.Context(), clientID(r), cat, strings.TrimSpace(body.ServerName))
	if err != nil {
		writeAppError(w, err)
		return
	}
	httpjson.Write(w, http.StatusOK, rec)
}

func contentTypeParam(r *http.Request) (domain.ContentType, bool) {
	t := domain.ContentType(strings.ToLower(chi.URLParam(r, "type")))
	return t, t.Valid()
}

func (h *StateHandler) getEpisode(w http.ResponseWriter, r *http.Request) {
	t, ok := contentTypeParam(r)
	if !ok {
		httpjson.WriteError(w, http.StatusBadRequest, "invalid type")
		return
	}
	pos, found, err := h.cache.Episode(r.Context(), clientID(r), t, chi.URLParam(r, "id"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	if !found {
		httpjson.WriteError(w, http.StatusNotFound, "no fresh episode position")
		return
	}
	httpjson.Write(w, http.StatusOK, pos)
}

func (h *StateHandler) putEpisode(w http.ResponseWriter, r *http.Request) {
	t, ok := contentTypeParam(r)
	if !ok || !t.Episodic() {
		httpjson.WriteError(w, http.StatusBadRequest, "invalid type")
		return
	}
	var body struct {
		Season  int `json:"season"`
		Episode int `json:"episode"`
	}
	if err := httpjson.Decode(r, &body); err != nil || body.Season <= 0 || body.Episode <= 0 {
		httpjson.WriteError(w, http.StatusBadRequest, "season and episode must be positive")
		return
	}
	pos, err := h.cache.SetEpisode(r.Context(), clientID(r), t, chi.URLParam(r, "id"), body.Season, body.Episode)
	if err != nil {
		writeAppError(w, err)
		return
	}
	httpjson.Write(w, http.StatusOK, pos)
}

func (h *StateHandler) listHistory(w http.ResponseWriter, r *http.Request) {
	hist, err := h.cache.History(r.Context(), clientID(r))
	if err != nil {
		writeAppError(w, err)
		return
	}
	httpjson.Write(w, http.StatusOK, hist)
}

func (h *StateHandler) addHistory(w http.ResponseWriter, r *http.Request) {
	var e domain.HistoryEntry
	if err := httpjson.Decode(r, &e); err != nil {
		httpjson.WriteError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if strings.TrimSpace(e.ID) == "" || !e.Type.Valid() {
		httpjson.WriteError(w, http.StatusBadRequest, "id and a valid type are required")
		return
	}
	hist, err := h.cache.AddHistory(r.Context(), clientID(r), e)
	if err != nil {
		writeAppError(w, err)
		return
	}
	httpjson.Write(w, http.StatusOK, hist)
}

func (h *StateHandler) clearHistory(w http.ResponseWriter, r *http.Request) {
	if err := h.cache.ClearHistory(r.Context(), clientID(r)); err != nil {
		writeAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *StateHandler) removeHistory(w http.ResponseWriter, r *http.Request) {
	t, ok := contentTypeParam(r)
	if !ok {
		httpjson.WriteError(w, http.StatusBadRequest, "invalid type")
		return
	}
	hist, err := h.cache.RemoveHistory(r.Context(), clientID(r), chi.URLParam(r, "id"), t)
	if err != nil {
		writeAppError(w, err)
		return
	}
	httpjson.Write(w, http.StatusOK, hist)
}

func (h *StateHandler) listWatchlist(w http.ResponseWriter, r *http.Request) {
	items, err := h.cache.WatchlistItems(r.Context(), clientID(r))
	if err != nil {
		writeAppError(w, err)
		return
	}
	httpjson.Write(w, http.StatusOK, items)
}

func (h *StateHandler) inWatchlist(w http.ResponseWriter, r *http.Request) {
	ok, err := h.cache.InWatchlist(r.Context(), clientID(r), chi.URLParam(r, "id"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	httpjson.Write(w, http.StatusOK, map[string]bool{"inWatchlist": ok})
}

func (h *StateHandler) addWatchlist(w http.ResponseWriter, r *http.Request) {
	var it domain.WatchlistItem
	if err := httpjson.Decode(r, &it); err != nil {
		httpjson.WriteError(w, http.StatusBadRequest, "invalid json")
		return
	}
	it.ID = chi.URLParam(r, "id")
	if !it.Type.Valid() {
		httpjson.WriteError(w, http.StatusBadRequest, "invalid type")
		return
	}
	saved, err := h.cache.AddToWatchlist(r.Context(), clientID(r), it)
	if err != nil {
		writeAppError(w, err)
		return
	}
	httpjson.Write(w, http.StatusOK, saved)
}

func (h *StateHandler) removeWatchlist(w http.ResponseWriter, r *http.Request) {
	if err := h.cache.RemoveFromWatchlist(r.Context(), clientID(r), chi.URLParam(r, "id")); err != nil {
		writeAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *StateHandler) getDevPopup(w http.ResponseWriter, r *http.Request) {
	ts, ok, err := h.cache.DevPopupLastShown(r.Context(), clientID(r))
	if err != nil {
		writeAppError(w, err)
		return
	}
	if !ok {
		httpjson.Write(w, http.StatusOK, map[string]any{"lastShown": nil})
		return
	}
	httpjson.Write(w, http.StatusOK, map[string]any{"lastShown": ts})
}

func (h *StateHandler) markDevPopup(w http.ResponseWriter, r *http.Request) {
	ts, err := h.cache.MarkDevPopupShown(r.Context(), clientID(r))
	if err != nil {
		writeAppError(w, err)
		return
	}
	httpjson.Write(w, http.StatusOK, map[string]any{"lastShown": ts})
}
