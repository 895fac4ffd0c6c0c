package httpapi

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/Guilhem-Bonnet/streamhub/internal/app"
	"github.com/Guilhem-Bonnet/streamhub/internal/httpjson"
)

type AnimeHandler struct {
	src *app.AnimeSamaSource
}

func NewAnimeHandler(src *app.AnimeSamaSource) *AnimeHandler {
	return &AnimeHandler{src: src}
}

type animeResolveRequest struct {
	Titles        []string `json:"titles"`
	MaxCandidates int      `json:"maxCandidates"`
}

type animePlayersResponse struct {
	Catalogue app.CatalogueCandidate `json:"catalogue"`
	Season    int                    `json:"season"`
	Lang      string                 `json:"lang"`
	Players   []app.PlayerInfo       `json:"players"`
}

func (h *AnimeHandler) Routes(r chi.Router) {
	r.Route("/anime", func(r chi.Router) {
		r.Get("/players", h.players)
		r.Post("/resolve", h.resolve)
	})
}

func (h *AnimeHandler) players(w http.ResponseWriter, r *http.Request) {
	if h.src == nil {
		notImplemented(w, "anime-sama")
		return
	}
	q := r.URL.Query()
	season, err := app.ParamInt(q.Get("season"))
	if err != nil {
		httpjson.WriteCodedError(w, http.StatusBadRequest, "invalid_params", "season must be an integer")
		return
	}
	season = max(season, 1)
	lang := strings.ToLower(strings.TrimSpace(q.Get("lang")))
	if lang == "" {
		lang = "vostfr"
	}
	cand, players, err := h.src.Players(r.Context(), q.Get("title"), season, lang)
	if err != nil {
		writeAppError(w, err)
		return
	}
	httpjson.Write(w, http.StatusOK, animePlayersResponse{Catalogue: cand, Season: season, Lang: lang, Players: players})
}

func (h *AnimeHandler) resolve(w http.ResponseWriter, r *http.Request) {
	if h.src == nil {
		notImplemented(w, "anime-sama")
		return
	}
	var req animeResolveRequest
	if err := httpjson.Decode(r, &req); err != nil {
		httpjson.WriteError(w, http.StatusBadRequest, "invalid json")
		return
	}
	titles := make([]string, 0, len(req.Titles))
	for _, t := range req.Titles {
		if t = strings.TrimSpace(t); t != "" {
			titles = append(titles, t)
		}
	}
	if len(titles) == 0 {
		httpjson.WriteError(w, http.StatusBadRequest, "missing titles")
		return
	}
	cands := h.src.Resolve(r.Context(), titles, req.MaxCandidates)
	if cands == nil {
		cands = []app.CatalogueCandidate{}
	}
	httpjson.Write(w, http.StatusOK, map[string]any{"candidates": cands})
}
