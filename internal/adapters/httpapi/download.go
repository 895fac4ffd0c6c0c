package httpapi

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/Guilhem-Bonnet/streamhub/internal/app"
	"github.com/Guilhem-Bonnet/streamhub/internal/domain"
	"github.com/Guilhem-Bonnet/streamhub/internal/httpjson"
)

type DownloadHandler struct {
	client *app.DownloadClient
}

func NewDownloadHandler(client *app.DownloadClient) *DownloadHandler {
	return &DownloadHandler{client: client}
}

func (h *DownloadHandler) Routes(r chi.Router) {
	r.Route("/download", func(r chi.Router) {
		r.Get("/init", h.init)
		r.Get("/server", h.server)
	})
}

func (h *DownloadHandler) init(w http.ResponseWriter, r *http.Request) {
	if h.client == nil {
		notImplemented(w, "download")
		return
	}
	res, err := h.client.Init(r.Context(), strings.TrimSpace(r.URL.Query().Get("id")))
	if err != nil {
		writeAppError(w, err)
		return
	}
	httpjson.Write(w, http.StatusOK, res)
}

// server renvoie toujours 200: un échec provider est une donnée (success:false, links:[]).
func (h *DownloadHandler) server(w http.ResponseWriter, r *http.Request) {
	if h.client == nil {
		notImplemented(w, "download")
		return
	}
	q := r.URL.Query()
	season, errS := app.ParamInt(q.Get("season"))
	episode, errE := app.ParamInt(q.Get("episode"))
	if errS != nil || errE != nil {
		httpjson.WriteCodedError(w, http.StatusBadRequest, "invalid_params", "season and episode must be integers")
		return
	}
	req := app.ServerRequest{
		ID:        strings.TrimSpace(q.Get("id")),
		Type:      domain.ContentType(strings.TrimSpace(q.Get("type"))),
		Title:     q.Get("title"),
		Server:    strings.TrimSpace(q.Get("server")),
		SecretKey: q.Get("secretKey"),
		Season:    season,
		Episode:   episode,
	}
	if req.ID == "" || req.Server == "" {
		httpjson.WriteCodedError(w, http.StatusBadRequest, "invalid_params", "id and server are required")
		return
	}
	httpjson.Write(w, http.StatusOK, h.client.FetchServer(r.Context(), req))
}
