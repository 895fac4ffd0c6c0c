package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/hlog"

	"github.com/Guilhem-Bonnet/streamhub/internal/app"
	"github.com/Guilhem-Bonnet/streamhub/internal/buildinfo"
	"github.com/Guilhem-Bonnet/streamhub/internal/domain"
	"github.com/Guilhem-Bonnet/streamhub/internal/httpjson"
	"github.com/Guilhem-Bonnet/streamhub/internal/ports"
)

const (
	defaultRequestTimeout = 30 * time.Second
	clientIDHeader        = "X-Client-ID"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	httpjson.Write(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	httpjson.Write(w, http.StatusOK, buildinfo.Current())
}

type providerView struct {
	domain.ProviderDescriptor
	Supports []domain.ContentType `json:"supports"`
}

type providersResponse struct {
	Externals []providerView `json:"externals"`
	Limiter   *app.LimiterStats           `json:"limiter,omitempty"`
}

// handleProviders liste le registre; ?type=movie|tv|anime filtre les lecteurs compatibles.
func (s *Server) handleProviders(w http.ResponseWriter, r *http.Request) {
	if s.Registry == nil {
		httpjson.WriteError(w, http.StatusNotImplemented, "providers disabled")
		return
	}
	descs := s.Registry.All()
	if t := domain.ContentType(r.URL.Query().Get("type")); t != "" {
		if !t.Valid() {
			httpjson.WriteError(w, http.StatusBadRequest, "invalid type")
			return
		}
		descs = s.Registry.Externals(t)
	}
	out := providersResponse{Externals: make([]providerView, 0, len(descs))}
	for _, d := range descs {
		out.Externals = append(out.Externals, providerView{ProviderDescriptor: d, Supports: d.Supports()})
	}
	if s.FetchLimiter != nil {
		st := s.FetchLimiter.Stats()
		out.Limiter = &st
	}
	httpjson.Write(w, http.StatusOK, out)
}

func accessLogFn(r *http.Request, status, size int, duration time.Duration) {
	logger := hlog.FromRequest(r)
	logger.Info().
		Int("status", status).
		Int("size", size).
		Dur("duration", duration).
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Msg("http")
}

// clientID lit l'identifiant client (en-tête X-Client-ID puis ?client=).
func clientID(r *http.Request) string {
	if v := strings.TrimSpace(r.Header.Get(clientIDHeader)); v != "" {
		return v
	}
	return strings.TrimSpace(r.URL.Query().Get("client"))
}

// writeAppError traduit les erreurs applicatives en statut HTTP.
func writeAppError(w http.ResponseWriter, err error) {
	code := app.ErrorCode(err)
	switch {
	case errors.Is(err, ports.ErrNotFound), errors.Is(err, app.ErrUnknownOperation):
		httpjson.WriteError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ports.ErrConflict), errors.Is(err, domain.ErrInvalidTransition):
		httpjson.WriteError(w, http.StatusConflict, err.Error())
	case errors.Is(err, app.ErrInvalidSelection), code == "invalid_params":
		httpjson.WriteCodedError(w, http.StatusBadRequest, code, err.Error())
	case errors.Is(err, app.ErrTMDBNotConfigured):
		httpjson.WriteError(w, http.StatusServiceUnavailable, err.Error())
	case code == "bootstrap_failed", code == "network_error", code == "http_status":
		httpjson.WriteCodedError(w, http.StatusBadGateway, code, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		httpjson.WriteError(w, http.StatusGatewayTimeout, err.Error())
	default:
		httpjson.WriteError(w, http.StatusInternalServerError, err.Error())
	}
}

func notImplemented(w http.ResponseWriter, what string) {
	httpjson.WriteError(w, http.StatusNotImplemented, what+" disabled")
}
