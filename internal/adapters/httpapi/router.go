package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/Guilhem-Bonnet/streamhub/internal/app"
	"github.com/Guilhem-Bonnet/streamhub/internal/domain"
	"github.com/Guilhem-Bonnet/streamhub/internal/ports"
)

// Deps regroupe les services exposés par l'API. Un service nil désactive ses routes (501).
type Deps struct {
	Logger zerolog.Logger

	Download *app.DownloadClient
	TMDB     *app.TMDBService
	AniList  *app.AniListService
	Proxy    *app.ProxyService
	Anime    *app.AnimeSamaSource

	Watches  *app.WatchService
	Cache    *app.ClientCache
	Registry *app.ProviderRegistry
	Settings *app.SettingsService

	// FetchLimiter borne les requêtes provider; SetLimit suit /api/settings.
	FetchLimiter *app.DynamicLimiter
	// ProxyLimiter est le quota par IP de /api/proxy (nil = illimité).
	ProxyLimiter *IPRateLimiter
	// OnSettingsUpdated est optionnel (ex: activer/désactiver anime-sama).
	OnSettingsUpdated func(domain.Settings)

	Bus     ports.EventBus
	Metrics *app.Metrics
}

type Server struct {
	Deps
	logger zerolog.Logger
}

func NewServer(deps Deps) *Server {
	return &Server{Deps: deps, logger: deps.Logger}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(hlog.NewHandler(s.logger))
	r.Use(hlog.RequestIDHandler("request_id", "Request-Id"))
	r.Use(hlog.RemoteAddrHandler("remote_ip"))
	r.Use(hlog.UserAgentHandler("user_agent"))
	r.Use(hlog.AccessHandler(accessLogFn))

	if s.Metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.Metrics.Registry, promhttp.HandlerOpts{}))
	}

	r.Route("/api", func(r chi.Router) {
		// Flux longs: pas de timeout global.
		r.Get("/events", s.handleEvents)
		r.Get("/ws", s.handleWS)
		if s.Proxy != nil {
			r.With(RateLimit(s.ProxyLimiter)).Handle("/proxy", s.Proxy)
		}

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(defaultRequestTimeout))

			r.Get("/health", s.handleHealth)
			r.Get("/version", s.handleVersion)
			r.Get("/openapi.json", s.handleOpenAPI)
			r.Get("/providers", s.handleProviders)

			NewDownloadHandler(s.Download).Routes(r)
			NewTMDBHandler(s.TMDB).Routes(r)
			NewAniListHandler(s.AniList).Routes(r)
			NewAnimeHandler(s.Anime).Routes(r)
			NewStateHandler(s.Cache).Routes(r)
			if s.Watches != nil {
				NewSessionsHandler(s.Watches).Routes(r)
			}
			if s.Settings != nil {
				NewSettingsHandler(s.Settings, s.applySettings).Routes(r)
			}
		})
	})

	return r
}

func (s *Server) applySettings(updated domain.Settings) {
	if s.FetchLimiter != nil {
		s.FetchLimiter.SetLimit(updated.MaxProviderFetches)
	}
	if s.OnSettingsUpdated != nil {
		s.OnSettingsUpdated(updated)
	}
}
