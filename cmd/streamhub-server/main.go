package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/Guilhem-Bonnet/streamhub/internal/adapters/httpapi"
	"github.com/Guilhem-Bonnet/streamhub/internal/adapters/memorybus"
	"github.com/Guilhem-Bonnet/streamhub/internal/adapters/memstore"
	"github.com/Guilhem-Bonnet/streamhub/internal/adapters/redisstore"
	"github.com/Guilhem-Bonnet/streamhub/internal/adapters/sqlite"
	"github.com/Guilhem-Bonnet/streamhub/internal/app"
	"github.com/Guilhem-Bonnet/streamhub/internal/buildinfo"
	"github.com/Guilhem-Bonnet/streamhub/internal/config"
	"github.com/Guilhem-Bonnet/streamhub/internal/domain"
	"github.com/Guilhem-Bonnet/streamhub/internal/ports"
)

func main() {
	configPath := flag.String("config", os.Getenv("STREAMHUB_CONFIG"), "Fichier YAML optionnel")
	addr := flag.String("addr", "", "Adresse d'écoute (ex: 127.0.0.1:8080)")
	dbPath := flag.String("db", "", "Chemin SQLite (store=sqlite)")
	store := flag.String("store", "", "Stockage: sqlite, redis ou memory")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	if *addr != "" {
		cfg.Addr = *addr
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}
	if *store != "" {
		cfg.Store = *store
		if err := cfg.Validate(); err != nil {
			log.Fatal().Err(err).Msg("invalid configuration")
		}
	}

	logger := newLogger(cfg.Log)
	log.Logger = logger
	logger.Info().Interface("build", buildinfo.Current()).Str("store", cfg.Store).Msg("starting")

	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	kv, closeStore, err := openStore(shutdownCtx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Str("store", cfg.Store).Msg("failed to open store")
	}
	defer closeStore()

	bus := memorybus.New()
	defer bus.Close()
	metrics := app.NewMetrics()
	registry := app.NewProviderRegistry(app.DefaultExternalProviders()...)
	cache := app.NewClientCache(kv, logger)
	settingsSvc := app.NewSettingsService(kv, domain.Settings{MaxProviderFetches: cfg.MaxProviderFetches, AnimeSamaEnabled: true})

	fetchLimiter := app.NewDynamicLimiter(cfg.MaxProviderFetches)
	download := app.NewDownloadClient(logger.With().Str("component", "download").Logger(), cfg.DownloadBaseURL)
	download.ProviderTimeout = cfg.ProviderTimeout
	if cfg.DownloadBaseURL == "" {
		logger.Warn().Msg("DOWNLOAD_BASE_URL not set: only external players will be offered")
	}

	anime := app.NewAnimeSamaSource(logger, cfg.AnimeSamaURL)
	aggregator := app.NewAggregator(logger, fetchLimiter, metrics)
	watches := app.NewWatchService(logger, registry, download, aggregator, cache, bus).
		WithAnimeSource(anime).
		WithMetrics(metrics)
	defer watches.Shutdown()

	applySettings := func(s domain.Settings) {
		watches.SetAnimeSourceEnabled(s.AnimeSamaEnabled)
		logger.Info().Int("maxProviderFetches", s.MaxProviderFetches).Bool("animeSama", s.AnimeSamaEnabled).Msg("settings applied")
	}
	if s, err := settingsSvc.Get(shutdownCtx); err == nil {
		fetchLimiter.SetLimit(s.MaxProviderFetches)
		applySettings(s)
	} else {
		logger.Warn().Err(err).Msg("read settings failed, using defaults")
	}

	tmdb := app.NewTMDBService(logger, cfg.TMDBBaseURL, cfg.TMDBAPIKey)
	anilist := app.NewAniListService(logger)
	if cfg.AniListEndpoint != "" {
		anilist = anilist.WithEndpoint(cfg.AniListEndpoint)
	}

	var proxyLimiter *httpapi.IPRateLimiter
	if cfg.ProxyRate > 0 {
		proxyLimiter = httpapi.NewIPRateLimiter(cfg.ProxyRate, cfg.ProxyBurst)
		defer proxyLimiter.Close()
	}

	prober := app.NewProviderProber(logger, registry, kv, bus, metrics)
	prober.Schedule = cfg.ProbeSchedule
	if n := prober.Restore(shutdownCtx); n > 0 {
		logger.Info().Int("providers", n).Msg("provider status restored")
	}
	go func() {
		if err := prober.Run(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("provider prober stopped")
		}
	}()

	srv := httpapi.NewServer(httpapi.Deps{
		Logger:            logger,
		Download:          download,
		TMDB:              tmdb,
		AniList:           anilist,
		Proxy:             app.NewProxyService(logger, metrics),
		Anime:             anime,
		Watches:           watches,
		Cache:             cache,
		Registry:          registry,
		Settings:          settingsSvc,
		FetchLimiter:      fetchLimiter,
		ProxyLimiter:      proxyLimiter,
		OnSettingsUpdated: applySettings,
		Bus:               bus,
		Metrics:           metrics,
	})
	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.Addr).Msg("listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("http server crashed")
			stop()
		}
	}()

	<-shutdownCtx.Done()
	logger.Info().Msg("shutting down")

	// Les flux SSE/websocket se terminent à la fermeture du bus.
	bus.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(ctx)
	logger.Info().Msg("bye")
}

func newLogger(cfg config.LogConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	var out io.Writer = os.Stdout
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
			log.Warn().Err(err).Str("file", cfg.File).Msg("log directory unavailable, logging to stdout only")
		} else {
			out = io.MultiWriter(os.Stdout, &lumberjack.Logger{
				Filename:   cfg.File,
				MaxSize:    cfg.MaxSizeMB,
				MaxBackups: cfg.MaxBackups,
				MaxAge:     cfg.MaxAgeDays,
				Compress:   cfg.Compress,
			})
		}
	}
	return zerolog.New(out).Level(level).With().Timestamp().Str("app", "streamhub-server").Logger()
}

func openStore(ctx context.Context, cfg config.Config) (ports.KVStore, func(), error) {
	switch cfg.Store {
	case config.StoreRedis:
		s, err := redisstore.Open(ctx, cfg.RedisAddr)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	case config.StoreMemory:
		return memstore.New(), func() {}, nil
	default:
		db, err := sqlite.Open(ctx, cfg.DBPath)
		if err != nil {
			return nil, nil, err
		}
		return sqlite.NewKVRepository(db.SQL), func() { _ = db.Close() }, nil
	}
}
