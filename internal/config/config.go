package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"
)

// Config est chargée dans l'ordre: valeurs par défaut, fichier YAML optionnel, variables d'environnement.
// Les flags de cmd/streamhub-server passent en dernier.
type Config struct {
	Addr   string `yaml:"addr"`
	DBPath string `yaml:"db_path"`
	// Store: sqlite, redis ou memory.
	Store     string `yaml:"store"`
	RedisAddr string `yaml:"redis_addr"`

	TMDBAPIKey      string `yaml:"tmdb_api_key"`
	TMDBBaseURL     string `yaml:"tmdb_base_url"`
	AniListEndpoint string `yaml:"anilist_endpoint"`
	DownloadBaseURL string `yaml:"download_base_url"`
	AnimeSamaURL    string `yaml:"anime_sama_url"`

	ProviderTimeout    time.Duration `yaml:"provider_timeout"`
	MaxProviderFetches int           `yaml:"max_provider_fetches"`
	// ProxyRate: requêtes/s par IP sur /api/proxy (0 = illimité).
	ProxyRate     float64 `yaml:"proxy_rate"`
	ProxyBurst    int     `yaml:"proxy_burst"`
	ProbeSchedule string  `yaml:"probe_schedule"`

	Log LogConfig `yaml:"log"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	// File active une copie des logs dans un fichier tourné (lumberjack).
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

const (
	StoreSQLite = "sqlite"
	StoreRedis  = "redis"
	StoreMemory = "memory"
)

func defaults() Config {
	return Config{
		Addr:               "127.0.0.1:8080",
		DBPath:             "streamhub.db",
		Store:              StoreSQLite,
		RedisAddr:          "127.0.0.1:6379",
		ProviderTimeout:    8 * time.Second,
		MaxProviderFetches: 16,
		ProxyRate:          20,
		ProxyBurst:         40,
		ProbeSchedule:      "@every 15m",
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  50,
			MaxBackups: 3,
			MaxAgeDays: 14,
			Compress:   true,
		},
	}
}

// Default renvoie les valeurs par défaut surchargées par l'environnement.
func Default() Config {
	cfg := defaults()
	applyEnv(&cfg, os.Getenv)
	return cfg
}

// Load lit un fichier YAML optionnel (path vide = ignoré) puis applique l'environnement.
func Load(path string) (Config, error) {
	cfg := defaults()
	if strings.TrimSpace(path) != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	applyEnv(&cfg, os.Getenv)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Store {
	case StoreSQLite, StoreRedis, StoreMemory:
	default:
		return fmt.Errorf("invalid store %q (sqlite|redis|memory)", c.Store)
	}
	if c.MaxProviderFetches <= 0 {
		return fmt.Errorf("max_provider_fetches must be positive")
	}
	if c.ProxyRate < 0 {
		return fmt.Errorf("proxy_rate must not be negative")
	}
	return nil
}

func applyEnv(c *Config, getenv func(string) string) {
	str := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	str("STREAMHUB_ADDR", &c.Addr)
	str("STREAMHUB_DB_PATH", &c.DBPath)
	str("STREAMHUB_STORE", &c.Store)
	str("STREAMHUB_REDIS_ADDR", &c.RedisAddr)
	str("TMDB_API_KEY", &c.TMDBAPIKey)
	str("TMDB_BASE_URL", &c.TMDBBaseURL)
	str("ANILIST_ENDPOINT", &c.AniListEndpoint)
	str("DOWNLOAD_BASE_URL", &c.DownloadBaseURL)
	str("ANIME_SAMA_URL", &c.AnimeSamaURL)
	str("PROBE_SCHEDULE", &c.ProbeSchedule)
	str("STREAMHUB_LOG_FILE", &c.Log.File)
	str("STREAMHUB_LOG_LEVEL", &c.Log.Level)
	c.Store = strings.ToLower(c.Store)

	// Valeurs numériques invalides: on garde la valeur précédente.
	if v := getenv("PROVIDER_TIMEOUT"); v != "" {
		if d, err := cast.ToDurationE(v); err == nil && d > 0 {
			c.ProviderTimeout = d
		}
	}
	if v := getenv("MAX_PROVIDER_FETCHES"); v != "" {
		if n, err := cast.ToIntE(v); err == nil && n > 0 {
			c.MaxProviderFetches = n
		}
	}
	if v := getenv("PROXY_RATE"); v != "" {
		if f, err := cast.ToFloat64E(v); err == nil && f >= 0 {
			c.ProxyRate = f
		}
	}
}
