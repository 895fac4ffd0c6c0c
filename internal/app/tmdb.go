package app

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog"
)

const (
	DefaultTMDBBaseURL = "https://api.themoviedb.org/3"
	tmdbCacheTTL       = 10 * time.Minute
	tmdbCacheSize      = 1024
)

// TMDBResponse est une réponse TMDB relayée telle quelle.
type TMDBResponse struct {
	Status      int
	ContentType string
	Body        []byte
	Cached      bool
}

// TMDBService relaie /api/tmdb/<path> vers l'API TMDB en injectant la clé côté serveur.
type TMDBService struct {
	logger  zerolog.Logger
	baseURL string
	apiKey  string
	client  *http.Client
	cache   *expirable.LRU[string, TMDBResponse]
}

func NewTMDBService(logger zerolog.Logger, baseURL, apiKey string) *TMDBService {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultTMDBBaseURL
	}
	return &TMDBService{
		logger:  logger,
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:  strings.TrimSpace(apiKey),
		client:  &http.Client{Timeout: 15 * time.Second},
		cache:   expirable.NewLRU[string, TMDBResponse](tmdbCacheSize, nil, tmdbCacheTTL),
	}
}

func (s *TMDBService) Configured() bool { return s != nil && s.apiKey != "" }

// Get relaie une requête GET. Le paramètre api_key éventuellement fourni par le client est remplacé.
func (s *TMDBService) Get(ctx context.Context, path string, query url.Values) (TMDBResponse, error) {
	if !s.Configured() {
		return TMDBResponse{}, ErrTMDBNotConfigured
	}
	path = strings.Trim(strings.TrimSpace(path), "/")
	if path == "" || strings.Contains(path, "..") {
		return TMDBResponse{}, &CodedError{Code: "invalid_params", Message: "invalid tmdb path"}
	}

	q := url.Values{}
	for k, v := range query {
		if strings.EqualFold(k, "api_key") {
			continue
		}
		q[k] = append([]string(nil), v...)
	}
	// Clé de cache sans la clé API.
	key := path + "?" + q.Encode()
	if r, ok := s.cache.Get(key); ok {
		r.Cached = true
		return r, nil
	}

	q.Set("api_key", s.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/"+path+"?"+q.Encode(), nil)
	if err != nil {
		return TMDBResponse{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return TMDBResponse{}, &CodedError{Code: "network_error", Message: "tmdb request failed", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxProviderPayload))
	if err != nil {
		return TMDBResponse{}, &CodedError{Code: "network_error", Message: "tmdb read failed", Err: err}
	}
	out := TMDBResponse{Status: resp.StatusCode, ContentType: resp.Header.Get("Content-Type"), Body: body}
	if out.ContentType == "" {
		out.ContentType = "application/json"
	}
	if resp.StatusCode == http.StatusOK {
		s.cache.Add(key, out)
	} else {
		s.logger.Debug().Int("status", resp.StatusCode).Str("path", path).Msg("tmdb non-200 response")
	}
	return out, nil
}
