package app

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/Guilhem-Bonnet/streamhub/internal/domain"
)

const (
	AnimeSamaServer  = "anime-sama"
	animeSamaPlayers = 3
)

// AnimeSamaSource est un provider agrégé pour le contenu anime: titre -> catalogue -> episodes.js -> embed -> média.
type AnimeSamaSource struct {
	logger    zerolog.Logger
	catalogue *CatalogueResolver
	media     *MediaResolver
	client    *http.Client
	langs     []string
	now       func() time.Time
}

func NewAnimeSamaSource(logger zerolog.Logger, baseURL string) *AnimeSamaSource {
	client := &http.Client{Timeout: 20 * time.Second}
	return &AnimeSamaSource{
		logger:    logger.With().Str("component", "anime-sama").Logger(),
		catalogue: NewCatalogueResolver(logger, baseURL, client),
		media:     NewMediaResolver(client),
		client:    client,
		langs:     []string{"vostfr", "vf"},
		now:       time.Now,
	}
}

func (s *AnimeSamaSource) Name() string { return AnimeSamaServer }

// Resolve renvoie les entrées catalogue candidates pour une liste de titres (romaji, anglais...).
func (s *AnimeSamaSource) Resolve(ctx context.Context, titles []string, limit int) []CatalogueCandidate {
	return s.catalogue.Resolve(ctx, titles, limit)
}

// Players renvoie les lecteurs disponibles pour un titre, une saison et une langue.
func (s *AnimeSamaSource) Players(ctx context.Context, title string, season int, lang string) (CatalogueCandidate, []PlayerInfo, error) {
	cand, table, err := s.lookup(ctx, title, season, lang)
	if err != nil {
		return CatalogueCandidate{}, nil, err
	}
	return cand, table.Info(), nil
}

func (s *AnimeSamaSource) lookup(ctx context.Context, title string, season int, lang string) (CatalogueCandidate, EpisodeTable, error) {
	if strings.TrimSpace(title) == "" {
		return CatalogueCandidate{}, EpisodeTable{}, &CodedError{Code: "invalid_params", Message: "title is required"}
	}
	cands := s.catalogue.Resolve(ctx, []string{title}, 1)
	if len(cands) == 0 {
		return CatalogueCandidate{}, EpisodeTable{}, ErrNotFound
	}
	table, err := FetchEpisodeTable(ctx, s.client, SeasonURL(cands[0].CatalogueURL, season, lang))
	if err != nil {
		return cands[0], EpisodeTable{}, err
	}
	return cands[0], table, nil
}

// Fetch ne lève jamais d'erreur: tout échec donne un résultat vide, comme un serveur du backend.
func (s *AnimeSamaSource) Fetch(ctx context.Context, req ServerRequest) ServerResult {
	if req.Type != domain.ContentAnime {
		return emptyResult(AnimeSamaServer, "not an anime")
	}
	episode := max(req.Episode, 1)

	var sources []Source
	for _, lang := range s.langs {
		_, table, err := s.lookup(ctx, req.Title, req.Season, lang)
		if err != nil {
			s.logger.Debug().Err(err).Str("title", req.Title).Str("lang", lang).Msg("anime-sama lookup failed")
			if ctx.Err() != nil {
				break
			}
			continue
		}
		sources = append(sources, s.resolveEpisode(ctx, table, episode)...)
		if len(sources) > 0 {
			break
		}
	}
	links := ToLinkRecords(AnimeSamaServer, sources, s.now())
	if len(links) == 0 {
		return emptyResult(AnimeSamaServer, "no playable episode")
	}
	domain.SortLinks(links)
	return ServerResult{Success: true, Server: AnimeSamaServer, Links: links, Captions: []domain.Caption{}}
}

// resolveEpisode essaie les meilleurs lecteurs dans l'ordre et garde ceux qui donnent un média direct.
func (s *AnimeSamaSource) resolveEpisode(ctx context.Context, table EpisodeTable, episode int) []Source {
	var out []Source
	for _, player := range table.Names() {
		if len(out) >= animeSamaPlayers || ctx.Err() != nil {
			break
		}
		embed, ok := table.URL(player, episode)
		if !ok {
			continue
		}
		direct, err := s.media.Resolve(ctx, embed)
		if err != nil {
			s.logger.Debug().Err(err).Str("player", player).Msg("embed not resolved")
			continue
		}
		if ClassifyURL(direct) == domain.StreamHLS {
			out = append(out, HlsLink{URL: direct, Quality: "auto", Referer: embed})
		} else {
			out = append(out, Mp4Link{URL: direct, Quality: "auto", Referer: embed})
		}
	}
	return out
}
