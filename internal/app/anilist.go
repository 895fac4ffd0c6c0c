package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog"
	"github.com/spf13/cast"
)

const (
	DefaultAniListEndpoint = "https://graphql.anilist.co"
	aniListCacheTTL        = 10 * time.Minute
	aniListCacheSize       = 512
	defaultAniListPerPage  = 20
	maxAniListPerPage      = 50
)

const aniListMediaFields = `id idMal
	title{ romaji english native }
	coverImage{ large extraLarge color }
	bannerImage
	format status episodes duration seasonYear season
	averageScore popularity genres`

var aniListQueries = map[string]string{
	"search": `query($page:Int,$perPage:Int,$query:String){
		Page(page:$page, perPage:$perPage){
			pageInfo{ total currentPage lastPage hasNextPage perPage }
			media(search:$query, type:ANIME, sort:SEARCH_MATCH, isAdult:false){ ` + aniListMediaFields + ` }
		}
	}`,
	"popular":   aniListListQuery("POPULARITY_DESC"),
	"trending":  aniListListQuery("TRENDING_DESC"),
	"top-rated": aniListListQuery("SCORE_DESC"),
	"info": `query($id:Int){
		Media(id:$id, type:ANIME){
			` + aniListMediaFields + `
			description(asHtml:false)
			startDate{ year month day } endDate{ year month day }
			studios(isMain:true){ nodes{ id name } }
			nextAiringEpisode{ episode airingAt timeUntilAiring }
			trailer{ id site thumbnail }
			relations{ edges{ relationType node{ id type format title{ romaji english } coverImage{ large } } } }
			recommendations(perPage:10){ nodes{ mediaRecommendation{ id title{ romaji english } coverImage{ large } averageScore } } }
		}
	}`,
	"episodes": `query($id:Int){
		Media(id:$id, type:ANIME){
			id episodes status
			nextAiringEpisode{ episode airingAt }
			streamingEpisodes{ title thumbnail url site }
		}
	}`,
	"external-ids": `query($id:Int){
		Media(id:$id, type:ANIME){
			id idMal
			title{ romaji english native }
			externalLinks{ id site url type }
		}
	}`,
}

// Requête réduite utilisée quand la requête "info" complète échoue.
const aniListInfoFallbackQuery = `query($id:Int){
	Media(id:$id, type:ANIME){
		id title{ romaji english native } coverImage{ large } description episodes status genres averageScore
	}
}`

func aniListListQuery(sort string) string {
	return `query($page:Int,$perPage:Int){
		Page(page:$page, perPage:$perPage){
			pageInfo{ total currentPage lastPage hasNextPage perPage }
			media(type:ANIME, sort:` + sort + `, isAdult:false){ ` + aniListMediaFields + ` }
		}
	}`
}

// AniListOperations liste les opérations exposées sous /api/anilist/{op}.
func AniListOperations() []string {
	return []string{"search", "popular", "trending", "top-rated", "info", "episodes", "external-ids"}
}

func aniListNeedsID(op string) bool {
	return op == "info" || op == "episodes" || op == "external-ids"
}

type AniListService struct {
	logger   zerolog.Logger
	endpoint string
	client   *http.Client
	cache    *expirable.LRU[string, json.RawMessage]
}

func NewAniListService(logger zerolog.Logger) *AniListService {
	return &AniListService{
		logger:   logger,
		endpoint: DefaultAniListEndpoint,
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
		cache: expirable.NewLRU[string, json.RawMessage](aniListCacheSize, nil, aniListCacheTTL),
	}
}

func (s *AniListService) WithEndpoint(endpoint string) *AniListService {
	if strings.TrimSpace(endpoint) != "" {
		s.endpoint = strings.TrimSpace(endpoint)
	}
	return s
}

type aniListGraphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type aniListGraphQLError struct {
	Message string `json:"message"`
	Status  int    `json:"status,omitempty"`
}

type aniListGraphQLResponse struct {
	Data   json.RawMessage       `json:"data"`
	Errors []aniListGraphQLError `json:"errors,omitempty"`
}

// AniListVariables convertit les paramètres REST (chemin + query string) en variables GraphQL.
func AniListVariables(op string, params map[string]any) (map[string]any, error) {
	vars := map[string]any{}
	if aniListNeedsID(op) {
		id, err := ParamInt(params["id"])
		if err != nil || id <= 0 {
			return nil, &CodedError{Code: "invalid_params", Message: "id must be a positive integer"}
		}
		vars["id"] = id
		return vars, nil
	}

	page, err := ParamInt(params["page"])
	if err != nil {
		return nil, &CodedError{Code: "invalid_params", Message: "page must be an integer"}
	}
	if page <= 0 {
		page = 1
	}
	perPage, err := ParamInt(params["perPage"])
	if err != nil {
		return nil, &CodedError{Code: "invalid_params", Message: "perPage must be an integer"}
	}
	if perPage <= 0 {
		perPage = defaultAniListPerPage
	}
	vars["page"] = page
	vars["perPage"] = min(perPage, maxAniListPerPage)

	if op == "search" {
		q := strings.TrimSpace(cast.ToString(params["query"]))
		if q == "" {
			return nil, &CodedError{Code: "invalid_params", Message: "query is required"}
		}
		vars["query"] = q
	}
	return vars, nil
}

// Run exécute une opération nommée et renvoie le champ "data" de la réponse GraphQL.
func (s *AniListService) Run(ctx context.Context, op string, params map[string]any) (json.RawMessage, error) {
	op = strings.ToLower(strings.TrimSpace(op))
	query, ok := aniListQueries[op]
	if !ok {
		return nil, ErrUnknownOperation
	}
	vars, err := AniListVariables(op, params)
	if err != nil {
		return nil, err
	}

	key := cacheKey(op, vars)
	if v, ok := s.cache.Get(key); ok {
		return v, nil
	}

	data, err := s.do(ctx, aniListGraphQLRequest{Query: query, Variables: vars})
	if err != nil && op == "info" {
		s.logger.Warn().Err(err).Interface("id", vars["id"]).Msg("anilist info failed, trying reduced query")
		data, err = s.do(ctx, aniListGraphQLRequest{Query: aniListInfoFallbackQuery, Variables: vars})
		if err != nil {
			s.logger.Warn().Err(err).Interface("id", vars["id"]).Msg("anilist reduced info failed, using placeholder")
			// Placeholder non mis en cache: la prochaine requête retentera AniList.
			return aniListPlaceholder(cast.ToInt(vars["id"])), nil
		}
	}
	if err != nil {
		return nil, err
	}
	s.cache.Add(key, data)
	return data, nil
}

func aniListPlaceholder(id int) json.RawMessage {
	b, _ := json.Marshal(map[string]any{
		"Media": map[string]any{
			"id":          id,
			"title":       map[string]string{"romaji": "Information unavailable", "english": "Information unavailable"},
			"description": "Information unavailable",
			"coverImage":  map[string]any{"large": nil},
			"genres":      []string{},
			"episodes":    nil,
			"status":      nil,
			"placeholder": true,
		},
	})
	return b
}

func cacheKey(op string, vars map[string]any) string {
	b, _ := json.Marshal(vars)
	return op + "|" + string(b)
}

func (s *AniListService) do(ctx context.Context, req aniListGraphQLRequest) (json.RawMessage, error) {
	b, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", "streamhub")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, errors.New("anilist http error: " + resp.Status)
	}

	var out aniListGraphQLResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxProviderPayload)).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode anilist response: %w", err)
	}
	if len(out.Errors) > 0 {
		return nil, errors.New(out.Errors[0].Message)
	}
	if len(out.Data) == 0 || string(out.Data) == "null" {
		return nil, errors.New("anilist returned no data")
	}
	return out.Data, nil
}
