package app

import (
	"context"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/mozillazg/go-unidecode"
	"github.com/rs/zerolog"
	"golang.org/x/text/unicode/norm"
)

const (
	catalogueCacheTTL  = time.Hour
	catalogueCacheSize = 256
	maxTitleVariants   = 6
)

type CatalogueCandidate struct {
	CatalogueURL string  `json:"catalogueUrl"`
	Slug         string  `json:"slug"`
	MatchedTitle string  `json:"matchedTitle"`
	Score        float64 `json:"score"`
}

// CatalogueResolver retrouve la page catalogue anime-sama d'un titre en sondant des slugs candidats.
type CatalogueResolver struct {
	logger  zerolog.Logger
	baseURL string
	client  *http.Client
	// slug -> URL catalogue, "" pour un slug absent.
	probes *expirable.LRU[string, string]
}

func NewCatalogueResolver(logger zerolog.Logger, baseURL string, client *http.Client) *CatalogueResolver {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultAnimeSamaBaseURL
	}
	if client == nil {
		client = &http.Client{Timeout: 12 * time.Second}
	}
	return &CatalogueResolver{
		logger:  logger,
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		client:  client,
		probes:  expirable.NewLRU[string, string](catalogueCacheSize, nil, catalogueCacheTTL),
	}
}

var (
	reParensContent = regexp.MustCompile(`\([^\)]*\)`)
	reBrackets      = regexp.MustCompile(`\[[^\]]*\]`)
	reSeasonSuffix  = regexp.MustCompile(`(?i)\b(saison|season|cour|part|partie)\s*(\d+)\b`)
	reNthSeason     = regexp.MustCompile(`(?i)\b(\d+)(st|nd|rd|th)\s+season\b`)
	rePossessiveS   = regexp.MustCompile(`([a-z])s-([a-z])`)
	reSplitS        = regexp.MustCompile(`([a-z])-s-([a-z])`)
)

// titleVariants renvoie le titre, puis sans crochets/parenthèses, puis sans suffixe de saison.
func titleVariants(title string) []string {
	t := strings.Join(strings.Fields(title), " ")
	if t == "" {
		return nil
	}
	noBrackets := strings.Join(strings.Fields(reBrackets.ReplaceAllString(reParensContent.ReplaceAllString(t, " "), " ")), " ")
	noSeason := reNthSeason.ReplaceAllString(reSeasonSuffix.ReplaceAllString(noBrackets, " "), " ")
	noSeason = strings.Join(strings.Fields(noSeason), " ")
	return uniqueNonEmpty([]string{t, noBrackets, noSeason}, strings.ToLower)
}

// SlugifyTitle translittère (kana, cyrillique, accents) puis garde [a-z0-9-].
func SlugifyTitle(title string) string {
	s := norm.NFKC.String(strings.TrimSpace(title))
	s = strings.ToLower(unidecode.Unidecode(s))
	var b strings.Builder
	b.Grow(len(s))
	for _, ch := range s {
		switch {
		case ch >= 'a' && ch <= 'z', ch >= '0' && ch <= '9':
			b.WriteRune(ch)
		case ch == '\'':
			// "hell's" -> "hells"
		default:
			b.WriteByte('-')
		}
	}
	return strings.Trim(reHyphens.ReplaceAllString(b.String(), "-"), "-")
}

func slugVariants(slug string) []string {
	base := strings.Trim(slug, "-")
	if base == "" {
		return nil
	}
	return uniqueNonEmpty([]string{
		base,
		rePossessiveS.ReplaceAllString(base, `$1-s-$2`),
		reSplitS.ReplaceAllString(base, `${1}s-$2`),
	}, nil)
}

func uniqueNonEmpty(in []string, key func(string) string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		k := v
		if key != nil {
			k = key(v)
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, v)
		if len(out) >= maxTitleVariants {
			break
		}
	}
	return out
}

// Probe renvoie l'URL catalogue si /catalogue/<slug>/ répond 200.
func (r *CatalogueResolver) Probe(ctx context.Context, slug string) (string, bool) {
	slug = strings.Trim(strings.TrimSpace(slug), "/")
	if slug == "" {
		return "", false
	}
	if u, ok := r.probes.Get(slug); ok {
		return u, u != ""
	}
	target := r.baseURL + "/catalogue/" + slug + "/"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", false
	}
	req.Header.Set("User-Agent", animeSamaUserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "fr,fr-FR;q=0.8,en-US;q=0.5,en;q=0.3")

	resp, err := r.client.Do(req)
	if err != nil {
		// Erreur réseau: pas de mise en cache négative.
		r.logger.Debug().Err(err).Str("slug", slug).Msg("catalogue probe failed")
		return "", false
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		r.probes.Add(slug, "")
		return "", false
	}
	r.probes.Add(slug, target)
	return target, true
}

// Resolve sonde les slugs dérivés de titles (le premier titre est prioritaire) et renvoie au plus limit candidats.
func (r *CatalogueResolver) Resolve(ctx context.Context, titles []string, limit int) []CatalogueCandidate {
	if limit <= 0 {
		limit = 3
	}
	var out []CatalogueCandidate
	tried := map[string]struct{}{}
	for ti, raw := range titles {
		for tv, title := range titleVariants(raw) {
			for vi, slug := range slugVariants(SlugifyTitle(title)) {
				if _, ok := tried[slug]; ok {
					continue
				}
				tried[slug] = struct{}{}
				if ctx.Err() != nil {
					return out
				}
				u, ok := r.Probe(ctx, slug)
				if !ok {
					continue
				}
				out = append(out, CatalogueCandidate{CatalogueURL: u, Slug: slug, MatchedTitle: title, Score: candidateScore(ti, tv, vi)})
				if len(out) >= limit {
					return out
				}
			}
		}
	}
	return out
}

func candidateScore(titleIdx, variantIdx, slugIdx int) float64 {
	score := 0.8
	if titleIdx == 0 {
		score = 1.0
	}
	if variantIdx > 0 {
		score -= 0.05
	}
	if slugIdx > 0 {
		score -= 0.1
	}
	return score
}
