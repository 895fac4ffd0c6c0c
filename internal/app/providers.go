package app

import (
	"strconv"
	"strings"
	"sync"

	"github.com/Guilhem-Bonnet/streamhub/internal/domain"
)

// DefaultExternalProviders: lecteurs embarqués toujours proposés, dans l'ordre d'affichage.
func DefaultExternalProviders() []domain.ProviderDescriptor {
	return []domain.ProviderDescriptor{
		{
			Name: "VidSrc", Kind: domain.ProviderExternal, Recommended: true, Flag: "us", Working: true,
			MovieTemplate: "https://vidsrc.cc/v2/embed/movie/{id}",
			TVTemplate:    "https://vidsrc.cc/v2/embed/tv/{id}/{season}/{episode}",
			AnimeTemplate: "https://vidsrc.cc/v2/embed/anime/{id}/{episode}/sub",
		},
		{
			Name: "VidLink", Kind: domain.ProviderExternal, Recommended: true, Flag: "us", Working: true,
			MovieTemplate: "https://vidlink.pro/movie/{id}",
			TVTemplate:    "https://vidlink.pro/tv/{id}/{season}/{episode}",
		},
		{
			Name: "Embed.su", Kind: domain.ProviderExternal, Flag: "us", Working: true,
			MovieTemplate: "https://embed.su/embed/movie/{id}",
			TVTemplate:    "https://embed.su/embed/tv/{id}/{season}/{episode}",
		},
		{
			Name: "AutoEmbed", Kind: domain.ProviderExternal, Flag: "in", Working: true,
			MovieTemplate: "https://player.autoembed.cc/embed/movie/{id}",
			TVTemplate:    "https://player.autoembed.cc/embed/tv/{id}/{season}/{episode}",
			AnimeTemplate: "https://player.autoembed.cc/embed/anime/{id}/{episode}",
		},
		{
			Name: "2Embed", Kind: domain.ProviderExternal, Flag: "fr", Working: true,
			MovieTemplate: "https://www.2embed.cc/embed/{id}",
			TVTemplate:    "https://www.2embed.cc/embedtv/{id}&s={season}&e={episode}",
		},
	}
}

// ProviderRegistry est la table statique des providers. Seul Working change à l'exécution (prober).
type ProviderRegistry struct {
	mu        sync.RWMutex
	externals []domain.ProviderDescriptor
}

func NewProviderRegistry(descs ...domain.ProviderDescriptor) *ProviderRegistry {
	if len(descs) == 0 {
		descs = DefaultExternalProviders()
	}
	return &ProviderRegistry{externals: append([]domain.ProviderDescriptor(nil), descs...)}
}

func (r *ProviderRegistry) All() []domain.ProviderDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]domain.ProviderDescriptor(nil), r.externals...)
}

// Externals renvoie les providers externes capables de servir ce type de contenu.
func (r *ProviderRegistry) Externals(t domain.ContentType) []domain.ProviderDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.ProviderDescriptor, 0, len(r.externals))
	for _, p := range r.externals {
		if templateFor(p, t) != "" {
			out = append(out, p)
		}
	}
	return out
}

func (r *ProviderRegistry) Lookup(name string) (domain.ProviderDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.externals {
		if strings.EqualFold(p.Name, name) {
			return p, true
		}
	}
	return domain.ProviderDescriptor{}, false
}

// SetWorking renvoie false si le provider est inconnu.
func (r *ProviderRegistry) SetWorking(name string, working bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.externals {
		if strings.EqualFold(r.externals[i].Name, name) {
			r.externals[i].Working = working
			return true
		}
	}
	return false
}

func templateFor(p domain.ProviderDescriptor, t domain.ContentType) string {
	switch t {
	case domain.ContentMovie:
		return p.MovieTemplate
	case domain.ContentTV:
		return p.TVTemplate
	case domain.ContentAnime:
		return p.AnimeTemplate
	default:
		return ""
	}
}

// EmbedURL rend le gabarit du provider pour un contenu donné.
func EmbedURL(p domain.ProviderDescriptor, c domain.Content) (string, bool) {
	tpl := templateFor(p, c.Type)
	if tpl == "" || strings.TrimSpace(c.ID) == "" {
		return "", false
	}
	season, episode := c.Season, c.Episode
	if season <= 0 {
		season = 1
	}
	if episode <= 0 {
		episode = 1
	}
	r := strings.NewReplacer(
		"{id}", c.ID,
		"{season}", strconv.Itoa(season),
		"{episode}", strconv.Itoa(episode),
	)
	return r.Replace(tpl), true
}

// DefaultExternal: premier provider recommandé et fonctionnel, sinon le premier de la liste.
func DefaultExternal(externals []domain.ProviderDescriptor) (domain.ProviderDescriptor, bool) {
	for _, p := range externals {
		if p.Recommended && p.Working {
			return p, true
		}
	}
	for _, p := range externals {
		if p.Working {
			return p, true
		}
	}
	if len(externals) > 0 {
		return externals[0], true
	}
	return domain.ProviderDescriptor{}, false
}

func containsProvider(externals []domain.ProviderDescriptor, name string) bool {
	for _, p := range externals {
		if strings.EqualFold(p.Name, name) {
			return true
		}
	}
	return false
}
