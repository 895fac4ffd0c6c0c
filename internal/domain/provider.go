package domain

type ContentType string

const (
	ContentMovie ContentType = "movie"
	ContentTV    ContentType = "tv"
	ContentAnime ContentType = "anime"
)

func (t ContentType) Valid() bool {
	return t == ContentMovie || t == ContentTV || t == ContentAnime
}

// Episodic: les séries et animes ont une saison/un épisode.
func (t ContentType) Episodic() bool {
	return t == ContentTV || t == ContentAnime
}

// Category sépare les préférences "anime" des préférences "regular" (films + séries).
type Category string

const (
	CategoryAnime   Category = "anime"
	CategoryRegular Category = "regular"
)

func (t ContentType) Category() Category {
	if t == ContentAnime {
		return CategoryAnime
	}
	return CategoryRegular
}

type ProviderKind string

const (
	// ProviderAggregated: serveurs interrogés par l'agrégateur (liens m3u8/mp4).
	ProviderAggregated ProviderKind = "aggregated"
	// ProviderExternal: lecteurs embarqués toujours disponibles (iframe).
	ProviderExternal ProviderKind = "external"
)

type ProviderDescriptor struct {
	Name        string       `json:"name"`
	Kind        ProviderKind `json:"kind"`
	Recommended bool         `json:"recommended"`
	Flag        string       `json:"flag,omitempty"`
	Working     bool         `json:"working"`

	// Gabarits d'URL d'embed. Variables: {id}, {season}, {episode}.
	MovieTemplate string `json:"-"`
	TVTemplate    string `json:"-"`
	AnimeTemplate string `json:"-"`
}

// Content identifie ce que l'utilisateur regarde.
type Content struct {
	ID      string      `json:"id"`
	Type    ContentType `json:"type"`
	Title   string      `json:"title,omitempty"`
	Season  int         `json:"season,omitempty"`
	Episode int         `json:"episode,omitempty"`
}

// Supports liste les types de contenu pour lesquels le provider a un gabarit.
func (p ProviderDescriptor) Supports() []ContentType {
	var out []ContentType
	if p.MovieTemplate != "" {
		out = append(out, ContentMovie)
	}
	if p.TVTemplate != "" {
		out = append(out, ContentTV)
	}
	if p.AnimeTemplate != "" {
		out = append(out, ContentAnime)
	}
	return out
}
