package domain

import "time"

const (
	KeyWatchHistory           = "watch_history"
	KeyWatchlist              = "watchlist"
	KeyPreferredAnimeServer   = "preferred_anime_server"
	KeyPreferredRegularServer = "preferred_regular_server"
	KeyDevPopupLastShown      = "devPopupLastShown"

	// AggregatedPreference est le nom de serveur mémorisé quand l'utilisateur préfère les sources agrégées.
	AggregatedPreference = "aggregated"

	MaxHistoryEntries = 100
	MaxHistoryGenres  = 3

	PreferenceTTL = 7 * 24 * time.Hour
	EpisodeTTL    = 30 * 24 * time.Hour
)

func PreferenceKey(c Category) string {
	if c == CategoryAnime {
		return KeyPreferredAnimeServer
	}
	return KeyPreferredRegularServer
}

// EpisodeKey: "<type>_<id>_episode".
func EpisodeKey(t ContentType, id string) string {
	return string(t) + "_" + id + "_episode"
}

type PreferenceRecord struct {
	ServerName string `json:"serverName"`
	// Timestamp en millisecondes (compatible avec le stockage navigateur).
	Timestamp int64 `json:"timestamp"`
}

type EpisodePosition struct {
	Season    int   `json:"season"`
	Episode   int   `json:"episode"`
	Timestamp int64 `json:"timestamp"`
}

type HistoryEntry struct {
	ID         string      `json:"id"`
	Type       ContentType `json:"type"`
	Title      string      `json:"title"`
	PosterPath string      `json:"poster_path,omitempty"`
	Season     int         `json:"season,omitempty"`
	Episode    int         `json:"episode,omitempty"`
	Genres     []string    `json:"genres,omitempty"`
	Rating     float64     `json:"rating,omitempty"`
	Timestamp  int64       `json:"timestamp"`
}

type WatchlistItem struct {
	ID         string      `json:"id"`
	Type       ContentType `json:"type"`
	Title      string      `json:"title"`
	PosterPath string      `json:"poster_path,omitempty"`
	Rating     float64     `json:"rating,omitempty"`
	AddedAt    int64       `json:"addedAt"`
}
