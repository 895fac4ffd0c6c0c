package domain

// Settings regroupe les réglages modifiables à chaud via /api/settings.
type Settings struct {
	// MaxProviderFetches borne les requêtes provider simultanées, toutes sessions confondues.
	MaxProviderFetches int `json:"maxProviderFetches"`
	// AnimeSamaEnabled ajoute la source anime-sama aux agrégations anime.
	AnimeSamaEnabled bool `json:"animeSamaEnabled"`
}

func DefaultSettings() Settings {
	return Settings{MaxProviderFetches: 16, AnimeSamaEnabled: true}
}
