package app

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/Guilhem-Bonnet/streamhub/internal/domain"
	"github.com/Guilhem-Bonnet/streamhub/internal/ports"
)

const (
	settingsKey           = "settings:runtime"
	maxProviderFetchesCap = 256
)

// SettingsService persiste les réglages d'exécution dans le KVStore.
type SettingsService struct {
	mu       sync.Mutex
	store    ports.KVStore
	defaults domain.Settings
}

func NewSettingsService(store ports.KVStore, defaults domain.Settings) *SettingsService {
	return &SettingsService{store: store, defaults: sanitizeSettings(defaults, domain.DefaultSettings())}
}

// Get renvoie les réglages persistés, ou les valeurs par défaut si absents ou illisibles.
func (s *SettingsService) Get(ctx context.Context) (domain.Settings, error) {
	b, err := s.store.Get(ctx, settingsKey)
	if errors.Is(err, ports.ErrNotFound) {
		return s.defaults, nil
	}
	if err != nil {
		return domain.Settings{}, err
	}
	var out domain.Settings
	if err := json.Unmarshal(b, &out); err != nil {
		return s.defaults, nil
	}
	return sanitizeSettings(out, s.defaults), nil
}

// Update applique apply aux réglages courants puis persiste le résultat.
// Les champs que apply ne touche pas gardent leur valeur.
func (s *SettingsService) Update(ctx context.Context, apply func(*domain.Settings) error) (domain.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, err := s.Get(ctx)
	if err != nil {
		return domain.Settings{}, err
	}
	if err := apply(&cur); err != nil {
		return domain.Settings{}, err
	}
	return s.saveLocked(ctx, cur)
}

func (s *SettingsService) saveLocked(ctx context.Context, settings domain.Settings) (domain.Settings, error) {
	settings = sanitizeSettings(settings, s.defaults)
	b, err := json.Marshal(settings)
	if err != nil {
		return domain.Settings{}, err
	}
	if err := s.store.Set(ctx, settingsKey, b); err != nil {
		return domain.Settings{}, err
	}
	return settings, nil
}

func sanitizeSettings(in, defaults domain.Settings) domain.Settings {
	if in.MaxProviderFetches <= 0 {
		in.MaxProviderFetches = defaults.MaxProviderFetches
	}
	in.MaxProviderFetches = min(in.MaxProviderFetches, maxProviderFetchesCap)
	return in
}
