package app

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Guilhem-Bonnet/streamhub/internal/domain"
	"github.com/Guilhem-Bonnet/streamhub/internal/ports"
)

const DefaultClientID = "default"

// ClientCache remplace le localStorage du navigateur: préférences, positions d'épisode, historique, watchlist.
// Les clés sont préfixées par l'identifiant client ("<client>:<clé>").
type ClientCache struct {
	store  ports.KVStore
	logger zerolog.Logger
	now    func() time.Time

	// Sérialise les read-modify-write (historique, watchlist) dans ce process.
	mu sync.Mutex
}

func NewClientCache(store ports.KVStore, logger zerolog.Logger) *ClientCache {
	return &ClientCache{store: store, logger: logger, now: time.Now}
}

// WithClock remplace l'horloge (tests).
func (c *ClientCache) WithClock(now func() time.Time) *ClientCache {
	if now != nil {
		c.now = now
	}
	return c
}

func NormalizeClientID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return DefaultClientID
	}
	// ':' sert de séparateur d'espace de noms.
	return strings.ReplaceAll(id, ":", "_")
}

func clientKey(client, key string) string {
	return NormalizeClientID(client) + ":" + key
}

func (c *ClientCache) nowMillis() int64 { return c.now().UnixMilli() }

func (c *ClientCache) fresh(ts int64, ttl time.Duration) bool {
	return c.now().Sub(time.UnixMilli(ts)) <= ttl
}

// readJSON renvoie found=false si la clé est absente ou illisible. Une valeur corrompue est journalisée, pas supprimée.
func (c *ClientCache) readJSON(ctx context.Context, client, key string, v any) (bool, error) {
	b, err := c.store.Get(ctx, clientKey(client, key))
	if errors.Is(err, ports.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(b, v); err != nil {
		c.logger.Warn().Err(err).Str("client", NormalizeClientID(client)).Str("key", key).Msg("corrupt client state, ignoring")
		return false, nil
	}
	return true, nil
}

func (c *ClientCache) writeJSON(ctx context.Context, client, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.store.Set(ctx, clientKey(client, key), b)
}

// Preference renvoie la préférence de serveur pour une catégorie. Une préférence de plus de 7 jours est absente.
func (c *ClientCache) Preference(ctx context.Context, client string, cat domain.Category) (domain.PreferenceRecord, bool, error) {
	var rec domain.PreferenceRecord
	ok, err := c.readJSON(ctx, client, domain.PreferenceKey(cat), &rec)
	if err != nil || !ok {
		return domain.PreferenceRecord{}, false, err
	}
	if strings.TrimSpace(rec.ServerName) == "" || !c.fresh(rec.Timestamp, domain.PreferenceTTL) {
		return domain.PreferenceRecord{}, false, nil
	}
	return rec, true, nil
}

func (c *ClientCache) SetPreference(ctx context.Context, client string, cat domain.Category, server string) (domain.PreferenceRecord, error) {
	server = strings.TrimSpace(server)
	if server == "" {
		return domain.PreferenceRecord{}, errors.New("server name required")
	}
	rec := domain.PreferenceRecord{ServerName: server, Timestamp: c.nowMillis()}
	return rec, c.writeJSON(ctx, client, domain.PreferenceKey(cat), rec)
}

// Episode renvoie la dernière position connue d'un titre. Une position de plus de 30 jours est absente.
func (c *ClientCache) Episode(ctx context.Context, client string, t domain.ContentType, id string) (domain.EpisodePosition, bool, error) {
	var pos domain.EpisodePosition
	ok, err := c.readJSON(ctx, client, domain.EpisodeKey(t, id), &pos)
	if err != nil || !ok {
		return domain.EpisodePosition{}, false, err
	}
	if !c.fresh(pos.Timestamp, domain.EpisodeTTL) {
		return domain.EpisodePosition{}, false, nil
	}
	return pos, true, nil
}

func (c *ClientCache) SetEpisode(ctx context.Context, client string, t domain.ContentType, id string, season, episode int) (domain.EpisodePosition, error) {
	if strings.TrimSpace(id) == "" {
		return domain.EpisodePosition{}, errors.New("id required")
	}
	pos := domain.EpisodePosition{Season: max(season, 1), Episode: max(episode, 1), Timestamp: c.nowMillis()}
	return pos, c.writeJSON(ctx, client, domain.EpisodeKey(t, id), pos)
}

func (c *ClientCache) History(ctx context.Context, client string) ([]domain.HistoryEntry, error) {
	var list []domain.HistoryEntry
	if _, err := c.readJSON(ctx, client, domain.KeyWatchHistory, &list); err != nil {
		return nil, err
	}
	if list == nil {
		list = []domain.HistoryEntry{}
	}
	return list, nil
}

// AddHistory insère ou remplace l'entrée (id, type) en tête de liste, puis tronque à 100 entrées.
func (c *ClientCache) AddHistory(ctx context.Context, client string, e domain.HistoryEntry) ([]domain.HistoryEntry, error) {
	e.ID = strings.TrimSpace(e.ID)
	if e.ID == "" || !e.Type.Valid() {
		return nil, errors.New("history entry requires id and a valid type")
	}
	if e.Timestamp == 0 {
		e.Timestamp = c.nowMillis()
	}
	if len(e.Genres) > domain.MaxHistoryGenres {
		e.Genres = append([]string(nil), e.Genres[:domain.MaxHistoryGenres]...)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	list, err := c.History(ctx, client)
	if err != nil {
		return nil, err
	}
	out := make([]domain.HistoryEntry, 0, len(list)+1)
	out = append(out, e)
	for _, h := range list {
		if h.ID == e.ID && h.Type == e.Type {
			continue
		}
		out = append(out, h)
	}
	if len(out) > domain.MaxHistoryEntries {
		out = out[:domain.MaxHistoryEntries]
	}
	if err := c.writeJSON(ctx, client, domain.KeyWatchHistory, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ClientCache) RemoveHistory(ctx context.Context, client, id string, t domain.ContentType) ([]domain.HistoryEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	list, err := c.History(ctx, client)
	if err != nil {
		return nil, err
	}
	out := list[:0]
	for _, h := range list {
		if h.ID == id && (t == "" || h.Type == t) {
			continue
		}
		out = append(out, h)
	}
	if err := c.writeJSON(ctx, client, domain.KeyWatchHistory, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ClientCache) ClearHistory(ctx context.Context, client string) error {
	return c.store.Delete(ctx, clientKey(client, domain.KeyWatchHistory))
}

func (c *ClientCache) Watchlist(ctx context.Context, client string) (map[string]domain.WatchlistItem, error) {
	m := map[string]domain.WatchlistItem{}
	if _, err := c.readJSON(ctx, client, domain.KeyWatchlist, &m); err != nil {
		return nil, err
	}
	if m == nil {
		m = map[string]domain.WatchlistItem{}
	}
	return m, nil
}

// WatchlistItems renvoie la watchlist triée du plus récent au plus ancien ajout.
func (c *ClientCache) WatchlistItems(ctx context.Context, client string) ([]domain.WatchlistItem, error) {
	m, err := c.Watchlist(ctx, client)
	if err != nil {
		return nil, err
	}
	out := make([]domain.WatchlistItem, 0, len(m))
	for _, it := range m {
		out = append(out, it)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].AddedAt != out[j].AddedAt {
			return out[i].AddedAt > out[j].AddedAt
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (c *ClientCache) AddToWatchlist(ctx context.Context, client string, it domain.WatchlistItem) (domain.WatchlistItem, error) {
	it.ID = strings.TrimSpace(it.ID)
	if it.ID == "" {
		return domain.WatchlistItem{}, errors.New("watchlist item requires id")
	}
	if it.AddedAt == 0 {
		it.AddedAt = c.nowMillis()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	m, err := c.Watchlist(ctx, client)
	if err != nil {
		return domain.WatchlistItem{}, err
	}
	m[it.ID] = it
	return it, c.writeJSON(ctx, client, domain.KeyWatchlist, m)
}

// RemoveFromWatchlist renvoie ErrNotFound si l'id n'est pas dans la watchlist.
func (c *ClientCache) RemoveFromWatchlist(ctx context.Context, client, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, err := c.Watchlist(ctx, client)
	if err != nil {
		return err
	}
	if _, ok := m[id]; !ok {
		return ErrNotFound
	}
	delete(m, id)
	return c.writeJSON(ctx, client, domain.KeyWatchlist, m)
}

func (c *ClientCache) InWatchlist(ctx context.Context, client, id string) (bool, error) {
	m, err := c.Watchlist(ctx, client)
	if err != nil {
		return false, err
	}
	_, ok := m[id]
	return ok, nil
}

func (c *ClientCache) DevPopupLastShown(ctx context.Context, client string) (int64, bool, error) {
	var ts int64
	ok, err := c.readJSON(ctx, client, domain.KeyDevPopupLastShown, &ts)
	return ts, ok, err
}

func (c *ClientCache) MarkDevPopupShown(ctx context.Context, client string) (int64, error) {
	ts := c.nowMillis()
	return ts, c.writeJSON(ctx, client, domain.KeyDevPopupLastShown, ts)
}
