package app

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/xid"
	"github.com/rs/zerolog"

	"github.com/Guilhem-Bonnet/streamhub/internal/domain"
	"github.com/Guilhem-Bonnet/streamhub/internal/ports"
)

const (
	TopicSessionProgress  = "session.progress"
	TopicSessionLinks     = "session.links"
	TopicSessionSwitched  = "session.switched"
	TopicSessionCompleted = "session.completed"
	TopicSessionError     = "session.error"

	maxWatchesPerClient = 8
)

// LinkBackend ouvre une session auprès du backend de téléchargement et liste ses serveurs.
type LinkBackend interface {
	Init(ctx context.Context, id string) (InitResult, error)
	Sources(init InitResult) []LinkSource
}

type OpenRequest struct {
	Content domain.Content

	// Métadonnées optionnelles pour l'historique.
	PosterPath string
	Genres     []string
	Rating     float64

	// Wait bloque jusqu'au premier résultat (auto-switch armé) ou jusqu'à la fin de l'agrégation.
	Wait bool
}

type SelectRequest struct {
	Kind     domain.ProviderKind `json:"kind"`
	Provider string              `json:"provider"`
	LinkID   string              `json:"linkId"`
}

type WatchProgress struct {
	Completed int  `json:"completed"`
	Total     int  `json:"total"`
	Done      bool `json:"done"`
}

type WatchView struct {
	ID         string                      `json:"id"`
	Client     string                      `json:"client"`
	Content    domain.Content              `json:"content"`
	Generation uint64                      `json:"generation"`
	Selection  SelectionView               `json:"selection"`
	Externals  []domain.ProviderDescriptor `json:"externals"`
	Links      []domain.LinkRecord         `json:"links"`
	Captions   []domain.Caption            `json:"captions"`
	Progress   WatchProgress               `json:"progress"`
	Error      string                      `json:"error,omitempty"`
}

type watch struct {
	id      string
	client  string
	created time.Time

	generation atomic.Uint64

	mu        sync.Mutex
	content   domain.Content
	policy    *SelectionPolicy
	agg       *Aggregation
	cancel    context.CancelFunc
	init      *InitResult
	errorCode string
}

func (w *watch) currentGeneration() uint64 { return w.generation.Load() }

// WatchService orchestre une page de visionnage côté serveur: préférence, agrégation, auto-switch, choix utilisateur.
type WatchService struct {
	logger     zerolog.Logger
	registry   *ProviderRegistry
	backend    LinkBackend
	aggregator *Aggregator
	cache      *ClientCache
	bus        ports.EventBus
	metrics    *Metrics

	// animeSource est ajoutée aux serveurs du backend pour le contenu anime (nil = désactivée).
	animeSource  LinkSource
	animeEnabled atomic.Bool

	baseCtx  context.Context
	stopBase context.CancelFunc

	mu      sync.Mutex
	watches map[string]*watch
}

func NewWatchService(logger zerolog.Logger, registry *ProviderRegistry, backend LinkBackend, aggregator *Aggregator, cache *ClientCache, bus ports.EventBus) *WatchService {
	ctx, cancel := context.WithCancel(context.Background())
	return &WatchService{
		logger:     logger,
		registry:   registry,
		backend:    backend,
		aggregator: aggregator,
		cache:      cache,
		bus:        bus,
		baseCtx:    ctx,
		stopBase:   cancel,
		watches:    map[string]*watch{},
	}
}

func (s *WatchService) WithAnimeSource(src LinkSource) *WatchService {
	s.animeSource = src
	s.animeEnabled.Store(src != nil)
	return s
}

// SetAnimeSourceEnabled s'applique aux agrégations démarrées ensuite.
func (s *WatchService) SetAnimeSourceEnabled(enabled bool) {
	s.animeEnabled.Store(enabled && s.animeSource != nil)
}

func (s *WatchService) WithMetrics(m *Metrics) *WatchService {
	s.metrics = m
	return s
}

// Shutdown annule toutes les agrégations en cours.
func (s *WatchService) Shutdown() {
	s.stopBase()
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, w := range s.watches {
		w.mu.Lock()
		if w.cancel != nil {
			w.cancel()
		}
		w.mu.Unlock()
		delete(s.watches, id)
	}
}

func validateContent(c domain.Content) (domain.Content, error) {
	c.ID = strings.TrimSpace(c.ID)
	if c.ID == "" {
		return c, &CodedError{Code: "invalid_params", Message: "missing id"}
	}
	if !c.Type.Valid() {
		return c, &CodedError{Code: "invalid_params", Message: "invalid type"}
	}
	if c.Type.Episodic() {
		c.Season = max(c.Season, 1)
		c.Episode = max(c.Episode, 1)
	} else {
		c.Season, c.Episode = 0, 0
	}
	return c, nil
}

// Open crée une session de visionnage (génération 1). Un échec d'init n'empêche pas les lecteurs externes:
// la vue est renvoyée avec l'erreur.
func (s *WatchService) Open(ctx context.Context, client string, req OpenRequest) (WatchView, error) {
	client = NormalizeClientID(client)
	content := req.Content
	if content.Type.Episodic() && content.Season <= 0 && content.Episode <= 0 {
		if pos, ok, err := s.cache.Episode(ctx, client, content.Type, strings.TrimSpace(content.ID)); err == nil && ok {
			content.Season, content.Episode = pos.Season, pos.Episode
		}
	}
	content, err := validateContent(content)
	if err != nil {
		return WatchView{}, err
	}

	pref := ""
	if rec, ok, err := s.cache.Preference(ctx, client, content.Type.Category()); err != nil {
		s.logger.Warn().Err(err).Str("client", client).Msg("read preference failed")
	} else if ok {
		pref = rec.ServerName
	}

	externals := s.registry.Externals(content.Type)
	w := &watch{id: xid.New().String(), client: client, created: time.Now(), content: content}
	w.generation.Store(1)
	w.policy = NewSelectionPolicy(content)
	if _, err := w.policy.Bootstrap(pref, externals); err != nil {
		return WatchView{}, err
	}

	s.register(w)
	s.rememberEpisode(ctx, client, content)
	s.recordHistory(ctx, client, content, req)

	initErr := s.bootstrap(ctx, w)
	if initErr == nil && req.Wait {
		s.wait(ctx, w)
	}
	return s.view(w), initErr
}

func (s *WatchService) register(w *watch) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var mine []*watch
	for _, other := range s.watches {
		if other.client == w.client {
			mine = append(mine, other)
		}
	}
	if len(mine) >= maxWatchesPerClient {
		sort.Slice(mine, func(i, j int) bool { return mine[i].created.Before(mine[j].created) })
		for _, old := range mine[:len(mine)-maxWatchesPerClient+1] {
			s.stopLocked(old)
		}
	}
	s.watches[w.id] = w
}

func (s *WatchService) stopLocked(w *watch) {
	w.mu.Lock()
	if w.cancel != nil {
		w.cancel()
	}
	w.mu.Unlock()
	delete(s.watches, w.id)
}

// bootstrap appelle Init (avec retry) puis lance l'agrégation de la génération observée à l'entrée.
// Si une génération plus récente est apparue pendant Init, c'est son propre bootstrap qui démarre l'agrégation.
func (s *WatchService) bootstrap(ctx context.Context, w *watch) error {
	w.mu.Lock()
	content := w.content
	cached := w.init
	gen := w.currentGeneration()
	w.mu.Unlock()

	init := InitResult{}
	if cached != nil {
		init = *cached
	} else {
		res, err := s.backend.Init(ctx, content.ID)
		if err != nil {
			code := ErrorCode(err)
			if code == "" {
				code = "bootstrap_failed"
			}
			w.mu.Lock()
			if w.currentGeneration() != gen {
				w.mu.Unlock()
				return nil
			}
			w.errorCode = code
			w.mu.Unlock()
			s.publish(TopicSessionError, map[string]any{"watchId": w.id, "generation": gen, "code": code, "error": err.Error()})
			s.logger.Warn().Err(err).Str("watch", w.id).Str("id", content.ID).Msg("download bootstrap failed")
			return err
		}
		init = res
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.init = &init
	if w.currentGeneration() != gen {
		return nil
	}
	w.errorCode = ""
	s.startLocked(w, init)
	return nil
}

func (s *WatchService) sourcesFor(content domain.Content, init InitResult) []LinkSource {
	sources := s.backend.Sources(init)
	if content.Type == domain.ContentAnime && s.animeSource != nil && s.animeEnabled.Load() {
		sources = append(sources, s.animeSource)
	}
	return sources
}

// startLocked lance l'agrégation de la génération courante. w.mu doit être tenu.
func (s *WatchService) startLocked(w *watch, init InitResult) {
	if w.cancel != nil {
		w.cancel()
	}
	ctx, cancel := context.WithCancel(s.baseCtx)
	w.cancel = cancel

	gen := w.currentGeneration()
	content := w.content
	plan := AggregationPlan{
		Request: ServerRequest{
			ID:        content.ID,
			Type:      content.Type,
			Title:     content.Title,
			SecretKey: init.SecretKey,
			Season:    content.Season,
			Episode:   content.Episode,
		},
		Sources:    s.sourcesFor(content, init),
		Mode:       w.policy.Mode(),
		Generation: gen,
		Current:    w.currentGeneration,
		OnUpdate: func(snap AggregationSnapshot, res ServerResult) {
			s.onUpdate(w, gen, snap, res)
		},
	}
	w.agg = s.aggregator.Start(ctx, plan)
	if snap := w.agg.Snapshot(); snap.Done {
		s.publish(TopicSessionCompleted, map[string]any{"watchId": w.id, "generation": gen, "completed": 0, "total": 0, "links": 0})
	}
}

// onUpdate applique un résultat à la session, sauf si la génération a changé entre-temps.
func (s *WatchService) onUpdate(w *watch, gen uint64, snap AggregationSnapshot, res ServerResult) {
	w.mu.Lock()
	if w.currentGeneration() != gen {
		w.mu.Unlock()
		return
	}
	active, switched := w.policy.OnProviderResult(snap.Links)
	w.mu.Unlock()

	s.publish(TopicSessionProgress, map[string]any{
		"watchId":    w.id,
		"generation": gen,
		"server":     res.Server,
		"success":    res.Success,
		"newLinks":   len(res.Links),
		"links":      len(snap.Links),
		"completed":  snap.Completed,
		"total":      snap.Total,
	})
	if len(res.Links) > 0 {
		s.publish(TopicSessionLinks, map[string]any{"watchId": w.id, "generation": gen, "server": res.Server, "links": res.Links})
	}
	if switched {
		s.metrics.AutoSwitched()
		s.publish(TopicSessionSwitched, map[string]any{"watchId": w.id, "generation": gen, "reason": "auto", "active": active})
	}
	if snap.Done {
		s.publish(TopicSessionCompleted, map[string]any{
			"watchId":    w.id,
			"generation": gen,
			"completed":  snap.Completed,
			"total":      snap.Total,
			"links":      len(snap.Links),
		})
	}
}

func (s *WatchService) wait(ctx context.Context, w *watch) {
	w.mu.Lock()
	agg := w.agg
	mode := w.policy.Mode()
	w.mu.Unlock()
	if agg == nil {
		return
	}
	if mode == AggregateEager {
		_, _ = agg.WaitFirst(ctx)
		return
	}
	_, _ = agg.Wait(ctx)
}

func (s *WatchService) lookup(client, id string) (*watch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.watches[id]
	if !ok || w.client != NormalizeClientID(client) {
		return nil, ErrNotFound
	}
	return w, nil
}

func (s *WatchService) Get(client, id string) (WatchView, error) {
	w, err := s.lookup(client, id)
	if err != nil {
		return WatchView{}, err
	}
	return s.view(w), nil
}

// Wait bloque jusqu'à la fin de l'agrégation courante (ou l'annulation de ctx).
func (s *WatchService) Wait(ctx context.Context, client, id string) (WatchView, error) {
	w, err := s.lookup(client, id)
	if err != nil {
		return WatchView{}, err
	}
	w.mu.Lock()
	agg := w.agg
	w.mu.Unlock()
	if agg != nil {
		if _, err := agg.Wait(ctx); err != nil {
			return s.view(w), err
		}
	}
	return s.view(w), nil
}

// Select enregistre un choix explicite de l'utilisateur et mémorise la préférence de la catégorie.
func (s *WatchService) Select(ctx context.Context, client, id string, req SelectRequest) (WatchView, error) {
	w, err := s.lookup(client, id)
	if err != nil {
		return WatchView{}, err
	}

	w.mu.Lock()
	content := w.content
	agg := w.agg
	gen := w.currentGeneration()
	w.mu.Unlock()

	var choice domain.ActiveSource
	switch req.Kind {
	case domain.ProviderExternal:
		desc, ok := s.registry.Lookup(req.Provider)
		if !ok {
			return WatchView{}, ErrInvalidSelection
		}
		u, ok := EmbedURL(desc, content)
		if !ok {
			return WatchView{}, ErrInvalidSelection
		}
		choice = domain.ActiveSource{Kind: domain.ProviderExternal, Provider: desc.Name, EmbedURL: u}
	case domain.ProviderAggregated:
		if agg == nil {
			return WatchView{}, ErrInvalidSelection
		}
		link, ok := findLink(agg.Snapshot().Links, req.LinkID)
		if !ok {
			return WatchView{}, ErrInvalidSelection
		}
		choice = domain.ActiveSource{Kind: domain.ProviderAggregated, Provider: link.Server, LinkID: link.ID}
	default:
		return WatchView{}, ErrInvalidSelection
	}

	w.mu.Lock()
	if w.currentGeneration() != gen {
		// L'épisode a changé pendant la validation du choix.
		w.mu.Unlock()
		return WatchView{}, ports.ErrConflict
	}
	_, err = w.policy.UserSelect(choice)
	w.mu.Unlock()
	if err != nil {
		return WatchView{}, err
	}

	if _, err := s.cache.SetPreference(ctx, client, content.Type.Category(), PreferenceFor(choice)); err != nil {
		s.logger.Warn().Err(err).Str("watch", id).Msg("persist preference failed")
	}
	s.publish(TopicSessionSwitched, map[string]any{"watchId": id, "generation": gen, "reason": "user", "active": choice})
	return s.view(w), nil
}

func findLink(links []domain.LinkRecord, id string) (domain.LinkRecord, bool) {
	for _, l := range links {
		if l.ID == id {
			return l, true
		}
	}
	return domain.LinkRecord{}, false
}

// ChangeEpisode démarre une nouvelle génération: l'agrégation précédente est annulée et ses résultats ignorés.
func (s *WatchService) ChangeEpisode(ctx context.Context, client, id string, season, episode int, wait bool) (WatchView, error) {
	w, err := s.lookup(client, id)
	if err != nil {
		return WatchView{}, err
	}

	w.mu.Lock()
	content := w.content
	if !content.Type.Episodic() {
		w.mu.Unlock()
		return WatchView{}, &CodedError{Code: "invalid_params", Message: "content has no episodes"}
	}
	content.Season, content.Episode = max(season, 1), max(episode, 1)

	w.generation.Add(1)
	if w.cancel != nil {
		w.cancel()
		w.cancel = nil
	}
	w.content = content
	w.policy = w.policy.NextSession(content, s.registry.Externals(content.Type))
	w.agg = nil
	w.mu.Unlock()

	s.rememberEpisode(ctx, client, content)

	if err := s.bootstrap(ctx, w); err != nil {
		return s.view(w), err
	}
	if wait {
		s.wait(ctx, w)
	}
	return s.view(w), nil
}

func (s *WatchService) Close(client, id string) error {
	w, err := s.lookup(client, id)
	if err != nil {
		return err
	}
	w.generation.Add(1)
	s.mu.Lock()
	s.stopLocked(w)
	s.mu.Unlock()
	return nil
}

func (s *WatchService) view(w *watch) WatchView {
	w.mu.Lock()
	defer w.mu.Unlock()
	v := WatchView{
		ID:         w.id,
		Client:     w.client,
		Content:    w.content,
		Generation: w.currentGeneration(),
		Selection:  w.policy.View(),
		Externals:  s.registry.Externals(w.content.Type),
		Links:      []domain.LinkRecord{},
		Captions:   []domain.Caption{},
		Error:      w.errorCode,
	}
	if w.agg != nil {
		snap := w.agg.Snapshot()
		v.Links, v.Captions = snap.Links, snap.Captions
		v.Progress = WatchProgress{Completed: snap.Completed, Total: snap.Total, Done: snap.Done}
	}
	return v
}

func (s *WatchService) rememberEpisode(ctx context.Context, client string, c domain.Content) {
	if !c.Type.Episodic() {
		return
	}
	if _, err := s.cache.SetEpisode(ctx, client, c.Type, c.ID, c.Season, c.Episode); err != nil {
		s.logger.Warn().Err(err).Str("id", c.ID).Msg("persist episode position failed")
	}
}

func (s *WatchService) recordHistory(ctx context.Context, client string, c domain.Content, req OpenRequest) {
	if strings.TrimSpace(c.Title) == "" {
		return
	}
	e := domain.HistoryEntry{
		ID:         c.ID,
		Type:       c.Type,
		Title:      c.Title,
		PosterPath: req.PosterPath,
		Genres:     req.Genres,
		Rating:     req.Rating,
	}
	if c.Type.Episodic() {
		e.Season, e.Episode = c.Season, c.Episode
	}
	if _, err := s.cache.AddHistory(ctx, client, e); err != nil {
		s.logger.Warn().Err(err).Str("id", c.ID).Msg("record history failed")
	}
}

func (s *WatchService) publish(topic string, payload any) {
	if s.bus == nil {
		return
	}
	b, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error().Err(err).Str("topic", topic).Msg("encode event failed")
		return
	}
	s.bus.Publish(topic, b)
}

// IsBootstrapFailure indique une erreur d'init fatale pour l'agrégation.
func IsBootstrapFailure(err error) bool {
	return errors.Is(err, ErrBootstrapFailed) || ErrorCode(err) == "bootstrap_failed"
}
