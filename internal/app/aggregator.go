package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"

	"github.com/Guilhem-Bonnet/streamhub/internal/domain"
)

// LinkSource est un provider agrégé: un serveur du backend de téléchargement ou une source scrapée.
// Fetch ne renvoie jamais d'erreur: un échec est un ServerResult vide.
type LinkSource interface {
	Name() string
	Fetch(ctx context.Context, req ServerRequest) ServerResult
}

type AggregationMode string

const (
	// AggregateEager rend la main dès le premier provider qui renvoie au moins un lien.
	AggregateEager AggregationMode = "eager"
	// AggregateFull attend tous les providers.
	AggregateFull AggregationMode = "full"
)

type AggregationPlan struct {
	Request ServerRequest
	Sources []LinkSource
	Mode    AggregationMode

	// Generation de la session qui a lancé l'agrégation. Current renvoie la génération courante;
	// les résultats d'une génération dépassée ne sont plus fusionnés.
	Generation uint64
	Current    func() uint64

	// OnUpdate est appelé depuis le collecteur, séquentiellement, après chaque résultat fusionné.
	OnUpdate func(AggregationSnapshot, ServerResult)
}

type AggregationSnapshot struct {
	Generation uint64              `json:"generation"`
	Links      []domain.LinkRecord `json:"links"`
	Captions   []domain.Caption    `json:"captions"`
	Completed  int                 `json:"completed"`
	Total      int                 `json:"total"`
	Done       bool                `json:"done"`
	Stale      bool                `json:"stale,omitempty"`

	// FirstServer: premier serveur arrivé avec au moins un lien.
	FirstServer string `json:"firstServer,omitempty"`
}

func (s AggregationSnapshot) clone() AggregationSnapshot {
	s.Links = append([]domain.LinkRecord{}, s.Links...)
	s.Captions = append([]domain.Caption{}, s.Captions...)
	return s
}

// Aggregation est une agrégation en cours. L'état est mis à jour par un seul collecteur.
type Aggregation struct {
	mu    sync.RWMutex
	snap  AggregationSnapshot
	first chan struct{}
	done  chan struct{}

	firstClosed bool
}

func (a *Aggregation) Snapshot() AggregationSnapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.snap.clone()
}

// First est fermé au premier provider qui renvoie des liens, ou à la fin si aucun n'en renvoie.
func (a *Aggregation) First() <-chan struct{} { return a.first }

func (a *Aggregation) Done() <-chan struct{} { return a.done }

// Wait attend la fin de tous les providers.
func (a *Aggregation) Wait(ctx context.Context) (AggregationSnapshot, error) {
	select {
	case <-a.done:
		return a.Snapshot(), nil
	case <-ctx.Done():
		return a.Snapshot(), ctx.Err()
	}
}

// WaitFirst attend le premier résultat exploitable (mode eager).
func (a *Aggregation) WaitFirst(ctx context.Context) (AggregationSnapshot, error) {
	select {
	case <-a.first:
		return a.Snapshot(), nil
	case <-ctx.Done():
		return a.Snapshot(), ctx.Err()
	}
}

type providerResult struct {
	source string
	res    ServerResult
}

type Aggregator struct {
	logger  zerolog.Logger
	limiter *DynamicLimiter
	metrics *Metrics
}

// NewAggregator: limiter borne le nombre de fetchs simultanés tous providers et sessions confondus (nil = pas de borne).
func NewAggregator(logger zerolog.Logger, limiter *DynamicLimiter, metrics *Metrics) *Aggregator {
	return &Aggregator{logger: logger, limiter: limiter, metrics: metrics}
}

// Aggregate lance l'agrégation et attend selon le mode. L'agrégation continue en arrière-plan
// après un retour eager; son état reste observable via l'Aggregation renvoyée.
func (g *Aggregator) Aggregate(ctx context.Context, plan AggregationPlan, mode AggregationMode) (AggregationSnapshot, *Aggregation, error) {
	plan.Mode = mode
	agg := g.Start(ctx, plan)
	var (
		snap AggregationSnapshot
		err  error
	)
	if mode == AggregateEager {
		snap, err = agg.WaitFirst(ctx)
	} else {
		snap, err = agg.Wait(ctx)
	}
	return snap, agg, err
}

// Start lance un fetch par source et rend la main immédiatement.
func (g *Aggregator) Start(ctx context.Context, plan AggregationPlan) *Aggregation {
	total := len(plan.Sources)
	agg := &Aggregation{
		snap: AggregationSnapshot{
			Generation: plan.Generation,
			Links:      []domain.LinkRecord{},
			Captions:   []domain.Caption{},
			Total:      total,
		},
		first: make(chan struct{}),
		done:  make(chan struct{}),
	}
	if total == 0 {
		agg.snap.Done = true
		agg.firstClosed = true
		close(agg.first)
		close(agg.done)
		return agg
	}

	results := make(chan providerResult, total)
	go func() {
		p := pool.New().WithMaxGoroutines(total)
		for _, src := range plan.Sources {
			p.Go(func() {
				results <- providerResult{source: sourceName(src), res: g.fetchOne(ctx, src, plan.Request)}
			})
		}
		p.Wait()
	}()

	go g.collect(agg, plan, results)
	return agg
}

func (g *Aggregator) collect(agg *Aggregation, plan AggregationPlan, results <-chan providerResult) {
	started := time.Now()
	total := len(plan.Sources)
	for i := 0; i < total; i++ {
		r := <-results
		stale := plan.Current != nil && plan.Current() != plan.Generation

		agg.mu.Lock()
		agg.snap.Completed++
		if stale {
			agg.snap.Stale = true
		} else if len(r.res.Links) > 0 {
			agg.snap.Links = append(agg.snap.Links, r.res.Links...)
			domain.SortLinks(agg.snap.Links)
			if agg.snap.FirstServer == "" {
				agg.snap.FirstServer = r.source
			}
		}
		if !stale {
			agg.snap.Captions = domain.MergeCaptions(agg.snap.Captions, r.res.Captions)
		}
		last := agg.snap.Completed == total
		if last {
			agg.snap.Done = true
		}
		signalFirst := !agg.firstClosed && ((!stale && len(r.res.Links) > 0) || last)
		if signalFirst {
			agg.firstClosed = true
		}
		snap := agg.snap.clone()
		agg.mu.Unlock()

		// OnUpdate passe avant les signaux: un appelant réveillé voit l'état déjà appliqué.
		if stale {
			g.logger.Debug().Str("server", r.source).Uint64("generation", plan.Generation).Msg("dropping stale provider result")
		} else if plan.OnUpdate != nil {
			plan.OnUpdate(snap, r.res)
		}
		if signalFirst {
			close(agg.first)
		}
	}
	close(agg.done)

	snap := agg.Snapshot()
	outcome := "ok"
	switch {
	case snap.Stale:
		outcome = "stale"
	case len(snap.Links) == 0:
		outcome = "empty"
	}
	mode := plan.Mode
	if mode == "" {
		mode = AggregateFull
	}
	g.metrics.ObserveAggregation(mode, outcome)
	g.logger.Debug().
		Int("providers", total).
		Int("links", len(snap.Links)).
		Dur("took", time.Since(started)).
		Str("outcome", outcome).
		Msg("aggregation finished")
}

// fetchOne isole un provider: panique, annulation ou attente du limiter donnent un résultat vide.
func (g *Aggregator) fetchOne(ctx context.Context, src LinkSource, req ServerRequest) (res ServerResult) {
	name := sourceName(src)
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error().Str("server", name).Interface("panic", r).Msg("provider fetch panicked")
			res = emptyResult(name, fmt.Sprintf("panic: %v", r))
		}
	}()

	if g.limiter != nil {
		if err := g.limiter.Acquire(ctx); err != nil {
			return emptyResult(name, err.Error())
		}
		defer g.limiter.Release()
	}
	if err := ctx.Err(); err != nil {
		return emptyResult(name, err.Error())
	}

	start := time.Now()
	res = src.Fetch(ctx, req)
	if res.Server == "" {
		res.Server = name
	}
	if res.Links == nil {
		res.Links = []domain.LinkRecord{}
	}
	g.metrics.ObserveFetch(name, res, time.Since(start))
	if !res.Success {
		g.logger.Debug().Str("server", name).Str("reason", res.Reason).Msg("provider returned no links")
	}
	return res
}

func sourceName(src LinkSource) (name string) {
	defer func() {
		if recover() != nil {
			name = "unknown"
		}
	}()
	return src.Name()
}
