package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"

	"github.com/Guilhem-Bonnet/streamhub/internal/domain"
	"github.com/Guilhem-Bonnet/streamhub/internal/ports"
)

const (
	TopicProviderStatus  = "provider.status"
	DefaultProbeSchedule = "@every 15m"
	probeTimeout         = 10 * time.Second
	probeConcurrency     = 4
)

// ProbeResult est le dernier état connu d'un lecteur externe, persisté sous provider_status:<name>.
type ProbeResult struct {
	Provider  string    `json:"provider"`
	Working   bool      `json:"working"`
	Status    int       `json:"status,omitempty"`
	LatencyMS int64     `json:"latencyMs"`
	CheckedAt time.Time `json:"checkedAt"`
	Error     string    `json:"error,omitempty"`
}

func providerStatusKey(name string) string { return "provider_status:" + name }

// ProviderProber vérifie périodiquement que l'hôte de chaque lecteur externe répond.
type ProviderProber struct {
	logger   zerolog.Logger
	registry *ProviderRegistry
	store    ports.KVStore
	bus      ports.EventBus
	metrics  *Metrics
	client   *http.Client
	now      func() time.Time

	Schedule    string
	Concurrency int
}

func NewProviderProber(logger zerolog.Logger, registry *ProviderRegistry, store ports.KVStore, bus ports.EventBus, metrics *Metrics) *ProviderProber {
	return &ProviderProber{
		logger:   logger.With().Str("component", "prober").Logger(),
		registry: registry,
		store:    store,
		bus:      bus,
		metrics:  metrics,
		client: &http.Client{
			Timeout: probeTimeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				// Une redirection prouve déjà que l'hôte répond.
				return http.ErrUseLastResponse
			},
		},
		now:         time.Now,
		Schedule:    DefaultProbeSchedule,
		Concurrency: probeConcurrency,
	}
}

func (p *ProviderProber) WithHTTPClient(c *http.Client) *ProviderProber {
	if c != nil {
		p.client = c
	}
	return p
}

// ProbeTarget renvoie scheme://host du premier gabarit d'embed du lecteur.
func ProbeTarget(desc domain.ProviderDescriptor) (string, bool) {
	for _, tpl := range []string{desc.MovieTemplate, desc.TVTemplate, desc.AnimeTemplate} {
		if tpl == "" {
			continue
		}
		u, err := url.Parse(tpl)
		if err != nil || u.Host == "" {
			continue
		}
		return u.Scheme + "://" + u.Host + "/", true
	}
	return "", false
}

// Restore recharge les derniers états persistés dans le registre (au démarrage).
func (p *ProviderProber) Restore(ctx context.Context) int {
	if p.store == nil {
		return 0
	}
	n := 0
	for _, desc := range p.registry.All() {
		b, err := p.store.Get(ctx, providerStatusKey(desc.Name))
		if err != nil {
			if !errors.Is(err, ports.ErrNotFound) {
				p.logger.Warn().Err(err).Str("provider", desc.Name).Msg("read provider status failed")
			}
			continue
		}
		var res ProbeResult
		if err := json.Unmarshal(b, &res); err != nil {
			p.logger.Warn().Err(err).Str("provider", desc.Name).Msg("corrupt provider status ignored")
			continue
		}
		p.registry.SetWorking(desc.Name, res.Working)
		p.metrics.SetProviderWorking(desc.Name, res.Working)
		n++
	}
	return n
}

// ProbeAll sonde tous les lecteurs externes en parallèle et applique les résultats.
func (p *ProviderProber) ProbeAll(ctx context.Context) []ProbeResult {
	descs := p.registry.All()
	workers := p.Concurrency
	if workers <= 0 {
		workers = probeConcurrency
	}
	rp := pool.NewWithResults[ProbeResult]().WithMaxGoroutines(workers)
	for _, desc := range descs {
		rp.Go(func() ProbeResult {
			return p.Probe(ctx, desc)
		})
	}
	results := rp.Wait()
	sort.Slice(results, func(i, j int) bool { return results[i].Provider < results[j].Provider })

	for _, res := range results {
		p.apply(ctx, res)
	}
	return results
}

// Probe envoie HEAD (puis GET si HEAD est refusé). Toute réponse < 500 compte comme disponible.
func (p *ProviderProber) Probe(ctx context.Context, desc domain.ProviderDescriptor) ProbeResult {
	res := ProbeResult{Provider: desc.Name, CheckedAt: p.now().UTC()}
	target, ok := ProbeTarget(desc)
	if !ok {
		res.Error = "no probe target"
		return res
	}
	start := time.Now()
	status, err := p.request(ctx, http.MethodHead, target)
	if err == nil && (status == http.StatusMethodNotAllowed || status == http.StatusNotImplemented) {
		status, err = p.request(ctx, http.MethodGet, target)
	}
	res.LatencyMS = time.Since(start).Milliseconds()
	if err != nil {
		res.Error = err.Error()
		return res
	}
	res.Status = status
	res.Working = status < http.StatusInternalServerError
	return res
}

func (p *ProviderProber) request(ctx context.Context, method, target string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("User-Agent", animeSamaUserAgent)
	resp, err := p.client.Do(req)
	if err != nil {
		return 0, err
	}
	resp.Body.Close()
	return resp.StatusCode, nil
}

func (p *ProviderProber) apply(ctx context.Context, res ProbeResult) {
	prev, _ := p.registry.Lookup(res.Provider)
	p.registry.SetWorking(res.Provider, res.Working)
	p.metrics.SetProviderWorking(res.Provider, res.Working)

	b, _ := json.Marshal(res)
	if p.store != nil {
		if err := p.store.Set(ctx, providerStatusKey(res.Provider), b); err != nil {
			p.logger.Warn().Err(err).Str("provider", res.Provider).Msg("persist provider status failed")
		}
	}
	if p.bus != nil {
		p.bus.Publish(TopicProviderStatus, b)
	}
	if prev.Working != res.Working {
		p.logger.Info().Str("provider", res.Provider).Bool("working", res.Working).Str("error", res.Error).Msg("provider status changed")
	}
}

// Run sonde une première fois puis selon Schedule (syntaxe cron ou @every) jusqu'à l'annulation de ctx.
func (p *ProviderProber) Run(ctx context.Context) error {
	spec := strings.TrimSpace(p.Schedule)
	if spec == "" {
		spec = DefaultProbeSchedule
	}
	c := cron.New(cron.WithLogger(cron.DiscardLogger))
	if _, err := c.AddFunc(spec, func() { p.ProbeAll(ctx) }); err != nil {
		return &CodedError{Code: "invalid_params", Message: "invalid probe schedule " + spec, Err: err}
	}
	p.ProbeAll(ctx)
	c.Start()
	p.logger.Info().Str("schedule", spec).Msg("provider prober started")

	<-ctx.Done()
	<-c.Stop().Done()
	p.logger.Info().Msg("provider prober stopped")
	return nil
}
