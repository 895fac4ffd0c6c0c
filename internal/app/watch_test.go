package app

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/Guilhem-Bonnet/streamhub/internal/adapters/memorybus"
	"github.com/Guilhem-Bonnet/streamhub/internal/adapters/memstore"
	"github.com/Guilhem-Bonnet/streamhub/internal/domain"
)

type fakeBackend struct {
	initCalls atomic.Int32
	initErr   error
	servers   []string
	sources   map[string]LinkSource
}

func (b *fakeBackend) Init(ctx context.Context, id string) (InitResult, error) {
	b.initCalls.Add(1)
	if b.initErr != nil {
		return InitResult{}, b.initErr
	}
	return InitResult{Success: true, SourceList: b.servers, SecretKey: "k", TotalServers: len(b.servers)}, nil
}

func (b *fakeBackend) Sources(init InitResult) []LinkSource {
	out := make([]LinkSource, 0, len(init.SourceList))
	for _, name := range init.SourceList {
		out = append(out, b.sources[name])
	}
	return out
}

// gatedSource renvoie des liens dépendant de l'épisode demandé, une fois la porte ouverte.
type gatedSource struct {
	name string
	gate chan struct{}
}

func (g *gatedSource) Name() string { return g.name }

func (g *gatedSource) Fetch(ctx context.Context, req ServerRequest) ServerResult {
	if g.gate != nil {
		select {
		case <-g.gate:
		case <-ctx.Done():
			return emptyResult(g.name, "cancelled")
		}
	}
	q := "1080p"
	if req.Episode > 1 {
		q = "720p"
	}
	id := g.name + "-" + q + "-e" + string(rune('0'+req.Episode))
	return ServerResult{Success: true, Server: g.name, Links: []domain.LinkRecord{{ID: id, Server: g.name, Quality: q, URL: "https://cdn.example/" + id + ".mp4", Type: domain.StreamMP4}}}
}

type watchFixture struct {
	svc     *WatchService
	cache   *ClientCache
	bus     *memorybus.Bus
	backend *fakeBackend
}

func newWatchFixture(t *testing.T, sources ...LinkSource) *watchFixture {
	t.Helper()
	backend := &fakeBackend{sources: map[string]LinkSource{}}
	for _, s := range sources {
		backend.servers = append(backend.servers, s.Name())
		backend.sources[s.Name()] = s
	}
	cache := NewClientCache(memstore.New(), zerolog.Nop())
	bus := memorybus.New()
	svc := NewWatchService(zerolog.Nop(), NewProviderRegistry(), backend, NewAggregator(zerolog.Nop(), NewDynamicLimiter(4), nil), cache, bus)
	t.Cleanup(func() {
		svc.Shutdown()
		bus.Close()
	})
	return &watchFixture{svc: svc, cache: cache, bus: bus, backend: backend}
}

func TestWatch_OpenWithoutPreferenceUsesDefaultExternal(t *testing.T) {
	f := newWatchFixture(t, &gatedSource{name: "B"})
	ctx := context.Background()

	v, err := f.svc.Open(ctx, "u1", OpenRequest{Content: domain.Content{ID: "550", Type: domain.ContentMovie, Title: "Fight Club"}, Wait: true})
	require.NoError(t, err)
	require.Equal(t, uint64(1), v.Generation)
	require.Equal(t, domain.SelectionUsingExternal, v.Selection.State)
	require.Equal(t, "VidSrc", v.Selection.Active.Provider)
	require.Equal(t, "https://vidsrc.cc/v2/embed/movie/550", v.Selection.Active.EmbedURL)
	require.True(t, v.Progress.Done)
	require.Len(t, v.Links, 1)

	hist, err := f.cache.History(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, hist, 1)
	require.Equal(t, "Fight Club", hist[0].Title)
}

func TestWatch_AggregatedPreferenceAutoSwitches(t *testing.T) {
	f := newWatchFixture(t, &gatedSource{name: "B"})
	ctx := context.Background()
	_, err := f.cache.SetPreference(ctx, "u1", domain.CategoryRegular, domain.AggregatedPreference)
	require.NoError(t, err)

	events, cancel := f.bus.SubscribePrefix("session.switched")
	defer cancel()

	v, err := f.svc.Open(ctx, "u1", OpenRequest{Content: domain.Content{ID: "1399", Type: domain.ContentTV}, Wait: true})
	require.NoError(t, err)
	require.Equal(t, domain.SelectionAutoSwitched, v.Selection.State)
	require.Equal(t, domain.ProviderAggregated, v.Selection.Active.Kind)
	require.Equal(t, "B", v.Selection.Active.Provider)

	select {
	case evt := <-events:
		require.Contains(t, string(evt.Payload), `"reason":"auto"`)
	case <-time.After(time.Second):
		t.Fatalf("expected session.switched event")
	}
}

func TestWatch_UserSelectionSurvivesLateResults(t *testing.T) {
	fast := &gatedSource{name: "B"}
	slow := &gatedSource{name: "C", gate: make(chan struct{})}
	f := newWatchFixture(t, fast, slow)
	ctx := context.Background()
	_, err := f.cache.SetPreference(ctx, "u1", domain.CategoryRegular, domain.AggregatedPreference)
	require.NoError(t, err)

	v, err := f.svc.Open(ctx, "u1", OpenRequest{Content: domain.Content{ID: "1399", Type: domain.ContentTV}, Wait: true})
	require.NoError(t, err)
	require.Equal(t, domain.SelectionAutoSwitched, v.Selection.State)

	v, err = f.svc.Select(ctx, "u1", v.ID, SelectRequest{Kind: domain.ProviderExternal, Provider: "VidLink"})
	require.NoError(t, err)
	require.Equal(t, domain.SelectionUserSelected, v.Selection.State)

	close(slow.gate)
	v, err = f.svc.Wait(ctx, "u1", v.ID)
	require.NoError(t, err)
	require.Equal(t, 2, v.Progress.Completed)
	require.Len(t, v.Links, 2)
	require.Equal(t, "VidLink", v.Selection.Active.Provider)

	rec, ok, err := f.cache.Preference(ctx, "u1", domain.CategoryRegular)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "VidLink", rec.ServerName)
}

func TestWatch_ChangeEpisodeDiscardsStaleResults(t *testing.T) {
	gate := make(chan struct{})
	src := &gatedSource{name: "B", gate: gate}
	f := newWatchFixture(t, src)
	ctx := context.Background()
	_, err := f.cache.SetPreference(ctx, "u1", domain.CategoryAnime, domain.AggregatedPreference)
	require.NoError(t, err)

	v, err := f.svc.Open(ctx, "u1", OpenRequest{Content: domain.Content{ID: "21", Type: domain.ContentAnime, Season: 1, Episode: 1}})
	require.NoError(t, err)
	require.Equal(t, domain.SelectionAwaitingFirst, v.Selection.State)

	v, err = f.svc.ChangeEpisode(ctx, "u1", v.ID, 1, 2, false)
	require.NoError(t, err)
	require.Equal(t, uint64(2), v.Generation)
	require.Equal(t, domain.SelectionAwaitingFirst, v.Selection.State)

	close(gate)
	v, err = f.svc.Wait(ctx, "u1", v.ID)
	require.NoError(t, err)
	require.Len(t, v.Links, 1)
	require.Equal(t, "720p", v.Links[0].Quality, "only episode 2 links may be live")
	require.Equal(t, domain.SelectionAutoSwitched, v.Selection.State)
	require.Equal(t, v.Links[0].ID, v.Selection.Active.LinkID)
	require.Equal(t, int32(1), f.backend.initCalls.Load(), "init result is reused across episodes")

	pos, ok, err := f.cache.Episode(ctx, "u1", domain.ContentAnime, "21")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 2, pos.Episode)
}

// steppedInitBackend bloque chaque appel Init (à partir du second) jusqu'à ce que le test le libère.
type steppedInitBackend struct {
	*fakeBackend
	calls   atomic.Int32
	entered chan int32
	release map[int32]chan struct{}
}

func (b *steppedInitBackend) Init(ctx context.Context, id string) (InitResult, error) {
	n := b.calls.Add(1)
	if gate, ok := b.release[n]; ok {
		b.entered <- n
		select {
		case <-gate:
		case <-ctx.Done():
			return InitResult{}, ctx.Err()
		}
	}
	return b.fakeBackend.Init(ctx, id)
}

type countingSource struct {
	*gatedSource
	fetches atomic.Int32
}

func (c *countingSource) Fetch(ctx context.Context, req ServerRequest) ServerResult {
	c.fetches.Add(1)
	return c.gatedSource.Fetch(ctx, req)
}

func TestWatch_OverlappingEpisodeChangesKeepNewestAggregation(t *testing.T) {
	src := &countingSource{gatedSource: &gatedSource{name: "B"}}
	backend := &steppedInitBackend{
		fakeBackend: &fakeBackend{servers: []string{"B"}, sources: map[string]LinkSource{"B": src}},
		entered:     make(chan int32, 2),
		release:     map[int32]chan struct{}{2: make(chan struct{}), 3: make(chan struct{})},
	}
	cache := NewClientCache(memstore.New(), zerolog.Nop())
	bus := memorybus.New()
	svc := NewWatchService(zerolog.Nop(), NewProviderRegistry(), backend, NewAggregator(zerolog.Nop(), NewDynamicLimiter(4), nil), cache, bus)
	t.Cleanup(func() {
		svc.Shutdown()
		bus.Close()
	})
	ctx := context.Background()
	_, err := cache.SetPreference(ctx, "u1", domain.CategoryRegular, domain.AggregatedPreference)
	require.NoError(t, err)

	// Premier Init en échec: aucun résultat d'init n'est mis en cache.
	backend.initErr = &CodedError{Code: "bootstrap_failed", Message: "down", Err: ErrBootstrapFailed}
	v, err := svc.Open(ctx, "u1", OpenRequest{Content: domain.Content{ID: "1399", Type: domain.ContentTV}})
	require.Error(t, err)
	backend.initErr = nil
	id := v.ID

	type result struct {
		view WatchView
		err  error
	}
	first := make(chan result, 1)
	go func() {
		v, err := svc.ChangeEpisode(ctx, "u1", id, 1, 2, true)
		first <- result{v, err}
	}()
	require.Equal(t, int32(2), <-backend.entered)

	second := make(chan result, 1)
	go func() {
		v, err := svc.ChangeEpisode(ctx, "u1", id, 1, 3, true)
		second <- result{v, err}
	}()
	require.Equal(t, int32(3), <-backend.entered)

	close(backend.release[3])
	newest := <-second
	require.NoError(t, newest.err)
	require.Equal(t, uint64(3), newest.view.Generation)
	require.Equal(t, domain.SelectionAutoSwitched, newest.view.Selection.State)
	switched := newest.view.Selection.Active.LinkID
	require.NotEmpty(t, switched)

	close(backend.release[2])
	stale := <-first
	require.NoError(t, stale.err)

	v, err = svc.Wait(ctx, "u1", id)
	require.NoError(t, err)
	require.Equal(t, uint64(3), v.Generation)
	require.Equal(t, switched, v.Selection.Active.LinkID)
	require.Len(t, v.Links, 1)
	require.Equal(t, switched, v.Links[0].ID)
	require.Equal(t, int32(1), src.fetches.Load(), "a superseded bootstrap must not restart the aggregation")
	require.Empty(t, v.Error)
}

func TestWatch_OpenResumesCachedEpisode(t *testing.T) {
	f := newWatchFixture(t)
	ctx := context.Background()
	_, err := f.cache.SetEpisode(ctx, "u1", domain.ContentTV, "1399", 3, 4)
	require.NoError(t, err)

	v, err := f.svc.Open(ctx, "u1", OpenRequest{Content: domain.Content{ID: "1399", Type: domain.ContentTV}})
	require.NoError(t, err)
	require.Equal(t, 3, v.Content.Season)
	require.Equal(t, 4, v.Content.Episode)
}

func TestWatch_BootstrapFailureKeepsExternals(t *testing.T) {
	f := newWatchFixture(t)
	f.backend.initErr = &CodedError{Code: "bootstrap_failed", Message: "down", Err: ErrBootstrapFailed}
	errs, cancel := f.bus.SubscribePrefix(TopicSessionError)
	defer cancel()

	v, err := f.svc.Open(context.Background(), "u1", OpenRequest{Content: domain.Content{ID: "550", Type: domain.ContentMovie}})
	require.Error(t, err)
	require.True(t, IsBootstrapFailure(err))
	require.Equal(t, "bootstrap_failed", v.Error)
	require.NotEmpty(t, v.Externals)
	require.Equal(t, domain.SelectionUsingExternal, v.Selection.State)

	select {
	case <-errs:
	case <-time.After(time.Second):
		t.Fatalf("expected session.error event")
	}
}

func TestWatch_ClientScoping(t *testing.T) {
	f := newWatchFixture(t)
	v, err := f.svc.Open(context.Background(), "u1", OpenRequest{Content: domain.Content{ID: "550", Type: domain.ContentMovie}})
	require.NoError(t, err)

	_, err = f.svc.Get("u2", v.ID)
	require.True(t, errors.Is(err, ErrNotFound))

	require.NoError(t, f.svc.Close("u1", v.ID))
	_, err = f.svc.Get("u1", v.ID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestWatch_SelectValidatesChoice(t *testing.T) {
	f := newWatchFixture(t, &gatedSource{name: "B"})
	ctx := context.Background()
	v, err := f.svc.Open(ctx, "u1", OpenRequest{Content: domain.Content{ID: "550", Type: domain.ContentMovie}, Wait: true})
	require.NoError(t, err)

	_, err = f.svc.Select(ctx, "u1", v.ID, SelectRequest{Kind: domain.ProviderExternal, Provider: "Nope"})
	require.ErrorIs(t, err, ErrInvalidSelection)
	_, err = f.svc.Select(ctx, "u1", v.ID, SelectRequest{Kind: domain.ProviderAggregated, LinkID: "missing"})
	require.ErrorIs(t, err, ErrInvalidSelection)

	v, err = f.svc.Select(ctx, "u1", v.ID, SelectRequest{Kind: domain.ProviderAggregated, LinkID: v.Links[0].ID})
	require.NoError(t, err)
	require.Equal(t, "B", v.Selection.Active.Provider)

	rec, ok, err := f.cache.Preference(ctx, "u1", domain.CategoryRegular)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, domain.AggregatedPreference, rec.ServerName)
}

func TestWatch_PublishesProgressForEveryProvider(t *testing.T) {
	f := newWatchFixture(t, &gatedSource{name: "A"}, &gatedSource{name: "B"}, &gatedSource{name: "C"})
	events, cancel := f.bus.SubscribePrefix("session.")
	defer cancel()

	_, err := f.svc.Open(context.Background(), "u1", OpenRequest{Content: domain.Content{ID: "550", Type: domain.ContentMovie}, Wait: true})
	require.NoError(t, err)

	progress, done := 0, 0
	timeout := time.After(time.Second)
	for progress < 3 || done < 1 {
		select {
		case evt := <-events:
			switch evt.Topic {
			case TopicSessionProgress:
				progress++
			case TopicSessionCompleted:
				done++
			}
		case <-timeout:
			t.Fatalf("got %d progress and %d completed events", progress, done)
		}
	}
}
