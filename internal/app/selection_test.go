package app

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Guilhem-Bonnet/streamhub/internal/domain"
)

func tvContent() domain.Content {
	return domain.Content{ID: "1399", Type: domain.ContentTV, Season: 1, Episode: 2}
}

func TestSelection_BootstrapAggregatedPreferenceAwaitsFirstProvider(t *testing.T) {
	p := NewSelectionPolicy(tvContent())
	v, err := p.Bootstrap(domain.AggregatedPreference, DefaultExternalProviders())
	require.NoError(t, err)
	require.Equal(t, domain.SelectionAwaitingFirst, v.State)
	require.True(t, v.Active.IsZero())
	require.Equal(t, AggregateEager, p.Mode())
}

func TestSelection_BootstrapCachedExternal(t *testing.T) {
	p := NewSelectionPolicy(tvContent())
	v, err := p.Bootstrap("embed.su", DefaultExternalProviders())
	require.NoError(t, err)
	require.Equal(t, domain.SelectionUsingExternal, v.State)
	require.Equal(t, "Embed.su", v.Active.Provider)
	require.Equal(t, "https://embed.su/embed/tv/1399/1/2", v.Active.EmbedURL)
	require.Equal(t, AggregateFull, p.Mode())
}

func TestSelection_BootstrapUnknownPreferenceFallsBackToDefault(t *testing.T) {
	p := NewSelectionPolicy(tvContent())
	v, err := p.Bootstrap("GoneProvider", DefaultExternalProviders())
	require.NoError(t, err)
	require.Equal(t, domain.SelectionUsingExternal, v.State)
	require.Equal(t, "VidSrc", v.Active.Provider)
}

func TestSelection_BootstrapTwiceFails(t *testing.T) {
	p := NewSelectionPolicy(tvContent())
	_, err := p.Bootstrap("", DefaultExternalProviders())
	require.NoError(t, err)
	_, err = p.Bootstrap("", DefaultExternalProviders())
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestSelection_AutoSwitchFiresOnce(t *testing.T) {
	p := NewSelectionPolicy(tvContent())
	_, err := p.Bootstrap(domain.AggregatedPreference, DefaultExternalProviders())
	require.NoError(t, err)

	active, switched := p.OnProviderResult(nil)
	require.False(t, switched)
	require.True(t, active.IsZero())

	first := []domain.LinkRecord{{ID: "B-1080p", Server: "B", Quality: "1080p"}}
	active, switched = p.OnProviderResult(first)
	require.True(t, switched)
	require.Equal(t, "B-1080p", active.LinkID)
	require.Equal(t, domain.SelectionAutoSwitched, p.State())

	better := []domain.LinkRecord{{ID: "C-2160p", Server: "C", Quality: "2160p"}}
	active, switched = p.OnProviderResult(better)
	require.False(t, switched)
	require.Equal(t, "B-1080p", active.LinkID)
}

func TestSelection_UserChoiceIsSticky(t *testing.T) {
	p := NewSelectionPolicy(tvContent())
	_, err := p.Bootstrap(domain.AggregatedPreference, DefaultExternalProviders())
	require.NoError(t, err)

	_, switched := p.OnProviderResult([]domain.LinkRecord{{ID: "B-1080p", Server: "B", Quality: "1080p"}})
	require.True(t, switched)

	choice := domain.ActiveSource{Kind: domain.ProviderExternal, Provider: "X"}
	v, err := p.UserSelect(choice)
	require.NoError(t, err)
	require.Equal(t, domain.SelectionUserSelected, v.State)
	require.True(t, v.Latched)

	active, switched := p.OnProviderResult([]domain.LinkRecord{{ID: "B-720p", Server: "B", Quality: "720p"}})
	require.False(t, switched)
	require.Equal(t, "X", active.Provider)
	require.Equal(t, AggregateFull, p.Mode())
}

func TestSelection_UserChoiceBeforeFirstResultSuppressesAutoSwitch(t *testing.T) {
	p := NewSelectionPolicy(tvContent())
	_, err := p.Bootstrap(domain.AggregatedPreference, DefaultExternalProviders())
	require.NoError(t, err)

	_, err = p.UserSelect(domain.ActiveSource{Kind: domain.ProviderExternal, Provider: "VidLink"})
	require.NoError(t, err)

	active, switched := p.OnProviderResult([]domain.LinkRecord{{ID: "A-1080p", Server: "A"}})
	require.False(t, switched)
	require.Equal(t, "VidLink", active.Provider)
}

func TestSelection_UserSelectRejectsIdleAndEmpty(t *testing.T) {
	p := NewSelectionPolicy(tvContent())
	_, err := p.UserSelect(domain.ActiveSource{})
	require.ErrorIs(t, err, ErrInvalidSelection)
	_, err = p.UserSelect(domain.ActiveSource{Kind: domain.ProviderExternal, Provider: "VidSrc"})
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestSelection_NextSessionKeepsExternalProvider(t *testing.T) {
	p := NewSelectionPolicy(tvContent())
	_, err := p.Bootstrap("", DefaultExternalProviders())
	require.NoError(t, err)
	_, err = p.UserSelect(domain.ActiveSource{Kind: domain.ProviderExternal, Provider: "AutoEmbed"})
	require.NoError(t, err)

	next := tvContent()
	next.Episode = 3
	n := p.NextSession(next, DefaultExternalProviders())
	v := n.View()
	require.Equal(t, domain.SelectionUsingExternal, v.State)
	require.False(t, v.Latched)
	require.Equal(t, "AutoEmbed", v.Active.Provider)
	require.Equal(t, "https://player.autoembed.cc/embed/tv/1399/1/3", v.Active.EmbedURL)
}

func TestSelection_NextSessionFromAggregatedRearmsAutoSwitch(t *testing.T) {
	p := NewSelectionPolicy(tvContent())
	_, err := p.Bootstrap(domain.AggregatedPreference, DefaultExternalProviders())
	require.NoError(t, err)
	_, switched := p.OnProviderResult([]domain.LinkRecord{{ID: "B-1080p", Server: "B"}})
	require.True(t, switched)

	n := p.NextSession(tvContent(), DefaultExternalProviders())
	require.Equal(t, domain.SelectionAwaitingFirst, n.State())
	_, switched = n.OnProviderResult([]domain.LinkRecord{{ID: "B-720p", Server: "B"}})
	require.True(t, switched)
}

func TestSelection_NextSessionExternalMissingFallsBackToDefault(t *testing.T) {
	externals := []domain.ProviderDescriptor{
		{Name: "Only", Kind: domain.ProviderExternal, Working: true, TVTemplate: "https://only.example/{id}/{season}/{episode}"},
	}
	p := NewSelectionPolicy(tvContent())
	_, err := p.Bootstrap("", DefaultExternalProviders())
	require.NoError(t, err)

	n := p.NextSession(tvContent(), externals)
	require.Equal(t, "Only", n.Active().Provider)
}

func TestPreferenceFor(t *testing.T) {
	require.Equal(t, domain.AggregatedPreference, PreferenceFor(domain.ActiveSource{Kind: domain.ProviderAggregated, Provider: "B", LinkID: "x"}))
	require.Equal(t, "VidSrc", PreferenceFor(domain.ActiveSource{Kind: domain.ProviderExternal, Provider: "VidSrc"}))
}
