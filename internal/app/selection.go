package app

import (
	"strings"
	"sync"

	"github.com/Guilhem-Bonnet/streamhub/internal/domain"
)

// SelectionPolicy décide de la source active d'une session de visionnage.
//
// idle -> bootstrapping -> awaiting_first_provider | using_external_provider;
// awaiting_first_provider -> auto_switched au premier résultat agrégé (une seule fois);
// un choix explicite mène à user_selected depuis n'importe quel état et verrouille la session.
type SelectionPolicy struct {
	mu      sync.Mutex
	content domain.Content
	state   domain.SelectionState
	active  domain.ActiveSource
	latched bool
}

func NewSelectionPolicy(content domain.Content) *SelectionPolicy {
	return &SelectionPolicy{content: content, state: domain.SelectionIdle}
}

type SelectionView struct {
	State   domain.SelectionState `json:"state"`
	Active  domain.ActiveSource   `json:"active"`
	Latched bool                  `json:"latched"`
}

func (p *SelectionPolicy) View() SelectionView {
	p.mu.Lock()
	defer p.mu.Unlock()
	return SelectionView{State: p.state, Active: p.active, Latched: p.latched}
}

func (p *SelectionPolicy) State() domain.SelectionState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *SelectionPolicy) Active() domain.ActiveSource {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// Mode: l'agrégateur n'a besoin de rendre la main tôt que si un auto-switch est armé.
func (p *SelectionPolicy) Mode() AggregationMode {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == domain.SelectionAwaitingFirst && !p.latched {
		return AggregateEager
	}
	return AggregateFull
}

func (p *SelectionPolicy) transitionLocked(to domain.SelectionState) error {
	if !domain.CanTransition(p.state, to) {
		return domain.ErrInvalidTransition
	}
	p.state = to
	return nil
}

// Bootstrap applique la préférence mémorisée (nom de serveur, AggregatedPreference ou "").
func (p *SelectionPolicy) Bootstrap(preference string, externals []domain.ProviderDescriptor) (SelectionView, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.transitionLocked(domain.SelectionBootstrapping); err != nil {
		return SelectionView{}, err
	}

	preference = strings.TrimSpace(preference)
	switch {
	case strings.EqualFold(preference, domain.AggregatedPreference):
		p.awaitLocked()
	case preference != "" && containsProvider(externals, preference):
		p.useExternalLocked(externals, preference)
	default:
		if def, ok := DefaultExternal(externals); ok {
			p.useExternalLocked(externals, def.Name)
		} else {
			// Aucun lecteur externe pour ce type de contenu: seules les sources agrégées restent.
			p.awaitLocked()
		}
	}
	return SelectionView{State: p.state, Active: p.active, Latched: p.latched}, nil
}

func (p *SelectionPolicy) awaitLocked() {
	p.state = domain.SelectionAwaitingFirst
	p.active = domain.ActiveSource{}
}

func (p *SelectionPolicy) useExternalLocked(externals []domain.ProviderDescriptor, name string) {
	p.state = domain.SelectionUsingExternal
	p.active = domain.ActiveSource{Kind: domain.ProviderExternal, Provider: name}
	for _, e := range externals {
		if strings.EqualFold(e.Name, name) {
			p.active.Provider = e.Name
			if u, ok := EmbedURL(e, p.content); ok {
				p.active.EmbedURL = u
			}
			break
		}
	}
}

// OnProviderResult est appelé à chaque arrivée de liens agrégés (triés).
// Renvoie true si la source active vient de basculer automatiquement.
func (p *SelectionPolicy) OnProviderResult(links []domain.LinkRecord) (domain.ActiveSource, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.latched || p.state != domain.SelectionAwaitingFirst || len(links) == 0 {
		return p.active, false
	}
	if err := p.transitionLocked(domain.SelectionAutoSwitched); err != nil {
		return p.active, false
	}
	best := links[0]
	p.active = domain.ActiveSource{Kind: domain.ProviderAggregated, Provider: best.Server, LinkID: best.ID}
	return p.active, true
}

// UserSelect enregistre un choix explicite. Le verrou ne se relâche qu'avec une nouvelle session.
func (p *SelectionPolicy) UserSelect(choice domain.ActiveSource) (SelectionView, error) {
	if choice.IsZero() {
		return SelectionView{}, ErrInvalidSelection
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.transitionLocked(domain.SelectionUserSelected); err != nil {
		return SelectionView{}, err
	}
	p.active = choice
	p.latched = true
	return SelectionView{State: p.state, Active: p.active, Latched: p.latched}, nil
}

// NextSession prépare la politique du prochain épisode: verrou réarmé, même lecteur externe s'il est encore proposé,
// attente du premier provider si la session courante était sur une source agrégée.
func (p *SelectionPolicy) NextSession(content domain.Content, externals []domain.ProviderDescriptor) *SelectionPolicy {
	p.mu.Lock()
	prevState, prevActive := p.state, p.active
	p.mu.Unlock()

	next := NewSelectionPolicy(content)
	next.state = domain.SelectionBootstrapping
	switch {
	case prevActive.Kind == domain.ProviderExternal && containsProvider(externals, prevActive.Provider):
		next.useExternalLocked(externals, prevActive.Provider)
	case prevActive.Kind == domain.ProviderAggregated || prevState == domain.SelectionAwaitingFirst:
		next.awaitLocked()
	default:
		if def, ok := DefaultExternal(externals); ok {
			next.useExternalLocked(externals, def.Name)
		} else {
			next.awaitLocked()
		}
	}
	return next
}

// PreferenceFor renvoie la valeur à mémoriser pour une source choisie par l'utilisateur.
func PreferenceFor(a domain.ActiveSource) string {
	if a.Kind == domain.ProviderAggregated {
		return domain.AggregatedPreference
	}
	return a.Provider
}
