package domain

import "errors"

type SelectionState string

const (
	SelectionIdle          SelectionState = "idle"
	SelectionBootstrapping SelectionState = "bootstrapping"
	SelectionAwaitingFirst SelectionState = "awaiting_first_provider"
	SelectionUsingExternal SelectionState = "using_external_provider"
	SelectionAutoSwitched  SelectionState = "auto_switched"
	SelectionUserSelected  SelectionState = "user_selected"
)

// IsTerminal: plus aucune transition automatique possible pour la session.
func (s SelectionState) IsTerminal() bool {
	return s == SelectionAutoSwitched || s == SelectionUserSelected
}

var ErrInvalidTransition = errors.New("invalid selection state transition")

func CanTransition(from, to SelectionState) bool {
	if from == to {
		return true
	}
	// Un choix explicite est toujours accepté, sauf depuis idle.
	if to == SelectionUserSelected {
		return from != SelectionIdle
	}
	switch from {
	case SelectionIdle:
		return to == SelectionBootstrapping
	case SelectionBootstrapping:
		return to == SelectionAwaitingFirst || to == SelectionUsingExternal
	case SelectionAwaitingFirst:
		return to == SelectionAutoSwitched
	case SelectionUsingExternal, SelectionAutoSwitched, SelectionUserSelected:
		return false
	default:
		return false
	}
}

// ActiveSource est la source actuellement affichée dans le lecteur.
type ActiveSource struct {
	Kind     ProviderKind `json:"kind"`
	Provider string       `json:"provider"`

	// LinkID n'est renseigné que pour une source agrégée.
	LinkID   string `json:"linkId,omitempty"`
	EmbedURL string `json:"embedUrl,omitempty"`
}

func (a ActiveSource) IsZero() bool {
	return a.Provider == "" && a.LinkID == ""
}
