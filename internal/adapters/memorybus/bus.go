package memorybus

import (
	"strings"
	"sync"

	"github.com/Guilhem-Bonnet/streamhub/internal/ports"
)

const subscriberBuffer = 64

type subscriber struct {
	ch     chan ports.Event
	prefix string
}

// Bus diffuse les événements (progression d'agrégation, changements de source) aux abonnés SSE/websocket.
type Bus struct {
	mu    sync.Mutex
	subs  map[*subscriber]struct{}
	alive bool
}

func New() *Bus {
	return &Bus{subs: make(map[*subscriber]struct{}), alive: true}
}

func (b *Bus) Publish(topic string, payload []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.alive {
		return
	}
	evt := ports.Event{Topic: topic, Payload: payload}
	for s := range b.subs {
		if s.prefix != "" && !strings.HasPrefix(topic, s.prefix) {
			continue
		}
		select {
		case s.ch <- evt:
		default:
			// drop si le client est trop lent
		}
	}
}

func (b *Bus) Subscribe() (<-chan ports.Event, func()) {
	return b.SubscribePrefix("")
}

// SubscribePrefix ne reçoit que les topics commençant par prefix ("" = tout).
func (b *Bus) SubscribePrefix(prefix string) (<-chan ports.Event, func()) {
	s := &subscriber{ch: make(chan ports.Event, subscriberBuffer), prefix: prefix}
	b.mu.Lock()
	if !b.alive {
		close(s.ch)
		b.mu.Unlock()
		return s.ch, func() {}
	}
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if _, ok := b.subs[s]; ok {
			delete(b.subs, s)
			close(s.ch)
		}
		b.mu.Unlock()
	}

	return s.ch, cancel
}

// Close ferme tous les abonnements; les Publish suivants sont ignorés.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.alive {
		return
	}
	b.alive = false
	for s := range b.subs {
		close(s.ch)
		delete(b.subs, s)
	}
}
