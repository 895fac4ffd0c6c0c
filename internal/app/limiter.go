package app

import (
	"context"
	"sync"
)

// DynamicLimiter borne le nombre de requêtes provider simultanées, toutes sessions confondues.
// Le plafond suit /api/settings (SetLimit) sans redémarrage.
type DynamicLimiter struct {
	mu       sync.Mutex
	limit    int
	inFlight int
	// fermé puis recréé à chaque libération ou changement de plafond
	wake chan struct{}
}

// LimiterStats est exposé par /api/providers.
type LimiterStats struct {
	Limit    int `json:"limit"`
	InFlight int `json:"inFlight"`
}

func NewDynamicLimiter(limit int) *DynamicLimiter {
	return &DynamicLimiter{limit: max(limit, 1), wake: make(chan struct{})}
}

func (l *DynamicLimiter) Limit() int {
	return l.Stats().Limit
}

func (l *DynamicLimiter) Stats() LimiterStats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return LimiterStats{Limit: l.limit, InFlight: l.inFlight}
}

func (l *DynamicLimiter) SetLimit(limit int) {
	limit = max(limit, 1)
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.limit != limit {
		l.limit = limit
		l.broadcastLocked()
	}
}

// Acquire attend une place libre ou l'annulation de ctx.
func (l *DynamicLimiter) Acquire(ctx context.Context) error {
	for {
		l.mu.Lock()
		if l.inFlight < l.limit {
			l.inFlight++
			l.mu.Unlock()
			return nil
		}
		wake := l.wake
		l.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-wake:
		}
	}
}

func (l *DynamicLimiter) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.inFlight > 0 {
		l.inFlight--
	}
	l.broadcastLocked()
}

func (l *DynamicLimiter) broadcastLocked() {
	close(l.wake)
	l.wake = make(chan struct{})
}
