// Package session keeps one cart.Store per shopper session.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/utafrali/storefront-cart/internal/cart"
	"github.com/utafrali/storefront-cart/internal/storage"
	apperrors "github.com/utafrali/storefront-cart/pkg/errors"
	"github.com/utafrali/storefront-cart/pkg/validator"
)

var activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "cart_sessions_active",
	Help: "Number of cart sessions held in memory",
})

type entry struct {
	once     sync.Once
	store    *cart.Store
	lastSeen time.Time
}

// Registry opens stores lazily and forgets the ones that have been idle for
// longer than the idle timeout. Forgotten carts stay in storage and are
// reloaded on the next request.
type Registry struct {
	catalog   cart.Catalog
	kv        storage.KV
	keyPrefix string
	idle      time.Duration
	opts      []cart.Option
	logger    *slog.Logger
	now       func() time.Time

	mu       sync.Mutex
	sessions map[string]*entry
}

// NewRegistry creates a registry. Each session's cart is stored under
// keyPrefix + ":" + sessionID; opts are applied to every store.
func NewRegistry(catalog cart.Catalog, kv storage.KV, keyPrefix string, idle time.Duration, logger *slog.Logger, opts ...cart.Option) *Registry {
	return &Registry{
		catalog:   catalog,
		kv:        kv,
		keyPrefix: keyPrefix,
		idle:      idle,
		opts:      opts,
		logger:    logger,
		now:       time.Now,
		sessions:  make(map[string]*entry),
	}
}

// Key returns the storage key for sessionID.
func (r *Registry) Key(sessionID string) string {
	return r.keyPrefix + ":" + sessionID
}

// Store returns the store for sessionID, opening it on first use.
func (r *Registry) Store(ctx context.Context, sessionID string) (*cart.Store, error) {
	if err := validator.Var(sessionID, "required,session_id"); err != nil {
		return nil, apperrors.InvalidInput("session id " + err.Error())
	}

	r.mu.Lock()
	e, ok := r.sessions[sessionID]
	if !ok {
		e = &entry{}
		r.sessions[sessionID] = e
		activeSessions.Inc()
	}
	e.lastSeen = r.now()
	r.mu.Unlock()

	e.once.Do(func() {
		// A cancelled request must not make an existing cart load as empty.
		openCtx := context.WithoutCancel(ctx)
		opts := append([]cart.Option{cart.WithLogger(r.logger)}, r.opts...)
		opts = append(opts, cart.WithKey(r.Key(sessionID)))
		e.store = cart.Open(openCtx, r.catalog, r.kv, opts...)
	})
	return e.store, nil
}

// Len returns the number of sessions currently held.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Sweep drops sessions idle for longer than the idle timeout and returns how
// many were dropped. A request still holding an evicted Store may commit after
// the next request has reopened the session; the later commit wins.
func (r *Registry) Sweep() int {
	cutoff := r.now().Add(-r.idle)

	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for id, e := range r.sessions {
		if e.lastSeen.Before(cutoff) {
			delete(r.sessions, id)
			n++
		}
	}
	activeSessions.Sub(float64(n))
	return n
}

// Run sweeps periodically until ctx is done.
func (r *Registry) Run(ctx context.Context) {
	interval := r.idle / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.Sweep(); n > 0 {
				r.logger.DebugContext(ctx, "evicted idle cart sessions", slog.Int("count", n))
			}
		}
	}
}
