// Package cart holds a shopper's cart and validates every change against the
// catalog's stock before persisting it.
package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/utafrali/storefront-cart/internal/domain"
	"github.com/utafrali/storefront-cart/internal/notify"
	"github.com/utafrali/storefront-cart/internal/storage"
	apperrors "github.com/utafrali/storefront-cart/pkg/errors"
	"github.com/utafrali/storefront-cart/pkg/logger"
)

// DefaultKey is the storage key used when no other key is configured.
const DefaultKey = "@RocketShoes:cart"

// Catalog looks up stock and product data. Implementations must not cache
// stock.
type Catalog interface {
	Stock(ctx context.Context, productID int) (domain.Stock, error)
	Product(ctx context.Context, productID int) (domain.Product, error)
}

// Listener is told about every committed cart. Errors are logged and do not
// fail the operation.
type Listener interface {
	CartUpdated(ctx context.Context, key string, c domain.Cart) error
}

// Option configures a Store.
type Option func(*Store)

func WithKey(key string) Option {
	return func(s *Store) { s.key = key }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

func WithNotifier(n notify.Notifier) Option {
	return func(s *Store) { s.notifier = n }
}

func WithListeners(ls ...Listener) Option {
	return func(s *Store) { s.listeners = append(s.listeners, ls...) }
}

// Store owns one cart. It is safe for concurrent use, but concurrent
// mutations are last-write-wins: each operation works on the cart as it was
// when the operation started, and the later commit replaces the earlier one.
type Store struct {
	catalog   Catalog
	kv        storage.KV
	key       string
	notifier  notify.Notifier
	listeners []Listener
	logger    *slog.Logger

	mu   sync.RWMutex
	cart domain.Cart
}

// Open creates a Store and loads its cart from kv. A missing key, a failed
// read, or a value that does not decode into a valid cart (amounts of at
// least 1, no repeated product) all yield an empty cart.
func Open(ctx context.Context, catalog Catalog, kv storage.KV, opts ...Option) *Store {
	s := &Store{
		catalog:  catalog,
		kv:       kv,
		key:      DefaultKey,
		notifier: notify.Func(func(context.Context, string) {}),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.cart = s.load(ctx)
	return s
}

func (s *Store) load(ctx context.Context) domain.Cart {
	log := logger.WithContext(ctx, s.logger).With(slog.String("key", s.key))

	raw, err := s.kv.Get(ctx, s.key)
	if err != nil {
		if !errors.Is(err, apperrors.ErrNotFound) {
			log.WarnContext(ctx, "read cart snapshot failed, starting empty", slog.String("error", err.Error()))
		}
		return domain.Cart{}
	}

	var c domain.Cart
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		log.WarnContext(ctx, "malformed cart snapshot, starting empty", slog.String("error", err.Error()))
		return domain.Cart{}
	}
	if c == nil {
		return domain.Cart{}
	}
	if err := c.Validate(); err != nil {
		log.WarnContext(ctx, "invalid cart snapshot, starting empty", slog.String("error", err.Error()))
		return domain.Cart{}
	}
	return c
}

// Key returns the storage key the cart is persisted under.
func (s *Store) Key() string { return s.key }

// Cart returns a copy of the current cart.
func (s *Store) Cart() domain.Cart {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cart.Clone()
}

// Add puts one more unit of productID in the cart. A product already in the
// cart is checked against its stock; a product added for the first time is
// fetched from the catalog and added with amount 1 without a stock check.
func (s *Store) Add(ctx context.Context, productID int) (domain.Cart, error) {
	next := s.Cart()

	if i := next.Find(productID); i >= 0 {
		stock, err := s.catalog.Stock(ctx, productID)
		if err != nil {
			return nil, s.fail(ctx, OpAdd, KindFailed, fmt.Errorf("fetch stock %d: %w", productID, err))
		}
		if next[i].Amount+1 > stock.Amount {
			return nil, s.fail(ctx, OpAdd, KindOutOfStock, nil)
		}
		next[i].Amount++
	} else {
		product, err := s.catalog.Product(ctx, productID)
		if err != nil {
			return nil, s.fail(ctx, OpAdd, KindFailed, fmt.Errorf("fetch product %d: %w", productID, err))
		}
		next = append(next, domain.LineItem{Product: product, Amount: 1})
	}

	if err := s.commit(ctx, next); err != nil {
		return nil, s.fail(ctx, OpAdd, KindFailed, err)
	}
	return s.done(ctx, OpAdd, next), nil
}

// Remove deletes the line for productID. It makes no catalog calls.
func (s *Store) Remove(ctx context.Context, productID int) (domain.Cart, error) {
	next := s.Cart()

	i := next.Find(productID)
	if i < 0 {
		return nil, s.fail(ctx, OpRemove, KindProductNotFound, nil)
	}
	next = append(next[:i], next[i+1:]...)

	if err := s.commit(ctx, next); err != nil {
		return nil, s.fail(ctx, OpRemove, KindFailed, err)
	}
	return s.done(ctx, OpRemove, next), nil
}

// UpdateAmount sets the amount of productID to exactly amount after checking
// stock. An amount of zero or less is ignored: no lookup, no change and a nil
// error, with the current cart returned.
func (s *Store) UpdateAmount(ctx context.Context, productID, amount int) (domain.Cart, error) {
	if amount <= 0 {
		observe(OpUpdateAmount, resultIgnored)
		return s.Cart(), nil
	}

	stock, err := s.catalog.Stock(ctx, productID)
	if err != nil {
		return nil, s.fail(ctx, OpUpdateAmount, KindFailed, fmt.Errorf("fetch stock %d: %w", productID, err))
	}
	if amount > stock.Amount {
		return nil, s.fail(ctx, OpUpdateAmount, KindOutOfStock, nil)
	}

	next := s.Cart()
	i := next.Find(productID)
	if i < 0 {
		return nil, s.fail(ctx, OpUpdateAmount, KindProductNotFound, nil)
	}
	next[i].Amount = amount

	if err := s.commit(ctx, next); err != nil {
		return nil, s.fail(ctx, OpUpdateAmount, KindFailed, err)
	}
	return s.done(ctx, OpUpdateAmount, next), nil
}

// commit persists next and only then makes it the current cart, so memory
// never holds a cart that storage does not.
func (s *Store) commit(ctx context.Context, next domain.Cart) error {
	data, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("encode cart: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.kv.Set(ctx, s.key, string(data)); err != nil {
		return fmt.Errorf("persist cart: %w", err)
	}
	s.cart = next.Clone()
	return nil
}

func (s *Store) done(ctx context.Context, op Op, committed domain.Cart) domain.Cart {
	observe(op, resultOK)

	for _, l := range s.listeners {
		if err := l.CartUpdated(ctx, s.key, committed.Clone()); err != nil {
			logger.WithContext(ctx, s.logger).WarnContext(ctx, "cart listener failed",
				slog.String("operation", string(op)),
				slog.String("error", err.Error()),
			)
		}
	}
	return committed
}

func (s *Store) fail(ctx context.Context, op Op, kind Kind, cause error) *Error {
	e := &Error{Op: op, Kind: kind, Err: cause}
	observe(op, kind.String())

	log := logger.WithContext(ctx, s.logger)
	attrs := []any{
		slog.String("operation", string(op)),
		slog.String("kind", kind.String()),
		slog.String("key", s.key),
	}
	if kind == KindFailed {
		log.ErrorContext(ctx, "cart operation failed", append(attrs, slog.Any("error", cause))...)
	} else {
		log.InfoContext(ctx, "cart operation rejected", attrs...)
	}

	s.notifier.Notify(ctx, e.Message())
	return e
}
