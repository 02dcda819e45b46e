/*
engine.go - Sponsorship dues and payment allocation engine

PURPOSE:
  Engine is the entry point of the kafala core. It holds the store
  capability, the clock and the logger, and exposes every operation as a
  method that runs in exactly one atomic unit (TxStore.WithTx).

COMPOSITION:
  Each public method has a lowercase twin taking the transactional Store.
  Public methods open the unit; twins compose inside it. A payment creation
  therefore runs recompute, generation, allocation and the payment insert in
  a single transaction without nesting WithTx calls.

CLOCK:
  "Now" is read once per operation and passed down, so every "active"
  decision inside one unit agrees on the same instant.

SEE ALSO:
  - recompute.go: Active count and due amounts
  - generator.go: Monthly schedule
  - allocator.go: Equal split + FIFO per beneficiary
  - lifecycle.go: Sponsorship create/close/reschedule
  - payments.go: Payment create/delete
*/
package kafala

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Engine runs the kafala operations against a transactional store.
type Engine struct {
	store TxStore
	now   func() time.Time
	newID func() string
	log   *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces time.Now (tests pin the clock with it).
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithLogger sets the engine logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithIDGenerator replaces the UUID generator used for new records.
func WithIDGenerator(fn func() string) Option {
	return func(e *Engine) { e.newID = fn }
}

// NewEngine creates an engine over store.
func NewEngine(store TxStore, opts ...Option) *Engine {
	e := &Engine{
		store: store,
		now:   time.Now,
		newID: uuid.NewString,
		log:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Store returns the underlying store (read paths in the API use it directly).
func (e *Engine) Store() TxStore { return e.store }

// Now returns the engine clock, in UTC.
func (e *Engine) Now() time.Time { return e.now().UTC() }

// errRollback aborts a unit whose writes must not survive (preview mode).
var errRollback = errors.New("rollback requested")

// readOnly runs fn in a unit that is always rolled back.
func (e *Engine) readOnly(ctx context.Context, fn func(Store) error) error {
	err := e.store.WithTx(ctx, func(s Store) error {
		if err := fn(s); err != nil {
			return err
		}
		return errRollback
	})
	if errors.Is(err, errRollback) {
		return nil
	}
	return err
}
