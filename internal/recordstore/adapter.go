// Package recordstore is the only component that talks to the scheme table.
package recordstore

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"schemedesk/api/internal/changefeed"
	"schemedesk/api/internal/logging"
	"schemedesk/api/internal/metrics"
	"schemedesk/api/internal/record"
)

const DefaultTimeout = 30 * time.Second

// Table is the raw row access the adapter drives.
type Table interface {
	SelectAll(ctx context.Context) ([]record.Raw, error)
	Insert(ctx context.Context, payload record.Payload) error
	Update(ctx context.Context, key string, payload record.Payload) error
	Delete(ctx context.Context, key string) error
}

// Feed delivers change notices for the watched table.
type Feed interface {
	Subscribe(fn func()) (unsubscribe func())
}

type Adapter struct {
	table     Table
	feed      Feed
	publisher changefeed.Publisher
	timeout   time.Duration
	logger    *zap.Logger
}

type Option func(*Adapter)

// WithTimeout bounds every store call. Expiry is reported as a persistence failure.
func WithTimeout(d time.Duration) Option {
	return func(a *Adapter) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// WithPublisher announces successful writes so other subscribers refetch.
func WithPublisher(p changefeed.Publisher) Option {
	return func(a *Adapter) { a.publisher = p }
}

func WithLogger(logger *zap.Logger) Option {
	return func(a *Adapter) { a.logger = logging.OrNop(logger) }
}

func New(table Table, feed Feed, opts ...Option) *Adapter {
	a := &Adapter{
		table:   table,
		feed:    feed,
		timeout: DefaultTimeout,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// FetchAll returns every row in store order. Callers must not rely on any
// order beyond what the schema's order column provides.
func (a *Adapter) FetchAll(ctx context.Context) ([]record.Raw, error) {
	var rows []record.Raw
	err := a.call(ctx, "fetch", func(ctx context.Context) error {
		var err error
		rows, err = a.table.SelectAll(ctx)
		return err
	})
	return rows, err
}

func (a *Adapter) Insert(ctx context.Context, payload record.Payload) error {
	if len(payload) == 0 {
		return &ValidationError{Op: "insert", Reason: "payload is empty"}
	}
	if err := a.call(ctx, "insert", func(ctx context.Context) error {
		return a.table.Insert(ctx, payload)
	}); err != nil {
		return err
	}
	a.announce(ctx)
	return nil
}

func (a *Adapter) Update(ctx context.Context, id string, payload record.Payload) error {
	if err := checkID("update", id); err != nil {
		return err
	}
	if len(payload) == 0 {
		return &ValidationError{Op: "update", Reason: "payload is empty"}
	}
	if err := a.call(ctx, "update", func(ctx context.Context) error {
		return a.table.Update(ctx, id, payload)
	}); err != nil {
		return err
	}
	a.announce(ctx)
	return nil
}

func (a *Adapter) Delete(ctx context.Context, id string) error {
	if err := checkID("delete", id); err != nil {
		return err
	}
	if err := a.call(ctx, "delete", func(ctx context.Context) error {
		return a.table.Delete(ctx, id)
	}); err != nil {
		return err
	}
	a.announce(ctx)
	return nil
}

// SubscribeToChanges calls fn after any insert, update or delete on the
// table, including this process's own writes.
func (a *Adapter) SubscribeToChanges(fn func()) (unsubscribe func()) {
	return a.feed.Subscribe(fn)
}

func checkID(op, id string) error {
	switch {
	case strings.TrimSpace(id) == "":
		return &ValidationError{Op: op, Reason: "identifier is required"}
	case record.IsPlaceholderID(id):
		return &ValidationError{Op: op, Reason: "record has not been saved yet"}
	}
	return nil
}

func (a *Adapter) call(ctx context.Context, op string, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	err := fn(ctx)
	metrics.StoreOperations.WithLabelValues(op, metrics.Result(err)).Inc()
	if err != nil {
		a.logger.Error("record store call failed", zap.String("op", op), zap.Error(err))
		return &PersistenceError{Op: op, Err: err}
	}
	return nil
}

func (a *Adapter) announce(ctx context.Context) {
	if a.publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := a.publisher.Publish(ctx); err != nil {
		a.logger.Warn("change announcement failed", zap.Error(err))
	}
}
