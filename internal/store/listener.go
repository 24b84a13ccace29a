package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"schemedesk/api/internal/logging"
)

// DefaultChangeChannel is the channel the contracts_schemes trigger notifies.
const DefaultChangeChannel = "contracts_schemes_changes"

// Listener relays Postgres NOTIFY messages on one channel. It holds a
// dedicated connection outside the database/sql pool.
type Listener struct {
	dsn        string
	channel    string
	logger     *zap.Logger
	minBackoff time.Duration
	maxBackoff time.Duration
	// attach runs one connection until it fails. listening reports whether
	// LISTEN succeeded before the failure.
	attach func(ctx context.Context, notify func(), reconnect bool) (listening bool, err error)
}

func NewListener(dsn, channel string, logger *zap.Logger) *Listener {
	if channel == "" {
		channel = DefaultChangeChannel
	}
	l := &Listener{
		dsn:        dsn,
		channel:    channel,
		logger:     logging.OrNop(logger),
		minBackoff: 500 * time.Millisecond,
		maxBackoff: 30 * time.Second,
	}
	l.attach = l.session
	return l
}

// Listen blocks until ctx is done. notify runs once per notification and
// once after every reconnect, since changes may have been missed while the
// connection was down. The retry delay doubles while connecting fails and
// starts over once a connection got as far as LISTEN.
func (l *Listener) Listen(ctx context.Context, notify func()) error {
	backoff := l.minBackoff
	connected := false
	for {
		listening, err := l.attach(ctx, notify, connected)
		if ctx.Err() != nil {
			return nil
		}
		connected = true
		if listening {
			backoff = l.minBackoff
		}
		l.logger.Warn("change listener disconnected", zap.String("channel", l.channel), zap.Error(err), zap.Duration("retry_in", backoff))

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
		backoff *= 2
		if backoff > l.maxBackoff {
			backoff = l.maxBackoff
		}
	}
}

func (l *Listener) session(ctx context.Context, notify func(), reconnect bool) (bool, error) {
	conn, err := pgx.Connect(ctx, l.dsn)
	if err != nil {
		return false, fmt.Errorf("connect listener: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = conn.Close(closeCtx)
	}()

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{l.channel}.Sanitize()); err != nil {
		return false, fmt.Errorf("listen %s: %w", l.channel, err)
	}
	l.logger.Info("change listener attached", zap.String("channel", l.channel))
	if reconnect {
		notify()
	}

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return true, err
			}
			return true, fmt.Errorf("wait for notification: %w", err)
		}
		l.logger.Debug("change notification", zap.String("channel", n.Channel), zap.String("payload", n.Payload))
		notify()
	}
}
