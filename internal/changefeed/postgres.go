package changefeed

import (
	"context"

	"schemedesk/api/internal/store"
)

// Postgres feeds trigger notifications from the scheme table into a hub.
type Postgres struct {
	listener *store.Listener
}

func NewPostgres(listener *store.Listener) *Postgres {
	return &Postgres{listener: listener}
}

func (p *Postgres) Run(ctx context.Context, hub *Hub) error {
	return p.listener.Listen(ctx, hub.Notify)
}
