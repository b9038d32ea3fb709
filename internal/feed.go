package internal

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/jackc/pgx/v4"
	"go.uber.org/zap"
)

const (
	ordersChannel    = "orders_changed"
	feedRetryInitial = time.Second
	feedRetryMax     = 30 * time.Second
)

// OrderChange is the payload pg_notify sends from the orders trigger.
type OrderChange struct {
	Number  string `json:"number"`
	OwnerID int    `json:"owner_id"`
}

// ChangeScope filters feed notifications to one order or to all orders of
// one owner. An order-number scope takes precedence when both are set.
type ChangeScope struct {
	Number  string
	OwnerID int
}

func (s ChangeScope) matches(c OrderChange) bool {
	if s.Number != "" {
		return s.Number == c.Number
	}
	return s.OwnerID != 0 && s.OwnerID == c.OwnerID
}

type IFeed interface {
	Subscribe(ChangeScope) (<-chan OrderChange, func())
}

// Feed listens on the orders_changed Postgres channel and fans notifications
// out to scoped subscribers. One dedicated connection serves all watchers.
type Feed struct {
	connString string
	conn       *pgx.Conn
	logger     *zap.SugaredLogger

	mu   sync.Mutex
	next int
	subs map[int]feedSub
}

type feedSub struct {
	scope ChangeScope
	ch    chan OrderChange
}

func NewFeed(ctx context.Context, connString string, logger *zap.SugaredLogger) (*Feed, error) {
	conn, err := listenConn(ctx, connString)
	if err != nil {
		return nil, err
	}

	return &Feed{connString: connString, conn: conn, logger: logger, subs: map[int]feedSub{}}, nil
}

func listenConn(ctx context.Context, connString string) (*pgx.Conn, error) {
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return nil, err
	}

	if _, err = conn.Exec(ctx, "LISTEN "+ordersChannel); err != nil {
		conn.Close(ctx)
		return nil, err
	}
	return conn, nil
}

// Run dispatches notifications until ctx ends. A lost connection is redialed
// with capped backoff; subscribers get a synthetic signal after each
// reconnect so they refetch whatever changed during the gap. On exit every
// subscriber channel is closed.
func (f *Feed) Run(ctx context.Context) error {
	defer f.closeSubs()

	conn := f.conn
	for {
		err := f.listen(ctx, conn)
		conn.Close(context.Background())
		if ctx.Err() != nil {
			return nil
		}
		f.logger.Errorf("orders feed connection lost: %s", err)

		if conn, err = f.reconnect(ctx); err != nil {
			return nil
		}
		f.resignal()
	}
}

func (f *Feed) listen(ctx context.Context, conn *pgx.Conn) error {
	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return err
		}

		var c OrderChange
		if err = json.Unmarshal([]byte(n.Payload), &c); err != nil {
			f.logger.Errorf("unreadable change payload %q: %s", n.Payload, err)
			continue
		}
		f.dispatch(c)
	}
}

func (f *Feed) reconnect(ctx context.Context) (*pgx.Conn, error) {
	delay := feedRetryInitial
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}

		conn, err := listenConn(ctx, f.connString)
		if err == nil {
			return conn, nil
		}
		f.logger.Errorf("orders feed reconnect failed: %s", err)

		if delay < feedRetryMax {
			delay *= 2
		}
	}
}

// resignal nudges every subscriber with a change matching its own scope;
// notifications sent while the connection was down are gone, so watchers
// have to refetch.
func (f *Feed) resignal() {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, sub := range f.subs {
		select {
		case sub.ch <- OrderChange{Number: sub.scope.Number, OwnerID: sub.scope.OwnerID}:
		default:
		}
	}
}

func (f *Feed) closeSubs() {
	f.mu.Lock()
	defer f.mu.Unlock()

	for id, sub := range f.subs {
		close(sub.ch)
		delete(f.subs, id)
	}
}

func (f *Feed) dispatch(c OrderChange) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, sub := range f.subs {
		if !sub.scope.matches(c) {
			continue
		}
		select {
		case sub.ch <- c:
		default: // watcher already has a pending signal, it refetches anyway
		}
	}
}

// Subscribe registers interest in changes matching scope. The returned
// cancel func must be called when the watch ends; after it returns no more
// sends happen on the channel.
func (f *Feed) Subscribe(scope ChangeScope) (<-chan OrderChange, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := f.next
	f.next++
	ch := make(chan OrderChange, 1)
	f.subs[id] = feedSub{scope: scope, ch: ch}

	return ch, func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.subs, id)
	}
}
