package internal

import (
	"context"

	"go.uber.org/zap"

	"github.com/Top-G-420/Rue-Organics/internal/model"
)

// OrderSource is the read side the coordinator converges on. IService
// satisfies it; the authoritative state always comes from storage.
type OrderSource interface {
	GetOrder(context.Context, string, int) (model.OrderOutput, error)
	GetOrders(context.Context, int) ([]model.OrderOutput, error)
}

// SyncCoordinator keeps a watched order view converged on the stored state.
// It never merges local deltas: every feed signal or refresh request
// discards the derived view and refetches the authoritative record, so a
// stale optimistic write is simply overwritten by the next snapshot.
type SyncCoordinator struct {
	source OrderSource
	feed   IFeed
	logger *zap.SugaredLogger
}

func NewSyncCoordinator(source OrderSource, feed IFeed, logger *zap.SugaredLogger) *SyncCoordinator {
	return &SyncCoordinator{source: source, feed: feed, logger: logger}
}

// WatchOrder streams snapshots of one order. The first snapshot is delivered
// immediately; later ones follow change-feed signals scoped to the order
// number, or explicit refresh requests (refresh may be nil). The snapshot
// channel is closed and the feed subscription released when ctx ends.
func (s *SyncCoordinator) WatchOrder(ctx context.Context, number string, uid int, refresh <-chan struct{}) (<-chan model.OrderOutput, error) {
	first, err := s.source.GetOrder(ctx, number, uid)
	if err != nil {
		return nil, err
	}

	changes, unsubscribe := s.feed.Subscribe(ChangeScope{Number: number})

	out := make(chan model.OrderOutput, 1)
	out <- first

	go func() {
		defer close(out)
		defer unsubscribe()

		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-changes:
				if !ok {
					// Feed shut down; close the stream so the watcher can
					// reconnect instead of going quietly stale.
					s.logger.Warnf("change feed closed, ending watch of order %s", number)
					return
				}
			case <-refresh:
			}

			fresh, err := s.source.GetOrder(ctx, number, uid)
			if err != nil {
				// Transient by assumption; the next signal retries, and the
				// stored record stays authoritative either way.
				s.logger.Errorf("refetch of order %s failed: %s", number, err)
				continue
			}

			select {
			case out <- fresh:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

// WatchOrders is WatchOrder for the owner's whole order list, scoped by
// owner id instead of order number.
func (s *SyncCoordinator) WatchOrders(ctx context.Context, uid int, refresh <-chan struct{}) (<-chan []model.OrderOutput, error) {
	first, err := s.source.GetOrders(ctx, uid)
	if err != nil {
		return nil, err
	}

	changes, unsubscribe := s.feed.Subscribe(ChangeScope{OwnerID: uid})

	out := make(chan []model.OrderOutput, 1)
	out <- first

	go func() {
		defer close(out)
		defer unsubscribe()

		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-changes:
				if !ok {
					s.logger.Warnf("change feed closed, ending watch for user %d", uid)
					return
				}
			case <-refresh:
			}

			fresh, err := s.source.GetOrders(ctx, uid)
			if err != nil {
				s.logger.Errorf("refetch of orders for user %d failed: %s", uid, err)
				continue
			}

			select {
			case out <- fresh:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}
