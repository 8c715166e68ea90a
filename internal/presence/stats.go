package presence

import (
	"context"

	"go.uber.org/zap"

	"github.com/campuslink/matchmaker/internal/models"
)

// Stats returns a live snapshot computed on the event loop.
func (c *Coordinator) Stats(ctx context.Context) (models.AggregateStats, error) {
	result := make(chan models.AggregateStats, 1)
	select {
	case c.inbox <- func() { result <- c.snapshot() }:
	case <-c.stopped:
		return models.AggregateStats{}, ErrStopped
	case <-ctx.Done():
		return models.AggregateStats{}, ctx.Err()
	}
	select {
	case s := <-result:
		return s, nil
	case <-c.stopped:
		return models.AggregateStats{}, ErrStopped
	case <-ctx.Done():
		return models.AggregateStats{}, ctx.Err()
	}
}

func (c *Coordinator) snapshot() models.AggregateStats {
	return models.NewAggregateStats(
		c.totalUsers,
		len(c.participants),
		c.queue.Lengths().Total,
		2*c.rooms.ActiveCount(),
	)
}

// pushStats publishes the snapshot and refreshes the registered-user count for the next tick.
func (c *Coordinator) pushStats() {
	s := c.snapshot()
	c.deps.Metrics.ObserveStats(s)
	if pub := c.deps.Publisher; pub != nil {
		c.background(func(context.Context) { pub.PublishStats(s) })
	}
	c.refreshTotalUsers()
}

func (c *Coordinator) refreshTotalUsers() {
	store := c.deps.Store
	if store == nil {
		return
	}
	c.background(func(ctx context.Context) {
		n, err := store.CountProfiles(ctx)
		if err != nil {
			c.log.Warn("count profiles", zap.Error(err))
			return
		}
		c.post(func() { c.totalUsers = n })
	})
}
