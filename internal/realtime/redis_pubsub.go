package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/campuslink/matchmaker/internal/models"
)

const (
	// StatsChannel carries server_stats snapshots for operator dashboards.
	StatsChannel = "matchmaker:stats"
	// balanceChannelPrefix + stable id carries out-of-band balance changes.
	balanceChannelPrefix = "tokens:"
	eventTTL             = 5 * time.Second
)

// redisPayload is the message published to Redis.
type redisPayload struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
	At    int64           `json:"at"`
}

// RedisPubSub bridges stats and balance changes over Redis pub/sub.
type RedisPubSub struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisPubSub creates a Redis pub/sub bridge.
func NewRedisPubSub(client *redis.Client, logger *zap.Logger) *RedisPubSub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisPubSub{client: client, logger: logger}
}

// BalanceChannel returns the channel carrying balance changes of stableID.
func BalanceChannel(stableID string) string {
	return balanceChannelPrefix + stableID
}

func (r *RedisPubSub) publish(channel, event string, payload []byte) error {
	body, err := json.Marshal(redisPayload{Event: event, Data: payload, At: time.Now().Unix()})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), eventTTL)
	defer cancel()
	return r.client.Publish(ctx, channel, body).Err()
}

// PublishStats publishes a server_stats snapshot.
func (r *RedisPubSub) PublishStats(payload []byte) error {
	return r.publish(StatsChannel, EventServerStats, payload)
}

// PublishBalanceChange announces a new stored balance for change.StableID.
func (r *RedisPubSub) PublishBalanceChange(change models.BalanceChange) error {
	data, err := json.Marshal(change)
	if err != nil {
		return err
	}
	return r.publish(BalanceChannel(change.StableID), "balance_change", data)
}

// WatchBalance subscribes to balance changes of stableID and calls handler for each.
// Returns a cancel function to stop the subscription.
func (r *RedisPubSub) WatchBalance(stableID string, handler func(models.BalanceChange)) (cancel func(), err error) {
	channel := BalanceChannel(stableID)
	ctx, cancelCtx := context.WithCancel(context.Background())
	pubsub := r.client.Subscribe(ctx, channel)
	if _, err = pubsub.Receive(ctx); err != nil {
		cancelCtx()
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	ch := pubsub.Channel()
	go func() {
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				change, err := decodeBalanceChange(msg.Payload)
				if err != nil {
					r.logger.Warn("invalid balance change", zap.String("channel", channel), zap.Error(err))
					continue
				}
				handler(change)
			}
		}
	}()
	return cancelCtx, nil
}

func decodeBalanceChange(raw string) (models.BalanceChange, error) {
	var p redisPayload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return models.BalanceChange{}, err
	}
	var change models.BalanceChange
	if err := json.Unmarshal(p.Data, &change); err != nil {
		return models.BalanceChange{}, err
	}
	return change, nil
}
