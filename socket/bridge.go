package socket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"papervault/pkg/logger"
)

// EventsChannel is the pub/sub channel carrying WSMessages between processes.
const EventsChannel = "events"

type redisPublisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

type Subscriber interface {
	Subscribe(ctx context.Context, channel string) (<-chan []byte, func(), error)
}

// RedisPublisher forwards messages to whichever process runs the hub.
type RedisPublisher struct {
	Client redisPublisher
}

func NewRedisPublisher(client redisPublisher) *RedisPublisher {
	return &RedisPublisher{Client: client}
}

func (p *RedisPublisher) Publish(ctx context.Context, msg WSMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	return p.Client.Publish(ctx, EventsChannel, data)
}

// Relay feeds messages published on EventsChannel into the hub until ctx is
// done or the subscription ends.
func (h *Hub) Relay(ctx context.Context, sub Subscriber) error {
	ch, unsubscribe, err := sub.Subscribe(ctx, EventsChannel)
	if err != nil {
		return err
	}
	defer unsubscribe()

	logger.Sugar.Infof("Relaying %s events into the hub", EventsChannel)
	for {
		select {
		case <-ctx.Done():
			return nil
		case data, ok := <-ch:
			if !ok {
				return nil
			}
			var msg WSMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				logger.Sugar.Errorf("Error unmarshalling relayed message: %v", err)
				continue
			}
			if err := h.Publish(ctx, msg); err != nil {
				if errors.Is(err, ErrHubBusy) {
					logger.Sugar.Warnf("Dropped relayed %s: %v", msg.Type, err)
					continue
				}
				return nil
			}
		}
	}
}
