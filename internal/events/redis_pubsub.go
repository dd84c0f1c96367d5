package events

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/maumercado/claim-resolver/internal/logger"
)

const (
	channelPrefix = "taskqueue:events:"
	routePrefix   = "taskqueue:routes:"
)

// RedisPubSub implements Publisher using Redis Pub/Sub.
type RedisPubSub struct {
	client      *redis.Client
	subscribers map[string]*redis.PubSub
	mu          sync.RWMutex
}

// NewRedisPubSub creates a new Redis Pub/Sub publisher.
func NewRedisPubSub(client *redis.Client) *RedisPubSub {
	return &RedisPubSub{
		client:      client,
		subscribers: make(map[string]*redis.PubSub),
	}
}

// Publish publishes an event to its type channel.
func (r *RedisPubSub) Publish(ctx context.Context, event *Event) error {
	channel := r.channelName(event.Type)
	return r.publishTo(ctx, channel, event)
}

// TaskPending publishes a task-pending notification to the event-type
// channel and to every route channel, the routing-exchange analogue of
// taskcluster's Pulse realized over Redis pub/sub.
func (r *RedisPubSub) TaskPending(ctx context.Context, taskID string, payload TaskPendingPayload, routes []string) error {
	event := NewEvent(EventTaskPending, taskPendingData(taskID, payload))
	return r.fanOutToRoutes(ctx, event, routes)
}

// TaskException publishes a task-exception notification to the event-type
// channel and to every route channel.
func (r *RedisPubSub) TaskException(ctx context.Context, taskID string, payload TaskExceptionPayload, routes []string) error {
	event := NewEvent(EventTaskException, taskExceptionData(taskID, payload))
	return r.fanOutToRoutes(ctx, event, routes)
}

func (r *RedisPubSub) fanOutToRoutes(ctx context.Context, event *Event, routes []string) error {
	if err := r.Publish(ctx, event); err != nil {
		return err
	}
	for _, route := range routes {
		if err := r.publishTo(ctx, r.routeChannelName(route), event); err != nil {
			return fmt.Errorf("publish to route %q: %w", route, err)
		}
	}
	return nil
}

func (r *RedisPubSub) publishTo(ctx context.Context, channel string, event *Event) error {
	data, err := event.ToJSON()
	if err != nil {
		return fmt.Errorf("failed to serialize event: %w", err)
	}

	if err := r.client.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	logger.Debug().
		Str("event_type", string(event.Type)).
		Str("channel", channel).
		Msg("event published")

	return nil
}

// Subscribe subscribes to events of the specified types.
func (r *RedisPubSub) Subscribe(ctx context.Context, eventTypes ...EventType) (<-chan *Event, error) {
	channels := make([]string, len(eventTypes))
	for i, et := range eventTypes {
		channels[i] = r.channelName(et)
	}

	pubsub := r.client.Subscribe(ctx, channels...)

	if _, err := pubsub.Receive(ctx); err != nil {
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	eventCh := make(chan *Event, 100)

	go func() {
		defer close(eventCh)
		ch := pubsub.Channel()

		for {
			select {
			case <-ctx.Done():
				pubsub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}

				event, err := FromJSON([]byte(msg.Payload))
				if err != nil {
					logger.Error().Err(err).Msg("failed to parse event")
					continue
				}

				select {
				case eventCh <- event:
				default:
					logger.Warn().
						Str("event_type", string(event.Type)).
						Msg("event channel full, dropping event")
				}
			}
		}
	}()

	return eventCh, nil
}

// SubscribeRoutes subscribes to every route channel named and delivers the
// events published on them until ctx is cancelled.
func (r *RedisPubSub) SubscribeRoutes(ctx context.Context, routes ...string) (<-chan *Event, error) {
	channels := make([]string, len(routes))
	for i, route := range routes {
		channels[i] = r.routeChannelName(route)
	}

	pubsub := r.client.Subscribe(ctx, channels...)
	if _, err := pubsub.Receive(ctx); err != nil {
		return nil, fmt.Errorf("failed to subscribe to routes: %w", err)
	}

	eventCh := make(chan *Event, 100)

	go func() {
		defer close(eventCh)
		ch := pubsub.Channel()

		for {
			select {
			case <-ctx.Done():
				pubsub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				event, err := FromJSON([]byte(msg.Payload))
				if err != nil {
					logger.Error().Err(err).Msg("failed to parse event")
					continue
				}
				select {
				case eventCh <- event:
				default:
					logger.Warn().Str("event_type", string(event.Type)).Msg("route channel full, dropping event")
				}
			}
		}
	}()

	return eventCh, nil
}

// Close closes the subscriptions recorded in r.subscribers. Subscribe and
// SubscribeRoutes do not record theirs there; each of those is closed only
// when its ctx is cancelled.
func (r *RedisPubSub) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, pubsub := range r.subscribers {
		pubsub.Close()
	}
	r.subscribers = make(map[string]*redis.PubSub)

	return nil
}

func (r *RedisPubSub) channelName(eventType EventType) string {
	return channelPrefix + string(eventType)
}

func (r *RedisPubSub) routeChannelName(route string) string {
	return routePrefix + route
}
