package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/terrainiq/dashcam-server/internal/logging"
)

// Topic is the watermill topic carrying upload lifecycle events.
const Topic = "uploads"

const recentEventsLimit = 100

// EventType names an upload lifecycle event.
type EventType string

const (
	EventUploadRegistered EventType = "upload.registered"
	EventChunkReceived    EventType = "upload.chunk_received"
	EventUploadCompleted  EventType = "upload.completed"
	EventUploadFailed     EventType = "upload.failed"
	EventUploadExpired    EventType = "upload.expired"
)

// Event is the envelope published for every lifecycle change.
type Event struct {
	ID        uuid.UUID       `json:"id"`
	Type      EventType       `json:"type"`
	UploadID  string          `json:"upload_id"`
	Data      json.RawMessage `json:"data,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Decode unmarshals the event data into v.
func (e Event) Decode(v any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("event %s has no data", e.ID)
	}
	return json.Unmarshal(e.Data, v)
}

// Service fans upload events out to in-process subscribers and, when a
// Redis client is configured, to a Redis channel.
type Service struct {
	pubsub  *gochannel.GoChannel
	redis   *redis.Client
	channel string
}

// NewService creates a new notification service. rdb may be nil.
func NewService(rdb *redis.Client, channel string) *Service {
	return &Service{
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{OutputChannelBuffer: 64},
			watermill.NopLogger{},
		),
		redis:   rdb,
		channel: channel,
	}
}

// Publish sends an event. Errors from Redis do not prevent in-process
// delivery.
func (s *Service) Publish(ctx context.Context, eventType EventType, uploadID string, data any) error {
	evt := Event{
		ID:        uuid.New(),
		Type:      eventType,
		UploadID:  uploadID,
		CreatedAt: time.Now().UTC(),
	}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("failed to marshal event data: %w", err)
		}
		evt.Data = raw
	}

	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := message.NewMessage(evt.ID.String(), payload)
	msg.Metadata.Set("type", string(eventType))
	pubErr := s.pubsub.Publish(Topic, msg)

	var redisErr error
	if s.redis != nil {
		pipe := s.redis.TxPipeline()
		pipe.Publish(ctx, s.channel, payload)
		pipe.LPush(ctx, s.recentKey(), payload)
		pipe.LTrim(ctx, s.recentKey(), 0, recentEventsLimit-1)
		if _, err := pipe.Exec(ctx); err != nil {
			redisErr = fmt.Errorf("failed to publish event to redis: %w", err)
		}
	}

	return errors.Join(pubErr, redisErr)
}

// Recent returns up to n of the newest events kept in Redis.
func (s *Service) Recent(ctx context.Context, n int64) ([]Event, error) {
	if s.redis == nil {
		return nil, nil
	}
	raw, err := s.redis.LRange(ctx, s.recentKey(), 0, n-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read recent events: %w", err)
	}
	events := make([]Event, 0, len(raw))
	for _, r := range raw {
		var evt Event
		if err := json.Unmarshal([]byte(r), &evt); err != nil {
			continue
		}
		events = append(events, evt)
	}
	return events, nil
}

// Subscribe returns a channel of events. It is closed when ctx is done or
// the service is closed.
func (s *Service) Subscribe(ctx context.Context) (<-chan Event, error) {
	messages, err := s.pubsub.Subscribe(ctx, Topic)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	out := make(chan Event, 16)
	go func() {
		defer close(out)
		for msg := range messages {
			var evt Event
			if err := json.Unmarshal(msg.Payload, &evt); err != nil {
				logging.Warn().Err(err).Str("message_id", msg.UUID).Msg("dropping undecodable event")
				msg.Ack()
				continue
			}
			msg.Ack()
			select {
			case out <- evt:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Handle runs fn for every event of the given type until ctx is done.
func (s *Service) Handle(ctx context.Context, eventType EventType, fn func(context.Context, Event) error) error {
	events, err := s.Subscribe(ctx)
	if err != nil {
		return err
	}
	go func() {
		for evt := range events {
			if evt.Type != eventType {
				continue
			}
			if err := fn(ctx, evt); err != nil {
				logging.Error().Err(err).
					Str("event_type", string(evt.Type)).
					Str("upload_id", evt.UploadID).
					Msg("event handler failed")
			}
		}
	}()
	return nil
}

// Close stops delivery to all subscribers.
func (s *Service) Close() error {
	return s.pubsub.Close()
}

func (s *Service) recentKey() string {
	return s.channel + ":recent"
}
