package events

import (
	"context"
	"encoding/json"
	"fmt"

	"codeassess/internal/common/mq"
	appErr "codeassess/pkg/errors"
)

// DefaultTopic receives session events for proctoring consumers.
const DefaultTopic = "assessment.events"

// Publisher forwards session events outside the process.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// MQPublisher publishes session events to a message queue.
type MQPublisher struct {
	producer mq.Producer
	topic    string
}

// NewMQPublisher creates a publisher. An empty topic uses DefaultTopic.
func NewMQPublisher(producer mq.Producer, topic string) *MQPublisher {
	if topic == "" {
		topic = DefaultTopic
	}
	return &MQPublisher{producer: producer, topic: topic}
}

// Publish sends ev keyed by session id so a session's events stay ordered.
func (p *MQPublisher) Publish(ctx context.Context, ev Event) error {
	if p == nil || p.producer == nil {
		return appErr.New(appErr.ServiceUnavailable).WithMessage("event publisher is not configured")
	}
	if ev.SessionID == "" {
		return appErr.ValidationError("session_id", "required")
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal session event failed: %w", err)
	}
	message := mq.NewMessage(payload)
	message.ID = ev.SessionID
	message.SetHeader("event_kind", string(ev.Kind))
	if ev.ID != "" {
		message.SetHeader("event_id", ev.ID)
	}
	if err := p.producer.Publish(ctx, p.topic, message); err != nil {
		return appErr.Wrapf(err, appErr.ServiceUnavailable, "publish session event failed")
	}
	return nil
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }
