package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tejjnayak/sandchat/internal/proto"
)

const (
	CreatedEvent EventType = "created"
	UpdatedEvent EventType = "updated"
	DeletedEvent EventType = "deleted"
)

type Subscriber[T any] interface {
	Subscribe(context.Context) <-chan Event[T]
}

type (
	PayloadType = string

	Payload struct {
		Type    PayloadType     `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}

	// EventType identifies the type of event
	EventType string

	// Event represents an event in the lifecycle of a resource
	Event[T any] struct {
		Type    EventType `json:"type"`
		Payload T         `json:"payload"`
	}

	Publisher[T any] interface {
		Publish(EventType, T)
	}
)

const (
	PayloadTypeSession   PayloadType = "session"
	PayloadTypeMessage   PayloadType = "message"
	PayloadTypeAuditStep PayloadType = "audit_step"
)

func (t EventType) MarshalText() ([]byte, error) {
	return []byte(t), nil
}

func (t *EventType) UnmarshalText(data []byte) error {
	*t = EventType(data)
	return nil
}

func payloadType(v any) (PayloadType, error) {
	switch v.(type) {
	case proto.SessionInfo:
		return PayloadTypeSession, nil
	case proto.Message:
		return PayloadTypeMessage, nil
	case proto.AuditStep:
		return PayloadTypeAuditStep, nil
	}
	return "", fmt.Errorf("unknown payload type: %T", v)
}

// MarshalJSON wraps the payload with its type name so that a single event
// stream can carry several payload kinds.
func (e Event[T]) MarshalJSON() ([]byte, error) {
	typ, err := payloadType(any(e.Payload))
	if err != nil {
		return nil, err
	}
	bts, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(&struct {
		Type    EventType `json:"type"`
		Payload Payload   `json:"payload"`
	}{
		Type:    e.Type,
		Payload: Payload{Type: typ, Payload: bts},
	})
}

func (e *Event[T]) UnmarshalJSON(data []byte) error {
	var aux struct {
		Type    EventType `json:"type"`
		Payload Payload   `json:"payload"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	e.Type = aux.Type

	var pl any
	switch aux.Payload.Type {
	case PayloadTypeSession:
		var p proto.SessionInfo
		if err := json.Unmarshal(aux.Payload.Payload, &p); err != nil {
			return err
		}
		pl = p
	case PayloadTypeMessage:
		var p proto.Message
		if err := json.Unmarshal(aux.Payload.Payload, &p); err != nil {
			return err
		}
		pl = p
	case PayloadTypeAuditStep:
		var p proto.AuditStep
		if err := json.Unmarshal(aux.Payload.Payload, &p); err != nil {
			return err
		}
		pl = p
	default:
		return fmt.Errorf("unknown payload type: %q", aux.Payload.Type)
	}

	v, ok := pl.(T)
	if !ok {
		return fmt.Errorf("payload type %q does not match %T", aux.Payload.Type, e.Payload)
	}
	e.Payload = v
	return nil
}
