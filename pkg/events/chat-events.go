package events

import (
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

type EventType string

const (
	EventTypeStart             EventType = "start"
	EventTypePartialCompletion EventType = "partial"
	EventTypeFailover          EventType = "failover"
	EventTypeFinal             EventType = "final"
	EventTypeError             EventType = "error"
	EventTypeInterrupt         EventType = "interrupt"
)

type Event interface {
	Type() EventType
	Metadata() EventMetadata
	Payload() []byte
}

type EventImpl struct {
	Type_     EventType     `json:"type"`
	Metadata_ EventMetadata `json:"meta"`

	// only set when the event was decoded by NewEventFromJson
	payload []byte
}

func (e *EventImpl) MarshalZerologObject(ev *zerolog.Event) {
	ev.Str("type", string(e.Type_))
	ev.Object("meta", e.Metadata_)
}

func (e *EventImpl) Type() EventType {
	return e.Type_
}

func (e *EventImpl) Metadata() EventMetadata {
	return e.Metadata_
}

func (e *EventImpl) Payload() []byte {
	return e.payload
}

var _ Event = &EventImpl{}

// EventStart is published once per turn, before the first provider attempt.
type EventStart struct {
	EventImpl
	UserText string `json:"user_text"`
}

func NewStartEvent(metadata EventMetadata, userText string) *EventStart {
	return &EventStart{
		EventImpl: EventImpl{Type_: EventTypeStart, Metadata_: metadata},
		UserText:  userText,
	}
}

// EventPartialCompletion carries one snapshot. Completion is the whole text so
// far, Delta is what was added relative to the previous snapshot (empty when
// the provider replaced text instead of extending it).
type EventPartialCompletion struct {
	EventImpl
	Delta      string `json:"delta"`
	Completion string `json:"completion"`
}

func NewPartialCompletionEvent(metadata EventMetadata, delta string, completion string) *EventPartialCompletion {
	return &EventPartialCompletion{
		EventImpl:  EventImpl{Type_: EventTypePartialCompletion, Metadata_: metadata},
		Delta:      delta,
		Completion: completion,
	}
}

// EventFailover announces that the previous attempt failed and the turn is
// being retried with the credential in the metadata.
type EventFailover struct {
	EventImpl
	PreviousCredentialID string `json:"previous_credential_id"`
	Reason               string `json:"reason"`
}

func NewFailoverEvent(metadata EventMetadata, previousCredentialID string, reason string) *EventFailover {
	return &EventFailover{
		EventImpl:            EventImpl{Type_: EventTypeFailover, Metadata_: metadata},
		PreviousCredentialID: previousCredentialID,
		Reason:               reason,
	}
}

type EventFinal struct {
	EventImpl
	Text string `json:"text"`
}

func NewFinalEvent(metadata EventMetadata, text string) *EventFinal {
	return &EventFinal{
		EventImpl: EventImpl{Type_: EventTypeFinal, Metadata_: metadata},
		Text:      text,
	}
}

type EventError struct {
	EventImpl
	ErrorString string `json:"error_string"`
	Text        string `json:"text"`
}

func NewErrorEvent(metadata EventMetadata, err error, text string) *EventError {
	ret := &EventError{
		EventImpl: EventImpl{Type_: EventTypeError, Metadata_: metadata},
		Text:      text,
	}
	if err != nil {
		ret.ErrorString = err.Error()
	}
	return ret
}

// EventInterrupt is published when the user stops a turn. Text is the partial
// content that stays on the message.
type EventInterrupt struct {
	EventImpl
	Text string `json:"text"`
}

func NewInterruptEvent(metadata EventMetadata, text string) *EventInterrupt {
	return &EventInterrupt{
		EventImpl: EventImpl{Type_: EventTypeInterrupt, Metadata_: metadata},
		Text:      text,
	}
}

var (
	_ Event = &EventStart{}
	_ Event = &EventPartialCompletion{}
	_ Event = &EventFailover{}
	_ Event = &EventFinal{}
	_ Event = &EventError{}
	_ Event = &EventInterrupt{}
)

func ToTypedEvent[T any](b []byte) (*T, error) {
	var ret *T
	if err := json.Unmarshal(b, &ret); err != nil {
		return nil, err
	}
	if ret == nil {
		return nil, errors.New("empty event payload")
	}
	return ret, nil
}

func NewEventFromJson(b []byte) (Event, error) {
	var e *EventImpl
	if err := json.Unmarshal(b, &e); err != nil {
		return nil, errors.Wrap(err, "could not decode event")
	}
	if e == nil {
		return nil, errors.New("empty event payload")
	}
	e.payload = b

	var (
		ret Event
		err error
	)
	switch e.Type_ {
	case EventTypeStart:
		var t *EventStart
		t, err = ToTypedEvent[EventStart](b)
		if t != nil {
			t.payload = b
			ret = t
		}
	case EventTypePartialCompletion:
		var t *EventPartialCompletion
		t, err = ToTypedEvent[EventPartialCompletion](b)
		if t != nil {
			t.payload = b
			ret = t
		}
	case EventTypeFailover:
		var t *EventFailover
		t, err = ToTypedEvent[EventFailover](b)
		if t != nil {
			t.payload = b
			ret = t
		}
	case EventTypeFinal:
		var t *EventFinal
		t, err = ToTypedEvent[EventFinal](b)
		if t != nil {
			t.payload = b
			ret = t
		}
	case EventTypeError:
		var t *EventError
		t, err = ToTypedEvent[EventError](b)
		if t != nil {
			t.payload = b
			ret = t
		}
	case EventTypeInterrupt:
		var t *EventInterrupt
		t, err = ToTypedEvent[EventInterrupt](b)
		if t != nil {
			t.payload = b
			ret = t
		}
	default:
		return e, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "could not decode %s event", e.Type_)
	}
	return ret, nil
}
