package events

import (
	"encoding/json"
	"time"

	"github.com/go-go-golems/verinews/pkg/conversation"
	"github.com/go-go-golems/verinews/pkg/verify"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

type EventType string

const (
	EventTypeUserMessage          EventType = "user-message"
	EventTypeVerificationStarted  EventType = "verification-started"
	EventTypeVerificationFinished EventType = "verification-finished"
	EventTypeVerificationFailed   EventType = "verification-failed"
	EventTypeMessageEdited        EventType = "message-edited"
	EventTypeBranchSwitched       EventType = "branch-switched"
	EventTypeBranchRestored       EventType = "branch-restored"
	EventTypeChatReset            EventType = "chat-reset"
)

type Event interface {
	Type() EventType
	Metadata() EventMetadata
	Payload() []byte
}

// EventMetadata identifies the chat and tree snapshot an event belongs to.
type EventMetadata struct {
	ChatID string `json:"chat_id"`
	// RequestID is set on verification events.
	RequestID uuid.UUID `json:"request_id,omitempty"`
	// Version is the tree version after the change.
	Version int64     `json:"version"`
	Time    time.Time `json:"time"`
}

func (em EventMetadata) MarshalZerologObject(e *zerolog.Event) {
	e.Str("chat_id", em.ChatID)
	if em.RequestID != uuid.Nil {
		e.Str("request_id", em.RequestID.String())
	}
	e.Int64("version", em.Version)
}

type EventImpl struct {
	Type_     EventType     `json:"type"`
	Metadata_ EventMetadata `json:"meta"`

	// raw JSON when the event was decoded by NewEventFromJSON
	payload []byte
}

func newEventImpl(t EventType, metadata EventMetadata) EventImpl {
	if metadata.Time.IsZero() {
		metadata.Time = time.Now()
	}
	return EventImpl{Type_: t, Metadata_: metadata}
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

func (e *EventImpl) SetPayload(b []byte) {
	e.payload = b
}

type EventUserMessage struct {
	EventImpl
	MessageID conversation.NodeID `json:"message_id"`
	Text      string              `json:"text"`
}

func NewUserMessageEvent(metadata EventMetadata, messageID conversation.NodeID, text string) *EventUserMessage {
	return &EventUserMessage{
		EventImpl: newEventImpl(EventTypeUserMessage, metadata),
		MessageID: messageID,
		Text:      text,
	}
}

type EventVerificationStarted struct {
	EventImpl
	MessageID conversation.NodeID `json:"message_id"`
	Claim     string              `json:"claim"`
}

func NewVerificationStartedEvent(metadata EventMetadata, messageID conversation.NodeID, claim string) *EventVerificationStarted {
	return &EventVerificationStarted{
		EventImpl: newEventImpl(EventTypeVerificationStarted, metadata),
		MessageID: messageID,
		Claim:     claim,
	}
}

type EventVerificationFinished struct {
	EventImpl
	MessageID conversation.NodeID `json:"message_id"`
	VerdictID conversation.NodeID `json:"verdict_id"`
	Result    *verify.Result      `json:"result"`
}

func NewVerificationFinishedEvent(
	metadata EventMetadata,
	messageID conversation.NodeID,
	verdictID conversation.NodeID,
	result *verify.Result,
) *EventVerificationFinished {
	return &EventVerificationFinished{
		EventImpl: newEventImpl(EventTypeVerificationFinished, metadata),
		MessageID: messageID,
		VerdictID: verdictID,
		Result:    result,
	}
}

type EventVerificationFailed struct {
	EventImpl
	MessageID conversation.NodeID `json:"message_id"`
	VerdictID conversation.NodeID `json:"verdict_id"`
	// Outcome is the failure class, see verify.Outcome.
	Outcome string `json:"outcome"`
	Error   string `json:"error"`
}

func NewVerificationFailedEvent(
	metadata EventMetadata,
	messageID conversation.NodeID,
	verdictID conversation.NodeID,
	outcome string,
	message string,
) *EventVerificationFailed {
	return &EventVerificationFailed{
		EventImpl: newEventImpl(EventTypeVerificationFailed, metadata),
		MessageID: messageID,
		VerdictID: verdictID,
		Outcome:   outcome,
		Error:     message,
	}
}

type EventMessageEdited struct {
	EventImpl
	MessageID    conversation.NodeID `json:"message_id"`
	NewMessageID conversation.NodeID `json:"new_message_id"`
	Text         string              `json:"text"`
}

func NewMessageEditedEvent(metadata EventMetadata, messageID, newMessageID conversation.NodeID, text string) *EventMessageEdited {
	return &EventMessageEdited{
		EventImpl:    newEventImpl(EventTypeMessageEdited, metadata),
		MessageID:    messageID,
		NewMessageID: newMessageID,
		Text:         text,
	}
}

type EventBranchSwitched struct {
	EventImpl
	MessageID  conversation.NodeID   `json:"message_id"`
	ChildIndex int                   `json:"child_index"`
	Path       []conversation.NodeID `json:"path"`
}

func NewBranchSwitchedEvent(metadata EventMetadata, messageID conversation.NodeID, childIndex int, path []conversation.NodeID) *EventBranchSwitched {
	return &EventBranchSwitched{
		EventImpl:  newEventImpl(EventTypeBranchSwitched, metadata),
		MessageID:  messageID,
		ChildIndex: childIndex,
		Path:       path,
	}
}

type EventBranchRestored struct {
	EventImpl
	Path []conversation.NodeID `json:"path"`
}

func NewBranchRestoredEvent(metadata EventMetadata, path []conversation.NodeID) *EventBranchRestored {
	return &EventBranchRestored{
		EventImpl: newEventImpl(EventTypeBranchRestored, metadata),
		Path:      path,
	}
}

type EventChatReset struct {
	EventImpl
}

func NewChatResetEvent(metadata EventMetadata) *EventChatReset {
	return &EventChatReset{EventImpl: newEventImpl(EventTypeChatReset, metadata)}
}

// NewEventFromJSON decodes an event published by a WatermillSink.
func NewEventFromJSON(b []byte) (Event, error) {
	var hdr struct {
		Type EventType `json:"type"`
	}
	if err := json.Unmarshal(b, &hdr); err != nil {
		return nil, errors.Wrap(err, "decoding event header")
	}

	var ret Event
	switch hdr.Type {
	case EventTypeUserMessage:
		ret = &EventUserMessage{}
	case EventTypeVerificationStarted:
		ret = &EventVerificationStarted{}
	case EventTypeVerificationFinished:
		ret = &EventVerificationFinished{}
	case EventTypeVerificationFailed:
		ret = &EventVerificationFailed{}
	case EventTypeMessageEdited:
		ret = &EventMessageEdited{}
	case EventTypeBranchSwitched:
		ret = &EventBranchSwitched{}
	case EventTypeBranchRestored:
		ret = &EventBranchRestored{}
	case EventTypeChatReset:
		ret = &EventChatReset{}
	default:
		return nil, errors.Errorf("unknown event type %q", hdr.Type)
	}

	if err := json.Unmarshal(b, ret); err != nil {
		return nil, errors.Wrapf(err, "decoding %s event", hdr.Type)
	}
	if setter, ok := ret.(interface{ SetPayload([]byte) }); ok {
		setter.SetPayload(b)
	}
	return ret, nil
}
