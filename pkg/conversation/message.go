package conversation

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-go-golems/verinews/pkg/verify"
	"github.com/google/uuid"
)

type NodeID uuid.UUID

var NullNode = NodeID(uuid.Nil)

func NewNodeID() NodeID {
	return NodeID(uuid.New())
}

// ParseNodeID parses the canonical UUID form of a node id.
func ParseNodeID(s string) (NodeID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return NullNode, err
	}
	return NodeID(id), nil
}

func (id NodeID) String() string {
	return uuid.UUID(id).String()
}

func (id NodeID) IsNull() bool {
	return id == NullNode
}

// MarshalText lets node ids be used as JSON/YAML map keys.
func (id NodeID) MarshalText() ([]byte, error) {
	return uuid.UUID(id).MarshalText()
}

func (id *NodeID) UnmarshalText(data []byte) error {
	var u uuid.UUID
	if err := u.UnmarshalText(data); err != nil {
		return err
	}
	*id = NodeID(u)
	return nil
}

type Role string

const (
	RoleUser     Role = "user"
	RoleVerifier Role = "verifier"
)

// Status tracks a user message through submission.
type Status string

const (
	// StatusDraft marks an edited message that has not been submitted yet.
	StatusDraft   Status = "draft"
	StatusPending Status = "pending"
	StatusSent    Status = "sent"
	StatusError   Status = "error"
)

// Message is a single node in the conversation tree. User messages carry Text
// and Status, verifier messages carry the Result returned by the service.
//
// Messages reachable from a ConversationTree are never modified in place: the
// mutation functions copy any node they touch.
type Message struct {
	ID       NodeID   `json:"id" yaml:"id"`
	ParentID NodeID   `json:"parentID" yaml:"parentID"`
	Children []NodeID `json:"children" yaml:"children"`
	Role     Role     `json:"role" yaml:"role"`

	Text   string         `json:"text,omitempty" yaml:"text,omitempty"`
	Status Status         `json:"status,omitempty" yaml:"status,omitempty"`
	Result *verify.Result `json:"result,omitempty" yaml:"result,omitempty"`

	Time time.Time `json:"time" yaml:"time"`
}

type MessageOption func(*Message)

func WithTime(t time.Time) MessageOption {
	return func(message *Message) {
		message.Time = t
	}
}

func WithParentID(parentID NodeID) MessageOption {
	return func(message *Message) {
		message.ParentID = parentID
	}
}

func WithID(id NodeID) MessageOption {
	return func(message *Message) {
		message.ID = id
	}
}

func WithStatus(status Status) MessageOption {
	return func(message *Message) {
		message.Status = status
	}
}

// NewUserMessage creates a pending user message.
func NewUserMessage(text string, options ...MessageOption) *Message {
	ret := &Message{
		ID:       NewNodeID(),
		Role:     RoleUser,
		Text:     text,
		Status:   StatusPending,
		Children: []NodeID{},
		Time:     time.Now(),
	}
	for _, option := range options {
		option(ret)
	}
	return ret
}

// NewVerdictMessage creates a verifier message holding result.
func NewVerdictMessage(result *verify.Result, options ...MessageOption) *Message {
	ret := &Message{
		ID:       NewNodeID(),
		Role:     RoleVerifier,
		Result:   result,
		Children: []NodeID{},
		Time:     time.Now(),
	}
	for _, option := range options {
		option(ret)
	}
	return ret
}

func (m *Message) IsUser() bool {
	return m != nil && m.Role == RoleUser
}

// copy returns a shallow copy with its own Children slice.
func (m *Message) copy() *Message {
	ret := *m
	ret.Children = append(make([]NodeID, 0, len(m.Children)+1), m.Children...)
	return &ret
}

func (m *Message) String() string {
	if m.IsUser() {
		return m.Text
	}
	if m.Result == nil {
		return ""
	}
	return fmt.Sprintf("%s (%.0f%%): %s", m.Result.Verdict, m.Result.Confidence, m.Result.Conclusion)
}

// View renders the message as a single transcript line.
func (m *Message) View() string {
	switch m.Role {
	case RoleUser:
		text := strings.TrimRight(m.Text, "\n")
		if m.Status != "" && m.Status != StatusSent {
			return fmt.Sprintf("[%s] (%s): %s", m.Role, m.Status, text)
		}
		return fmt.Sprintf("[%s]: %s", m.Role, text)
	case RoleVerifier:
		return fmt.Sprintf("[%s]: %s", m.Role, m.String())
	}
	return m.String()
}

// Conversation is a linear sequence of messages, usually a projected path.
type Conversation []*Message

// LastUserMessage returns the most recent user message, or nil.
func (messages Conversation) LastUserMessage() *Message {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].IsUser() {
			return messages[i]
		}
	}
	return nil
}

// ToString renders the conversation one message per line.
func (messages Conversation) ToString() string {
	var sb strings.Builder
	for _, m := range messages {
		sb.WriteString(m.View())
		sb.WriteString("\n")
	}
	return sb.String()
}
