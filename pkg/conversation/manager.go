package conversation

import "github.com/go-go-golems/verinews/pkg/verify"

// Package conversation implements the branching chat tree behind VeriNews.
//
// A chat is a tree of messages. Editing a message never overwrites it: the new
// text becomes a child of the edited message, so every version of the
// conversation stays reachable. The current path selects the thread that is
// displayed. Trees are immutable snapshots, every mutation returns a new one.
//
// The Manager holds the current snapshot of one chat together with the
// single-slot branch history used to undo the last branch switch.

// Manager defines the interface for high-level conversation management operations.
type Manager interface {
	Tree() *ConversationTree
	GetConversation() Conversation
	GetMessage(ID NodeID) (*Message, bool)

	AddUserMessage(text string) NodeID
	AddVerdict(result *verify.Result, userMsgID NodeID, isError bool) NodeID
	EditMessage(msgID NodeID, text string) (NodeID, error)
	MarkPending(msgID NodeID) error
	RecoverPending(conclusion string) int
	NavigateBranch(msgID NodeID, childIndex int) error
	FollowBranch(msgID NodeID) error
	RestoreBranch() error
	HasBranchHistory() bool
	Reset()

	SaveToFile(filename string) error
}
