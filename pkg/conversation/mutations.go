package conversation

import (
	"github.com/go-go-golems/verinews/pkg/verify"
	"github.com/pkg/errors"
)

var (
	ErrMessageNotFound  = errors.New("message not found")
	ErrNotUserMessage   = errors.New("message is not a user message")
	ErrBranchOutOfRange = errors.New("branch index out of range")
	ErrInvalidPath      = errors.New("invalid conversation path")
)

// treeEdit is a copy-on-write view over a new snapshot. Nodes are copied the
// first time they are touched, untouched nodes stay shared with the source.
type treeEdit struct {
	ct     *ConversationTree
	copied map[NodeID]bool
}

func (ct *ConversationTree) edit() *treeEdit {
	nodes := make(map[NodeID]*Message, len(ct.Nodes)+1)
	for id, node := range ct.Nodes {
		nodes[id] = node
	}
	return &treeEdit{
		ct: &ConversationTree{
			Nodes:       nodes,
			RootID:      ct.RootID,
			CurrentPath: append(make([]NodeID, 0, len(ct.CurrentPath)+1), ct.CurrentPath...),
			Version:     ct.Version + 1,
		},
		copied: map[NodeID]bool{},
	}
}

func (e *treeEdit) node(id NodeID) *Message {
	if !e.copied[id] {
		e.ct.Nodes[id] = e.ct.Nodes[id].copy()
		e.copied[id] = true
	}
	return e.ct.Nodes[id]
}

// attach inserts msg under parentID. The node is in the map before any path
// references it, and its timestamp is clamped to its parent's.
func (e *treeEdit) attach(parentID NodeID, msg *Message) {
	msg.ParentID = parentID
	if msg.Children == nil {
		msg.Children = []NodeID{}
	}
	e.ct.Nodes[msg.ID] = msg
	e.copied[msg.ID] = true

	if parentID == NullNode {
		e.ct.RootID = msg.ID
		return
	}
	parent := e.node(parentID)
	if msg.Time.Before(parent.Time) {
		msg.Time = parent.Time
	}
	parent.Children = append(parent.Children, msg.ID)
}

// appendTarget returns the node new messages attach to and the path leading
// to it. A non-empty tree with an empty path continues the leftmost thread.
func (ct *ConversationTree) appendTarget() (NodeID, []NodeID) {
	if len(ct.CurrentPath) > 0 {
		return ct.LastID(), ct.CurrentPath
	}
	if ct.RootID == NullNode {
		return NullNode, nil
	}
	path := ct.LeftMostPath(ct.RootID)
	return path[len(path)-1], path
}

// AddUserMessage appends a pending user message at the end of the current
// path. It always succeeds on a well-formed tree.
func (ct *ConversationTree) AddUserMessage(text string, options ...MessageOption) (*ConversationTree, NodeID) {
	msg := NewUserMessage(text, options...)
	return ct.appendMessage(msg), msg.ID
}

// AddVerdict appends a verifier message at the end of the current path and,
// if userMsgID names a user message, settles its status to sent, or error
// when isError is set, in the same snapshot.
func (ct *ConversationTree) AddVerdict(result *verify.Result, userMsgID NodeID, isError bool, options ...MessageOption) (*ConversationTree, NodeID) {
	if result == nil {
		result = verify.NewErrorResult("No verification result was returned.")
		isError = true
	}
	msg := NewVerdictMessage(result, options...)

	parentID, path := ct.appendTarget()
	e := ct.edit()
	e.ct.CurrentPath = append(append(e.ct.CurrentPath[:0], path...), msg.ID)
	e.attach(parentID, msg)

	if user, ok := ct.Nodes[userMsgID]; ok && user.IsUser() {
		n := e.node(userMsgID)
		if isError {
			n.Status = StatusError
		} else {
			n.Status = StatusSent
		}
	}
	return e.ct, msg.ID
}

func (ct *ConversationTree) appendMessage(msg *Message) *ConversationTree {
	parentID, path := ct.appendTarget()
	e := ct.edit()
	e.ct.CurrentPath = append(append(e.ct.CurrentPath[:0], path...), msg.ID)
	e.attach(parentID, msg)
	return e.ct
}

// EditMessage forks the conversation at msgID: the original message is kept
// and a new draft user message with newText is attached as its child. The
// current path becomes the thread down to msgID followed by the new message.
//
// The receiver is returned unchanged together with an error when msgID does
// not exist or is not a user message.
func (ct *ConversationTree) EditMessage(msgID NodeID, newText string, options ...MessageOption) (*ConversationTree, NodeID, error) {
	node, ok := ct.Nodes[msgID]
	if !ok {
		return ct, NullNode, errors.Wrapf(ErrMessageNotFound, "edit %s", msgID)
	}
	if !node.IsUser() {
		return ct, NullNode, errors.Wrapf(ErrNotUserMessage, "edit %s", msgID)
	}

	msg := NewUserMessage(newText, append([]MessageOption{WithStatus(StatusDraft)}, options...)...)
	e := ct.edit()
	e.attach(msgID, msg)
	e.ct.CurrentPath = append(ct.PathTo(msgID), msg.ID)
	return e.ct, msg.ID, nil
}

// NavigateBranch makes the childIndex-th child of msgID the visible branch.
// The path becomes the thread down to msgID followed by that child. No node
// is added or removed.
func (ct *ConversationTree) NavigateBranch(msgID NodeID, childIndex int) (*ConversationTree, error) {
	node, ok := ct.Nodes[msgID]
	if !ok {
		return ct, errors.Wrapf(ErrMessageNotFound, "navigate %s", msgID)
	}
	if childIndex < 0 || childIndex >= len(node.Children) {
		return ct, errors.Wrapf(ErrBranchOutOfRange, "navigate %s to %d of %d", msgID, childIndex, len(node.Children))
	}
	return ct.withPath(append(ct.PathTo(msgID), node.Children[childIndex])), nil
}

// FollowBranch extends the path from msgID downwards along first children,
// so that switching to a sibling also shows the answers below it.
func (ct *ConversationTree) FollowBranch(msgID NodeID) (*ConversationTree, error) {
	if _, ok := ct.Nodes[msgID]; !ok {
		return ct, errors.Wrapf(ErrMessageNotFound, "follow %s", msgID)
	}
	path := ct.PathTo(msgID)
	path = append(path[:len(path)-1], ct.LeftMostPath(msgID)...)
	return ct.withPath(path), nil
}

// WithPath returns a snapshot showing path, which must be a contiguous walk
// starting at the root.
func (ct *ConversationTree) WithPath(path []NodeID) (*ConversationTree, error) {
	if err := validatePath(ct, path); err != nil {
		return ct, errors.Wrap(ErrInvalidPath, err.Error())
	}
	return ct.withPath(append([]NodeID(nil), path...)), nil
}

// withPath shares the node map: snapshots never write to it in place.
func (ct *ConversationTree) withPath(path []NodeID) *ConversationTree {
	return &ConversationTree{
		Nodes:       ct.Nodes,
		RootID:      ct.RootID,
		CurrentPath: path,
		Version:     ct.Version + 1,
	}
}

// MarkPending flags a user message as awaiting verification. It is used when
// an edited draft, or a failed message, is submitted.
func (ct *ConversationTree) MarkPending(msgID NodeID) (*ConversationTree, error) {
	node, ok := ct.Nodes[msgID]
	if !ok {
		return ct, errors.Wrapf(ErrMessageNotFound, "mark %s", msgID)
	}
	if !node.IsUser() {
		return ct, errors.Wrapf(ErrNotUserMessage, "mark %s", msgID)
	}
	e := ct.edit()
	e.node(msgID).Status = StatusPending
	return e.ct, nil
}

// PendingMessages returns the ids of all user messages awaiting a verdict.
func (ct *ConversationTree) PendingMessages() []NodeID {
	var ret []NodeID
	for id, node := range ct.Nodes {
		if node.IsUser() && node.Status == StatusPending {
			ret = append(ret, id)
		}
	}
	return ret
}

// RecoverPending settles user messages left pending by an interrupted
// process. A pending message ending the current path gets an error verdict
// carrying conclusion, any other pending message is marked as failed.
func (ct *ConversationTree) RecoverPending(conclusion string) (*ConversationTree, int) {
	pending := ct.PendingMessages()
	if len(pending) == 0 {
		return ct, 0
	}

	last := ct.LastID()
	e := ct.edit()
	for _, id := range pending {
		if id != last {
			e.node(id).Status = StatusError
		}
	}
	next := e.ct
	if node, ok := next.Nodes[last]; ok && node.IsUser() && node.Status == StatusPending {
		next, _ = next.AddVerdict(verify.NewErrorResult(conclusion), last, true)
	}
	return next, len(pending)
}
