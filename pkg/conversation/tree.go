package conversation

import (
	"encoding/json"
	"os"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// ConversationTree is an immutable snapshot of a branching chat.
//
// Nodes are linked through ParentID and Children. CurrentPath is the
// root-to-node walk that is displayed; every other branch stays in Nodes and
// can be navigated back to. Operations on a tree return a new tree and leave
// the receiver untouched, so a snapshot can be handed to renderers and kept as
// branch history without copying.
type ConversationTree struct {
	Nodes       map[NodeID]*Message `json:"nodes" yaml:"nodes"`
	RootID      NodeID              `json:"rootID" yaml:"rootID"`
	CurrentPath []NodeID            `json:"currentPath" yaml:"currentPath"`
	Version     int64               `json:"version" yaml:"version"`
}

func NewConversationTree() *ConversationTree {
	return &ConversationTree{
		Nodes:       make(map[NodeID]*Message),
		RootID:      NullNode,
		CurrentPath: []NodeID{},
	}
}

// Len returns the number of nodes.
func (ct *ConversationTree) Len() int {
	return len(ct.Nodes)
}

func (ct *ConversationTree) GetMessageByID(id NodeID) (*Message, bool) {
	ret, exists := ct.Nodes[id]
	return ret, exists
}

// LastID returns the last node of the current path, or NullNode.
func (ct *ConversationTree) LastID() NodeID {
	if len(ct.CurrentPath) == 0 {
		return NullNode
	}
	return ct.CurrentPath[len(ct.CurrentPath)-1]
}

// PathIndex returns the position of id on the current path, or -1.
func (ct *ConversationTree) PathIndex(id NodeID) int {
	for i, p := range ct.CurrentPath {
		if p == id {
			return i
		}
	}
	return -1
}

// PathTo returns the ids from the root down to id, or nil when id is unknown.
func (ct *ConversationTree) PathTo(id NodeID) []NodeID {
	var path []NodeID
	for id != NullNode {
		node, exists := ct.Nodes[id]
		if !exists {
			return nil
		}
		path = append(path, id)
		if len(path) > len(ct.Nodes) {
			// cycle, only reachable from a hand-edited file
			return nil
		}
		id = node.ParentID
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}

// Thread retrieves the linear conversation from the root to id.
func (ct *ConversationTree) Thread(id NodeID) Conversation {
	path := ct.PathTo(id)
	thread := make(Conversation, 0, len(path))
	for _, p := range path {
		thread = append(thread, ct.Nodes[p])
	}
	return thread
}

// Children returns the ids of the children of id.
func (ct *ConversationTree) Children(id NodeID) []NodeID {
	node, exists := ct.Nodes[id]
	if !exists {
		return nil
	}
	return append([]NodeID(nil), node.Children...)
}

// Siblings returns the ids of all nodes sharing id's parent, id excluded.
func (ct *ConversationTree) Siblings(id NodeID) []NodeID {
	node, exists := ct.Nodes[id]
	if !exists {
		return nil
	}
	parent, exists := ct.Nodes[node.ParentID]
	if !exists {
		return nil
	}
	var siblings []NodeID
	for _, sibling := range parent.Children {
		if sibling != id {
			siblings = append(siblings, sibling)
		}
	}
	return siblings
}

// BranchInfo reports the position of id among its parent's children and the
// number of children. The root is always 0 of 1.
func (ct *ConversationTree) BranchInfo(id NodeID) (index int, count int) {
	node, exists := ct.Nodes[id]
	if !exists {
		return -1, 0
	}
	parent, exists := ct.Nodes[node.ParentID]
	if !exists {
		return 0, 1
	}
	for i, c := range parent.Children {
		if c == id {
			return i, len(parent.Children)
		}
	}
	return -1, len(parent.Children)
}

// LeftMostPath extends from id downwards, always picking the first child.
func (ct *ConversationTree) LeftMostPath(id NodeID) []NodeID {
	var path []NodeID
	for id != NullNode {
		node, exists := ct.Nodes[id]
		if !exists {
			break
		}
		path = append(path, id)
		if len(node.Children) > 0 && len(path) <= len(ct.Nodes) {
			id = node.Children[0]
		} else {
			id = NullNode
		}
	}
	return path
}

// Validate checks the structural invariants of the tree.
func (ct *ConversationTree) Validate() error {
	if ct == nil {
		return errors.New("conversation tree is nil")
	}
	if len(ct.Nodes) == 0 {
		if ct.RootID != NullNode {
			return errors.Errorf("empty tree has root %s", ct.RootID)
		}
		if len(ct.CurrentPath) != 0 {
			return errors.New("empty tree has a current path")
		}
		return nil
	}

	if _, ok := ct.Nodes[ct.RootID]; !ok {
		return errors.Errorf("root %s does not exist", ct.RootID)
	}

	for id, node := range ct.Nodes {
		if node == nil {
			return errors.Errorf("node %s is nil", id)
		}
		if node.ID != id {
			return errors.Errorf("node stored under %s has id %s", id, node.ID)
		}
		if node.ParentID == NullNode {
			if id != ct.RootID {
				return errors.Errorf("node %s has no parent but is not the root", id)
			}
		} else {
			parent, ok := ct.Nodes[node.ParentID]
			if !ok {
				return errors.Errorf("node %s has missing parent %s", id, node.ParentID)
			}
			found := 0
			for _, c := range parent.Children {
				if c == id {
					found++
				}
			}
			if found != 1 {
				return errors.Errorf("node %s appears %d times in its parent's children", id, found)
			}
			if node.Time.Before(parent.Time) {
				return errors.Errorf("node %s is older than its parent", id)
			}
		}
		for _, c := range node.Children {
			child, ok := ct.Nodes[c]
			if !ok {
				return errors.Errorf("node %s has missing child %s", id, c)
			}
			if child.ParentID != id {
				return errors.Errorf("child %s of %s points to parent %s", c, id, child.ParentID)
			}
		}
		if node.Role == RoleUser && node.Status == "" {
			return errors.Errorf("user node %s has no status", id)
		}
		if len(ct.PathTo(id)) == 0 {
			return errors.Errorf("node %s is not reachable from the root", id)
		}
	}

	return validatePath(ct, ct.CurrentPath)
}

func validatePath(ct *ConversationTree, path []NodeID) error {
	if len(path) == 0 {
		return nil
	}
	if path[0] != ct.RootID {
		return errors.Errorf("path starts at %s instead of the root", path[0])
	}
	for i := 1; i < len(path); i++ {
		child, ok := ct.Nodes[path[i]]
		if !ok {
			return errors.Errorf("path references missing node %s", path[i])
		}
		if child.ParentID != path[i-1] {
			return errors.Errorf("path step %s is not a child of %s", path[i], path[i-1])
		}
	}
	return nil
}

// SaveToFile writes the whole tree as JSON, or YAML for .yaml/.yml files.
func (ct *ConversationTree) SaveToFile(filename string) error {
	var data []byte
	var err error
	if isYAMLFile(filename) {
		data, err = yaml.Marshal(ct)
	} else {
		data, err = json.MarshalIndent(ct, "", "  ")
	}
	if err != nil {
		return errors.Wrap(err, "encoding conversation tree")
	}
	return os.WriteFile(filename, data, 0644)
}

// LoadFromFile reads a tree written by SaveToFile and validates it.
func LoadFromFile(filename string) (*ConversationTree, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	ct := NewConversationTree()
	if isYAMLFile(filename) {
		err = yaml.Unmarshal(data, ct)
	} else {
		err = json.Unmarshal(data, ct)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "decoding %s", filename)
	}
	if ct.Nodes == nil {
		ct.Nodes = make(map[NodeID]*Message)
	}
	if ct.CurrentPath == nil {
		ct.CurrentPath = []NodeID{}
	}
	if err := ct.Validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid conversation tree in %s", filename)
	}
	return ct, nil
}

func isYAMLFile(filename string) bool {
	return strings.HasSuffix(filename, ".yaml") || strings.HasSuffix(filename, ".yml")
}
