package conversation

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/Masterminds/sprig"
	"github.com/go-go-golems/verinews/pkg/verify"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

var ErrNoBranchHistory = errors.New("no previous branch to restore")

const DefaultAutosaveFormat = `{{.Year}}/{{.Month}}/{{.Day}}/{{.Time.Format "150405"}}-{{.ConversationID}}.json`

type ManagerImpl struct {
	mu sync.RWMutex

	tree *ConversationTree
	// branchHistory is the path shown before the last branch switch.
	branchHistory []NodeID

	ConversationID  uuid.UUID
	autosaveEnabled bool
	autosaveFormat  string
	autosaveDir     string
	startTime       time.Time
}

var _ Manager = (*ManagerImpl)(nil)

type ManagerOption func(*ManagerImpl)

func WithTree(tree *ConversationTree) ManagerOption {
	return func(m *ManagerImpl) {
		if tree != nil {
			m.tree = tree
		}
	}
}

func WithManagerConversationID(conversationID uuid.UUID) ManagerOption {
	return func(m *ManagerImpl) {
		m.ConversationID = conversationID
	}
}

// WithAutosave saves the full tree after every change. The file name is a
// template rendered with sprig functions relative to dir.
func WithAutosave(enabled bool, format string, dir string) ManagerOption {
	return func(m *ManagerImpl) {
		m.autosaveEnabled = enabled

		if dir == "" {
			homeDir, err := os.UserHomeDir()
			if err != nil {
				homeDir = "."
			}
			m.autosaveDir = filepath.Join(homeDir, ".verinews", "history")
		} else {
			m.autosaveDir = dir
		}

		if format == "" {
			m.autosaveFormat = DefaultAutosaveFormat
		} else {
			m.autosaveFormat = format
		}
	}
}

func NewManager(options ...ManagerOption) *ManagerImpl {
	ret := &ManagerImpl{
		ConversationID: uuid.Nil,
		tree:           NewConversationTree(),
		startTime:      time.Now(),
	}
	for _, option := range options {
		option(ret)
	}

	if ret.ConversationID == uuid.Nil {
		ret.ConversationID = uuid.New()
	}

	return ret
}

// Tree returns the current snapshot. Snapshots are immutable and can be kept
// by the caller.
func (c *ManagerImpl) Tree() *ConversationTree {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tree
}

func (c *ManagerImpl) GetConversation() Conversation {
	return Project(c.Tree())
}

func (c *ManagerImpl) GetMessage(ID NodeID) (*Message, bool) {
	return c.Tree().GetMessageByID(ID)
}

func (c *ManagerImpl) HasBranchHistory() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.branchHistory != nil
}

// update swaps in the snapshot returned by f and autosaves it.
func (c *ManagerImpl) update(op string, f func(*ConversationTree) (*ConversationTree, error)) error {
	c.mu.Lock()
	next, err := f(c.tree)
	if err != nil {
		c.mu.Unlock()
		log.Debug().Err(err).Str("op", op).Msg("conversation mutation refused")
		return err
	}
	c.tree = next
	c.mu.Unlock()

	log.Trace().
		Str("op", op).
		Str("conversation_id", c.ConversationID.String()).
		Int("node_count", next.Len()).
		Int("path_length", len(next.CurrentPath)).
		Int64("version", next.Version).
		Msg("conversation updated")

	if c.autosaveEnabled {
		if err := c.autoSave(next); err != nil {
			log.Warn().Err(err).Msg("could not autosave conversation")
		}
	}
	return nil
}

func (c *ManagerImpl) AddUserMessage(text string) NodeID {
	var id NodeID
	_ = c.update("add-user-message", func(ct *ConversationTree) (*ConversationTree, error) {
		var next *ConversationTree
		next, id = ct.AddUserMessage(text)
		return next, nil
	})
	return id
}

func (c *ManagerImpl) AddVerdict(result *verify.Result, userMsgID NodeID, isError bool) NodeID {
	var id NodeID
	_ = c.update("add-verdict", func(ct *ConversationTree) (*ConversationTree, error) {
		var next *ConversationTree
		next, id = ct.AddVerdict(result, userMsgID, isError)
		return next, nil
	})
	return id
}

func (c *ManagerImpl) EditMessage(msgID NodeID, text string) (NodeID, error) {
	var id NodeID
	err := c.update("edit-message", func(ct *ConversationTree) (*ConversationTree, error) {
		next, newID, err := ct.EditMessage(msgID, text)
		id = newID
		return next, err
	})
	return id, err
}

func (c *ManagerImpl) MarkPending(msgID NodeID) error {
	return c.update("mark-pending", func(ct *ConversationTree) (*ConversationTree, error) {
		return ct.MarkPending(msgID)
	})
}

// RecoverPending settles messages left pending in a loaded tree and returns
// how many there were.
func (c *ManagerImpl) RecoverPending(conclusion string) int {
	count := 0
	_ = c.update("recover-pending", func(ct *ConversationTree) (*ConversationTree, error) {
		var next *ConversationTree
		next, count = ct.RecoverPending(conclusion)
		return next, nil
	})
	return count
}

// NavigateBranch switches the visible branch and remembers the previous path
// so that RestoreBranch can return to it. Only the last switch is kept.
func (c *ManagerImpl) NavigateBranch(msgID NodeID, childIndex int) error {
	return c.update("navigate-branch", func(ct *ConversationTree) (*ConversationTree, error) {
		next, err := ct.NavigateBranch(msgID, childIndex)
		if err != nil {
			return nil, err
		}
		c.branchHistory = append([]NodeID{}, ct.CurrentPath...)
		return next, nil
	})
}

func (c *ManagerImpl) FollowBranch(msgID NodeID) error {
	return c.update("follow-branch", func(ct *ConversationTree) (*ConversationTree, error) {
		return ct.FollowBranch(msgID)
	})
}

// RestoreBranch shows the path that was visible before the last branch
// switch. Messages added since then stay in the tree.
func (c *ManagerImpl) RestoreBranch() error {
	return c.update("restore-branch", func(ct *ConversationTree) (*ConversationTree, error) {
		if c.branchHistory == nil {
			return nil, ErrNoBranchHistory
		}
		next, err := ct.WithPath(c.branchHistory)
		if err != nil {
			return nil, err
		}
		c.branchHistory = nil
		return next, nil
	})
}

// Reset starts a new, empty conversation with a fresh id.
func (c *ManagerImpl) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tree = NewConversationTree()
	c.branchHistory = nil
	c.ConversationID = uuid.New()
	c.startTime = time.Now()
}

// SaveToFile persists the whole tree, including branches not on the current
// path.
func (c *ManagerImpl) SaveToFile(filename string) error {
	return c.Tree().SaveToFile(filename)
}

func (c *ManagerImpl) autoSave(tree *ConversationTree) error {
	if tree.Len() == 0 {
		return nil
	}
	c.mu.RLock()
	data := map[string]interface{}{
		"Year":           c.startTime.Format("2006"),
		"Month":          c.startTime.Format("01"),
		"Day":            c.startTime.Format("02"),
		"ConversationID": c.ConversationID.String(),
		"Messages":       Project(tree),
		"Tree":           tree,
		"Time":           c.startTime,
	}
	format := c.autosaveFormat
	c.mu.RUnlock()

	tmpl, err := template.New("autosave").Funcs(sprig.TxtFuncMap()).Parse(format)
	if err != nil {
		return errors.Wrap(err, "parsing autosave template")
	}

	var filePathBuffer strings.Builder
	err = tmpl.Execute(&filePathBuffer, data)
	if err != nil {
		return errors.Wrap(err, "rendering autosave path")
	}

	fullPath := filepath.Join(c.autosaveDir, filePathBuffer.String())

	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return err
	}

	return tree.SaveToFile(fullPath)
}
