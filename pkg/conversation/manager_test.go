package conversation

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_BranchHistoryRestore(t *testing.T) {
	m := NewManager()
	id1 := m.AddUserMessage("Is the sky blue?")
	m.AddVerdict(trueResult(), id1, false)
	id3, err := m.EditMessage(id1, "Is the sky green?")
	require.NoError(t, err)
	assert.False(t, m.HasBranchHistory())

	require.NoError(t, m.NavigateBranch(id1, 0))
	assert.True(t, m.HasBranchHistory())
	assert.Equal(t, id1, m.GetConversation()[0].ID)
	assert.NotEqual(t, id3, m.Tree().LastID())

	require.NoError(t, m.RestoreBranch())
	assert.Equal(t, []NodeID{id1, id3}, m.Tree().CurrentPath)
	assert.False(t, m.HasBranchHistory())

	err = m.RestoreBranch()
	assert.True(t, errors.Is(err, ErrNoBranchHistory))
	assert.Equal(t, 3, m.Tree().Len())
}

func TestManager_RestoreKeepsNewerMessages(t *testing.T) {
	m := NewManager()
	id1 := m.AddUserMessage("a")
	m.AddVerdict(trueResult(), id1, false)
	_, err := m.EditMessage(id1, "b")
	require.NoError(t, err)

	require.NoError(t, m.NavigateBranch(id1, 0))
	id5 := m.AddUserMessage("follow-up")
	require.NoError(t, m.RestoreBranch())

	_, ok := m.GetMessage(id5)
	assert.True(t, ok)
	require.NoError(t, m.Tree().Validate())
}

func TestManager_FailedOperationsKeepSnapshot(t *testing.T) {
	m := NewManager()
	id1 := m.AddUserMessage("a")
	before := m.Tree()

	_, err := m.EditMessage(NewNodeID(), "x")
	assert.True(t, errors.Is(err, ErrMessageNotFound))
	err = m.NavigateBranch(id1, 3)
	assert.True(t, errors.Is(err, ErrBranchOutOfRange))
	assert.Same(t, before, m.Tree())
	assert.False(t, m.HasBranchHistory())
}

func TestManager_Reset(t *testing.T) {
	m := NewManager()
	id := m.ConversationID
	m.AddUserMessage("a")
	m.Reset()
	assert.Equal(t, 0, m.Tree().Len())
	assert.Empty(t, m.GetConversation())
	assert.NotEqual(t, id, m.ConversationID)
}

func TestManager_Autosave(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(WithAutosave(true, `{{ .ConversationID | upper }}.yaml`, dir))
	id1 := m.AddUserMessage("a")
	m.AddVerdict(trueResult(), id1, false)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	loaded, err := LoadFromFile(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)
	assert.Equal(t, 2, loaded.Len())
	assert.Equal(t, StatusSent, loaded.Nodes[id1].Status)
}

func TestManager_WithTree(t *testing.T) {
	tree, id1 := NewConversationTree().AddUserMessage("a")
	m := NewManager(WithTree(tree))
	msg, ok := m.GetMessage(id1)
	require.True(t, ok)
	assert.Equal(t, "a", msg.Text)
}
