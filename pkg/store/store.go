package store

import (
	"context"
	"sync"

	"github.com/go-go-golems/verinews/pkg/conversation"
	"github.com/pkg/errors"
)

var ErrNotFound = errors.New("chat not found")

// Store persists the tree snapshot of each chat.
type Store interface {
	Get(ctx context.Context, chatID string) (*conversation.ConversationTree, error)
	Put(ctx context.Context, chatID string, tree *conversation.ConversationTree) error
	Delete(ctx context.Context, chatID string) error
}

// MemoryStore keeps snapshots in process memory. Snapshots are immutable, so
// they are stored as is.
type MemoryStore struct {
	mu    sync.RWMutex
	trees map[string]*conversation.ConversationTree
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{trees: map[string]*conversation.ConversationTree{}}
}

func (m *MemoryStore) Get(ctx context.Context, chatID string) (*conversation.ConversationTree, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tree, ok := m.trees[chatID]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "chat %s", chatID)
	}
	return tree, nil
}

func (m *MemoryStore) Put(ctx context.Context, chatID string, tree *conversation.ConversationTree) error {
	if tree == nil {
		return errors.New("cannot store a nil tree")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trees[chatID] = tree
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, chatID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.trees, chatID)
	return nil
}

func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.trees)
}

var _ Store = (*MemoryStore)(nil)
