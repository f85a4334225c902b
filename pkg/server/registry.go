package server

import (
	"context"
	"sync"
	"time"

	"github.com/go-go-golems/verinews/pkg/chat"
	"github.com/go-go-golems/verinews/pkg/conversation"
	"github.com/go-go-golems/verinews/pkg/events"
	"github.com/go-go-golems/verinews/pkg/store"
	"github.com/go-go-golems/verinews/pkg/verify"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Registry keeps one session per chat. Every event of a session writes its
// tree through to the store, and chats that are not in memory are rehydrated
// from the store on first access. Idle sessions can be evicted from memory;
// their trees stay in the store.
type Registry struct {
	verifier verify.Verifier
	store    store.Store
	sinks    []events.EventSink
	options  []chat.Option
	now      func() time.Time

	mu       sync.Mutex
	sessions map[string]*entry
}

type entry struct {
	session  *chat.Session
	lastUsed time.Time
}

type RegistryOption func(*Registry)

// WithSessionOptions are applied to every session the registry creates.
func WithSessionOptions(options ...chat.Option) RegistryOption {
	return func(r *Registry) {
		r.options = append(r.options, options...)
	}
}

func WithRegistrySinks(sinks ...events.EventSink) RegistryOption {
	return func(r *Registry) {
		r.sinks = append(r.sinks, sinks...)
	}
}

func NewRegistry(verifier verify.Verifier, st store.Store, options ...RegistryOption) *Registry {
	ret := &Registry{
		verifier: verifier,
		store:    st,
		now:      time.Now,
		sessions: map[string]*entry{},
	}
	for _, o := range options {
		o(ret)
	}
	if ret.store == nil {
		ret.store = store.NewMemoryStore()
	}
	return ret
}

// Create starts a new, empty chat.
func (r *Registry) Create(ctx context.Context) (*chat.Session, error) {
	id := uuid.New()
	manager := conversation.NewManager(conversation.WithManagerConversationID(id))
	s := r.newSession(id.String(), manager)

	if err := r.store.Put(ctx, s.ChatID, s.Snapshot()); err != nil {
		return nil, errors.Wrap(err, "storing new chat")
	}

	r.mu.Lock()
	r.sessions[s.ChatID] = &entry{session: s, lastUsed: r.now()}
	r.mu.Unlock()

	log.Info().Str("chat_id", s.ChatID).Msg("created chat")
	return s, nil
}

// Get returns the session of chatID, loading it from the store if needed.
// The registry lock is not held while the store is read.
func (r *Registry) Get(ctx context.Context, chatID string) (*chat.Session, error) {
	if s, ok := r.lookup(chatID); ok {
		return s, nil
	}

	tree, err := r.store.Get(ctx, chatID)
	if err != nil {
		return nil, err
	}

	managerOptions := []conversation.ManagerOption{conversation.WithTree(tree)}
	if id, err := uuid.Parse(chatID); err == nil {
		managerOptions = append(managerOptions, conversation.WithManagerConversationID(id))
	}
	s := r.newSession(chatID, conversation.NewManager(managerOptions...))

	r.mu.Lock()
	if e, ok := r.sessions[chatID]; ok {
		// loaded concurrently, keep the first one
		e.lastUsed = r.now()
		r.mu.Unlock()
		return e.session, nil
	}
	r.sessions[chatID] = &entry{session: s, lastUsed: r.now()}
	r.mu.Unlock()

	// loading may have settled interrupted verifications
	if s.Snapshot().Version != tree.Version {
		if err := r.store.Put(ctx, chatID, s.Snapshot()); err != nil {
			log.Warn().Err(err).Str("chat_id", chatID).Msg("could not store recovered chat")
		}
	}

	log.Debug().Str("chat_id", chatID).Int("nodes", tree.Len()).Msg("loaded chat")
	return s, nil
}

func (r *Registry) lookup(chatID string) (*chat.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[chatID]
	if !ok {
		return nil, false
	}
	e.lastUsed = r.now()
	return e.session, true
}

// Delete drops a chat from memory and from the store.
func (r *Registry) Delete(ctx context.Context, chatID string) error {
	r.mu.Lock()
	e, ok := r.sessions[chatID]
	delete(r.sessions, chatID)
	r.mu.Unlock()

	if ok {
		_ = e.session.Cancel()
	}
	return r.store.Delete(ctx, chatID)
}

// Evict drops sessions that were not used for idle and have no verification
// in flight. It returns how many were dropped.
func (r *Registry) Evict(idle time.Duration) int {
	cutoff := r.now().Add(-idle)

	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, e := range r.sessions {
		if e.lastUsed.After(cutoff) || e.session.Active() != nil {
			continue
		}
		delete(r.sessions, id)
		n++
	}
	return n
}

// RunEviction evicts idle sessions every interval until ctx is done.
func (r *Registry) RunEviction(ctx context.Context, interval, idle time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if n := r.Evict(idle); n > 0 {
				log.Debug().Int("count", n).Dur("idle", idle).Msg("evicted idle chats")
			}
		}
	}
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Ping checks the store, if it can be checked.
func (r *Registry) Ping(ctx context.Context) error {
	if p, ok := r.store.(interface{ Ping(context.Context) error }); ok {
		return p.Ping(ctx)
	}
	return nil
}

func (r *Registry) newSession(chatID string, manager *conversation.ManagerImpl) *chat.Session {
	w := &chatWriter{store: r.store, chatID: chatID}

	options := append([]chat.Option{}, r.options...)
	options = append(options,
		chat.WithChatID(chatID),
		chat.WithManager(manager),
		chat.WithEventSinks(w),
		chat.WithEventSinks(r.sinks...),
	)
	s := chat.NewSession(r.verifier, options...)
	w.setSnapshot(s.Snapshot)
	return s
}

// chatWriter stores the current tree of one chat after every event. Writes
// are serialized and each one reads the snapshot while holding the lock, so
// the store never goes back to an older tree.
type chatWriter struct {
	store  store.Store
	chatID string

	mu       sync.Mutex
	snapshot func() *conversation.ConversationTree
}

func (w *chatWriter) setSnapshot(snapshot func() *conversation.ConversationTree) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.snapshot = snapshot
}

func (w *chatWriter) PublishEvent(ev events.Event) error {
	return w.write(context.Background())
}

func (w *chatWriter) write(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.snapshot == nil {
		return nil
	}
	return w.store.Put(ctx, w.chatID, w.snapshot())
}
