package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-go-golems/verinews/pkg/conversation"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	DefaultKeyPrefix = "verinews:chat:"
	DefaultTTL       = 24 * time.Hour
)

// RedisStore keeps each chat tree as a JSON value. Every Put refreshes the
// expiry, so idle chats disappear after the TTL.
type RedisStore struct {
	rdb    redis.UniversalClient
	prefix string
	ttl    time.Duration
}

type RedisOption func(*RedisStore)

func WithKeyPrefix(prefix string) RedisOption {
	return func(r *RedisStore) {
		r.prefix = prefix
	}
}

// WithTTL sets the expiry of stored chats. Zero keeps them forever.
func WithTTL(ttl time.Duration) RedisOption {
	return func(r *RedisStore) {
		r.ttl = ttl
	}
}

func NewRedisStore(rdb redis.UniversalClient, options ...RedisOption) *RedisStore {
	ret := &RedisStore{
		rdb:    rdb,
		prefix: DefaultKeyPrefix,
		ttl:    DefaultTTL,
	}
	for _, o := range options {
		o(ret)
	}
	return ret
}

// NewRedisStoreFromURL connects to a redis:// or rediss:// URL.
func NewRedisStoreFromURL(redisURL string, options ...RedisOption) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, errors.Wrap(err, "parsing redis url")
	}
	return NewRedisStore(redis.NewClient(opts), options...), nil
}

func (r *RedisStore) key(chatID string) string {
	return r.prefix + chatID
}

func (r *RedisStore) Get(ctx context.Context, chatID string) (*conversation.ConversationTree, error) {
	data, err := r.rdb.Get(ctx, r.key(chatID)).Bytes()
	if err == redis.Nil {
		return nil, errors.Wrapf(ErrNotFound, "chat %s", chatID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to load chat")
	}

	tree := conversation.NewConversationTree()
	if err := json.Unmarshal(data, tree); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal chat")
	}
	if err := tree.Validate(); err != nil {
		log.Warn().Err(err).Str("chat_id", chatID).Msg("stored chat tree is invalid")
		return nil, errors.Wrapf(err, "chat %s", chatID)
	}
	return tree, nil
}

func (r *RedisStore) Put(ctx context.Context, chatID string, tree *conversation.ConversationTree) error {
	if tree == nil {
		return errors.New("cannot store a nil tree")
	}
	data, err := json.Marshal(tree)
	if err != nil {
		return errors.Wrap(err, "failed to marshal chat")
	}
	if err := r.rdb.Set(ctx, r.key(chatID), data, r.ttl).Err(); err != nil {
		return errors.Wrap(err, "failed to save chat")
	}
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, chatID string) error {
	if err := r.rdb.Del(ctx, r.key(chatID)).Err(); err != nil {
		return errors.Wrap(err, "failed to delete chat")
	}
	return nil
}

func (r *RedisStore) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

func (r *RedisStore) Close() error {
	return r.rdb.Close()
}

var _ Store = (*RedisStore)(nil)
