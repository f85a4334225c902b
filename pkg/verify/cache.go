package verify

import (
	"container/list"
	"context"
	"strings"
	"sync"

	"github.com/huandu/go-clone"
	"github.com/rs/zerolog/log"
)

type cacheEntry struct {
	result  *Result
	element *list.Element
}

// CachedVerifier wraps a Verifier with an LRU cache of successful results.
// Failures are never cached so that a retry always reaches the service.
type CachedVerifier struct {
	verifier Verifier
	cache    map[string]cacheEntry
	lruList  *list.List
	maxSize  int
	mu       sync.Mutex
}

// NewCachedVerifier creates a cache holding at most maxSize results (default 256).
func NewCachedVerifier(verifier Verifier, maxSize int) *CachedVerifier {
	if maxSize <= 0 {
		maxSize = 256
	}
	return &CachedVerifier{
		verifier: verifier,
		cache:    make(map[string]cacheEntry),
		lruList:  list.New(),
		maxSize:  maxSize,
	}
}

func cacheKey(claim string) string {
	return strings.ToLower(strings.Join(strings.Fields(claim), " "))
}

// Verify returns a copy of a cached result when one exists, otherwise asks the
// wrapped verifier.
func (c *CachedVerifier) Verify(ctx context.Context, claim string) (*Result, error) {
	key := cacheKey(claim)

	c.mu.Lock()
	if entry, ok := c.cache[key]; ok {
		c.lruList.MoveToFront(entry.element)
		c.mu.Unlock()
		log.Debug().Str("claim", claim).Msg("verification cache hit")
		return clone.Clone(entry.result).(*Result), nil
	}
	c.mu.Unlock()

	result, err := c.verifier.Verify(ctx, claim)
	if err != nil {
		return nil, err
	}
	if result.IsError() {
		return result, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.cache[key]; ok {
		c.lruList.MoveToFront(entry.element)
		entry.result = clone.Clone(result).(*Result)
		c.cache[key] = entry
		return result, nil
	}

	if c.lruList.Len() >= c.maxSize {
		oldest := c.lruList.Back()
		if oldest != nil {
			delete(c.cache, oldest.Value.(string))
			c.lruList.Remove(oldest)
		}
	}

	element := c.lruList.PushFront(key)
	c.cache[key] = cacheEntry{
		result:  clone.Clone(result).(*Result),
		element: element,
	}

	return result, nil
}

// Clear drops every cached result.
func (c *CachedVerifier) Clear() {
	c.mu.Lock()
	c.cache = make(map[string]cacheEntry)
	c.lruList.Init()
	c.mu.Unlock()
}

// Size returns the number of cached results.
func (c *CachedVerifier) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lruList.Len()
}

var _ Verifier = (*CachedVerifier)(nil)
