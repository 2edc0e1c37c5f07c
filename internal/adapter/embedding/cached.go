package embedding

import (
	"container/list"
	"context"
	"hash/fnv"
	"slices"
	"sync"

	"agent-market/internal/domain"
)

type lruEntry struct {
	key uint64
	vec []float32
}

// CachedEmbedder wraps a provider with an LRU cache keyed by text. Repeated
// match queries and re-registrations with an unchanged description skip the
// provider. Batch calls pass through uncached.
type CachedEmbedder struct {
	inner   domain.EmbeddingProvider
	maxSize int

	mu    sync.Mutex
	cache map[uint64]*list.Element
	order *list.List // most recently used at back
}

// NewCachedEmbedder wraps inner with a cache of maxSize entries.
// maxSize <= 0 returns inner unchanged.
func NewCachedEmbedder(inner domain.EmbeddingProvider, maxSize int) domain.EmbeddingProvider {
	if maxSize <= 0 {
		return inner
	}
	return &CachedEmbedder{
		inner:   inner,
		maxSize: maxSize,
		cache:   make(map[uint64]*list.Element, maxSize),
		order:   list.New(),
	}
}

// Embed implements domain.EmbeddingProvider.
func (c *CachedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) != 1 {
		return c.inner.Embed(ctx, texts)
	}
	key := c.keyOf(texts[0])

	c.mu.Lock()
	if elem, ok := c.cache[key]; ok {
		c.order.MoveToBack(elem)
		vec := slices.Clone(elem.Value.(*lruEntry).vec)
		c.mu.Unlock()
		return [][]float32{vec}, nil
	}
	c.mu.Unlock()

	result, err := c.inner.Embed(ctx, texts)
	if err != nil || len(result) == 0 {
		return result, err
	}

	c.mu.Lock()
	c.put(key, slices.Clone(result[0]))
	c.mu.Unlock()
	return result, nil
}

// Len returns the number of cached vectors.
func (c *CachedEmbedder) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Dimensions implements domain.EmbeddingProvider.
func (c *CachedEmbedder) Dimensions() int { return c.inner.Dimensions() }

// Name implements domain.EmbeddingProvider.
func (c *CachedEmbedder) Name() string { return c.inner.Name() }

// keyOf hashes provider name and text so two providers never share entries.
func (c *CachedEmbedder) keyOf(text string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(c.inner.Name()))
	h.Write([]byte{0})
	h.Write([]byte(text))
	return h.Sum64()
}

// put inserts vec, evicting the least recently used entry at capacity.
// Caller must hold c.mu.
func (c *CachedEmbedder) put(key uint64, vec []float32) {
	if elem, ok := c.cache[key]; ok {
		c.order.MoveToBack(elem)
		elem.Value.(*lruEntry).vec = vec
		return
	}
	if c.order.Len() >= c.maxSize {
		oldest := c.order.Front()
		c.order.Remove(oldest)
		delete(c.cache, oldest.Value.(*lruEntry).key)
	}
	c.cache[key] = c.order.PushBack(&lruEntry{key: key, vec: vec})
}

var _ domain.EmbeddingProvider = (*CachedEmbedder)(nil)
