package embedding

import (
	"container/list"
	"context"
	"fmt"
	"sync"

	"github.com/JonMunkholm/simsync/internal/core"
)

// DefaultCacheSize is the number of vectors a Cache keeps.
const DefaultCacheSize = 4096

// Cache remembers vectors by text so repeated headers across uploads cost
// one provider call. Least recently used entries are evicted first.
type Cache struct {
	next core.Embedder
	size int

	mu    sync.Mutex
	order *list.List
	items map[string]*list.Element
}

type cacheEntry struct {
	text string
	vec  []float32
}

// NewCache wraps next. size <= 0 uses DefaultCacheSize.
func NewCache(next core.Embedder, size int) *Cache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	return &Cache{
		next:  next,
		size:  size,
		order: list.New(),
		items: make(map[string]*list.Element),
	}
}

// Embed serves cached vectors and asks next only for the misses, each
// distinct text once.
func (c *Cache) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	missAt := make(map[string][]int)
	var misses []string

	c.mu.Lock()
	for i, t := range texts {
		if el, ok := c.items[t]; ok {
			c.order.MoveToFront(el)
			out[i] = el.Value.(*cacheEntry).vec
			continue
		}
		if _, seen := missAt[t]; !seen {
			misses = append(misses, t)
		}
		missAt[t] = append(missAt[t], i)
	}
	c.mu.Unlock()

	if len(misses) == 0 {
		return out, nil
	}

	vecs, err := c.next.Embed(ctx, misses)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(misses) {
		return nil, fmt.Errorf("embedding cache: got %d vectors for %d texts", len(vecs), len(misses))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for i, t := range misses {
		for _, at := range missAt[t] {
			out[at] = vecs[i]
		}
		c.put(t, vecs[i])
	}
	return out, nil
}

// Len reports how many vectors are cached.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *Cache) put(text string, vec []float32) {
	if el, ok := c.items[text]; ok {
		el.Value.(*cacheEntry).vec = vec
		c.order.MoveToFront(el)
		return
	}
	c.items[text] = c.order.PushFront(&cacheEntry{text: text, vec: vec})
	for c.order.Len() > c.size {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*cacheEntry).text)
	}
}
