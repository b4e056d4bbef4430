package tts

import "sync"

// cacheMaxEntries bounds memory on a small device; fixed lines are few.
const cacheMaxEntries = 64

// Cache is an in-memory text → PCM cache so fixed lines (welcome,
// error messages, the empty-answer line) are synthesized once.
type Cache struct {
	mu      sync.RWMutex
	entries map[string][]int16
	order   []string
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[string][]int16)}
}

// Get returns the cached PCM for text, if present.
func (c *Cache) Get(text string) ([]int16, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	pcm, ok := c.entries[text]
	return pcm, ok
}

// Has reports whether text is cached.
func (c *Cache) Has(text string) bool {
	_, ok := c.Get(text)
	return ok
}

// Put stores PCM for text, evicting the oldest entry when full.
func (c *Cache) Put(text string, pcm []int16) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[text]; exists {
		return
	}
	if len(c.order) >= cacheMaxEntries {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
	c.entries[text] = pcm
	c.order = append(c.order, text)
}
