package pathrecon

import "container/list"

// parentChainCache is a small bounded LRU cache mapping an FRN to its
// already-resolved directory path, so resolving a file's parent chain
// doesn't repeat the walk for every sibling in a hot directory. No
// library in the example pack ships a standalone LRU cache type (the
// teacher's internal/core/trigram.go cache is TTL-based, not
// size-bounded, and tied to search results rather than paths), so this
// is built directly on container/list the way a small bounded cache
// commonly is in the ecosystem.
type parentChainCache struct {
	capacity int
	ll       *list.List
	items    map[uint64]*list.Element
}

type cacheEntry struct {
	frn  uint64
	path string
}

func newParentChainCache(capacity int) *parentChainCache {
	return &parentChainCache{
		capacity: capacity,
		ll:       list.New(),
		items:    make(map[uint64]*list.Element, capacity),
	}
}

func (c *parentChainCache) Get(frn uint64) (string, bool) {
	el, ok := c.items[frn]
	if !ok {
		return "", false
	}
	c.ll.MoveToFront(el)
	return el.Value.(*cacheEntry).path, true
}

func (c *parentChainCache) Add(frn uint64, path string) {
	if el, ok := c.items[frn]; ok {
		el.Value.(*cacheEntry).path = path
		c.ll.MoveToFront(el)
		return
	}
	el := c.ll.PushFront(&cacheEntry{frn: frn, path: path})
	c.items[frn] = el
	if c.ll.Len() > c.capacity {
		oldest := c.ll.Back()
		if oldest != nil {
			c.ll.Remove(oldest)
			delete(c.items, oldest.Value.(*cacheEntry).frn)
		}
	}
}

func (c *parentChainCache) Len() int { return c.ll.Len() }
