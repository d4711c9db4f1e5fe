package mount

import (
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/sandkit/vfs/data"
)

// attrCache holds recently fetched node metadata keyed by path. Entries
// expire after the configured timeout and are dropped eagerly on any
// mutation of the path or its parent.
type attrCache struct {
	entries *xsync.Map[string, attrEntry]
	ttl     time.Duration
}

type attrEntry struct {
	info     *data.NodeInfo
	cachedAt time.Time
}

func newAttrCache(ttl time.Duration) *attrCache {
	return &attrCache{
		entries: xsync.NewMap[string, attrEntry](),
		ttl:     ttl,
	}
}

func (c *attrCache) get(path string) (*data.NodeInfo, bool) {
	if c.ttl <= 0 {
		return nil, false
	}
	entry, ok := c.entries.Load(path)
	if !ok {
		return nil, false
	}
	if time.Since(entry.cachedAt) > c.ttl {
		c.entries.Delete(path)
		return nil, false
	}
	return entry.info, true
}

func (c *attrCache) put(path string, info *data.NodeInfo) {
	if c.ttl <= 0 {
		return
	}
	c.entries.Store(path, attrEntry{info: info, cachedAt: time.Now()})
}

// invalidate drops the entry for path and for its parent, whose child
// list and timestamps a mutation also changes.
func (c *attrCache) invalidate(path string) {
	c.entries.Delete(path)
	parent, _ := data.Split(path)
	c.entries.Delete(parent)
}

func (c *attrCache) clear() {
	c.entries.Clear()
}
