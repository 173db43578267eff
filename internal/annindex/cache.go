package annindex

import (
	"os"
	"path/filepath"
	"sync"
)

// Cache reloads an Index only when the on-disk artifact's mtime has
// advanced since the last load, resolving the open question of how
// often a tick should pay the cost of decoding the full artifact: at
// most once per artifact write, never once per tick.
type Cache struct {
	dir string

	mu       sync.Mutex
	idx      *Index
	lastMod  int64 // UnixNano of the indexed file's mtime at last successful load
}

// NewCache returns a Cache that reads artifacts from dir on demand.
func NewCache(dir string) *Cache {
	return &Cache{dir: dir}
}

// Get returns the current Index, reloading from disk if the artifact's
// mtime has changed since the last call. Returns ErrNotFound if no
// artifact has ever been written.
func (c *Cache) Get() (*Index, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	info, err := os.Stat(filepath.Join(c.dir, indexFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if c.idx != nil && info.ModTime().UnixNano() == c.lastMod {
		return c.idx, nil
	}

	idx, err := Load(c.dir)
	if err != nil {
		return nil, err
	}
	c.idx = idx
	c.lastMod = info.ModTime().UnixNano()
	return c.idx, nil
}
