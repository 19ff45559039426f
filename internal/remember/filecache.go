package remember

import (
	"sync"

	"github.com/localmemory/memcore/internal/textnorm"
)

// fileCache holds the content hash of the last-filed version of each
// document filename in memory, so repeated file_document calls against an
// unchanged source (a watched directory re-scanning the same files) skip
// creating a duplicate Document row; a hit still looks up the latest
// Document for that filename to return its id.
// Adapted from the teacher's docstore.Store, keyed by filename instead of
// a note ID and storing a content hash instead of a raw copy of the text
// (the Store already has the text; this cache only needs to answer
// "have I seen exactly this content under this name before").
type fileCache struct {
	mu     sync.RWMutex
	hashes map[string]string
}

func newFileCache() *fileCache {
	return &fileCache{hashes: make(map[string]string)}
}

// seen reports whether filename was last filed with exactly this content,
// and records the new hash regardless of the outcome.
func (c *fileCache) seen(filename, content string) bool {
	hash := textnorm.ContentHash(content)
	c.mu.Lock()
	defer c.mu.Unlock()
	prev, ok := c.hashes[filename]
	c.hashes[filename] = hash
	return ok && prev == hash
}

// forget drops a filename's recorded hash. Nothing in this package calls
// it.
func (c *fileCache) forget(filename string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.hashes, filename)
}

// count returns the number of distinct filenames currently tracked.
func (c *fileCache) count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.hashes)
}
