package vault

import (
	"context"
	"sync"
)

// LoadState tracks the lifecycle of a content cache entry.
type LoadState int

const (
	LoadPending LoadState = iota
	LoadReady
	LoadError
)

// Content is either text or raw bytes; exactly one is meaningful per
// entry, selected by Binary.
type Content struct {
	Text   string
	Bytes  []byte
	Binary bool
}

type contentEntry struct {
	content Content
	state   LoadState
	err     error
	cancel  context.CancelFunc
}

// Loader reads file bytes on behalf of the cache. Implemented by the
// external file-system adapter.
type Loader interface {
	Load(ctx context.Context, handle Handle, path string) (Content, error)
}

// ContentCache maps tab ids to loaded file content. Entries are keyed by
// tab id, not path: two tabs over the same file may diverge during edits,
// and a path-keyed cache would silently merge them.
type ContentCache struct {
	mu      sync.Mutex
	entries map[string]*contentEntry
	loader  Loader
}

// NewContentCache creates a cache backed by the given loader.
func NewContentCache(loader Loader) *ContentCache {
	return &ContentCache{
		entries: make(map[string]*contentEntry),
		loader:  loader,
	}
}

// Load starts an asynchronous load for the tab. A previous in-flight load
// for the same tab is cancelled. done is invoked on the loader goroutine
// once the entry settles; cancelled loads drop their result silently.
func (c *ContentCache) Load(ctx context.Context, tabID string, handle Handle, path string, done func(Content, error)) {
	ctx, cancel := context.WithCancel(ctx)

	c.mu.Lock()
	if prev, ok := c.entries[tabID]; ok && prev.cancel != nil {
		prev.cancel()
	}
	c.entries[tabID] = &contentEntry{state: LoadPending, cancel: cancel}
	c.mu.Unlock()

	go func() {
		content, err := c.loader.Load(ctx, handle, path)
		if ctx.Err() != nil {
			return
		}

		c.mu.Lock()
		entry, ok := c.entries[tabID]
		if !ok || entry.cancel == nil {
			c.mu.Unlock()
			return
		}
		if err != nil {
			entry.state = LoadError
			entry.err = err
		} else {
			entry.state = LoadReady
			entry.content = content
		}
		entry.cancel = nil
		c.mu.Unlock()

		if done != nil {
			done(content, err)
		}
	}()
}

// Put stores content directly, marking the entry ready. Used for edits
// originating in the editor buffer.
func (c *ContentCache) Put(tabID string, content Content) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[tabID] = &contentEntry{state: LoadReady, content: content}
}

// Get returns a copy of the entry's content and its state.
func (c *ContentCache) Get(tabID string) (Content, LoadState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[tabID]
	if !ok {
		return Content{}, LoadPending, nil
	}
	content := entry.content
	if entry.content.Bytes != nil {
		content.Bytes = make([]byte, len(entry.content.Bytes))
		copy(content.Bytes, entry.content.Bytes)
	}
	return content, entry.state, entry.err
}

// Invalidate drops the entry for a closed tab, cancelling any in-flight
// load.
func (c *ContentCache) Invalidate(tabID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.entries[tabID]; ok {
		if entry.cancel != nil {
			entry.cancel()
		}
		delete(c.entries, tabID)
	}
}

// Len reports the number of cached entries.
func (c *ContentCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
