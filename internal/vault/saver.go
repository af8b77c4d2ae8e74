package vault

import (
	"context"
	"sync"
	"time"
)

// Writer persists file content. Implemented by the external file-system
// adapter.
type Writer interface {
	Write(ctx context.Context, handle Handle, path string, content Content) error
}

// SaveStatus reports the outcome of a debounced save on the status
// channel. Failures are informational; in-memory edits are not rolled
// back.
type SaveStatus struct {
	TabID string
	Path  string
	Err   error
}

type pendingSave struct {
	timer   *time.Timer
	handle  Handle
	path    string
	content Content
}

// Saver debounces writes per tab. A burst of edits produces a single
// write after the debounce interval; FlushPendingSaves forces everything
// out immediately on shutdown or tab close.
type Saver struct {
	mu       sync.Mutex
	writer   Writer
	debounce time.Duration
	pending  map[string]*pendingSave
	status   chan SaveStatus
}

// NewSaver creates a save scheduler with the given debounce interval.
func NewSaver(writer Writer, debounce time.Duration) *Saver {
	return &Saver{
		writer:   writer,
		debounce: debounce,
		pending:  make(map[string]*pendingSave),
		status:   make(chan SaveStatus, 16),
	}
}

// Status returns the non-blocking save status channel.
func (s *Saver) Status() <-chan SaveStatus {
	return s.status
}

// Schedule queues a debounced save for the tab, replacing any pending
// content for it.
func (s *Saver) Schedule(tabID string, handle Handle, path string, content Content) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.pending[tabID]; ok {
		prev.timer.Stop()
	}

	save := &pendingSave{handle: handle, path: path, content: content}
	save.timer = time.AfterFunc(s.debounce, func() {
		s.flushOne(tabID)
	})
	s.pending[tabID] = save
}

// Flush writes the tab's pending save immediately, if any.
func (s *Saver) Flush(tabID string) {
	s.mu.Lock()
	if save, ok := s.pending[tabID]; ok {
		save.timer.Stop()
	}
	s.mu.Unlock()
	s.flushOne(tabID)
}

// FlushPendingSaves writes every pending save immediately. The shutdown
// path must call this, otherwise the last keystroke burst is lost.
func (s *Saver) FlushPendingSaves() {
	s.mu.Lock()
	ids := make([]string, 0, len(s.pending))
	for id, save := range s.pending {
		save.timer.Stop()
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		s.flushOne(id)
	}
}

// Cancel drops a pending save without writing, for tabs closed after the
// caller already flushed or confirmed discarding.
func (s *Saver) Cancel(tabID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if save, ok := s.pending[tabID]; ok {
		save.timer.Stop()
		delete(s.pending, tabID)
	}
}

func (s *Saver) flushOne(tabID string) {
	s.mu.Lock()
	save, ok := s.pending[tabID]
	if ok {
		delete(s.pending, tabID)
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	err := s.writer.Write(context.Background(), save.handle, save.path, save.content)
	select {
	case s.status <- SaveStatus{TabID: tabID, Path: save.path, Err: err}:
	default:
		// Status is advisory; never block the save path on a full
		// channel.
	}
}
