package vault

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockWriter struct {
	mu     sync.Mutex
	writes []string // path:content
	err    error
}

func (m *mockWriter) Write(_ context.Context, _ Handle, path string, content Content) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes = append(m.writes, path+":"+content.Text)
	return m.err
}

func (m *mockWriter) all() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.writes))
	copy(out, m.writes)
	return out
}

func TestSaver_DebouncesBurst(t *testing.T) {
	w := &mockWriter{}
	s := NewSaver(w, 30*time.Millisecond)

	s.Schedule("tab1", nil, "a.md", Content{Text: "v1"})
	s.Schedule("tab1", nil, "a.md", Content{Text: "v2"})
	s.Schedule("tab1", nil, "a.md", Content{Text: "v3"})

	require.Eventually(t, func() bool { return len(w.all()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"a.md:v3"}, w.all())
}

func TestSaver_FlushPendingSavesWritesImmediately(t *testing.T) {
	w := &mockWriter{}
	s := NewSaver(w, time.Hour)

	s.Schedule("tab1", nil, "a.md", Content{Text: "x"})
	s.Schedule("tab2", nil, "b.md", Content{Text: "y"})
	s.FlushPendingSaves()

	writes := w.all()
	assert.Len(t, writes, 2)
	assert.ElementsMatch(t, []string{"a.md:x", "b.md:y"}, writes)
}

func TestSaver_CancelDropsPending(t *testing.T) {
	w := &mockWriter{}
	s := NewSaver(w, 10*time.Millisecond)

	s.Schedule("tab1", nil, "a.md", Content{Text: "x"})
	s.Cancel("tab1")

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, w.all())
}

func TestSaver_FailureSurfacesOnStatusChannel(t *testing.T) {
	w := &mockWriter{err: errors.New("disk full")}
	s := NewSaver(w, time.Hour)

	s.Schedule("tab1", nil, "a.md", Content{Text: "x"})
	s.Flush("tab1")

	select {
	case status := <-s.Status():
		assert.Equal(t, "tab1", status.TabID)
		assert.Error(t, status.Err)
	case <-time.After(time.Second):
		t.Fatal("no save status received")
	}
}
