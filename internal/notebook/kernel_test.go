package notebook

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockWorker scripts protocol replies per cell id. Cells without a
// script reply with an empty successful result.
type mockWorker struct {
	mu        sync.Mutex
	messages  chan WorkerMessage
	scripts   map[string][]WorkerMessage
	executed  []string
	installs  []string
	startErr  error
	startGate chan struct{}
	hold      map[string]bool // cells that never finish (for interrupt)
	closed    bool
}

func newMockWorker() *mockWorker {
	return &mockWorker{
		messages: make(chan WorkerMessage, 256),
		scripts:  make(map[string][]WorkerMessage),
		hold:     map[string]bool{},
	}
}

func (m *mockWorker) Start(ctx context.Context) error {
	if m.startGate != nil {
		select {
		case <-m.startGate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return m.startErr
}

func (m *mockWorker) Execute(cellID, source string) error {
	m.mu.Lock()
	m.executed = append(m.executed, cellID)
	script, scripted := m.scripts[cellID]
	held := m.hold[cellID]
	m.mu.Unlock()

	if held {
		return nil
	}
	if !scripted {
		script = []WorkerMessage{{CellID: cellID, Output: ExecuteResultOutput{Data: map[string]any{}}, Done: true}}
	}
	go func() {
		for _, msg := range script {
			m.messages <- msg
		}
	}()
	return nil
}

func (m *mockWorker) Install(_ context.Context, pkg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.installs = append(m.installs, pkg)
	return nil
}

func (m *mockWorker) Interrupt() error { return nil }

func (m *mockWorker) Terminate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.messages)
	}
}

func (m *mockWorker) Messages() <-chan WorkerMessage { return m.messages }

func (m *mockWorker) executedCells() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.executed))
	copy(out, m.executed)
	return out
}

func testKernel(worker Worker) *Kernel {
	return NewKernel(func() Worker { return worker }, Options{
		OutputBuffer: 64,
		Logger:       zerolog.Nop(),
	})
}

func drain(t *testing.T, exec *Execution) []Output {
	t.Helper()
	var outputs []Output
	timeout := time.After(2 * time.Second)
	for {
		select {
		case out, ok := <-exec.Outputs:
			if !ok {
				return outputs
			}
			outputs = append(outputs, out)
		case <-timeout:
			t.Fatal("execution did not complete")
		}
	}
}

func TestKernel_LazyInitialization(t *testing.T) {
	worker := newMockWorker()
	k := testKernel(worker)
	assert.Equal(t, StateIdle, k.State())

	exec, err := k.Run("c1", "x = 1")
	require.NoError(t, err)
	drain(t, exec)

	assert.Equal(t, StateReady, k.State())
	assert.Equal(t, []string{"c1"}, worker.executedCells())
}

func TestKernel_EnqueueWhileLoading(t *testing.T) {
	worker := newMockWorker()
	worker.startGate = make(chan struct{})
	k := testKernel(worker)

	exec1, err := k.Run("c1", "1")
	require.NoError(t, err)
	assert.Equal(t, StateLoading, k.State())

	// Further runs while Loading enqueue rather than fail.
	exec2, err := k.Run("c2", "2")
	require.NoError(t, err)

	close(worker.startGate)
	drain(t, exec1)
	drain(t, exec2)
	assert.Equal(t, []string{"c1", "c2"}, worker.executedCells())
	assert.Equal(t, StateReady, k.State())
}

func TestKernel_OutputFIFOOrder(t *testing.T) {
	// Per-cell output order matches worker emission order.
	worker := newMockWorker()
	worker.scripts["c1"] = []WorkerMessage{
		{CellID: "c1", Output: StreamOutput{Name: "stdout", Text: "one\n"}},
		{CellID: "c1", Output: StreamOutput{Name: "stdout", Text: "two\n"}},
		{CellID: "c1", Output: StreamOutput{Name: "stderr", Text: "warn\n"}},
		{CellID: "c1", Output: ExecuteResultOutput{Data: map[string]any{"text/plain": "3"}}, Done: true},
	}
	k := testKernel(worker)

	exec, err := k.Run("c1", "src")
	require.NoError(t, err)
	outputs := drain(t, exec)

	require.Len(t, outputs, 4)
	assert.Equal(t, StreamOutput{Name: "stdout", Text: "one\n"}, outputs[0])
	assert.Equal(t, StreamOutput{Name: "stdout", Text: "two\n"}, outputs[1])
	assert.Equal(t, StreamOutput{Name: "stderr", Text: "warn\n"}, outputs[2])

	result, ok := outputs[3].(ExecuteResultOutput)
	require.True(t, ok)
	assert.Equal(t, 1, result.ExecutionCount, "kernel assigns the execution count")
}

func TestKernel_StartFailure(t *testing.T) {
	worker := newMockWorker()
	worker.startErr = errors.New("spawn failed")
	k := testKernel(worker)

	exec, err := k.Run("c1", "1")
	require.NoError(t, err)
	outputs := drain(t, exec)

	require.NotEmpty(t, outputs)
	errOut, ok := outputs[len(outputs)-1].(ErrorOutput)
	require.True(t, ok)
	assert.Equal(t, "KernelError", errOut.EName)
	assert.Equal(t, StateError, k.State())
	assert.Equal(t, "worker crashed", k.Err())

	// Error state accepts only restart.
	_, err = k.Run("c2", "2")
	assert.ErrorIs(t, err, ErrKernelErrored)

	k.Restart()
	assert.Equal(t, StateIdle, k.State())
}

func TestKernel_InterruptAbandonsCurrentAndDrainsQueue(t *testing.T) {
	worker := newMockWorker()
	worker.hold["c1"] = true
	k := testKernel(worker)

	exec1, err := k.Run("c1", "while True: pass")
	require.NoError(t, err)
	exec2, err := k.Run("c2", "2")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(worker.executedCells()) == 1
	}, time.Second, time.Millisecond)

	k.Interrupt()

	outputs := drain(t, exec1)
	require.NotEmpty(t, outputs)
	errOut, ok := outputs[len(outputs)-1].(ErrorOutput)
	require.True(t, ok)
	assert.Equal(t, "KeyboardInterrupt", errOut.EName)

	assert.Equal(t, StateReady, k.State())
	// The queued execution was drained without running.
	assert.Equal(t, []string{"c1"}, worker.executedCells())
	_ = exec2
}

func TestKernel_RestartResetsCountsAndState(t *testing.T) {
	worker := newMockWorker()
	k := testKernel(worker)

	exec, _ := k.Run("c1", "1")
	drain(t, exec)

	k.Restart()
	assert.Equal(t, StateIdle, k.State())

	fresh := newMockWorker()
	k.newWorker = func() Worker { return fresh }
	exec2, err := k.Run("c2", "2")
	require.NoError(t, err)
	outputs := drain(t, exec2)

	result, ok := outputs[len(outputs)-1].(ExecuteResultOutput)
	require.True(t, ok)
	assert.Equal(t, 1, result.ExecutionCount, "execution counter resets on restart")
}

func TestKernel_BackpressureDropsStreamsKeepsResult(t *testing.T) {
	worker := newMockWorker()
	script := make([]WorkerMessage, 0, 101)
	for i := 0; i < 100; i++ {
		script = append(script, WorkerMessage{
			CellID: "c1",
			Output: StreamOutput{Name: "stdout", Text: fmt.Sprintf("%d\n", i)},
		})
	}
	script = append(script, WorkerMessage{
		CellID: "c1",
		Output: ExecuteResultOutput{Data: map[string]any{"text/plain": "done"}},
		Done:   true,
	})
	worker.scripts["c1"] = script

	k := NewKernel(func() Worker { return worker }, Options{OutputBuffer: 4, Logger: zerolog.Nop()})
	exec, err := k.Run("c1", "src")
	require.NoError(t, err)

	// Do not read until the worker has finished emitting, forcing
	// overflow.
	require.Eventually(t, func() bool { return k.State() == StateReady }, 2*time.Second, time.Millisecond)

	outputs := drain(t, exec)
	require.NotEmpty(t, outputs)

	_, ok := outputs[len(outputs)-1].(ExecuteResultOutput)
	assert.True(t, ok, "the terminal result survives back-pressure")
	assert.True(t, exec.Truncated())
	assert.Less(t, len(outputs), 101)
}

func TestKernel_OnCellStartFiresBeforeOutputs(t *testing.T) {
	worker := newMockWorker()
	var order []string
	var mu sync.Mutex

	k := NewKernel(func() Worker { return worker }, Options{
		OutputBuffer: 16,
		Logger:       zerolog.Nop(),
		OnCellStart: func(cellID string) {
			mu.Lock()
			order = append(order, "start:"+cellID)
			mu.Unlock()
		},
	})

	exec, err := k.Run("c1", "1")
	require.NoError(t, err)
	for range exec.Outputs {
		mu.Lock()
		order = append(order, "output")
		mu.Unlock()
	}

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, order)
	assert.Equal(t, "start:c1", order[0])
}

func TestRunAll_StopsOnFirstError(t *testing.T) {
	// c1 runs clean, c2 errors, c3 never executes; kernel ends Ready.
	worker := newMockWorker()
	worker.scripts["c2"] = []WorkerMessage{
		{CellID: "c2", Output: ErrorOutput{EName: "ValueError", EValue: "boom", Traceback: []string{"tb"}}, Done: true},
	}
	k := testKernel(worker)

	cells := []*Cell{
		{ID: "c1", Type: CellCode, Source: "x = 1"},
		{ID: "c2", Type: CellCode, Source: `raise ValueError("boom")`},
		{ID: "c3", Type: CellCode, Source: "print(x)"},
	}

	var progress []Progress
	failedCell, err := k.RunAll(cells, BatchOptions{
		OnProgress: func(p Progress) { progress = append(progress, p) },
	})
	require.NoError(t, err)
	assert.Equal(t, "c2", failedCell)

	assert.Equal(t, []Progress{{Current: 1, Total: 3}, {Current: 2, Total: 3}}, progress)

	assert.Empty(t, cells[0].Outputs)
	require.NotNil(t, cells[0].ExecutionCount)
	assert.Equal(t, 1, *cells[0].ExecutionCount)

	require.Len(t, cells[1].Outputs, 1)
	errOut, ok := cells[1].Outputs[0].(ErrorOutput)
	require.True(t, ok)
	assert.Equal(t, "ValueError", errOut.EName)
	assert.Equal(t, "boom", errOut.EValue)
	require.NotNil(t, cells[1].ExecutionCount)
	assert.Equal(t, 2, *cells[1].ExecutionCount)

	assert.Nil(t, cells[2].ExecutionCount, "c3 is not executed")
	assert.Equal(t, []string{"c1", "c2"}, worker.executedCells())
	assert.Equal(t, StateReady, k.State())
}

func TestRunAll_ContinueOnError(t *testing.T) {
	worker := newMockWorker()
	worker.scripts["c1"] = []WorkerMessage{
		{CellID: "c1", Output: ErrorOutput{EName: "E", EValue: "x"}, Done: true},
	}
	k := testKernel(worker)

	cells := []*Cell{
		{ID: "c1", Type: CellCode, Source: "boom"},
		{ID: "c2", Type: CellCode, Source: "ok"},
	}
	failedCell, err := k.RunAll(cells, BatchOptions{ContinueOnError: true})
	require.NoError(t, err)
	assert.Empty(t, failedCell)
	assert.Equal(t, []string{"c1", "c2"}, worker.executedCells())
}

func TestRunAll_SkipsMarkdownCells(t *testing.T) {
	worker := newMockWorker()
	k := testKernel(worker)

	cells := []*Cell{
		{ID: "m1", Type: CellMarkdown, Source: "# head"},
		{ID: "c1", Type: CellCode, Source: "1"},
	}
	_, err := k.RunAll(cells, BatchOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"c1"}, worker.executedCells())
}

func TestRunAllAboveBelow(t *testing.T) {
	worker := newMockWorker()
	k := testKernel(worker)

	cells := []*Cell{
		{ID: "c1", Type: CellCode, Source: "1"},
		{ID: "c2", Type: CellCode, Source: "2"},
		{ID: "c3", Type: CellCode, Source: "3"},
	}

	_, err := k.RunAllAbove(cells, "c3", BatchOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"c1", "c2"}, worker.executedCells())

	_, err = k.RunAllBelow(cells, "c2", BatchOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"c1", "c2", "c2", "c3"}, worker.executedCells())

	_, err = k.RunAllAbove(cells, "missing", BatchOptions{})
	assert.Error(t, err)
}
