package notebook

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// State is the kernel lifecycle state.
type State int

const (
	StateIdle State = iota
	StateLoading
	StateReady
	StateRunning
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StateError:
		return "error"
	}
	return "unknown"
}

// ErrKernelErrored is returned for run requests while the kernel is in
// the Error state; only Restart is accepted there.
var ErrKernelErrored = errors.New("kernel is in error state; restart required")

// WorkerMessage is one protocol message from the compute worker, tagged
// by the owning cell. Done marks the terminal Result or Error.
type WorkerMessage struct {
	CellID string
	Output Output
	Done   bool
}

// Worker is the external compute process. Start blocks until the worker
// is ready or fails. Messages is closed when the worker exits.
type Worker interface {
	Start(ctx context.Context) error
	Execute(cellID, source string) error
	Interrupt() error
	Terminate()
	Messages() <-chan WorkerMessage
	Installer
}

// Execution is a single (cell, source) run. Outputs streams in worker
// emission order and is closed after the terminal Result or Error.
type Execution struct {
	CellID  string
	Outputs <-chan Output

	out       chan Output
	count     int
	truncated bool
	finished  bool
	closed    bool
	mu        sync.Mutex
}

// Count returns the execution counter assigned when the run started.
// Valid once the Outputs channel has closed.
func (e *Execution) Count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.count
}

// Truncated reports whether stream output was dropped under back-pressure.
func (e *Execution) Truncated() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.truncated
}

// Options configures a kernel.
type Options struct {
	// OutputBuffer bounds each execution's output queue.
	OutputBuffer int
	// InstallRetries and InstallBackoff shape package resolution.
	InstallRetries int
	InstallBackoff time.Duration
	InstallTimeout time.Duration
	// OnCellStart fires before a cell's new outputs stream, so owners
	// can clear previous outputs.
	OnCellStart func(cellID string)
	Logger      zerolog.Logger
}

// Kernel owns the worker lifecycle and serialises executions through a
// run-queue. Initialization is lazy: the first Run drives
// Idle -> Loading -> Ready; runs submitted while Loading enqueue and
// flush on Ready.
type Kernel struct {
	mu        sync.Mutex
	state     State
	errMsg    string
	worker    Worker
	newWorker func() Worker

	queue    []*Execution
	sources  map[*Execution]string
	current  *Execution
	resolver *PackageResolver

	execCount int
	opts      Options
	log       zerolog.Logger
}

// NewKernel creates a kernel that obtains workers from the factory.
func NewKernel(newWorker func() Worker, opts Options) *Kernel {
	if opts.OutputBuffer < 1 {
		opts.OutputBuffer = 256
	}
	if opts.InstallRetries < 1 {
		opts.InstallRetries = 2
	}
	return &Kernel{
		state:     StateIdle,
		newWorker: newWorker,
		sources:   make(map[*Execution]string),
		opts:      opts,
		log:       opts.Logger,
	}
}

// State returns the current lifecycle state.
func (k *Kernel) State() State {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.state
}

// Err returns the message of the Error state, if any.
func (k *Kernel) Err() string {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.errMsg
}

// Run submits one execution. While Loading or Running the request
// enqueues; in the Error state it fails until Restart.
func (k *Kernel) Run(cellID, source string) (*Execution, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.state == StateError {
		return nil, ErrKernelErrored
	}

	exec := &Execution{CellID: cellID, out: make(chan Output, k.opts.OutputBuffer)}
	exec.Outputs = exec.out
	k.queue = append(k.queue, exec)
	k.sources[exec] = source

	switch k.state {
	case StateIdle:
		k.state = StateLoading
		go k.initialize()
	case StateReady:
		k.pumpLocked()
	}
	return exec, nil
}

func (k *Kernel) initialize() {
	worker := k.newWorker()
	err := worker.Start(context.Background())

	k.mu.Lock()
	if err != nil {
		k.log.Error().Err(err).Msg("kernel worker failed to start")
		k.state = StateError
		k.errMsg = "worker crashed"
		queued := k.queue
		k.queue = nil
		k.mu.Unlock()

		for _, exec := range queued {
			k.finish(exec, ErrorOutput{EName: "KernelError", EValue: "worker crashed"})
		}
		return
	}

	k.worker = worker
	k.resolver = NewPackageResolver(worker, k.opts.InstallRetries, k.opts.InstallBackoff, k.opts.InstallTimeout)
	k.state = StateReady
	go k.dispatchLoop(worker)
	k.pumpLocked()
	k.mu.Unlock()
}

// pumpLocked starts the next queued execution. Caller holds the lock.
func (k *Kernel) pumpLocked() {
	if k.state != StateReady || len(k.queue) == 0 {
		return
	}

	exec := k.queue[0]
	k.queue = k.queue[1:]
	source := k.sources[exec]
	delete(k.sources, exec)

	k.current = exec
	k.state = StateRunning
	k.execCount++
	exec.mu.Lock()
	exec.count = k.execCount
	exec.mu.Unlock()

	worker := k.worker
	resolver := k.resolver

	go func() {
		if k.opts.OnCellStart != nil {
			k.opts.OnCellStart(exec.CellID)
		}
		resolver.Resolve(context.Background(), source, func(msg string) {
			k.deliver(exec, StreamOutput{Name: "stderr", Text: msg + "\n"}, false)
		})
		if err := worker.Execute(exec.CellID, source); err != nil {
			k.completeCurrent(exec, ErrorOutput{EName: "KernelError", EValue: err.Error()})
		}
	}()
}

func (k *Kernel) dispatchLoop(worker Worker) {
	for msg := range worker.Messages() {
		k.mu.Lock()
		exec := k.current
		k.mu.Unlock()

		if exec == nil || msg.CellID != exec.CellID {
			// Output for an abandoned execution (interrupt or restart).
			continue
		}

		if !msg.Done {
			k.deliver(exec, msg.Output, false)
			continue
		}

		out := msg.Output
		if result, ok := out.(ExecuteResultOutput); ok {
			result.ExecutionCount = exec.Count()
			out = result
		}
		k.completeCurrent(exec, out)
	}

	// Worker channel closed. For the live worker this is a crash: it
	// surfaces on the owning cell and parks the kernel in Error until
	// restart. A superseded worker's loop just exits.
	k.mu.Lock()
	if k.worker != worker {
		k.mu.Unlock()
		return
	}
	exec := k.current
	crashed := exec != nil
	if crashed {
		k.current = nil
		k.state = StateError
		k.errMsg = "worker crashed"
	}
	k.mu.Unlock()

	if crashed {
		k.finish(exec, ErrorOutput{EName: "KernelError", EValue: "worker crashed"})
	}
}

// completeCurrent delivers the terminal output, closes the subscription,
// and pumps the next queued execution.
func (k *Kernel) completeCurrent(exec *Execution, final Output) {
	k.mu.Lock()
	if k.current != exec {
		k.mu.Unlock()
		return
	}
	k.current = nil
	k.state = StateReady
	k.mu.Unlock()

	k.finish(exec, final)

	k.mu.Lock()
	k.pumpLocked()
	k.mu.Unlock()
}

// finish sends the terminal output and closes the channel. Exactly one
// caller wins; a racing dispatch or interrupt becomes a no-op.
func (k *Kernel) finish(exec *Execution, final Output) {
	exec.mu.Lock()
	if exec.finished {
		exec.mu.Unlock()
		return
	}
	exec.finished = true
	truncated := exec.truncated
	exec.mu.Unlock()

	if truncated {
		k.deliver(exec, StreamOutput{Name: "stderr", Text: "[output truncated: stream messages dropped]\n"}, false)
	}
	k.deliver(exec, final, true)

	exec.mu.Lock()
	exec.closed = true
	exec.mu.Unlock()
	close(exec.out)
}

// deliver applies the back-pressure policy: stream messages drop when the
// buffer is full; terminal Result/Error always land, evicting buffered
// output if needed. All channel operations are non-blocking and happen
// under the execution lock, so delivery never races the close in finish.
func (k *Kernel) deliver(exec *Execution, out Output, mustLand bool) {
	exec.mu.Lock()
	defer exec.mu.Unlock()

	if exec.closed {
		return
	}

	if !mustLand {
		select {
		case exec.out <- out:
		default:
			if _, ok := out.(StreamOutput); ok {
				exec.truncated = true
				return
			}
			// Display data competes with the terminal path: evict.
			k.evictAndSendLocked(exec, out)
		}
		return
	}
	k.evictAndSendLocked(exec, out)
}

func (k *Kernel) evictAndSendLocked(exec *Execution, out Output) {
	for {
		select {
		case exec.out <- out:
			return
		default:
		}
		select {
		case dropped := <-exec.out:
			if _, ok := dropped.(StreamOutput); ok {
				exec.truncated = true
			}
		default:
		}
	}
}

// Interrupt abandons the current execution and drains the queue. The
// interrupted cell keeps its streamed output plus a synthetic
// KeyboardInterrupt error.
func (k *Kernel) Interrupt() {
	k.mu.Lock()
	exec := k.current
	if exec == nil {
		k.mu.Unlock()
		return
	}
	k.current = nil
	queued := k.queue
	k.queue = nil
	k.sources = make(map[*Execution]string)
	k.state = StateReady
	worker := k.worker
	k.mu.Unlock()

	if worker != nil {
		if err := worker.Interrupt(); err != nil {
			k.log.Warn().Err(err).Msg("worker interrupt failed")
		}
	}
	k.finish(exec, ErrorOutput{EName: "KeyboardInterrupt", EValue: ""})
	for _, q := range queued {
		close(q.out)
	}
}

// Restart terminates the worker, drops the queue, and returns to Idle;
// the next Run re-initializes. Restart is the only way out of Error.
func (k *Kernel) Restart() {
	k.mu.Lock()
	worker := k.worker
	queued := k.queue
	exec := k.current
	k.worker = nil
	k.current = nil
	k.queue = nil
	k.sources = make(map[*Execution]string)
	k.state = StateIdle
	k.errMsg = ""
	k.execCount = 0
	if k.resolver != nil {
		k.resolver.Reset()
	}
	k.mu.Unlock()

	if worker != nil {
		worker.Terminate()
	}
	if exec != nil {
		k.finish(exec, ErrorOutput{EName: "KernelRestart", EValue: "kernel restarted"})
	}
	for _, q := range queued {
		k.finish(q, ErrorOutput{EName: "KernelRestart", EValue: "kernel restarted"})
	}
}
