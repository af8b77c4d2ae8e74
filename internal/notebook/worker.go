package notebook

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// workerScript is the Python side of the execution protocol: JSON lines
// on stdin/stdout. Each request is {"op": ..., "cell_id": ..., ...}; replies
// are tagged with the cell id. The final message per execution is
// "result" or "error".
const workerScript = `
import io, json, sys, traceback

def send(msg):
    sys.stdout.write(json.dumps(msg) + "\n")
    sys.stdout.flush()

globals_ns = {"__name__": "__main__"}
send({"type": "ready"})

for raw in sys.stdin:
    try:
        req = json.loads(raw)
    except ValueError:
        continue
    op = req.get("op")
    if op == "execute":
        cell = req.get("cell_id", "")
        buf_out, buf_err = io.StringIO(), io.StringIO()
        old = sys.stdout, sys.stderr
        sys.stdout, sys.stderr = buf_out, buf_err
        try:
            import ast
            tree = ast.parse(req.get("code", ""), mode="exec")
            value = None
            if tree.body and isinstance(tree.body[-1], ast.Expr):
                last = ast.Expression(tree.body.pop(-1).value)
                exec(compile(tree, "<cell>", "exec"), globals_ns)
                value = eval(compile(last, "<cell>", "eval"), globals_ns)
            else:
                exec(compile(tree, "<cell>", "exec"), globals_ns)
            sys.stdout, sys.stderr = old
            if buf_out.getvalue():
                send({"type": "stream", "cell_id": cell, "name": "stdout", "text": buf_out.getvalue()})
            if buf_err.getvalue():
                send({"type": "stream", "cell_id": cell, "name": "stderr", "text": buf_err.getvalue()})
            send({"type": "result", "cell_id": cell, "value": "" if value is None else repr(value)})
        except KeyboardInterrupt:
            sys.stdout, sys.stderr = old
            send({"type": "error", "cell_id": cell, "ename": "KeyboardInterrupt", "evalue": "", "traceback": []})
        except BaseException as exc:
            sys.stdout, sys.stderr = old
            if buf_out.getvalue():
                send({"type": "stream", "cell_id": cell, "name": "stdout", "text": buf_out.getvalue()})
            send({"type": "error", "cell_id": cell,
                  "ename": type(exc).__name__, "evalue": str(exc),
                  "traceback": traceback.format_exception(type(exc), exc, exc.__traceback__)})
    elif op == "install":
        import subprocess
        pkg = req.get("package", "")
        proc = subprocess.run([sys.executable, "-m", "pip", "install", pkg],
                              capture_output=True, text=True)
        if proc.returncode == 0:
            send({"type": "installed", "package": pkg})
        else:
            send({"type": "install_failed", "package": pkg, "reason": proc.stderr[-2000:]})
    elif op == "shutdown":
        break
`

type workerRequest struct {
	Op      string `json:"op"`
	CellID  string `json:"cell_id,omitempty"`
	Code    string `json:"code,omitempty"`
	Package string `json:"package,omitempty"`
}

type workerReply struct {
	Type      string   `json:"type"`
	CellID    string   `json:"cell_id"`
	Name      string   `json:"name"`
	Text      string   `json:"text"`
	Mime      string   `json:"mime"`
	Data      string   `json:"data"`
	Value     string   `json:"value"`
	EName     string   `json:"ename"`
	EValue    string   `json:"evalue"`
	Traceback []string `json:"traceback"`
	Package   string   `json:"package"`
	Reason    string   `json:"reason"`
}

// ProcessWorker runs the kernel as an external Python process speaking
// the JSON-lines protocol. It satisfies Worker.
type ProcessWorker struct {
	command string
	args    []string
	log     zerolog.Logger

	mu       sync.Mutex
	cmd      *exec.Cmd
	stdin    io.WriteCloser
	messages chan WorkerMessage
	installs chan workerReply
	ready    chan struct{}
	group    *errgroup.Group
}

// NewProcessWorker creates a worker that launches the given interpreter.
func NewProcessWorker(command string, args []string, log zerolog.Logger) *ProcessWorker {
	return &ProcessWorker{
		command:  command,
		args:     args,
		log:      log,
		messages: make(chan WorkerMessage, 64),
		installs: make(chan workerReply, 4),
		ready:    make(chan struct{}),
	}
}

// Start launches the process and blocks until the worker reports ready.
func (w *ProcessWorker) Start(ctx context.Context) error {
	args := append(append([]string{}, w.args...), "-u", "-c", workerScript)
	cmd := exec.Command(w.command, args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to open worker stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to open worker stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to open worker stderr: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start kernel worker: %w", err)
	}

	w.mu.Lock()
	w.cmd = cmd
	w.stdin = stdin
	w.mu.Unlock()

	group, _ := errgroup.WithContext(ctx)
	w.group = group
	group.Go(func() error { return w.pumpStdout(stdout) })
	group.Go(func() error { return w.pumpStderr(stderr) })
	go func() {
		_ = group.Wait()
		_ = cmd.Wait()
		close(w.messages)
	}()

	select {
	case <-w.ready:
		return nil
	case <-ctx.Done():
		w.Terminate()
		return ctx.Err()
	case <-time.After(30 * time.Second):
		w.Terminate()
		return fmt.Errorf("kernel worker did not report ready")
	}
}

func (w *ProcessWorker) pumpStdout(stdout io.Reader) error {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	readySeen := false

	for scanner.Scan() {
		var reply workerReply
		if err := json.Unmarshal(scanner.Bytes(), &reply); err != nil {
			w.log.Debug().Str("line", scanner.Text()).Msg("non-protocol worker output")
			continue
		}

		switch reply.Type {
		case "ready":
			if !readySeen {
				readySeen = true
				close(w.ready)
			}
		case "stream":
			w.messages <- WorkerMessage{
				CellID: reply.CellID,
				Output: StreamOutput{Name: reply.Name, Text: reply.Text},
			}
		case "display":
			w.messages <- WorkerMessage{
				CellID: reply.CellID,
				Output: DisplayDataOutput{Data: map[string]any{reply.Mime: reply.Data}},
			}
		case "result":
			data := map[string]any{}
			if reply.Value != "" {
				data["text/plain"] = reply.Value
			}
			w.messages <- WorkerMessage{
				CellID: reply.CellID,
				Output: ExecuteResultOutput{Data: data},
				Done:   true,
			}
		case "error":
			w.messages <- WorkerMessage{
				CellID: reply.CellID,
				Output: ErrorOutput{EName: reply.EName, EValue: reply.EValue, Traceback: reply.Traceback},
				Done:   true,
			}
		case "installed", "install_failed":
			select {
			case w.installs <- reply:
			default:
			}
		}
	}
	return scanner.Err()
}

func (w *ProcessWorker) pumpStderr(stderr io.Reader) error {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		w.log.Debug().Str("stderr", scanner.Text()).Msg("kernel worker")
	}
	return scanner.Err()
}

// Execute submits one cell for execution.
func (w *ProcessWorker) Execute(cellID, source string) error {
	return w.send(workerRequest{Op: "execute", CellID: cellID, Code: source})
}

// Install asks the worker to pip-install a package and waits for the
// outcome.
func (w *ProcessWorker) Install(ctx context.Context, pkg string) error {
	if err := w.send(workerRequest{Op: "install", Package: pkg}); err != nil {
		return err
	}
	select {
	case reply := <-w.installs:
		if reply.Type == "install_failed" {
			return fmt.Errorf("pip install %s failed: %s", pkg, reply.Reason)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Interrupt signals the worker process so the running cell raises
// KeyboardInterrupt.
func (w *ProcessWorker) Interrupt() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cmd == nil || w.cmd.Process == nil {
		return nil
	}
	return w.cmd.Process.Signal(syscall.SIGINT)
}

// Terminate kills the worker process.
func (w *ProcessWorker) Terminate() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stdin != nil {
		_ = w.stdin.Close()
		w.stdin = nil
	}
	if w.cmd != nil && w.cmd.Process != nil {
		_ = w.cmd.Process.Kill()
	}
}

// Messages returns the worker's output stream; closed on exit.
func (w *ProcessWorker) Messages() <-chan WorkerMessage {
	return w.messages
}

func (w *ProcessWorker) send(req workerRequest) error {
	w.mu.Lock()
	stdin := w.stdin
	w.mu.Unlock()
	if stdin == nil {
		return fmt.Errorf("worker is not running")
	}

	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to encode worker request: %w", err)
	}
	if _, err := stdin.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write to worker: %w", err)
	}
	return nil
}
