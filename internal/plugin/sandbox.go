package plugin

import (
	"encoding/json"
	"fmt"

	"github.com/grafana/sobek"
	"github.com/rs/zerolog"
)

// Sandbox runs one plugin's code in its own JavaScript isolate on a
// dedicated goroutine. The isolate has no handle to host memory or the
// file system; its only surface is the `lattice` object, whose calls are
// mediated by the host bridge. Host-to-plugin notifications are queued on
// an inbox and executed on the isolate goroutine, since the runtime is
// not goroutine-safe.
type Sandbox struct {
	pluginID string
	request  func(Request) Response
	inbox    chan hostMsg
	done     chan struct{}
	log      zerolog.Logger

	// Isolate-goroutine state; never touched from outside the loop.
	vm        *sobek.Runtime
	commands  map[string]sobek.Callable
	listeners map[string][]sobek.Callable
	nextReqID int64
}

type hostMsgKind int

const (
	msgLoad hostMsgKind = iota
	msgActivate
	msgDeactivate
	msgRunCommand
	msgEvent
)

type hostMsg struct {
	kind      hostMsgKind
	code      string
	commandID string
	event     string
	payload   map[string]any
	reply     chan error
}

// NewSandbox starts the isolate goroutine. request is invoked on that
// goroutine for every plugin RPC; it must not call back into the sandbox.
func NewSandbox(pluginID string, request func(Request) Response, log zerolog.Logger) *Sandbox {
	s := &Sandbox{
		pluginID:  pluginID,
		request:   request,
		inbox:     make(chan hostMsg, 64),
		done:      make(chan struct{}),
		log:       log,
		commands:  make(map[string]sobek.Callable),
		listeners: make(map[string][]sobek.Callable),
	}
	go s.loop()
	return s
}

func (s *Sandbox) loop() {
	defer close(s.done)

	s.vm = sobek.New()
	if err := s.installGlobals(); err != nil {
		s.log.Error().Err(err).Str("plugin", s.pluginID).Msg("sandbox bootstrap failed")
		return
	}

	for msg := range s.inbox {
		err := s.handle(msg)
		if msg.reply != nil {
			msg.reply <- err
		} else if err != nil {
			s.log.Warn().Err(err).Str("plugin", s.pluginID).Msg("plugin notification failed")
		}
	}
}

func (s *Sandbox) handle(msg hostMsg) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("plugin %s panicked: %v", s.pluginID, r)
		}
	}()

	switch msg.kind {
	case msgLoad:
		_, err = s.vm.RunString(msg.code)
		return err

	case msgActivate:
		return s.callGlobal("onActivate", msg.payload)

	case msgDeactivate:
		return s.callGlobal("onDeactivate", nil)

	case msgRunCommand:
		runner, ok := s.commands[msg.commandID]
		if !ok {
			return fmt.Errorf("plugin %s has no runner for command %q", s.pluginID, msg.commandID)
		}
		_, err = runner(sobek.Undefined(), s.vm.ToValue(msg.payload))
		return err

	case msgEvent:
		for _, listener := range s.listeners[msg.event] {
			if _, err := listener(sobek.Undefined(), s.vm.ToValue(msg.payload)); err != nil {
				return err
			}
		}
		return nil
	}
	return nil
}

func (s *Sandbox) callGlobal(name string, payload map[string]any) error {
	fn, ok := sobek.AssertFunction(s.vm.Get(name))
	if !ok {
		return nil
	}
	_, err := fn(sobek.Undefined(), s.vm.ToValue(payload))
	return err
}

// installGlobals builds the `lattice` surface and the gated fetch.
func (s *Sandbox) installGlobals() error {
	lattice := s.vm.NewObject()

	// lattice.request(type, params) -> result, throwing on {ok: false}.
	err := lattice.Set("request", func(reqType string, params map[string]any) (any, error) {
		return s.roundTrip(reqType, params)
	})
	if err != nil {
		return err
	}

	if err := lattice.Set("registerCommand", func(id string, fn sobek.Callable) {
		s.commands[id] = fn
	}); err != nil {
		return err
	}

	if err := lattice.Set("on", func(event string, fn sobek.Callable) {
		s.listeners[event] = append(s.listeners[event], fn)
	}); err != nil {
		return err
	}

	if err := s.vm.Set("lattice", lattice); err != nil {
		return err
	}

	// fetch is the only network primitive; the host gate decides.
	return s.vm.Set("fetch", func(url string) (any, error) {
		return s.roundTrip("net.fetch", map[string]any{"url": url})
	})
}

// roundTrip converts loosely-typed JS params into a Request, sends it
// through the host bridge, and surfaces {ok:false} as a thrown error.
func (s *Sandbox) roundTrip(reqType string, params map[string]any) (any, error) {
	s.nextReqID++
	req := Request{Type: reqType, ID: s.nextReqID}
	if len(params) > 0 {
		encoded, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("unencodable request params: %w", err)
		}
		if err := json.Unmarshal(encoded, &req); err != nil {
			return nil, fmt.Errorf("invalid request params: %w", err)
		}
	}

	resp := s.request(req)
	if !resp.OK {
		return nil, fmt.Errorf("%s", resp.Error)
	}
	return resp.Result, nil
}

// Load evaluates the plugin's main code, blocking for the result.
func (s *Sandbox) Load(code string) error {
	return s.deliverWait(hostMsg{kind: msgLoad, code: code})
}

// Activate notifies the plugin with its granted permissions.
func (s *Sandbox) Activate(permissions []Permission, allowlist []string) error {
	perms := make([]string, len(permissions))
	for i, p := range permissions {
		perms[i] = string(p)
	}
	return s.deliverWait(hostMsg{kind: msgActivate, payload: map[string]any{
		"permissions":      perms,
		"networkAllowlist": allowlist,
	}})
}

// Deactivate notifies the plugin; the isolate stays alive until Close.
func (s *Sandbox) Deactivate() error {
	return s.deliverWait(hostMsg{kind: msgDeactivate})
}

// RunCommand invokes a registered command runner asynchronously.
func (s *Sandbox) RunCommand(id string, payload map[string]any) {
	s.deliver(hostMsg{kind: msgRunCommand, commandID: id, payload: payload})
}

// Event forwards a vault lifecycle event asynchronously.
func (s *Sandbox) Event(name string, payload map[string]any) {
	s.deliver(hostMsg{kind: msgEvent, event: name, payload: payload})
}

func (s *Sandbox) deliver(msg hostMsg) {
	select {
	case s.inbox <- msg:
	case <-s.done:
	}
}

func (s *Sandbox) deliverWait(msg hostMsg) error {
	msg.reply = make(chan error, 1)
	select {
	case s.inbox <- msg:
	case <-s.done:
		return fmt.Errorf("plugin %s sandbox is closed", s.pluginID)
	}
	select {
	case err := <-msg.reply:
		return err
	case <-s.done:
		return fmt.Errorf("plugin %s sandbox exited", s.pluginID)
	}
}

// Close shuts the isolate down; queued notifications are dropped.
func (s *Sandbox) Close() {
	defer func() { _ = recover() }() // double close on unload after failure
	close(s.inbox)
	<-s.done
}
