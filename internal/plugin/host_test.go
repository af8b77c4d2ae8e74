package plugin

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnema/lattice/internal/annotations"
	"github.com/bnema/lattice/internal/vault"
)

func testHost(t *testing.T) (*Host, *mockAPI, *AuditLog) {
	t.Helper()
	api := newMockAPI()
	audit := NewAuditLog(32)
	gate := NewGate(audit)
	storage, err := OpenStorage(filepath.Join(t.TempDir(), "storage.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = storage.Close() })

	bridge := NewBridge(api, gate, storage, annotations.NewStore(), func(url string) (string, error) {
		return "body", nil
	})
	return NewHost(bridge, gate, audit, NewRegistries(), zerolog.Nop()), api, audit
}

func simpleManifest(id string, deps ...string) *Manifest {
	return &Manifest{
		ID:           id,
		Version:      "1.0.0",
		Permissions:  []Permission{PermFileRead, PermFileWrite, PermUICommands},
		Commands:     []CommandSpec{{ID: "noop", Title: "Noop"}},
		Dependencies: deps,
	}
}

func TestHost_LoadAndActivate(t *testing.T) {
	host, _, _ := testHost(t)

	code := `
		var activated = false;
		function onActivate(ctx) { activated = ctx.permissions.length > 0; }
		lattice.registerCommand("noop", function (payload) {});
	`
	require.NoError(t, host.Load(simpleManifest("p1"), code))
	require.NoError(t, host.Activate("p1"))

	record, ok := host.Plugin("p1")
	require.True(t, ok)
	assert.Equal(t, StateActive, record.State)
}

func TestHost_DuplicateIDRejected(t *testing.T) {
	host, _, _ := testHost(t)

	require.NoError(t, host.Load(simpleManifest("p1"), ""))
	err := host.Load(simpleManifest("p1"), "")
	assert.ErrorIs(t, err, ErrDuplicatePlugin)
}

func TestHost_LoadErrorMarksFailedButDoesNotBlock(t *testing.T) {
	host, _, _ := testHost(t)

	err := host.Load(simpleManifest("broken"), "this is not js ((")
	require.Error(t, err)

	record, ok := host.Plugin("broken")
	require.True(t, ok)
	assert.Equal(t, StateFailed, record.State)

	// Another plugin is unaffected.
	require.NoError(t, host.Load(simpleManifest("fine"), "1 + 1"))
	require.NoError(t, host.Activate("fine"))
}

func TestHost_ActivateFailureRollsBackRegistrations(t *testing.T) {
	host, _, _ := testHost(t)

	code := `function onActivate() { throw new Error("nope"); }`
	require.NoError(t, host.Load(simpleManifest("p1"), code))

	err := host.Activate("p1")
	require.Error(t, err)

	record, _ := host.Plugin("p1")
	assert.Equal(t, StateFailed, record.State)
	assert.Empty(t, host.registries.Commands("p1"), "registrations roll back on failed activate")
}

func TestHost_RunCommandReachesPlugin(t *testing.T) {
	host, api, _ := testHost(t)

	// The command writes a file through the gated RPC bridge.
	code := `
		lattice.registerCommand("write-note", function (payload) {
			lattice.request("workspace.writeFile", {path: "out.md", content: payload.text});
		});
	`
	require.NoError(t, host.Load(simpleManifest("p1"), code))
	require.NoError(t, host.Activate("p1"))

	require.NoError(t, host.RunCommand("p1", "write-note", map[string]any{"text": "hello"}))

	require.Eventually(t, func() bool {
		return api.file("out.md") == "hello"
	}, time.Second, 5*time.Millisecond)
}

func TestHost_RunCommandRequiresActive(t *testing.T) {
	host, _, _ := testHost(t)
	require.NoError(t, host.Load(simpleManifest("p1"), ""))

	err := host.RunCommand("p1", "noop", nil)
	assert.ErrorIs(t, err, ErrNotActive)
}

func TestHost_ActivationOrderFollowsDependencies(t *testing.T) {
	host, _, _ := testHost(t)

	require.NoError(t, host.Load(simpleManifest("app", "lib"), ""))
	require.NoError(t, host.Load(simpleManifest("lib"), ""))

	order, err := host.activationOrder()
	require.NoError(t, err)
	require.Len(t, order, 2)
	assert.Equal(t, "lib", order[0])
	assert.Equal(t, "app", order[1])

	assert.Empty(t, host.ActivateAll())
}

func TestHost_CyclicDependencyRejected(t *testing.T) {
	host, _, _ := testHost(t)

	require.NoError(t, host.Load(simpleManifest("a", "b"), ""))
	require.NoError(t, host.Load(simpleManifest("b", "a"), ""))

	_, err := host.activationOrder()
	assert.ErrorIs(t, err, ErrCyclicDependency)
}

func TestHost_MissingDependencyRejected(t *testing.T) {
	host, _, _ := testHost(t)
	require.NoError(t, host.Load(simpleManifest("a", "ghost"), ""))

	_, err := host.activationOrder()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ghost")
}

func TestHost_EventForwarding(t *testing.T) {
	host, api, _ := testHost(t)

	// The plugin writes the active file's path to a workspace file so the
	// test can observe it.
	code := `
		lattice.on("active-file-change", function (ev) {
			lattice.request("workspace.writeFile", {path: "seen.txt", content: ev.path});
		});
	`
	require.NoError(t, host.Load(simpleManifest("watcher"), code))
	require.NoError(t, host.Activate("watcher"))

	bus := vault.NewBus(16, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go host.Run(ctx, bus)

	// Give the host loop time to subscribe before emitting.
	require.Eventually(t, func() bool { return bus.SubscriberCount() == 1 }, time.Second, time.Millisecond)
	bus.Emit(vault.Event{Type: vault.EventActiveFileChange, Path: "notes/today.md"})

	require.Eventually(t, func() bool {
		return api.file("seen.txt") == "notes/today.md"
	}, time.Second, 5*time.Millisecond)
}

func TestHost_FetchThroughSandboxGate(t *testing.T) {
	// End to end: fetch throws without the permission, succeeds with
	// it, and both paths land in the audit buffer.
	host, api, audit := testHost(t)

	code := `
		lattice.registerCommand("pull", function () {
			var body;
			try {
				body = fetch("https://api.example.com");
			} catch (e) {
				lattice.request("workspace.writeFile", {path: "err.txt", content: String(e)});
				return;
			}
			lattice.request("workspace.writeFile", {path: "ok.txt", content: body});
		});
	`

	denied := simpleManifest("p1")
	require.NoError(t, host.Load(denied, code))
	require.NoError(t, host.Activate("p1"))
	require.NoError(t, host.RunCommand("p1", "pull", nil))

	require.Eventually(t, func() bool { return api.file("err.txt") != "" }, time.Second, 5*time.Millisecond)
	assert.Contains(t, api.file("err.txt"), "network permission denied")

	var blocked *AuditEvent
	for _, ev := range audit.Tail("p1") {
		if ev.Action == "network-blocked" {
			blocked = &ev
			break
		}
	}
	require.NotNil(t, blocked)
	assert.Equal(t, AuditWarn, blocked.Level)
	assert.Equal(t, "https://api.example.com", blocked.Data["url"])

	// Grant the permission and allowlist the host; the same call works.
	granted := simpleManifest("p2")
	granted.Permissions = append(granted.Permissions, PermNetwork)
	granted.NetworkAllowlist = []string{"api.example.com"}
	require.NoError(t, host.Load(granted, code))
	require.NoError(t, host.Activate("p2"))
	require.NoError(t, host.RunCommand("p2", "pull", nil))

	require.Eventually(t, func() bool { return api.file("ok.txt") == "body" }, time.Second, 5*time.Millisecond)

	tail := audit.Tail("p2")
	var requested bool
	for _, ev := range tail {
		if ev.Action == "network-request" && ev.Level == AuditInfo {
			requested = true
		}
	}
	assert.True(t, requested)
}

func TestHost_UnloadDropsEverything(t *testing.T) {
	host, _, audit := testHost(t)

	require.NoError(t, host.Load(simpleManifest("p1"), ""))
	require.NoError(t, host.Activate("p1"))
	audit.Append(AuditEvent{PluginID: "p1", Action: "x"})

	require.NoError(t, host.Unload("p1"))

	_, ok := host.Plugin("p1")
	assert.False(t, ok)
	assert.Empty(t, host.registries.Commands("p1"))
	assert.Empty(t, audit.Tail("p1"))
}

func TestRegistries_InstallAndInvalidate(t *testing.T) {
	r := NewRegistries()

	require.NoError(t, r.Install("p1",
		[]CommandSpec{{ID: "a", Title: "A"}},
		[]PanelSpec{{ID: "panel", Title: "P", Schema: PanelList}}))

	assert.Len(t, r.Commands("p1"), 1)
	assert.Len(t, r.Panels("p1"), 1)
	assert.Len(t, r.AllCommands(), 1)

	err := r.Install("p2", []CommandSpec{{ID: "x"}, {ID: "x"}}, nil)
	assert.Error(t, err, "duplicate command ids within one plugin")

	r.Invalidate("p1")
	assert.Empty(t, r.Commands("p1"))
	assert.Empty(t, r.Panels("p1"))
}
