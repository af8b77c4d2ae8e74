package plugin

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGate_RequireDeniedIsAudited(t *testing.T) {
	audit := NewAuditLog(16)
	gate := NewGate(audit)
	m := &Manifest{ID: "p1", Version: "1", Permissions: []Permission{PermFileRead}}

	require.NoError(t, gate.Require(m, PermFileRead, "workspace.readFile"))
	err := gate.Require(m, PermFileWrite, "workspace.writeFile")
	assert.ErrorIs(t, err, ErrPermissionDenied)

	tail := audit.Tail("p1")
	require.Len(t, tail, 2)
	assert.Equal(t, AuditInfo, tail[0].Level)
	assert.Equal(t, "workspace.readFile", tail[0].Action)
	assert.Equal(t, AuditWarn, tail[1].Level)
	assert.Equal(t, "workspace.writeFile-denied", tail[1].Action)
}

func TestGate_FetchWithoutPermission(t *testing.T) {
	// Without the network permission every fetch is blocked.
	audit := NewAuditLog(16)
	gate := NewGate(audit)
	m := &Manifest{ID: "p1", Version: "1"}

	err := gate.CheckFetch(m, "https://api.example.com")
	assert.ErrorIs(t, err, ErrNetworkDenied)

	tail := audit.Tail("p1")
	require.Len(t, tail, 1)
	assert.Equal(t, AuditWarn, tail[0].Level)
	assert.Equal(t, "network-blocked", tail[0].Action)
	assert.Equal(t, "https://api.example.com", tail[0].Data["url"])
}

func TestGate_FetchWithPermissionAndAllowlist(t *testing.T) {
	// Permission plus allowlist lets the call through.
	audit := NewAuditLog(16)
	gate := NewGate(audit)
	m := &Manifest{
		ID: "p1", Version: "1",
		Permissions:      []Permission{PermNetwork},
		NetworkAllowlist: []string{"api.example.com"},
	}

	require.NoError(t, gate.CheckFetch(m, "https://api.example.com/v1/data"))

	tail := audit.Tail("p1")
	require.Len(t, tail, 1)
	assert.Equal(t, AuditInfo, tail[0].Level)
	assert.Equal(t, "network-request", tail[0].Action)
}

func TestGate_FetchHostNotAllowed(t *testing.T) {
	audit := NewAuditLog(16)
	gate := NewGate(audit)
	m := &Manifest{
		ID: "p1", Version: "1",
		Permissions:      []Permission{PermNetwork},
		NetworkAllowlist: []string{"api.example.com"},
	}

	err := gate.CheckFetch(m, "https://evil.example.org/")
	assert.ErrorIs(t, err, ErrHostNotAllowed)
}

func TestGate_FetchInvalidURL(t *testing.T) {
	audit := NewAuditLog(16)
	gate := NewGate(audit)
	m := &Manifest{ID: "p1", Version: "1", Permissions: []Permission{PermNetwork}}

	for _, bad := range []string{"ftp://x.com", "not a url", "https://"} {
		err := gate.CheckFetch(m, bad)
		assert.ErrorIs(t, err, ErrHostNotAllowed, "url %q", bad)
	}
}

func TestHostAllowed_WildcardRules(t *testing.T) {
	allowlist := []string{"*.example.com", "exact.net"}

	// "*.x" matches exactly x or any subdomain of x.
	assert.True(t, hostAllowed("example.com", allowlist))
	assert.True(t, hostAllowed("api.example.com", allowlist))
	assert.True(t, hostAllowed("deep.api.example.com", allowlist))
	assert.False(t, hostAllowed("badexample.com", allowlist))
	assert.False(t, hostAllowed("example.com.evil.io", allowlist))

	// A bare pattern matches only itself.
	assert.True(t, hostAllowed("exact.net", allowlist))
	assert.False(t, hostAllowed("sub.exact.net", allowlist))

	assert.False(t, hostAllowed("anything.io", nil))
}

func TestAuditLog_RingOverwritesOldest(t *testing.T) {
	audit := NewAuditLog(3)
	for i := 0; i < 5; i++ {
		audit.Append(AuditEvent{PluginID: "p1", Level: AuditInfo, Action: string(rune('a' + i))})
	}

	tail := audit.Tail("p1")
	require.Len(t, tail, 3)
	assert.Equal(t, "c", tail[0].Action)
	assert.Equal(t, "e", tail[2].Action)
}

func TestAuditLog_PerPluginIsolationAndDrop(t *testing.T) {
	audit := NewAuditLog(4)
	audit.Append(AuditEvent{PluginID: "p1", Action: "one"})
	audit.Append(AuditEvent{PluginID: "p2", Action: "two"})

	assert.Len(t, audit.Tail("p1"), 1)
	assert.Len(t, audit.Tail("p2"), 1)

	audit.Drop("p1")
	assert.Empty(t, audit.Tail("p1"))
	assert.Len(t, audit.Tail("p2"), 1)
}
