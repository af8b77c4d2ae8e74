package plugin

import (
	"fmt"
	"net/url"
	"strings"
)

// Gate enforces the capability and network policy at the host end. The
// plugin side is never trusted with the check.
type Gate struct {
	audit *AuditLog
}

// NewGate creates a gate writing decisions to the audit log.
func NewGate(audit *AuditLog) *Gate {
	return &Gate{audit: audit}
}

// Require checks a permission for an action, auditing the outcome.
func (g *Gate) Require(m *Manifest, perm Permission, action string) error {
	if !knownPermissions[perm] || !m.Has(perm) {
		g.audit.Append(AuditEvent{
			PluginID: m.ID,
			Level:    AuditWarn,
			Action:   action + "-denied",
			Message:  fmt.Sprintf("missing permission %s", perm),
			Data:     map[string]any{"permission": string(perm)},
		})
		return fmt.Errorf("%s requires %s: %w", action, perm, ErrPermissionDenied)
	}
	g.audit.Append(AuditEvent{
		PluginID: m.ID,
		Level:    AuditInfo,
		Action:   action,
		Data:     map[string]any{"permission": string(perm)},
	})
	return nil
}

// CheckFetch validates a network dispatch: the plugin must hold the
// network permission, the URL must be well-formed http(s), and the host
// must match the allowlist. Every decision is audited before dispatch.
func (g *Gate) CheckFetch(m *Manifest, rawURL string) error {
	if !m.Has(PermNetwork) {
		g.audit.Append(AuditEvent{
			PluginID: m.ID,
			Level:    AuditWarn,
			Action:   "network-blocked",
			Message:  "network permission not granted",
			Data:     map[string]any{"url": rawURL},
		})
		return ErrNetworkDenied
	}

	parsed, err := url.Parse(rawURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Hostname() == "" {
		g.audit.Append(AuditEvent{
			PluginID: m.ID,
			Level:    AuditWarn,
			Action:   "network-blocked",
			Message:  "invalid url",
			Data:     map[string]any{"url": rawURL},
		})
		return fmt.Errorf("invalid fetch url %q: %w", rawURL, ErrHostNotAllowed)
	}

	if !hostAllowed(parsed.Hostname(), m.NetworkAllowlist) {
		g.audit.Append(AuditEvent{
			PluginID: m.ID,
			Level:    AuditWarn,
			Action:   "network-blocked",
			Message:  fmt.Sprintf("host %s not in allowlist", parsed.Hostname()),
			Data:     map[string]any{"url": rawURL, "host": parsed.Hostname()},
		})
		return fmt.Errorf("host %s: %w", parsed.Hostname(), ErrHostNotAllowed)
	}

	g.audit.Append(AuditEvent{
		PluginID: m.ID,
		Level:    AuditInfo,
		Action:   "network-request",
		Data:     map[string]any{"url": rawURL, "host": parsed.Hostname()},
	})
	return nil
}

// hostAllowed applies the allowlist rules: a bare pattern matches only
// itself; "*.x" matches exactly x or any subdomain of x.
func hostAllowed(host string, allowlist []string) bool {
	host = strings.ToLower(host)
	for _, pattern := range allowlist {
		pattern = strings.ToLower(strings.TrimSpace(pattern))
		if pattern == "" {
			continue
		}
		if base, ok := strings.CutPrefix(pattern, "*."); ok {
			if host == base || strings.HasSuffix(host, "."+base) {
				return true
			}
			continue
		}
		if host == pattern {
			return true
		}
	}
	return false
}
