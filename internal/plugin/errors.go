package plugin

import "errors"

var (
	ErrDuplicatePlugin   = errors.New("plugin id already loaded")
	ErrPluginNotFound    = errors.New("plugin not found")
	ErrCyclicDependency  = errors.New("cyclic plugin dependency")
	ErrPermissionDenied  = errors.New("permission denied")
	ErrNetworkDenied     = errors.New("network permission denied")
	ErrHostNotAllowed    = errors.New("host disallowed by network allowlist")
	ErrMalformedManifest = errors.New("malformed manifest")
	ErrNotActive         = errors.New("plugin is not active")
)
