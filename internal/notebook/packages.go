package notebook

import (
	"context"
	"fmt"
	"regexp"
	"time"
)

var importRe = regexp.MustCompile(`(?m)^\s*(?:import|from)\s+([a-zA-Z_][a-zA-Z0-9_]*)`)

// stdlibModules are Python standard-library names that never need an
// install.
var stdlibModules = map[string]bool{
	"abc": true, "argparse": true, "asyncio": true, "base64": true,
	"bisect": true, "collections": true, "copy": true, "csv": true,
	"dataclasses": true, "datetime": true, "decimal": true, "enum": true,
	"fractions": true, "functools": true, "glob": true, "gzip": true,
	"hashlib": true, "heapq": true, "html": true, "http": true,
	"inspect": true, "io": true, "itertools": true, "json": true,
	"logging": true, "math": true, "operator": true, "os": true,
	"pathlib": true, "pickle": true, "random": true, "re": true,
	"shutil": true, "socket": true, "statistics": true, "string": true,
	"struct": true, "subprocess": true, "sys": true, "tempfile": true,
	"textwrap": true, "threading": true, "time": true, "traceback": true,
	"typing": true, "unicodedata": true, "unittest": true, "urllib": true,
	"uuid": true, "warnings": true, "zlib": true,
}

// unsupportedModules are known not to work in the workbench runtime
// (native GUI or process machinery). Importing them warns and continues.
var unsupportedModules = map[string]string{
	"tkinter":         "GUI toolkits are not available in the kernel runtime",
	"turtle":          "GUI toolkits are not available in the kernel runtime",
	"multiprocessing": "process pools are not available in the kernel runtime",
	"curses":          "terminal control is not available in the kernel runtime",
}

// packageAliases maps Python import names to their install names where
// they differ.
var packageAliases = map[string]string{
	"sklearn": "scikit-learn",
	"cv2":     "opencv-python",
	"PIL":     "pillow",
	"bs4":     "beautifulsoup4",
	"yaml":    "pyyaml",
	"skimage": "scikit-image",
	"Crypto":  "pycryptodome",
}

// Installer loads a package into the kernel runtime. Implemented by the
// worker.
type Installer interface {
	Install(ctx context.Context, pkg string) error
}

// PackageResolver scans source for imports and installs what is missing.
// Results are memoised per kernel lifetime; Reset clears them on restart.
type PackageResolver struct {
	installer Installer
	attempts  int
	backoff   time.Duration
	timeout   time.Duration
	resolved  map[string]bool
}

// NewPackageResolver builds a resolver with the given retry policy.
func NewPackageResolver(installer Installer, attempts int, backoff, timeout time.Duration) *PackageResolver {
	if attempts < 1 {
		attempts = 1
	}
	return &PackageResolver{
		installer: installer,
		attempts:  attempts,
		backoff:   backoff,
		timeout:   timeout,
		resolved:  make(map[string]bool),
	}
}

// ScanImports extracts top-level imported module names from source, in
// order of first appearance.
func ScanImports(source string) []string {
	var names []string
	seen := make(map[string]bool)
	for _, m := range importRe.FindAllStringSubmatch(source, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			names = append(names, m[1])
		}
	}
	return names
}

// Resolve ensures every import in source is available. Warnings (known
// unsupported modules, failed installs) go to warn; execution proceeds
// regardless, since the code may still partially work.
func (r *PackageResolver) Resolve(ctx context.Context, source string, warn func(string)) {
	for _, name := range ScanImports(source) {
		if stdlibModules[name] || r.resolved[name] {
			continue
		}
		if reason, ok := unsupportedModules[name]; ok {
			warn(fmt.Sprintf("module %q is not supported: %s", name, reason))
			r.resolved[name] = true
			continue
		}

		pkg := name
		if alias, ok := packageAliases[name]; ok {
			pkg = alias
		}
		if err := r.install(ctx, pkg); err != nil {
			warn(fmt.Sprintf("failed to install package %q for module %q: %v", pkg, name, err))
			continue
		}
		r.resolved[name] = true
	}
}

func (r *PackageResolver) install(ctx context.Context, pkg string) error {
	var err error
	for attempt := 0; attempt < r.attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(r.backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		attemptCtx := ctx
		cancel := context.CancelFunc(func() {})
		if r.timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, r.timeout)
		}
		err = r.installer.Install(attemptCtx, pkg)
		cancel()
		if err == nil {
			return nil
		}
	}
	return err
}

// Reset forgets memoised installs; called on kernel restart.
func (r *PackageResolver) Reset() {
	r.resolved = make(map[string]bool)
}
