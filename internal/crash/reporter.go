// Package crash writes a post-mortem report before the process exits
// non-zero. Enabled with -V; unrecoverable errors never reach the transport
// as panics.
package crash

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/google/uuid"
)

// Reporter traps panics and persists a stack dump under the cache directory.
type Reporter struct {
	dir     string
	enabled bool
}

// New creates a reporter writing under <cacheRoot>/.cache/crash/.
func New(cacheRoot string, enabled bool) *Reporter {
	return &Reporter{
		dir:     filepath.Join(cacheRoot, ".cache", "crash"),
		enabled: enabled,
	}
}

// Recover is deferred at goroutine roots. On panic it writes the report and
// exits non-zero; disabled reporters re-raise so tests see the panic.
func (r *Reporter) Recover() {
	p := recover()
	if p == nil {
		return
	}
	if !r.enabled {
		panic(p)
	}
	path := r.Write(p)
	fmt.Fprintf(os.Stderr, "cjls crashed: %v (report: %s)\n", p, path)
	os.Exit(2)
}

// Write persists one crash report and returns its path.
func (r *Reporter) Write(cause interface{}) string {
	if err := os.MkdirAll(r.dir, 0755); err != nil {
		return ""
	}
	buf := make([]byte, 1<<16)
	n := runtime.Stack(buf, true)

	name := fmt.Sprintf("crash-%s-%s.txt",
		time.Now().Format("20060102-150405"), uuid.NewString()[:8])
	path := filepath.Join(r.dir, name)

	report := fmt.Sprintf("cause: %v\ntime: %s\ngo: %s\n\n%s",
		cause, time.Now().Format(time.RFC3339), runtime.Version(), buf[:n])
	if err := os.WriteFile(path, []byte(report), 0644); err != nil {
		return ""
	}
	return path
}
