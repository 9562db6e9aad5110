// internal/computer/export_test.go
package computer

import (
	"context"
	"os/exec"
)

// SetExecCommandContext swaps the process launcher used by ExecRunner and
// returns a function restoring the previous one.
func SetExecCommandContext(fn func(ctx context.Context, name string, args ...string) *exec.Cmd) func() {
	prev := execCommandContext
	execCommandContext = fn
	return func() { execCommandContext = prev }
}
