// internal/computer/shell.go
package computer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xkilldash9x/computer-worker/internal/command"
)

// WaitDuration is the pause performed by wait_5_seconds.
const WaitDuration = 5 * time.Second

// Shell executes commands against one browser page or one desktop session.
// Implementations are not safe for concurrent RunCommand calls; the worker
// serializes access.
type Shell interface {
	// RunCommand performs one action. Screenshots are produced by Screenshot.
	RunCommand(ctx context.Context, c command.Command) error
	// Screenshot returns the current frame as a base64 encoded PNG.
	Screenshot(ctx context.Context) (string, error)
	// CurrentURL returns the address of the current document, or "" when the
	// shell has no notion of one.
	CurrentURL(ctx context.Context) (string, error)
	Close() error
}

// ErrUnsupportedCommand is returned for a valid command the active shell cannot perform.
var ErrUnsupportedCommand = errors.New("command not supported by this shell")

// ExecutionError reports a failed primitive while running a command.
type ExecutionError struct {
	Command command.Name
	Err     error
}

// Error implements the error interface.
func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Command, e.Err)
}

// Unwrap provides the underlying error for use with errors.Is/As.
func (e *ExecutionError) Unwrap() error {
	return e.Err
}

func unsupported(shell string, name command.Name) error {
	return fmt.Errorf("%w: %s on %s", ErrUnsupportedCommand, name, shell)
}

// wrapExec turns a primitive failure into an ExecutionError. Unsupported
// commands and nil pass through unchanged.
func wrapExec(name command.Name, err error) error {
	if err == nil || errors.Is(err, ErrUnsupportedCommand) {
		return err
	}
	var execErr *ExecutionError
	if errors.As(err, &execErr) {
		return err
	}
	return &ExecutionError{Command: name, Err: err}
}

// DelegateSet is the set of commands a browser shell hands to its desktop delegate.
type DelegateSet map[command.Name]struct{}

// NewDelegateSet builds a set from names.
func NewDelegateSet(names ...command.Name) DelegateSet {
	s := make(DelegateSet, len(names))
	for _, n := range names {
		s[n] = struct{}{}
	}
	return s
}

// Has reports whether name is delegated.
func (s DelegateSet) Has(name command.Name) bool {
	_, ok := s[name]
	return ok
}

// DefaultDelegateCommands are the input commands that must look like real
// user input when the browser runs headful.
func DefaultDelegateCommands() DelegateSet {
	return NewDelegateSet(
		command.NameClickAt,
		command.NameHoverAt,
		command.NameTypeTextAt,
		command.NameKeyCombination,
	)
}

// SleepFunc pauses for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the production SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
