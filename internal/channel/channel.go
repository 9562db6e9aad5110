// internal/channel/channel.go
package channel

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	json "github.com/json-iterator/go"
)

// ErrAlreadyPublished is returned by the second publish on the same message.
var ErrAlreadyPublished = errors.New("a result was already published for this message")

// Message is one inbound command together with the means to answer it.
// Exactly one of PublishScreenshot or PublishError takes effect.
type Message interface {
	// ID is the correlation id. It is empty on channels that reply in band.
	ID() string
	// Payload is the raw command, not yet parsed.
	Payload() json.RawMessage
	PublishScreenshot(ctx context.Context, screenshot, sessionID, url string) error
	PublishError(ctx context.Context, msg string) error
}

// Handler processes one message. It must publish before returning.
type Handler func(ctx context.Context, msg Message)

// Channel delivers commands to a Handler and carries results back.
type Channel interface {
	// Subscribe starts delivery in the background and returns once the channel
	// is able to receive. Setup failures are returned as *TransportError.
	Subscribe(ctx context.Context, h Handler) error
	// Err yields at most one fatal delivery failure after Subscribe.
	Err() <-chan error
	// Disconnect stops delivery and releases the transport. It is idempotent.
	Disconnect(ctx context.Context) error
}

// TransportError reports a failure of the channel itself rather than of a command.
type TransportError struct {
	Op  string
	Err error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s failed: %v", e.Op, e.Err)
}

// Unwrap provides the underlying error for use with errors.Is/As.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// publishGuard lets exactly one publish through.
type publishGuard struct {
	done atomic.Bool
}

func (g *publishGuard) claim() error {
	if !g.done.CompareAndSwap(false, true) {
		return ErrAlreadyPublished
	}
	return nil
}

func (g *publishGuard) published() bool {
	return g.done.Load()
}

// failure delivers at most one fatal error to Err() without blocking.
type failure struct {
	ch chan error
}

func newFailure() failure {
	return failure{ch: make(chan error, 1)}
}

func (f failure) report(err error) {
	select {
	case f.ch <- err:
	default:
	}
}
