// internal/worker/lifecycle.go
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/xkilldash9x/computer-worker/internal/channel"
	"github.com/xkilldash9x/computer-worker/internal/command"
	"github.com/xkilldash9x/computer-worker/internal/computer"
)

// State is the externally visible phase of the worker.
type State int32

const (
	StateNotReady State = iota
	StateReady
	StateShuttingDown
)

func (s State) String() string {
	switch s {
	case StateNotReady:
		return "not_ready"
	case StateReady:
		return "ready"
	case StateShuttingDown:
		return "shutting_down"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Reasons passed to Shutdown.
const (
	ReasonIdle            = "idle timeout"
	ReasonShutdownCommand = "shutdown command"
	ReasonSignal          = "signal"
	ReasonTransport       = "transport failure"
)

// ErrShuttingDown is returned by MarkReady once teardown has begun.
var ErrShuttingDown = errors.New("worker is shutting down")

const defaultTeardownTimeout = 10 * time.Second

// Options configures a Lifecycle.
type Options struct {
	SessionID   string
	IdleTimeout time.Duration
	// TeardownTimeout bounds the whole of Shutdown.
	TeardownTimeout time.Duration
	// ReadinessAddr is where GET /ready is served. Empty disables the endpoint.
	ReadinessAddr string
}

// Lifecycle owns the worker state: readiness, the idle timer, the single
// execution slot and teardown. All transitions go through its methods.
type Lifecycle struct {
	channel   channel.Channel
	readiness *ReadinessServer
	logger    *zap.Logger
	opts      Options

	state atomic.Int32
	slot  *semaphore.Weighted

	mu    sync.Mutex
	shell computer.Shell
	timer *time.Timer

	shutdownOnce sync.Once
	shutdownErr  error
	done         chan struct{}
}

// New creates a lifecycle in the NotReady state.
func New(ch channel.Channel, logger *zap.Logger, opts Options) *Lifecycle {
	if opts.TeardownTimeout <= 0 {
		opts.TeardownTimeout = defaultTeardownTimeout
	}
	l := &Lifecycle{
		channel: ch,
		logger:  logger.Named("lifecycle").With(zap.String("session_id", opts.SessionID)),
		opts:    opts,
		slot:    semaphore.NewWeighted(1),
		done:    make(chan struct{}),
	}
	if opts.ReadinessAddr != "" {
		l.readiness = NewReadinessServer(opts.ReadinessAddr, l.Ready, logger)
	}
	return l
}

// Start serves the readiness endpoint and subscribes to the channel. Commands
// delivered before MarkReady are dropped.
func (l *Lifecycle) Start(ctx context.Context) error {
	if l.readiness != nil {
		if err := l.readiness.Start(ctx); err != nil {
			return err
		}
	}
	if err := l.channel.Subscribe(ctx, l.Handle); err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	return nil
}

// MarkReady installs the execution backend, arms the idle timer and starts
// accepting commands.
func (l *Lifecycle) MarkReady(shell computer.Shell) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.State() != StateNotReady {
		return ErrShuttingDown
	}
	l.shell = shell
	if l.opts.IdleTimeout > 0 {
		l.timer = time.AfterFunc(l.opts.IdleTimeout, func() {
			l.logger.Info("No commands received; shutting down.", zap.Duration("idle_timeout", l.opts.IdleTimeout))
			l.Shutdown(ReasonIdle)
		})
	}
	l.state.Store(int32(StateReady))
	l.logger.Info("Worker is ready.")
	return nil
}

// State returns the current phase.
func (l *Lifecycle) State() State {
	return State(l.state.Load())
}

// Ready reports whether commands are accepted.
func (l *Lifecycle) Ready() bool {
	return l.State() == StateReady
}

// ReadinessAddr returns the bound readiness address, or "" when disabled.
func (l *Lifecycle) ReadinessAddr() string {
	if l.readiness == nil {
		return ""
	}
	return l.readiness.Addr()
}

// Done is closed when teardown has finished.
func (l *Lifecycle) Done() <-chan struct{} {
	return l.done
}

// Handle is the channel handler. It drops commands unless Ready, restarts the
// idle timer, then executes the command in the single execution slot and
// publishes exactly one result.
func (l *Lifecycle) Handle(ctx context.Context, msg channel.Message) {
	log := l.logger.With(zap.String("message_id", msg.ID()))
	if !l.Ready() {
		log.Warn("Received command while not ready. Ignoring.", zap.Stringer("state", l.State()))
		return
	}
	l.resetIdleTimer()

	// A delivered command runs to completion even if its requester goes away.
	ctx = context.WithoutCancel(ctx)
	if err := l.slot.Acquire(ctx, 1); err != nil {
		l.publishError(ctx, msg, log, err.Error())
		return
	}
	defer l.slot.Release(1)

	if !l.Ready() {
		log.Warn("Shutdown began while the command was queued.")
		l.publishError(ctx, msg, log, ErrShuttingDown.Error())
		return
	}
	l.execute(ctx, msg, log)
}

func (l *Lifecycle) execute(ctx context.Context, msg channel.Message, log *zap.Logger) {
	var shutdown bool
	defer func() {
		if r := recover(); r != nil {
			log.Error("Recovered from panic while handling command.", zap.Any("panic", r), zap.Stack("stack"))
			l.publishError(ctx, msg, log, fmt.Sprintf("internal error: %v", r))
		}
		if shutdown {
			// Teardown waits for this handler to return, so it cannot run inline.
			go l.Shutdown(ReasonShutdownCommand)
		}
	}()

	cmd, err := command.Parse(msg.Payload())
	if err != nil {
		log.Warn("Rejecting command.", zap.Error(err))
		l.publishError(ctx, msg, log, err.Error())
		return
	}
	log = log.With(zap.String("command", string(cmd.Name())))
	log.Info("Executing command.")

	if cmd.Name() == command.NameShutdown {
		log.Info("Received shutdown command.")
		shutdown = true
		l.beginShutdown()
	}

	start := time.Now()
	if err := l.shell.RunCommand(ctx, cmd); err != nil {
		log.Error("Command failed.", zap.Error(err))
		l.publishError(ctx, msg, log, err.Error())
		return
	}
	url, err := l.shell.CurrentURL(ctx)
	if err != nil {
		log.Error("Failed to read the current URL.", zap.Error(err))
		l.publishError(ctx, msg, log, err.Error())
		return
	}
	screenshot, err := l.shell.Screenshot(ctx)
	if err != nil {
		log.Error("Failed to capture screenshot.", zap.Error(err))
		l.publishError(ctx, msg, log, err.Error())
		return
	}
	if err := msg.PublishScreenshot(ctx, screenshot, l.opts.SessionID, url); err != nil {
		log.Error("Failed to publish result.", zap.Error(err))
		return
	}
	log.Info("Command completed.", zap.Duration("elapsed", time.Since(start)), zap.String("url", url))
}

func (l *Lifecycle) publishError(ctx context.Context, msg channel.Message, log *zap.Logger, text string) {
	if err := msg.PublishError(ctx, text); err != nil {
		log.Error("Failed to publish error result.", zap.Error(err))
	}
}

func (l *Lifecycle) resetIdleTimer() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.timer != nil && l.Ready() {
		l.timer.Reset(l.opts.IdleTimeout)
	}
}

// beginShutdown flips readiness off and stops the idle timer.
func (l *Lifecycle) beginShutdown() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state.Store(int32(StateShuttingDown))
	if l.timer != nil {
		l.timer.Stop()
	}
}

// Shutdown tears the worker down: readiness goes false first, then the channel
// and the readiness endpoint stop concurrently, then the backend is closed.
// It is safe to call more than once; later calls wait for the first.
func (l *Lifecycle) Shutdown(reason string) error {
	l.shutdownOnce.Do(func() {
		defer close(l.done)
		l.logger.Info("Shutting down.", zap.String("reason", reason))
		l.beginShutdown()

		ctx, cancel := context.WithTimeout(context.Background(), l.opts.TeardownTimeout)
		defer cancel()

		var g errgroup.Group
		g.Go(func() error {
			if err := l.channel.Disconnect(ctx); err != nil {
				return fmt.Errorf("failed to disconnect channel: %w", err)
			}
			return nil
		})
		if l.readiness != nil {
			g.Go(func() error {
				return l.readiness.Stop(ctx)
			})
		}
		errs := []error{g.Wait()}

		// The slot is never released again, so no later command can run.
		if err := l.slot.Acquire(ctx, 1); err != nil {
			l.logger.Warn("A command is still running; closing the backend anyway.", zap.Error(err))
		}

		l.mu.Lock()
		shell := l.shell
		l.mu.Unlock()
		if shell != nil {
			if err := shell.Close(); err != nil {
				errs = append(errs, fmt.Errorf("failed to close backend: %w", err))
			}
		}

		l.shutdownErr = errors.Join(errs...)
		if l.shutdownErr != nil {
			l.logger.Warn("Shutdown completed with errors.", zap.Error(l.shutdownErr))
		} else {
			l.logger.Info("Shutdown complete.")
		}
	})
	<-l.done
	return l.shutdownErr
}
