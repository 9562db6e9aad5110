// cmd/serve.go
package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/computer-worker/internal/browser"
	"github.com/xkilldash9x/computer-worker/internal/channel"
	"github.com/xkilldash9x/computer-worker/internal/computer"
	"github.com/xkilldash9x/computer-worker/internal/config"
	"github.com/xkilldash9x/computer-worker/internal/observability"
	"github.com/xkilldash9x/computer-worker/internal/worker"
)

type (
	channelFactory func(ctx context.Context, cfg *config.Config, logger *zap.Logger) (channel.Channel, error)
	shellFactory   func(ctx context.Context, cfg *config.Config, logger *zap.Logger) (computer.Shell, error)
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the worker until it is shut down or goes idle",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			logger := observability.GetLogger()
			logger.Info("Starting computer worker.",
				zap.String("version", Version),
				zap.String("session_id", cfg.Worker.SessionID),
				zap.Bool("full_os", cfg.Worker.FullOS),
				zap.Bool("headful", cfg.Browser.Headful),
				zap.Bool("use_pubsub", cfg.Transport.UsePubSub))
			return runServe(ctx, cfg, logger, buildChannel, buildShell)
		},
	}
}

// runServe subscribes first, builds the backend, then marks the worker ready
// and blocks until teardown. Commands that arrive while the backend is still
// starting are dropped. A signal or channel failure during startup tears the
// worker down without it ever becoming ready.
func runServe(ctx context.Context, cfg *config.Config, logger *zap.Logger, newChannel channelFactory, newShell shellFactory) error {
	idle, err := cfg.Worker.IdleDuration()
	if err != nil {
		return err
	}

	ch, err := newChannel(ctx, cfg, logger)
	if err != nil {
		return err
	}

	lc := worker.New(ch, logger, worker.Options{
		SessionID:       cfg.Worker.SessionID,
		IdleTimeout:     idle,
		TeardownTimeout: cfg.Worker.TeardownTimeout,
		ReadinessAddr:   fmt.Sprintf(":%d", cfg.Worker.ReadinessPort),
	})
	if err := lc.Start(ctx); err != nil {
		lc.Shutdown(worker.ReasonTransport)
		return err
	}

	// The backend is not tied to the signal context: once ready it lives until
	// teardown closes it. cancelBuild only aborts a start nobody waits for.
	buildCtx, cancelBuild := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelBuild()
	built := make(chan backendResult, 1)
	go func() {
		shell, err := newShell(buildCtx, cfg, logger)
		built <- backendResult{shell: shell, err: err}
	}()

	select {
	case res := <-built:
		if res.err != nil {
			lc.Shutdown("backend failure")
			return fmt.Errorf("failed to start backend: %w", res.err)
		}
		if err := lc.MarkReady(res.shell); err != nil {
			logger.Warn("Shutdown began before the backend was ready.", zap.Error(err))
			<-lc.Done()
			return errors.Join(err, res.shell.Close())
		}
	case <-lc.Done():
		cancelBuild()
		return discardBackend(logger, built)
	case <-ctx.Done():
		logger.Info("Received termination signal while the backend was starting.")
		logShutdown(logger, lc.Shutdown(worker.ReasonSignal))
		cancelBuild()
		return discardBackend(logger, built)
	case err := <-ch.Err():
		logger.Error("Channel failed while the backend was starting.", zap.Error(err))
		logShutdown(logger, lc.Shutdown(worker.ReasonTransport))
		cancelBuild()
		return errors.Join(err, discardBackend(logger, built))
	}

	select {
	case <-lc.Done():
	case <-ctx.Done():
		logger.Info("Received termination signal.")
		logShutdown(logger, lc.Shutdown(worker.ReasonSignal))
	case err := <-ch.Err():
		logger.Error("Channel failed.", zap.Error(err))
		logShutdown(logger, lc.Shutdown(worker.ReasonTransport))
		return err
	}
	logger.Info("Worker stopped.")
	return nil
}

type backendResult struct {
	shell computer.Shell
	err   error
}

// discardBackend waits for an abandoned backend start and closes whatever it produced.
func discardBackend(logger *zap.Logger, built <-chan backendResult) error {
	res := <-built
	if res.err != nil {
		logger.Debug("Backend start abandoned.", zap.Error(res.err))
		return nil
	}
	logger.Info("Closing backend that finished starting after shutdown.")
	return res.shell.Close()
}

func logShutdown(logger *zap.Logger, err error) {
	if err != nil {
		logger.Warn("Teardown reported errors.", zap.Error(err))
	}
}

// buildChannel selects Pub/Sub or HTTP.
func buildChannel(ctx context.Context, cfg *config.Config, logger *zap.Logger) (channel.Channel, error) {
	if cfg.Transport.UsePubSub {
		ch, err := channel.NewPubSubChannel(ctx, cfg.Transport.PubSub, cfg.Worker.SessionID, logger)
		if err != nil {
			return nil, err
		}
		return ch, nil
	}
	return channel.NewHTTPChannel(fmt.Sprintf(":%d", cfg.Transport.HTTP.Port), cfg.Transport.HTTP, logger), nil
}

// buildShell selects the execution backend. A full OS worker drives the
// display directly; a headful browser worker routes pointer and keyboard input
// through the display as well.
func buildShell(ctx context.Context, cfg *config.Config, logger *zap.Logger) (computer.Shell, error) {
	if cfg.Worker.FullOS {
		return newDesktopShell(cfg.Desktop, cfg.Desktop.KeyCombination, logger), nil
	}

	res, err := cfg.Worker.Resolution()
	if err != nil {
		return nil, err
	}
	session, err := browser.NewSession(ctx, cfg.Browser, res, logger)
	if err != nil {
		return nil, err
	}

	opts := []computer.BrowserOption{
		computer.WithBrowserTimings(computer.BrowserTimings{
			ClickSettle:       cfg.Browser.ClickSettle,
			TypingDelay:       cfg.Browser.TypingDelay,
			NavigationTimeout: cfg.Browser.NavigationTimeout,
		}),
	}
	if cfg.Browser.Headful {
		// Chords go to the display Chrome is drawn on, so they are always enabled here.
		opts = append(opts, computer.WithDelegate(newDesktopShell(cfg.Desktop, true, logger), computer.DefaultDelegateCommands()))
	}
	shell := computer.NewBrowserShell(session, cfg.Browser.DefaultURL, logger, opts...)
	logger.Info("Browser backend started.", zap.Bool("desktop_input", shell.HasDelegate()))
	return shell, nil
}

func newDesktopShell(cfg config.DesktopConfig, keyChords bool, logger *zap.Logger) *computer.DesktopShell {
	var env []string
	if cfg.Display != "" {
		env = append(env, "DISPLAY="+cfg.Display)
	}
	return computer.NewDesktopShell(computer.ExecRunner{Env: env}, logger,
		computer.WithTools(cfg.XdotoolPath, cfg.ScrotPath),
		computer.WithKeyChords(keyChords),
		computer.WithDesktopTimings(computer.DesktopTimings{
			ClickSettle:    cfg.ClickSettle,
			FocusDelay:     cfg.FocusDelay,
			CommandTimeout: cfg.CommandTimeout,
		}),
	)
}
