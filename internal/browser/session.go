// internal/browser/session.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/computer-worker/internal/computer"
	"github.com/xkilldash9x/computer-worker/internal/config"
)

const (
	defaultActionTimeout = 30 * time.Second
	shutdownTimeout      = 10 * time.Second
)

// Session is one Chrome process with a single page. It implements computer.Page.
type Session struct {
	ctx         context.Context // the chromedp tab context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
	logger      *zap.Logger

	actionTimeout time.Duration

	mu        sync.Mutex
	mouseX    float64
	mouseY    float64
	modifiers input.Modifier
	closeOnce sync.Once
	closeErr  error
}

var _ computer.Page = (*Session)(nil)

// NewSession launches Chrome, opens a page sized to res and applies the locale.
// The browser lives until Close is called or parent is canceled.
func NewSession(parent context.Context, cfg config.BrowserConfig, res config.Resolution, logger *zap.Logger) (*Session, error) {
	log := logger.Named("browser")
	log.Info("Launching Chrome.",
		zap.Bool("headful", cfg.Headful),
		zap.String("exec_path", cfg.ExecPath),
		zap.Stringer("resolution", res))

	allocCtx, allocCancel := chromedp.NewExecAllocator(parent, AllocatorOptions(cfg, res)...)
	sugar := log.Sugar()
	tabCtx, tabCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(sugar.Debugf),
		chromedp.WithErrorf(sugar.Debugf),
	)

	s := &Session{
		ctx:           tabCtx,
		cancel:        tabCancel,
		allocCancel:   allocCancel,
		logger:        log,
		actionTimeout: cfg.ActionTimeout,
	}
	if s.actionTimeout <= 0 {
		s.actionTimeout = defaultActionTimeout
	}

	// The first Run starts the browser process.
	if err := chromedp.Run(tabCtx, s.setupTasks(cfg, res)); err != nil {
		tabCancel()
		allocCancel()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}
	log.Info("Browser ready.")
	return s, nil
}

func (s *Session) setupTasks(cfg config.BrowserConfig, res config.Resolution) chromedp.Tasks {
	return chromedp.Tasks{
		chromedp.EmulateViewport(int64(res.Width), int64(res.Height)),
		emulation.SetLocaleOverride().WithLocale(cfg.Locale()),
		network.Enable(),
		network.SetExtraHTTPHeaders(network.Headers{
			"Accept-Language": AcceptLanguage(cfg.Lang),
		}),
	}
}

// run executes actions on the page, bounded by ctx and the action timeout.
func (s *Session) run(ctx context.Context, what string, actions ...chromedp.Action) error {
	opCtx, opCancel := context.WithTimeout(ctx, s.actionTimeout)
	defer opCancel()
	runCtx, cancel := CombineContext(s.ctx, opCtx)
	defer cancel()

	err := chromedp.Run(runCtx, actions...)
	if err == nil {
		return nil
	}
	if opCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		return fmt.Errorf("%s timed out after %v: %w", what, s.actionTimeout, context.DeadlineExceeded)
	}
	if ctx.Err() != nil {
		return fmt.Errorf("%s: %w", what, ctx.Err())
	}
	if s.ctx.Err() != nil {
		return fmt.Errorf("%s: browser session closed: %w", what, s.ctx.Err())
	}
	return fmt.Errorf("%s: %w", what, err)
}

// Navigate loads url and waits for the load event.
func (s *Session) Navigate(ctx context.Context, url string) error {
	s.logger.Debug("Navigating.", zap.String("url", url))
	return s.run(ctx, "navigate", chromedp.Navigate(url))
}

// Back moves one entry back in the page history.
func (s *Session) Back(ctx context.Context) error {
	return s.run(ctx, "go back", chromedp.NavigateBack())
}

// Forward moves one entry forward in the page history.
func (s *Session) Forward(ctx context.Context) error {
	return s.run(ctx, "go forward", chromedp.NavigateForward())
}

// MoveMouse moves the pointer to (x, y) in viewport coordinates.
func (s *Session) MoveMouse(ctx context.Context, x, y int) error {
	fx, fy := float64(x), float64(y)
	if err := s.run(ctx, "mouse move", input.DispatchMouseEvent(input.MouseMoved, fx, fy)); err != nil {
		return err
	}
	s.mu.Lock()
	s.mouseX, s.mouseY = fx, fy
	s.mu.Unlock()
	return nil
}

// Click moves to (x, y) and performs a left click.
func (s *Session) Click(ctx context.Context, x, y int) error {
	if err := s.MoveMouse(ctx, x, y); err != nil {
		return err
	}
	fx, fy := float64(x), float64(y)
	mods := s.currentModifiers()
	return s.run(ctx, "click",
		input.DispatchMouseEvent(input.MousePressed, fx, fy).
			WithButton(input.Left).WithButtons(1).WithClickCount(1).WithModifiers(mods),
		input.DispatchMouseEvent(input.MouseReleased, fx, fy).
			WithButton(input.Left).WithButtons(0).WithClickCount(1).WithModifiers(mods),
	)
}

// Wheel scrolls at the last pointer position.
func (s *Session) Wheel(ctx context.Context, dx, dy float64) error {
	s.mu.Lock()
	x, y := s.mouseX, s.mouseY
	s.mu.Unlock()
	return s.run(ctx, "wheel",
		input.DispatchMouseEvent(input.MouseWheel, x, y).WithDeltaX(dx).WithDeltaY(dy))
}

// TypeChar types one character. Characters without a physical key on a US
// layout are inserted as composed text.
func (s *Session) TypeChar(ctx context.Context, ch string) error {
	def, ok := lookupKey(ch)
	if !ok {
		return s.run(ctx, "insert text", input.InsertText(ch))
	}
	mods := s.currentModifiers()
	return s.run(ctx, "type",
		keyEvent(input.KeyDown, def, mods),
		keyEvent(input.KeyUp, def, mods),
	)
}

// PressKey presses and releases a named key.
func (s *Session) PressKey(ctx context.Context, key string) error {
	def, err := resolveKey(key)
	if err != nil {
		return err
	}
	mods := s.currentModifiers()
	return s.run(ctx, "press "+key,
		keyEvent(input.KeyDown, def, mods),
		keyEvent(input.KeyUp, def, mods),
	)
}

// KeyDown presses key and keeps it held. Modifier keys apply to every
// following key and mouse event until released.
func (s *Session) KeyDown(ctx context.Context, key string) error {
	def, err := resolveKey(key)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.modifiers |= def.Modifier
	mods := s.modifiers
	s.mu.Unlock()
	return s.run(ctx, "key down "+key, keyEvent(input.KeyDown, def, mods))
}

// KeyUp releases key.
func (s *Session) KeyUp(ctx context.Context, key string) error {
	def, err := resolveKey(key)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.modifiers &^= def.Modifier
	mods := s.modifiers
	s.mu.Unlock()
	return s.run(ctx, "key up "+key, keyEvent(input.KeyUp, def, mods))
}

func (s *Session) currentModifiers() input.Modifier {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.modifiers
}

// Screenshot captures the viewport as PNG.
func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	err := s.run(ctx, "screenshot", chromedp.ActionFunc(func(c context.Context) error {
		var err error
		buf, err = page.CaptureScreenshot().WithFormat(page.CaptureScreenshotFormatPng).Do(c)
		return err
	}))
	return buf, err
}

// URL returns the address of the current document.
func (s *Session) URL(ctx context.Context) (string, error) {
	var url string
	if err := s.run(ctx, "location", chromedp.Location(&url)); err != nil {
		return "", err
	}
	return url, nil
}

// Close shuts the browser down gracefully, giving up after a bounded wait.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.logger.Debug("Shutting down browser.")

		// chromedp.Cancel blocks until the browser exits.
		done := make(chan error, 1)
		go func() {
			done <- chromedp.Cancel(s.ctx)
		}()

		select {
		case err := <-done:
			if err != nil && !errors.Is(err, context.Canceled) {
				s.closeErr = fmt.Errorf("failed to close browser: %w", err)
			}
		case <-time.After(shutdownTimeout):
			s.logger.Warn("Browser shutdown timed out; killing it.", zap.Duration("timeout", shutdownTimeout))
		}
		s.cancel()
		s.allocCancel()
		s.logger.Info("Browser closed.")
	})
	return s.closeErr
}
