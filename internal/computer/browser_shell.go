// internal/computer/browser_shell.go
package computer

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/computer-worker/internal/command"
)

// Page is the set of browser primitives the browser shell drives. It is
// implemented by browser.Session and faked in tests.
type Page interface {
	Navigate(ctx context.Context, url string) error
	Back(ctx context.Context) error
	Forward(ctx context.Context) error
	Click(ctx context.Context, x, y int) error
	MoveMouse(ctx context.Context, x, y int) error
	// TypeChar types a single character.
	TypeChar(ctx context.Context, ch string) error
	// PressKey presses and releases a named key such as "Enter".
	PressKey(ctx context.Context, key string) error
	KeyDown(ctx context.Context, key string) error
	KeyUp(ctx context.Context, key string) error
	// Wheel dispatches a wheel event at the current pointer position.
	Wheel(ctx context.Context, dx, dy float64) error
	// Screenshot returns PNG bytes of the viewport.
	Screenshot(ctx context.Context) ([]byte, error)
	URL(ctx context.Context) (string, error)
	Close() error
}

// BrowserTimings groups the fixed delays of the browser shell.
type BrowserTimings struct {
	// ClickSettle is waited after every click so the next screenshot shows its effect.
	ClickSettle time.Duration
	// TypingDelay paces type_text_at one character at a time.
	TypingDelay time.Duration
	// NavigationTimeout bounds the wait for a navigation to complete.
	NavigationTimeout time.Duration
}

// DefaultBrowserTimings are the delays the worker is deployed with.
func DefaultBrowserTimings() BrowserTimings {
	return BrowserTimings{
		ClickSettle:       300 * time.Millisecond,
		TypingDelay:       100 * time.Millisecond,
		NavigationTimeout: 5 * time.Second,
	}
}

// BrowserShell drives a single page. When built with a delegate it forwards
// the delegated commands and every screenshot to that shell.
type BrowserShell struct {
	page       Page
	logger     *zap.Logger
	defaultURL string
	timings    BrowserTimings
	sleep      SleepFunc

	delegate  Shell
	delegated DelegateSet
}

// BrowserOption configures a BrowserShell.
type BrowserOption func(*BrowserShell)

// WithDelegate routes the commands in set, and all screenshots, to delegate.
func WithDelegate(delegate Shell, set DelegateSet) BrowserOption {
	return func(s *BrowserShell) {
		s.delegate = delegate
		s.delegated = set
	}
}

// WithBrowserTimings overrides the fixed delays.
func WithBrowserTimings(t BrowserTimings) BrowserOption {
	return func(s *BrowserShell) {
		s.timings = t
	}
}

// WithBrowserSleep replaces the sleep used for settle delays and wait_5_seconds.
func WithBrowserSleep(fn SleepFunc) BrowserOption {
	return func(s *BrowserShell) {
		s.sleep = fn
	}
}

// NewBrowserShell wraps page. defaultURL is loaded by open_web_browser and search.
func NewBrowserShell(page Page, defaultURL string, logger *zap.Logger, opts ...BrowserOption) *BrowserShell {
	s := &BrowserShell{
		page:       page,
		logger:     logger.Named("browser_shell"),
		defaultURL: defaultURL,
		timings:    DefaultBrowserTimings(),
		sleep:      Sleep,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ Shell = (*BrowserShell)(nil)

// HasDelegate reports whether input is routed through a desktop shell.
func (s *BrowserShell) HasDelegate() bool {
	return s.delegate != nil
}

// RunCommand implements Shell.
func (s *BrowserShell) RunCommand(ctx context.Context, c command.Command) error {
	if s.delegate != nil && s.delegated.Has(c.Name()) {
		s.logger.Debug("Delegating command to desktop shell.", zap.String("command", string(c.Name())))
		return s.delegate.RunCommand(ctx, c)
	}
	return wrapExec(c.Name(), s.run(ctx, c))
}

func (s *BrowserShell) run(ctx context.Context, c command.Command) error {
	switch cmd := c.(type) {
	case command.OpenWebBrowser, command.Search:
		return s.navigate(ctx, cmd.Name(), func(ctx context.Context) error {
			return s.page.Navigate(ctx, s.defaultURL)
		})
	case command.ClickAt:
		if err := s.page.Click(ctx, cmd.X, cmd.Y); err != nil {
			return err
		}
		return s.sleep(ctx, s.timings.ClickSettle)
	case command.HoverAt:
		return s.page.MoveMouse(ctx, cmd.X, cmd.Y)
	case command.TypeTextAt:
		return s.typeText(ctx, cmd)
	case command.ScrollDocument:
		dx, dy := command.ScrollDelta(cmd.Direction)
		return s.page.Wheel(ctx, dx, dy)
	case command.Wait5Seconds:
		return s.sleep(ctx, WaitDuration)
	case command.GoBack:
		return s.navigate(ctx, cmd.Name(), s.page.Back)
	case command.GoForward:
		return s.navigate(ctx, cmd.Name(), s.page.Forward)
	case command.Navigate:
		return s.navigate(ctx, cmd.Name(), func(ctx context.Context) error {
			return s.page.Navigate(ctx, cmd.URL)
		})
	case command.KeyCombination:
		return s.chord(ctx, command.ParseChord(cmd.Keys))
	case command.Screenshot, command.Shutdown:
		return nil
	default:
		return unsupported("browser", c.Name())
	}
}

// navigate runs a navigation bounded by NavigationTimeout. Running out of time
// is not a failure: same-document navigations never signal completion.
func (s *BrowserShell) navigate(ctx context.Context, name command.Name, nav func(context.Context) error) error {
	navCtx, cancel := context.WithTimeout(ctx, s.timings.NavigationTimeout)
	defer cancel()

	err := nav(navCtx)
	if err != nil && ctx.Err() == nil && (errors.Is(err, context.DeadlineExceeded) || navCtx.Err() == context.DeadlineExceeded) {
		s.logger.Info("Navigation did not complete in time; continuing.",
			zap.String("command", string(name)),
			zap.Duration("timeout", s.timings.NavigationTimeout))
		return nil
	}
	return err
}

func (s *BrowserShell) typeText(ctx context.Context, cmd command.TypeTextAt) error {
	if err := s.page.Click(ctx, cmd.X, cmd.Y); err != nil {
		return fmt.Errorf("focusing (%d,%d): %w", cmd.X, cmd.Y, err)
	}

	// Characters go out one at a time so pages see real input events.
	pace := rate.NewLimiter(rate.Every(s.timings.TypingDelay), 1)
	if s.timings.TypingDelay <= 0 {
		pace = rate.NewLimiter(rate.Inf, 1)
	}
	for _, r := range cmd.Text {
		if err := pace.Wait(ctx); err != nil {
			return err
		}
		if err := s.page.TypeChar(ctx, string(r)); err != nil {
			return fmt.Errorf("typing %q: %w", r, err)
		}
	}
	if err := pace.Wait(ctx); err != nil {
		return err
	}
	return s.page.PressKey(ctx, "Enter")
}

// chord presses every key in order, then releases them in the same order.
func (s *BrowserShell) chord(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return errors.New("empty key combination")
	}
	s.logger.Debug("Pressing key combination.", zap.Strings("keys", keys))
	for i, k := range keys {
		if err := s.page.KeyDown(ctx, k); err != nil {
			// Release what is already held so modifiers do not leak into later commands.
			for _, held := range keys[:i] {
				_ = s.page.KeyUp(ctx, held)
			}
			return fmt.Errorf("key down %q: %w", k, err)
		}
	}
	for _, k := range keys {
		if err := s.page.KeyUp(ctx, k); err != nil {
			return fmt.Errorf("key up %q: %w", k, err)
		}
	}
	return nil
}

// Screenshot implements Shell. It is always served by the delegate when one exists.
func (s *BrowserShell) Screenshot(ctx context.Context) (string, error) {
	if s.delegate != nil {
		return s.delegate.Screenshot(ctx)
	}
	png, err := s.page.Screenshot(ctx)
	if err != nil {
		return "", &ExecutionError{Command: command.NameScreenshot, Err: err}
	}
	return base64.StdEncoding.EncodeToString(png), nil
}

// CurrentURL implements Shell. It is never delegated.
func (s *BrowserShell) CurrentURL(ctx context.Context) (string, error) {
	return s.page.URL(ctx)
}

// Close releases the page and the delegate.
func (s *BrowserShell) Close() error {
	var errs []error
	if s.delegate != nil {
		errs = append(errs, s.delegate.Close())
	}
	errs = append(errs, s.page.Close())
	return errors.Join(errs...)
}
