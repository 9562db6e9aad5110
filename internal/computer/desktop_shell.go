// internal/computer/desktop_shell.go
package computer

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/computer-worker/internal/command"
)

// Runner executes a program with argv semantics and returns its stdout.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs programs with os/exec. Arguments are never passed through a shell.
type ExecRunner struct {
	// Env is appended to the inherited environment (e.g. "DISPLAY=:99").
	Env []string
}

// execCommandContext allows tests to substitute the process launcher.
var execCommandContext = exec.CommandContext

// Run implements Runner.
func (r ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := execCommandContext(ctx, name, args...)
	if len(r.Env) > 0 {
		cmd.Env = append(os.Environ(), r.Env...)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, msg)
		}
		return nil, fmt.Errorf("%s %s: %w", name, strings.Join(args, " "), err)
	}
	return stdout.Bytes(), nil
}

// xdoKeys maps browser style key names to X keysyms.
var xdoKeys = map[string]string{
	"Backspace":  "BackSpace",
	"Enter":      "Return",
	"Space":      "space",
	"-":          "minus",
	"/":          "slash",
	":":          "colon",
	".":          "period",
	"+":          "plus",
	"Control":    "ctrl",
	"Ctrl":       "ctrl",
	"Alt":        "alt",
	"Shift":      "shift",
	"Meta":       "super",
	"Escape":     "Escape",
	"Tab":        "Tab",
	"Delete":     "Delete",
	"Arrowup":    "Up",
	"Arrowdown":  "Down",
	"Arrowleft":  "Left",
	"Arrowright": "Right",
	"Pageup":     "Page_Up",
	"Pagedown":   "Page_Down",
	"Home":       "Home",
	"End":        "End",
}

// XdoKey translates a normalized chord token to its xdotool keysym.
func XdoKey(token string) string {
	if k, ok := xdoKeys[token]; ok {
		return k
	}
	return token
}

// scrollButtons maps directions to X11 wheel buttons.
var scrollButtons = map[command.Direction]int{
	command.DirectionUp:    4,
	command.DirectionDown:  5,
	command.DirectionLeft:  6,
	command.DirectionRight: 7,
}

// DesktopTimings groups the fixed delays of the desktop shell.
type DesktopTimings struct {
	ClickSettle time.Duration
	// FocusDelay is waited between focusing a field and typing into it.
	FocusDelay time.Duration
	// CommandTimeout bounds every xdotool and scrot invocation.
	CommandTimeout time.Duration
}

// DefaultDesktopTimings are the delays the worker is deployed with.
func DefaultDesktopTimings() DesktopTimings {
	return DesktopTimings{
		ClickSettle:    300 * time.Millisecond,
		FocusDelay:     200 * time.Millisecond,
		CommandTimeout: 30 * time.Second,
	}
}

// DesktopShell synthesizes input against the whole X display with xdotool and
// captures it with scrot. It has no notion of a page.
type DesktopShell struct {
	runner  Runner
	logger  *zap.Logger
	timings DesktopTimings
	sleep   SleepFunc

	xdotool string
	scrot   string
	// keyChords enables key_combination through `xdotool key`.
	keyChords bool
}

// DesktopOption configures a DesktopShell.
type DesktopOption func(*DesktopShell)

// WithDesktopTimings overrides the fixed delays.
func WithDesktopTimings(t DesktopTimings) DesktopOption {
	return func(s *DesktopShell) { s.timings = t }
}

// WithDesktopSleep replaces the sleep used for settle delays and wait_5_seconds.
func WithDesktopSleep(fn SleepFunc) DesktopOption {
	return func(s *DesktopShell) { s.sleep = fn }
}

// WithKeyChords enables key_combination support.
func WithKeyChords(enabled bool) DesktopOption {
	return func(s *DesktopShell) { s.keyChords = enabled }
}

// WithTools overrides the xdotool and scrot executables.
func WithTools(xdotool, scrot string) DesktopOption {
	return func(s *DesktopShell) {
		if xdotool != "" {
			s.xdotool = xdotool
		}
		if scrot != "" {
			s.scrot = scrot
		}
	}
}

// NewDesktopShell creates a desktop shell that runs its tools through runner.
func NewDesktopShell(runner Runner, logger *zap.Logger, opts ...DesktopOption) *DesktopShell {
	s := &DesktopShell{
		runner:  runner,
		logger:  logger.Named("desktop_shell"),
		timings: DefaultDesktopTimings(),
		sleep:   Sleep,
		xdotool: "xdotool",
		scrot:   "scrot",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ Shell = (*DesktopShell)(nil)

// RunCommand implements Shell.
func (s *DesktopShell) RunCommand(ctx context.Context, c command.Command) error {
	return wrapExec(c.Name(), s.run(ctx, c))
}

func (s *DesktopShell) run(ctx context.Context, c command.Command) error {
	switch cmd := c.(type) {
	case command.ClickAt:
		if err := s.click(ctx, cmd.X, cmd.Y); err != nil {
			return err
		}
		return s.sleep(ctx, s.timings.ClickSettle)
	case command.HoverAt:
		if err := checkScreenPoint(cmd.X, cmd.Y); err != nil {
			return err
		}
		return s.xdo(ctx, "mousemove", itoa(cmd.X), itoa(cmd.Y))
	case command.TypeTextAt:
		if err := s.click(ctx, cmd.X, cmd.Y); err != nil {
			return err
		}
		if err := s.sleep(ctx, s.timings.FocusDelay); err != nil {
			return err
		}
		return s.xdo(ctx, "type", "--", cmd.Text)
	case command.ScrollDocument:
		button, ok := scrollButtons[cmd.Direction]
		if !ok {
			return fmt.Errorf("unknown scroll direction %q", cmd.Direction)
		}
		return s.xdo(ctx, "click", itoa(button))
	case command.Wait5Seconds:
		return s.sleep(ctx, WaitDuration)
	case command.Navigate, command.GoBack, command.GoForward:
		s.logger.Info("Ignoring navigation on the desktop shell.", zap.String("command", string(cmd.Name())))
		return nil
	case command.KeyCombination:
		if !s.keyChords {
			return unsupported("desktop", cmd.Name())
		}
		return s.chord(ctx, command.ParseChord(cmd.Keys))
	case command.Screenshot, command.Shutdown:
		return nil
	default:
		return unsupported("desktop", c.Name())
	}
}

// ErrOffScreen is returned for pointer coordinates left of or above the screen origin.
var ErrOffScreen = errors.New("coordinates are off screen")

// checkScreenPoint rejects negative coordinates, which xdotool would parse as flags.
func checkScreenPoint(x, y int) error {
	if x < 0 || y < 0 {
		return fmt.Errorf("%w: (%d,%d)", ErrOffScreen, x, y)
	}
	return nil
}

func (s *DesktopShell) click(ctx context.Context, x, y int) error {
	if err := checkScreenPoint(x, y); err != nil {
		return err
	}
	return s.xdo(ctx, "mousemove", itoa(x), itoa(y), "click", "1")
}

func (s *DesktopShell) chord(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return fmt.Errorf("empty key combination")
	}
	syms := make([]string, len(keys))
	for i, k := range keys {
		syms[i] = XdoKey(k)
	}
	return s.xdo(ctx, "key", "--", strings.Join(syms, "+"))
}

func (s *DesktopShell) xdo(ctx context.Context, args ...string) error {
	_, err := s.exec(ctx, s.xdotool, args...)
	return err
}

func (s *DesktopShell) exec(ctx context.Context, name string, args ...string) ([]byte, error) {
	if s.timings.CommandTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timings.CommandTimeout)
		defer cancel()
	}
	s.logger.Debug("Running desktop tool.", zap.String("tool", name), zap.Strings("args", args))
	return s.runner.Run(ctx, name, args...)
}

// Screenshot implements Shell. The pointer is included in the capture.
func (s *DesktopShell) Screenshot(ctx context.Context) (string, error) {
	png, err := s.exec(ctx, s.scrot, "--pointer", "-")
	if err != nil {
		return "", &ExecutionError{Command: command.NameScreenshot, Err: err}
	}
	if len(png) == 0 {
		return "", &ExecutionError{Command: command.NameScreenshot, Err: fmt.Errorf("%s produced no output", s.scrot)}
	}
	return base64.StdEncoding.EncodeToString(png), nil
}

// CurrentURL implements Shell. A desktop has no current document.
func (s *DesktopShell) CurrentURL(context.Context) (string, error) {
	return "", nil
}

// Close implements Shell. The display is owned by the container, not the shell.
func (s *DesktopShell) Close() error {
	return nil
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
