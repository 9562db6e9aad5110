// File: internal/config/config.go
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/xhit/go-str2duration/v2"
)

// Config holds the entire worker configuration.
type Config struct {
	Logger    LoggerConfig    `mapstructure:"logger" yaml:"logger"`
	Worker    WorkerConfig    `mapstructure:"worker" yaml:"worker"`
	Browser   BrowserConfig   `mapstructure:"browser" yaml:"browser"`
	Desktop   DesktopConfig   `mapstructure:"desktop" yaml:"desktop"`
	Transport TransportConfig `mapstructure:"transport" yaml:"transport"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// WorkerConfig configures the lifecycle and the shell selection.
type WorkerConfig struct {
	SessionID string `mapstructure:"session_id" yaml:"session_id"`
	// IdleTimeout is human readable ("1h", "30m", "1d").
	IdleTimeout      string `mapstructure:"idle_timeout" yaml:"idle_timeout"`
	ScreenResolution string `mapstructure:"screen_resolution" yaml:"screen_resolution"`
	// FullOS selects the desktop shell instead of the browser shell.
	FullOS        bool `mapstructure:"full_os" yaml:"full_os"`
	ReadinessPort int  `mapstructure:"readiness_port" yaml:"readiness_port"`
	// TeardownTimeout bounds channel disconnect and readiness server shutdown.
	TeardownTimeout time.Duration `mapstructure:"teardown_timeout" yaml:"teardown_timeout"`
}

// BrowserConfig holds settings for the Chrome instance driven by the browser shell.
type BrowserConfig struct {
	// Headful runs Chrome with a visible window and routes input through the desktop shell.
	Headful           bool          `mapstructure:"headful" yaml:"headful"`
	ExecPath          string        `mapstructure:"exec_path" yaml:"exec_path"`
	Lang              string        `mapstructure:"lang" yaml:"lang"`
	Args              []string      `mapstructure:"args" yaml:"args"`
	DefaultURL        string        `mapstructure:"default_url" yaml:"default_url"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	ActionTimeout     time.Duration `mapstructure:"action_timeout" yaml:"action_timeout"`
	ClickSettle       time.Duration `mapstructure:"click_settle" yaml:"click_settle"`
	TypingDelay       time.Duration `mapstructure:"typing_delay" yaml:"typing_delay"`
}

// DesktopConfig holds settings for the xdotool/scrot desktop shell.
type DesktopConfig struct {
	Display     string `mapstructure:"display" yaml:"display"`
	XdotoolPath string `mapstructure:"xdotool_path" yaml:"xdotool_path"`
	ScrotPath   string `mapstructure:"scrot_path" yaml:"scrot_path"`
	// KeyCombination enables xdotool key synthesis for key_combination.
	KeyCombination bool          `mapstructure:"key_combination" yaml:"key_combination"`
	ClickSettle    time.Duration `mapstructure:"click_settle" yaml:"click_settle"`
	FocusDelay     time.Duration `mapstructure:"focus_delay" yaml:"focus_delay"`
	CommandTimeout time.Duration `mapstructure:"command_timeout" yaml:"command_timeout"`
}

// TransportConfig selects and configures the signalling channel.
type TransportConfig struct {
	UsePubSub bool         `mapstructure:"use_pubsub" yaml:"use_pubsub"`
	HTTP      HTTPConfig   `mapstructure:"http" yaml:"http"`
	PubSub    PubSubConfig `mapstructure:"pubsub" yaml:"pubsub"`
}

// HTTPConfig configures the request/response channel.
type HTTPConfig struct {
	Port            int           `mapstructure:"port" yaml:"port"`
	H2C             bool          `mapstructure:"h2c" yaml:"h2c"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes" yaml:"max_body_bytes"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// PubSubConfig configures the publish/subscribe channel. The name templates take
// the session id as their only verb.
type PubSubConfig struct {
	ProjectID           string        `mapstructure:"project_id" yaml:"project_id"`
	CommandTopic        string        `mapstructure:"command_topic" yaml:"command_topic"`
	CommandSubscription string        `mapstructure:"command_subscription" yaml:"command_subscription"`
	ResultTopic         string        `mapstructure:"result_topic" yaml:"result_topic"`
	AckDeadline         time.Duration `mapstructure:"ack_deadline" yaml:"ack_deadline"`
	PublishTimeout      time.Duration `mapstructure:"publish_timeout" yaml:"publish_timeout"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for every configuration key.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "computer-worker")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Worker --
	v.SetDefault("worker.session_id", "1234")
	v.SetDefault("worker.idle_timeout", "1h")
	v.SetDefault("worker.screen_resolution", "1920x1000x16")
	v.SetDefault("worker.full_os", false)
	v.SetDefault("worker.readiness_port", 8000)
	v.SetDefault("worker.teardown_timeout", "10s")

	// -- Browser --
	v.SetDefault("browser.headful", false)
	v.SetDefault("browser.exec_path", "/usr/bin/google-chrome-stable")
	v.SetDefault("browser.lang", "en-US,en")
	v.SetDefault("browser.args", []string{})
	v.SetDefault("browser.default_url", "https://www.google.com")
	v.SetDefault("browser.navigation_timeout", "5s")
	v.SetDefault("browser.action_timeout", "30s")
	v.SetDefault("browser.click_settle", "300ms")
	v.SetDefault("browser.typing_delay", "100ms")

	// -- Desktop --
	v.SetDefault("desktop.display", "")
	v.SetDefault("desktop.xdotool_path", "xdotool")
	v.SetDefault("desktop.scrot_path", "scrot")
	v.SetDefault("desktop.key_combination", false)
	v.SetDefault("desktop.click_settle", "300ms")
	v.SetDefault("desktop.focus_delay", "200ms")
	v.SetDefault("desktop.command_timeout", "30s")

	// -- Transport --
	v.SetDefault("transport.use_pubsub", false)
	v.SetDefault("transport.http.port", 8080)
	v.SetDefault("transport.http.h2c", false)
	v.SetDefault("transport.http.max_body_bytes", 1<<20)
	v.SetDefault("transport.http.shutdown_timeout", "30s")
	v.SetDefault("transport.pubsub.project_id", "")
	v.SetDefault("transport.pubsub.command_topic", "commands-%s")
	v.SetDefault("transport.pubsub.command_subscription", "commands-%s")
	v.SetDefault("transport.pubsub.result_topic", "screenshots-%s")
	v.SetDefault("transport.pubsub.ack_deadline", "60s")
	v.SetDefault("transport.pubsub.publish_timeout", "30s")
}

// deploymentEnv maps config keys to the unprefixed environment variables the
// worker image is deployed with.
var deploymentEnv = map[string]string{
	"worker.screen_resolution":    "SCREEN_RESOLUTION",
	"worker.session_id":           "SESSION_ID",
	"worker.idle_timeout":         "IDLE_TIMEOUT",
	"worker.full_os":              "FULLOS",
	"worker.readiness_port":       "HEALTH_CHECK_PORT",
	"browser.headful":             "HEADFULCHROME",
	"browser.lang":                "LANG",
	"transport.use_pubsub":        "USE_PUBSUB",
	"transport.http.port":         "PORT",
	"transport.pubsub.project_id": "PUBSUB_PROJECT_ID",
	"desktop.display":             "DISPLAY",
}

// BindEnv binds every deployment environment variable to its config key. The
// WORKER_ prefixed form stays reachable through AutomaticEnv.
func BindEnv(v *viper.Viper) error {
	for key, env := range deploymentEnv {
		if err := v.BindEnv(key, env); err != nil {
			return fmt.Errorf("failed to bind %s to %s: %w", env, key, err)
		}
	}
	return nil
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	if err := BindEnv(v); err != nil {
		return nil, err
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if _, err := c.Worker.IdleDuration(); err != nil {
		return fmt.Errorf("worker.idle_timeout: %w", err)
	}
	if _, err := c.Worker.Resolution(); err != nil {
		return fmt.Errorf("worker.screen_resolution: %w", err)
	}
	if err := validatePort("worker.readiness_port", c.Worker.ReadinessPort); err != nil {
		return err
	}
	if c.Worker.FullOS && c.Browser.Headful {
		return fmt.Errorf("worker.full_os and browser.headful are mutually exclusive")
	}
	if err := c.Transport.Validate(c.Worker.SessionID); err != nil {
		return err
	}
	if c.Browser.NavigationTimeout <= 0 {
		return fmt.Errorf("browser.navigation_timeout must be a positive duration")
	}
	return nil
}

// Validate checks the transport selected by UsePubSub.
func (t *TransportConfig) Validate(sessionID string) error {
	if !t.UsePubSub {
		return validatePort("transport.http.port", t.HTTP.Port)
	}
	if t.PubSub.ProjectID == "" {
		return fmt.Errorf("transport.pubsub.project_id is required when use_pubsub is set")
	}
	if sessionID == "" {
		return fmt.Errorf("worker.session_id is required when use_pubsub is set")
	}
	for name, tmpl := range map[string]string{
		"command_topic":        t.PubSub.CommandTopic,
		"command_subscription": t.PubSub.CommandSubscription,
		"result_topic":         t.PubSub.ResultTopic,
	} {
		if strings.Count(tmpl, "%s") != 1 {
			return fmt.Errorf("transport.pubsub.%s must contain exactly one %%s verb, got %q", name, tmpl)
		}
	}
	return nil
}

// Names expands the topic and subscription templates for a session.
func (p PubSubConfig) Names(sessionID string) (commandTopic, subscription, resultTopic string) {
	return fmt.Sprintf(p.CommandTopic, sessionID),
		fmt.Sprintf(p.CommandSubscription, sessionID),
		fmt.Sprintf(p.ResultTopic, sessionID)
}

// IdleDuration parses IdleTimeout. Day and week units are accepted.
func (w WorkerConfig) IdleDuration() (time.Duration, error) {
	raw := strings.TrimSpace(w.IdleTimeout)
	if raw == "" {
		raw = "1h"
	}
	d, err := str2duration.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", w.IdleTimeout, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("duration must be positive, got %q", w.IdleTimeout)
	}
	return d, nil
}

// Resolution parses ScreenResolution.
func (w WorkerConfig) Resolution() (Resolution, error) {
	return ParseResolution(w.ScreenResolution)
}

// Locale turns a LANG style value ("en_US.UTF-8", "en-US,en") into the primary
// BCP 47 tag Chrome expects ("en-US").
func (b BrowserConfig) Locale() string {
	lang := strings.TrimSpace(b.Lang)
	if i := strings.IndexAny(lang, ",;"); i >= 0 {
		lang = lang[:i]
	}
	if i := strings.IndexAny(lang, ".@"); i >= 0 {
		lang = lang[:i]
	}
	lang = strings.ReplaceAll(lang, "_", "-")
	if lang == "" || lang == "C" || lang == "POSIX" {
		return "en-US"
	}
	return lang
}

// Resolution is the screen size in pixels. Depth is carried for the display
// server and is not used for rendering.
type Resolution struct {
	Width  int
	Height int
	Depth  int
}

// String renders the resolution in WIDTHxHEIGHTxDEPTH form.
func (r Resolution) String() string {
	if r.Depth == 0 {
		return fmt.Sprintf("%dx%d", r.Width, r.Height)
	}
	return fmt.Sprintf("%dx%dx%d", r.Width, r.Height, r.Depth)
}

// ParseResolution parses "WIDTHxHEIGHT[xDEPTH]".
func ParseResolution(s string) (Resolution, error) {
	parts := strings.Split(strings.TrimSpace(s), "x")
	if len(parts) < 2 || len(parts) > 3 {
		return Resolution{}, fmt.Errorf("invalid resolution %q: want WIDTHxHEIGHT[xDEPTH]", s)
	}

	var dims [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return Resolution{}, fmt.Errorf("invalid resolution %q: %w", s, err)
		}
		if n <= 0 {
			return Resolution{}, fmt.Errorf("invalid resolution %q: dimensions must be positive", s)
		}
		dims[i] = n
	}
	return Resolution{Width: dims[0], Height: dims[1], Depth: dims[2]}, nil
}

func validatePort(key string, port int) error {
	if port <= 0 || port > 65535 {
		return fmt.Errorf("%s must be between 1 and 65535, got %d", key, port)
	}
	return nil
}
