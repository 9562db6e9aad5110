// internal/browser/options.go
package browser

import (
	"fmt"
	"slices"
	"strings"

	"github.com/chromedp/chromedp"

	"github.com/xkilldash9x/computer-worker/internal/config"
)

// Flag is a single Chrome command line switch. Value is either a string or true.
type Flag struct {
	Name  string
	Value interface{}
}

// LaunchFlags lists the switches Chrome is started with. The automation
// banner and navigator.webdriver are kept off: --enable-automation is never
// passed and AutomationControlled is disabled.
func LaunchFlags(cfg config.BrowserConfig, res config.Resolution) []Flag {
	flags := []Flag{
		{"no-sandbox", true},
		{"disable-gpu", true},
		{"no-first-run", true},
		{"no-default-browser-check", true},
		{"disable-blink-features", "AutomationControlled"},
		{"lang", cfg.Locale()},
		{"window-size", fmt.Sprintf("%d,%d", res.Width, res.Height)},
	}
	if cfg.Headful {
		// xdotool coordinates are screen coordinates; keep the window at the origin.
		flags = append(flags, Flag{"window-position", "0,0"})
	} else {
		flags = append(flags,
			Flag{"headless", true},
			Flag{"hide-scrollbars", true},
			Flag{"mute-audio", true},
		)
	}

	// Additional flags from the config file's 'args' slice, with or without leading dashes.
	for _, arg := range cfg.Args {
		arg = strings.TrimLeft(strings.TrimSpace(arg), "-")
		if arg == "" {
			continue
		}
		key, value, found := strings.Cut(arg, "=")
		if key == "enable-automation" {
			continue
		}
		if found {
			flags = setFlag(flags, key, value)
		} else {
			flags = setFlag(flags, key, true)
		}
	}
	return flags
}

// setFlag replaces an existing switch or appends a new one.
func setFlag(flags []Flag, name string, value interface{}) []Flag {
	if i := slices.IndexFunc(flags, func(f Flag) bool { return f.Name == name }); i >= 0 {
		flags[i].Value = value
		return flags
	}
	return append(flags, Flag{name, value})
}

// AllocatorOptions turns the launch flags into chromedp allocator options. The
// list is built explicitly rather than from chromedp.DefaultExecAllocatorOptions.
func AllocatorOptions(cfg config.BrowserConfig, res config.Resolution) []chromedp.ExecAllocatorOption {
	var opts []chromedp.ExecAllocatorOption
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	for _, f := range LaunchFlags(cfg, res) {
		opts = append(opts, chromedp.Flag(f.Name, f.Value))
	}
	return opts
}

// AcceptLanguage builds the Accept-Language header for a LANG style list
// ("en-US,en" -> "en-US,en;q=0.9"). A lone regional tag gains its base language.
func AcceptLanguage(lang string) string {
	var tags []string
	for _, part := range strings.Split(lang, ",") {
		tag := config.BrowserConfig{Lang: part}.Locale()
		if !slices.Contains(tags, tag) {
			tags = append(tags, tag)
		}
	}
	if len(tags) == 1 {
		if base, _, ok := strings.Cut(tags[0], "-"); ok {
			tags = append(tags, base)
		}
	}

	var b strings.Builder
	for i, tag := range tags {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(tag)
		if q := 10 - i; i > 0 && q > 0 {
			fmt.Fprintf(&b, ";q=0.%d", q)
		}
	}
	return b.String()
}
