// internal/browser/keys.go
package browser

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/chromedp/cdproto/input"
)

// keyDefinition describes one key the way Chrome's input domain expects it.
type keyDefinition struct {
	Key  string
	Code string
	// VirtualKey is the Windows virtual key code. Chrome uses it to trigger
	// default actions such as form submission on Enter.
	VirtualKey int64
	Text       string
	Modifier   input.Modifier
}

// namedKeys is keyed by the normalized names produced by command.NormalizeKey.
var namedKeys = map[string]keyDefinition{
	"Enter":      {Key: "Enter", Code: "Enter", VirtualKey: 13, Text: "\r"},
	"Return":     {Key: "Enter", Code: "Enter", VirtualKey: 13, Text: "\r"},
	"Tab":        {Key: "Tab", Code: "Tab", VirtualKey: 9},
	"Backspace":  {Key: "Backspace", Code: "Backspace", VirtualKey: 8},
	"Escape":     {Key: "Escape", Code: "Escape", VirtualKey: 27},
	"Esc":        {Key: "Escape", Code: "Escape", VirtualKey: 27},
	"Space":      {Key: " ", Code: "Space", VirtualKey: 32, Text: " "},
	"Delete":     {Key: "Delete", Code: "Delete", VirtualKey: 46},
	"Insert":     {Key: "Insert", Code: "Insert", VirtualKey: 45},
	"Home":       {Key: "Home", Code: "Home", VirtualKey: 36},
	"End":        {Key: "End", Code: "End", VirtualKey: 35},
	"Pageup":     {Key: "PageUp", Code: "PageUp", VirtualKey: 33},
	"Pagedown":   {Key: "PageDown", Code: "PageDown", VirtualKey: 34},
	"Arrowup":    {Key: "ArrowUp", Code: "ArrowUp", VirtualKey: 38},
	"Arrowdown":  {Key: "ArrowDown", Code: "ArrowDown", VirtualKey: 40},
	"Arrowleft":  {Key: "ArrowLeft", Code: "ArrowLeft", VirtualKey: 37},
	"Arrowright": {Key: "ArrowRight", Code: "ArrowRight", VirtualKey: 39},
	"Control":    {Key: "Control", Code: "ControlLeft", VirtualKey: 17, Modifier: input.ModifierCtrl},
	"Ctrl":       {Key: "Control", Code: "ControlLeft", VirtualKey: 17, Modifier: input.ModifierCtrl},
	"Shift":      {Key: "Shift", Code: "ShiftLeft", VirtualKey: 16, Modifier: input.ModifierShift},
	"Alt":        {Key: "Alt", Code: "AltLeft", VirtualKey: 18, Modifier: input.ModifierAlt},
	"Meta":       {Key: "Meta", Code: "MetaLeft", VirtualKey: 91, Modifier: input.ModifierMeta},
	"Command":    {Key: "Meta", Code: "MetaLeft", VirtualKey: 91, Modifier: input.ModifierMeta},
	"Cmd":        {Key: "Meta", Code: "MetaLeft", VirtualKey: 91, Modifier: input.ModifierMeta},
	"F1":         {Key: "F1", Code: "F1", VirtualKey: 112},
	"F2":         {Key: "F2", Code: "F2", VirtualKey: 113},
	"F3":         {Key: "F3", Code: "F3", VirtualKey: 114},
	"F4":         {Key: "F4", Code: "F4", VirtualKey: 115},
	"F5":         {Key: "F5", Code: "F5", VirtualKey: 116},
	"F6":         {Key: "F6", Code: "F6", VirtualKey: 117},
	"F7":         {Key: "F7", Code: "F7", VirtualKey: 118},
	"F8":         {Key: "F8", Code: "F8", VirtualKey: 119},
	"F9":         {Key: "F9", Code: "F9", VirtualKey: 120},
	"F10":        {Key: "F10", Code: "F10", VirtualKey: 121},
	"F11":        {Key: "F11", Code: "F11", VirtualKey: 122},
	"F12":        {Key: "F12", Code: "F12", VirtualKey: 123},
}

// punctuation maps US layout punctuation to its physical key code and virtual key.
var punctuation = map[rune]struct {
	code string
	vk   int64
}{
	' ': {"Space", 32}, '-': {"Minus", 189}, '_': {"Minus", 189},
	'=': {"Equal", 187}, '+': {"Equal", 187}, ',': {"Comma", 188},
	'<': {"Comma", 188}, '.': {"Period", 190}, '>': {"Period", 190},
	'/': {"Slash", 191}, '?': {"Slash", 191}, ';': {"Semicolon", 186},
	':': {"Semicolon", 186}, '\'': {"Quote", 222}, '"': {"Quote", 222},
	'[': {"BracketLeft", 219}, '{': {"BracketLeft", 219}, ']': {"BracketRight", 221},
	'}': {"BracketRight", 221}, '\\': {"Backslash", 220}, '|': {"Backslash", 220},
	'`': {"Backquote", 192}, '~': {"Backquote", 192},
}

// ErrUnknownKey is returned for key names that have no DOM key definition.
var ErrUnknownKey = errors.New("unknown key")

// lookupKey resolves a key name or a single character. ok is false for
// characters with no physical key on a US layout, which are inserted as text,
// and for unknown key names.
func lookupKey(name string) (def keyDefinition, ok bool) {
	if d, found := namedKeys[name]; found {
		return d, true
	}
	if utf8.RuneCountInString(name) != 1 {
		return keyDefinition{}, false
	}

	r, _ := utf8.DecodeRuneInString(name)
	switch {
	case r == '\n' || r == '\r':
		return namedKeys["Enter"], true
	case r == '\t':
		return namedKeys["Tab"], true
	case r >= 'a' && r <= 'z':
		upper := strings.ToUpper(name)
		return keyDefinition{Key: name, Code: "Key" + upper, VirtualKey: int64(upper[0]), Text: name}, true
	case r >= 'A' && r <= 'Z':
		return keyDefinition{Key: name, Code: "Key" + name, VirtualKey: int64(r), Text: name}, true
	case r >= '0' && r <= '9':
		return keyDefinition{Key: name, Code: "Digit" + name, VirtualKey: int64(r), Text: name}, true
	}
	if p, found := punctuation[r]; found {
		return keyDefinition{Key: name, Code: p.code, VirtualKey: p.vk, Text: name}, true
	}
	return keyDefinition{Key: name, Text: name}, false
}

// resolveKey is lookupKey for pressed keys. A single character always
// resolves; a longer name must be a known key.
func resolveKey(name string) (keyDefinition, error) {
	def, ok := lookupKey(name)
	if !ok && utf8.RuneCountInString(name) != 1 {
		return keyDefinition{}, fmt.Errorf("%w: %q", ErrUnknownKey, name)
	}
	return def, nil
}

// keyEvent builds the CDP event for def. Text is suppressed while a
// non-shift modifier is held so chords trigger shortcuts instead of typing.
func keyEvent(typ input.KeyType, def keyDefinition, modifiers input.Modifier) *input.DispatchKeyEventParams {
	p := input.DispatchKeyEvent(typ).
		WithKey(def.Key).
		WithModifiers(modifiers)
	if def.Code != "" {
		p = p.WithCode(def.Code)
	}
	if def.VirtualKey != 0 {
		p = p.WithWindowsVirtualKeyCode(def.VirtualKey).WithNativeVirtualKeyCode(def.VirtualKey)
	}
	if typ == input.KeyDown && def.Text != "" && modifiers&^input.ModifierShift == 0 {
		p = p.WithText(def.Text).WithUnmodifiedText(def.Text)
	}
	return p
}
