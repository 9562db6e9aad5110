// internal/command/chord.go
package command

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// ScrollDistance is the wheel delta, in CSS pixels, of one scroll_document step.
const ScrollDistance = 900

// ParseChord splits a key_combination chord on "+" and normalizes every token
// with NormalizeKey. A trailing "+" (as in "Control++") names the plus key itself.
func ParseChord(keys string) []string {
	tokens := strings.Split(keys, "+")
	out := make([]string, 0, len(tokens))
	for _, token := range tokens {
		if token == "" {
			continue
		}
		out = append(out, NormalizeKey(token))
	}
	if strings.HasSuffix(keys, "+") {
		out = append(out, "+")
	}
	return out
}

// NormalizeKey keeps single-character keys verbatim and rewrites longer key
// names to Capitalized form ("alt" -> "Alt", "ENTER" -> "Enter").
func NormalizeKey(token string) string {
	if utf8.RuneCountInString(token) <= 1 {
		return token
	}
	lower := strings.ToLower(token)
	r, size := utf8.DecodeRuneInString(lower)
	return string(unicode.ToUpper(r)) + lower[size:]
}

// ScrollDelta maps a direction to wheel deltas. Unknown directions scroll nowhere.
func ScrollDelta(d Direction) (dx, dy float64) {
	switch d {
	case DirectionUp:
		return 0, -ScrollDistance
	case DirectionDown:
		return 0, ScrollDistance
	case DirectionLeft:
		return -ScrollDistance, 0
	case DirectionRight:
		return ScrollDistance, 0
	default:
		return 0, 0
	}
}
