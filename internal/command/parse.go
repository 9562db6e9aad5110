// internal/command/parse.go
package command

import (
	"bytes"
	"errors"
	"fmt"

	json "github.com/json-iterator/go"
)

// ErrUnknownCommand is wrapped by a ParseError when the name tag is not one of Names.
var ErrUnknownCommand = errors.New("unknown command")

// ParseError reports a payload that could not be turned into a Command.
type ParseError struct {
	Name Name // Empty when the tag itself could not be read.
	Err  error
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("invalid %s command: %v", e.Name, e.Err)
	}
	return fmt.Sprintf("invalid command payload: %v", e.Err)
}

// Unwrap provides the underlying decode error for use with errors.Is/As.
func (e *ParseError) Unwrap() error {
	return e.Err
}

// envelope is the wire form of a command.
type envelope struct {
	Name Name            `json:"name"`
	Args json.RawMessage `json:"args,omitempty"`
}

// requiredArgs lists the argument keys each variant must carry. Variants absent
// from the map take no arguments and ignore any that are sent.
var requiredArgs = map[Name][]string{
	NameClickAt:        {"x", "y"},
	NameHoverAt:        {"x", "y"},
	NameTypeTextAt:     {"x", "y", "text"},
	NameScrollDocument: {"direction"},
	NameNavigate:       {"url"},
	NameKeyCombination: {"keys"},
}

// Parse turns untrusted input into a typed Command. The input may be a JSON
// string, raw JSON bytes, an already decoded value (e.g. map[string]any) or a
// Command. Validation is structural: the tag must be known, required arguments
// must be present and of the right JSON type. Values are not range checked.
func Parse(input any) (Command, error) {
	data, err := toBytes(input)
	if err != nil {
		return nil, &ParseError{Err: err}
	}
	return decode(data, true)
}

// Marshal produces the wire form {"name": ..., "args": {...}} of c.
func Marshal(c Command) ([]byte, error) {
	if c == nil {
		return nil, errors.New("cannot marshal a nil command")
	}
	env := envelope{Name: c.Name()}
	if _, hasArgs := requiredArgs[env.Name]; hasArgs {
		args, err := json.Marshal(c)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s arguments: %w", env.Name, err)
		}
		env.Args = args
	}
	return json.Marshal(env)
}

func toBytes(input any) ([]byte, error) {
	switch v := input.(type) {
	case nil:
		return nil, errors.New("no command payload")
	case string:
		return []byte(v), nil
	case []byte:
		return v, nil
	case json.RawMessage:
		return v, nil
	case Command:
		return Marshal(v)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("payload of type %T is not encodable: %w", input, err)
		}
		return data, nil
	}
}

// decode parses one JSON document. A JSON string literal is unwrapped once, so a
// command that was encoded twice by a transport still parses.
func decode(data []byte, unwrapString bool) (Command, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, &ParseError{Err: errors.New("empty payload")}
	}

	if trimmed[0] == '"' && unwrapString {
		var inner string
		if err := json.Unmarshal(trimmed, &inner); err != nil {
			return nil, &ParseError{Err: err}
		}
		return decode([]byte(inner), false)
	}

	var env envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return nil, &ParseError{Err: err}
	}
	if env.Name == "" {
		return nil, &ParseError{Err: errors.New("missing command name")}
	}
	if !env.Name.Valid() {
		return nil, &ParseError{Name: env.Name, Err: fmt.Errorf("%w %q", ErrUnknownCommand, string(env.Name))}
	}

	c, err := decodeArgs(env)
	if err != nil {
		return nil, &ParseError{Name: env.Name, Err: err}
	}
	return c, nil
}

func decodeArgs(env envelope) (Command, error) {
	switch env.Name {
	case NameOpenWebBrowser:
		return OpenWebBrowser{}, nil
	case NameClickAt:
		return decodeInto[ClickAt](env)
	case NameHoverAt:
		return decodeInto[HoverAt](env)
	case NameTypeTextAt:
		return decodeInto[TypeTextAt](env)
	case NameScrollDocument:
		return decodeInto[ScrollDocument](env)
	case NameWait5Seconds:
		return Wait5Seconds{}, nil
	case NameGoBack:
		return GoBack{}, nil
	case NameGoForward:
		return GoForward{}, nil
	case NameSearch:
		return Search{}, nil
	case NameNavigate:
		return decodeInto[Navigate](env)
	case NameKeyCombination:
		return decodeInto[KeyCombination](env)
	case NameScreenshot:
		return Screenshot{}, nil
	case NameShutdown:
		return Shutdown{}, nil
	default:
		return nil, fmt.Errorf("no decoder for %q", string(env.Name))
	}
}

func decodeInto[T Command](env envelope) (Command, error) {
	var c T
	args := bytes.TrimSpace(env.Args)
	if len(args) == 0 || bytes.Equal(args, []byte("null")) {
		return nil, errors.New("missing args")
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(args, &fields); err != nil {
		return nil, fmt.Errorf("args must be an object: %w", err)
	}
	for _, key := range requiredArgs[env.Name] {
		v, ok := fields[key]
		if !ok || bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
			return nil, fmt.Errorf("missing required argument %q", key)
		}
	}

	if err := json.Unmarshal(args, &c); err != nil {
		return nil, err
	}
	return c, nil
}
