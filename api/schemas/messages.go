// api/schemas/messages.go
package schemas

import (
	"bytes"
	"errors"
	"fmt"

	json "github.com/json-iterator/go"
)

// CommandEnvelope is the body of a message on the command topic.
type CommandEnvelope struct {
	ID      string          `json:"id"`
	Command json.RawMessage `json:"command"`
}

// HTTPCommandRequest is the body posted to the HTTP channel. A body without a
// "command" field is treated as the command itself.
type HTTPCommandRequest struct {
	Command json.RawMessage `json:"command"`
}

// ScreenshotResult is published after a command ran successfully.
type ScreenshotResult struct {
	ID         string `json:"id"`
	SessionID  string `json:"session_id"`
	Screenshot string `json:"screenshot"`
	URL        string `json:"url"`
}

// ErrorResult is published on the result topic when a command failed.
type ErrorResult struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

// HTTPError is the body of a 500 response from the HTTP channel.
type HTTPError struct {
	Error string `json:"error"`
}

// Result is the client side view of either result shape.
type Result struct {
	ID         string `json:"id,omitempty"`
	SessionID  string `json:"session_id,omitempty"`
	Screenshot string `json:"screenshot,omitempty"`
	URL        string `json:"url,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Failed reports whether the result carries an error.
func (r Result) Failed() bool {
	return r.Error != ""
}

var (
	// ErrMissingID is returned for a command envelope without an "id".
	ErrMissingID = errors.New("missing id")
	// ErrMissingCommand is returned for a command envelope without a "command".
	ErrMissingCommand = errors.New("missing command")
)

// DecodeCommandEnvelope decodes a Pub/Sub message body. Both fields are required.
func DecodeCommandEnvelope(data []byte) (CommandEnvelope, error) {
	var env CommandEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return CommandEnvelope{}, fmt.Errorf("malformed command envelope: %w", err)
	}
	if env.ID == "" {
		return CommandEnvelope{}, ErrMissingID
	}
	if isNull(env.Command) {
		return CommandEnvelope{}, ErrMissingCommand
	}
	return env, nil
}

// CommandFromHTTPBody extracts the command from an HTTP request body: the
// "command" field when present, otherwise the whole body.
func CommandFromHTTPBody(body []byte) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, errors.New("empty request body")
	}
	if !json.Valid(trimmed) {
		return nil, errors.New("request body is not valid JSON")
	}
	if trimmed[0] == '{' {
		var req HTTPCommandRequest
		if err := json.Unmarshal(trimmed, &req); err != nil {
			return nil, fmt.Errorf("malformed request body: %w", err)
		}
		if !isNull(req.Command) {
			return req.Command, nil
		}
	}
	return json.RawMessage(trimmed), nil
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
