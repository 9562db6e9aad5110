// cmd/helpers_test.go
package cmd

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/computer-worker/internal/channel"
	"github.com/xkilldash9x/computer-worker/internal/command"
)

// createTempConfig writes content to a config file that is removed with the test.
func createTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// stubShell is a backend that always succeeds.
type stubShell struct {
	closed atomic.Int32
	ran    atomic.Int32
}

func (s *stubShell) RunCommand(context.Context, command.Command) error {
	s.ran.Add(1)
	return nil
}

func (s *stubShell) Screenshot(context.Context) (string, error) { return "c2hvdA==", nil }

func (s *stubShell) CurrentURL(context.Context) (string, error) { return "https://example.com/", nil }

func (s *stubShell) Close() error {
	s.closed.Add(1)
	return nil
}

// stubChannel is a channel whose failures are scripted by the test.
type stubChannel struct {
	subscribeErr error
	errs         chan error

	mu           sync.Mutex
	subscribed   bool
	disconnected bool
}

func newStubChannel() *stubChannel {
	return &stubChannel{errs: make(chan error, 1)}
}

func (c *stubChannel) Subscribe(context.Context, channel.Handler) error {
	if c.subscribeErr != nil {
		return c.subscribeErr
	}
	c.mu.Lock()
	c.subscribed = true
	c.mu.Unlock()
	return nil
}

func (c *stubChannel) Err() <-chan error { return c.errs }

func (c *stubChannel) Disconnect(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnected = true
	return nil
}

func (c *stubChannel) wasDisconnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnected
}

var errBoom = errors.New("boom")
