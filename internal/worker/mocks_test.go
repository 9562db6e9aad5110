// internal/worker/mocks_test.go
package worker_test

import (
	"context"
	"sync"

	json "github.com/json-iterator/go"
	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/computer-worker/internal/channel"
	"github.com/xkilldash9x/computer-worker/internal/command"
	"github.com/xkilldash9x/computer-worker/internal/computer"
)

// MockShell is a mock implementation of computer.Shell.
type MockShell struct {
	mock.Mock
}

func (m *MockShell) RunCommand(ctx context.Context, c command.Command) error {
	return m.Called(ctx, c).Error(0)
}

func (m *MockShell) Screenshot(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *MockShell) CurrentURL(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *MockShell) Close() error {
	return m.Called().Error(0)
}

var _ computer.Shell = (*MockShell)(nil)

// recorder is an ordered log shared by the fakes of one test.
type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(e string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

// fakeChannel records subscription and disconnects, noting whether the
// worker still reported ready at the moment of disconnect.
type fakeChannel struct {
	rec     *recorder
	ready   func() bool
	handler channel.Handler
	errs    chan error

	mu          sync.Mutex
	disconnects int
}

func newFakeChannel(rec *recorder) *fakeChannel {
	return &fakeChannel{rec: rec, errs: make(chan error, 1)}
}

func (c *fakeChannel) Subscribe(_ context.Context, h channel.Handler) error {
	c.handler = h
	c.rec.add("subscribe")
	return nil
}

func (c *fakeChannel) Err() <-chan error { return c.errs }

func (c *fakeChannel) Disconnect(context.Context) error {
	c.mu.Lock()
	c.disconnects++
	c.mu.Unlock()
	if c.ready != nil && c.ready() {
		c.rec.add("disconnect while ready")
		return nil
	}
	c.rec.add("disconnect")
	return nil
}

func (c *fakeChannel) disconnectCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnects
}

// fakeMessage counts publishes. Only the first one takes effect.
type fakeMessage struct {
	id      string
	payload json.RawMessage

	mu         sync.Mutex
	publishes  int
	screenshot string
	url        string
	sessionID  string
	errText    string
}

func newMessage(id, payload string) *fakeMessage {
	return &fakeMessage{id: id, payload: json.RawMessage(payload)}
}

func (m *fakeMessage) ID() string               { return m.id }
func (m *fakeMessage) Payload() json.RawMessage { return m.payload }

func (m *fakeMessage) PublishScreenshot(_ context.Context, screenshot, sessionID, url string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishes++
	if m.publishes > 1 {
		return channel.ErrAlreadyPublished
	}
	m.screenshot, m.sessionID, m.url = screenshot, sessionID, url
	return nil
}

func (m *fakeMessage) PublishError(_ context.Context, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishes++
	if m.publishes > 1 {
		return channel.ErrAlreadyPublished
	}
	m.errText = text
	return nil
}

func (m *fakeMessage) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.publishes
}

func (m *fakeMessage) result() (screenshot, url, errText string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.screenshot, m.url, m.errText
}
