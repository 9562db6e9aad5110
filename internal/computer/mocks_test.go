// internal/computer/mocks_test.go
package computer_test

import (
	"context"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/computer-worker/internal/command"
	"github.com/xkilldash9x/computer-worker/internal/computer"
)

// MockPage is a mock implementation of computer.Page.
type MockPage struct {
	mock.Mock
}

func (m *MockPage) Navigate(ctx context.Context, url string) error {
	return m.Called(ctx, url).Error(0)
}

func (m *MockPage) Back(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockPage) Forward(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockPage) Click(ctx context.Context, x, y int) error {
	return m.Called(ctx, x, y).Error(0)
}

func (m *MockPage) MoveMouse(ctx context.Context, x, y int) error {
	return m.Called(ctx, x, y).Error(0)
}

func (m *MockPage) TypeChar(ctx context.Context, ch string) error {
	return m.Called(ctx, ch).Error(0)
}

func (m *MockPage) PressKey(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}

func (m *MockPage) KeyDown(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}

func (m *MockPage) KeyUp(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}

func (m *MockPage) Wheel(ctx context.Context, dx, dy float64) error {
	return m.Called(ctx, dx, dy).Error(0)
}

func (m *MockPage) Screenshot(ctx context.Context) ([]byte, error) {
	args := m.Called(ctx)
	if b, ok := args.Get(0).([]byte); ok {
		return b, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockPage) URL(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *MockPage) Close() error {
	return m.Called().Error(0)
}

// methodNames returns the names of the recorded calls in order.
func (m *MockPage) methodNames() []string {
	var names []string
	for _, c := range m.Calls {
		names = append(names, c.Method)
	}
	return names
}

// MockShell is a mock implementation of computer.Shell used as a delegate.
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
var _ computer.Page = (*MockPage)(nil)

// recordingRunner records every invocation and answers from a canned table.
type recordingRunner struct {
	mu     sync.Mutex
	calls  [][]string
	output map[string][]byte
	err    error
}

func (r *recordingRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, append([]string{name}, args...))
	if r.err != nil {
		return nil, r.err
	}
	return r.output[name], nil
}

func (r *recordingRunner) invocations() [][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]string(nil), r.calls...)
}

// sleepRecorder captures requested sleeps without waiting.
type sleepRecorder struct {
	mu        sync.Mutex
	durations []time.Duration
}

func (s *sleepRecorder) Sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.durations = append(s.durations, d)
	return nil
}

func (s *sleepRecorder) recorded() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.durations...)
}
