// internal/browser/session_test.go
package browser_test

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/computer-worker/internal/browser"
	"github.com/xkilldash9x/computer-worker/internal/config"
)

// findChrome returns a local Chrome binary or skips the test.
func findChrome(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping browser integration test in short mode")
	}
	if p := os.Getenv("CHROME_PATH"); p != "" {
		return p
	}
	for _, name := range []string{"google-chrome-stable", "google-chrome", "chromium", "chromium-browser", "headless-shell"} {
		if p, err := exec.LookPath(name); err == nil {
			return p
		}
	}
	t.Skip("no Chrome binary found")
	return ""
}

const testPage = `<!doctype html>
<html><body style="margin:0">
<a id="next" href="/next" style="display:block;width:200px;height:100px">next</a>
<input id="field" style="display:block;width:200px;height:40px"
  onkeyup="if (event.key === 'Enter') { location.hash = 'typed-' + this.value }">
</body></html>`

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		if r.URL.Path == "/next" {
			fmt.Fprint(w, `<!doctype html><title>next</title><p>next page</p>`)
			return
		}
		fmt.Fprint(w, testPage)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestSession(t *testing.T) *browser.Session {
	t.Helper()
	cfg := config.NewDefaultConfig().Browser
	cfg.ExecPath = findChrome(t)
	cfg.ActionTimeout = 20 * time.Second

	s, err := browser.NewSession(context.Background(), cfg, config.Resolution{Width: 800, Height: 600, Depth: 24}, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, s.Close()) })
	return s
}

func eventuallyURL(t *testing.T, s *browser.Session, suffix string) {
	t.Helper()
	require.Eventually(t, func() bool {
		u, err := s.URL(context.Background())
		return err == nil && strings.HasSuffix(u, suffix)
	}, 10*time.Second, 50*time.Millisecond, "url never ended with %q", suffix)
}

func TestSession_Integration(t *testing.T) {
	s := newTestSession(t)
	srv := newTestServer(t)
	ctx := context.Background()

	require.NoError(t, s.Navigate(ctx, srv.URL+"/"))
	eventuallyURL(t, s, "/")

	t.Run("typing into a focused field", func(t *testing.T) {
		require.NoError(t, s.Click(ctx, 50, 120))
		for _, ch := range "hi" {
			require.NoError(t, s.TypeChar(ctx, string(ch)))
		}
		require.NoError(t, s.PressKey(ctx, "Enter"))
		eventuallyURL(t, s, "#typed-hi")
	})

	t.Run("clicking a link navigates", func(t *testing.T) {
		require.NoError(t, s.MoveMouse(ctx, 50, 50))
		require.NoError(t, s.Click(ctx, 50, 50))
		eventuallyURL(t, s, "/next")
	})

	t.Run("history", func(t *testing.T) {
		// A history entry restored from the back/forward cache fires no load
		// event, so only the resulting location is checked.
		bounded := func(nav func(context.Context) error) {
			navCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			_ = nav(navCtx)
		}
		bounded(s.Back)
		eventuallyURL(t, s, "#typed-hi")
		bounded(s.Forward)
		eventuallyURL(t, s, "/next")
	})

	t.Run("screenshot is a png", func(t *testing.T) {
		png, err := s.Screenshot(ctx)
		require.NoError(t, err)
		assert.True(t, bytes.HasPrefix(png, []byte("\x89PNG")))
	})

	t.Run("wheel and chords do not fail", func(t *testing.T) {
		require.NoError(t, s.Wheel(ctx, 0, 900))
		require.NoError(t, s.KeyDown(ctx, "Control"))
		require.NoError(t, s.KeyDown(ctx, "a"))
		require.NoError(t, s.KeyUp(ctx, "Control"))
		require.NoError(t, s.KeyUp(ctx, "a"))
	})
}

func TestSession_ClosedSessionFails(t *testing.T) {
	s := newTestSession(t)
	require.NoError(t, s.Close())
	assert.NoError(t, s.Close(), "Close is idempotent")

	_, err := s.URL(context.Background())
	assert.Error(t, err)
}
