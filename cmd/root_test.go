// cmd/root_test.go
package cmd

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/computer-worker/internal/config"
)

// executeWithCapture runs the root command with a capture subcommand that
// captures the configuration handed to subcommands.
func executeWithCapture(t *testing.T, args ...string) (*config.Config, error) {
	t.Helper()
	root := NewRootCommand()
	var got *config.Config
	root.AddCommand(&cobra.Command{
		Use: "capture",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := getConfigFromContext(cmd.Context())
			got = cfg
			return err
		},
	})
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"capture"}, args...))
	err := root.ExecuteContext(context.Background())
	return got, err
}

func TestRootCommand_VersionFlag(t *testing.T) {
	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"--version"})

	require.NoError(t, root.ExecuteContext(context.Background()))
	assert.Equal(t, Version+"\n", out.String())
}

func TestVersionCommand(t *testing.T) {
	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})

	require.NoError(t, root.ExecuteContext(context.Background()))
	assert.Contains(t, out.String(), "computer-worker "+Version)
}

func TestRootCommand_Subcommands(t *testing.T) {
	root := NewRootCommand()
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"serve", "send", "version"}, names)
}

func TestRootCommand_DeploymentEnvironment(t *testing.T) {
	t.Setenv("SESSION_ID", "abc")
	t.Setenv("IDLE_TIMEOUT", "1d")
	t.Setenv("FULLOS", "true")
	t.Setenv("USE_PUBSUB", "true")
	t.Setenv("PUBSUB_PROJECT_ID", "proj")
	t.Setenv("HEALTH_CHECK_PORT", "9001")
	t.Setenv("SCREEN_RESOLUTION", "1280x720x24")

	cfg, err := executeWithCapture(t)
	require.NoError(t, err)

	assert.Equal(t, "abc", cfg.Worker.SessionID)
	assert.True(t, cfg.Worker.FullOS)
	assert.True(t, cfg.Transport.UsePubSub)
	assert.Equal(t, "proj", cfg.Transport.PubSub.ProjectID)
	assert.Equal(t, 9001, cfg.Worker.ReadinessPort)

	idle, err := cfg.Worker.IdleDuration()
	require.NoError(t, err)
	assert.Equal(t, 24*time.Hour, idle)

	res, err := cfg.Worker.Resolution()
	require.NoError(t, err)
	assert.Equal(t, config.Resolution{Width: 1280, Height: 720, Depth: 24}, res)
}

func TestRootCommand_ConfigFileAndPrefixedEnv(t *testing.T) {
	path := createTempConfig(t, `
worker:
  session_id: from-file
browser:
  default_url: https://example.org
  navigation_timeout: 7s
`)
	t.Setenv("WORKER_LOGGER_LEVEL", "debug")

	cfg, err := executeWithCapture(t, "--config", path)
	require.NoError(t, err)

	assert.Equal(t, "from-file", cfg.Worker.SessionID)
	assert.Equal(t, "https://example.org", cfg.Browser.DefaultURL)
	assert.Equal(t, 7*time.Second, cfg.Browser.NavigationTimeout)
	assert.Equal(t, "debug", cfg.Logger.Level)
}

func TestRootCommand_InvalidConfiguration(t *testing.T) {
	t.Setenv("IDLE_TIMEOUT", "soon")

	_, err := executeWithCapture(t)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "idle_timeout")
}

func TestRootCommand_MissingConfigFile(t *testing.T) {
	_, err := executeWithCapture(t, "--config", "/nonexistent/worker.yaml")
	assert.Error(t, err)
}

func TestGetConfigFromContext_Missing(t *testing.T) {
	_, err := getConfigFromContext(context.Background())
	assert.Error(t, err)
}
