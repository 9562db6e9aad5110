// cmd/send.go
package cmd

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	json "github.com/json-iterator/go"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"

	"github.com/xkilldash9x/computer-worker/api/schemas"
	"github.com/xkilldash9x/computer-worker/internal/command"
)

type sendOptions struct {
	addr    string
	name    string
	args    string
	out     string
	timeout time.Duration
}

func newSendCmd() *cobra.Command {
	opts := &sendOptions{}
	sendCmd := &cobra.Command{
		Use:   "send [command-json]",
		Short: "Send one command to a worker over HTTP and save the screenshot",
		Long: `Send posts a single command to a worker's HTTP channel. The command is either
given as a JSON argument or built from --name and --args. The resulting URL is
printed and the screenshot is written to --out when set.`,
		Example: `  computer-worker send --name navigate --args '{"url":"https://example.com"}' --out ~/shot.png
  computer-worker send '{"name":"scroll_document","args":{"direction":"down"}}'`,
		Args: cobra.MaximumNArgs(1),
		// The client needs no worker configuration.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			raw := ""
			if len(args) == 1 {
				raw = args[0]
			}
			return runSend(cmd.Context(), cmd.OutOrStdout(), opts, raw)
		},
	}

	sendCmd.Flags().StringVar(&opts.addr, "addr", "http://localhost:8080/", "worker command endpoint")
	sendCmd.Flags().StringVar(&opts.name, "name", "", "command name, e.g. click_at")
	sendCmd.Flags().StringVar(&opts.args, "args", "", "command arguments as a JSON object")
	sendCmd.Flags().StringVarP(&opts.out, "out", "o", "", "file to write the PNG screenshot to")
	sendCmd.Flags().DurationVar(&opts.timeout, "timeout", 2*time.Minute, "request timeout")
	_ = sendCmd.RegisterFlagCompletionFunc("name", completeCommandNames)
	return sendCmd
}

// completeCommandNames offers every command tag for --name.
func completeCommandNames(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
	names := make([]string, len(command.Names))
	for i, n := range command.Names {
		names[i] = string(n)
	}
	return names, cobra.ShellCompDirectiveNoFileComp
}

// buildCommand validates the command locally so malformed input never
// reaches the worker.
func buildCommand(opts *sendOptions, raw string) (json.RawMessage, error) {
	if raw == "" {
		if opts.name == "" {
			return nil, fmt.Errorf("either a command argument or --name is required")
		}
		env := map[string]interface{}{"name": opts.name}
		if opts.args != "" {
			if !json.Valid([]byte(opts.args)) {
				return nil, fmt.Errorf("--args is not valid JSON")
			}
			env["args"] = json.RawMessage(opts.args)
		}
		data, err := json.Marshal(env)
		if err != nil {
			return nil, err
		}
		raw = string(data)
	} else if opts.name != "" {
		return nil, fmt.Errorf("a command argument and --name are mutually exclusive")
	}

	c, err := command.Parse(raw)
	if err != nil {
		return nil, err
	}
	return command.Marshal(c)
}

func runSend(ctx context.Context, stdout io.Writer, opts *sendOptions, raw string) error {
	payload, err := buildCommand(opts, raw)
	if err != nil {
		return err
	}
	body, err := json.Marshal(schemas.HTTPCommandRequest{Command: payload})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, opts.addr, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	requestID := uuid.NewString()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-Id", requestID)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s failed: %w", requestID, err)
	}
	defer resp.Body.Close()

	var result schemas.Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("worker answered %s with an unreadable body: %w", resp.Status, err)
	}
	if resp.StatusCode != http.StatusOK || result.Failed() {
		return fmt.Errorf("worker rejected the command (%s): %s", resp.Status, result.Error)
	}

	fmt.Fprintf(stdout, "url: %s\n", result.URL)
	if opts.out == "" {
		return nil
	}

	png, err := base64.StdEncoding.DecodeString(result.Screenshot)
	if err != nil {
		return fmt.Errorf("screenshot is not valid base64: %w", err)
	}
	path, err := homedir.Expand(opts.out)
	if err != nil {
		return fmt.Errorf("failed to expand output path: %w", err)
	}
	if err := os.WriteFile(path, png, 0o644); err != nil {
		return fmt.Errorf("failed to write screenshot: %w", err)
	}
	fmt.Fprintf(stdout, "screenshot: %s (%d bytes)\n", path, len(png))
	return nil
}
