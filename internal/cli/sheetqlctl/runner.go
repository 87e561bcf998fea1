// Package sheetqlctl implements the sheetqlctl command line client.
package sheetqlctl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

type Options struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
	Stdout     io.Writer
	Stderr     io.Writer
}

// errUsage marks failures that exit with status 2.
var errUsage = errors.New("usage error")

type httpError struct {
	status int
	body   string
}

func (e *httpError) Error() string {
	return fmt.Sprintf("http %d: %s", e.status, e.body)
}

type client struct {
	baseURL string
	apiKey  string
	timeout time.Duration
	http    *http.Client
	stdout  io.Writer
}

// Run executes one sheetqlctl invocation and returns the process exit code.
func Run(ctx context.Context, args []string, defaults Options) int {
	stdout := defaults.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := defaults.Stderr
	if stderr == nil {
		stderr = io.Discard
	}

	c := &client{stdout: stdout}
	root := newRootCommand(c, defaults)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	var httpErr *httpError
	switch {
	case errors.As(err, &httpErr):
		_, _ = fmt.Fprintln(stderr, httpErr.Error())
		return 1
	case errors.Is(err, errUsage), isCobraUsageError(err):
		_, _ = fmt.Fprintf(stderr, "error: %v\n", err)
		return 2
	default:
		_, _ = fmt.Fprintf(stderr, "request failed: %v\n", err)
		return 1
	}
}

func newRootCommand(c *client, defaults Options) *cobra.Command {
	root := &cobra.Command{
		Use:           "sheetqlctl",
		Short:         "Upload spreadsheets and ask questions about them",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			c.baseURL = strings.TrimRight(strings.TrimSpace(c.baseURL), "/")
			if c.baseURL == "" {
				return fmt.Errorf("%w: --base-url is required", errUsage)
			}
			c.http = defaults.HTTPClient
			if c.http == nil {
				c.http = &http.Client{Timeout: c.timeout}
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&c.baseURL, "base-url", firstNonEmpty(defaults.BaseURL, "http://localhost:8080"), "sheetql API base URL")
	root.PersistentFlags().StringVar(&c.apiKey, "api-key", defaults.APIKey, "API key for authenticated requests")
	root.PersistentFlags().DurationVar(&c.timeout, "timeout", durationOr(defaults.Timeout, 2*time.Minute), "HTTP timeout (e.g. 90s)")

	root.AddCommand(
		&cobra.Command{
			Use:   "health",
			Short: "GET /v1/health",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return c.call(cmd.Context(), http.MethodGet, "/v1/health", nil, "")
			},
		},
		&cobra.Command{
			Use:   "ready",
			Short: "GET /v1/ready",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return c.call(cmd.Context(), http.MethodGet, "/v1/ready", nil, "")
			},
		},
		newUploadCommand(c),
		&cobra.Command{
			Use:   "tables",
			Short: "List uploaded tables",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return c.call(cmd.Context(), http.MethodGet, "/v1/tables", nil, "")
			},
		},
		&cobra.Command{
			Use:   "table <name>",
			Short: "Show a table's columns and sample rows",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.call(cmd.Context(), http.MethodGet, "/v1/tables/"+url.PathEscape(args[0]), nil, "")
			},
		},
		newSessionCommand(c),
		newAskCommand(c),
	)
	return root
}

func newUploadCommand(c *client) *cobra.Command {
	var format string
	upload := &cobra.Command{
		Use:   "upload <file>",
		Short: "Upload a CSV or Excel file as a new table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.upload(cmd.Context(), args[0], format)
		},
	}
	upload.Flags().StringVar(&format, "format", "", "file format (csv, xlsx) when the extension is missing or wrong")
	return upload
}

func newSessionCommand(c *client) *cobra.Command {
	var sessionID string
	session := &cobra.Command{
		Use:   "session",
		Short: "Manage chat sessions",
	}
	open := &cobra.Command{
		Use:   "open <table>",
		Short: "Open a chat session scoped to a table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.callJSON(cmd.Context(), http.MethodPost, "/v1/sessions", map[string]string{
				"table_name": args[0],
				"session_id": sessionID,
			})
		},
	}
	open.Flags().StringVar(&sessionID, "id", "", "session id to use instead of a generated one")
	show := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a session's conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.call(cmd.Context(), http.MethodGet, "/v1/sessions/"+url.PathEscape(args[0]), nil, "")
		},
	}
	session.AddCommand(open, show)
	return session
}

func newAskCommand(c *client) *cobra.Command {
	var sessionID, table string
	ask := &cobra.Command{
		Use:   "ask <question...>",
		Short: "Ask a question in a chat session",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(sessionID) == "" {
				return fmt.Errorf("%w: --session is required", errUsage)
			}
			payload := map[string]string{"message": strings.Join(args, " ")}
			if table != "" {
				payload["table_name"] = table
			}
			return c.callJSON(cmd.Context(), http.MethodPost, "/v1/sessions/"+url.PathEscape(sessionID)+"/messages", payload)
		},
	}
	ask.Flags().StringVar(&sessionID, "session", "", "session id")
	ask.Flags().StringVar(&table, "table", "", "table to open the session on when it does not exist yet")
	return ask
}

func (c *client) upload(ctx context.Context, path, format string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: read %s: %v", errUsage, path, err)
	}
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	if format != "" {
		if err := writer.WriteField("format", format); err != nil {
			return err
		}
	}
	part, err := writer.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return err
	}
	if _, err := part.Write(data); err != nil {
		return err
	}
	if err := writer.Close(); err != nil {
		return err
	}
	return c.call(ctx, http.MethodPost, "/v1/uploads", &body, writer.FormDataContentType())
}

func (c *client) callJSON(ctx context.Context, method, path string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return c.call(ctx, method, path, bytes.NewReader(raw), "application/json")
}

func (c *client) call(ctx context.Context, method, path string, body io.Reader, contentType string) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if key := strings.TrimSpace(c.apiKey); key != "" {
		req.Header.Set("X-API-Key", key)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return &httpError{status: resp.StatusCode, body: strings.TrimSpace(string(responseBody))}
	}
	if pretty, ok := prettyJSON(responseBody); ok {
		_, _ = fmt.Fprintln(c.stdout, pretty)
		return nil
	}
	if len(responseBody) > 0 {
		_, _ = fmt.Fprintln(c.stdout, string(responseBody))
	}
	return nil
}

func prettyJSON(raw []byte) (string, bool) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", false
	}
	var formatted bytes.Buffer
	if err := json.Indent(&formatted, bytes.TrimSpace(raw), "", "  "); err != nil {
		return "", false
	}
	return formatted.String(), true
}

// isCobraUsageError matches the argument and flag errors cobra returns as
// plain strings.
func isCobraUsageError(err error) bool {
	msg := err.Error()
	for _, marker := range []string{"unknown command", "unknown flag", "unknown shorthand flag", "accepts ", "requires at least", "invalid argument", "flag needs an argument"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return strings.TrimSpace(a)
	}
	return b
}

func durationOr(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}
