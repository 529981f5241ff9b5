// Package eapi talks to Arista EOS switches over the eAPI JSON-RPC interface
// and implements device.Gateway on top of it.
package eapi

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/netdevd/internal/device"
)

// Output formats accepted by runCmds.
const (
	FormatJSON = "json"
	FormatText = "text"
)

// Options configures a Client.
type Options struct {
	Host      string
	Port      int
	Transport string // "https" or "http"
	Username  string
	Password  string
	Timeout   time.Duration
	Insecure  bool

	// Endpoint overrides the URL built from Host, Port and Transport.
	Endpoint string
}

func (o Options) endpoint() string {
	if o.Endpoint != "" {
		return o.Endpoint
	}
	transport := o.Transport
	if transport == "" {
		transport = "https"
	}
	port := o.Port
	if port == 0 {
		port = 443
		if transport == "http" {
			port = 80
		}
	}
	return fmt.Sprintf("%s://%s:%d/command-api", transport, o.Host, port)
}

// Client is a JSON-RPC runCmds client. It is transport only: no retries, no caching.
type Client struct {
	endpoint   string
	username   string
	password   string
	httpClient *http.Client
}

// NewClient creates a client. Insecure disables TLS verification for the
// switch's self-signed certificate.
func NewClient(opts Options) *Client {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		endpoint: opts.endpoint(),
		username: opts.Username,
		password: opts.Password,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: opts.Insecure},
			},
		},
	}
}

// Endpoint returns the command-api URL.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Close closes idle connections
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}

type request struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  params `json:"params"`
	ID      string `json:"id"`
}

type params struct {
	Version int      `json:"version"`
	Cmds    []string `json:"cmds"`
	Format  string   `json:"format"`
}

type response struct {
	ID     string            `json:"id"`
	Result []json.RawMessage `json:"result"`
	Error  *rpcError         `json:"error"`
}

type rpcError struct {
	Code    int               `json:"code"`
	Message string            `json:"message"`
	Data    []json.RawMessage `json:"data"`
}

// commandErrors extracts per-command error strings EOS puts in error.data.
func (e *rpcError) commandErrors() []string {
	var out []string
	for _, raw := range e.Data {
		var item struct {
			Errors []string `json:"errors"`
		}
		if json.Unmarshal(raw, &item) == nil {
			out = append(out, item.Errors...)
		}
	}
	return out
}

// RunCmds executes cmds in one request and returns one result per command.
// Failures are classified as device.ErrConnection, device.ErrAuth or device.ErrProtocol.
func (c *Client) RunCmds(ctx context.Context, format string, cmds ...string) ([]json.RawMessage, error) {
	body, err := json.Marshal(request{
		JSONRPC: "2.0",
		Method:  "runCmds",
		Params:  params{Version: 1, Cmds: cmds, Format: format},
		ID:      uuid.New().String(),
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", device.ErrConnection, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: HTTP %d", device.ErrAuth, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: HTTP %d: %s", device.ErrProtocol, resp.StatusCode, bytes.TrimSpace(msg))
	}

	var out response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", device.ErrProtocol, err)
	}
	if out.Error != nil {
		if errs := out.Error.commandErrors(); len(errs) > 0 {
			return nil, fmt.Errorf("%w: %s (code %d): %v", device.ErrProtocol, out.Error.Message, out.Error.Code, errs)
		}
		return nil, fmt.Errorf("%w: %s (code %d)", device.ErrProtocol, out.Error.Message, out.Error.Code)
	}
	if len(out.Result) != len(cmds) {
		return nil, fmt.Errorf("%w: expected %d results, got %d", device.ErrProtocol, len(cmds), len(out.Result))
	}

	log.Debug().
		Strs("cmds", cmds).
		Str("format", format).
		Dur("duration", time.Since(start)).
		Msg("eAPI call completed")

	return out.Result, nil
}

// Show runs one show command and decodes its JSON result into out.
func (c *Client) Show(ctx context.Context, cmd string, out any) error {
	results, err := c.RunCmds(ctx, FormatJSON, cmd)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(results[0], out); err != nil {
		return fmt.Errorf("%w: decode %q: %v", device.ErrProtocol, cmd, err)
	}
	return nil
}

// ShowText runs one show command and returns its text output.
func (c *Client) ShowText(ctx context.Context, cmd string) (string, error) {
	results, err := c.RunCmds(ctx, FormatText, cmd)
	if err != nil {
		return "", err
	}
	var text struct {
		Output string `json:"output"`
	}
	if err := json.Unmarshal(results[0], &text); err != nil {
		return "", fmt.Errorf("%w: decode %q: %v", device.ErrProtocol, cmd, err)
	}
	return text.Output, nil
}

// Configure runs cmds in configuration mode.
func (c *Client) Configure(ctx context.Context, cmds ...string) error {
	all := make([]string, 0, len(cmds)+3)
	all = append(all, "enable", "configure")
	all = append(all, cmds...)
	all = append(all, "end")

	_, err := c.RunCmds(ctx, FormatJSON, all...)
	return err
}
