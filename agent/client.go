package agent

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/Chamoswor/virtualshell/shell"
)

// Client drives a remote shell served by a Server. A Client owns at most one
// connection, and the remote engine lives exactly as long as that connection.
type Client struct {
	log        *zap.SugaredLogger
	baseURL    string
	wsURL      string
	httpClient *http.Client

	customizeRetryableClient func(*retryablehttp.Client)

	waitInterval time.Duration

	conn *websocket.Conn
}

// ClientOption customizes a Client.
type ClientOption func(c *Client)

// WithClientWaitInterval sets the poll interval of WaitForServer.
func WithClientWaitInterval(d time.Duration) ClientOption {
	return func(c *Client) {
		c.waitInterval = d
	}
}

// WithCustomizeRetryableClient tweaks the retrying HTTP client used by
// WaitForServer.
func WithCustomizeRetryableClient(f func(r *retryablehttp.Client)) ClientOption {
	return func(c *Client) {
		c.customizeRetryableClient = f
	}
}

type logAdapter struct {
	*zap.SugaredLogger
}

func (a *logAdapter) Printf(msg string, args ...interface{}) { a.Debugf(msg, args...) }

// NewClient creates a client for the agent at addr (host:port).
func NewClient(log *zap.SugaredLogger, addr string, opts ...ClientOption) *Client {
	c := &Client{
		log:          log.Named("shellagentclient"),
		baseURL:      "http://" + addr,
		wsURL:        "ws://" + addr + "/shell",
		httpClient:   http.DefaultClient,
		waitInterval: 100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WaitForServer polls the health endpoint until the server answers or ctx
// is done.
func (c *Client) WaitForServer(ctx context.Context) error {
	retryClient := retryablehttp.NewClient()
	retryClient.Logger = &logAdapter{c.log}
	retryClient.RetryWaitMin = c.waitInterval
	retryClient.RetryWaitMax = c.waitInterval
	retryClient.RetryMax = 1000
	if c.customizeRetryableClient != nil {
		c.customizeRetryableClient(retryClient)
	}

	req, err := retryablehttp.NewRequest(http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("building health request: %w", err)
	}
	req = req.WithContext(ctx)

	resp, err := retryClient.Do(req)
	if err != nil {
		return fmt.Errorf("waiting for server: %w", err)
	}
	resp.Body.Close()
	return nil
}

// StartOptions describe the remote shell to spawn.
type StartOptions struct {
	Shell           string
	WorkingDir      string
	Env             map[string]string
	DefaultTimeout  time.Duration
	AutoRestart     bool
	InitialCommands []string
}

// Open dials the WebSocket and starts the remote shell.
func (c *Client) Open(ctx context.Context, opts StartOptions) error {
	c.log.Debugw("dialing WebSocket", "URL", c.wsURL)
	conn, _, err := websocket.Dial(ctx, c.wsURL, &websocket.DialOptions{
		HTTPClient:      c.httpClient,
		CompressionMode: websocket.CompressionContextTakeover,
	})
	if err != nil {
		return fmt.Errorf("establishing WebSocket conn: %w", err)
	}
	conn.SetReadLimit(readLimit)

	req := requestMessage{Start: &startRequest{
		Shell:            opts.Shell,
		WorkingDir:       opts.WorkingDir,
		Env:              opts.Env,
		DefaultTimeoutMS: opts.DefaultTimeout.Milliseconds(),
		AutoRestart:      opts.AutoRestart,
		InitialCommands:  opts.InitialCommands,
	}}
	if err := wsjson.Write(ctx, conn, req); err != nil {
		conn.Close(websocket.StatusInternalError, "writing start request")
		return fmt.Errorf("writing start request: %w", err)
	}

	var resp responseMessage
	if err := wsjson.Read(ctx, conn, &resp); err != nil {
		conn.Close(websocket.StatusInternalError, "reading start response")
		return fmt.Errorf("reading start response: %w", err)
	}
	if !resp.Started {
		conn.Close(websocket.StatusNormalClosure, "")
		return fmt.Errorf("remote shell failed to start: %s", resp.Err)
	}

	c.conn = conn
	return nil
}

// Execute runs one command on the remote shell.
func (c *Client) Execute(ctx context.Context, command string, timeout time.Duration) (shell.ExecutionResult, error) {
	resp, err := c.roundTrip(ctx, requestMessage{
		Command:   command,
		TimeoutMS: timeout.Milliseconds(),
	})
	if err != nil {
		return shell.ExecutionResult{}, err
	}
	if resp.Result == nil {
		return shell.ExecutionResult{}, fmt.Errorf("response carries no result: %s", resp.Err)
	}
	return fromResultMessage(*resp.Result), nil
}

// ExecuteBatch runs the commands sequentially on the remote shell.
func (c *Client) ExecuteBatch(ctx context.Context, commands []string, perCommandTimeout time.Duration) ([]shell.ExecutionResult, error) {
	resp, err := c.roundTrip(ctx, requestMessage{
		Batch:     commands,
		TimeoutMS: perCommandTimeout.Milliseconds(),
	})
	if err != nil {
		return nil, err
	}
	results := make([]shell.ExecutionResult, 0, len(resp.Results))
	for _, rm := range resp.Results {
		results = append(results, fromResultMessage(rm))
	}
	return results, nil
}

func (c *Client) roundTrip(ctx context.Context, req requestMessage) (*responseMessage, error) {
	if c.conn == nil {
		return nil, fmt.Errorf("client is not open")
	}
	if err := wsjson.Write(ctx, c.conn, req); err != nil {
		return nil, fmt.Errorf("writing request: %w", err)
	}
	var resp responseMessage
	if err := wsjson.Read(ctx, c.conn, &resp); err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	return &resp, nil
}

// Close closes the connection, which stops the remote shell.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close(websocket.StatusNormalClosure, "")
	c.conn = nil
	return err
}

func fromResultMessage(m resultMessage) shell.ExecutionResult {
	return shell.ExecutionResult{
		Stdout:   m.Stdout,
		Stderr:   m.Stderr,
		ExitCode: m.ExitCode,
		Success:  m.Success,
		Elapsed:  m.Elapsed,
	}
}
