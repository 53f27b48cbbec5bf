package client

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/brojonat/walletwatch/service/monitor"
	natspkg "github.com/brojonat/walletwatch/service/nats"
)

// ErrNoSession is returned by Session when the server is not running a monitoring session.
var ErrNoSession = errors.New("no active monitoring session")

// Client talks to the status server of a running `walletwatch monitor`.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new status server client.
// The http client must not impose an overall timeout if streams are used.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}
}

// Health reports whether the server answers its health check.
func (c *Client) Health(ctx context.Context) error {
	resp, err := c.get(ctx, "/health", 10*time.Second)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.parseErrorResponse(resp)
	}
	return nil
}

// Session fetches the snapshot of the running session.
func (c *Client) Session(ctx context.Context) (*monitor.Snapshot, error) {
	resp, err := c.get(ctx, "/api/v1/session", 10*time.Second)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNoSession
	}
	if resp.StatusCode != http.StatusOK {
		return nil, c.parseErrorResponse(resp)
	}

	var snap monitor.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &snap, nil
}

// StreamTransfers reads the server's transfer event stream for primary (every wallet
// when empty) and calls handle for each event until ctx is done, the stream ends, or
// handle returns an error. Cancellation returns nil.
func (c *Client) StreamTransfers(ctx context.Context, primary string, handle func(*natspkg.TransferEvent) error) error {
	path := "/api/v1/stream/transfers"
	if primary != "" {
		path += "/" + url.PathEscape(primary)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.parseErrorResponse(resp)
	}

	err = readEvents(resp.Body, func(name, data string) error {
		switch name {
		case "transfer":
			event, err := natspkg.DecodeTransferEvent([]byte(data))
			if err != nil {
				c.logger.WarnContext(ctx, "skipping malformed transfer event", "error", err)
				return nil
			}
			return handle(event)
		case "error":
			return fmt.Errorf("server stream error: %s", data)
		default:
			c.logger.DebugContext(ctx, "stream event", "event", name)
			return nil
		}
	})
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// errFound stops a stream once Await has its match.
var errFound = errors.New("found")

// Await blocks until a transfer for primary satisfies match and returns it.
// It returns ctx.Err() if ctx ends first.
func (c *Client) Await(ctx context.Context, primary string, match func(*natspkg.TransferEvent) bool) (*natspkg.TransferEvent, error) {
	var found *natspkg.TransferEvent
	err := c.StreamTransfers(ctx, primary, func(event *natspkg.TransferEvent) error {
		if !match(event) {
			c.logger.DebugContext(ctx, "transfer did not match", "signature", event.Signature)
			return nil
		}
		found = event
		return errFound
	})
	switch {
	case found != nil:
		return found, nil
	case err != nil:
		return nil, err
	case ctx.Err() != nil:
		return nil, ctx.Err()
	default:
		return nil, fmt.Errorf("stream ended before a matching transfer arrived")
	}
}

func (c *Client) get(ctx context.Context, path string, timeout time.Duration) (*http.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("request failed: %w", err)
	}
	resp.Body = &cancelBody{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

// cancelBody releases the request timeout when the body is closed.
type cancelBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelBody) Close() error {
	defer b.cancel()
	return b.ReadCloser.Close()
}

// readEvents parses a text/event-stream body and calls fn per dispatched event.
// Comment lines are ignored; multi-line data is joined with newlines.
func readEvents(r io.Reader, fn func(name, data string) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var name string
	var data []string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if len(data) > 0 {
				if name == "" {
					name = "message"
				}
				if err := fn(name, strings.Join(data, "\n")); err != nil {
					return err
				}
			}
			name, data = "", nil
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	return scanner.Err()
}

// parseErrorResponse attempts to parse an error response from the server.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	var errResp struct {
		Error string `json:"error"`
	}

	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == "" {
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(body))
	}

	return fmt.Errorf("request failed: %s", errResp.Error)
}
