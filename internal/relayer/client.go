package relayer

import (
	"bufio"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/essential-labs/essential-node/internal/nodeerr"
)

// DefaultTimeout bounds a single HTTP round trip's header response. It
// does not bound the body read, since the blocks/contracts responses are
// open streams.
const DefaultTimeout = 30 * time.Second

// maxConnectAttempts is how many times Client.open retries establishing
// the streamed connection itself before giving up and returning the last
// error to the caller, which then applies its own worker-level backoff
// before calling open again from scratch. This is a distinct, smaller
// retry budget from the worker's outer restart loop — it only covers
// transient failures within a single open attempt (connection refused,
// truncated headers).
const maxConnectAttempts = 3

// Client streams NDJSON-framed records from an upstream HTTP endpoint,
// with exponential backoff, context-aware sleep, and bounded attempts on
// the initial connect, adapted from a single buffered response to a
// chunked body the caller scans line by line.
type Client struct {
	BaseURL        string
	HTTPClient     *http.Client
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// NewClient builds a Client against baseURL (e.g. the configured
// relayer.endpoint) with the given retry backoff bounds.
func NewClient(baseURL string, initialBackoff, maxBackoff time.Duration) *Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = DefaultTimeout
	return &Client{
		BaseURL:        baseURL,
		HTTPClient:     &http.Client{Timeout: 0, Transport: transport}, // streaming body; caller controls ctx deadline
		InitialBackoff: initialBackoff,
		MaxBackoff:     maxBackoff,
	}
}

// open issues the streamed GET request, retrying connection-level
// failures (not stream-body failures, which the caller's scan loop
// surfaces separately) up to maxConnectAttempts times with exponential
// backoff bounded by MaxBackoff.
func (c *Client) open(ctx context.Context, path string, query url.Values) (*http.Response, error) {
	endpoint, err := url.Parse(c.BaseURL)
	if err != nil {
		return nil, nodeerr.New(nodeerr.Config, "parse relayer endpoint", err)
	}
	endpoint.Path = joinPath(endpoint.Path, path)
	endpoint.RawQuery = query.Encode()

	backoff := c.InitialBackoff
	if backoff <= 0 {
		backoff = time.Second
	}

	var lastErr error
	for attempt := 0; attempt < maxConnectAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
		if err != nil {
			return nil, nodeerr.New(nodeerr.Upstream, "build request", err)
		}
		req.Header.Set("Accept", "application/x-ndjson")

		resp, err := c.HTTPClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("connect attempt %d/%d: %w", attempt+1, maxConnectAttempts, err)
		} else if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			_ = resp.Body.Close()
			lastErr = fmt.Errorf("upstream error on attempt %d/%d: status %d: %s",
				attempt+1, maxConnectAttempts, resp.StatusCode, string(body))
		} else {
			return resp, nil
		}

		if attempt == maxConnectAttempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > c.MaxBackoff && c.MaxBackoff > 0 {
			backoff = c.MaxBackoff
		}
	}

	return nil, nodeerr.New(nodeerr.Upstream, "open stream", lastErr)
}

// scanLines invokes decode for every non-empty NDJSON line in resp's
// body, stopping at EOF (a normal stream end, not an error the caller
// should back off on — the worker's outer loop simply reopens from its
// resume point) or the first decode/ctx error.
func scanLines(ctx context.Context, resp *http.Response, decode func(line []byte) error) error {
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if err := decode(line); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return nodeerr.New(nodeerr.Upstream, "read stream", err)
	}
	return nil
}

// StreamBlocks opens `blocks?start_from=<hex address>` and invokes
// handle for each decoded block record until the stream ends or an error
// occurs.
func (c *Client) StreamBlocks(ctx context.Context, startFrom []byte, handle func(blockRecord) error) error {
	resp, err := c.open(ctx, "blocks", url.Values{"start_from": {hex.EncodeToString(startFrom)}})
	if err != nil {
		return err
	}
	return scanLines(ctx, resp, func(line []byte) error {
		var rec blockRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return nodeerr.New(nodeerr.Upstream, "decode block record", err)
		}
		return handle(rec)
	})
}

// StreamContracts opens `contracts?start_from=<sentinel>` and invokes
// handle for each decoded contract record. startFrom is an opaque cursor the contract worker maintains
// (hex content hash of the last inserted contract, or "" before any).
func (c *Client) StreamContracts(ctx context.Context, startFrom string, handle func(contractRecord) error) error {
	resp, err := c.open(ctx, "contracts", url.Values{"start_from": {startFrom}})
	if err != nil {
		return err
	}
	return scanLines(ctx, resp, func(line []byte) error {
		var rec contractRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return nodeerr.New(nodeerr.Upstream, "decode contract record", err)
		}
		return handle(rec)
	})
}

func joinPath(base, elem string) string {
	if base == "" {
		return "/" + elem
	}
	if base[len(base)-1] == '/' {
		return base + elem
	}
	return base + "/" + elem
}
