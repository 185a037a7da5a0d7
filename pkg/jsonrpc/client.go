package jsonrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"net/http"
	"sync"
	"sync/atomic"
)

// Client errors
var (
	ErrClientClosed = errors.New("client closed")
	ErrTimeout      = errors.New("request timeout")
	ErrCanceled     = errors.New("request canceled")
)

// Client is a JSON-RPC 2.0 client over HTTP POST.
type Client struct {
	// endpoint is the URL of the JSON-RPC server.
	endpoint string

	// httpClient is the HTTP client used to make requests.
	httpClient *http.Client

	// headers are the HTTP headers to include in requests.
	headers map[string]string

	// nextID is the next request ID.
	nextID atomic.Int64

	// closed indicates whether the client is closed.
	closed atomic.Bool

	// mutex is used to synchronize access to the headers map.
	mutex sync.RWMutex
}

// ClientOption is a function that configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets the HTTP client used to make requests.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithHeaders sets the HTTP headers to include in requests.
func WithHeaders(headers map[string]string) ClientOption {
	return func(c *Client) {
		maps.Copy(c.headers, headers)
	}
}

// NewClient creates a new JSON-RPC 2.0 client.
func NewClient(endpoint string, options ...ClientOption) *Client {
	client := &Client{
		endpoint:   endpoint,
		httpClient: http.DefaultClient,
		headers: map[string]string{
			"Content-Type": "application/json",
			"Accept":       "application/json",
		},
	}

	for _, option := range options {
		option(client)
	}

	return client
}

// Call makes a request and decodes its result into result, which may be nil.
// An error response is returned as *Error.
func (c *Client) Call(ctx context.Context, method string, params any, result any) error {
	if c.closed.Load() {
		return ErrClientClosed
	}

	req, err := NewRequest(method, params, c.nextID.Add(1))
	if err != nil {
		return err
	}

	data, err := c.post(ctx, req)
	if err != nil {
		return err
	}

	res, err := ParseResponse(data)
	if err != nil {
		return err
	}
	if res.Error != nil {
		return res.Error
	}
	return res.UnmarshalResult(result)
}

// Notify sends a notification. The server sends nothing back.
func (c *Client) Notify(ctx context.Context, method string, params any) error {
	if c.closed.Load() {
		return ErrClientClosed
	}

	req, err := NewRequest(method, params, nil)
	if err != nil {
		return err
	}
	_, err = c.post(ctx, req)
	return err
}

// Close closes the client.
func (c *Client) Close() error {
	c.closed.Store(true)
	return nil
}

// post sends body and returns the raw response.
func (c *Client) post(ctx context.Context, body any) ([]byte, error) {
	reqData, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(reqData))
	if err != nil {
		return nil, err
	}

	c.mutex.RLock()
	for k, v := range c.headers {
		httpReq.Header.Set(k, v)
	}
	c.mutex.RUnlock()

	httpRes, err := c.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, ErrTimeout
		}
		if errors.Is(err, context.Canceled) {
			return nil, ErrCanceled
		}
		return nil, err
	}
	defer httpRes.Body.Close()

	resData, err := io.ReadAll(httpRes.Body)
	if err != nil {
		return nil, err
	}

	switch httpRes.StatusCode {
	case http.StatusOK:
		return resData, nil
	case http.StatusNoContent:
		return nil, nil
	default:
		return nil, fmt.Errorf("HTTP error: %d %s", httpRes.StatusCode, http.StatusText(httpRes.StatusCode))
	}
}
