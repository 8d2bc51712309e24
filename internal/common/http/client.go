// internal/common/http/client.go
package http

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"advertiser-onboarding/internal/common/errors"
)

type Client struct {
	httpClient *http.Client
}

func NewClient(timeout time.Duration) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func (c *Client) Do(req *http.Request) (*http.Response, error) {
	return c.httpClient.Do(req)
}

func (c *Client) DoWithContext(ctx context.Context, req *http.Request) (*http.Response, error) {
	req = req.WithContext(ctx)
	return c.httpClient.Do(req)
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// DecodeJSON unmarshals the body into out. An empty body leaves out untouched.
func (r *Response) DecodeJSON(out interface{}) error {
	if len(bytes.TrimSpace(r.Body)) == 0 {
		return nil
	}
	return json.Unmarshal(r.Body, out)
}

// PostJSON sends payload as JSON and reads the whole response. Transport failures
// are returned as TIMEOUT_ERROR or NETWORK_ERROR tagged with service.
func (c *Client) PostJSON(ctx context.Context, service, url string, payload interface{}, headers map[string]string) (*Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s request: %w", service, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create %s request: %w", service, err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return c.Send(ctx, service, req)
}

// Send executes req and reads the body, classifying transport failures.
func (c *Client) Send(ctx context.Context, service string, req *http.Request) (*Response, error) {
	resp, err := c.DoWithContext(ctx, req)
	if err != nil {
		return nil, ClassifyTransportError(ctx, service, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, ClassifyTransportError(ctx, service, err)
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

// ClassifyTransportError maps a failed round trip to TIMEOUT_ERROR when a deadline
// expired and NETWORK_ERROR otherwise.
func ClassifyTransportError(ctx context.Context, service string, err error) error {
	if ctx.Err() == context.DeadlineExceeded {
		return errors.NewTimeoutError(service, err)
	}
	var netErr net.Error
	if stderrors.As(err, &netErr) && netErr.Timeout() {
		return errors.NewTimeoutError(service, err)
	}
	return errors.NewNetworkError(service, err)
}
