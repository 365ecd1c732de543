// Package fetch is the outbound HTTP client used for image URLs and the
// inference server. It wraps httpkit so that a zero retry count really means a
// single attempt and a zero timeout means no deadline.
package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shouni/go-http-kit/pkg/httpkit"
	"github.com/shouni/netarmor/securenet"
)

type Options struct {
	// Timeout bounds a whole request; zero means no timeout.
	Timeout time.Duration
	// Retries is the number of extra attempts on network errors and 5xx responses.
	Retries       uint64
	RetryInterval time.Duration
	// AllowPrivate disables SSRF validation so loopback and private hosts can be reached.
	AllowPrivate bool
}

type Client struct {
	http         *httpkit.Client
	retries      uint64
	allowPrivate bool
}

func New(opts Options) *Client {
	var doer httpkit.Doer
	if opts.AllowPrivate {
		doer = &http.Client{Timeout: opts.Timeout}
	} else {
		doer = securenet.NewSafeHTTPClient(opts.Timeout)
	}

	options := []httpkit.ClientOption{
		httpkit.WithHTTPClient(doer),
		httpkit.WithSkipNetworkValidation(opts.AllowPrivate),
		httpkit.WithMaxRetries(opts.Retries),
	}
	if opts.RetryInterval > 0 {
		options = append(options, httpkit.WithInitialInterval(opts.RetryInterval))
	}

	return &Client{
		http:         httpkit.New(opts.Timeout, options...),
		retries:      opts.Retries,
		allowPrivate: opts.AllowPrivate,
	}
}

// Get returns the body of a 2xx response.
func (c *Client) Get(ctx context.Context, url string) ([]byte, error) {
	if c.retries > 0 {
		return c.http.FetchBytes(ctx, url)
	}

	req, err := c.newRequest(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return c.once(req)
}

func (c *Client) GetJSON(ctx context.Context, url string, v any) error {
	body, err := c.Get(ctx, url)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decode response from %s: %w", url, err)
	}
	return nil
}

// PostJSON sends v as a JSON body and returns the body of a 2xx response.
func (c *Client) PostJSON(ctx context.Context, url string, v any) ([]byte, error) {
	if c.retries > 0 {
		return c.http.PostJSONAndFetchBytes(ctx, url, v)
	}

	payload, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode request body: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.once(req)
}

// Post makes a single attempt and returns the response whatever its status.
// The caller closes the body.
func (c *Client) Post(ctx context.Context, url, contentType string, body io.Reader) (*http.Response, error) {
	req, err := c.newRequest(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Redacted(), err)
	}
	return resp, nil
}

func (c *Client) newRequest(ctx context.Context, method, url string, body io.Reader) (*http.Request, error) {
	if !c.allowPrivate {
		if ok, err := c.http.IsSafeURL(url); !ok {
			if err == nil {
				err = errors.New("blocked by network policy")
			}
			return nil, fmt.Errorf("unsafe url %s: %w", url, err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", httpkit.UserAgent)
	return req, nil
}

func (c *Client) once(req *http.Request) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Redacted(), err)
	}
	return httpkit.HandleResponse(resp)
}

// StatusCode reports the HTTP status carried by a 4xx error from this package.
func StatusCode(err error) (int, bool) {
	var httpErr *httpkit.NonRetryableHTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode, true
	}
	return 0, false
}
