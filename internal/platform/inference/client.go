// Package inference calls the external X-ray prediction service.
package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

var (
	ErrEmptyResponse = errors.New("inference service returned an empty response")
	ErrUpstream      = errors.New("inference service call failed")
)

// maxResponseBytes bounds how much of a response body is read.
const maxResponseBytes = 4 << 20

type Config struct {
	URL            string
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
}

type Option func(*Client)

// WithTransport replaces the HTTP transport, mainly for tests.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) { c.http.Transport = rt }
}

// Client makes exactly one attempt per Predict call.
type Client struct {
	url  string
	http *http.Client
}

func NewClient(cfg Config, opts ...Option) *Client {
	dialer := &net.Dialer{Timeout: cfg.ConnectTimeout, KeepAlive: 30 * time.Second}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   cfg.ConnectTimeout,
		ResponseHeaderTimeout: cfg.ReadTimeout,
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       90 * time.Second,
	}

	c := &Client{
		url: cfg.URL,
		http: &http.Client{
			Transport: transport,
			Timeout:   cfg.ConnectTimeout + cfg.ReadTimeout,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type predictRequest struct {
	ImageURL string `json:"imageUrl"`
}

// Predict posts the image URL and decodes the response. Transport errors,
// non-2xx statuses and undecodable bodies wrap ErrUpstream; a blank or null
// body is ErrEmptyResponse.
func (c *Client) Predict(ctx context.Context, imageURL string) (*RawPrediction, error) {
	payload, err := json.Marshal(predictRequest{ImageURL: imageURL})
	if err != nil {
		return nil, fmt.Errorf("%w: encode request: %w", ErrUpstream, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %w", ErrUpstream, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUpstream, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", ErrUpstream, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: status %d: %s", ErrUpstream, resp.StatusCode, snippet(body))
	}

	pred, err := Decode(body)
	if err != nil {
		if errors.Is(err, ErrEmptyResponse) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrUpstream, err)
	}
	return pred, nil
}

func snippet(b []byte) string {
	const max = 256
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
