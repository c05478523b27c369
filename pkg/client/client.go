// Package client is the Go client library for the engine's HTTP and
// WebSocket API. The CLI and the benchmark tool are built on it.
//
//   - PlaceOrder: POST   /v1/orders — place a limit order
//   - CancelOrder: DELETE /v1/orders — cancel a resting order
//   - Depth:       GET    /v1/depth  — aggregated book levels
//   - Stream:      GET    /ws        — live market-data frames
//
// Requests are automatically retried on 5xx responses.
package client

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"velocity/internal/api"
)

// Client talks to a running engine over HTTP.
type Client struct {
	http *resty.Client
}

// New creates a client for the engine at baseURL, e.g. "http://localhost:8080".
func New(baseURL string) *Client {
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(100 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json")

	return &Client{http: httpClient}
}

// PlaceOrder submits a limit order and returns the classified result.
func (c *Client) PlaceOrder(ctx context.Context, req api.PlaceOrderRequest) (*api.PlaceOrderResponse, error) {
	var result api.PlaceOrderResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&result).
		Post("/v1/orders")
	if err != nil {
		return nil, fmt.Errorf("place order: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("place order: status %d: %s", resp.StatusCode(), resp.String())
	}
	return &result, nil
}

// CancelOrder cancels a resting order. Success=false means the order was
// unknown, already gone, or owned by someone else.
func (c *Client) CancelOrder(ctx context.Context, req api.CancelOrderRequest) (*api.CancelOrderResponse, error) {
	var result api.CancelOrderResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&result).
		Delete("/v1/orders")
	if err != nil {
		return nil, fmt.Errorf("cancel order: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("cancel order: status %d: %s", resp.StatusCode(), resp.String())
	}
	return &result, nil
}

// Depth fetches up to limit aggregated levels per side.
func (c *Client) Depth(ctx context.Context, limit int) (*api.DepthResponse, error) {
	var result api.DepthResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("limit", fmt.Sprintf("%d", limit)).
		SetResult(&result).
		Get("/v1/depth")
	if err != nil {
		return nil, fmt.Errorf("get depth: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("get depth: status %d: %s", resp.StatusCode(), resp.String())
	}
	return &result, nil
}
