package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"

	"velocity/internal/api"
)

// Stream connects to the engine's market-data WebSocket and calls fn for
// every event frame until the context is cancelled, the connection drops,
// or fn returns an error. The server does not disconnect clients that
// cannot keep up; it drops their oldest frames and sends a "stream_lagged"
// frame carrying the number lost, which fn receives like any other frame.
func (c *Client) Stream(ctx context.Context, fn func(api.EventFrame) error) error {
	wsURL, err := streamURL(c.http.BaseURL)
	if err != nil {
		return err
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial stream: %w", err)
	}
	defer conn.Close()

	// Unblock ReadMessage when the context is cancelled.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read stream: %w", err)
		}

		var frame api.EventFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			return fmt.Errorf("decode frame: %w", err)
		}
		if err := fn(frame); err != nil {
			return err
		}
	}
}

func streamURL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	return u.String(), nil
}
