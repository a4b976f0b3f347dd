package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"ChargeFit/internal/domain/models"
)

// Client subscribes to a fit stream.
type Client struct {
	conn         *websocket.Conn
	pingInterval time.Duration
}

// Dial connects to the stream endpoint at url (ws:// or wss://).
func Dial(ctx context.Context, url string, pingInterval time.Duration) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("stream connect: %w", err)
	}
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	return &Client{conn: conn, pingInterval: pingInterval}, nil
}

// Read streams records until ctx is done or the connection fails.
func (c *Client) Read(ctx context.Context) (<-chan models.FitRecord, <-chan error) {
	records := make(chan models.FitRecord, 256)
	errs := make(chan error, 1)

	go func() {
		ticker := time.NewTicker(c.pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				_ = c.conn.Close()
				return
			case <-ticker.C:
				_ = c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			}
		}
	}()

	go func() {
		defer close(records)
		defer close(errs)
		for {
			_, b, err := c.conn.ReadMessage()
			if err != nil {
				if ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
					errs <- fmt.Errorf("stream read: %w", err)
				}
				return
			}
			var rec models.FitRecord
			if err := json.Unmarshal(b, &rec); err != nil {
				continue
			}
			select {
			case records <- rec:
			case <-ctx.Done():
				return
			}
		}
	}()

	return records, errs
}

func (c *Client) Close() error {
	return c.conn.Close()
}
