package network

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"net"
	"time"

	"github.com/banshee-data/tracklink/internal/monitoring"
)

// Dial connects to a transport, retrying with exponential backoff between
// minBackoff and maxBackoff until ctx ends.
func Dial(ctx context.Context, addr string, minBackoff, maxBackoff time.Duration) (net.Conn, error) {
	var d net.Dialer
	backoff := minBackoff
	if backoff <= 0 {
		backoff = 10 * time.Millisecond
	}
	for attempt := 1; ; attempt++ {
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err == nil {
			return conn, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if attempt == 1 || attempt%10 == 0 {
			monitoring.Logf("[Dial] %s failed (attempt %d): %v", addr, attempt, err)
		}

		t := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// VideoClient reads frames from a VideoServer.
type VideoClient struct {
	conn net.Conn
	r    *bufio.Reader
}

// DialVideo connects to the video server at addr.
func DialVideo(ctx context.Context, addr string) (*VideoClient, error) {
	conn, err := Dial(ctx, addr, 500*time.Millisecond, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to video server: %w", err)
	}
	return NewVideoClient(conn), nil
}

// NewVideoClient wraps an established connection.
func NewVideoClient(conn net.Conn) *VideoClient {
	return &VideoClient{conn: conn, r: bufio.NewReaderSize(conn, 64*1024)}
}

// Next returns the next JPEG payload. io.EOF means the server closed the
// stream cleanly.
func (c *VideoClient) Next() ([]byte, error) {
	return ReadFrame(c.r)
}

// NextImage decodes the next frame.
func (c *VideoClient) NextImage() (image.Image, error) {
	payload, err := c.Next()
	if err != nil {
		return nil, err
	}
	img, err := jpeg.Decode(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to decode frame: %w", err)
	}
	return img, nil
}

// Close closes the connection, unblocking a pending Next.
func (c *VideoClient) Close() error {
	return c.conn.Close()
}
