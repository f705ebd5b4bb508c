package telemetry

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

// Conn is an open connection to the telemetry endpoint.
type Conn interface {
	// WriteMessage sends one binary frame.
	WriteMessage(data []byte) error
	// ReadMessage blocks until a frame arrives or the connection ends.
	ReadMessage() ([]byte, error)
	Close() error
}

// DialFunc opens a connection to `endpoint`.
type DialFunc func(ctx context.Context, endpoint string) (Conn, error)

type websocketConn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
}

// WebsocketDialer dials websocket endpoints. Writes fail after writeTimeout.
func WebsocketDialer(writeTimeout time.Duration) DialFunc {
	return func(ctx context.Context, endpoint string) (Conn, error) {
		conn, resp, err := websocket.DefaultDialer.DialContext(ctx, endpoint, nil)
		if resp != nil && resp.Body != nil {
			//nolint:errcheck
			resp.Body.Close()
		}
		if err != nil {
			return nil, errors.Wrapf(err, "dialing %s", endpoint)
		}
		return &websocketConn{conn: conn, writeTimeout: writeTimeout}, nil
	}
}

func (c *websocketConn) WriteMessage(data []byte) error {
	if c.writeTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return err
		}
	}
	return c.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (c *websocketConn) ReadMessage() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	return data, err
}

func (c *websocketConn) Close() error {
	return c.conn.Close()
}
