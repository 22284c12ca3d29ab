package ipc

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"time"
)

// Client is a consumer of the daemon's socket, used by CLI commands.
type Client struct {
	conn    net.Conn
	scanner *bufio.Scanner
}

// Dial connects to the daemon socket.
func Dial(path string, timeout time.Duration) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, timeout)
	if err != nil {
		return nil, fmt.Errorf("connect to daemon at %s: %w", path, err)
	}
	scanner := bufio.NewScanner(conn)
	buf := make([]byte, 64*1024)
	scanner.Buffer(buf, 4*1024*1024)
	return &Client{conn: conn, scanner: scanner}, nil
}

// Send writes one command.
func (c *Client) Send(cmd *Command) error {
	data, err := Encode(cmd)
	if err != nil {
		return err
	}
	if _, err := c.conn.Write(data); err != nil {
		return fmt.Errorf("send ipc command: %w", err)
	}
	return nil
}

// Next blocks for the next event.
func (c *Client) Next() (*Event, error) {
	for c.scanner.Scan() {
		line := c.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		return DecodeEvent(line)
	}
	if err := c.scanner.Err(); err != nil {
		return nil, fmt.Errorf("read ipc event: %w", err)
	}
	return nil, fmt.Errorf("daemon closed the connection")
}

// WaitFor reads events until one matches the type (and request id when set)
// or the context expires.
func (c *Client) WaitFor(ctx context.Context, eventType, requestID string) (*Event, error) {
	if deadline, ok := ctx.Deadline(); ok {
		c.conn.SetReadDeadline(deadline)
		defer c.conn.SetReadDeadline(time.Time{})
	}
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ev, err := c.Next()
		if err != nil {
			return nil, err
		}
		if ev.Type == EventError && requestID != "" && ev.RequestID == requestID {
			return nil, fmt.Errorf("daemon error: %s", ev.Error)
		}
		if ev.Type != eventType {
			continue
		}
		if requestID != "" && ev.RequestID != requestID {
			continue
		}
		return ev, nil
	}
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
