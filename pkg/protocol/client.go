package protocol

import (
	"encoding/json"
	"fmt"
	"net"
	"time"
)

// DefaultTimeout bounds a whole request/response exchange.
const DefaultTimeout = 10 * time.Second

// Client sends requests to the daemon's control socket.
type Client struct {
	SocketPath string
	Timeout    time.Duration
}

// SendRequest writes req as one JSON line and reads one response.
func (c *Client) SendRequest(req *Request) (*Response, error) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	conn, err := net.DialTimeout("unix", c.SocketPath, timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to daemon: %w", err)
	}
	defer func() {
		_ = conn.Close()
	}()
	_ = conn.SetDeadline(time.Now().Add(timeout))

	reqData, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	reqData = append(reqData, '\n')

	if _, err := conn.Write(reqData); err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	var resp Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.ID != req.ID && resp.ID != "" {
		return nil, fmt.Errorf("response ID %s does not match request %s", resp.ID, req.ID)
	}
	return &resp, nil
}
