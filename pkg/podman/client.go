// Package podman is a minimal client for the libpod REST API served on a
// Unix domain socket.
package podman

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

// engineComponent is the /version component carrying the libpod API range.
const engineComponent = "Podman Engine"

// Client talks to a Podman service over its Unix socket.
type Client struct {
	socketPath string
	http       *http.Client
	apiPrefix  string
	logger     *slog.Logger
}

// APIError is a non-2xx response from the libpod API.
type APIError struct {
	Status  int
	Message string
	Cause   string
}

func (e *APIError) Error() string {
	if e.Cause != "" && !strings.Contains(e.Message, e.Cause) {
		return fmt.Sprintf("podman API error %d: %s: %s", e.Status, e.Message, e.Cause)
	}
	return fmt.Sprintf("podman API error %d: %s", e.Status, e.Message)
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

// DefaultSocketPath returns the rootless socket for the current user, or the
// system socket when running as root.
func DefaultSocketPath() string {
	uid := os.Geteuid()
	if uid == 0 {
		return "/run/podman/podman.sock"
	}
	return fmt.Sprintf("/run/user/%d/podman/podman.sock", uid)
}

// New connects to the service at socketPath (DefaultSocketPath when empty)
// and resolves the API version prefix used for every later request.
func New(ctx context.Context, socketPath string, logger *slog.Logger) (*Client, error) {
	if socketPath == "" {
		socketPath = DefaultSocketPath()
	}
	if logger == nil {
		logger = slog.Default()
	}

	c := &Client{
		socketPath: socketPath,
		logger:     logger,
		http: &http.Client{
			Timeout: 2 * time.Minute,
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
					var d net.Dialer
					return d.DialContext(ctx, "unix", socketPath)
				},
				MaxIdleConns:    4,
				IdleConnTimeout: 30 * time.Second,
			},
		},
	}

	version, err := c.resolveVersion(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query podman version at %s: %w", socketPath, err)
	}
	c.apiPrefix = "/v" + version

	logger.Debug("Connected to podman", "socket", socketPath, "api", c.apiPrefix)
	return c, nil
}

// APIPrefix returns the resolved version prefix, e.g. "/v4.0.0".
func (c *Client) APIPrefix() string {
	return c.apiPrefix
}

// SocketPath returns the socket the client dials.
func (c *Client) SocketPath() string {
	return c.socketPath
}

type versionResponse struct {
	Version    string `json:"Version"`
	Components []struct {
		Name    string `json:"Name"`
		Version string `json:"Version"`
		Details struct {
			APIVersion    string `json:"APIVersion"`
			MinAPIVersion string `json:"MinAPIVersion"`
		} `json:"Details"`
	} `json:"Components"`
}

func (c *Client) resolveVersion(ctx context.Context) (string, error) {
	var info versionResponse
	if err := c.do(ctx, http.MethodGet, "/version", nil, &info); err != nil {
		return "", err
	}

	for _, comp := range info.Components {
		if comp.Name != engineComponent {
			continue
		}
		if comp.Details.MinAPIVersion != "" {
			return comp.Details.MinAPIVersion, nil
		}
		if comp.Version != "" {
			return comp.Version, nil
		}
	}
	if info.Version != "" {
		return info.Version, nil
	}
	return "", fmt.Errorf("no %q component in version response", engineComponent)
}

// Ping checks that the service answers.
func (c *Client) Ping(ctx context.Context) error {
	var body bytes.Buffer
	if err := c.do(ctx, http.MethodGet, c.apiPrefix+"/libpod/_ping", nil, &body); err != nil {
		return err
	}
	if got := strings.TrimSpace(body.String()); got != "OK" {
		return fmt.Errorf("unexpected ping response %q", got)
	}
	return nil
}

type createRequest struct {
	Image    string `json:"image"`
	Name     string `json:"name,omitempty"`
	Stdin    bool   `json:"stdin"`
	Terminal bool   `json:"terminal"`
}

type createResponse struct {
	ID       string   `json:"Id"`
	Warnings []string `json:"Warnings"`
}

// CreateContainer creates (but does not start) a container from image and
// returns its ID.
func (c *Client) CreateContainer(ctx context.Context, name, image string) (string, error) {
	req := createRequest{Image: image, Name: name, Stdin: true, Terminal: true}

	var resp createResponse
	if err := c.do(ctx, http.MethodPost, c.apiPrefix+"/libpod/containers/create", req, &resp); err != nil {
		return "", fmt.Errorf("create container %s: %w", name, err)
	}
	for _, w := range resp.Warnings {
		c.logger.Warn("Podman create warning", "container", name, "warning", w)
	}
	return resp.ID, nil
}

// StartContainer starts a container. Starting a running container is not an
// error.
func (c *Client) StartContainer(ctx context.Context, name string) error {
	path := c.apiPrefix + "/libpod/containers/" + url.PathEscape(name) + "/start"
	if err := c.do(ctx, http.MethodPost, path, nil, nil); err != nil {
		return fmt.Errorf("start container %s: %w", name, err)
	}
	return nil
}

// StopContainer stops a container. Stopping a stopped container is not an
// error.
func (c *Client) StopContainer(ctx context.Context, name string) error {
	path := c.apiPrefix + "/libpod/containers/" + url.PathEscape(name) + "/stop"
	if err := c.do(ctx, http.MethodPost, path, nil, nil); err != nil {
		return fmt.Errorf("stop container %s: %w", name, err)
	}
	return nil
}

// DeleteContainer removes a container, killing it first when force is set.
func (c *Client) DeleteContainer(ctx context.Context, name string, force bool) error {
	q := url.Values{}
	q.Set("force", fmt.Sprintf("%t", force))
	path := c.apiPrefix + "/libpod/containers/" + url.PathEscape(name) + "?" + q.Encode()
	if err := c.do(ctx, http.MethodDelete, path, nil, nil); err != nil {
		return fmt.Errorf("delete container %s: %w", name, err)
	}
	return nil
}

// ContainerExists reports whether a container with name exists.
func (c *Client) ContainerExists(ctx context.Context, name string) (bool, error) {
	path := c.apiPrefix + "/libpod/containers/" + url.PathEscape(name) + "/exists"
	err := c.do(ctx, http.MethodGet, path, nil, nil)
	switch {
	case err == nil:
		return true, nil
	case IsNotFound(err):
		return false, nil
	default:
		return false, fmt.Errorf("check container %s: %w", name, err)
	}
}

type inspectResponse struct {
	State struct {
		Status  string `json:"Status"`
		Running bool   `json:"Running"`
	} `json:"State"`
}

// ContainerRunning reports whether the container is running. A missing
// container is reported as not running.
func (c *Client) ContainerRunning(ctx context.Context, name string) (bool, error) {
	path := c.apiPrefix + "/libpod/containers/" + url.PathEscape(name) + "/json"

	var resp inspectResponse
	err := c.do(ctx, http.MethodGet, path, nil, &resp)
	switch {
	case err == nil:
		return resp.State.Running, nil
	case IsNotFound(err):
		return false, nil
	default:
		return false, fmt.Errorf("inspect container %s: %w", name, err)
	}
}

// do sends a request with an optional JSON body and decodes the response
// into out: *bytes.Buffer receives the raw body, anything else is decoded as
// JSON. 304 Not Modified counts as success.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, "http://d"+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	c.logger.Debug("Podman request", "method", method, "path", path, "status", resp.StatusCode)

	if resp.StatusCode == http.StatusNotModified {
		return nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}

	switch dst := out.(type) {
	case nil:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	case *bytes.Buffer:
		_, err := dst.ReadFrom(resp.Body)
		return err
	default:
		if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
		return nil
	}
}

func decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	var body struct {
		Cause   string `json:"cause"`
		Message string `json:"message"`
	}
	apiErr := &APIError{Status: resp.StatusCode}
	if err := json.Unmarshal(data, &body); err == nil && body.Message != "" {
		apiErr.Message = body.Message
		apiErr.Cause = body.Cause
	} else {
		apiErr.Message = strings.TrimSpace(string(data))
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
	}
	return apiErr
}
