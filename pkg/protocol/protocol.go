package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/phinze/arkade/pkg/lifecycle"
	"github.com/phinze/arkade/pkg/ports"
	"github.com/phinze/arkade/pkg/watcher"
)

// CommandType represents the type of command
type CommandType string

const (
	// CommandStatus gets daemon status
	CommandStatus CommandType = "status"
	// CommandList lists watched ports
	CommandList CommandType = "list"
	// CommandWatch adds ports to the watched set
	CommandWatch CommandType = "watch"
	// CommandUnwatch removes ports from the watched set
	CommandUnwatch CommandType = "unwatch"
)

// Request represents a command request from client to daemon
type Request struct {
	ID      string          `json:"id"`                // Unique request ID
	Type    CommandType     `json:"type"`              // Command type
	Payload json.RawMessage `json:"payload,omitempty"` // Command-specific payload
}

// Response represents a response from daemon to client
type Response struct {
	ID      string          `json:"id"`              // Request ID this responds to
	Success bool            `json:"success"`         // Whether command succeeded
	Error   string          `json:"error,omitempty"` // Error message if failed
	Data    json.RawMessage `json:"data,omitempty"`  // Response data if succeeded
}

// PortsRequest carries port specs such as "25565/tcp" for watch and unwatch.
// Each entry may itself be a comma-separated list.
type PortsRequest struct {
	Ports []string `json:"ports"`
}

// StatusResponse represents daemon status
type StatusResponse struct {
	Version            string                      `json:"version"`
	Uptime             string                      `json:"uptime"`
	Interface          string                      `json:"interface"`
	Window             string                      `json:"window"`
	Running            bool                        `json:"running"`
	Watched            int                         `json:"watched"`
	Stats              watcher.Stats               `json:"stats"`
	Containers         []lifecycle.ContainerStatus `json:"containers,omitempty"`
	DroppedActivations uint64                      `json:"dropped_activations"`
	Podman             *PodmanStatus               `json:"podman,omitempty"`
}

// PodmanStatus describes the container runtime connection.
type PodmanStatus struct {
	Socket    string `json:"socket"`
	APIPrefix string `json:"api_prefix"`
}

// ListResponse represents the watched ports, TCP first, ports ascending
type ListResponse struct {
	Ports []string `json:"ports"`
}

// ParseRequest parses a JSON request
func ParseRequest(data []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("failed to parse request: %w", err)
	}
	return &req, nil
}

// Descriptors parses the payload of a watch or unwatch request.
func (r *PortsRequest) Descriptors() ([]ports.Descriptor, error) {
	if len(r.Ports) == 0 {
		return nil, errors.New("no ports given")
	}
	ds, err := ports.Parse(strings.Join(r.Ports, ","))
	if err != nil {
		return nil, err
	}
	return ds, nil
}

// NewPortsRequest builds a watch or unwatch request.
func NewPortsRequest(id string, typ CommandType, ds []ports.Descriptor) (*Request, error) {
	payload := PortsRequest{Ports: make([]string, len(ds))}
	for i, d := range ds {
		payload.Ports[i] = d.String()
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return &Request{ID: id, Type: typ, Payload: data}, nil
}

// MarshalResponse marshals a response to JSON
func MarshalResponse(resp *Response) ([]byte, error) {
	data, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal response: %w", err)
	}
	return data, nil
}

// NewErrorResponse creates an error response
func NewErrorResponse(id string, err error) *Response {
	return &Response{
		ID:      id,
		Success: false,
		Error:   err.Error(),
	}
}

// NewSuccessResponse creates a success response with data
func NewSuccessResponse(id string, data interface{}) (*Response, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal data: %w", err)
	}

	return &Response{
		ID:      id,
		Success: true,
		Data:    jsonData,
	}, nil
}
