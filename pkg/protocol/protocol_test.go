package protocol

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/phinze/arkade/pkg/ports"
	"github.com/phinze/arkade/pkg/watcher"
)

func TestParseRequest(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    *Request
		wantErr bool
	}{
		{
			name:  "status request without payload",
			input: `{"id": "test-123", "type": "status"}`,
			want:  &Request{ID: "test-123", Type: CommandStatus},
		},
		{
			name: "watch request",
			input: `{
				"id": "test-456",
				"type": "watch",
				"payload": {"ports": ["25565/tcp", "34197/udp"]}
			}`,
			want: &Request{
				ID:      "test-456",
				Type:    CommandWatch,
				Payload: json.RawMessage(`{"ports": ["25565/tcp", "34197/udp"]}`),
			},
		},
		{
			name:    "invalid json",
			input:   `{invalid json}`,
			wantErr: true,
		},
		{
			name:    "empty input",
			input:   ``,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRequest([]byte(tt.input))
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseRequest() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr {
				if got.ID != tt.want.ID {
					t.Errorf("ParseRequest() ID = %v, want %v", got.ID, tt.want.ID)
				}
				if got.Type != tt.want.Type {
					t.Errorf("ParseRequest() Type = %v, want %v", got.Type, tt.want.Type)
				}
				if string(got.Payload) != string(tt.want.Payload) {
					t.Errorf("ParseRequest() Payload = %s, want %s", got.Payload, tt.want.Payload)
				}
			}
		})
	}
}

func TestMarshalResponse(t *testing.T) {
	tests := []struct {
		name string
		resp *Response
	}{
		{
			name: "success response with data",
			resp: &Response{
				ID:      "test-123",
				Success: true,
				Data:    json.RawMessage(`{"ports": ["80/tcp"]}`),
			},
		},
		{
			name: "error response",
			resp: &Response{
				ID:      "test-456",
				Success: false,
				Error:   "something went wrong",
			},
		},
		{
			name: "minimal response",
			resp: &Response{
				ID:      "test-789",
				Success: true,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MarshalResponse(tt.resp)
			if err != nil {
				t.Fatalf("MarshalResponse() error = %v", err)
			}
			if strings.Contains(string(got), "\n") {
				t.Errorf("MarshalResponse() output spans lines: %s", got)
			}

			var parsed Response
			if err := json.Unmarshal(got, &parsed); err != nil {
				t.Fatalf("MarshalResponse() returned invalid JSON: %v", err)
			}
			if parsed.ID != tt.resp.ID {
				t.Errorf("MarshalResponse() ID = %v, want %v", parsed.ID, tt.resp.ID)
			}
			if parsed.Success != tt.resp.Success {
				t.Errorf("MarshalResponse() Success = %v, want %v", parsed.Success, tt.resp.Success)
			}
		})
	}
}

func TestNewErrorResponse(t *testing.T) {
	resp := NewErrorResponse("test-id", errors.New("test error"))

	if resp.ID != "test-id" {
		t.Errorf("NewErrorResponse() ID = %v, want %v", resp.ID, "test-id")
	}
	if resp.Success {
		t.Errorf("NewErrorResponse() Success = true")
	}
	if resp.Error != "test error" {
		t.Errorf("NewErrorResponse() Error = %v, want %v", resp.Error, "test error")
	}
}

func TestNewSuccessResponse(t *testing.T) {
	status := StatusResponse{
		Version:   "1.0.0",
		Uptime:    "1h",
		Interface: "eth0",
		Window:    "5s",
		Running:   true,
		Watched:   2,
		Stats:     watcher.Stats{Frames: 10, Events: 2},
	}

	resp, err := NewSuccessResponse("test-2", status)
	if err != nil {
		t.Fatalf("NewSuccessResponse() error = %v", err)
	}
	if resp.ID != "test-2" || !resp.Success {
		t.Errorf("NewSuccessResponse() = %+v", resp)
	}

	var got StatusResponse
	if err := json.Unmarshal(resp.Data, &got); err != nil {
		t.Fatalf("failed to decode status: %v", err)
	}
	if diff := cmp.Diff(status, got); diff != "" {
		t.Errorf("status mismatch (-want +got):\n%s", diff)
	}

	if _, err := NewSuccessResponse("test-3", func() {}); err == nil {
		t.Error("NewSuccessResponse() with unmarshalable data should fail")
	}
}

func TestPortsRequest(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    []ports.Descriptor
		wantErr bool
	}{
		{
			name:    "separate entries",
			payload: `{"ports": ["25565/tcp", "34197/udp"]}`,
			want:    []ports.Descriptor{ports.TCPPort(25565), ports.UDPPort(34197)},
		},
		{
			name:    "comma list in one entry",
			payload: `{"ports": ["80/tcp, 443/tcp"]}`,
			want:    []ports.Descriptor{ports.TCPPort(80), ports.TCPPort(443)},
		},
		{
			name:    "empty",
			payload: `{"ports": []}`,
			wantErr: true,
		},
		{
			name:    "bad protocol",
			payload: `{"ports": ["53/icmp"]}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var req PortsRequest
			if err := json.Unmarshal([]byte(tt.payload), &req); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			got, err := req.Descriptors()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Descriptors() error = %v, wantErr %v", err, tt.wantErr)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Descriptors() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestNewPortsRequest(t *testing.T) {
	ds := []ports.Descriptor{ports.TCPPort(8080), ports.UDPPort(53)}
	req, err := NewPortsRequest("req-1", CommandUnwatch, ds)
	if err != nil {
		t.Fatalf("NewPortsRequest() error = %v", err)
	}
	if req.Type != CommandUnwatch || req.ID != "req-1" {
		t.Errorf("NewPortsRequest() = %+v", req)
	}

	var payload PortsRequest
	if err := json.Unmarshal(req.Payload, &payload); err != nil {
		t.Fatal(err)
	}
	got, err := payload.Descriptors()
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(ds, got); diff != "" {
		t.Errorf("payload mismatch (-want +got):\n%s", diff)
	}
}
