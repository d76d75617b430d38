package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/mitchellh/go-homedir"
	"github.com/phinze/arkade/pkg/config"
	"github.com/phinze/arkade/pkg/protocol"
)

// loadConfig loads and validates the configuration named by --config.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func getSocketPath() (string, error) {
	if socketPath != "" {
		expanded, err := homedir.Expand(socketPath)
		if err != nil {
			return "", fmt.Errorf("failed to expand socket path: %w", err)
		}
		return expanded, nil
	}

	cfg, err := loadConfig()
	if err != nil {
		return "", err
	}
	return cfg.Socket, nil
}

func sendRequest(req *protocol.Request) (*protocol.Response, error) {
	sockPath, err := getSocketPath()
	if err != nil {
		return nil, err
	}

	if verbose {
		reqData, _ := json.Marshal(req)
		fmt.Fprintf(os.Stderr, "Sending request: %s\n", string(reqData))
	}

	client := &protocol.Client{SocketPath: sockPath}
	resp, err := client.SendRequest(req)
	if err != nil {
		return nil, err
	}

	if verbose {
		respData, _ := json.Marshal(resp)
		fmt.Fprintf(os.Stderr, "Received response: %s\n", string(respData))
	}

	return resp, nil
}
