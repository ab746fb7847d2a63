package http

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/bft-labs/localnet/internal/domain"
	"github.com/bft-labs/localnet/internal/ports"
	"github.com/bft-labs/localnet/internal/supervisor"
)

// baseURL is a placeholder host; the transport always dials the socket.
const baseURL = "http://localnet"

// ControlClient talks to a running supervisor's control socket.
type ControlClient struct {
	client ports.HTTPClient
}

// NewControlClient creates a client using an injected HTTP client.
func NewControlClient(client ports.HTTPClient) *ControlClient {
	return &ControlClient{client: client}
}

// NewUnixControlClient creates a client dialing the unix socket at path.
func NewUnixControlClient(path string) *ControlClient {
	var d net.Dialer
	return NewControlClient(&http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				return d.DialContext(ctx, "unix", path)
			},
		},
	})
}

// Status returns every process snapshot.
func (c *ControlClient) Status(ctx context.Context) ([]domain.ProcessInfo, error) {
	var out []domain.ProcessInfo
	if err := c.do(ctx, http.MethodGet, supervisor.PathStatus, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Action runs start, stop, restart or terminate on name ("all" for stop and
// terminate) and returns the resulting snapshots.
func (c *ControlClient) Action(ctx context.Context, action, name string) ([]domain.ProcessInfo, error) {
	path := strings.NewReplacer("{name}", name, "{action}", action).Replace(supervisor.PathProcessAction)
	var out []domain.ProcessInfo
	if err := c.do(ctx, http.MethodPost, path, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Shutdown asks the supervisor to stop the whole group.
func (c *ControlClient) Shutdown(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, supervisor.PathShutdown, nil)
}

func (c *ControlClient) do(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		var er supervisor.ErrorResponse
		body, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(body, &er) == nil && er.Error != "" {
			if resp.StatusCode == http.StatusNotFound {
				return fmt.Errorf("%w: %s", domain.ErrUnknownProcess, er.Error)
			}
			return fmt.Errorf("supervisor returned %d: %s", resp.StatusCode, er.Error)
		}
		return fmt.Errorf("supervisor returned %d: %s", resp.StatusCode, string(body))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
