// Package dockerapi is a narrow wrapper around the Docker daemon SDK,
// scoped to the single read-only operation that isn't a compose-lifecycle
// verb: getDockerNetworkList (spec §6). All stack lifecycle mutation goes
// through the Compose CLI (internal/compose), never this client — per
// spec §1 Non-goals ("Direct Docker-daemon API access").
package dockerapi

import (
	"context"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/client"
)

// Client wraps the Docker SDK client, connected via the environment the
// same way the daemon-facing Compose subprocess is.
type Client struct {
	api *client.Client
}

// NewClient connects using the ambient DOCKER_HOST / default socket. It
// pings the daemon once; callers should treat a connect failure as
// non-fatal (spec §5 component design note: this is an optional
// collaborator, not a scheduling dependency — compose-CLI-only operation
// continues if the daemon socket can't be reached at startup).
func NewClient() (*Client, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := cli.Ping(ctx); err != nil {
		_ = cli.Close()
		return nil, err
	}
	return &Client{api: cli}, nil
}

func (c *Client) Close() error {
	if c == nil || c.api == nil {
		return nil
	}
	return c.api.Close()
}

// NetworkSummary is the shape returned to getDockerNetworkList callers.
type NetworkSummary struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Driver string `json:"driver"`
	Scope  string `json:"scope"`
}

// ListNetworks lists Docker networks visible on the daemon.
func (c *Client) ListNetworks(ctx context.Context) ([]NetworkSummary, error) {
	networks, err := c.api.NetworkList(ctx, types.NetworkListOptions{})
	if err != nil {
		return nil, err
	}
	out := make([]NetworkSummary, 0, len(networks))
	for _, n := range networks {
		out = append(out, NetworkSummary{ID: n.ID, Name: n.Name, Driver: n.Driver, Scope: n.Scope})
	}
	return out, nil
}
