// Package dockerx builds Docker API clients for worker host endpoints.
package dockerx

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/docker/docker/client"
)

// NewClient opens a Docker client against an endpoint. Accepted forms are a
// unix socket path (with or without the unix:// scheme) and a tcp:// URL.
func NewClient(endpoint string) (*client.Client, error) {
	host := endpoint
	if !strings.Contains(host, "://") {
		host = "unix://" + host
	}

	cli, err := client.NewClientWithOpts(
		client.WithHost(host),
		client.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client for %s: %w", host, err)
	}
	return cli, nil
}

// Ping issues a bounded ping against the endpoint and closes the client.
func Ping(ctx context.Context, endpoint string, timeout time.Duration) error {
	cli, err := NewClient(endpoint)
	if err != nil {
		return err
	}
	defer cli.Close()

	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if _, err := cli.Ping(pingCtx); err != nil {
		return fmt.Errorf("docker ping failed: %w", err)
	}
	return nil
}
