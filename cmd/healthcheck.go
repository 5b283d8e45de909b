package cmd

import (
	"fmt"
	"net/http"
	"time"

	"github.com/urfave/cli/v2"
)

// HealthCheckCommand probes the local API process. Used as the container
// health check in deployments.
var HealthCheckCommand = &cli.Command{
	Name:  "healthcheck",
	Usage: "Check the local API server's health endpoint",
	Flags: []cli.Flag{
		&cli.IntFlag{
			Name:    "port",
			Value:   6080,
			Usage:   "Port the API server listens on",
			EnvVars: []string{"CYBERBRAIN_PORT", "PORT"},
		},
	},
	Action: func(ctx *cli.Context) error {
		client := &http.Client{Timeout: 5 * time.Second}
		resp, err := client.Get(fmt.Sprintf("http://127.0.0.1:%d/api/v1/health", ctx.Int("port")))
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("health endpoint returned %d", resp.StatusCode)
		}
		return nil
	},
}
