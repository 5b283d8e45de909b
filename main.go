package main

import (
	"os"

	"github.com/catalystcommunity/app-utils-go/logging"
	"github.com/malgorath/cyberbrain/cmd"
	"github.com/malgorath/cyberbrain/internal/config"
	"github.com/malgorath/cyberbrain/internal/redact"
	"github.com/urfave/cli/v2"
)

func main() {
	if config.DebugRedactedMode {
		redact.Install(logging.Log)
	}

	app := &cli.App{
		Name:  "cyberbrain",
		Usage: "Self-hosted task orchestrator",
		Commands: []*cli.Command{
			cmd.ServeCommand,
			cmd.SchedulerCommand,
			cmd.MigrateCommand,
			cmd.HealthCheckCommand,
		},
	}
	err := app.Run(os.Args)
	if err != nil {
		// log fatal so we exit with the proper exit code, this is important for containerized deployment health checks
		logging.Log.WithError(err).Fatal("runtime error")
	}
}
