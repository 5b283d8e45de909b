// Package migrations embeds the goose SQL migrations for the orchestrator
// schema.
package migrations

import "embed"

//go:embed migrations/*.sql
var Migrations embed.FS
