// Package migrations embeds the SQL schema files applied by the migrate
// subcommand and the integration test harness.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS

// Files lists the migrations in apply order.
var Files = []string{
	"001_create_tasks.sql",
	"002_create_directory.sql",
}
