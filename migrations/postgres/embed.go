// Package migrations embeds the Postgres schema migrations.
package migrations

import "embed"

// FS contains the ordered *_up.sql and *_down.sql files.
//
//go:embed sql/*.sql
var FS embed.FS

// Dir is the directory within FS where migrations live.
const Dir = "sql"
