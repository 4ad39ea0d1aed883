// Package migrations embeds the numbered PostgreSQL migration files applied
// by "medqueue-server migrate up".
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
