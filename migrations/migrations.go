// Package migrations embeds the SQL schema migrations so the migrator can
// apply them regardless of working directory.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
