// Package migrations embeds the SQL schema so the binary can migrate a
// database regardless of its working directory.
package migrations

import "embed"

// FS holds every .sql file in this directory, applied in name order.
//
//go:embed *.sql
var FS embed.FS
