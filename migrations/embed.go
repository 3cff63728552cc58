// Package migrations embeds the relay's SQL schema files so the binary
// can migrate its database without them on disk.
package migrations

import "embed"

// FS holds every *.sql file in this directory.
//
//go:embed *.sql
var FS embed.FS
