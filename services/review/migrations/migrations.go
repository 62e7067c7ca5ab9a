// Package migrations embeds the review service schema.
package migrations

import "embed"

// FS holds the *.up.sql files applied at startup in lexical order.
//
//go:embed *.sql
var FS embed.FS
