// Package sqlite embeds the SQLite ledger schema for goose.
package sqlite

import "embed"

//go:embed *.sql
var FS embed.FS
