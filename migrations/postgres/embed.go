// Package postgres embeds the PostgreSQL ledger schema for goose.
package postgres

import "embed"

//go:embed *.sql
var FS embed.FS
