// Package migrations embeds the Postgres schema for the remote record store
// and the balance change journal.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
