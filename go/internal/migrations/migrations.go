// Package migrations embeds the schema for the Postgres store and the
// change relay.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
