// Package migrations embeds the SQL schema shared by the SQLite and Postgres
// stores.
package migrations

import "embed"

// FS contains all SQL migration files embedded at compile time.
//
//go:embed *.sql
var FS embed.FS
