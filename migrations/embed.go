// Package migrations embeds the goose SQL migration files applied to every
// school sync database at open time.
package migrations

import "embed"

// SchemaVersion is the schema version the embedded migrations bring a
// store to. Bump together with each new migration file; the latest
// migration writes the same value into sync_meta.
const SchemaVersion = 2

//go:embed *.sql
var FS embed.FS
