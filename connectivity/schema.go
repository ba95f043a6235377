package connectivity

import (
	"context"
	"database/sql"
)

// Schema defines the routes table. A missing row means "local".
//
// Strategies:
//   - "local": in-process handler registered via RegisterLocal.
//   - "http":  POST to a remote seltrust instance.
//   - "noop":  succeed without doing anything.
//
// Watch hashes the rows, so any insert, update or delete is picked up.
const Schema = `
CREATE TABLE IF NOT EXISTS routes (
    service_name TEXT PRIMARY KEY,
    strategy     TEXT NOT NULL CHECK(strategy IN ('local', 'http', 'noop')),
    endpoint     TEXT,
    config       TEXT DEFAULT '{}',
    updated_at   INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
);
`

// Init creates the routes table if it doesn't exist.
func Init(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, Schema)
	return err
}
