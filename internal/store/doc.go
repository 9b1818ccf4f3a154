// Package store persists keyed state and the invocation journal in SQL.
//
// SQLite (modernc.org/sqlite, WAL mode) is the default; Postgres is used when
// store.driver is "postgres", through the pgx database/sql driver. Both share
// one schema and one set of queries; Postgres placeholders are rewritten at
// call time.
//
// Schema changes bump schemaVersion in schema.go. Opening a database written
// with a different version fails with ErrSchemaMismatch.
package store
