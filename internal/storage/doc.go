// Package storage is taskbot's record store.
//
// One *sql.DB is opened per process (SQLite by default, Postgres optionally)
// and shared by every Repository. Repositories are generic over the record
// type and driven by a Schema: every filter and patch is validated against the
// schema's closed column set before any SQL is built, and all writes run in a
// transaction that commits on success and rolls back on any failure.
package storage
