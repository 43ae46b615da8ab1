// Package storage persists registered clients and offer confirmations.
//
// Drivers:
//   - sqlite: a single database file (default), WAL mode, one writer
//   - postgres: a pgx connection pool
//   - memory: process-local, for tests and dry runs
package storage
