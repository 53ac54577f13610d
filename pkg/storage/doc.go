// Package storage holds storage configuration and the in-memory event and
// metric stores. The Postgres stores and the Redis-backed query cache live in
// pkg/storage/postgres.
package storage
