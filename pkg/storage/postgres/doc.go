// Package postgres implements the event and metric stores on PostgreSQL
// (lib/pq), with read replicas for queries and a two-level query cache
// (in-process LRU plus Redis) in front of the metric store.
package postgres
