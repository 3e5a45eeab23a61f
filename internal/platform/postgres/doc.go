// Package postgres provides PostgreSQL implementations of the task store and
// the work queue, the error mapping shared by both, and the embedded goose
// migrations that create their tables.
package postgres
