// Package postgres provides PostgreSQL implementations of the job and
// artifact stores defined in internal/store. It owns the schema migrations,
// the SQL for the atomic claim and fenced updates, and the mapping between
// rows and domain records.
package postgres
