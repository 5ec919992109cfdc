// Package analytics implements the SQL analytics target on database/sql.
//
// Two drivers are supported: "sqlite" (modernc.org/sqlite, embedded) and
// "pgx" (jackc/pgx/v5, PostgreSQL). Statements are written with "?"
// placeholders and rebound for the driver; values are always passed as
// parameters.
//
// The store is not ready until Bootstrap has created the chunk table once.
// Writes to a store that is not ready return an Unavailable result.
package analytics
