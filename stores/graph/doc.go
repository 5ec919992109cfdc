// Package graph implements the property graph target.
//
// BadgerStore keeps vertices and edges in the shared BadgerDB under "graph:"
// keys and is the default. GormStore keeps them in two PostgreSQL tables via
// gorm. Both treat upserts as idempotent: writing a vertex or edge with an
// existing id replaces it.
package graph
