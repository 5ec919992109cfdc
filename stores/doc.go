// Package stores defines the contracts of the three Gold target stores and
// the three-valued Result every write returns.
//
// A write either succeeds (Ok), finds the store not ready or unreachable
// (Unavailable), or fails while the store is reachable (Error). Callers treat
// Unavailable as "skip this target" and Error as a retryable delivery failure.
//
// Implementations live in the analytics, graph and vector subpackages.
package stores
