package analytics

import "errors"

var (
	// ErrNotReady is returned when the schema has not been bootstrapped.
	ErrNotReady = errors.New("analytics engine not ready")

	// ErrUnknownDriver is returned for drivers other than sqlite and pgx.
	ErrUnknownDriver = errors.New("unknown analytics driver")

	// ErrUnknownQuery is returned by Poll for ids Submit never issued.
	ErrUnknownQuery = errors.New("unknown query id")

	// ErrInvalidTableName is returned for table names that are not plain identifiers.
	ErrInvalidTableName = errors.New("invalid table name")
)
