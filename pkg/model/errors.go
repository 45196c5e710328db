package model

// Error is a sentinel error type, following the same string-based
// error idiom used throughout this module's stores and query paths.
type Error string

func (e Error) Error() string {
	return string(e)
}

const (
	ErrNotFound       Error = "not found"
	ErrInvalidIP      Error = "invalid IP address"
	ErrInvalidPrefix  Error = "invalid CIDR prefix"
	ErrDatabaseClosed Error = "database is closed"

	// ErrNoRouteViews describes a (source, family) pair that has never had
	// a snapshot loaded into the cache's cached-dates index. find_dates
	// reports that case with its own message naming the source and family,
	// which does not wrap this value.
	ErrNoRouteViews Error = "no route views have been loaded for this source/address_family yet"

	// ErrOutsidePrecision is returned when the nearest cached date falls
	// outside the caller-supplied precision_delta window.
	ErrOutsidePrecision Error = "unable to find a date in the expected interval within the requested precision"

	// ErrEmptyInterval is returned when a [first, last] query window
	// contains no cached dates.
	ErrEmptyInterval Error = "no snapshots cached in the requested interval"

	// ErrFirstAfterLast is an input-validation error: first > last.
	ErrFirstAfterLast Error = "first date must not be after last date"

	// ErrMalformedQuery is wrapped when a work key or a worker id cannot be
	// parsed back into its fields.
	ErrMalformedQuery Error = "malformed query"

	// ErrShutdown is returned (not logged as a failure) when a worker or
	// the manager observes the cooperative shutdown sentinel.
	ErrShutdown Error = "shutdown requested"

	// ErrLockHeld describes a worker's reload finding another worker's lock
	// on an overlapping interval. No code path returns it: the reload skips
	// that family and returns nil.
	ErrLockHeld Error = "load lock held by another worker"

	// ErrUnknownSource is returned when a caller names a source that
	// isn't in the configured source list.
	ErrUnknownSource Error = "unknown source"
)
