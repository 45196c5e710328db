// Package storage defines the durable storage-store contract: snapshot
// dates, per-ASN prefix sets, and per-ASN IP counts, written once by
// loaders (out of scope for this module) and read many times by lookup
// workers and the query router's asn_meta path.
//
// LeveldbStore backs it with github.com/syndtr/goleveldb, an embedded
// KV engine. MemStore backs it with plain Go maps for tests and
// fixtures.
package storage

import (
	"context"

	"github.com/wingedpig/iporg-history/pkg/model"
)

// Store is the durable, read-mostly store. Setter methods exist because,
// in this module's scope, tests and the lookup worker's own fixtures must
// be able to populate it without a standalone loader binary; production
// deployments populate it via a separate, out-of-scope ingest pipeline.
type Store interface {
	// Sources returns the "prefixes" set: configured source names that
	// have ever had data loaded.
	Sources(ctx context.Context) ([]string, error)
	AddSource(ctx context.Context, source string) error

	// Dates returns "{source}|{af}|dates".
	Dates(ctx context.Context, source string, family model.Family) ([]string, error)
	AddDate(ctx context.Context, source string, family model.Family, date string) error

	// LastDate returns "{source}|{af}|last".
	LastDate(ctx context.Context, source string, family model.Family) (string, error)
	SetLastDate(ctx context.Context, source string, family model.Family, date string) error

	// Asns returns "{source}|{af}|{d}|asns".
	Asns(ctx context.Context, source string, family model.Family, date string) ([]string, error)
	AddAsn(ctx context.Context, source string, family model.Family, date, asn string) error

	// AsnPrefixes returns "{source}|{af}|{d}|{asn}": the set of prefixes
	// that ASN announced on that date.
	AsnPrefixes(ctx context.Context, source string, family model.Family, date, asn string) ([]string, error)
	AddAsnPrefix(ctx context.Context, source string, family model.Family, date, asn, prefix string) error

	// IPCount returns "{source}|{af}|{d}|{asn}|ipcount".
	IPCount(ctx context.Context, source string, family model.Family, date, asn string) (int64, error)
	SetIPCount(ctx context.Context, source string, family model.Family, date, asn string, count int64) error

	Close() error
}
