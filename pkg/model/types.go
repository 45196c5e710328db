package model

import (
	"fmt"
	"strings"
	"time"
)

// Family is an address family: IPv4 or IPv6.
type Family string

const (
	V4 Family = "v4"
	V6 Family = "v6"
)

func (f Family) Valid() bool {
	return f == V4 || f == V6
}

// NullRoute returns the sentinel "no enclosing route" prefix for the family.
func (f Family) NullRoute() string {
	if f == V6 {
		return "::/0"
	}
	return "0.0.0.0/0"
}

// WorkItem identifies a single (source, family, date, ip) lookup. Its
// pipe-delimited string form is both the work-set element and the
// response-hash key in the cache store.
type WorkItem struct {
	Source string
	Family Family
	Date   string // ISO-8601 date, e.g. "2023-06-12"
	IP     string
}

// Response is the record a lookup worker writes back for a WorkItem:
// asn/prefix on success, or Err set on a malformed-query failure.
type Response struct {
	ASN    string
	Prefix string
	Source string // set by the router when collating across sources
	Err    string
}

// Valid reports whether a response carries a usable (non-null-route,
// non-zero) ASN, per the best-answer dominance rule.
func (r Response) Valid() bool {
	if r.Err != "" {
		return false
	}
	if r.ASN == "" || r.ASN == "0" {
		return false
	}
	if r.Prefix == "0.0.0.0/0" || r.Prefix == "::/0" {
		return false
	}
	return true
}

// ExpectedInterval is the manager-published [first, last] the fleet
// promises to keep loaded.
type ExpectedInterval struct {
	First string
	Last  string
}

// WorkerSpec is the [first, last] window of one lookup worker.
type WorkerSpec struct {
	Source string
	First  time.Time
	Last   time.Time
}

// ID returns the worker's stable identity, used as its "running" registry
// key.
func (w WorkerSpec) ID() string {
	return w.Source + "|" + w.First.Format("2006-01-02") + "|" + w.Last.Format("2006-01-02")
}

// IntervalString formats the [first, last] window the way the lock set
// stores it: "{first}_{last}".
func (w WorkerSpec) IntervalString() string {
	return w.First.Format("2006-01-02") + "_" + w.Last.Format("2006-01-02")
}

// ParseWorkerID reverses ID, recovering a WorkerSpec from its running-hash
// registry key.
func ParseWorkerID(id string) (WorkerSpec, error) {
	parts := strings.SplitN(id, "|", 3)
	if len(parts) != 3 {
		return WorkerSpec{}, fmt.Errorf("%w: %q is not a 3-field worker id", ErrMalformedQuery, id)
	}
	first, err := time.Parse("2006-01-02", parts[1])
	if err != nil {
		return WorkerSpec{}, fmt.Errorf("parsing worker id %q: %w", id, err)
	}
	last, err := time.Parse("2006-01-02", parts[2])
	if err != nil {
		return WorkerSpec{}, fmt.Errorf("parsing worker id %q: %w", id, err)
	}
	return WorkerSpec{Source: parts[0], First: first, Last: last}, nil
}

// PrecisionDelta mirrors the calendar-duration dict accepted on query
// requests: {days, seconds, microseconds, milliseconds, minutes, hours, weeks}.
type PrecisionDelta struct {
	Weeks        int
	Days         int
	Hours        int
	Minutes      int
	Seconds      int
	Milliseconds int
	Microseconds int
}

// Duration converts the calendar-duration dict to a time.Duration.
func (p PrecisionDelta) Duration() time.Duration {
	d := time.Duration(p.Weeks) * 7 * 24 * time.Hour
	d += time.Duration(p.Days) * 24 * time.Hour
	d += time.Duration(p.Hours) * time.Hour
	d += time.Duration(p.Minutes) * time.Minute
	d += time.Duration(p.Seconds) * time.Second
	d += time.Duration(p.Milliseconds) * time.Millisecond
	d += time.Duration(p.Microseconds) * time.Microsecond
	return d
}

func (p PrecisionDelta) IsZero() bool {
	return p == PrecisionDelta{}
}

// QueryRequest carries the parameters accepted by the query/mass_query/
// mass_cache/asn_meta endpoints.
type QueryRequest struct {
	IP             string
	ASN            string // asn_meta only
	Source         string // empty => fan out across all configured sources
	Family         Family // empty => inferred from IP literal
	Date           string // ISO date or timestamp; "latest" semantics if empty and First/Last empty
	First          string
	Last           string
	PrecisionDelta *PrecisionDelta
}

// QueryResult is the per-date collated answer returned to callers.
type QueryResult struct {
	Meta     map[string]string
	Response map[string]Response // date -> response
	Error    string
}

// CachedDatesSummary is meta()'s per-(source,family) completeness report.
type CachedDatesSummary struct {
	Cached  []string
	Missing []string
	Percent float64
}

// MetaResponse is the payload returned by GET /meta.
type MetaResponse struct {
	Sources          []string
	ExpectedInterval ExpectedInterval
	CachedDates      map[string]map[Family]CachedDatesSummary
	Workers          []WorkerSpec
}

// AsnPrefixes is one ASN's announced prefixes plus its IP-count, for
// asn_meta responses.
type AsnPrefixes struct {
	Prefixes []string
	IPCount  int64

	// Organization is the registered organization name for this ASN,
	// populated only when a router was built with an ASN enrichment
	// database. Empty otherwise.
	Organization string `json:",omitempty"`
}
