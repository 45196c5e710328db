// Package keyschema formats and parses the canonical string keys used in
// both stores. Centralizing the layout here keeps the cache and storage
// packages from drifting on key format.
package keyschema

import (
	"fmt"
	"strings"

	"github.com/wingedpig/iporg-history/pkg/model"
)

// Work-item / response-hash key: "{source}|{family}|{date}|{ip}".
func WorkKey(source string, family model.Family, date, ip string) string {
	return fmt.Sprintf("%s|%s|%s|%s", source, family, date, ip)
}

// ParseWorkKey splits a work key back into its four fields. The ip field
// may itself contain colons (IPv6) but never a pipe, so a 4-way split is
// exact and round-trips with WorkKey.
func ParseWorkKey(key string) (source string, family model.Family, date, ip string, err error) {
	parts := strings.SplitN(key, "|", 4)
	if len(parts) != 4 {
		return "", "", "", "", fmt.Errorf("%w: %q is not a 4-field work key", model.ErrMalformedQuery, key)
	}
	f := model.Family(parts[1])
	if !f.Valid() {
		return "", "", "", "", fmt.Errorf("%w: unknown address family %q", model.ErrMalformedQuery, parts[1])
	}
	return parts[0], f, parts[2], parts[3], nil
}

// WorkItemFromKey is the model.WorkItem-returning convenience wrapper
// around ParseWorkKey.
func WorkItemFromKey(key string) (model.WorkItem, error) {
	source, family, date, ip, err := ParseWorkKey(key)
	if err != nil {
		return model.WorkItem{}, err
	}
	return model.WorkItem{Source: source, Family: family, Date: date, IP: ip}, nil
}

func WorkKeyFor(w model.WorkItem) string {
	return WorkKey(w.Source, w.Family, w.Date, w.IP)
}

// Cache store keys.

const (
	QuerySetKey            = "query"
	ShutdownKey            = "shutdown"
	RunningKey             = "running"
	MetaSourcesKey         = "META:sources"
	MetaExpectedIntervalKey = "META:expected_interval"
)

func CachedDatesKey(source string, family model.Family) string {
	return fmt.Sprintf("%s|%s|cached_dates", source, family)
}

func LockKey(source string, family model.Family) string {
	return fmt.Sprintf("lock|%s|%s", source, family)
}

// Storage store keys.

const PrefixesKey = "prefixes"

func DatesKey(source string, family model.Family) string {
	return fmt.Sprintf("%s|%s|dates", source, family)
}

func LastKey(source string, family model.Family) string {
	return fmt.Sprintf("%s|%s|last", source, family)
}

func AsnsKey(source string, family model.Family, date string) string {
	return fmt.Sprintf("%s|%s|%s|asns", source, family, date)
}

func AsnPrefixesKey(source string, family model.Family, date, asn string) string {
	return fmt.Sprintf("%s|%s|%s|%s", source, family, date, asn)
}

func AsnIPCountKey(source string, family model.Family, date, asn string) string {
	return fmt.Sprintf("%s|%s|%s|%s|ipcount", source, family, date, asn)
}
