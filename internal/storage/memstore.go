package storage

import (
	"context"
	"sync"

	"github.com/wingedpig/iporg-history/pkg/model"
)

// MemStore is an in-process Store used by tests and the worker/router
// fixtures. Production deployments use LeveldbStore.
type MemStore struct {
	mu        sync.Mutex
	sources   map[string]struct{}
	dates     map[string]map[string]struct{} // "{source}|{af}" -> set of dates
	last      map[string]string              // "{source}|{af}" -> date
	asns      map[string]map[string]struct{} // "{source}|{af}|{date}" -> set of asns
	prefixes  map[string]map[string]struct{} // "{source}|{af}|{date}|{asn}" -> set of prefixes
	ipcounts  map[string]int64               // "{source}|{af}|{date}|{asn}" -> count
}

func NewMemStore() *MemStore {
	return &MemStore{
		sources:  make(map[string]struct{}),
		dates:    make(map[string]map[string]struct{}),
		last:     make(map[string]string),
		asns:     make(map[string]map[string]struct{}),
		prefixes: make(map[string]map[string]struct{}),
		ipcounts: make(map[string]int64),
	}
}

func dateScope(source string, family model.Family) string {
	return source + "|" + string(family)
}

func asnScope(source string, family model.Family, date string) string {
	return source + "|" + string(family) + "|" + date
}

func prefixScope(source string, family model.Family, date, asn string) string {
	return asnScope(source, family, date) + "|" + asn
}

func (m *MemStore) Sources(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.sources))
	for s := range m.sources {
		out = append(out, s)
	}
	return out, nil
}

func (m *MemStore) AddSource(ctx context.Context, source string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sources[source] = struct{}{}
	return nil
}

func (m *MemStore) Dates(ctx context.Context, source string, family model.Family) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := m.dates[dateScope(source, family)]
	out := make([]string, 0, len(set))
	for d := range set {
		out = append(out, d)
	}
	return out, nil
}

func (m *MemStore) AddDate(ctx context.Context, source string, family model.Family, date string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	scope := dateScope(source, family)
	if m.dates[scope] == nil {
		m.dates[scope] = make(map[string]struct{})
	}
	m.dates[scope][date] = struct{}{}
	m.sources[source] = struct{}{}
	return nil
}

func (m *MemStore) LastDate(ctx context.Context, source string, family model.Family) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last[dateScope(source, family)], nil
}

func (m *MemStore) SetLastDate(ctx context.Context, source string, family model.Family, date string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.last[dateScope(source, family)] = date
	return nil
}

func (m *MemStore) Asns(ctx context.Context, source string, family model.Family, date string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := m.asns[asnScope(source, family, date)]
	out := make([]string, 0, len(set))
	for a := range set {
		out = append(out, a)
	}
	return out, nil
}

func (m *MemStore) AddAsn(ctx context.Context, source string, family model.Family, date, asn string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.addAsnLocked(source, family, date, asn)
	return nil
}

func (m *MemStore) addAsnLocked(source string, family model.Family, date, asn string) {
	scope := asnScope(source, family, date)
	if m.asns[scope] == nil {
		m.asns[scope] = make(map[string]struct{})
	}
	m.asns[scope][asn] = struct{}{}
}

func (m *MemStore) AsnPrefixes(ctx context.Context, source string, family model.Family, date, asn string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := m.prefixes[prefixScope(source, family, date, asn)]
	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	return out, nil
}

func (m *MemStore) AddAsnPrefix(ctx context.Context, source string, family model.Family, date, asn, prefix string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	scope := prefixScope(source, family, date, asn)
	if m.prefixes[scope] == nil {
		m.prefixes[scope] = make(map[string]struct{})
	}
	m.prefixes[scope][prefix] = struct{}{}
	m.addAsnLocked(source, family, date, asn)
	return nil
}

func (m *MemStore) IPCount(ctx context.Context, source string, family model.Family, date, asn string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ipcounts[prefixScope(source, family, date, asn)], nil
}

func (m *MemStore) SetIPCount(ctx context.Context, source string, family model.Family, date, asn string, count int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ipcounts[prefixScope(source, family, date, asn)] = count
	return nil
}

func (m *MemStore) Close() error { return nil }
