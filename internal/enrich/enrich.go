// Package enrich adds optional organization-name enrichment to asn_meta
// responses: the storage store only ever holds ASN numbers, so a caller
// that wants the registered organization name for an ASN needs a side
// lookup against a MaxMind ASN database.
package enrich

import (
	"fmt"
	"net"
	"net/netip"

	"github.com/oschwald/geoip2-golang"
)

// ASNLookup resolves an IP to its registered ASN and organization name
// via a MaxMind GeoLite2-ASN (or equivalent) database.
type ASNLookup struct {
	reader *geoip2.Reader
}

// Open opens the MaxMind ASN database at path.
func Open(path string) (*ASNLookup, error) {
	reader, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening ASN database %s: %w", path, err)
	}
	return &ASNLookup{reader: reader}, nil
}

// Close releases the underlying database file.
func (a *ASNLookup) Close() error {
	return a.reader.Close()
}

// Organization returns the registered organization name for the ASN
// announcing ip, per MaxMind's database — not the historical router
// data the trie serves, but a useful cross-check when asn_meta is asked
// to enrich its numeric ASN with a human-readable name.
func (a *ASNLookup) Organization(ip netip.Addr) (asn int, org string, err error) {
	record, err := a.reader.ASN(net.IP(ip.AsSlice()))
	if err != nil {
		return 0, "", fmt.Errorf("ASN lookup for %s: %w", ip, err)
	}
	return int(record.AutonomousSystemNumber), record.AutonomousSystemOrganization, nil
}
