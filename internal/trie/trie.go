// Package trie implements the longest-prefix-match lookup structure that
// backs each lookup worker's in-memory snapshot. It wraps
// github.com/gaissmai/bart's Table, a popcount-compressed multibit trie
// (the BART algorithm), rather than hand-rolling one: Table already gives
// us exact longest-prefix-match over both v4 and v6 address spaces, which
// is exactly the shape one loaded (source, family, date) snapshot needs.
//
// Construction is single-threaded; once built, a Trie is safe for
// unlimited concurrent Lookup calls (bart.Table permits concurrent readers
// as long as nothing is still writing).
package trie

import (
	"fmt"
	"net/netip"

	"github.com/gaissmai/bart"
	"github.com/wingedpig/iporg-history/pkg/model"
)

// Trie is a longest-prefix-match table fixed to one address family (32
// bits for IPv4, 128 for IPv6).
type Trie struct {
	bits  int // address width: 32 or 128
	table *bart.Table[string]
}

// NewV4 returns an empty IPv4 trie.
func NewV4() *Trie { return &Trie{bits: 32, table: new(bart.Table[string])} }

// NewV6 returns an empty IPv6 trie.
func NewV6() *Trie { return &Trie{bits: 128, table: new(bart.Table[string])} }

// Bits reports the trie's address width (32 or 128).
func (t *Trie) Bits() int { return t.bits }

// Insert stores asn under prefixStr (CIDR notation). A later insert of
// the same prefix replaces the ASN. Malformed prefixes, or prefixes of
// the wrong address family for this trie, are rejected.
func (t *Trie) Insert(prefixStr, asn string) error {
	prefix, err := netip.ParsePrefix(prefixStr)
	if err != nil {
		return fmt.Errorf("%w: %q: %v", model.ErrInvalidPrefix, prefixStr, err)
	}

	if !t.sameFamily(prefix.Addr()) {
		return fmt.Errorf("%w: %q is not a v%d address", model.ErrInvalidPrefix, prefixStr, familyBits(t.bits))
	}

	t.table.Insert(prefix, asn)
	return nil
}

// Lookup returns the longest stored prefix containing ip and its ASN, or
// model.ErrNotFound if no stored prefix covers it.
func (t *Trie) Lookup(ipStr string) (asn, enclosingPrefix string, err error) {
	addr, err := netip.ParseAddr(ipStr)
	if err != nil {
		return "", "", fmt.Errorf("%w: %q: %v", model.ErrInvalidIP, ipStr, err)
	}

	if !t.sameFamily(addr) {
		return "", "", fmt.Errorf("%w: %q is not a v%d address", model.ErrInvalidIP, ipStr, familyBits(t.bits))
	}

	host := netip.PrefixFrom(addr, addr.BitLen())
	lpmPfx, val, ok := t.table.LookupPrefixLPM(host)
	if !ok {
		return "", "", model.ErrNotFound
	}
	return val, lpmPfx.String(), nil
}

func (t *Trie) sameFamily(addr netip.Addr) bool {
	addrBits := 32
	if addr.Is6() {
		addrBits = 128
	}
	return addrBits == t.bits
}

func familyBits(bits int) int {
	if bits == 128 {
		return 6
	}
	return 4
}
