package router

import (
	"net/netip"
	"sort"

	"github.com/wingedpig/iporg-history/pkg/model"
)

// collate implements the per-date best-answer rule: a valid answer
// always beats an invalid one, and between two valid answers the more
// specific prefix (fewer covered addresses) wins.
func collate(answers map[model.WorkItem]model.Response) map[string]model.Response {
	best := make(map[string]model.Response)
	for item, resp := range answers {
		resp.Source = item.Source
		cur, ok := best[item.Date]
		if !ok {
			best[item.Date] = resp
			continue
		}
		if !cur.Valid() && resp.Valid() {
			best[item.Date] = resp
			continue
		}
		if cur.Valid() && resp.Valid() && moreSpecific(resp.Prefix, cur.Prefix) {
			best[item.Date] = resp
		}
	}
	return best
}

// moreSpecific reports whether a covers fewer addresses than b, i.e. has
// a longer prefix length. Malformed prefixes never win.
func moreSpecific(a, b string) bool {
	pa, err := netip.ParsePrefix(a)
	if err != nil {
		return false
	}
	pb, err := netip.ParsePrefix(b)
	if err != nil {
		return true
	}
	return pa.Bits() > pb.Bits()
}

// sortedDatesDescending returns the dates of responses sorted newest
// first.
func sortedDatesDescending(responses map[string]model.Response) []string {
	dates := make([]string, 0, len(responses))
	for d := range responses {
		dates = append(dates, d)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(dates)))
	return dates
}

// anyValid reports whether at least one response in the set is valid.
func anyValid(responses map[string]model.Response) bool {
	for _, r := range responses {
		if r.Valid() {
			return true
		}
	}
	return false
}

// filterValid keeps only the valid responses.
func filterValid(responses map[string]model.Response) map[string]model.Response {
	out := make(map[string]model.Response, len(responses))
	for d, r := range responses {
		if r.Valid() {
			out[d] = r
		}
	}
	return out
}
