package router

import (
	"context"
	"fmt"
	"strings"

	"github.com/wingedpig/iporg-history/pkg/model"
)

// inferFamily guesses the address family from an IP literal: a colon
// means IPv6, anything else is treated as IPv4.
func inferFamily(ip string) model.Family {
	if strings.Contains(ip, ":") {
		return model.V6
	}
	return model.V4
}

// keysForQuery fans out across every configured source when
// req.Source is empty, resolves the family from the IP literal when
// req.Family is empty, and produces one WorkItem per (source, family,
// resolved date, ip).
func (r *Router) keysForQuery(ctx context.Context, req model.QueryRequest) ([]model.WorkItem, error) {
	family := req.Family
	if family == "" {
		family = inferFamily(req.IP)
	}
	if !family.Valid() {
		return nil, fmt.Errorf("%w: unknown address family %q", model.ErrInvalidIP, family)
	}

	sources := r.sources
	if req.Source != "" {
		known := false
		for _, s := range r.sources {
			if s == req.Source {
				known = true
				break
			}
		}
		if !known {
			return nil, fmt.Errorf("%w: %q", model.ErrUnknownSource, req.Source)
		}
		sources = []string{req.Source}
	}

	var items []model.WorkItem
	var errs []string
	for _, source := range sources {
		dates, err := r.findDates(ctx, req, source, family)
		if err != nil {
			errs = append(errs, err.Error())
			continue
		}
		for _, d := range dates {
			items = append(items, model.WorkItem{Source: source, Family: family, Date: d, IP: req.IP})
		}
	}

	if len(items) == 0 {
		return nil, fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return items, nil
}
