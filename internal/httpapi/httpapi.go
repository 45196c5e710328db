// Package httpapi binds the query router onto net/http: GET/POST /
// (or /ip), POST /mass_query, POST /mass_cache, POST /asn_meta, GET
// /meta, and HEAD / for a plain liveness ack.
//
// Handler shape is package-level plain http.HandlerFuncs writing JSON
// with encoding/json, no framework.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/wingedpig/iporg-history/internal/router"
	"github.com/wingedpig/iporg-history/pkg/model"
)

// Server wires a Router onto an http.ServeMux.
type Server struct {
	router *router.Router
	mux    *http.ServeMux
}

// NewServer builds the frontend's handler set.
func NewServer(r *router.Router) *Server {
	s := &Server{router: r, mux: http.NewServeMux()}
	s.mux.HandleFunc("/", s.handleRoot)
	s.mux.HandleFunc("/ip", s.handleRoot)
	s.mux.HandleFunc("/mass_query", s.handleMassQuery)
	s.mux.HandleFunc("/mass_cache", s.handleMassCache)
	s.mux.HandleFunc("/asn_meta", s.handleAsnMeta)
	s.mux.HandleFunc("/meta", s.handleMeta)
	return s
}

// ServeHTTP satisfies http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return
	}

	req, err := parseQueryRequest(r)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"error": err.Error()})
		return
	}

	result, err := s.router.Query(r.Context(), req)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, queryResultBody(req, result))
}

func (s *Server) handleMassQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}
	var raw []map[string]any
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"error": err.Error()})
		return
	}
	reqs := make([]model.QueryRequest, len(raw))
	for i, item := range raw {
		reqs[i] = queryRequestFromMap(item)
	}

	results, err := s.router.MassQuery(r.Context(), reqs)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"error": err.Error()})
		return
	}

	responses := make([]map[string]any, len(results))
	for i, res := range results {
		responses[i] = queryResultBody(reqs[i], res)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"meta":      map[string]any{"number_queries": len(reqs)},
		"responses": responses,
	})
}

func (s *Server) handleMassCache(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}
	var raw []map[string]any
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"error": err.Error()})
		return
	}
	reqs := make([]model.QueryRequest, len(raw))
	for i, item := range raw {
		reqs[i] = queryRequestFromMap(item)
	}

	cached, notCached, err := s.router.MassCache(r.Context(), reqs)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"error": err.Error()})
		return
	}
	notCachedBody := make([]map[string]any, len(notCached))
	for i, nc := range notCached {
		notCachedBody[i] = map[string]any{"error": nc.Error}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"meta":       map[string]any{"number_queries": len(reqs)},
		"cached":     cached,
		"not_cached": notCachedBody,
	})
}

func (s *Server) handleAsnMeta(w http.ResponseWriter, r *http.Request) {
	req, err := parseQueryRequest(r)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"error": err.Error()})
		return
	}
	if r.Method == http.MethodPost {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err == nil {
			merged := queryRequestFromMap(body)
			if merged.ASN != "" {
				req.ASN = merged.ASN
			}
			if merged.Source != "" {
				req.Source = merged.Source
			}
			if merged.Family != "" {
				req.Family = merged.Family
			}
		}
	}

	out, err := s.router.AsnMeta(r.Context(), req)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"meta":     map[string]any{"source": req.Source, "address_family": string(req.Family)},
		"response": out,
	})
}

func (s *Server) handleMeta(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	meta, err := s.router.Meta(ctx)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// queryResultBody renders a QueryResult as a meta block plus either an
// error string or a per-date response map.
func queryResultBody(req model.QueryRequest, result model.QueryResult) map[string]any {
	meta := map[string]any{
		"source":         req.Source,
		"address_family": string(req.Family),
		"ip":             req.IP,
	}
	if result.Error != "" {
		return map[string]any{"meta": meta, "error": result.Error}
	}
	responses := make(map[string]any, len(result.Response))
	for date, resp := range result.Response {
		entry := map[string]any{"asn": resp.ASN, "prefix": resp.Prefix, "source": resp.Source}
		if resp.Err != "" {
			entry = map[string]any{"error": resp.Err}
		}
		responses[date] = entry
	}
	return map[string]any{"meta": meta, "response": responses}
}
