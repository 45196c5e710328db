package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/wingedpig/iporg-history/pkg/model"
)

// parseQueryRequest accepts both form-encoded and JSON bodies on POST.
// GET requests read from the URL query string.
func parseQueryRequest(r *http.Request) (model.QueryRequest, error) {
	if r.Method == http.MethodPost && r.Header.Get("Content-Type") == "application/json" {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			return model.QueryRequest{}, err
		}
		return queryRequestFromMap(body), nil
	}

	if err := r.ParseForm(); err != nil {
		return model.QueryRequest{}, err
	}
	req := model.QueryRequest{
		IP:     r.Form.Get("ip"),
		Source: r.Form.Get("source"),
		Family: model.Family(r.Form.Get("address_family")),
		Date:   r.Form.Get("date"),
		First:  r.Form.Get("first"),
		Last:   r.Form.Get("last"),
		ASN:    r.Form.Get("asn"),
	}
	if raw := r.Form.Get("precision_delta"); raw != "" {
		var pd model.PrecisionDelta
		if err := json.Unmarshal([]byte(raw), &pd); err == nil {
			req.PrecisionDelta = &pd
		}
	}
	return req, nil
}

// queryRequestFromMap pulls the query-request fields out of a decoded
// JSON object, tolerating whichever fields are present.
func queryRequestFromMap(m map[string]any) model.QueryRequest {
	req := model.QueryRequest{
		IP:     stringField(m, "ip"),
		Source: stringField(m, "source"),
		Family: model.Family(stringField(m, "address_family")),
		Date:   stringField(m, "date"),
		First:  stringField(m, "first"),
		Last:   stringField(m, "last"),
		ASN:    stringField(m, "asn"),
	}
	if raw, ok := m["precision_delta"].(map[string]any); ok {
		pd := model.PrecisionDelta{
			Weeks:        intField(raw, "weeks"),
			Days:         intField(raw, "days"),
			Hours:        intField(raw, "hours"),
			Minutes:      intField(raw, "minutes"),
			Seconds:      intField(raw, "seconds"),
			Milliseconds: intField(raw, "milliseconds"),
			Microseconds: intField(raw, "microseconds"),
		}
		req.PrecisionDelta = &pd
	}
	return req
}

func stringField(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func intField(m map[string]any, key string) int {
	if v, ok := m[key].(float64); ok {
		return int(v)
	}
	return 0
}
