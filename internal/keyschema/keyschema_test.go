package keyschema

import (
	"testing"

	"github.com/wingedpig/iporg-history/pkg/model"
)

func TestWorkKeyRoundTrip(t *testing.T) {
	cases := []model.WorkItem{
		{Source: "caida", Family: model.V4, Date: "2023-06-12", IP: "8.8.8.8"},
		{Source: "ripe_rrc00", Family: model.V6, Date: "2023-06-12", IP: "2001:db8::1"},
	}

	for _, w := range cases {
		key := WorkKeyFor(w)
		got, err := WorkItemFromKey(key)
		if err != nil {
			t.Fatalf("WorkItemFromKey(%q): %v", key, err)
		}
		if got != w {
			t.Errorf("round trip mismatch: got %+v, want %+v", got, w)
		}
	}
}

func TestParseWorkKeyRejectsMalformed(t *testing.T) {
	if _, err := WorkItemFromKey("caida|v4|2023-06-12"); err == nil {
		t.Error("expected error for 3-field key")
	}
	if _, err := WorkItemFromKey("caida|v9|2023-06-12|8.8.8.8"); err == nil {
		t.Error("expected error for unknown family")
	}
}
