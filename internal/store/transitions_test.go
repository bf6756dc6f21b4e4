package store

import "testing"

func TestValidTransition(t *testing.T) {
	cases := []struct {
		action string
		from   string
		valid  bool
	}{
		{"call_next", "waiting", true},
		{"call_next", "called", false},
		{"call_next", "finished", false},
		{"recall", "called", true},
		{"recall", "waiting", false},
		{"recall", "in_service", false},
		{"start_service", "called", true},
		{"start_service", "waiting", false},
		{"start_service", "in_service", false},
		{"finish", "called", true},
		{"finish", "in_service", true},
		{"finish", "waiting", false},
		{"finish", "finished", false},
		{"no_show", "waiting", true},
		{"no_show", "called", true},
		{"no_show", "in_service", true},
		{"no_show", "finished", false},
		{"no_show", "no_show", false},
		{"unknown", "waiting", false},
	}

	for _, tt := range cases {
		if got := ValidTransition(tt.action, tt.from); got != tt.valid {
			t.Fatalf("ValidTransition(%q, %q)=%v, want %v", tt.action, tt.from, got, tt.valid)
		}
	}
}
