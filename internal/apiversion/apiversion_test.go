package apiversion

import "testing"

func TestCheck(t *testing.T) {
	cases := []struct {
		name       string
		configured string
		requested  string
		strictness Strictness
		wantCompat bool
		wantMismatch bool
	}{
		{"empty requested refused in reject mode", "2026-01-01", "", Reject, false, true},
		{"exact match", "2026-01-01", "2026-01-01", Reject, true, false},
		{"mismatch warn accepts", "2026-01-01", "2025-06-01", Warn, true, true},
		{"mismatch reject refuses", "2026-01-01", "2025-06-01", Reject, false, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Check(tc.configured, tc.requested, tc.strictness)
			if got.Compatible != tc.wantCompat || got.Mismatch != tc.wantMismatch {
				t.Fatalf("Check(%q,%q,%q) = %+v, want compatible=%v mismatch=%v",
					tc.configured, tc.requested, tc.strictness, got, tc.wantCompat, tc.wantMismatch)
			}
		})
	}
}

func TestCompatible(t *testing.T) {
	cases := []struct {
		name     string
		required string
		offered  string
		want     bool
	}{
		{"semver required satisfied", "1.2.0", "1.3.0", true},
		{"semver required newer than offered", "1.4.0", "1.3.0", false},
		{"date-style strings compare lexicographically", "2025-01-01", "2026-01-01", true},
		{"date-style strings reject older offered", "2026-01-01", "2025-01-01", false},
		{"empty required normalizes to v0.0.0", "", "1.0.0", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Compatible(tc.required, tc.offered); got != tc.want {
				t.Fatalf("Compatible(%q,%q) = %v, want %v", tc.required, tc.offered, got, tc.want)
			}
		})
	}
}
