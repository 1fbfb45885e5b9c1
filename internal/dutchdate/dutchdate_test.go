package dutchdate

import "testing"

func TestNormalizeISO(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
		ok   bool
	}{
		{"weekday and time range", "di 10 feb 2026, 19:30 - 23:00", "2026-02-10", true},
		{"no weekday", "10 feb 2026", "2026-02-10", true},
		{"full month name", "10 februari 2026", "2026-02-10", true},
		{"single digit day", "zo 9 mrt 2026", "2026-03-09", true},
		{"mar alias", "9 mar 2026", "2026-03-09", true},
		{"okt", "31 okt 2026", "2026-10-31", true},
		{"oct alias", "31 oct 2026", "2026-10-31", true},
		{"mei", "1 mei 2027", "2027-05-01", true},
		{"uppercase input", "VR 13 MRT 2026, 20:15", "2026-03-13", true},
		{"embedded in longer text", "Aanvang: wo 18 jun 2025 om 20:00, v.a. EUR 25,00", "2025-06-18", true},
		{"first occurrence wins", "19 jan 2026 t/m 22 jan 2026", "2026-01-19", true},
		{"relative date only", "Vandaag, 20.00", "", false},
		{"empty string", "", "", false},
		{"no year", "di 10 feb, 19:30", "", false},
		{"unknown month token", "10 xyz 2026", "", false},
		{"invalid calendar date", "31 feb 2026", "", false},
		{"day 30 in february", "30 feb 2026", "", false},
		{"day zero", "0 feb 2026", "", false},
		{"valid leap day", "29 feb 2028", "2028-02-29", true},
		{"invalid leap day", "29 feb 2027", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := NormalizeISO(tt.raw)
			if ok != tt.ok {
				t.Fatalf("NormalizeISO(%q) ok = %v, want %v", tt.raw, ok, tt.ok)
			}
			if got != tt.want {
				t.Fatalf("NormalizeISO(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestNormalizeNeverPanics(t *testing.T) {
	inputs := []string{"", "   ", "9999999999 jan 2026", "1 j 2", "\x00\xff", "jan jan jan"}
	for _, raw := range inputs {
		if _, ok := Normalize(raw); ok && raw == "" {
			t.Fatalf("Normalize(%q) unexpectedly matched", raw)
		}
	}
}
