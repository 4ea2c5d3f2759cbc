package domain

import "testing"

func TestParseAmount(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		decimals int32
		want     int64
		wantErr  bool
	}{
		{"zero", "0", 0, 0, false},
		{"integer units", "10000", 0, 10000, false},
		{"integer with zero fraction", "10000.00", 0, 10000, false},
		{"two decimal places", "148.50", 2, 14850, false},
		{"one decimal place", "1.5", 2, 150, false},
		{"small amount", "0.01", 2, 1, false},
		{"negative value", "-50.25", 2, -5025, false},
		{"excess precision", "1.234", 2, 0, true},
		{"fraction with zero decimals", "10000.5", 0, 0, true},
		{"garbage", "ten", 0, 0, true},
		{"empty", "", 0, 0, true},
		{"overflow", "99999999999999999999", 0, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAmount(tt.input, tt.decimals)
			if tt.wantErr {
				if err == nil {
					t.Errorf("ParseAmount(%q) expected error, got nil", tt.input)
				}
				return
			}
			if err != nil {
				t.Errorf("ParseAmount(%q) unexpected error: %v", tt.input, err)
				return
			}
			if got != tt.want {
				t.Errorf("ParseAmount(%q) = %d, want %d", tt.input, got, tt.want)
			}
		})
	}
}

func TestFormatAmount(t *testing.T) {
	tests := []struct {
		minor    int64
		decimals int32
		want     string
	}{
		{0, 0, "0"},
		{10000, 0, "10000"},
		{14850, 2, "148.50"},
		{1, 2, "0.01"},
		{-5025, 2, "-50.25"},
	}
	for _, tt := range tests {
		if got := FormatAmount(tt.minor, tt.decimals); got != tt.want {
			t.Errorf("FormatAmount(%d, %d) = %q, want %q", tt.minor, tt.decimals, got, tt.want)
		}
	}
}
