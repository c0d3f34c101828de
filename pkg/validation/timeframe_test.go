package validation

import (
	"testing"
)

func TestValidateTimeframe(t *testing.T) {
	tests := []struct {
		name    string
		tf      string
		wantErr bool
	}{
		{"minutes", "5m", false},
		{"hours", "4h", false},
		{"daily", "1d", false},
		{"weekly", "1w", false},
		{"empty", "", true},
		{"raw minutes", "60", true}, // TradingView notation needs normalization first
		{"uppercase", "1D", true},
		{"garbage", "soon", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTimeframe(tt.tf)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateTimeframe(%q) error = %v, wantErr %v", tt.tf, err, tt.wantErr)
			}
		})
	}
}

func TestNormalizeTimeframe(t *testing.T) {
	tests := []struct {
		name    string
		tf      string
		want    string
		wantErr bool
	}{
		{"canonical passthrough", "15m", "15m", false},
		{"canonical uppercase", "1H", "1h", false},
		{"tradingview minutes", "60", "1h", false},
		{"tradingview four hour", "240", "4h", false},
		{"tradingview daily", "D", "1d", false},
		{"tradingview weekly", "1W", "1w", false},
		{"whitespace trimmed", " 5 ", "5m", false},
		{"unknown", "fortnight", "", true},
		{"empty", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeTimeframe(tt.tf)
			if (err != nil) != tt.wantErr {
				t.Errorf("NormalizeTimeframe(%q) error = %v, wantErr %v", tt.tf, err, tt.wantErr)
				return
			}
			if got != tt.want {
				t.Errorf("NormalizeTimeframe(%q) = %q, want %q", tt.tf, got, tt.want)
			}
		})
	}
}
