package types

import (
	"math/big"
	"testing"
)

func TestFormatUnits(t *testing.T) {
	tests := []struct {
		value    string
		decimals int32
		want     string
	}{
		{"0", 18, "0"},
		{"1000000000000000000", 18, "1"},
		{"1500000", 6, "1.5"},
		{"123", 8, "0.00000123"},
		{"100000000", 8, "1"},
	}
	for _, tt := range tests {
		v, _ := new(big.Int).SetString(tt.value, 10)
		if got := FormatUnits(v, tt.decimals); got != tt.want {
			t.Errorf("FormatUnits(%s, %d) = %s, want %s", tt.value, tt.decimals, got, tt.want)
		}
	}
	if got := FormatUnits(nil, 18); got != "0" {
		t.Errorf("FormatUnits(nil) = %s", got)
	}
}

func TestParseUnits(t *testing.T) {
	tests := []struct {
		in       string
		decimals int32
		want     string
		wantErr  bool
	}{
		{"1", 18, "1000000000000000000", false},
		{"0.5", 6, "500000", false},
		{" 0.00000001 ", 8, "1", false},
		{"0.000000001", 8, "", true},
		{"-1", 8, "", true},
		{"abc", 8, "", true},
	}
	for _, tt := range tests {
		got, err := ParseUnits(tt.in, tt.decimals)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseUnits(%q) should fail", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseUnits(%q): %v", tt.in, err)
			continue
		}
		if got.String() != tt.want {
			t.Errorf("ParseUnits(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestParseBaseUnits(t *testing.T) {
	v, err := ParseBaseUnits("115792089237316195423570985008687907853269984665640564039457584007913129639935")
	if err != nil || v.BitLen() != 256 {
		t.Fatalf("max uint256 parse = %v, %v", v, err)
	}
	if _, err := ParseBaseUnits("1.5"); err == nil {
		t.Error("fractional base units should fail")
	}
	if _, err := ParseBaseUnits("-3"); err == nil {
		t.Error("negative base units should fail")
	}
}
