package wallet

import (
	"strings"
	"testing"
)

const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

func TestGenerateMnemonic_Lengths(t *testing.T) {
	for _, words := range []int{12, 24} {
		mnemonic, err := GenerateMnemonic(words)
		if err != nil {
			t.Fatalf("GenerateMnemonic(%d) error: %v", words, err)
		}
		if got := len(strings.Fields(mnemonic)); got != words {
			t.Errorf("word count = %d, want %d", got, words)
		}
		if !ValidateMnemonic(mnemonic) {
			t.Errorf("generated %d-word mnemonic should validate", words)
		}
	}
}

func TestGenerateMnemonic_RejectsOtherLengths(t *testing.T) {
	for _, words := range []int{0, 15, 18, 21, 25} {
		if _, err := GenerateMnemonic(words); err == nil {
			t.Errorf("GenerateMnemonic(%d) should fail", words)
		}
	}
}

func TestGenerateMnemonic_Unique(t *testing.T) {
	m1, _ := GenerateMnemonic(24)
	m2, _ := GenerateMnemonic(24)
	if m1 == m2 {
		t.Error("two generated mnemonics should not be identical")
	}
}

func TestValidateMnemonic(t *testing.T) {
	tests := []struct {
		name     string
		mnemonic string
		valid    bool
	}{
		{"valid 12-word", testMnemonic, true},
		{"valid 24-word", strings.Repeat("abandon ", 23) + "art", true},
		{"valid 15-word but unsupported length", strings.Repeat("abandon ", 14) + "address", false},
		{"empty string", "", false},
		{"random words", "not a valid mnemonic phrase at all", false},
		{"wrong checksum", strings.TrimSpace(strings.Repeat("abandon ", 12)), false},
		{"unknown word", strings.Repeat("abandon ", 11) + "klingon", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidateMnemonic(tt.mnemonic); got != tt.valid {
				t.Errorf("ValidateMnemonic() = %v, want %v", got, tt.valid)
			}
		})
	}
}

func TestNormalizeMnemonic(t *testing.T) {
	messy := "  ABANDON abandon\tabandon abandon abandon abandon\nabandon abandon abandon abandon abandon About "
	if got := NormalizeMnemonic(messy); got != testMnemonic {
		t.Errorf("NormalizeMnemonic() = %q", got)
	}
}
