package types

import "testing"

func TestTxStatus_CanTransition(t *testing.T) {
	tests := []struct {
		from, to TxStatus
		want     bool
	}{
		{StatusPending, StatusPending, true},
		{StatusPending, StatusConfirmed, true},
		{StatusPending, StatusFailed, true},
		{StatusConfirmed, StatusPending, false},
		{StatusFailed, StatusPending, false},
		{StatusConfirmed, StatusFailed, false},
		{StatusFailed, StatusConfirmed, false},
		{StatusConfirmed, StatusConfirmed, true},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransition(tt.to); got != tt.want {
			t.Errorf("%s -> %s = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestTransactionRecord_Validate(t *testing.T) {
	r := TransactionRecord{WalletID: "w", Chain: "bitcoin", TxHash: "ab", Status: StatusPending}
	if err := r.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	r.Status = "lost"
	if err := r.Validate(); err == nil {
		t.Error("invalid status should fail")
	}
	r.Status = StatusPending
	r.TxHash = ""
	if err := r.Validate(); err == nil {
		t.Error("missing hash should fail")
	}
}

func TestParseTier(t *testing.T) {
	if tier, err := ParseTier(""); err != nil || tier != TierAvg {
		t.Errorf("ParseTier(\"\") = %s, %v", tier, err)
	}
	if _, err := ParseTier("turbo"); err == nil {
		t.Error("unknown tier should fail")
	}
	b := BitcoinFeeTiers{Slow: 2, Avg: 5, Fast: 9}
	if b.Rate(TierFast) != 9 || b.Rate(TierSlow) != 2 || b.Rate(TierAvg) != 5 {
		t.Error("Rate tier mapping mismatch")
	}
}
