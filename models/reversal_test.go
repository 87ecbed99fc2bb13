package models

import (
	"testing"
)

func TestNetBalancesByAccount(t *testing.T) {
	nets := netBalancesByAccount([]JournalLine{
		{AccountId: 1, Debit: d("100.00")},
		{AccountId: 2, Credit: d("93.00")},
		{AccountId: 3, Credit: d("7.00")},
		{AccountId: 1, Debit: d("0.50")},
	})
	if !nets[1].Equal(d("100.50")) {
		t.Fatalf("account 1 net = %s, want 100.50", nets[1])
	}
	if !nets[2].Equal(d("-93.00")) {
		t.Fatalf("account 2 net = %s, want -93.00", nets[2])
	}
	if !nets[3].Equal(d("-7.00")) {
		t.Fatalf("account 3 net = %s, want -7.00", nets[3])
	}
}

func TestComputeAdjustmentLines_MinimalDelta(t *testing.T) {
	original := netBalancesByAccount([]JournalLine{
		{AccountId: 1, Debit: d("100.00")},
		{AccountId: 2, Credit: d("100.00")},
	})
	desired := netBalancesByAccount([]JournalLine{
		{AccountId: 1, Debit: d("107.00")},
		{AccountId: 2, Credit: d("100.00")},
		{AccountId: 3, Credit: d("7.00")},
	})

	lines := computeAdjustmentLines(original, desired)
	// Account 2 is unchanged, so the delta touches only accounts 1 and 3.
	if len(lines) != 2 {
		t.Fatalf("lines = %d, want 2", len(lines))
	}
	if lines[0].AccountId != 1 || !lines[0].Debit.Equal(d("7.00")) {
		t.Fatalf("line 0 = %+v, want debit 7.00 on account 1", lines[0])
	}
	if lines[1].AccountId != 3 || !lines[1].Credit.Equal(d("7.00")) {
		t.Fatalf("line 1 = %+v, want credit 7.00 on account 3", lines[1])
	}
}

func TestComputeAdjustmentLines_SignFlip(t *testing.T) {
	origNets := netBalancesByAccount([]JournalLine{
		{AccountId: 1, Debit: d("50.00")},
		{AccountId: 2, Credit: d("50.00")},
	})
	desiredNets := netBalancesByAccount([]JournalLine{
		{AccountId: 2, Debit: d("50.00")},
		{AccountId: 1, Credit: d("50.00")},
	})
	lines := computeAdjustmentLines(origNets, desiredNets)
	if len(lines) != 2 {
		t.Fatalf("lines = %d, want 2", len(lines))
	}
	if lines[0].AccountId != 1 || !lines[0].Credit.Equal(d("100.00")) {
		t.Fatalf("line 0 = %+v, want credit 100.00 on account 1", lines[0])
	}
	if lines[1].AccountId != 2 || !lines[1].Debit.Equal(d("100.00")) {
		t.Fatalf("line 1 = %+v, want debit 100.00 on account 2", lines[1])
	}
}

func TestAdjustmentIsNoop(t *testing.T) {
	a := netBalancesByAccount([]JournalLine{
		{AccountId: 1, Debit: d("10.00")},
		{AccountId: 2, Credit: d("10.00")},
	})
	b := netBalancesByAccount([]JournalLine{
		{AccountId: 1, Debit: d("10.00")},
		{AccountId: 2, Credit: d("10.00")},
	})
	if !adjustmentIsNoop(a, b) {
		t.Fatal("identical nets should be a noop")
	}

	c := netBalancesByAccount([]JournalLine{
		{AccountId: 1, Debit: d("10.00")},
		{AccountId: 3, Credit: d("10.00")},
	})
	if adjustmentIsNoop(a, c) {
		t.Fatal("differing account sets must not be a noop")
	}

	// Zero-net accounts on one side only must still compare equal.
	e := netBalancesByAccount([]JournalLine{
		{AccountId: 1, Debit: d("10.00")},
		{AccountId: 2, Credit: d("10.00")},
		{AccountId: 5, Debit: d("3.00")},
		{AccountId: 5, Credit: d("3.00")},
	})
	if !adjustmentIsNoop(a, e) {
		t.Fatal("account netting to zero should not break noop detection")
	}
}

func TestReceiveJournalLines_Validation(t *testing.T) {
	if _, _, _, err := receiveJournalLines([]NewJournalLine{
		{AccountId: 1, Debit: d("-5.00")},
		{AccountId: 2, Credit: d("-5.00")},
	}); err == nil {
		t.Fatal("negative amounts must be rejected")
	}

	if _, _, _, err := receiveJournalLines([]NewJournalLine{
		{AccountId: 1, Debit: d("5.00"), Credit: d("5.00")},
		{AccountId: 2, Credit: d("5.00")},
	}); err == nil {
		t.Fatal("a line with both sides positive must be rejected")
	}

	lines, totalDebit, totalCredit, err := receiveJournalLines([]NewJournalLine{
		{AccountId: 1, Debit: d("100.005")},
		{AccountId: 2, Credit: d("100.004")},
	})
	if err != nil {
		t.Fatalf("receiveJournalLines: %v", err)
	}
	if !lines[0].Debit.Equal(d("100.01")) {
		t.Fatalf("debit rounded to %s, want 100.01", lines[0].Debit)
	}
	if !totalDebit.Equal(d("100.01")) || !totalCredit.Equal(d("100.00")) {
		t.Fatalf("totals = %s / %s, rounding must happen per line before summing", totalDebit, totalCredit)
	}
}
