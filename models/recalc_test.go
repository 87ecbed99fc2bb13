package models

import (
	"testing"
)

func TestScaleEntryLines_TwoLineCostEntry(t *testing.T) {
	entry := &JournalEntry{
		ID:          7,
		TotalAmount: d("20.00"),
		Lines: []JournalLine{
			{AccountId: 1, Debit: d("20.00")},
			{AccountId: 2, Credit: d("20.00")},
		},
	}
	lines, err := scaleEntryLines(entry, d("24.00"))
	if err != nil {
		t.Fatalf("scaleEntryLines: %v", err)
	}
	if !lines[0].Debit.Equal(d("24.00")) {
		t.Fatalf("debit = %s, want 24.00", lines[0].Debit)
	}
	if !lines[1].Credit.Equal(d("24.00")) {
		t.Fatalf("credit = %s, want 24.00", lines[1].Credit)
	}
}

func TestScaleEntryLines_RoundingDriftStaysBalanced(t *testing.T) {
	// Three-way split that cannot scale cleanly: the drift lands on the
	// largest line of each side and the totals still match exactly.
	entry := &JournalEntry{
		ID:          8,
		TotalAmount: d("100.00"),
		Lines: []JournalLine{
			{AccountId: 1, Debit: d("66.67")},
			{AccountId: 2, Debit: d("33.33")},
			{AccountId: 3, Credit: d("100.00")},
		},
	}
	newTotal := d("101.00")
	lines, err := scaleEntryLines(entry, newTotal)
	if err != nil {
		t.Fatalf("scaleEntryLines: %v", err)
	}

	debitSum, creditSum := d("0"), d("0")
	for _, l := range lines {
		debitSum = debitSum.Add(l.Debit)
		creditSum = creditSum.Add(l.Credit)
	}
	if !debitSum.Equal(newTotal) {
		t.Fatalf("debit total = %s, want %s", debitSum, newTotal)
	}
	if !creditSum.Equal(newTotal) {
		t.Fatalf("credit total = %s, want %s", creditSum, newTotal)
	}
}

func TestEffectiveEntryTotal_FoldsActiveAdjustment(t *testing.T) {
	entry := &JournalEntry{
		ID:          10,
		TotalAmount: d("20.00"),
		Lines: []JournalLine{
			{AccountId: 1, Debit: d("20.00")},
			{AccountId: 2, Credit: d("20.00")},
		},
	}
	if got := effectiveEntryTotal(entry, nil); !got.Equal(d("20.00")) {
		t.Fatalf("without adjustment = %s, want 20.00", got)
	}

	adjustment := &JournalEntry{
		Lines: []JournalLine{
			{AccountId: 1, Debit: d("4.00")},
			{AccountId: 2, Credit: d("4.00")},
		},
	}
	if got := effectiveEntryTotal(entry, adjustment); !got.Equal(d("24.00")) {
		t.Fatalf("with adjustment = %s, want 24.00", got)
	}

	downward := &JournalEntry{
		Lines: []JournalLine{
			{AccountId: 1, Credit: d("3.00")},
			{AccountId: 2, Debit: d("3.00")},
		},
	}
	if got := effectiveEntryTotal(entry, downward); !got.Equal(d("17.00")) {
		t.Fatalf("with downward adjustment = %s, want 17.00", got)
	}
}

func TestRestatement_SecondRecalcBuildsOnEffectiveTotal(t *testing.T) {
	// A cost entry restated twice in a row: 20.00 -> 24.00 -> 25.00. The
	// second pass must target effective + delta, not original + delta, or
	// the ledger lands at 21.00 while the move log carries 25.00.
	entry := &JournalEntry{
		ID:          11,
		TotalAmount: d("20.00"),
		Lines: []JournalLine{
			{AccountId: 5000, Debit: d("20.00")},
			{AccountId: 1200, Credit: d("20.00")},
		},
	}

	// First recalc: move cost 20.00 -> 24.00, delta +4.00.
	desired1, err := scaleEntryLines(entry, effectiveEntryTotal(entry, nil).Add(d("4.00")))
	if err != nil {
		t.Fatalf("first restate: %v", err)
	}
	adjLines1 := computeAdjustmentLines(netBalancesByAccount(entry.Lines), netBalancesByAccount(toJournalLines(desired1)))
	adjustment1 := &JournalEntry{Lines: toJournalLines(adjLines1)}

	// Second recalc: move cost 24.00 -> 25.00, delta +1.00 against the
	// persisted (already restated) cost.
	effective := effectiveEntryTotal(entry, adjustment1)
	if !effective.Equal(d("24.00")) {
		t.Fatalf("effective total before second pass = %s, want 24.00", effective)
	}
	desired2, err := scaleEntryLines(entry, effective.Add(d("1.00")))
	if err != nil {
		t.Fatalf("second restate: %v", err)
	}
	adjLines2 := computeAdjustmentLines(netBalancesByAccount(entry.Lines), netBalancesByAccount(toJournalLines(desired2)))
	adjustment2 := &JournalEntry{Lines: toJournalLines(adjLines2)}

	// After superseding, the live ledger is original + adjustment2; it must
	// carry exactly the move's new cost.
	final := effectiveEntryTotal(entry, adjustment2)
	if !final.Equal(d("25.00")) {
		t.Fatalf("effective total after second pass = %s, want 25.00", final)
	}
}

func toJournalLines(lines []NewJournalLine) []JournalLine {
	out := make([]JournalLine, 0, len(lines))
	for _, l := range lines {
		out = append(out, JournalLine{AccountId: l.AccountId, Debit: l.Debit, Credit: l.Credit})
	}
	return out
}

func TestScaleEntryLines_RejectsNonPositiveTargets(t *testing.T) {
	entry := &JournalEntry{
		ID:          9,
		TotalAmount: d("20.00"),
		Lines: []JournalLine{
			{AccountId: 1, Debit: d("20.00")},
			{AccountId: 2, Credit: d("20.00")},
		},
	}
	if _, err := scaleEntryLines(entry, d("0")); err == nil {
		t.Fatal("zero target must be rejected")
	}
	if _, err := scaleEntryLines(entry, d("-5.00")); err == nil {
		t.Fatal("negative target must be rejected")
	}
}
