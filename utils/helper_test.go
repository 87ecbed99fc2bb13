package utils

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func mustTime(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return ts
}

func dec(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestCalculateTaxAmount(t *testing.T) {
	// 7% on a 100.00 net gives 7.00 tax; the same invoice quoted gross at
	// 107.00 must yield the identical tax amount.
	exclusive := CalculateTaxAmount(dec("100.00"), dec("7"), false)
	if !exclusive.Equal(dec("7.00")) {
		t.Fatalf("exclusive tax = %s, want 7.00", exclusive)
	}
	inclusive := CalculateTaxAmount(dec("107.00"), dec("7"), true)
	if !inclusive.Equal(dec("7.00")) {
		t.Fatalf("inclusive tax = %s, want 7.00", inclusive)
	}
}

func TestCalculateTaxAmount_RoundsToMoney(t *testing.T) {
	got := CalculateTaxAmount(dec("99.99"), dec("7.5"), false)
	if got.Exponent() < -2 {
		t.Fatalf("tax %s not at money precision", got)
	}
	if !got.Equal(dec("7.50")) {
		t.Fatalf("tax = %s, want 7.50", got)
	}
}

func TestRoundMoney(t *testing.T) {
	if got := RoundMoney(dec("10.005")); !got.Equal(dec("10.01")) {
		t.Fatalf("RoundMoney(10.005) = %s, want 10.01", got)
	}
	if got := RoundMoney(dec("10.004")); !got.Equal(dec("10.00")) {
		t.Fatalf("RoundMoney(10.004) = %s, want 10.00", got)
	}
}

func TestConvertToDate(t *testing.T) {
	// 2026-03-01 02:00 UTC is still 2026-02-28 in New York.
	ts := mustTime(t, "2026-03-01T02:00:00Z")
	got, err := ConvertToDate(ts, "America/New_York")
	if err != nil {
		t.Fatalf("ConvertToDate: %v", err)
	}
	if got.Year() != 2026 || got.Month() != 2 || got.Day() != 28 {
		t.Fatalf("date = %s, want 2026-02-28", got)
	}
	if got.Hour() != 0 || got.Minute() != 0 {
		t.Fatalf("date %s not truncated to midnight", got)
	}
}

func TestUniqueSlice(t *testing.T) {
	got := UniqueSlice([]string{"b", "a", "b", "c", "a"})
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	// Order of first appearance is preserved.
	if got[0] != "b" || got[1] != "a" || got[2] != "c" {
		t.Fatalf("got %v, want [b a c]", got)
	}
}
