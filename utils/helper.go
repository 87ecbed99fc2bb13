package utils

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Money amounts are stored and compared at 2 decimal places, tax rates at 4.
const (
	MoneyPrecision = 2
	RatePrecision  = 4
)

// RoundMoney rounds to money precision. Every intermediate sum must pass
// through here before being compared, otherwise accumulation drift leaks
// into balance checks.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyPrecision)
}

func RoundRate(d decimal.Decimal) decimal.Decimal {
	return d.Round(RatePrecision)
}

// CalculateTaxAmount computes tax on an amount. Rates are percentages
// (7 means 7%), kept at rate precision; the result is money precision.
func CalculateTaxAmount(totalAmount decimal.Decimal, taxRate decimal.Decimal, isTaxInclusive bool) decimal.Decimal {
	decimalOneHundred := decimal.NewFromInt(100)
	var taxAmount decimal.Decimal
	if isTaxInclusive {
		// Tax-inclusive: (totalAmount / (100 + taxRate)) * taxRate
		taxAmount = totalAmount.DivRound(taxRate.Add(decimalOneHundred), RatePrecision).Mul(taxRate)
	} else {
		// Tax-exclusive: (totalAmount / 100) * taxRate
		taxAmount = totalAmount.DivRound(decimalOneHundred, RatePrecision).Mul(taxRate)
	}
	return RoundMoney(taxAmount)
}

func NewTrue() *bool {
	b := true
	return &b
}

func UniqueSlice[T comparable](slice []T) []T {
	seen := make(map[T]bool)
	result := []T{}
	for _, v := range slice {
		if !seen[v] {
			seen[v] = true
			result = append(result, v)
		}
	}
	return result
}

// ConvertToDate truncates a timestamp to the company's local calendar date.
// Period-close comparisons are date-level, not instant-level.
func ConvertToDate(t time.Time, timezone string) (time.Time, error) {
	if timezone == "" {
		timezone = "UTC"
	}

	location, err := time.LoadLocation(timezone)
	if err != nil {
		fmt.Println("Error loading location:", err)
		return t, err
	}
	localTime := t.In(location)

	dateOnly := time.Date(localTime.Year(), localTime.Month(), localTime.Day(), 0, 0, 0, 0, location)
	return dateOnly, nil
}

