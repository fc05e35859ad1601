package model

import (
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
	"pgregory.net/rapid"
)

func TestUnitsRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		decimals := rapid.SampledFrom([]uint8{6, 8, 18}).Draw(t, "decimals")
		whole := rapid.Int64Range(0, 1_000_000_000).Draw(t, "whole")
		frac := rapid.Int64Range(0, 999_999).Draw(t, "frac")

		// frac carries at most six digits so it fits every exponent.
		amount := decimal.New(whole, 0).Add(decimal.New(frac, -6))
		units, err := ToUnits(amount, decimals)
		if err != nil {
			t.Fatalf("to units: %v", err)
		}
		back := FromUnits(units, decimals)
		if !back.Equal(amount) {
			t.Fatalf("round trip mismatch: %s != %s", back, amount)
		}
		again, err := ToUnits(back, decimals)
		if err != nil {
			t.Fatalf("to units again: %v", err)
		}
		if again.Cmp(units) != 0 {
			t.Fatalf("units mismatch: %s != %s", again, units)
		}
	})
}

func TestToUnitsScaling(t *testing.T) {
	got, err := ToUnits(decimal.RequireFromString("1.0"), 18)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want, _ := new(big.Int).SetString("1000000000000000000", 10)
	if got.Cmp(want) != 0 {
		t.Fatalf("units mismatch: %s != %s", got, want)
	}

	got, err = ToUnits(decimal.RequireFromString("995"), 6)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Cmp(big.NewInt(995_000_000)) != 0 {
		t.Fatalf("units mismatch: %s", got)
	}
}

func TestToUnitsRejectsExcessPrecision(t *testing.T) {
	if _, err := ToUnits(decimal.RequireFromString("0.0000001"), 6); err == nil {
		t.Fatalf("expected error for excess precision")
	}
	if _, err := ToUnits(decimal.RequireFromString("-1"), 18); err == nil {
		t.Fatalf("expected error for negative amount")
	}
}
