package usd

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestFormat(t *testing.T) {
	tests := map[string]string{
		"8500":        "$8,500.00",
		"0":           "$0.00",
		"187.37":      "$187.37",
		"0.005":       "$0.01",
		"1234567.891": "$1,234,567.89",
		"-42.5":       "-$42.50",
	}
	for in, want := range tests {
		if got := Format(decimal.RequireFromString(in)); got != want {
			t.Errorf("Format(%s) = %q, want %q", in, got, want)
		}
	}
}
