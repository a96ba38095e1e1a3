package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInvoiceSettledBy(t *testing.T) {
	inv := &Invoice{Amount: 1000}
	tests := []struct {
		name string
		st   *Settlement
		want bool
	}{
		{name: "nil", st: nil, want: false},
		{name: "unpaid", st: &Settlement{Paid: false, Amount: 1000, AmountReported: true}, want: false},
		{name: "paid in full", st: &Settlement{Paid: true, Amount: 1000, AmountReported: true}, want: true},
		{name: "overpaid", st: &Settlement{Paid: true, Amount: 1500, AmountReported: true}, want: true},
		{name: "underpaid", st: &Settlement{Paid: true, Amount: 999, AmountReported: true}, want: false},
		{name: "paid without amount", st: &Settlement{Paid: true}, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, inv.SettledBy(tt.st))
		})
	}
}
