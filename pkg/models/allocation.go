package models

import "github.com/shopspring/decimal"

// Allocation is how one signed amount was spread across a loan's components.
// For a reversal the component amounts are negative.
type Allocation struct {
	Interest  decimal.Decimal `json:"interest"`
	Penalty   decimal.Decimal `json:"penalty"`
	Principal decimal.Decimal `json:"principal"`
	Excess    decimal.Decimal `json:"excess"` // Amount that could not be placed
}

// Applied returns the part of the amount that landed on the loan.
func (a Allocation) Applied() decimal.Decimal {
	return a.Interest.Add(a.Penalty).Add(a.Principal)
}

// AllocationOf reads the breakdown stored on a payment.
func AllocationOf(p *Payment) Allocation {
	return Allocation{
		Interest:  p.InterestAmount,
		Penalty:   p.PenaltyAmount,
		Principal: p.PrincipalAmount,
		Excess:    p.ExcessAmount,
	}
}
