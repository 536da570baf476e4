package model

import "github.com/shopspring/decimal"

// RiskBudget is a read-only view of the risk ledger.
type RiskBudget struct {
	TotalBudget   decimal.Decimal            `json:"total_budget"`
	UsedBudget    decimal.Decimal            `json:"used_budget"`
	OpenExposure  decimal.Decimal            `json:"open_exposure"`
	OpenPositions int                        `json:"open_positions"`
	MaxConcurrent int                        `json:"max_concurrent"`
	MaxDailyLoss  decimal.Decimal            `json:"max_daily_loss"`
	DailyPnL      decimal.Decimal            `json:"daily_pnl"`
	Halted        bool                       `json:"halted"`
	HaltReason    string                     `json:"halt_reason,omitempty"`
	Reservations  map[string]decimal.Decimal `json:"reservations,omitempty"`
}

// Remaining is the unreserved part of the budget.
func (b RiskBudget) Remaining() decimal.Decimal {
	r := b.TotalBudget.Sub(b.UsedBudget)
	if r.IsNegative() {
		return decimal.Zero
	}
	return r
}

// DailyLoss is the realized loss so far today, zero when P&L is positive.
func (b RiskBudget) DailyLoss() decimal.Decimal {
	if b.DailyPnL.IsNegative() {
		return b.DailyPnL.Neg()
	}
	return decimal.Zero
}
