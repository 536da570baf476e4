package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	PositionStatusOpen   = "open"
	PositionStatusClosed = "closed"
)

// MonitorState is the lifecycle state of a position under the monitor.
type MonitorState string

const (
	StateOpen             MonitorState = "open"
	StateTrailingAdjusted MonitorState = "trailing_adjusted"
	StateStopHit          MonitorState = "stop_hit"
	StateTargetHit        MonitorState = "target_hit"
	StateTimeExit         MonitorState = "time_exit"
	StatePatternFailExit  MonitorState = "pattern_fail_exit"
	StateClosed           MonitorState = "closed"
)

// IsExit reports whether the state requests a close.
func (s MonitorState) IsExit() bool {
	switch s {
	case StateStopHit, StateTargetHit, StateTimeExit, StatePatternFailExit:
		return true
	default:
		return false
	}
}

type Position struct {
	ID            string          `json:"id"`
	Symbol        string          `json:"symbol"`
	Side          Side            `json:"side"`
	Quantity      int64           `json:"quantity"`
	EntryPrice    decimal.Decimal `json:"entry_price"`
	InitialStop   decimal.Decimal `json:"initial_stop"`
	StopLoss      decimal.Decimal `json:"stop_loss"`
	TakeProfit    decimal.Decimal `json:"take_profit"`
	RiskAmount    decimal.Decimal `json:"risk_amount"`
	Status        string          `json:"status"`
	State         MonitorState    `json:"state"`
	LastPrice     decimal.Decimal `json:"last_price"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
	RealizedPnL   decimal.Decimal `json:"realized_pnl"`
	MaxFavorable  decimal.Decimal `json:"max_favorable"`
	MaxAdverse    decimal.Decimal `json:"max_adverse"`
	ExitReason    MonitorState    `json:"exit_reason,omitempty"`
	EntryOrderID  string          `json:"entry_order_id"`
	OpenedAt      time.Time       `json:"opened_at"`
	ClosedAt      *time.Time      `json:"closed_at,omitempty"`
}

// PnLAt returns the P&L of qty shares of the position valued at price.
func (p *Position) PnLAt(price decimal.Decimal, qty int64) decimal.Decimal {
	diff := price.Sub(p.EntryPrice)
	if p.Side == SideShort {
		diff = diff.Neg()
	}
	return diff.Mul(decimal.NewFromInt(qty))
}

// MarkToMarket updates last price, unrealized P&L and the excursion extremes.
func (p *Position) MarkToMarket(price decimal.Decimal) {
	p.LastPrice = price
	p.UnrealizedPnL = p.PnLAt(price, p.Quantity)
	if p.UnrealizedPnL.GreaterThan(p.MaxFavorable) {
		p.MaxFavorable = p.UnrealizedPnL
	}
	if p.UnrealizedPnL.LessThan(p.MaxAdverse) {
		p.MaxAdverse = p.UnrealizedPnL
	}
}

// Tick is a single price observation for a symbol.
type Tick struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
	At     time.Time       `json:"at"`
}
