package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const (
	OrderDirectionEntry = "entry"
	OrderDirectionExit  = "exit"
)

type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
	OrderTypeStop   OrderType = "stop"
)

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusSubmitted OrderStatus = "submitted"
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusRejected  OrderStatus = "rejected"
	OrderStatusCanceled  OrderStatus = "canceled"
)

// Order represents an order that the system sends to the execution gateway.
type Order struct {
	ID             string          `json:"id"`
	PositionID     string          `json:"position_id"`
	Symbol         string          `json:"symbol"`
	Side           OrderSide       `json:"side"`
	PositionSide   Side            `json:"position_side"`
	Type           OrderType       `json:"type"`
	Direction      string          `json:"direction"` // entry, exit
	Quantity       int64           `json:"quantity"`
	LimitPrice     decimal.Decimal `json:"limit_price"`
	StopPrice      decimal.Decimal `json:"stop_price"`
	StopLoss       decimal.Decimal `json:"stop_loss"`
	TakeProfit     decimal.Decimal `json:"take_profit"`
	RiskAmount     decimal.Decimal `json:"risk_amount"`
	Status         OrderStatus     `json:"status"`
	FilledQuantity int64           `json:"filled_quantity"`
	FillPrice      decimal.Decimal `json:"fill_price"`
	RejectReason   string          `json:"reject_reason,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	ExecutedAt     *time.Time      `json:"executed_at,omitempty"`
}

// IsTerminal reports whether the order can no longer change status.
func (o *Order) IsTerminal() bool {
	switch o.Status {
	case OrderStatusFilled, OrderStatusRejected, OrderStatusCanceled:
		return true
	default:
		return false
	}
}

// Transition moves the order along pending -> submitted -> filled|rejected|canceled.
// A pending order may also be rejected or canceled before it reaches the gateway.
func (o *Order) Transition(to OrderStatus) error {
	if o.IsTerminal() {
		return fmt.Errorf("order %s already %s, cannot move to %s", o.ID, o.Status, to)
	}
	switch {
	case o.Status == OrderStatusPending && to == OrderStatusSubmitted,
		o.Status == OrderStatusPending && (to == OrderStatusRejected || to == OrderStatusCanceled),
		o.Status == OrderStatusSubmitted && (to == OrderStatusFilled || to == OrderStatusRejected || to == OrderStatusCanceled):
		o.Status = to
		return nil
	}
	return fmt.Errorf("invalid order transition %s -> %s for %s", o.Status, to, o.ID)
}

// Fill is the gateway's answer to a submitted order.
type Fill struct {
	OrderID        string          `json:"order_id"`
	Status         OrderStatus     `json:"status"`
	FillPrice      decimal.Decimal `json:"fill_price"`
	FilledQuantity int64           `json:"filled_quantity"`
	Reason         string          `json:"reason,omitempty"`
}

// Partial reports whether fewer shares than requested were filled.
func (f Fill) Partial(requested int64) bool {
	return f.Status == OrderStatusFilled && f.FilledQuantity > 0 && f.FilledQuantity < requested
}

// Equity is the account snapshot used for sizing.
type Equity struct {
	Equity      decimal.Decimal `json:"equity"`
	BuyingPower decimal.Decimal `json:"buying_power"`
}
