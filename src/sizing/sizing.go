package sizing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tradefunnel/src/model"
	"tradefunnel/src/tp_sl"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
)

var (
	ErrSizeTooSmall = errors.New("computed quantity is zero")
	ErrNoVolatility = errors.New("candidate has no volatility measure")
	ErrNoPrice      = errors.New("candidate has no price")
	// ErrRejected marks a policy denial by the risk ledger. It is not a system failure.
	ErrRejected = errors.New("reservation rejected")
)

// RejectionError carries the ledger's reason code.
type RejectionError struct {
	Symbol string
	Reason string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("reservation for %s rejected: %s", e.Symbol, e.Reason)
}

func (e *RejectionError) Is(target error) bool { return target == ErrRejected }

// Reserver is the part of the risk ledger sizing depends on.
type Reserver interface {
	Reserve(ctx context.Context, amount decimal.Decimal, positionID string) (bool, string)
}

type Engine struct {
	cfg    Config
	ledger Reserver
	log    *logger.Entry
	now    func() time.Time
}

func NewEngine(cfg Config, ledger Reserver, log *logger.Entry) *Engine {
	if log == nil {
		log = logger.NewEntry(logger.StandardLogger())
	}
	return &Engine{cfg: cfg, ledger: ledger, log: log.WithField("component", "sizing"), now: time.Now}
}

// Quantity returns the whole-share size and the stop distance for the candidate,
// without touching the ledger.
func (e *Engine) Quantity(c model.Candidate, account model.Equity) (int64, decimal.Decimal, error) {
	if c.ATR.Sign() <= 0 {
		return 0, decimal.Zero, ErrNoVolatility
	}
	if c.LastPrice.Sign() <= 0 {
		return 0, decimal.Zero, ErrNoPrice
	}
	stopDistance := c.ATR.Mul(decimal.NewFromFloat(e.cfg.ATRMultiplier))
	if stopDistance.Sign() <= 0 {
		return 0, decimal.Zero, ErrNoVolatility
	}

	riskDollars := account.Equity.Mul(decimal.NewFromFloat(e.cfg.RiskPerTrade))
	qty := riskDollars.Div(stopDistance).Floor()

	if e.cfg.MaxNotionalPct > 0 {
		maxNotional := account.Equity.Mul(decimal.NewFromFloat(e.cfg.MaxNotionalPct))
		qty = decimal.Min(qty, maxNotional.Div(c.LastPrice).Floor())
	}
	if account.BuyingPower.Sign() > 0 {
		qty = decimal.Min(qty, account.BuyingPower.Div(c.LastPrice).Floor())
	}

	if qty.Sign() <= 0 {
		return 0, stopDistance, ErrSizeTooSmall
	}
	return qty.IntPart(), stopDistance, nil
}

// Size computes an entry order for the candidate and reserves its risk amount.
// A denied reservation returns a *RejectionError.
func (e *Engine) Size(ctx context.Context, c model.Candidate, account model.Equity) (model.Order, error) {
	qty, stopDistance, err := e.Quantity(c, account)
	if err != nil {
		return model.Order{}, fmt.Errorf("sizing %s: %w", c.Symbol, err)
	}

	riskAmount := stopDistance.Mul(decimal.NewFromInt(qty))
	positionID := uuid.NewString()

	granted, reason := e.ledger.Reserve(ctx, riskAmount, positionID)
	if !granted {
		e.log.WithFields(logger.Fields{
			"symbol":      c.Symbol,
			"risk_amount": riskAmount.StringFixed(2),
			"reason":      reason,
		}).Info("reservation denied")
		return model.Order{}, &RejectionError{Symbol: c.Symbol, Reason: reason}
	}

	side := c.EffectiveSide()
	order := model.Order{
		ID:           uuid.NewString(),
		PositionID:   positionID,
		Symbol:       c.Symbol,
		Side:         EntrySide(side),
		PositionSide: side,
		Type:         model.OrderTypeMarket,
		Direction:    model.OrderDirectionEntry,
		Quantity:     qty,
		LimitPrice:   c.LastPrice,
		StopLoss:     tp_sl.StopPrice(side, c.LastPrice, stopDistance),
		TakeProfit:   tp_sl.TargetPrice(side, c.LastPrice, stopDistance, decimal.NewFromFloat(e.cfg.RewardRiskRatio)),
		RiskAmount:   riskAmount,
		Status:       model.OrderStatusPending,
		CreatedAt:    e.now(),
	}

	e.log.WithFields(logger.Fields{
		"symbol":      order.Symbol,
		"position_id": positionID,
		"quantity":    qty,
		"stop_loss":   order.StopLoss.StringFixed(4),
		"take_profit": order.TakeProfit.StringFixed(4),
		"risk_amount": riskAmount.StringFixed(2),
	}).Debug("order sized")

	return order, nil
}

// ExitOrder builds the market order closing quantity shares of the position.
func (e *Engine) ExitOrder(p model.Position, quantity int64) model.Order {
	return ExitOrder(p, quantity, e.now())
}

func ExitOrder(p model.Position, quantity int64, at time.Time) model.Order {
	return model.Order{
		ID:           uuid.NewString(),
		PositionID:   p.ID,
		Symbol:       p.Symbol,
		Side:         ExitSide(p.Side),
		PositionSide: p.Side,
		Type:         model.OrderTypeMarket,
		Direction:    model.OrderDirectionExit,
		Quantity:     quantity,
		Status:       model.OrderStatusPending,
		CreatedAt:    at,
	}
}

func EntrySide(s model.Side) model.OrderSide {
	if s == model.SideShort {
		return model.OrderSideSell
	}
	return model.OrderSideBuy
}

func ExitSide(s model.Side) model.OrderSide {
	if s == model.SideShort {
		return model.OrderSideBuy
	}
	return model.OrderSideSell
}
