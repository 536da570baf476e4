package executors

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"tradefunnel/src/connectors"
	"tradefunnel/src/events"
	"tradefunnel/src/model"
	"tradefunnel/src/risk"
	"tradefunnel/src/sizing"
	"tradefunnel/src/tp_sl"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
)

var (
	ErrEntryFailed   = errors.New("entry submission failed")
	ErrEntryRejected = errors.New("entry not filled")
)

// RouterLedger is the part of the risk ledger touched by order execution.
type RouterLedger interface {
	Resize(ctx context.Context, positionID string, amount decimal.Decimal) error
	RecordExposure(positionID string, notional decimal.Decimal)
	Release(ctx context.Context, positionID string, realizedPnL decimal.Decimal)
	Halt(reason string)
}

// Router sends entry and exit orders to the execution gateway.
type Router struct {
	cfg     Config
	gateway connectors.ExecutionGateway
	ledger  RouterLedger
	sink    events.Sink
	log     *logger.Entry
	now     func() time.Time
}

func NewRouter(cfg Config, gateway connectors.ExecutionGateway, ledger RouterLedger, sink events.Sink, log *logger.Entry) *Router {
	if log == nil {
		log = logger.NewEntry(logger.StandardLogger())
	}
	if sink == nil {
		sink = events.Discard{}
	}
	if cfg.ExitAlertAfter <= 0 {
		cfg.ExitAlertAfter = 5
	}
	return &Router{
		cfg:     cfg,
		gateway: gateway,
		ledger:  ledger,
		sink:    sink,
		log:     log.WithField("component", "router"),
		now:     time.Now,
	}
}

// Enter submits a sized entry order and returns the opened position.
// The reservation of order.PositionID is released on anything but a fill.
// Once ctx is done, an in-flight submission gets SubmitGrace to finish.
func (r *Router) Enter(ctx context.Context, order model.Order) (model.Position, error) {
	log := r.log.WithFields(logger.Fields{
		"order_id":    order.ID,
		"position_id": order.PositionID,
		"symbol":      order.Symbol,
	})

	submitCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()
	go func() {
		select {
		case <-ctx.Done():
			select {
			case <-time.After(r.cfg.SubmitGrace):
				cancel()
			case <-submitCtx.Done():
			}
		case <-submitCtx.Done():
		}
	}()

	if err := order.Transition(model.OrderStatusSubmitted); err != nil {
		r.ledger.Release(ctx, order.PositionID, decimal.Zero)
		return model.Position{}, fmt.Errorf("%w: %w", ErrEntryFailed, err)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.cfg.EntryBackoffInitial
	b.MaxInterval = r.cfg.EntryBackoffMax
	b.MaxElapsedTime = 0

	attempts := 0
	var fill model.Fill
	op := func() error {
		attempts++
		f, err := r.gateway.Submit(submitCtx, order)
		if err != nil {
			if submitCtx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		fill = f
		return nil
	}
	notify := func(err error, next time.Duration) {
		log.WithError(err).WithFields(logger.Fields{
			"attempt": attempts,
			"retry":   next.String(),
		}).Warn("entry submission failed, retrying")
	}

	err := backoff.RetryNotify(op, backoff.WithContext(backoff.WithMaxRetries(b, r.cfg.EntryMaxRetries), ctx), notify)
	if err != nil {
		log.WithError(err).WithField("attempts", attempts).Error("entry submission gave up")
		r.cancelOrder(ctx, order.ID, log)
		r.ledger.Release(ctx, order.PositionID, decimal.Zero)
		return model.Position{}, fmt.Errorf("%w for %s after %d attempts: %w", ErrEntryFailed, order.Symbol, attempts, err)
	}

	if fill.Status != model.OrderStatusFilled || fill.FilledQuantity <= 0 {
		if fill.Status != model.OrderStatusRejected && fill.Status != model.OrderStatusCanceled {
			r.cancelOrder(ctx, order.ID, log)
		}
		r.ledger.Release(ctx, order.PositionID, decimal.Zero)
		log.WithFields(logger.Fields{
			"status": fill.Status,
			"reason": fill.Reason,
		}).Warn("entry not filled")
		return model.Position{}, fmt.Errorf("%w: %s %s %s", ErrEntryRejected, order.Symbol, fill.Status, fill.Reason)
	}
	_ = order.Transition(model.OrderStatusFilled)

	qty := fill.FilledQuantity
	if qty > order.Quantity {
		qty = order.Quantity
	}
	riskAmount := order.RiskAmount
	if qty < order.Quantity {
		riskAmount = order.RiskAmount.Mul(decimal.NewFromInt(qty)).Div(decimal.NewFromInt(order.Quantity))
		if err := r.ledger.Resize(ctx, order.PositionID, riskAmount); err != nil {
			log.WithError(err).Error("failed to resize reservation after partial fill")
			riskAmount = order.RiskAmount
		} else {
			log.WithFields(logger.Fields{
				"requested": order.Quantity,
				"filled":    qty,
			}).Warn("partial entry fill")
		}
	}

	fillPrice := fill.FillPrice
	if fillPrice.Sign() <= 0 {
		fillPrice = order.LimitPrice
	}
	stop, target := order.StopLoss, order.TakeProfit
	if order.LimitPrice.Sign() > 0 && !fillPrice.Equal(order.LimitPrice) {
		// keep the sized distances, anchored on the actual fill
		dist := order.LimitPrice.Sub(order.StopLoss).Abs()
		stop = tp_sl.StopPrice(order.PositionSide, fillPrice, dist)
		if target.Sign() > 0 && dist.Sign() > 0 {
			rr := target.Sub(order.LimitPrice).Abs().Div(dist)
			target = tp_sl.TargetPrice(order.PositionSide, fillPrice, dist, rr)
		}
	}

	r.ledger.RecordExposure(order.PositionID, fillPrice.Mul(decimal.NewFromInt(qty)))

	now := r.now()
	pos := model.Position{
		ID:           order.PositionID,
		Symbol:       order.Symbol,
		Side:         order.PositionSide,
		Quantity:     qty,
		EntryPrice:   fillPrice,
		InitialStop:  stop,
		StopLoss:     stop,
		TakeProfit:   target,
		RiskAmount:   riskAmount,
		Status:       model.PositionStatusOpen,
		State:        model.StateOpen,
		LastPrice:    fillPrice,
		EntryOrderID: order.ID,
		OpenedAt:     now,
	}

	r.sink.Emit(events.Event{
		Kind:       events.KindPositionOpened,
		At:         now.UTC(),
		PositionID: pos.ID,
		Symbol:     pos.Symbol,
		Message:    "position opened",
		Fields: map[string]string{
			"side":        string(pos.Side),
			"quantity":    strconv.FormatInt(qty, 10),
			"requested":   strconv.FormatInt(order.Quantity, 10),
			"fill_price":  fillPrice.String(),
			"stop_loss":   stop.String(),
			"take_profit": target.String(),
			"risk_amount": riskAmount.String(),
			"order_id":    order.ID,
		},
	})
	log.WithFields(logger.Fields{
		"quantity":   qty,
		"fill_price": fillPrice.String(),
		"stop_loss":  stop.String(),
	}).Info("position opened")
	return pos, nil
}

// cancelOrder cancels orderID with the gateway even when ctx is already done.
func (r *Router) cancelOrder(ctx context.Context, orderID string, log *logger.Entry) {
	cancelCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.SubmitGrace)
	defer cancel()
	status, err := r.gateway.Cancel(cancelCtx, orderID)
	if err != nil {
		log.WithError(err).Error("failed to cancel order")
		return
	}
	log.WithField("status", status).Info("order canceled")
}

// ClosePosition submits a market exit for qty shares and retries until the gateway
// answers with a fill or ctx ends. An exit the broker accepted but has not finished is
// canceled before anything is resubmitted, so at most one exit order is working.
// Every ExitAlertAfter failed attempts an alert is emitted; the first time the ledger
// is halted so no new entries open while a position cannot be closed.
func (r *Router) ClosePosition(ctx context.Context, p model.Position, qty int64) (model.Fill, error) {
	log := r.log.WithFields(logger.Fields{
		"position_id": p.ID,
		"symbol":      p.Symbol,
		"quantity":    qty,
	})

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.cfg.ExitBackoffInitial
	b.MaxInterval = r.cfg.ExitBackoffMax
	b.MaxElapsedTime = 0

	order := sizing.ExitOrder(p, qty, r.now())
	attempts := 0
	var fill model.Fill
	var working *model.Fill
	op := func() error {
		attempts++
		if working != nil {
			settled, err := r.settleExit(ctx, *working, qty, p)
			if err != nil {
				return err
			}
			working = nil
			if settled.FilledQuantity > 0 {
				fill = settled
				return nil
			}
			order = sizing.ExitOrder(p, qty, r.now())
		}

		f, err := r.gateway.Submit(ctx, order)
		if err != nil {
			// same order id on retry, the broker dedupes on it
			return err
		}
		f.OrderID = order.ID
		switch {
		case f.Status == model.OrderStatusRejected || f.Status == model.OrderStatusCanceled:
			// a new order id, the old one is final at the gateway
			order = sizing.ExitOrder(p, qty, r.now())
			return fmt.Errorf("exit %s: %s", f.Status, f.Reason)
		case f.Status == model.OrderStatusFilled && f.FilledQuantity >= qty:
			fill = f
			return nil
		default:
			working = &f
			return fmt.Errorf("exit %s still working: %s, filled %d of %d", order.ID, f.Status, f.FilledQuantity, qty)
		}
	}
	notify := func(err error, next time.Duration) {
		log.WithError(err).WithFields(logger.Fields{
			"attempt": attempts,
			"retry":   next.String(),
		}).Warn("exit submission failed, retrying")
		if attempts == r.cfg.ExitAlertAfter {
			r.ledger.Halt(risk.ReasonExitFailure)
		}
		if attempts%r.cfg.ExitAlertAfter == 0 {
			r.sink.Emit(events.Event{
				Kind:       events.KindAlert,
				At:         r.now().UTC(),
				PositionID: p.ID,
				Symbol:     p.Symbol,
				Message:    "position exit keeps failing",
				Fields: map[string]string{
					"module":   "router",
					"method":   "ClosePosition",
					"attempts": strconv.Itoa(attempts),
					"error":    err.Error(),
				},
			})
		}
	}

	if err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify); err != nil {
		if working != nil {
			r.cancelOrder(ctx, working.OrderID, log)
		}
		return model.Fill{}, fmt.Errorf("close %s after %d attempts: %w", p.ID, attempts, err)
	}
	return fill, nil
}

// settleExit cancels a working exit order and reports what it filled. A zero
// FilledQuantity means nothing filled and a fresh order may be sent.
func (r *Router) settleExit(ctx context.Context, working model.Fill, qty int64, p model.Position) (model.Fill, error) {
	status, err := r.gateway.Cancel(ctx, working.OrderID)
	if err != nil {
		return model.Fill{}, fmt.Errorf("cancel working exit %s: %w", working.OrderID, err)
	}
	switch status {
	case model.OrderStatusFilled:
		// the rest filled before the cancel landed
		price := working.FillPrice
		if price.Sign() <= 0 {
			price = p.LastPrice
		}
		return model.Fill{OrderID: working.OrderID, Status: model.OrderStatusFilled, FilledQuantity: qty, FillPrice: price}, nil
	case model.OrderStatusCanceled, model.OrderStatusRejected:
		if working.FilledQuantity > 0 {
			return model.Fill{
				OrderID:        working.OrderID,
				Status:         model.OrderStatusFilled,
				FilledQuantity: working.FilledQuantity,
				FillPrice:      working.FillPrice,
			}, nil
		}
		return model.Fill{OrderID: working.OrderID, Status: status}, nil
	default:
		return model.Fill{}, fmt.Errorf("working exit %s not canceled yet: %s", working.OrderID, status)
	}
}
