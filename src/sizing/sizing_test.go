package sizing

import (
	"context"
	"errors"
	"testing"

	"tradefunnel/src/events"
	"tradefunnel/src/model"
	"tradefunnel/src/risk"

	"github.com/shopspring/decimal"
	logrustest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newLedger(total float64, maxConcurrent int) *risk.Ledger {
	log, _ := logrustest.NewNullLogger()
	return risk.NewLedger(risk.Config{
		TotalBudget:   total,
		MaxConcurrent: maxConcurrent,
		MaxDailyLoss:  500,
	}, events.Discard{}, log.WithField("test", "sizing"))
}

func newEngine(ledger Reserver) *Engine {
	log, _ := logrustest.NewNullLogger()
	return NewEngine(DefaultConfig(), ledger, log.WithField("test", "sizing"))
}

func candidate(symbol, price, atr string) model.Candidate {
	return model.Candidate{Symbol: symbol, LastPrice: d(price), ATR: d(atr), Volume: 1_000_000}
}

func TestSize_ComputesQuantityStopAndTarget(t *testing.T) {
	ledger := newLedger(1000, 5)
	engine := newEngine(ledger)

	// equity 100k, 1% risk = 1000; stop = 2*1.5 = 3 -> 333 shares,
	// notional cap 25k / 50 = 500, so the risk quantity wins
	order, err := engine.Size(context.Background(), candidate("AAPL", "50", "2"),
		model.Equity{Equity: d("100000"), BuyingPower: d("100000")})
	require.NoError(t, err)

	assert.Equal(t, int64(333), order.Quantity)
	assert.True(t, order.RiskAmount.Equal(d("999")), "risk=%s", order.RiskAmount)
	assert.True(t, order.StopLoss.Equal(d("47")), "stop=%s", order.StopLoss)
	assert.True(t, order.TakeProfit.Equal(d("56")), "target=%s", order.TakeProfit)
	assert.Equal(t, model.OrderSideBuy, order.Side)
	assert.Equal(t, model.OrderDirectionEntry, order.Direction)
	assert.Equal(t, model.OrderStatusPending, order.Status)
	assert.NotEmpty(t, order.PositionID)

	snap := ledger.Snapshot()
	assert.True(t, snap.UsedBudget.Equal(d("999")))
	assert.Contains(t, snap.Reservations, order.PositionID)
}

func TestSize_ShortMirrorsStops(t *testing.T) {
	engine := newEngine(newLedger(1000, 5))
	c := candidate("TSLA", "50", "2")
	c.Side = model.SideShort

	order, err := engine.Size(context.Background(), c, model.Equity{Equity: d("100000")})
	require.NoError(t, err)
	assert.Equal(t, model.OrderSideSell, order.Side)
	assert.True(t, order.StopLoss.Equal(d("53")))
	assert.True(t, order.TakeProfit.Equal(d("44")))
}

func TestSize_CappedByNotionalAndBuyingPower(t *testing.T) {
	engine := newEngine(newLedger(100000, 5))

	// risk quantity would be 1000/0.15 = 6666, notional cap 25000/10 = 2500
	order, err := engine.Size(context.Background(), candidate("F", "10", "0.1"),
		model.Equity{Equity: d("100000")})
	require.NoError(t, err)
	assert.Equal(t, int64(2500), order.Quantity)

	// buying power 5000 / 10 = 500
	order, err = engine.Size(context.Background(), candidate("GM", "10", "0.1"),
		model.Equity{Equity: d("100000"), BuyingPower: d("5000")})
	require.NoError(t, err)
	assert.Equal(t, int64(500), order.Quantity)
}

func TestSize_TooSmall(t *testing.T) {
	ledger := newLedger(1000, 5)
	engine := newEngine(ledger)

	// equity 1000 * 1% = 10 dollars of risk against a 30 dollar stop
	_, err := engine.Size(context.Background(), candidate("NVDA", "900", "20"),
		model.Equity{Equity: d("1000")})
	require.ErrorIs(t, err, ErrSizeTooSmall)
	assert.True(t, ledger.Snapshot().UsedBudget.IsZero(), "nothing may be reserved")
}

func TestSize_NoVolatility(t *testing.T) {
	engine := newEngine(newLedger(1000, 5))
	_, err := engine.Size(context.Background(), candidate("AAPL", "50", "0"),
		model.Equity{Equity: d("100000")})
	require.ErrorIs(t, err, ErrNoVolatility)
}

func TestSize_ReservationDeniedCarriesReason(t *testing.T) {
	ledger := newLedger(500, 5)
	engine := newEngine(ledger)

	_, err := engine.Size(context.Background(), candidate("AAPL", "50", "2"),
		model.Equity{Equity: d("100000")})
	require.Error(t, err)
	require.ErrorIs(t, err, ErrRejected)

	var rej *RejectionError
	require.True(t, errors.As(err, &rej))
	assert.Equal(t, risk.ReasonBudgetExceeded, rej.Reason)
	assert.Equal(t, "AAPL", rej.Symbol)
}

func TestSize_PositionLimitReason(t *testing.T) {
	engine := newEngine(newLedger(100000, 1))
	equity := model.Equity{Equity: d("100000")}

	_, err := engine.Size(context.Background(), candidate("AAPL", "50", "2"), equity)
	require.NoError(t, err)

	_, err = engine.Size(context.Background(), candidate("MSFT", "50", "2"), equity)
	var rej *RejectionError
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, risk.ReasonPositionLimit, rej.Reason)
}

func TestExitOrder(t *testing.T) {
	engine := newEngine(newLedger(1000, 5))
	p := model.Position{ID: "pos-1", Symbol: "AAPL", Side: model.SideLong, Quantity: 10}

	exit := engine.ExitOrder(p, 4)
	assert.Equal(t, "pos-1", exit.PositionID)
	assert.Equal(t, model.OrderSideSell, exit.Side)
	assert.Equal(t, model.OrderTypeMarket, exit.Type)
	assert.Equal(t, model.OrderDirectionExit, exit.Direction)
	assert.Equal(t, int64(4), exit.Quantity)

	p.Side = model.SideShort
	assert.Equal(t, model.OrderSideBuy, engine.ExitOrder(p, 10).Side)
}
