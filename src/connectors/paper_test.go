package connectors

import (
	"context"
	"testing"
	"time"

	"tradefunnel/src/model"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaperGateway_FillsAtLastTick(t *testing.T) {
	g := NewPaperGateway(Config{PaperPartialRatio: 1}, model.Equity{Equity: decimal.NewFromInt(50000)}, nil)
	g.OnTick(model.Tick{Symbol: "AAPL", Price: decimal.RequireFromString("101.5"), At: time.Now()})

	order := testOrder()
	fill, err := g.Submit(context.Background(), order)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusFilled, fill.Status)
	assert.Equal(t, int64(10), fill.FilledQuantity)
	assert.True(t, fill.FillPrice.Equal(decimal.RequireFromString("101.5")))

	// resubmitting the same order id returns the original fill
	g.OnTick(model.Tick{Symbol: "AAPL", Price: decimal.RequireFromString("120"), At: time.Now()})
	again, err := g.Submit(context.Background(), order)
	require.NoError(t, err)
	assert.Equal(t, fill, again)

	status, err := g.Cancel(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusFilled, status)

	acct, err := g.Account(context.Background())
	require.NoError(t, err)
	assert.True(t, acct.Equity.Equal(decimal.NewFromInt(50000)))
}

func TestPaperGateway_PartialAndSlippage(t *testing.T) {
	g := NewPaperGateway(Config{PaperPartialRatio: 0.5, PaperSlippageBasis: 10}, model.Equity{}, nil)
	g.OnTick(model.Tick{Symbol: "AAPL", Price: decimal.NewFromInt(100)})

	fill, err := g.Submit(context.Background(), testOrder())
	require.NoError(t, err)
	assert.Equal(t, int64(5), fill.FilledQuantity)
	assert.True(t, fill.FillPrice.Equal(decimal.RequireFromString("100.1")), "price=%s", fill.FillPrice)

	// the remainder of a partial is canceled, not reported as filled
	status, err := g.Cancel(context.Background(), fill.OrderID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusCanceled, status)

	sell := testOrder()
	sell.ID = "ord-2"
	sell.Side = model.OrderSideSell
	sell.Quantity = 1
	fill, err = g.Submit(context.Background(), sell)
	require.NoError(t, err)
	assert.Equal(t, int64(1), fill.FilledQuantity)
	assert.True(t, fill.FillPrice.Equal(decimal.RequireFromString("99.9")))
}

func TestPaperGateway_RejectsWithoutPrice(t *testing.T) {
	g := NewPaperGateway(Config{}, model.Equity{}, nil)
	order := testOrder()
	order.LimitPrice = decimal.Zero

	fill, err := g.Submit(context.Background(), order)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusRejected, fill.Status)

	status, err := g.Cancel(context.Background(), "never-sent")
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusCanceled, status)
}
