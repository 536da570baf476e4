package connectors

import (
	"context"
	"sync"

	"tradefunnel/src/model"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
)

// PaperGateway fills market orders at the last seen tick. It never talks to a broker.
type PaperGateway struct {
	mu           sync.Mutex
	last         map[string]decimal.Decimal
	fills        map[string]model.Fill
	remainders   map[string]struct{}
	partialRatio float64
	slippage     decimal.Decimal
	equity       model.Equity
	log          *logger.Entry
}

func NewPaperGateway(cfg Config, equity model.Equity, log *logger.Entry) *PaperGateway {
	if log == nil {
		log = logger.NewEntry(logger.StandardLogger())
	}
	ratio := cfg.PaperPartialRatio
	if ratio <= 0 || ratio > 1 {
		ratio = 1
	}
	return &PaperGateway{
		last:         make(map[string]decimal.Decimal),
		fills:        make(map[string]model.Fill),
		remainders:   make(map[string]struct{}),
		partialRatio: ratio,
		slippage:     decimal.NewFromFloat(cfg.PaperSlippageBasis).Div(decimal.NewFromInt(10000)),
		equity:       equity,
		log:          log.WithField("component", "paper_gateway"),
	}
}

// OnTick records the latest price for the symbol.
func (g *PaperGateway) OnTick(t model.Tick) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.last[t.Symbol] = t.Price
}

func (g *PaperGateway) Submit(ctx context.Context, order model.Order) (model.Fill, error) {
	if err := ctx.Err(); err != nil {
		return model.Fill{}, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if prev, ok := g.fills[order.ID]; ok {
		return prev, nil
	}

	price, ok := g.last[order.Symbol]
	if !ok {
		price = order.LimitPrice
	}
	if price.Sign() <= 0 {
		fill := model.Fill{OrderID: order.ID, Status: model.OrderStatusRejected, Reason: "NO_PRICE"}
		g.fills[order.ID] = fill
		return fill, nil
	}

	adj := price.Mul(g.slippage)
	if order.Side == model.OrderSideBuy {
		price = price.Add(adj)
	} else {
		price = price.Sub(adj)
	}

	qty := order.Quantity
	if g.partialRatio < 1 {
		qty = decimal.NewFromInt(order.Quantity).Mul(decimal.NewFromFloat(g.partialRatio)).Floor().IntPart()
		if qty < 1 {
			qty = 1
		}
	}

	fill := model.Fill{
		OrderID:        order.ID,
		Status:         model.OrderStatusFilled,
		FillPrice:      price,
		FilledQuantity: qty,
	}
	g.fills[order.ID] = fill
	if qty < order.Quantity {
		g.remainders[order.ID] = struct{}{}
	}

	g.log.WithFields(logger.Fields{
		"order_id":  order.ID,
		"symbol":    order.Symbol,
		"side":      order.Side,
		"direction": order.Direction,
		"quantity":  qty,
		"price":     price.String(),
	}).Info("paper fill")
	return fill, nil
}

// Cancel drops the unfilled remainder of a partial fill; finished orders report their status.
func (g *PaperGateway) Cancel(ctx context.Context, orderID string) (model.OrderStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.remainders[orderID]; ok {
		delete(g.remainders, orderID)
		return model.OrderStatusCanceled, nil
	}
	if fill, ok := g.fills[orderID]; ok {
		return fill.Status, nil
	}
	g.fills[orderID] = model.Fill{OrderID: orderID, Status: model.OrderStatusCanceled}
	return model.OrderStatusCanceled, nil
}

func (g *PaperGateway) Account(ctx context.Context) (model.Equity, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.equity, nil
}
