package monitor

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"tradefunnel/src/events"
	"tradefunnel/src/model"
	"tradefunnel/src/position"
	"tradefunnel/src/session"
	"tradefunnel/src/tp_sl"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
)

var ErrNotStarted = errors.New("monitor not started")

// Closer submits the exit for qty shares of the position and returns the fill.
// Implementations retry gateway failures themselves; an error means the attempt is over.
type Closer interface {
	ClosePosition(ctx context.Context, p model.Position, qty int64) (model.Fill, error)
}

// Releaser is the part of the risk ledger the monitor returns budget to.
type Releaser interface {
	Release(ctx context.Context, positionID string, realizedPnL decimal.Decimal)
}

type actor struct {
	id     string
	symbol string
	ticks  chan model.Tick
	exits  chan model.MonitorState
	sendMu sync.Mutex
}

// Monitor runs one goroutine per open position. Its lifetime is the context given
// to Start and is independent of any trading cycle.
type Monitor struct {
	cfg    Config
	store  *position.Store
	ledger Releaser
	closer Closer
	sink   events.Sink
	log    *logger.Entry
	now    func() time.Time

	mu       sync.RWMutex
	ctx      context.Context
	actors   map[string]*actor
	bySymbol map[string]map[string]*actor
	wg       sync.WaitGroup
}

func New(cfg Config, store *position.Store, ledger Releaser, closer Closer, sink events.Sink, log *logger.Entry) *Monitor {
	if log == nil {
		log = logger.NewEntry(logger.StandardLogger())
	}
	if sink == nil {
		sink = events.Discard{}
	}
	if cfg.CloseRetryDelay <= 0 {
		cfg.CloseRetryDelay = time.Second
	}
	return &Monitor{
		cfg:      cfg,
		store:    store,
		ledger:   ledger,
		closer:   closer,
		sink:     sink,
		log:      log.WithField("component", "position_monitor"),
		now:      time.Now,
		actors:   make(map[string]*actor),
		bySymbol: make(map[string]map[string]*actor),
	}
}

// Start binds the monitor to its own lifetime context.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ctx = ctx
}

// Wait blocks until every position goroutine has returned.
func (m *Monitor) Wait() {
	m.wg.Wait()
}

// Track adds the position to the store (if needed) and starts its actor.
func (m *Monitor) Track(p model.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ctx == nil {
		return ErrNotStarted
	}
	if _, ok := m.actors[p.ID]; ok {
		return position.ErrDuplicate
	}
	if p.State == "" {
		p.State = model.StateOpen
	}
	p.Status = model.PositionStatusOpen
	if _, ok := m.store.Get(p.ID); !ok {
		if err := m.store.Add(p); err != nil {
			return err
		}
	}

	a := &actor{
		id:     p.ID,
		symbol: p.Symbol,
		ticks:  make(chan model.Tick, 1),
		exits:  make(chan model.MonitorState, 1),
	}
	m.actors[p.ID] = a
	if m.bySymbol[p.Symbol] == nil {
		m.bySymbol[p.Symbol] = make(map[string]*actor)
	}
	m.bySymbol[p.Symbol][p.ID] = a

	m.wg.Add(1)
	go m.run(m.ctx, a)

	m.log.WithFields(logger.Fields{
		"position_id": p.ID,
		"symbol":      p.Symbol,
		"stop_loss":   p.StopLoss.String(),
		"take_profit": p.TakeProfit.String(),
	}).Info("tracking position")
	return nil
}

// OnTick hands the tick to every position on its symbol. A tick not yet consumed
// is replaced by the newer one.
func (m *Monitor) OnTick(t model.Tick) {
	m.mu.RLock()
	targets := make([]*actor, 0, len(m.bySymbol[t.Symbol]))
	for _, a := range m.bySymbol[t.Symbol] {
		targets = append(targets, a)
	}
	m.mu.RUnlock()

	for _, a := range targets {
		a.offer(t)
	}
}

func (a *actor) offer(t model.Tick) {
	a.sendMu.Lock()
	defer a.sendMu.Unlock()
	select {
	case a.ticks <- t:
		return
	default:
	}
	select {
	case <-a.ticks:
	default:
	}
	select {
	case a.ticks <- t:
	default:
	}
}

// OnSession reacts to clock events; close proximity exits everything.
func (m *Monitor) OnSession(evt session.Event) {
	switch evt {
	case session.MarketCloseApproaching, session.MarketClosed:
		m.mu.RLock()
		targets := make([]*actor, 0, len(m.actors))
		for _, a := range m.actors {
			targets = append(targets, a)
		}
		m.mu.RUnlock()
		if len(targets) > 0 {
			m.log.WithFields(logger.Fields{"event": evt, "positions": len(targets)}).Info("session exit")
		}
		for _, a := range targets {
			a.requestExit(model.StateTimeExit)
		}
	}
}

// InvalidatePattern closes every position on symbol whose entry pattern failed.
func (m *Monitor) InvalidatePattern(symbol string) int {
	m.mu.RLock()
	targets := make([]*actor, 0, len(m.bySymbol[symbol]))
	for _, a := range m.bySymbol[symbol] {
		targets = append(targets, a)
	}
	m.mu.RUnlock()
	for _, a := range targets {
		a.requestExit(model.StatePatternFailExit)
	}
	return len(targets)
}

func (a *actor) requestExit(reason model.MonitorState) {
	select {
	case a.exits <- reason:
	default:
	}
}

func (m *Monitor) Positions() []model.Position {
	return m.store.Open()
}

func (m *Monitor) Active() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.actors)
}

// HasSymbol reports whether a position on symbol is still being monitored.
func (m *Monitor) HasSymbol(symbol string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.bySymbol[symbol]) > 0
}

func (m *Monitor) run(ctx context.Context, a *actor) {
	defer m.wg.Done()
	log := m.log.WithFields(logger.Fields{"position_id": a.id, "symbol": a.symbol})
	var lastAt time.Time

	for {
		select {
		case <-ctx.Done():
			log.Debug("monitor stopped")
			return
		case reason := <-a.exits:
			m.close(ctx, a, reason, log)
			return
		case t := <-a.ticks:
			if !t.At.IsZero() && t.At.Before(lastAt) {
				log.WithField("tick_at", t.At).Debug("stale tick dropped")
				continue
			}
			lastAt = t.At
			if reason, exit := m.evaluate(a, t, log); exit {
				m.close(ctx, a, reason, log)
				return
			}
		}
	}
}

// evaluate applies one tick to the position and reports whether it must close.
func (m *Monitor) evaluate(a *actor, t model.Tick, log *logger.Entry) (model.MonitorState, bool) {
	var (
		reason model.MonitorState
		moved  bool
		prevSL decimal.Decimal
	)
	updated, err := m.store.Update(a.id, func(p *model.Position) {
		p.MarkToMarket(t.Price)
		switch {
		case tp_sl.StopHit(p.Side, p.StopLoss, t.Price):
			reason = model.StateStopHit
		case tp_sl.TargetHit(p.Side, p.TakeProfit, t.Price):
			reason = model.StateTargetHit
		default:
			prevSL = p.StopLoss
			var next decimal.Decimal
			next, moved = tp_sl.NextTrailingStop(p.Side, p.StopLoss, p.EntryPrice, t.Price, m.cfg.Trail)
			if moved {
				p.StopLoss = next
				p.State = model.StateTrailingAdjusted
			}
		}
		if reason.IsExit() {
			p.State = reason
		}
	})
	if err != nil {
		log.WithError(err).Warn("tick for untracked position")
		return model.StateClosed, false
	}
	if moved {
		log.WithFields(logger.Fields{
			"price": t.Price.String(),
			"from":  prevSL.String(),
			"to":    updated.StopLoss.String(),
		}).Info("trailing stop tightened")
	}
	exit := reason.IsExit()
	if exit {
		log.WithFields(logger.Fields{"price": t.Price.String(), "reason": reason}).Info("exit triggered")
	}
	return reason, exit
}

// close keeps submitting exits until the whole position is flat, then releases risk.
func (m *Monitor) close(ctx context.Context, a *actor, reason model.MonitorState, log *logger.Entry) {
	p, err := m.store.Update(a.id, func(p *model.Position) {
		p.State = reason
		p.ExitReason = reason
	})
	if err != nil {
		log.WithError(err).Error("closing untracked position")
		m.forget(a)
		return
	}

	total := p.Quantity
	remaining := p.Quantity
	realized := decimal.Zero
	for remaining > 0 {
		if ctx.Err() != nil {
			log.WithField("remaining", remaining).Error("monitor stopped before position was flat")
			return
		}
		p.Quantity = remaining
		fill, err := m.closer.ClosePosition(ctx, p, remaining)
		if err != nil || fill.Status != model.OrderStatusFilled || fill.FilledQuantity <= 0 {
			log.WithError(err).WithFields(logger.Fields{
				"status":    fill.Status,
				"remaining": remaining,
			}).Warn("exit not filled, retrying")
			select {
			case <-ctx.Done():
				continue
			case <-time.After(m.cfg.CloseRetryDelay):
			}
			continue
		}
		qty := fill.FilledQuantity
		if qty > remaining {
			qty = remaining
		}
		realized = realized.Add(p.PnLAt(fill.FillPrice, qty))
		remaining -= qty
		if remaining > 0 {
			log.WithFields(logger.Fields{"filled": qty, "remaining": remaining}).Warn("partial exit fill")
			_, _ = m.store.Update(a.id, func(p *model.Position) { p.Quantity = remaining })
		}
	}

	m.ledger.Release(ctx, a.id, realized)
	closedAt := m.now()
	final, _ := m.store.Remove(a.id)
	final.Status = model.PositionStatusClosed
	final.State = model.StateClosed
	final.ExitReason = reason
	final.RealizedPnL = realized
	final.ClosedAt = &closedAt
	m.forget(a)

	log.WithFields(logger.Fields{
		"reason":       reason,
		"realized_pnl": realized.StringFixed(2),
	}).Info("position closed")

	m.sink.Emit(events.Event{
		Kind:       events.KindPositionClosed,
		At:         closedAt,
		PositionID: final.ID,
		Symbol:     final.Symbol,
		Message:    string(reason),
		Fields: map[string]string{
			"exit_reason":   string(reason),
			"realized_pnl":  realized.String(),
			"entry_price":   final.EntryPrice.String(),
			"last_price":    final.LastPrice.String(),
			"max_favorable": final.MaxFavorable.String(),
			"max_adverse":   final.MaxAdverse.String(),
			"stop_loss":     final.StopLoss.String(),
			"initial_stop":  final.InitialStop.String(),
			"quantity":      strconv.FormatInt(total, 10),
		},
	})
}

func (m *Monitor) forget(a *actor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.actors, a.id)
	if set := m.bySymbol[a.symbol]; set != nil {
		delete(set, a.id)
		if len(set) == 0 {
			delete(m.bySymbol, a.symbol)
		}
	}
}
