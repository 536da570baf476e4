package monitor

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"tradefunnel/src/events"
	"tradefunnel/src/model"
	"tradefunnel/src/position"
	"tradefunnel/src/risk"
	"tradefunnel/src/session"

	"github.com/shopspring/decimal"
	logrustest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type scriptedCloser struct {
	mu      sync.Mutex
	fills   []model.Fill
	errs    []error
	calls   []int64
	price   decimal.Decimal
	blockCh chan struct{}
}

func (c *scriptedCloser) ClosePosition(ctx context.Context, p model.Position, qty int64) (model.Fill, error) {
	if c.blockCh != nil {
		select {
		case <-c.blockCh:
		case <-ctx.Done():
			return model.Fill{}, ctx.Err()
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, qty)
	if len(c.errs) > 0 {
		err := c.errs[0]
		c.errs = c.errs[1:]
		if err != nil {
			return model.Fill{}, err
		}
	}
	if len(c.fills) > 0 {
		f := c.fills[0]
		c.fills = c.fills[1:]
		return f, nil
	}
	price := c.price
	if price.IsZero() {
		price = p.LastPrice
	}
	return model.Fill{Status: model.OrderStatusFilled, FilledQuantity: qty, FillPrice: price}, nil
}

func (c *scriptedCloser) Calls() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int64(nil), c.calls...)
}

type fixture struct {
	monitor  *Monitor
	store    *position.Store
	ledger   *risk.Ledger
	closer   *scriptedCloser
	recorder *events.Recorder
	cancel   context.CancelFunc
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log, _ := logrustest.NewNullLogger()
	entry := log.WithField("test", t.Name())

	recorder := &events.Recorder{}
	ledger := risk.NewLedger(risk.Config{TotalBudget: 1000, MaxConcurrent: 5, MaxDailyLoss: 500}, nil, entry)
	store := position.NewStore()
	closer := &scriptedCloser{}

	cfg := DefaultConfig()
	cfg.CloseRetryDelay = 5 * time.Millisecond
	m := New(cfg, store, ledger, closer, recorder, entry)

	ctx, cancel := context.WithCancel(context.Background())
	m.Start(ctx)
	t.Cleanup(func() {
		cancel()
		m.Wait()
	})
	return &fixture{monitor: m, store: store, ledger: ledger, closer: closer, recorder: recorder, cancel: cancel}
}

func (f *fixture) open(t *testing.T, id, symbol string, side model.Side, entry, stop, target string, qty int64) {
	t.Helper()
	granted, reason := f.ledger.Reserve(context.Background(), d("20"), id)
	require.True(t, granted, reason)
	require.NoError(t, f.monitor.Track(model.Position{
		ID:          id,
		Symbol:      symbol,
		Side:        side,
		Quantity:    qty,
		EntryPrice:  d(entry),
		InitialStop: d(stop),
		StopLoss:    d(stop),
		TakeProfit:  d(target),
		RiskAmount:  d("20"),
		OpenedAt:    time.Now(),
	}))
}

// tick delivers a price and waits until the position has processed it.
func (f *fixture) tick(t *testing.T, id, symbol, price string, at time.Time) {
	t.Helper()
	f.monitor.OnTick(model.Tick{Symbol: symbol, Price: d(price), At: at})
	require.Eventually(t, func() bool {
		p, ok := f.store.Get(id)
		return !ok || p.LastPrice.Equal(d(price))
	}, time.Second, time.Millisecond)
}

func (f *fixture) waitClosed(t *testing.T, id string) {
	t.Helper()
	require.Eventually(t, func() bool {
		_, ok := f.store.Get(id)
		return !ok && f.monitor.Active() == 0
	}, 2*time.Second, time.Millisecond)
}

func TestTrailingStopScenario(t *testing.T) {
	f := newFixture(t)
	f.open(t, "pos-1", "AAPL", model.SideLong, "100", "98", "110", 10)

	base := time.Now()
	f.tick(t, "pos-1", "AAPL", "100", base)
	f.tick(t, "pos-1", "AAPL", "103", base.Add(time.Second))
	f.tick(t, "pos-1", "AAPL", "101", base.Add(2*time.Second))

	p, ok := f.store.Get("pos-1")
	require.True(t, ok, "position must still be open at 101")
	assert.True(t, p.StopLoss.Equal(d("100.94")), "stop=%s", p.StopLoss)
	assert.True(t, p.StopLoss.GreaterThan(d("98")))
	assert.Equal(t, model.StateTrailingAdjusted, p.State)
	assert.True(t, p.MaxFavorable.Equal(d("30")))
	assert.True(t, p.UnrealizedPnL.Equal(d("10")))
}

func TestTrailingStopIsMonotonic(t *testing.T) {
	for seed := int64(1); seed <= 10; seed++ {
		f := newFixture(t)
		f.open(t, "pos", "MSFT", model.SideLong, "100", "98", "1000", 1)

		rng := rand.New(rand.NewSource(seed))
		price := 100.0
		prevStop := d("98")
		at := time.Now()
		for i := 0; i < 60; i++ {
			price += rng.Float64()*2 - 0.8
			if price < 1 {
				price = 1
			}
			at = at.Add(time.Second)
			p := decimal.NewFromFloat(price).Round(4)
			f.tick(t, "pos", "MSFT", p.String(), at)

			cur, ok := f.store.Get("pos")
			if !ok {
				break
			}
			require.False(t, cur.StopLoss.LessThan(prevStop), "seed %d: stop loosened %s -> %s", seed, prevStop, cur.StopLoss)
			prevStop = cur.StopLoss
		}
	}
}

func TestStopHitClosesAndReleases(t *testing.T) {
	f := newFixture(t)
	f.open(t, "pos-1", "AAPL", model.SideLong, "100", "98", "110", 10)

	f.monitor.OnTick(model.Tick{Symbol: "AAPL", Price: d("97.5"), At: time.Now()})
	f.waitClosed(t, "pos-1")

	assert.Equal(t, []int64{10}, f.closer.Calls())
	snap := f.ledger.Snapshot()
	assert.Empty(t, snap.Reservations)
	assert.True(t, snap.DailyPnL.Equal(d("-25")), "daily=%s", snap.DailyPnL)

	closed := f.recorder.Events()
	require.NotEmpty(t, closed)
	var found bool
	for _, e := range closed {
		if e.Kind == events.KindPositionClosed {
			found = true
			assert.Equal(t, string(model.StateStopHit), e.Fields["exit_reason"])
			assert.Equal(t, "-25", e.Fields["realized_pnl"])
		}
	}
	assert.True(t, found)
}

func TestTargetHitShort(t *testing.T) {
	f := newFixture(t)
	f.open(t, "pos-s", "TSLA", model.SideShort, "100", "103", "94", 5)

	f.monitor.OnTick(model.Tick{Symbol: "TSLA", Price: d("93.5"), At: time.Now()})
	f.waitClosed(t, "pos-s")

	assert.True(t, f.ledger.Snapshot().DailyPnL.Equal(d("32.5")))
	assert.Equal(t, 1, f.recorder.Count(events.KindPositionClosed))
}

func TestSessionCloseExitsEverything(t *testing.T) {
	f := newFixture(t)
	f.open(t, "a", "AAPL", model.SideLong, "100", "98", "110", 1)
	f.open(t, "b", "MSFT", model.SideLong, "200", "196", "220", 1)
	f.tick(t, "a", "AAPL", "101", time.Now())
	f.tick(t, "b", "MSFT", "199", time.Now())

	f.monitor.OnSession(session.MarketOpen)
	assert.Equal(t, 2, f.monitor.Active())

	f.monitor.OnSession(session.MarketCloseApproaching)
	f.waitClosed(t, "a")
	f.waitClosed(t, "b")

	for _, e := range f.recorder.Events() {
		if e.Kind == events.KindPositionClosed {
			assert.Equal(t, string(model.StateTimeExit), e.Fields["exit_reason"])
		}
	}
	assert.Equal(t, 2, f.recorder.Count(events.KindPositionClosed))
	assert.True(t, f.ledger.Snapshot().UsedBudget.IsZero())
}

func TestInvalidatePattern(t *testing.T) {
	f := newFixture(t)
	f.open(t, "a", "AAPL", model.SideLong, "100", "98", "110", 1)
	f.open(t, "b", "MSFT", model.SideLong, "200", "196", "220", 1)

	assert.Equal(t, 1, f.monitor.InvalidatePattern("AAPL"))
	f.waitClosedOne(t, "a")

	_, ok := f.store.Get("b")
	assert.True(t, ok)
	assert.Equal(t, 1, f.monitor.Active())
}

func (f *fixture) waitClosedOne(t *testing.T, id string) {
	t.Helper()
	require.Eventually(t, func() bool {
		_, ok := f.store.Get(id)
		return !ok
	}, 2*time.Second, time.Millisecond)
}

func TestPartialExitKeepsClosingRemainder(t *testing.T) {
	f := newFixture(t)
	f.closer.fills = []model.Fill{
		{Status: model.OrderStatusFilled, FilledQuantity: 6, FillPrice: d("97")},
		{Status: model.OrderStatusRejected},
		{Status: model.OrderStatusFilled, FilledQuantity: 4, FillPrice: d("96")},
	}
	f.open(t, "pos", "AAPL", model.SideLong, "100", "98", "110", 10)

	f.monitor.OnTick(model.Tick{Symbol: "AAPL", Price: d("97"), At: time.Now()})
	f.waitClosed(t, "pos")

	assert.Equal(t, []int64{10, 4, 4}, f.closer.Calls())
	// 6 * -3 + 4 * -4
	assert.True(t, f.ledger.Snapshot().DailyPnL.Equal(d("-34")))
}

func TestExitRetriedUntilFilled(t *testing.T) {
	f := newFixture(t)
	f.closer.errs = []error{errors.New("gateway down"), errors.New("gateway down")}
	f.open(t, "pos", "AAPL", model.SideLong, "100", "98", "110", 3)

	f.monitor.InvalidatePattern("AAPL")
	f.waitClosed(t, "pos")
	assert.Len(t, f.closer.Calls(), 3)
}

func TestStaleTickDropped(t *testing.T) {
	f := newFixture(t)
	f.open(t, "pos", "AAPL", model.SideLong, "100", "98", "110", 1)

	now := time.Now()
	f.tick(t, "pos", "AAPL", "101", now)
	// an older tick must never be applied after a newer one
	f.monitor.OnTick(model.Tick{Symbol: "AAPL", Price: d("50"), At: now.Add(-time.Second)})
	f.tick(t, "pos", "AAPL", "101.5", now.Add(time.Second))

	p, ok := f.store.Get("pos")
	require.True(t, ok)
	assert.True(t, p.LastPrice.Equal(d("101.5")))
	assert.Empty(t, f.closer.Calls())
}

func TestMonitorSurvivesUntilItsOwnContextEnds(t *testing.T) {
	f := newFixture(t)
	f.open(t, "pos", "AAPL", model.SideLong, "100", "98", "110", 1)

	f.cancel()
	f.monitor.Wait()
	_, ok := f.store.Get("pos")
	assert.True(t, ok, "stopping the monitor does not close positions")

	err := New(DefaultConfig(), position.NewStore(), f.ledger, f.closer, nil, nil).Track(model.Position{ID: "x"})
	assert.ErrorIs(t, err, ErrNotStarted)
}
