package executors

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"tradefunnel/src/connectors"
	"tradefunnel/src/events"
	"tradefunnel/src/funnel"
	"tradefunnel/src/model"
	"tradefunnel/src/monitor"
	"tradefunnel/src/risk"
	"tradefunnel/src/session"
	"tradefunnel/src/sizing"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

type State string

const (
	StateIdle         State = "idle"
	StateInitializing State = "initializing"
	StateScanning     State = "scanning"
	StateFiltering    State = "filtering"
	StateSizing       State = "sizing"
	StateExecuting    State = "executing"
	StateMonitoring   State = "monitoring"
	StateEmergency    State = "emergency"
)

var (
	ErrCycleInFlight = errors.New("cycle already in flight")
	ErrHalted        = errors.New("orchestrator halted")
	ErrMarketClosed  = errors.New("market closed for entries")
	ErrNotHalted     = errors.New("orchestrator not halted")
)

// CandidateSource delivers the scan universe.
type CandidateSource interface {
	Candidates(ctx context.Context) ([]model.Candidate, error)
}

// VolatilitySource fills in the ATR of candidates delivered without one.
type VolatilitySource interface {
	ATR(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// Subscriber is told which symbols need live ticks.
type Subscriber interface {
	Subscribe(symbols ...string)
}

type Deps struct {
	Source     CandidateSource
	Funnel     *funnel.Funnel
	Sizer      *sizing.Engine
	Router     *Router
	Account    connectors.AccountSource
	Monitor    *monitor.Monitor
	Ledger     *risk.Ledger
	Volatility VolatilitySource
	Feed       Subscriber
	Sink       events.Sink
}

// CycleReport summarizes one scan-to-execute iteration.
type CycleReport struct {
	Number     int                 `json:"number"`
	StartedAt  time.Time           `json:"started_at"`
	FinishedAt time.Time           `json:"finished_at"`
	Universe   int                 `json:"universe"`
	Finalists  []string            `json:"finalists"`
	Opened     []string            `json:"opened"`
	Reserved   int                 `json:"reserved"`
	Rejected   map[string]string   `json:"rejected,omitempty"`
	Counts     []funnel.StageCount `json:"counts,omitempty"`
	Incomplete bool                `json:"incomplete"`
	Error      string              `json:"error,omitempty"`
}

type Status struct {
	State        State        `json:"state"`
	MarketOpen   bool         `json:"market_open"`
	InFlight     bool         `json:"in_flight"`
	DroppedTicks int64        `json:"dropped_ticks"`
	Cycles       int          `json:"cycles"`
	CarryOver    []string     `json:"carry_over,omitempty"`
	LastCycle    *CycleReport `json:"last_cycle,omitempty"`
}

// Orchestrator drives Idle -> Initializing -> Scanning -> Filtering -> Sizing ->
// Executing -> Monitoring, one cycle at a time.
type Orchestrator struct {
	cfg  Config
	deps Deps
	log  *logger.Entry
	now  func() time.Time

	inFlight     atomic.Bool
	droppedTicks atomic.Int64

	mu          sync.Mutex
	state       State
	marketOpen  bool
	tradingDay  string
	cycleCancel context.CancelFunc
	cycles      int
	lastCycle   *CycleReport
	carry       map[string]struct{}
}

func NewOrchestrator(cfg Config, deps Deps, log *logger.Entry) *Orchestrator {
	if log == nil {
		log = logger.NewEntry(logger.StandardLogger())
	}
	if deps.Sink == nil {
		deps.Sink = events.Discard{}
	}
	return &Orchestrator{
		cfg:   cfg,
		deps:  deps,
		log:   log.WithField("component", "orchestrator"),
		now:   time.Now,
		state: StateIdle,
		carry: make(map[string]struct{}),
	}
}

// Run reacts to timer ticks, session events and ledger halts until ctx is done.
// A tick arriving while a cycle is in flight is dropped.
func (o *Orchestrator) Run(ctx context.Context, timer <-chan time.Time, sessions <-chan session.Event) error {
	halts := o.deps.Ledger.HaltNotifications()
	var wg sync.WaitGroup
	defer wg.Wait()

	o.log.Info("orchestrator started")
	for {
		select {
		case <-ctx.Done():
			o.cancelCycle()
			o.log.Info("orchestrator stopped")
			return nil

		case evt, ok := <-sessions:
			if !ok {
				sessions = nil
				continue
			}
			o.OnSession(ctx, evt)

		case h := <-halts:
			if halted, _ := o.deps.Ledger.Halted(); !halted {
				// stale: the ledger was reset after this notification was queued
				continue
			}
			o.Halt(h.Reason)

		case at, ok := <-timer:
			if !ok {
				timer = nil
				continue
			}
			if !o.inFlight.CompareAndSwap(false, true) {
				n := o.droppedTicks.Add(1)
				o.log.WithFields(logger.Fields{
					"tick":          at.Format(time.RFC3339),
					"state":         o.State(),
					"dropped_total": n,
				}).Warn("cycle still in flight, timer tick dropped")
				continue
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer o.inFlight.Store(false)
				if _, err := o.cycle(ctx); err != nil && !errors.Is(err, ErrMarketClosed) {
					o.log.WithError(err).Warn("cycle ended with error")
				}
			}()
		}
	}
}

// RunCycle runs one iteration synchronously.
func (o *Orchestrator) RunCycle(ctx context.Context) (CycleReport, error) {
	if !o.inFlight.CompareAndSwap(false, true) {
		return CycleReport{}, ErrCycleInFlight
	}
	defer o.inFlight.Store(false)
	return o.cycle(ctx)
}

func (o *Orchestrator) cycle(parent context.Context) (CycleReport, error) {
	o.mu.Lock()
	if o.state == StateEmergency {
		o.mu.Unlock()
		return CycleReport{}, ErrHalted
	}
	if !o.marketOpen {
		o.mu.Unlock()
		return CycleReport{}, ErrMarketClosed
	}
	if halted, reason := o.deps.Ledger.Halted(); halted {
		o.mu.Unlock()
		return CycleReport{}, fmt.Errorf("%w: ledger %s", ErrHalted, reason)
	}
	ctx, cancel := context.WithCancel(parent)
	o.cycleCancel = cancel
	o.cycles++
	report := CycleReport{Number: o.cycles, StartedAt: o.now(), Rejected: map[string]string{}}
	carried := o.carry
	o.carry = make(map[string]struct{})
	o.mu.Unlock()

	log := o.log.WithField("cycle", report.Number)

	defer func() {
		cancel()
		report.FinishedAt = o.now()
		o.mu.Lock()
		o.cycleCancel = nil
		r := report
		o.lastCycle = &r
		if o.state != StateEmergency {
			if o.deps.Monitor != nil && o.deps.Monitor.Active() > 0 {
				o.state = StateMonitoring
			} else {
				o.state = StateIdle
			}
		}
		o.mu.Unlock()
	}()

	fail := func(err error) (CycleReport, error) {
		report.Error = err.Error()
		return report, err
	}

	if !o.setState(StateInitializing) {
		return fail(ErrHalted)
	}
	o.deps.Ledger.BeginCycle()
	account, err := o.deps.Account.Account(ctx)
	if err != nil {
		return fail(fmt.Errorf("account snapshot: %w", err))
	}

	if !o.setState(StateScanning) {
		return fail(ErrHalted)
	}
	universe, err := o.deps.Source.Candidates(ctx)
	if err != nil {
		return fail(fmt.Errorf("candidate scan: %w", err))
	}
	universe = o.enrich(ctx, universe, log)
	report.Universe = len(universe)

	if !o.setState(StateFiltering) {
		return fail(ErrHalted)
	}
	fctx := ctx
	if o.cfg.FunnelBudget > 0 {
		var fcancel context.CancelFunc
		fctx, fcancel = context.WithTimeout(ctx, o.cfg.FunnelBudget)
		defer fcancel()
	}
	res, err := o.deps.Funnel.Run(fctx, universe)
	report.Counts = res.Counts
	if err != nil {
		report.Incomplete = res.Incomplete
		log.WithError(err).WithField("stage", res.Stage).Warn("funnel incomplete, cycle results discarded")
		return fail(err)
	}
	report.Finalists = model.Symbols(res.Finalists)

	if !o.setState(StateSizing) {
		return fail(ErrHalted)
	}
	offered := o.sizingOrder(res.Finalists, universe, carried)
	var orders []model.Order
	for _, c := range offered {
		if ctx.Err() != nil {
			break
		}
		order, err := o.deps.Sizer.Size(ctx, c, account)
		if err != nil {
			var rej *sizing.RejectionError
			if errors.As(err, &rej) {
				report.Rejected[c.Symbol] = rej.Reason
				o.maybeCarry(rej)
			} else {
				report.Rejected[c.Symbol] = err.Error()
				log.WithError(err).WithField("symbol", c.Symbol).Info("candidate not sized")
			}
			continue
		}
		orders = append(orders, order)
	}

	if !o.setState(StateExecuting) {
		o.releaseUnexecuted(orders, log)
		return fail(ErrHalted)
	}
	for i, order := range orders {
		if ctx.Err() != nil {
			o.releaseUnexecuted(orders[i:], log)
			break
		}
		pos, err := o.deps.Router.Enter(ctx, order)
		if err != nil {
			report.Rejected[order.Symbol] = err.Error()
			continue
		}
		if err := o.deps.Monitor.Track(pos); err != nil {
			log.WithError(err).WithField("position_id", pos.ID).Error("opened position could not be tracked")
			o.deps.Sink.Emit(events.Event{
				Kind:       events.KindAlert,
				PositionID: pos.ID,
				Symbol:     pos.Symbol,
				Message:    "opened position is not monitored",
				Fields:     map[string]string{"module": "orchestrator", "method": "Track", "error": err.Error()},
			})
			continue
		}
		if o.deps.Feed != nil {
			o.deps.Feed.Subscribe(pos.Symbol)
		}
		report.Opened = append(report.Opened, pos.ID)
	}

	o.setState(StateMonitoring)
	report.Reserved = o.deps.Ledger.CycleGrants()
	log.WithFields(logger.Fields{
		"universe":  report.Universe,
		"finalists": len(report.Finalists),
		"reserved":  report.Reserved,
		"opened":    len(report.Opened),
		"rejected":  len(report.Rejected),
	}).Info("cycle completed")

	if err := ctx.Err(); err != nil {
		return fail(fmt.Errorf("cycle canceled: %w", err))
	}
	return report, nil
}

// enrich fills in missing ATR values; candidates that still have none are left for sizing to drop.
func (o *Orchestrator) enrich(ctx context.Context, universe []model.Candidate, log *logger.Entry) []model.Candidate {
	if o.deps.Volatility == nil {
		return universe
	}
	out := make([]model.Candidate, len(universe))
	copy(out, universe)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i := range out {
		if out[i].ATR.Sign() > 0 {
			continue
		}
		i := i
		g.Go(func() error {
			atr, err := o.deps.Volatility.ATR(gctx, out[i].Symbol)
			if err != nil {
				log.WithError(err).WithField("symbol", out[i].Symbol).Debug("no volatility for candidate")
				return nil
			}
			out[i].ATR = atr
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// sizingOrder puts carried-over symbols from the fresh universe ahead of the finalists.
func (o *Orchestrator) sizingOrder(finalists, universe []model.Candidate, carried map[string]struct{}) []model.Candidate {
	if len(carried) == 0 {
		return finalists
	}
	weights := o.deps.Funnel.Weights()
	var first []model.Candidate
	seen := make(map[string]struct{}, len(carried))
	for _, c := range universe {
		if _, ok := carried[c.Symbol]; !ok {
			continue
		}
		if _, dup := seen[c.Symbol]; dup {
			continue
		}
		if o.deps.Monitor != nil && o.deps.Monitor.HasSymbol(c.Symbol) {
			continue
		}
		seen[c.Symbol] = struct{}{}
		first = append(first, c.WithComposite(weights))
	}
	sort.SliceStable(first, func(i, j int) bool {
		return first[i].CompositeScore > first[j].CompositeScore
	})
	for _, c := range finalists {
		if _, ok := seen[c.Symbol]; !ok {
			first = append(first, c)
		}
	}
	return first
}

func (o *Orchestrator) maybeCarry(rej *sizing.RejectionError) {
	if !o.cfg.CarryOverRejected {
		return
	}
	switch rej.Reason {
	case risk.ReasonBudgetExceeded, risk.ReasonPositionLimit:
		o.mu.Lock()
		o.carry[rej.Symbol] = struct{}{}
		o.mu.Unlock()
	}
}

func (o *Orchestrator) releaseUnexecuted(orders []model.Order, log *logger.Entry) {
	for _, order := range orders {
		o.deps.Ledger.Release(context.Background(), order.PositionID, decimal.Zero)
		log.WithFields(logger.Fields{
			"position_id": order.PositionID,
			"symbol":      order.Symbol,
		}).Info("reservation released for unexecuted order")
	}
}

// setState moves the cycle forward unless the orchestrator was halted meanwhile.
func (o *Orchestrator) setState(s State) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state == StateEmergency {
		return false
	}
	o.state = s
	return true
}

// OnSession opens and closes the entry window. The first MarketOpen of a new
// trading day resets the daily loss, unless the ledger is halted for another reason.
func (o *Orchestrator) OnSession(ctx context.Context, evt session.Event) {
	log := o.log.WithField("session_event", evt)
	switch evt {
	case session.MarketOpen:
		day := session.TradingDay(o.now())
		o.mu.Lock()
		o.marketOpen = true
		newDay := day != o.tradingDay
		o.tradingDay = day
		o.mu.Unlock()
		if !newDay {
			return
		}
		halted, reason := o.deps.Ledger.Halted()
		if halted && reason != risk.ReasonDailyLossLimit {
			log.WithField("halt_reason", reason).Warn("new trading day, ledger stays halted")
			return
		}
		o.deps.Ledger.Reset(ctx)
		o.mu.Lock()
		if o.state == StateEmergency {
			o.state = StateIdle
		}
		o.mu.Unlock()
		log.WithField("trading_day", day).Info("new trading day, daily loss reset")

	case session.MarketCloseApproaching, session.MarketClosed:
		o.mu.Lock()
		o.marketOpen = false
		o.mu.Unlock()
		if o.deps.Monitor != nil {
			o.deps.Monitor.OnSession(evt)
		}
		log.Info("entries closed for the session")
	}
}

// Halt moves to Emergency: the in-flight cycle is canceled and the ledger refuses
// new reservations. Open positions stay under the monitor.
func (o *Orchestrator) Halt(reason string) {
	o.mu.Lock()
	if o.state == StateEmergency {
		o.mu.Unlock()
		return
	}
	prev := o.state
	o.state = StateEmergency
	cancel := o.cycleCancel
	o.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	o.deps.Ledger.Halt(reason)

	o.log.WithFields(logger.Fields{
		"reason":         reason,
		"previous_state": prev,
	}).Error("orchestrator halted")
	o.deps.Sink.Emit(events.Event{
		Kind:    events.KindCycleHalted,
		At:      o.now().UTC(),
		Message: "cycle halted",
		Fields: map[string]string{
			"reason":         reason,
			"previous_state": string(prev),
		},
	})
}

// Resume is the operator reset out of Emergency.
func (o *Orchestrator) Resume(ctx context.Context) error {
	o.mu.Lock()
	if o.state != StateEmergency {
		o.mu.Unlock()
		return ErrNotHalted
	}
	o.state = StateMonitoring
	o.mu.Unlock()

	o.deps.Ledger.Reset(ctx)
	o.log.Warn("orchestrator resumed by operator")
	return nil
}

func (o *Orchestrator) cancelCycle() {
	o.mu.Lock()
	cancel := o.cycleCancel
	o.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Orchestrator) DroppedTicks() int64 {
	return o.droppedTicks.Load()
}

func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	st := Status{
		State:        o.state,
		MarketOpen:   o.marketOpen,
		InFlight:     o.inFlight.Load(),
		DroppedTicks: o.droppedTicks.Load(),
		Cycles:       o.cycles,
	}
	for s := range o.carry {
		st.CarryOver = append(st.CarryOver, s)
	}
	sort.Strings(st.CarryOver)
	if o.lastCycle != nil {
		r := *o.lastCycle
		st.LastCycle = &r
	}
	return st
}
