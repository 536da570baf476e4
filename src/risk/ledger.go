package risk

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tradefunnel/src/events"
	"tradefunnel/src/model"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
)

// Reason codes returned by Reserve when a reservation is denied.
const (
	ReasonBudgetExceeded       = "budget_exceeded"
	ReasonPositionLimit        = "position_limit"
	ReasonDailyLossLimit       = "daily_loss_limit"
	ReasonHalted               = "halted"
	ReasonInvariantViolation   = "invariant_violation"
	ReasonDuplicateReservation = "duplicate_reservation"
	ReasonInvalidAmount        = "invalid_amount"
	ReasonCanceled             = "canceled"
	ReasonExitFailure          = "exit_failure"
)

// releasedRetention bounds how long a released position id stays blocked from reuse.
const releasedRetention = 24 * time.Hour

// HaltEvent is published when the ledger stops accepting reservations.
type HaltEvent struct {
	Reason string
	At     time.Time
}

// Ledger is the single source of truth for the risk budget. Every mutation
// goes through mu; nothing else holds budget state.
type Ledger struct {
	mu  sync.Mutex
	log *logger.Entry

	total         decimal.Decimal
	maxConcurrent int
	maxDailyLoss  decimal.Decimal

	used         decimal.Decimal
	reservations map[string]decimal.Decimal
	exposure     map[string]decimal.Decimal
	released     map[string]time.Time
	dailyPnL     decimal.Decimal
	halted       bool
	haltReason   string
	cycleGrants  int

	sink   events.Sink
	haltCh chan HaltEvent
	now    func() time.Time
}

func NewLedger(cfg Config, sink events.Sink, log *logger.Entry) *Ledger {
	if log == nil {
		log = logger.NewEntry(logger.StandardLogger())
	}
	if sink == nil {
		sink = events.Discard{}
	}
	return &Ledger{
		log:           log.WithField("component", "risk_ledger"),
		total:         decimal.NewFromFloat(cfg.TotalBudget),
		maxConcurrent: cfg.MaxConcurrent,
		maxDailyLoss:  decimal.NewFromFloat(cfg.MaxDailyLoss),
		reservations:  make(map[string]decimal.Decimal),
		exposure:      make(map[string]decimal.Decimal),
		released:      make(map[string]time.Time),
		sink:          sink,
		haltCh:        make(chan HaltEvent, 4),
		now:           time.Now,
	}
}

// Reserve atomically checks the budget, concurrency and daily loss limits and
// reserves amount for positionID when all of them pass.
func (l *Ledger) Reserve(ctx context.Context, amount decimal.Decimal, positionID string) (bool, string) {
	if ctx != nil && ctx.Err() != nil {
		return false, ReasonCanceled
	}
	if !amount.IsPositive() || positionID == "" {
		return false, ReasonInvalidAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.halted {
		if l.haltReason == ReasonDailyLossLimit {
			return false, ReasonDailyLossLimit
		}
		return false, ReasonHalted
	}
	if _, ok := l.reservations[positionID]; ok {
		return false, ReasonDuplicateReservation
	}
	if _, ok := l.released[positionID]; ok {
		return false, ReasonDuplicateReservation
	}
	if l.used.Add(amount).GreaterThan(l.total) {
		return false, ReasonBudgetExceeded
	}
	if l.maxConcurrent > 0 && len(l.reservations) >= l.maxConcurrent {
		return false, ReasonPositionLimit
	}
	if l.dailyLossLocked().GreaterThanOrEqual(l.maxDailyLoss) && l.maxDailyLoss.IsPositive() {
		return false, ReasonDailyLossLimit
	}

	l.reservations[positionID] = amount
	l.used = l.used.Add(amount)
	l.cycleGrants++

	l.log.WithFields(logger.Fields{
		"position_id": positionID,
		"amount":      amount.String(),
		"used":        l.used.String(),
		"total":       l.total.String(),
	}).Debug("risk reserved")

	l.afterMutationLocked("reserve", positionID)
	return true, ""
}

// Resize shrinks an existing reservation, e.g. after a partial fill.
// Growing a reservation is refused: that would bypass Reserve's checks.
func (l *Ledger) Resize(ctx context.Context, positionID string, amount decimal.Decimal) error {
	if ctx != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	current, ok := l.reservations[positionID]
	if !ok {
		return fmt.Errorf("no reservation for position %s", positionID)
	}
	if amount.IsNegative() || amount.GreaterThan(current) {
		return fmt.Errorf("resize of %s to %s not allowed (reserved %s)", positionID, amount, current)
	}
	l.reservations[positionID] = amount
	l.used = l.used.Sub(current).Add(amount)
	l.afterMutationLocked("resize", positionID)
	return nil
}

// RecordExposure books the filled notional of a reserved position.
func (l *Ledger) RecordExposure(positionID string, notional decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.reservations[positionID]; !ok {
		l.log.WithField("position_id", positionID).Warn("exposure ignored: no active reservation")
		return
	}
	l.exposure[positionID] = notional
	l.emitBudgetLocked("exposure", positionID)
}

// Release frees the reservation of positionID and books its realized P&L.
// Releasing the same position twice is a no-op.
func (l *Ledger) Release(ctx context.Context, positionID string, realizedPnL decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()

	amount, ok := l.reservations[positionID]
	if !ok {
		_, seen := l.released[positionID]
		l.log.WithFields(logger.Fields{
			"position_id":      positionID,
			"already_released": seen,
		}).Warn("release ignored: no active reservation")
		return
	}

	delete(l.reservations, positionID)
	delete(l.exposure, positionID)
	l.released[positionID] = l.now()
	l.used = l.used.Sub(amount)
	l.dailyPnL = l.dailyPnL.Add(realizedPnL)

	l.log.WithFields(logger.Fields{
		"position_id":  positionID,
		"amount":       amount.String(),
		"realized_pnl": realizedPnL.String(),
		"daily_pnl":    l.dailyPnL.String(),
	}).Info("risk released")

	if !l.halted && l.maxDailyLoss.IsPositive() && l.dailyLossLocked().GreaterThanOrEqual(l.maxDailyLoss) {
		l.haltLocked(ReasonDailyLossLimit)
	}
	l.afterMutationLocked("release", positionID)
}

// Snapshot returns a read-only copy of the budget.
func (l *Ledger) Snapshot() model.RiskBudget {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snapshotLocked()
}

// Halt stops all further reservations until Reset.
func (l *Ledger) Halt(reason string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.halted {
		return
	}
	l.haltLocked(reason)
	l.emitBudgetLocked("halt", "")
}

// Reset clears the halt and the daily P&L. Open reservations are kept:
// they still back live positions. Released ids older than releasedRetention are forgotten.
func (l *Ledger) Reset(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.halted = false
	l.haltReason = ""
	l.dailyPnL = decimal.Zero

	cutoff := l.now().Add(-releasedRetention)
	pruned := 0
	for id, at := range l.released {
		if at.Before(cutoff) {
			delete(l.released, id)
			pruned++
		}
	}
	l.log.WithField("released_pruned", pruned).Info("risk ledger reset")
	l.afterMutationLocked("reset", "")
}

// BeginCycle starts the per-cycle bookkeeping and returns the budget at cycle start.
func (l *Ledger) BeginCycle() model.RiskBudget {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cycleGrants = 0
	return l.snapshotLocked()
}

// CycleGrants returns how many reservations were granted since BeginCycle.
func (l *Ledger) CycleGrants() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cycleGrants
}

// Halted reports the halt flag and its reason.
func (l *Ledger) Halted() (bool, string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.halted, l.haltReason
}

// HaltNotifications delivers halt events; sends never block the ledger.
func (l *Ledger) HaltNotifications() <-chan HaltEvent {
	return l.haltCh
}

func (l *Ledger) dailyLossLocked() decimal.Decimal {
	if l.dailyPnL.IsNegative() {
		return l.dailyPnL.Neg()
	}
	return decimal.Zero
}

func (l *Ledger) haltLocked(reason string) {
	l.halted = true
	l.haltReason = reason
	l.log.WithField("reason", reason).Error("risk ledger halted")
	select {
	case l.haltCh <- HaltEvent{Reason: reason, At: l.now().UTC()}:
	default:
		l.log.WithField("reason", reason).Warn("halt notification dropped: channel full")
	}
}

// afterMutationLocked verifies the central invariant and reports the new budget.
func (l *Ledger) afterMutationLocked(op, positionID string) {
	sum := decimal.Zero
	for _, amt := range l.reservations {
		sum = sum.Add(amt)
	}
	if !sum.Equal(l.used) || l.used.GreaterThan(l.total) || l.used.IsNegative() {
		l.log.WithFields(logger.Fields{
			"op":               op,
			"used":             l.used.String(),
			"sum_reservations": sum.String(),
			"total":            l.total.String(),
		}).Error("risk ledger invariant violated")
		if !l.halted || l.haltReason != ReasonInvariantViolation {
			l.haltLocked(ReasonInvariantViolation)
		}
	}
	l.emitBudgetLocked(op, positionID)
}

func (l *Ledger) emitBudgetLocked(op, positionID string) {
	snap := l.snapshotLocked()
	l.sink.Emit(events.Event{
		Kind:       events.KindRiskBudgetUpdated,
		At:         l.now().UTC(),
		PositionID: positionID,
		Message:    "risk budget " + op,
		Fields: map[string]string{
			"op":             op,
			"used_budget":    snap.UsedBudget.String(),
			"total_budget":   snap.TotalBudget.String(),
			"open_positions": fmt.Sprintf("%d", snap.OpenPositions),
			"daily_pnl":      snap.DailyPnL.String(),
			"halted":         fmt.Sprintf("%t", snap.Halted),
		},
	})
}

func (l *Ledger) snapshotLocked() model.RiskBudget {
	res := make(map[string]decimal.Decimal, len(l.reservations))
	for id, amt := range l.reservations {
		res[id] = amt
	}
	exposure := decimal.Zero
	for _, n := range l.exposure {
		exposure = exposure.Add(n)
	}
	return model.RiskBudget{
		TotalBudget:   l.total,
		UsedBudget:    l.used,
		OpenExposure:  exposure,
		OpenPositions: len(l.reservations),
		MaxConcurrent: l.maxConcurrent,
		MaxDailyLoss:  l.maxDailyLoss,
		DailyPnL:      l.dailyPnL,
		Halted:        l.halted,
		HaltReason:    l.haltReason,
		Reservations:  res,
	}
}
