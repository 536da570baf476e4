package funnel

import (
	"context"
	"errors"
	"fmt"

	"tradefunnel/src/model"

	"github.com/shopspring/decimal"
)

const (
	StageScan      = "scan"
	StageCatalyst  = "catalyst"
	StagePattern   = "pattern"
	StageTechnical = "technical"
	StageRisk      = "risk_precheck"
)

// ErrFiltered drops a candidate on a policy check. It is logged at debug level only.
var ErrFiltered = errors.New("filtered")

// Evaluator scores one candidate for a stage. It may return a refreshed copy of the
// candidate; it must not change its symbol.
type Evaluator func(ctx context.Context, c model.Candidate) (model.Candidate, float64, error)

type Stage struct {
	Name     string
	Cap      int
	Evaluate Evaluator
}

// Scorer refreshes a stage score from the Catalyst & Signal Provider.
type Scorer interface {
	Score(ctx context.Context, stage string, c model.Candidate) (float64, error)
}

// RiskGate is the read-only view of the risk ledger used by the precheck.
type RiskGate interface {
	Snapshot() model.RiskBudget
}

// Holdings answers whether a symbol already has an open position.
type Holdings interface {
	HasSymbol(symbol string) bool
}

func scoreStage(name string, field func(model.Candidate) float64, set func(*model.Candidate, float64), scorer Scorer, weights model.ScoreWeights) Evaluator {
	return func(ctx context.Context, c model.Candidate) (model.Candidate, float64, error) {
		score := field(c)
		if scorer != nil {
			fresh, err := scorer.Score(ctx, name, c)
			if err != nil {
				return c, 0, fmt.Errorf("%s scorer: %w", name, err)
			}
			set(&c, fresh)
			c = c.WithComposite(weights)
			score = fresh
		}
		if !model.InUnitRange(score) {
			return c, 0, fmt.Errorf("%s score %.4f out of range [0,1]", name, score)
		}
		return c, score, nil
	}
}

// CatalystStage ranks by catalyst score.
func CatalystStage(cap int, scorer Scorer, weights model.ScoreWeights) Stage {
	return Stage{
		Name: StageCatalyst,
		Cap:  cap,
		Evaluate: scoreStage(StageCatalyst,
			func(c model.Candidate) float64 { return c.CatalystScore },
			func(c *model.Candidate, v float64) { c.CatalystScore = v },
			scorer, weights),
	}
}

func PatternStage(cap int, scorer Scorer, weights model.ScoreWeights) Stage {
	return Stage{
		Name: StagePattern,
		Cap:  cap,
		Evaluate: scoreStage(StagePattern,
			func(c model.Candidate) float64 { return c.PatternConfidence },
			func(c *model.Candidate, v float64) { c.PatternConfidence = v },
			scorer, weights),
	}
}

func TechnicalStage(cap int, scorer Scorer, weights model.ScoreWeights) Stage {
	return Stage{
		Name: StageTechnical,
		Cap:  cap,
		Evaluate: scoreStage(StageTechnical,
			func(c model.Candidate) float64 { return c.TechnicalScore },
			func(c *model.Candidate, v float64) { c.TechnicalScore = v },
			scorer, weights),
	}
}

// RiskPreCheckStage drops candidates that can never be sized this cycle and ranks
// the rest by composite score. gate and holdings may be nil.
func RiskPreCheckStage(cfg Config, gate RiskGate, holdings Holdings) Stage {
	minPrice := decimal.NewFromFloat(cfg.MinPrice)
	maxPrice := decimal.NewFromFloat(cfg.MaxPrice)

	return Stage{
		Name: StageRisk,
		Cap:  cfg.RiskCap,
		Evaluate: func(ctx context.Context, c model.Candidate) (model.Candidate, float64, error) {
			switch {
			case c.CompositeScore < cfg.MinComposite:
				return c, 0, fmt.Errorf("%w: composite %.3f below %.3f", ErrFiltered, c.CompositeScore, cfg.MinComposite)
			case c.LastPrice.LessThan(minPrice):
				return c, 0, fmt.Errorf("%w: price %s below %s", ErrFiltered, c.LastPrice, minPrice)
			case maxPrice.Sign() > 0 && c.LastPrice.GreaterThan(maxPrice):
				return c, 0, fmt.Errorf("%w: price %s above %s", ErrFiltered, c.LastPrice, maxPrice)
			case c.Volume < cfg.MinVolume:
				return c, 0, fmt.Errorf("%w: volume %d below %d", ErrFiltered, c.Volume, cfg.MinVolume)
			case c.ATR.Sign() <= 0:
				return c, 0, fmt.Errorf("%w: no volatility measure", ErrFiltered)
			}
			if holdings != nil && holdings.HasSymbol(c.Symbol) {
				return c, 0, fmt.Errorf("%w: position already open", ErrFiltered)
			}
			if gate != nil {
				snap := gate.Snapshot()
				if snap.Halted {
					return c, 0, fmt.Errorf("%w: ledger halted (%s)", ErrFiltered, snap.HaltReason)
				}
				if snap.MaxConcurrent > 0 && snap.OpenPositions >= snap.MaxConcurrent {
					return c, 0, fmt.Errorf("%w: no position slots left", ErrFiltered)
				}
			}
			return c, c.CompositeScore, nil
		},
	}
}
