package funnel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"tradefunnel/src/model"

	logger "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// ErrIncomplete tags a result cut short by cancellation or a stage timeout.
var ErrIncomplete = errors.New("funnel incomplete")

type StageCount struct {
	Stage    string        `json:"stage"`
	In       int           `json:"in"`
	Out      int           `json:"out"`
	Dropped  int           `json:"dropped"`
	Duration time.Duration `json:"duration"`
}

type Result struct {
	Finalists  []model.Candidate `json:"finalists"`
	Incomplete bool              `json:"incomplete"`
	// Stage is the last stage that completed.
	Stage  string       `json:"stage"`
	Counts []StageCount `json:"counts"`
}

type Funnel struct {
	stages       []Stage
	workers      int
	stageTimeout time.Duration
	weights      model.ScoreWeights
	log          *logger.Entry
}

// New builds the standard Catalyst -> Pattern -> Technical -> RiskPreCheck funnel.
// scorer, gate and holdings may be nil.
func New(cfg Config, scorer Scorer, gate RiskGate, holdings Holdings, log *logger.Entry) *Funnel {
	weights := cfg.Weights()
	return NewWithStages(cfg, log,
		CatalystStage(cfg.CatalystCap, scorer, weights),
		PatternStage(cfg.PatternCap, scorer, weights),
		TechnicalStage(cfg.TechnicalCap, scorer, weights),
		RiskPreCheckStage(cfg, gate, holdings),
	)
}

func NewWithStages(cfg Config, log *logger.Entry, stages ...Stage) *Funnel {
	if log == nil {
		log = logger.NewEntry(logger.StandardLogger())
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 8
	}
	return &Funnel{
		stages:       stages,
		workers:      workers,
		stageTimeout: cfg.StageTimeout,
		weights:      cfg.Weights(),
		log:          log.WithField("component", "funnel"),
	}
}

// Weights returns the composite weights the scan applies.
func (f *Funnel) Weights() model.ScoreWeights {
	return f.weights
}

// Run narrows the universe through every stage in order. On cancellation it returns
// the ranking of the last completed stage with Incomplete set and an ErrIncomplete error.
func (f *Funnel) Run(ctx context.Context, universe []model.Candidate) (Result, error) {
	current := f.scan(universe)
	res := Result{Stage: StageScan, Finalists: current}

	for _, stage := range f.stages {
		if err := ctx.Err(); err != nil {
			return f.incomplete(res, err)
		}

		started := time.Now()
		out, dropped, err := f.runStage(ctx, stage, current)
		if err != nil {
			return f.incomplete(res, err)
		}
		if err := checkSubset(current, out); err != nil {
			f.log.WithError(err).WithField("stage", stage.Name).Error("stage output is not a subset of its input")
			out = intersect(current, out)
		}

		res.Counts = append(res.Counts, StageCount{
			Stage:    stage.Name,
			In:       len(current),
			Out:      len(out),
			Dropped:  dropped,
			Duration: time.Since(started),
		})
		f.log.WithFields(logger.Fields{
			"stage":   stage.Name,
			"in":      len(current),
			"out":     len(out),
			"dropped": dropped,
		}).Debug("stage complete")

		current = out
		res.Stage = stage.Name
		res.Finalists = current
	}
	return res, nil
}

func (f *Funnel) incomplete(res Result, cause error) (Result, error) {
	res.Incomplete = true
	f.log.WithFields(logger.Fields{
		"last_stage": res.Stage,
		"finalists":  len(res.Finalists),
	}).WithError(cause).Warn("funnel cut short")
	return res, fmt.Errorf("%w after %s: %w", ErrIncomplete, res.Stage, cause)
}

// scan computes composites, drops out-of-range scores and duplicate symbols, and ranks.
func (f *Funnel) scan(universe []model.Candidate) []model.Candidate {
	seen := make(map[string]struct{}, len(universe))
	out := make([]model.Candidate, 0, len(universe))
	for _, c := range universe {
		if _, dup := seen[c.Symbol]; dup {
			f.log.WithField("symbol", c.Symbol).Warn("duplicate symbol in universe, keeping first")
			continue
		}
		seen[c.Symbol] = struct{}{}
		c = c.WithComposite(f.weights)
		if err := c.ValidateScores(); err != nil {
			f.log.WithError(err).WithField("symbol", c.Symbol).Warn("candidate dropped")
			continue
		}
		out = append(out, c)
	}
	return Rank(out)
}

func (f *Funnel) runStage(ctx context.Context, stage Stage, in []model.Candidate) ([]model.Candidate, int, error) {
	stageCtx := ctx
	if f.stageTimeout > 0 {
		var cancel context.CancelFunc
		stageCtx, cancel = context.WithTimeout(ctx, f.stageTimeout)
		defer cancel()
	}

	results := make([]*scored, len(in))
	var mu sync.Mutex
	dropped := 0

	group, gctx := errgroup.WithContext(stageCtx)
	group.SetLimit(f.workers)
	for i, c := range in {
		if gctx.Err() != nil {
			break
		}
		group.Go(func() error {
			out, score, err := stage.Evaluate(gctx, c)
			if err != nil {
				mu.Lock()
				dropped++
				mu.Unlock()
				entry := f.log.WithFields(logger.Fields{"stage": stage.Name, "symbol": c.Symbol})
				if errors.Is(err, ErrFiltered) {
					entry.WithError(err).Debug("candidate filtered")
				} else {
					entry.WithError(err).Warn("candidate evaluation failed")
				}
				return nil
			}
			if out.Symbol != c.Symbol {
				out = c
			}
			results[i] = &scored{c: out, score: score}
			return nil
		})
	}
	_ = group.Wait()

	if err := stageCtx.Err(); err != nil {
		return nil, dropped, fmt.Errorf("stage %s: %w", stage.Name, err)
	}

	items := make([]scored, 0, len(in))
	for _, r := range results {
		if r != nil {
			items = append(items, *r)
		}
	}
	rank(items)
	return candidates(truncate(items, stage.Cap)), dropped, nil
}

func intersect(in, out []model.Candidate) []model.Candidate {
	allowed := make(map[string]struct{}, len(in))
	for _, c := range in {
		allowed[c.Symbol] = struct{}{}
	}
	kept := make([]model.Candidate, 0, len(out))
	for _, c := range out {
		if _, ok := allowed[c.Symbol]; ok {
			kept = append(kept, c)
		}
	}
	return kept
}
