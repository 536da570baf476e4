package model

import (
	"fmt"

	"github.com/shopspring/decimal"
)

type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// Candidate is a scored security considered for entry in the current cycle.
// It is a value type: stages re-rank and filter candidates but never change them.
type Candidate struct {
	Symbol            string            `json:"symbol"`
	Side              Side              `json:"side"`
	LastPrice         decimal.Decimal   `json:"last_price"`
	Volume            int64             `json:"volume"`
	ATR               decimal.Decimal   `json:"atr"`
	CatalystScore     float64           `json:"catalyst_score"`
	PatternConfidence float64           `json:"pattern_confidence"`
	TechnicalScore    float64           `json:"technical_score"`
	CompositeScore    float64           `json:"composite_score"`
	Metadata          map[string]string `json:"metadata,omitempty"`
}

// ScoreWeights controls how the composite score is built from the individual scores.
type ScoreWeights struct {
	Catalyst  float64 `yaml:"catalyst"`
	Pattern   float64 `yaml:"pattern"`
	Technical float64 `yaml:"technical"`
}

func DefaultScoreWeights() ScoreWeights {
	return ScoreWeights{Catalyst: 0.4, Pattern: 0.3, Technical: 0.3}
}

// WithComposite returns a copy of the candidate carrying the weighted composite score.
func (c Candidate) WithComposite(w ScoreWeights) Candidate {
	total := w.Catalyst + w.Pattern + w.Technical
	if total <= 0 {
		c.CompositeScore = 0
		return c
	}
	c.CompositeScore = (c.CatalystScore*w.Catalyst + c.PatternConfidence*w.Pattern + c.TechnicalScore*w.Technical) / total
	return c
}

// EffectiveSide defaults an unset side to long.
func (c Candidate) EffectiveSide() Side {
	if c.Side == SideShort {
		return SideShort
	}
	return SideLong
}

// ValidateScores checks that every provided score is inside [0,1].
func (c Candidate) ValidateScores() error {
	scores := map[string]float64{
		"catalyst":  c.CatalystScore,
		"pattern":   c.PatternConfidence,
		"technical": c.TechnicalScore,
		"composite": c.CompositeScore,
	}
	for name, v := range scores {
		if !InUnitRange(v) {
			return fmt.Errorf("%s score %.4f out of range [0,1] for %s", name, v, c.Symbol)
		}
	}
	return nil
}

// InUnitRange reports whether v is a number in [0,1]. NaN is not.
func InUnitRange(v float64) bool {
	return v >= 0 && v <= 1
}

// Symbols lists the symbols of a candidate slice, in order.
func Symbols(cs []Candidate) []string {
	out := make([]string, 0, len(cs))
	for _, c := range cs {
		out = append(out, c.Symbol)
	}
	return out
}
