package tp_sl

import (
	"tradefunnel/src/model"

	"github.com/shopspring/decimal"
)

// NextTrailingStop applies the percentage trail for long or short.
//
// Long:
// - gate: (price-entry)/entry > trigger
// - candidate: price * (1 - pct)
// - update: SL = max(SL, candidate)
//
// Short:
// - gate: (entry-price)/entry > trigger
// - candidate: price * (1 + pct)
// - update: SL = min(SL, candidate)
func NextTrailingStop(
	side model.Side,
	currentSL decimal.Decimal,
	entry decimal.Decimal,
	price decimal.Decimal,
	cfg Config,
) (newSL decimal.Decimal, moved bool) {
	if entry.Sign() <= 0 || price.Sign() <= 0 {
		return currentSL, false
	}
	one := decimal.NewFromInt(1)

	switch side {
	case model.SideLong:
		profit := price.Sub(entry).Div(entry)
		if !profit.GreaterThan(cfg.trigger()) {
			return currentSL, false
		}
		candidate := price.Mul(one.Sub(cfg.pct()))
		if candidate.GreaterThan(currentSL) {
			return candidate, true
		}
		return currentSL, false

	case model.SideShort:
		profit := entry.Sub(price).Div(entry)
		if !profit.GreaterThan(cfg.trigger()) {
			return currentSL, false
		}
		candidate := price.Mul(one.Add(cfg.pct()))
		// Stop only moves down for shorts
		if currentSL.IsZero() || candidate.LessThan(currentSL) {
			return candidate, true
		}
		return currentSL, false

	default:
		return currentSL, false
	}
}

// StopHit reports whether price has crossed the protective stop.
func StopHit(side model.Side, stop, price decimal.Decimal) bool {
	if stop.IsZero() {
		return false
	}
	if side == model.SideShort {
		return price.GreaterThanOrEqual(stop)
	}
	return price.LessThanOrEqual(stop)
}

func TargetHit(side model.Side, target, price decimal.Decimal) bool {
	if target.IsZero() {
		return false
	}
	if side == model.SideShort {
		return price.LessThanOrEqual(target)
	}
	return price.GreaterThanOrEqual(target)
}

// StopPrice places the initial stop distance away from entry against the position.
func StopPrice(side model.Side, entry, distance decimal.Decimal) decimal.Decimal {
	if side == model.SideShort {
		return entry.Add(distance)
	}
	return entry.Sub(distance)
}

// TargetPrice places the take profit at distance * rewardRisk in favour of the position.
func TargetPrice(side model.Side, entry, distance, rewardRisk decimal.Decimal) decimal.Decimal {
	move := distance.Mul(rewardRisk)
	if side == model.SideShort {
		return entry.Sub(move)
	}
	return entry.Add(move)
}
