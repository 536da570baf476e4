package tp_sl

import (
	"testing"

	"tradefunnel/src/model"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestNextTrailingStop_BelowTrigger_NoMove(t *testing.T) {
	sl, moved := NextTrailingStop(model.SideLong, d("98"), d("100"), d("101.5"), DefaultConfig())
	if moved {
		t.Fatalf("expected moved=false")
	}
	if !sl.Equal(d("98")) {
		t.Fatalf("expected sl unchanged, got=%s", sl.String())
	}
}

func TestNextTrailingStop_ExactlyAtTrigger_NoMove(t *testing.T) {
	// 2% is not strictly above the trigger
	_, moved := NextTrailingStop(model.SideLong, d("98"), d("100"), d("102"), DefaultConfig())
	if moved {
		t.Fatalf("expected moved=false at exactly the trigger")
	}
}

func TestNextTrailingStop_LongSequence(t *testing.T) {
	cfg := DefaultConfig()
	entry := d("100")
	sl := d("98")

	// 100 -> 103 -> 101
	prices := []string{"100", "103", "101"}
	for _, p := range prices {
		price := d(p)
		sl, _ = NextTrailingStop(model.SideLong, sl, entry, price, cfg)
		if StopHit(model.SideLong, sl, price) {
			t.Fatalf("stop should not be hit at %s (sl=%s)", p, sl)
		}
	}
	if !sl.Equal(d("100.94")) {
		t.Fatalf("expected sl=100.94, got=%s", sl.String())
	}

	// a fall through the trailed stop triggers the exit
	if !StopHit(model.SideLong, sl, d("100.9")) {
		t.Fatalf("expected stop hit at 100.9")
	}
}

func TestNextTrailingStop_LongNeverLoosens(t *testing.T) {
	cfg := DefaultConfig()
	entry := d("100")
	sl := d("98")

	prev := sl
	for _, p := range []string{"104", "110", "105", "108", "103", "111", "109"} {
		sl, _ = NextTrailingStop(model.SideLong, sl, entry, d(p), cfg)
		if sl.LessThan(prev) {
			t.Fatalf("stop loosened at %s: %s -> %s", p, prev, sl)
		}
		prev = sl
	}
	// highest price was 111 -> 111*0.98
	if !sl.Equal(d("108.78")) {
		t.Fatalf("expected sl=108.78, got=%s", sl.String())
	}
}

func TestNextTrailingStop_ShortMirrors(t *testing.T) {
	cfg := DefaultConfig()
	entry := d("100")
	sl := d("102")

	sl, moved := NextTrailingStop(model.SideShort, sl, entry, d("97"), cfg)
	if !moved {
		t.Fatalf("expected moved=true")
	}
	if !sl.Equal(d("98.94")) {
		t.Fatalf("expected sl=98.94, got=%s", sl.String())
	}

	sl, moved = NextTrailingStop(model.SideShort, sl, entry, d("99"), cfg)
	if moved || !sl.Equal(d("98.94")) {
		t.Fatalf("short stop must only move down, got=%s moved=%v", sl, moved)
	}
	if !StopHit(model.SideShort, sl, d("99")) {
		t.Fatalf("expected short stop hit at 99")
	}
}

func TestTargetAndStopPrices(t *testing.T) {
	if got := StopPrice(model.SideLong, d("50"), d("1.5")); !got.Equal(d("48.5")) {
		t.Fatalf("long stop: got=%s", got)
	}
	if got := StopPrice(model.SideShort, d("50"), d("1.5")); !got.Equal(d("51.5")) {
		t.Fatalf("short stop: got=%s", got)
	}
	if got := TargetPrice(model.SideLong, d("50"), d("1.5"), d("2")); !got.Equal(d("53")) {
		t.Fatalf("long target: got=%s", got)
	}
	if got := TargetPrice(model.SideShort, d("50"), d("1.5"), d("2")); !got.Equal(d("47")) {
		t.Fatalf("short target: got=%s", got)
	}
	if !TargetHit(model.SideLong, d("53"), d("53.1")) || TargetHit(model.SideLong, d("53"), d("52.9")) {
		t.Fatalf("long target hit detection wrong")
	}
	if StopHit(model.SideLong, decimal.Zero, d("1")) {
		t.Fatalf("zero stop must never hit")
	}
}
