package position

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"tradefunnel/src/model"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pos(id, symbol string, openedAt time.Time) model.Position {
	return model.Position{
		ID:         id,
		Symbol:     symbol,
		Side:       model.SideLong,
		Quantity:   10,
		EntryPrice: decimal.NewFromInt(100),
		StopLoss:   decimal.NewFromInt(98),
		Status:     model.PositionStatusOpen,
		State:      model.StateOpen,
		OpenedAt:   openedAt,
	}
}

func TestStoreAddGetRemove(t *testing.T) {
	s := NewStore()
	now := time.Now()

	require.NoError(t, s.Add(pos("a", "AAPL", now)))
	assert.ErrorIs(t, s.Add(pos("a", "AAPL", now)), ErrDuplicate)

	got, ok := s.Get("a")
	require.True(t, ok)
	assert.Equal(t, "AAPL", got.Symbol)

	// copies never alias the stored value
	got.Quantity = 1
	again, _ := s.Get("a")
	assert.Equal(t, int64(10), again.Quantity)

	assert.True(t, s.HasSymbol("AAPL"))
	assert.False(t, s.HasSymbol("MSFT"))

	removed, ok := s.Remove("a")
	require.True(t, ok)
	assert.Equal(t, "a", removed.ID)
	_, ok = s.Remove("a")
	assert.False(t, ok)
	assert.Equal(t, 0, s.Count())
}

func TestStoreUpdate(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Add(pos("a", "AAPL", time.Now())))

	updated, err := s.Update("a", func(p *model.Position) {
		p.StopLoss = decimal.NewFromInt(99)
	})
	require.NoError(t, err)
	assert.True(t, updated.StopLoss.Equal(decimal.NewFromInt(99)))

	_, err = s.Update("missing", func(p *model.Position) {})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStoreOpenIsOrdered(t *testing.T) {
	s := NewStore()
	base := time.Date(2025, 3, 4, 14, 0, 0, 0, time.UTC)
	require.NoError(t, s.Add(pos("c", "C", base.Add(2*time.Minute))))
	require.NoError(t, s.Add(pos("b", "B", base)))
	require.NoError(t, s.Add(pos("a", "A", base)))

	open := s.Open()
	require.Len(t, open, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{open[0].ID, open[1].ID, open[2].ID})
	assert.True(t, s.HasSymbol("B"))
	assert.False(t, s.HasSymbol("D"))
}

func TestStoreConcurrentAccess(t *testing.T) {
	s := NewStore()
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				id := fmt.Sprintf("w%d-%d", w, i)
				_ = s.Add(pos(id, "SYM", time.Now()))
				_, _ = s.Update(id, func(p *model.Position) { p.Quantity++ })
				if i%2 == 0 {
					s.Remove(id)
				}
			}
		}(w)
	}
	wg.Wait()
	assert.Equal(t, 8*25, s.Count())
}
