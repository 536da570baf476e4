package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logrustest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
)

func TestAsyncSinkDeliversInOrder(t *testing.T) {
	var mu sync.Mutex
	var got []Kind
	sink := NewAsyncSink(nil, 8, func(_ context.Context, evt Event) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, evt.Kind)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	sink.Start(ctx)

	sink.Emit(Event{Kind: KindPositionOpened})
	sink.Emit(Event{Kind: KindRiskBudgetUpdated})
	sink.Emit(Event{Kind: KindPositionClosed})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 3
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-sink.Done()

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []Kind{KindPositionOpened, KindRiskBudgetUpdated, KindPositionClosed}, got)
}

func TestAsyncSinkDropsWhenFull(t *testing.T) {
	logger, hook := logrustest.NewNullLogger()
	// not started: nothing drains the buffer
	sink := NewAsyncSink(logrus.NewEntry(logger), 2)

	start := time.Now()
	for i := 0; i < 5; i++ {
		sink.Emit(Event{Kind: KindRiskBudgetUpdated})
	}
	require.Less(t, time.Since(start), 100*time.Millisecond, "emit must not block")
	require.Equal(t, int64(3), sink.Dropped())
	require.NotEmpty(t, hook.AllEntries())
}

func TestAsyncSinkDrainsOnShutdown(t *testing.T) {
	rec := &Recorder{}
	sink := NewAsyncSink(nil, 16, func(_ context.Context, evt Event) error {
		rec.Emit(evt)
		return nil
	})
	for i := 0; i < 4; i++ {
		sink.Emit(Event{Kind: KindAlert})
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sink.Start(ctx)
	<-sink.Done()

	require.Equal(t, 4, rec.Count(KindAlert))
}
