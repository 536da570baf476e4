package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"tradefunnel/src/events"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventRepositorySearchQueries(t *testing.T) {
	mockDB, mock := newMockDB(t)
	repo := NewEventRepositoryWithDB(mockDB)
	at := time.Date(2025, 3, 4, 15, 0, 0, 0, time.UTC)

	rows := func() *sqlmock.Rows {
		return sqlmock.NewRows([]string{"id", "kind", "position_id", "symbol", "message", "occurred_at", "created_at"}).
			AddRow(2, "position_closed", "p-2", "AAPL", "closed", at.Add(time.Minute), at).
			AddRow(1, "position_closed", "p-1", "AAPL", "closed", at, at)
	}

	t.Run("filters by kind", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "event_logs" WHERE kind = $1 ORDER BY occurred_at DESC, id DESC LIMIT $2`)).
			WithArgs("position_closed", 100).
			WillReturnRows(rows())

		out, err := repo.Search(context.Background(), EventSearchOptions{Kind: "position_closed"})
		require.NoError(t, err)
		require.Len(t, out, 2)
		assert.Equal(t, "p-2", out[0].PositionID)
	})

	t.Run("filters by symbol and position with limit", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "event_logs" WHERE symbol = $1 AND position_id = $2 ORDER BY occurred_at DESC, id DESC LIMIT $3`)).
			WithArgs("AAPL", "p-1", 5).
			WillReturnRows(rows())

		_, err := repo.Search(context.Background(), EventSearchOptions{Symbol: "AAPL", PositionID: "p-1", Limit: 5})
		require.NoError(t, err)
	})

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sqlmock expectations: %v", err)
	}
}

func TestEventRepositoryHandlerPersistsEvents(t *testing.T) {
	db := newSQLiteDB(t)
	repo := NewEventRepositoryWithDB(db)
	handle := repo.Handler()
	ctx := context.Background()
	at := time.Date(2025, 3, 4, 15, 0, 0, 0, time.UTC)

	require.NoError(t, handle(ctx, events.Event{
		Kind:       events.KindPositionOpened,
		At:         at,
		PositionID: "p-1",
		Symbol:     "MSFT",
		Message:    "position opened",
		Fields:     map[string]string{"fill_price": "410.5"},
	}))
	require.NoError(t, handle(ctx, events.Event{
		Kind:       events.KindPositionClosed,
		At:         at.Add(time.Hour),
		PositionID: "p-1",
		Symbol:     "MSFT",
		Message:    "position closed",
		Fields:     map[string]string{"exit_reason": "stop_loss_hit"},
	}))

	all, err := repo.Search(ctx, EventSearchOptions{PositionID: "p-1"})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "position_closed", all[0].Kind)
	assert.Equal(t, "stop_loss_hit", all[0].Metadata["exit_reason"])

	opened, err := repo.Search(ctx, EventSearchOptions{Kind: string(events.KindPositionOpened)})
	require.NoError(t, err)
	require.Len(t, opened, 1)
	assert.Equal(t, "410.5", opened[0].Metadata["fill_price"])

	since := at.Add(30 * time.Minute)
	recent, err := repo.Search(ctx, EventSearchOptions{Since: &since})
	require.NoError(t, err)
	assert.Len(t, recent, 1)
}
