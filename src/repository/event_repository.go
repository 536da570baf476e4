package repository

import (
	"context"
	"time"

	"tradefunnel/src/database"
	"tradefunnel/src/events"
	"tradefunnel/src/model"

	"gorm.io/gorm"
)

type EventRepository struct {
	db *gorm.DB
}

func NewEventRepository() *EventRepository {
	return &EventRepository{db: database.MainDB}
}

func NewEventRepositoryWithDB(db *gorm.DB) *EventRepository {
	return &EventRepository{db: db}
}

type EventSearchOptions struct {
	Kind       string
	Symbol     string
	PositionID string
	Since      *time.Time
	Limit      int
}

func (r *EventRepository) Create(ctx context.Context, e *model.EventLog) error {
	return r.db.WithContext(ctx).Create(e).Error
}

// Search returns persisted events matching opts, newest first.
func (r *EventRepository) Search(ctx context.Context, opts EventSearchOptions) ([]model.EventLog, error) {
	query := r.db.WithContext(ctx).Model(&model.EventLog{})
	if opts.Kind != "" {
		query = query.Where("kind = ?", opts.Kind)
	}
	if opts.Symbol != "" {
		query = query.Where("symbol = ?", opts.Symbol)
	}
	if opts.PositionID != "" {
		query = query.Where("position_id = ?", opts.PositionID)
	}
	if opts.Since != nil {
		query = query.Where("occurred_at >= ?", *opts.Since)
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}

	var out []model.EventLog
	err := query.Order("occurred_at DESC, id DESC").Limit(limit).Find(&out).Error
	return out, err
}

// Handler stores every event emitted to the reporting sink.
func (r *EventRepository) Handler() events.Handler {
	return func(ctx context.Context, evt events.Event) error {
		return r.Create(ctx, &model.EventLog{
			Kind:       string(evt.Kind),
			PositionID: evt.PositionID,
			Symbol:     evt.Symbol,
			Message:    evt.Message,
			Metadata:   evt.Fields,
			OccurredAt: evt.At,
		})
	}
}
