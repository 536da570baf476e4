package repository

import (
	"context"
	"time"

	"tradefunnel/src/database"
	"tradefunnel/src/events"
	"tradefunnel/src/model"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ExceptionRepository handles persistence of system exceptions.
type ExceptionRepository struct {
	db *gorm.DB
}

// NewExceptionRepository creates a new repository instance on the main database.
func NewExceptionRepository() *ExceptionRepository {
	return &ExceptionRepository{
		db: database.MainDB,
	}
}

func NewExceptionRepositoryWithDB(db *gorm.DB) *ExceptionRepository {
	return &ExceptionRepository{db: db}
}

// Create persists a new exception in the database.
func (r *ExceptionRepository) Create(
	ctx context.Context,
	exc *model.Exception,
) error {

	logger.WithFields(map[string]interface{}{
		"service": exc.Service,
		"module":  exc.Module,
		"method":  exc.Method,
		"level":   exc.Level,
	}).Error("Persisting system exception")

	return r.db.WithContext(ctx).Create(exc).Error
}

// Recent returns the latest exceptions, newest first.
func (r *ExceptionRepository) Recent(ctx context.Context, limit int) ([]model.Exception, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []model.Exception
	err := r.db.WithContext(ctx).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// Handler persists critical events (alerts and halts) as exceptions.
func (r *ExceptionRepository) Handler(service string) events.Handler {
	return func(ctx context.Context, evt events.Event) error {
		var level, module, method string
		switch evt.Kind {
		case events.KindAlert:
			level, module, method = "error", evt.Fields["module"], evt.Fields["method"]
		case events.KindCycleHalted:
			level, module, method = "fatal", "orchestrator", "Halt"
		default:
			return nil
		}
		if module == "" {
			module = string(evt.Kind)
		}

		context := make(map[string]string, len(evt.Fields)+2)
		for k, v := range evt.Fields {
			context[k] = v
		}
		if evt.PositionID != "" {
			context["position_id"] = evt.PositionID
		}
		if evt.Symbol != "" {
			context["symbol"] = evt.Symbol
		}

		createdAt := evt.At
		if createdAt.IsZero() {
			createdAt = time.Now()
		}
		return r.Create(ctx, &model.Exception{
			Service:   service,
			Module:    module,
			Method:    method,
			Message:   evt.Message,
			Level:     level,
			Context:   context,
			CreatedAt: createdAt,
		})
	}
}
