package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"tradefunnel/src/auth"
	"tradefunnel/src/executors"
	"tradefunnel/src/handler"
	"tradefunnel/src/model"
	"tradefunnel/src/repository"

	"github.com/go-chi/chi/v5"
	logger "github.com/sirupsen/logrus"
)

type Controller interface {
	Status() executors.Status
	Halt(reason string)
	Resume(ctx context.Context) error
}

type EventSearcher interface {
	Search(ctx context.Context, options repository.EventSearchOptions) ([]model.EventLog, error)
}

type Deps struct {
	Ledger interface {
		Snapshot() model.RiskBudget
	}
	Positions interface {
		Positions() []model.Position
	}
	Orchestrator Controller
	// optional, /v1/events is only mounted when set
	Events            EventSearcher
	OperatorTokenHash string
}

// NewRouter mounts the status API.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	// Public routes
	r.Get("/healthcheck", func(w http.ResponseWriter, r *http.Request) {
		if _, err := w.Write([]byte("OK")); err != nil {
			logger.WithError(err).Error(" \"/health error")
		}
	})

	r.Route("/v1", func(r chi.Router) {
		r.Get("/risk", handler.RiskHandler(deps.Ledger))
		r.Get("/positions", handler.PositionsHandler(deps.Positions))
		r.Get("/cycle", handler.CycleHandler(deps.Orchestrator))
		if deps.Events != nil {
			r.Get("/events", handler.EventsHandler(deps.Events))
		}

		// Operator routes
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireOperator(deps.OperatorTokenHash))
			r.Post("/halt", handler.HaltHandler(deps.Orchestrator))
			r.Post("/resume", handler.ResumeHandler(deps.Orchestrator))
		})
	})

	return r
}

// StartServer serves h on port until ctx is done, then shuts down gracefully.
func StartServer(ctx context.Context, port string, h http.Handler) error {
	addr := ":" + port
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("Listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.WithError(err).Error("Server crashed")
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Shutdown error")
		return err
	}
	return nil
}
