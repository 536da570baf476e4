package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"tradefunnel/src/auth"
	"tradefunnel/src/executors"
	"tradefunnel/src/model"
	"tradefunnel/src/repository"

	logger "github.com/sirupsen/logrus"
)

type riskViewer interface {
	Snapshot() model.RiskBudget
}

type positionLister interface {
	Positions() []model.Position
}

type cycleController interface {
	Status() executors.Status
	Halt(reason string)
	Resume(ctx context.Context) error
}

type eventSearcher interface {
	Search(ctx context.Context, options repository.EventSearchOptions) ([]model.EventLog, error)
}

type haltPayload struct {
	Reason string `json:"reason"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}, what string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.WithError(err).Errorf("failed to encode %s response", what)
	}
}

// RiskHandler returns the current risk budget.
func RiskHandler(ledger riskViewer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, ledger.Snapshot(), "risk")
	}
}

// PositionsHandler lists the positions under monitoring.
func PositionsHandler(positions positionLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		open := positions.Positions()
		if open == nil {
			open = []model.Position{}
		}
		writeJSON(w, http.StatusOK, open, "positions")
	}
}

func CycleHandler(ctrl cycleController) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, ctrl.Status(), "cycle")
	}
}

// HaltHandler moves the orchestrator to Emergency. Requires an authenticated operator.
func HaltHandler(ctrl cycleController) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		op, ok := auth.GetOperatorFromContext(r.Context())
		if !ok || op == nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		var payload haltPayload
		decoder := json.NewDecoder(r.Body)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&payload); err != nil {
			logger.WithError(err).Warn("invalid halt payload")
			http.Error(w, "Invalid payload", http.StatusBadRequest)
			return
		}
		if payload.Reason == "" {
			http.Error(w, "reason is required", http.StatusBadRequest)
			return
		}

		logger.WithFields(logger.Fields{
			"operator": op.Name,
			"reason":   payload.Reason,
		}).Warn("operator halt requested")
		ctrl.Halt(payload.Reason)
		writeJSON(w, http.StatusOK, ctrl.Status(), "halt")
	}
}

// ResumeHandler clears an Emergency. Requires an authenticated operator.
func ResumeHandler(ctrl cycleController) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		op, ok := auth.GetOperatorFromContext(r.Context())
		if !ok || op == nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		if err := ctrl.Resume(r.Context()); err != nil {
			if errors.Is(err, executors.ErrNotHalted) {
				http.Error(w, err.Error(), http.StatusConflict)
				return
			}
			logger.WithError(err).Error("failed to resume orchestrator")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		logger.WithField("operator", op.Name).Warn("operator resumed trading")
		writeJSON(w, http.StatusOK, ctrl.Status(), "resume")
	}
}

// EventsHandler searches persisted events. Supports kind, symbol, positionId, since and limit.
func EventsHandler(repo eventSearcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		opts := repository.EventSearchOptions{
			Kind:       q.Get("kind"),
			Symbol:     q.Get("symbol"),
			PositionID: q.Get("positionId"),
		}

		if sinceParam := q.Get("since"); sinceParam != "" {
			parsed, err := time.Parse(time.RFC3339, sinceParam)
			if err != nil {
				http.Error(w, "invalid since", http.StatusBadRequest)
				return
			}
			opts.Since = &parsed
		}

		if limitParam := q.Get("limit"); limitParam != "" {
			limit, err := strconv.Atoi(limitParam)
			if err != nil || limit <= 0 || limit > 1000 {
				http.Error(w, "invalid limit", http.StatusBadRequest)
				return
			}
			opts.Limit = limit
		}

		found, err := repo.Search(r.Context(), opts)
		if err != nil {
			logger.WithError(err).Error("failed to search events")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		if found == nil {
			found = []model.EventLog{}
		}
		writeJSON(w, http.StatusOK, found, "events")
	}
}
