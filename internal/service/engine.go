package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/dronexam-api/internal/models"
	"github.com/noah-isme/dronexam-api/internal/repository"
	"github.com/noah-isme/dronexam-api/pkg/clock"
	appErrors "github.com/noah-isme/dronexam-api/pkg/errors"
)

// EventPublisher receives core events once the transaction that produced
// them has committed.
type EventPublisher interface {
	Publish(events ...models.Event)
}

// txStore is the slice of repository.Store the mutating services use.
type txStore interface {
	repository.Reader
	WithTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error
}

type nopPublisher struct{}

func (nopPublisher) Publish(...models.Event) {}

// loadError maps a repository read failure onto the error taxonomy.
func loadError(err error, entity string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.Clone(appErrors.ErrNotFound, entity+" not found")
	}
	if classified := classify(err); classified != nil {
		return classified
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load "+entity)
}

// writeError maps a repository write failure onto the error taxonomy.
func writeError(err error, action string) error {
	if classified := classify(err); classified != nil {
		return classified
	}
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.Wrap(err, appErrors.ErrConflict.Code, appErrors.ErrConflict.Status, "row vanished while trying to "+action)
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to "+action)
}

// classify returns the taxonomy error for failures the repository can
// name: domain errors, context expiry, lock conflicts and lost connections.
// Statement errors inside a transaction must keep their SQLSTATE so that
// serialization failures stay retryable.
func classify(err error) *appErrors.Error {
	var appErr *appErrors.Error
	if errors.As(repository.MapError(err), &appErr) {
		return appErr
	}
	return nil
}

// withAlerts makes retry report internal failures as ALERT events.
func withAlerts(retry RetryPolicy, events EventPublisher, clk clock.Clock, logger *zap.Logger) RetryPolicy {
	retry.Logger = logger
	retry.OnInternal = func(op string, err error) {
		logger.Error("internal error, transaction rolled back", zap.String("op", op), zap.Error(err))
		events.Publish(models.Event{
			ID:         uuid.NewString(),
			Type:       models.EventAlert,
			OccurredAt: clk.Now(),
			Action:     op,
			Detail:     err.Error(),
		})
	}
	return retry
}

func lanePtr(l models.Lane) *models.Lane { return &l }

func intPtr(v int) *int { return &v }

func sameIntPtr(a, b *int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
