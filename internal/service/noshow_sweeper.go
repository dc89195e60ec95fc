package service

import (
	"context"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/noah-isme/dronexam-api/internal/models"
	"github.com/noah-isme/dronexam-api/internal/repository"
	"github.com/noah-isme/dronexam-api/pkg/clock"
)

const (
	defaultSweepSpec  = "@every 5m"
	sweepBatchLimit   = 500
	sweepRunTimeout   = 4 * time.Minute
	sweepDisabledSpec = "off"
)

// noShowMarker is the slice of CheckInService the sweeper drives.
type noShowMarker interface {
	NoShow(ctx context.Context, staff models.Principal, scheduleID int64) (*models.Schedule, error)
}

// SweepResult summarises one sweep.
type SweepResult struct {
	Due    int
	Marked int
	Failed int
}

// NoShowSweeper marks Pending schedules whose slot has ended as no-shows.
type NoShowSweeper struct {
	store  repository.Reader
	marker noShowMarker
	clock  clock.Clock
	spec   string
	cron   *cron.Cron
	logger *zap.Logger
}

// NewNoShowSweeper constructs a sweeper. An empty spec uses every five
// minutes; "off" disables the schedule but keeps Sweep usable.
func NewNoShowSweeper(store repository.Reader, marker noShowMarker, clk clock.Clock, spec string, logger *zap.Logger) *NoShowSweeper {
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	spec = strings.TrimSpace(spec)
	if spec == "" {
		spec = defaultSweepSpec
	}
	return &NoShowSweeper{store: store, marker: marker, clock: clk, spec: spec, logger: logger.Named("noshow")}
}

// Start registers the cron entry. Overlapping runs are skipped.
func (s *NoShowSweeper) Start() error {
	if strings.EqualFold(s.spec, sweepDisabledSpec) {
		s.logger.Info("no-show sweeper disabled")
		return nil
	}
	s.cron = cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	if _, err := s.cron.AddFunc(s.spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), sweepRunTimeout)
		defer cancel()
		if _, err := s.Sweep(ctx); err != nil {
			s.logger.Error("no-show sweep failed", zap.Error(err))
		}
	}); err != nil {
		return err
	}
	s.cron.Start()
	s.logger.Info("no-show sweeper started", zap.String("schedule", s.spec))
	return nil
}

// Stop waits for a running sweep to finish.
func (s *NoShowSweeper) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
}

// Sweep runs one pass. Individual failures are logged and skipped.
func (s *NoShowSweeper) Sweep(ctx context.Context) (SweepResult, error) {
	var result SweepResult
	due, err := s.store.ListDueNoShows(ctx, s.clock.Now(), sweepBatchLimit)
	if err != nil {
		return result, loadError(err, "due no-shows")
	}
	result.Due = len(due)

	system := models.SystemPrincipal()
	for _, schedule := range due {
		if err := ctx.Err(); err != nil {
			return result, loadError(err, "due no-shows")
		}
		if _, err := s.marker.NoShow(ctx, system, schedule.ID); err != nil {
			result.Failed++
			s.logger.Warn("no-show not applied", zap.Int64("schedule_id", schedule.ID), zap.Error(err))
			continue
		}
		result.Marked++
	}
	if result.Due > 0 {
		s.logger.Info("no-show sweep finished", zap.Int("due", result.Due), zap.Int("marked", result.Marked), zap.Int("failed", result.Failed))
	}
	return result, nil
}
