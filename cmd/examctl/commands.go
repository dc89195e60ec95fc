package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/fatih/color"
	"github.com/jmoiron/sqlx"
	"github.com/olekukonko/tablewriter"
	"go.uber.org/zap"

	"github.com/noah-isme/dronexam-api/internal/models"
	"github.com/noah-isme/dronexam-api/internal/repository"
	"github.com/noah-isme/dronexam-api/internal/service"
	"github.com/noah-isme/dronexam-api/migrations"
	"github.com/noah-isme/dronexam-api/pkg/clock"
	"github.com/noah-isme/dronexam-api/pkg/config"
	"github.com/noah-isme/dronexam-api/pkg/database"
	"github.com/noah-isme/dronexam-api/pkg/logger"
	"github.com/noah-isme/dronexam-api/pkg/qrtoken"
)

// toolEnv wires the engine against the configured database. Operator
// commands run as the system principal and publish no events.
type toolEnv struct {
	db      *sqlx.DB
	logger  *zap.Logger
	store   *repository.PostgresStore
	checkin *service.CheckInService
	boards  *service.QueueView
	sweeper *service.NoShowSweeper
}

func openEnv(ctx context.Context) (*toolEnv, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logr, err := logger.New(cfg)
	if err != nil {
		return nil, err
	}
	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}

	ring, err := qrtoken.NewRing(cfg.Token.Secret, cfg.Token.PreviousSecrets...)
	if err != nil {
		db.Close()
		return nil, err
	}
	codec, err := qrtoken.NewCodec(ring, cfg.Token.TTL, cfg.Token.ClockSkew)
	if err != nil {
		db.Close()
		return nil, err
	}

	clk := clock.Real()
	store := repository.NewPostgresStore(db)
	guard := service.NewAccessGuard(nil, nil, clk, logr)
	retry := service.RetryPolicy{MaxRetries: cfg.Engine.MaxRetries, BaseDelay: cfg.Engine.RetryBaseDelay, Logger: logr}
	checkin := service.NewCheckInService(store, codec, guard, nil, clk, retry, service.CheckInConfig{EarlyWindow: cfg.Engine.CheckInEarlyWindow}, logr)
	return &toolEnv{
		db:      db,
		logger:  logr,
		store:   store,
		checkin: checkin,
		boards:  service.NewQueueView(store, guard, nil, clk, logr),
		sweeper: service.NewNoShowSweeper(store, checkin, clk, "off", logr),
	}, nil
}

func (e *toolEnv) Close() {
	_ = e.logger.Sync()
	_ = e.db.Close()
}

func runMigrate(ctx context.Context, out io.Writer, args []string) error {
	fs := newFlagSet("migrate", out)
	verifyOnly := fs.Bool("verify", false, "only check that the tables exist")
	if err := fs.Parse(args); err != nil {
		return err
	}

	env, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer env.Close()

	if !*verifyOnly {
		if err := migrations.Apply(ctx, env.db); err != nil {
			return err
		}
		color.New(color.FgGreen).Fprintf(out, "applied %d statements\n", len(migrations.Statements))
	}
	if err := migrations.Verify(ctx, env.db); err != nil {
		return err
	}
	color.New(color.FgGreen).Fprintf(out, "schema ok: %d tables\n", len(migrations.Tables))
	return nil
}

func runBoard(ctx context.Context, out io.Writer, args []string) error {
	fs := newFlagSet("board", out)
	venueID := fs.Int64P("venue", "v", 0, "venue id")
	date := fs.StringP("date", "d", "", "exam date (YYYY-MM-DD), defaults to today at the venue")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *venueID <= 0 {
		return fmt.Errorf("--venue is required")
	}

	env, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer env.Close()

	day, err := resolveDate(*date, func() (time.Time, error) { return env.boards.Today(ctx, *venueID) })
	if err != nil {
		return err
	}
	board, err := env.boards.VenueBoard(ctx, models.SystemPrincipal(), *venueID, day)
	if err != nil {
		return err
	}
	renderBoard(out, board)
	return nil
}

func runToken(ctx context.Context, out io.Writer, args []string) error {
	fs := newFlagSet("token", out)
	scheduleID := fs.Int64P("schedule", "s", 0, "schedule id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *scheduleID <= 0 {
		return fmt.Errorf("--schedule is required")
	}

	env, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer env.Close()

	issued, err := env.checkin.IssueToken(ctx, models.SystemPrincipal(), *scheduleID)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, issued.Token)
	color.New(color.FgYellow).Fprintf(out, "expires %s\n", issued.ExpiresAt.UTC().Format(time.RFC3339))
	return nil
}

func runQR(ctx context.Context, out io.Writer, args []string) error {
	fs := newFlagSet("qr", out)
	scheduleID := fs.Int64P("schedule", "s", 0, "schedule id")
	path := fs.StringP("out", "o", "", "output PNG path (default qr-<schedule>.png)")
	size := fs.Int("size", qrtoken.DefaultQRSize, "image size in pixels")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *scheduleID <= 0 {
		return fmt.Errorf("--schedule is required")
	}
	if *path == "" {
		*path = "qr-" + strconv.FormatInt(*scheduleID, 10) + ".png"
	}

	env, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer env.Close()

	png, issued, err := env.checkin.IssueQR(ctx, models.SystemPrincipal(), *scheduleID, *size)
	if err != nil {
		return err
	}
	if err := os.WriteFile(*path, png, 0o600); err != nil {
		return err
	}
	color.New(color.FgGreen).Fprintf(out, "wrote %s (expires %s)\n", *path, issued.ExpiresAt.UTC().Format(time.RFC3339))
	return nil
}

func runSweep(ctx context.Context, out io.Writer, args []string) error {
	fs := newFlagSet("sweep", out)
	if err := fs.Parse(args); err != nil {
		return err
	}

	env, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer env.Close()

	result, err := env.sweeper.Sweep(ctx)
	if err != nil {
		return err
	}
	renderSweep(out, result)
	return nil
}

func resolveDate(raw string, today func() (time.Time, error)) (time.Time, error) {
	if raw == "" {
		return today()
	}
	return models.ParseDate(raw)
}

func renderBoard(out io.Writer, board *models.VenueBoard) {
	color.New(color.FgCyan, color.Bold).Fprintf(out, "%s  %s\n", board.VenueName, board.Date)
	if board.Current != nil {
		fmt.Fprintf(out, "In service: %s (%s, schedule %d)\n", board.Current.CandidateName, board.Current.ActivityType, board.Current.ScheduleID)
	} else {
		fmt.Fprintln(out, "In service: -")
	}

	table := tablewriter.NewWriter(out)
	table.SetHeader([]string{"Pos", "Candidate", "Activity", "Status", "Start", "Wait (min)"})
	for _, e := range board.Waiting {
		table.Append([]string{
			optionalInt(e.QueuePosition),
			e.CandidateName,
			string(e.ActivityType),
			string(e.Status),
			e.StartTime.UTC().Format("15:04"),
			optionalInt(e.EstimatedWaitMin),
		})
	}
	table.Render()

	fmt.Fprintf(out, "waiting %d  in progress %d  completed %d\n", board.TotalWaiting, board.InProgressCount, board.CompletedToday)
}

func renderSweep(out io.Writer, result service.SweepResult) {
	table := tablewriter.NewWriter(out)
	table.SetHeader([]string{"Due", "Marked", "Failed"})
	table.Append([]string{strconv.Itoa(result.Due), strconv.Itoa(result.Marked), strconv.Itoa(result.Failed)})
	table.Render()
	if result.Failed > 0 {
		color.New(color.FgRed).Fprintf(out, "%d schedules could not be marked, see logs\n", result.Failed)
	}
}

func optionalInt(v *int) string {
	if v == nil {
		return "-"
	}
	return strconv.Itoa(*v)
}
