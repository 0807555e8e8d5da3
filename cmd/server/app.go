package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"github.com/warp/staffdocs/calendar"
	"github.com/warp/staffdocs/config"
	"github.com/warp/staffdocs/generic"
	"github.com/warp/staffdocs/leave"
	"github.com/warp/staffdocs/metrics"
	"github.com/warp/staffdocs/notify"
	"github.com/warp/staffdocs/render"
	"github.com/warp/staffdocs/store/sqlite"
	"github.com/warp/staffdocs/workflow"
)

// app holds the wired components shared by every command.
type app struct {
	cfg        *config.Configuration
	log        *logrus.Logger
	store      *sqlite.Store
	registry   *prometheus.Registry
	metrics    *metrics.Metrics
	calendar   *calendar.Calendar
	validator  *leave.Validator
	allocator  *leave.Allocator
	dispatcher *notify.Dispatcher
	workflow   *workflow.Workflow
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(config.DefaultEnvFiles...)
	if err != nil {
		return nil, err
	}
	log := cfg.Logger(os.Stderr)

	st, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	a := &app{cfg: cfg, log: log, store: st}
	if cfg.HolidaysFile != "" {
		if _, err := a.importHolidays(ctx, cfg.HolidaysFile); err != nil {
			st.Close()
			return nil, err
		}
	}

	// The calendar spans last year through two years ahead, enough for any
	// allocation horizon.
	year := generic.Clock(generic.SystemClock).Today().Year()
	a.calendar, err = calendar.Load(ctx, st,
		generic.NewDate(year-1, time.January, 1),
		generic.NewDate(year+2, time.December, 31))
	if err != nil {
		st.Close()
		return nil, err
	}
	log.WithField("days", a.calendar.Len()).Info("production calendar loaded")

	a.registry = prometheus.NewRegistry()
	if cfg.MetricsEnabled {
		a.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		a.metrics = metrics.New(a.registry)
	}

	a.validator = leave.NewValidator(st, cfg.ValidatorRules(), generic.SystemClock, log, a.metrics)
	expansions := cfg.Allocator.MaxExpansions
	if expansions == 0 {
		expansions = leave.NoExpansions
	}
	a.allocator = leave.NewAllocator(st, leave.AllocatorConfig{
		HorizonMonths:  cfg.Allocator.HorizonMonths,
		MaxExpansions:  expansions,
		MaxRangeLength: cfg.Allocator.MaxRangeLength,
		Calendar:       a.calendar,
		Clock:          generic.SystemClock,
		Log:            log,
		Metrics:        a.metrics,
	})

	sink, err := a.sink()
	if err != nil {
		st.Close()
		return nil, err
	}
	a.dispatcher = notify.NewDispatcher(notify.DefaultDispatcherConfig(), log, a.metrics)

	a.workflow = workflow.New(workflow.Deps{
		Repo:       st,
		Validator:  a.validator,
		Renderer:   render.NewFileRenderer(cfg.RenderDir, generic.SystemClock, log),
		Sink:       sink,
		Dispatcher: a.dispatcher,
		Clock:      generic.SystemClock,
		Log:        log,
		Metrics:    a.metrics,
		StaleAfter: cfg.StaleAfter,
	})
	return a, nil
}

// sink picks Telegram when a bot token is configured. Messages are always
// logged as well.
func (a *app) sink() (notify.Sink, error) {
	logSink := notify.NewLogSink(a.log)
	if a.cfg.TelegramBotToken == "" {
		return logSink, nil
	}
	tg, err := notify.NewTelegramSink(a.cfg.TelegramBotToken, a.store, a.log)
	if err != nil {
		return nil, err
	}
	return notify.MultiSink{logSink, tg}, nil
}

func (a *app) importHolidays(ctx context.Context, path string) (int, error) {
	days, err := calendar.ParseFile(path)
	if err != nil {
		return 0, err
	}
	if err := a.store.SaveHolidays(ctx, days); err != nil {
		return 0, fmt.Errorf("save holidays: %w", err)
	}
	a.log.WithFields(logrus.Fields{"file": path, "days": len(days)}).Info("holidays imported")
	return len(days), nil
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		a.log.WithError(err).Warn("closing database")
	}
}
