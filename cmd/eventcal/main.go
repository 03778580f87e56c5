package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"eventcal/internal/config"
	"eventcal/internal/datasource"
	"eventcal/internal/ics"
	appLog "eventcal/internal/log"
	"eventcal/internal/scheduler"
	"eventcal/internal/web"
)

// flagConfig holds CLI flag values.
type flagConfig struct {
	configPath string
	listen     string
	once       bool
}

func main() {
	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}

	appLog.Configure(appLog.Options{
		Level:  appLog.Level(conf.Log.Level),
		Format: conf.Log.Format,
		File:   conf.Log.File,
	})
	defer appLog.Sync()

	appLog.Info("eventcal starting", "version", "0.1.0")

	// CLI --listen overrides config file listen if provided.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}

	loc, err := conf.Location()
	if err != nil {
		appLog.Error("invalid timezone, using local", err, "timezone", conf.Timezone)
	}

	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", loc.String(),
		"refresh", conf.RefreshCron,
		"upcoming_months", conf.UpcomingMonths,
		"past_years", conf.PastYears,
		"recurring_bucket", conf.RecurringBucket,
		"ics_count", len(conf.ICS),
		"once", flags.once,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sources := make([]ics.Source, 0, len(conf.ICS))
	for _, c := range conf.ICS {
		sources = append(sources, ics.Source{ID: c.SourceID(), URL: c.URL})
	}
	store := ics.NewFeedStore(ics.NewFetcher(conf.CacheDir), sources, loc)

	common := []datasource.Option{
		datasource.WithLocation(loc),
		datasource.WithRecurringBucket(conf.RecurringBucket),
	}
	upcoming := datasource.New(store, datasource.Upcoming, append(common, datasource.WithRange(conf.UpcomingMonths))...)
	past := datasource.New(store, datasource.Past, append(common, datasource.WithRange(conf.PastYears))...)

	for _, src := range []*datasource.Source{upcoming, past} {
		if err := src.Fetch(ctx); err != nil {
			appLog.Error("initial fetch failed", err, "direction", src.Direction().String())
		}
	}

	if flags.once {
		idx := upcoming.Index()
		appLog.Info("single run complete",
			"upcoming_events", idx.EventCount(),
			"upcoming_months", idx.MonthCount(),
			"past_events", past.Len(),
		)
		return
	}

	sched, err := scheduler.New(ctx, loc, conf.RefreshCron, upcoming, past)
	if err != nil {
		appLog.Error("failed to create scheduler", err)
		os.Exit(1)
	}
	sched.Start()
	defer sched.Stop()

	srv := web.NewServer(conf, upcoming, past)
	if err := srv.ListenAndServe(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		appLog.Error("http server failed", err)
		os.Exit(1)
	}

	appLog.Info("eventcal exiting")
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/eventcal/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Fetch both scopes once, log a summary and exit")

	flag.Parse()

	return cfg
}
