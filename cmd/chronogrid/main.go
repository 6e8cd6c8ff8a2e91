package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chronogrid/internal/config"
	"chronogrid/internal/daterange"
	"chronogrid/internal/fetchctl"
	appLog "chronogrid/internal/log"
	"chronogrid/internal/model"
	"chronogrid/internal/schedule"
	"chronogrid/internal/source"
	"chronogrid/internal/web"
)

type flagConfig struct {
	configPath string
	listen     string
	cacheDir   string
	once       bool
	debug      bool
}

func main() {
	flags := parseFlags()
	if flags.debug {
		appLog.SetLevel(appLog.LevelDebug)
	}
	appLog.Info("chronogrid starting", "version", "0.1.0")

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	if flags.listen != "" {
		conf.Listen = flags.listen
	}

	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"week_start", conf.WeekStart,
		"refresh", conf.RefreshCron,
		"hour_height", conf.HourHeight,
		"feed_count", len(conf.Feeds),
		"once", flags.once,
	)

	loc, err := time.LoadLocation(conf.Timezone)
	if err != nil {
		appLog.Error("failed to load timezone, using local", err, "timezone", conf.Timezone)
		loc = time.Local
	}

	feeds := make([]source.Feed, 0, len(conf.Feeds))
	for _, fc := range conf.Feeds {
		if fc.URL == "" {
			continue
		}
		id := fc.ID
		if id == "" {
			id = fc.Name
		}
		if id == "" {
			id = fc.URL
		}
		feeds = append(feeds, source.Feed{ID: id, URL: fc.URL})
	}

	provider := source.NewProvider(flags.cacheDir, feeds, loc)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	refresh := func() { warmCache(ctx, provider, loc) }

	if flags.once {
		refresh()
		appLog.Info("single refresh complete, exiting")
		return
	}

	sched, err := schedule.New(conf.RefreshCron, refresh)
	if err != nil {
		appLog.Error("invalid refresh cron expression", err, "cron", conf.RefreshCron)
		os.Exit(1)
	}
	sched.Start()
	defer sched.Stop()

	server := web.NewServer(conf, provider)
	defer server.Close()

	httpServer := &http.Server{
		Addr:    conf.Listen,
		Handler: server.Handler(),
	}

	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+conf.Listen)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLog.Error("HTTP server failed", err)
			cancel()
		}
	}()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		appLog.Error("HTTP shutdown failed", err)
	}
	appLog.Info("chronogrid exiting")
}

// warmCache runs one fetch/expand cycle over the current month window so
// the feed cache stays fresh between requests. The session keeps a cron
// tick that fires while a manual refresh is still running from clobbering
// it (last request wins).
var warmSession fetchctl.Session

func warmCache(parent context.Context, provider *source.Provider, loc *time.Location) {
	ctx, gen := warmSession.Begin(parent)

	now := time.Now().In(loc)
	period, _ := daterange.Resolve(now, model.ViewMonth, false)

	appts, err := provider.Appointments(ctx, period)
	if err != nil {
		appLog.Error("background refresh failed", err)
		return
	}
	if !warmSession.Current(gen) {
		appLog.Debug("background refresh superseded, discarding result")
		return
	}
	appLog.Info("background refresh complete",
		"appointment_count", len(appts),
		"range_start", period.Start.Format(time.RFC3339),
		"range_end", period.End.Format(time.RFC3339),
	)
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/chronogrid/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.StringVar(&cfg.cacheDir, "cache-dir", "/var/lib/chronogrid/feed-cache", "Feed cache directory")
	flag.BoolVar(&cfg.once, "once", false, "Run one refresh cycle and exit")
	flag.BoolVar(&cfg.debug, "debug", false, "Enable debug logging")

	flag.Parse()

	return cfg
}
