package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/friendsofgo/errors"
	"github.com/robfig/cron/v3"

	"palmcal/internal/config"
	"palmcal/internal/ics"
	appLog "palmcal/internal/log"
	"palmcal/internal/pipeline"
	"palmcal/internal/store"
	"palmcal/internal/web"
)

const version = "0.3.0"

// flagConfig holds CLI flag values; non-empty values override the config file.
type flagConfig struct {
	configPath string
	envPath    string
	listen     string
	logLevel   string
	once       bool
	dryRun     bool
}

func main() {
	flags := parseFlags()
	os.Exit(run(flags))
}

func run(flags flagConfig) int {
	if err := config.LoadDotEnv(flags.envPath); err != nil {
		appLog.Error("failed to load env file", err, "path", flags.envPath)
		return 1
	}

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		return 1
	}
	conf.ApplyEnv()
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	if flags.logLevel != "" {
		conf.LogLevel = flags.logLevel
	}
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))
	appLog.Info("palmcal starting", "version", version)

	if err := conf.Validate(); err != nil {
		if errors.Is(err, config.ErrMissingFeed) {
			fmt.Fprintf(os.Stderr, "palmcal: set feed.url in %s or PALMCAL_FEED_URL\n", flags.configPath)
			return 2
		}
		appLog.Error("invalid config", err, "config_path", flags.configPath)
		return 2
	}

	opts, err := pipeline.OptionsFromConfig(conf)
	if err != nil {
		appLog.Error("invalid config", err)
		return 2
	}
	opts.DryRun = flags.dryRun

	appLog.Info("effective config",
		"feed", opts.Source.ID,
		"timezone", conf.Timezone,
		"cutoff_year", conf.CutoffYear,
		"retention_days", conf.RetentionDays,
		"alarms", conf.Alarms,
		"skip_notes", conf.SkipNotes,
		"merge", conf.Merge,
		"datebook", conf.Datebook,
		"once", flags.once,
		"dry_run", flags.dryRun,
	)

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

	fetcher := ics.NewFetcher(ics.FetcherOptions{
		CacheDir:           conf.Feed.CacheDir,
		InsecureSkipVerify: conf.Feed.InsecureSkipVerify,
	})

	if flags.once && flags.dryRun {
		if _, err := pipeline.New(fetcher, nil, opts).Run(ctx); err != nil {
			return 1
		}
		return 0
	}

	db, err := store.Open(ctx, conf.Datebook)
	if err != nil {
		appLog.Error("failed to open datebook", err, "path", conf.Datebook)
		return 1
	}
	defer db.Close()

	syncer := pipeline.New(fetcher, db, opts)
	if flags.once {
		if _, err := syncer.Run(ctx); err != nil {
			return 1
		}
		return 0
	}

	if err := serve(ctx, conf, syncer, db); err != nil {
		appLog.Error("serve failed", err)
		return 1
	}
	appLog.Info("palmcal exiting")
	return 0
}

// serve syncs once at startup, then on the refresh schedule, while the
// status server runs.
func serve(ctx context.Context, conf *config.Config, syncer *pipeline.Syncer, db *store.Store) error {
	srv := web.NewServer(conf, syncer, db)

	scheduled := func() {
		if _, err := srv.Sync(ctx); errors.Is(err, web.ErrSyncInProgress) {
			appLog.Warn("skipping scheduled sync, previous run still in progress")
		}
	}

	c := cron.New()
	if _, err := c.AddFunc(conf.RefreshCron, scheduled); err != nil {
		return errors.Wrapf(err, "schedule %q", conf.RefreshCron)
	}
	go scheduled()
	c.Start()
	defer func() { <-c.Stop().Done() }()

	appLog.Info("sync scheduled", "refresh", conf.RefreshCron)
	return srv.ListenAndServe(ctx)
}

func parseFlags() flagConfig {
	var cfg flagConfig

	defaultConfig := os.Getenv("PALMCAL_CONFIG")
	if defaultConfig == "" {
		defaultConfig = "./palmcal.yaml"
	}

	flag.StringVar(&cfg.configPath, "config", defaultConfig, "Path to config file")
	flag.StringVar(&cfg.envPath, "env", ".env", "Optional .env file with PALMCAL_* variables")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.StringVar(&cfg.logLevel, "log-level", "", "debug, info, warn or error (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Run one sync and exit")
	flag.BoolVar(&cfg.dryRun, "dry-run", false, "Build appointments but do not transfer them")

	flag.Parse()

	return cfg
}
