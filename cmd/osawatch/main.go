package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/fatih/color"
	"github.com/go-pkgz/lgr"
	"github.com/jessevdk/go-flags"
	"golang.org/x/sync/errgroup"

	"github.com/osawatch/osawatch/pkg/archive"
	"github.com/osawatch/osawatch/pkg/config"
	"github.com/osawatch/osawatch/pkg/history"
	"github.com/osawatch/osawatch/pkg/notifier"
	"github.com/osawatch/osawatch/pkg/snapshot"
	"github.com/osawatch/osawatch/pkg/watcher"
	"github.com/osawatch/osawatch/server"
)

// Opts with all CLI options
type Opts struct {
	Config string `short:"c" long:"config" env:"CONFIG" default:"osawatch.yml" description:"config file path"`
	Once   bool   `long:"once" description:"run a single pass and exit"`

	// Common options
	Debug   bool `long:"dbg" env:"DEBUG" description:"debug mode"`
	Version bool `short:"V" long:"version" description:"show version info"`
	NoColor bool `long:"no-color" env:"NO_COLOR" description:"disable color output"`
}

var revision = "unknown"

func main() {
	var opts Opts
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	if opts.Version {
		fmt.Printf("Version: %s\nGolang: %s\n", revision, runtime.Version())
		os.Exit(0)
	}

	setupLog(opts.Debug)

	log.Printf("[INFO] starting osawatch version %s", revision)

	ctx, cancel := context.WithCancel(context.Background())

	// handle termination signals
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan
		log.Print("[INFO] termination signal received")
		cancel()
	}()

	err := run(ctx, opts)
	cancel()

	if err != nil {
		log.Printf("[ERROR] %v", err)
		os.Exit(1)
	}

	log.Print("[INFO] completed")
}

// run loads the config, wires the components and executes either a
// single pass or the daemon loop
func run(ctx context.Context, opts Opts) error {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// redo the log setup now that the token is known, it must never leak
	// into the log output
	setupLog(opts.Debug, cfg.Telegram.Token)

	client := archive.NewClient(archive.Params{
		BaseURL:       cfg.API.BaseURL,
		Tags:          cfg.API.Tags,
		PageSize:      cfg.API.PageSize,
		MaxConcurrent: cfg.API.MaxConcurrent,
		Timeout:       cfg.API.Timeout,
	})

	store := snapshot.NewStore(cfg.Snapshot.Path)

	notify, err := notifier.New(notifier.Params{
		Token:     cfg.Telegram.Token,
		ChatID:    cfg.Telegram.ChatID,
		SendDelay: cfg.Telegram.SendDelay,
		Timeout:   cfg.Telegram.Timeout,
		APIURL:    cfg.Telegram.APIURL,
	})
	if err != nil {
		return fmt.Errorf("failed to make notifier: %w", err)
	}

	params := watcher.Params{
		Fetcher:  client,
		Store:    store,
		Notifier: notify,
		Interval: cfg.Schedule.UpdateInterval,
	}

	var hist *history.Store
	if cfg.History.DSN != "" {
		hist, err = history.NewStore(ctx, cfg.History.DSN)
		if err != nil {
			return fmt.Errorf("failed to open history: %w", err)
		}
		defer func() {
			if err := hist.Close(); err != nil {
				log.Printf("[WARN] can't close history store: %v", err)
			}
		}()
		params.History = hist
	}

	w := watcher.New(params)

	if opts.Once {
		return w.RunOnce(ctx)
	}

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Server.Enabled {
		var srvHistory server.History
		if hist != nil {
			srvHistory = hist
		}
		srv := server.New(cfg, w, srvHistory, revision, opts.Debug)
		g.Go(func() error { return srv.Run(gctx) })
	}

	g.Go(func() error {
		w.Run(gctx)
		return nil
	})

	return g.Wait()
}

func setupLog(dbg bool, secs ...string) {
	logOpts := []lgr.Option{lgr.Out(os.Stdout), lgr.Err(os.Stderr)}
	if dbg {
		logOpts = []lgr.Option{lgr.Debug, lgr.Msec, lgr.LevelBraces, lgr.StackTraceOnError}
	}

	colorizer := lgr.Mapper{
		ErrorFunc:  func(s string) string { return color.New(color.FgHiRed).Sprint(s) },
		WarnFunc:   func(s string) string { return color.New(color.FgRed).Sprint(s) },
		InfoFunc:   func(s string) string { return color.New(color.FgYellow).Sprint(s) },
		DebugFunc:  func(s string) string { return color.New(color.FgWhite).Sprint(s) },
		CallerFunc: func(s string) string { return color.New(color.FgBlue).Sprint(s) },
		TimeFunc:   func(s string) string { return color.New(color.FgCyan).Sprint(s) },
	}
	logOpts = append(logOpts, lgr.Map(colorizer))
	if len(secs) > 0 {
		logOpts = append(logOpts, lgr.Secret(secs...))
	}
	lgr.SetupStdLogger(logOpts...)
	lgr.Setup(logOpts...)
}
