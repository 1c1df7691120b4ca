// hashinal-indexer: discovers HCS-5 hashinal mints, verifies their HCS-1
// content and persists them to Postgres on a fixed schedule.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/hashgraph-online/hcs-improvement-proposals-sub004/internal/config"
	"github.com/hashgraph-online/hcs-improvement-proposals-sub004/internal/content"
	"github.com/hashgraph-online/hcs-improvement-proposals-sub004/internal/indexer"
	"github.com/hashgraph-online/hcs-improvement-proposals-sub004/internal/ledger"
	"github.com/hashgraph-online/hcs-improvement-proposals-sub004/internal/memo"
	"github.com/hashgraph-online/hcs-improvement-proposals-sub004/internal/scheduler"
	"github.com/hashgraph-online/hcs-improvement-proposals-sub004/internal/server"
	"github.com/hashgraph-online/hcs-improvement-proposals-sub004/internal/store"
)

const (
	success = 0
	failure = 1
)

func main() {
	os.Exit(run())
}

func run() int {

	var (
		flagConfig string
		flagLevel  string
		flagOnce   bool
	)

	pflag.StringVarP(&flagConfig, "config", "c", "", "path to YAML configuration file")
	pflag.StringVarP(&flagLevel, "level", "l", "", "log output level, overrides the configuration")
	pflag.BoolVar(&flagOnce, "once", false, "run a single pass and exit")

	pflag.Parse()

	cfg, err := config.Load(flagConfig)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return failure
	}
	if flagLevel != "" {
		cfg.Logging.Level = flagLevel
	}
	level, err := parseLevel(cfg.Logging.Level)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return failure
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st, err := store.NewPostgres(ctx, cfg.Postgres.URL, cfg.Postgres.Table, cfg.Ledger.StartTimestamp)
	if err != nil {
		logger.Error("could not open datastore", "err", err)
		return failure
	}
	defer st.Close()

	client := ledger.NewClient(cfg.Ledger.URL, cfg.Ledger.Token,
		ledger.WithTimeout(cfg.Ledger.Timeout),
		ledger.WithRateLimit(cfg.Ledger.RequestsPerSecond),
		ledger.WithLogger(logger.With("component", "ledger")),
	)
	resolver := memo.NewResolver(client, logger.With("component", "memo"))
	fetcher := content.NewFetcher(newRetriever(cfg))

	ix := indexer.New(client, resolver, fetcher, st, logger.With("component", "indexer"),
		indexer.WithRetries(cfg.Postgres.MaxRetries, time.Second),
	)
	sched := scheduler.New(ix, cfg.Service.Interval, logger.With("component", "scheduler"),
		scheduler.WithPassTimeout(cfg.Service.PassTimeout),
	)

	if flagOnce {
		if err := sched.RunOnce(ctx); err != nil {
			return failure
		}
		return success
	}

	srv := server.New(cfg.Addr(), sched, logger.With("component", "server"))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sched.Start(gctx)
	})
	g.Go(func() error {
		return srv.Run(gctx)
	})

	logger.Info("indexer started", "interval", cfg.Service.Interval, "source", cfg.Content.Source)
	if err := g.Wait(); err != nil {
		logger.Error("indexer stopped", "err", err)
		return failure
	}
	logger.Info("indexer stopped")
	return success
}

func newRetriever(cfg config.Config) content.Retriever {
	hc := &http.Client{Timeout: cfg.Content.Timeout}
	if cfg.Content.Source == "mirror" {
		return content.NewMirrorRetriever(cfg.Content.MirrorURL, hc, cfg.Content.RequestsPerSecond)
	}
	return content.NewCDNRetriever(cfg.Content.CDNURL, cfg.Content.Network, hc, cfg.Content.RequestsPerSecond)
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToLower(s))); err != nil {
		return level, fmt.Errorf("invalid log level %q", s)
	}
	return level, nil
}
