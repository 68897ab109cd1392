package main

import (
	"context"
	"errors"
	"fmt"
	stdhttp "net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"afcstats/app/internal/config"
	appdb "afcstats/app/internal/db"
	apphttp "afcstats/app/internal/http"
	applog "afcstats/app/internal/log"
	"afcstats/app/internal/mediawiki"
	"afcstats/app/internal/metrics"
	"afcstats/app/internal/replica"
	"afcstats/app/internal/scheduler"
	"afcstats/app/internal/stats"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return eris.Wrap(err, "failure loading configuration")
	}

	logger, err := applog.NewLogger(cfg.LogLevel)
	if err != nil {
		return eris.Wrap(err, "failure initialising logger")
	}

	sentryHub, flush, err := applog.InitSentry(logger, applog.SentrySettings{
		DSN:         cfg.SentryDSN,
		Environment: cfg.Environment,
	})
	if err != nil {
		return eris.Wrap(err, "failure initialising sentry")
	}
	defer flush()

	storeDB, err := appdb.Open(appdb.Options{Path: cfg.DBPath})
	if err != nil {
		return eris.Wrap(err, "opening database")
	}
	defer closeDatabase(logger, storeDB, "store")

	replicaDB, err := appdb.Open(appdb.Options{Path: cfg.ReplicaDBPath, ReadOnly: true})
	if err != nil {
		return eris.Wrap(err, "opening replica database")
	}
	defer closeDatabase(logger, replicaDB, "replica")

	if err := stats.Migrate(ctx, storeDB, logger); err != nil {
		return eris.Wrap(err, "running migrations")
	}

	dispatcher, compiler, recorder, err := buildStats(cfg, storeDB, replicaDB, logger, sentryHub)
	if err != nil {
		return err
	}

	sched, err := scheduler.New(scheduler.Options{
		Handler:      dispatcher,
		SyncInterval: cfg.Stats.SyncInterval,
		SaveInterval: cfg.Stats.SaveInterval,
		Logger:       logger,
		SentryHub:    sentryHub,
		SyncOnStart:  true,
	})
	if err != nil {
		return eris.Wrap(err, "initialising scheduler")
	}

	transport, err := apphttp.NewServer(apphttp.Options{
		Events:    dispatcher,
		Charts:    compiler,
		Database:  storeDB,
		Metrics:   recorder.Handler(),
		Logger:    logger,
		SentryHub: sentryHub,
	})
	if err != nil {
		return eris.Wrap(err, "initialising http transport")
	}

	httpServer := &stdhttp.Server{
		Addr:    fmt.Sprintf("0.0.0.0:%d", cfg.ServerPort),
		Handler: transport.Handler(),
	}

	logger.WithFields(logrus.Fields{
		"addr":       httpServer.Addr,
		"stats_page": cfg.Stats.Page,
	}).Info("starting http server")

	schedCtx, cancelSched := context.WithCancel(ctx)
	defer cancelSched()
	schedDone := make(chan struct{})
	go func() {
		defer close(schedDone)
		if err := sched.Run(schedCtx); err != nil {
			logger.WithError(err).Error("scheduler stopped")
		}
	}()

	serverErrCh := make(chan error, 1)
	go func() {
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
			serverErrCh <- err
		} else {
			serverErrCh <- nil
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErrCh:
		cancelSched()
		<-schedDone
		if err != nil {
			return eris.Wrap(err, "http server error")
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return eris.Wrap(err, "shutting down http server")
	}

	cancelSched()
	select {
	case <-schedDone:
	case <-shutdownCtx.Done():
		logger.Warn("scheduler did not stop within the shutdown grace period")
	}

	logger.Info("http server shut down cleanly")
	return nil
}

func buildStats(cfg *config.Config, storeDB, replicaDB *gorm.DB, logger *logrus.Logger, hub *sentry.Hub) (*stats.Dispatcher, *stats.Compiler, *metrics.Recorder, error) {
	repository, err := stats.NewRepository(storeDB, logger)
	if err != nil {
		return nil, nil, nil, eris.Wrap(err, "building stats repository")
	}

	store, err := stats.NewStore(repository)
	if err != nil {
		return nil, nil, nil, eris.Wrap(err, "building stats store")
	}

	querier, err := replica.NewGormQuerier(replicaDB)
	if err != nil {
		return nil, nil, nil, eris.Wrap(err, "building replica querier")
	}

	lookup, err := replica.NewSQLLookup(querier, logger)
	if err != nil {
		return nil, nil, nil, eris.Wrap(err, "building revision lookup")
	}

	wiki, err := mediawiki.NewAPIClient(mediawiki.APIOptions{
		APIURL:    cfg.Wiki.APIURL,
		Username:  cfg.Wiki.Username,
		Password:  cfg.Wiki.Password,
		UserAgent: cfg.Wiki.UserAgent,
		Logger:    logger,
	})
	if err != nil {
		return nil, nil, nil, eris.Wrap(err, "creating wiki client")
	}

	engine, err := stats.NewEngine(stats.EngineOptions{
		Store:           store,
		Wiki:            wiki,
		Lookup:          lookup,
		Logger:          logger,
		SentryHub:       hub,
		IgnoreList:      cfg.Stats.IgnoreList,
		PendingCategory: cfg.Stats.PendingCategory,
		PendingLimit:    cfg.Stats.PendingLimit,
		Retention:       cfg.Stats.Retention,
	})
	if err != nil {
		return nil, nil, nil, eris.Wrap(err, "creating sync engine")
	}

	compiler, err := stats.NewCompiler(stats.CompilerOptions{
		Store:          store,
		HeaderTemplate: cfg.Stats.HeaderTemplate,
		RowTemplate:    cfg.Stats.RowTemplate,
		FooterTemplate: cfg.Stats.FooterTemplate,
	})
	if err != nil {
		return nil, nil, nil, eris.Wrap(err, "creating chart compiler")
	}

	var shutoff stats.ShutoffChecker
	if cfg.Stats.ShutoffPage != "" {
		pageShutoff, err := stats.NewPageShutoff(wiki, cfg.Stats.ShutoffPage)
		if err != nil {
			return nil, nil, nil, eris.Wrap(err, "creating shutoff checker")
		}
		shutoff = pageShutoff
	}

	publisher, err := stats.NewPublisher(stats.PublisherOptions{
		Compiler:  compiler,
		Wiki:      wiki,
		Shutoff:   shutoff,
		Page:      cfg.Stats.Page,
		Summary:   cfg.Stats.Summary,
		Logger:    logger,
		SentryHub: hub,
	})
	if err != nil {
		return nil, nil, nil, eris.Wrap(err, "creating publisher")
	}

	recorder := metrics.New()
	dispatcher, err := stats.NewDispatcher(engine, publisher, store, recorder, logger)
	if err != nil {
		return nil, nil, nil, eris.Wrap(err, "creating dispatcher")
	}

	return dispatcher, compiler, recorder, nil
}

func closeDatabase(logger *logrus.Logger, database *gorm.DB, name string) {
	if err := appdb.Close(database); err != nil {
		logger.WithError(err).WithField("database", name).Error("closing database")
	}
}
