package scheduler

import (
	"context"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"

	applog "afcstats/app/internal/log"
	"afcstats/app/internal/stats"
)

// Handler processes one event to completion.
type Handler interface {
	Handle(ctx context.Context, event stats.Event) (stats.DispatchResult, error)
}

// Options configures the tick scheduler.
type Options struct {
	Handler      Handler
	SyncInterval time.Duration
	SaveInterval time.Duration
	Logger       *logrus.Logger
	SentryHub    *sentry.Hub
	Now          func() time.Time
	// SyncOnStart runs one sweep before waiting for the first sync tick.
	SyncOnStart bool
}

// Scheduler emits periodic sync ticks and scheduled save ticks aligned to the save interval.
type Scheduler struct {
	handler      Handler
	syncInterval time.Duration
	saveInterval time.Duration
	logger       *logrus.Logger
	sentry       *sentry.Hub
	now          func() time.Time
	syncOnStart  bool
}

// New validates the options and builds a scheduler.
func New(opts Options) (*Scheduler, error) {
	if opts.Handler == nil {
		return nil, eris.New("event handler is required")
	}
	if opts.SyncInterval <= 0 {
		return nil, eris.New("sync interval must be positive")
	}
	if opts.SaveInterval <= 0 {
		return nil, eris.New("save interval must be positive")
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Scheduler{
		handler:      opts.Handler,
		syncInterval: opts.SyncInterval,
		saveInterval: opts.SaveInterval,
		logger:       opts.Logger,
		sentry:       opts.SentryHub,
		now:          now,
		syncOnStart:  opts.SyncOnStart,
	}, nil
}

// Run blocks until ctx is cancelled. Ticks are handled one at a time; a tick that
// arrives while another is being handled waits for it.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.syncOnStart {
		s.dispatch(ctx, stats.SyncTick{})
	}

	syncTicker := time.NewTicker(s.syncInterval)
	defer syncTicker.Stop()

	saveTimer := time.NewTimer(s.untilNextSave())
	defer saveTimer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-syncTicker.C:
			s.dispatch(ctx, stats.SyncTick{})
		case <-saveTimer.C:
			s.dispatch(ctx, stats.SaveTick{Trigger: stats.TriggerScheduled})
			saveTimer.Reset(s.untilNextSave())
		}
	}
}

func (s *Scheduler) untilNextSave() time.Duration {
	now := s.now()
	return NextBoundary(now, s.saveInterval).Sub(now)
}

func (s *Scheduler) dispatch(ctx context.Context, event stats.Event) {
	if ctx.Err() != nil {
		return
	}

	result, err := s.handler.Handle(ctx, event)
	if err != nil {
		s.recordError(err, event.Kind())
		return
	}

	entry := applog.Component(s.logger, "scheduler").WithField("kind", result.Kind)
	switch {
	case result.Sweep != nil:
		entry.WithFields(logrus.Fields{
			"deleted":   result.Sweep.Deleted,
			"refreshed": result.Sweep.Refreshed,
			"added":     result.Sweep.Added,
			"expired":   result.Sweep.Expired,
			"skipped":   result.Sweep.Skipped,
		}).Info("sweep finished")
	case result.Save != nil:
		entry.WithFields(logrus.Fields{"skipped": result.Save.Skipped, "reason": result.Save.Reason}).Info("save finished")
	}
}

func (s *Scheduler) recordError(err error, kind string) {
	applog.Component(s.logger, "scheduler").WithFields(logrus.Fields{
		"kind":  kind,
		"error": err.Error(),
	}).Error("scheduled event failed")
	if s.sentry != nil {
		s.sentry.CaptureException(err)
	}
}

// NextBoundary returns the first multiple of interval strictly after now.
// An hourly interval yields the top of the next hour.
func NextBoundary(now time.Time, interval time.Duration) time.Time {
	return now.Truncate(interval).Add(interval)
}
