package stats

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"

	"afcstats/app/internal/metrics"
)

// DispatchResult is what handling one event produced. Exactly one of its parts is set.
type DispatchResult struct {
	Kind    string       `json:"kind"`
	Outcome Outcome      `json:"outcome,omitempty"`
	Sweep   *SweepReport `json:"sweep,omitempty"`
	Save    *SaveResult  `json:"save,omitempty"`
}

// Dispatcher routes events to the engine and the publisher.
type Dispatcher struct {
	engine    *Engine
	publisher *Publisher
	store     *Store
	metrics   *metrics.Recorder
	logger    *logrus.Logger
}

// NewDispatcher wires a dispatcher. The metrics recorder may be nil.
func NewDispatcher(engine *Engine, publisher *Publisher, store *Store, recorder *metrics.Recorder, logger *logrus.Logger) (*Dispatcher, error) {
	if engine == nil {
		return nil, eris.New("sync engine is required")
	}
	if publisher == nil {
		return nil, eris.New("publisher is required")
	}
	if store == nil {
		return nil, eris.New("stats store is required")
	}

	return &Dispatcher{engine: engine, publisher: publisher, store: store, metrics: recorder, logger: logger}, nil
}

// Handle processes one event to completion.
func (d *Dispatcher) Handle(ctx context.Context, event Event) (DispatchResult, error) {
	if event == nil {
		return DispatchResult{}, eris.New("event is nil")
	}

	started := time.Now()
	result := DispatchResult{Kind: event.Kind()}

	var err error
	switch ev := event.(type) {
	case EditEvent:
		result.Outcome, err = d.engine.ProcessEdit(ctx, ev.Title)
	case RestoreEvent:
		result.Outcome, err = d.engine.ProcessRestore(ctx, ev.Title)
	case MoveEvent:
		result.Outcome, err = d.engine.ProcessMove(ctx, ev.Source, ev.Dest)
	case DeleteEvent:
		result.Outcome, err = d.engine.ProcessDelete(ctx, ev.Title)
	case SyncTick:
		var report SweepReport
		report, err = d.engine.Sync(ctx)
		result.Sweep = &report
		d.observeSweep(report)
	case SaveTick:
		var saved SaveResult
		saved, err = d.publisher.Save(ctx, ev.Trigger)
		result.Save = &saved
		d.observeSave(saved, err)
	default:
		return result, eris.Wrapf(ErrUnknownEventKind, "%T", event)
	}

	d.metrics.ObserveEvent(result.Kind, outcomeLabel(result, err), time.Since(started))
	if err != nil {
		return result, eris.Wrapf(err, "handling %s event", result.Kind)
	}

	d.refreshGauges(ctx)
	return result, nil
}

func (d *Dispatcher) observeSweep(report SweepReport) {
	d.metrics.ObserveSweep(report.Duration)
	d.metrics.ObserveSweepPass("deleted", report.Deleted)
	d.metrics.ObserveSweepPass("refreshed", report.Refreshed)
	d.metrics.ObserveSweepPass("added", report.Added)
	d.metrics.ObserveSweepPass("expired", report.Expired)
	d.metrics.ObserveSweepPass("skipped", report.Skipped)
}

func (d *Dispatcher) observeSave(result SaveResult, err error) {
	switch {
	case err != nil:
		d.metrics.ObserveSave("failed")
	case result.Skipped:
		d.metrics.ObserveSave("skipped_" + result.Reason)
	default:
		d.metrics.ObserveSave("published")
	}
}

func (d *Dispatcher) refreshGauges(ctx context.Context) {
	if d.metrics == nil {
		return
	}

	var counts map[int]int64
	err := d.store.Locked(ctx, func(repo Repository) error {
		var countErr error
		counts, countErr = repo.CountByBucket(ctx)
		return countErr
	})
	if err != nil {
		if d.logger != nil {
			d.logger.WithFields(logrus.Fields{"component": "stats.dispatch", "error": err.Error()}).Warn("refreshing tracked gauges failed")
		}
		return
	}
	d.metrics.SetTracked(counts)
}

func outcomeLabel(result DispatchResult, err error) string {
	switch {
	case err != nil:
		return "error"
	case result.Outcome != "":
		return string(result.Outcome)
	default:
		return "ok"
	}
}
