package stats

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"

	"afcstats/app/internal/mediawiki"
	"afcstats/app/internal/replica"
)

// SweepReport counts what each pass of a sweep changed.
type SweepReport struct {
	Deleted   int           `json:"deleted"`
	Refreshed int           `json:"refreshed"`
	Added     int           `json:"added"`
	Expired   int           `json:"expired"`
	Skipped   int           `json:"skipped"`
	Duration  time.Duration `json:"duration_ns"`
}

// Changed reports whether the sweep modified the store.
func (r SweepReport) Changed() bool {
	return r.Deleted+r.Refreshed+r.Added+r.Expired > 0
}

// Sync runs a full reconciliation: purge deleted, purge stale, pick up new, age out.
// A store failure aborts the sweep and is returned with the partial report.
func (e *Engine) Sync(ctx context.Context) (SweepReport, error) {
	started := e.now()
	var report SweepReport

	passes := []struct {
		name string
		run  func(context.Context, *SweepReport) error
	}{
		{"purge deleted", e.purgeDeleted},
		{"purge stale", e.purgeStale},
		{"pick up new", e.pickUpNew},
		{"age out", e.ageOut},
	}

	for _, pass := range passes {
		if err := pass.run(ctx, &report); err != nil {
			report.Duration = e.now().Sub(started)
			e.recordError(logrus.Fields{"pass": pass.name}, err, "sweep aborted")
			return report, eris.Wrapf(err, "sweep pass %s", pass.name)
		}
	}

	report.Duration = e.now().Sub(started)
	e.logInfo(logrus.Fields{
		"deleted":   report.Deleted,
		"refreshed": report.Refreshed,
		"added":     report.Added,
		"expired":   report.Expired,
		"skipped":   report.Skipped,
	}, "sweep complete")
	return report, nil
}

func (e *Engine) trackedPages(ctx context.Context) ([]TrackedPage, error) {
	var pages []TrackedPage
	err := e.store.Locked(ctx, func(repo Repository) error {
		var listErr error
		pages, listErr = repo.ListAll(ctx)
		return listErr
	})
	return pages, err
}

func (e *Engine) purgeDeleted(ctx context.Context, report *SweepReport) error {
	pages, err := e.trackedPages(ctx)
	if err != nil {
		return err
	}

	for _, page := range pages {
		exists, err := e.lookup.PageExists(ctx, page.PageID)
		if err != nil {
			report.Skipped++
			e.recordError(logrus.Fields{"page_id": page.PageID, "title": page.Title}, err, "checking page existence")
			continue
		}
		if exists {
			continue
		}

		outcome, err := e.untrackByID(ctx, page.PageID)
		if err != nil {
			return err
		}
		if outcome == OutcomeUntracked {
			report.Deleted++
		}
	}
	return nil
}

func (e *Engine) purgeStale(ctx context.Context, report *SweepReport) error {
	pages, err := e.trackedPages(ctx)
	if err != nil {
		return err
	}

	for _, page := range pages {
		fields := logrus.Fields{"page_id": page.PageID, "title": page.Title}

		latest, err := e.lookup.LatestRevisionID(ctx, page.PageID)
		if err != nil {
			if eris.Is(err, replica.ErrNotFound) {
				outcome, untrackErr := e.untrackByID(ctx, page.PageID)
				if untrackErr != nil {
					return untrackErr
				}
				if outcome == OutcomeUntracked {
					report.Deleted++
				}
				continue
			}
			report.Skipped++
			e.recordError(fields, err, "looking up latest revision")
			continue
		}
		if latest == page.ModifyOldID {
			continue
		}

		fetched, err := e.wiki.GetPageByID(ctx, page.PageID)
		if err != nil {
			if eris.Is(err, mediawiki.ErrPageMissing) {
				outcome, untrackErr := e.untrackByID(ctx, page.PageID)
				if untrackErr != nil {
					return untrackErr
				}
				if outcome == OutcomeUntracked {
					report.Deleted++
				}
				continue
			}
			report.Skipped++
			e.recordError(fields, err, "fetching stale page")
			continue
		}

		outcome, err := e.sync(ctx, fetched, true)
		if err != nil {
			return err
		}
		switch outcome {
		case OutcomeSkipped:
			report.Skipped++
		case OutcomeUntracked:
			report.Deleted++
		case OutcomeUnchanged:
		default:
			report.Refreshed++
		}
	}
	return nil
}

func (e *Engine) pickUpNew(ctx context.Context, report *SweepReport) error {
	var pending []TrackedPage
	err := e.store.Locked(ctx, func(repo Repository) error {
		var listErr error
		pending, listErr = repo.ListByBucket(ctx, BucketPending, BucketOnHold, BucketReview)
		return listErr
	})
	if err != nil {
		return err
	}

	tracked := make(map[string]struct{}, len(pending))
	for _, page := range pending {
		tracked[page.Title] = struct{}{}
	}

	members, err := e.wiki.CategoryMembers(ctx, e.pendingCategory, e.pendingLimit)
	if err != nil {
		report.Skipped++
		e.recordError(logrus.Fields{"category": e.pendingCategory}, err, "listing pending submissions")
		return nil
	}

	for _, title := range members {
		if _, ok := tracked[title]; ok {
			continue
		}
		if e.ignored(title) {
			continue
		}

		outcome, err := e.ProcessEdit(ctx, title)
		if err != nil {
			return err
		}
		switch outcome {
		case OutcomeTracked:
			report.Added++
		case OutcomeUpdated:
			report.Refreshed++
		case OutcomeSkipped:
			report.Skipped++
		}
	}
	return nil
}

func (e *Engine) ageOut(ctx context.Context, report *SweepReport) error {
	cutoff := normalizeTime(e.now()).Add(-e.retention)

	var expired int64
	err := e.store.Locked(ctx, func(repo Repository) error {
		var purgeErr error
		expired, purgeErr = repo.PurgeExpired(ctx, cutoff)
		return purgeErr
	})
	if err != nil {
		return err
	}

	report.Expired = int(expired)
	return nil
}
