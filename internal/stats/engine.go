package stats

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/getsentry/sentry-go"
	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"

	"afcstats/app/internal/mediawiki"
	"afcstats/app/internal/replica"
)

// Outcome describes what a single-page sync did to the store.
type Outcome string

const (
	OutcomeTracked   Outcome = "tracked"
	OutcomeUpdated   Outcome = "updated"
	OutcomeUntracked Outcome = "untracked"
	OutcomeUnchanged Outcome = "unchanged"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeSkipped   Outcome = "skipped"
)

// NotesFunc derives the free-text notes shown for a page. A nil result means no notes.
type NotesFunc func(page *mediawiki.Page) *string

// EngineOptions configures an Engine.
type EngineOptions struct {
	Store           *Store
	Wiki            mediawiki.Client
	Lookup          replica.Lookup
	Logger          *logrus.Logger
	SentryHub       *sentry.Hub
	IgnoreList      []string
	PendingCategory string
	PendingLimit    int
	Retention       time.Duration
	Notes           NotesFunc
	Now             func() time.Time
}

// Engine keeps the store consistent with the wiki and its replica.
type Engine struct {
	store     *Store
	wiki      mediawiki.Client
	lookup    replica.Lookup
	logger    *logrus.Logger
	sentryHub *sentry.Hub

	ignore          map[string]struct{}
	pendingCategory string
	pendingLimit    int
	retention       time.Duration
	notes           NotesFunc
	now             func() time.Time
}

const (
	defaultPendingLimit = 500
	defaultRetention    = 36 * time.Hour
)

// NewEngine wires the sync engine with its dependencies.
func NewEngine(opts EngineOptions) (*Engine, error) {
	if opts.Store == nil {
		return nil, eris.New("stats store is required")
	}
	if opts.Wiki == nil {
		return nil, eris.New("wiki client is required")
	}
	if opts.Lookup == nil {
		return nil, eris.New("revision lookup is required")
	}
	if strings.TrimSpace(opts.PendingCategory) == "" {
		return nil, eris.New("pending category is required")
	}

	engine := &Engine{
		store:           opts.Store,
		wiki:            opts.Wiki,
		lookup:          opts.Lookup,
		logger:          opts.Logger,
		sentryHub:       opts.SentryHub,
		ignore:          make(map[string]struct{}, len(opts.IgnoreList)),
		pendingCategory: strings.TrimSpace(opts.PendingCategory),
		pendingLimit:    opts.PendingLimit,
		retention:       opts.Retention,
		notes:           opts.Notes,
		now:             opts.Now,
	}

	for _, title := range opts.IgnoreList {
		if trimmed := strings.TrimSpace(title); trimmed != "" {
			engine.ignore[trimmed] = struct{}{}
		}
	}
	if engine.pendingLimit <= 0 {
		engine.pendingLimit = defaultPendingLimit
	}
	if engine.retention <= 0 {
		engine.retention = defaultRetention
	}
	if engine.now == nil {
		engine.now = time.Now
	}

	return engine, nil
}

// snapshot is everything the apply step needs, gathered without holding the store lock.
type snapshot struct {
	page         *mediawiki.Page
	class        Classification
	size         int
	notes        *string
	creation     replica.Revision
	modification replica.Revision
}

// ProcessEdit reconciles the page stored under title after an edit.
// Only store failures are returned; wiki and replica failures become skips or untracks.
func (e *Engine) ProcessEdit(ctx context.Context, title string) (Outcome, error) {
	trimmed := strings.TrimSpace(title)
	if trimmed == "" {
		return "", eris.New("title is required")
	}
	if e.ignored(trimmed) {
		return OutcomeIgnored, nil
	}

	page, err := e.wiki.GetPage(ctx, trimmed)
	if err != nil {
		if eris.Is(err, mediawiki.ErrPageMissing) {
			return e.untrackByTitle(ctx, trimmed)
		}
		e.recordError(logrus.Fields{"title": trimmed}, err, "fetching page")
		return OutcomeSkipped, nil
	}

	return e.sync(ctx, page, false)
}

// ProcessRestore reconciles a page after it was undeleted.
func (e *Engine) ProcessRestore(ctx context.Context, title string) (Outcome, error) {
	return e.ProcessEdit(ctx, title)
}

// ProcessMove follows a rename. An unknown source is handled as an edit of dest; a tracked source is
// re-pointed at dest without reclassification.
func (e *Engine) ProcessMove(ctx context.Context, source, dest string) (Outcome, error) {
	source = strings.TrimSpace(source)
	dest = strings.TrimSpace(dest)
	if source == "" || dest == "" {
		return "", eris.New("move source and destination are required")
	}

	var existing *TrackedPage
	err := e.store.Locked(ctx, func(repo Repository) error {
		page, err := repo.GetByTitle(ctx, source)
		existing = page
		return err
	})
	if err != nil {
		return "", eris.Wrapf(err, "moving %s", source)
	}
	if existing == nil {
		return e.ProcessEdit(ctx, dest)
	}

	oldID := existing.ModifyOldID
	latest, err := e.lookup.LatestRevisionID(ctx, existing.PageID)
	if err != nil {
		e.recordError(logrus.Fields{"page_id": existing.PageID, "title": dest}, err, "looking up revision after move")
	} else {
		oldID = latest
	}

	err = e.store.Locked(ctx, func(repo Repository) error {
		return repo.Retitle(ctx, existing.PageID, dest, ShortTitle(dest), oldID)
	})
	if err != nil {
		if eris.Is(err, ErrNotTracked) {
			return OutcomeUnchanged, nil
		}
		return "", eris.Wrapf(err, "moving %s", source)
	}

	e.logInfo(logrus.Fields{"page_id": existing.PageID, "source": source, "title": dest, "oldid": oldID}, "retitled page")
	return OutcomeUpdated, nil
}

// ProcessDelete handles a deletion log entry. A title still present in the replica was only
// revision-deleted and is handled as an edit.
func (e *Engine) ProcessDelete(ctx context.Context, title string) (Outcome, error) {
	trimmed := strings.TrimSpace(title)
	if trimmed == "" {
		return "", eris.New("title is required")
	}
	if e.ignored(trimmed) {
		return OutcomeIgnored, nil
	}

	exists, err := e.lookup.TitleExists(ctx, trimmed)
	if err != nil {
		e.recordError(logrus.Fields{"title": trimmed}, err, "checking deleted title")
		return OutcomeSkipped, nil
	}
	if exists {
		return e.ProcessEdit(ctx, trimmed)
	}

	return e.untrackByTitle(ctx, trimmed)
}

// sync classifies the fetched page, looks up its revisions and applies the result under the lock.
// An authoritative snapshot is applied even when its modification revision is older than the
// stored one; the sweep uses it to follow a latest revision that moved backwards.
func (e *Engine) sync(ctx context.Context, page *mediawiki.Page, authoritative bool) (Outcome, error) {
	snap, err := e.snapshot(ctx, page)
	if err != nil {
		fields := logrus.Fields{"page_id": page.ID, "title": page.Title}
		if eris.Is(err, ErrPageVanished) {
			e.logInfo(fields, "page vanished during sync")
			return e.untrackByID(ctx, page.ID)
		}
		e.recordError(fields, err, "building page snapshot")
		return OutcomeSkipped, nil
	}

	var outcome Outcome
	err = e.store.Locked(ctx, func(repo Repository) error {
		var applyErr error
		outcome, applyErr = e.apply(ctx, repo, snap, authoritative)
		return applyErr
	})
	if err != nil {
		return "", eris.Wrapf(err, "syncing page %d", page.ID)
	}

	if outcome != OutcomeUnchanged {
		e.logInfo(logrus.Fields{"page_id": page.ID, "title": page.Title, "outcome": string(outcome), "status": string(snap.class.Status)}, "synced page")
	}
	return outcome, nil
}

func (e *Engine) snapshot(ctx context.Context, page *mediawiki.Page) (*snapshot, error) {
	targetNamespace := -1
	if page.RedirectTarget != nil {
		targetNamespace = page.RedirectTarget.Namespace
	}

	snap := &snapshot{
		page:  page,
		class: Classify(page.Content, page.IsRedirect, targetNamespace),
		size:  utf8.RuneCountInString(page.Content),
	}
	if !snap.class.Tracked() {
		return snap, nil
	}

	if e.notes != nil {
		snap.notes = e.notes(page)
	}

	modification, err := e.lookup.Modification(ctx, page.ID)
	if err != nil {
		return nil, lookupError(err, "modification", page.ID)
	}
	creation, err := e.lookup.Creation(ctx, page.ID)
	if err != nil {
		return nil, lookupError(err, "creation", page.ID)
	}

	snap.modification = modification
	snap.creation = creation
	return snap, nil
}

func lookupError(err error, what string, pageID int64) error {
	if eris.Is(err, replica.ErrNotFound) {
		return eris.Wrapf(ErrPageVanished, "%s revision of page %d: %v", what, pageID, err)
	}
	return eris.Wrapf(ErrReplicaLookupFailed, "%s revision of page %d: %v", what, pageID, err)
}

// apply must run under the store lock.
func (e *Engine) apply(ctx context.Context, repo Repository, snap *snapshot, authoritative bool) (Outcome, error) {
	pageID := snap.page.ID

	existing, err := repo.Get(ctx, pageID)
	if err != nil {
		return "", err
	}

	if !snap.class.Tracked() {
		if existing == nil {
			return OutcomeUnchanged, nil
		}
		if _, err := repo.Untrack(ctx, pageID); err != nil {
			return "", err
		}
		return OutcomeUntracked, nil
	}

	if existing == nil {
		// Pages already accepted or declined when first seen are not added.
		if IsTerminal(snap.class.Bucket) {
			return OutcomeUnchanged, nil
		}
		if err := repo.Track(ctx, newTrackedPage(snap)); err != nil {
			return "", err
		}
		return OutcomeTracked, nil
	}

	if !authoritative && snap.modification.ID < existing.ModifyOldID {
		return OutcomeSkipped, nil
	}

	update := diff(existing, snap)
	if update.IsEmpty() {
		return OutcomeUnchanged, nil
	}
	if err := repo.Update(ctx, pageID, update); err != nil {
		return "", err
	}
	return OutcomeUpdated, nil
}

func newTrackedPage(snap *snapshot) *TrackedPage {
	page := &TrackedPage{
		PageRecord: PageRecord{
			PageID:      snap.page.ID,
			Status:      snap.class.Status,
			Title:       snap.page.Title,
			Short:       ShortTitle(snap.page.Title),
			Size:        snap.size,
			Notes:       snap.notes,
			CreateUser:  snap.creation.User,
			CreateTime:  snap.creation.Timestamp,
			CreateOldID: snap.creation.ID,
			ModifyUser:  snap.modification.User,
			ModifyTime:  snap.modification.Timestamp,
			ModifyOldID: snap.modification.ID,
		},
		Bucket: snap.class.Bucket,
	}

	if IsTerminal(snap.class.Bucket) {
		setSpecial(&page.PageRecord, snap.modification)
	}
	return page
}

func setSpecial(record *PageRecord, rev replica.Revision) {
	user := rev.User
	at := rev.Timestamp
	id := rev.ID
	record.SpecialUser = &user
	record.SpecialTime = &at
	record.SpecialOldID = &id
}

// diff compares the stored record with the snapshot group by group.
func diff(existing *TrackedPage, snap *snapshot) PageUpdate {
	var update PageUpdate

	if existing.Title != snap.page.Title {
		update.Title = &TitleChange{Title: snap.page.Title, Short: ShortTitle(snap.page.Title)}
	}

	if existing.ModifyOldID != snap.modification.ID || existing.Size != snap.size {
		update.Modification = &ModificationChange{Size: snap.size, Revision: snap.modification}
	}

	bucketChanged := existing.Bucket != snap.class.Bucket
	if existing.Status != snap.class.Status || bucketChanged {
		update.Status = &StatusChange{Status: snap.class.Status, Bucket: snap.class.Bucket}
	}

	switch {
	case IsTerminal(snap.class.Bucket) && (bucketChanged || !existing.HasSpecial()):
		rev := snap.modification
		update.Special = &SpecialChange{Revision: &rev}
	case !IsTerminal(snap.class.Bucket) && existing.HasSpecial():
		update.Special = &SpecialChange{}
	}

	if !equalNotes(existing.Notes, snap.notes) {
		update.Notes = &NotesChange{Notes: snap.notes}
	}

	return update
}

func equalNotes(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func (e *Engine) untrackByTitle(ctx context.Context, title string) (Outcome, error) {
	var removed int64
	err := e.store.Locked(ctx, func(repo Repository) error {
		var untrackErr error
		removed, untrackErr = repo.UntrackByTitle(ctx, title)
		return untrackErr
	})
	if err != nil {
		return "", eris.Wrapf(err, "untracking %s", title)
	}
	if removed == 0 {
		return OutcomeUnchanged, nil
	}

	e.logInfo(logrus.Fields{"page_id": removed, "title": title}, "untracked page")
	return OutcomeUntracked, nil
}

func (e *Engine) untrackByID(ctx context.Context, pageID int64) (Outcome, error) {
	var removed bool
	err := e.store.Locked(ctx, func(repo Repository) error {
		var untrackErr error
		removed, untrackErr = repo.Untrack(ctx, pageID)
		return untrackErr
	})
	if err != nil {
		return "", eris.Wrapf(err, "untracking page %d", pageID)
	}
	if !removed {
		return OutcomeUnchanged, nil
	}

	e.logInfo(logrus.Fields{"page_id": pageID}, "untracked page")
	return OutcomeUntracked, nil
}

func (e *Engine) ignored(title string) bool {
	_, ok := e.ignore[title]
	return ok
}

func (e *Engine) logInfo(fields logrus.Fields, message string) {
	if e.logger == nil {
		return
	}
	e.logger.WithField("component", "stats.engine").WithFields(fields).Info(message)
}

func (e *Engine) recordError(fields logrus.Fields, err error, message string) {
	if err == nil {
		return
	}

	if e.logger != nil {
		entry := e.logger.WithField("component", "stats.engine").WithField("error", err.Error())
		if len(fields) > 0 {
			entry = entry.WithFields(fields)
		}
		entry.Error(message)
	}

	if e.sentryHub != nil {
		e.sentryHub.CaptureException(err)
	}
}
