package stats

import (
	"context"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"afcstats/app/internal/db"
	"afcstats/app/internal/mediawiki"
	"afcstats/app/internal/replica/replicatest"
)

const pendingCategory = "Pending AfC submissions"

var baseTime = time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)

func silentLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func setupRepository(t *testing.T) (*GormRepository, *gorm.DB) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "stats.db")
	gormDB, err := db.Open(db.Options{Path: path})
	if err != nil {
		t.Fatalf("db.Open returned error: %v", err)
	}

	t.Cleanup(func() {
		if closeErr := db.Close(gormDB); closeErr != nil {
			t.Errorf("closing database failed: %v", closeErr)
		}
	})

	if err := Migrate(context.Background(), gormDB, silentLogger()); err != nil {
		t.Fatalf("Migrate returned error: %v", err)
	}

	repo, err := NewRepository(gormDB, silentLogger())
	if err != nil {
		t.Fatalf("NewRepository returned error: %v", err)
	}

	return repo, gormDB
}

// tableCounts returns the number of rows in the page and row tables.
func tableCounts(t *testing.T, gormDB *gorm.DB) (int64, int64) {
	t.Helper()

	var pages, rows int64
	if err := gormDB.Model(&PageRecord{}).Count(&pages).Error; err != nil {
		t.Fatalf("counting pages failed: %v", err)
	}
	if err := gormDB.Model(&ChartRow{}).Count(&rows).Error; err != nil {
		t.Fatalf("counting rows failed: %v", err)
	}
	return pages, rows
}

type fakeWiki struct {
	mu           sync.Mutex
	pages        map[string]*mediawiki.Page
	members      []string
	fetchErr     error
	fetchByIDErr error
	edits        []fakeEdit
}

type fakeEdit struct {
	title   string
	text    string
	summary string
	opts    mediawiki.EditOptions
}

var _ mediawiki.Client = (*fakeWiki)(nil)

func newFakeWiki() *fakeWiki {
	return &fakeWiki{pages: map[string]*mediawiki.Page{}}
}

func (f *fakeWiki) put(page mediawiki.Page) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pages[page.Title] = &page
}

func (f *fakeWiki) remove(title string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.pages, title)
}

func (f *fakeWiki) rename(source, dest string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	page := f.pages[source]
	delete(f.pages, source)
	page.Title = dest
	f.pages[dest] = page
}

func (f *fakeWiki) GetPage(_ context.Context, title string) (*mediawiki.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	page, ok := f.pages[title]
	if !ok {
		return nil, eris.Wrapf(mediawiki.ErrPageMissing, "page %s", title)
	}
	copied := *page
	return &copied, nil
}

func (f *fakeWiki) GetPageByID(_ context.Context, pageID int64) (*mediawiki.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.fetchByIDErr != nil {
		return nil, f.fetchByIDErr
	}
	for _, page := range f.pages {
		if page.ID == pageID {
			copied := *page
			return &copied, nil
		}
	}
	return nil, eris.Wrapf(mediawiki.ErrPageMissing, "page %d", pageID)
}

func (f *fakeWiki) CategoryMembers(_ context.Context, _ string, limit int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.members) > limit {
		return append([]string(nil), f.members[:limit]...), nil
	}
	return append([]string(nil), f.members...), nil
}

func (f *fakeWiki) Edit(_ context.Context, title, text, summary string, opts mediawiki.EditOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.edits = append(f.edits, fakeEdit{title: title, text: text, summary: summary, opts: opts})
	if page, ok := f.pages[title]; ok {
		page.Content = text
	}
	return nil
}

// countingRepository counts the mutating calls that reach the store.
type countingRepository struct {
	Repository
	tracks   int
	updates  int
	untracks int
}

func (c *countingRepository) Track(ctx context.Context, page *TrackedPage) error {
	c.tracks++
	return c.Repository.Track(ctx, page)
}

func (c *countingRepository) Update(ctx context.Context, pageID int64, update PageUpdate) error {
	c.updates++
	return c.Repository.Update(ctx, pageID, update)
}

func (c *countingRepository) Untrack(ctx context.Context, pageID int64) (bool, error) {
	c.untracks++
	return c.Repository.Untrack(ctx, pageID)
}

type harness struct {
	repo    *countingRepository
	db      *gorm.DB
	store   *Store
	wiki    *fakeWiki
	replica *replicatest.Fixture
	engine  *Engine
	now     time.Time
}

func newHarness(t *testing.T, ignore ...string) *harness {
	t.Helper()

	repo, gormDB := setupRepository(t)
	counting := &countingRepository{Repository: repo}

	store, err := NewStore(counting)
	if err != nil {
		t.Fatalf("NewStore returned error: %v", err)
	}

	h := &harness{
		repo:    counting,
		db:      gormDB,
		store:   store,
		wiki:    newFakeWiki(),
		replica: replicatest.New(t),
		now:     baseTime.Add(48 * time.Hour),
	}

	engine, err := NewEngine(EngineOptions{
		Store:           store,
		Wiki:            h.wiki,
		Lookup:          h.replica.Lookup(),
		Logger:          silentLogger(),
		IgnoreList:      ignore,
		PendingCategory: pendingCategory,
		Now:             func() time.Time { return h.now },
	})
	if err != nil {
		t.Fatalf("NewEngine returned error: %v", err)
	}
	h.engine = engine

	return h
}

// submit publishes a page on the wiki and records its creation revision in the replica.
func (h *harness) submit(pageID int64, title, content string) {
	h.wiki.put(mediawiki.Page{ID: pageID, Title: title, Namespace: 5, Content: content})
	h.replica.AddPage(pageID, title)
	h.replica.AddRevision(pageID, pageID*100, "Author", baseTime)
}

// edit changes the page content and appends a revision by user.
func (h *harness) edit(pageID int64, title, content string, revID int64, user string, at time.Time) {
	h.wiki.put(mediawiki.Page{ID: pageID, Title: title, Namespace: 5, Content: content})
	h.replica.AddRevision(pageID, revID, user, at)
}

func (h *harness) get(t *testing.T, pageID int64) *TrackedPage {
	t.Helper()

	page, err := h.repo.Get(context.Background(), pageID)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	return page
}
