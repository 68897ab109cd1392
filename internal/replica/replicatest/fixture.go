// Package replicatest builds throwaway SQLite replicas with the wiki's page and revision tables.
package replicatest

import (
	"path/filepath"
	"testing"
	"time"

	"gorm.io/gorm"

	"afcstats/app/internal/db"
	applog "afcstats/app/internal/log"
	"afcstats/app/internal/replica"
)

const schema = `
CREATE TABLE page (
	page_id INTEGER PRIMARY KEY,
	page_namespace INTEGER NOT NULL,
	page_title TEXT NOT NULL,
	page_latest INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE revision (
	rev_id INTEGER PRIMARY KEY,
	rev_page INTEGER NOT NULL,
	rev_user_text TEXT NOT NULL,
	rev_timestamp TEXT NOT NULL
);
`

// Fixture is a writable replica used to drive lookups in tests.
type Fixture struct {
	DB *gorm.DB
	t  testing.TB
}

// New creates an empty replica in a temporary directory.
func New(t testing.TB) *Fixture {
	t.Helper()

	path := filepath.Join(t.TempDir(), "replica.db")
	gormDB, err := db.Open(db.Options{Path: path})
	if err != nil {
		t.Fatalf("db.Open returned error: %v", err)
	}
	t.Cleanup(func() {
		if closeErr := db.Close(gormDB); closeErr != nil {
			t.Errorf("closing replica failed: %v", closeErr)
		}
	})

	if err := gormDB.Exec(schema).Error; err != nil {
		t.Fatalf("creating replica schema failed: %v", err)
	}

	return &Fixture{DB: gormDB, t: t}
}

// Lookup returns a SQL lookup over the fixture.
func (f *Fixture) Lookup() *replica.SQLLookup {
	f.t.Helper()

	querier, err := replica.NewGormQuerier(f.DB)
	if err != nil {
		f.t.Fatalf("NewGormQuerier returned error: %v", err)
	}
	lookup, err := replica.NewSQLLookup(querier, applog.Discard())
	if err != nil {
		f.t.Fatalf("NewSQLLookup returned error: %v", err)
	}
	return lookup
}

// AddPage inserts a page row without revisions.
func (f *Fixture) AddPage(pageID int64, title string) {
	f.t.Helper()

	namespace, dbKey := replica.SplitTitle(title)
	f.exec("INSERT INTO page (page_id, page_namespace, page_title) VALUES (?, ?, ?)", pageID, namespace, dbKey)
}

// AddRevision appends a revision and advances the page's latest pointer to it.
func (f *Fixture) AddRevision(pageID, revID int64, user string, at time.Time) {
	f.t.Helper()

	f.exec("INSERT INTO revision (rev_id, rev_page, rev_user_text, rev_timestamp) VALUES (?, ?, ?, ?)",
		revID, pageID, user, at.UTC().Format(replica.TimestampLayout))
	f.exec("UPDATE page SET page_latest = ? WHERE page_id = ?", revID, pageID)
}

// RewindLatest drops every revision of the page newer than revID and points page_latest at revID.
func (f *Fixture) RewindLatest(pageID, revID int64) {
	f.t.Helper()

	f.exec("DELETE FROM revision WHERE rev_page = ? AND rev_id > ?", pageID, revID)
	f.exec("UPDATE page SET page_latest = ? WHERE page_id = ?", revID, pageID)
}

// MovePage renames a page in place.
func (f *Fixture) MovePage(pageID int64, title string) {
	f.t.Helper()

	namespace, dbKey := replica.SplitTitle(title)
	f.exec("UPDATE page SET page_namespace = ?, page_title = ? WHERE page_id = ?", namespace, dbKey, pageID)
}

// DeletePage removes a page and its revisions.
func (f *Fixture) DeletePage(pageID int64) {
	f.t.Helper()

	f.exec("DELETE FROM revision WHERE rev_page = ?", pageID)
	f.exec("DELETE FROM page WHERE page_id = ?", pageID)
}

func (f *Fixture) exec(query string, args ...any) {
	f.t.Helper()

	if err := f.DB.Exec(query, args...).Error; err != nil {
		f.t.Fatalf("replica fixture statement failed: %v", err)
	}
}
