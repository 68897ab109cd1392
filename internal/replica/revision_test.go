package replica_test

import (
	"context"
	"testing"
	"time"

	"github.com/rotisserie/eris"

	"afcstats/app/internal/replica"
	"afcstats/app/internal/replica/replicatest"
)

func TestCreationReturnsEarliestRevision(t *testing.T) {
	t.Parallel()

	fixture := replicatest.New(t)
	first := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	fixture.AddPage(10, "Wikipedia talk:Articles for creation/Alpha")
	fixture.AddRevision(10, 100, "Author", first)
	fixture.AddRevision(10, 105, "Reviewer", first.Add(2*time.Hour))

	rev, err := fixture.Lookup().Creation(context.Background(), 10)
	if err != nil {
		t.Fatalf("Creation returned error: %v", err)
	}

	if rev.ID != 100 || rev.User != "Author" {
		t.Fatalf("expected earliest revision 100 by Author, got %+v", rev)
	}
	if !rev.Timestamp.Equal(first) {
		t.Fatalf("expected timestamp %s, got %s", first, rev.Timestamp)
	}
}

func TestModificationFollowsLatestPointer(t *testing.T) {
	t.Parallel()

	fixture := replicatest.New(t)
	at := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	fixture.AddPage(10, "Draft:Alpha")
	fixture.AddRevision(10, 100, "Author", at)
	fixture.AddRevision(10, 105, "Reviewer", at.Add(time.Hour))

	rev, err := fixture.Lookup().Modification(context.Background(), 10)
	if err != nil {
		t.Fatalf("Modification returned error: %v", err)
	}

	if rev.ID != 105 || rev.User != "Reviewer" {
		t.Fatalf("expected latest revision 105 by Reviewer, got %+v", rev)
	}
}

func TestLookupsReportNotFoundForMissingPage(t *testing.T) {
	t.Parallel()

	lookup := replicatest.New(t).Lookup()
	ctx := context.Background()

	if _, err := lookup.Creation(ctx, 404); !eris.Is(err, replica.ErrNotFound) {
		t.Fatalf("expected ErrNotFound from Creation, got %v", err)
	}
	if _, err := lookup.Modification(ctx, 404); !eris.Is(err, replica.ErrNotFound) {
		t.Fatalf("expected ErrNotFound from Modification, got %v", err)
	}
	if _, err := lookup.LatestRevisionID(ctx, 404); !eris.Is(err, replica.ErrNotFound) {
		t.Fatalf("expected ErrNotFound from LatestRevisionID, got %v", err)
	}

	exists, err := lookup.PageExists(ctx, 404)
	if err != nil {
		t.Fatalf("PageExists returned error: %v", err)
	}
	if exists {
		t.Fatalf("expected page 404 to be absent")
	}
}

func TestTitleExistsUsesNamespaceAndDBKey(t *testing.T) {
	t.Parallel()

	fixture := replicatest.New(t)
	fixture.AddPage(7, "Wikipedia talk:Articles for creation/Some topic")
	lookup := fixture.Lookup()
	ctx := context.Background()

	exists, err := lookup.TitleExists(ctx, "Wikipedia talk:Articles for creation/Some topic")
	if err != nil {
		t.Fatalf("TitleExists returned error: %v", err)
	}
	if !exists {
		t.Fatalf("expected title to exist")
	}

	exists, err = lookup.TitleExists(ctx, "Wikipedia:Articles for creation/Some topic")
	if err != nil {
		t.Fatalf("TitleExists returned error: %v", err)
	}
	if exists {
		t.Fatalf("expected title in another namespace to be absent")
	}
}

func TestLookupWrapsQueryFailures(t *testing.T) {
	t.Parallel()

	lookup, err := replica.NewSQLLookup(failingQuerier{}, nil)
	if err != nil {
		t.Fatalf("NewSQLLookup returned error: %v", err)
	}

	_, err = lookup.Modification(context.Background(), 1)
	if !eris.Is(err, replica.ErrLookupFailed) {
		t.Fatalf("expected ErrLookupFailed, got %v", err)
	}
	if eris.Is(err, replica.ErrNotFound) {
		t.Fatalf("query failure must not look like a missing row")
	}
}

func TestSplitTitle(t *testing.T) {
	t.Parallel()

	cases := []struct {
		title     string
		namespace int
		dbKey     string
	}{
		{"Wikipedia talk:Articles for creation/Foo bar", 5, "Articles_for_creation/Foo_bar"},
		{"draft:lowercase start", 118, "Lowercase_start"},
		{"Plain article", 0, "Plain_article"},
		{"Unknown:Prefix", 0, "Unknown:Prefix"},
	}

	for _, tc := range cases {
		namespace, dbKey := replica.SplitTitle(tc.title)
		if namespace != tc.namespace || dbKey != tc.dbKey {
			t.Errorf("SplitTitle(%q) = (%d, %q), expected (%d, %q)", tc.title, namespace, dbKey, tc.namespace, tc.dbKey)
		}
	}
}

func TestParseTimestamp(t *testing.T) {
	t.Parallel()

	parsed, err := replica.ParseTimestamp("20240102030405")
	if err != nil {
		t.Fatalf("ParseTimestamp returned error: %v", err)
	}
	expected := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	if !parsed.Equal(expected) {
		t.Fatalf("expected %s, got %s", expected, parsed)
	}

	if _, err := replica.ParseTimestamp("yesterday"); err == nil {
		t.Fatalf("expected error for malformed timestamp")
	}
}

type failingQuerier struct{}

func (failingQuerier) Scan(context.Context, any, string, ...any) error {
	return eris.New("connection refused")
}
