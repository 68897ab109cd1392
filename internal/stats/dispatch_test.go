package stats

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rotisserie/eris"

	"afcstats/app/internal/mediawiki"
	"afcstats/app/internal/metrics"
)

func TestParseEvent(t *testing.T) {
	t.Parallel()

	cases := []struct {
		kind, title, source, dest string
		expected                  Event
	}{
		{"edit", " Draft:A ", "", "", EditEvent{Title: "Draft:A"}},
		{"RESTORE", "Draft:A", "", "", RestoreEvent{Title: "Draft:A"}},
		{"delete", "Draft:A", "", "", DeleteEvent{Title: "Draft:A"}},
		{"move", "", "Draft:A", "Draft:B", MoveEvent{Source: "Draft:A", Dest: "Draft:B"}},
		{"sync", "", "", "", SyncTick{}},
		{"save", "", "", "", SaveTick{Trigger: TriggerEvent}},
	}

	for _, tc := range cases {
		event, err := ParseEvent(tc.kind, tc.title, tc.source, tc.dest)
		if err != nil {
			t.Fatalf("ParseEvent(%q) returned error: %v", tc.kind, err)
		}
		if event != tc.expected {
			t.Fatalf("ParseEvent(%q) = %#v, expected %#v", tc.kind, event, tc.expected)
		}
	}
}

func TestParseEventRejectsInvalidInput(t *testing.T) {
	t.Parallel()

	if _, err := ParseEvent("edit", " ", "", ""); err == nil {
		t.Fatalf("expected error for edit without title")
	}
	if _, err := ParseEvent("move", "", "Draft:A", ""); err == nil {
		t.Fatalf("expected error for move without destination")
	}
	if _, err := ParseEvent("purge", "Draft:A", "", ""); !eris.Is(err, ErrUnknownEventKind) {
		t.Fatalf("expected ErrUnknownEventKind, got %v", err)
	}
}

func newTestDispatcher(t *testing.T, h *harness, recorder *metrics.Recorder) *Dispatcher {
	t.Helper()

	h.wiki.put(mediawiki.Page{ID: 1, Title: statsPage, Content: "<!-- stat begin --><!-- stat end --><!-- sig begin --><!-- sig end -->"})

	compiler, err := NewCompiler(CompilerOptions{
		Store:          h.store,
		HeaderTemplate: "AFC statistics/header",
		RowTemplate:    "AFC statistics/row",
		FooterTemplate: "AFC statistics/footer",
	})
	if err != nil {
		t.Fatalf("NewCompiler returned error: %v", err)
	}

	publisher, err := NewPublisher(PublisherOptions{Compiler: compiler, Wiki: h.wiki, Page: statsPage, Summary: "Updating."})
	if err != nil {
		t.Fatalf("NewPublisher returned error: %v", err)
	}

	dispatcher, err := NewDispatcher(h.engine, publisher, h.store, recorder, silentLogger())
	if err != nil {
		t.Fatalf("NewDispatcher returned error: %v", err)
	}
	return dispatcher
}

func TestDispatcherRoutesEvents(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.submit(10, alphaTitle, pendingText)
	recorder := metrics.New()
	dispatcher := newTestDispatcher(t, h, recorder)
	ctx := context.Background()

	result, err := dispatcher.Handle(ctx, EditEvent{Title: alphaTitle})
	if err != nil {
		t.Fatalf("Handle returned error: %v", err)
	}
	if result.Kind != "edit" || result.Outcome != OutcomeTracked {
		t.Fatalf("unexpected edit result %+v", result)
	}

	result, err = dispatcher.Handle(ctx, SyncTick{})
	if err != nil {
		t.Fatalf("Handle returned error: %v", err)
	}
	if result.Sweep == nil || result.Sweep.Changed() {
		t.Fatalf("expected unchanged sweep report, got %+v", result.Sweep)
	}

	result, err = dispatcher.Handle(ctx, SaveTick{})
	if err != nil {
		t.Fatalf("Handle returned error: %v", err)
	}
	if result.Save == nil || result.Save.Skipped {
		t.Fatalf("expected published save, got %+v", result.Save)
	}
	if len(h.wiki.edits) != 1 {
		t.Fatalf("expected one edit, got %d", len(h.wiki.edits))
	}

	result, err = dispatcher.Handle(ctx, MoveEvent{Source: alphaTitle, Dest: "Draft:Alpha"})
	if err != nil {
		t.Fatalf("Handle returned error: %v", err)
	}
	if result.Outcome != OutcomeUpdated {
		t.Fatalf("unexpected move result %+v", result)
	}

	if _, err := dispatcher.Handle(ctx, nil); err == nil {
		t.Fatalf("expected error for nil event")
	}

	series, err := testutil.GatherAndCount(recorder.Registry(), "afcstats_events_total")
	if err != nil {
		t.Fatalf("GatherAndCount returned error: %v", err)
	}
	if series != 4 {
		t.Fatalf("expected 4 event series, got %d", series)
	}

	tracked, err := testutil.GatherAndCount(recorder.Registry(), "afcstats_tracked_pages")
	if err != nil {
		t.Fatalf("GatherAndCount returned error: %v", err)
	}
	if tracked != 1 {
		t.Fatalf("expected a single tracked bucket gauge, got %d", tracked)
	}
}
