package http

import (
	"context"
	"encoding/json"
	"io"
	stdhttp "net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"afcstats/app/internal/metrics"
	"afcstats/app/internal/stats"
)

func TestChartsPageRendersTrackedPages(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &stubEvents{}, &stubCharts{sections: sampleSections()}, nil)
	req := httptest.NewRequest("GET", "/", nil)
	rec := httptest.NewRecorder()

	srv.ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	if ct := rec.Header().Get("Content-Type"); ct != htmlContentType {
		t.Fatalf("expected content type %q, got %q", htmlContentType, ct)
	}

	body := rec.Body.String()
	for _, want := range []string{
		"Pending submissions",
		"Declined by",
		"Alpha &amp; Omega",
		"Reviewer",
		"2 pages tracked",
		"16:00, 01 March 2024",
	} {
		if !contains(body, want) {
			t.Fatalf("expected body to contain %q, got %q", want, body)
		}
	}

	if contains(body, "<script>") {
		t.Fatalf("expected notes to be escaped, got %q", body)
	}
}

func TestChartsPageRendersErrorPage(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &stubEvents{}, &stubCharts{err: eris.New("store unavailable")}, nil)
	req := httptest.NewRequest("GET", "/", nil)
	rec := httptest.NewRecorder()

	srv.ServeHTTP(rec, req)

	if rec.Code != 500 {
		t.Fatalf("expected status 500, got %d", rec.Code)
	}

	if ct := rec.Header().Get("Content-Type"); ct != htmlContentType {
		t.Fatalf("expected content type %q, got %q", htmlContentType, ct)
	}

	if !contains(rec.Body.String(), "couldn&#39;t load the charts") && !contains(rec.Body.String(), "couldn't load the charts") {
		t.Fatalf("expected helpful message in body, got %q", rec.Body.String())
	}
}

func TestChartsRouteReturnsPayload(t *testing.T) {
	t.Parallel()

	blocks := []stats.Block{
		{Template: "AFC statistics/header", Fields: []stats.Field{{Value: "Pending submissions"}}},
		{Template: "AFC statistics/row", Fields: []stats.Field{{Name: "s", Value: "pend"}, {Name: "t", Value: "Draft:Alpha"}}},
		{Template: "AFC statistics/footer"},
	}
	srv := newTestServer(t, &stubEvents{}, &stubCharts{blocks: blocks}, nil)

	req := httptest.NewRequest("GET", "/charts", nil)
	rec := httptest.NewRecorder()

	srv.ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	var body struct {
		Payload string      `json:"payload"`
		Blocks  []blockView `json:"blocks"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding body failed: %v", err)
	}

	expected := "{{AFC statistics/header|Pending submissions}}\n{{AFC statistics/row|s=pend|t=Draft:Alpha}}\n{{AFC statistics/footer}}"
	if body.Payload != expected {
		t.Fatalf("expected payload %q, got %q", expected, body.Payload)
	}

	if len(body.Blocks) != 3 || body.Blocks[1].Fields[1].Name != "t" {
		t.Fatalf("unexpected blocks: %+v", body.Blocks)
	}
}

func TestEventsRouteDispatchesEdit(t *testing.T) {
	t.Parallel()

	events := &stubEvents{outcome: stats.OutcomeTracked}
	srv := newTestServer(t, events, &stubCharts{}, nil)

	rec := postEvent(srv, `{"kind":"edit","title":"  Draft:Alpha "}`)

	if rec.Code != 200 {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var body struct {
		EventID string `json:"event_id"`
		Kind    string `json:"kind"`
		Outcome string `json:"outcome"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding body failed: %v", err)
	}

	if _, err := uuid.Parse(body.EventID); err != nil {
		t.Fatalf("expected uuid event id, got %q", body.EventID)
	}
	if body.Kind != "edit" || body.Outcome != string(stats.OutcomeTracked) {
		t.Fatalf("unexpected response body: %+v", body)
	}

	received := events.received()
	if len(received) != 1 {
		t.Fatalf("expected one dispatched event, got %d", len(received))
	}
	if edit, ok := received[0].(stats.EditEvent); !ok || edit.Title != "Draft:Alpha" {
		t.Fatalf("expected trimmed edit event, got %#v", received[0])
	}
}

func TestEventsRouteSaveBypassesShutoff(t *testing.T) {
	t.Parallel()

	events := &stubEvents{}
	srv := newTestServer(t, events, &stubCharts{}, nil)

	rec := postEvent(srv, `{"kind":"save"}`)

	if rec.Code != 200 {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}

	received := events.received()
	if len(received) != 1 {
		t.Fatalf("expected one dispatched event, got %d", len(received))
	}
	if save, ok := received[0].(stats.SaveTick); !ok || save.Trigger != stats.TriggerEvent {
		t.Fatalf("expected event-triggered save, got %#v", received[0])
	}
}

func TestEventsRouteRejectsInvalidEvents(t *testing.T) {
	t.Parallel()

	events := &stubEvents{}
	srv := newTestServer(t, events, &stubCharts{}, nil)

	for _, payload := range []string{
		`{"kind":"edit"}`,
		`{"kind":"move","source":"Draft:Alpha"}`,
		`{"kind":"purge","title":"Draft:Alpha"}`,
	} {
		rec := postEvent(srv, payload)
		if rec.Code != 400 {
			t.Fatalf("expected status 400 for %s, got %d", payload, rec.Code)
		}
	}

	if received := events.received(); len(received) != 0 {
		t.Fatalf("expected no dispatched events, got %d", len(received))
	}
}

func TestEventsRouteReportsDispatchFailure(t *testing.T) {
	t.Parallel()

	events := &stubEvents{err: eris.New("store locked")}
	srv := newTestServer(t, events, &stubCharts{}, nil)

	rec := postEvent(srv, `{"kind":"delete","title":"Draft:Alpha"}`)

	if rec.Code != 500 {
		t.Fatalf("expected status 500, got %d", rec.Code)
	}
}

func TestRequestIDHeader(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &stubEvents{}, &stubCharts{}, nil)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))
	if _, err := uuid.Parse(rec.Header().Get("X-Request-ID")); err != nil {
		t.Fatalf("expected generated request id, got %q", rec.Header().Get("X-Request-ID"))
	}

	supplied := uuid.NewString()
	req := httptest.NewRequest("GET", "/healthz", nil)
	req.Header.Set("X-Request-ID", supplied)
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-ID"); got != supplied {
		t.Fatalf("expected supplied request id %q, got %q", supplied, got)
	}
}

func TestHealthRouteReportsOK(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &stubEvents{}, &stubCharts{}, nil)

	req := httptest.NewRequest("GET", "/healthz", nil)
	rec := httptest.NewRecorder()

	srv.ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
}

func TestMetricsRouteExposesRegistry(t *testing.T) {
	t.Parallel()

	recorder := metrics.New()
	recorder.ObserveSave("published")
	srv := newTestServer(t, &stubEvents{}, &stubCharts{}, recorder.Handler())

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()

	srv.ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if !contains(rec.Body.String(), `afcstats_saves_total{outcome="published"} 1`) {
		t.Fatalf("expected save counter in body, got %q", rec.Body.String())
	}
}

func TestNewServerRequiresDependencies(t *testing.T) {
	t.Parallel()

	if _, err := NewServer(Options{Charts: &stubCharts{}, Database: &gorm.DB{}}); err == nil {
		t.Fatalf("expected error without event handler")
	}
	if _, err := NewServer(Options{Events: &stubEvents{}, Database: &gorm.DB{}}); err == nil {
		t.Fatalf("expected error without chart source")
	}
	if _, err := NewServer(Options{Events: &stubEvents{}, Charts: &stubCharts{}}); err == nil {
		t.Fatalf("expected error without database")
	}
}

// helper utilities

func newTestServer(t *testing.T, events EventHandler, charts ChartSource, metricsHandler stdhttp.Handler) *Server {
	t.Helper()

	gormDB, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("gorm.Open returned error: %v", err)
	}

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	srv, err := NewServer(Options{
		Events:   events,
		Charts:   charts,
		Database: gormDB,
		Metrics:  metricsHandler,
		Logger:   logger,
	})
	if err != nil {
		t.Fatalf("NewServer returned error: %v", err)
	}

	return srv
}

func postEvent(srv *Server, payload string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("POST", "/events", strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func contains(body, substring string) bool {
	return strings.Contains(body, substring)
}

func sampleSections() []stats.Section {
	created := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	modified := time.Date(2024, 3, 1, 16, 0, 0, 0, time.UTC)
	declinedBy := "Declined by"
	reviewer := "Reviewer"
	specialOldID := int64(2050)
	notes := "<script>alert(1)</script>"

	page := func(id int64, title, short string, status stats.Status, bucket int) stats.TrackedPage {
		return stats.TrackedPage{
			PageRecord: stats.PageRecord{
				PageID:      id,
				Status:      status,
				Title:       title,
				Short:       short,
				Size:        120,
				CreateUser:  "Author",
				CreateTime:  created,
				CreateOldID: id * 100,
				ModifyUser:  "Author",
				ModifyTime:  modified,
				ModifyOldID: id*100 + 5,
			},
			Bucket: bucket,
		}
	}

	declined := page(20, "Draft:Beta", "Beta", stats.StatusDeclined, stats.BucketDeclined)
	declined.SpecialUser = &reviewer
	declined.SpecialTime = &modified
	declined.SpecialOldID = &specialOldID
	declined.Notes = &notes

	return []stats.Section{
		{
			Chart: stats.ChartRecord{ID: stats.BucketPending, Title: "Pending submissions"},
			Pages: []stats.TrackedPage{page(10, "Draft:Alpha & Omega", "Alpha & Omega", stats.StatusPending, stats.BucketPending)},
		},
		{
			Chart: stats.ChartRecord{ID: stats.BucketDeclined, Title: "Recently declined", SpecialTitle: &declinedBy},
			Pages: []stats.TrackedPage{declined},
		},
	}
}

// stubs

type stubEvents struct {
	mu      sync.Mutex
	events  []stats.Event
	outcome stats.Outcome
	err     error
}

func (s *stubEvents) Handle(_ context.Context, event stats.Event) (stats.DispatchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = append(s.events, event)
	result := stats.DispatchResult{Kind: event.Kind(), Outcome: s.outcome}
	if s.err != nil {
		return result, s.err
	}
	return result, nil
}

func (s *stubEvents) received() []stats.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]stats.Event(nil), s.events...)
}

type stubCharts struct {
	sections []stats.Section
	blocks   []stats.Block
	err      error
}

func (s *stubCharts) Sections(_ context.Context) ([]stats.Section, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.sections, nil
}

func (s *stubCharts) Compile(_ context.Context) ([]stats.Block, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.blocks, nil
}

var _ EventHandler = (*stubEvents)(nil)
var _ ChartSource = (*stubCharts)(nil)
