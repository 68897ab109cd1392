package stats

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestEntryPointsShareOneCriticalSection(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.submit(10, alphaTitle, pendingText)
	h.edit(10, alphaTitle, reviewText, 1001, "Reviewer", baseTime.Add(time.Hour))
	h.wiki.members = []string{alphaTitle}

	compiler, err := NewCompiler(CompilerOptions{
		Store:          h.store,
		HeaderTemplate: "AFC statistics/header",
		RowTemplate:    "AFC statistics/row",
		FooterTemplate: "AFC statistics/footer",
	})
	if err != nil {
		t.Fatalf("NewCompiler returned error: %v", err)
	}

	ctx := context.Background()
	calls := []func() error{
		func() error { _, err := h.engine.ProcessEdit(ctx, alphaTitle); return err },
		func() error { _, err := h.engine.ProcessMove(ctx, alphaTitle, alphaTitle); return err },
		func() error { _, err := h.engine.ProcessMove(ctx, "User:Someone/Alpha", alphaTitle); return err },
		func() error { _, err := h.engine.Sync(ctx); return err },
		func() error { _, err := compiler.Payload(ctx); return err },
	}

	const rounds = 8
	errs := make(chan error, rounds*len(calls))
	var wg sync.WaitGroup
	for i := 0; i < rounds; i++ {
		for _, call := range calls {
			wg.Add(1)
			go func(call func() error) {
				defer wg.Done()
				errs <- call()
			}(call)
		}
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent call returned error: %v", err)
		}
	}

	if pages, rows := tableCounts(t, h.db); pages != 1 || rows != 1 {
		t.Fatalf("expected one page and one row, got %d and %d", pages, rows)
	}
	if h.repo.tracks != 1 {
		t.Fatalf("expected a single track, got %d", h.repo.tracks)
	}

	page := h.get(t, 10)
	if page.ModifyOldID != 1001 || page.Bucket != BucketReview {
		t.Fatalf("expected page at the replica's latest revision under review, got %+v", page)
	}

	payload, err := compiler.Payload(ctx)
	if err != nil {
		t.Fatalf("Payload returned error: %v", err)
	}
	if want := "|mi=1001"; !strings.Contains(payload, want) {
		t.Fatalf("expected payload to carry %q, got %q", want, payload)
	}
}
