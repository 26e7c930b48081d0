package registry

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/meetscribe/voice-service/internal/model"
	"go.uber.org/zap"
)

func newTestRegistry() *Registry {
	return New(zap.NewNop())
}

func addUploaded(t *testing.T, r *Registry, id string) {
	t.Helper()
	_, err := r.Add(&model.FileRecord{
		ID:           id,
		OriginalName: id + ".mp3",
		Status:       model.StateUploaded,
		UploadTime:   model.Now(),
	})
	if err != nil {
		t.Fatalf("Add(%s) failed: %v", id, err)
	}
}

func TestAddAndGet(t *testing.T) {
	r := newTestRegistry()
	addUploaded(t, r, "f1")

	rec, err := r.Get("f1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if rec.Status != model.StateUploaded {
		t.Fatalf("expected uploaded, got %s", rec.Status)
	}

	if _, err := r.Add(&model.FileRecord{ID: "f1"}); !errors.Is(err, ErrDuplicateID) {
		t.Fatalf("expected ErrDuplicateID, got %v", err)
	}
	if _, err := r.Get("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGetReturnsSnapshot(t *testing.T) {
	r := newTestRegistry()
	addUploaded(t, r, "f1")

	rec, _ := r.Get("f1")
	rec.Status = model.StateError
	rec.Progress = 99

	fresh, _ := r.Get("f1")
	if fresh.Status != model.StateUploaded || fresh.Progress != 0 {
		t.Fatalf("mutating a snapshot leaked into the registry: %+v", fresh)
	}
}

func TestProgressRegressionRejected(t *testing.T) {
	r := newTestRegistry()
	addUploaded(t, r, "f1")
	if _, err := r.MarkProcessing("f1"); err != nil {
		t.Fatalf("MarkProcessing failed: %v", err)
	}

	if _, err := r.Update("f1", func(rec *model.FileRecord) error {
		rec.Progress = 50
		return nil
	}); err != nil {
		t.Fatalf("progress advance failed: %v", err)
	}

	_, err := r.Update("f1", func(rec *model.FileRecord) error {
		rec.Progress = 30
		return nil
	})
	if !errors.Is(err, ErrProgressRegression) {
		t.Fatalf("expected ErrProgressRegression, got %v", err)
	}

	rec, _ := r.Get("f1")
	if rec.Progress != 50 {
		t.Fatalf("rejected mutation must not commit, progress = %d", rec.Progress)
	}
}

func TestConcurrentUpdatesKeepMaxProgress(t *testing.T) {
	r := newTestRegistry()
	addUploaded(t, r, "f1")
	if _, err := r.MarkProcessing("f1"); err != nil {
		t.Fatalf("MarkProcessing failed: %v", err)
	}

	var wg sync.WaitGroup
	for p := 1; p <= 100; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			r.Update("f1", func(rec *model.FileRecord) error {
				rec.Progress = p
				return nil
			})
		}(p)
	}
	wg.Wait()

	rec, _ := r.Get("f1")
	if rec.Progress != 100 {
		t.Fatalf("final progress should be max of committed values, got %d", rec.Progress)
	}
}

func TestTerminalStability(t *testing.T) {
	r := newTestRegistry()
	addUploaded(t, r, "f1")
	r.MarkProcessing("f1")
	now := model.Now()
	if _, err := r.Update("f1", func(rec *model.FileRecord) error {
		rec.Status = model.StateCompleted
		rec.Progress = 100
		rec.CompleteTime = &now
		return nil
	}); err != nil {
		t.Fatalf("complete failed: %v", err)
	}

	// completed 不可回到 processing
	if _, err := r.MarkProcessing("f1"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}

	addUploaded(t, r, "f2")
	r.MarkProcessing("f2")
	r.Update("f2", func(rec *model.FileRecord) error {
		rec.Status = model.StateError
		rec.ErrorMessage = "boom"
		return nil
	})

	// error 可重转录
	rec, err := r.MarkProcessing("f2")
	if err != nil {
		t.Fatalf("error -> processing should be allowed: %v", err)
	}
	if rec.ErrorMessage != "" || rec.Progress != 0 {
		t.Fatalf("retranscribe must clear error state: %+v", rec)
	}
}

func TestRemoveGuards(t *testing.T) {
	r := newTestRegistry()
	addUploaded(t, r, "f1")
	r.MarkProcessing("f1")

	if _, err := r.Remove("f1"); !errors.Is(err, ErrProcessing) {
		t.Fatalf("expected ErrProcessing, got %v", err)
	}

	r.SetCancelled("f1")
	if _, err := r.Remove("f1"); err != nil {
		t.Fatalf("remove after cancel should succeed: %v", err)
	}
	if _, err := r.Get("f1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("record should be gone")
	}
}

func TestMarkProcessingExclusive(t *testing.T) {
	r := newTestRegistry()
	addUploaded(t, r, "f1")

	if _, err := r.MarkProcessing("f1"); err != nil {
		t.Fatalf("first MarkProcessing failed: %v", err)
	}
	if _, err := r.MarkProcessing("f1"); !errors.Is(err, ErrAlreadyProcessing) {
		t.Fatalf("expected ErrAlreadyProcessing, got %v", err)
	}
	if r.ProcessingCount() != 1 {
		t.Fatalf("processing index should hold one entry")
	}
}

func TestMergeHistoryNeverOverwritesLive(t *testing.T) {
	r := newTestRegistry()
	addUploaded(t, r, "f1")
	r.MarkProcessing("f1")

	now := model.Now()
	added := r.MergeHistory([]*model.FileRecord{
		{ID: "f1", Status: model.StateCompleted, CompleteTime: &now},
		{ID: "h1", Status: model.StateCompleted, CompleteTime: &now},
	})
	if added != 1 {
		t.Fatalf("expected 1 merged record, got %d", added)
	}

	rec, _ := r.Get("f1")
	if rec.Status != model.StateProcessing {
		t.Fatalf("live record overwritten by history: %s", rec.Status)
	}
	if _, err := r.Get("h1"); err != nil {
		t.Fatalf("history record should be present: %v", err)
	}
}

func TestListSortingAndPagination(t *testing.T) {
	r := newTestRegistry()
	for i := 0; i < 3; i++ {
		addUploaded(t, r, fmt.Sprintf("u%d", i))
	}
	addUploaded(t, r, "p1")
	r.MarkProcessing("p1")
	addUploaded(t, r, "e1")
	r.MarkProcessing("e1")
	r.Update("e1", func(rec *model.FileRecord) error {
		rec.Status = model.StateError
		return nil
	})

	records, total, stats := r.List(ListFilter{})
	if total != 5 {
		t.Fatalf("expected total 5, got %d", total)
	}
	if records[0].ID != "p1" {
		t.Fatalf("processing records must sort first, got %s", records[0].ID)
	}
	if records[len(records)-1].ID != "e1" {
		t.Fatalf("error records must sort last, got %s", records[len(records)-1].ID)
	}
	if stats.Uploaded != 3 || stats.Processing != 1 || stats.Error != 1 {
		t.Fatalf("bad statistics: %+v", stats)
	}

	page, total, _ := r.List(ListFilter{Limit: 2, Offset: 1})
	if total != 5 || len(page) != 2 {
		t.Fatalf("pagination broken: total=%d len=%d", total, len(page))
	}

	filtered, total, _ := r.List(ListFilter{Status: model.StateUploaded})
	if total != 3 || len(filtered) != 3 {
		t.Fatalf("status filter broken: total=%d len=%d", total, len(filtered))
	}
}

func TestClearNonProcessing(t *testing.T) {
	r := newTestRegistry()
	addUploaded(t, r, "u1")
	addUploaded(t, r, "p1")
	r.MarkProcessing("p1")

	removed := r.ClearNonProcessing()
	if len(removed) != 1 || removed[0].ID != "u1" {
		t.Fatalf("expected only u1 removed, got %v", removed)
	}
	if _, err := r.Get("p1"); err != nil {
		t.Fatalf("processing record must survive clear: %v", err)
	}
}

func TestCompletedSnapshot(t *testing.T) {
	r := newTestRegistry()
	for _, id := range []string{"a", "b"} {
		addUploaded(t, r, id)
		r.MarkProcessing(id)
		now := model.Now()
		r.Update(id, func(rec *model.FileRecord) error {
			rec.Status = model.StateCompleted
			rec.Progress = 100
			rec.CompleteTime = &now
			return nil
		})
	}
	addUploaded(t, r, "c")

	snap := r.CompletedSnapshot()
	if len(snap) != 2 {
		t.Fatalf("expected 2 completed records, got %d", len(snap))
	}
}
