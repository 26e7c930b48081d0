package history

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/meetscribe/voice-service/internal/model"
	"go.uber.org/zap"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(filepath.Join(t.TempDir(), "history_records.json"), zap.NewNop())
}

func completedRecord(id string) *model.FileRecord {
	now := model.Now()
	return &model.FileRecord{
		ID:           id,
		OriginalName: id + ".mp3",
		StoredName:   id + "_20250101_120000_000001_abcd1234.mp3",
		Size:         1024,
		UploadTime:   now,
		CompleteTime: &now,
		Status:       model.StateCompleted,
		Progress:     100,
		Language:     "zh",
		Segments: []model.Segment{
			{Speaker: "发言人1", Text: "大家好", StartTime: 0.5, EndTime: 2.1,
				Words: []model.Word{{Text: "大家好", Start: 0.5, End: 2.1}}},
		},
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s := newTestStore(t)
	in := []*model.FileRecord{completedRecord("a"), completedRecord("b")}

	if err := s.Save(in); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	out := s.Load()
	if len(out) != 2 {
		t.Fatalf("expected 2 records, got %d", len(out))
	}
	for i, rec := range out {
		if rec.ID != in[i].ID {
			t.Fatalf("record %d: id %s != %s", i, rec.ID, in[i].ID)
		}
		if rec.Status != model.StateCompleted || rec.Progress != 100 {
			t.Fatalf("record %d lost terminal state: %+v", i, rec)
		}
		if len(rec.Segments) != 1 || rec.Segments[0].Text != "大家好" {
			t.Fatalf("record %d lost segments: %+v", i, rec.Segments)
		}
		if len(rec.Segments[0].Words) != 1 {
			t.Fatalf("record %d lost word timestamps", i)
		}
		if rec.UploadTime.String() != in[i].UploadTime.String() {
			t.Fatalf("record %d upload time drifted: %s != %s",
				i, rec.UploadTime, in[i].UploadTime)
		}
	}
}

func TestLoadMissingFile(t *testing.T) {
	s := newTestStore(t)
	if out := s.Load(); len(out) != 0 {
		t.Fatalf("missing file should load as empty, got %d records", len(out))
	}
}

func TestLoadCorruptFile(t *testing.T) {
	s := newTestStore(t)
	if err := os.MkdirAll(filepath.Dir(s.Path()), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(s.Path(), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if out := s.Load(); len(out) != 0 {
		t.Fatalf("corrupt file should load as empty, got %d records", len(out))
	}
}

func TestWireFormatEmitsBothArrays(t *testing.T) {
	s := newTestStore(t)
	if err := s.Save([]*model.FileRecord{completedRecord("a")}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	data, err := os.ReadFile(s.Path())
	if err != nil {
		t.Fatal(err)
	}
	var doc struct {
		Files          []json.RawMessage `json:"files"`
		CompletedFiles []string          `json:"completed_files"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("history file is not valid JSON: %v", err)
	}
	if len(doc.Files) != 1 || len(doc.CompletedFiles) != 1 {
		t.Fatalf("wire format must carry files and completed_files: %+v", doc)
	}
	if doc.CompletedFiles[0] != "a" {
		t.Fatalf("completed_files must be derived from files, got %v", doc.CompletedFiles)
	}
}

func TestClear(t *testing.T) {
	s := newTestStore(t)
	if err := s.Save([]*model.FileRecord{completedRecord("a")}); err != nil {
		t.Fatal(err)
	}
	if err := s.Clear(); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if out := s.Load(); len(out) != 0 {
		t.Fatalf("store should be empty after Clear, got %d", len(out))
	}
}

func TestSaveLeavesNoTempFiles(t *testing.T) {
	s := newTestStore(t)
	if err := s.Save([]*model.FileRecord{completedRecord("a")}); err != nil {
		t.Fatal(err)
	}
	entries, err := os.ReadDir(filepath.Dir(s.Path()))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected only the history file, found %d entries", len(entries))
	}
}
