package storage

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"
)

func TestStoredNameFormat(t *testing.T) {
	ts := time.Date(2025, 3, 14, 9, 26, 53, 589793000, time.Local)
	got := StoredName("会议录音.MP3", "a1b2c3d4-e5f6-7890-abcd-ef1234567890", ts)

	want := "会议录音_20250314_092653_589793_a1b2c3d4.mp3"
	if got != want {
		t.Fatalf("StoredName = %q, want %q", got, want)
	}
}

func TestStoredNameSanitizesBase(t *testing.T) {
	ts := time.Now()
	got := StoredName(`a/b\c:d e.wav`, "11112222-3333", ts)
	if strings.ContainsAny(got, `/\: `) {
		t.Fatalf("unsafe characters survived sanitisation: %q", got)
	}
	if !strings.HasSuffix(got, ".wav") {
		t.Fatalf("extension lost: %q", got)
	}

	// 全部字符被清掉时退回占位名
	got = StoredName("___.mp3", "11112222-3333", ts)
	if !strings.HasPrefix(got, "audio_") {
		t.Fatalf("expected audio fallback, got %q", got)
	}
}

func TestStoredNameUniquePerFile(t *testing.T) {
	ts := time.Now()
	a := StoredName("same.mp3", "aaaaaaaa-0000", ts)
	b := StoredName("same.mp3", "bbbbbbbb-0000", ts)
	if a == b {
		t.Fatalf("same name and timestamp must still differ by id suffix: %q", a)
	}
}

func TestArtifactNameFormat(t *testing.T) {
	ts := time.Date(2025, 3, 14, 9, 26, 53, 1000, time.Local)
	got := ArtifactName("transcript", "a1b2c3d4e5f6", ts)
	pattern := `^transcript_20250314_092653_000001_a1b2c3d4\.docx$`
	if ok, _ := regexp.MatchString(pattern, got); !ok {
		t.Fatalf("ArtifactName = %q, want match for %s", got, pattern)
	}
}

func TestShortID(t *testing.T) {
	if got := ShortID("a1b2c3d4-e5f6-7890"); got != "a1b2c3d4" {
		t.Fatalf("ShortID = %q", got)
	}
	if got := ShortID("ab-cd"); got != "abcd" {
		t.Fatalf("short input must pass through without padding, got %q", got)
	}
}

func TestSaveUpload(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "uploads")
	payload := "fake audio bytes"

	name, abs, size, err := SaveUpload(dir, "meeting.mp3", "a1b2c3d4-e5f6", strings.NewReader(payload))
	if err != nil {
		t.Fatalf("SaveUpload failed: %v", err)
	}
	if size != int64(len(payload)) {
		t.Fatalf("size = %d, want %d", size, len(payload))
	}
	if !filepath.IsAbs(abs) {
		t.Fatalf("expected absolute path, got %q", abs)
	}
	if filepath.Base(abs) != name {
		t.Fatalf("path %q does not end with stored name %q", abs, name)
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		t.Fatalf("stored file unreadable: %v", err)
	}
	if string(data) != payload {
		t.Fatalf("stored content mismatch: %q", data)
	}
}

func TestRemoveArtifacts(t *testing.T) {
	dir := t.TempDir()
	existing := filepath.Join(dir, "doc.docx")
	if err := os.WriteFile(existing, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	// 空路径与不存在的路径都不得报错或 panic
	RemoveArtifacts("", filepath.Join(dir, "missing.docx"), existing)

	if _, err := os.Stat(existing); !os.IsNotExist(err) {
		t.Fatalf("existing artifact not removed: %v", err)
	}
}
