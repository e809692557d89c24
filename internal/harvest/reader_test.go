//nolint:testpackage // testing internal dedupe helper
package harvest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/jonesrussell/sentiment-pipeline/internal/domain"
	"github.com/jonesrussell/sentiment-pipeline/internal/logger"
)

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestReadJSONExport(t *testing.T) {
	path := writeTemp(t, "comments.json", `[
		{"id": "c1", "videoId": "vid-1", "text": "great video", "likes": 3, "isReply": false, "posted": "2026-08-01T10:00:00Z"},
		{"id": "c2", "videoId": "vid-1", "text": "terrible take", "likes": 0, "isReply": true, "posted": "2026-08-01T11:00:00Z"}
	]`)

	r := NewReader(logger.NewNop())
	got, err := r.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 comments, got %d", len(got))
	}
	if got[0].ID != "c1" || got[0].SourceID != "vid-1" || got[0].Likes != 3 {
		t.Errorf("first record mismatch: %+v", got[0])
	}
	if !got[1].IsReply {
		t.Error("second record should be a reply")
	}
}

func TestReadCSVExport(t *testing.T) {
	path := writeTemp(t, "comments.csv",
		"id,videoId,text,likes,isReply,posted\n"+
			"c1,vid-1,nice one,5,false,2026-08-01T10:00:00Z\n"+
			"c2,vid-2,\"hello, world\",0,true,2026-08-01T11:00:00Z\n")

	r := NewReader(logger.NewNop())
	got, err := r.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 comments, got %d", len(got))
	}
	if got[1].Text != "hello, world" {
		t.Errorf("quoted csv field mishandled: %q", got[1].Text)
	}
	if got[0].Likes != 5 || got[1].SourceID != "vid-2" {
		t.Errorf("csv columns mismatch: %+v", got)
	}
}

func TestReadCSVMissingRequiredColumn(t *testing.T) {
	path := writeTemp(t, "bad.csv", "videoId,likes\nvid-1,3\n")

	r := NewReader(logger.NewNop())
	if _, err := r.ReadFile(path); err == nil {
		t.Fatal("expected error for csv without id column")
	}
}

func TestReadFileUnsupportedFormat(t *testing.T) {
	path := writeTemp(t, "comments.xml", "<comments/>")

	r := NewReader(logger.NewNop())
	if _, err := r.ReadFile(path); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestReadFileMissing(t *testing.T) {
	r := NewReader(logger.NewNop())
	if _, err := r.ReadFile(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestDedupe(t *testing.T) {
	in := []domain.CommentRecord{
		{ID: "c1", Text: "first"},
		{ID: "c1", Text: "duplicate of first"},
		{ID: "", Text: "no id"},
		{ID: "c2", Text: "   "},
		{ID: "c3", Text: "kept"},
	}

	got := dedupe(in)
	if len(got) != 2 {
		t.Fatalf("expected 2 records, got %d", len(got))
	}
	if got[0].ID != "c1" || got[0].Text != "first" {
		t.Errorf("dedupe should keep the first occurrence, got %+v", got[0])
	}
	if got[1].ID != "c3" {
		t.Errorf("expected c3 kept, got %+v", got[1])
	}
}
