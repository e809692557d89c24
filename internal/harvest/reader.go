// Package harvest reads comment exports produced by the harvester tools.
// Both JSON and CSV exports are supported; records are deduplicated by
// comment ID before they reach the planner.
package harvest

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jonesrussell/sentiment-pipeline/internal/domain"
	"github.com/jonesrussell/sentiment-pipeline/internal/logger"
)

// Reader loads harvested comments from export files.
type Reader struct {
	logger logger.Logger
}

// NewReader creates a comment export reader.
func NewReader(log logger.Logger) *Reader {
	if log == nil {
		log = logger.NewNop()
	}
	return &Reader{logger: log}
}

// ReadFile loads comments from path, choosing the codec by file extension.
// Records with an empty ID or empty text are dropped; duplicate IDs keep the
// first occurrence.
func (r *Reader) ReadFile(path string) ([]domain.CommentRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open export %s: %w", path, err)
	}
	defer f.Close()

	var comments []domain.CommentRecord
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		comments, err = r.readJSON(f)
	case ".csv":
		comments, err = r.readCSV(f)
	default:
		return nil, fmt.Errorf("unsupported export format %q", filepath.Ext(path))
	}
	if err != nil {
		return nil, fmt.Errorf("read export %s: %w", path, err)
	}

	clean := dedupe(comments)
	if dropped := len(comments) - len(clean); dropped > 0 {
		r.logger.Warn("dropped invalid or duplicate records",
			logger.String("path", path),
			logger.Int("dropped", dropped),
		)
	}
	r.logger.Info("export loaded",
		logger.String("path", path),
		logger.Int("comments", len(clean)),
	)
	return clean, nil
}

// exportRecord mirrors the harvester's JSON export shape.
type exportRecord struct {
	ID       string `json:"id"`
	SourceID string `json:"videoId"`
	Text     string `json:"text"`
	Likes    int    `json:"likes"`
	IsReply  bool   `json:"isReply"`
	Posted   string `json:"posted"`
}

func (r *Reader) readJSON(src io.Reader) ([]domain.CommentRecord, error) {
	var records []exportRecord
	if err := json.NewDecoder(src).Decode(&records); err != nil {
		return nil, fmt.Errorf("decode json: %w", err)
	}

	out := make([]domain.CommentRecord, 0, len(records))
	for _, rec := range records {
		out = append(out, domain.CommentRecord{
			ID:       rec.ID,
			SourceID: rec.SourceID,
			Text:     rec.Text,
			Likes:    rec.Likes,
			IsReply:  rec.IsReply,
			Posted:   rec.Posted,
		})
	}
	return out, nil
}

// readCSV expects a header row; column order is taken from the header so
// exports from different harvester versions keep working.
func (r *Reader) readCSV(src io.Reader) ([]domain.CommentRecord, error) {
	cr := csv.NewReader(src)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	col := map[string]int{}
	for i, name := range header {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}
	idIdx, ok := col["id"]
	if !ok {
		return nil, fmt.Errorf("csv header missing id column")
	}
	textIdx, ok := col["text"]
	if !ok {
		return nil, fmt.Errorf("csv header missing text column")
	}

	field := func(row []string, idx int, ok bool) string {
		if !ok || idx >= len(row) {
			return ""
		}
		return row[idx]
	}

	srcIdx, srcOK := col["videoid"]
	if !srcOK {
		srcIdx, srcOK = col["source_id"]
	}
	likesIdx, likesOK := col["likes"]
	replyIdx, replyOK := col["isreply"]
	postedIdx, postedOK := col["posted"]

	var out []domain.CommentRecord
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv row: %w", err)
		}
		rec := domain.CommentRecord{
			ID:       field(row, idIdx, true),
			SourceID: field(row, srcIdx, srcOK),
			Text:     field(row, textIdx, true),
		}
		if v := field(row, likesIdx, likesOK); v != "" {
			if n, convErr := strconv.Atoi(v); convErr == nil {
				rec.Likes = n
			}
		}
		if v := field(row, replyIdx, replyOK); v != "" {
			rec.IsReply = strings.EqualFold(v, "true") || v == "1"
		}
		rec.Posted = field(row, postedIdx, postedOK)
		out = append(out, rec)
	}
	return out, nil
}

// dedupe drops records without an ID or text and keeps the first occurrence
// of each ID, preserving input order.
func dedupe(in []domain.CommentRecord) []domain.CommentRecord {
	seen := make(map[string]struct{}, len(in))
	out := make([]domain.CommentRecord, 0, len(in))
	for _, c := range in {
		if c.ID == "" || strings.TrimSpace(c.Text) == "" {
			continue
		}
		if _, dup := seen[c.ID]; dup {
			continue
		}
		seen[c.ID] = struct{}{}
		out = append(out, c)
	}
	return out
}
