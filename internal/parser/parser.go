// Package parser decodes the labeling engine's pipe-delimited response rows
// into classification results.
package parser

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/jonesrussell/sentiment-pipeline/internal/domain"
	"github.com/jonesrussell/sentiment-pipeline/internal/logger"
)

// fieldCount is id|label|score|sarcasm|ethics.
const fieldCount = 5

// MalformedResponseError reports a response with no usable rows at all, which
// usually means the model ignored the output contract.
type MalformedResponseError struct {
	Lines int
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("no parsable rows in %d response lines", e.Lines)
}

// Result holds one parse pass over a batch response.
type Result struct {
	// Rows maps comment ID to its parsed classification, in batch order for
	// ids that resolved.
	Rows []domain.ClassificationResult
	// Missing lists batch comments the response did not cover; they are
	// candidates for a salvage request.
	Missing []domain.CommentRecord
}

// Parser decodes batch responses.
type Parser struct {
	logger logger.Logger
}

// New creates a response parser.
func New(log logger.Logger) *Parser {
	if log == nil {
		log = logger.NewNop()
	}
	return &Parser{logger: log}
}

// Parse matches response rows to the batch's comments by ID. Rows for
// unknown IDs and duplicate rows are dropped; malformed lines are skipped.
// If the response covers none of the batch, a MalformedResponseError is
// returned so the caller can retry rather than salvage.
func (p *Parser) Parse(raw string, comments []domain.CommentRecord) (*Result, error) {
	lines := splitLines(raw)

	known := make(map[string]domain.CommentRecord, len(comments))
	for _, c := range comments {
		known[c.ID] = c
	}

	parsed := make(map[string]domain.ClassificationResult, len(comments))
	skipped := 0
	for _, line := range lines {
		row, ok := parseLine(line)
		if !ok {
			skipped++
			continue
		}
		c, isKnown := known[row.id]
		if !isKnown {
			skipped++
			continue
		}
		if _, dup := parsed[row.id]; dup {
			continue
		}
		parsed[row.id] = domain.ClassificationResult{
			CommentID: c.ID,
			SourceID:  c.SourceID,
			Sentiment: row.sentiment,
			Score:     row.score,
			Sarcasm:   row.sarcasm,
			Ethics:    row.ethics,
			Status:    domain.ResultOK,
		}
	}

	if len(parsed) == 0 && len(comments) > 0 {
		return nil, &MalformedResponseError{Lines: len(lines)}
	}

	res := &Result{}
	for _, c := range comments {
		if row, ok := parsed[c.ID]; ok {
			res.Rows = append(res.Rows, row)
		} else {
			res.Missing = append(res.Missing, c)
		}
	}

	if skipped > 0 || len(res.Missing) > 0 {
		p.logger.Warn("response parse incomplete",
			logger.Int("parsed", len(res.Rows)),
			logger.Int("missing", len(res.Missing)),
			logger.Int("skipped_lines", skipped),
		)
	}
	return res, nil
}

type parsedRow struct {
	id        string
	sentiment domain.Sentiment
	score     float64
	sarcasm   bool
	ethics    []string
}

func parseLine(line string) (parsedRow, bool) {
	fields := strings.Split(line, "|")
	if len(fields) != fieldCount {
		return parsedRow{}, false
	}
	id := strings.TrimSpace(fields[0])
	if id == "" {
		return parsedRow{}, false
	}

	sentiment := normalizeLabel(fields[1])
	score := normalizeScore(fields[2], sentiment)

	return parsedRow{
		id:        id,
		sentiment: sentiment,
		score:     score,
		sarcasm:   parseSarcasm(fields[3]),
		ethics:    parseEthics(fields[4]),
	}, true
}

// splitLines strips code fences and blank lines; models occasionally wrap
// the rows in a fenced block despite the contract.
func splitLines(raw string) []string {
	var out []string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "```") {
			continue
		}
		out = append(out, line)
	}
	return out
}

// normalizeLabel folds label variants onto the three sentiments. Anything
// unrecognized is neutral.
func normalizeLabel(raw string) domain.Sentiment {
	label := strings.ToLower(strings.TrimSpace(raw))
	switch {
	case strings.HasPrefix(label, "-") || strings.HasPrefix(label, "neg"):
		return domain.SentimentNegative
	case strings.HasPrefix(label, "+") || strings.HasPrefix(label, "pos"):
		return domain.SentimentPositive
	default:
		return domain.SentimentNeutral
	}
}

// normalizeScore clamps to [-1,1] and aligns the sign with the label.
// Neutral is always 0. An unparsable score falls back to the label's unit
// direction.
func normalizeScore(raw string, sentiment domain.Sentiment) float64 {
	if sentiment == domain.SentimentNeutral {
		return 0
	}

	score, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		if sentiment == domain.SentimentNegative {
			return -1
		}
		return 1
	}

	if score > 1 {
		score = 1
	}
	if score < -1 {
		score = -1
	}
	switch sentiment {
	case domain.SentimentNegative:
		if score > 0 {
			score = -score
		}
	case domain.SentimentPositive:
		if score < 0 {
			score = -score
		}
	}
	return score
}

func parseSarcasm(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "y", "yes", "true":
		return true
	default:
		return false
	}
}

// parseEthics keeps only recognized ethics codes, deduplicated in order.
func parseEthics(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	var out []string
	seen := map[string]struct{}{}
	for _, code := range strings.Split(raw, ",") {
		code = strings.ToLower(strings.TrimSpace(code))
		if !domain.ValidEthicsCode(code) {
			continue
		}
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}
		out = append(out, code)
	}
	return out
}
