// Package planner partitions harvested comments into size-bounded batches
// for the classification service.
package planner

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/jonesrussell/sentiment-pipeline/internal/domain"
	"github.com/jonesrussell/sentiment-pipeline/internal/logger"
)

// Limits bound a single batch. All values must be positive; config
// validation rejects anything else before a run starts.
type Limits struct {
	// MaxRows caps the number of comments per batch.
	MaxRows int
	// MaxCommentChars truncates each comment's text before batching.
	MaxCommentChars int
	// MaxPromptChars caps the batch's total text size.
	MaxPromptChars int
	// TokensPerRow is the estimated output tokens one labeled row costs.
	TokensPerRow int
	// MaxOutputTokens is the hard cap on a batch's requested output tokens.
	MaxOutputTokens int
}

// Planner assembles batches with greedy in-order bin packing.
type Planner struct {
	limits Limits
	logger logger.Logger
}

// New creates a batch planner.
func New(limits Limits, log logger.Logger) *Planner {
	if log == nil {
		log = logger.NewNop()
	}
	return &Planner{limits: limits, logger: log}
}

// Plan partitions comments into batches in input order. The result is a
// stable partition: no reordering, no duplication, no omission. Each
// comment's text is normalized and truncated before it is counted against
// the batch budgets. A comment whose truncated text alone exceeds the prompt
// budget still ships, alone in its own batch.
func (p *Planner) Plan(comments []domain.CommentRecord) []domain.Batch {
	if len(comments) == 0 {
		return nil
	}

	maxRowsByTokens := p.limits.MaxOutputTokens / p.limits.TokensPerRow

	var batches []domain.Batch
	var current []domain.CommentRecord
	charTotal := 0

	flush := func() {
		if len(current) == 0 {
			return
		}
		batches = append(batches, p.seal(len(batches), current, charTotal))
		current = nil
		charTotal = 0
	}

	for _, c := range comments {
		c.Text = truncate(normalize(c.Text), p.limits.MaxCommentChars)
		n := len(c.Text)

		overRows := len(current)+1 > p.limits.MaxRows
		overChars := len(current) > 0 && charTotal+n > p.limits.MaxPromptChars
		overTokens := len(current)+1 > maxRowsByTokens

		if overRows || overChars || overTokens {
			flush()
		}
		current = append(current, c)
		charTotal += n

		// An oversized single comment fills its batch entirely. It is never
		// dropped; the request just carries one row.
		if n > p.limits.MaxPromptChars {
			flush()
		}
	}
	flush()

	p.logger.Info("batch plan ready",
		logger.Int("comments", len(comments)),
		logger.Int("batches", len(batches)),
	)

	return batches
}

// seal computes the batch's derived totals and content fingerprint.
func (p *Planner) seal(index int, comments []domain.CommentRecord, charTotal int) domain.Batch {
	h := sha256.New()
	for i := range comments {
		h.Write([]byte(comments[i].ID))
		h.Write([]byte{0})
		h.Write([]byte(comments[i].Text))
		h.Write([]byte{0})
	}

	return domain.Batch{
		Index:           index,
		Comments:        comments,
		CharTotal:       charTotal,
		EstimatedTokens: len(comments) * p.limits.TokensPerRow,
		Fingerprint:     hex.EncodeToString(h.Sum(nil)),
	}
}

// normalize applies NFC normalization and collapses newlines so each comment
// occupies exactly one prompt row.
func normalize(text string) string {
	text = norm.NFC.String(text)
	text = strings.ReplaceAll(text, "\r", " ")
	text = strings.ReplaceAll(text, "\n", " ")
	return strings.TrimSpace(text)
}

// truncate cuts text to at most maxChars bytes without splitting a rune.
func truncate(text string, maxChars int) string {
	if len(text) <= maxChars {
		return text
	}
	cut := maxChars
	for cut > 0 && !isRuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
