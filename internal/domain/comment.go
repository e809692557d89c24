// Package domain holds the core data model for the sentiment pipeline.
package domain

// CommentRecord represents one harvested comment or tweet.
// This is the input to the pipeline from the comment harvester and is
// immutable once produced: the harvester owns deduplication and pagination.
type CommentRecord struct {
	// ID is the harvester's stable, unique, anonymized identifier.
	ID string `json:"id"`

	// SourceID identifies the video or search query the comment belongs to.
	// It is the unit of aggregation.
	SourceID string `json:"source_id"`

	// Text is the raw comment text with PII already stripped by the harvester.
	Text string `json:"text"`

	// Non-PII context shipped with each prompt row.
	Likes   int    `json:"likes"`
	IsReply bool   `json:"is_reply"`
	Posted  string `json:"posted,omitempty"`
}

// Sentiment is one of the three recognized sentiment labels.
type Sentiment string

// Recognized sentiment values.
const (
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
)

// Valid reports whether s is one of the three recognized labels.
func (s Sentiment) Valid() bool {
	switch s {
	case SentimentPositive, SentimentNeutral, SentimentNegative:
		return true
	}
	return false
}

// Result status constants.
const (
	ResultOK     = "ok"
	ResultFailed = "failed"
)

// ClassificationResult is one labeled comment from a successfully parsed batch.
type ClassificationResult struct {
	CommentID string    `json:"comment_id"`
	SourceID  string    `json:"source_id"`
	Sentiment Sentiment `json:"sentiment"`

	// Score is the model's polarity in [-1, 1], sign-aligned with Sentiment.
	Score float64 `json:"score"`

	// Sarcasm marks text the model flagged as sarcastic.
	Sarcasm bool `json:"sarcasm"`

	// Ethics holds zero or more recognized ethics codes for the comment.
	Ethics []string `json:"ethics,omitempty"`

	// Status is "ok" for parsed rows, "failed" for rows of a failed batch.
	Status string `json:"status"`
}

// Recognized ethics codes, matching the labeling prompt's vocabulary.
var EthicsCodes = []string{
	"bias",
	"privacy",
	"transparency",
	"accountability",
	"job_displacement",
	"safety",
	"misinformation",
	"governance",
}

// ValidEthicsCode reports whether code is in the recognized vocabulary.
func ValidEthicsCode(code string) bool {
	for _, c := range EthicsCodes {
		if c == code {
			return true
		}
	}
	return false
}
