// Package llmclient builds labeling prompts and requests classifications
// from the chat-completions service.
package llmclient

import (
	"context"
	"strings"

	"github.com/jonesrussell/sentiment-pipeline/internal/domain"
	"github.com/jonesrussell/sentiment-pipeline/internal/llmtransport"
	"github.com/jonesrussell/sentiment-pipeline/internal/logger"
)

// systemPrompt instructs the model to act as a labeling engine. The response
// contract is one pipe-delimited line per input row, parsed by the parser
// package.
const systemPrompt = "You are a labeling engine. For each input row, output exactly one line:\n" +
	"id|label|score|sarcasm|ethics\n" +
	"label is negative, neutral, or positive. score is a number in [-1,1] " +
	"matching the label's sign. sarcasm is 1 or 0. ethics is a comma-separated " +
	"subset of: bias, privacy, transparency, accountability, job_displacement, " +
	"safety, misinformation, governance, or empty.\n" +
	"Output nothing else: no prose, no headers, no code fences."

const userPromptHeader = "Classify id\ttext. Return one CSV line per input row in the same order.\n\n"

// minOutputTokens is the floor on a request's output budget so tiny batches
// still leave the model room to answer.
const minOutputTokens = 64

// Completer is the transport dependency; satisfied by llmtransport.Transport.
type Completer interface {
	Complete(ctx context.Context, req *llmtransport.CompletionRequest) (*llmtransport.Completion, error)
}

// Config holds the model and token budget settings.
type Config struct {
	Model           string
	TokensPerRow    int
	MaxOutputTokens int
}

// Client requests sentiment labels for comment batches.
type Client struct {
	transport Completer
	config    Config
	logger    logger.Logger
}

// New creates a classification client.
func New(transport Completer, config Config, log logger.Logger) *Client {
	if log == nil {
		log = logger.NewNop()
	}
	return &Client{transport: transport, config: config, logger: log}
}

// Classify requests labels for the given comments and returns the model's
// raw response text. Comment text is expected to be already normalized and
// truncated by the planner.
func (c *Client) Classify(ctx context.Context, comments []domain.CommentRecord) (string, error) {
	req := &llmtransport.CompletionRequest{
		Model: c.config.Model,
		Messages: []llmtransport.Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: buildUserPrompt(comments)},
		},
		Temperature: 0,
		MaxTokens:   c.outputBudget(len(comments)),
	}

	c.logger.Debug("classification request",
		logger.Int("rows", len(comments)),
		logger.Int("max_tokens", req.MaxTokens),
	)

	completion, err := c.transport.Complete(ctx, req)
	if err != nil {
		return "", err
	}

	c.logger.Debug("classification response",
		logger.Int("rows", len(comments)),
		logger.Int("prompt_tokens", completion.PromptTokens),
		logger.Int("completion_tokens", completion.CompletionTokens),
	)
	return completion.Content, nil
}

// outputBudget sizes max_tokens to the row count, floored and capped.
func (c *Client) outputBudget(rows int) int {
	budget := rows * c.config.TokensPerRow
	if budget < minOutputTokens {
		budget = minOutputTokens
	}
	if c.config.MaxOutputTokens > 0 && budget > c.config.MaxOutputTokens {
		budget = c.config.MaxOutputTokens
	}
	return budget
}

// buildUserPrompt lays out one id<TAB>text row per comment.
func buildUserPrompt(comments []domain.CommentRecord) string {
	var b strings.Builder
	b.WriteString(userPromptHeader)
	for _, c := range comments {
		b.WriteString(c.ID)
		b.WriteByte('\t')
		b.WriteString(c.Text)
		b.WriteByte('\n')
	}
	return b.String()
}
