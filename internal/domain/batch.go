package domain

// Batch is a bounded group of comments submitted together in one
// classification request. Comments keep their input order; a batch is a
// contiguous slice of the planner's input.
type Batch struct {
	// Index is the batch's position in planner output order.
	Index int `json:"index"`

	Comments []CommentRecord `json:"comments"`

	// CharTotal is the sum of truncated comment text lengths.
	CharTotal int `json:"char_total"`

	// EstimatedTokens is rows × configured tokens-per-row, used to budget
	// the request's max_tokens.
	EstimatedTokens int `json:"estimated_tokens"`

	// Fingerprint is a deterministic content hash of the batch's comment ids
	// and truncated texts. Equal fingerprints mean equal requests, which is
	// what makes the result cache safe across re-runs.
	Fingerprint string `json:"fingerprint"`
}

// Size returns the number of comments in the batch.
func (b *Batch) Size() int {
	return len(b.Comments)
}

// SourceIDs returns the distinct source ids present in the batch, in first
// occurrence order.
func (b *Batch) SourceIDs() []string {
	seen := make(map[string]struct{}, len(b.Comments))
	out := make([]string, 0, 4)
	for i := range b.Comments {
		id := b.Comments[i].SourceID
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
