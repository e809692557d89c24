// Package ethics tags comments with ethics concern codes using keyword
// matching. The tags supplement whatever the labeling engine returns, so a
// model that under-reports concerns still leaves a trail in the aggregates.
package ethics

import (
	"strings"
	"sync"
	"unicode"

	ahocorasick "github.com/cloudflare/ahocorasick"

	"github.com/jonesrussell/sentiment-pipeline/internal/domain"
)

// defaultDictionary maps ethics codes to trigger keywords. Matching is
// case-insensitive over punctuation-stripped text.
var defaultDictionary = map[string][]string{
	"bias":             {"biased", "discrimination", "racist", "sexist", "prejudice"},
	"privacy":          {"privacy", "surveillance", "tracking", "personal data", "data collection"},
	"transparency":     {"black box", "opaque", "no transparency", "hidden algorithm"},
	"accountability":   {"accountability", "no oversight", "unaccountable", "who is responsible"},
	"job_displacement": {"taking our jobs", "job losses", "replace workers", "unemployment", "automation"},
	"safety":           {"dangerous", "unsafe", "harm", "safety risk"},
	"misinformation":   {"fake news", "misinformation", "disinformation", "misleading", "propaganda"},
	"governance":       {"regulation", "regulate", "lawmakers", "governance", "policy"},
}

// Tagger finds ethics codes in comment text with a single Aho-Corasick pass.
type Tagger struct {
	mu       sync.RWMutex
	matcher  *ahocorasick.Matcher
	keywords []string
	kwToCode map[string]string
}

// NewTagger builds a tagger over the default dictionary.
func NewTagger() *Tagger {
	return NewTaggerWithDictionary(defaultDictionary)
}

// NewTaggerWithDictionary builds a tagger over a custom code-to-keywords
// dictionary. Unknown codes are ignored.
func NewTaggerWithDictionary(dict map[string][]string) *Tagger {
	t := &Tagger{kwToCode: make(map[string]string)}
	for code, keywords := range dict {
		if !domain.ValidEthicsCode(code) {
			continue
		}
		for _, kw := range keywords {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw == "" {
				continue
			}
			if _, dup := t.kwToCode[kw]; dup {
				continue
			}
			t.kwToCode[kw] = code
			t.keywords = append(t.keywords, kw)
		}
	}
	if len(t.keywords) > 0 {
		t.matcher = ahocorasick.NewStringMatcher(t.keywords)
	}
	return t
}

// Tag returns the ethics codes triggered by text, deduplicated, in
// dictionary-stable order. Returns nil when nothing matches.
func (t *Tagger) Tag(text string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.matcher == nil {
		return nil
	}

	normalized := normalizeText(text)
	hits := t.matcher.Match([]byte(normalized))

	seen := map[string]struct{}{}
	var out []string
	for _, hit := range hits {
		if hit >= len(t.keywords) {
			continue
		}
		code := t.kwToCode[t.keywords[hit]]
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}
		out = append(out, code)
	}
	return out
}

// Merge unions the model's codes with the tagger's, keeping the model's
// order first.
func Merge(fromModel, fromTagger []string) []string {
	if len(fromTagger) == 0 {
		return fromModel
	}
	seen := make(map[string]struct{}, len(fromModel))
	out := make([]string, 0, len(fromModel)+len(fromTagger))
	for _, code := range fromModel {
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}
		out = append(out, code)
	}
	for _, code := range fromTagger {
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}
		out = append(out, code)
	}
	return out
}

// normalizeText lowercases and collapses punctuation to spaces so keyword
// matches are not defeated by adjacent punctuation.
func normalizeText(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == ' ' || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}
	return b.String()
}
