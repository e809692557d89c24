//nolint:testpackage // testing internal normalization
package ethics

import (
	"strings"
	"testing"
)

func TestTagFindsCodes(t *testing.T) {
	tagger := NewTagger()

	tests := []struct {
		text string
		want []string
	}{
		{"This AI is taking our jobs and nobody cares", []string{"job_displacement"}},
		{"Total FAKE NEWS, and the tracking is creepy", []string{"misinformation", "privacy"}},
		{"great video, loved the editing", nil},
		{"It's a black box. Who is responsible when it fails?", []string{"transparency", "accountability"}},
	}

	for _, tt := range tests {
		got := tagger.Tag(tt.text)
		if len(got) != len(tt.want) {
			t.Errorf("Tag(%q) = %v, want %v", tt.text, got, tt.want)
			continue
		}
		gotSet := map[string]bool{}
		for _, c := range got {
			gotSet[c] = true
		}
		for _, c := range tt.want {
			if !gotSet[c] {
				t.Errorf("Tag(%q) = %v, missing %q", tt.text, got, c)
			}
		}
	}
}

func TestTagDeduplicates(t *testing.T) {
	tagger := NewTagger()
	got := tagger.Tag("fake news, more fake news, all misinformation")

	count := 0
	for _, c := range got {
		if c == "misinformation" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("expected one misinformation code, got %v", got)
	}
}

func TestTagIsCaseInsensitive(t *testing.T) {
	tagger := NewTagger()
	if got := tagger.Tag("SURVEILLANCE state"); len(got) != 1 || got[0] != "privacy" {
		t.Errorf("expected privacy code, got %v", got)
	}
}

func TestNewTaggerWithDictionarySkipsUnknownCodes(t *testing.T) {
	tagger := NewTaggerWithDictionary(map[string][]string{
		"bias":      {"unfair"},
		"not_a_code": {"whatever"},
	})
	if got := tagger.Tag("this is unfair and whatever"); len(got) != 1 || got[0] != "bias" {
		t.Errorf("expected only bias code, got %v", got)
	}
}

func TestEmptyDictionary(t *testing.T) {
	tagger := NewTaggerWithDictionary(nil)
	if got := tagger.Tag("anything at all"); got != nil {
		t.Errorf("expected nil for empty dictionary, got %v", got)
	}
}

func TestMerge(t *testing.T) {
	got := Merge([]string{"bias", "privacy"}, []string{"privacy", "safety"})
	if strings.Join(got, ",") != "bias,privacy,safety" {
		t.Errorf("Merge = %v", got)
	}

	if got := Merge([]string{"bias"}, nil); strings.Join(got, ",") != "bias" {
		t.Errorf("Merge with empty tagger codes = %v", got)
	}
	if got := Merge(nil, []string{"safety"}); strings.Join(got, ",") != "safety" {
		t.Errorf("Merge with empty model codes = %v", got)
	}
}
