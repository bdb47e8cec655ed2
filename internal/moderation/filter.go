// Package moderation provides content filtering for chat messages. It
// screens text for prohibited terms and spam patterns before the relay
// delivers it to the partner; a blocked result becomes a moderator veto.
package moderation

import (
	"strings"
)

// FilterResult is the outcome of a moderation check.
type FilterResult struct {
	Blocked bool
	Reason  string // "banned_term" | "spam_pattern"
	Term    string // the offending term or pattern name
}

// Filter screens message text against a banned-term list and the spam
// pattern checks. It is immutable after construction and safe for
// concurrent use.
type Filter struct {
	terms []string // lowercase banned terms, matched as substrings
}

// defaultTerms is the built-in banned-term list. Deployments extend it via
// NewFilterWithTerms.
var defaultTerms = []string{
	"kill yourself",
	"kys",
	"cp trade",
	"buy followers",
	"free crypto",
	"onlyfans.com",
}

// NewFilter creates a Filter with the built-in term list.
func NewFilter() *Filter {
	return NewFilterWithTerms(defaultTerms)
}

// NewFilterWithTerms creates a Filter with a custom banned-term list. Terms
// are lowercased; empty terms are dropped.
func NewFilterWithTerms(terms []string) *Filter {
	f := &Filter{terms: make([]string, 0, len(terms))}
	for _, t := range terms {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" {
			f.terms = append(f.terms, t)
		}
	}
	return f
}

// Check screens text and returns the first blocking result, or a zero-value
// (non-blocking) FilterResult when the text is clean. Banned terms are
// checked before spam patterns.
func (f *Filter) Check(text string) FilterResult {
	lower := strings.ToLower(text)

	for _, term := range f.terms {
		if strings.Contains(lower, term) {
			return FilterResult{
				Blocked: true,
				Reason:  "banned_term",
				Term:    term,
			}
		}
	}

	return f.checkSpamPatterns(text)
}
