// Package aggregate turns a free-form query into a ranked context set: it
// classifies the query, selects a retrieval strategy, runs the vector and
// graph retrievers (concurrently where the strategy asks for both), merges
// and deduplicates their results, and delegates final ordering to the
// ranker.
package aggregate

import (
	"strings"
	"unicode"
)

// Keyword cues the analyzer looks for, lower-cased.
var (
	semanticKeywords   = []string{"like", "similar", "about", "concept"}
	temporalKeywords   = []string{"yesterday", "today", "last week", "last month", "recent", "recently", "ago", "latest", "when"}
	relationalKeywords = []string{"relationship", "connection", "link", "interaction", "between", "related"}
)

// queryStopwords are capitalised words that never count as entities.
var queryStopwords = map[string]struct{}{
	"who": {}, "what": {}, "where": {}, "when": {}, "why": {}, "how": {},
	"the": {}, "a": {}, "an": {}, "is": {}, "are": {}, "was": {}, "were": {},
	"did": {}, "do": {}, "does": {}, "can": {}, "could": {}, "i": {},
	"tell": {}, "show": {}, "find": {}, "list": {},
}

// QueryFeatures is the analyzer's classification of one query.
type QueryFeatures struct {
	// Entities are the capitalised name phrases detected in the query, in
	// order of appearance.
	Entities []string

	// Semantic reports the presence of abstract-similarity keywords.
	Semantic bool

	// Temporal reports the presence of time cues.
	Temporal bool

	// ComplexGraph reports multiple entities combined with relational
	// keywords.
	ComplexGraph bool
}

// EntityCount returns the number of detected entities.
func (f QueryFeatures) EntityCount() int { return len(f.Entities) }

// AnalyzeQuery classifies a query along three dimensions: entity density,
// semantic shape, and complex-graph shape. It is pure and synchronous.
//
// Entity detection is intentionally lightweight: runs of capitalised words
// (minus question-word noise) are taken as names. The graph retriever's own
// fuzzy matching absorbs the imprecision.
func AnalyzeQuery(query string) QueryFeatures {
	f := QueryFeatures{Entities: detectEntities(query)}

	lower := " " + strings.ToLower(query) + " "
	for _, kw := range semanticKeywords {
		if containsWord(lower, kw) {
			f.Semantic = true
			break
		}
	}
	for _, kw := range temporalKeywords {
		if containsWord(lower, kw) {
			f.Temporal = true
			break
		}
	}
	if len(f.Entities) >= 2 {
		for _, kw := range relationalKeywords {
			if containsWord(lower, kw) {
				f.ComplexGraph = true
				break
			}
		}
	}
	return f
}

// containsWord matches kw on word boundaries within the padded lower-cased
// query. Multi-word cues ("last week") match as substrings.
func containsWord(paddedLower, kw string) bool {
	if strings.Contains(kw, " ") {
		return strings.Contains(paddedLower, kw)
	}
	idx := 0
	for {
		i := strings.Index(paddedLower[idx:], kw)
		if i < 0 {
			return false
		}
		at := idx + i
		before := rune(paddedLower[at-1])
		afterIdx := at + len(kw)
		after := rune(' ')
		if afterIdx < len(paddedLower) {
			after = rune(paddedLower[afterIdx])
		}
		if !unicode.IsLetter(before) && !unicode.IsLetter(after) {
			return true
		}
		idx = at + len(kw)
	}
}

// detectEntities finds runs of capitalised tokens, merging consecutive ones
// into a single name ("Alice Smith").
func detectEntities(query string) []string {
	tokens := strings.Fields(query)
	var entities []string
	var current []string

	flush := func() {
		if len(current) > 0 {
			entities = append(entities, strings.Join(current, " "))
			current = nil
		}
	}

	for _, tok := range tokens {
		word := strings.TrimFunc(tok, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		if word == "" {
			flush()
			continue
		}
		first := []rune(word)[0]
		_, stop := queryStopwords[strings.ToLower(word)]
		if unicode.IsUpper(first) && !stop {
			current = append(current, word)
			continue
		}
		flush()
	}
	flush()
	return entities
}
