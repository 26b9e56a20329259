package aggregate

import "github.com/mnemovox/mnemovox/pkg/memory"

// Dedupe collapses results sharing an id into one, preserving first-seen
// order. The surviving result keeps the higher score and the union of
// metadata, entity lists, relationship lists, and source tags. Dedupe is
// idempotent. It returns the deduplicated list and the number of duplicates
// removed.
func Dedupe(results []memory.Result) ([]memory.Result, int) {
	out := make([]memory.Result, 0, len(results))
	index := map[string]int{}
	removed := 0

	for _, res := range results {
		i, seen := index[res.ID]
		if !seen {
			index[res.ID] = len(out)
			out = append(out, res)
			continue
		}
		removed++
		out[i] = mergeResults(out[i], res)
	}
	return out, removed
}

// mergeResults folds b into a. Score is the max of the two; everything
// list-shaped is unioned.
func mergeResults(a, b memory.Result) memory.Result {
	if b.Score > a.Score {
		a.Score = b.Score
	}
	a.Source = memory.MergeSources(a.Source, b.Source)
	a.Entities = unionStrings(a.Entities, b.Entities)
	a.Relationships = unionStrings(a.Relationships, b.Relationships)

	if len(b.Metadata) > 0 {
		merged := make(map[string]any, len(a.Metadata)+len(b.Metadata))
		for k, v := range b.Metadata {
			merged[k] = v
		}
		// a's values win on key conflicts; it arrived first.
		for k, v := range a.Metadata {
			merged[k] = v
		}
		a.Metadata = merged
	}

	if a.Content == "" {
		a.Content = b.Content
	}
	if a.Timestamp.IsZero() {
		a.Timestamp = b.Timestamp
	}
	return a
}

func unionStrings(a, b []string) []string {
	if len(b) == 0 {
		return a
	}
	seen := make(map[string]struct{}, len(a))
	out := make([]string, 0, len(a)+len(b))
	for _, s := range a {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	for _, s := range b {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
