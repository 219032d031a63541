package contextset

import (
	"fmt"
	"sort"
	"strings"

	"github.com/lingolive/lingolive/pkg/types"
)

// Engine limits for a single context configuration. The engine's documented
// budget is roughly 8,000 tokens (~10,000 characters); the per-field limits
// below keep a merged configuration inside that budget.
const (
	MaxTextLength       = 10000
	MaxTerms            = 500
	MaxTermLength       = 200
	MaxGeneralPairs     = 100
	MaxGeneralKeyLen    = 100
	MaxGeneralValueLen  = 500
	MaxTranslationTerms = 500
)

// Merge combines context sets into a single [types.MergedContext] for the
// transcription engine. Sets must be given in merge priority order: first is
// lowest priority, last is highest.
//
// Merge rules:
//   - Terms: union across all sets, deduplicated, each set's terms taken in
//     its own sort order. First occurrence wins the position, later
//     duplicates are dropped.
//   - General: a map keyed by pair key; later sets overwrite earlier sets,
//     so the highest-priority set wins per key.
//   - Text: non-empty texts concatenated in priority order, blank-line
//     separated.
//   - Translation terms: same last-wins rule as General, keyed by source,
//     each set's pairs taken in its own sort order.
//
// Empty fields are omitted from the result (zero-length slices stay nil);
// the consuming engine treats absence and emptiness differently. Merge never
// mutates its inputs and is deterministic for a fixed input order.
func Merge(sets []Set) types.MergedContext {
	if len(sets) == 0 {
		return types.MergedContext{}
	}

	var terms []string
	seenTerms := make(map[string]struct{})

	var generalOrder []string
	generalByKey := make(map[string]string)

	var textParts []string

	var translationOrder []string
	translationBySource := make(map[string]string)

	for _, set := range sets {
		for _, t := range sortedTerms(set.Terms) {
			if _, ok := seenTerms[t.Term]; ok {
				continue
			}
			seenTerms[t.Term] = struct{}{}
			terms = append(terms, t.Term)
		}

		for _, g := range set.General {
			if _, ok := generalByKey[g.Key]; !ok {
				generalOrder = append(generalOrder, g.Key)
			}
			generalByKey[g.Key] = g.Value
		}

		if t := strings.TrimSpace(set.Text); t != "" {
			textParts = append(textParts, set.Text)
		}

		for _, tt := range sortedTranslationTerms(set.TranslationTerms) {
			if _, ok := translationBySource[tt.Source]; !ok {
				translationOrder = append(translationOrder, tt.Source)
			}
			translationBySource[tt.Source] = tt.Target
		}
	}

	merged := types.MergedContext{
		Terms: terms,
		Text:  strings.Join(textParts, "\n\n"),
	}
	for _, key := range generalOrder {
		merged.General = append(merged.General, types.GeneralPair{Key: key, Value: generalByKey[key]})
	}
	for _, src := range translationOrder {
		merged.TranslationTerms = append(merged.TranslationTerms, types.TranslationTerm{
			Source: src,
			Target: translationBySource[src],
		})
	}
	return merged
}

// sortedTerms returns a copy of terms ordered by SortOrder. The input slice
// is left untouched.
func sortedTerms(terms []Term) []Term {
	out := make([]Term, len(terms))
	copy(out, terms)
	sort.SliceStable(out, func(i, j int) bool { return out[i].SortOrder < out[j].SortOrder })
	return out
}

// sortedTranslationTerms returns a copy of tts ordered by SortOrder.
func sortedTranslationTerms(tts []OrderedTranslationTerm) []OrderedTranslationTerm {
	out := make([]OrderedTranslationTerm, len(tts))
	copy(out, tts)
	sort.SliceStable(out, func(i, j int) bool { return out[i].SortOrder < out[j].SortOrder })
	return out
}

// CheckLimits reports every engine-limit violation in set as a human-readable
// message. It never fails hard: an oversized set is still mergeable, the
// messages exist so write paths and merge paths can warn about configurations
// the engine may truncate. An empty result means the set is within limits.
func CheckLimits(set Set) []string {
	var violations []string

	if n := len(set.Text); n > MaxTextLength {
		violations = append(violations, fmt.Sprintf("text too long (%d chars, max %d)", n, MaxTextLength))
	}
	if n := len(set.General); n > MaxGeneralPairs {
		violations = append(violations, fmt.Sprintf("too many general metadata pairs (%d, max %d)", n, MaxGeneralPairs))
	}
	if n := len(set.Terms); n > MaxTerms {
		violations = append(violations, fmt.Sprintf("too many terms (%d, max %d)", n, MaxTerms))
	}
	if n := len(set.TranslationTerms); n > MaxTranslationTerms {
		violations = append(violations, fmt.Sprintf("too many translation terms (%d, max %d)", n, MaxTranslationTerms))
	}

	for i, t := range set.Terms {
		if n := len(t.Term); n > MaxTermLength {
			violations = append(violations, fmt.Sprintf("term #%d too long (%d chars, max %d)", i+1, n, MaxTermLength))
		}
	}

	for i, g := range set.General {
		if n := len(g.Key); n > MaxGeneralKeyLen {
			violations = append(violations, fmt.Sprintf("general key #%d too long (%d chars, max %d)", i+1, n, MaxGeneralKeyLen))
		}
		if n := len(g.Value); n > MaxGeneralValueLen {
			violations = append(violations, fmt.Sprintf("general value for key %q too long (%d chars, max %d)", g.Key, n, MaxGeneralValueLen))
		}
	}

	return violations
}

// EstimateTokens roughly estimates the engine token count of a merged context.
// The approximation is 4 characters per token, matching the engine's
// documented sizing guidance. Useful for warning hosts before a session
// starts with an oversized configuration.
func EstimateTokens(merged types.MergedContext) int {
	chars := len(merged.Text)
	for _, t := range merged.Terms {
		chars += len(t)
	}
	for _, g := range merged.General {
		chars += len(g.Key) + len(g.Value)
	}
	for _, tt := range merged.TranslationTerms {
		chars += len(tt.Source) + len(tt.Target)
	}
	return (chars + 3) / 4
}
