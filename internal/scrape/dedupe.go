package scrape

import (
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/brandintel/internal/model"
)

// Dedupe drops pages whose token set overlaps an already-kept page at or
// above threshold, scanning greedily in input order so the first of any
// near-duplicate group survives.
func Dedupe(pages []model.Page, threshold float64) []model.Page {
	kept := make([]model.Page, 0, len(pages))
	keptSets := make([]map[string]struct{}, 0, len(pages))

	for _, p := range pages {
		set := tokenize(p.Text)
		dup := false
		for _, ks := range keptSets {
			if jaccard(set, ks) >= threshold {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		kept = append(kept, p)
		keptSets = append(keptSets, set)
	}
	return kept
}

// tokenize splits text on whitespace into an NFKC-folded, lowercased token
// set so visually-equal variants (fullwidth forms, ligatures) compare equal.
func tokenize(text string) map[string]struct{} {
	folded := norm.NFKC.String(strings.ToLower(text))
	fields := strings.Fields(folded)
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	small, large := a, b
	if len(b) < len(a) {
		small, large = b, a
	}
	inter := 0
	for t := range small {
		if _, ok := large[t]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}
