package lookup

import (
	"context"
	"sort"
	"strings"

	"github.com/hbollon/go-edlib"
)

// DefaultSuggestThreshold is the minimum Jaro-Winkler similarity for a suggestion.
const DefaultSuggestThreshold = 0.80

// Suggestion is a near-miss type name.
type Suggestion struct {
	Answer
	Score float64
}

// Suggest returns up to limit types in pkg whose simple names are similar
// to name, best first. It is used to report "did you mean" candidates after
// a negative FindType.
func (l *Lookup) Suggest(ctx context.Context, name, pkg string, limit int) []Suggestion {
	if name == "" || limit <= 0 {
		return nil
	}
	var out []Suggestion
	for _, a := range l.FindTypes(ctx, "", pkg, AcceptAll) {
		score := similarity(name, a.Element.Name())
		if score < DefaultSuggestThreshold {
			continue
		}
		out = append(out, Suggestion{Answer: a, Score: score})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func similarity(a, b string) float64 {
	a, b = strings.ToLower(a), strings.ToLower(b)
	if a == b {
		return 1.0
	}
	sim, err := edlib.StringsSimilarity(a, b, edlib.JaroWinkler)
	if err != nil {
		return 0
	}
	return float64(sim)
}
