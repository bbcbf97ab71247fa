package intent

import (
	"regexp"
)

// boundaryMatcher matches a phrase only when it is not directly preceded or
// followed by a letter or digit, so "hr" does not match inside "bathroom".
type boundaryMatcher struct {
	phrase string
	re     *regexp.Regexp
}

func newBoundaryMatcher(phrase string) (boundaryMatcher, bool) {
	phrase = Normalize(phrase)
	if phrase == "" {
		return boundaryMatcher{}, false
	}
	re := regexp.MustCompile(`(?:^|[^\p{L}\p{N}])` + regexp.QuoteMeta(phrase) + `(?:$|[^\p{L}\p{N}])`)
	return boundaryMatcher{phrase: phrase, re: re}, true
}

func (m boundaryMatcher) match(normalized string) bool {
	return m.re.MatchString(normalized)
}

func compileAll(phrases ...string) []boundaryMatcher {
	out := make([]boundaryMatcher, 0, len(phrases))
	for _, p := range phrases {
		if m, ok := newBoundaryMatcher(p); ok {
			out = append(out, m)
		}
	}
	return out
}

func matchAny(ms []boundaryMatcher, normalized string) bool {
	for _, m := range ms {
		if m.match(normalized) {
			return true
		}
	}
	return false
}
