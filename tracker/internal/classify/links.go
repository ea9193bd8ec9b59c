package classify

import (
	"sort"
	"strings"
)

// DefaultLinkMapping turns repository-relative paths in generated text into
// public documentation URLs.
var DefaultLinkMapping = map[string]string{
	"/articles/":               "https://learn.microsoft.com/en-us/azure/",
	"articles/":                "https://learn.microsoft.com/en-us/azure/",
	".md":                      "",
	".yml":                     "",
	"/windows-driver-docs-pr/": "https://learn.microsoft.com/en-us/windows-hardware/drivers/",
	"windows-driver-docs-pr/":  "https://learn.microsoft.com/en-us/windows-hardware/drivers/",
	"/docs/":                   "https://learn.microsoft.com/en-us/fabric/",
	"docs/":                    "https://learn.microsoft.com/en-us/fabric/",
}

// LinkRewriter applies a substitution table in a single left-to-right pass.
// At each position the longest matching fragment wins, so "/articles/" is
// rewritten before "articles/" can match inside it.
type LinkRewriter struct {
	r *strings.Replacer
}

// NewLinkRewriter merges overrides on top of DefaultLinkMapping. An override
// with the same fragment replaces the default target.
func NewLinkRewriter(overrides map[string]string) *LinkRewriter {
	table := make(map[string]string, len(DefaultLinkMapping)+len(overrides))
	for k, v := range DefaultLinkMapping {
		table[k] = v
	}
	for k, v := range overrides {
		if k == "" {
			continue
		}
		table[k] = v
	}

	frags := make([]string, 0, len(table))
	for k := range table {
		frags = append(frags, k)
	}
	// strings.Replacer tries old strings in argument order at each position.
	sort.Slice(frags, func(i, j int) bool {
		if len(frags[i]) != len(frags[j]) {
			return len(frags[i]) > len(frags[j])
		}
		return frags[i] < frags[j]
	})

	pairs := make([]string, 0, 2*len(frags))
	for _, k := range frags {
		pairs = append(pairs, k, table[k])
	}
	return &LinkRewriter{r: strings.NewReplacer(pairs...)}
}

// Rewrite returns s with every known fragment replaced.
func (l *LinkRewriter) Rewrite(s string) string {
	if l == nil {
		return s
	}
	return l.r.Replace(s)
}
