package engine

import (
	"fmt"
	"sort"
	"strings"
)

// Category is the canonical name of one selectable work location.
type Category string

const (
	Remote Category = "Remote"
	Office Category = "Office"
)

// WorkItem is one unit of batch work: a day key plus the category to book for it.
// Only the ID is carried across steps; remote handles are always looked up again.
type WorkItem struct {
	ID       string   `json:"id"`
	Category Category `json:"category"`
}

// AliasSet maps each canonical category to its accepted display labels, in priority order.
type AliasSet map[Category][]string

// DefaultAliases returns the label variants the portal is known to render.
func DefaultAliases() AliasSet {
	return AliasSet{
		Remote: {"Remote", "Homeoffice", "Home Office", "Home-Office", "Mobiles Arbeiten", "Mobile Arbeit"},
		Office: {"Office", "Büro", "Office Stuttgart", "Office Nürnberg", "Vor Ort", "Onsite"},
	}
}

// Validate rejects categories without usable aliases.
func (a AliasSet) Validate() error {
	if len(a) == 0 {
		return fmt.Errorf("no categories configured")
	}
	for _, cat := range a.Categories() {
		usable := 0
		for _, label := range a[cat] {
			if normalize(label) != "" {
				usable++
			}
		}
		if usable == 0 {
			return fmt.Errorf("category %q has no aliases", cat)
		}
	}
	return nil
}

// Labels returns the aliases for cat. Lookup is case-insensitive on the category name.
func (a AliasSet) Labels(cat Category) ([]string, bool) {
	if labels, ok := a[cat]; ok {
		return labels, true
	}
	for c, labels := range a {
		if strings.EqualFold(string(c), string(cat)) {
			return labels, true
		}
	}
	return nil, false
}

// Categories lists the configured categories in stable order.
func (a AliasSet) Categories() []Category {
	out := make([]Category, 0, len(a))
	for c := range a {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Match reports whether label belongs to cat: an exact normalized match, or a
// substring match unless label is exactly an alias of another category.
func (a AliasSet) Match(cat Category, label string) bool {
	return a.kind(cat, label) != matchNone
}

// kind returns the best match of label against the aliases of cat.
func (a AliasSet) kind(cat Category, label string) matchKind {
	labels, ok := a.Labels(cat)
	if !ok {
		return matchNone
	}
	best := matchNone
	for _, alias := range labels {
		if k := matchLabel(alias, label); k < best {
			best = k
		}
	}
	if best == matchSubstring && a.claimedElsewhere(cat, label) {
		return matchNone
	}
	return best
}

// claimedElsewhere reports whether label is exactly an alias of a category other than cat.
func (a AliasSet) claimedElsewhere(cat Category, label string) bool {
	for c, labels := range a {
		if strings.EqualFold(string(c), string(cat)) {
			continue
		}
		for _, alias := range labels {
			if matchLabel(alias, label) == matchExact {
				return true
			}
		}
	}
	return false
}

// normalize lower-cases and collapses whitespace.
func normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// matchKind orders match quality; lower is better.
type matchKind int

const (
	matchExact matchKind = iota
	matchSubstring
	matchNone
)

func matchLabel(alias, label string) matchKind {
	a, l := normalize(alias), normalize(label)
	switch {
	case a == "" || l == "":
		return matchNone
	case a == l:
		return matchExact
	case strings.Contains(l, a):
		return matchSubstring
	}
	return matchNone
}

// Vocabulary is a list of case-insensitive words that identify a UI concept
// (the project trigger, the apply button, a cancel control).
type Vocabulary []string

// Matches reports whether s contains any of the words.
func (v Vocabulary) Matches(s string) bool {
	n := normalize(s)
	if n == "" {
		return false
	}
	for _, w := range v {
		if w = normalize(w); w != "" && strings.Contains(n, w) {
			return true
		}
	}
	return false
}
