package core

import (
	"sort"
	"strings"
	"time"
)

// CleanString trims all leading and trailing whitespace in `s` and optionally lowers it.
func CleanString(s string, lower ...bool) string {
	s = strings.TrimSpace(s)
	if len(lower) > 0 && lower[0] {
		return strings.ToLower(s)
	}
	return s
}

// Date truncates t to its calendar date (UTC midnight).
func Date(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// StringSet is an unordered set of strings.
type StringSet map[string]struct{}

func NewStringSet(vals ...string) StringSet {
	set := make(StringSet, len(vals))
	set.Add(vals...)
	return set
}

func (s StringSet) Add(vals ...string) {
	for _, v := range vals {
		s[v] = struct{}{}
	}
}

func (s StringSet) Has(v string) bool {
	_, ok := s[v]
	return ok
}

// Sorted returns the members in ascending order, never nil.
func (s StringSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for v := range s {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// Unique returns vals without duplicates and empty strings, keeping the first occurrence order.
func Unique(vals []string) []string {
	seen := make(StringSet, len(vals))
	out := make([]string, 0, len(vals))
	for _, v := range vals {
		if v == "" || seen.Has(v) {
			continue
		}
		seen.Add(v)
		out = append(out, v)
	}
	return out
}
