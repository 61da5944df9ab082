// Package snippet implements the suffix-bucket index used to match snippet
// trigger keys against a live-typed character stream.
package snippet

import (
	"sort"
	"strings"
	"unicode/utf8"
)

// MinKeyLen is the shortest indexable trigger key, in characters.
const MinKeyLen = 2

// Entry is one registered snippet trigger.
type Entry struct {
	TriggerKey    string `json:"trigger_key"`
	FilePath      string `json:"path"`
	IsPostfix     bool   `json:"is_postfix"`
	IsTextSnippet bool   `json:"is_text_snippet"`
}

// BucketKey returns the bucket a trigger key is indexed under: the key itself
// for 2-character keys, its last 3 characters otherwise. Keys shorter than
// MinKeyLen are not indexable.
func BucketKey(key string) (string, bool) {
	n := utf8.RuneCountInString(key)
	switch {
	case n < MinKeyLen:
		return "", false
	case n == MinKeyLen:
		return key, true
	default:
		return lastRunes(key, 3), true
	}
}

// PrefixIndex maps suffix buckets to the trigger keys sharing them.
//
// Lookup cost depends only on bucket size, not on the total number of keys.
type PrefixIndex struct {
	buckets map[string][]string
	maxLen  int
}

// NewPrefixIndex returns an empty index.
func NewPrefixIndex() *PrefixIndex {
	return &PrefixIndex{buckets: make(map[string][]string)}
}

// Rebuild replaces the index contents with keys. Unindexable keys are
// skipped.
func (p *PrefixIndex) Rebuild(keys []string) {
	buckets := make(map[string][]string, len(keys))
	maxLen := 0
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if _, dup := seen[k]; dup {
			continue
		}
		b, ok := BucketKey(k)
		if !ok {
			continue
		}
		seen[k] = struct{}{}
		buckets[b] = append(buckets[b], k)
		if n := utf8.RuneCountInString(k); n > maxLen {
			maxLen = n
		}
	}
	p.buckets = buckets
	p.maxLen = maxLen
}

// MaxKeyLen returns the length in characters of the longest indexed key.
func (p *PrefixIndex) MaxKeyLen() int {
	return p.maxLen
}

// Len returns the number of indexed keys.
func (p *PrefixIndex) Len() int {
	n := 0
	for _, ks := range p.buckets {
		n += len(ks)
	}
	return n
}

// Lookup returns every indexed key that tail ends with, shortest first. The
// caller supplies at least as many trailing characters as the longest key it
// wants to be able to match. Tails shorter than MinKeyLen match nothing.
func (p *PrefixIndex) Lookup(tail string) []string {
	n := utf8.RuneCountInString(tail)
	if n < MinKeyLen {
		return nil
	}

	var out []string
	collect := func(bucket string) {
		for _, k := range p.buckets[bucket] {
			if strings.HasSuffix(tail, k) {
				out = append(out, k)
			}
		}
	}
	collect(lastRunes(tail, 2))
	if n >= 3 {
		collect(lastRunes(tail, 3))
	}

	sort.Slice(out, func(i, j int) bool {
		if len(out[i]) != len(out[j]) {
			return len(out[i]) < len(out[j])
		}
		return out[i] < out[j]
	})
	return out
}

func lastRunes(s string, n int) string {
	i := len(s)
	for ; n > 0 && i > 0; n-- {
		_, size := utf8.DecodeLastRuneInString(s[:i])
		i -= size
	}
	return s[i:]
}
