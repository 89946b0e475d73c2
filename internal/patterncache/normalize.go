package patterncache

import (
	"crypto/md5"
	"encoding/hex"
	"regexp"
	"sort"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	bucketPrefixRunes = 50
	bucketKeyLen      = 8
	entryKeyLen       = 12
	fieldWindowRunes  = 30
	bucketMemoSize    = 128
)

var placeholderRE = regexp.MustCompile(`\{[^}]+\}`)

// Normalize lower-cases text, collapses whitespace runs to one space and
// trims the ends.
func Normalize(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}

func md5Hex(s string, n int) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])[:n]
}

// entryKey hashes the full normalized text.
func entryKey(normalized string) string {
	return md5Hex(normalized, entryKeyLen)
}

// bucketHasher computes bucket keys and memoises them in a bounded LRU.
type bucketHasher struct {
	memo *lru.Cache[string, string]
}

func newBucketHasher() *bucketHasher {
	memo, err := lru.New[string, string](bucketMemoSize)
	if err != nil {
		// lru.New only fails for a non-positive size.
		panic(err)
	}
	return &bucketHasher{memo: memo}
}

// key returns the bucket key of already-normalized text.
func (h *bucketHasher) key(normalized string) string {
	prefix := normalized
	if r := []rune(normalized); len(r) > bucketPrefixRunes {
		prefix = string(r[:bucketPrefixRunes])
	}
	if k, ok := h.memo.Get(prefix); ok {
		return k
	}
	k := md5Hex(prefix, bucketKeyLen)
	h.memo.Add(prefix, k)
	return k
}

// buildTemplate replaces each field value in normalized text with {field}.
// Longer values are replaced first so that a short value cannot clobber
// part of a longer one; ties go by field name. Text already turned into a
// placeholder is never rewritten.
func buildTemplate(normalized string, fields map[string]string) string {
	type fv struct{ name, value string }
	ordered := make([]fv, 0, len(fields))
	for name, value := range fields {
		if v := Normalize(value); v != "" {
			ordered = append(ordered, fv{name, v})
		}
	}
	sort.Slice(ordered, func(i, j int) bool {
		if len(ordered[i].value) != len(ordered[j].value) {
			return len(ordered[i].value) > len(ordered[j].value)
		}
		return ordered[i].name < ordered[j].name
	})

	template := normalized
	for _, f := range ordered {
		re := regexp.MustCompile(`(?i)` + regexp.QuoteMeta(f.value))
		template = replaceOutsidePlaceholders(template, re, "{"+f.name+"}")
	}
	return template
}

func replaceOutsidePlaceholders(s string, re *regexp.Regexp, repl string) string {
	locs := placeholderRE.FindAllStringIndex(s, -1)
	if len(locs) == 0 {
		return re.ReplaceAllLiteralString(s, repl)
	}
	var b strings.Builder
	prev := 0
	for _, loc := range locs {
		b.WriteString(re.ReplaceAllLiteralString(s[prev:loc[0]], repl))
		b.WriteString(s[loc[0]:loc[1]])
		prev = loc[1]
	}
	b.WriteString(re.ReplaceAllLiteralString(s[prev:], repl))
	return b.String()
}

// fieldWindow returns the text within fieldWindowRunes of value's first
// occurrence, with value replaced by {field}. ok is false when value does
// not occur in normalized.
func fieldWindow(normalized, field, value string) (string, bool) {
	value = Normalize(value)
	if value == "" {
		return "", false
	}
	idx := strings.Index(normalized, value)
	if idx < 0 {
		return "", false
	}

	runes := []rune(normalized)
	startRune := len([]rune(normalized[:idx]))
	endRune := startRune + len([]rune(value))

	from := max(0, startRune-fieldWindowRunes)
	to := min(len(runes), endRune+fieldWindowRunes)
	window := string(runes[from:to])
	return strings.ReplaceAll(window, value, "{"+field+"}"), true
}

// structurallyEqual reports whether two patterns match once placeholders
// are removed.
func structurallyEqual(a, b string) bool {
	return placeholderRE.ReplaceAllString(a, "") == placeholderRE.ReplaceAllString(b, "")
}

// jaccard returns |A∩B| / |A∪B| over the whitespace-separated words of a
// and b. Two empty inputs score 0.
func jaccard(a, b string) float64 {
	wa := wordSet(a)
	wb := wordSet(b)
	if len(wa) == 0 && len(wb) == 0 {
		return 0
	}
	inter := 0
	for w := range wa {
		if wb[w] {
			inter++
		}
	}
	union := len(wa) + len(wb) - inter
	return float64(inter) / float64(union)
}

func wordSet(s string) map[string]bool {
	words := strings.Fields(s)
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[w] = true
	}
	return set
}
