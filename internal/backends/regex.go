package backends

import (
	"context"
	"regexp"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/fyrsmithlabs/formextract/internal/extraction"
	"github.com/fyrsmithlabs/formextract/internal/logging"
)

// nameEnd stops a lazily captured name at the next clause.
const nameEnd = `(?:\s+(?:and|my|email|e-mail|phone|number|i|i'm|live|address|at|from)\b|\s*[,.;!?]|$)`

// addressEnd stops a lazily captured address at a sentence end or at the
// start of another field.
const addressEnd = `(?:\.(?:\s|$)|,?\s+(?:and\s+)?(?:my\s+)?(?:email|phone|name)\b|$)`

var (
	namePatterns = []*regexp.Regexp{
		regexp.MustCompile(`my name is ([a-z][a-z\s'-]*?)` + nameEnd),
		regexp.MustCompile(`(?:^|\s)i'm ([a-z][a-z\s'-]*?)` + nameEnd),
		regexp.MustCompile(`(?:^|\s)i am ([a-z][a-z\s'-]*?)` + nameEnd),
		regexp.MustCompile(`(?:^|\s)this is ([a-z][a-z\s'-]*?)` + nameEnd),
		regexp.MustCompile(`\bname[:\s]+([a-z][a-z\s'-]*?)` + nameEnd),
	}

	emailStandard = regexp.MustCompile(`(?i)\b[a-z0-9._%+-]+@[a-z0-9.-]+\.[a-z]{2,}\b`)
	// "john at example.com", after "dot" was folded into "."
	emailSpoken = regexp.MustCompile(`(?i)(?:^|\s)([a-z0-9._%+-]+)\s+at\s+([a-z0-9-]+(?:\.[a-z0-9-]+)*\.[a-z]{2,})(?:[\s,;!?]|\.(?:\s|$)|$)`)
	// "email john at example", where the domain lacks a suffix
	emailSpokenBare = regexp.MustCompile(`(?i)\bemail\s+(?:is\s+)?([a-z0-9._%+-]+)\s+at\s+([a-z0-9-]+)(?:[\s,;!?.]|$)`)
	// "john ad example.com", a common transcription of "at"
	emailMisheard = regexp.MustCompile(`(?i)(?:^|\s)([a-z0-9._%+-]+)\s+ad\s+([a-z0-9-]+)\.([a-z]{2,})\b`)
	spokenDot     = regexp.MustCompile(`(?i)\s+dot\s+`)

	phonePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?:\+?1[-.\s]?)?\(?\b(\d{3})\)?[-.\s]?(\d{3})[-.\s]?(\d{4})\b`),
		regexp.MustCompile(`\b(\d{3})(\d{3})(\d{3})\b`),
	}

	addressPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?:my\s+)?address(?:\s+is)?[:\s]+(\d+[^.]*?)` + addressEnd),
		regexp.MustCompile(`(?:^|\.)\s*address[:\s]+([^.]+?)` + addressEnd),
		regexp.MustCompile(`live at\s+(\d+[^.]*?)` + addressEnd),
		regexp.MustCompile(`i live at\s+([^.]+?)` + addressEnd),
		regexp.MustCompile(`addresses\s+(\d+[^.]*?)` + addressEnd),
	}
	notAnAddress = regexp.MustCompile(`^[a-z\-]+\s*@|^[a-z\-]+\s+at\s+[a-z]`)

	spokenNumbers = []struct {
		re    *regexp.Regexp
		digit string
	}{
		{regexp.MustCompile(`\bzero\b`), "0"},
		{regexp.MustCompile(`\bone\b`), "1"},
		{regexp.MustCompile(`\btwo\b`), "2"},
		{regexp.MustCompile(`\bthree\b`), "3"},
		{regexp.MustCompile(`\bfour\b`), "4"},
		{regexp.MustCompile(`\bfive\b`), "5"},
		{regexp.MustCompile(`\bsix\b`), "6"},
		{regexp.MustCompile(`\bseven\b`), "7"},
		{regexp.MustCompile(`\beight\b`), "8"},
		{regexp.MustCompile(`\bnine\b`), "9"},
		{regexp.MustCompile(`\bten\b`), "10"},
		{regexp.MustCompile(`\beleven\b`), "11"},
		{regexp.MustCompile(`\btwelve\b`), "12"},
	}
	whitespace = regexp.MustCompile(`\s+`)
)

// Regex extracts name, email, phone and address with fixed patterns that
// also cover common speech-to-text renderings. It is always available.
type Regex struct {
	logger *logging.Logger
}

var _ extraction.Extractor = (*Regex)(nil)

// NewRegex creates the backend. Only WithLogger is honoured.
func NewRegex(opts ...Option) *Regex {
	o := options{logger: logging.Nop()}
	for _, opt := range opts {
		opt(&o)
	}
	return &Regex{logger: o.logger.Named("regex")}
}

// ID implements extraction.Extractor.
func (r *Regex) ID() extraction.BackendID { return extraction.BackendRegex }

// Available implements extraction.Extractor.
func (r *Regex) Available(context.Context) bool { return true }

// Extract implements extraction.Extractor. The hint is ignored; every
// pattern runs.
func (r *Regex) Extract(ctx context.Context, text string, _ extraction.Hint) (extraction.Fields, error) {
	fields := make(extraction.Fields, 4)
	lower := strings.ToLower(text)

	if v, ok := extractName(lower); ok {
		fields["name"] = v
	}
	if v, ok := extractEmail(text); ok {
		fields["email"] = v
	}
	if v, ok := extractPhone(text); ok {
		fields["phone"] = v
	}
	if v, ok := extractAddress(lower); ok {
		fields["address"] = v
	}

	r.logger.Trace(ctx, "regex extraction complete", zap.Strings("fields", fieldNames(fields)))
	return fields, nil
}

func extractName(lower string) (string, bool) {
	for _, re := range namePatterns {
		if m := re.FindStringSubmatch(lower); m != nil {
			if name := strings.TrimSpace(m[1]); name != "" {
				return titleCase(name), true
			}
		}
	}
	return "", false
}

func extractEmail(text string) (string, bool) {
	if m := emailStandard.FindString(text); m != "" {
		return strings.ToLower(m), true
	}

	folded := spokenDot.ReplaceAllString(text, ".")
	if m := emailSpoken.FindStringSubmatch(folded); m != nil {
		return strings.ToLower(m[1] + "@" + m[2]), true
	}
	if m := emailSpokenBare.FindStringSubmatch(folded); m != nil {
		return strings.ToLower(m[1] + "@" + m[2] + ".com"), true
	}
	if m := emailMisheard.FindStringSubmatch(folded); m != nil {
		return strings.ToLower(m[1] + "@" + m[2] + "." + m[3]), true
	}
	return "", false
}

// extractPhone returns the first phone number formatted as 555-123-4567.
// Nine-digit numbers keep the original 3-3-3 grouping.
func extractPhone(text string) (string, bool) {
	for _, re := range phonePatterns {
		if m := re.FindStringSubmatch(text); m != nil {
			return m[1] + "-" + m[2] + "-" + m[3], true
		}
	}
	return "", false
}

func extractAddress(lower string) (string, bool) {
	text := lower
	for _, n := range spokenNumbers {
		text = n.re.ReplaceAllString(text, n.digit)
	}
	text = whitespace.ReplaceAllString(text, " ")

	for _, re := range addressPatterns {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		value := strings.TrimSpace(strings.TrimRight(m[1], ",; "))
		if value == "" || notAnAddress.MatchString(value) {
			continue
		}
		return titleCase(value), true
	}
	return "", false
}

// titleCase builds a fresh Caser per call; Casers are not safe for
// concurrent use.
func titleCase(s string) string {
	return cases.Title(language.English).String(s)
}

func fieldNames(f extraction.Fields) []string {
	names := make([]string, 0, len(f))
	for k := range f {
		names = append(names, k)
	}
	return names
}
