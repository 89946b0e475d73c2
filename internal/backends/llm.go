package backends

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/kaptinlin/jsonrepair"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/formextract/internal/extraction"
)

// systemPrompt instructs chat models to answer with bare JSON.
const systemPrompt = "You are a helpful assistant that extracts structured information " +
	"from natural language and returns it as valid JSON. Only return the JSON object, " +
	"no additional text or formatting."

// defaultPromptFields are requested when the hint names no missing fields.
var defaultPromptFields = []string{"name", "email", "phone", "address"}

var fieldDescriptions = map[string]string{
	"name":    "full name (string)",
	"email":   "email address (string)",
	"phone":   "phone number (string)",
	"address": "full address (string)",
}

// errEmptyCompletion is returned when a model answers with no content.
var errEmptyCompletion = errors.New("empty response from model")

// buildPrompt asks for the hint's missing fields, or the default set.
func buildPrompt(text string, hint extraction.Hint) string {
	fields := hint.Missing
	if len(fields) == 0 {
		fields = defaultPromptFields
	}

	var b strings.Builder
	b.WriteString("Extract the following information from the user's input and return it as a JSON object:\n")
	for _, f := range fields {
		desc, ok := fieldDescriptions[f]
		if !ok {
			desc = "string"
		}
		fmt.Fprintf(&b, "- %s: %s\n", f, desc)
	}
	if len(hint.Existing) > 0 {
		known := make([]string, 0, len(hint.Existing))
		for k := range hint.Existing {
			known = append(known, k)
		}
		sort.Strings(known)
		fmt.Fprintf(&b, "\nAlready collected (do not repeat unless corrected): %s\n", strings.Join(known, ", "))
	}
	fmt.Fprintf(&b, "\nUser input: %q\n\n", text)
	b.WriteString("Return a JSON object with only the fields that are mentioned. ")
	b.WriteString("If a field is not mentioned, do not include it in the response.\n\n")
	b.WriteString(`Example response format: {"name": "John Doe", "email": "john@example.com"}`)
	return b.String()
}

// parseFields decodes a model answer into fields. Markdown fences are
// stripped and malformed JSON is repaired before giving up. Non-string
// scalars are stringified; nulls, booleans and nested values are dropped.
func parseFields(raw string) (extraction.Fields, error) {
	raw = stripFences(raw)
	if raw == "" {
		return nil, errEmptyCompletion
	}

	var decoded map[string]any
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		var syntaxErr *json.SyntaxError
		if !errors.As(err, &syntaxErr) {
			return nil, fmt.Errorf("decoding model output: %w", err)
		}
		fixed, rerr := jsonrepair.JSONRepair(raw)
		if rerr != nil {
			return nil, fmt.Errorf("repairing model output: %w", rerr)
		}
		if err := json.Unmarshal([]byte(fixed), &decoded); err != nil {
			return nil, fmt.Errorf("decoding repaired model output: %w", err)
		}
	}

	fields := make(extraction.Fields, len(decoded))
	for k, v := range decoded {
		key := strings.ToLower(strings.TrimSpace(k))
		switch val := v.(type) {
		case string:
			fields[key] = val
		case float64:
			fields[key] = strconv.FormatFloat(val, 'f', -1, 64)
		}
	}
	return fields.Clean(), nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// newLimiter returns nil when limiting is disabled.
func newLimiter(perMinute float64) *rate.Limiter {
	if perMinute < 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(perMinute/60), defaultBurst)
}
