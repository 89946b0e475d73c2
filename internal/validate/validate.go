// Package validate normalizes contact form values.
//
// Validators plug into the pipeline through pipeline.Validator. Fields
// without a registered rule pass through trimmed.
package validate

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/fyrsmithlabs/formextract/internal/logging"
)

// Rule normalizes one value. ok is false when the value is rejected.
type Rule func(value string) (normalized string, ok bool)

var (
	emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	nonDigit     = regexp.MustCompile(`\D`)
	namePattern  = regexp.MustCompile(`^[a-zA-Z\s\-']+$`)
	hasDigit     = regexp.MustCompile(`\d`)
	hasLetter    = regexp.MustCompile(`[a-zA-Z]`)
)

// Email lowercases the address and checks its shape.
func Email(value string) (string, bool) {
	cleaned := strings.ToLower(strings.TrimSpace(value))
	if !emailPattern.MatchString(cleaned) {
		return "", false
	}
	return cleaned, true
}

// Phone accepts 10 to 15 digits. Ten digits are formatted as a US number,
// longer ones as +<digits>.
func Phone(value string) (string, bool) {
	digits := nonDigit.ReplaceAllString(value, "")
	switch n := len(digits); {
	case n == 10:
		return fmt.Sprintf("(%s) %s-%s", digits[:3], digits[3:6], digits[6:]), true
	case n > 10 && n <= 15:
		return "+" + digits, true
	}
	return "", false
}

// Name collapses whitespace and title-cases letters, spaces, hyphens and
// apostrophes.
func Name(value string) (string, bool) {
	cleaned := squash(value)
	if len(cleaned) < 2 || !namePattern.MatchString(cleaned) {
		return "", false
	}
	return title(cleaned), true
}

// Address needs at least five characters with a digit and a letter.
func Address(value string) (string, bool) {
	cleaned := squash(value)
	if len(cleaned) < 5 || !hasDigit.MatchString(cleaned) || !hasLetter.MatchString(cleaned) {
		return "", false
	}
	return title(cleaned), true
}

func squash(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// title builds a Caser per call; Casers are not safe for concurrent use.
func title(s string) string {
	return cases.Title(language.English).String(s)
}

// Set applies a rule per field.
type Set struct {
	rules  map[string]Rule
	logger *logging.Logger
}

// NewContactSet returns rules for name, email, phone and address.
func NewContactSet(logger *logging.Logger) *Set {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Set{
		rules: map[string]Rule{
			"name":    Name,
			"email":   Email,
			"phone":   Phone,
			"address": Address,
		},
		logger: logger,
	}
}

// With registers or replaces the rule for field.
func (s *Set) With(field string, r Rule) *Set {
	s.rules[field] = r
	return s
}

// Validate implements pipeline.Validator.
func (s *Set) Validate(field, value string) (string, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", false
	}
	rule, ok := s.rules[field]
	if !ok {
		return value, true
	}
	normalized, ok := rule(value)
	if !ok {
		s.logger.Warn(context.Background(), "field value failed validation",
			zap.String("field", field), logging.FieldValue(field, value))
	}
	return normalized, ok
}
