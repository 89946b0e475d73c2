package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/formextract/internal/logging"
)

func TestRules(t *testing.T) {
	tests := []struct {
		name   string
		rule   Rule
		input  string
		want   string
		wantOK bool
	}{
		{"email lowercased", Email, " John.Doe@Example.COM ", "john.doe@example.com", true},
		{"email without tld", Email, "john@example", "", false},
		{"us phone", Phone, "555.123.4567", "(555) 123-4567", true},
		{"international phone", Phone, "+44 20 7946 0958", "+442079460958", true},
		{"short phone", Phone, "555-1234", "", false},
		{"long phone", Phone, "1234567890123456", "", false},
		{"name title cased", Name, "  jOHN   doe ", "John Doe", true},
		{"hyphenated name", Name, "mary-jane watson", "Mary-Jane Watson", true},
		{"name with digits", Name, "R2 D2", "", false},
		{"single letter name", Name, "j", "", false},
		{"address", Address, "123  main street", "123 Main Street", true},
		{"address without number", Address, "main street", "", false},
		{"address too short", Address, "1 a", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.rule(tt.input)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSet_Validate(t *testing.T) {
	tl := logging.NewTestLogger()
	s := NewContactSet(tl.Logger)

	got, ok := s.Validate("email", "JANE@EXAMPLE.COM")
	assert.True(t, ok)
	assert.Equal(t, "jane@example.com", got)

	got, ok = s.Validate("company", "  Acme  ")
	assert.True(t, ok)
	assert.Equal(t, "Acme", got)

	_, ok = s.Validate("name", "   ")
	assert.False(t, ok)

	_, ok = s.Validate("phone", "12")
	assert.False(t, ok)
	tl.AssertLogged(t, zapcore.WarnLevel, "field value failed validation")
	tl.AssertField(t, "field value failed validation", "field", "phone")
}

func TestSet_With(t *testing.T) {
	s := NewContactSet(nil).With("zip", func(v string) (string, bool) {
		return v, len(v) == 5
	})

	_, ok := s.Validate("zip", "1234")
	assert.False(t, ok)
	got, ok := s.Validate("zip", "12345")
	assert.True(t, ok)
	assert.Equal(t, "12345", got)
}
