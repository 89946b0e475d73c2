package patterncache

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	assert.Equal(t, "my name is john", Normalize("  My   NAME\tis\n john "))
	assert.Equal(t, "", Normalize(" \t\n"))
}

func TestEntryAndBucketKeys(t *testing.T) {
	h := newBucketHasher()

	k := entryKey("my email is a@b.co")
	assert.Len(t, k, entryKeyLen)
	assert.Equal(t, k, entryKey("my email is a@b.co"))

	long := strings.Repeat("a", 50)
	b1 := h.key(long + " first tail")
	b2 := h.key(long + " other tail")
	assert.Len(t, b1, bucketKeyLen)
	assert.Equal(t, b1, b2, "keys only depend on the first 50 characters")
	assert.NotEqual(t, b1, h.key("something else"))
	assert.Equal(t, 2, h.memo.Len())
}

func TestBucketHasher_Bounded(t *testing.T) {
	h := newBucketHasher()
	for i := 0; i < bucketMemoSize*2; i++ {
		h.key(fmt.Sprintf("input number %d", i))
	}
	assert.Equal(t, bucketMemoSize, h.memo.Len())
}

func TestBuildTemplate(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		fields map[string]string
		want   string
	}{
		{
			name:   "name and email",
			text:   "my name is John Doe and my email is john@example.com",
			fields: map[string]string{"name": "John Doe", "email": "john@example.com"},
			want:   "my name is {name} and my email is {email}",
		},
		{
			name:   "regex metacharacters are literal",
			text:   "call (555) 123-4567 now",
			fields: map[string]string{"phone": "(555) 123-4567"},
			want:   "call {phone} now",
		},
		{
			name:   "longest value first",
			text:   "jo lives at 12 jo street",
			fields: map[string]string{"name": "jo", "address": "12 jo street"},
			want:   "{name} lives at {address}",
		},
		{
			name:   "placeholders are not rewritten",
			text:   "a@mail.com mail",
			fields: map[string]string{"email": "a@mail.com", "name": "mail"},
			want:   "{email} {name}",
		},
		{
			name:   "value not present",
			text:   "hello there",
			fields: map[string]string{"name": "Jane"},
			want:   "hello there",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, buildTemplate(Normalize(tt.text), tt.fields))
		})
	}
}

func TestFieldWindow(t *testing.T) {
	got, ok := fieldWindow("please call me at 555-1234 tomorrow", "phone", "555-1234")
	assert.True(t, ok)
	assert.Equal(t, "please call me at {phone} tomorrow", got)

	text := strings.Repeat("a", 40) + " jane@x.io " + strings.Repeat("b", 40)
	got, ok = fieldWindow(text, "email", "Jane@X.io")
	assert.True(t, ok)
	assert.Equal(t, strings.Repeat("a", 29)+" {email} "+strings.Repeat("b", 29), got)

	_, ok = fieldWindow("nothing here", "email", "a@b.co")
	assert.False(t, ok)
}

func TestStructurallyEqual(t *testing.T) {
	assert.True(t, structurallyEqual("my name is {name}", "my name is {name}"))
	assert.True(t, structurallyEqual("call {phone} now", "call {number} now"))
	assert.False(t, structurallyEqual("call {phone} now", "call {phone} later"))
}

func TestJaccard(t *testing.T) {
	assert.Equal(t, 1.0, jaccard("a b c", "c b a"))
	assert.Equal(t, 0.0, jaccard("a b", "c d"))
	assert.InDelta(t, 0.5, jaccard("a b c", "b c d"), 1e-9)
	assert.Equal(t, 0.0, jaccard("", ""))
}
