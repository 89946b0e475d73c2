package main

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/formextract/internal/backends"
	"github.com/fyrsmithlabs/formextract/internal/extraction"
	"github.com/fyrsmithlabs/formextract/internal/patterncache"
	"github.com/fyrsmithlabs/formextract/internal/pipeline"
)

func newTestPipeline(t *testing.T) *pipeline.Pipeline {
	t.Helper()
	cfg := patterncache.NewDefaultConfig()
	cfg.SyncWrites = true
	cache, err := patterncache.New(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cache.Close(context.Background()) })

	chain, err := extraction.NewChain([]extraction.Extractor{backends.NewRegex()})
	require.NoError(t, err)
	p, err := pipeline.New(pipeline.NewDefaultConfig(), chain, cache)
	require.NoError(t, err)
	return p
}

func TestRunExtract_CarriesState(t *testing.T) {
	in := strings.NewReader("my name is John Doe\n\nmy email is john@example.com\n")
	var out bytes.Buffer

	require.NoError(t, runExtract(context.Background(), newTestPipeline(t), in, &out, true))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)

	var last struct {
		Fields        map[string]string `json:"fields"`
		MissingFields []string          `json:"missing_fields"`
	}
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &last))
	assert.Equal(t, "John Doe", last.Fields["name"])
	assert.Equal(t, "john@example.com", last.Fields["email"])
	assert.Equal(t, []string{"phone", "address"}, last.MissingFields)
}

func TestRunExtract_NoInput(t *testing.T) {
	err := runExtract(context.Background(), newTestPipeline(t), strings.NewReader("\n  \n"), &bytes.Buffer{}, false)
	assert.ErrorContains(t, err, "no input")
}

func TestRunExtract_TooLong(t *testing.T) {
	in := strings.NewReader("hello\n" + strings.Repeat("a", 2001) + "\n")
	err := runExtract(context.Background(), newTestPipeline(t), in, &bytes.Buffer{}, false)
	assert.ErrorIs(t, err, pipeline.ErrInputTooLong)
	assert.ErrorContains(t, err, "line 2")
}

func TestRunExtract_LineBeyondScannerBuffer(t *testing.T) {
	// Far past both MaxInputLength and bufio's default 64 KiB token.
	in := strings.NewReader("my name is John Doe\n\n" + strings.Repeat("a", 100*1024) + "\n")
	var out bytes.Buffer
	err := runExtract(context.Background(), newTestPipeline(t), in, &out, true)
	assert.ErrorIs(t, err, pipeline.ErrInputTooLong)
	assert.ErrorContains(t, err, "line 3")
	assert.ErrorContains(t, err, "2000 characters")
	assert.Len(t, strings.Split(strings.TrimSpace(out.String()), "\n"), 1)
}

func TestRunExtract_MultibyteLineWithinLimit(t *testing.T) {
	in := strings.NewReader("my name is José Núñez " + strings.Repeat("é", 1500) + "\n")
	err := runExtract(context.Background(), newTestPipeline(t), in, &bytes.Buffer{}, true)
	assert.NoError(t, err)
}

func TestVersionCmd(t *testing.T) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})

	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "Version:    dev")
}

func TestRootCmd_Subcommands(t *testing.T) {
	root := newRootCmd()
	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"serve", "extract", "cache", "backends", "version"} {
		assert.True(t, names[want], want)
	}
}
