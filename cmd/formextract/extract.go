package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/formextract/internal/pipeline"
)

func newExtractCmd() *cobra.Command {
	var compact bool

	cmd := &cobra.Command{
		Use:   "extract [text...]",
		Short: "Extract fields from text or stdin",
		Long: `Run the pipeline locally. Arguments are joined into one input. With no
arguments, or "-", each line of stdin is one turn of a conversation and the
form state carries from line to line. One JSON result is printed per turn.

Examples:
  formextract extract "my name is John Doe and my email is john@example.com"
  cat transcript.txt | formextract extract -`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := newApp(ctx, cfg, true)
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			var in io.Reader
			if len(args) == 0 || (len(args) == 1 && args[0] == "-") {
				in = cmd.InOrStdin()
			} else {
				in = strings.NewReader(strings.Join(args, " "))
			}
			return runExtract(ctx, a.pipeline, in, cmd.OutOrStdout(), compact)
		},
	}
	cmd.Flags().BoolVar(&compact, "compact", false, "print one JSON object per line")
	return cmd
}

// processor is the part of the pipeline runExtract needs.
type processor interface {
	Process(ctx context.Context, text string, state pipeline.FieldState) (*pipeline.Result, error)
	Config() pipeline.Config
}

// runExtract processes each non-blank line of in, carrying form state
// forward, and writes one JSON result per line.
func runExtract(ctx context.Context, p processor, in io.Reader, out io.Writer, compact bool) error {
	enc := json.NewEncoder(out)
	if !compact {
		enc.SetIndent("", "  ")
	}

	// A line longer than this cannot fit MaxInputLength characters.
	maxInput := p.Config().MaxInputLength
	maxLine := utf8.UTFMax*maxInput + 1

	var state pipeline.FieldState
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, min(maxLine, 64*1024)), maxLine)
	lineNo, turns := 0, 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		turns++

		res, err := p.Process(ctx, line, state)
		if err != nil {
			return fmt.Errorf("line %d: %w", lineNo, err)
		}
		state = res.State()
		if err := enc.Encode(res); err != nil {
			return fmt.Errorf("failed to write result: %w", err)
		}
	}
	if err := scanner.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			return fmt.Errorf("line %d: %w: more than %d characters", lineNo+1, pipeline.ErrInputTooLong, maxInput)
		}
		return fmt.Errorf("failed to read input: %w", err)
	}
	if turns == 0 {
		return errors.New("no input to extract from")
	}
	return nil
}
