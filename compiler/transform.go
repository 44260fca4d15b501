package compiler

import (
	"bytes"
	"context"
	"errors"
	"strings"

	"github.com/AltoxaM/devrun/internal/script"
	"github.com/tdewolff/minify/v2"
	"github.com/tdewolff/minify/v2/css"
)

// A Transform is one pipeline stage: it takes a source's current text and
// returns the next. Transforms must be pure functions of their arguments so
// that equal inputs build byte-identical assets.
type Transform func(ctx context.Context, src Source, in []byte, opts Options) ([]byte, error)

// DefaultCommand runs Dart Sass on stdin. The Sass stage sets
//
//   - DEVRUN_STYLE to the output style,
//   - DEVRUN_SYNTAX to "--indented" for indented-syntax sources, and
//   - DEVRUN_DIR to the source's directory, so imports resolve,
//
// so custom commands can use the same variables.
const DefaultCommand = `sass --stdin --no-source-map --style="$DEVRUN_STYLE" $DEVRUN_SYNTAX --load-path="$DEVRUN_DIR"`

// Pipeline returns the default transforms for opts, in order.
func Pipeline(command string, opts Options) []Transform {
	pipeline := []Transform{Sass(command)}
	if opts.VendorPrefix {
		pipeline = append(pipeline, Prefix)
	}
	if opts.Minify {
		pipeline = append(pipeline, Minify)
	}
	return pipeline
}

// Sass returns a transform which pipes the source through a shell command.
// Plain CSS sources pass through untouched. Whatever the command writes to
// stderr becomes the error message when it fails.
func Sass(command string) Transform {
	s := script.New("", nil, command)
	return func(ctx context.Context, src Source, in []byte, opts Options) ([]byte, error) {
		if src.Syntax == "css" {
			return in, nil
		}

		style := opts.OutputStyle
		if style == "" {
			style = Expanded
		}
		syntax := ""
		if src.Syntax == "sass" {
			syntax = "--indented"
		}

		var stdout, stderr bytes.Buffer
		err := s.Exec(ctx, script.Streams{
			Stdin:  bytes.NewReader(in),
			Stdout: &stdout,
			Stderr: &stderr,
			Env: map[string]string{
				"DEVRUN_STYLE":  style,
				"DEVRUN_SYNTAX": syntax,
				"DEVRUN_DIR":    src.Dir,
			},
		})
		if err != nil {
			msg := strings.TrimSpace(stderr.String())
			var exit *script.ExitError
			if msg == "" || !errors.As(err, &exit) {
				msg = err.Error()
			}
			return nil, &CompileError{File: src.Path, Message: msg, Err: err}
		}
		return stdout.Bytes(), nil
	}
}

var minifier = func() *minify.M {
	m := minify.New()
	m.AddFunc("text/css", css.Minify)
	return m
}()

// Minify removes whitespace, comments and redundant syntax.
func Minify(_ context.Context, src Source, in []byte, _ Options) ([]byte, error) {
	out, err := minifier.Bytes("text/css", in)
	if err != nil {
		return nil, &CompileError{File: src.Path, Message: "minify: " + err.Error(), Err: err}
	}
	return out, nil
}
