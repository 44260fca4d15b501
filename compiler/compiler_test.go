package compiler_test

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/AltoxaM/devrun/compiler"
	"github.com/sergi/go-diff/diffmatchpatch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSass echoes its input, and fails like Sass does on "@error".
const fakeSass = `input=$(cat); case "$input" in *@error*) echo "Error: syntax error" >&2; exit 65;; esac; printf '%s' "$input"`

var minified = compiler.Options{OutputStyle: compiler.Compressed, RenameSuffix: ".min"}

func project(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for name, content := range files {
		p := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
	return root
}

func newCompiler(t *testing.T, root, command string) *compiler.Compiler {
	t.Helper()
	c, err := compiler.New(compiler.Config{
		Root:    root,
		OutDir:  "css",
		Command: command,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return c
}

func read(t *testing.T, root, name string) string {
	t.Helper()
	bs, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(name)))
	require.NoError(t, err)
	return string(bs)
}

func TestSources(t *testing.T) {
	root := project(t, map[string]string{
		"sass/main.scss":        "a{}",
		"sass/_variables.scss":  "$x: 1;",
		"sass/pages/about.scss": "b{}",
		"sass/theme.sass":       "c\n  d: e",
		"sass/notes.txt":        "",
		"other/stray.scss":      "",
	})
	c := newCompiler(t, root, fakeSass)

	sources, err := c.Sources()
	require.NoError(t, err)
	var paths []string
	for _, src := range sources {
		paths = append(paths, src.Path)
	}
	assert.Equal(t, []string{"sass/main.scss", "sass/pages/about.scss", "sass/theme.sass"}, paths)
	assert.Equal(t, "sass", sources[2].Syntax)
	assert.Equal(t, "scss", sources[0].Syntax)
	assert.True(t, filepath.IsAbs(sources[1].Dir))

	t.Run("missing source root is empty", func(t *testing.T) {
		sources, err := newCompiler(t, t.TempDir(), fakeSass).Sources()
		assert.NoError(t, err)
		assert.Empty(t, sources)
	})
}

func TestBuild(t *testing.T) {
	t.Run("one asset per source", func(t *testing.T) {
		root := project(t, map[string]string{
			"sass/main.scss":        "a{color:red}",
			"sass/pages/about.scss": "b{color:blue}",
			"sass/_partial.scss":    "c{}",
		})
		report := newCompiler(t, root, fakeSass).Build(context.Background(), minified)

		assert.Empty(t, report.Errors)
		assert.NoError(t, report.Err())
		assert.Equal(t, 2, report.Sources)
		assert.Equal(t, []string{"css/main.min.css", "css/pages/about.min.css"}, report.Written)
		assert.Equal(t, "a{color:red}", read(t, root, "css/main.min.css"))
		assert.Equal(t, "b{color:blue}", read(t, root, "css/pages/about.min.css"))
		assert.NoFileExists(t, filepath.Join(root, "css/_partial.min.css"))
	})

	t.Run("empty suffix", func(t *testing.T) {
		root := project(t, map[string]string{"sass/main.scss": "a{}"})
		report := newCompiler(t, root, fakeSass).Build(context.Background(), compiler.Options{})
		assert.Equal(t, []string{"css/main.css"}, report.Written)
	})

	t.Run("single file pattern", func(t *testing.T) {
		root := project(t, map[string]string{
			"sass/main.scss":  "a{color:red}",
			"sass/other.scss": "b{}",
		})
		c, err := compiler.New(compiler.Config{
			Root:    root,
			Pattern: "sass/main.scss",
			OutDir:  "css",
			Command: fakeSass,
		}, slog.New(slog.NewTextHandler(io.Discard, nil)))
		require.NoError(t, err)

		report := c.Build(context.Background(), minified)
		assert.NoError(t, report.Err())
		assert.Equal(t, 1, report.Sources)
		assert.Equal(t, []string{"css/main.min.css"}, report.Written)
		assert.Equal(t, "a{color:red}", read(t, root, "css/main.min.css"))
	})

	t.Run("a broken source does not stop its siblings", func(t *testing.T) {
		root := project(t, map[string]string{
			"sass/a.scss":      "a{}",
			"sass/broken.scss": "@error 'nope';",
			"sass/c.scss":      "c{}",
		})
		report := newCompiler(t, root, fakeSass).Build(context.Background(), minified)

		assert.Equal(t, []string{"css/a.min.css", "css/c.min.css"}, report.Written)
		require.Len(t, report.Errors, 1)
		assert.Equal(t, "sass/broken.scss", report.Errors[0].File)
		assert.Equal(t, "Error: syntax error", report.Errors[0].Message)
		assert.EqualError(t, report.Err(), "sass/broken.scss: Error: syntax error")
		assert.NoFileExists(t, filepath.Join(root, "css/broken.min.css"))
	})

	t.Run("a failed build keeps the previous asset", func(t *testing.T) {
		root := project(t, map[string]string{"sass/main.scss": "a{}"})
		c := newCompiler(t, root, fakeSass)
		require.Empty(t, c.Build(context.Background(), minified).Errors)

		require.NoError(t, os.WriteFile(filepath.Join(root, "sass/main.scss"), []byte("@error 'x';"), 0o644))
		assert.Len(t, c.Build(context.Background(), minified).Errors, 1)
		assert.Equal(t, "a{}", read(t, root, "css/main.min.css"))
	})

	t.Run("unwritable output is a compile error", func(t *testing.T) {
		root := project(t, map[string]string{"sass/main.scss": "a{}", "css": "not a directory"})
		report := newCompiler(t, root, fakeSass).Build(context.Background(), minified)
		require.Len(t, report.Errors, 1)
		assert.Equal(t, "sass/main.scss", report.Errors[0].File)
		assert.Empty(t, report.Written)
	})

	t.Run("building twice is byte-identical", func(t *testing.T) {
		root := project(t, map[string]string{
			"sass/main.scss": "a {\n  display: flex;\n  user-select: none;\n}\n",
		})
		c := newCompiler(t, root, fakeSass)
		opts := compiler.Options{RenameSuffix: ".min", VendorPrefix: true, Minify: true}

		require.Empty(t, c.Build(context.Background(), opts).Errors)
		first := read(t, root, "css/main.min.css")
		require.Empty(t, c.Build(context.Background(), opts).Errors)
		second := read(t, root, "css/main.min.css")

		if first != second {
			dmp := diffmatchpatch.New()
			t.Fatalf("rebuild changed output:\n%s", dmp.DiffPrettyText(dmp.DiffMain(first, second, false)))
		}
		assert.NotContains(t, first, "\n")
		assert.Contains(t, first, "display:-webkit-box")
		assert.Contains(t, first, "-webkit-user-select:none")
	})

	t.Run("leaves no temp files behind", func(t *testing.T) {
		root := project(t, map[string]string{"sass/main.scss": "a{}"})
		newCompiler(t, root, fakeSass).Build(context.Background(), minified)
		entries, err := os.ReadDir(filepath.Join(root, "css"))
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "main.min.css", entries[0].Name())
	})
}

func TestSassStage(t *testing.T) {
	root := project(t, map[string]string{"sass/theme.sass": "a\n  b: c"})
	command := `cat >/dev/null; printf '%s %s %s' "$DEVRUN_STYLE" "$DEVRUN_SYNTAX" "$(basename "$DEVRUN_DIR")"`
	result := newCompiler(t, root, command).Compile(context.Background(), minified)

	require.Empty(t, result.Errors)
	require.Len(t, result.Assets, 1)
	assert.Equal(t, "compressed --indented sass", string(result.Assets[0].CSS))
	assert.Equal(t, "css/theme.min.css", result.Assets[0].Dest)
}

func TestCustomPipeline(t *testing.T) {
	root := project(t, map[string]string{"sass/main.scss": "a{}"})
	var order []string
	stage := func(name string) compiler.Transform {
		return func(_ context.Context, _ compiler.Source, in []byte, _ compiler.Options) ([]byte, error) {
			order = append(order, name)
			return append(in, []byte("/*"+name+"*/")...), nil
		}
	}
	c, err := compiler.New(compiler.Config{
		Root:       root,
		OutDir:     "css",
		Transforms: []compiler.Transform{stage("one"), stage("two")},
	}, nil)
	require.NoError(t, err)

	result := c.Compile(context.Background(), compiler.Options{})
	require.Len(t, result.Assets, 1)
	assert.Equal(t, "a{}/*one*//*two*/", string(result.Assets[0].CSS))
	assert.Equal(t, []string{"one", "two"}, order)
}

func TestCanceled(t *testing.T) {
	root := project(t, map[string]string{"sass/main.scss": "a{}"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result := newCompiler(t, root, fakeSass).Compile(ctx, minified)
	require.Len(t, result.Errors, 1)
	assert.ErrorIs(t, result.Errors[0], context.Canceled)
	assert.True(t, strings.HasPrefix(result.Errors[0].Error(), "sass/main.scss: "))
}
