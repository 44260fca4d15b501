// Package compiler turns a tree of Sass sources into CSS assets. Each
// source is run through an ordered pipeline of transforms: the external
// Sass compiler, then optional vendor prefixing and minification.
package compiler

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/AltoxaM/devrun/internal/pathglob"
	"golang.org/x/sync/errgroup"
)

// Output styles understood by the Sass stage.
const (
	Expanded   = "expanded"
	Compressed = "compressed"
)

// Options control one compilation.
type Options struct {
	// OutputStyle is "expanded" or "compressed".
	OutputStyle string

	// RenameSuffix is inserted between an asset's base name and ".css", so
	// that with ".min", main.scss becomes main.min.css.
	RenameSuffix string

	VendorPrefix bool
	Minify       bool
}

// A Source is one stylesheet to compile.
type Source struct {
	// Path is slash-separated and relative to the compiler's Root.
	Path string

	// Syntax is "scss", "sass" (the indented syntax), or "css".
	Syntax string

	// Dir is the absolute directory containing the source, against which
	// its imports resolve.
	Dir string
}

// An Asset is the compiled form of one Source. Dest is slash-separated and
// relative to the compiler's Root.
type Asset struct {
	Source Source
	Dest   string
	CSS    []byte
}

// A CompileError reports that one file could not be compiled or written.
// It never stops its siblings from building.
type CompileError struct {
	File    string
	Message string
	Err     error
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("%s: %s", e.File, e.Message)
}

func (e *CompileError) Unwrap() error { return e.Err }

// Result is the outcome of Compile, in source order.
type Result struct {
	Assets []Asset
	Errors []*CompileError
}

// Report is the outcome of Build. Written lists the destination of every
// asset that was written, in source order.
type Report struct {
	Sources int
	Written []string
	Errors  []*CompileError
}

// Err joins the report's errors, or returns nil if the build was clean.
func (r Report) Err() error {
	if len(r.Errors) == 0 {
		return nil
	}
	errs := make([]error, len(r.Errors))
	for i, e := range r.Errors {
		errs[i] = e
	}
	return errors.Join(errs...)
}

type Config struct {
	// Root is the project directory.
	Root string

	// Pattern selects sources, relative to Root.
	Pattern string

	// OutDir is where assets are written, relative to Root.
	OutDir string

	// Command is the Sass stage's shell command. See [Sass].
	Command string

	// Transforms replaces the default pipeline when set.
	Transforms []Transform
}

// DefaultPattern matches Sass sources the way the original project laid
// them out.
const DefaultPattern = "sass/**/*.{scss,sass}"

type Compiler struct {
	config Config
	glob   pathglob.Glob
	logger *slog.Logger
}

// New creates a Compiler. It fails only if Pattern is not a valid glob.
func New(config Config, logger *slog.Logger) (*Compiler, error) {
	if config.Pattern == "" {
		config.Pattern = DefaultPattern
	}
	if config.Command == "" {
		config.Command = DefaultCommand
	}
	if logger == nil {
		logger = slog.Default()
	}
	g, err := pathglob.Compile(config.Pattern)
	if err != nil {
		return nil, err
	}
	return &Compiler{config: config, glob: g, logger: logger}, nil
}

// Pattern returns the glob that selects sources.
func (c *Compiler) Pattern() string { return c.glob.String() }

// Sources lists the files to compile, sorted by path. Partials, whose base
// names begin with "_", are only ever imported and are skipped.
func (c *Compiler) Sources() ([]Source, error) {
	base := filepath.Join(c.config.Root, filepath.FromSlash(c.glob.Root()))
	var sources []Source
	err := filepath.WalkDir(base, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && p == base {
				return fs.SkipAll
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(c.config.Root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if !c.glob.Match(rel) || strings.HasPrefix(path.Base(rel), "_") {
			return nil
		}
		dir, err := filepath.Abs(filepath.Dir(p))
		if err != nil {
			return err
		}
		sources = append(sources, Source{Path: rel, Syntax: syntaxOf(rel), Dir: dir})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing sources: %w", err)
	}
	sort.Slice(sources, func(i, j int) bool { return sources[i].Path < sources[j].Path })
	return sources, nil
}

// Dest returns where a source's asset is written: the source's path below
// the pattern's root, with its extension replaced by the suffix and ".css",
// under OutDir.
func (c *Compiler) Dest(src Source, opts Options) string {
	rel := src.Path
	if base := c.base(); base != "." {
		rel = strings.TrimPrefix(rel, base+"/")
	}
	name := strings.TrimSuffix(rel, path.Ext(rel)) + opts.RenameSuffix + ".css"
	return path.Join(filepath.ToSlash(c.config.OutDir), name)
}

// base is the directory asset paths are taken relative to. A literal
// pattern names a file, so its base is the file's directory.
func (c *Compiler) base() string {
	root := c.glob.Root()
	if c.glob.IsLiteral() {
		root = path.Dir(root)
	}
	return strings.TrimSuffix(root, "/")
}

// Compile runs every source through the pipeline. Sources are compiled
// concurrently, but results are always in source order.
func (c *Compiler) Compile(ctx context.Context, opts Options) Result {
	sources, err := c.Sources()
	if err != nil {
		return Result{Errors: []*CompileError{{File: c.config.Pattern, Message: err.Error(), Err: err}}}
	}

	pipeline := c.config.Transforms
	if pipeline == nil {
		pipeline = Pipeline(c.config.Command, opts)
	}

	var (
		assets = make([]*Asset, len(sources))
		errs   = make([]*CompileError, len(sources))
		g      errgroup.Group
	)
	g.SetLimit(runtime.NumCPU())
	for i, src := range sources {
		g.Go(func() error {
			css, err := c.run(ctx, pipeline, src, opts)
			if err != nil {
				errs[i] = compileError(src.Path, err)
				return nil
			}
			assets[i] = &Asset{Source: src, Dest: c.Dest(src, opts), CSS: css}
			return nil
		})
	}
	g.Wait()

	var result Result
	for i := range sources {
		if errs[i] != nil {
			c.logger.Error("compile failed", "file", errs[i].File, "error", errs[i].Message)
			result.Errors = append(result.Errors, errs[i])
			continue
		}
		result.Assets = append(result.Assets, *assets[i])
	}
	return result
}

func (c *Compiler) run(ctx context.Context, pipeline []Transform, src Source, opts Options) ([]byte, error) {
	css, err := os.ReadFile(filepath.Join(c.config.Root, filepath.FromSlash(src.Path)))
	if err != nil {
		return nil, err
	}
	for _, transform := range pipeline {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if css, err = transform(ctx, src, css, opts); err != nil {
			return nil, err
		}
	}
	return css, nil
}

// Build compiles every source and writes each successful asset atomically.
// A failed write is reported as a CompileError for that file.
func (c *Compiler) Build(ctx context.Context, opts Options) Report {
	result := c.Compile(ctx, opts)
	report := Report{
		Sources: len(result.Assets) + len(result.Errors),
		Errors:  result.Errors,
	}
	for _, asset := range result.Assets {
		dest := filepath.Join(c.config.Root, filepath.FromSlash(asset.Dest))
		if err := writeAtomic(dest, asset.CSS); err != nil {
			cerr := &CompileError{File: asset.Source.Path, Message: err.Error(), Err: err}
			c.logger.Error("write failed", "file", asset.Dest, "error", err)
			report.Errors = append(report.Errors, cerr)
			continue
		}
		c.logger.Debug("wrote", "file", asset.Dest, "bytes", len(asset.CSS))
		report.Written = append(report.Written, asset.Dest)
	}
	return report
}

func compileError(file string, err error) *CompileError {
	var cerr *CompileError
	if errors.As(err, &cerr) {
		return cerr
	}
	return &CompileError{File: file, Message: err.Error(), Err: err}
}

func syntaxOf(p string) string {
	switch path.Ext(p) {
	case ".sass":
		return "sass"
	case ".css":
		return "css"
	default:
		return "scss"
	}
}
