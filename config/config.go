// Package config loads devrun.toml (or devrun.yaml) files. You can load one
// from disk, or, if you want, you can create your own in code starting from
// Defaults.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/AltoxaM/devrun/compiler"
	"github.com/AltoxaM/devrun/internal/pathglob"
	"github.com/AltoxaM/devrun/internal/watcher"
	"github.com/AltoxaM/devrun/server"
	"github.com/AltoxaM/devrun/tasks"
	"github.com/AltoxaM/devrun/tasks/script"
	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Filenames are the configuration files Find looks for, in order.
var Filenames = []string{"devrun.toml", "devrun.yaml", "devrun.yml"}

// EnvFiles are loaded from the configuration's directory before environment
// overrides are applied. Variables already set in the process environment
// win.
var EnvFiles = []string{".env", ".env.local"}

type Config struct {
	// Root is the project directory, relative to Dir. It is served at "/"
	// and holds the stylesheet sources and outputs.
	Root string `toml:"root" yaml:"root"`

	// LogLevel is one of debug, info, warn, or error.
	LogLevel string `toml:"log_level" yaml:"log_level"`

	Server Server  `toml:"server" yaml:"server"`
	Styles Styles  `toml:"styles" yaml:"styles"`
	Watch  []Watch `toml:"watch" yaml:"watch"`
	Tasks  []Task  `toml:"task" yaml:"tasks"`

	// Dir is the directory containing the configuration file. Relative
	// paths are resolved against it.
	Dir string `toml:"-" yaml:"-"`
}

type Server struct {
	Host     string `toml:"host" yaml:"host"`
	Port     int    `toml:"port" yaml:"port"`
	NoInject bool   `toml:"no_inject" yaml:"no_inject"`
	Metrics  bool   `toml:"metrics" yaml:"metrics"`
}

type Styles struct {
	Pattern string `toml:"pattern" yaml:"pattern"`
	Out     string `toml:"out" yaml:"out"`
	Command string `toml:"command" yaml:"command"`
	Style   string `toml:"style" yaml:"style"`
	Suffix  string `toml:"suffix" yaml:"suffix"`
	Prefix  bool   `toml:"prefix" yaml:"prefix"`
	Minify  bool   `toml:"minify" yaml:"minify"`
}

// Watch maps a glob, relative to Root, to the task a change should rerun. A
// rule with no task only reloads the browser.
type Watch struct {
	Pattern string `toml:"pattern" yaml:"pattern"`
	Task    string `toml:"task" yaml:"task"`
	Inject  bool   `toml:"inject" yaml:"inject"`
}

// Defaults reproduces the project layout devrun was written for: Sass under
// Uber_project/sass, compressed and minified into Uber_project/css as
// *.min.css, served on port 3000.
func Defaults() Config {
	return Config{
		Root:     "Uber_project",
		LogLevel: "info",
		Server:   Server{Port: 3000, Metrics: true},
		Styles: Styles{
			Pattern: compiler.DefaultPattern,
			Out:     "css",
			Command: compiler.DefaultCommand,
			Style:   compiler.Compressed,
			Suffix:  ".min",
			Prefix:  true,
			Minify:  true,
		},
		Dir: ".",
	}
}

// DefaultWatch is used when a configuration declares no watch rules: a
// change to a stylesheet source rebuilds and injects the styles, and a
// change to a top-level page reloads it.
func DefaultWatch(styles string) []Watch {
	return []Watch{
		{Pattern: styles, Task: "styles", Inject: true},
		{Pattern: "*.html"},
	}
}

// Find returns the path of the first of Filenames present in dir.
func Find(dir string) (string, bool) {
	for _, name := range Filenames {
		p := filepath.Join(dir, name)
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p, true
		}
	}
	return "", false
}

// Discover loads the configuration file in dir, or, if there isn't one, the
// defaults, with dir's env files and environment overrides applied.
func Discover(dir string) (Config, error) {
	if p, ok := Find(dir); ok {
		return Load(p)
	}
	c := Defaults()
	c.Dir = dir
	return c.finish()
}

// Load reads a configuration file over Defaults. Files ending in .yaml or
// .yml are YAML; anything else is TOML.
func Load(path string) (Config, error) {
	bs, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config: %w", err)
	}
	c := Defaults()
	c.Dir = filepath.Dir(path)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(bs))
		dec.KnownFields(true)
		if err := dec.Decode(&c); err != nil && !errors.Is(err, io.EOF) {
			return Config{}, fmt.Errorf("parsing %s: %w", path, err)
		}
	default:
		md, err := toml.Decode(string(bs), &c)
		if err != nil {
			return Config{}, fmt.Errorf("parsing %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return Config{}, fmt.Errorf("parsing %s: unknown keys: %s", path, strings.Join(keys, ", "))
		}
	}
	return c.finish()
}

func (c Config) finish() (Config, error) {
	if len(c.Watch) == 0 {
		c.Watch = DefaultWatch(c.Styles.Pattern)
	}
	if err := loadEnvFiles(c.Dir); err != nil {
		return Config{}, err
	}
	if err := c.applyEnv(); err != nil {
		return Config{}, err
	}
	for i := range c.Tasks {
		if c.Tasks[i].Dir == "" {
			c.Tasks[i].Dir = c.Dir
		} else if !filepath.IsAbs(c.Tasks[i].Dir) {
			c.Tasks[i].Dir = filepath.Join(c.Dir, c.Tasks[i].Dir)
		}
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func loadEnvFiles(dir string) error {
	for _, name := range EnvFiles {
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("loading %s: %w", p, err)
		}
	}
	return nil
}

// applyEnv overrides settings from DEVRUN_* environment variables.
func (c *Config) applyEnv() error {
	strs := map[string]*string{
		"DEVRUN_ROOT":      &c.Root,
		"DEVRUN_HOST":      &c.Server.Host,
		"DEVRUN_SASS":      &c.Styles.Command,
		"DEVRUN_STYLE":     &c.Styles.Style,
		"DEVRUN_SUFFIX":    &c.Styles.Suffix,
		"DEVRUN_LOG_LEVEL": &c.LogLevel,
	}
	for k, p := range strs {
		if v, ok := os.LookupEnv(k); ok {
			*p = v
		}
	}

	bools := map[string]*bool{
		"DEVRUN_PREFIX": &c.Styles.Prefix,
		"DEVRUN_MINIFY": &c.Styles.Minify,
	}
	var errs []error
	for k, p := range bools {
		v, ok := os.LookupEnv(k)
		if !ok {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", k, err))
			continue
		}
		*p = b
	}

	if v, ok := os.LookupEnv("DEVRUN_PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("DEVRUN_PORT: %w", err))
		} else {
			c.Server.Port = port
		}
	}
	return errors.Join(errs...)
}

// Validate reports every problem with the configuration at once. Task
// metadata is checked separately, when the tasks are registered.
func (c Config) Validate() error {
	var errs []error
	if c.Root == "" {
		errs = append(errs, errors.New("root is required"))
	}
	if _, err := c.Level(); err != nil {
		errs = append(errs, err)
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d is out of range", c.Server.Port))
	}
	switch c.Styles.Style {
	case compiler.Expanded, compiler.Compressed:
	default:
		errs = append(errs, fmt.Errorf("styles.style must be %q or %q, not %q", compiler.Expanded, compiler.Compressed, c.Styles.Style))
	}
	if _, err := pathglob.Compile(c.Styles.Pattern); err != nil {
		errs = append(errs, fmt.Errorf("styles.pattern: %w", err))
	}
	if c.Styles.Out == "" {
		errs = append(errs, errors.New("styles.out is required"))
	}
	for i, w := range c.Watch {
		if w.Pattern == "" {
			errs = append(errs, fmt.Errorf("watch[%d]: pattern is required", i))
			continue
		}
		if _, err := pathglob.Compile(w.Pattern); err != nil {
			errs = append(errs, fmt.Errorf("watch[%d]: %w", i, err))
		}
	}
	for i, t := range c.Tasks {
		if t.ID == "" {
			errs = append(errs, fmt.Errorf("task[%d]: id is required", i))
		}
	}
	return errors.Join(errs...)
}

// Level parses LogLevel.
func (c Config) Level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("log_level: %w", err)
	}
	return l, nil
}

// RootDir returns Root resolved against Dir.
func (c Config) RootDir() string {
	if filepath.IsAbs(c.Root) {
		return c.Root
	}
	return filepath.Join(c.Dir, c.Root)
}

// Compiler returns the stylesheet compiler's configuration.
func (c Config) Compiler() compiler.Config {
	return compiler.Config{
		Root:    c.RootDir(),
		Pattern: c.Styles.Pattern,
		OutDir:  c.Styles.Out,
		Command: c.Styles.Command,
	}
}

// Options returns the stylesheet compiler's per-build options.
func (c Config) Options() compiler.Options {
	return compiler.Options{
		OutputStyle:  c.Styles.Style,
		RenameSuffix: c.Styles.Suffix,
		VendorPrefix: c.Styles.Prefix,
		Minify:       c.Styles.Minify,
	}
}

// ServerConfig returns the live server's configuration.
func (c Config) ServerConfig() server.Config {
	return server.Config{
		Root:     c.RootDir(),
		Host:     c.Server.Host,
		Port:     c.Server.Port,
		NoInject: c.Server.NoInject,
	}
}

// Rules returns the watch rules.
func (c Config) Rules() []watcher.Rule {
	rules := make([]watcher.Rule, len(c.Watch))
	for i, w := range c.Watch {
		rules[i] = watcher.Rule{Pattern: w.Pattern, Task: w.Task, Inject: w.Inject}
	}
	return rules
}

// ScriptTasks returns the configured user tasks, in file order.
func (c Config) ScriptTasks() []tasks.Task {
	ts := make([]tasks.Task, len(c.Tasks))
	for i, t := range c.Tasks {
		ts[i] = t.ToScriptTask()
	}
	return ts
}

// Task is a user-defined shell task.
type Task struct {
	ID           string            `toml:"id" yaml:"id"`
	Description  string            `toml:"description" yaml:"description"`
	Type         string            `toml:"type" yaml:"type"`
	Mode         string            `toml:"mode" yaml:"mode"`
	Dependencies []string          `toml:"dependencies" yaml:"dependencies"`
	CMD          string            `toml:"cmd" yaml:"cmd"`
	Env          map[string]string `toml:"env" yaml:"env"`

	// Dir is the directory the script runs in. Once loaded, it is
	// resolved against the configuration file's directory.
	Dir string `toml:"dir" yaml:"dir"`
}

func (t Task) ToScriptTask() script.Task {
	description := t.Description
	if description == "" && t.CMD != "" && !strings.Contains(t.CMD, "\n") {
		description = fmt.Sprintf(`"%s"`, t.CMD)
	}
	metadata := tasks.TaskMetadata{
		ID:           t.ID,
		Description:  description,
		Type:         t.Type,
		Mode:         tasks.Mode(t.Mode),
		Dependencies: t.Dependencies,
	}
	return script.New(metadata, t.Dir, t.Env, t.CMD)
}
