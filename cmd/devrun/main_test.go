package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"testing"

	"github.com/AltoxaM/devrun/config"
	"github.com/AltoxaM/devrun/tasks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTasklistText(t *testing.T) {
	reg := tasks.NewRegistry()
	require.NoError(t, reg.RegisterAll(
		tasks.NewTaskFromFunc(tasks.TaskMetadata{ID: "styles", Type: "short", Description: "Compile stylesheets."}, nil),
		tasks.NewTaskFromFunc(tasks.TaskMetadata{ID: "server", Type: "long"}, nil),
		tasks.NewGroup("default", tasks.Parallel, "server", "styles"),
	))

	assert.Equal(t, `TASKS
  styles
    Type: short
    Description:
      Compile stylesheets.

  server
    Type: long

  default
    Type: group
    Mode: parallel
    Dependencies:
      - server
      - styles
`, tasklistText(reg))
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, exitCode(nil))
	assert.Equal(t, 0, exitCode(context.Canceled))
	assert.Equal(t, 0, exitCode(fmt.Errorf("run: %w", context.Canceled)))
	assert.Equal(t, 1, exitCode(errors.New("server: address in use")))
}

func TestGutterWidth(t *testing.T) {
	c := config.Defaults()
	assert.Equal(t, len("@interleaved"), gutterWidth(c))

	c.Tasks = []config.Task{{ID: "a-rather-long-task-name"}}
	assert.Equal(t, len("a-rather-long-task-name"), gutterWidth(c))
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "site.toml")
	require.NoError(t, os.WriteFile(p, []byte("root = \"public\"\n"), 0o644))

	c, err := loadConfig(p)
	require.NoError(t, err)
	assert.Equal(t, "public", c.Root)

	_, err = loadConfig(filepath.Join(dir, "missing.toml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestFormatVersion(t *testing.T) {
	info := &debug.BuildInfo{Main: debug.Module{Version: "v1.2.0"}}
	assert.Equal(t, "devrun v1.2.0", formatVersion(info))

	info = &debug.BuildInfo{Settings: []debug.BuildSetting{
		{Key: "vcs.revision", Value: "0123456789abcdef"},
		{Key: "vcs.modified", Value: "true"},
		{Key: "vcs.time", Value: "2024-05-01T10:00:00Z"},
	}}
	assert.Equal(t, "devrun (devel) (0123456789ab, dirty, 2024-05-01T10:00:00Z)", formatVersion(info))
}
