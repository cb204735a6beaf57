package scenario

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const smokeYAML = `
name: smoke
description: one echo turn
script: echo
steps:
  - send:
      type: message
      content: hello ${thread}
  - expect:
      type: message
      content: hello ${thread}
      within: 2s
checkpoints:
  - kind: no_errors
  - kind: min_entries
    min_entries: 2
`

func writeScenario(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeScenario(t, t.TempDir(), "smoke.yaml", smokeYAML)

	s, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "smoke", s.Name)
	assert.Equal(t, "echo", s.Script)
	require.Len(t, s.Steps, 2)
	assert.Equal(t, "hello ${thread}", s.Steps[0].Send.Content)
	assert.Equal(t, "2s", s.Steps[1].Expect.Within)
	require.Len(t, s.Checkpoints, 2)
}

func TestLoadRejectsInvalid(t *testing.T) {
	dir := t.TempDir()

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(dir, "ghost.yaml"))
		require.Error(t, err)
	})

	t.Run("bad yaml", func(t *testing.T) {
		path := writeScenario(t, dir, "broken.yaml", "steps: [oops")
		_, err := Load(path)
		require.Error(t, err)
	})

	t.Run("fails validation", func(t *testing.T) {
		path := writeScenario(t, dir, "nameless.yaml", "steps:\n  - wait: 1s\n")
		_, err := Load(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no name")
	})
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "b.yaml", "name: beta\nsteps:\n  - wait: 10ms\n")
	writeScenario(t, dir, "a.yml", "name: alpha\nsteps:\n  - wait: 10ms\n")
	writeScenario(t, dir, "notes.txt", "not a scenario")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0755))

	scenarios, err := LoadDir(dir)
	require.NoError(t, err)
	require.Len(t, scenarios, 2)
	assert.Equal(t, "alpha", scenarios[0].Name)
	assert.Equal(t, "beta", scenarios[1].Name)
}

func TestLoadDirDuplicateNames(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "one.yaml", "name: twin\nsteps:\n  - wait: 10ms\n")
	writeScenario(t, dir, "two.yaml", "name: twin\nsteps:\n  - wait: 10ms\n")

	_, err := LoadDir(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "defined in both")
}

func TestFind(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "custom.yaml", "name: custom\nsteps:\n  - wait: 10ms\n")

	t.Run("from directory", func(t *testing.T) {
		s, err := Find(dir, "custom")
		require.NoError(t, err)
		assert.Equal(t, "custom", s.Name)
	})

	t.Run("builtin fallback", func(t *testing.T) {
		s, err := Find(dir, "golden-path")
		require.NoError(t, err)
		assert.Equal(t, "golden-path", s.Name)
	})

	t.Run("no directory at all", func(t *testing.T) {
		s, err := Find("", "streaming")
		require.NoError(t, err)
		assert.Equal(t, "streaming", s.Name)
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := Find(dir, "who-dis")
		require.Error(t, err)
	})
}
