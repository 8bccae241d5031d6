package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, DirName), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, DirName, "config.yaml"), []byte(body), 0o644))
}

func TestLoadFromDefaults(t *testing.T) {
	cfg, err := LoadFrom(t.TempDir(), t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, DefaultMaxSteps, cfg.MaxSteps)
	assert.Equal(t, DefaultDebugLogLines, cfg.DebugLogLines)
	assert.Equal(t, []string{"list_directory"}, cfg.Approval.Exempt)
	assert.Contains(t, cfg.FilesystemAccess.Hidden, "**/.gatekeep/**")
}

func TestLoadFromProjectOverridesUser(t *testing.T) {
	home, project := t.TempDir(), t.TempDir()
	writeConfig(t, home, `
llm: anthropic
model: claude-sonnet-4-0
max_steps: 3
allowed_commands: ["^ls"]
`)
	writeConfig(t, project, `
model: claude-opus-4-1
approval:
  exempt: []
`)

	cfg, err := LoadFrom(home, project)
	require.NoError(t, err)

	assert.Equal(t, "anthropic", cfg.LLMClient)
	assert.Equal(t, "claude-opus-4-1", cfg.Model)
	assert.Equal(t, 3, cfg.MaxSteps)
	assert.Equal(t, []string{"^ls"}, cfg.AllowedCommands)
	assert.Empty(t, cfg.Approval.Exempt)
}

func TestHiddenConfigDirSurvivesOverride(t *testing.T) {
	home, project := t.TempDir(), t.TempDir()
	writeConfig(t, project, `
filesystem_access:
  hidden: ["**/secrets/**"]
`)

	cfg, err := LoadFrom(home, project)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"**/secrets/**", "**/.gatekeep", "**/.gatekeep/**"}, cfg.FilesystemAccess.Hidden)

	writeConfig(t, home, `
filesystem_access:
  hidden: ["**/.gatekeep"]
`)
	cfg, err = LoadFrom(home, t.TempDir())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"**/.gatekeep", "**/.gatekeep/**"}, cfg.FilesystemAccess.Hidden, "defaults are not duplicated")
}

func TestLoadFromInvalidYAML(t *testing.T) {
	project := t.TempDir()
	writeConfig(t, project, "llm: [unterminated")

	_, err := LoadFrom("", project)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error loading project config")
}

func TestGetToolset(t *testing.T) {
	cfg := &Config{}
	ts, err := cfg.GetToolset("")
	require.NoError(t, err)
	assert.Nil(t, ts, "no toolsets means everything is active")

	cfg.Toolsets = []Toolset{
		{Name: "default", Tools: []string{"read_file"}},
		{Name: "ops", Tools: []string{"execute_command"}},
	}
	ts, err = cfg.GetToolset("ops")
	require.NoError(t, err)
	assert.Equal(t, "ops", ts.Name)

	ts, err = cfg.GetToolset("missing")
	require.NoError(t, err)
	assert.Equal(t, "default", ts.Name)

	cfg.Toolsets = []Toolset{{Name: "ops"}}
	_, err = cfg.GetToolset("")
	assert.Error(t, err)
}
