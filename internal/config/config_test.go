package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/joeycumines/logiface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, `:6666`, cfg.Listen)
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, `htdocs`, cfg.DocRoot)
	assert.Equal(t, Duration(30*time.Second), cfg.IdleTimeout)
}

func TestLoad_yaml(t *testing.T) {
	path := writeFile(t, `c.yml`, "listen: 127.0.0.1:8080\nworkers: 8\nidle_timeout: 90s\nlog_level: debug\n")
	cfg := Default()
	require.NoError(t, Load(path, &cfg))
	assert.Equal(t, `127.0.0.1:8080`, cfg.Listen)
	assert.Equal(t, 8, cfg.Workers)
	assert.Equal(t, Duration(90*time.Second), cfg.IdleTimeout)
	// untouched
	assert.Equal(t, `htdocs`, cfg.DocRoot)
	level, err := cfg.Level()
	require.NoError(t, err)
	assert.Equal(t, logiface.LevelDebug, level)
}

func TestLoad_emptyYAML(t *testing.T) {
	cfg := Default()
	require.NoError(t, Load(writeFile(t, `c.yaml`, ``), &cfg))
	assert.Equal(t, Default(), cfg)
}

func TestLoad_toml(t *testing.T) {
	path := writeFile(t, `c.toml`, "doc_root = \"/srv/www\"\nqueue = 10\nwrite_timeout = \"2s\"\n")
	cfg := Default()
	require.NoError(t, Load(path, &cfg))
	assert.Equal(t, `/srv/www`, cfg.DocRoot)
	assert.Equal(t, 10, cfg.Queue)
	assert.Equal(t, Duration(2*time.Second), cfg.WriteTimeout)
}

func TestLoad_errors(t *testing.T) {
	cfg := Default()
	assert.ErrorIs(t, Load(writeFile(t, `c.json`, `{}`), &cfg), ErrUnknownFormat)
	assert.Error(t, Load(filepath.Join(t.TempDir(), `missing.yaml`), &cfg))
	assert.Error(t, Load(writeFile(t, `c.yaml`, "nope: 1\n"), &cfg))
	assert.Error(t, Load(writeFile(t, `c.toml`, "nope = 1\n"), &cfg))
	assert.Error(t, Load(writeFile(t, `c.yaml`, "idle_timeout: soon\n"), &cfg))
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Workers = 0
	cfg.LogLevel = `loud`
	cfg.IdleTimeout = -1
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `workers must be positive`)
	assert.Contains(t, err.Error(), `unknown log level "loud"`)
	assert.Contains(t, err.Error(), `durations must not be negative`)
}

func TestParseFlags(t *testing.T) {
	path := writeFile(t, `c.yaml`, "listen: :7000\nworkers: 2\n")
	var out bytes.Buffer

	f, err := ParseFlags(`reactord`, []string{`-config`, path, `-workers`, `16`, `-idle-timeout`, `1m`}, &out)
	require.NoError(t, err)
	assert.Equal(t, path, f.ConfigPath)
	assert.Equal(t, `:7000`, f.Config.Listen)
	assert.Equal(t, 16, f.Config.Workers)
	assert.Equal(t, Duration(time.Minute), f.Config.IdleTimeout)
	assert.False(t, f.ShowHelp)
	assert.Empty(t, out.String())
}

func TestParseFlags_helpAndVersion(t *testing.T) {
	var out bytes.Buffer
	f, err := ParseFlags(`reactord`, []string{`-h`, `-v`}, &out)
	require.NoError(t, err)
	assert.True(t, f.ShowHelp)
	assert.True(t, f.ShowVersion)
	assert.Contains(t, out.String(), `-config`)

	out.Reset()
	f, err = ParseFlags(`reactord`, []string{`-help`}, &out)
	require.NoError(t, err)
	assert.True(t, f.ShowHelp)
}

func TestParseFlags_invalid(t *testing.T) {
	var out bytes.Buffer
	_, err := ParseFlags(`reactord`, []string{`-x`}, &out)
	assert.Error(t, err)
	_, err = ParseFlags(`reactord`, []string{`extra`}, &out)
	assert.Error(t, err)
	_, err = ParseFlags(`reactord`, []string{`-idle-timeout`, `bad`}, &out)
	assert.Error(t, err)
}
