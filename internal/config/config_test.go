package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/mcp-gatekeeper/internal/auth"
)

func TestLoadWithNoFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadReadsYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("host: example.internal\nport: 9090\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "example.internal", cfg.Host)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, Default().AuthMode, cfg.AuthMode, "fields absent from the file keep their default")
}

func TestEnvOverridesTakePrecedenceOverFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("host: from-file\nport: 1111\n"), 0o644))

	t.Setenv("GATEKEEPER_HOST", "from-env")
	t.Setenv("GATEKEEPER_PORT", "2222")
	t.Setenv("GATEKEEPER_AUTH_MODE", "external-secure")
	t.Setenv("GATEKEEPER_LOG_LEVEL", "debug")
	t.Setenv("GATEKEEPER_TEMPLATES_DIR", "/srv/templates")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Host)
	assert.Equal(t, 2222, cfg.Port)
	assert.Equal(t, auth.ModeExternalSecure, cfg.AuthMode)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "/srv/templates", cfg.TemplatesDir)
}

func TestUnknownAuthModeFallsBackToDefault(t *testing.T) {
	t.Setenv("GATEKEEPER_AUTH_MODE", "not-a-real-mode")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().AuthMode, cfg.AuthMode)
}

func TestInvalidPortEnvIsIgnored(t *testing.T) {
	t.Setenv("GATEKEEPER_PORT", "not-a-number")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().Port, cfg.Port)
}
