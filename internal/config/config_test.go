package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"teamline/internal/config"
)

func TestDefaultParsesAndValidates(t *testing.T) {
	cfg := config.Default("root")
	require.NotNil(t, cfg)
	assert.Equal(t, "127.0.0.1:8787", cfg.Server.Listen)
	assert.Equal(t, "/api/v1", cfg.Server.BasePath)
	assert.True(t, cfg.Auth.AllowLegacyHeader)
	assert.Equal(t, []string{"root"}, cfg.Auth.BootstrapAdmins)
	assert.Equal(t, ".teamline", cfg.Data.Dir)
	assert.NoError(t, cfg.Validate())
}

func TestGenerateDefaultRoundTrips(t *testing.T) {
	raw := config.GenerateDefault("ops")
	cfg, err := config.FromYAML([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, []string{"ops"}, cfg.Auth.BootstrapAdmins)
}

func TestValidateRejectsMissingListen(t *testing.T) {
	cfg := config.Default("root")
	cfg.Server.Listen = ""
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listen")
}

func TestValidateRequiresSecretWithoutLegacyHeader(t *testing.T) {
	cfg := config.Default("root")
	cfg.Auth.AllowLegacyHeader = false
	cfg.Auth.JWTSecret = ""
	require.Error(t, cfg.Validate())

	cfg.Auth.JWTSecret = "s3cret"
	assert.NoError(t, cfg.Validate())
}

func TestValidateRejectsEmptyBootstrapAdmin(t *testing.T) {
	cfg := config.Default("root")
	cfg.Auth.BootstrapAdmins = []string{"root", ""}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bootstrap_admins")
}

func TestLoadMissingFileMentionsInit(t *testing.T) {
	dir := t.TempDir()
	_, err := config.Load(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tl init")

	cfg, err := config.LoadOptional(dir)
	require.NoError(t, err)
	assert.Nil(t, cfg)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := config.Path(dir)
	require.Equal(t, filepath.Join(dir, "teamline.yml"), path)
	require.NoError(t, os.WriteFile(path, []byte(config.GenerateDefault("root")), 0o644))

	cfg, err := config.Load(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"root"}, cfg.Auth.BootstrapAdmins)

	_, err = config.FromYAML([]byte("server: ["))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config yaml")
}
