package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("DATA_DIR", dir)
	t.Setenv("SITE_ID", "sakai")
	t.Setenv("RELEASE_REPO", "acme/signage")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 90, cfg.CountdownSeconds)
	assert.Equal(t, time.Second, cfg.Crossfade)
	assert.Equal(t, 10*time.Second, cfg.ImageDuration)
	assert.True(t, cfg.Muted)
	assert.Equal(t, "8080", cfg.ServerPort)
	assert.Equal(t, filepath.Join(dir, "videos"), cfg.MediaDir)
	assert.Equal(t, filepath.Join(dir, "media-meta.json"), cfg.MetaFile)
	assert.Equal(t, "sakai-media.zip", cfg.MediaAssetName())
	assert.Equal(t, "https://github.com/acme/signage/releases/latest/download/latest.json", cfg.ManifestURL)
	assert.Equal(t, []string{"--fs", "--no-osc", "--no-input-default-bindings"}, cfg.PlayerArgs)
}

func TestLoad_Overrides(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("DATA_DIR", dir)
	t.Setenv("COUNTDOWN_SECONDS", "5")
	t.Setenv("CROSSFADE_MS", "250")
	t.Setenv("MUTED", "false")
	t.Setenv("MANIFEST_URL", "http://example.test/latest.json")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.CountdownSeconds)
	assert.Equal(t, 250*time.Millisecond, cfg.Crossfade)
	assert.False(t, cfg.Muted)
	assert.Equal(t, "http://example.test/latest.json", cfg.ManifestURL)
}

func TestLoad_Invalid(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("DATA_DIR", dir)

	t.Run("repo", func(t *testing.T) {
		t.Setenv("RELEASE_REPO", "not-a-repo")
		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("countdown", func(t *testing.T) {
		t.Setenv("COUNTDOWN_SECONDS", "-1")
		_, err := Load()
		assert.Error(t, err)
	})
}
