package config_test

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stepline/internal/config"
)

func TestDefault(t *testing.T) {
	cfg := config.Default()
	require.NoError(t, cfg.Validate())
	assert.False(t, cfg.Dev)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.True(t, cfg.Workflow.AutoStart)
	assert.Equal(t, "127.0.0.1:8080", cfg.Server.Addr)
	assert.Equal(t, "/v0", cfg.Server.BasePath)
	assert.True(t, cfg.Server.AllowActorHeader)
}

func TestFromYAML(t *testing.T) {
	t.Run("Should overlay the file on the defaults", func(t *testing.T) {
		cfg, err := config.FromYAML([]byte("dev: true\nserver:\n  jwt_secret: s3cret\n  allow_actor_header: false\n"))
		require.NoError(t, err)
		assert.True(t, cfg.Dev)
		assert.Equal(t, "s3cret", cfg.Server.JWTSecret)
		assert.False(t, cfg.Server.AllowActorHeader)
		assert.Equal(t, "127.0.0.1:8080", cfg.Server.Addr)
		assert.True(t, cfg.Workflow.AutoStart)
	})

	t.Run("Should reject invalid files", func(t *testing.T) {
		cases := map[string]string{
			"unknown key":   "colour: red\n",
			"bad level":     "log:\n  level: loud\n",
			"bad base path": "server:\n  base_path: v1\n",
			"no identity":   "server:\n  allow_actor_header: false\n",
			"empty addr":    "server:\n  addr: \"\"\n",
			"not yaml":      "server: [\n",
		}
		for name, data := range cases {
			_, err := config.FromYAML([]byte(data))
			assert.Error(t, err, name)
		}
	})
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()

	_, err := config.Load(dir)
	assert.ErrorContains(t, err, "stepline init")

	cfg, err := config.LoadOptional(dir)
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)

	require.NoError(t, os.WriteFile(config.Path(dir), []byte("workflow:\n  auto_start: false\n"), 0o644))
	cfg, err = config.Load(dir)
	require.NoError(t, err)
	assert.False(t, cfg.Workflow.AutoStart)

	cfg, err = config.FromFile(config.Path(dir))
	require.NoError(t, err)
	assert.False(t, cfg.Workflow.AutoStart)
}
