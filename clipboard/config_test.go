package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	req := require.New(t)
	for _, k := range []string{"PORT", "UPLOAD_DIR", "MAX_HISTORY", "SEND_BUFFER", "RELAY", "HTTPS"} {
		t.Setenv(k, "")
		req.NoError(os.Unsetenv(k))
	}

	cfg, err := loadConfig(filepath.Join(t.TempDir(), "missing.env"))
	req.NoError(err)
	req.Equal(3000, cfg.Port)
	req.Equal("./uploads", cfg.UploadDir)
	req.Equal(int64(50<<20), cfg.MaxUpload)
	req.Equal(256, cfg.SendBuffer)
	req.Zero(cfg.MaxHistory)
	req.False(cfg.HTTPS)
	req.Empty(cfg.Relays)
}

func TestLoadConfig_EnvFileAndOverrides(t *testing.T) {
	req := require.New(t)
	t.Setenv("PORT", "4000")
	for _, k := range []string{"MAX_HISTORY", "RELAY"} {
		t.Setenv(k, "")
		req.NoError(os.Unsetenv(k))
	}
	path := filepath.Join(t.TempDir(), ".env")
	req.NoError(os.WriteFile(path, []byte("PORT=5000\nMAX_HISTORY=100\nRELAY= https://a.example , ,https://a.example,https://b.example\n"), 0o600))
	t.Cleanup(func() {
		_ = os.Unsetenv("MAX_HISTORY")
		_ = os.Unsetenv("RELAY")
	})

	cfg, err := loadConfig(path)
	req.NoError(err)
	// process environment wins over the file
	req.Equal(4000, cfg.Port)
	req.Equal(100, cfg.MaxHistory)
	req.Equal([]string{"https://a.example", "https://b.example"}, cfg.Relays)
}

func TestLoadConfig_InvalidNumber(t *testing.T) {
	t.Setenv("PORT", "not-a-port")
	_, err := loadConfig(filepath.Join(t.TempDir(), "missing.env"))
	require.Error(t, err)
}
