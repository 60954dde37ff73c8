package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadEnvDefaults(t *testing.T) {
	t.Setenv("STORE_DRIVER", "sqlite")
	t.Setenv("DATABASE_DSN", "file:bds.db")
	t.Setenv("MART_DSN", "file:mart.db")
	t.Setenv("CRAWL_PAGES", "3")

	cfg := Load()

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "file:bds.db", cfg.Store.DSNFor("warehouse"))
	assert.Equal(t, "file:mart.db", cfg.Store.DSNFor("mart"))
	assert.Equal(t, 3, cfg.Crawl.Pages)
	assert.Equal(t, "System", cfg.Author)
}

func TestLoadYAMLOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bds.yaml")
	body := []byte("store:\n  controlDsn: file:control.db\ncrawl:\n  pages: 7\nserver:\n  scheduleInterval: 6h\ndataDir: /tmp/bds\n")
	require.NoError(t, os.WriteFile(path, body, 0o644))

	t.Setenv("BDS_CONFIG", path)
	t.Setenv("CRAWL_PAGES", "2")

	cfg := Load()

	assert.Equal(t, "file:control.db", cfg.Store.DSNFor("control"))
	assert.Equal(t, 7, cfg.Crawl.Pages, "file values override env")
	assert.Equal(t, 6*time.Hour, cfg.Server.Interval())
	assert.Equal(t, "/tmp/bds", cfg.DataDir)
}

func TestIntervalFallback(t *testing.T) {
	assert.Equal(t, 24*time.Hour, ServerConfig{ScheduleInterval: "soon"}.Interval())
	assert.Equal(t, 24*time.Hour, ServerConfig{ScheduleInterval: "-1h"}.Interval())
	assert.Equal(t, 60*time.Second, CrawlConfig{}.Timeout())
}
