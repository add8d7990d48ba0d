package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Setenv("BLUESKY_IDENTIFIER", "me.test")
	t.Setenv("BLUESKY_APP_PASSWORD", "xxxx-xxxx-xxxx-xxxx")
	t.Setenv("DATABASE_URL", "sqlite://:memory:")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "https://bsky.social", cfg.PDS)
	assert.Equal(t, "https://bsky.app", cfg.WebURL)
	assert.Equal(t, 3000, cfg.Port)
	assert.Equal(t, 5.0, cfg.APIRate)
	assert.Equal(t, 10, cfg.APIBurst)
	assert.True(t, cfg.AutoMigrate)
	assert.Equal(t, 50, cfg.StreamFlushSize)
	assert.Equal(t, 10*time.Second, cfg.StreamFlushInterval)
	assert.Zero(t, cfg.RetentionMaxAge)
	assert.Equal(t, "vader", cfg.Classifier)
	assert.Empty(t, cfg.StreamRules)
}

func TestLoadFailsFastWithoutCredentials(t *testing.T) {
	t.Setenv("BLUESKY_IDENTIFIER", "")
	t.Setenv("BLUESKY_APP_PASSWORD", "")
	t.Setenv("DATABASE_URL", "sqlite://:memory:")

	_, err := Load()
	assert.ErrorContains(t, err, "BLUESKY_IDENTIFIER")
}

func TestLoadDatabaseURLFallback(t *testing.T) {
	setRequired(t)
	t.Setenv("DATABASE_URL", "")
	t.Setenv("DB_URL", "postgres://localhost/bluesky")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "postgres://localhost/bluesky", cfg.DatabaseURL)

	t.Setenv("DB_URL", "")
	_, err = Load()
	assert.ErrorContains(t, err, "DATABASE_URL")
}

func TestLoadRejectsBadValues(t *testing.T) {
	setRequired(t)

	t.Setenv("PORT", "eighty")
	_, err := Load()
	assert.ErrorContains(t, err, "PORT")
	t.Setenv("PORT", "")

	t.Setenv("RETENTION_MAX_AGE", "forever")
	_, err = Load()
	assert.ErrorContains(t, err, "RETENTION_MAX_AGE")
	t.Setenv("RETENTION_MAX_AGE", "")

	t.Setenv("RETENTION_MAX_AGE", "168h")
	for _, interval := range []string{"0s", "-1m"} {
		t.Setenv("RETENTION_INTERVAL", interval)
		_, err = Load()
		assert.ErrorContains(t, err, "RETENTION_INTERVAL", interval)
	}
	t.Setenv("RETENTION_INTERVAL", "0s")
	t.Setenv("RETENTION_MAX_AGE", "")
	_, err = Load()
	assert.NoError(t, err, "interval is unused while retention is off")
	t.Setenv("RETENTION_INTERVAL", "")

	t.Setenv("RETENTION_MAX_AGE", "-1h")
	_, err = Load()
	assert.ErrorContains(t, err, "RETENTION_MAX_AGE")
	t.Setenv("RETENTION_MAX_AGE", "")

	t.Setenv("CLASSIFIER", "hugot")
	_, err = Load()
	assert.ErrorContains(t, err, "CLASSIFIER_MODEL_PATH")
}

func TestLoadStreamRules(t *testing.T) {
	setRequired(t)
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
rules:
  - name: golang
    keywords: [golang, "go 1.25"]
    langs: [en]
  - name: bluesky
    keywords: [bluesky]
`), 0o600))
	t.Setenv("STREAM_RULES_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)
	require.Len(t, cfg.StreamRules, 2)
	assert.Equal(t, "golang", cfg.StreamRules[0].Name)
	assert.Equal(t, []string{"golang", "go 1.25"}, cfg.StreamRules[0].Keywords)
	assert.Equal(t, []string{"en"}, cfg.StreamRules[0].Langs)
	assert.Empty(t, cfg.StreamRules[1].Langs)
}

func TestLoadStreamRulesRequiresKeywords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rules:\n  - name: empty\n"), 0o600))

	_, err := LoadStreamRules(path)
	assert.Error(t, err)
}

func TestLoadEnvFiles(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	require.NoError(t, LoadEnvFiles(), "missing .env is not an error")

	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("BLUESKY_TEST_ONLY_VAR=from-file\n"), 0o600))
	t.Setenv("BLUESKY_TEST_ONLY_VAR", "")
	os.Unsetenv("BLUESKY_TEST_ONLY_VAR")

	require.NoError(t, LoadEnvFiles())
	assert.Equal(t, "from-file", os.Getenv("BLUESKY_TEST_ONLY_VAR"))
}
