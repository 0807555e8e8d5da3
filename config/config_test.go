package config_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/staffdocs/config"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, 24*time.Hour, cfg.StaleAfter)
	assert.Equal(t, 14, cfg.Rules.FilingLeadDays)
	assert.Equal(t, 1, cfg.Rules.MaxPendingExtensions)
	assert.Equal(t, 1, cfg.Allocator.HorizonMonths)
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
	assert.Equal(t, ":8080", cfg.Addr())
}

func TestLoad_EnvironmentAndEnvFile(t *testing.T) {
	// GIVEN: A .env file setting the port and stale threshold
	//   AND: STALE_AFTER also set in the environment
	// WHEN: Load reads both
	// THEN: The file fills the gaps, the environment wins

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("HTTP_PORT=9090\nSTALE_AFTER=2h\n"), 0o644))
	t.Setenv("STALE_AFTER", "48h")
	t.Setenv("MAX_PENDING_PAID_LEAVE", "5")
	t.Setenv("CORS_ORIGINS", "https://hr.example.edu,https://bot.example.edu")
	t.Cleanup(func() { os.Unsetenv("HTTP_PORT") })

	cfg, err := config.Load(path, filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.HTTPPort)
	assert.Equal(t, 48*time.Hour, cfg.StaleAfter)
	assert.Equal(t, 5, cfg.ValidatorRules().MaxPendingPaidLeave)
	assert.Equal(t, []string{"https://hr.example.edu", "https://bot.example.edu"}, cfg.CORSOrigins)
}

func TestLoad_RejectsInvalidValues(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"HTTP_PORT", "70000"},
		{"LOG_FORMAT", "xml"},
		{"LOG_LEVEL", "loud"},
		{"STALE_AFTER", "0s"},
		{"ALLOC_HORIZON_MONTHS", "0"},
		{"FILING_LEAD_DAYS", "-1"},
		{"HTTP_PORT", "eighty"},
	}
	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := config.Load()
			assert.Error(t, err)
		})
	}
}

func TestLogger_FormatAndLevel(t *testing.T) {
	t.Setenv("LOG_FORMAT", "json")
	t.Setenv("LOG_LEVEL", "warn")
	cfg, err := config.Load()
	require.NoError(t, err)

	var buf bytes.Buffer
	log := cfg.Logger(&buf)
	assert.Equal(t, logrus.WarnLevel, log.GetLevel())

	log.Info("hidden")
	log.Warn("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)
}
