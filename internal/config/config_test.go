package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("AGO_ORG_URL", "https://example.maps.arcgis.com")
	t.Setenv("AGO_USERNAME", "publisher")
	t.Setenv("AGO_PASSWORD", "s3cret")
	t.Setenv("DENDRO_AVG_ITEMID", "a1b2c3")
	t.Setenv("DENDRO_DAILY_ITEMID", "d4e5f6")
	t.Setenv("TMS_AVG_ITEMID", "0718ab")
	t.Setenv("TMS_DAILY_ITEMID", "cd9e0f")
}

func TestLoad_AllRequiredSet(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://example.maps.arcgis.com", cfg.OrgURL)
	assert.Equal(t, "publisher", cfg.Username)
	assert.Equal(t, "a1b2c3", cfg.DendroAvgItemID)
	assert.Equal(t, "cd9e0f", cfg.TMSDailyItemID)

	// Defaults
	assert.Equal(t, "main", cfg.DashboardBranch)
	assert.Equal(t, ".", cfg.DataDir)
	assert.Equal(t, 60*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 5*time.Minute, cfg.PollInterval)
}

func TestLoad_MissingItemIDFails(t *testing.T) {
	itemVars := []string{
		"DENDRO_AVG_ITEMID",
		"DENDRO_DAILY_ITEMID",
		"TMS_AVG_ITEMID",
		"TMS_DAILY_ITEMID",
	}

	for _, missing := range itemVars {
		t.Run(missing, func(t *testing.T) {
			setRequiredEnv(t)
			t.Setenv(missing, "")

			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), missing)
		})
	}
}

func TestLoad_MissingCredentialsFails(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("AGO_PASSWORD", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AGO_PASSWORD")
}

func TestLoad_InvalidOrgURLFails(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("AGO_ORG_URL", "not a url")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestRequireDashboard(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Error(t, cfg.RequireDashboard())

	t.Setenv("DASHBOARD_REPO_URL", "https://github.com/example/dashboard.git")
	cfg, err = Load()
	require.NoError(t, err)
	assert.NoError(t, cfg.RequireDashboard())
}
