// Package config loads and validates the agosync runtime configuration.
//
// All configuration comes from the process environment (optionally seeded
// from a .env file by the CLI). Every value required for publishing is
// validated upfront so that a missing credential or item ID is reported
// before any network call is attempted.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/go-playground/validator/v10"
)

// Config holds the full configuration surface of agosync.
//
// The ArcGIS credentials and the four feature-layer item IDs are always
// required. The dashboard repository settings are only needed by the
// sync/run/watch commands and are checked separately via RequireDashboard.
type Config struct {
	// ArcGIS Online organization and credentials.
	OrgURL   string `env:"AGO_ORG_URL,required,notEmpty" validate:"required,url"`
	Username string `env:"AGO_USERNAME,required,notEmpty" validate:"required"`
	Password string `env:"AGO_PASSWORD,required,notEmpty" validate:"required"`

	// Item IDs of the four hosted feature layers, one per summary CSV.
	DendroAvgItemID   string `env:"DENDRO_AVG_ITEMID,required,notEmpty" validate:"required"`
	DendroDailyItemID string `env:"DENDRO_DAILY_ITEMID,required,notEmpty" validate:"required"`
	TMSAvgItemID      string `env:"TMS_AVG_ITEMID,required,notEmpty" validate:"required"`
	TMSDailyItemID    string `env:"TMS_DAILY_ITEMID,required,notEmpty" validate:"required"`

	// Dashboard repository holding the upstream data folders.
	DashboardRepoURL string `env:"DASHBOARD_REPO_URL"`
	DashboardBranch  string `env:"DASHBOARD_BRANCH" envDefault:"main"`
	GitUsername      string `env:"GIT_USERNAME"`
	GitToken         string `env:"GIT_TOKEN"`

	// DataDir is the root of the local repository that carries the mirrored
	// data folders, the JOINED metadata files and the generated CSVs.
	DataDir string `env:"DATA_DIR" envDefault:"."`

	// ImageURLTemplate builds the image_url column of the dendrometer
	// output; "{sensor_id}" is replaced with the sensor's ID.
	ImageURLTemplate string `env:"IMAGE_URL_TEMPLATE" envDefault:"https://danielaggwm.github.io/arboretum/Images/{sensor_id}/1.jpeg"`

	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" envDefault:"60s"`
	PollInterval   time.Duration `env:"POLL_INTERVAL" envDefault:"5m"`
}

// Load reads the configuration from the environment and validates it.
//
// Returns an error naming the offending variable when a required value is
// missing or malformed. No defaults exist for credentials or item IDs.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to load configuration from environment: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// RequireDashboard checks the settings needed to reach the dashboard
// repository. Only the sync-side commands call this; a pure publish run
// does not need a repository URL.
func (c *Config) RequireDashboard() error {
	if c.DashboardRepoURL == "" {
		return fmt.Errorf("DASHBOARD_REPO_URL must be set to sync dashboard data")
	}
	if c.DashboardBranch == "" {
		return fmt.Errorf("DASHBOARD_BRANCH cannot be empty")
	}
	return nil
}
