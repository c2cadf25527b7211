// Package publish drives the upload of the generated summary CSVs onto
// their hosted feature layers. One run updates all four targets; a
// failing target is recorded and the remaining targets are still
// attempted, so a single bad layer never blocks the others.
package publish

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/arboretum-dashboard/agosync/internal/arcgis"
	"github.com/arboretum-dashboard/agosync/internal/config"
	"github.com/arboretum-dashboard/agosync/internal/summary"
)

// Target binds one summary CSV to its hosted feature-layer item.
type Target struct {
	Name        string // short label used in logs and errors
	File        string // CSV file name under the data directory
	ItemID      string
	TimeEnabled bool // daily layers get a time-enabled date field
}

// Targets returns the four fixed publish targets for the configuration.
func Targets(cfg *config.Config) []Target {
	return []Target{
		{Name: "dendrometer-average", File: summary.OutputDendroAvg, ItemID: cfg.DendroAvgItemID},
		{Name: "dendrometer-daily", File: summary.OutputDendroDaily, ItemID: cfg.DendroDailyItemID, TimeEnabled: true},
		{Name: "tms-average", File: summary.OutputTMSAvg, ItemID: cfg.TMSAvgItemID},
		{Name: "tms-daily", File: summary.OutputTMSDaily, ItemID: cfg.TMSDailyItemID, TimeEnabled: true},
	}
}

// Publisher uploads the summary CSVs to ArcGIS Online.
type Publisher struct {
	client   *arcgis.Client
	log      *zap.SugaredLogger
	dir      string
	username string
	password string
	targets  []Target
}

// New creates a Publisher for the given client and configuration. The
// CSVs are read from cfg.DataDir.
func New(client *arcgis.Client, cfg *config.Config, log *zap.SugaredLogger) *Publisher {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Publisher{
		client:   client,
		log:      log,
		dir:      cfg.DataDir,
		username: cfg.Username,
		password: cfg.Password,
		targets:  Targets(cfg),
	}
}

// Run verifies the local inputs, authenticates once, and updates every
// target. Local verification failures and authentication failures abort
// before any layer is touched; per-target upload failures are aggregated
// and returned after all targets were attempted.
func (p *Publisher) Run(ctx context.Context) error {
	runID := uuid.NewString()[:8]
	log := p.log.With("run", runID)

	if err := p.checkInputs(); err != nil {
		return err
	}

	if err := p.client.GenerateToken(ctx, p.username, p.password); err != nil {
		return err
	}
	log.Infow("authenticated to arcgis online")

	var errs error
	for _, target := range p.targets {
		if err := p.publishTarget(ctx, target); err != nil {
			log.Errorw("target failed", "target", target.Name, "error", err)
			errs = multierr.Append(errs, fmt.Errorf("target %s: %w", target.Name, err))
			continue
		}
		log.Infow("target updated", "target", target.Name, "item", target.ItemID)
	}

	return errs
}

// checkInputs ensures every target's CSV exists and is non-empty before
// any network call is made. An empty or missing upload file means the
// sync or summary step went wrong; publishing it would empty the layer.
func (p *Publisher) checkInputs() error {
	for _, target := range p.targets {
		path := filepath.Join(p.dir, target.File)
		info, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("upload file for target %s missing: %w", target.Name, err)
		}
		if info.Size() == 0 {
			return fmt.Errorf("upload file for target %s is empty: %s", target.Name, path)
		}
	}
	return nil
}

func (p *Publisher) publishTarget(ctx context.Context, target Target) error {
	item, err := p.client.Item(ctx, target.ItemID)
	if err != nil {
		return err
	}

	path := filepath.Join(p.dir, target.File)
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	if err := p.client.UpdateItemData(ctx, item.Owner, item.ID, target.File, f); err != nil {
		return err
	}

	svc, err := p.client.PublishOverwrite(ctx, item.Owner, item.ID, serviceName(target.File))
	if err != nil {
		return err
	}

	if target.TimeEnabled && svc.ServiceURL != "" {
		if err := p.client.EnableTime(ctx, svc.ServiceURL, "date"); err != nil {
			return err
		}
	}

	return nil
}

// serviceName derives the hosted service name from the CSV file name,
// matching how the services were originally published.
func serviceName(file string) string {
	return strings.TrimSuffix(file, filepath.Ext(file))
}
