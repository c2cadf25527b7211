package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/arboretum-dashboard/agosync/internal/arcgis"
	"github.com/arboretum-dashboard/agosync/internal/config"
	"github.com/arboretum-dashboard/agosync/internal/gitsync"
	"github.com/arboretum-dashboard/agosync/internal/publish"
	"github.com/arboretum-dashboard/agosync/internal/summary"
)

func newSyncCmd(debug *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Pull the data folders from the dashboard repository and commit them",
		RunE: func(cmd *cobra.Command, args []string) error {
			log, cfg, err := setup(*debug)
			if err != nil {
				return err
			}

			_, err = syncData(log, cfg)
			if errors.Is(err, gitsync.ErrNoChanges) {
				log.Infow("dashboard data already up to date")
				return nil
			}
			return err
		},
	}
}

func newPublishCmd(debug *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "publish",
		Short: "Rebuild the summary CSVs and overwrite the hosted feature layers",
		RunE: func(cmd *cobra.Command, args []string) error {
			log, cfg, err := setup(*debug)
			if err != nil {
				return err
			}
			return publishData(cmd.Context(), log, cfg)
		},
	}
}

func newRunCmd(debug *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Sync the dashboard data, then publish (the automatic chain)",
		RunE: func(cmd *cobra.Command, args []string) error {
			log, cfg, err := setup(*debug)
			if err != nil {
				return err
			}

			_, err = syncData(log, cfg)
			if err != nil && !errors.Is(err, gitsync.ErrNoChanges) {
				return err
			}
			// Publishing is unconditional: a manual trigger with no new
			// commits must produce the same remote state as an automatic
			// one.
			return publishData(cmd.Context(), log, cfg)
		},
	}
}

func newWatchCmd(debug *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Poll the dashboard repository and run the sync-publish chain on new commits",
		RunE: func(cmd *cobra.Command, args []string) error {
			log, cfg, err := setup(*debug)
			if err != nil {
				return err
			}
			return watch(cmd.Context(), log, cfg)
		},
	}
}

// setup builds the logger and loads the validated configuration. Every
// command fails here, before any network call, when a required value is
// missing.
func setup(debug bool) (*zap.SugaredLogger, *config.Config, error) {
	log, err := newLogger(debug)
	if err != nil {
		return nil, nil, err
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}

	return log, cfg, nil
}

func dashboardClient(log *zap.SugaredLogger, cfg *config.Config) (*gitsync.Client, error) {
	if err := cfg.RequireDashboard(); err != nil {
		return nil, err
	}

	var auth *gitsync.Auth
	if cfg.GitToken != "" {
		auth = &gitsync.Auth{Username: cfg.GitUsername, Token: cfg.GitToken}
	}

	return gitsync.NewClient(cfg.DashboardRepoURL, cfg.DashboardBranch, auth, log)
}

func syncData(log *zap.SugaredLogger, cfg *config.Config) (string, error) {
	client, err := dashboardClient(log, cfg)
	if err != nil {
		return "", err
	}

	hash, err := client.Sync(cfg.DataDir, gitsync.DataFolders)
	if err != nil {
		return "", err
	}

	log.Infow("dashboard data synced", "commit", hash)
	return hash, nil
}

func publishData(ctx context.Context, log *zap.SugaredLogger, cfg *config.Config) error {
	opts := summary.DefaultOptions(cfg.DataDir, cfg.ImageURLTemplate)
	if _, err := summary.Generate(opts, log); err != nil {
		return fmt.Errorf("failed to generate summary CSVs: %w", err)
	}

	client, err := arcgis.NewClient(cfg.OrgURL,
		arcgis.WithTimeout(cfg.RequestTimeout),
		arcgis.WithLogger(log),
	)
	if err != nil {
		return err
	}

	return publish.New(client, cfg, log).Run(ctx)
}

// watch keeps a clone of the dashboard repository and polls it on the
// configured interval; when the branch moves, the sync-publish chain runs.
// Terminates cleanly on SIGINT/SIGTERM.
func watch(ctx context.Context, log *zap.SugaredLogger, cfg *config.Config) error {
	client, err := dashboardClient(log, cfg)
	if err != nil {
		return err
	}

	cloneDir, err := os.MkdirTemp("", "agosync-watch-")
	if err != nil {
		return fmt.Errorf("failed to create watch directory: %w", err)
	}
	defer os.RemoveAll(cloneDir)

	if _, err := client.Clone(cloneDir); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Infow("watching dashboard repository", "interval", cfg.PollInterval.String())
	ticker := time.NewTicker(cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Infow("watch stopped")
			return nil
		case <-ticker.C:
			if err := watchTick(ctx, log, cfg, client, cloneDir); err != nil {
				// A failed cycle is logged and retried on the next tick;
				// the watcher itself stays up.
				log.Errorw("sync-publish cycle failed", "error", err)
			}
		}
	}
}

func watchTick(ctx context.Context, log *zap.SugaredLogger, cfg *config.Config, client *gitsync.Client, cloneDir string) error {
	hasNew, commits, err := client.CheckForNewCommits(cloneDir)
	if err != nil {
		return err
	}
	if !hasNew {
		log.Debugw("no new dashboard commits")
		return nil
	}
	log.Infow("new dashboard commits found", "count", len(commits))

	if err := client.Pull(cloneDir); err != nil {
		return err
	}
	if err := gitsync.SyncFolders(cloneDir, cfg.DataDir, gitsync.DataFolders); err != nil {
		return err
	}
	if _, err := client.CommitAndPush(cfg.DataDir, gitsync.DataFolders); err != nil && !errors.Is(err, gitsync.ErrNoChanges) {
		return err
	}

	return publishData(ctx, log, cfg)
}
