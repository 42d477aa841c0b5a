package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/amaumene/grainlink/internal/config"
	"github.com/amaumene/grainlink/internal/mediasync"
	"github.com/amaumene/grainlink/internal/models"
	"github.com/amaumene/grainlink/internal/services/release"
	"github.com/amaumene/grainlink/internal/updater"
	"github.com/amaumene/grainlink/internal/utils"
	"github.com/amaumene/grainlink/internal/version"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "grainlink",
		Short:         "Signage client: self-update, media sync and looping playback",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			binary, err := run(cmd.Context())
			if err != nil {
				return err
			}
			if binary != "" {
				return updater.Exec(binary)
			}
			return nil
		},
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "sync",
			Short: "Run a single media sync and print its progress",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runSync(cmd.Context(), cmd.OutOrStdout())
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the version",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintln(cmd.OutOrStdout(), version.Version)
			},
		},
	)
	return root
}

// setup loads configuration and the logger shared by every command
func setup() (*config.Config, *logrus.Logger, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	out := io.Writer(os.Stdout)
	closeLog := func() {}
	logFile, err := utils.OpenLogFile(cfg.LogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	} else {
		out = io.MultiWriter(os.Stdout, logFile)
		closeLog = func() { logFile.Close() }
	}

	logger := utils.NewLogger(cfg.LogLevel, cfg.LogFormat, out)
	logger.WithFields(logrus.Fields{
		"data_dir": cfg.DataDir,
		"site_id":  cfg.SiteID,
	}).Info("Configuration loaded")
	return cfg, logger, closeLog, nil
}

func newSyncEngine(cfg *config.Config, releases *release.Client, db *models.Database, logger *logrus.Logger) *mediasync.Engine {
	return mediasync.NewEngine(mediasync.Options{
		MediaDir:  cfg.MediaDir,
		MetaFile:  cfg.MetaFile,
		TempDir:   cfg.DataDir,
		AssetName: cfg.MediaAssetName(),
	}, releases, db, logger)
}

func runSync(ctx context.Context, out io.Writer) error {
	cfg, logger, closeLog, err := setup()
	if err != nil {
		return err
	}
	defer closeLog()

	db, err := models.NewDatabase(cfg.DatabaseFile)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	releases := release.NewClient(cfg, logger)
	engine := newSyncEngine(cfg, releases, db, logger)

	var archiveURL string
	if cfg.ManifestURL != "" {
		manifest, err := releases.FetchManifest(ctx)
		if err != nil {
			logger.WithError(err).Warn("Failed to fetch manifest, using release asset")
		} else {
			archiveURL = manifest.MediaURL()
		}
	}

	sub := engine.CheckAndSync(ctx, archiveURL)
	for st := range sub.Updates() {
		fmt.Fprintf(out, "%-12s %3d%%  %s\n", st.Phase, st.Progress, st.Message)
	}

	result := sub.Result()
	if result.Phase != models.SyncCompleted {
		return fmt.Errorf("media sync failed: %s", result.Message)
	}
	if result.DownloadedFiles > 0 {
		fmt.Fprintf(out, "%d files in %s\n", result.DownloadedFiles, filepath.Clean(cfg.MediaDir))
	}
	return nil
}
