package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/techblog/sasscfg/pkg/config"
	"github.com/techblog/sasscfg/pkg/stores"
	"github.com/techblog/sasscfg/pkg/telemetry"
)

// saveSnapshot stores lc under its absolute path and publishes a
// snapshot.saved event.
func saveSnapshot(ctx context.Context, store stores.Store, lc *config.LoadedConfig, note string) (*stores.Snapshot, error) {
	source, err := sourceKey(lc.Source)
	if err != nil {
		return nil, err
	}

	snap := stores.NewSnapshot(lc, note)
	snap.Source = source

	err = telemetry.TrackSnapshot(ctx, "save", source, func(ctx context.Context) error {
		return store.SaveSnapshot(ctx, snap)
	})
	if err != nil {
		return nil, err
	}

	if tel := telemetry.FromTelemetryContext(ctx); tel != nil {
		_ = tel.Events.PublishSnapshotSaved(source, snap.ID, snap.Digest)
	}
	return snap, nil
}

// latestSnapshot returns the newest snapshot of source, or nil when there
// is none.
func latestSnapshot(ctx context.Context, store stores.Store, source string) (*stores.Snapshot, error) {
	var snap *stores.Snapshot
	err := telemetry.TrackSnapshot(ctx, "latest", source, func(ctx context.Context) error {
		var err error
		snap, err = store.LatestSnapshot(ctx, source)
		return err
	})
	if errors.Is(err, stores.ErrNotFound) {
		return nil, nil
	}
	return snap, err
}

func newSnapshotCommand() *cobra.Command {
	var (
		dbPath   string
		note     string
		force    bool
		keep     int
		defaults bool
	)

	cmd := &cobra.Command{
		Use:   "snapshot [path]",
		Short: "Record the current settings in the history database",
		Long: `Store a snapshot of a settings file in the history database.

A snapshot is skipped when the file is unchanged since the latest snapshot,
unless --force is given. With --keep, older snapshots of the same file are
pruned after saving.`,
		Example: `  sasscfg snapshot --note "before upgrade"
  sasscfg snapshot --keep 20 ./site/config.rb`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			lc, err := loadSettings(ctx, args, defaults)
			if err != nil {
				return err
			}

			if dbPath == "" {
				dbPath = defaultDBPath(lc.Source)
			}
			store, err := openStore(ctx, dbPath)
			if err != nil {
				return err
			}
			defer store.Close()

			source, err := sourceKey(lc.Source)
			if err != nil {
				return err
			}

			if !force {
				latest, err := latestSnapshot(ctx, store, source)
				if err != nil {
					return err
				}
				if latest != nil && latest.Digest == lc.Digest && len(config.Diff(latest.Project, lc.Project)) == 0 {
					log.Info().
						Str("source", source).
						Str("snapshot", latest.ID).
						Msg("Settings unchanged, snapshot skipped")
					if jsonOutput {
						return printJSON(out, latest)
					}
					fmt.Fprintf(out, "%s unchanged since snapshot %s\n", lc.Source, shortID(latest.ID))
					return nil
				}
			}

			snap, err := saveSnapshot(ctx, store, lc, note)
			if err != nil {
				return err
			}

			if keep > 0 {
				var pruned int64
				err := telemetry.TrackSnapshot(ctx, "prune", source, func(ctx context.Context) error {
					var err error
					pruned, err = store.PruneSnapshots(ctx, source, keep)
					return err
				})
				if err != nil {
					return err
				}
				if pruned > 0 {
					log.Info().
						Str("source", source).
						Int64("pruned", pruned).
						Msg("Pruned old snapshots")
				}
			}

			if jsonOutput {
				return printJSON(out, snap)
			}
			fmt.Fprintf(out, "snapshot %s of %s (digest %s)\n", shortID(snap.ID), lc.Source, shortDigest(snap.Digest))
			return nil
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "", "history database (default: $SASSCFG_DB or .sasscfg/history.db next to the settings file)")
	cmd.Flags().StringVar(&note, "note", "", "note stored with the snapshot")
	cmd.Flags().BoolVar(&force, "force", false, "store a snapshot even if nothing changed")
	cmd.Flags().IntVar(&keep, "keep", 0, "keep only this many snapshots of the file (0 keeps all)")
	cmd.Flags().BoolVar(&defaults, "defaults", false, "store the record with Compass defaults filled in")

	return cmd
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
