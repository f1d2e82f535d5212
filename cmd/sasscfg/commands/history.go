package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/techblog/sasscfg/pkg/config"
	"github.com/techblog/sasscfg/pkg/stores"
	"github.com/techblog/sasscfg/pkg/telemetry"
)

func newHistoryCommand() *cobra.Command {
	var (
		dbPath string
		limit  int
		all    bool
		events bool
		show   string
	)

	cmd := &cobra.Command{
		Use:   "history [path]",
		Short: "List stored snapshots and events",
		Long: `List the snapshots stored for a settings file, newest first.

With --all, snapshots of every file in the database are listed. With
--events, the events recorded by watch --db are listed instead. With
--show, one snapshot is printed as config.rb.`,
		Example: `  sasscfg history
  sasscfg history --events --limit 50
  sasscfg history --show 3f2a91c0 > config.rb`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			var path string
			if !all || dbPath == "" {
				var err error
				if path, err = resolveTarget(args); err != nil {
					return err
				}
			}

			if dbPath == "" {
				dbPath = defaultDBPath(path)
			}
			store, err := openStore(ctx, dbPath)
			if err != nil {
				return err
			}
			defer store.Close()

			source := ""
			if !all {
				if source, err = sourceKey(path); err != nil {
					return err
				}
			}

			if show != "" {
				var snap *stores.Snapshot
				err := telemetry.TrackSnapshot(ctx, "get", source, func(ctx context.Context) error {
					var err error
					snap, err = store.GetSnapshot(ctx, show)
					return err
				})
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(out, snap)
				}
				_, err = fmt.Fprint(out, config.RenderRuby(snap.Project))
				return err
			}

			if events {
				records, err := store.ListEvents(ctx, source, limit)
				if err != nil {
					return err
				}
				if jsonOutput {
					if records == nil {
						records = []*stores.EventRecord{}
					}
					return printJSON(out, records)
				}
				for _, e := range records {
					fmt.Fprintf(out, "%s  %-7s  %-16s  %s\n",
						e.Timestamp.Local().Format("2006-01-02 15:04:05"), e.Level, e.Type, e.Message)
				}
				return nil
			}

			var snaps []*stores.Snapshot
			err = telemetry.TrackSnapshot(ctx, "list", source, func(ctx context.Context) error {
				var err error
				snaps, err = store.ListSnapshots(ctx, source, limit)
				return err
			})
			if err != nil {
				return err
			}

			if jsonOutput {
				if snaps == nil {
					snaps = []*stores.Snapshot{}
				}
				return printJSON(out, snaps)
			}
			for _, s := range snaps {
				line := fmt.Sprintf("%s  %s  %s", shortID(s.ID), s.CreatedAt.Local().Format("2006-01-02 15:04:05"), shortDigest(s.Digest))
				if all {
					line += "  " + s.Source
				}
				if s.Note != "" {
					line += "  " + s.Note
				}
				fmt.Fprintln(out, line)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "", "history database (default: $SASSCFG_DB or .sasscfg/history.db next to the settings file)")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum entries to list (0 lists all)")
	cmd.Flags().BoolVar(&all, "all", false, "list every file in the database")
	cmd.Flags().BoolVar(&events, "events", false, "list recorded events instead of snapshots")
	cmd.Flags().StringVar(&show, "show", "", "print the snapshot with this ID as config.rb")

	return cmd
}
