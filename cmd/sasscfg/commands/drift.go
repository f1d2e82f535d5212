package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/techblog/sasscfg/pkg/config"
	"github.com/techblog/sasscfg/pkg/stores"
	"github.com/techblog/sasscfg/pkg/telemetry"
)

// driftExitCode is returned by drift --fail when settings changed.
const driftExitCode = 2

type driftReport struct {
	Source   string          `json:"source"`
	Snapshot string          `json:"snapshot"`
	Drifted  bool            `json:"drifted"`
	Changes  []config.Change `json:"changes"`
}

func newDriftCommand() *cobra.Command {
	var (
		dbPath   string
		against  string
		fail     bool
		defaults bool
	)

	cmd := &cobra.Command{
		Use:   "drift [path]",
		Short: "Compare a settings file with its latest snapshot",
		Long: `Report the settings that changed since a snapshot.

The file is compared with its latest snapshot, or with the snapshot named
by --against (an ID or unique ID prefix). Each changed setting prints as
"key: old -> new". With --fail the command exits with status 2 when a
setting changed.`,
		Example: `  sasscfg drift
  sasscfg drift --against 3f2a91c0 --fail`,
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

			var base *stores.Snapshot
			if against != "" {
				err = telemetry.TrackSnapshot(ctx, "get", source, func(ctx context.Context) error {
					var err error
					base, err = store.GetSnapshot(ctx, against)
					return err
				})
			} else {
				base, err = latestSnapshot(ctx, store, source)
				if err == nil && base == nil {
					err = fmt.Errorf("%w for %s (run sasscfg snapshot first)", stores.ErrNotFound, lc.Source)
				}
			}
			if err != nil {
				return err
			}

			changes := config.Diff(base.Project, lc.Project)
			telemetry.TrackDrift(ctx, source, changes)

			report := driftReport{
				Source:   lc.Source,
				Snapshot: base.ID,
				Drifted:  len(changes) > 0,
				Changes:  changes,
			}
			if report.Changes == nil {
				report.Changes = []config.Change{}
			}

			if jsonOutput {
				if err := printJSON(out, report); err != nil {
					return err
				}
			} else if !report.Drifted {
				fmt.Fprintf(out, "%s: no drift since snapshot %s\n", lc.Source, shortID(base.ID))
			} else {
				for _, c := range changes {
					fmt.Fprintln(out, formatChange(c))
				}
				fmt.Fprintf(out, "%d settings changed since snapshot %s (%s)\n",
					len(changes), shortID(base.ID), base.CreatedAt.Local().Format("2006-01-02 15:04:05"))
			}

			if fail && report.Drifted {
				return &ExitError{Code: driftExitCode, Msg: fmt.Sprintf("%s drifted from snapshot %s", lc.Source, shortID(base.ID))}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "", "history database (default: $SASSCFG_DB or .sasscfg/history.db next to the settings file)")
	cmd.Flags().StringVar(&against, "against", "", "snapshot ID to compare with (default: latest)")
	cmd.Flags().BoolVar(&fail, "fail", false, "exit with status 2 when settings drifted")
	cmd.Flags().BoolVar(&defaults, "defaults", false, "fill absent settings with the Compass defaults before comparing")

	return cmd
}
