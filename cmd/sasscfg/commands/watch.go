package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/techblog/sasscfg/pkg/config"
	"github.com/techblog/sasscfg/pkg/policy"
	"github.com/techblog/sasscfg/pkg/stores"
	"github.com/techblog/sasscfg/pkg/telemetry"
)

func newWatchCommand() *cobra.Command {
	var (
		opts        lintOptions
		defaults    bool
		lintChanges bool
		snapshot    bool
		dbPath      string
		metricsAddr string
		debounce    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "watch [path]",
		Short: "Reload a settings file whenever it changes",
		Long: `Watch a settings file and report every change.

Each save reloads the file. Changed settings are printed as
"key: old -> new". A save that does not load keeps the previous settings
and reports the errors. With --lint the lint policies run after each
reload, and policy files given with --policies are reloaded when they
change.

With --db, events are recorded in the history database, and --snapshot also
stores a snapshot of every good reload.`,
		Example: `  # Print changes as config.rb is edited
  sasscfg watch

  # Lint on every save and expose Prometheus metrics
  sasscfg watch --lint --policies ./policies --metrics-addr :9464

  # Record history while watching
  sasscfg watch --db .sasscfg/history.db --snapshot`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			tel := telemetry.FromTelemetryContext(ctx)

			path, err := resolveTarget(args)
			if err != nil {
				return err
			}

			loader, err := newLoader(defaults, nil)
			if err != nil {
				return err
			}

			watcher, err := config.NewWatcher(ctx, loader, path, log.Logger)
			if err != nil {
				return err
			}
			watcher.SetDebounce(debounce)

			initial := watcher.Current()
			logDiagnostics(initial)

			if metricsAddr != "" && tel != nil {
				addr, err := tel.StartMetricsServer(ctx)
				if err != nil {
					return err
				}
				log.Info().Str("addr", addr).Msg("Serving metrics")
			}

			var store *stores.SQLiteStore
			if dbPath != "" || snapshot {
				if dbPath == "" {
					dbPath = defaultDBPath(path)
				}
				store, err = openStore(ctx, dbPath)
				if err != nil {
					return err
				}
				defer func() {
					// Deliver buffered events before the database closes.
					if tel != nil {
						shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
						_ = tel.Events.Shutdown(shutdownCtx)
						cancel()
					}
					store.Close()
				}()

				source, err := sourceKey(path)
				if err != nil {
					return err
				}
				if tel != nil {
					tel.Events.Subscribe(recordEvents(ctx, store, source), nil)
				}
			}

			if tel != nil {
				tel.Events.Subscribe(logEvent, nil)
				_ = tel.Events.PublishConfigLoaded(path, string(initial.Format), initial.Digest, len(initial.ExplicitKeys()))
			}

			var engine *policy.Engine
			if lintChanges {
				engine, err = opts.newEngine(ctx)
				if err != nil {
					return err
				}
				if len(opts.policies) > 0 {
					policyLoader := policy.NewLoader(log.Logger)
					if err := policyLoader.Watch(ctx, opts.policies, engine.ReplaceCustomPolicies); err != nil {
						return err
					}
					defer policyLoader.StopWatching()
				}
				if _, err := lintAndReport(ctx, engine, initial, out); err != nil {
					return err
				}
			}

			fmt.Fprintf(out, "watching %s (digest %s)\n", path, shortDigest(initial.Digest))

			return watcher.Run(ctx, func(lc *config.LoadedConfig, changes []config.Change, loadErr error) {
				telemetry.TrackReload(ctx, path, lc, changes, loadErr)

				if loadErr != nil {
					fmt.Fprintf(out, "%s: reload failed: %v\n", path, loadErr)
					return
				}
				logDiagnostics(lc)

				if len(changes) == 0 {
					fmt.Fprintf(out, "%s: no setting changed\n", path)
				}
				for _, c := range changes {
					fmt.Fprintf(out, "%s: %s\n", path, formatChange(c))
				}

				if snapshot && store != nil && len(changes) > 0 {
					if _, err := saveSnapshot(ctx, store, lc, "watch"); err != nil {
						log.Error().Err(err).Str("path", path).Msg("Failed to save snapshot")
					}
				}

				if engine != nil {
					if _, err := lintAndReport(ctx, engine, lc, out); err != nil {
						log.Error().Err(err).Str("path", path).Msg("Lint failed")
					}
				}
			})
		},
	}

	opts.register(cmd)
	cmd.Flags().BoolVar(&defaults, "defaults", false, "fill absent settings with the Compass defaults")
	cmd.Flags().BoolVar(&lintChanges, "lint", false, "run lint policies after every reload")
	cmd.Flags().BoolVar(&snapshot, "snapshot", false, "store a snapshot of every reload that changes a setting")
	cmd.Flags().StringVar(&dbPath, "db", "", "history database for events and snapshots")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	cmd.Flags().DurationVar(&debounce, "debounce", 500*time.Millisecond, "wait for writes to settle before reloading")

	return cmd
}

// lintAndReport lints lc and prints the outcome. Violation events come
// from the lint telemetry.
func lintAndReport(ctx context.Context, engine *policy.Engine, lc *config.LoadedConfig, out io.Writer) (*policy.PolicyResult, error) {
	result, err := lint(ctx, engine, lc, "watch")
	if err != nil {
		return nil, err
	}
	printLintResult(out, lc.Source, result)
	return result, nil
}

// recordEvents returns a subscriber that persists events to store.
func recordEvents(ctx context.Context, store stores.Store, source string) telemetry.EventSubscriber {
	return func(event telemetry.Event) {
		details := "{}"
		if len(event.Data) > 0 {
			if data, err := json.Marshal(event.Data); err == nil {
				details = string(data)
			}
		}

		record := &stores.EventRecord{
			ID:        event.ID,
			Type:      event.Type,
			Level:     event.Level,
			Source:    source,
			Message:   event.Message,
			Details:   details,
			Timestamp: event.Timestamp,
		}
		if err := store.AppendEvent(context.WithoutCancel(ctx), record); err != nil {
			log.Warn().Err(err).Str("event", event.Type).Msg("Failed to record event")
		}
	}
}

func logEvent(event telemetry.Event) {
	e := log.Info()
	switch event.Level {
	case telemetry.EventLevelWarning:
		e = log.Warn()
	case telemetry.EventLevelError:
		e = log.Error()
	}
	e.Str("event", event.Type).
		Str("path", event.Path).
		Msg(event.Message)
}

func formatChange(c config.Change) string {
	old, new := c.Old, c.New
	if old == "" {
		old = "(unset)"
	}
	if new == "" {
		new = "(unset)"
	}
	return fmt.Sprintf("%s: %s -> %s", c.Key, old, new)
}

func shortDigest(digest string) string {
	if len(digest) > 12 {
		return digest[:12]
	}
	return digest
}
