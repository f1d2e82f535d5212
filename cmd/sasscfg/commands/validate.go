package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/techblog/sasscfg/pkg/config"
	"github.com/techblog/sasscfg/pkg/telemetry"
)

type validateReport struct {
	Source      string                   `json:"source"`
	Format      config.Format            `json:"format"`
	Digest      string                   `json:"digest,omitempty"`
	Valid       bool                     `json:"valid"`
	Diagnostics []config.ValidationError `json:"diagnostics"`
}

func newValidateCommand() *cobra.Command {
	var (
		schemas  []string
		defaults bool
	)

	cmd := &cobra.Command{
		Use:   "validate [path]",
		Short: "Validate a settings file",
		Long: `Validate a settings file against the settings schema.

This command checks:
  - Syntax of the source format
  - Value types and enumerations
  - That every setting has a value (unless --defaults fills it)
  - Extra CUE constraints given with --schema`,
		Example: `  # Validate the settings file in the current directory
  sasscfg validate

  # Unknown keys are errors
  sasscfg validate --strict ./site/config.rb

  # House rules on top of the built-in schema
  sasscfg validate --schema ./house.cue`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			path, err := resolveTarget(args)
			if err != nil {
				return err
			}

			loader, err := newLoader(defaults, schemas)
			if err != nil {
				return err
			}

			log.Debug().
				Str("path", path).
				Bool("strict", strict).
				Strs("schemas", schemas).
				Msg("Validating settings")

			lc, err := telemetry.TrackLoad(ctx, path, func(ctx context.Context) (*config.LoadedConfig, error) {
				return loader.Load(ctx, path)
			})

			var invalid *config.InvalidError
			if err != nil && !errors.As(err, &invalid) {
				return err
			}

			report := validateReport{
				Source:      lc.Source,
				Format:      lc.Format,
				Digest:      lc.Digest,
				Valid:       err == nil,
				Diagnostics: lc.Diagnostics,
			}
			if report.Diagnostics == nil {
				report.Diagnostics = []config.ValidationError{}
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				if err := printJSON(out, report); err != nil {
					return err
				}
			} else {
				for _, d := range report.Diagnostics {
					fmt.Fprintln(out, d.String())
				}
				if report.Valid {
					fmt.Fprintf(out, "%s: ok\n", report.Source)
				}
			}

			if !report.Valid {
				return &ExitError{Code: 1, Msg: fmt.Sprintf("%s is invalid (%d errors)", report.Source, len(invalid.Findings))}
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&schemas, "schema", nil, "extra CUE schema files unified with #Project")
	cmd.Flags().BoolVar(&defaults, "defaults", false, "fill absent settings with the Compass defaults before validating")

	return cmd
}
