package commands

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/techblog/sasscfg/pkg/config"
)

func newInitCommand() *cobra.Command {
	var (
		projectType string
		force       bool
	)

	cmd := &cobra.Command{
		Use:   "init [dir]",
		Short: "Write a default config.rb",
		Long: `Write a config.rb with the Compass defaults for the project type.

Existing files are kept unless --force is given.`,
		Example: `  # Stand-alone project in the current directory
  sasscfg init

  # Rails layout in ./site
  sasscfg init --project-type rails ./site`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) > 0 {
				dir = args[0]
			}

			pt := config.ProjectType(projectType)
			if pt != config.ProjectTypeStandAlone && pt != config.ProjectTypeRails {
				return fmt.Errorf("invalid project type %q (must be stand_alone or rails)", projectType)
			}

			path := filepath.Join(dir, "config.rb")
			if !force {
				if _, err := os.Stat(path); err == nil {
					return fmt.Errorf("%s already exists (use --force to overwrite)", path)
				} else if !errors.Is(err, os.ErrNotExist) {
					return fmt.Errorf("failed to stat %s: %w", path, err)
				}
			}

			if err := os.MkdirAll(dir, 0755); err != nil {
				return fmt.Errorf("failed to create directory %s: %w", dir, err)
			}

			content := config.RenderRuby(config.Defaults(pt))
			if err := os.WriteFile(path, []byte(content), 0644); err != nil {
				return fmt.Errorf("failed to write %s: %w", path, err)
			}

			log.Info().
				Str("path", path).
				Str("project_type", projectType).
				Msg("Settings file written")

			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}

	cmd.Flags().StringVar(&projectType, "project-type", string(config.ProjectTypeStandAlone), "project type (stand_alone, rails)")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config.rb")

	return cmd
}
