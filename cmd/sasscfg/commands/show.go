package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/techblog/sasscfg/pkg/config"
)

func newShowCommand() *cobra.Command {
	var (
		format   string
		defaults bool
	)

	cmd := &cobra.Command{
		Use:   "show [path]",
		Short: "Print the settings record",
		Long: `Print the settings record in any supported output format.

With --defaults, settings absent from the file are filled with the Compass
defaults for its project type, so the output is the record the compiler
would use.`,
		Example: `  # Effective settings as YAML
  sasscfg show --defaults --format yaml

  # Convert a YAML settings file to config.rb
  sasscfg show --format rb config.yaml > config.rb`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := config.Format(format)
			if jsonOutput {
				f = config.FormatJSON
			}
			switch f {
			case config.FormatRuby, config.FormatYAML, config.FormatJSON, config.FormatCUE:
			default:
				return fmt.Errorf("%w: %s (must be rb, yaml, json or cue)", config.ErrUnsupportedFormat, format)
			}

			lc, err := loadSettings(cmd.Context(), args, defaults)
			if err != nil {
				return err
			}

			return config.Render(cmd.OutOrStdout(), lc.Project, f)
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", string(config.FormatRuby), "output format (rb, yaml, json, cue)")
	cmd.Flags().BoolVar(&defaults, "defaults", false, "fill absent settings with the Compass defaults")

	return cmd
}

func newGetCommand() *cobra.Command {
	var defaults bool

	cmd := &cobra.Command{
		Use:   "get <key> [path]",
		Short: "Print one setting",
		Long: `Print the value of one setting. Strings and symbols print without
quotes, booleans as true or false, and requires as one plugin per line.`,
		Example: `  sasscfg get css_dir
  sasscfg get --defaults http_fonts_path ./site`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			if key != "requires" && !config.IsKnownKey(key) {
				return fmt.Errorf("%w: %s", config.ErrUnknownKey, key)
			}

			lc, err := loadSettings(cmd.Context(), args[1:], defaults)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if key == "requires" {
				if jsonOutput {
					reqs := lc.Project.Requires
					if reqs == nil {
						reqs = []string{}
					}
					return printJSON(out, reqs)
				}
				for _, r := range lc.Project.Requires {
					fmt.Fprintln(out, r)
				}
				return nil
			}

			v, _ := lc.Project.Get(key)
			if jsonOutput {
				return printJSON(out, v.Interface())
			}
			fmt.Fprintln(out, v.String())
			return nil
		},
	}

	cmd.Flags().BoolVar(&defaults, "defaults", false, "fill absent settings with the Compass defaults")

	return cmd
}

func newPathsCommand() *cobra.Command {
	var root string

	cmd := &cobra.Command{
		Use:   "paths [path]",
		Short: "Print resolved directories and public URLs",
		Long: `Print the project directories resolved against the project root, and
the public URL prefix of each published asset kind. Absent settings use the
Compass defaults.`,
		Example: `  sasscfg paths
  sasscfg paths --root /srv/site ./site/config.rb`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := resolveTarget(args)
			if err != nil {
				return err
			}

			lc, err := loadSettings(cmd.Context(), []string{path}, true)
			if err != nil {
				return err
			}

			if root == "" {
				root = config.ProjectRoot(path)
			}

			paths, err := config.Resolve(lc.Project, root)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				return printJSON(out, paths)
			}

			rows := [][2]string{
				{"root", paths.Root},
				{"css_dir", paths.CSSDir},
				{"sass_dir", paths.SassDir},
				{"images_dir", paths.ImagesDir},
				{"fonts_dir", paths.FontsDir},
				{"http_path", paths.HTTPPath},
				{"http_stylesheets_path", paths.HTTPStylesheetsPath},
				{"http_images_path", paths.HTTPImagesPath},
				{"http_generated_images_path", paths.HTTPGeneratedImagesPath},
				{"http_fonts_path", paths.HTTPFontsPath},
			}
			for _, row := range rows {
				fmt.Fprintf(out, "%-27s %s\n", row[0], row[1])
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&root, "root", "", "project root (default: the directory holding the settings file)")

	return cmd
}
