package commands

import (
	"context"
	"fmt"
	"io"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/techblog/sasscfg/pkg/config"
	"github.com/techblog/sasscfg/pkg/policy"
	"github.com/techblog/sasscfg/pkg/telemetry"
)

// lintOptions are the flags shared by lint and watch.
type lintOptions struct {
	policies     []string
	knownPlugins []string
	disabled     []string
}

func (o *lintOptions) register(cmd *cobra.Command) {
	cmd.Flags().StringSliceVar(&o.policies, "policies", nil, "policy files or directories (.rego, .json)")
	cmd.Flags().StringSliceVar(&o.knownPlugins, "known-plugin", nil, "additional plugins accepted by the known-plugins policy")
	cmd.Flags().StringSliceVar(&o.disabled, "disable", nil, "policies to skip")
}

// newEngine builds a policy engine with the built-in policies and any
// policies from the flags.
func (o *lintOptions) newEngine(ctx context.Context) (*policy.Engine, error) {
	engine, err := policy.NewEngine(log.Logger)
	if err != nil {
		return nil, err
	}

	if len(o.knownPlugins) > 0 {
		known := append(append([]string(nil), policy.DefaultKnownPlugins...), o.knownPlugins...)
		if err := engine.SetKnownPlugins(ctx, known); err != nil {
			return nil, err
		}
	}

	if len(o.policies) > 0 {
		if err := engine.LoadPolicies(ctx, o.policies); err != nil {
			return nil, err
		}
	}

	for _, name := range o.disabled {
		if err := engine.DisablePolicy(name); err != nil {
			return nil, err
		}
	}

	return engine, nil
}

// lint evaluates lc with engine under telemetry.
func lint(ctx context.Context, engine *policy.Engine, lc *config.LoadedConfig, operation string) (*policy.PolicyResult, error) {
	return telemetry.TrackLint(ctx, lc.Source, func(ctx context.Context) (*policy.PolicyResult, error) {
		return engine.Evaluate(ctx, lc, &policy.PolicyContext{Operation: operation})
	})
}

func printLintResult(w io.Writer, source string, result *policy.PolicyResult) {
	for _, v := range result.Violations {
		if v.Key != "" {
			fmt.Fprintf(w, "%s: %s: %s: %s (%s)\n", source, v.Severity, v.Key, v.Message, v.Policy)
		} else {
			fmt.Fprintf(w, "%s: %s: %s (%s)\n", source, v.Severity, v.Message, v.Policy)
		}
		if v.Remediation != "" {
			fmt.Fprintf(w, "    %s\n", v.Remediation)
		}
	}
	for _, warning := range result.Warnings {
		fmt.Fprintf(w, "%s: policy warning: %s\n", source, warning)
	}

	summary := result.Summary()
	blocking := summary.ViolationsBySeverity[policy.SeverityError] + summary.ViolationsBySeverity[policy.SeverityCritical]
	fmt.Fprintf(w, "%d policies, %d violations (%d blocking)\n",
		summary.TotalPolicies, summary.TotalViolations, blocking)
}

func newLintCommand() *cobra.Command {
	var (
		opts     lintOptions
		defaults bool
		list     bool
	)

	cmd := &cobra.Command{
		Use:   "lint [path]",
		Short: "Check a settings file against lint policies",
		Long: `Evaluate Rego lint policies against a settings file.

Built-in policies:
  - http-paths-rooted            public URLs start with / or a scheme
  - separate-output-dir          css_dir is neither sass_dir nor inside it
  - compressed-without-comments  no line comments with compressed output
  - known-plugins                required plugins are known extensions

The command exits non-zero when a violation has error or critical severity.`,
		Example: `  # Lint with the built-in policies
  sasscfg lint

  # Add team policies and accept an in-house plugin
  sasscfg lint --policies ./policies --known-plugin acme-grid

  # List policies
  sasscfg lint --list --policies ./policies`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			engine, err := opts.newEngine(ctx)
			if err != nil {
				return err
			}

			if list {
				policies := engine.ListPolicies()
				if jsonOutput {
					return printJSON(out, policies)
				}
				for _, p := range policies {
					state := "enabled"
					if !p.Enabled {
						state = "disabled"
					}
					fmt.Fprintf(out, "%-30s %-8s %-8s %s\n", p.Name, p.Severity, state, p.Description)
				}
				return nil
			}

			lc, err := loadSettings(ctx, args, defaults)
			if err != nil {
				return err
			}

			result, err := lint(ctx, engine, lc, "lint")
			if err != nil {
				return err
			}

			if jsonOutput {
				if err := printJSON(out, result); err != nil {
					return err
				}
			} else {
				printLintResult(out, lc.Source, result)
			}

			if !result.Allowed {
				return &ExitError{Code: 1, Msg: fmt.Sprintf("%s failed lint", lc.Source)}
			}
			return nil
		},
	}

	opts.register(cmd)
	cmd.Flags().BoolVar(&defaults, "defaults", true, "fill absent settings with the Compass defaults before linting")
	cmd.Flags().BoolVar(&list, "list", false, "list policies instead of linting")

	return cmd
}
