package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/samber/oops"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/laundrydesk/abac-pdp/internal/presets"
)

// NewPresetsCmd creates the presets subcommand
func NewPresetsCmd(opts *rootOptions) *cobra.Command {
	var runAll bool

	cmd := &cobra.Command{
		Use:   "presets",
		Short: "List the test presets, or run them against the policies",
		Long: `List the canned attribute contexts used by the super-admin policy tester.
With --run every preset and the baseline are evaluated offline and the
command fails when a decision differs from the expected one.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !runAll {
				return listPresets(cmd)
			}

			cfg, err := opts.load(cmd, map[string]string{"policies.dir": "policy-dir"})
			if err != nil {
				return err
			}
			rt, err := newRuntime(cmd.Context(), cfg, zap.NewNop(), runtimeOptions{offline: true})
			if err != nil {
				return err
			}
			defer rt.Close()

			return runPresets(cmd, rt)
		},
	}

	cmd.Flags().BoolVar(&runAll, "run", false, "evaluate every preset and report mismatches")
	cmd.Flags().String("policy-dir", "", "directory of YAML/JSON policy files (default: built-in policies)")
	return cmd
}

func listPresets(cmd *cobra.Command) error {
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tEXPECTED\tDESCRIPTION")
	for _, p := range append(presets.All(), presets.Reset()) {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", p.Name, p.Expected, p.Description)
	}
	return tw.Flush()
}

func runPresets(cmd *cobra.Command, rt *components) error {
	outcomes := presets.RunAll(cmd.Context(), rt.engine)

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PRESET\tEXPECTED\tDECISION\tRESULT")
	var failed []string
	for _, o := range outcomes {
		status := "pass"
		if !o.Passed {
			status = "FAIL"
			failed = append(failed, o.Preset)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", o.Preset, o.Expected, o.Result.Decision, status)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if len(failed) > 0 {
		return oops.
			Code("PRESET_MISMATCH").
			With("failed", failed).
			Errorf("%d of %d presets did not produce the expected decision", len(failed), len(outcomes))
	}
	return nil
}
