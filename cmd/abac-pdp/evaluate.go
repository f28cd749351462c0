package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/samber/oops"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/laundrydesk/abac-pdp/internal/presets"
	"github.com/laundrydesk/abac-pdp/internal/trace"
	"github.com/laundrydesk/abac-pdp/pkg/types"
)

const (
	outputJSON = "json"
	outputText = "text"
)

type evaluateOptions struct {
	preset string
	file   string
	output string
	set    []string
}

// NewEvaluateCmd creates the evaluate subcommand
func NewEvaluateCmd(opts *rootOptions) *cobra.Command {
	eo := &evaluateOptions{}

	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Evaluate one attribute context offline",
		Long: `Evaluate an attribute context against the configured policies and print
the decision trace. The context comes from a preset or from a JSON file
("-" reads stdin). No cache, audit or metrics are involved.`,
		Example: `  abac-pdp evaluate --preset tenant-isolation
  abac-pdp evaluate --file ctx.json --output text
  cat ctx.json | abac-pdp evaluate --file -
  abac-pdp evaluate --preset baseline --set subject.role=support --set action.action=refund`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if (eo.preset == "") == (eo.file == "") {
				return oops.Code("INVALID_ARGUMENTS").Errorf("exactly one of --preset or --file is required")
			}
			if eo.output != outputJSON && eo.output != outputText {
				return oops.Code("INVALID_ARGUMENTS").Errorf("unknown output %q, expected json or text", eo.output)
			}

			cfg, err := opts.load(cmd, map[string]string{"policies.dir": "policy-dir"})
			if err != nil {
				return err
			}

			attrs, err := eo.context(cmd.InOrStdin())
			if err != nil {
				return err
			}

			rt, err := newRuntime(cmd.Context(), cfg, zap.NewNop(), runtimeOptions{offline: true})
			if err != nil {
				return err
			}
			defer rt.Close()

			result := rt.engine.Evaluate(cmd.Context(), attrs)
			return writeResult(cmd.OutOrStdout(), result, eo.output)
		},
	}

	cmd.Flags().StringVar(&eo.preset, "preset", "", "evaluate a named test preset (see 'presets')")
	cmd.Flags().StringVarP(&eo.file, "file", "f", "", "JSON attribute context file, - for stdin")
	cmd.Flags().StringVarP(&eo.output, "output", "o", outputJSON, "output format (json, text)")
	cmd.Flags().StringArrayVar(&eo.set, "set", nil, "override one attribute as path=value, null clears it (repeatable)")
	cmd.Flags().String("policy-dir", "", "directory of YAML/JSON policy files (default: built-in policies)")
	return cmd
}

func (eo *evaluateOptions) context(stdin io.Reader) (types.AttributeContext, error) {
	attrs, err := eo.base(stdin)
	if err != nil || len(eo.set) == 0 {
		return attrs, err
	}

	b := presets.NewBuilder()
	b.Load(attrs)
	for _, kv := range eo.set {
		path, value, ok := strings.Cut(kv, "=")
		if !ok {
			return types.AttributeContext{}, oops.Code("INVALID_ARGUMENTS").Errorf("--set %q: expected path=value", kv)
		}
		var v interface{} = value
		if value == "null" {
			v = nil
		}
		if err := b.Set(path, v); err != nil {
			return types.AttributeContext{}, oops.Code("INVALID_ARGUMENTS").With("path", path).Wrap(err)
		}
	}
	return b.Current(), nil
}

func (eo *evaluateOptions) base(stdin io.Reader) (types.AttributeContext, error) {
	if eo.preset != "" {
		if eo.preset == presets.Baseline {
			return presets.Reset().Context, nil
		}
		p, err := presets.LoadPreset(eo.preset)
		if err != nil {
			return types.AttributeContext{}, err
		}
		return p.Context, nil
	}

	r := stdin
	if eo.file != "-" {
		f, err := os.Open(eo.file)
		if err != nil {
			return types.AttributeContext{}, fmt.Errorf("failed to open context file: %w", err)
		}
		defer f.Close()
		r = f
	}

	var attrs types.AttributeContext
	if err := json.NewDecoder(r).Decode(&attrs); err != nil {
		return types.AttributeContext{}, oops.
			Code(types.ErrCodeInvalidContext).
			With("file", eo.file).
			Wrapf(err, "failed to decode attribute context")
	}
	return attrs, nil
}

func writeResult(w io.Writer, result *types.EvaluationResult, output string) error {
	if output == outputText {
		return trace.Render(w, result)
	}
	data, err := trace.Encode(result)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%s\n", data)
	return err
}
