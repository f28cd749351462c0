// Package trace serializes and reports evaluation results
package trace

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/laundrydesk/abac-pdp/pkg/types"
)

// Encode renders a result as one indented JSON document, echoed context
// included
func Encode(result *types.EvaluationResult) ([]byte, error) {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode evaluation result: %w", err)
	}
	return data, nil
}

// Decode parses a document produced by Encode
func Decode(data []byte) (*types.EvaluationResult, error) {
	var result types.EvaluationResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("decode evaluation result: %w", err)
	}
	if !result.Decision.Valid() {
		return nil, fmt.Errorf("decode evaluation result: invalid decision %q", result.Decision)
	}
	if result.AppliedPolicies == nil {
		result.AppliedPolicies = []types.AppliedPolicy{}
	}
	return &result, nil
}

// Summary condenses a decision trace
type Summary struct {
	Evaluated    int      `json:"evaluated"`
	Matched      int      `json:"matched"`
	MatchedDeny  int      `json:"matchedDeny"`
	MatchedAllow int      `json:"matchedAllow"`
	DecidingIDs  []string `json:"decidingPolicies"`
}

// Summarize counts the applied policies. The deciding policies are the
// matched ones whose effect equals the decision; a default deny has none.
func Summarize(result *types.EvaluationResult) Summary {
	s := Summary{DecidingIDs: []string{}}
	for _, ap := range result.AppliedPolicies {
		s.Evaluated++
		if !ap.Matched {
			continue
		}
		s.Matched++
		if ap.Effect == types.EffectDeny {
			s.MatchedDeny++
		} else {
			s.MatchedAllow++
		}
		if ap.Effect == result.Decision {
			s.DecidingIDs = append(s.DecidingIDs, ap.PolicyID)
		}
	}
	return s
}

// Render writes a human-readable report of result to w
func Render(w io.Writer, result *types.EvaluationResult) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	fmt.Fprintf(tw, "Decision:\t%s\n", result.Decision)
	fmt.Fprintf(tw, "Evaluation time:\t%.3f ms\n", result.EvaluationTime)
	fmt.Fprintf(tw, "Policy version:\t%d\n", result.PolicyVersion)
	if result.Cached {
		fmt.Fprintf(tw, "Cached:\tyes\n")
	}
	if result.Error != nil {
		fmt.Fprintf(tw, "Error:\t%s: %s\n", result.Error.Code, result.Error.Message)
	}

	s := Summarize(result)
	fmt.Fprintf(tw, "\nApplied policies (%d evaluated, %d matched):\n", s.Evaluated, s.Matched)
	if len(result.AppliedPolicies) == 0 {
		fmt.Fprintf(tw, "  none\n")
	}
	for _, ap := range result.AppliedPolicies {
		mark := "[ ]"
		if ap.Matched {
			mark = "[x]"
		}
		fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\t%s\n", mark, ap.Effect, ap.PolicyID, ap.PolicyName, ap.Reason)
	}

	if len(result.Obligations) > 0 {
		fmt.Fprintf(tw, "\nObligations:\n")
		for _, action := range result.Obligations {
			fmt.Fprintf(tw, "  - %s\n", describe(action))
		}
	}
	return tw.Flush()
}

func describe(action types.AutomationAction) string {
	switch a := action.(type) {
	case types.NotifyAction:
		return fmt.Sprintf("notify %s: %s", a.Channel, a.Message)
	case types.RequireApprovalAction:
		return "require approval from " + a.ApproverRole
	case types.FlagForReviewAction:
		return fmt.Sprintf("flag for review in %s (%s)", a.Queue, a.Severity)
	case types.SuspendAutomationAction:
		return "suspend automation in scope " + a.AutomationScope
	}
	return string(action.Kind())
}
