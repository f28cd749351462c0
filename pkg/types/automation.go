package types

import (
	"encoding/json"
	"fmt"
	"strconv"

	"gopkg.in/yaml.v3"
)

// AutomationKind discriminates AutomationAction variants on the wire
type AutomationKind string

const (
	KindNotify            AutomationKind = "notify"
	KindRequireApproval   AutomationKind = "require_approval"
	KindFlagForReview     AutomationKind = "flag_for_review"
	KindSuspendAutomation AutomationKind = "suspend_automation"
)

// AutomationAction is an obligation a policy attaches to its decision.
// Implementations are the four variants below; the set is closed.
type AutomationAction interface {
	Kind() AutomationKind
	Validate() error
}

// NotifyAction sends a message to an operator channel
type NotifyAction struct {
	Channel string `json:"channel" yaml:"channel"`
	Message string `json:"message" yaml:"message"`
}

func (NotifyAction) Kind() AutomationKind { return KindNotify }

func (a NotifyAction) Validate() error {
	if a.Channel == "" {
		return fmt.Errorf("notify: channel is required")
	}
	return nil
}

// RequireApprovalAction routes the request to a second approver
type RequireApprovalAction struct {
	ApproverRole string `json:"approverRole" yaml:"approverRole"`
}

func (RequireApprovalAction) Kind() AutomationKind { return KindRequireApproval }

func (a RequireApprovalAction) Validate() error {
	if a.ApproverRole == "" {
		return fmt.Errorf("require_approval: approverRole is required")
	}
	return nil
}

// FlagForReviewAction queues the request for manual review
type FlagForReviewAction struct {
	Queue    string `json:"queue" yaml:"queue"`
	Severity string `json:"severity,omitempty" yaml:"severity,omitempty"`
}

func (FlagForReviewAction) Kind() AutomationKind { return KindFlagForReview }

func (a FlagForReviewAction) Validate() error {
	if a.Queue == "" {
		return fmt.Errorf("flag_for_review: queue is required")
	}
	switch a.Severity {
	case "", "low", "medium", "high":
		return nil
	}
	return fmt.Errorf("flag_for_review: invalid severity %q", a.Severity)
}

// SuspendAutomationAction pauses the automations in a scope
type SuspendAutomationAction struct {
	AutomationScope string `json:"automationScope" yaml:"automationScope"`
}

func (SuspendAutomationAction) Kind() AutomationKind { return KindSuspendAutomation }

func (a SuspendAutomationAction) Validate() error {
	if a.AutomationScope == "" {
		return fmt.Errorf("suspend_automation: automationScope is required")
	}
	return nil
}

// decodeAction builds the variant named by kind using decode to fill it
func decodeAction(kind AutomationKind, decode func(interface{}) error) (AutomationAction, error) {
	switch kind {
	case KindNotify:
		var a NotifyAction
		if err := decode(&a); err != nil {
			return nil, err
		}
		return a, nil
	case KindRequireApproval:
		var a RequireApprovalAction
		if err := decode(&a); err != nil {
			return nil, err
		}
		return a, nil
	case KindFlagForReview:
		var a FlagForReviewAction
		if err := decode(&a); err != nil {
			return nil, err
		}
		return a, nil
	case KindSuspendAutomation:
		var a SuspendAutomationAction
		if err := decode(&a); err != nil {
			return nil, err
		}
		return a, nil
	case "":
		return nil, fmt.Errorf("automation action is missing kind")
	default:
		return nil, fmt.Errorf("unknown automation action kind %q", kind)
	}
}

// AutomationActions is a list of obligations encoded as objects carrying a
// "kind" discriminator next to the variant's fields.
type AutomationActions []AutomationAction

// MarshalJSON implements json.Marshaler
func (as AutomationActions) MarshalJSON() ([]byte, error) {
	if as == nil {
		return []byte("null"), nil
	}
	out := make([]json.RawMessage, 0, len(as))
	for _, a := range as {
		body, err := json.Marshal(a)
		if err != nil {
			return nil, err
		}
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(body, &fields); err != nil {
			return nil, err
		}
		fields["kind"] = json.RawMessage(strconv.Quote(string(a.Kind())))
		encoded, err := json.Marshal(fields)
		if err != nil {
			return nil, err
		}
		out = append(out, encoded)
	}
	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler
func (as *AutomationActions) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == nil {
		*as = nil
		return nil
	}
	out := make(AutomationActions, 0, len(raw))
	for i, item := range raw {
		var probe struct {
			Kind AutomationKind `json:"kind"`
		}
		if err := json.Unmarshal(item, &probe); err != nil {
			return fmt.Errorf("obligation %d: %w", i, err)
		}
		a, err := decodeAction(probe.Kind, func(v interface{}) error {
			return json.Unmarshal(item, v)
		})
		if err != nil {
			return fmt.Errorf("obligation %d: %w", i, err)
		}
		out = append(out, a)
	}
	*as = out
	return nil
}

// MarshalYAML implements yaml.Marshaler using the JSON field layout
func (as AutomationActions) MarshalYAML() (interface{}, error) {
	if as == nil {
		return nil, nil
	}
	data, err := as.MarshalJSON()
	if err != nil {
		return nil, err
	}
	var out []map[string]interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// UnmarshalYAML implements yaml.Unmarshaler
func (as *AutomationActions) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.SequenceNode {
		return fmt.Errorf("line %d: obligations must be a list", node.Line)
	}
	out := make(AutomationActions, 0, len(node.Content))
	for _, item := range node.Content {
		var probe struct {
			Kind AutomationKind `yaml:"kind"`
		}
		if err := item.Decode(&probe); err != nil {
			return err
		}
		a, err := decodeAction(probe.Kind, item.Decode)
		if err != nil {
			return fmt.Errorf("line %d: %w", item.Line, err)
		}
		out = append(out, a)
	}
	*as = out
	return nil
}

// Validate checks every obligation in the list
func (as AutomationActions) Validate() error {
	for i, a := range as {
		if a == nil {
			return fmt.Errorf("obligation %d is empty", i)
		}
		if err := a.Validate(); err != nil {
			return fmt.Errorf("obligation %d: %w", i, err)
		}
	}
	return nil
}
