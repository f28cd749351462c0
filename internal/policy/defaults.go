package policy

import (
	"github.com/laundrydesk/abac-pdp/internal/cel"
	"github.com/laundrydesk/abac-pdp/pkg/types"
)

// DefaultPolicies returns the built-in marketplace back-office policy set
func DefaultPolicies() []*types.Policy {
	return []*types.Policy{
		{
			ID:          "tenant-isolation",
			Name:        "Tenant isolation",
			Description: "Subjects may only touch resources of their own tenant",
			Effect:      types.EffectDeny,
			Priority:    100,
			Conditions: []types.Condition{
				{Attribute: "resource.tenant_id", Operator: types.OpNotEquals, Ref: "subject.tenant_id"},
			},
			Obligations: types.AutomationActions{
				types.NotifyAction{Channel: "security", Message: "cross-tenant access attempt"},
			},
		},
		{
			ID:          "tenant-subject-missing",
			Name:        "Tenant subject missing",
			Description: "Tenant-owned resources are denied to subjects without a tenant",
			Effect:      types.EffectDeny,
			Priority:    100,
			Conditions: []types.Condition{
				{Attribute: "resource.tenant_id", Operator: types.OpPresent},
				{Attribute: "subject.tenant_id", Operator: types.OpAbsent},
			},
			Obligations: types.AutomationActions{
				types.NotifyAction{Channel: "security", Message: "tenant-owned resource requested without a subject tenant"},
			},
		},
		{
			ID:          "automation-tenant-boundary",
			Name:        "Automation tenant boundary",
			Description: "Automations may only react to events of their own tenant",
			Effect:      types.EffectDeny,
			Priority:    100,
			Target:      types.Target{ResourceTypes: []string{"automation"}},
			Conditions: []types.Condition{
				{Attribute: "resource.event_tenant_id", Operator: types.OpNotEquals, Ref: "subject.tenant_id"},
			},
			Obligations: types.AutomationActions{
				types.SuspendAutomationAction{AutomationScope: "tenant"},
			},
		},
		{
			ID:          "automation-tenant-missing",
			Name:        "Automation tenant missing",
			Description: "Automations without a tenant may not react to tenant events",
			Effect:      types.EffectDeny,
			Priority:    100,
			Target:      types.Target{ResourceTypes: []string{"automation"}},
			Conditions: []types.Condition{
				{Attribute: "resource.event_tenant_id", Operator: types.OpPresent},
				{Attribute: "subject.tenant_id", Operator: types.OpAbsent},
			},
			Obligations: types.AutomationActions{
				types.SuspendAutomationAction{AutomationScope: "tenant"},
			},
		},
		{
			ID:          "approval-limit-exceeded",
			Name:        "Approval limit exceeded",
			Description: "Refund and payout approvals above the subject's approval limit are denied",
			Effect:      types.EffectDeny,
			Priority:    90,
			Target: types.Target{
				Actions:       []string{"approve"},
				ResourceTypes: []string{"refund", "payout"},
			},
			Conditions: []types.Condition{
				{Attribute: "resource.amount", Operator: types.OpGreater, Ref: "subject.approval_limit"},
			},
			Obligations: types.AutomationActions{
				types.RequireApprovalAction{ApproverRole: "finance_manager"},
			},
		},
		{
			ID:          "approval-limit-missing",
			Name:        "Approval limit missing",
			Description: "Subjects without an approval limit cannot approve money movements",
			Effect:      types.EffectDeny,
			Priority:    90,
			Target: types.Target{
				Actions:       []string{"approve"},
				ResourceTypes: []string{"refund", "payout"},
			},
			Conditions: []types.Condition{
				{Attribute: "subject.approval_limit", Operator: types.OpAbsent},
			},
		},
		{
			ID:          "read-only-write-block",
			Name:        "Read-only write block",
			Description: "Read-only subjects cannot perform write actions",
			Effect:      types.EffectDeny,
			Priority:    80,
			Target:      types.Target{Actions: cel.WriteActions},
			Conditions: []types.Condition{
				{Attribute: "subject.is_read_only", Operator: types.OpEquals, Value: true},
			},
		},
		{
			ID:          "business-hours-approvals",
			Name:        "Business hours approvals",
			Description: "Payout and refund approvals require business hours",
			Effect:      types.EffectDeny,
			Priority:    70,
			Target: types.Target{
				Actions:       []string{"approve"},
				ResourceTypes: []string{"payout", "refund"},
			},
			Conditions: []types.Condition{
				{Attribute: "environment.business_hours", Operator: types.OpEquals, Value: false},
			},
			Obligations: types.AutomationActions{
				types.FlagForReviewAction{Queue: "after-hours-approvals", Severity: "medium"},
			},
		},
		{
			ID:          "business-hours-unknown",
			Name:        "Business hours unknown",
			Description: "Payout and refund approvals are denied when business hours cannot be established",
			Effect:      types.EffectDeny,
			Priority:    70,
			Target: types.Target{
				Actions:       []string{"approve"},
				ResourceTypes: []string{"payout", "refund"},
			},
			Conditions: []types.Condition{
				{Attribute: "environment.business_hours", Operator: types.OpAbsent},
			},
		},
		{
			ID:          "incident-mode-freeze",
			Name:        "Incident mode freeze",
			Description: "During an incident only platform super-admins may write",
			Effect:      types.EffectDeny,
			Priority:    60,
			Target:      types.Target{Actions: cel.WriteActions},
			Conditions: []types.Condition{
				{Attribute: "environment.incident_mode", Operator: types.OpEquals, Value: true},
			},
			Expression: `!(has(subject.platform_role) && subject.platform_role == "superadmin")`,
		},
		{
			ID:          "admin-full-access",
			Name:        "Admin full access",
			Description: "Tenant and platform admins may perform any action",
			Effect:      types.EffectAllow,
			Priority:    10,
			Target:      types.Target{Roles: []string{"admin", "superadmin"}},
		},
		{
			ID:          "finance-approvals",
			Name:        "Finance approvals",
			Description: "Finance staff review and approve money movements",
			Effect:      types.EffectAllow,
			Priority:    10,
			Target: types.Target{
				Roles:         []string{"finance"},
				Actions:       []string{"view", "list", "approve", "export"},
				ResourceTypes: []string{"refund", "payout", "invoice", "order"},
			},
		},
		{
			ID:          "support-read-access",
			Name:        "Support read access",
			Description: "Support agents may read orders, tickets and customers",
			Effect:      types.EffectAllow,
			Priority:    10,
			Target: types.Target{
				Roles:         []string{"support"},
				Actions:       []string{"view", "list"},
				ResourceTypes: []string{"order", "ticket", "customer"},
			},
		},
		{
			ID:          "operator-order-management",
			Name:        "Operator order management",
			Description: "Laundry operators manage their own orders",
			Effect:      types.EffectAllow,
			Priority:    10,
			Target: types.Target{
				Roles:         []string{"operator"},
				Actions:       []string{"view", "list", "create", "update"},
				ResourceTypes: []string{"order"},
			},
		},
	}
}
