package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleContext() AttributeContext {
	return AttributeContext{
		Subject: Subject{
			ID:            "user-1",
			Role:          "finance",
			TenantID:      String("tenant-123"),
			ApprovalLimit: Float(1000),
		},
		Action:   Action{Action: "approve", Method: String("POST")},
		Resource: Resource{ResourceType: "refund", Amount: Float(1500)},
		Environment: Environment{
			BusinessHours: Bool(true),
		},
	}
}

func TestAttributeContext_Lookup(t *testing.T) {
	c := sampleContext()

	v, ok := c.Lookup("subject.tenant_id")
	require.True(t, ok)
	assert.Equal(t, "tenant-123", v)

	v, ok = c.Lookup("resource.amount")
	require.True(t, ok)
	assert.Equal(t, float64(1500), v)

	v, ok = c.Lookup("environment.business_hours")
	require.True(t, ok)
	assert.Equal(t, true, v)

	_, ok = c.Lookup("subject.is_read_only")
	assert.False(t, ok, "absent optional attribute must not be present")

	_, ok = c.Lookup("environment.incident_mode")
	assert.False(t, ok)

	_, ok = c.Lookup("subject.shoe_size")
	assert.False(t, ok, "unknown attribute")
}

func TestAttributeContext_LookupFalseIsPresent(t *testing.T) {
	c := sampleContext()
	c.Environment.BusinessHours = Bool(false)

	v, ok := c.Lookup("environment.business_hours")
	require.True(t, ok)
	assert.Equal(t, false, v)
}

func TestAttributeContext_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *AttributeContext)
		missing string
	}{
		{"complete", func(c *AttributeContext) {}, ""},
		{"missing subject id", func(c *AttributeContext) { c.Subject.ID = "" }, "subject.id"},
		{"missing role", func(c *AttributeContext) { c.Subject.Role = "" }, "subject.role"},
		{"missing action", func(c *AttributeContext) { c.Action.Action = "" }, "action.action"},
		{"missing resource type", func(c *AttributeContext) { c.Resource.ResourceType = "" }, "resource.resource_type"},
		{"first missing wins", func(c *AttributeContext) {
			c.Subject.Role = ""
			c.Resource.ResourceType = ""
		}, "subject.role"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := sampleContext()
			tt.mutate(&c)
			err := c.Validate()
			if tt.missing == "" {
				assert.NoError(t, err)
				return
			}
			var missing *MissingAttributeError
			require.ErrorAs(t, err, &missing)
			assert.Equal(t, tt.missing, missing.Attribute)
			assert.Contains(t, err.Error(), tt.missing)
		})
	}
}

func TestAttributeContext_Set(t *testing.T) {
	var c AttributeContext

	require.NoError(t, c.Set("subject.id", "user-9"))
	require.NoError(t, c.Set("subject.is_read_only", "true"))
	require.NoError(t, c.Set("subject.approval_limit", 250))
	require.NoError(t, c.Set("environment.request_frequency", "12.5"))
	require.NoError(t, c.Set("resource.tenant_id", "tenant-1"))

	assert.Equal(t, "user-9", c.Subject.ID)
	require.NotNil(t, c.Subject.IsReadOnly)
	assert.True(t, *c.Subject.IsReadOnly)
	assert.Equal(t, float64(250), *c.Subject.ApprovalLimit)
	assert.Equal(t, 12.5, *c.Environment.RequestFrequency)
	assert.Equal(t, "tenant-1", *c.Resource.TenantID)

	require.NoError(t, c.Set("resource.tenant_id", nil))
	assert.Nil(t, c.Resource.TenantID)

	assert.Error(t, c.Set("subject.unknown", "x"))
	assert.Error(t, c.Set("subject.is_read_only", "maybe"))
	assert.Error(t, c.Set("resource.amount", []string{"1"}))
}

func TestAttributeContext_Clone(t *testing.T) {
	c := sampleContext()
	clone := c.Clone()
	assert.Equal(t, c, clone)

	*clone.Subject.TenantID = "tenant-999"
	*clone.Resource.Amount = 1
	assert.Equal(t, "tenant-123", *c.Subject.TenantID)
	assert.Equal(t, float64(1500), *c.Resource.Amount)
}

func TestAttributeContext_ToMap(t *testing.T) {
	c := sampleContext()
	m := c.ToMap()

	subject := m[CategorySubject].(map[string]interface{})
	assert.Equal(t, "finance", subject["role"])
	assert.Equal(t, float64(1000), subject["approval_limit"])
	_, has := subject["is_read_only"]
	assert.False(t, has)

	env := m[CategoryEnvironment].(map[string]interface{})
	assert.Equal(t, true, env["business_hours"])
	assert.Len(t, env, 1)
}

func TestAttributeContext_JSONOmitsAbsent(t *testing.T) {
	c := AttributeContext{
		Subject:  Subject{ID: "u", Role: "admin"},
		Action:   Action{Action: "view"},
		Resource: Resource{ResourceType: "order"},
	}
	data, err := json.Marshal(c)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"subject": {"id": "u", "role": "admin"},
		"action": {"action": "view"},
		"resource": {"resource_type": "order"},
		"environment": {}
	}`, string(data))
}

func TestKnownAttributes(t *testing.T) {
	attrs := KnownAttributes()
	assert.Contains(t, attrs, "subject.tenant_id")
	assert.Contains(t, attrs, "resource.event_tenant_id")
	assert.Contains(t, attrs, "environment.network_trust")
	assert.True(t, IsKnownAttribute("action.scope"))
	assert.False(t, IsKnownAttribute("action"))
}
