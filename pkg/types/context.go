// Package types provides the shared data model of the policy decision point
package types

import (
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
)

// Attribute categories
const (
	CategorySubject     = "subject"
	CategoryAction      = "action"
	CategoryResource    = "resource"
	CategoryEnvironment = "environment"
)

// Subject describes who is asking
type Subject struct {
	ID            string   `json:"id"`
	Role          string   `json:"role"`
	TenantID      *string  `json:"tenant_id,omitempty"`
	IsReadOnly    *bool    `json:"is_read_only,omitempty"`
	ApprovalLimit *float64 `json:"approval_limit,omitempty"`
	PlatformRole  *string  `json:"platform_role,omitempty"`
	Department    *string  `json:"department,omitempty"`
	Email         *string  `json:"email,omitempty"`
}

// Action describes what is being attempted
type Action struct {
	Action string  `json:"action"`
	Method *string `json:"method,omitempty"`
	Scope  *string `json:"scope,omitempty"`
}

// Resource describes the object being acted on
type Resource struct {
	ResourceType    string   `json:"resource_type"`
	ID              *string  `json:"id,omitempty"`
	TenantID        *string  `json:"tenant_id,omitempty"`
	Amount          *float64 `json:"amount,omitempty"`
	AutomationScope *string  `json:"automation_scope,omitempty"`
	EventTenantID   *string  `json:"event_tenant_id,omitempty"`
}

// Environment describes the ambient request conditions
type Environment struct {
	CurrentTime      *string  `json:"current_time,omitempty"`
	BusinessHours    *bool    `json:"business_hours,omitempty"`
	IncidentMode     *bool    `json:"incident_mode,omitempty"`
	IPAddress        *string  `json:"ip_address,omitempty"`
	UserAgent        *string  `json:"user_agent,omitempty"`
	Endpoint         *string  `json:"endpoint,omitempty"`
	Method           *string  `json:"method,omitempty"`
	RequestFrequency *float64 `json:"request_frequency,omitempty"`
	NetworkTrust     *bool    `json:"network_trust,omitempty"`
}

// AttributeContext is the unit of evaluation: one access request described
// by four attribute categories. Optional attributes are nil when absent.
type AttributeContext struct {
	Subject     Subject     `json:"subject"`
	Action      Action      `json:"action"`
	Resource    Resource    `json:"resource"`
	Environment Environment `json:"environment"`
}

// MandatoryAttributes lists the attributes every context must carry, in the
// order they are checked.
var MandatoryAttributes = []string{
	"subject.id",
	"subject.role",
	"action.action",
	"resource.resource_type",
}

// MissingAttributeError reports a mandatory attribute that is not present
type MissingAttributeError struct {
	Attribute string
}

func (e *MissingAttributeError) Error() string {
	return fmt.Sprintf("%s is required", e.Attribute)
}

// Validate returns a *MissingAttributeError for the first mandatory
// attribute that is absent or empty.
func (c *AttributeContext) Validate() error {
	for _, path := range MandatoryAttributes {
		if _, ok := c.Lookup(path); !ok {
			return &MissingAttributeError{Attribute: path}
		}
	}
	return nil
}

// attributeField locates one attribute inside AttributeContext
type attributeField struct {
	category int
	field    int
	kind     reflect.Kind
	optional bool
}

var attributeIndex = buildAttributeIndex()

func buildAttributeIndex() map[string]attributeField {
	index := make(map[string]attributeField)
	ctxType := reflect.TypeOf(AttributeContext{})
	for i := 0; i < ctxType.NumField(); i++ {
		cat := ctxType.Field(i)
		category := jsonName(cat)
		for j := 0; j < cat.Type.NumField(); j++ {
			f := cat.Type.Field(j)
			af := attributeField{category: i, field: j, kind: f.Type.Kind()}
			if f.Type.Kind() == reflect.Pointer {
				af.optional = true
				af.kind = f.Type.Elem().Kind()
			}
			index[category+"."+jsonName(f)] = af
		}
	}
	return index
}

func jsonName(f reflect.StructField) string {
	name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
	if name == "" {
		return f.Name
	}
	return name
}

// IsKnownAttribute reports whether path names an attribute of the context
func IsKnownAttribute(path string) bool {
	_, ok := attributeIndex[path]
	return ok
}

// Attribute value types reported by AttributeType
const (
	AttrString = "string"
	AttrNumber = "number"
	AttrBool   = "bool"
)

// AttributeType returns the value type of the attribute at path
func AttributeType(path string) (string, bool) {
	af, ok := attributeIndex[path]
	if !ok {
		return "", false
	}
	switch af.kind {
	case reflect.Float64:
		return AttrNumber, true
	case reflect.Bool:
		return AttrBool, true
	default:
		return AttrString, true
	}
}

// KnownAttributes returns every attribute path in sorted order
func KnownAttributes() []string {
	paths := make([]string, 0, len(attributeIndex))
	for p := range attributeIndex {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Lookup resolves a dotted attribute path such as "subject.tenant_id".
// The value is a string, float64 or bool; ok is false when the attribute is
// absent, empty (mandatory strings) or unknown.
func (c *AttributeContext) Lookup(path string) (value interface{}, ok bool) {
	af, known := attributeIndex[path]
	if !known {
		return nil, false
	}
	v := reflect.ValueOf(c).Elem().Field(af.category).Field(af.field)
	if af.optional {
		if v.IsNil() {
			return nil, false
		}
		return v.Elem().Interface(), true
	}
	if v.Kind() == reflect.String && v.String() == "" {
		return nil, false
	}
	return v.Interface(), true
}

// Set assigns an attribute by path. A nil value clears an optional
// attribute. Strings are converted for bool and number attributes.
func (c *AttributeContext) Set(path string, value interface{}) error {
	af, known := attributeIndex[path]
	if !known {
		return fmt.Errorf("unknown attribute %q", path)
	}
	v := reflect.ValueOf(c).Elem().Field(af.category).Field(af.field)

	if value == nil {
		v.Set(reflect.Zero(v.Type()))
		return nil
	}

	converted, err := convertAttribute(af.kind, value)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if af.optional {
		ptr := reflect.New(v.Type().Elem())
		ptr.Elem().Set(reflect.ValueOf(converted))
		v.Set(ptr)
		return nil
	}
	v.Set(reflect.ValueOf(converted))
	return nil
}

func convertAttribute(kind reflect.Kind, value interface{}) (interface{}, error) {
	switch kind {
	case reflect.String:
		if s, ok := value.(string); ok {
			return s, nil
		}
		return fmt.Sprint(value), nil
	case reflect.Bool:
		switch b := value.(type) {
		case bool:
			return b, nil
		case string:
			return strconv.ParseBool(b)
		}
	case reflect.Float64:
		if f, ok := ToFloat(value); ok {
			return f, nil
		}
		if s, ok := value.(string); ok {
			return strconv.ParseFloat(s, 64)
		}
	}
	return nil, fmt.Errorf("cannot use %T as %s", value, kind)
}

// ToFloat converts the numeric kinds produced by JSON and YAML decoding
func ToFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

// ToMap converts the context into per-category maps for CEL evaluation.
// Absent attributes are left out so expressions can test them with has().
func (c *AttributeContext) ToMap() map[string]interface{} {
	out := map[string]interface{}{
		CategorySubject:     map[string]interface{}{},
		CategoryAction:      map[string]interface{}{},
		CategoryResource:    map[string]interface{}{},
		CategoryEnvironment: map[string]interface{}{},
	}
	for path := range attributeIndex {
		value, ok := c.Lookup(path)
		if !ok {
			continue
		}
		category, name, _ := strings.Cut(path, ".")
		out[category].(map[string]interface{})[name] = value
	}
	return out
}

// Clone returns a deep copy of the context
func (c *AttributeContext) Clone() AttributeContext {
	out := *c
	out.Subject.TenantID = clonePtr(c.Subject.TenantID)
	out.Subject.IsReadOnly = clonePtr(c.Subject.IsReadOnly)
	out.Subject.ApprovalLimit = clonePtr(c.Subject.ApprovalLimit)
	out.Subject.PlatformRole = clonePtr(c.Subject.PlatformRole)
	out.Subject.Department = clonePtr(c.Subject.Department)
	out.Subject.Email = clonePtr(c.Subject.Email)

	out.Action.Method = clonePtr(c.Action.Method)
	out.Action.Scope = clonePtr(c.Action.Scope)

	out.Resource.ID = clonePtr(c.Resource.ID)
	out.Resource.TenantID = clonePtr(c.Resource.TenantID)
	out.Resource.Amount = clonePtr(c.Resource.Amount)
	out.Resource.AutomationScope = clonePtr(c.Resource.AutomationScope)
	out.Resource.EventTenantID = clonePtr(c.Resource.EventTenantID)

	out.Environment.CurrentTime = clonePtr(c.Environment.CurrentTime)
	out.Environment.BusinessHours = clonePtr(c.Environment.BusinessHours)
	out.Environment.IncidentMode = clonePtr(c.Environment.IncidentMode)
	out.Environment.IPAddress = clonePtr(c.Environment.IPAddress)
	out.Environment.UserAgent = clonePtr(c.Environment.UserAgent)
	out.Environment.Endpoint = clonePtr(c.Environment.Endpoint)
	out.Environment.Method = clonePtr(c.Environment.Method)
	out.Environment.RequestFrequency = clonePtr(c.Environment.RequestFrequency)
	out.Environment.NetworkTrust = clonePtr(c.Environment.NetworkTrust)
	return out
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// String returns a pointer to s
func String(s string) *string { return &s }

// Bool returns a pointer to b
func Bool(b bool) *bool { return &b }

// Float returns a pointer to f
func Float(f float64) *float64 { return &f }

// Deref returns the value p points to, or the zero value for nil
func Deref[T any](p *T) T {
	if p == nil {
		var zero T
		return zero
	}
	return *p
}
