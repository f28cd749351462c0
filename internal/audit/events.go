// Package audit records decision, policy and system events for the back-office trail
package audit

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// EventType discriminates audit event variants on the wire
type EventType string

const (
	EventTypeDecision     EventType = "decision"
	EventTypePolicyReload EventType = "policy_reload"
	EventTypePresetRun    EventType = "preset_run"
	EventTypeSystem       EventType = "system"
)

// Event is one audit record. Variants are *DecisionEvent, *PolicyReloadEvent,
// *PresetRunEvent and *SystemEvent.
type Event interface {
	Type() EventType
	Meta() *Header
}

// Header carries the fields every event shares
type Header struct {
	EventID   string    `json:"event_id"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id,omitempty"`
	Hash      string    `json:"hash,omitempty"`
	PrevHash  string    `json:"prev_hash,omitempty"`
}

// Meta returns the shared header
func (h *Header) Meta() *Header { return h }

// Actor identifies who caused the event
type Actor struct {
	ID       string   `json:"id"`
	Email    string   `json:"email,omitempty"`
	TenantID string   `json:"tenant_id,omitempty"`
	Roles    []string `json:"roles,omitempty"`
}

// DecisionEvent records one policy evaluation
type DecisionEvent struct {
	Header
	Actor           *Actor   `json:"actor,omitempty"`
	Decision        string   `json:"decision"`
	PolicyVersion   int64    `json:"policy_version"`
	SubjectID       string   `json:"subject_id"`
	SubjectRole     string   `json:"subject_role"`
	TenantID        string   `json:"tenant_id,omitempty"`
	Action          string   `json:"action"`
	ResourceType    string   `json:"resource_type"`
	ResourceID      string   `json:"resource_id,omitempty"`
	MatchedPolicies []string `json:"matched_policies"`
	ErrorCode       string   `json:"error_code,omitempty"`
	Cached          bool     `json:"cached,omitempty"`
	DurationMs      float64  `json:"duration_ms"`
}

// Type implements Event
func (*DecisionEvent) Type() EventType { return EventTypeDecision }

// PolicyReloadEvent records a change of the active policy snapshot
type PolicyReloadEvent struct {
	Header
	Actor     *Actor   `json:"actor,omitempty"`
	Source    string   `json:"source"`
	Operation string   `json:"operation"`
	Version   int64    `json:"version"`
	Checksum  string   `json:"checksum,omitempty"`
	PolicyIDs []string `json:"policy_ids"`
	Error     string   `json:"error,omitempty"`
}

// Type implements Event
func (*PolicyReloadEvent) Type() EventType { return EventTypePolicyReload }

// PresetRunEvent records a preset scenario evaluated from the tester
type PresetRunEvent struct {
	Header
	Actor    *Actor `json:"actor,omitempty"`
	Preset   string `json:"preset"`
	Expected string `json:"expected"`
	Decision string `json:"decision"`
	Passed   bool   `json:"passed"`
}

// Type implements Event
func (*PresetRunEvent) Type() EventType { return EventTypePresetRun }

// SystemEvent records lifecycle messages
type SystemEvent struct {
	Header
	Component string `json:"component"`
	Message   string `json:"message"`
}

// Type implements Event
func (*SystemEvent) Type() EventType { return EventTypeSystem }

// Encode serializes an event with its "type" discriminator
func Encode(ev Event) ([]byte, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshal %s event: %w", ev.Type(), err)
	}

	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("marshal %s event: %w", ev.Type(), err)
	}
	typ, _ := json.Marshal(ev.Type())
	fields["type"] = typ

	return json.Marshal(fields)
}

// Decode parses an encoded event back into its variant
func Decode(data []byte) (Event, error) {
	var envelope struct {
		Type EventType `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("decode audit event: %w", err)
	}

	var ev Event
	switch envelope.Type {
	case EventTypeDecision:
		ev = &DecisionEvent{}
	case EventTypePolicyReload:
		ev = &PolicyReloadEvent{}
	case EventTypePresetRun:
		ev = &PresetRunEvent{}
	case EventTypeSystem:
		ev = &SystemEvent{}
	case "":
		return nil, fmt.Errorf("decode audit event: missing type")
	default:
		return nil, fmt.Errorf("decode audit event: unknown type %q", envelope.Type)
	}

	if err := json.Unmarshal(data, ev); err != nil {
		return nil, fmt.Errorf("decode %s event: %w", envelope.Type, err)
	}
	return ev, nil
}

// stamp fills in the header fields the caller left empty
func stamp(ctx context.Context, ev Event) {
	h := ev.Meta()
	if h.EventID == "" {
		h.EventID = generateEventID()
	}
	if h.Timestamp.IsZero() {
		h.Timestamp = time.Now().UTC()
	}
	if h.RequestID == "" {
		h.RequestID = RequestIDFromContext(ctx)
	}
}

func generateEventID() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return "evt-" + hex.EncodeToString(b)
}

type requestIDKey struct{}

// ContextWithRequestID attaches the request id recorded on audit events
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFromContext returns the request id, or "" when none is set
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type actorKey struct{}

// ContextWithActor attaches the authenticated caller recorded on audit events
func ContextWithActor(ctx context.Context, actor *Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFromContext returns the caller attached by ContextWithActor, or nil
func ActorFromContext(ctx context.Context) *Actor {
	if ctx == nil {
		return nil
	}
	actor, _ := ctx.Value(actorKey{}).(*Actor)
	return actor
}
