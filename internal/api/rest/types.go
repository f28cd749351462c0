package rest

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/laundrydesk/abac-pdp/internal/policy"
	"github.com/laundrydesk/abac-pdp/internal/presets"
	"github.com/laundrydesk/abac-pdp/pkg/types"
)

// Transport error codes. Evaluation failures are not transport errors;
// they come back as 200 DENY results carrying their own code.
const (
	CodeInvalidRequest   = "INVALID_REQUEST"
	CodeNotFound         = "NOT_FOUND"
	CodeMethodNotAllowed = "METHOD_NOT_ALLOWED"
	CodeInternal         = "INTERNAL_ERROR"
)

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error   string                 `json:"error"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// DataResponse wraps every successful payload
type DataResponse struct {
	Data interface{} `json:"data"`
}

// TestRequest is the body of the tester and authorize endpoints
type TestRequest struct {
	Context *types.AttributeContext `json:"context"`
}

// BatchRequest evaluates several contexts in one call
type BatchRequest struct {
	Contexts []types.AttributeContext `json:"contexts"`
}

// PresetResponse describes one preset scenario
type PresetResponse struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Expected    types.Effect           `json:"expected"`
	Context     types.AttributeContext `json:"context"`
}

// FromPreset converts a preset for the listing endpoint
func FromPreset(p presets.Preset) PresetResponse {
	return PresetResponse{
		Name:        p.Name,
		Description: p.Description,
		Expected:    p.Expected,
		Context:     p.Context,
	}
}

// PresetRunSummary is the payload of the test-all endpoint
type PresetRunSummary struct {
	Outcomes []*presets.Outcome `json:"outcomes"`
	Passed   int                `json:"passed"`
	Failed   int                `json:"failed"`
}

// PolicyListResponse lists the active snapshot
type PolicyListResponse struct {
	Version  int64           `json:"version"`
	Checksum string          `json:"checksum"`
	Policies []*types.Policy `json:"policies"`
}

// SnapshotResponse summarizes the snapshot a mutation produced
type SnapshotResponse struct {
	Version     int64     `json:"version"`
	Checksum    string    `json:"checksum"`
	CreatedAt   time.Time `json:"createdAt"`
	Comment     string    `json:"comment,omitempty"`
	PolicyCount int       `json:"policyCount"`
}

// FromSnapshot converts a snapshot to its API summary
func FromSnapshot(s *policy.Snapshot) SnapshotResponse {
	return SnapshotResponse{
		Version:     s.Version(),
		Checksum:    s.Checksum(),
		CreatedAt:   s.CreatedAt(),
		Comment:     s.Comment(),
		PolicyCount: s.Len(),
	}
}

// HealthResponse represents health check response
type HealthResponse struct {
	Status    string                 `json:"status"`
	Version   string                 `json:"version"`
	Uptime    string                 `json:"uptime"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]interface{} `json:"checks"`
}

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if data != nil {
		return json.NewEncoder(w).Encode(data)
	}
	return nil
}

// WriteData writes a 200 {"data": ...} response
func WriteData(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusOK, DataResponse{Data: data})
}

// WriteError writes a JSON error envelope
func WriteError(w http.ResponseWriter, statusCode int, code, message string) {
	_ = WriteJSON(w, statusCode, ErrorResponse{Error: code, Message: message})
}

// WriteErrorDetails writes a JSON error envelope with extra fields
func WriteErrorDetails(w http.ResponseWriter, statusCode int, code, message string, details map[string]interface{}) {
	_ = WriteJSON(w, statusCode, ErrorResponse{Error: code, Message: message, Details: details})
}

func notFound(w http.ResponseWriter, r *http.Request) {
	WriteError(w, http.StatusNotFound, CodeNotFound, "no route for "+r.Method+" "+r.URL.Path)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	WriteError(w, http.StatusMethodNotAllowed, CodeMethodNotAllowed, "method "+r.Method+" not allowed")
}
