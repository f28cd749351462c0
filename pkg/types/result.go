package types

// Error codes carried in EvaluationResult.Error
const (
	ErrCodeInvalidContext     = "INVALID_CONTEXT"
	ErrCodeEvaluationTimeout  = "EVALUATION_TIMEOUT"
	ErrCodeEvaluationCanceled = "EVALUATION_CANCELED"
	ErrCodeExpression         = "EXPRESSION_ERROR"
	ErrCodeNoPolicySet        = "NO_POLICY_SET"
)

// EvaluationError explains why an evaluation failed closed
type EvaluationError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *EvaluationError) Error() string {
	return e.Code + ": " + e.Message
}

// AppliedPolicy is one line of the decision trace
type AppliedPolicy struct {
	PolicyID   string `json:"policyId"`
	PolicyName string `json:"policyName"`
	Effect     Effect `json:"effect"`
	Matched    bool   `json:"matched"`
	Reason     string `json:"reason"`
}

// EvaluationResult is the outcome of evaluating one AttributeContext
type EvaluationResult struct {
	Decision        Effect            `json:"decision"`
	EvaluationTime  float64           `json:"evaluationTime"` // milliseconds
	AppliedPolicies []AppliedPolicy   `json:"appliedPolicies"`
	Context         AttributeContext  `json:"context"`
	Error           *EvaluationError  `json:"error,omitempty"`
	PolicyVersion   int64             `json:"policyVersion,omitempty"`
	Obligations     AutomationActions `json:"obligations,omitempty"`
	Cached          bool              `json:"cached,omitempty"`
}

// IsAllowed reports whether the decision is ALLOW
func (r *EvaluationResult) IsAllowed() bool {
	return r.Decision == EffectAllow
}

// Deny builds a fail-closed result with an error and an empty trace
func Deny(c AttributeContext, code, message string) *EvaluationResult {
	return &EvaluationResult{
		Decision:        EffectDeny,
		AppliedPolicies: []AppliedPolicy{},
		Context:         c,
		Error:           &EvaluationError{Code: code, Message: message},
	}
}
