package policy

import "github.com/samber/oops"

// Error codes returned by the policy package
const (
	CodePolicyNotFound   = "POLICY_NOT_FOUND"
	CodePolicyInvalid    = "POLICY_INVALID"
	CodeDuplicatePolicy  = "DUPLICATE_POLICY"
	CodeVersionNotFound  = "VERSION_NOT_FOUND"
	CodePolicyLoadFailed = "POLICY_LOAD_FAILED"
)

// ErrPolicyNotFound reports an unknown policy id
func ErrPolicyNotFound(id string) error {
	return oops.Code(CodePolicyNotFound).With("policy_id", id).Errorf("policy %q not found", id)
}

// ErrDuplicatePolicy reports two policies sharing an id
func ErrDuplicatePolicy(id string) error {
	return oops.Code(CodeDuplicatePolicy).With("policy_id", id).Errorf("duplicate policy id %q", id)
}

// ErrVersionNotFound reports a version missing from history
func ErrVersionNotFound(version int64) error {
	return oops.Code(CodeVersionNotFound).With("version", version).Errorf("version %d not found", version)
}

// ErrorCode extracts the oops code of err, or "" when it has none
func ErrorCode(err error) string {
	if oopsErr, ok := oops.AsOops(err); ok {
		if code, ok := oopsErr.Code().(string); ok {
			return code
		}
	}
	return ""
}
