package rest

import (
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/laundrydesk/abac-pdp/internal/audit"
	"github.com/laundrydesk/abac-pdp/internal/policy"
	"github.com/laundrydesk/abac-pdp/pkg/types"
)

// statusForCode maps policy error codes onto HTTP statuses
func statusForCode(code string) int {
	switch code {
	case policy.CodePolicyNotFound, policy.CodeVersionNotFound:
		return http.StatusNotFound
	case policy.CodePolicyInvalid, policy.CodeDuplicatePolicy, policy.CodePolicyLoadFailed:
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (s *Server) writePolicyError(w http.ResponseWriter, op string, err error) {
	code := policy.ErrorCode(err)
	status := statusForCode(code)
	if status == http.StatusInternalServerError {
		s.logger.Error("Policy operation failed", zap.String("operation", op), zap.Error(err))
		code = CodeInternal
	}
	WriteError(w, status, code, err.Error())
}

// changeComment records who changed the policy set through the API
func changeComment(r *http.Request, what string) string {
	if actor := audit.ActorFromContext(r.Context()); actor != nil {
		return fmt.Sprintf("api: %s by %s", what, actor.ID)
	}
	return "api: " + what
}

// listPoliciesHandler handles GET /superadmin/abac/policies
func (s *Server) listPoliciesHandler(w http.ResponseWriter, r *http.Request) {
	snap := s.store.Snapshot()
	if snap == nil {
		WriteData(w, PolicyListResponse{Policies: []*types.Policy{}})
		return
	}
	WriteData(w, PolicyListResponse{
		Version:  snap.Version(),
		Checksum: snap.Checksum(),
		Policies: snap.Policies(),
	})
}

// getPolicyHandler handles GET /superadmin/abac/policies/{id}
func (s *Server) getPolicyHandler(w http.ResponseWriter, r *http.Request) {
	p, err := s.store.Get(mux.Vars(r)["id"])
	if err != nil {
		s.writePolicyError(w, "get", err)
		return
	}
	WriteData(w, p)
}

// putPolicyHandler handles PUT /superadmin/abac/policies/{id}. It creates
// or replaces the policy; the path id wins over an empty body id.
func (s *Server) putPolicyHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var p types.Policy
	if err := decodeBody(w, r, &p); err != nil {
		WriteError(w, http.StatusBadRequest, CodeInvalidRequest, "invalid request body: "+err.Error())
		return
	}
	if p.ID == "" {
		p.ID = id
	}
	if p.ID != id {
		WriteError(w, http.StatusBadRequest, CodeInvalidRequest,
			fmt.Sprintf("policyId %q does not match path id %q", p.ID, id))
		return
	}

	_, getErr := s.store.Get(id)
	created := getErr != nil

	snap, err := s.store.Put(&p, changeComment(r, "put "+id))
	if err != nil {
		s.writePolicyError(w, "put", err)
		return
	}

	s.logger.Info("Policy stored",
		zap.String("policy_id", id),
		zap.Bool("created", created),
		zap.Int64("version", snap.Version()),
	)

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	WriteJSON(w, status, DataResponse{Data: FromSnapshot(snap)})
}

// deletePolicyHandler handles DELETE /superadmin/abac/policies/{id}
func (s *Server) deletePolicyHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	snap, err := s.store.Delete(id, changeComment(r, "delete "+id))
	if err != nil {
		s.writePolicyError(w, "delete", err)
		return
	}

	s.logger.Info("Policy deleted",
		zap.String("policy_id", id),
		zap.Int64("version", snap.Version()),
	)
	WriteData(w, FromSnapshot(snap))
}

// listVersionsHandler handles GET /superadmin/abac/policies/versions
func (s *Server) listVersionsHandler(w http.ResponseWriter, r *http.Request) {
	history := s.store.History()
	if history == nil {
		WriteData(w, []policy.VersionInfo{})
		return
	}
	WriteData(w, history.List())
}

// rollbackHandler handles POST /superadmin/abac/policies/rollback/{version}
func (s *Server) rollbackHandler(w http.ResponseWriter, r *http.Request) {
	version, err := strconv.ParseInt(mux.Vars(r)["version"], 10, 64)
	if err != nil {
		WriteError(w, http.StatusBadRequest, CodeInvalidRequest, "version must be an integer")
		return
	}

	snap, err := s.store.Rollback(version)
	if err != nil {
		s.writePolicyError(w, "rollback", err)
		return
	}

	s.logger.Info("Policy set rolled back",
		zap.Int64("to_version", version),
		zap.Int64("version", snap.Version()),
	)
	WriteData(w, FromSnapshot(snap))
}

// exportPoliciesHandler handles GET /superadmin/abac/policies/export?format=json|yaml
func (s *Server) exportPoliciesHandler(w http.ResponseWriter, r *http.Request) {
	format, err := policy.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		WriteError(w, http.StatusBadRequest, CodeInvalidRequest, err.Error())
		return
	}

	var (
		policies []*types.Policy
		version  int64
	)
	if snap := s.store.Snapshot(); snap != nil {
		policies = snap.Policies()
		version = snap.Version()
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=policies-v%d.%s", version, format))
	if err := policy.Export(w, policies, format); err != nil {
		// headers are already sent
		s.logger.Error("Failed to export policies", zap.String("format", string(format)), zap.Error(err))
	}
}

// importPoliciesHandler handles POST /superadmin/abac/policies/import. The
// body is a policy document in the format named by ?format; it replaces the
// whole policy set unless ?dry_run=true.
func (s *Server) importPoliciesHandler(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	format, err := policy.ParseFormat(query.Get("format"))
	if err != nil {
		WriteError(w, http.StatusBadRequest, CodeInvalidRequest, err.Error())
		return
	}

	content, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		WriteError(w, http.StatusBadRequest, CodeInvalidRequest, "failed to read body: "+err.Error())
		return
	}

	policies, err := s.loader.Parse(content, format)
	if err != nil {
		s.writePolicyError(w, "import", err)
		return
	}

	if query.Get("dry_run") == "true" {
		ids := make([]string, 0, len(policies))
		for _, p := range policies {
			ids = append(ids, p.ID)
		}
		WriteData(w, map[string]interface{}{"dryRun": true, "policyIds": ids})
		return
	}

	snap, err := s.store.Replace(policies, changeComment(r, fmt.Sprintf("import %d policies", len(policies))))
	if err != nil {
		s.writePolicyError(w, "import", err)
		return
	}

	s.logger.Info("Policies imported",
		zap.Int("policies", len(policies)),
		zap.Int64("version", snap.Version()),
	)
	WriteData(w, FromSnapshot(snap))
}
