package rest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/laundrydesk/abac-pdp/internal/audit"
	"github.com/laundrydesk/abac-pdp/internal/policy"
	"github.com/laundrydesk/abac-pdp/internal/presets"
	"github.com/laundrydesk/abac-pdp/pkg/types"
)

const maxBodyBytes = 1 << 20

// decodeBody reads a JSON body into v, rejecting trailing data
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("request body is empty")
		}
		return err
	}
	if dec.More() {
		return fmt.Errorf("request body must contain a single JSON object")
	}
	return nil
}

// decodeContext reads {"context": ...}. A missing context evaluates as an
// empty one and fails closed in the engine.
func (s *Server) decodeContext(w http.ResponseWriter, r *http.Request) (types.AttributeContext, bool) {
	var req TestRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.logger.Debug("Failed to decode evaluation request", zap.Error(err))
		WriteError(w, http.StatusBadRequest, CodeInvalidRequest, "invalid request body: "+err.Error())
		return types.AttributeContext{}, false
	}
	if req.Context == nil {
		return types.AttributeContext{}, true
	}
	return *req.Context, true
}

// testContextHandler handles POST /superadmin/abac/test
func (s *Server) testContextHandler(w http.ResponseWriter, r *http.Request) {
	attrs, ok := s.decodeContext(w, r)
	if !ok {
		return
	}
	WriteData(w, s.engine.Evaluate(r.Context(), attrs))
}

// listPresetsHandler handles GET /superadmin/abac/presets
func (s *Server) listPresetsHandler(w http.ResponseWriter, r *http.Request) {
	all := presets.All()
	out := make([]PresetResponse, 0, len(all)+1)
	for _, p := range all {
		out = append(out, FromPreset(p))
	}
	out = append(out, FromPreset(presets.Reset()))
	WriteData(w, out)
}

// testPresetHandler handles POST /superadmin/abac/presets/{name}/test
func (s *Server) testPresetHandler(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	outcome, err := presets.Run(r.Context(), s.engine, name)
	if err != nil {
		WriteErrorDetails(w, http.StatusNotFound, policy.ErrorCode(err), err.Error(), map[string]interface{}{
			"available": presets.Names(),
		})
		return
	}

	s.recordPresetRun(r, outcome)
	WriteData(w, outcome)
}

// testAllPresetsHandler handles POST /superadmin/abac/presets/test
func (s *Server) testAllPresetsHandler(w http.ResponseWriter, r *http.Request) {
	summary := PresetRunSummary{Outcomes: presets.RunAll(r.Context(), s.engine)}
	for _, o := range summary.Outcomes {
		if o.Passed {
			summary.Passed++
		} else {
			summary.Failed++
		}
		s.recordPresetRun(r, o)
	}
	WriteData(w, summary)
}

func (s *Server) recordPresetRun(r *http.Request, o *presets.Outcome) {
	s.audit.Log(r.Context(), &audit.PresetRunEvent{
		Actor:    audit.ActorFromContext(r.Context()),
		Preset:   o.Preset,
		Expected: string(o.Expected),
		Decision: string(o.Result.Decision),
		Passed:   o.Passed,
	})
	if !o.Passed {
		s.logger.Warn("Preset did not match its expected decision",
			zap.String("preset", o.Preset),
			zap.String("expected", string(o.Expected)),
			zap.String("decision", string(o.Result.Decision)),
		)
	}
}
