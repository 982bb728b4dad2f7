package api

import "net/http"

func (s *Server) handleListWorkflows(w http.ResponseWriter, r *http.Request) {
	workflows, err := s.engine.ListWorkflows()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, workflows)
}

func (s *Server) handleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	workflowID := r.PathValue("id")
	wf, err := s.engine.GetWorkflow(workflowID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

// createRunRequest is the body of POST /api/workflows/run.
type createRunRequest struct {
	WorkflowID string         `json:"workflow_id" validate:"required"`
	Input      map[string]any `json:"input"`
}

func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var req createRunRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed request body"})
		return
	}
	if err := validate.Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	run, err := s.engine.CreateRun(requestContext(r), req.WorkflowID, req.Input)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"run_id": run.ID})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")
	run, err := s.engine.GetRun(runID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleListArtifacts(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")
	artifacts, err := s.engine.ListArtifacts(runID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, artifacts)
}

// approveRequest is the body of POST /api/workflows/run/{id}/approve.
type approveRequest struct {
	ApprovalID string `json:"approval_id" validate:"required"`
	Decision   string `json:"decision" validate:"required,oneof=approved rejected"`
	DecidedBy  string `json:"decided_by"`
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")
	var req approveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed request body"})
		return
	}
	if err := validate.Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	run, err := s.engine.Approve(requestContext(r), runID, req.ApprovalID, req.Decision, req.DecidedBy)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}
