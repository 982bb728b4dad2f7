// Package engine owns the run state machine and the step interpreter: the
// core of the workflow control plane. It turns a declarative workflow
// schema plus an input payload into a sequence of artifacts, gated by
// human approval wherever a step is marked write-sensitive.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"gorm.io/gorm"

	"github.com/dara-labs/workflow-control-plane/internal/id"
	"github.com/dara-labs/workflow-control-plane/internal/notifier"
	"github.com/dara-labs/workflow-control-plane/internal/presets"
	"github.com/dara-labs/workflow-control-plane/internal/redact"
	"github.com/dara-labs/workflow-control-plane/internal/store"
	"github.com/dara-labs/workflow-control-plane/internal/vault"
	"github.com/dara-labs/workflow-control-plane/internal/workflow"
)

// Run statuses. Completed, rejected, and failed are terminal: no
// transition leaves them.
const (
	StatusRunning         = "running"
	StatusWaitingApproval = "waiting_approval"
	StatusCompleted       = "completed"
	StatusRejected        = "rejected"
	StatusFailed          = "failed"
)

const (
	approvalPending  = "pending"
	approvalApproved = "approved"
	approvalRejected = "rejected"
)

// RunView is the public projection of a run, including its approvals,
// returned by CreateRun, GetRun, and Approve.
type RunView struct {
	ID          string           `json:"id"`
	WorkflowID  string           `json:"workflow_id"`
	Status      string           `json:"status"`
	CurrentStep int              `json:"current_step"`
	CreatedAt   string           `json:"created_at"`
	UpdatedAt   string           `json:"updated_at"`
	Approvals   []ApprovalRecord `json:"approvals"`
}

// ApprovalRecord is the public view of a pending or decided approval.
type ApprovalRecord struct {
	ID          string  `json:"id"`
	ActionType  string  `json:"action_type"`
	PayloadHash string  `json:"payload_hash"`
	Status      string  `json:"status"`
	DecidedBy   *string `json:"decided_by"`
	DecidedAt   *string `json:"decided_at"`
}

// ArtifactRecord is the public view of an artifact written for a run.
type ArtifactRecord struct {
	ID        string `json:"id"`
	Path      string `json:"path"`
	Type      string `json:"type"`
	CreatedAt string `json:"created_at"`
}

// WorkflowView is the public projection of a stored workflow.
type WorkflowView struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Schema    workflow.Schema `json:"schema"`
	CreatedAt string          `json:"created_at"`
}

// ToolInvoker is the narrow interface the Engine needs for the non-shell
// tool_step path: a remote call to the connector service. *connector.Client
// satisfies this; tests substitute a fake that doesn't need a live HTTP
// server to exercise the success path.
type ToolInvoker interface {
	Invoke(ctx context.Context, toolName string, args map[string]any, runID string) (map[string]any, error)
}

// Engine drives the step interpreter and owns run lifecycle operations.
type Engine struct {
	store        *store.Store
	vault        *vault.Vault
	connector    ToolInvoker
	presets      *presets.Registry
	notifier     *notifier.Notifier
	artifactsDir string
	logger       *slog.Logger
}

// New builds an Engine and seeds the two default workflows
// (secretary-default, agent0-smoke) idempotently.
func New(
	s *store.Store,
	v *vault.Vault,
	c ToolInvoker,
	p *presets.Registry,
	n *notifier.Notifier,
	artifactsDir string,
	logger *slog.Logger,
) (*Engine, error) {
	e := &Engine{
		store:        s,
		vault:        v,
		connector:    c,
		presets:      p,
		notifier:     n,
		artifactsDir: artifactsDir,
		logger:       logger,
	}
	if err := e.seedDefaultWorkflows(); err != nil {
		return nil, fmt.Errorf("seeding default workflows: %w", err)
	}
	return e, nil
}

func (e *Engine) seedDefaultWorkflows() error {
	secretary := workflow.Schema{
		Name: "Draft Email + Schedule Follow-up",
		Steps: []workflow.Step{
			{Type: workflow.KindAgentStep, Name: "draft_email", Artifact: "draft_email.txt"},
			{Type: workflow.KindApprovalGate, ActionType: "approve_email_send"},
			{Type: workflow.KindToolStep, ToolName: "send_email", Write: true, Artifact: "email_payload.json"},
			{Type: workflow.KindToolStep, ToolName: "create_calendar_event", Write: true, Artifact: "calendar_payload.json"},
		},
	}
	smoke := workflow.Schema{
		Name: "Agent 0 Smoke Test",
		Steps: []workflow.Step{
			{Type: workflow.KindToolStep, ToolName: workflow.ToolShellCommand, Command: "node -v", Artifact: "node_version.txt"},
			{Type: workflow.KindToolStep, ToolName: workflow.ToolShellCommand, Command: "python --version", Artifact: "python_version.txt"},
			{Type: workflow.KindToolStep, ToolName: workflow.ToolShellCommand, Command: "echo 'smoke ok' > smoke.txt", Artifact: "smoke.txt"},
		},
	}
	return e.store.Tx(func(tx *gorm.DB) error {
		if err := insertWorkflowIfAbsent(tx, "secretary-default", secretary); err != nil {
			return err
		}
		return insertWorkflowIfAbsent(tx, "agent0-smoke", smoke)
	})
}

func insertWorkflowIfAbsent(tx *gorm.DB, workflowID string, schema workflow.Schema) error {
	var existing store.Workflow
	err := tx.First(&existing, "id = ?", workflowID).Error
	if err == nil {
		return nil
	}
	if err != gorm.ErrRecordNotFound {
		return err
	}
	encoded, err := json.Marshal(schema)
	if err != nil {
		return fmt.Errorf("encoding seeded workflow %s: %w", workflowID, err)
	}
	return tx.Create(&store.Workflow{
		ID:        workflowID,
		Name:      schema.Name,
		Schema:    string(encoded),
		CreatedAt: store.Now(),
	}).Error
}

// ListWorkflows returns every stored workflow.
func (e *Engine) ListWorkflows() ([]WorkflowView, error) {
	var rows []store.Workflow
	if err := e.store.DB().Order("created_at").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("%w: listing workflows: %v", ErrInternal, err)
	}
	views := make([]WorkflowView, 0, len(rows))
	for _, row := range rows {
		schema, err := decodeSchema(row.Schema)
		if err != nil {
			return nil, err
		}
		views = append(views, WorkflowView{ID: row.ID, Name: row.Name, Schema: schema, CreatedAt: row.CreatedAt})
	}
	return views, nil
}

// GetWorkflow returns a single workflow by id.
func (e *Engine) GetWorkflow(workflowID string) (WorkflowView, error) {
	var row store.Workflow
	if err := e.store.DB().First(&row, "id = ?", workflowID).Error; err != nil {
		return WorkflowView{}, fmt.Errorf("%w: workflow %q", ErrNotFound, workflowID)
	}
	schema, err := decodeSchema(row.Schema)
	if err != nil {
		return WorkflowView{}, err
	}
	return WorkflowView{ID: row.ID, Name: row.Name, Schema: schema, CreatedAt: row.CreatedAt}, nil
}

func decodeSchema(raw string) (workflow.Schema, error) {
	var schema workflow.Schema
	if err := json.Unmarshal([]byte(raw), &schema); err != nil {
		return workflow.Schema{}, fmt.Errorf("%w: decoding workflow schema: %v", ErrInternal, err)
	}
	if err := workflow.ParseSchema(schema); err != nil {
		return workflow.Schema{}, fmt.Errorf("%w: invalid workflow schema: %v", ErrInternal, err)
	}
	return schema, nil
}

// CreateRun allocates a run for workflowID with the given input, drives the
// interpreter to completion or the next suspension, and returns the
// resulting view.
func (e *Engine) CreateRun(ctx context.Context, workflowID string, input map[string]any) (RunView, error) {
	var wfRow store.Workflow
	if err := e.store.DB().First(&wfRow, "id = ?", workflowID).Error; err != nil {
		return RunView{}, fmt.Errorf("%w: workflow %q", ErrNotFound, workflowID)
	}

	inputJSON, err := json.Marshal(input)
	if err != nil {
		return RunView{}, fmt.Errorf("%w: encoding run input: %v", ErrValidation, err)
	}

	runID := id.New()
	now := store.Now()
	run := store.Run{
		ID:          runID,
		WorkflowID:  workflowID,
		Status:      StatusRunning,
		CurrentStep: 0,
		Input:       string(inputJSON),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := e.store.Tx(func(tx *gorm.DB) error {
		return tx.Create(&run).Error
	}); err != nil {
		return RunView{}, fmt.Errorf("%w: creating run: %v", ErrInternal, err)
	}

	if err := e.executeRun(ctx, runID); err != nil {
		return RunView{}, err
	}
	return e.GetRun(runID)
}

// GetRun returns a run's current view, including its approvals.
func (e *Engine) GetRun(runID string) (RunView, error) {
	var row store.Run
	if err := e.store.DB().First(&row, "id = ?", runID).Error; err != nil {
		return RunView{}, fmt.Errorf("%w: run %q", ErrNotFound, runID)
	}
	approvals, err := e.listApprovals(runID)
	if err != nil {
		return RunView{}, err
	}
	return RunView{
		ID:          row.ID,
		WorkflowID:  row.WorkflowID,
		Status:      row.Status,
		CurrentStep: row.CurrentStep,
		CreatedAt:   row.CreatedAt,
		UpdatedAt:   row.UpdatedAt,
		Approvals:   approvals,
	}, nil
}

func (e *Engine) listApprovals(runID string) ([]ApprovalRecord, error) {
	var rows []store.Approval
	if err := e.store.DB().Where("run_id = ?", runID).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("%w: listing approvals: %v", ErrInternal, err)
	}
	out := make([]ApprovalRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, ApprovalRecord{
			ID:          r.ID,
			ActionType:  r.ActionType,
			PayloadHash: r.PayloadHash,
			Status:      r.Status,
			DecidedBy:   r.DecidedBy,
			DecidedAt:   r.DecidedAt,
		})
	}
	return out, nil
}

// ListArtifacts returns every artifact recorded for a run, in write order.
func (e *Engine) ListArtifacts(runID string) ([]ArtifactRecord, error) {
	var rows []store.Artifact
	if err := e.store.DB().Where("run_id = ?", runID).Order("created_at").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("%w: listing artifacts: %v", ErrInternal, err)
	}
	out := make([]ArtifactRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, ArtifactRecord{ID: r.ID, Path: r.Path, Type: r.Type, CreatedAt: r.CreatedAt})
	}
	return out, nil
}

// Approve records a decision on approvalID and, if approved, resumes the
// interpreter at the run's current step. Rejection transitions the run to
// "rejected" and, matching the original engine's behavior, zeroes
// current_step rather than leaving it at the gated index.
func (e *Engine) Approve(ctx context.Context, runID, approvalID, decision, decidedBy string) (RunView, error) {
	if decision != approvalApproved && decision != approvalRejected {
		return RunView{}, fmt.Errorf("%w: decision must be %q or %q", ErrValidation, approvalApproved, approvalRejected)
	}

	var run store.Run
	if err := e.store.DB().First(&run, "id = ?", runID).Error; err != nil {
		return RunView{}, fmt.Errorf("%w: run %q", ErrNotFound, runID)
	}
	if run.Status == StatusCompleted || run.Status == StatusRejected || run.Status == StatusFailed {
		return RunView{}, fmt.Errorf("%w: run %q is already %s", ErrValidation, runID, run.Status)
	}

	decidedAt := store.Now()
	var decidedByPtr *string
	if decidedBy != "" {
		decidedByPtr = &decidedBy
	}
	if err := e.store.Tx(func(tx *gorm.DB) error {
		res := tx.Model(&store.Approval{}).Where("id = ?", approvalID).Updates(map[string]any{
			"status":     decision,
			"decided_by": decidedByPtr,
			"decided_at": decidedAt,
		})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: approval %q", ErrNotFound, approvalID)
		}
		return nil
	}); err != nil {
		return RunView{}, err
	}

	if decision == approvalApproved {
		if err := e.store.Tx(func(tx *gorm.DB) error {
			return tx.Model(&store.Run{}).Where("id = ?", runID).
				Updates(map[string]any{"status": StatusRunning, "updated_at": store.Now()}).Error
		}); err != nil {
			return RunView{}, fmt.Errorf("%w: resuming run: %v", ErrInternal, err)
		}
		if err := e.executeRun(ctx, runID); err != nil {
			return RunView{}, err
		}
	} else {
		if err := e.updateRun(runID, StatusRejected, 0); err != nil {
			return RunView{}, err
		}
	}

	return e.GetRun(runID)
}

func (e *Engine) updateRun(runID, status string, currentStep int) error {
	return e.store.Tx(func(tx *gorm.DB) error {
		return tx.Model(&store.Run{}).Where("id = ?", runID).Updates(map[string]any{
			"status":       status,
			"current_step": currentStep,
			"updated_at":   store.Now(),
		}).Error
	})
}

// executeRun is the step interpreter. It walks the workflow's step list
// starting from the run's current_step, executing steps until it either
// exhausts the list (completed), hits an unsatisfied gate (waiting_approval),
// or an external call fails (failed).
func (e *Engine) executeRun(ctx context.Context, runID string) error {
	var run store.Run
	if err := e.store.DB().First(&run, "id = ?", runID).Error; err != nil {
		return fmt.Errorf("%w: run %q", ErrNotFound, runID)
	}
	if run.Status != StatusRunning && run.Status != StatusWaitingApproval {
		return nil
	}

	wf, err := e.GetWorkflow(run.WorkflowID)
	if err != nil {
		return err
	}

	var input map[string]any
	if run.Input != "" {
		if err := json.Unmarshal([]byte(run.Input), &input); err != nil {
			return fmt.Errorf("%w: decoding run input: %v", ErrInternal, err)
		}
	}

	steps := wf.Schema.Steps
	for index := run.CurrentStep; index < len(steps); index++ {
		step := steps[index]

		switch step.Type {
		case workflow.KindAgentStep:
			content := fmt.Sprintf("Draft for workflow %s.\nInput: %s", wf.Schema.Name, mustCanonicalJSON(input))
			if err := e.writeArtifact(runID, step.DefaultArtifact(), content); err != nil {
				return err
			}
			if err := e.updateRun(runID, StatusRunning, index+1); err != nil {
				return fmt.Errorf("%w: %v", ErrInternal, err)
			}

		case workflow.KindApprovalGate:
			hash, err := workflow.Fingerprint(step)
			if err != nil {
				return fmt.Errorf("%w: fingerprinting gate step: %v", ErrInternal, err)
			}
			approved, err := e.hasApproved(runID, hash)
			if err != nil {
				return err
			}
			if !approved {
				actionType := step.ActionType
				if actionType == "" {
					actionType = "approval"
				}
				if err := e.createApproval(runID, actionType, hash); err != nil {
					return err
				}
				return e.updateRun(runID, StatusWaitingApproval, index)
			}
			if err := e.updateRun(runID, StatusRunning, index+1); err != nil {
				return fmt.Errorf("%w: %v", ErrInternal, err)
			}

		case workflow.KindToolStep:
			hash, err := workflow.Fingerprint(step)
			if err != nil {
				return fmt.Errorf("%w: fingerprinting tool step: %v", ErrInternal, err)
			}
			if step.Write {
				approved, err := e.hasApproved(runID, hash)
				if err != nil {
					return err
				}
				if !approved {
					actionType := step.ToolName
					if actionType == "" {
						actionType = "tool"
					}
					if err := e.createApproval(runID, actionType, hash); err != nil {
						return err
					}
					return e.updateRun(runID, StatusWaitingApproval, index)
				}
			}

			result, err := e.invokeTool(ctx, step, input, runID)
			if err != nil {
				e.logger.Error("tool invocation failed, failing run", "run_id", runID, "tool", step.ToolName, "error", err)
				return e.updateRun(runID, StatusFailed, index)
			}
			if err := e.writeArtifact(runID, step.DefaultArtifact(), mustCanonicalJSON(result)); err != nil {
				return err
			}
			if err := e.updateRun(runID, StatusRunning, index+1); err != nil {
				return fmt.Errorf("%w: %v", ErrInternal, err)
			}

		case workflow.KindHTTPStep:
			if err := e.writeArtifact(runID, step.DefaultArtifact(), "HTTP step executed"); err != nil {
				return err
			}
			if err := e.updateRun(runID, StatusRunning, index+1); err != nil {
				return fmt.Errorf("%w: %v", ErrInternal, err)
			}
		}
	}

	if err := e.updateRun(runID, StatusCompleted, len(steps)); err != nil {
		return fmt.Errorf("%w: %v", ErrInternal, err)
	}
	e.notifyCompletion(ctx, runID)
	return nil
}

// hasApproved looks at the most recently decided approval for
// (run_id, payload_hash), per the ORDER BY decided_at DESC LIMIT 1 semantics
// of the original engine — gate satisfaction is about the latest decision,
// not "any approved row ever".
func (e *Engine) hasApproved(runID, payloadHash string) (bool, error) {
	var row store.Approval
	err := e.store.DB().
		Where("run_id = ? AND payload_hash = ?", runID, payloadHash).
		Order("decided_at DESC").
		Limit(1).
		First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: checking approval state: %v", ErrInternal, err)
	}
	return row.Status == approvalApproved, nil
}

func (e *Engine) createApproval(runID, actionType, payloadHash string) error {
	row := store.Approval{
		ID:          id.New(),
		RunID:       runID,
		ActionType:  actionType,
		PayloadHash: payloadHash,
		Status:      approvalPending,
	}
	if err := e.store.Tx(func(tx *gorm.DB) error {
		return tx.Create(&row).Error
	}); err != nil {
		return fmt.Errorf("%w: creating approval: %v", ErrInternal, err)
	}
	return nil
}

// invokeTool executes a tool step's action (for a write step, only once it is
// approved): shell execution for
// shell_command, otherwise a connector invocation.
func (e *Engine) invokeTool(ctx context.Context, step workflow.Step, input map[string]any, runID string) (map[string]any, error) {
	if step.ToolName == workflow.ToolShellCommand {
		return runShellCommand(step.Command), nil
	}
	result, err := e.connector.Invoke(ctx, step.ToolName, map[string]any{"input": input}, runID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExternal, err)
	}
	return result, nil
}

// runShellCommand runs command through the host shell, capturing combined
// stdout+stderr. It is considered trusted: workflow schemas are authored by
// operators, not end users.
func runShellCommand(command string) map[string]any {
	if command == "" {
		return map[string]any{"status": "skipped", "output": "no command provided", "command": command}
	}
	cmd := exec.Command("sh", "-c", command)
	output, err := cmd.CombinedOutput()
	status := "ok"
	if err != nil {
		status = "error"
	}
	return map[string]any{
		"status":  status,
		"output":  strings.TrimSpace(string(output)),
		"command": command,
	}
}

// writeArtifact redacts content against the vault's current plaintext set
// and writes it to <artifacts_root>/runs/<run_id>/<filename>, recording an
// artifacts row.
func (e *Engine) writeArtifact(runID, filename, content string) error {
	dir := filepath.Join(e.artifactsDir, "runs", runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: creating artifact dir: %v", ErrInternal, err)
	}
	path := filepath.Join(dir, filename)

	secrets := e.vault.IterPlaintext()
	redacted := redact.Text(content, secrets)

	if err := os.WriteFile(path, []byte(redacted), 0o644); err != nil {
		return fmt.Errorf("%w: writing artifact: %v", ErrInternal, err)
	}

	row := store.Artifact{
		ID:        id.New(),
		RunID:     runID,
		Path:      path,
		Type:      "text",
		CreatedAt: store.Now(),
	}
	if err := e.store.Tx(func(tx *gorm.DB) error {
		return tx.Create(&row).Error
	}); err != nil {
		return fmt.Errorf("%w: recording artifact: %v", ErrInternal, err)
	}
	return nil
}

// notifyCompletion assembles and sends the completion webhook best-effort:
// a notifier failure is logged but never fails the already-completed run.
func (e *Engine) notifyCompletion(ctx context.Context, runID string) {
	artifacts, err := e.ListArtifacts(runID)
	if err != nil {
		e.logger.Warn("failed to list artifacts for completion notice", "run_id", runID, "error", err)
		return
	}
	infos := make([]notifier.ArtifactInfo, 0, len(artifacts))
	for _, a := range artifacts {
		infos = append(infos, notifier.ArtifactInfo{Path: a.Path, Type: a.Type, CreatedAt: a.CreatedAt})
	}

	model, err := e.presets.ActiveModel()
	if err != nil {
		e.logger.Warn("failed to resolve active preset for completion notice", "run_id", runID, "error", err)
		model = ""
	}

	e.notifier.Notify(ctx, notifier.Payload{
		RunID:       runID,
		Status:      StatusCompleted,
		Summary:     fmt.Sprintf("Run %s completed with %d artifact(s).", runID, len(artifacts)),
		Artifacts:   infos,
		ModelPreset: model,
		TokensUsed:  0,
		FinishedAt:  store.Now(),
	})
}

func mustCanonicalJSON(v any) string {
	b, err := workflow.Canonical(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}
