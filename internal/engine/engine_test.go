package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dara-labs/workflow-control-plane/internal/config"
	"github.com/dara-labs/workflow-control-plane/internal/connector"
	"github.com/dara-labs/workflow-control-plane/internal/notifier"
	"github.com/dara-labs/workflow-control-plane/internal/presets"
	"github.com/dara-labs/workflow-control-plane/internal/store"
	"github.com/dara-labs/workflow-control-plane/internal/vault"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeToolInvoker is a narrow ToolInvoker fake, in the style of the
// reference suite's FakeConnectorService: it stands in for a remote
// connector call so the non-shell tool_step path can be driven to either
// success or failure without a live HTTP server.
type fakeToolInvoker struct {
	result map[string]any
	err    error
}

func (f *fakeToolInvoker) Invoke(ctx context.Context, toolName string, args map[string]any, runID string) (map[string]any, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	s, err := store.Open(t.TempDir())
	require.NoError(t, err)
	return newTestEngineWithInvoker(t, s, connector.New("", "", s))
}

func newTestEngineWithInvoker(t *testing.T, s *store.Store, invoker ToolInvoker) *Engine {
	t.Helper()
	v, err := vault.New("test-master-key", s)
	require.NoError(t, err)
	p, err := presets.Open(s, config.PresetsConfig{
		Quality: "glm-quality", Main: "glm-main", Fast: "glm-fast", Long: "glm-long", Default: "quality",
	})
	require.NoError(t, err)
	n := notifier.New(config.WebhookConfig{}, config.TTSConfig{Provider: "none"}, testLogger())

	e, err := New(s, v, invoker, p, n, t.TempDir(), testLogger())
	require.NoError(t, err)
	return e
}

// TestDefaultSecretaryWorkflowHappyPath drives scenario S1: two gates,
// three approvals in sequence, completion with at least three artifacts.
// send_email and create_calendar_event are non-shell write tools, so this
// needs a succeeding ToolInvoker fake rather than the disabled connector —
// a disabled client would fail the run with ConfigurationError the moment
// the first write-gated tool executes.
func TestDefaultSecretaryWorkflowHappyPath(t *testing.T) {
	s, err := store.Open(t.TempDir())
	require.NoError(t, err)
	e := newTestEngineWithInvoker(t, s, &fakeToolInvoker{result: map[string]any{"status": "ok"}})
	ctx := context.Background()

	run, err := e.CreateRun(ctx, "secretary-default", map[string]any{"recipient": "test"})
	require.NoError(t, err)
	require.Equal(t, StatusWaitingApproval, run.Status)
	require.Len(t, run.Approvals, 1)
	assert.Equal(t, "approve_email_send", run.Approvals[0].ActionType)
	assert.Equal(t, "pending", run.Approvals[0].Status)

	run, err = e.Approve(ctx, run.ID, run.Approvals[0].ID, "approved", "tester")
	require.NoError(t, err)
	require.Equal(t, StatusWaitingApproval, run.Status)

	var sendEmailApproval ApprovalRecord
	for _, a := range run.Approvals {
		if a.ActionType == "send_email" {
			sendEmailApproval = a
		}
	}
	require.NotEmpty(t, sendEmailApproval.ID)
	require.Equal(t, "pending", sendEmailApproval.Status)

	run, err = e.Approve(ctx, run.ID, sendEmailApproval.ID, "approved", "tester")
	require.NoError(t, err)
	require.Equal(t, StatusWaitingApproval, run.Status)

	var calendarApproval ApprovalRecord
	for _, a := range run.Approvals {
		if a.ActionType == "create_calendar_event" {
			calendarApproval = a
		}
	}
	require.NotEmpty(t, calendarApproval.ID)

	run, err = e.Approve(ctx, run.ID, calendarApproval.ID, "approved", "tester")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, run.Status)

	artifacts, err := e.ListArtifacts(run.ID)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(artifacts), 3)
}

// TestNonShellToolInvocationFailureFailsRun drives the ExternalError path
// (spec.md §7): a connector invocation error on a non-shell tool_step fails
// the run rather than leaving it waiting or completed.
func TestNonShellToolInvocationFailureFailsRun(t *testing.T) {
	s, err := store.Open(t.TempDir())
	require.NoError(t, err)
	e := newTestEngineWithInvoker(t, s, &fakeToolInvoker{err: fmt.Errorf("connector unreachable")})
	ctx := context.Background()

	run, err := e.CreateRun(ctx, "secretary-default", map[string]any{"recipient": "test"})
	require.NoError(t, err)
	require.Equal(t, StatusWaitingApproval, run.Status)
	require.Len(t, run.Approvals, 1)

	run, err = e.Approve(ctx, run.ID, run.Approvals[0].ID, "approved", "tester")
	require.NoError(t, err)
	require.Equal(t, StatusWaitingApproval, run.Status)

	var sendEmailApproval ApprovalRecord
	for _, a := range run.Approvals {
		if a.ActionType == "send_email" {
			sendEmailApproval = a
		}
	}
	require.NotEmpty(t, sendEmailApproval.ID)

	run, err = e.Approve(ctx, run.ID, sendEmailApproval.ID, "approved", "tester")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, run.Status)
}

// TestSmokeWorkflowNoGates drives scenario S2: no approval gates, three
// shell-command artifacts, each a valid JSON object with status/output/command.
func TestSmokeWorkflowNoGates(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	run, err := e.CreateRun(ctx, "agent0-smoke", map[string]any{})
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, run.Status)
	assert.Empty(t, run.Approvals)

	artifacts, err := e.ListArtifacts(run.ID)
	require.NoError(t, err)
	require.Len(t, artifacts, 3)

	for _, a := range artifacts {
		raw, err := os.ReadFile(a.Path)
		require.NoError(t, err)
		var decoded map[string]any
		require.NoError(t, json.Unmarshal(raw, &decoded))
		assert.Contains(t, decoded, "status")
		assert.Contains(t, decoded, "output")
		assert.Contains(t, decoded, "command")
	}
}

// TestRejectionTransitionsRunAndZeroesCurrentStep drives the rejection path:
// the run moves to "rejected" and current_step is reset to 0, matching the
// original engine's behavior.
func TestRejectionTransitionsRunAndZeroesCurrentStep(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	run, err := e.CreateRun(ctx, "secretary-default", map[string]any{"recipient": "test"})
	require.NoError(t, err)
	require.Equal(t, StatusWaitingApproval, run.Status)
	require.Len(t, run.Approvals, 1)

	run, err = e.Approve(ctx, run.ID, run.Approvals[0].ID, "rejected", "tester")
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, run.Status)
	assert.Equal(t, 0, run.CurrentStep)
}

func TestApproveRejectsInvalidDecision(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	run, err := e.CreateRun(ctx, "secretary-default", map[string]any{"recipient": "test"})
	require.NoError(t, err)

	_, err = e.Approve(ctx, run.ID, run.Approvals[0].ID, "maybe", "tester")
	require.Error(t, err)
}

func TestCreateRunUnknownWorkflowIsNotFound(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.CreateRun(context.Background(), "does-not-exist", map[string]any{})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestGetRunUnknownIsNotFound(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.GetRun("does-not-exist")
	require.ErrorIs(t, err, ErrNotFound)
}

// TestArtifactsAreRedactedAtRest drives the redaction invariant: a secret
// stored in the vault must never appear verbatim in a written artifact.
func TestArtifactsAreRedactedAtRest(t *testing.T) {
	s, err := store.Open(t.TempDir())
	require.NoError(t, err)
	v, err := vault.New("test-master-key", s)
	require.NoError(t, err)
	_, err = v.Store("smtp", "password", "s3cr3t-smtp-password")
	require.NoError(t, err)

	c := connector.New("", "", s)
	p, err := presets.Open(s, config.PresetsConfig{Quality: "q", Main: "m", Fast: "f", Long: "l", Default: "quality"})
	require.NoError(t, err)
	n := notifier.New(config.WebhookConfig{}, config.TTSConfig{Provider: "none"}, testLogger())
	artifactsDir := t.TempDir()
	e, err := New(s, v, c, p, n, artifactsDir, testLogger())
	require.NoError(t, err)

	require.NoError(t, e.writeArtifact("run-x", "note.txt", "leaking s3cr3t-smtp-password here"))

	content, err := os.ReadFile(filepath.Join(artifactsDir, "runs", "run-x", "note.txt"))
	require.NoError(t, err)
	assert.False(t, strings.Contains(string(content), "s3cr3t-smtp-password"))
}

func TestListWorkflowsIncludesSeededDefaults(t *testing.T) {
	e := newTestEngine(t)
	workflows, err := e.ListWorkflows()
	require.NoError(t, err)

	var ids []string
	for _, w := range workflows {
		ids = append(ids, w.ID)
	}
	assert.Contains(t, ids, "secretary-default")
	assert.Contains(t, ids, "agent0-smoke")
}
