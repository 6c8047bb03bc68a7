package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ashish-frozo/frozo-zendesk/internal/client"
	"github.com/ashish-frozo/frozo-zendesk/internal/dispatcher"
	"github.com/ashish-frozo/frozo-zendesk/internal/fault"
	"github.com/ashish-frozo/frozo-zendesk/internal/redaction"
	db "github.com/ashish-frozo/frozo-zendesk/internal/repository/db"
)

func newTestExportService(t *testing.T, q *mockQuerier, blob *mockBlob, jira *mockJira) *ExportService {
	t.Helper()
	logger := zaptest.NewLogger(t)
	notifier := dispatcher.NewSlackNotifier([]string{"hooks.slack.com"}, logger)
	factory := func(_, _, _ string) client.JiraClient { return jira }
	return NewExportService(nil, q, testVault(t), blob, notifier, factory, NewAuditor(q, logger), logger)
}

// fastBackoff shrinks the retry base so retry tests run in milliseconds.
func fastBackoff(t *testing.T) {
	t.Helper()
	old := downstreamBackoffBase
	downstreamBackoffBase = time.Millisecond
	t.Cleanup(func() { downstreamBackoffBase = old })
}

func readyRun() db.Run {
	return db.Run{
		ID:            newPgtypeUUID(),
		TenantID:      newPgtypeUUID(),
		TicketID:      "42",
		Status:        "ready_for_review",
		SanitizedText: pgText("sanitized escalation body"),
	}
}

func TestBeginExportTxCreatesPendingExport(t *testing.T) {
	run := readyRun()
	var statusUpdate db.UpdateRunStatusParams
	q := &mockQuerier{
		getRunForUpdateFn: func(_ context.Context, _ pgtype.UUID) (db.Run, error) {
			return run, nil
		},
		listRunAssetsFn: func(_ context.Context, _ pgtype.UUID) ([]db.RunAsset, error) {
			return []db.RunAsset{{Status: "completed"}, {Status: "blocked"}}, nil
		},
		updateRunStatusFn: func(_ context.Context, arg db.UpdateRunStatusParams) error {
			statusUpdate = arg
			return nil
		},
	}
	svc := newTestExportService(t, q, newMockBlob(), &mockJira{})

	gotRun, export, existing, err := svc.beginExportTx(context.Background(), q, run.ID)
	require.NoError(t, err)
	require.Nil(t, existing)
	assert.Equal(t, run.ID, gotRun.ID)
	assert.Equal(t, "pending", export.Status)
	assert.Equal(t, "exporting", statusUpdate.Status)
}

func TestBeginExportTxIdempotentOnExistingIssue(t *testing.T) {
	// A crash after downstream success leaves an export row with a key; a
	// re-approval must return it without creating a second issue.
	run := readyRun()
	run.Status = "exporting"
	q := &mockQuerier{
		getRunForUpdateFn: func(_ context.Context, _ pgtype.UUID) (db.Run, error) {
			return run, nil
		},
		getExportByRunFn: func(_ context.Context, _ pgtype.UUID) (db.Export, error) {
			return db.Export{
				Status:       "succeeded",
				JiraIssueKey: pgText("PROJ-7"),
				JiraIssueUrl: pgText("https://tracker.test/browse/PROJ-7"),
			}, nil
		},
		updateRunStatusFn: func(_ context.Context, _ db.UpdateRunStatusParams) error {
			return errors.New("must not change status on re-approval")
		},
	}
	svc := newTestExportService(t, q, newMockBlob(), &mockJira{})

	_, _, existing, err := svc.beginExportTx(context.Background(), q, run.ID)
	require.NoError(t, err)
	require.NotNil(t, existing)
	assert.Equal(t, "PROJ-7", existing.JiraIssueKey.String)
}

func TestBeginExportTxRejectsWrongStatus(t *testing.T) {
	run := readyRun()
	run.Status = "processing"
	q := &mockQuerier{
		getRunForUpdateFn: func(_ context.Context, _ pgtype.UUID) (db.Run, error) {
			return run, nil
		},
	}
	svc := newTestExportService(t, q, newMockBlob(), &mockJira{})

	_, _, _, err := svc.beginExportTx(context.Background(), q, run.ID)
	require.ErrorIs(t, err, ErrConflict)
}

func TestBeginExportTxRejectsMissingSanitizedText(t *testing.T) {
	run := readyRun()
	run.SanitizedText = pgtype.Text{}
	q := &mockQuerier{
		getRunForUpdateFn: func(_ context.Context, _ pgtype.UUID) (db.Run, error) {
			return run, nil
		},
	}
	svc := newTestExportService(t, q, newMockBlob(), &mockJira{})

	_, _, _, err := svc.beginExportTx(context.Background(), q, run.ID)
	require.ErrorIs(t, err, ErrConflict)
}

func TestBeginExportTxRejectsUnsettledAssets(t *testing.T) {
	run := readyRun()
	q := &mockQuerier{
		getRunForUpdateFn: func(_ context.Context, _ pgtype.UUID) (db.Run, error) {
			return run, nil
		},
		listRunAssetsFn: func(_ context.Context, _ pgtype.UUID) ([]db.RunAsset, error) {
			return []db.RunAsset{{Filename: "scan.pdf", Status: "processing"}}, nil
		},
	}
	svc := newTestExportService(t, q, newMockBlob(), &mockJira{})

	_, _, _, err := svc.beginExportTx(context.Background(), q, run.ID)
	require.ErrorIs(t, err, ErrConflict)
}

func TestRetryDownstreamStopsOnPermanentError(t *testing.T) {
	fastBackoff(t)
	attempts := 0
	err := retryDownstream(context.Background(), func(_ context.Context) error {
		attempts++
		return fault.Downstream(fault.SubAuth, nil, "CreateIssue: HTTP 401")
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, fault.CategoryAuth, fault.CategoryOf(err))
}

func TestRetryDownstreamRetriesTransientToCap(t *testing.T) {
	fastBackoff(t)
	attempts := 0
	err := retryDownstream(context.Background(), func(_ context.Context) error {
		attempts++
		return fault.Downstream(fault.SubServer, nil, "CreateIssue: HTTP 502")
	})
	require.Error(t, err)
	assert.Equal(t, maxDownstreamAttempts, attempts)
}

func TestRetryDownstreamEventualSuccess(t *testing.T) {
	fastBackoff(t)
	attempts := 0
	err := retryDownstream(context.Background(), func(_ context.Context) error {
		attempts++
		if attempts < 3 {
			return fault.Downstream(fault.SubRateLimited, nil, "CreateIssue: HTTP 429")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestBuildIssueRequestCountsOnly(t *testing.T) {
	run := readyRun()
	run.SourceText = pgText("call me at +1 555 123 4567")
	report := redaction.Report{
		TotalDetections: 2,
		Counts:          map[redaction.Kind]int{redaction.KindPhone: 2},
	}
	var err error
	run.RedactionReport, err = json.Marshal(report)
	require.NoError(t, err)

	req := buildIssueRequest(run, jiraConfig{ProjectKey: "PROJ", IssueType: "Task", Priority: "High"})
	assert.Equal(t, "PROJ", req.ProjectKey)
	assert.Equal(t, "Escalation for ticket 42", req.Summary)
	assert.Contains(t, req.Description, "sanitized escalation body")
	assert.Contains(t, req.Description, "2 detections")
	assert.Contains(t, req.Description, "PHONE: 2")
	assert.NotContains(t, req.Description, "555 123 4567")
}

func TestAttachAssetsListsBlockedAndFailed(t *testing.T) {
	fastBackoff(t)
	blob := newMockBlob()
	blob.objects["runs/ok"] = []byte("sanitized-bytes")
	blob.objects["runs/bad"] = []byte("other-bytes")

	jira := &mockJira{
		attachFileFn: func(_ context.Context, issueKey, filename string, content []byte) (*client.Attachment, error) {
			assert.Equal(t, "PROJ-1", issueKey)
			if filename == "bad.png" {
				return nil, fault.Downstream(fault.SubNotFound, nil, "AttachFile: HTTP 404")
			}
			assert.Equal(t, []byte("sanitized-bytes"), content)
			return &client.Attachment{ID: "10001", Filename: filename}, nil
		},
	}
	var attachMeta map[string]interface{}
	q := &mockQuerier{
		insertAuditEventFn: func(_ context.Context, arg db.InsertAuditEventParams) error {
			if arg.EventType == EventAttachFailed {
				require.NoError(t, json.Unmarshal(arg.Meta, &attachMeta))
			}
			return nil
		},
	}
	svc := newTestExportService(t, q, blob, jira)

	badID := newPgtypeUUID()
	assets := []db.RunAsset{
		{ID: newPgtypeUUID(), Filename: "leaky.pdf", Status: "blocked"},
		{ID: newPgtypeUUID(), Filename: "ok.png", Status: "completed", StorageKey: pgText("runs/ok")},
		{ID: badID, Filename: "bad.png", Status: "completed", StorageKey: pgText("runs/bad")},
		{ID: newPgtypeUUID(), Filename: "skipped.png", Status: "failed"},
	}
	blocked, failed := svc.attachAssets(context.Background(), newPgtypeUUID(), newPgtypeUUID(), jira, "PROJ-1", assets)

	assert.Equal(t, []string{"leaky.pdf"}, blocked)
	assert.Equal(t, []string{"bad.png"}, failed)

	// The trail identifies the asset by id; the ticket-derived filename
	// stays off it.
	require.NotNil(t, attachMeta)
	assert.Equal(t, uuidString(badID), attachMeta["asset_id"])
	assert.NotContains(t, attachMeta, "filename")
}

func TestRecordExportFailureMarksBoth(t *testing.T) {
	run := readyRun()
	export := db.Export{ID: newPgtypeUUID(), RunID: run.ID, Status: "pending"}

	var exportFailure db.MarkExportFailedParams
	var runFailure db.MarkRunFailedParams
	q := &mockQuerier{
		markExportFailedFn: func(_ context.Context, arg db.MarkExportFailedParams) error {
			exportFailure = arg
			return nil
		},
		markRunFailedFn: func(_ context.Context, arg db.MarkRunFailedParams) error {
			runFailure = arg
			return nil
		},
	}
	events := captureAuditEvents(q)
	svc := newTestExportService(t, q, newMockBlob(), &mockJira{})

	cause := fault.Downstream(fault.SubServer, nil, "CreateIssue: HTTP 503")
	svc.recordExportFailure(context.Background(), run.TenantID, run, export, cause)

	assert.Equal(t, string(fault.CodeDownstreamAPIError), exportFailure.ErrorCode.String)
	assert.Equal(t, string(fault.CodeDownstreamAPIError), runFailure.ErrorCode.String)
	assert.Contains(t, *events, EventExportFailed)
}
