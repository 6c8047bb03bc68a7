package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/ashish-frozo/frozo-zendesk/internal/client"
	"github.com/ashish-frozo/frozo-zendesk/internal/crypto"
	"github.com/ashish-frozo/frozo-zendesk/internal/dispatcher"
	"github.com/ashish-frozo/frozo-zendesk/internal/fault"
	"github.com/ashish-frozo/frozo-zendesk/internal/redaction"
	db "github.com/ashish-frozo/frozo-zendesk/internal/repository/db"
	"github.com/ashish-frozo/frozo-zendesk/internal/storage"
)

const (
	// downstreamCallTimeout bounds one downstream attempt.
	downstreamCallTimeout = 30 * time.Second
	// maxDownstreamAttempts is the attempt cap per downstream operation.
	maxDownstreamAttempts = 5
)

// JiraFactory builds a downstream client from tenant-scoped credentials.
// Swappable in tests.
type JiraFactory func(baseURL, email, apiToken string) client.JiraClient

// ApproveResult is the approval response body.
type ApproveResult struct {
	RunID             string   `json:"run_id"`
	Status            string   `json:"status"`
	DownstreamKey     string   `json:"downstream_key,omitempty"`
	DownstreamURL     string   `json:"downstream_url,omitempty"`
	AlreadyExported   bool     `json:"already_exported,omitempty"`
	BlockedAssets     []string `json:"blocked_assets,omitempty"`
	FailedAttachments []string `json:"failed_attachments,omitempty"`
}

// ExportService implements the approval flow: precondition checks, the
// at-most-once downstream issue creation, asset attachment, and the
// fire-and-forget notification.
type ExportService struct {
	pool     *pgxpool.Pool
	querier  db.Querier
	vault    *crypto.Vault
	blob     storage.BlobStore
	notifier *dispatcher.SlackNotifier
	newJira  JiraFactory
	auditor  *Auditor
	logger   *zap.Logger

	exportsSucceeded metric.Int64Counter
	exportsFailed    metric.Int64Counter
}

// NewExportService creates an ExportService.
func NewExportService(pool *pgxpool.Pool, q db.Querier, vault *crypto.Vault, blob storage.BlobStore, notifier *dispatcher.SlackNotifier, newJira JiraFactory, auditor *Auditor, logger *zap.Logger) *ExportService {
	if newJira == nil {
		newJira = client.NewJiraClient
	}
	meter := otel.Meter("sanitizer")
	exportsSucceeded, _ := meter.Int64Counter("exports_succeeded_total",
		metric.WithDescription("Runs exported to the downstream tracker"))
	exportsFailed, _ := meter.Int64Counter("exports_failed_total",
		metric.WithDescription("Export attempts that failed permanently"))
	return &ExportService{
		pool:             pool,
		querier:          q,
		vault:            vault,
		blob:             blob,
		notifier:         notifier,
		newJira:          newJira,
		auditor:          auditor,
		logger:           logger,
		exportsSucceeded: exportsSucceeded,
		exportsFailed:    exportsFailed,
	}
}

// Approve exports one reviewed run. Idempotent on the run's existing Export
// row: a second approval returns the recorded downstream key without calling
// the downstream again.
func (s *ExportService) Approve(ctx context.Context, tenant db.Tenant, runID pgtype.UUID) (*ApproveResult, error) {
	jiraCfg, err := loadJiraConfig(ctx, s.querier, s.vault, tenant.ID)
	if err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	run, export, existing, err := s.beginExportTx(ctx, db.New(tx), runID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		tx.Rollback(ctx)
		return &ApproveResult{
			RunID:           uuidString(runID),
			Status:          run.Status,
			DownstreamKey:   existing.JiraIssueKey.String,
			DownstreamURL:   existing.JiraIssueUrl.String,
			AlreadyExported: true,
		}, nil
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	s.auditor.Record(ctx, tenant.ID, runID, EventExportStarted, map[string]interface{}{
		"export_id": uuidString(export.ID),
	})

	jira := s.newJira(jiraCfg.BaseURL, jiraCfg.Email, jiraCfg.apiToken)

	var issue *client.Issue
	err = retryDownstream(ctx, func(actx context.Context) error {
		var cerr error
		issue, cerr = jira.CreateIssue(actx, buildIssueRequest(run, jiraCfg))
		return cerr
	})
	if err != nil {
		s.recordExportFailure(ctx, tenant.ID, run, export, err)
		return nil, err
	}

	// The downstream key and the run's terminal status land in one
	// transaction: a crash between downstream success and this commit is
	// recoverable by re-approval, never by a second issue.
	tx, err = s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)
	qtx := db.New(tx)
	if err := qtx.MarkExportSucceeded(ctx, db.MarkExportSucceededParams{
		ID:           export.ID,
		JiraIssueKey: pgText(issue.Key),
		JiraIssueUrl: pgText(issue.URL),
	}); err != nil {
		return nil, fmt.Errorf("record export: %w", err)
	}
	if err := qtx.UpdateRunStatus(ctx, db.UpdateRunStatusParams{ID: runID, Status: "exported"}); err != nil {
		return nil, fmt.Errorf("advance run: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit export: %w", err)
	}

	s.exportsSucceeded.Add(ctx, 1)
	s.auditor.Record(ctx, tenant.ID, runID, EventExportSucceeded, map[string]interface{}{
		"issue_key": issue.Key,
	})
	s.logger.Info("run exported",
		zap.String("run_id", uuidString(runID)),
		zap.String("issue_key", issue.Key),
	)

	result := &ApproveResult{
		RunID:         uuidString(runID),
		Status:        "exported",
		DownstreamKey: issue.Key,
		DownstreamURL: issue.URL,
	}

	assets, err := s.querier.ListRunAssets(ctx, runID)
	if err == nil {
		result.BlockedAssets, result.FailedAttachments = s.attachAssets(ctx, tenant.ID, runID, jira, issue.Key, assets)
	}

	// The issue is durable; notification is best effort.
	go s.notify(context.WithoutCancel(ctx), tenant, run, issue)

	return result, nil
}

// beginExportTx checks the approval preconditions under the run row lock and
// inserts the pending Export row. When a successful export already exists it
// is returned instead and no state changes.
func (s *ExportService) beginExportTx(ctx context.Context, q db.Querier, runID pgtype.UUID) (db.Run, db.Export, *db.Export, error) {
	run, err := q.GetRunForUpdate(ctx, runID)
	if err != nil {
		return db.Run{}, db.Export{}, nil, fmt.Errorf("%w: run", ErrNotFound)
	}

	if existing, err := q.GetExportByRun(ctx, runID); err == nil && existing.JiraIssueKey.Valid {
		return run, db.Export{}, &existing, nil
	}

	if run.Status != "ready_for_review" {
		return db.Run{}, db.Export{}, nil, fmt.Errorf("%w: run is %s, not ready_for_review", ErrConflict, run.Status)
	}
	if !run.SanitizedText.Valid {
		return db.Run{}, db.Export{}, nil, fmt.Errorf("%w: run has no sanitized text", ErrConflict)
	}
	assets, err := q.ListRunAssets(ctx, runID)
	if err != nil {
		return db.Run{}, db.Export{}, nil, fmt.Errorf("list assets: %w", err)
	}
	for _, a := range assets {
		if a.Status == "pending" || a.Status == "processing" {
			return db.Run{}, db.Export{}, nil, fmt.Errorf("%w: asset %s is still %s", ErrConflict, a.Filename, a.Status)
		}
	}

	if err := q.UpdateRunStatus(ctx, db.UpdateRunStatusParams{ID: runID, Status: "exporting"}); err != nil {
		return db.Run{}, db.Export{}, nil, fmt.Errorf("advance run: %w", err)
	}
	export, err := q.CreateExport(ctx, db.CreateExportParams{ID: newPgtypeUUID(), RunID: runID})
	if err != nil {
		return db.Run{}, db.Export{}, nil, fmt.Errorf("create export: %w", err)
	}
	return run, export, nil, nil
}

// buildIssueRequest assembles the downstream payload from the sanitized text
// and a counts-only summary. Source ticket text never appears here.
func buildIssueRequest(run db.Run, cfg jiraConfig) client.CreateIssueRequest {
	var report redaction.Report
	summaryLine := fmt.Sprintf("Escalation for ticket %s", run.TicketID)

	var b strings.Builder
	b.WriteString(run.SanitizedText.String)
	if err := unmarshalReport(run.RedactionReport, &report); err == nil && report.TotalDetections > 0 {
		b.WriteString("\n\n----\nRedaction summary: ")
		b.WriteString(fmt.Sprintf("%d detections", report.TotalDetections))
		for kind, n := range report.Counts {
			b.WriteString(fmt.Sprintf(", %s: %d", kind, n))
		}
	}

	return client.CreateIssueRequest{
		ProjectKey:  cfg.ProjectKey,
		Summary:     summaryLine,
		Description: b.String(),
		IssueType:   cfg.IssueType,
		Priority:    cfg.Priority,
		Labels:      cfg.Labels,
	}
}

// attachAssets posts each completed asset's sanitized bytes to the issue.
// Attachment failures never revert the issue; they are audited and listed.
func (s *ExportService) attachAssets(ctx context.Context, tenantID, runID pgtype.UUID, jira client.JiraClient, issueKey string, assets []db.RunAsset) (blocked, failed []string) {
	for _, asset := range assets {
		switch asset.Status {
		case "blocked":
			blocked = append(blocked, asset.Filename)
			continue
		case "completed":
		default:
			continue
		}

		data, err := s.blob.Get(ctx, asset.StorageKey.String)
		if err == nil {
			err = retryDownstream(ctx, func(actx context.Context) error {
				_, aerr := jira.AttachFile(actx, issueKey, asset.Filename, data)
				return aerr
			})
		}
		if err != nil {
			failed = append(failed, asset.Filename)
			// Filenames are ticket-derived and stay off the audit trail;
			// the asset row carries the name for operators.
			s.auditor.Record(ctx, tenantID, runID, EventAttachFailed, map[string]interface{}{
				"asset_id":  uuidString(asset.ID),
				"issue_key": issueKey,
			})
			s.logger.Warn("attachment upload failed",
				zap.String("filename", asset.Filename),
				zap.String("issue_key", issueKey),
				zap.Error(err),
			)
		}
	}
	return blocked, failed
}

// notify posts the export notification to the tenant's webhook, if one is
// configured. Failures are audited, never propagated.
func (s *ExportService) notify(ctx context.Context, tenant db.Tenant, run db.Run, issue *client.Issue) {
	slackCfg, err := loadSlackConfig(ctx, s.querier, tenant.ID)
	if err != nil || slackCfg.WebhookURL == "" {
		return
	}
	msg := dispatcher.Message{
		Text: fmt.Sprintf("Ticket %s exported as %s (%s)", run.TicketID, issue.Key, issue.URL),
	}
	if err := s.notifier.Dispatch(ctx, slackCfg.WebhookURL, msg); err != nil {
		s.auditor.Record(ctx, tenant.ID, run.ID, EventNotifyFailed, map[string]interface{}{
			"issue_key": issue.Key,
		})
	}
}

// recordExportFailure marks the export and the run failed with the typed
// downstream code.
func (s *ExportService) recordExportFailure(ctx context.Context, tenantID pgtype.UUID, run db.Run, export db.Export, cause error) {
	code := string(fault.CodeOf(cause))
	if err := s.querier.MarkExportFailed(ctx, db.MarkExportFailedParams{
		ID:        export.ID,
		ErrorCode: pgText(code),
	}); err != nil {
		s.logger.Error("failed to mark export failed", zap.Error(err))
	}
	if err := s.querier.MarkRunFailed(ctx, db.MarkRunFailedParams{
		ID:           run.ID,
		ErrorCode:    pgText(code),
		ErrorMessage: pgText("downstream export failed"),
	}); err != nil {
		s.logger.Error("failed to mark run failed", zap.Error(err))
	}
	s.exportsFailed.Add(ctx, 1)
	s.auditor.Record(ctx, tenantID, run.ID, EventExportFailed, map[string]interface{}{
		"error_code": code,
	})
}

// downstreamBackoffBase is the first retry delay. Variable for tests.
var downstreamBackoffBase = time.Second

// retryDownstream runs op with exponential backoff: base 1s, factor 2, at
// most maxDownstreamAttempts attempts, retrying transient categories only.
func retryDownstream(ctx context.Context, op func(context.Context) error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = downstreamBackoffBase
	bo.Multiplier = 2
	bo.RandomizationFactor = 0

	return backoff.Retry(func() error {
		actx, cancel := context.WithTimeout(ctx, downstreamCallTimeout)
		defer cancel()
		if err := op(actx); err != nil {
			if !fault.Retryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(bo, maxDownstreamAttempts-1), ctx))
}

func unmarshalReport(data []byte, report *redaction.Report) error {
	if len(data) == 0 {
		return fmt.Errorf("empty report")
	}
	return json.Unmarshal(data, report)
}
