package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ashish-frozo/frozo-zendesk/internal/client"
	"github.com/ashish-frozo/frozo-zendesk/internal/core/natsclient"
	"github.com/ashish-frozo/frozo-zendesk/internal/fault"
	"github.com/ashish-frozo/frozo-zendesk/internal/pipeline"
	"github.com/ashish-frozo/frozo-zendesk/internal/redaction"
	db "github.com/ashish-frozo/frozo-zendesk/internal/repository/db"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrConflict     = errors.New("conflict")
)

// upstreamFetchTimeout bounds one ticket read from the upstream.
const upstreamFetchTimeout = 30 * time.Second

// runTransitions is the forward edge set of the run lifecycle. The cancel
// edge from non-terminal states is handled separately.
var runTransitions = map[string][]string{
	"pending":          {"processing", "failed"},
	"processing":       {"ready_for_review", "failed"},
	"ready_for_review": {"exporting", "failed"},
	"exporting":        {"exported", "failed"},
}

func canTransition(from, to string) bool {
	for _, t := range runTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

func isTerminalRunStatus(status string) bool {
	return status == "exported" || status == "failed" || status == "cancelled"
}

// TaskPublisher is the slice of JetStream the run service publishes through.
type TaskPublisher interface {
	Publish(subj string, data []byte, opts ...nats.PubOpt) (*nats.PubAck, error)
}

// CancelRegistry is the slice of the RUN_CONTROL KV bucket used for
// cancellation tombstones.
type CancelRegistry interface {
	Put(key string, value []byte) (uint64, error)
	Get(key string) (nats.KeyValueEntry, error)
}

// ArtifactVerifier re-scans a produced artifact for residual PII. Every
// artifact passes through it before it is stored, text included.
type ArtifactVerifier interface {
	Verify(ctx context.Context, artifact []byte, kind string, policy redaction.Policy) (*pipeline.Verification, error)
}

// Task is the envelope published to the ASSET_TASKS stream. One run_text
// task covers the ticket body; one asset task per discovered attachment.
type Task struct {
	Type      string `json:"type"` // run_text | asset
	RunID     string `json:"run_id"`
	AssetID   string `json:"asset_id,omitempty"`
	TenantID  string `json:"tenant_id"`
	Subdomain string `json:"subdomain"`
	TraceID   string `json:"trace_id,omitempty"`
	SpanID    string `json:"span_id,omitempty"`
}

// TaskTypeRunText and TaskTypeAsset are the Task.Type values.
const (
	TaskTypeRunText = "run_text"
	TaskTypeAsset   = "asset"
)

// CreateRunInput are the operator's ingest choices for a new run.
type CreateRunInput struct {
	TicketID             int64
	IncludeInternalNotes bool
}

// RunPreview is the reviewer-facing diff of one sanitized run.
type RunPreview struct {
	RunID        string              `json:"run_id"`
	Status       string              `json:"status"`
	RedactedText string              `json:"redacted_text"`
	Segments     []redaction.Segment `json:"segments"`
	Report       *redaction.Report   `json:"report"`
}

// RunService orchestrates the run lifecycle: ingest, text redaction, the
// finalize gate, and cancellation. Asset sanitization itself runs on the
// worker tier; this service only enqueues it.
type RunService struct {
	pool     *pgxpool.Pool
	querier  db.Querier
	upstream client.ZendeskClient
	oauth    *OAuthService
	detector *redaction.Detector
	verifier ArtifactVerifier
	js       TaskPublisher
	kv       CancelRegistry
	auditor  *Auditor
	logger   *zap.Logger

	runsCreated metric.Int64Counter
	runsReady   metric.Int64Counter
}

// NewRunService creates a RunService.
func NewRunService(pool *pgxpool.Pool, q db.Querier, upstream client.ZendeskClient, oauth *OAuthService, detector *redaction.Detector, verifier ArtifactVerifier, js TaskPublisher, kv CancelRegistry, auditor *Auditor, logger *zap.Logger) *RunService {
	meter := otel.Meter("sanitizer")
	runsCreated, _ := meter.Int64Counter("runs_created_total",
		metric.WithDescription("Redaction runs created"))
	runsReady, _ := meter.Int64Counter("runs_ready_total",
		metric.WithDescription("Runs that reached ready_for_review"))
	return &RunService{
		pool:        pool,
		querier:     q,
		upstream:    upstream,
		oauth:       oauth,
		detector:    detector,
		verifier:    verifier,
		js:          js,
		kv:          kv,
		auditor:     auditor,
		logger:      logger,
		runsCreated: runsCreated,
		runsReady:   runsReady,
	}
}

// LoadPolicy resolves the tenant's redaction policy, falling back to the
// defaults when none is configured.
func (s *RunService) LoadPolicy(ctx context.Context, tenantID pgtype.UUID) redaction.Policy {
	policy := redaction.DefaultPolicy()
	cfg, err := s.querier.GetTenantConfig(ctx, db.GetTenantConfigParams{TenantID: tenantID, Kind: "redaction"})
	if err != nil {
		return policy
	}
	if err := json.Unmarshal(cfg.Payload, &policy); err != nil {
		s.logger.Warn("malformed redaction config, using defaults", zap.Error(err))
		return redaction.DefaultPolicy()
	}
	if policy.ConfidenceThreshold <= 0 {
		policy.ConfidenceThreshold = 0.5
	}
	if policy.WarnThreshold <= 0 {
		policy.WarnThreshold = 0.7
	}
	if policy.LastNPublicComments <= 0 {
		policy.LastNPublicComments = 10
	}
	return policy
}

// PolicyFor resolves the policy a run was created under. The snapshot on the
// row wins; a tenant config change after creation must not alter how an
// existing run is redacted or previewed.
func (s *RunService) PolicyFor(ctx context.Context, run db.Run) redaction.Policy {
	if len(run.Options) > 0 {
		var policy redaction.Policy
		if err := json.Unmarshal(run.Options, &policy); err == nil {
			return policy
		}
		s.logger.Warn("malformed policy snapshot, falling back to tenant config",
			zap.String("run_id", uuidString(run.ID)))
	}
	return s.LoadPolicy(ctx, run.TenantID)
}

// CreateRun validates the ingest options, fetches the ticket, records the
// run and its discovered assets, and enqueues the sanitization tasks.
func (s *RunService) CreateRun(ctx context.Context, tenant db.Tenant, in CreateRunInput) (db.Run, error) {
	if in.TicketID <= 0 {
		return db.Run{}, fmt.Errorf("%w: ticket_id is required", ErrInvalidInput)
	}
	policy := s.LoadPolicy(ctx, tenant.ID)

	// Internal notes are opt-in twice over: the request must ask and the
	// tenant policy must allow. A forbidden request creates no run row.
	if in.IncludeInternalNotes && !policy.IncludeInternalNotes {
		return db.Run{}, fmt.Errorf("%w: tenant policy forbids ingesting internal notes", ErrInvalidInput)
	}

	token, err := s.oauth.ValidToken(ctx, tenant.ID)
	if err != nil {
		return db.Run{}, err
	}

	fctx, cancel := context.WithTimeout(ctx, upstreamFetchTimeout)
	defer cancel()
	ticket, err := s.upstream.GetTicket(fctx, tenant.Subdomain, token, in.TicketID)
	if err != nil {
		return db.Run{}, fault.Wrap(fault.CodeUpstreamFetchFailed, fault.CategoryOf(err), err, "fetch ticket")
	}
	comments, err := s.upstream.ListComments(fctx, tenant.Subdomain, token, in.TicketID)
	if err != nil {
		return db.Run{}, fault.Wrap(fault.CodeUpstreamFetchFailed, fault.CategoryOf(err), err, "list comments")
	}

	source := composeSourceText(ticket, comments, policy, in.IncludeInternalNotes)
	attachments := discoverAttachments(comments)

	options, err := json.Marshal(policy)
	if err != nil {
		return db.Run{}, fmt.Errorf("snapshot policy: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return db.Run{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)
	qtx := db.New(tx)

	run, err := qtx.CreateRun(ctx, db.CreateRunParams{
		ID:         newPgtypeUUID(),
		TenantID:   tenant.ID,
		TicketID:   fmt.Sprintf("%d", in.TicketID),
		Status:     "pending",
		SourceText: pgText(source),
		Options:    options,
	})
	if err != nil {
		return db.Run{}, fmt.Errorf("create run: %w", err)
	}

	assets := make([]db.RunAsset, 0, len(attachments))
	for _, att := range attachments {
		asset, err := qtx.CreateRunAsset(ctx, db.CreateRunAssetParams{
			ID:          newPgtypeUUID(),
			RunID:       run.ID,
			Filename:    att.ref.Filename,
			ContentType: att.ref.ContentType,
			Kind:        att.kind,
			SourceUrl:   att.ref.ContentURL,
			SizeBytes:   att.ref.Size,
		})
		if err != nil {
			return db.Run{}, fmt.Errorf("create run asset: %w", err)
		}
		assets = append(assets, asset)
	}
	if err := tx.Commit(ctx); err != nil {
		return db.Run{}, fmt.Errorf("commit: %w", err)
	}

	if err := s.enqueueTasks(ctx, tenant, run, assets); err != nil {
		// The run row exists but no work is queued; fail it rather than
		// leave it wedged in pending.
		s.failRun(ctx, run.ID, fault.CodeInternal, "failed to enqueue sanitization tasks")
		return db.Run{}, err
	}
	if err := s.querier.UpdateRunStatus(ctx, db.UpdateRunStatusParams{ID: run.ID, Status: "processing"}); err != nil {
		return db.Run{}, fmt.Errorf("advance run to processing: %w", err)
	}
	run.Status = "processing"

	s.runsCreated.Add(ctx, 1)
	s.auditor.Record(ctx, tenant.ID, run.ID, EventRunCreated, map[string]interface{}{
		"ticket_id":   in.TicketID,
		"asset_count": len(assets),
	})
	s.logger.Info("run created",
		zap.String("run_id", uuidString(run.ID)),
		zap.Int64("ticket_id", in.TicketID),
		zap.Int("assets", len(assets)),
	)
	return run, nil
}

// enqueueTasks publishes the run_text task and one task per asset.
func (s *RunService) enqueueTasks(ctx context.Context, tenant db.Tenant, run db.Run, assets []db.RunAsset) error {
	base := Task{
		RunID:     uuidString(run.ID),
		TenantID:  uuidString(tenant.ID),
		Subdomain: tenant.Subdomain,
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		base.TraceID = sc.TraceID().String()
		base.SpanID = sc.SpanID().String()
	}

	textTask := base
	textTask.Type = TaskTypeRunText
	if err := s.publishTask(textTask); err != nil {
		return err
	}
	for _, asset := range assets {
		t := base
		t.Type = TaskTypeAsset
		t.AssetID = uuidString(asset.ID)
		if err := s.publishTask(t); err != nil {
			return err
		}
	}
	return nil
}

func (s *RunService) publishTask(task Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	subject := natsclient.SubjectAssetTask(task.RunID, task.AssetID)
	if _, err := s.js.Publish(subject, data); err != nil {
		return fmt.Errorf("publish task to %s: %w", subject, err)
	}
	return nil
}

// composeSourceText joins the ticket description with the last N public
// comments, plus internal notes when both the request and the policy allow.
func composeSourceText(ticket *client.Ticket, comments []client.Comment, policy redaction.Policy, includeInternal bool) string {
	parts := []string{ticket.Description}

	var eligible []client.Comment
	for _, c := range comments {
		if c.Public || (includeInternal && policy.IncludeInternalNotes) {
			eligible = append(eligible, c)
		}
	}
	// Keep only the most recent N public comments; internal notes, when
	// allowed, ride along uncapped.
	publicSeen := 0
	for i := len(eligible) - 1; i >= 0; i-- {
		if eligible[i].Public {
			publicSeen++
			if publicSeen > policy.LastNPublicComments {
				eligible = eligible[i+1:]
				break
			}
		}
	}
	for _, c := range eligible {
		if c.Body != "" {
			parts = append(parts, c.Body)
		}
	}
	return strings.Join(parts, "\n\n")
}

type discoveredAttachment struct {
	ref  client.AttachmentRef
	kind string
}

// discoverAttachments picks the processable attachments: rasters and PDFs.
func discoverAttachments(comments []client.Comment) []discoveredAttachment {
	var out []discoveredAttachment
	for _, c := range comments {
		for _, a := range c.Attachments {
			switch {
			case strings.HasPrefix(a.ContentType, "image/"):
				out = append(out, discoveredAttachment{ref: a, kind: "image"})
			case a.ContentType == "application/pdf":
				out = append(out, discoveredAttachment{ref: a, kind: "pdf"})
			}
		}
	}
	return out
}

// ProcessText sanitizes the run's ticket text. It is invoked from the
// worker tier and is safe to re-run.
func (s *RunService) ProcessText(ctx context.Context, runID pgtype.UUID) error {
	run, err := s.querier.GetRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("%w: run", ErrNotFound)
	}
	if isTerminalRunStatus(run.Status) {
		return nil
	}
	policy := s.PolicyFor(ctx, run)

	det, err := s.detector.Analyze(ctx, run.SourceText.String, policy)
	if err != nil {
		return fault.Wrap(fault.CodeDetectorFailed, fault.CategoryInternal, err, "analyze ticket text")
	}
	if cancelled, _ := s.IsCancelled(runID); cancelled {
		return nil
	}
	red := redaction.Redact(run.SourceText.String, det.Spans, policy)
	report := redaction.BuildReport(det, red)
	reportJSON, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}

	// Egress gate: the sanitized text goes through the same independent
	// re-scan as image and PDF artifacts. Residual findings end the run.
	verdict, err := s.verifier.Verify(ctx, []byte(red.RedactedText), pipeline.ArtifactText, policy)
	if err != nil {
		return fault.Wrap(fault.CodeLeakVerificationFailed, fault.CategoryInternal, err, "verify sanitized text")
	}
	if !verdict.Passed {
		s.failRun(ctx, runID, fault.CodeLeakVerificationFailed, "sanitized text failed leak verification")
		s.auditor.Record(ctx, run.TenantID, runID, EventRunBlocked, map[string]interface{}{
			"residual_spans": len(verdict.Residuals),
		})
		s.logger.Warn("run text blocked by leak verification",
			zap.String("run_id", uuidString(runID)),
			zap.Int("residual_spans", len(verdict.Residuals)),
		)
		return nil
	}

	if err := s.querier.UpdateRunRedaction(ctx, db.UpdateRunRedactionParams{
		ID:              runID,
		SanitizedText:   pgText(red.RedactedText),
		RedactionReport: reportJSON,
	}); err != nil {
		return fmt.Errorf("store redaction: %w", err)
	}

	s.auditor.Record(ctx, run.TenantID, runID, EventRedactionCompleted, map[string]interface{}{
		"total_detections":     report.TotalDetections,
		"low_confidence_count": report.LowConfidenceCount,
	})
	return nil
}

// TryFinalize advances the run to ready_for_review once the text is
// sanitized and every asset has reached a settled state. Safe to call after
// every completed task; the row lock linearizes racing callers.
func (s *RunService) TryFinalize(ctx context.Context, runID pgtype.UUID) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.tryFinalizeTx(ctx, db.New(tx), runID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *RunService) tryFinalizeTx(ctx context.Context, q db.Querier, runID pgtype.UUID) error {
	run, err := q.GetRunForUpdate(ctx, runID)
	if err != nil {
		return fmt.Errorf("%w: run", ErrNotFound)
	}
	if run.Status != "processing" {
		return nil
	}
	if !run.SanitizedText.Valid {
		return nil
	}
	unfinished, err := q.CountUnfinishedAssets(ctx, runID)
	if err != nil {
		return fmt.Errorf("count assets: %w", err)
	}
	if unfinished > 0 {
		return nil
	}
	if !canTransition(run.Status, "ready_for_review") {
		return fmt.Errorf("%w: run is %s", ErrConflict, run.Status)
	}

	hash := RunHash(uuidString(run.TenantID), run.TicketID, run.SanitizedText.String)
	if err := q.FinalizeRunReview(ctx, db.FinalizeRunReviewParams{ID: runID, RunHash: pgText(hash)}); err != nil {
		return fmt.Errorf("finalize run: %w", err)
	}
	s.runsReady.Add(ctx, 1)
	s.logger.Info("run ready for review", zap.String("run_id", uuidString(runID)))
	return nil
}

// RunHash fingerprints the sanitized output of one run.
func RunHash(tenantID, ticketID, sanitized string) string {
	h := sha256.New()
	h.Write([]byte(tenantID))
	h.Write([]byte(ticketID))
	h.Write([]byte(sanitized))
	return hex.EncodeToString(h.Sum(nil))
}

// Cancel moves a non-terminal run to cancelled and publishes the
// cancellation tombstone the workers poll.
func (s *RunService) Cancel(ctx context.Context, runID pgtype.UUID) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	run, err := s.cancelTx(ctx, db.New(tx), runID)
	if err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	if _, err := s.kv.Put(uuidString(runID), []byte("cancelled")); err != nil {
		s.logger.Error("failed to publish cancellation tombstone",
			zap.String("run_id", uuidString(runID)),
			zap.Error(err),
		)
	}
	s.auditor.Record(ctx, run.TenantID, runID, EventRunCancelled, nil)
	return nil
}

func (s *RunService) cancelTx(ctx context.Context, q db.Querier, runID pgtype.UUID) (db.Run, error) {
	run, err := q.GetRunForUpdate(ctx, runID)
	if err != nil {
		return db.Run{}, fmt.Errorf("%w: run", ErrNotFound)
	}
	if isTerminalRunStatus(run.Status) {
		return db.Run{}, fmt.Errorf("%w: run is already %s", ErrConflict, run.Status)
	}
	if err := q.UpdateRunStatus(ctx, db.UpdateRunStatusParams{ID: runID, Status: "cancelled"}); err != nil {
		return db.Run{}, fmt.Errorf("cancel run: %w", err)
	}
	return run, nil
}

// IsCancelled reports whether a cancellation tombstone exists for the run.
func (s *RunService) IsCancelled(runID pgtype.UUID) (bool, error) {
	_, err := s.kv.Get(uuidString(runID))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, nats.ErrKeyNotFound) {
		return false, nil
	}
	return false, err
}

// Get returns one run.
func (s *RunService) Get(ctx context.Context, runID pgtype.UUID) (db.Run, error) {
	run, err := s.querier.GetRun(ctx, runID)
	if err != nil {
		return db.Run{}, fmt.Errorf("%w: run", ErrNotFound)
	}
	return run, nil
}

// Assets lists the run's assets.
func (s *RunService) Assets(ctx context.Context, runID pgtype.UUID) ([]db.RunAsset, error) {
	return s.querier.ListRunAssets(ctx, runID)
}

// Preview rebuilds the reviewer diff from the stored source text. The
// detector is deterministic, so the rebuilt segments match the stored
// sanitized text byte for byte.
func (s *RunService) Preview(ctx context.Context, runID pgtype.UUID) (*RunPreview, error) {
	run, err := s.querier.GetRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("%w: run", ErrNotFound)
	}
	if !run.SanitizedText.Valid {
		return nil, fmt.Errorf("%w: run text is not sanitized yet", ErrConflict)
	}
	policy := s.PolicyFor(ctx, run)

	det, err := s.detector.Analyze(ctx, run.SourceText.String, policy)
	if err != nil {
		return nil, fault.Wrap(fault.CodeDetectorFailed, fault.CategoryInternal, err, "rebuild preview")
	}
	red := redaction.Redact(run.SourceText.String, det.Spans, policy)
	report := redaction.BuildReport(det, red)

	return &RunPreview{
		RunID:        uuidString(runID),
		Status:       run.Status,
		RedactedText: red.RedactedText,
		Segments:     red.Segments,
		Report:       &report,
	}, nil
}

// FailRun marks the run failed with the cause's typed code. Used by the
// worker tier when a task fails permanently.
func (s *RunService) FailRun(ctx context.Context, runID pgtype.UUID, cause error) error {
	if err := s.querier.MarkRunFailed(ctx, db.MarkRunFailedParams{
		ID:           runID,
		ErrorCode:    pgText(string(fault.CodeOf(cause))),
		ErrorMessage: pgText(cause.Error()),
	}); err != nil {
		return fmt.Errorf("mark run failed: %w", err)
	}
	return nil
}

// failRun marks a run failed with a typed reason.
func (s *RunService) failRun(ctx context.Context, runID pgtype.UUID, code fault.Code, msg string) {
	if err := s.querier.MarkRunFailed(ctx, db.MarkRunFailedParams{
		ID:           runID,
		ErrorCode:    pgText(string(code)),
		ErrorMessage: pgText(msg),
	}); err != nil {
		s.logger.Error("failed to mark run failed", zap.String("run_id", uuidString(runID)), zap.Error(err))
	}
}

// uuidString renders a pgtype.UUID in canonical form.
func uuidString(id pgtype.UUID) string {
	return uuid.UUID(id.Bytes).String()
}
