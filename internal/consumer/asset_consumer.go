// Package consumer contains the NATS JetStream pull consumer that executes
// sanitization tasks published by the API tier.
//
// Design principles:
//   - Pull-based subscription (not push) for backpressure control.
//   - msg.Ack() is called ONLY once the task's outcome is durably recorded.
//   - msg.Nak() requeues transient failures; msg.Term() discards poison pills.
//   - Cancellation tombstones are checked at stage boundaries so a cancelled
//     run stops costing OCR and upload work as soon as possible.
package consumer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ashish-frozo/frozo-zendesk/internal/core/natsclient"
	"github.com/ashish-frozo/frozo-zendesk/internal/fault"
	"github.com/ashish-frozo/frozo-zendesk/internal/pipeline"
	"github.com/ashish-frozo/frozo-zendesk/internal/redaction"
	db "github.com/ashish-frozo/frozo-zendesk/internal/repository/db"
	"github.com/ashish-frozo/frozo-zendesk/internal/service"
	"github.com/ashish-frozo/frozo-zendesk/internal/storage"
)

// durableName identifies this consumer group in JetStream. All worker
// replicas share it so each task is processed by exactly one instance.
const durableName = "sanitizer-worker"

// RunControl is the slice of the run service the consumer drives.
type RunControl interface {
	ProcessText(ctx context.Context, runID pgtype.UUID) error
	TryFinalize(ctx context.Context, runID pgtype.UUID) error
	FailRun(ctx context.Context, runID pgtype.UUID, cause error) error
	IsCancelled(runID pgtype.UUID) (bool, error)
	PolicyFor(ctx context.Context, run db.Run) redaction.Policy
}

// TokenSource yields a valid upstream access token for a tenant.
type TokenSource interface {
	ValidToken(ctx context.Context, tenantID pgtype.UUID) (string, error)
}

// AttachmentFetcher downloads one ticket attachment.
type AttachmentFetcher interface {
	FetchAttachment(ctx context.Context, accessToken, contentURL string) ([]byte, error)
}

// AssetConsumer pulls sanitization tasks off the ASSET_TASKS stream and runs
// the text, image, and PDF pipelines against them.
type AssetConsumer struct {
	nats     *natsclient.Client
	querier  db.Querier
	runs     RunControl
	tokens   TokenSource
	upstream AttachmentFetcher
	images   *pipeline.ImagePipeline
	pdfs     *pipeline.PDFPipeline
	verifier *pipeline.Verifier
	blob     storage.BlobStore
	auditor  *service.Auditor
	logger   *zap.Logger
	tracer   trace.Tracer

	assetsBlocked metric.Int64Counter
}

// NewAssetConsumer constructs an AssetConsumer.
func NewAssetConsumer(
	n *natsclient.Client,
	q db.Querier,
	runs RunControl,
	tokens TokenSource,
	upstream AttachmentFetcher,
	images *pipeline.ImagePipeline,
	pdfs *pipeline.PDFPipeline,
	verifier *pipeline.Verifier,
	blob storage.BlobStore,
	auditor *service.Auditor,
	logger *zap.Logger,
) *AssetConsumer {
	meter := otel.Meter("sanitizer")
	assetsBlocked, _ := meter.Int64Counter("assets_blocked_total",
		metric.WithDescription("Assets blocked by leak verification"))
	return &AssetConsumer{
		nats:          n,
		querier:       q,
		runs:          runs,
		tokens:        tokens,
		upstream:      upstream,
		images:        images,
		pdfs:          pdfs,
		verifier:      verifier,
		blob:          blob,
		auditor:       auditor,
		logger:        logger,
		tracer:        otel.Tracer("sanitizer-worker"),
		assetsBlocked: assetsBlocked,
	}
}

// Start creates a durable pull subscription and launches the processing loop
// in a background goroutine. It returns immediately. The ASSET_TASKS stream
// must already be provisioned.
func (c *AssetConsumer) Start(ctx context.Context) error {
	sub, err := c.nats.JS.PullSubscribe(
		natsclient.SubjectAssetTasks,
		durableName,
		nats.BindStream(natsclient.StreamAssetTasks),
	)
	if err != nil {
		return fmt.Errorf("asset consumer: PullSubscribe: %w", err)
	}

	c.logger.Info("asset consumer initialised",
		zap.String("stream", natsclient.StreamAssetTasks),
		zap.String("durable", durableName),
	)

	go func() {
		for {
			select {
			case <-ctx.Done():
				c.logger.Info("asset consumer stopping")
				return
			default:
				msgs, err := sub.Fetch(10, nats.Context(ctx))
				if err != nil {
					// Fetch returns nats.ErrTimeout on an empty queue.
					continue
				}
				for _, msg := range msgs {
					c.processMessage(ctx, msg)
				}
			}
		}
	}()

	return nil
}

// processMessage dispatches one NATS message and handles ACK/NAK/Term, keeping
// processTask free of NATS types for unit-testability.
func (c *AssetConsumer) processMessage(ctx context.Context, msg *nats.Msg) {
	err := c.processTask(ctx, msg.Data)
	if err != nil {
		switch err.(type) {
		case *poisonPillError:
			c.logger.Warn("terminating poison-pill task", zap.Error(err))
			msg.Term()
		default:
			c.logger.Error("NAK task (transient error)", zap.Error(err))
			msg.Nak()
		}
		return
	}
	msg.Ack()
}

// processTask decodes a task envelope and routes it. It returns a
// *poisonPillError for structurally invalid messages and a plain error for
// transient failures that should be redelivered. Permanent per-asset failures
// are recorded on the asset row and consume the message.
func (c *AssetConsumer) processTask(ctx context.Context, data []byte) error {
	var task service.Task
	if err := json.Unmarshal(data, &task); err != nil {
		return &poisonPillError{msg: fmt.Sprintf("unmarshal task: %v", err)}
	}
	runID, err := parseStringUUID(task.RunID)
	if err != nil {
		return &poisonPillError{msg: fmt.Sprintf("invalid run_id %q: %v", task.RunID, err)}
	}

	ctx = extractTraceContext(ctx, task.TraceID, task.SpanID)

	switch task.Type {
	case service.TaskTypeRunText:
		return c.handleText(ctx, runID)
	case service.TaskTypeAsset:
		assetID, err := parseStringUUID(task.AssetID)
		if err != nil {
			return &poisonPillError{msg: fmt.Sprintf("invalid asset_id %q: %v", task.AssetID, err)}
		}
		return c.handleAsset(ctx, runID, assetID)
	default:
		c.logger.Debug("skipping unknown task type", zap.String("type", task.Type))
		return nil
	}
}

// handleText sanitizes the run's ticket text and tries to finalize the run.
// A transient failure is redelivered; a permanent one settles the run as
// failed and terminates the task, so a deterministic detector fault cannot
// loop until the reaper.
func (c *AssetConsumer) handleText(ctx context.Context, runID pgtype.UUID) error {
	ctx, span := c.tracer.Start(ctx, "worker.run_text")
	defer span.End()

	if err := c.runs.ProcessText(ctx, runID); err != nil {
		span.RecordError(err)
		if fault.Retryable(err) {
			return fmt.Errorf("process text: %w", err)
		}
		if ferr := c.runs.FailRun(ctx, runID, err); ferr != nil {
			return fmt.Errorf("fail run after text error: %w", ferr)
		}
		return &poisonPillError{msg: fmt.Sprintf("text sanitization failed permanently: %v", err)}
	}
	return c.runs.TryFinalize(ctx, runID)
}

// handleAsset runs the media pipeline for one attachment: claim, fetch,
// sanitize, verify, upload, complete. The claim is a compare-and-set so a
// redelivered task for a settled asset is a no-op.
func (c *AssetConsumer) handleAsset(ctx context.Context, runID, assetID pgtype.UUID) error {
	ctx, span := c.tracer.Start(ctx, "worker.asset")
	defer span.End()

	asset, err := c.querier.GetRunAsset(ctx, assetID)
	if err != nil {
		return fmt.Errorf("load asset: %w", err)
	}
	if settled(asset.Status) {
		return nil
	}

	claimed, err := c.querier.ClaimRunAsset(ctx, assetID)
	if err != nil {
		return fmt.Errorf("claim asset: %w", err)
	}
	if claimed == 0 {
		// Another worker holds it, or it settled between read and claim.
		return nil
	}

	run, err := c.querier.GetRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("load run: %w", err)
	}
	if cancelled, _ := c.runs.IsCancelled(runID); cancelled || run.Status == "cancelled" {
		return c.settleCancelled(ctx, runID, assetID)
	}

	policy := c.runs.PolicyFor(ctx, run)

	token, err := c.tokens.ValidToken(ctx, run.TenantID)
	if err != nil {
		if fault.Retryable(err) {
			return fmt.Errorf("tenant token: %w", err)
		}
		return c.failAsset(ctx, runID, assetID, err)
	}
	data, err := c.upstream.FetchAttachment(ctx, token, asset.SourceUrl)
	if err != nil {
		if fault.Retryable(err) {
			return fmt.Errorf("fetch attachment: %w", err)
		}
		return c.failAsset(ctx, runID, assetID, err)
	}

	if cancelled, _ := c.runs.IsCancelled(runID); cancelled {
		return c.settleCancelled(ctx, runID, assetID)
	}

	artifact, meta, artifactKind, contentType, err := c.sanitize(ctx, asset, data, policy)
	if err != nil {
		if fault.Retryable(err) {
			return fmt.Errorf("sanitize %s: %w", asset.Filename, err)
		}
		return c.failAsset(ctx, runID, assetID, err)
	}

	verdict, err := c.verifier.Verify(ctx, artifact, artifactKind, policy)
	if err != nil {
		return fmt.Errorf("verify %s: %w", asset.Filename, err)
	}
	if !verdict.Passed {
		return c.blockAsset(ctx, run, asset, len(verdict.Residuals))
	}

	if cancelled, _ := c.runs.IsCancelled(runID); cancelled {
		return c.settleCancelled(ctx, runID, assetID)
	}

	key := storage.SanitizedKey(uuidString(runID), asset.Filename)
	if err := c.blob.Put(ctx, key, artifact, contentType); err != nil {
		return fmt.Errorf("upload artifact: %w", err)
	}
	checksum := sha256.Sum256(artifact)
	if err := c.querier.CompleteRunAsset(ctx, db.CompleteRunAssetParams{
		ID:         assetID,
		StorageKey: pgText(key),
		Checksum:   pgText(hex.EncodeToString(checksum[:])),
		Meta:       meta,
	}); err != nil {
		return fmt.Errorf("complete asset: %w", err)
	}

	c.logger.Info("asset sanitized",
		zap.String("run_id", uuidString(runID)),
		zap.String("filename", asset.Filename),
		zap.String("kind", asset.Kind),
	)
	return c.runs.TryFinalize(ctx, runID)
}

// sanitize dispatches to the pipeline matching the asset kind and returns the
// artifact bytes, the serialized meta, the verifier artifact kind, and the
// upload content type.
func (c *AssetConsumer) sanitize(ctx context.Context, asset db.RunAsset, data []byte, policy redaction.Policy) ([]byte, []byte, string, string, error) {
	switch asset.Kind {
	case "image":
		res, err := c.images.Sanitize(ctx, data, policy)
		if err != nil {
			return nil, nil, "", "", err
		}
		meta, err := json.Marshal(res.Meta)
		if err != nil {
			return nil, nil, "", "", err
		}
		return res.PNG, meta, pipeline.ArtifactImage, "image/png", nil
	case "pdf":
		res, err := c.pdfs.Sanitize(ctx, data, policy)
		if err != nil {
			return nil, nil, "", "", err
		}
		meta, err := json.Marshal(res.Meta)
		if err != nil {
			return nil, nil, "", "", err
		}
		return res.PDF, meta, pipeline.ArtifactPDF, "application/pdf", nil
	default:
		return nil, nil, "", "", &poisonPillError{msg: "unknown asset kind " + asset.Kind}
	}
}

// blockAsset records a verification failure. The asset never reaches the
// export; the run still finalizes so the reviewer sees the block.
func (c *AssetConsumer) blockAsset(ctx context.Context, run db.Run, asset db.RunAsset, residuals int) error {
	if err := c.querier.UpdateRunAssetStatus(ctx, db.UpdateRunAssetStatusParams{
		ID:        asset.ID,
		Status:    "blocked",
		ErrorCode: pgText(string(fault.CodeLeakVerificationFailed)),
	}); err != nil {
		return fmt.Errorf("block asset: %w", err)
	}
	c.assetsBlocked.Add(ctx, 1)
	// Identifiers only on the trail; the filename is ticket content and
	// lives on the asset row.
	c.auditor.Record(ctx, run.TenantID, run.ID, service.EventAssetBlocked, map[string]interface{}{
		"asset_id":       uuidString(asset.ID),
		"residual_spans": residuals,
	})
	c.logger.Warn("asset blocked by leak verification",
		zap.String("filename", asset.Filename),
		zap.Int("residual_spans", residuals),
	)
	return c.runs.TryFinalize(ctx, run.ID)
}

// failAsset settles the asset as failed with the typed code and consumes the
// message. The run still finalizes over the remaining assets.
func (c *AssetConsumer) failAsset(ctx context.Context, runID, assetID pgtype.UUID, cause error) error {
	if err := c.querier.UpdateRunAssetStatus(ctx, db.UpdateRunAssetStatusParams{
		ID:        assetID,
		Status:    "failed",
		ErrorCode: pgText(string(fault.CodeOf(cause))),
	}); err != nil {
		return fmt.Errorf("fail asset: %w", err)
	}
	c.logger.Warn("asset failed permanently", zap.Error(cause))
	return c.runs.TryFinalize(ctx, runID)
}

// settleCancelled settles the asset after a tombstone was observed. The
// status enum has no cancelled member; the asset ends failed with the
// cancellation as its recorded reason.
func (c *AssetConsumer) settleCancelled(ctx context.Context, runID, assetID pgtype.UUID) error {
	if err := c.querier.UpdateRunAssetStatus(ctx, db.UpdateRunAssetStatusParams{
		ID:        assetID,
		Status:    "failed",
		ErrorCode: pgText(string(fault.CodeCancelled)),
	}); err != nil {
		return fmt.Errorf("cancel asset: %w", err)
	}
	return nil
}

func settled(status string) bool {
	switch status {
	case "completed", "blocked", "failed":
		return true
	}
	return false
}

// poisonPillError wraps structural parse failures. processMessage terminates
// (rather than NAKs) messages wrapped in this type.
type poisonPillError struct{ msg string }

func (e *poisonPillError) Error() string { return "poison pill: " + e.msg }

// parseStringUUID converts a hex UUID string to pgtype.UUID.
func parseStringUUID(s string) (pgtype.UUID, error) {
	var u pgtype.UUID
	if err := u.Scan(s); err != nil {
		return pgtype.UUID{}, fmt.Errorf("parse UUID %q: %w", s, err)
	}
	return u, nil
}

func uuidString(id pgtype.UUID) string {
	return uuid.UUID(id.Bytes).String()
}

func pgText(s string) pgtype.Text {
	return pgtype.Text{String: s, Valid: true}
}

// extractTraceContext reconstructs the remote span context the publisher put
// on the task so the async span links back to the originating trace.
func extractTraceContext(ctx context.Context, traceIDStr, spanIDStr string) context.Context {
	if traceIDStr == "" || spanIDStr == "" {
		return ctx
	}
	traceID, err := trace.TraceIDFromHex(traceIDStr)
	if err != nil {
		return ctx
	}
	spanID, err := trace.SpanIDFromHex(spanIDStr)
	if err != nil {
		return ctx
	}
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
		Remote:     true,
	})
	return trace.ContextWithRemoteSpanContext(ctx, sc)
}
