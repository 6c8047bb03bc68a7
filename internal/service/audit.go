// Package service implements the business layer: run orchestration, text
// redaction processing, export to Jira, OAuth token management, and tenant
// configuration.
package service

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"go.uber.org/zap"

	db "github.com/ashish-frozo/frozo-zendesk/internal/repository/db"
)

// Audit event types recorded on the trail.
const (
	EventRunCreated         = "run_created"
	EventRedactionCompleted = "redaction_completed"
	EventRunCancelled       = "run_cancelled"
	EventRunTimedOut        = "run_timed_out"
	EventRunBlocked         = "run_blocked"
	EventAssetBlocked       = "asset_blocked"
	EventExportStarted      = "export_started"
	EventExportSucceeded    = "export_succeeded"
	EventExportFailed       = "export_failed"
	EventNotifyFailed       = "notify_failed"
	EventAttachFailed       = "attach_failed"
	EventOAuthRefreshed     = "oauth_refreshed"
	EventOAuthRevoked       = "oauth_revoked"
)

// toPgtypeUUID converts a google/uuid.UUID to pgtype.UUID.
func toPgtypeUUID(id uuid.UUID) pgtype.UUID {
	return pgtype.UUID{Bytes: id, Valid: true}
}

// newPgtypeUUID mints a time-ordered id for a new row.
func newPgtypeUUID() pgtype.UUID {
	id, _ := uuid.NewV7()
	return toPgtypeUUID(id)
}

func pgText(s string) pgtype.Text {
	return pgtype.Text{String: s, Valid: true}
}

// Auditor appends events to the audit trail. Meta values must be counts,
// keys, and identifiers only; ticket content never goes on the trail.
type Auditor struct {
	querier db.Querier
	logger  *zap.Logger
}

// NewAuditor creates an Auditor.
func NewAuditor(q db.Querier, logger *zap.Logger) *Auditor {
	return &Auditor{querier: q, logger: logger}
}

// Record appends one event. Audit failures are logged, never propagated;
// the trail must not take down the operation it describes.
func (a *Auditor) Record(ctx context.Context, tenantID, runID pgtype.UUID, eventType string, meta map[string]interface{}) {
	var payload []byte
	if meta != nil {
		var err error
		payload, err = json.Marshal(meta)
		if err != nil {
			a.logger.Error("failed to marshal audit meta", zap.String("event_type", eventType), zap.Error(err))
			payload = nil
		}
	}
	if err := a.querier.InsertAuditEvent(ctx, db.InsertAuditEventParams{
		ID:        newPgtypeUUID(),
		TenantID:  tenantID,
		RunID:     runID,
		EventType: eventType,
		Meta:      payload,
	}); err != nil {
		a.logger.Error("failed to record audit event", zap.String("event_type", eventType), zap.Error(err))
	}
}
