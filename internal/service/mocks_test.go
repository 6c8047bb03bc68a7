package service

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"

	"github.com/ashish-frozo/frozo-zendesk/internal/client"
	"github.com/ashish-frozo/frozo-zendesk/internal/crypto"
	"github.com/ashish-frozo/frozo-zendesk/internal/pipeline"
	"github.com/ashish-frozo/frozo-zendesk/internal/redaction"
	db "github.com/ashish-frozo/frozo-zendesk/internal/repository/db"
)

// mockQuerier implements db.Querier with overridable function fields.
// Read methods fail loudly when unset so tests catch unexpected calls;
// write methods default to no-ops.
type mockQuerier struct {
	upsertTenantFn         func(ctx context.Context, arg db.UpsertTenantParams) (db.Tenant, error)
	getTenantFn            func(ctx context.Context, id pgtype.UUID) (db.Tenant, error)
	getTenantBySubdomainFn func(ctx context.Context, subdomain string) (db.Tenant, error)
	updateTenantTokensFn   func(ctx context.Context, arg db.UpdateTenantTokensParams) error
	clearTenantTokensFn    func(ctx context.Context, arg db.ClearTenantTokensParams) error
	upsertTenantConfigFn   func(ctx context.Context, arg db.UpsertTenantConfigParams) error
	getTenantConfigFn      func(ctx context.Context, arg db.GetTenantConfigParams) (db.TenantConfig, error)

	createRunFn               func(ctx context.Context, arg db.CreateRunParams) (db.Run, error)
	getRunFn                  func(ctx context.Context, id pgtype.UUID) (db.Run, error)
	getRunForUpdateFn         func(ctx context.Context, id pgtype.UUID) (db.Run, error)
	updateRunStatusFn         func(ctx context.Context, arg db.UpdateRunStatusParams) error
	markRunFailedFn           func(ctx context.Context, arg db.MarkRunFailedParams) error
	updateRunRedactionFn      func(ctx context.Context, arg db.UpdateRunRedactionParams) error
	finalizeRunReviewFn       func(ctx context.Context, arg db.FinalizeRunReviewParams) error
	failStaleProcessingRunsFn func(ctx context.Context, arg db.FailStaleProcessingRunsParams) ([]db.Run, error)

	createRunAssetFn       func(ctx context.Context, arg db.CreateRunAssetParams) (db.RunAsset, error)
	getRunAssetFn          func(ctx context.Context, id pgtype.UUID) (db.RunAsset, error)
	claimRunAssetFn        func(ctx context.Context, id pgtype.UUID) (int64, error)
	completeRunAssetFn     func(ctx context.Context, arg db.CompleteRunAssetParams) error
	updateRunAssetStatusFn func(ctx context.Context, arg db.UpdateRunAssetStatusParams) error
	listRunAssetsFn        func(ctx context.Context, runID pgtype.UUID) ([]db.RunAsset, error)
	countUnfinishedFn      func(ctx context.Context, runID pgtype.UUID) (int64, error)

	createExportFn        func(ctx context.Context, arg db.CreateExportParams) (db.Export, error)
	getExportByRunFn      func(ctx context.Context, runID pgtype.UUID) (db.Export, error)
	markExportSucceededFn func(ctx context.Context, arg db.MarkExportSucceededParams) error
	markExportFailedFn    func(ctx context.Context, arg db.MarkExportFailedParams) error

	insertAuditEventFn     func(ctx context.Context, arg db.InsertAuditEventParams) error
	listAuditEventsByRunFn func(ctx context.Context, runID pgtype.UUID) ([]db.AuditEvent, error)
}

var _ db.Querier = (*mockQuerier)(nil)

func unexpected(method string) error {
	return fmt.Errorf("unexpected call to %s", method)
}

func (m *mockQuerier) UpsertTenant(ctx context.Context, arg db.UpsertTenantParams) (db.Tenant, error) {
	if m.upsertTenantFn != nil {
		return m.upsertTenantFn(ctx, arg)
	}
	return db.Tenant{}, unexpected("UpsertTenant")
}

func (m *mockQuerier) GetTenant(ctx context.Context, id pgtype.UUID) (db.Tenant, error) {
	if m.getTenantFn != nil {
		return m.getTenantFn(ctx, id)
	}
	return db.Tenant{}, unexpected("GetTenant")
}

func (m *mockQuerier) GetTenantBySubdomain(ctx context.Context, subdomain string) (db.Tenant, error) {
	if m.getTenantBySubdomainFn != nil {
		return m.getTenantBySubdomainFn(ctx, subdomain)
	}
	return db.Tenant{}, unexpected("GetTenantBySubdomain")
}

func (m *mockQuerier) UpdateTenantTokens(ctx context.Context, arg db.UpdateTenantTokensParams) error {
	if m.updateTenantTokensFn != nil {
		return m.updateTenantTokensFn(ctx, arg)
	}
	return nil
}

func (m *mockQuerier) ClearTenantTokens(ctx context.Context, arg db.ClearTenantTokensParams) error {
	if m.clearTenantTokensFn != nil {
		return m.clearTenantTokensFn(ctx, arg)
	}
	return nil
}

func (m *mockQuerier) UpsertTenantConfig(ctx context.Context, arg db.UpsertTenantConfigParams) error {
	if m.upsertTenantConfigFn != nil {
		return m.upsertTenantConfigFn(ctx, arg)
	}
	return nil
}

func (m *mockQuerier) GetTenantConfig(ctx context.Context, arg db.GetTenantConfigParams) (db.TenantConfig, error) {
	if m.getTenantConfigFn != nil {
		return m.getTenantConfigFn(ctx, arg)
	}
	return db.TenantConfig{}, errors.New("no config")
}

func (m *mockQuerier) CreateRun(ctx context.Context, arg db.CreateRunParams) (db.Run, error) {
	if m.createRunFn != nil {
		return m.createRunFn(ctx, arg)
	}
	return db.Run{}, unexpected("CreateRun")
}

func (m *mockQuerier) GetRun(ctx context.Context, id pgtype.UUID) (db.Run, error) {
	if m.getRunFn != nil {
		return m.getRunFn(ctx, id)
	}
	return db.Run{}, unexpected("GetRun")
}

func (m *mockQuerier) GetRunForUpdate(ctx context.Context, id pgtype.UUID) (db.Run, error) {
	if m.getRunForUpdateFn != nil {
		return m.getRunForUpdateFn(ctx, id)
	}
	return db.Run{}, unexpected("GetRunForUpdate")
}

func (m *mockQuerier) UpdateRunStatus(ctx context.Context, arg db.UpdateRunStatusParams) error {
	if m.updateRunStatusFn != nil {
		return m.updateRunStatusFn(ctx, arg)
	}
	return nil
}

func (m *mockQuerier) MarkRunFailed(ctx context.Context, arg db.MarkRunFailedParams) error {
	if m.markRunFailedFn != nil {
		return m.markRunFailedFn(ctx, arg)
	}
	return nil
}

func (m *mockQuerier) UpdateRunRedaction(ctx context.Context, arg db.UpdateRunRedactionParams) error {
	if m.updateRunRedactionFn != nil {
		return m.updateRunRedactionFn(ctx, arg)
	}
	return nil
}

func (m *mockQuerier) FinalizeRunReview(ctx context.Context, arg db.FinalizeRunReviewParams) error {
	if m.finalizeRunReviewFn != nil {
		return m.finalizeRunReviewFn(ctx, arg)
	}
	return nil
}

func (m *mockQuerier) FailStaleProcessingRuns(ctx context.Context, arg db.FailStaleProcessingRunsParams) ([]db.Run, error) {
	if m.failStaleProcessingRunsFn != nil {
		return m.failStaleProcessingRunsFn(ctx, arg)
	}
	return nil, unexpected("FailStaleProcessingRuns")
}

func (m *mockQuerier) CreateRunAsset(ctx context.Context, arg db.CreateRunAssetParams) (db.RunAsset, error) {
	if m.createRunAssetFn != nil {
		return m.createRunAssetFn(ctx, arg)
	}
	return db.RunAsset{}, unexpected("CreateRunAsset")
}

func (m *mockQuerier) GetRunAsset(ctx context.Context, id pgtype.UUID) (db.RunAsset, error) {
	if m.getRunAssetFn != nil {
		return m.getRunAssetFn(ctx, id)
	}
	return db.RunAsset{}, unexpected("GetRunAsset")
}

func (m *mockQuerier) ClaimRunAsset(ctx context.Context, id pgtype.UUID) (int64, error) {
	if m.claimRunAssetFn != nil {
		return m.claimRunAssetFn(ctx, id)
	}
	return 0, unexpected("ClaimRunAsset")
}

func (m *mockQuerier) CompleteRunAsset(ctx context.Context, arg db.CompleteRunAssetParams) error {
	if m.completeRunAssetFn != nil {
		return m.completeRunAssetFn(ctx, arg)
	}
	return nil
}

func (m *mockQuerier) UpdateRunAssetStatus(ctx context.Context, arg db.UpdateRunAssetStatusParams) error {
	if m.updateRunAssetStatusFn != nil {
		return m.updateRunAssetStatusFn(ctx, arg)
	}
	return nil
}

func (m *mockQuerier) ListRunAssets(ctx context.Context, runID pgtype.UUID) ([]db.RunAsset, error) {
	if m.listRunAssetsFn != nil {
		return m.listRunAssetsFn(ctx, runID)
	}
	return nil, nil
}

func (m *mockQuerier) CountUnfinishedAssets(ctx context.Context, runID pgtype.UUID) (int64, error) {
	if m.countUnfinishedFn != nil {
		return m.countUnfinishedFn(ctx, runID)
	}
	return 0, nil
}

func (m *mockQuerier) CreateExport(ctx context.Context, arg db.CreateExportParams) (db.Export, error) {
	if m.createExportFn != nil {
		return m.createExportFn(ctx, arg)
	}
	return db.Export{ID: arg.ID, RunID: arg.RunID, Status: "pending"}, nil
}

func (m *mockQuerier) GetExportByRun(ctx context.Context, runID pgtype.UUID) (db.Export, error) {
	if m.getExportByRunFn != nil {
		return m.getExportByRunFn(ctx, runID)
	}
	return db.Export{}, errors.New("no export")
}

func (m *mockQuerier) MarkExportSucceeded(ctx context.Context, arg db.MarkExportSucceededParams) error {
	if m.markExportSucceededFn != nil {
		return m.markExportSucceededFn(ctx, arg)
	}
	return nil
}

func (m *mockQuerier) MarkExportFailed(ctx context.Context, arg db.MarkExportFailedParams) error {
	if m.markExportFailedFn != nil {
		return m.markExportFailedFn(ctx, arg)
	}
	return nil
}

func (m *mockQuerier) InsertAuditEvent(ctx context.Context, arg db.InsertAuditEventParams) error {
	if m.insertAuditEventFn != nil {
		return m.insertAuditEventFn(ctx, arg)
	}
	return nil
}

func (m *mockQuerier) ListAuditEventsByRun(ctx context.Context, runID pgtype.UUID) ([]db.AuditEvent, error) {
	if m.listAuditEventsByRunFn != nil {
		return m.listAuditEventsByRunFn(ctx, runID)
	}
	return nil, nil
}

// captureAuditEvents wires the mock to collect audit event types.
func captureAuditEvents(q *mockQuerier) *[]string {
	events := &[]string{}
	q.insertAuditEventFn = func(_ context.Context, arg db.InsertAuditEventParams) error {
		*events = append(*events, arg.EventType)
		return nil
	}
	return events
}

// mockZendesk implements client.ZendeskClient with function fields.
type mockZendesk struct {
	getTicketFn       func(ctx context.Context, subdomain, accessToken string, ticketID int64) (*client.Ticket, error)
	listCommentsFn    func(ctx context.Context, subdomain, accessToken string, ticketID int64) ([]client.Comment, error)
	fetchAttachmentFn func(ctx context.Context, accessToken, contentURL string) ([]byte, error)
	exchangeFn        func(ctx context.Context, subdomain, code, clientID, clientSecret, redirectURI string) (*client.TokenResponse, error)
	refreshFn         func(ctx context.Context, subdomain, refreshToken, clientID, clientSecret string) (*client.TokenResponse, error)
}

var _ client.ZendeskClient = (*mockZendesk)(nil)

func (m *mockZendesk) GetTicket(ctx context.Context, subdomain, accessToken string, ticketID int64) (*client.Ticket, error) {
	if m.getTicketFn != nil {
		return m.getTicketFn(ctx, subdomain, accessToken, ticketID)
	}
	return nil, unexpected("GetTicket")
}

func (m *mockZendesk) ListComments(ctx context.Context, subdomain, accessToken string, ticketID int64) ([]client.Comment, error) {
	if m.listCommentsFn != nil {
		return m.listCommentsFn(ctx, subdomain, accessToken, ticketID)
	}
	return nil, unexpected("ListComments")
}

func (m *mockZendesk) FetchAttachment(ctx context.Context, accessToken, contentURL string) ([]byte, error) {
	if m.fetchAttachmentFn != nil {
		return m.fetchAttachmentFn(ctx, accessToken, contentURL)
	}
	return nil, unexpected("FetchAttachment")
}

func (m *mockZendesk) ExchangeAuthCode(ctx context.Context, subdomain, code, clientID, clientSecret, redirectURI string) (*client.TokenResponse, error) {
	if m.exchangeFn != nil {
		return m.exchangeFn(ctx, subdomain, code, clientID, clientSecret, redirectURI)
	}
	return nil, unexpected("ExchangeAuthCode")
}

func (m *mockZendesk) RefreshToken(ctx context.Context, subdomain, refreshToken, clientID, clientSecret string) (*client.TokenResponse, error) {
	if m.refreshFn != nil {
		return m.refreshFn(ctx, subdomain, refreshToken, clientID, clientSecret)
	}
	return nil, unexpected("RefreshToken")
}

// mockJira implements client.JiraClient with function fields.
type mockJira struct {
	createIssueFn func(ctx context.Context, req client.CreateIssueRequest) (*client.Issue, error)
	attachFileFn  func(ctx context.Context, issueKey, filename string, content []byte) (*client.Attachment, error)
	serverInfoFn  func(ctx context.Context) (*client.ServerInfo, error)
}

var _ client.JiraClient = (*mockJira)(nil)

func (m *mockJira) CreateIssue(ctx context.Context, req client.CreateIssueRequest) (*client.Issue, error) {
	if m.createIssueFn != nil {
		return m.createIssueFn(ctx, req)
	}
	return nil, unexpected("CreateIssue")
}

func (m *mockJira) AttachFile(ctx context.Context, issueKey, filename string, content []byte) (*client.Attachment, error) {
	if m.attachFileFn != nil {
		return m.attachFileFn(ctx, issueKey, filename, content)
	}
	return nil, unexpected("AttachFile")
}

func (m *mockJira) ServerInfo(ctx context.Context) (*client.ServerInfo, error) {
	if m.serverInfoFn != nil {
		return m.serverInfoFn(ctx)
	}
	return nil, unexpected("ServerInfo")
}

// mockVerifier implements ArtifactVerifier. Unset, every artifact passes.
type mockVerifier struct {
	verifyFn func(ctx context.Context, artifact []byte, kind string, policy redaction.Policy) (*pipeline.Verification, error)
}

func (m *mockVerifier) Verify(ctx context.Context, artifact []byte, kind string, policy redaction.Policy) (*pipeline.Verification, error) {
	if m.verifyFn != nil {
		return m.verifyFn(ctx, artifact, kind, policy)
	}
	return &pipeline.Verification{Passed: true}, nil
}

// mockPublisher records published tasks.
type mockPublisher struct {
	subjects []string
	payloads [][]byte
	err      error
}

func (m *mockPublisher) Publish(subj string, data []byte, _ ...nats.PubOpt) (*nats.PubAck, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.subjects = append(m.subjects, subj)
	m.payloads = append(m.payloads, data)
	return &nats.PubAck{Stream: "ASSET_TASKS"}, nil
}

// mockKV is an in-memory CancelRegistry.
type mockKV struct {
	entries map[string][]byte
}

func newMockKV() *mockKV {
	return &mockKV{entries: make(map[string][]byte)}
}

func (m *mockKV) Put(key string, value []byte) (uint64, error) {
	m.entries[key] = value
	return uint64(len(m.entries)), nil
}

func (m *mockKV) Get(key string) (nats.KeyValueEntry, error) {
	v, ok := m.entries[key]
	if !ok {
		return nil, nats.ErrKeyNotFound
	}
	return kvEntry{key: key, value: v}, nil
}

type kvEntry struct {
	key   string
	value []byte
}

func (e kvEntry) Bucket() string             { return "RUN_CONTROL" }
func (e kvEntry) Key() string                { return e.key }
func (e kvEntry) Value() []byte              { return e.value }
func (e kvEntry) Revision() uint64           { return 1 }
func (e kvEntry) Created() time.Time         { return time.Time{} }
func (e kvEntry) Delta() uint64              { return 0 }
func (e kvEntry) Operation() nats.KeyValueOp { return nats.KeyValuePut }

// mockBlob is an in-memory BlobStore.
type mockBlob struct {
	objects map[string][]byte
}

func newMockBlob() *mockBlob {
	return &mockBlob{objects: make(map[string][]byte)}
}

func (m *mockBlob) Put(_ context.Context, key string, data []byte, _ string) error {
	m.objects[key] = data
	return nil
}

func (m *mockBlob) Get(_ context.Context, key string) ([]byte, error) {
	data, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("no object %s", key)
	}
	return data, nil
}

func (m *mockBlob) Presign(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://blob.test/" + key, nil
}

func testVault(t *testing.T) *crypto.Vault {
	t.Helper()
	key := sha256.Sum256([]byte("service-test-master-key"))
	v, err := crypto.New(key[:])
	require.NoError(t, err)
	return v
}
