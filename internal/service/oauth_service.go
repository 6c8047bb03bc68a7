package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"go.uber.org/zap"

	"github.com/ashish-frozo/frozo-zendesk/internal/client"
	"github.com/ashish-frozo/frozo-zendesk/internal/crypto"
	"github.com/ashish-frozo/frozo-zendesk/internal/fault"
	db "github.com/ashish-frozo/frozo-zendesk/internal/repository/db"
)

// refreshLeeway is how long before expiry a token is refreshed preemptively.
const refreshLeeway = 300 * time.Second

// refreshTimeout bounds one token endpoint round trip.
const refreshTimeout = 10 * time.Second

// stateTTL bounds the install handshake.
const stateTTL = 15 * time.Minute

// UpstreamApp is the OAuth application registered with the ticket source.
type UpstreamApp struct {
	Host         string
	ClientID     string
	ClientSecret string
	RedirectURI  string
}

// OAuthService manages per-tenant upstream credentials: the install
// handshake, encrypted storage, and preemptive refresh. At most one refresh
// runs per tenant at a time.
type OAuthService struct {
	querier  db.Querier
	upstream client.ZendeskClient
	vault    *crypto.Vault
	auditor  *Auditor
	app      UpstreamApp
	stateKey []byte
	logger   *zap.Logger

	mu      sync.Mutex
	tenants map[uuid.UUID]*sync.Mutex
}

// NewOAuthService creates an OAuthService.
func NewOAuthService(q db.Querier, upstream client.ZendeskClient, vault *crypto.Vault, auditor *Auditor, app UpstreamApp, stateSecret string, logger *zap.Logger) *OAuthService {
	return &OAuthService{
		querier:  q,
		upstream: upstream,
		vault:    vault,
		auditor:  auditor,
		app:      app,
		stateKey: []byte(stateSecret),
		logger:   logger,
		tenants:  make(map[uuid.UUID]*sync.Mutex),
	}
}

// tenantLock returns the per-tenant refresh mutex.
func (s *OAuthService) tenantLock(id uuid.UUID) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.tenants[id]
	if !ok {
		m = &sync.Mutex{}
		s.tenants[id] = m
	}
	return m
}

// Install registers (or re-registers) a tenant as pending and returns the
// upstream authorization URL carrying a signed state token.
func (s *OAuthService) Install(ctx context.Context, subdomain string) (string, error) {
	if subdomain == "" {
		return "", fault.New(fault.CodeInternal, fault.CategoryInvalid, "subdomain is required")
	}
	if s.app.ClientID == "" || s.app.Host == "" {
		return "", fault.New(fault.CodeOAuthNotConfigured, fault.CategoryAuth, "upstream app credentials are not configured")
	}

	tenant, err := s.querier.UpsertTenant(ctx, db.UpsertTenantParams{
		ID:        newPgtypeUUID(),
		Subdomain: subdomain,
		Status:    "pending",
	})
	if err != nil {
		return "", fmt.Errorf("upsert tenant: %w", err)
	}

	claims := jwt.MapClaims{
		"tenant_id": uuidString(tenant.ID),
		"subdomain": subdomain,
		"exp":       time.Now().Add(stateTTL).Unix(),
		"iat":       time.Now().Unix(),
	}
	state, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.stateKey)
	if err != nil {
		return "", fmt.Errorf("sign state: %w", err)
	}

	return client.AuthorizeURL(s.app.Host, subdomain, s.app.ClientID, s.app.RedirectURI, state), nil
}

// Callback completes the handshake: verifies the state, exchanges the code,
// encrypts the grant, and activates the tenant.
func (s *OAuthService) Callback(ctx context.Context, state, code string) (db.Tenant, error) {
	token, err := jwt.Parse(state, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.stateKey, nil
	})
	if err != nil || !token.Valid {
		return db.Tenant{}, fault.Wrap(fault.CodeInternal, fault.CategoryInvalid, err, "invalid state token")
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return db.Tenant{}, fault.New(fault.CodeInternal, fault.CategoryInvalid, "malformed state claims")
	}
	tenantID, err := uuid.Parse(claims["tenant_id"].(string))
	if err != nil {
		return db.Tenant{}, fault.Wrap(fault.CodeInternal, fault.CategoryInvalid, err, "malformed tenant_id claim")
	}
	subdomain, _ := claims["subdomain"].(string)

	grant, err := s.upstream.ExchangeAuthCode(ctx, subdomain, code, s.app.ClientID, s.app.ClientSecret, s.app.RedirectURI)
	if err != nil {
		return db.Tenant{}, err
	}

	if err := s.storeGrant(ctx, toPgtypeUUID(tenantID), grant, "active"); err != nil {
		return db.Tenant{}, err
	}
	s.logger.Info("tenant activated", zap.String("subdomain", subdomain))
	return s.querier.GetTenant(ctx, toPgtypeUUID(tenantID))
}

// storeGrant encrypts and persists a token grant.
func (s *OAuthService) storeGrant(ctx context.Context, tenantID pgtype.UUID, grant *client.TokenResponse, status string) error {
	accessCT, err := s.vault.Encrypt(grant.AccessToken)
	if err != nil {
		return fmt.Errorf("encrypt access token: %w", err)
	}
	params := db.UpdateTenantTokensParams{
		ID:                    tenantID,
		AccessTokenCiphertext: pgText(accessCT),
		Status:                status,
	}
	if grant.RefreshToken != "" {
		refreshCT, err := s.vault.Encrypt(grant.RefreshToken)
		if err != nil {
			return fmt.Errorf("encrypt refresh token: %w", err)
		}
		params.RefreshTokenCiphertext = pgText(refreshCT)
	}
	if grant.ExpiresIn > 0 {
		params.TokenExpiresAt = pgtype.Timestamptz{
			Time:  time.Now().Add(time.Duration(grant.ExpiresIn) * time.Second),
			Valid: true,
		}
	}
	return s.querier.UpdateTenantTokens(ctx, params)
}

// ValidToken returns a decrypted access token for the tenant, refreshing
// preemptively when the token is within the leeway window of expiry.
func (s *OAuthService) ValidToken(ctx context.Context, tenantID pgtype.UUID) (string, error) {
	lock := s.tenantLock(tenantID.Bytes)
	lock.Lock()
	defer lock.Unlock()

	tenant, err := s.querier.GetTenant(ctx, tenantID)
	if err != nil {
		return "", fmt.Errorf("load tenant: %w", err)
	}
	if tenant.Status == "suspended" {
		return "", fault.New(fault.CodeOAuthRevoked, fault.CategoryAuth, "tenant is suspended; reinstall required")
	}
	if !tenant.AccessTokenCiphertext.Valid {
		return "", fault.New(fault.CodeOAuthNotConfigured, fault.CategoryAuth, "tenant has no upstream credentials")
	}

	now := time.Now()
	needsRefresh := tenant.TokenExpiresAt.Valid && now.Add(refreshLeeway).After(tenant.TokenExpiresAt.Time)
	if !needsRefresh {
		return s.vault.Decrypt(tenant.AccessTokenCiphertext.String)
	}

	refreshed, err := s.refresh(ctx, tenant)
	if err == nil {
		return refreshed, nil
	}

	// A transient token endpoint failure does not invalidate a grant that
	// is still within its absolute lifetime.
	if fault.CategoryOf(err) == fault.CategoryTransient && tenant.TokenExpiresAt.Time.After(now) {
		s.logger.Warn("token refresh failed transiently, serving current token",
			zap.String("subdomain", tenant.Subdomain),
			zap.Error(err),
		)
		return s.vault.Decrypt(tenant.AccessTokenCiphertext.String)
	}
	return "", err
}

// refresh rotates the tenant's grant. An auth-category rejection means the
// grant is gone for good: tokens are wiped and the tenant suspended.
func (s *OAuthService) refresh(ctx context.Context, tenant db.Tenant) (string, error) {
	if !tenant.RefreshTokenCiphertext.Valid {
		return "", fault.New(fault.CodeOAuthRefreshFailed, fault.CategoryAuth, "no refresh token on record")
	}
	refreshToken, err := s.vault.Decrypt(tenant.RefreshTokenCiphertext.String)
	if err != nil {
		return "", fmt.Errorf("decrypt refresh token: %w", err)
	}

	rctx, cancel := context.WithTimeout(ctx, refreshTimeout)
	defer cancel()

	grant, err := s.upstream.RefreshToken(rctx, tenant.Subdomain, refreshToken, s.app.ClientID, s.app.ClientSecret)
	if err != nil {
		if fault.CategoryOf(err) == fault.CategoryAuth {
			s.suspend(ctx, tenant)
			return "", fault.Wrap(fault.CodeOAuthRevoked, fault.CategoryAuth, err, "upstream rejected the refresh token")
		}
		return "", err
	}

	// Rotation: the upstream may or may not return a new refresh token.
	// storeGrant keeps the old one when none is returned.
	if grant.RefreshToken == "" {
		grant.RefreshToken = refreshToken
	}
	if err := s.storeGrant(ctx, tenant.ID, grant, tenant.Status); err != nil {
		return "", err
	}

	s.auditor.Record(ctx, tenant.ID, pgtype.UUID{}, EventOAuthRefreshed, map[string]interface{}{
		"expires_in": grant.ExpiresIn,
	})
	return grant.AccessToken, nil
}

// suspend wipes the tenant's tokens and marks it suspended.
func (s *OAuthService) suspend(ctx context.Context, tenant db.Tenant) {
	if err := s.querier.ClearTenantTokens(ctx, db.ClearTenantTokensParams{
		ID:     tenant.ID,
		Status: "suspended",
	}); err != nil {
		s.logger.Error("failed to suspend tenant", zap.String("subdomain", tenant.Subdomain), zap.Error(err))
		return
	}
	s.auditor.Record(ctx, tenant.ID, pgtype.UUID{}, EventOAuthRevoked, nil)
	s.logger.Warn("tenant suspended after grant revocation", zap.String("subdomain", tenant.Subdomain))
}

// Revoke drops the tenant's credentials on operator request.
func (s *OAuthService) Revoke(ctx context.Context, tenantID pgtype.UUID) error {
	tenant, err := s.querier.GetTenant(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("load tenant: %w", err)
	}
	s.suspend(ctx, tenant)
	return nil
}

// Status reports the tenant's connection state without touching token
// material.
func (s *OAuthService) Status(ctx context.Context, tenantID pgtype.UUID) (map[string]interface{}, error) {
	tenant, err := s.querier.GetTenant(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("load tenant: %w", err)
	}
	status := map[string]interface{}{
		"subdomain": tenant.Subdomain,
		"status":    tenant.Status,
		"connected": tenant.Status == "active" && tenant.AccessTokenCiphertext.Valid,
	}
	if tenant.TokenExpiresAt.Valid {
		status["token_expires_at"] = tenant.TokenExpiresAt.Time.UTC().Format(time.RFC3339)
	}
	return status, nil
}
