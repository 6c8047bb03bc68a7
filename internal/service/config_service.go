package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgtype"
	"go.uber.org/zap"

	"github.com/ashish-frozo/frozo-zendesk/internal/client"
	"github.com/ashish-frozo/frozo-zendesk/internal/crypto"
	"github.com/ashish-frozo/frozo-zendesk/internal/dispatcher"
	"github.com/ashish-frozo/frozo-zendesk/internal/redaction"
	db "github.com/ashish-frozo/frozo-zendesk/internal/repository/db"
)

// Tenant config kinds.
const (
	ConfigKindJira      = "jira"
	ConfigKindSlack     = "slack"
	ConfigKindRedaction = "redaction"
)

// jiraConfig is the stored downstream tracker configuration. The API token
// arrives in plaintext on writes and is stored as ciphertext; reads never
// return either form.
type jiraConfig struct {
	BaseURL            string   `json:"base_url"`
	Email              string   `json:"email"`
	APIToken           string   `json:"api_token,omitempty"`
	APITokenCiphertext string   `json:"api_token_ciphertext,omitempty"`
	ProjectKey         string   `json:"project_key"`
	IssueType          string   `json:"issue_type,omitempty"`
	Priority           string   `json:"priority,omitempty"`
	Labels             []string `json:"labels,omitempty"`

	// apiToken is the decrypted token, populated on load, never serialized.
	apiToken string
}

// slackConfig is the stored notifier configuration.
type slackConfig struct {
	WebhookURL string `json:"webhook_url"`
}

// ConfigService validates and stores per-tenant configuration documents.
type ConfigService struct {
	querier  db.Querier
	vault    *crypto.Vault
	notifier *dispatcher.SlackNotifier
	newJira  JiraFactory
	logger   *zap.Logger
}

// NewConfigService creates a ConfigService.
func NewConfigService(q db.Querier, vault *crypto.Vault, notifier *dispatcher.SlackNotifier, newJira JiraFactory, logger *zap.Logger) *ConfigService {
	if newJira == nil {
		newJira = client.NewJiraClient
	}
	return &ConfigService{querier: q, vault: vault, notifier: notifier, newJira: newJira, logger: logger}
}

// Put validates and stores one configuration document.
func (s *ConfigService) Put(ctx context.Context, tenantID pgtype.UUID, kind string, payload []byte) error {
	stored, err := s.validate(kind, payload)
	if err != nil {
		return err
	}
	return s.querier.UpsertTenantConfig(ctx, db.UpsertTenantConfigParams{
		ID:       newPgtypeUUID(),
		TenantID: tenantID,
		Kind:     kind,
		Payload:  stored,
	})
}

// validate checks the document schema and encrypts inbound secret fields.
func (s *ConfigService) validate(kind string, payload []byte) ([]byte, error) {
	switch kind {
	case ConfigKindJira:
		var cfg jiraConfig
		if err := json.Unmarshal(payload, &cfg); err != nil {
			return nil, fmt.Errorf("%w: malformed jira config: %v", ErrInvalidInput, err)
		}
		if cfg.BaseURL == "" || cfg.Email == "" || cfg.ProjectKey == "" {
			return nil, fmt.Errorf("%w: jira config requires base_url, email, project_key", ErrInvalidInput)
		}
		if cfg.APIToken != "" {
			ct, err := s.vault.Encrypt(cfg.APIToken)
			if err != nil {
				return nil, fmt.Errorf("encrypt api token: %w", err)
			}
			cfg.APITokenCiphertext = ct
			cfg.APIToken = ""
		}
		if cfg.APITokenCiphertext == "" {
			return nil, fmt.Errorf("%w: jira config requires api_token", ErrInvalidInput)
		}
		return json.Marshal(cfg)

	case ConfigKindSlack:
		var cfg slackConfig
		if err := json.Unmarshal(payload, &cfg); err != nil {
			return nil, fmt.Errorf("%w: malformed slack config: %v", ErrInvalidInput, err)
		}
		if err := s.notifier.ValidateURL(cfg.WebhookURL); err != nil {
			return nil, err
		}
		return json.Marshal(cfg)

	case ConfigKindRedaction:
		var policy redaction.Policy
		if err := json.Unmarshal(payload, &policy); err != nil {
			return nil, fmt.Errorf("%w: malformed redaction policy: %v", ErrInvalidInput, err)
		}
		if policy.ConfidenceThreshold < 0 || policy.ConfidenceThreshold > 1 {
			return nil, fmt.Errorf("%w: confidence_threshold must be in [0, 1]", ErrInvalidInput)
		}
		if policy.Mask != "" && policy.Mask != redaction.MaskBlur && policy.Mask != redaction.MaskSolid {
			return nil, fmt.Errorf("%w: mask must be blur or solid", ErrInvalidInput)
		}
		return json.Marshal(policy)

	default:
		return nil, fmt.Errorf("%w: unknown config kind %q", ErrInvalidInput, kind)
	}
}

// Get returns one configuration document with secret fields elided.
func (s *ConfigService) Get(ctx context.Context, tenantID pgtype.UUID, kind string) (map[string]interface{}, error) {
	cfg, err := s.querier.GetTenantConfig(ctx, db.GetTenantConfigParams{TenantID: tenantID, Kind: kind})
	if err != nil {
		return nil, fmt.Errorf("%w: %s config", ErrNotFound, kind)
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(cfg.Payload, &doc); err != nil {
		return nil, fmt.Errorf("decode %s config: %w", kind, err)
	}
	if _, ok := doc["api_token_ciphertext"]; ok {
		delete(doc, "api_token_ciphertext")
		doc["api_token_set"] = true
	}
	return doc, nil
}

// TestConnection verifies the stored downstream credentials against the
// tracker's server-info endpoint.
func (s *ConfigService) TestConnection(ctx context.Context, tenantID pgtype.UUID) (map[string]interface{}, error) {
	cfg, err := loadJiraConfig(ctx, s.querier, s.vault, tenantID)
	if err != nil {
		return nil, err
	}
	info, err := s.newJira(cfg.BaseURL, cfg.Email, cfg.apiToken).ServerInfo(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"ok":      true,
		"title":   info.Title,
		"version": info.Version,
	}, nil
}

// loadJiraConfig loads and decrypts the tenant's downstream configuration.
func loadJiraConfig(ctx context.Context, q db.Querier, vault *crypto.Vault, tenantID pgtype.UUID) (jiraConfig, error) {
	row, err := q.GetTenantConfig(ctx, db.GetTenantConfigParams{TenantID: tenantID, Kind: ConfigKindJira})
	if err != nil {
		return jiraConfig{}, fmt.Errorf("%w: jira config", ErrNotFound)
	}
	var cfg jiraConfig
	if err := json.Unmarshal(row.Payload, &cfg); err != nil {
		return jiraConfig{}, fmt.Errorf("decode jira config: %w", err)
	}
	cfg.apiToken, err = vault.Decrypt(cfg.APITokenCiphertext)
	if err != nil {
		return jiraConfig{}, fmt.Errorf("decrypt api token: %w", err)
	}
	if cfg.IssueType == "" {
		cfg.IssueType = "Bug"
	}
	return cfg, nil
}

// loadSlackConfig loads the tenant's notifier configuration.
func loadSlackConfig(ctx context.Context, q db.Querier, tenantID pgtype.UUID) (slackConfig, error) {
	row, err := q.GetTenantConfig(ctx, db.GetTenantConfigParams{TenantID: tenantID, Kind: ConfigKindSlack})
	if err != nil {
		return slackConfig{}, fmt.Errorf("%w: slack config", ErrNotFound)
	}
	var cfg slackConfig
	if err := json.Unmarshal(row.Payload, &cfg); err != nil {
		return slackConfig{}, fmt.Errorf("decode slack config: %w", err)
	}
	return cfg, nil
}
