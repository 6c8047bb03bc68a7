// The worker consumes asset sanitization tasks from JetStream, runs the
// image and PDF pipelines, and finalizes runs once every piece settles.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/ashish-frozo/frozo-zendesk/internal/client"
	"github.com/ashish-frozo/frozo-zendesk/internal/config"
	"github.com/ashish-frozo/frozo-zendesk/internal/consumer"
	coreconfig "github.com/ashish-frozo/frozo-zendesk/internal/core/config"
	"github.com/ashish-frozo/frozo-zendesk/internal/core/natsclient"
	"github.com/ashish-frozo/frozo-zendesk/internal/core/telemetry"
	"github.com/ashish-frozo/frozo-zendesk/internal/crypto"
	"github.com/ashish-frozo/frozo-zendesk/internal/pipeline"
	"github.com/ashish-frozo/frozo-zendesk/internal/redaction"
	db "github.com/ashish-frozo/frozo-zendesk/internal/repository/db"
	"github.com/ashish-frozo/frozo-zendesk/internal/service"
	"github.com/ashish-frozo/frozo-zendesk/internal/storage"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg := config.Load(logger)

	// ── OpenTelemetry ──────────────────────────────────────────────────────
	otelEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if otelEndpoint != "" {
		tp, err := telemetry.InitTracer(context.Background(), "sanitizer-worker", otelEndpoint)
		if err != nil {
			logger.Error("failed to init OTel tracer", zap.Error(err))
		} else {
			defer tp.Shutdown(context.Background())
			logger.Info("OTel tracer initialized", zap.String("endpoint", otelEndpoint))
		}
		mp, err := telemetry.InitMeterProvider(context.Background(), "sanitizer-worker", otelEndpoint)
		if err != nil {
			logger.Error("failed to init OTel meter provider", zap.Error(err))
		} else {
			defer mp.Shutdown(context.Background())
			logger.Info("OTel meter provider initialized", zap.String("endpoint", otelEndpoint))
		}
	}

	// ── Vault secrets ──────────────────────────────────────────────────────
	applyVaultOverrides(cfg, logger)

	// ── Database ───────────────────────────────────────────────────────────
	poolCfg, err := pgxpool.ParseConfig(cfg.PGURL)
	if err != nil {
		logger.Fatal("failed to parse PG_URL", zap.Error(err))
	}
	poolCfg.ConnConfig.Tracer = otelpgx.NewTracer()
	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer pool.Close()

	// ── NATS JetStream ─────────────────────────────────────────────────────
	natsClient, err := natsclient.NewClient(cfg.NATSURL, logger)
	if err != nil {
		logger.Fatal("NATS initialization failed", zap.Error(err))
	}
	defer natsClient.Close()

	if err := natsClient.ProvisionStreams(); err != nil {
		logger.Fatal("NATS stream provisioning failed", zap.Error(err))
	}
	runControl, err := natsClient.ProvisionRunControl()
	if err != nil {
		logger.Fatal("NATS KV provisioning failed", zap.Error(err))
	}

	// ── Secret vault & object storage ──────────────────────────────────────
	secretVault, err := crypto.NewFromEnv(logger)
	if err != nil {
		logger.Fatal("secret vault initialization failed", zap.Error(err))
	}
	blob, err := storage.NewBlobStore(context.Background(), storage.Options{
		Endpoint:  cfg.S3Endpoint,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
		Bucket:    cfg.S3Bucket,
		UseSSL:    cfg.S3UseSSL,
	}, logger)
	if err != nil {
		logger.Fatal("blob store initialization failed", zap.Error(err))
	}

	// ── Detection & sanitization pipelines ─────────────────────────────────
	var ner redaction.NERTagger
	if cfg.NERTaggerURL != "" {
		ner = client.NewNERTagger(cfg.NERTaggerURL)
	}
	detector := redaction.NewDetector(ner, logger)

	localOCR := client.NewLocalOCREngine(cfg.OCRLocalURL)
	var cloudOCR client.OCREngine
	if cfg.OCRCloudURL != "" {
		cloudOCR = client.NewCloudOCREngine(cfg.OCRCloudURL, cfg.OCRCloudAPIKey)
	}
	pdfEngine := client.NewPDFEngine(cfg.PDFEngineURL)

	images := pipeline.NewImagePipeline(localOCR, cloudOCR, detector, logger)
	pdfs := pipeline.NewPDFPipeline(pdfEngine, images, detector, logger)
	verifier := pipeline.NewVerifier(localOCR, cloudOCR, pdfEngine, detector, logger)

	// ── Services ───────────────────────────────────────────────────────────
	querier := db.New(pool)
	auditor := service.NewAuditor(querier, logger)
	zendesk := client.NewZendeskClient(cfg.UpstreamHost)

	oauthSvc := service.NewOAuthService(querier, zendesk, secretVault, auditor, service.UpstreamApp{
		Host:         cfg.UpstreamHost,
		ClientID:     cfg.UpstreamClientID,
		ClientSecret: cfg.UpstreamClientSecret,
		RedirectURI:  cfg.UpstreamRedirectURI,
	}, cfg.StateSigningSecret, logger)
	runSvc := service.NewRunService(pool, querier, zendesk, oauthSvc, detector, verifier, natsClient.JS, runControl, auditor, logger)

	// ── Task consumer ──────────────────────────────────────────────────────
	consumerCtx, consumerCancel := context.WithCancel(context.Background())
	defer consumerCancel()

	assetConsumer := consumer.NewAssetConsumer(natsClient, querier, runSvc, oauthSvc, zendesk,
		images, pdfs, verifier, blob, auditor, logger)
	if err := assetConsumer.Start(consumerCtx); err != nil {
		logger.Fatal("failed to start asset consumer", zap.Error(err))
	}
	logger.Info("sanitizer worker started")

	// ── Graceful Shutdown ──────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	logger.Info("initiating graceful shutdown")

	consumerCancel() // drain the task loop
	logger.Info("sanitizer worker shut down cleanly")
}

// applyVaultOverrides replaces secret configuration values with the Vault
// copies when VAULT_ADDR is set.
func applyVaultOverrides(cfg *config.Config, logger *zap.Logger) {
	vaultAddr := os.Getenv("VAULT_ADDR")
	if vaultAddr == "" {
		return
	}
	vaultToken := os.Getenv("VAULT_TOKEN")
	secretPath := os.Getenv("VAULT_SECRET_PATH")
	if secretPath == "" {
		secretPath = "secret/data/frozo/sanitizer"
	}

	manager, err := coreconfig.NewSecretManager(vaultAddr, vaultToken)
	if err != nil {
		logger.Fatal("Vault connection failed", zap.Error(err))
	}
	secrets, err := manager.GetKV2(secretPath)
	if err != nil {
		logger.Fatal("failed to load secrets from Vault", zap.Error(err))
	}

	override := func(key string, dst *string) {
		if v, ok := secrets[key].(string); ok && v != "" {
			*dst = v
		}
	}
	override("PG_URL", &cfg.PGURL)
	override("NATS_URL", &cfg.NATSURL)
	override("S3_ACCESS_KEY", &cfg.S3AccessKey)
	override("S3_SECRET_KEY", &cfg.S3SecretKey)
	override("ZENDESK_CLIENT_ID", &cfg.UpstreamClientID)
	override("ZENDESK_CLIENT_SECRET", &cfg.UpstreamClientSecret)
	override("OAUTH_STATE_SECRET", &cfg.StateSigningSecret)
	override("OCR_CLOUD_API_KEY", &cfg.OCRCloudAPIKey)
	logger.Info("Vault secret overrides applied", zap.String("path", secretPath))
}
