// @title        Frozo Sanitizer API
// @version      1.0
// @description  PII-safe ticket escalation: redaction runs, reviewer preview, and export.
// @host         localhost:8080
// @BasePath     /
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.uber.org/zap"

	"github.com/ashish-frozo/frozo-zendesk/internal/client"
	"github.com/ashish-frozo/frozo-zendesk/internal/config"
	coreconfig "github.com/ashish-frozo/frozo-zendesk/internal/core/config"
	"github.com/ashish-frozo/frozo-zendesk/internal/core/natsclient"
	"github.com/ashish-frozo/frozo-zendesk/internal/core/telemetry"
	"github.com/ashish-frozo/frozo-zendesk/internal/crypto"
	"github.com/ashish-frozo/frozo-zendesk/internal/dispatcher"
	"github.com/ashish-frozo/frozo-zendesk/internal/handler"
	"github.com/ashish-frozo/frozo-zendesk/internal/pipeline"
	"github.com/ashish-frozo/frozo-zendesk/internal/redaction"
	db "github.com/ashish-frozo/frozo-zendesk/internal/repository/db"
	"github.com/ashish-frozo/frozo-zendesk/internal/scheduler"
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
		tp, err := telemetry.InitTracer(context.Background(), "sanitizer-api", otelEndpoint)
		if err != nil {
			logger.Error("failed to init OTel tracer", zap.Error(err))
		} else {
			defer tp.Shutdown(context.Background())
			logger.Info("OTel tracer initialized", zap.String("endpoint", otelEndpoint))
		}
		mp, err := telemetry.InitMeterProvider(context.Background(), "sanitizer-api", otelEndpoint)
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
	logger.Info("connected to database (OTel-instrumented)")

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

	// ── Repository & Services ──────────────────────────────────────────────
	querier := db.New(pool)
	auditor := service.NewAuditor(querier, logger)

	var ner redaction.NERTagger
	if cfg.NERTaggerURL != "" {
		ner = client.NewNERTagger(cfg.NERTaggerURL)
	}
	detector := redaction.NewDetector(ner, logger)

	zendesk := client.NewZendeskClient(cfg.UpstreamHost)
	notifier := dispatcher.NewSlackNotifier(cfg.NotifierAllowedHosts, logger)

	// The API only sanitizes ticket text; the OCR and PDF engines stay nil
	// because the text verification path never reaches them.
	verifier := pipeline.NewVerifier(nil, nil, nil, detector, logger)

	oauthSvc := service.NewOAuthService(querier, zendesk, secretVault, auditor, service.UpstreamApp{
		Host:         cfg.UpstreamHost,
		ClientID:     cfg.UpstreamClientID,
		ClientSecret: cfg.UpstreamClientSecret,
		RedirectURI:  cfg.UpstreamRedirectURI,
	}, cfg.StateSigningSecret, logger)
	runSvc := service.NewRunService(pool, querier, zendesk, oauthSvc, detector, verifier, natsClient.JS, runControl, auditor, logger)
	exportSvc := service.NewExportService(pool, querier, secretVault, blob, notifier, nil, auditor, logger)
	configSvc := service.NewConfigService(querier, secretVault, notifier, nil, logger)

	// ── Run reaper ─────────────────────────────────────────────────────────
	reaper := scheduler.NewReaper(querier, auditor, logger)
	if err := reaper.Start(); err != nil {
		logger.Fatal("failed to start run reaper", zap.Error(err))
	}

	// ── HTTP Server ────────────────────────────────────────────────────────
	e := echo.New()
	e.HideBanner = true
	e.Use(otelecho.Middleware("sanitizer-api"))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:    true,
		LogStatus: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			logger.Info("HTTP request",
				zap.String("URI", v.URI),
				zap.Int("status", v.Status),
			)
			return nil
		},
	}))
	e.Use(middleware.Recover())

	handler.RegisterRoutes(e, querier, pool, runSvc, exportSvc, oauthSvc, configSvc, logger)

	go func() {
		logger.Info("sanitizer-api HTTP server listening", zap.String("addr", cfg.HTTPAddr))
		if err := e.Start(cfg.HTTPAddr); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server failure", zap.Error(err))
		}
	}()

	// ── Graceful Shutdown ──────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	logger.Info("initiating graceful shutdown")

	reaper.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("Echo shutdown error", zap.Error(err))
	}
	logger.Info("sanitizer-api shut down cleanly")
}

// applyVaultOverrides replaces secret configuration values with the Vault
// copies when VAULT_ADDR is set. Local development runs straight off the
// environment.
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
