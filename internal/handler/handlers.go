// Package handler mounts the HTTP surface: the OAuth install flow, the run
// lifecycle endpoints for reviewers, and the tenant configuration API.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/ashish-frozo/frozo-zendesk/internal/core/middleware"
	"github.com/ashish-frozo/frozo-zendesk/internal/fault"
	db "github.com/ashish-frozo/frozo-zendesk/internal/repository/db"
	"github.com/ashish-frozo/frozo-zendesk/internal/service"
)

// tenantContextKey is the echo context key for the resolved tenant row.
const tenantContextKey = "tenant"

// Pinger reports whether the database is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RegisterRoutes mounts all endpoints onto the Echo instance.
func RegisterRoutes(
	e *echo.Echo,
	querier db.Querier,
	pinger Pinger,
	runs *service.RunService,
	exports *service.ExportService,
	oauth *service.OAuthService,
	configs *service.ConfigService,
	logger *zap.Logger,
) {
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/ready", func(c echo.Context) error {
		if pinger == nil {
			return c.JSON(http.StatusServiceUnavailable, errResp("database unavailable"))
		}
		if err := pinger.Ping(c.Request().Context()); err != nil {
			return c.JSON(http.StatusServiceUnavailable, errResp("database unavailable"))
		}
		return c.JSON(http.StatusOK, map[string]string{"status": "ready"})
	})

	// ── OAuth install flow (no tenant header yet) ─────────────────────────
	o := e.Group("/oauth")
	o.POST("/install", installHandler(oauth, logger))
	o.GET("/callback", callbackHandler(oauth, logger))
	o.GET("/status/:tenant_id", oauthStatusHandler(oauth, logger))
	o.DELETE("/:tenant_id", oauthRevokeHandler(oauth, logger))

	// ── Tenant-scoped API ─────────────────────────────────────────────────
	t := e.Group("", TenantMiddleware(querier, logger))

	r := t.Group("/runs")
	r.POST("", createRunHandler(runs, logger))
	r.GET("/:id", getRunHandler(runs, logger))
	r.GET("/:id/assets", listAssetsHandler(runs, logger))
	r.GET("/:id/preview/text", previewHandler(runs, logger))
	r.POST("/:id/approve", approveHandler(exports, logger))
	r.POST("/:id/cancel", cancelHandler(runs, logger))
	r.GET("/:id/audit", auditTrailHandler(querier, logger))

	cg := t.Group("/config")
	cg.PUT("/:kind", putConfigHandler(configs, logger))
	cg.GET("/:kind", getConfigHandler(configs, logger))
	cg.POST("/test-connection", testConnectionHandler(configs, logger))
}

// TenantMiddleware resolves the X-Tenant-Subdomain header to a tenant row
// and stores it on the request.
func TenantMiddleware(querier db.Querier, logger *zap.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			subdomain := c.Request().Header.Get("X-Tenant-Subdomain")
			if subdomain == "" {
				return c.JSON(http.StatusBadRequest, errResp("X-Tenant-Subdomain header is required"))
			}
			tenant, err := querier.GetTenantBySubdomain(c.Request().Context(), subdomain)
			if err != nil {
				return c.JSON(http.StatusNotFound, errResp("unknown tenant "+subdomain))
			}
			c.Set(tenantContextKey, tenant)

			ctx := middleware.WithTenantID(c.Request().Context(), uuidParam(tenant.ID))
			ctx = middleware.WithSubdomain(ctx, subdomain)
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

// ── OAuth handlers ─────────────────────────────────────────────────────────

type installRequest struct {
	Subdomain string `json:"subdomain"`
}

func installHandler(oauth *service.OAuthService, logger *zap.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req installRequest
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, errResp("invalid request body"))
		}
		authURL, err := oauth.Install(c.Request().Context(), req.Subdomain)
		if err != nil {
			logger.Error("Install failed", zap.Error(err))
			return respondError(c, err)
		}
		return c.JSON(http.StatusOK, map[string]string{"authorize_url": authURL})
	}
}

func callbackHandler(oauth *service.OAuthService, logger *zap.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		state := c.QueryParam("state")
		code := c.QueryParam("code")
		if state == "" || code == "" {
			return c.JSON(http.StatusBadRequest, errResp("state and code are required"))
		}
		tenant, err := oauth.Callback(c.Request().Context(), state, code)
		if err != nil {
			logger.Error("Callback failed", zap.Error(err))
			return respondError(c, err)
		}
		return c.JSON(http.StatusOK, map[string]string{
			"subdomain": tenant.Subdomain,
			"status":    tenant.Status,
		})
	}
}

func oauthStatusHandler(oauth *service.OAuthService, logger *zap.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		tenantID, err := parseUUIDParam(c, "tenant_id")
		if err != nil {
			return c.JSON(http.StatusBadRequest, errResp("invalid tenant_id"))
		}
		status, err := oauth.Status(c.Request().Context(), tenantID)
		if err != nil {
			return c.JSON(http.StatusNotFound, errResp(err.Error()))
		}
		return c.JSON(http.StatusOK, status)
	}
}

func oauthRevokeHandler(oauth *service.OAuthService, logger *zap.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		tenantID, err := parseUUIDParam(c, "tenant_id")
		if err != nil {
			return c.JSON(http.StatusBadRequest, errResp("invalid tenant_id"))
		}
		if err := oauth.Revoke(c.Request().Context(), tenantID); err != nil {
			logger.Error("Revoke failed", zap.Error(err))
			return respondError(c, err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

// ── Run handlers ───────────────────────────────────────────────────────────

type createRunRequest struct {
	TicketID             int64 `json:"ticket_id"`
	IncludeInternalNotes bool  `json:"include_internal_notes"`
}

func createRunHandler(runs *service.RunService, logger *zap.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req createRunRequest
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, errResp("invalid request body"))
		}
		tenant := boundTenant(c)
		run, err := runs.CreateRun(c.Request().Context(), tenant, service.CreateRunInput{
			TicketID:             req.TicketID,
			IncludeInternalNotes: req.IncludeInternalNotes,
		})
		if err != nil {
			logger.Error("CreateRun failed", zap.Error(err))
			return respondError(c, err)
		}
		return c.JSON(http.StatusAccepted, runView(run))
	}
}

func getRunHandler(runs *service.RunService, logger *zap.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		runID, err := parseUUIDParam(c, "id")
		if err != nil {
			return c.JSON(http.StatusBadRequest, errResp("invalid run id"))
		}
		run, err := runs.Get(c.Request().Context(), runID)
		if err != nil {
			return respondError(c, err)
		}
		if !sameTenant(c, run.TenantID) {
			return c.JSON(http.StatusNotFound, errResp("run not found"))
		}
		return c.JSON(http.StatusOK, runView(run))
	}
}

func listAssetsHandler(runs *service.RunService, logger *zap.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		runID, err := parseUUIDParam(c, "id")
		if err != nil {
			return c.JSON(http.StatusBadRequest, errResp("invalid run id"))
		}
		run, err := runs.Get(c.Request().Context(), runID)
		if err != nil {
			return respondError(c, err)
		}
		if !sameTenant(c, run.TenantID) {
			return c.JSON(http.StatusNotFound, errResp("run not found"))
		}
		assets, err := runs.Assets(c.Request().Context(), runID)
		if err != nil {
			logger.Error("ListAssets failed", zap.Error(err))
			return respondError(c, err)
		}
		views := make([]map[string]interface{}, 0, len(assets))
		for _, a := range assets {
			views = append(views, assetView(a))
		}
		return c.JSON(http.StatusOK, views)
	}
}

func previewHandler(runs *service.RunService, logger *zap.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		runID, err := parseUUIDParam(c, "id")
		if err != nil {
			return c.JSON(http.StatusBadRequest, errResp("invalid run id"))
		}
		run, err := runs.Get(c.Request().Context(), runID)
		if err != nil {
			return respondError(c, err)
		}
		if !sameTenant(c, run.TenantID) {
			return c.JSON(http.StatusNotFound, errResp("run not found"))
		}
		preview, err := runs.Preview(c.Request().Context(), runID)
		if err != nil {
			logger.Error("Preview failed", zap.Error(err))
			return respondError(c, err)
		}
		return c.JSON(http.StatusOK, preview)
	}
}

func approveHandler(exports *service.ExportService, logger *zap.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		runID, err := parseUUIDParam(c, "id")
		if err != nil {
			return c.JSON(http.StatusBadRequest, errResp("invalid run id"))
		}
		tenant := boundTenant(c)
		result, err := exports.Approve(c.Request().Context(), tenant, runID)
		if err != nil {
			logger.Error("Approve failed", zap.Error(err))
			return respondError(c, err)
		}
		return c.JSON(http.StatusOK, result)
	}
}

func cancelHandler(runs *service.RunService, logger *zap.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		runID, err := parseUUIDParam(c, "id")
		if err != nil {
			return c.JSON(http.StatusBadRequest, errResp("invalid run id"))
		}
		run, err := runs.Get(c.Request().Context(), runID)
		if err != nil {
			return respondError(c, err)
		}
		if !sameTenant(c, run.TenantID) {
			return c.JSON(http.StatusNotFound, errResp("run not found"))
		}
		if err := runs.Cancel(c.Request().Context(), runID); err != nil {
			logger.Error("Cancel failed", zap.Error(err))
			return respondError(c, err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func auditTrailHandler(querier db.Querier, logger *zap.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		runID, err := parseUUIDParam(c, "id")
		if err != nil {
			return c.JSON(http.StatusBadRequest, errResp("invalid run id"))
		}
		events, err := querier.ListAuditEventsByRun(c.Request().Context(), runID)
		if err != nil {
			logger.Error("ListAuditEventsByRun failed", zap.Error(err))
			return c.JSON(http.StatusInternalServerError, errResp(err.Error()))
		}
		views := make([]map[string]interface{}, 0, len(events))
		for _, ev := range events {
			views = append(views, map[string]interface{}{
				"event_type": ev.EventType,
				"meta":       json.RawMessage(ev.Meta),
				"created_at": ev.CreatedAt.Time,
			})
		}
		return c.JSON(http.StatusOK, views)
	}
}

// ── Config handlers ────────────────────────────────────────────────────────

func putConfigHandler(configs *service.ConfigService, logger *zap.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		tenant := boundTenant(c)
		body, err := io.ReadAll(c.Request().Body)
		if err != nil {
			return c.JSON(http.StatusBadRequest, errResp("invalid request body"))
		}
		if err := configs.Put(c.Request().Context(), tenant.ID, c.Param("kind"), body); err != nil {
			logger.Warn("PutConfig rejected", zap.String("kind", c.Param("kind")), zap.Error(err))
			return respondError(c, err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func getConfigHandler(configs *service.ConfigService, logger *zap.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		tenant := boundTenant(c)
		doc, err := configs.Get(c.Request().Context(), tenant.ID, c.Param("kind"))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(http.StatusOK, doc)
	}
}

func testConnectionHandler(configs *service.ConfigService, logger *zap.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		tenant := boundTenant(c)
		info, err := configs.TestConnection(c.Request().Context(), tenant.ID)
		if err != nil {
			logger.Warn("TestConnection failed", zap.Error(err))
			return respondError(c, err)
		}
		return c.JSON(http.StatusOK, info)
	}
}

// ── helpers ────────────────────────────────────────────────────────────────

func errResp(msg string) map[string]string {
	return map[string]string{"error": msg}
}

// respondError maps service and fault errors onto HTTP statuses. Classified
// faults carry their code so operators can act on it.
func respondError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, service.ErrNotFound):
		return c.JSON(http.StatusNotFound, errResp(err.Error()))
	case errors.Is(err, service.ErrInvalidInput):
		return c.JSON(http.StatusBadRequest, errResp(err.Error()))
	case errors.Is(err, service.ErrConflict):
		return c.JSON(http.StatusConflict, errResp(err.Error()))
	}

	body := map[string]string{
		"error": err.Error(),
		"code":  string(fault.CodeOf(err)),
	}
	switch fault.CategoryOf(err) {
	case fault.CategoryAuth:
		return c.JSON(http.StatusUnauthorized, body)
	case fault.CategoryInvalid:
		return c.JSON(http.StatusBadRequest, body)
	case fault.CategoryTransient:
		return c.JSON(http.StatusServiceUnavailable, body)
	default:
		return c.JSON(http.StatusInternalServerError, body)
	}
}

func boundTenant(c echo.Context) db.Tenant {
	tenant, _ := c.Get(tenantContextKey).(db.Tenant)
	return tenant
}

func sameTenant(c echo.Context, tenantID pgtype.UUID) bool {
	return boundTenant(c).ID == tenantID
}

func parseUUIDParam(c echo.Context, name string) (pgtype.UUID, error) {
	var u pgtype.UUID
	if err := u.Scan(c.Param(name)); err != nil {
		return pgtype.UUID{}, err
	}
	return u, nil
}

func uuidParam(id pgtype.UUID) string {
	return uuid.UUID(id.Bytes).String()
}

// runView strips internal columns from the API representation. Source text
// never leaves the service.
func runView(run db.Run) map[string]interface{} {
	view := map[string]interface{}{
		"run_id":     uuidParam(run.ID),
		"ticket_id":  run.TicketID,
		"status":     run.Status,
		"created_at": run.CreatedAt.Time,
	}
	if run.RunHash.Valid {
		view["run_hash"] = run.RunHash.String
	}
	if run.ErrorCode.Valid {
		view["error_code"] = run.ErrorCode.String
	}
	return view
}

func assetView(a db.RunAsset) map[string]interface{} {
	view := map[string]interface{}{
		"asset_id":     uuidParam(a.ID),
		"filename":     a.Filename,
		"content_type": a.ContentType,
		"kind":         a.Kind,
		"status":       a.Status,
		"size_bytes":   a.SizeBytes,
	}
	if a.ErrorCode.Valid {
		view["error_code"] = a.ErrorCode.String
	}
	if len(a.Meta) > 0 {
		view["meta"] = json.RawMessage(a.Meta)
	}
	return view
}
