package enginehttp

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"

	"carve/internal/engine"
	"carve/internal/execution"
	"carve/internal/ledger"
	"carve/internal/logger"
	"carve/internal/risk"
	"carve/internal/riskprofile"
	"carve/internal/signal"

	"github.com/gin-gonic/gin"
)

// EngineAPI is the read/control surface the engine exposes to HTTP.
type EngineAPI interface {
	Status() engine.Status
	Positions() []ledger.Position
	Executions() []execution.Snapshot
	Metrics() engine.Metrics
	Process(sig signal.Signal)
	Resume()
}

// AuditAPI queries the persisted execution trail.
type AuditAPI interface {
	ListExecutions(ctx context.Context, limit int) ([]execution.Snapshot, error)
	ListFills(ctx context.Context, executionID string, limit int) ([]execution.FillRecord, error)
}

// ProfileAPI exposes the named risk profiles and the active limiter.
type ProfileAPI interface {
	Snapshot() riskprofile.Snapshot
	Limits(name string) (risk.Limits, error)
}

// Router wires the /api handlers.
type Router struct {
	engine   EngineAPI
	audit    AuditAPI
	profiles ProfileAPI
	limiter  *risk.Limiter
}

func NewRouter(eng EngineAPI, audit AuditAPI, profiles ProfileAPI) *Router {
	return &Router{engine: eng, audit: audit, profiles: profiles}
}

// SetLimiter enables the risk limit endpoints.
func (r *Router) SetLimiter(l *risk.Limiter) { r.limiter = l }

func (r *Router) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	eng := group.Group("/engine")
	eng.GET("/status", r.handleStatus)
	eng.GET("/positions", r.handlePositions)
	eng.GET("/metrics", r.handleMetrics)
	eng.GET("/executions", r.handleExecutions)
	eng.GET("/executions/:id/fills", r.handleExecutionFills)
	eng.POST("/resume", r.handleResume)

	group.POST("/signals", r.handleSignal)

	rk := group.Group("/risk")
	rk.GET("/limits", r.handleLimits)
	rk.GET("/profiles", r.handleProfiles)
	rk.POST("/profile", r.handleApplyProfile)
}

func (r *Router) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, r.engine.Status())
}

func (r *Router) handlePositions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"positions": r.engine.Positions()})
}

func (r *Router) handleMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, r.engine.Metrics())
}

// handleExecutions merges in-flight orders with the persisted history when
// the audit store is configured.
func (r *Router) handleExecutions(c *gin.Context) {
	active := r.engine.Executions()
	resp := gin.H{"active": active}
	if r.audit != nil {
		limit := parseLimit(c.Query("limit"), 50)
		recent, err := r.audit.ListExecutions(c.Request.Context(), limit)
		if err != nil {
			logger.Warnf("HTTP executions: audit query failed: %v", err)
		} else {
			resp["recent"] = recent
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (r *Router) handleExecutionFills(c *gin.Context) {
	if r.audit == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit store not configured"})
		return
	}
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "execution id is required"})
		return
	}
	fills, err := r.audit.ListFills(c.Request.Context(), id, parseLimit(c.Query("limit"), 200))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"execution_id": id, "fills": fills})
}

func (r *Router) handleResume(c *gin.Context) {
	r.engine.Resume()
	c.JSON(http.StatusOK, gin.H{"status": "resumed"})
}

// handleSignal accepts an external signal. The payload is schema-checked
// before it enters the pipeline; acceptance only means "queued", the risk
// gate still applies.
func (r *Router) handleSignal(c *gin.Context) {
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "reading body failed"})
		return
	}
	sig, err := signal.DecodePayload(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	r.engine.Process(sig)
	c.JSON(http.StatusAccepted, gin.H{"signal_id": sig.ID})
}

func (r *Router) handleLimits(c *gin.Context) {
	if r.limiter == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "limiter not configured"})
		return
	}
	c.JSON(http.StatusOK, r.limiter.Limits())
}

func (r *Router) handleProfiles(c *gin.Context) {
	if r.profiles == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "risk profiles not configured"})
		return
	}
	snap := r.profiles.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"version":   snap.Version,
		"loaded_at": snap.LoadedAt,
		"profiles":  snap.Profiles,
	})
}

func (r *Router) handleApplyProfile(c *gin.Context) {
	if r.profiles == nil || r.limiter == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "risk profiles not configured"})
		return
	}
	var req struct {
		Name string `json:"name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Name) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "profile name is required"})
		return
	}
	limits, err := r.profiles.Limits(req.Name)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	r.limiter.SetLimits(limits)
	logger.Infof("Risk limits switched to profile %q via HTTP", req.Name)
	c.JSON(http.StatusOK, gin.H{"applied": req.Name, "limits": limits})
}

func parseLimit(raw string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n <= 0 {
		return def
	}
	if n > 500 {
		n = 500
	}
	return n
}
