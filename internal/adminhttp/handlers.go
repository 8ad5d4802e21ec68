package adminhttp

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"sutragraph/internal/engine"
	"sutragraph/internal/sutralog"
)

// Handler holds the dependency the admin surface needs: the process-wide
// Engine.
type Handler struct {
	engine *engine.Engine
	log    zerolog.Logger
}

// NewHandler creates a Handler over eng.
func NewHandler(eng *engine.Engine) *Handler {
	return &Handler{engine: eng, log: sutralog.New("adminhttp")}
}

// Register mounts every admin route on r.
func (h *Handler) Register(r *gin.Engine) {
	r.GET("/healthz", h.HealthCheck)
	debug := r.Group("/debug")
	debug.GET("/stats", h.Stats)
	debug.GET("/namespaces", h.ListNamespaces)
	debug.POST("/namespaces/:name/clear", h.ClearNamespace)
}

// HealthCheck handles GET /healthz. Reports unhealthy if any constructed
// namespace has been demoted to read-only.
func (h *Handler) HealthCheck(c *gin.Context) {
	healthy := true
	reasons := make(map[string]string)
	for _, name := range h.engine.ListNamespaces() {
		ns, err := h.engine.Namespace(c.Request.Context(), name)
		if err != nil {
			continue
		}
		if ns.ReadOnly() {
			healthy = false
			reasons[name] = ns.HealthReason()
		}
	}
	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"healthy": healthy, "reasons": reasons})
}

// Stats handles GET /debug/stats?namespace=<name>.
func (h *Handler) Stats(c *gin.Context) {
	name := c.Query("namespace")
	stats, err := h.engine.Stats(name)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// ListNamespaces handles GET /debug/namespaces.
func (h *Handler) ListNamespaces(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"namespaces": h.engine.ListNamespaces()})
}

// ClearNamespace handles POST /debug/namespaces/:name/clear.
func (h *Handler) ClearNamespace(c *gin.Context) {
	name := c.Param("name")
	if err := h.engine.ClearNamespace(name); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"cleared": name})
}
