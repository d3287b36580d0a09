package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/leozw/custom-domains/internal/core"
)

type Resolver interface {
	Resolve(ctx context.Context, hostname string) (core.Resolution, bool, error)
}

type ResolveHandler struct {
	resolver Resolver
	logger   *zap.Logger
}

func NewResolveHandler(resolver Resolver, logger *zap.Logger) *ResolveHandler {
	return &ResolveHandler{resolver: resolver, logger: logger}
}

// Resolve answers GET /custom-domain/resolve?domain=<hostname>. Routable
// domains get 200; unknown and not yet routable ones get 404. Both carry
// the resolution in data.
func (h *ResolveHandler) Resolve(c *gin.Context) {
	hostname := c.Query("domain")
	if hostname == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "domain query parameter is required"})
		return
	}

	res, found, err := h.resolver.Resolve(c.Request.Context(), hostname)
	if err != nil {
		h.logger.Error("Resolve failed", zap.String("domain", hostname), zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Resolver temporarily unavailable"})
		return
	}

	switch {
	case !found:
		c.JSON(http.StatusNotFound, gin.H{"error": "Domain not found", "data": res})
	case !res.IsValid:
		c.JSON(http.StatusNotFound, gin.H{"error": "Domain is not active", "data": res})
	default:
		c.JSON(http.StatusOK, gin.H{"data": res})
	}
}
