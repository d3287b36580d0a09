package handlers

import (
	"context"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/leozw/custom-domains/internal/apperr"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	db     Pinger
	logger *zap.Logger
}

func NewHandler(db Pinger, logger *zap.Logger) *Handler {
	return &Handler{
		db:     db,
		logger: logger,
	}
}

// respondError renders err with the status of its kind. Internal errors are
// logged and replaced by a generic message.
func respondError(c *gin.Context, logger *zap.Logger, err error) {
	status := apperr.HTTPStatus(err)
	if status >= 500 {
		logger.Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
	}
	_ = c.Error(err)
	c.JSON(status, gin.H{"error": apperr.Message(err)})
}
