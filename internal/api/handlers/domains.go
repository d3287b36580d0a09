package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/leozw/custom-domains/internal/api/middleware"
	"github.com/leozw/custom-domains/internal/core"
	"github.com/leozw/custom-domains/internal/queue"
)

type DomainService interface {
	Register(ctx context.Context, owner, hostname string) (*core.CustomDomain, error)
	Get(ctx context.Context, id uuid.UUID, owner string) (*core.CustomDomain, error)
	List(ctx context.Context, owner string, page, limit int) ([]*core.CustomDomain, int, error)
	Reregister(ctx context.Context, id uuid.UUID, owner string) (*core.CustomDomain, error)
	SetEnabled(ctx context.Context, id uuid.UUID, owner string, enabled bool) (*core.CustomDomain, error)
	SetDefault(ctx context.Context, id uuid.UUID, owner string) (*core.CustomDomain, error)
	Delete(ctx context.Context, id uuid.UUID, owner string) error
	RequestCheck(ctx context.Context, id uuid.UUID, owner string) (*queue.VerificationJob, error)
}

type DomainHandler struct {
	domains     DomainService
	cnameTarget string
	logger      *zap.Logger
}

func NewDomainHandler(domains DomainService, cnameTarget string, logger *zap.Logger) *DomainHandler {
	return &DomainHandler{domains: domains, cnameTarget: cnameTarget, logger: logger}
}

type CreateDomainRequest struct {
	Domain string `json:"domain" binding:"required"`
}

type DomainResponse struct {
	*core.CustomDomain
	IsValidForUse   bool                  `json:"isValidForUse"`
	DNSInstructions []core.DNSInstruction `json:"dnsInstructions"`
}

func (h *DomainHandler) view(d *core.CustomDomain) DomainResponse {
	return DomainResponse{
		CustomDomain:    d,
		IsValidForUse:   d.IsValidForUse(),
		DNSInstructions: core.Instructions(d, h.cnameTarget),
	}
}

func (h *DomainHandler) ListDomains(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}

	domains, total, err := h.domains.List(c.Request.Context(), c.GetString(middleware.UserIDKey), page, limit)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	data := make([]DomainResponse, 0, len(domains))
	for _, d := range domains {
		data = append(data, h.view(d))
	}

	c.JSON(http.StatusOK, gin.H{
		"data": data,
		"pagination": gin.H{
			"page":  page,
			"limit": limit,
			"total": total,
		},
	})
}

func (h *DomainHandler) CreateDomain(c *gin.Context) {
	var req CreateDomainRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "domain is required"})
		return
	}

	d, err := h.domains.Register(c.Request.Context(), c.GetString(middleware.UserIDKey), req.Domain)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": h.view(d)})
}

func (h *DomainHandler) GetDomain(c *gin.Context) {
	id, ok := domainID(c)
	if !ok {
		return
	}

	d, err := h.domains.Get(c.Request.Context(), id, c.GetString(middleware.UserIDKey))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": h.view(d)})
}

func (h *DomainHandler) EnableDomain(c *gin.Context) {
	h.setEnabled(c, true)
}

func (h *DomainHandler) DisableDomain(c *gin.Context) {
	h.setEnabled(c, false)
}

func (h *DomainHandler) setEnabled(c *gin.Context, enabled bool) {
	id, ok := domainID(c)
	if !ok {
		return
	}

	d, err := h.domains.SetEnabled(c.Request.Context(), id, c.GetString(middleware.UserIDKey), enabled)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": h.view(d)})
}

func (h *DomainHandler) SetDefaultDomain(c *gin.Context) {
	id, ok := domainID(c)
	if !ok {
		return
	}

	d, err := h.domains.SetDefault(c.Request.Context(), id, c.GetString(middleware.UserIDKey))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": h.view(d)})
}

func (h *DomainHandler) VerifyDomain(c *gin.Context) {
	id, ok := domainID(c)
	if !ok {
		return
	}

	job, err := h.domains.RequestCheck(c.Request.Context(), id, c.GetString(middleware.UserIDKey))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"message": "Verification queued",
		"jobId":   job.ID,
	})
}

func (h *DomainHandler) ReregisterDomain(c *gin.Context) {
	id, ok := domainID(c)
	if !ok {
		return
	}

	d, err := h.domains.Reregister(c.Request.Context(), id, c.GetString(middleware.UserIDKey))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": h.view(d)})
}

func (h *DomainHandler) DeleteDomain(c *gin.Context) {
	id, ok := domainID(c)
	if !ok {
		return
	}

	if err := h.domains.Delete(c.Request.Context(), id, c.GetString(middleware.UserIDKey)); err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func domainID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid domain ID"})
		return uuid.Nil, false
	}
	return id, true
}
