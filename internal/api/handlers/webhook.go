package handlers

import (
	"context"
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/leozw/custom-domains/internal/apperr"
	"github.com/leozw/custom-domains/internal/core"
	"github.com/leozw/custom-domains/internal/queue"
)

const webhookAuthHeader = "cf-webhook-auth"

type HostnameLookup interface {
	FindDomainByName(ctx context.Context, domain string) (*core.CustomDomain, error)
}

type JobPusher interface {
	Push(ctx context.Context, job *queue.VerificationJob) error
}

// WebhookHandler turns provider hostname notifications into verification
// jobs so status changes are picked up before the next scheduled cycle.
type WebhookHandler struct {
	domains HostnameLookup
	jobs    JobPusher
	secret  string
	logger  *zap.Logger
}

func NewWebhookHandler(domains HostnameLookup, jobs JobPusher, secret string, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{domains: domains, jobs: jobs, secret: secret, logger: logger}
}

type hostnameNotification struct {
	Name string `json:"name"`
	Text string `json:"text"`
	Data struct {
		Hostname string `json:"hostname"`
		Metadata struct {
			Hostname string `json:"hostname"`
		} `json:"metadata"`
	} `json:"data"`
}

func (n *hostnameNotification) hostname() string {
	if n.Data.Hostname != "" {
		return n.Data.Hostname
	}
	return n.Data.Metadata.Hostname
}

func (h *WebhookHandler) HostnameEvent(c *gin.Context) {
	got := c.GetHeader(webhookAuthHeader)
	if h.secret == "" || subtle.ConstantTimeCompare([]byte(got), []byte(h.secret)) != 1 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid webhook secret"})
		return
	}

	var n hostnameNotification
	if err := c.ShouldBindJSON(&n); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid payload"})
		return
	}

	// Unknown hostnames are acknowledged so the provider does not retry.
	host, err := core.NormalizeHostname(n.hostname())
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}

	d, err := h.domains.FindDomainByName(c.Request.Context(), host)
	if apperr.Is(err, apperr.KindNotFound) {
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	if d.Settled() {
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}

	job := queue.NewVerificationJob(d.ID, "webhook")
	if err := h.jobs.Push(c.Request.Context(), job); err != nil {
		respondError(c, h.logger, apperr.Transient("queue webhook check", err))
		return
	}

	h.logger.Info("Verification queued from webhook",
		zap.String("domain", d.Domain),
		zap.String("domain_id", d.ID.String()),
		zap.String("event", n.Name),
	)
	c.JSON(http.StatusAccepted, gin.H{"status": "queued", "jobId": job.ID})
}
