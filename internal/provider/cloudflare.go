package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudflare/cloudflare-go"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/leozw/custom-domains/internal/apperr"
	"github.com/leozw/custom-domains/internal/core"
)

// hostnameAPI is the subset of the Cloudflare SDK used here.
type hostnameAPI interface {
	CreateCustomHostname(ctx context.Context, zoneID string, ch cloudflare.CustomHostname) (*cloudflare.CustomHostnameResponse, error)
	CustomHostname(ctx context.Context, zoneID string, customHostnameID string) (cloudflare.CustomHostname, error)
	UpdateCustomHostnameSSL(ctx context.Context, zoneID string, customHostnameID string, ssl *cloudflare.CustomHostnameSSL) (*cloudflare.CustomHostnameResponse, error)
	DeleteCustomHostname(ctx context.Context, zoneID string, customHostnameID string) error
}

type Options struct {
	APIToken          string
	ZoneID            string
	RequestsPerSecond float64
	Burst             int
}

// Cloudflare implements HostnameProvider on top of Cloudflare for SaaS
// custom hostnames with TXT based DV certificates.
type Cloudflare struct {
	api     hostnameAPI
	zoneID  string
	limiter *rate.Limiter
	logger  *zap.Logger
}

func NewCloudflare(opts Options, logger *zap.Logger) (*Cloudflare, error) {
	if opts.APIToken == "" || opts.ZoneID == "" {
		return nil, errors.New("cloudflare api token and zone id are required")
	}
	api, err := cloudflare.NewWithAPIToken(opts.APIToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create cloudflare client: %w", err)
	}
	return newCloudflare(api, opts, logger), nil
}

func newCloudflare(api hostnameAPI, opts Options, logger *zap.Logger) *Cloudflare {
	rps := opts.RequestsPerSecond
	if rps <= 0 {
		rps = 4
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Cloudflare{
		api:     api,
		zoneID:  opts.ZoneID,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		logger:  logger,
	}
}

func dvSettings() *cloudflare.CustomHostnameSSL {
	return &cloudflare.CustomHostnameSSL{
		Method: "txt",
		Type:   "dv",
	}
}

func (c *Cloudflare) wait(ctx context.Context, op string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return apperr.Transient(op, err)
	}
	return nil
}

func (c *Cloudflare) Register(ctx context.Context, hostname string) (*Registration, error) {
	const op = "register hostname"
	if err := c.wait(ctx, op); err != nil {
		return nil, err
	}

	resp, err := c.api.CreateCustomHostname(ctx, c.zoneID, cloudflare.CustomHostname{
		Hostname: hostname,
		SSL:      dvSettings(),
	})
	if err != nil {
		return nil, apperr.Transient(op, err)
	}

	c.logger.Info("Registered custom hostname",
		zap.String("domain", hostname),
		zap.String("hostname_id", resp.Result.ID),
	)
	return registrationFrom(resp.Result), nil
}

func (c *Cloudflare) Status(ctx context.Context, id string) (*HostnameStatus, error) {
	const op = "hostname status"
	if err := c.wait(ctx, op); err != nil {
		return nil, err
	}

	ch, err := c.api.CustomHostname(ctx, c.zoneID, id)
	var notFound *cloudflare.NotFoundError
	if errors.As(err, &notFound) {
		return nil, apperr.Permanent(op, "hostname is no longer registered with the edge provider")
	}
	if err != nil {
		return nil, apperr.Transient(op, err)
	}

	st := &HostnameStatus{SSL: core.SSLPending}
	if ch.SSL != nil {
		st.SSL = MapSSLStatus(ch.SSL.Status)
		st.SSLChallenge = sslChallenge(ch.SSL)
	}

	switch ch.Status {
	case cloudflare.BLOCKED, cloudflare.DELETED, cloudflare.MOVED:
		st.SSL = core.SSLFailed
		st.Permanent = true
		st.Reason = fmt.Sprintf("hostname is %s at the edge provider", ch.Status)
		return st, nil
	}

	if st.SSL == core.SSLFailed {
		st.Permanent = true
		st.Reason = fmt.Sprintf("certificate %s", ch.SSL.Status)
		if msgs := sslErrors(ch.SSL); msgs != "" {
			st.Reason += ": " + msgs
		}
	}
	return st, nil
}

func (c *Cloudflare) Refresh(ctx context.Context, id string) (*Registration, error) {
	const op = "refresh hostname"
	if err := c.wait(ctx, op); err != nil {
		return nil, err
	}

	resp, err := c.api.UpdateCustomHostnameSSL(ctx, c.zoneID, id, dvSettings())
	if err != nil {
		return nil, apperr.Transient(op, err)
	}
	return registrationFrom(resp.Result), nil
}

// Deregister removes the hostname. A hostname already gone counts as removed.
func (c *Cloudflare) Deregister(ctx context.Context, id string) error {
	const op = "deregister hostname"
	if id == "" {
		return nil
	}
	if err := c.wait(ctx, op); err != nil {
		return err
	}

	err := c.api.DeleteCustomHostname(ctx, c.zoneID, id)
	var notFound *cloudflare.NotFoundError
	if errors.As(err, &notFound) {
		c.logger.Warn("Custom hostname already removed", zap.String("hostname_id", id))
		return nil
	}
	if err != nil {
		return apperr.Transient(op, err)
	}
	return nil
}

func registrationFrom(ch cloudflare.CustomHostname) *Registration {
	reg := &Registration{
		ID: ch.ID,
		Ownership: core.Challenge{
			Name:  ch.OwnershipVerification.Name,
			Value: ch.OwnershipVerification.Value,
		},
	}
	if ch.SSL != nil {
		reg.SSL = sslChallenge(ch.SSL)
	}
	return reg
}

func sslChallenge(ssl *cloudflare.CustomHostnameSSL) core.Challenge {
	for _, rec := range ssl.ValidationRecords {
		if rec.TxtName != "" {
			return core.Challenge{Name: rec.TxtName, Value: rec.TxtValue}
		}
	}
	return core.Challenge{}
}

func sslErrors(ssl *cloudflare.CustomHostnameSSL) string {
	msgs := make([]string, 0, len(ssl.ValidationErrors))
	for _, e := range ssl.ValidationErrors {
		if e.Message != "" {
			msgs = append(msgs, e.Message)
		}
	}
	return strings.Join(msgs, "; ")
}
