package checker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/miekg/dns"
	"go.uber.org/zap"

	"github.com/leozw/custom-domains/internal/apperr"
	"github.com/leozw/custom-domains/internal/core"
)

var DefaultNameservers = []string{"1.1.1.1:53", "8.8.8.8:53"}

// TXTChecker looks up TXT challenges directly against public resolvers so
// a stale local cache cannot hide a freshly published record.
type TXTChecker struct {
	client      *dns.Client
	nameservers []string
	logger      *zap.Logger
}

func NewTXTChecker(nameservers []string, timeout time.Duration, logger *zap.Logger) *TXTChecker {
	if len(nameservers) == 0 {
		nameservers = DefaultNameservers
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &TXTChecker{
		client:      &dns.Client{Timeout: timeout},
		nameservers: nameservers,
		logger:      logger,
	}
}

// LookupTXT returns the TXT values published at name, merged across all
// nameservers that answered. It only fails when no nameserver answered.
func (c *TXTChecker) LookupTXT(ctx context.Context, name string) ([]string, error) {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(name), dns.TypeTXT)
	m.RecursionDesired = true

	seen := make(map[string]struct{})
	var (
		values  []string
		answers int
		errs    []error
	)

	for _, ns := range c.nameservers {
		r, _, err := c.client.ExchangeContext(ctx, m, ns)
		if err != nil {
			c.logger.Debug("TXT query failed",
				zap.String("name", name),
				zap.String("nameserver", ns),
				zap.Error(err),
			)
			errs = append(errs, fmt.Errorf("%s: %w", ns, err))
			continue
		}

		switch r.Rcode {
		case dns.RcodeSuccess, dns.RcodeNameError:
			answers++
		default:
			errs = append(errs, fmt.Errorf("%s: rcode %s", ns, dns.RcodeToString[r.Rcode]))
			continue
		}

		for _, ans := range r.Answer {
			txt, ok := ans.(*dns.TXT)
			if !ok {
				continue
			}
			// Long values are split into 255 byte chunks.
			v := strings.Join(txt.Txt, "")
			if _, dup := seen[v]; !dup {
				seen[v] = struct{}{}
				values = append(values, v)
			}
		}
	}

	if answers == 0 {
		return nil, apperr.Transient("txt lookup "+name, errors.Join(errs...))
	}
	return values, nil
}

// Verify reports whether the challenge value is published at its name.
// Values are compared exactly, case included.
func (c *TXTChecker) Verify(ctx context.Context, ch core.Challenge) (bool, error) {
	values, err := c.LookupTXT(ctx, ch.Name)
	if err != nil {
		return false, err
	}
	for _, v := range values {
		if v == ch.Value {
			return true, nil
		}
	}
	return false, nil
}
