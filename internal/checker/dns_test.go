package checker

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/leozw/custom-domains/internal/apperr"
	"github.com/leozw/custom-domains/internal/core"
)

// startServer runs an in-process DNS server answering TXT queries from records.
func startServer(t *testing.T, records map[string][]string) string {
	t.Helper()

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	handler := dns.HandlerFunc(func(w dns.ResponseWriter, r *dns.Msg) {
		m := new(dns.Msg)
		m.SetReply(r)
		q := r.Question[0]
		values, ok := records[q.Name]
		if !ok {
			m.Rcode = dns.RcodeNameError
		}
		for _, v := range values {
			m.Answer = append(m.Answer, &dns.TXT{
				Hdr: dns.RR_Header{Name: q.Name, Rrtype: dns.TypeTXT, Class: dns.ClassINET, Ttl: 60},
				Txt: []string{v},
			})
		}
		_ = w.WriteMsg(m)
	})

	started := make(chan struct{})
	srv := &dns.Server{PacketConn: pc, Handler: handler, NotifyStartedFunc: func() { close(started) }}
	go func() { _ = srv.ActivateAndServe() }()
	<-started
	t.Cleanup(func() { _ = srv.Shutdown() })

	return pc.LocalAddr().String()
}

func TestVerifyMatchesExactValue(t *testing.T) {
	addr := startServer(t, map[string][]string{
		"_cf-custom-hostname.links.example.com.": {"unrelated", "Token-123"},
	})
	c := NewTXTChecker([]string{addr}, time.Second, zap.NewNop())

	ok, err := c.Verify(context.Background(), core.Challenge{Name: "_cf-custom-hostname.links.example.com", Value: "Token-123"})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.Verify(context.Background(), core.Challenge{Name: "_cf-custom-hostname.links.example.com", Value: "token-123"})
	require.NoError(t, err)
	assert.False(t, ok, "comparison must be case-sensitive")
}

func TestVerifyMissingRecordIsNotAnError(t *testing.T) {
	addr := startServer(t, map[string][]string{})
	c := NewTXTChecker([]string{addr}, time.Second, zap.NewNop())

	ok, err := c.Verify(context.Background(), core.Challenge{Name: "_cf-custom-hostname.links.example.com", Value: "x"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLookupMergesNameservers(t *testing.T) {
	a := startServer(t, map[string][]string{"_acme-challenge.links.example.com.": {"one"}})
	b := startServer(t, map[string][]string{"_acme-challenge.links.example.com.": {"one", "two"}})
	c := NewTXTChecker([]string{a, b}, time.Second, zap.NewNop())

	values, err := c.LookupTXT(context.Background(), "_acme-challenge.links.example.com")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"one", "two"}, values)
}

func TestLookupAllNameserversDownIsTransient(t *testing.T) {
	c := NewTXTChecker([]string{"127.0.0.1:1"}, 200*time.Millisecond, zap.NewNop())

	_, err := c.LookupTXT(context.Background(), "_acme-challenge.links.example.com")
	require.Error(t, err)
	assert.True(t, apperr.IsRetryable(err))
}
