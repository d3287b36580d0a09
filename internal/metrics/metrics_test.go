package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang/snappy"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/prometheus/prometheus/prompb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/leozw/custom-domains/internal/config"
)

func TestCollectorCounts(t *testing.T) {
	c := NewCollector(prometheus.NewRegistry())

	c.RecordCheck("ownership", "verified")
	c.RecordCheck("ownership", "verified")
	c.RecordEdgeCache(true)
	c.RecordEdgeCache(false)
	c.RecordEdgeDecision("redirect")
	c.SetQueueDepth(7)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.checksTotal.WithLabelValues("ownership", "verified")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.edgeCacheTotal.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.edgeCacheTotal.WithLabelValues("miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.edgeDecisionsTotal.WithLabelValues("redirect")))
	assert.Equal(t, 7.0, testutil.ToFloat64(c.queueDepth))
}

func TestRemoteWriterPushesSnappyProtobuf(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.RecordTransition("ssl", "active")
	c.ObserveDNSLookup(20*time.Millisecond, nil)

	var (
		got    prompb.WriteRequest
		tenant string
		auth   string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/push", r.URL.Path)
		assert.Equal(t, "snappy", r.Header.Get("Content-Encoding"))
		tenant = r.Header.Get("X-Scope-OrgID")
		auth = r.Header.Get("Authorization")

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		raw, err := snappy.Decode(nil, body)
		require.NoError(t, err)
		require.NoError(t, got.Unmarshal(raw))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	w := NewRemoteWriter(config.MimirConfig{
		URL:          srv.URL,
		TenantHeader: "X-Scope-OrgID",
		TenantID:     "custom-domains",
		AuthToken:    "secret",
	}, reg, "worker", zap.NewNop())

	require.NoError(t, w.Flush(context.Background()))
	assert.Equal(t, "custom-domains", tenant)
	assert.Equal(t, "Bearer secret", auth)

	names := map[string]bool{}
	for _, ts := range got.Timeseries {
		for _, l := range ts.Labels {
			if l.Name == "__name__" {
				names[l.Value] = true
			}
		}
	}
	assert.True(t, names["custom_domain_state_transitions_total"])
	assert.True(t, names["custom_domain_dns_lookup_duration_seconds_bucket"])
	assert.True(t, names["custom_domain_dns_lookup_duration_seconds_count"])
}

func TestRemoteWriterDisabledWithoutURL(t *testing.T) {
	w := NewRemoteWriter(config.MimirConfig{}, prometheus.NewRegistry(), "api", zap.NewNop())
	assert.False(t, w.Enabled())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w.Start(ctx)
}
