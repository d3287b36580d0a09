package metrics

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/golang/snappy"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/prometheus/prompb"
	"go.uber.org/zap"

	"github.com/leozw/custom-domains/internal/config"
)

// RemoteWriter periodically pushes gathered series to a Mimir compatible
// remote write endpoint.
type RemoteWriter struct {
	config   config.MimirConfig
	gatherer prometheus.Gatherer
	service  string
	client   *http.Client
	logger   *zap.Logger
}

func NewRemoteWriter(cfg config.MimirConfig, gatherer prometheus.Gatherer, service string, logger *zap.Logger) *RemoteWriter {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1000
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 30 * time.Second
	}
	return &RemoteWriter{
		config:   cfg,
		gatherer: gatherer,
		service:  service,
		client:   &http.Client{Timeout: 30 * time.Second},
		logger:   logger,
	}
}

// Enabled reports whether a remote write URL is configured.
func (w *RemoteWriter) Enabled() bool {
	return w.config.URL != ""
}

func (w *RemoteWriter) Start(ctx context.Context) {
	if !w.Enabled() {
		return
	}

	ticker := time.NewTicker(w.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.Flush(ctx); err != nil {
				w.logger.Warn("Remote write failed", zap.Error(err))
			}
		}
	}
}

func (w *RemoteWriter) Flush(ctx context.Context) error {
	mfs, err := w.gatherer.Gather()
	if err != nil {
		return fmt.Errorf("failed to gather metrics: %w", err)
	}

	series := w.toTimeSeries(mfs, time.Now())
	if len(series) == 0 {
		return nil
	}

	for i := 0; i < len(series); i += w.config.BatchSize {
		end := i + w.config.BatchSize
		if end > len(series) {
			end = len(series)
		}
		if err := w.send(ctx, series[i:end]); err != nil {
			return fmt.Errorf("failed to send batch: %w", err)
		}
	}
	return nil
}

func (w *RemoteWriter) toTimeSeries(mfs []*dto.MetricFamily, now time.Time) []prompb.TimeSeries {
	ts := now.UnixNano() / int64(time.Millisecond)
	var out []prompb.TimeSeries

	for _, mf := range mfs {
		for _, m := range mf.Metric {
			labels := make([]prompb.Label, 0, len(m.Label)+2)
			labels = append(labels, prompb.Label{Name: "__name__", Value: mf.GetName()})
			for _, l := range m.Label {
				labels = append(labels, prompb.Label{Name: l.GetName(), Value: l.GetValue()})
			}
			labels = append(labels, prompb.Label{Name: "service", Value: w.service})

			switch mf.GetType() {
			case dto.MetricType_COUNTER:
				out = append(out, sample(labels, m.Counter.GetValue(), ts))
			case dto.MetricType_GAUGE:
				out = append(out, sample(labels, m.Gauge.GetValue(), ts))
			case dto.MetricType_HISTOGRAM:
				hist := m.Histogram
				for _, bucket := range hist.Bucket {
					bl := append(append([]prompb.Label{}, labels...), prompb.Label{
						Name:  "le",
						Value: fmt.Sprintf("%g", bucket.GetUpperBound()),
					})
					bl[0].Value = mf.GetName() + "_bucket"
					out = append(out, sample(bl, float64(bucket.GetCumulativeCount()), ts))
				}
				count := append([]prompb.Label{}, labels...)
				count[0].Value = mf.GetName() + "_count"
				out = append(out, sample(count, float64(hist.GetSampleCount()), ts))

				sum := append([]prompb.Label{}, labels...)
				sum[0].Value = mf.GetName() + "_sum"
				out = append(out, sample(sum, hist.GetSampleSum(), ts))
			}
		}
	}
	return out
}

func sample(labels []prompb.Label, v float64, ts int64) prompb.TimeSeries {
	return prompb.TimeSeries{
		Labels:  labels,
		Samples: []prompb.Sample{{Value: v, Timestamp: ts}},
	}
}

func (w *RemoteWriter) send(ctx context.Context, series []prompb.TimeSeries) error {
	req := &prompb.WriteRequest{Timeseries: series}
	data, err := req.Marshal()
	if err != nil {
		return err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, w.config.URL+"/api/v1/push", bytes.NewReader(snappy.Encode(nil, data)))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/x-protobuf")
	httpReq.Header.Set("Content-Encoding", "snappy")
	httpReq.Header.Set("X-Prometheus-Remote-Write-Version", "0.1.0")
	if w.config.TenantHeader != "" && w.config.TenantID != "" {
		httpReq.Header.Set(w.config.TenantHeader, w.config.TenantID)
	}
	if w.config.AuthToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+w.config.AuthToken)
	}

	resp, err := w.client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("remote write failed: %s", resp.Status)
	}
	return nil
}
