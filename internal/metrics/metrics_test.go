package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
)

func counterValue(cv *prometheus.CounterVec, labels ...string) float64 {
	m := &dto.Metric{}
	_ = cv.WithLabelValues(labels...).Write(m)
	return m.GetCounter().GetValue()
}

func gaugeValue(g prometheus.Gauge) float64 {
	m := &dto.Metric{}
	_ = g.Write(m)
	return m.GetGauge().GetValue()
}

func histogramCount(hv *prometheus.HistogramVec, labels ...string) uint64 {
	m := &dto.Metric{}
	if c, ok := hv.WithLabelValues(labels...).(prometheus.Metric); ok {
		_ = c.Write(m)
	}
	return m.GetHistogram().GetSampleCount()
}

func TestRecordActivation(t *testing.T) {
	RecordActivation("self", "success", 3*time.Second)

	assert.GreaterOrEqual(t, counterValue(ActivationsTotal, "self", "success"), 1.0)
	assert.GreaterOrEqual(t, histogramCount(ActivationDurationSeconds, "self"), uint64(1))
}

func TestRecordProvisioningRetry(t *testing.T) {
	RecordProvisioningRetry("conflict")
	assert.GreaterOrEqual(t, counterValue(ProvisioningRetriesTotal, "conflict"), 1.0)
}

func TestRecordNotificationFailure(t *testing.T) {
	RecordNotificationFailure("request")
	assert.GreaterOrEqual(t, counterValue(NotificationFailuresTotal, "request"), 1.0)
}

func TestPendingMpaRequestsGauge(t *testing.T) {
	PendingMpaRequests.Set(0)
	PendingMpaRequests.Inc()
	assert.Equal(t, 1.0, gaugeValue(PendingMpaRequests))
	PendingMpaRequests.Dec()
	assert.Equal(t, 0.0, gaugeValue(PendingMpaRequests))
}
