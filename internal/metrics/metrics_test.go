package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Record(t *testing.T) {
	m := New()
	m.NotificationCreated("email", "pending")
	m.DeliveryAttempt("email", true, 20*time.Millisecond)
	m.DeliveryAttempt("email", false, 5*time.Millisecond)
	m.QueueDepth("delayed", 4)
	m.BreakerListener()("sms", gobreaker.StateClosed, gobreaker.StateOpen)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.deliveryAttempts.WithLabelValues("email", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.deliveryAttempts.WithLabelValues("email", "failure")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.queueJobs.WithLabelValues("delayed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.breakerState.WithLabelValues("sms")))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "notifyhub_notifications_created_total")
}

func TestMetrics_NilIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.NotificationCreated("sms", "queued")
		m.DeliveryAttempt("sms", true, time.Second)
		m.QueueDepth("active", 1)
		m.EventConsumed("rabbitmq", "payment_received", "ok")
		m.HTTPRequest("GET", "/health", 200)
		m.BreakerListener()("sms", gobreaker.StateClosed, gobreaker.StateOpen)
	})
}
