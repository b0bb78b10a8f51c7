package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordHTTPRequest(t *testing.T) {
	m := New("test", prometheus.NewRegistry())

	m.RecordHTTPRequest("GET", "/api/v1/projects", 200, 10*time.Millisecond)
	m.RecordHTTPRequest("GET", "/api/v1/projects", 404, 5*time.Millisecond)
	m.RecordHTTPRequest("GET", "/api/v1/projects", 201, 5*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/api/v1/projects", "2xx")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/api/v1/projects", "4xx")))
}

func TestRecordCounters(t *testing.T) {
	m := NewNop()

	m.RecordLinkRedemption("exhausted")
	m.RecordLinkRedemption("exhausted")
	m.RecordNotification("todo_updated")
	m.RecordEmail("sent")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.LinkRedemptions.WithLabelValues("exhausted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NotificationsCreated.WithLabelValues("todo_updated")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EmailOutcomes.WithLabelValues("sent")))
}

func TestStatusClass(t *testing.T) {
	tests := map[int]string{200: "2xx", 302: "3xx", 410: "4xx", 503: "5xx", 100: "unknown"}
	for code, want := range tests {
		assert.Equal(t, want, statusClass(code))
	}
}

func TestNew_SeparateRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		New("a", prometheus.NewRegistry())
		New("a", prometheus.NewRegistry())
	})
}
