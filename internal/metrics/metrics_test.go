package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"casevault/internal/custody"
)

func TestCustody_Counters(t *testing.T) {
	m := NewCustody()

	m.EventRecorded(custody.ActivityUploaded)
	m.EventRecorded(custody.ActivityUploaded)
	m.EventRecorded(custody.ActivityViewed)
	m.AppendConflict()
	m.VerificationCompleted(true, time.Millisecond)
	m.VerificationCompleted(false, 2*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.recorded.WithLabelValues("uploaded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.recorded.WithLabelValues("viewed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.conflicts))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.verifications.WithLabelValues("invalid")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.verifyDuration))
}

func TestCustody_Handler(t *testing.T) {
	m := NewCustody()
	m.EventRecorded(custody.ActivityTagged)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `coc_events_recorded_total{activity_type="tagged"} 1`))
}

func TestCustody_ImplementsRecorderMetrics(t *testing.T) {
	var _ custody.Metrics = NewCustody()
}
