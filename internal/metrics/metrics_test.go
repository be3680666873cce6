// Riven - event-driven media-automation scheduler
// SPDX-License-Identifier: AGPL-3.0-or-later

package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sampleCount returns how many observations a histogram child holds;
// testutil.ToFloat64 reads only gauges, counters and untyped metrics.
func sampleCount(t *testing.T, o prometheus.Observer) uint64 {
	t.Helper()
	m, ok := o.(prometheus.Metric)
	require.True(t, ok)
	var out dto.Metric
	require.NoError(t, m.Write(&out))
	return out.GetHistogram().GetSampleCount()
}

func TestRecordStoreTxObservesDuration(t *testing.T) {
	before := sampleCount(t, StoreTxDuration.WithLabelValues("commit"))
	RecordStoreTx("commit", 10*time.Millisecond)
	after := sampleCount(t, StoreTxDuration.WithLabelValues("commit"))
	assert.Greater(t, after, before)
}

func TestRecordStoreTxErrorIncrementsCounter(t *testing.T) {
	before := testutil.ToFloat64(StoreTxErrors.WithLabelValues("transient"))
	RecordStoreTxError("transient")
	after := testutil.ToFloat64(StoreTxErrors.WithLabelValues("transient"))
	assert.Equal(t, before+1, after)
}

func TestRecordHandlerObservesDuration(t *testing.T) {
	before := sampleCount(t, HandlerDuration.WithLabelValues("scraper", "advance"))
	RecordHandler("scraper", "advance", 5*time.Millisecond)
	after := sampleCount(t, HandlerDuration.WithLabelValues("scraper", "advance"))
	assert.Greater(t, after, before)
}

func TestRecordRetryIncrementsCounter(t *testing.T) {
	before := testutil.ToFloat64(RetriesTotal.WithLabelValues("scraper", "transient"))
	RecordRetry("scraper", "transient")
	after := testutil.ToFloat64(RetriesTotal.WithLabelValues("scraper", "transient"))
	assert.Equal(t, before+1, after)
}

func TestRecordBlacklistIncrementsCounter(t *testing.T) {
	before := testutil.ToFloat64(BlacklistedTotal.WithLabelValues("download_denied"))
	RecordBlacklist("download_denied")
	after := testutil.ToFloat64(BlacklistedTotal.WithLabelValues("download_denied"))
	assert.Equal(t, before+1, after)
}

func TestSetBackendHealthReflectsBooleanAsGauge(t *testing.T) {
	SetBackendHealth("real-debrid", "downloader", true)
	assert.Equal(t, float64(1), testutil.ToFloat64(BackendHealth.WithLabelValues("real-debrid", "downloader")))

	SetBackendHealth("real-debrid", "downloader", false)
	assert.Equal(t, float64(0), testutil.ToFloat64(BackendHealth.WithLabelValues("real-debrid", "downloader")))
}

func TestSetPoolSaturationComputesBusyFraction(t *testing.T) {
	SetPoolSaturation("scraper", 3, 6)
	assert.Equal(t, 0.5, testutil.ToFloat64(PoolSaturation.WithLabelValues("scraper")))
}

func TestSetPoolSaturationZeroSizeIsZero(t *testing.T) {
	SetPoolSaturation("scraper", 3, 0)
	assert.Equal(t, float64(0), testutil.ToFloat64(PoolSaturation.WithLabelValues("scraper")))
}

func TestRecordRateLimitWaitObservesDuration(t *testing.T) {
	before := sampleCount(t, RateLimitWait.WithLabelValues("torbox"))
	RecordRateLimitWait("torbox", 100*time.Millisecond)
	after := sampleCount(t, RateLimitWait.WithLabelValues("torbox"))
	assert.Greater(t, after, before)
}

func TestRecordAPIRequestUpdatesCounterAndHistogram(t *testing.T) {
	before := testutil.ToFloat64(APIRequestsTotal.WithLabelValues("GET", "/items", "200"))
	samplesBefore := sampleCount(t, APIRequestDuration.WithLabelValues("GET", "/items"))
	RecordAPIRequest("GET", "/items", "200", 15*time.Millisecond)
	after := testutil.ToFloat64(APIRequestsTotal.WithLabelValues("GET", "/items", "200"))
	assert.Equal(t, before+1, after)
	assert.Equal(t, samplesBefore+1, sampleCount(t, APIRequestDuration.WithLabelValues("GET", "/items")))
}

func TestTrackActiveRequestIncrementsAndDecrements(t *testing.T) {
	before := testutil.ToFloat64(APIActiveRequests)
	TrackActiveRequest(true)
	assert.Equal(t, before+1, testutil.ToFloat64(APIActiveRequests))
	TrackActiveRequest(false)
	assert.Equal(t, before, testutil.ToFloat64(APIActiveRequests))
}

func TestRecordRateLimitHitIncrementsCounter(t *testing.T) {
	before := testutil.ToFloat64(APIRateLimitHits.WithLabelValues("/items"))
	RecordRateLimitHit("/items")
	after := testutil.ToFloat64(APIRateLimitHits.WithLabelValues("/items"))
	assert.Equal(t, before+1, after)
}
