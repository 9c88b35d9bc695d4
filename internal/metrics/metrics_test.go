package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunCounters(t *testing.T) {
	m := New()
	m.Round(RoundCached)
	m.Round(RoundCached)
	m.Round(RoundFailed)
	m.Prices(3, 1, 0)
	m.Lookups("token", 2)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.rounds.WithLabelValues(RoundCached)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rounds.WithLabelValues(RoundFailed)))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.prices.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.prices.WithLabelValues("missing")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.lookups.WithLabelValues("token")))
}

func TestFinish(t *testing.T) {
	m := New()
	start := time.Unix(1_700_000_000, 0)
	m.Finish(start, start.Add(90*time.Second), false)
	assert.Equal(t, 90.0, testutil.ToFloat64(m.duration))
	assert.Zero(t, testutil.ToFloat64(m.lastSuccess))

	m.Finish(start, start.Add(time.Second), true)
	assert.Equal(t, float64(start.Add(time.Second).Unix()), testutil.ToFloat64(m.lastSuccess))
}

func TestPush(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.True(t, strings.HasPrefix(r.URL.Path, "/metrics/job/bribemeter"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m := New()
	m.Round(RoundComputed)
	require.NoError(t, m.Push(context.Background(), srv.URL, "bribemeter"))
	assert.Equal(t, int32(1), hits.Load())
}

func TestPushDisabled(t *testing.T) {
	assert.NoError(t, New().Push(context.Background(), "", "bribemeter"))
}
