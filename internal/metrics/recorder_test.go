package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilRecorderIsSafe(t *testing.T) {
	var r *Recorder

	assert.NotPanics(t, func() {
		r.ObservePageBuild("index.html", time.Second, OutcomeSuccess)
		r.ObserveAssetCompile("script", time.Millisecond)
		r.AddImageBytesSaved(10)
		r.IncReloadBroadcast()
		r.SetLiveClients(3)
		r.IncCommandResult("unifee:js", true)
	})
	assert.Nil(t, r.Registry())

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRecorderCounts(t *testing.T) {
	r := NewRecorder(nil)

	r.ObservePageBuild("index.html", 20*time.Millisecond, OutcomeSuccess)
	r.ObservePageBuild("index.html", 20*time.Millisecond, OutcomeFailure)
	r.ObservePageBuild("index.html", 20*time.Millisecond, OutcomeSuccess)
	r.AddImageBytesSaved(1500)
	r.AddImageBytesSaved(-5)
	r.IncReloadBroadcast()
	r.SetLiveClients(2)
	r.IncCommandResult("unifee:css", false)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.buildOutcomes.WithLabelValues("index.html", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.buildOutcomes.WithLabelValues("index.html", "failure")))
	assert.Equal(t, 1500.0, testutil.ToFloat64(r.imageBytesSaved))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.reloads))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.liveClients))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.commandResults.WithLabelValues("unifee:css", "failure")))
}

func TestHandlerExposesMetrics(t *testing.T) {
	r := NewRecorder(nil)
	r.IncReloadBroadcast()

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "unifee_reload_broadcasts_total")
}
