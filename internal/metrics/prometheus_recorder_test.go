package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusRecorder(t *testing.T) {
	reg := prom.NewRegistry()
	pr := NewPrometheusRecorder(reg)
	pr.ObserveBuildDuration(150 * time.Millisecond)
	pr.IncBuildOutcome(OutcomeSuccess)
	pr.IncBuildOutcome(OutcomeFailed)
	pr.IncBuildOutcome(OutcomeFailed)
	pr.AddCompileErrors(3)
	pr.IncBroadcast(BroadcastReload)
	pr.SetClients(2)

	mfs, err := reg.Gather()
	require.NoError(t, err)
	values := map[string]float64{}
	for _, mf := range mfs {
		for _, m := range mf.GetMetric() {
			switch {
			case m.GetCounter() != nil:
				values[mf.GetName()] += m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				values[mf.GetName()] = m.GetGauge().GetValue()
			}
		}
	}
	assert.Equal(t, 3.0, values["devrun_build_outcomes_total"])
	assert.Equal(t, 3.0, values["devrun_compile_errors_total"])
	assert.Equal(t, 2.0, values["devrun_livereload_clients"])
}

func TestHandler(t *testing.T) {
	pr := NewPrometheusRecorder(nil)
	pr.IncBroadcast(BroadcastInject)

	rec := httptest.NewRecorder()
	pr.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	assert.Contains(t, string(body), `devrun_livereload_broadcasts_total{kind="inject"} 1`)
}

func TestNoopRecorder(t *testing.T) {
	var r Recorder = NoopRecorder{}
	r.ObserveBuildDuration(time.Second)
	r.IncBuildOutcome(OutcomeCanceled)
	r.AddCompileErrors(1)
	r.IncBroadcast(BroadcastReload)
	r.IncDroppedClients(1)
	r.SetClients(0)
}
