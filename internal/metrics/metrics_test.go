package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"medscribe/internal/jobs"
	"medscribe/internal/stage"
)

func TestObserveTransitionCountsFailures(t *testing.T) {
	m := New()
	job := &jobs.Job{Status: jobs.StatusFailed, Failure: &jobs.Failure{Stage: jobs.StatusSynthesizing, Reason: jobs.ReasonStageTimeout}}
	m.ObserveTransition(job)
	m.ObserveTransition(&jobs.Job{Status: jobs.StatusSucceeded})

	if got := testutil.ToFloat64(m.transitions.WithLabelValues("failed")); got != 1 {
		t.Fatalf("failed transitions = %v", got)
	}
	if got := testutil.ToFloat64(m.failures.WithLabelValues("synthesizing", "stage_timeout")); got != 1 {
		t.Fatalf("failures = %v", got)
	}
	if got := testutil.ToFloat64(m.transitions.WithLabelValues("succeeded")); got != 1 {
		t.Fatalf("succeeded transitions = %v", got)
	}
}

func TestHandlerExposesGaugesAndAttempts(t *testing.T) {
	m := New()
	depth := 7
	m.RegisterGauges(Gauges{
		QueueDepth:    func() int { return depth },
		DroppedEvents: func() int64 { return 3 },
	})
	m.ObserveAttempt(stage.Transcription, "completed", 2*time.Second)
	m.ObserveSubmission(jobs.InputAudio)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	for _, want := range []string{
		"medscribe_queue_depth 7",
		"medscribe_progress_events_dropped_total 3",
		`medscribe_stage_attempt_duration_seconds_count{outcome="completed",stage="transcription"} 1`,
		`medscribe_jobs_submitted_total{input="audio"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics output missing %q", want)
		}
	}
}

func TestMiddlewareRecordsRoutePattern(t *testing.T) {
	m := New()
	mw := m.NewMiddleware()
	router := chi.NewRouter()
	router.Use(mw.Handler)
	router.Get("/jobs/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/abc", nil))

	if got := testutil.ToFloat64(mw.requests.WithLabelValues("418", "GET", "/jobs/{id}")); got != 1 {
		t.Fatalf("requests = %v", got)
	}
}
