package apiclient_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medscribe/internal/api"
	"medscribe/internal/apiclient"
	"medscribe/internal/jobs"
	"medscribe/internal/progress"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func newClient(t *testing.T, mux *http.ServeMux, opts ...apiclient.Option) *apiclient.Client {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	client, err := apiclient.New(srv.URL, opts...)
	require.NoError(t, err)
	return client
}

func TestSubmitAudioStreamsMultipart(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/jobs", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "dr-lee", r.Header.Get("X-Submitter"))
		if !assert.NoError(t, r.ParseMultipartForm(1<<20)) {
			return
		}
		assert.Equal(t, "small", r.FormValue("model"))
		assert.Equal(t, "false", r.FormValue("diarization"))
		file, header, err := r.FormFile("audio")
		if !assert.NoError(t, err) {
			return
		}
		defer file.Close()
		content, _ := io.ReadAll(file)
		assert.Equal(t, "visit.wav", header.Filename)
		assert.Equal(t, "RIFF", string(content))
		writeJSON(w, http.StatusAccepted, api.Job{ID: "job-1", Status: "queued", Input: api.Input{Kind: "audio", Filename: header.Filename}})
	})
	client := newClient(t, mux, apiclient.WithToken("tok"), apiclient.WithSubmitter("dr-lee"))

	path := filepath.Join(t.TempDir(), "visit.wav")
	require.NoError(t, os.WriteFile(path, []byte("RIFF"), 0o644))
	off := false
	job, err := client.SubmitAudio(context.Background(), path, api.SubmitOptions{Model: "small", Diarization: &off})
	require.NoError(t, err)
	assert.Equal(t, "job-1", job.ID)
	assert.Equal(t, "audio", job.Input.Kind)
}

func TestErrorsCarryStatusAndDetails(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/jobs/{id}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, api.Error{ErrorType: "not_found", Message: "job not found"})
	})
	mux.HandleFunc("POST /api/v1/jobs", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusServiceUnavailable, api.Error{
			ErrorType: "enqueue_failed",
			Message:   "queue is closed",
			Details:   map[string]string{"job_id": "job-9"},
		})
	})
	client := newClient(t, mux)

	_, err := client.Get(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apiclient.ErrNotFound))

	_, err = client.SubmitText(context.Background(), "note", api.SubmitOptions{})
	var apiErr *apiclient.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.StatusCode)
	assert.Equal(t, "job-9", apiErr.JobID())
	assert.Contains(t, apiErr.Error(), "enqueue_failed")
}

func TestListEncodesFilters(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/jobs", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "queued,failed", q.Get("status"))
		assert.Equal(t, "dr-lee", q.Get("submitter"))
		assert.Equal(t, "5", q.Get("limit"))
		writeJSON(w, http.StatusOK, api.JobList{Jobs: []api.Job{{ID: "a"}, {ID: "b"}}})
	})
	client := newClient(t, mux)

	list, err := client.List(context.Background(), apiclient.ListOptions{
		Statuses:  []string{"queued", "failed"},
		Submitter: "dr-lee",
		Limit:     5,
	})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "b", list[1].ID)
}

func TestHealthDegradedIsNotAnError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusServiceUnavailable, api.Health{Status: api.HealthDegraded, LastError: "llm unreachable"})
	})
	client := newClient(t, mux)

	health, err := client.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, api.HealthDegraded, health.Status)
	assert.Equal(t, "llm unreachable", health.LastError)
}

func TestWatchStopsAtTerminalEvent(t *testing.T) {
	upgrader := websocket.Upgrader{}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/jobs/{id}/stream", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if !assert.NoError(t, err) {
			return
		}
		defer conn.Close()
		id := r.PathValue("id")
		_ = conn.WriteJSON(progress.Event{JobID: id, Status: jobs.StatusSynthesizing, ProgressPercent: 50, Version: 3, Snapshot: true})
		_ = conn.WriteJSON(progress.Event{JobID: id, Status: jobs.StatusSucceeded, ProgressPercent: 100, Version: 4})
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "job finished"), time.Now().Add(time.Second))
	})
	client := newClient(t, mux)

	var seen []jobs.Status
	last, err := client.Watch(context.Background(), "job-1", func(ev progress.Event) {
		seen = append(seen, ev.Status)
	})
	require.NoError(t, err)
	assert.Equal(t, []jobs.Status{jobs.StatusSynthesizing, jobs.StatusSucceeded}, seen)
	assert.Equal(t, jobs.StatusSucceeded, last.Status)
	assert.Equal(t, "job-1", last.JobID)
}

func TestWatchUnknownJob(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/jobs/{id}/stream", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, api.Error{ErrorType: "not_found"})
	})
	client := newClient(t, mux)

	_, err := client.Watch(context.Background(), "nope", nil)
	assert.ErrorIs(t, err, apiclient.ErrNotFound)
}

func TestNewAcceptsBareAddress(t *testing.T) {
	_, err := apiclient.New("127.0.0.1:7830")
	require.NoError(t, err)
	_, err = apiclient.New("  ")
	require.Error(t, err)
}
