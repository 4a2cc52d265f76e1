package daemon

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"medscribe/internal/api"
	"medscribe/internal/jobs"
	"medscribe/internal/logging"
	"medscribe/internal/services"
	"medscribe/internal/submission"
)

const (
	submitterHeader = "X-Submitter"
	formFieldLimit  = 1 << 20
	multipartSlack  = 1 << 20
	defaultListSize = 100
)

func (s *apiServer) handleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, upload, err := s.decodeSubmission(w, r)
	if err != nil {
		s.daemon.submission.Discard(ctx, upload.Ref)
		_, _ = io.Copy(io.Discard, r.Body)
		respondError(w, r, err)
		return
	}
	req.Submitter = r.Header.Get(submitterHeader)

	job, err := s.daemon.submission.Submit(ctx, req)
	if job == nil && err != nil {
		s.daemon.submission.Discard(ctx, upload.Ref)
		respondError(w, r, err)
		return
	}
	s.daemon.metrics.ObserveSubmission(job.Input.Kind)
	if err != nil {
		logging.WarnWithContext(logging.WithContext(services.WithJobID(ctx, job.ID), s.logger),
			"submission accepted but not enqueued", "enqueue_failed", logging.Error(err))
		writeError(w, r, http.StatusServiceUnavailable, services.ErrorType(err), err.Error(),
			map[string]string{"job_id": job.ID})
		return
	}
	writeJSON(w, r, http.StatusAccepted, api.FromJob(job))
}

// decodeSubmission reads either a multipart audio upload or a JSON text
// body. A returned upload must be discarded by the caller on failure.
func (s *apiServer) decodeSubmission(w http.ResponseWriter, r *http.Request) (submission.Request, submission.Upload, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		return s.decodeMultipart(w, r)
	}

	var body api.SubmitText
	if err := render.DecodeJSON(http.MaxBytesReader(w, r.Body, formFieldLimit), &body); err != nil {
		return submission.Request{}, submission.Upload{}, fmt.Errorf("%w: decode request body: %v", services.ErrValidation, err)
	}
	return submission.Request{
		Text:    body.Text,
		Options: submitOptions(body.Options),
	}, submission.Upload{}, nil
}

func (s *apiServer) decodeMultipart(w http.ResponseWriter, r *http.Request) (submission.Request, submission.Upload, error) {
	var (
		req    submission.Request
		upload submission.Upload
	)
	r.Body = http.MaxBytesReader(w, r.Body, s.daemon.submission.MaxUploadBytes()+multipartSlack)
	reader, err := r.MultipartReader()
	if err != nil {
		return req, upload, fmt.Errorf("%w: read multipart body: %v", services.ErrValidation, err)
	}

	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return req, upload, partError(err)
		}
		name := part.FormName()
		if name == "audio" && part.FileName() != "" {
			if upload.Ref != "" {
				_ = part.Close()
				return req, upload, &submission.ValidationError{Details: map[string]string{"audio": "only one audio file is accepted"}}
			}
			stored, err := s.daemon.submission.StoreUpload(r.Context(), part.FileName(), part)
			_ = part.Close()
			if err != nil {
				return req, upload, err
			}
			upload = stored
			req.AudioRef = stored.Ref
			req.Filename = stored.Filename
			continue
		}

		raw, err := io.ReadAll(io.LimitReader(part, formFieldLimit))
		_ = part.Close()
		if err != nil {
			return req, upload, partError(err)
		}
		value := strings.TrimSpace(string(raw))
		switch name {
		case "text":
			req.Text = string(raw)
		case "model":
			req.Options.Model = value
		case "template":
			req.Options.Template = value
		case "language":
			req.Options.Language = value
		case "diarization":
			if value == "" {
				continue
			}
			enabled, err := strconv.ParseBool(value)
			if err != nil {
				return req, upload, &submission.ValidationError{Details: map[string]string{"diarization": "must be true or false"}}
			}
			req.Options.Diarization = &enabled
		}
	}
	return req, upload, nil
}

func partError(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return fmt.Errorf("%w: request body exceeds %d bytes", submission.ErrUploadTooLarge, tooLarge.Limit)
	}
	return fmt.Errorf("%w: read multipart body: %v", services.ErrValidation, err)
}

func submitOptions(opts api.SubmitOptions) submission.Options {
	return submission.Options{
		Diarization: opts.Diarization,
		Model:       opts.Model,
		Template:    opts.Template,
		Language:    opts.Language,
	}
}

func (s *apiServer) handleListJobs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := jobs.Filter{
		Submitter: strings.TrimSpace(query.Get("submitter")),
		Limit:     defaultListSize,
	}
	for _, raw := range query["status"] {
		for _, value := range strings.Split(raw, ",") {
			if strings.TrimSpace(value) == "" {
				continue
			}
			status, ok := jobs.ParseStatus(value)
			if !ok {
				respondError(w, r, &submission.ValidationError{Details: map[string]string{"status": "unknown status " + strconv.Quote(value)}})
				return
			}
			filter.Statuses = append(filter.Statuses, status)
		}
	}
	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			respondError(w, r, &submission.ValidationError{Details: map[string]string{"limit": "must be a positive integer"}})
			return
		}
		filter.Limit = limit
	}

	list, err := s.daemon.store.List(r.Context(), filter)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, api.JobList{Jobs: api.FromJobs(list)})
}

func (s *apiServer) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.daemon.store.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, api.FromJob(job))
}

func (s *apiServer) handleResult(w http.ResponseWriter, r *http.Request) {
	job, err := s.daemon.store.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	result, err := api.ResultFromJob(job)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "result_not_ready",
			fmt.Sprintf("job %s is %s", job.ID, job.Status), map[string]string{"status": string(job.Status)})
		return
	}
	writeJSON(w, r, http.StatusOK, result)
}

func (s *apiServer) handleCancel(w http.ResponseWriter, r *http.Request) {
	job, err := s.daemon.workflow.Cancel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, api.FromJob(job))
}

func (s *apiServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	health, ready := s.daemon.Health(r.Context())
	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, r, status, health)
}
