// Package apiclient talks to the medscribe daemon's HTTP API.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"medscribe/internal/api"
)

// ErrNotFound is matched by errors for unknown jobs.
var ErrNotFound = errors.New("not found")

// Error is a non-2xx API response.
type Error struct {
	StatusCode int
	Body       api.Error

	raw []byte
}

func (e *Error) Error() string {
	msg := strings.TrimSpace(e.Body.Message)
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	kind := e.Body.ErrorType
	if kind == "" {
		kind = "http_error"
	}
	if len(e.Body.Details) == 0 {
		return fmt.Sprintf("%s (%d): %s", kind, e.StatusCode, msg)
	}
	return fmt.Sprintf("%s (%d): %s %v", kind, e.StatusCode, msg, e.Body.Details)
}

// Is lets errors.Is(err, ErrNotFound) match 404 responses.
func (e *Error) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// JobID returns the job id carried by an enqueue failure, if any.
func (e *Error) JobID() string {
	return e.Body.Details["job_id"]
}

// Client is a daemon API client.
type Client struct {
	baseURL   *url.URL
	token     string
	submitter string
	http      *http.Client
}

// Option customizes a Client.
type Option func(*Client)

// WithToken sends a bearer token on every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = strings.TrimSpace(token) }
}

// WithSubmitter sets the X-Submitter header.
func WithSubmitter(submitter string) Option {
	return func(c *Client) { c.submitter = strings.TrimSpace(submitter) }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.http = client
		}
	}
}

// New builds a client for the daemon at baseURL. A bare host:port is
// treated as http.
func New(baseURL string, opts ...Option) (*Client, error) {
	raw := strings.TrimSpace(baseURL)
	if raw == "" {
		return nil, errors.New("api address is required")
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse api address: %w", err)
	}
	parsed.Path = strings.TrimRight(parsed.Path, "/")
	c := &Client{baseURL: parsed, http: &http.Client{Timeout: 2 * time.Minute}}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// ListOptions filters List.
type ListOptions struct {
	Statuses  []string
	Submitter string
	Limit     int
}

// SubmitText submits a text transcript.
func (c *Client) SubmitText(ctx context.Context, text string, opts api.SubmitOptions) (api.Job, error) {
	payload, err := json.Marshal(api.SubmitText{Text: text, Options: opts})
	if err != nil {
		return api.Job{}, err
	}
	var job api.Job
	err = c.do(ctx, http.MethodPost, "/jobs", nil, bytes.NewReader(payload), "application/json", &job)
	return job, err
}

// SubmitAudio uploads the audio file at path. The file is streamed.
func (c *Client) SubmitAudio(ctx context.Context, path string, opts api.SubmitOptions) (api.Job, error) {
	f, err := os.Open(path)
	if err != nil {
		return api.Job{}, err
	}
	defer f.Close()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeAudioForm(mw, filepath.Base(path), f, opts))
	}()

	var job api.Job
	err = c.do(ctx, http.MethodPost, "/jobs", nil, pr, mw.FormDataContentType(), &job)
	_ = pr.Close()
	return job, err
}

func writeAudioForm(mw *multipart.Writer, filename string, audio io.Reader, opts api.SubmitOptions) error {
	fields := map[string]string{
		"model":    opts.Model,
		"template": opts.Template,
		"language": opts.Language,
	}
	if opts.Diarization != nil {
		fields["diarization"] = strconv.FormatBool(*opts.Diarization)
	}
	for name, value := range fields {
		if value == "" {
			continue
		}
		if err := mw.WriteField(name, value); err != nil {
			return err
		}
	}
	part, err := mw.CreateFormFile("audio", filename)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, audio); err != nil {
		return err
	}
	return mw.Close()
}

// Get returns a job snapshot.
func (c *Client) Get(ctx context.Context, id string) (api.Job, error) {
	var job api.Job
	err := c.do(ctx, http.MethodGet, "/jobs/"+url.PathEscape(id), nil, nil, "", &job)
	return job, err
}

// List returns jobs matching opts, most recently updated first.
func (c *Client) List(ctx context.Context, opts ListOptions) ([]api.Job, error) {
	query := url.Values{}
	if len(opts.Statuses) > 0 {
		query.Set("status", strings.Join(opts.Statuses, ","))
	}
	if opts.Submitter != "" {
		query.Set("submitter", opts.Submitter)
	}
	if opts.Limit > 0 {
		query.Set("limit", strconv.Itoa(opts.Limit))
	}
	var list api.JobList
	if err := c.do(ctx, http.MethodGet, "/jobs", query, nil, "", &list); err != nil {
		return nil, err
	}
	return list.Jobs, nil
}

// Cancel cancels a job.
func (c *Client) Cancel(ctx context.Context, id string) (api.Job, error) {
	var job api.Job
	err := c.do(ctx, http.MethodPost, "/jobs/"+url.PathEscape(id)+"/cancel", nil, nil, "", &job)
	return job, err
}

// Result returns the outputs of a succeeded job.
func (c *Client) Result(ctx context.Context, id string) (api.Result, error) {
	var result api.Result
	err := c.do(ctx, http.MethodGet, "/jobs/"+url.PathEscape(id)+"/result", nil, nil, "", &result)
	return result, err
}

// Health returns the daemon health report. A degraded daemon answers 503
// with the same body, which is returned without error.
func (c *Client) Health(ctx context.Context) (api.Health, error) {
	var health api.Health
	err := c.do(ctx, http.MethodGet, "/health", nil, nil, "", &health)
	var apiErr *Error
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusServiceUnavailable {
		if json.Unmarshal(apiErr.raw, &health) == nil && health.Status != "" {
			return health, nil
		}
	}
	return health, err
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := *c.baseURL
	u.Path = u.Path + "/api/v1" + path
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path, query), body)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.submitter != "" {
		req.Header.Set("X-Submitter", c.submitter)
	}
	return req, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body io.Reader, contentType string, out any) error {
	req, err := c.newRequest(ctx, method, path, query, body)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		apiErr := &Error{StatusCode: resp.StatusCode, raw: raw}
		if json.Unmarshal(raw, &apiErr.Body) != nil || apiErr.Body.ErrorType == "" {
			apiErr.Body = api.Error{Message: strings.TrimSpace(string(raw))}
		}
		return apiErr
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
