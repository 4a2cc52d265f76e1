package diarizer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"syscall"
)

// ErrNotConfigured indicates the diarization endpoint or token is missing.
var ErrNotConfigured = errors.New("diarization service not configured")

// ErrUnavailable indicates the diarization service could not serve the request.
var ErrUnavailable = errors.New("diarization service unavailable")

// HTTPDoer describes the HTTP client used by the diarization client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config captures the diarization service settings.
type Config struct {
	BaseURL     string
	Token       string
	MinSpeakers int
	MaxSpeakers int
}

// Turn is one contiguous stretch of speech attributed to a speaker.
type Turn struct {
	Speaker string  `json:"speaker"`
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
}

// Duration returns the length of the turn in seconds.
func (t Turn) Duration() float64 {
	if t.End <= t.Start {
		return 0
	}
	return t.End - t.Start
}

// Client talks to a pyannote-style diarization HTTP service.
type Client struct {
	cfg    Config
	client HTTPDoer
}

// NewClient constructs a diarization client. A nil doer uses http.DefaultClient.
func NewClient(cfg Config, client HTTPDoer) *Client {
	if client == nil {
		client = http.DefaultClient
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	cfg.Token = strings.TrimSpace(cfg.Token)
	return &Client{cfg: cfg, client: client}
}

// Configured reports whether both the endpoint and the token are present.
func (c *Client) Configured() bool {
	return c != nil && c.cfg.BaseURL != "" && c.cfg.Token != ""
}

// Diarize uploads audio and returns the speaker turns ordered by start time.
func (c *Client) Diarize(ctx context.Context, filename string, audio io.Reader) ([]Turn, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}
	body, contentType := c.multipartBody(filename, audio)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/diarize", body)
	if err != nil {
		return nil, fmt.Errorf("build diarization request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)

	resp, err := c.client.Do(req)
	if err != nil {
		if unreachable(err) {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return nil, fmt.Errorf("diarize: %w", err)
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, fmt.Errorf("read diarization response: %w", err)
	}
	if err := statusError(resp.StatusCode, payload); err != nil {
		return nil, err
	}

	var decoded struct {
		Turns []Turn `json:"turns"`
	}
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return nil, fmt.Errorf("decode diarization response: %w", err)
	}
	turns := decoded.Turns[:0]
	for _, turn := range decoded.Turns {
		turn.Speaker = strings.TrimSpace(turn.Speaker)
		if turn.Speaker == "" || turn.Duration() <= 0 {
			continue
		}
		turns = append(turns, turn)
	}
	sort.SliceStable(turns, func(i, j int) bool { return turns[i].Start < turns[j].Start })
	return turns, nil
}

// HealthCheck probes the service health endpoint.
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.Configured() {
		return ErrNotConfigured
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("build diarization health request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	resp, err := c.client.Do(req)
	if err != nil {
		if unreachable(err) {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return fmt.Errorf("diarization health: %w", err)
	}
	defer resp.Body.Close()
	payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return statusError(resp.StatusCode, payload)
}

func (c *Client) multipartBody(filename string, audio io.Reader) (io.Reader, string) {
	reader, writer := io.Pipe()
	form := multipart.NewWriter(writer)
	go func() {
		err := func() error {
			if c.cfg.MinSpeakers > 0 {
				if err := form.WriteField("min_speakers", strconv.Itoa(c.cfg.MinSpeakers)); err != nil {
					return err
				}
			}
			if c.cfg.MaxSpeakers > 0 {
				if err := form.WriteField("max_speakers", strconv.Itoa(c.cfg.MaxSpeakers)); err != nil {
					return err
				}
			}
			part, err := form.CreateFormFile("audio", filepath.Base(filename))
			if err != nil {
				return err
			}
			if _, err := io.Copy(part, audio); err != nil {
				return err
			}
			return form.Close()
		}()
		writer.CloseWithError(err)
	}()
	return reader, form.FormDataContentType()
}

func statusError(code int, payload []byte) error {
	if code < http.StatusMultipleChoices {
		return nil
	}
	detail := strings.TrimSpace(string(payload))
	if len(detail) > 200 {
		detail = detail[:200] + "..."
	}
	switch code {
	case http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: http %d: %s", ErrUnavailable, code, detail)
	default:
		return fmt.Errorf("diarization service returned %d: %s", code, detail)
	}
}

func unreachable(err error) bool {
	if errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}
