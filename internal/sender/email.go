package sender

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	logx "locatealert/pkg/logx"
)

const (
	defaultEmailTimeout = 10 * time.Second
	userAgent           = "locatealert/1"
	maxErrorBody        = 512
)

var emailRequestDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "locatealert_email_request_duration_seconds",
		Help:    "Duration of email provider HTTP requests.",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	},
	[]string{"status"},
)

// HTTPEmailConfig configures the email provider client.
type HTTPEmailConfig struct {
	Endpoint string
	APIKey   string
	From     string
	Timeout  time.Duration
}

// HTTPEmail posts messages to a JSON email API:
//
//	POST {endpoint}  {"from": ..., "to": [...], "subject": ..., "html": ..., "text": ...}
//	200 {"id": "..."}
type HTTPEmail struct {
	client   *http.Client
	log      logx.Logger
	endpoint string
	apiKey   string
	from     string
}

type emailRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html,omitempty"`
	Text    string   `json:"text,omitempty"`

	Metadata map[string]string `json:"metadata,omitempty"`
}

type emailResponse struct {
	ID string `json:"id"`
}

// ProviderError is a non-2xx answer from the email provider.
type ProviderError struct {
	Status int
	Body   string
}

func (e *ProviderError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("email provider returned HTTP %d", e.Status)
	}
	return fmt.Sprintf("email provider returned HTTP %d: %s", e.Status, e.Body)
}

// Temporary reports whether a retry could succeed.
func (e *ProviderError) Temporary() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

func NewHTTPEmail(cfg HTTPEmailConfig, log logx.Logger) (*HTTPEmail, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("email endpoint is required")
	}
	u, err := url.Parse(cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid email endpoint: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("email endpoint must use http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, errors.New("email endpoint must include a host")
	}
	if strings.TrimSpace(cfg.From) == "" {
		return nil, errors.New("email from address is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultEmailTimeout
	}
	return &HTTPEmail{
		client:   &http.Client{Timeout: timeout},
		log:      log.With(logx.String("comp", "sender.email")),
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		from:     cfg.From,
	}, nil
}

func (s *HTTPEmail) SendEmail(ctx context.Context, m EmailMessage) (string, error) {
	if strings.TrimSpace(m.To) == "" {
		return "", errors.New("email: empty recipient")
	}
	body, err := json.Marshal(emailRequest{
		From:    s.from,
		To:      []string{m.To},
		Subject: m.Subject,
		HTML:    m.HTML,
		Text:    m.Text,

		Metadata: m.Metadata,
	})
	if err != nil {
		return "", fmt.Errorf("marshal email: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		emailRequestDuration.WithLabelValues("error").Observe(time.Since(start).Seconds())
		return "", fmt.Errorf("email request: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		emailRequestDuration.WithLabelValues("error").Observe(time.Since(start).Seconds())
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return "", &ProviderError{Status: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}
	emailRequestDuration.WithLabelValues("success").Observe(time.Since(start).Seconds())

	var out emailResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil && !errors.Is(err, io.EOF) {
		// Delivered; the id is informational.
		s.log.Warn("email provider response not decodable", logx.Err(err))
	}
	return out.ID, nil
}
