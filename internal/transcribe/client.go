// Package transcribe turns captured speech segments into text.
package transcribe

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
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-client/internal/audio"
	"github.com/lexiqai/voice-client/internal/capture"
	"github.com/lexiqai/voice-client/internal/observability"
	"github.com/lexiqai/voice-client/internal/resilience"
)

// Transcriber converts one segment into text. Implementations must return
// promptly once ctx is cancelled.
type Transcriber interface {
	Transcribe(ctx context.Context, seg capture.Segment) (string, error)
}

const (
	executePath     = "/stt/execute"
	formField       = "audio_file"
	formFilename    = "audio.wav"
	maxErrorExcerpt = 256
)

// HTTPConfig configures the request/response transcription endpoint.
type HTTPConfig struct {
	BaseURL     string
	Token       string
	LazyProcess bool
	// Timeout bounds each attempt.
	Timeout time.Duration
	Retry   *resilience.RetryConfig
}

// HTTPClient posts WAV-encoded segments to {base}/stt/execute.
type HTTPClient struct {
	cfg        HTTPConfig
	httpClient *http.Client
	breaker    *resilience.CircuitBreaker
	logger     zerolog.Logger
}

// NewHTTPClient creates a transcription client. breaker may be nil.
func NewHTTPClient(cfg HTTPConfig, breaker *resilience.CircuitBreaker, logger zerolog.Logger) *HTTPClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Retry == nil {
		cfg.Retry = resilience.DefaultRetryConfig()
	}
	return &HTTPClient{
		cfg:        cfg,
		httpClient: &http.Client{},
		breaker:    breaker,
		logger:     logger.With().Str("component", "transcribe").Str("backend", "http").Logger(),
	}
}

type executeResponse struct {
	Result struct {
		Data struct {
			RawText string `json:"raw_text"`
		} `json:"data"`
	} `json:"result"`
}

// Transcribe encodes the segment as 16-bit mono WAV and posts it as the
// audio_file form field.
func (c *HTTPClient) Transcribe(ctx context.Context, seg capture.Segment) (string, error) {
	if len(seg.Samples) == 0 {
		return "", &TranscriptionError{Provider: "http", Message: "empty segment", Cause: ErrEmptyAudio}
	}

	body, contentType, err := buildForm(audio.EncodeWAV(seg.Samples, seg.SampleRate))
	if err != nil {
		return "", err
	}
	endpoint := c.endpoint()

	var text string
	call := func(ctx context.Context) error {
		return resilience.Retry(ctx, func(ctx context.Context) error {
			var err error
			text, err = c.post(ctx, endpoint, body, contentType)
			return err
		}, c.cfg.Retry, isRetryable)
	}

	if c.breaker != nil {
		err = c.breaker.Execute(ctx, call)
		observability.UpdateCircuitBreakerState(c.breaker.Name(), int(c.breaker.GetState()))
		if errors.Is(err, resilience.ErrCircuitOpen) {
			return "", &TranscriptionError{Provider: "http", Message: "endpoint unavailable", Cause: err}
		}
		if err != nil && ctx.Err() == nil {
			observability.IncrementCircuitBreakerFailures(c.breaker.Name())
		}
	} else {
		err = call(ctx)
	}
	if err != nil {
		return "", err
	}

	c.logger.Debug().
		Uint64("segment_seq", seg.Seq).
		Int("chars", len(text)).
		Msg("Transcription received")
	return text, nil
}

func (c *HTTPClient) endpoint() string {
	q := url.Values{}
	q.Set("lazy_process", strconv.FormatBool(c.cfg.LazyProcess))
	return strings.TrimRight(c.cfg.BaseURL, "/") + executePath + "?" + q.Encode()
}

func (c *HTTPClient) post(ctx context.Context, endpoint string, body []byte, contentType string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &TranscriptionError{Provider: "http", Message: "request failed", Cause: err, Retryable: true}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &TranscriptionError{Provider: "http", Message: "failed to read response", Cause: err, Retryable: true}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := strings.TrimSpace(string(raw))
		if len(msg) > maxErrorExcerpt {
			msg = msg[:maxErrorExcerpt]
		}
		return "", &TranscriptionError{
			Provider:   "http",
			StatusCode: resp.StatusCode,
			Message:    msg,
			Retryable:  resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500,
		}
	}

	var parsed executeResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", &TranscriptionError{Provider: "http", Message: "failed to parse response", Cause: err}
	}
	return strings.TrimSpace(parsed.Result.Data.RawText), nil
}

// HealthCheck reports whether the endpoint is currently usable.
func (c *HTTPClient) HealthCheck(ctx context.Context) (bool, error) {
	if c.breaker != nil && c.breaker.GetState() == resilience.StateOpen {
		return false, resilience.ErrCircuitOpen
	}
	return true, nil
}

func buildForm(wav []byte) ([]byte, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile(formField, formFilename)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(wav); err != nil {
		return nil, "", fmt.Errorf("failed to write audio data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}
	return buf.Bytes(), writer.FormDataContentType(), nil
}

func isRetryable(err error) bool {
	var te *TranscriptionError
	if errors.As(err, &te) {
		if te.Cause != nil && errors.Is(te.Cause, context.Canceled) {
			return false
		}
		return te.Retryable
	}
	return resilience.IsRetryableNetworkError(err)
}
