// Package tts provides the HTTP adapter for the external speech synthesis
// provider and the audio format table shared by the service.
package tts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/book-expert/emotion-tts/internal/core"
)

// API paths.
const (
	apiSynthesize = "/tts-premium/v1/tts"
	apiHealth     = "/health"
)

// HTTP headers.
const (
	headerContentType  = "Content-Type"
	headerClientID     = "X-NCP-APIGW-API-KEY-ID"
	headerClientSecret = "X-NCP-APIGW-API-KEY"
	contentTypeForm    = "application/x-www-form-urlencoded"
	maxErrorBodyBytes  = 4096
)

// Provider failure classes. Every error returned by Synthesize wraps exactly one.
var (
	// ErrProviderAuth indicates rejected credentials.
	ErrProviderAuth = errors.New("speech provider rejected credentials")
	// ErrProviderQuota indicates a rate limit or exhausted quota.
	ErrProviderQuota = errors.New("speech provider quota exceeded")
	// ErrProviderInput indicates the provider rejected the request as malformed.
	ErrProviderInput = errors.New("speech provider rejected input")
	// ErrProviderUnavailable indicates a transient failure, timeout or malformed response.
	ErrProviderUnavailable = errors.New("speech provider unavailable")
)

// ErrTextEmpty is returned before any call is made when the text is blank.
var ErrTextEmpty = fmt.Errorf("%w: text cannot be empty", ErrProviderInput)

// Retryable reports whether a provider error is worth retrying later.
func Retryable(err error) bool {
	return errors.Is(err, ErrProviderQuota) || errors.Is(err, ErrProviderUnavailable)
}

// ClientConfig holds the provider endpoint and credentials.
type ClientConfig struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	Timeout      time.Duration
}

// HTTPClient calls the speech synthesis provider over HTTP.
// It is safe for concurrent use.
type HTTPClient struct {
	httpClient   *http.Client
	baseURL      string
	clientID     string
	clientSecret string
}

var _ core.SpeechSynthesizer = (*HTTPClient)(nil)

// NewHTTPClient creates a provider client. The timeout bounds every request.
func NewHTTPClient(cfg ClientConfig) *HTTPClient {
	return &HTTPClient{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// Synthesize sends the text with voice and tone parameters and returns the audio bytes.
func (c *HTTPClient) Synthesize(ctx context.Context, req core.SpeechRequest) ([]byte, error) {
	// Validate required input at the boundary
	if strings.TrimSpace(req.Text) == "" {
		return nil, ErrTextEmpty
	}

	form := url.Values{}
	form.Set("speaker", req.VoiceIdentity)
	form.Set("text", req.Text)
	form.Set("format", NormalizeFormat(req.Format))
	form.Set("volume", strconv.Itoa(req.Tone.Volume))
	form.Set("speed", strconv.Itoa(req.Tone.Speed))
	form.Set("pitch", strconv.Itoa(req.Tone.Pitch))
	form.Set("alpha", strconv.Itoa(req.Tone.Alpha))
	form.Set("emotion", strconv.Itoa(req.Tone.EmotionCode))
	form.Set("emotion-strength", strconv.Itoa(req.Tone.EmotionStrength))

	httpReq, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		c.baseURL+apiSynthesize,
		strings.NewReader(form.Encode()),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create request: %w", ErrProviderInput, err)
	}

	httpReq.Header.Set(headerContentType, contentTypeForm)
	httpReq.Header.Set(headerClientID, c.clientID)
	httpReq.Header.Set(headerClientSecret, c.clientSecret)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(resp)
	}

	audioData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read audio data: %w", ErrProviderUnavailable, err)
	}

	if len(audioData) == 0 {
		return nil, fmt.Errorf("%w: received empty audio data", ErrProviderUnavailable)
	}

	return audioData, nil
}

// HealthCheck verifies that the provider endpoint answers.
func (c *HTTPClient) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+apiHealth, http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed for provider at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed with status: %s", resp.Status)
	}

	return nil
}

func classifyTransportError(err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: request timed out: %w", ErrProviderUnavailable, err)
	}

	return fmt.Errorf("%w: request failed: %w", ErrProviderUnavailable, err)
}

// classifyStatus maps a non-OK response to a provider failure class and keeps
// a bounded excerpt of the body for diagnostics.
func classifyStatus(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	detail := strings.TrimSpace(string(body))

	var class error

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		class = ErrProviderAuth
	case resp.StatusCode == http.StatusTooManyRequests:
		class = ErrProviderQuota
	case resp.StatusCode >= http.StatusInternalServerError:
		class = ErrProviderUnavailable
	case resp.StatusCode >= http.StatusBadRequest:
		class = ErrProviderInput
	default:
		class = ErrProviderUnavailable
	}

	return fmt.Errorf("%w: status %s, body: %s", class, resp.Status, detail)
}
