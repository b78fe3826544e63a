package transcription

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/MarketxTrader/lyricsync/internal/metrics"
)

// systemInstruction constrains the model to emit raw LRC text only.
// Models occasionally ignore the fencing rule, so responses are still
// stripped of code fences before use.
const systemInstruction = `You are an audio transcription engine that produces synchronized lyrics.
Transcribe the provided audio into the LRC format: one line per lyric event,
each line starting with a [mm:ss.xx] timestamp tag followed by the lyric text,
in chronological order. Use a bare timestamp tag for instrumental pauses.
Output only the raw LRC text. Do not use markdown code fences, headings, or
any conversational wrapper.`

const userPrompt = "Transcribe this audio to LRC."

const maxBackoff = 30 * time.Second

// ErrEmptyResult indicates a well-formed model response that contained no
// usable text. It is distinct from RemoteError so callers can message the
// user differently (no content vs transient outage).
var ErrEmptyResult = errors.New("empty model response")

// RemoteError is a non-rate-limit error response from the endpoint. It is
// terminal and never retried.
type RemoteError struct {
	StatusCode int
	Message    string
}

func (e *RemoteError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("transcription endpoint error %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("transcription endpoint error %d", e.StatusCode)
}

// RetryExhaustedError indicates the rate-limit retry bound was reached.
type RetryExhaustedError struct {
	Attempts int
	Last     error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("rate limited after %d attempts: %v", e.Attempts, e.Last)
}

func (e *RetryExhaustedError) Unwrap() error {
	return e.Last
}

// Config contains transcription client configuration. All values are
// explicit; nothing is read from the process environment here.
type Config struct {
	Endpoint        string
	Model           string
	APIKey          string
	Timeout         time.Duration
	MaxRetries      int // total attempt bound, not extra attempts
	Temperature     float64
	MaxOutputTokens int
}

// Request carries one audio payload to transcribe.
type Request struct {
	AudioData []byte
	MimeType  string
}

// ClientStats represents client statistics.
type ClientStats struct {
	TotalRequests   uint64        `json:"total_requests"`
	SuccessRequests uint64        `json:"success_requests"`
	FailedRequests  uint64        `json:"failed_requests"`
	SuccessRate     float64       `json:"success_rate"`
	TotalRetries    uint64        `json:"total_retries"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
}

// Client issues generateContent transcription requests with bounded
// exponential-backoff retry on rate-limit responses. Each Transcribe call
// is an independent, strictly sequential attempt loop.
type Client struct {
	config     Config
	httpClient *http.Client
	metrics    *metrics.Metrics

	// backoff computes the delay after the given failed attempt; replaced
	// in tests to avoid real sleeps.
	backoff func(attempt int) time.Duration

	// Statistics
	totalRequests   uint64
	successRequests uint64
	failedRequests  uint64
	totalRetries    uint64
	avgResponseTime time.Duration

	mu sync.RWMutex
}

// NewClient creates a new transcription client. m may be nil.
func NewClient(config Config, m *metrics.Metrics) (*Client, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}

	if config.Model == "" {
		return nil, fmt.Errorf("model cannot be empty")
	}

	if config.APIKey == "" {
		return nil, fmt.Errorf("API key cannot be empty")
	}

	if config.Timeout <= 0 {
		config.Timeout = 120 * time.Second
	}

	if config.MaxRetries <= 0 {
		config.MaxRetries = 5
	}

	if config.MaxOutputTokens <= 0 {
		config.MaxOutputTokens = 8192
	}

	httpClient := &http.Client{
		Timeout: config.Timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	return &Client{
		config:     config,
		httpClient: httpClient,
		metrics:    m,
		backoff:    defaultBackoff,
	}, nil
}

// defaultBackoff returns 2^attempt seconds plus up to one second of jitter,
// capped at maxBackoff. Attempts are 0-indexed, so delays grow roughly as
// 1s, 2s, 4s, 8s, 16s. The shift is clamped first: 2^5 already exceeds
// the cap, and larger exponents would overflow the duration.
func defaultBackoff(attempt int) time.Duration {
	delay := maxBackoff
	if attempt < 5 {
		delay = time.Duration(1<<uint(attempt)) * time.Second
	}
	return delay + time.Duration(rand.Int63n(int64(time.Second)))
}

// Request/response structures for the generateContent API
type generateRequest struct {
	SystemInstruction *contentBlock   `json:"systemInstruction,omitempty"`
	Contents          []contentBlock  `json:"contents"`
	GenerationConfig  *generateConfig `json:"generationConfig,omitempty"`
}

type contentBlock struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type generateConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

type generateResponse struct {
	Candidates []candidate `json:"candidates"`
}

type candidate struct {
	Content contentBlock `json:"content"`
}

type apiError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// Transcribe sends the audio payload for transcription and returns the
// raw LRC text emitted by the model.
//
// Rate-limit responses (HTTP 429) are retried up to the configured total
// attempt bound, waiting with exponential backoff between attempts; the
// wait honors ctx cancellation. Any other error response fails
// immediately with a *RemoteError, a response without usable text fails
// with ErrEmptyResult, and an exhausted retry bound fails with a
// *RetryExhaustedError. No partial result is ever returned.
func (c *Client) Transcribe(ctx context.Context, request *Request) (string, error) {
	if request == nil || len(request.AudioData) == 0 {
		return "", fmt.Errorf("audio payload cannot be empty")
	}

	if request.MimeType == "" {
		return "", fmt.Errorf("MIME type cannot be empty")
	}

	startTime := time.Now()
	c.incrementTotalRequests()

	var lastErr error

	for attempt := 0; attempt < c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			c.incrementTotalRetries()
			if c.metrics != nil {
				c.metrics.RecordTranscriptionRetries(1)
			}

			select {
			case <-time.After(c.backoff(attempt - 1)):
			case <-ctx.Done():
				c.incrementFailedRequests()
				return "", ctx.Err()
			}
		}

		text, err := c.doRequest(ctx, request)
		if err == nil {
			c.incrementSuccessRequests()
			c.updateAvgResponseTime(time.Since(startTime))
			return text, nil
		}

		lastErr = err

		if !isRateLimited(err) {
			c.incrementFailedRequests()
			return "", err
		}
	}

	c.incrementFailedRequests()
	return "", &RetryExhaustedError{Attempts: c.config.MaxRetries, Last: lastErr}
}

// doRequest performs a single generateContent request.
func (c *Client) doRequest(ctx context.Context, request *Request) (string, error) {
	genReq := generateRequest{
		SystemInstruction: &contentBlock{
			Parts: []part{{Text: systemInstruction}},
		},
		Contents: []contentBlock{{
			Parts: []part{
				{InlineData: &inlineData{
					MimeType: request.MimeType,
					Data:     base64.StdEncoding.EncodeToString(request.AudioData),
				}},
				{Text: userPrompt},
			},
		}},
		GenerationConfig: &generateConfig{
			Temperature:     c.config.Temperature,
			MaxOutputTokens: c.config.MaxOutputTokens,
		},
	}

	reqBody, err := json.Marshal(genReq)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s",
		strings.TrimRight(c.config.Endpoint, "/"), c.config.Model, c.config.APIKey)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return "", fmt.Errorf("failed to create HTTP request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &RemoteError{
			StatusCode: resp.StatusCode,
			Message:    remoteMessage(respBody),
		}
	}

	var genResp generateResponse
	if err := json.Unmarshal(respBody, &genResp); err != nil {
		return "", fmt.Errorf("failed to parse response JSON: %w", err)
	}

	text := stripFences(extractText(&genResp))
	if text == "" {
		return "", ErrEmptyResult
	}

	return text, nil
}

// remoteMessage pulls the human-readable message out of an API error body,
// falling back to the raw body when it is not the expected JSON shape.
func remoteMessage(body []byte) string {
	var apiErr apiError
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error.Message != "" {
		return apiErr.Error.Message
	}
	return strings.TrimSpace(string(body))
}

// extractText concatenates all text parts of the first candidate.
func extractText(resp *generateResponse) string {
	if len(resp.Candidates) == 0 {
		return ""
	}

	var sb strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	return sb.String()
}

// stripFences removes enclosing markdown code fences from model output.
// The opening fence may carry a language marker such as "lrc".
func stripFences(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}

	text = strings.TrimPrefix(text, "```")
	// Drop the language marker on the opening fence line, but never a line
	// that already contains lyric content.
	if idx := strings.Index(text, "\n"); idx != -1 && !strings.Contains(text[:idx], "[") {
		text = text[idx+1:]
	}
	if idx := strings.LastIndex(text, "```"); idx != -1 {
		text = text[:idx]
	}
	return strings.TrimSpace(text)
}

// isRateLimited reports whether err is a rate-limit response.
func isRateLimited(err error) bool {
	var remoteErr *RemoteError
	return errors.As(err, &remoteErr) && remoteErr.StatusCode == http.StatusTooManyRequests
}

// Statistics methods
func (c *Client) incrementTotalRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRequests++
}

func (c *Client) incrementSuccessRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.successRequests++
}

func (c *Client) incrementFailedRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failedRequests++
}

func (c *Client) incrementTotalRetries() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRetries++
}

func (c *Client) updateAvgResponseTime(responseTime time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Simple moving average
	if c.avgResponseTime == 0 {
		c.avgResponseTime = responseTime
	} else {
		c.avgResponseTime = (c.avgResponseTime + responseTime) / 2
	}
}

// GetStats returns current client statistics.
func (c *Client) GetStats() ClientStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	successRate := float64(0)
	if c.totalRequests > 0 {
		successRate = float64(c.successRequests) / float64(c.totalRequests) * 100
	}

	return ClientStats{
		TotalRequests:   c.totalRequests,
		SuccessRequests: c.successRequests,
		FailedRequests:  c.failedRequests,
		SuccessRate:     successRate,
		TotalRetries:    c.totalRetries,
		AvgResponseTime: c.avgResponseTime,
	}
}
