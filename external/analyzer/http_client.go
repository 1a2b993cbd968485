package analyzer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/minutemanhq/minuteman/internal/analyzer"
)

const httpPoolSize = 4

// HTTPClient talks to the analysis service. The per-call deadline comes from
// the caller's context; the underlying client only bounds idle transport
// behavior.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

func NewHTTPClient(baseURL string) analyzer.Client {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        httpPoolSize,
				MaxIdleConnsPerHost: httpPoolSize,
				IdleConnTimeout:     90 * time.Second,
				ForceAttemptHTTP2:   true,
			},
		},
	}
}

func (c *HTTPClient) Analyze(ctx context.Context, req analyzer.Request) (*analyzer.Result, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode analyze request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/analyze_base64", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build analyze request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("analysis timed out: %w", err)
		}
		return nil, fmt.Errorf("analysis request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if !isHTTPSuccessStatus(resp.StatusCode) {
		return nil, fmt.Errorf("analysis service: %s", serviceErrorDetail(resp))
	}

	var result analyzer.Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode analyze response: %w", err)
	}
	return &result, nil
}

func (c *HTTPClient) FetchSessionAudio(ctx context.Context, userID, sessionID string) (*analyzer.SessionAudio, error) {
	url := fmt.Sprintf("%s/session_audio/%s/%s", c.baseURL, userID, sessionID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build audio request: %w", err)
	}
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("audio request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode == http.StatusNotFound {
		return nil, analyzer.ErrAudioNotFound
	}
	if !isHTTPSuccessStatus(resp.StatusCode) {
		return nil, fmt.Errorf("audio fetch: %s", serviceErrorDetail(resp))
	}
	var audio analyzer.SessionAudio
	if err := json.NewDecoder(resp.Body).Decode(&audio); err != nil {
		return nil, fmt.Errorf("decode audio response: %w", err)
	}
	if audio.AudioBase64 == "" {
		return nil, analyzer.ErrAudioNotFound
	}
	return &audio, nil
}

func (c *HTTPClient) Health(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("build health request: %w", err)
	}
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("health request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if !isHTTPSuccessStatus(resp.StatusCode) {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}
	return nil
}

func isHTTPSuccessStatus(statusCode int) bool {
	return statusCode >= 200 && statusCode < 300
}

// serviceErrorDetail extracts the service-provided error detail from a
// non-success response, falling back to a generic status-code message.
func serviceErrorDetail(resp *http.Response) string {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err == nil && len(body) > 0 {
		var payload struct {
			Detail string `json:"detail"`
			Error  string `json:"error"`
		}
		if json.Unmarshal(body, &payload) == nil {
			if payload.Detail != "" {
				return payload.Detail
			}
			if payload.Error != "" {
				return payload.Error
			}
		}
	}
	return fmt.Sprintf("status %d", resp.StatusCode)
}
