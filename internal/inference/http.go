package inference

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tmarchini/personaforge/internal/prompt"
	"github.com/tmarchini/personaforge/internal/reliability"
)

const defaultRequestTimeout = 60 * time.Second

// HTTPClient talks to an OpenAI-compatible chat completions endpoint.
type HTTPClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewHTTPClient(baseURL, apiKey string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

type chatRequest struct {
	Model       string           `json:"model,omitempty"`
	Messages    []prompt.Message `json:"messages"`
	Temperature float64          `json:"temperature"`
	MaxTokens   int              `json:"max_tokens"`
	TopP        float64          `json:"top_p"`
	Stream      bool             `json:"stream,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func (c *HTTPClient) Complete(ctx context.Context, p prompt.Prompt, params Params, onDelta DeltaHandler) (Result, error) {
	if err := ValidateParams(params); err != nil {
		return Result{}, err
	}

	payload, err := json.Marshal(chatRequest{
		Model:       params.Model,
		Messages:    p.Messages,
		Temperature: params.Temperature,
		MaxTokens:   params.MaxTokens,
		TopP:        params.TopP,
		Stream:      onDelta != nil,
	})
	if err != nil {
		return Result{}, &Error{Kind: KindInvalidParams, Message: fmt.Sprintf("marshal request: %v", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return Result{}, &Error{Kind: KindInvalidParams, Message: fmt.Sprintf("create request: %v", err), cause: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	res, err := c.client.Do(httpReq)
	if err != nil {
		return Result{}, classifyTransportError(err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return Result{}, classifyStatus(res)
	}

	ct := strings.ToLower(res.Header.Get("Content-Type"))
	if strings.Contains(ct, "text/event-stream") {
		return c.consumeSSE(res.Body, onDelta)
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return Result{}, classifyTransportError(err)
	}
	var obj chatResponse
	if err := json.Unmarshal(body, &obj); err != nil {
		return Result{}, &Error{Kind: KindBackendUnavailable, Message: fmt.Sprintf("malformed response: %v", err), cause: err}
	}
	if len(obj.Choices) == 0 {
		return Result{}, &Error{Kind: KindBackendUnavailable, Message: "response carried no choices"}
	}

	text := obj.Choices[0].Message.Content
	if text != "" && onDelta != nil {
		if err := onDelta(text); err != nil {
			return Result{}, err
		}
	}
	return Result{Text: text}, nil
}

func (c *HTTPClient) consumeSSE(body io.Reader, onDelta DeltaHandler) (Result, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var out strings.Builder
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			break
		}

		var obj chatResponse
		if err := json.Unmarshal([]byte(data), &obj); err != nil {
			// Tolerate keepalives and vendor extensions between data frames.
			continue
		}
		if len(obj.Choices) == 0 {
			continue
		}
		delta := obj.Choices[0].Delta.Content
		if delta == "" {
			delta = obj.Choices[0].Message.Content
		}
		if delta == "" {
			continue
		}
		out.WriteString(delta)
		if onDelta != nil {
			if err := onDelta(delta); err != nil {
				return Result{}, err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return Result{}, classifyTransportError(err)
	}
	return Result{Text: out.String()}, nil
}

func classifyStatus(res *http.Response) *Error {
	body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
	msg := fmt.Sprintf("backend status %d", res.StatusCode)
	var obj chatResponse
	if json.Unmarshal(body, &obj) == nil && obj.Error != nil && obj.Error.Message != "" {
		msg = fmt.Sprintf("backend status %d: %s", res.StatusCode, obj.Error.Message)
	}

	switch {
	case res.StatusCode == http.StatusTooManyRequests:
		return &Error{Kind: KindRateLimited, Message: msg, RetryAfter: retryAfter(res)}
	case res.StatusCode == http.StatusRequestTimeout || res.StatusCode == http.StatusGatewayTimeout:
		return &Error{Kind: KindTimeout, Message: msg}
	case res.StatusCode == http.StatusBadRequest || res.StatusCode == http.StatusUnprocessableEntity:
		return &Error{Kind: KindInvalidParams, Message: msg}
	case reliability.IsRetryableHTTPStatus(res.StatusCode):
		return &Error{Kind: KindBackendUnavailable, Message: msg}
	default:
		return &Error{Kind: KindInvalidParams, Message: msg}
	}
}

func classifyTransportError(err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Message: "request deadline exceeded", cause: err}
	}
	if errors.Is(err, context.Canceled) {
		return &Error{Kind: KindTimeout, Message: "request canceled", cause: err}
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &Error{Kind: KindTimeout, Message: err.Error(), cause: err}
	}
	return &Error{Kind: KindBackendUnavailable, Message: err.Error(), cause: err}
}

// retryAfter parses a Retry-After header given in whole seconds; HTTP-date
// form is rare from model gateways and is ignored.
func retryAfter(res *http.Response) time.Duration {
	raw := strings.TrimSpace(res.Header.Get("Retry-After"))
	if raw == "" {
		return 0
	}
	secs, err := strconv.Atoi(raw)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
