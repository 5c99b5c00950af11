package invoke

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
)

// HTTP invokes tools on the governance backend over JSON HTTP.
type HTTP struct {
	// URL is the tool invocation endpoint.
	URL string
	// Method overrides the HTTP method.
	Method string
	// Headers adds HTTP headers.
	Headers map[string]string
	// Timeout is the HTTP client timeout.
	Timeout time.Duration
}

type httpRequest struct {
	// Tool is the tool name.
	Tool string `json:"tool"`
	// Arguments are the tool arguments.
	Arguments map[string]any `json:"arguments"`
}

type httpResponse struct {
	// Status is success or error.
	Status string `json:"status"`
	// Result carries the tool output.
	Result map[string]any `json:"result,omitempty"`
	// Error is the failure message.
	Error string `json:"error,omitempty"`
}

// Invoke implements Invoker.
func (h HTTP) Invoke(ctx context.Context, tool string, args map[string]any) (map[string]any, error) {
	if strings.TrimSpace(h.URL) == "" {
		return nil, errors.New("invoker url is empty")
	}

	body, err := json.Marshal(httpRequest{Tool: tool, Arguments: args})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	method := strings.ToUpper(strings.TrimSpace(h.Method))
	if method == "" {
		method = http.MethodPost
	}
	request, err := http.NewRequestWithContext(ctx, method, h.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")
	for key, value := range h.Headers {
		request.Header.Set(key, value)
	}

	timeout := h.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client := &http.Client{Timeout: timeout}
	resp, err := client.Do(request)
	if err != nil {
		return nil, fmt.Errorf("tool request failed: %w", err)
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("tool %s status %d: %s", tool, resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var parsed httpResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("decode tool response: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(parsed.Status)) {
	case "", "success":
		if parsed.Result == nil {
			return map[string]any{}, nil
		}
		return parsed.Result, nil
	case "error":
		message := parsed.Error
		if message == "" {
			message = "tool error"
		}
		return nil, errors.New(message)
	default:
		return nil, fmt.Errorf("unknown tool status: %s", parsed.Status)
	}
}
