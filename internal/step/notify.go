package step

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Notifier announces a suspended step to an external channel so a human can
// fulfil it over the webhook.
type Notifier interface {
	// Notify delivers the prompt for a suspended step.
	Notify(ctx context.Context, prompt Prompt) error
}

// Prompt describes a suspended step to the external channel.
type Prompt struct {
	// RunID identifies the suspended run.
	RunID string `json:"run_id"`
	// StepID identifies the suspended step.
	StepID string `json:"step_id"`
	// Kind is the step type awaiting fulfilment.
	Kind string `json:"kind"`
	// Title is the step name.
	Title string `json:"title"`
	// Body is the question, approval summary, or information content.
	Body string `json:"body"`
	// Options lists quiz options or approver names.
	Options []string `json:"options,omitempty"`
	// WebhookURL is where the fulfilment must be posted.
	WebhookURL string `json:"webhook_url,omitempty"`
}

// HTTPNotifier posts prompts to a configured endpoint.
type HTTPNotifier struct {
	// URL is the notification endpoint.
	URL string
	// Headers adds HTTP headers.
	Headers map[string]string
	// Timeout bounds the notification request.
	Timeout time.Duration
	// WebhookURL is advertised to the channel for fulfilment callbacks.
	WebhookURL string
}

// Notify implements Notifier.
func (n HTTPNotifier) Notify(ctx context.Context, prompt Prompt) error {
	if strings.TrimSpace(n.URL) == "" {
		return fmt.Errorf("notifier url is empty")
	}
	prompt.WebhookURL = n.WebhookURL

	body, err := json.Marshal(prompt)
	if err != nil {
		return fmt.Errorf("encode prompt: %w", err)
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, n.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")
	for key, value := range n.Headers {
		request.Header.Set(key, value)
	}

	timeout := n.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client := &http.Client{Timeout: timeout}
	resp, err := client.Do(request)
	if err != nil {
		return fmt.Errorf("notify request failed: %w", err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notifier status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return nil
}
