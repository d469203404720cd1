// Package notify posts run outcomes to a Discord-compatible webhook.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	json "github.com/goccy/go-json"

	"dota-ingest/internal/ingest"
)

const (
	// Colors for Discord embeds
	colorRed    = 15158332 // 0xE74C3C - failed runs
	colorGreen  = 5763719  // 0x57F287 - clean runs
	colorYellow = 16705372 // 0xFEE75C - runs with item errors

	defaultWebhookTimeout = 10 * time.Second

	// Max attempts when rate limited
	maxRetries = 3

	// Discord rejects field values longer than this
	maxFieldValue = 1024
)

// WebhookPayload represents a Discord webhook message
type WebhookPayload struct {
	Content string  `json:"content,omitempty"`
	Embeds  []Embed `json:"embeds,omitempty"`
}

// Embed represents a Discord embed
type Embed struct {
	Title       string       `json:"title,omitempty"`
	Description string       `json:"description,omitempty"`
	Color       int          `json:"color,omitempty"`
	Fields      []EmbedField `json:"fields,omitempty"`
	Footer      *EmbedFooter `json:"footer,omitempty"`
	Timestamp   string       `json:"timestamp,omitempty"`
}

type EmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

type EmbedFooter struct {
	Text string `json:"text"`
}

// NewRunSummaryPayload describes a finished run. runErr is the error Run
// returned, if any.
func NewRunSummaryPayload(report *ingest.Report, runErr error) WebhookPayload {
	title := "✅ Ingest Run Finished"
	color := colorGreen
	content := ""
	switch {
	case runErr != nil:
		title = "❌ Ingest Run Failed"
		color = colorRed
		content = "@here Ingest run failed"
	case len(report.ItemErrors) > 0:
		title = "⚠️ Ingest Run Finished With Errors"
		color = colorYellow
	}

	fields := []EmbedField{
		{Name: "Bracket", Value: fmt.Sprintf("%s (%s)", report.Bracket.Key(), report.Mode), Inline: true},
		{Name: "Runtime", Value: ingest.FormatDuration(report.Duration()), Inline: true},
		{Name: "Stopped", Value: string(report.StopReason), Inline: true},
		{Name: "Pages", Value: formatNumber(report.Pages), Inline: true},
		{Name: "Summaries", Value: formatNumber(report.Summaries), Inline: true},
		{Name: "Details", Value: formatNumber(report.Details), Inline: true},
		{Name: "Replays", Value: fmt.Sprintf("%s (%s)", formatNumber(len(report.Replays)), formatBytes(report.ReplayBytes)), Inline: true},
		{Name: "Cursor", Value: fmt.Sprintf("%s → %s", report.StartCursor, report.FinalCursor), Inline: true},
	}
	if len(report.ItemErrors) > 0 {
		fields = append(fields, EmbedField{Name: "Item Errors", Value: formatStageCounts(report.ErrorsByStage())})
	}
	if runErr != nil {
		fields = append(fields, EmbedField{Name: "Error", Value: truncate(runErr.Error(), maxFieldValue)})
	}

	timestamp := ""
	if !report.FinishedAt.IsZero() {
		timestamp = report.FinishedAt.UTC().Format(time.RFC3339)
	}

	return WebhookPayload{
		Content: content,
		Embeds: []Embed{
			{
				Title:     title,
				Color:     color,
				Fields:    fields,
				Footer:    &EmbedFooter{Text: "Run " + report.RunID},
				Timestamp: timestamp,
			},
		},
	}
}

// WebhookClient sends notifications to Discord webhooks
type WebhookClient struct {
	webhookURL string
	httpClient *http.Client
}

// NewWebhookClient creates a new WebhookClient
func NewWebhookClient(webhookURL string) *WebhookClient {
	return &WebhookClient{
		webhookURL: webhookURL,
		httpClient: &http.Client{
			Timeout: defaultWebhookTimeout,
		},
	}
}

// SendRunSummary posts the outcome of a run
func (c *WebhookClient) SendRunSummary(ctx context.Context, report *ingest.Report, runErr error) error {
	return c.sendPayload(ctx, NewRunSummaryPayload(report, runErr))
}

// sendPayload sends a webhook payload with retry on rate limiting
func (c *WebhookClient) sendPayload(ctx context.Context, payload WebhookPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	for attempt := 0; attempt < maxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, "POST", c.webhookURL, bytes.NewReader(data))
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		resp.Body.Close()

		// Discord returns 204 No Content
		if resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusOK {
			return nil
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			waitDuration := time.Second
			if retryAfter := resp.Header.Get("Retry-After"); retryAfter != "" {
				if seconds, err := strconv.ParseFloat(retryAfter, 64); err == nil {
					waitDuration = time.Duration(seconds * float64(time.Second))
				}
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(waitDuration):
				continue
			}
		}

		return fmt.Errorf("webhook request failed with status %d", resp.StatusCode)
	}

	return fmt.Errorf("webhook request failed after %d retries", maxRetries)
}

// formatNumber formats a number with commas (e.g., 47832 -> "47,832")
func formatNumber(n int) string {
	if n < 1000 {
		return strconv.Itoa(n)
	}

	s := strconv.Itoa(n)
	var result bytes.Buffer
	for i, c := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			result.WriteByte(',')
		}
		result.WriteRune(c)
	}
	return result.String()
}

func formatBytes(n int64) string {
	switch {
	case n >= 1<<30:
		return fmt.Sprintf("%.1f GB", float64(n)/(1<<30))
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(n)/(1<<10))
	}
	return fmt.Sprintf("%d B", n)
}

// formatStageCounts renders "detail: 3, replay: 1" sorted by stage name
func formatStageCounts(counts map[ingest.Stage]int) string {
	stages := make([]string, 0, len(counts))
	for stage := range counts {
		stages = append(stages, string(stage))
	}
	sort.Strings(stages)

	parts := make([]string, 0, len(stages))
	for _, s := range stages {
		parts = append(parts, fmt.Sprintf("%s: %d", s, counts[ingest.Stage(s)]))
	}
	return strings.Join(parts, ", ")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n - 3
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
