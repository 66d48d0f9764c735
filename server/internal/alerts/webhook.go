package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
)

// fact is one labelled line shared by the chat payload formats.
type fact struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// facts lists what a reader needs to find the camera and judge the reading.
func facts(a *Alert) []fact {
	out := []fact{
		{"Source", fmt.Sprintf("%s (%s)", a.SourceName, a.SourceID)},
		{"Location", fmt.Sprintf("%.4f, %.4f", a.Latitude, a.Longitude)},
		{"Rule", fmt.Sprintf("%s: %s", a.RuleName, a.Condition)},
		{"Score", fmt.Sprintf("%.2f", a.Value)},
		{"Fired", a.FiredAt.UTC().Format("2006-01-02 15:04 MST")},
	}
	if a.ResolvedAt != nil {
		out = append(out, fact{"Resolved", a.ResolvedAt.UTC().Format("2006-01-02 15:04 MST")})
	}
	return out
}

func headline(a *Alert) string {
	if a.State == "resolved" {
		return fmt.Sprintf("Resolved: %s at %s", a.RuleName, a.SourceName)
	}
	return fmt.Sprintf("%s at %s", a.RuleName, a.SourceName)
}

// payload renders a for one webhook type. ok is false for unknown types.
func payload(kind string, a *Alert) (body any, ok bool) {
	switch kind {
	case "slack":
		fields := make([]map[string]string, 0, 6)
		for _, f := range facts(a) {
			fields = append(fields, map[string]string{"type": "mrkdwn", "text": "*" + f.Name + "*\n" + f.Value})
		}
		return map[string]any{
			"text": headline(a),
			"blocks": []map[string]any{
				{"type": "header", "text": map[string]string{"type": "plain_text", "text": headline(a)}},
				{"type": "section", "fields": fields},
				{"type": "context", "elements": []map[string]string{
					{"type": "mrkdwn", "text": fmt.Sprintf("<%s|Latest analysis>", a.Link)},
				}},
			},
		}, true

	case "teams":
		return map[string]any{
			"@type":      "MessageCard",
			"@context":   "http://schema.org/extensions",
			"themeColor": cardColor(a),
			"summary":    headline(a),
			"title":      headline(a),
			"sections":   []map[string]any{{"facts": facts(a)}},
			"potentialAction": []map[string]any{{
				"@type":   "OpenUri",
				"name":    "Latest analysis",
				"targets": []map[string]string{{"os": "default", "uri": a.Link}},
			}},
		}, true

	case "discord":
		fields := make([]map[string]any, 0, 6)
		for _, f := range facts(a) {
			fields = append(fields, map[string]any{"name": f.Name, "value": f.Value, "inline": true})
		}
		var color int
		fmt.Sscanf(cardColor(a), "%x", &color) //nolint:errcheck
		return map[string]any{
			"embeds": []map[string]any{{
				"title":  headline(a),
				"url":    a.Link,
				"color":  color,
				"fields": fields,
			}},
		}, true

	case "http":
		return map[string]any{"alert": a}, true
	}
	return nil, false
}

// cardColor is green once resolved, otherwise by severity.
func cardColor(a *Alert) string {
	switch {
	case a.State == "resolved":
		return "2EB67D"
	case a.Severity == "warning":
		return "FFAB40"
	default:
		return "00D4FF"
	}
}

// deliver posts a to every configured webhook. Failures are logged only.
func (e *Engine) deliver(a *Alert) {
	for _, wh := range e.webhooks {
		url := wh.URL()
		if url == "" {
			continue
		}
		body, ok := payload(wh.Type, a)
		if !ok {
			slog.Warn("alerts: unknown webhook type, skipping", "type", wh.Type)
			continue
		}
		if err := e.post(url, body); err != nil {
			slog.Error("alerts: webhook delivery failed",
				"type", wh.Type, "rule", a.RuleName, "source", a.SourceID, "err", err)
			continue
		}
		slog.Debug("alerts: webhook delivered",
			"type", wh.Type, "rule", a.RuleName, "source", a.SourceID, "state", a.State)
	}
}

func (e *Engine) post(url string, body any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body) //nolint:errcheck

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook status %d", resp.StatusCode)
	}
	return nil
}
