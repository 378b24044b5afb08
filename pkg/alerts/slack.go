package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ogulcanaydogan/bi-sentinel/pkg/model"
)

// SlackNotifier sends alerts to a Slack webhook.
type SlackNotifier struct {
	webhookURL string
	channel    string
	client     *http.Client
}

// NewSlackNotifier creates a Slack webhook notifier.
func NewSlackNotifier(webhookURL, channel string) *SlackNotifier {
	return &SlackNotifier{
		webhookURL: webhookURL,
		channel:    channel,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (s *SlackNotifier) Name() string { return "slack" }

func (s *SlackNotifier) Send(ctx context.Context, n Notification) error {
	color := "#ff9900" // orange
	switch n.Alert.Severity {
	case model.SeverityHigh:
		color = "#ff0000" // red
	case model.SeverityCritical:
		color = "#cc0000" // dark red
	}

	a := n.Alert
	fields := []slackField{
		{Title: "Department", Value: a.Department, Short: true},
		{Title: "Category", Value: a.Category, Short: true},
		{Title: "Severity", Value: string(a.Severity), Short: true},
	}
	if a.Type == model.AlertForecastDrift {
		fields = append(fields,
			slackField{Title: "Drift", Value: a.Drift + "%", Short: true},
			slackField{Title: "Forecast Date", Value: a.ForecastDate, Short: true},
		)
	} else {
		fields = append(fields,
			slackField{Title: "Variance", Value: a.Variance + "%", Short: true},
			slackField{Title: "Rule", Value: a.RuleName, Short: true},
		)
		if a.Threshold != nil {
			fields = append(fields, slackField{Title: "Threshold", Value: fmt.Sprintf("%.0f%%", *a.Threshold), Short: true})
		}
	}

	payload := slackPayload{
		Channel: s.channel,
		Attachments: []slackAttachment{
			{
				Color:  color,
				Title:  fmt.Sprintf("BI Sentinel: %s alert", a.Type),
				Text:   n.Message,
				Fields: fields,
				Footer: "BI Sentinel",
				Ts:     a.Timestamp.Unix(),
			},
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send slack alert: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack returned status %d", resp.StatusCode)
	}
	return nil
}

type slackPayload struct {
	Channel     string            `json:"channel,omitempty"`
	Attachments []slackAttachment `json:"attachments"`
}

type slackAttachment struct {
	Color  string       `json:"color"`
	Title  string       `json:"title"`
	Text   string       `json:"text,omitempty"`
	Fields []slackField `json:"fields"`
	Footer string       `json:"footer"`
	Ts     int64        `json:"ts"`
}

type slackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}
