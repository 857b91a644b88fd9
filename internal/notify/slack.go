package notify

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/hochfrequenz/court-booking-orchestrator/internal/errors"
)

// SlackNotifier posts run outcomes to a Slack incoming webhook
type SlackNotifier struct {
	webhookURL string
	client     *http.Client
}

// SlackMessage is the webhook payload
type SlackMessage struct {
	Text        string            `json:"text"`
	Attachments []SlackAttachment `json:"attachments,omitempty"`
}

// SlackAttachment carries the booking and its run details
type SlackAttachment struct {
	Color  string       `json:"color"`
	Title  string       `json:"title"`
	Text   string       `json:"text"`
	Fields []SlackField `json:"fields,omitempty"`
	Footer string       `json:"footer,omitempty"`
	Ts     int64        `json:"ts,omitempty"`
}

// SlackField is one name/value pair in an attachment
type SlackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// NewSlackNotifier creates a notifier for the given webhook. An empty URL
// disables it.
func NewSlackNotifier(webhookURL string) *SlackNotifier {
	return &SlackNotifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

// SlackColor returns the attachment colour for a notification type
func SlackColor(t NotificationType) string {
	switch t {
	case NotifySuccess:
		return "good"
	case NotifyWarning:
		return "warning"
	case NotifyError:
		return "danger"
	default:
		return "#439FE0"
	}
}

// slackMessage lays a notification out as one attachment. Run notifications
// get outcome, exit code and failure reason as fields.
func slackMessage(n Notification, now time.Time) SlackMessage {
	att := SlackAttachment{
		Color:  SlackColor(n.Type),
		Title:  n.Message,
		Footer: "court-orch",
		Ts:     now.Unix(),
	}
	if n.RunID != "" {
		att.Fields = append(att.Fields,
			SlackField{Title: "Run", Value: n.RunID, Short: true},
			SlackField{Title: "Outcome", Value: string(n.Outcome), Short: true},
		)
		if n.JobID != "" && n.JobID != n.RunID {
			att.Fields = append(att.Fields, SlackField{Title: "Reservation", Value: n.JobID, Short: true})
		}
		if n.Outcome != "" && n.Type != NotifySuccess {
			att.Fields = append(att.Fields, SlackField{Title: "Exit code", Value: strconv.Itoa(n.ExitCode), Short: true})
		}
	}
	if n.Reason != "" {
		att.Text = "```" + n.Reason + "```"
	}
	return SlackMessage{Text: n.Title, Attachments: []SlackAttachment{att}}
}

// Send posts the notification
func (s *SlackNotifier) Send(n Notification) error {
	if s.webhookURL == "" {
		return nil
	}

	payload, err := json.Marshal(slackMessage(n, time.Now()))
	if err != nil {
		return err
	}

	resp, err := s.client.Post(s.webhookURL, "application/json", bytes.NewReader(payload))
	if err != nil {
		return errors.Wrap(err, "post to slack")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.Newf("slack returned %d", resp.StatusCode)
	}
	return nil
}
