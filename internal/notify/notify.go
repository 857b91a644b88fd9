package notify

import (
	"strings"

	"github.com/hochfrequenz/court-booking-orchestrator/internal/domain"
)

// NotificationType represents the type of notification
type NotificationType int

const (
	NotifyInfo NotificationType = iota
	NotifySuccess
	NotifyWarning
	NotifyError
)

// Notification represents a notification to be sent
type Notification struct {
	Title   string
	Message string
	Type    NotificationType

	// Run details, empty for notifications not tied to a run
	RunID    string
	JobID    string
	Outcome  domain.RunOutcome
	ExitCode int
	Reason   string
}

// Notifier is the interface for sending notifications
type Notifier interface {
	Send(n Notification) error
}

// ForRun builds the notification for a finished run
func ForRun(res domain.RunResult, summary string) Notification {
	n := Notification{
		Message:  summary,
		RunID:    res.RunID,
		JobID:    res.JobID,
		Outcome:  res.Outcome,
		ExitCode: res.ExitCode,
	}
	switch res.Outcome {
	case domain.OutcomeSucceeded:
		n.Type = NotifySuccess
		n.Title = "Court booked"
	case domain.OutcomeCancelled:
		n.Type = NotifyWarning
		n.Title = "Booking cancelled"
	default:
		n.Type = NotifyError
		n.Title = "Booking failed"
		n.Reason = firstLine(res.Detail)
	}
	return n
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// MultiNotifier sends to multiple notifiers
type MultiNotifier struct {
	notifiers []Notifier
}

// NewMultiNotifier creates a notifier that sends to all provided notifiers
func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	return &MultiNotifier{notifiers: notifiers}
}

// Send sends the notification to all notifiers
func (m *MultiNotifier) Send(n Notification) error {
	var lastErr error
	for _, notifier := range m.notifiers {
		if err := notifier.Send(n); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// Len returns the number of wrapped notifiers
func (m *MultiNotifier) Len() int {
	return len(m.notifiers)
}

// FromConfig builds the notifiers enabled in the configuration
func FromConfig(desktop bool, slackWebhook string) Notifier {
	var ns []Notifier
	if desktop {
		ns = append(ns, NewDesktopNotifier(true))
	}
	if slackWebhook != "" {
		ns = append(ns, NewSlackNotifier(slackWebhook))
	}
	if len(ns) == 0 {
		return NoopNotifier{}
	}
	return NewMultiNotifier(ns...)
}

// NoopNotifier does nothing (for testing or disabled notifications)
type NoopNotifier struct{}

func (NoopNotifier) Send(n Notification) error { return nil }
