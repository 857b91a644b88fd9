package domain

// EventType discriminates stream events
type EventType string

const (
	EventLog    EventType = "log"
	EventNotice EventType = "event"
	EventResult EventType = "result"
	EventEnd    EventType = "end"
)

// Output stream names carried on log events
const (
	StreamStdout = "stdout"
	StreamStderr = "stderr"
)

// Event is a single record on a run's live stream
type Event struct {
	Type     EventType  `json:"type"`
	Message  string     `json:"message,omitempty"`
	Stream   string     `json:"stream,omitempty"`
	Success  *bool      `json:"success,omitempty"`
	ExitCode *int       `json:"exitCode,omitempty"`
	Outcome  RunOutcome `json:"outcome,omitempty"`
}

// LogEvent wraps one line of worker output
func LogEvent(stream, line string) Event {
	return Event{Type: EventLog, Stream: stream, Message: line}
}

// NoticeEvent is an orchestrator message about the run's progress
func NoticeEvent(msg string) Event {
	return Event{Type: EventNotice, Message: msg}
}

// ResultEvent builds the terminal result record for a run
func ResultEvent(res RunResult) Event {
	success := res.Success()
	code := res.ExitCode
	return Event{
		Type:     EventResult,
		Message:  res.Detail,
		Success:  &success,
		ExitCode: &code,
		Outcome:  res.Outcome,
	}
}

// EndEvent closes a run's stream
func EndEvent() Event {
	return Event{Type: EventEnd}
}
