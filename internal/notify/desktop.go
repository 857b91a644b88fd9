package notify

import (
	"fmt"
	"os/exec"
	"runtime"
	"strconv"
)

// DesktopNotifier pops up run outcomes on the machine running the server
type DesktopNotifier struct {
	enabled bool
	run     func(name string, args ...string) error
}

// NewDesktopNotifier creates a desktop notifier
func NewDesktopNotifier(enabled bool) *DesktopNotifier {
	return &DesktopNotifier{
		enabled: enabled,
		run: func(name string, args ...string) error {
			return exec.Command(name, args...).Run()
		},
	}
}

// Send shows the notification. Platforms without a notifier are ignored.
func (d *DesktopNotifier) Send(n Notification) error {
	if !d.enabled {
		return nil
	}
	name, args := desktopCommand(runtime.GOOS, n)
	if name == "" {
		return nil
	}
	return d.run(name, args...)
}

// desktopBody is the booking line plus the failure reason, if any
func desktopBody(n Notification) string {
	if n.Reason == "" {
		return n.Message
	}
	return fmt.Sprintf("%s\n%s", n.Message, n.Reason)
}

func desktopCommand(goos string, n Notification) (string, []string) {
	switch goos {
	case "darwin":
		script := "display notification " + strconv.Quote(desktopBody(n)) +
			" with title " + strconv.Quote(n.Title)
		if n.RunID != "" {
			script += " subtitle " + strconv.Quote("run "+n.RunID)
		}
		return "osascript", []string{"-e", script}
	case "linux":
		urgency := "normal"
		if n.Type == NotifyError {
			urgency = "critical"
		}
		return "notify-send", []string{
			"--app-name", "court-orch",
			"--urgency", urgency,
			"--icon", IconForType(n.Type),
			n.Title, desktopBody(n),
		}
	}
	return "", nil
}

// IconForType returns the freedesktop icon name for a notification type
func IconForType(t NotificationType) string {
	switch t {
	case NotifySuccess:
		return "dialog-positive"
	case NotifyWarning:
		return "dialog-warning"
	case NotifyError:
		return "dialog-error"
	default:
		return "dialog-information"
	}
}
