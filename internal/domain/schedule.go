package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/hochfrequenz/court-booking-orchestrator/internal/errors"
)

var scheduleParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ParseScheduledTime parses an "HH:MM" time of day
func ParseScheduledTime(s string) (hour, minute int, err error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || len(hh) != 2 || len(mm) != 2 {
		return 0, 0, errors.NewValidationError("scheduledTime %q: expected HH:MM", s)
	}
	hour, err = strconv.Atoi(hh)
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, errors.NewValidationError("scheduledTime %q: hour out of range", s)
	}
	minute, err = strconv.Atoi(mm)
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, errors.NewValidationError("scheduledTime %q: minute out of range", s)
	}
	return hour, minute, nil
}

// DailySchedule compiles an "HH:MM" time of day into a cron schedule that
// fires once a day at that minute.
func DailySchedule(s string) (cron.Schedule, error) {
	hour, minute, err := ParseScheduledTime(s)
	if err != nil {
		return nil, err
	}
	return scheduleParser.Parse(fmt.Sprintf("%d %d * * *", minute, hour))
}

// DueAt reports whether a pending job is scheduled for the wall-clock
// minute of now.
func (j *Job) DueAt(now time.Time) bool {
	if j.Status != StatusPending || j.ScheduledTime == "" {
		return false
	}
	return j.ScheduledTime == now.Format("15:04")
}

// NextRun returns the next time the ticker would trigger the job after the
// given instant. ok is false for jobs without a schedule or no longer pending.
func (j *Job) NextRun(after time.Time) (next time.Time, ok bool) {
	if j.Status != StatusPending || j.ScheduledTime == "" {
		return time.Time{}, false
	}
	sched, err := DailySchedule(j.ScheduledTime)
	if err != nil {
		return time.Time{}, false
	}
	return sched.Next(after), true
}
