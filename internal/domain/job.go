package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hochfrequenz/court-booking-orchestrator/internal/errors"
)

// Account holds the credentials the worker logs in with
type Account struct {
	Email    string `json:"email" yaml:"email"`
	Password string `json:"password,omitempty" yaml:"password"`
}

// Player is a participant named on the booking
type Player struct {
	FirstName string `json:"firstName" yaml:"firstName"`
	LastName  string `json:"lastName" yaml:"lastName"`
}

// Job is a persisted booking intent
type Job struct {
	ID            string    `json:"id" yaml:"id"`
	Status        JobStatus `json:"status" yaml:"status"`
	ScheduledTime string    `json:"scheduledTime,omitempty" yaml:"scheduledTime"`
	Account       *Account  `json:"account,omitempty" yaml:"account"`
	Location      string    `json:"location" yaml:"location"`
	Date          string    `json:"date" yaml:"date"`
	Hour          string    `json:"hour" yaml:"hour"`
	PriceType     string    `json:"priceType" yaml:"priceType"`
	CourtType     string    `json:"courtType" yaml:"courtType"`
	Players       []Player  `json:"players" yaml:"players"`
	DryRun        bool      `json:"dryRun,omitempty" yaml:"dryRun"`
	CreatedAt     time.Time `json:"createdAt" yaml:"-"`
	UpdatedAt     time.Time `json:"updatedAt" yaml:"-"`
}

// Validate checks the fields required to create a job. Missing fields are
// listed in the error detail.
func (j *Job) Validate() error {
	var missing []string
	if strings.TrimSpace(j.Date) == "" {
		missing = append(missing, "date")
	}
	if strings.TrimSpace(j.Hour) == "" {
		missing = append(missing, "hour")
	}
	if strings.TrimSpace(j.Location) == "" {
		missing = append(missing, "location")
	}
	if strings.TrimSpace(j.PriceType) == "" {
		missing = append(missing, "priceType")
	}
	if strings.TrimSpace(j.CourtType) == "" {
		missing = append(missing, "courtType")
	}
	if j.Players == nil {
		missing = append(missing, "players")
	}
	if len(missing) > 0 {
		err := errors.NewValidationError("missing required reservation fields: %s", strings.Join(missing, ", "))
		for _, f := range missing {
			err = errors.WithDetail(err, f)
		}
		return err
	}

	if j.Status != "" && !j.Status.Valid() {
		return errors.NewValidationError("unknown status %q", j.Status)
	}
	if j.ScheduledTime != "" {
		if _, _, err := ParseScheduledTime(j.ScheduledTime); err != nil {
			return err
		}
	}
	return nil
}

// Merge overlays the top-level fields of patch onto a copy of j. The id and
// creation time cannot be changed. Unknown fields are ignored.
func (j Job) Merge(patch map[string]json.RawMessage) (Job, error) {
	base, err := json.Marshal(j)
	if err != nil {
		return Job{}, err
	}
	fields := make(map[string]json.RawMessage)
	if err := json.Unmarshal(base, &fields); err != nil {
		return Job{}, err
	}
	for k, v := range patch {
		switch k {
		case "id", "createdAt", "updatedAt":
			continue
		}
		fields[k] = v
	}
	merged, err := json.Marshal(fields)
	if err != nil {
		return Job{}, err
	}

	var out Job
	if err := json.Unmarshal(merged, &out); err != nil {
		return Job{}, errors.NewValidationError("invalid field value: %v", err)
	}
	out.ID = j.ID
	out.CreatedAt = j.CreatedAt
	return out, nil
}

// Summary is a short human description used in logs and notifications
func (j *Job) Summary() string {
	return fmt.Sprintf("%s %sh @ %s", j.Date, j.Hour, j.Location)
}
