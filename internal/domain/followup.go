package domain

import (
	"fmt"
	"strings"
	"time"
)

// JobStatus represents the lifecycle state of a followup job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "PENDING"
	JobStatusProcessing JobStatus = "PROCESSING"
	JobStatusCompleted  JobStatus = "COMPLETED"
	JobStatusFailed     JobStatus = "FAILED"
)

func (s JobStatus) String() string { return string(s) }

func (s JobStatus) IsValid() bool {
	switch s {
	case JobStatusPending, JobStatusProcessing, JobStatusCompleted, JobStatusFailed:
		return true
	}
	return false
}

func ParseJobStatusFromString(s string) (JobStatus, error) {
	st := JobStatus(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid job status %q", ErrValidation, s)
	}
	return st, nil
}

// FollowupStage identifies which check-in of the chain a job delivers.
type FollowupStage string

const (
	StageReminder15Min FollowupStage = "FOLLOWUP_15MIN"
	StageReminder2H    FollowupStage = "FOLLOWUP_2H"
	StageReminder24H   FollowupStage = "FOLLOWUP_24H"
)

func (s FollowupStage) String() string { return string(s) }

func (s FollowupStage) IsValid() bool {
	switch s {
	case StageReminder15Min, StageReminder2H, StageReminder24H:
		return true
	}
	return false
}

func ParseFollowupStageFromString(s string) (FollowupStage, error) {
	st := FollowupStage(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid followup stage %q", ErrValidation, s)
	}
	return st, nil
}

// StageDelays are the offsets at which followup jobs are chained after a reminder.
var StageDelays = map[FollowupStage]time.Duration{
	StageReminder15Min: 15 * time.Minute,
	StageReminder2H:    2 * time.Hour,
	StageReminder24H:   24 * time.Hour,
}

const DefaultMaxRetries = 3

// FollowupJob is one scheduled followup attempt. The job id is deterministic per
// followup chain so a later cancel can address the job without a lookup.
type FollowupJob struct {
	ID          string
	FollowupID  string
	PatientID   string
	PhoneNumber string
	Stage       FollowupStage
	ScheduledAt time.Time
	Status      JobStatus
	RetryCount  int
	MaxRetries  int
	Generation  int64
	Error       string
}

func (j *FollowupJob) Validate() error {
	if strings.TrimSpace(j.FollowupID) == "" {
		return fmt.Errorf("%w: followup id is required", ErrValidation)
	}
	if strings.TrimSpace(j.PatientID) == "" {
		return fmt.Errorf("%w: patient id is required", ErrValidation)
	}
	if strings.TrimSpace(j.PhoneNumber) == "" {
		return fmt.Errorf("%w: phone number is required", ErrValidation)
	}
	if !j.Stage.IsValid() {
		return fmt.Errorf("%w: invalid followup stage %q", ErrValidation, j.Stage)
	}
	if j.ScheduledAt.IsZero() {
		return fmt.Errorf("%w: scheduled time is required", ErrValidation)
	}
	if j.MaxRetries < 0 {
		return fmt.Errorf("%w: max retries must be >= 0", ErrValidation)
	}
	return nil
}

// QueueStats is a point-in-time snapshot of queue depth for observability.
type QueueStats struct {
	Pending    int64
	Processing int64
	Completed  int64
	Failed     int64
}
