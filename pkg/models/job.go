package models

import (
	"fmt"
	"time"
)

// Platform identifies a supported social network
type Platform string

const (
	PlatformTwitter  Platform = "twitter"
	PlatformLinkedIn Platform = "linkedin"
	PlatformThreads  Platform = "threads"
)

// Valid reports whether the platform is one of the supported networks
func (p Platform) Valid() bool {
	switch p {
	case PlatformTwitter, PlatformLinkedIn, PlatformThreads:
		return true
	}
	return false
}

// Action is the automation intent carried by a job
type Action string

const (
	ActionPost    Action = "post"
	ActionReply   Action = "reply"
	ActionComment Action = "comment"
)

// Valid reports whether the action is recognized
func (a Action) Valid() bool {
	switch a {
	case ActionPost, ActionReply, ActionComment:
		return true
	}
	return false
}

// JobStatus represents the lifecycle state of a job
type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
	StatusCancelled  JobStatus = "cancelled"
)

// Terminal reports whether the status is a terminal state
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// JobError is the structured failure recorded on a failed job
type JobError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Job is a single publication attempt. Retries mint a new job with a fresh ID;
// a job ID is never reused after its waiter has timed out.
type Job struct {
	ID            string        `json:"id"`
	Platform      Platform      `json:"platform"`
	Action        Action        `json:"action"`
	Content       string        `json:"content"`
	TargetURL     string        `json:"targetUrl,omitempty"`
	AccountID     string        `json:"accountId"`
	Status        JobStatus     `json:"status"`
	PostURL       string        `json:"postUrl,omitempty"`
	Error         *JobError     `json:"error,omitempty"`
	ScheduledAt   *time.Time    `json:"scheduledAt,omitempty"`
	CreatedAt     time.Time     `json:"createdAt"`
	CompletedAt   *time.Time    `json:"completedAt,omitempty"`
	ExecutionTime time.Duration `json:"executionTime,omitempty"`
}

// CreateJobRequest is the payload for creating a new job
type CreateJobRequest struct {
	Platform    Platform   `json:"platform"`
	Action      Action     `json:"action"`
	Content     string     `json:"content"`
	TargetURL   string     `json:"targetUrl,omitempty"`
	AccountID   string     `json:"accountId"`
	Persona     string     `json:"persona,omitempty"`
	ScheduledAt *time.Time `json:"scheduledAt,omitempty"`
}

// Validate checks the request before a job record is created. Replies and
// comments are meaningless without a target post.
func (r CreateJobRequest) Validate() error {
	if !r.Platform.Valid() {
		return fmt.Errorf("unsupported platform %q", r.Platform)
	}
	if !r.Action.Valid() {
		return fmt.Errorf("unsupported action %q", r.Action)
	}
	if r.AccountID == "" {
		return fmt.Errorf("accountId is required")
	}
	if (r.Action == ActionReply || r.Action == ActionComment) && r.TargetURL == "" {
		return fmt.Errorf("targetUrl is required for action %q", r.Action)
	}
	return nil
}

// JobStats summarizes operational counters over the job store
type JobStats struct {
	Pending      int `json:"pending"`
	Processing   int `json:"processing"`
	TotalToday   int `json:"totalToday"`
	SuccessToday int `json:"successToday"`
	FailedToday  int `json:"failedToday"`
}
