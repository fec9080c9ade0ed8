package jobqueue

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// JobType defines the type of job
type JobType string

const (
	JobTypeMember        JobType = "member"
	JobTypeDeposit       JobType = "deposit"
	JobTypeWithdraw      JobType = "withdraw"
	JobTypeCompanyBatch  JobType = "company-batch"
	JobTypeMasterTrigger JobType = "master-trigger"
)

// Source tells where a job came from
type Source string

const (
	SourceCron    Source = "cron"
	SourceWebhook Source = "webhook"
	SourceManual  Source = "manual"
)

// JobStatus defines the status of a job
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusRetrying   JobStatus = "retrying"
	JobStatusDead       JobStatus = "dead"
)

const BackoffExponential = "exponential"

// Backoff is the retry policy stored with each job. Delay is in milliseconds.
type Backoff struct {
	Type  string `json:"type"`
	Delay int64  `json:"delay"`
}

// Job represents a queued sync task
type Job struct {
	ID             string                 `json:"id"`
	Type           JobType                `json:"type"`
	CompanyID      string                 `json:"companyId"`
	SyncType       string                 `json:"syncType,omitempty"`
	ExternalUserID string                 `json:"externalUserId,omitempty"`
	Payload        map[string]interface{} `json:"payload,omitempty"`
	Source         Source                 `json:"source"`
	Timestamp      int64                  `json:"timestamp"`

	Status      JobStatus       `json:"status"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"maxAttempts"`
	Backoff     Backoff         `json:"backoff"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
	ProcessedAt *time.Time      `json:"processedAt,omitempty"`
	CompletedAt *time.Time      `json:"completedAt,omitempty"`
	ErrorMsg    string          `json:"errorMsg,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
}

// NewJob creates a pending job with a random id. Callers that need dedup
// overwrite ID with one of the deterministic ids from ids.go.
func NewJob(jobType JobType, companyID string, source Source) *Job {
	now := time.Now()
	return &Job{
		ID:        uuid.New().String(),
		Type:      jobType,
		CompanyID: companyID,
		Source:    source,
		Timestamp: now.UnixMilli(),
		Status:    JobStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// MarkAsProcessing marks the job as processing and counts the attempt
func (j *Job) MarkAsProcessing(now time.Time) {
	j.Status = JobStatusProcessing
	j.Attempts++
	j.ProcessedAt = &now
	j.UpdatedAt = now
}

// MarkAsCompleted marks the job as completed and stores the handler result
func (j *Job) MarkAsCompleted(now time.Time, result json.RawMessage) {
	j.Status = JobStatusCompleted
	j.CompletedAt = &now
	j.UpdatedAt = now
	j.ErrorMsg = ""
	j.Result = result
}

// MarkAsRetrying records the failure and marks the job for a delayed retry
func (j *Job) MarkAsRetrying(now time.Time, errorMsg string) {
	j.Status = JobStatusRetrying
	j.ErrorMsg = errorMsg
	j.UpdatedAt = now
}

// MarkAsDead records the failure and moves the job into the dead letter state
func (j *Job) MarkAsDead(now time.Time, errorMsg string) {
	j.Status = JobStatusDead
	j.ErrorMsg = errorMsg
	j.UpdatedAt = now
}

// IsRetryable checks if the job has attempts left
func (j *Job) IsRetryable() bool {
	return j.Attempts < j.MaxAttempts
}

// RetryDelay returns the exponential backoff for the attempt that just failed:
// delay * 2^(attempts-1).
func (j *Job) RetryDelay() time.Duration {
	base := time.Duration(j.Backoff.Delay) * time.Millisecond
	if base <= 0 {
		base = DefaultBackoffDelay
	}
	n := j.Attempts - 1
	if n < 0 {
		n = 0
	}
	if n > 20 {
		n = 20
	}
	return base << uint(n)
}

// PayloadString returns a string field of the payload or "".
func (j *Job) PayloadString(key string) string {
	if j.Payload == nil {
		return ""
	}
	if s, ok := j.Payload[key].(string); ok {
		return s
	}
	return ""
}
