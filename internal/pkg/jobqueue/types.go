package jobqueue

import (
	"encoding/json"
	"time"
)

// JobType defines the type of job
type JobType string

const (
	JobTypeWebhookProcess JobType = "webhook_process"
)

// JobStatus defines the status of a job
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusRetrying   JobStatus = "retrying"
	JobStatusDead       JobStatus = "dead"
)

// Job represents a background job
type Job struct {
	ID          string                 `json:"id"`
	Type        JobType                `json:"type"`
	Status      JobStatus              `json:"status"`
	Payload     map[string]interface{} `json:"payload"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
	ProcessedAt *time.Time             `json:"processed_at,omitempty"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
	ErrorMsg    string                 `json:"error_msg,omitempty"`
	RetryCount  int                    `json:"retry_count"`
	MaxRetries  int                    `json:"max_retries"`
}

// WebhookProcessJobPayload contains the payload for webhook processing jobs.
// Only the ledger row id travels through Redis; the payload itself stays in
// the database so a replayed job always sees the stored notification.
type WebhookProcessJobPayload struct {
	WebhookRecordID uint   `json:"webhook_record_id"`
	GatewayOrderID  string `json:"gateway_order_id"`
}

// ToMap converts the payload to a map for storage
func (p WebhookProcessJobPayload) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"webhook_record_id": p.WebhookRecordID,
		"gateway_order_id":  p.GatewayOrderID,
	}
}

// WebhookProcessJobPayloadFromMap creates a payload from a map
func WebhookProcessJobPayloadFromMap(data map[string]interface{}) (*WebhookProcessJobPayload, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	var payload WebhookProcessJobPayload
	err = json.Unmarshal(jsonData, &payload)
	return &payload, err
}

// IsRetryable checks if the job can be retried
func (j *Job) IsRetryable() bool {
	return j.Status == JobStatusFailed && j.RetryCount < j.MaxRetries
}

// RetryDelay returns the backoff before the next attempt: 30s doubling per
// retry, capped at 10 minutes.
func (j *Job) RetryDelay() time.Duration {
	if j.RetryCount <= 1 {
		return RetryBaseDelay
	}
	delay := RetryBaseDelay << (j.RetryCount - 1)
	if delay > RetryMaxDelay || delay <= 0 {
		delay = RetryMaxDelay
	}
	return delay
}

// MarkAsProcessing updates the job status to processing
func (j *Job) MarkAsProcessing() {
	now := time.Now()
	j.Status = JobStatusProcessing
	j.UpdatedAt = now
	j.ProcessedAt = &now
}

// MarkAsCompleted updates the job status to completed
func (j *Job) MarkAsCompleted() {
	now := time.Now()
	j.Status = JobStatusCompleted
	j.UpdatedAt = now
	j.CompletedAt = &now
	j.ErrorMsg = ""
}

// MarkAsFailed updates the job status to failed
func (j *Job) MarkAsFailed(errorMsg string) {
	j.Status = JobStatusFailed
	j.UpdatedAt = time.Now()
	j.ErrorMsg = errorMsg
	j.RetryCount++
}

// MarkAsRetrying updates the job status to retrying
func (j *Job) MarkAsRetrying() {
	j.Status = JobStatusRetrying
	j.UpdatedAt = time.Now()
}

// MarkAsDead updates the job status to dead (retries exhausted)
func (j *Job) MarkAsDead() {
	j.Status = JobStatusDead
	j.UpdatedAt = time.Now()
}
