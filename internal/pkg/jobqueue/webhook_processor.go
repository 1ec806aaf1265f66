package jobqueue

import (
	"context"
	"fmt"
	"sync"

	"github.com/gofiber/fiber/v2/log"
)

// WebhookProcessor drives the payment state machine for one claimed webhook
// ledger record. The payments service registers itself here at startup; the
// indirection keeps this package free of a dependency on the payment domain.
type WebhookProcessor interface {
	ProcessWebhook(ctx context.Context, recordID uint) error
}

var (
	webhookProcessor   WebhookProcessor
	webhookProcessorMu sync.RWMutex
)

// SetWebhookProcessor registers the processor used by webhook_process jobs.
func SetWebhookProcessor(p WebhookProcessor) {
	webhookProcessorMu.Lock()
	defer webhookProcessorMu.Unlock()
	webhookProcessor = p
}

func getWebhookProcessor() WebhookProcessor {
	webhookProcessorMu.RLock()
	defer webhookProcessorMu.RUnlock()
	return webhookProcessor
}

// processWebhookJob handles a webhook_process job. Any returned error sends
// the job through the retry/backoff path.
func (q *Queue) processWebhookJob(ctx context.Context, job *Job) error {
	payload, err := WebhookProcessJobPayloadFromMap(job.Payload)
	if err != nil {
		return fmt.Errorf("invalid webhook job payload: %w", err)
	}
	if payload.WebhookRecordID == 0 {
		return fmt.Errorf("webhook job %s has no record id", job.ID)
	}

	processor := getWebhookProcessor()
	if processor == nil {
		return fmt.Errorf("no webhook processor registered")
	}

	log.Debugf("[JobQueue] Processing webhook record %d (gateway order %s)",
		payload.WebhookRecordID, payload.GatewayOrderID)
	return processor.ProcessWebhook(ctx, payload.WebhookRecordID)
}

// EnqueueWebhookProcess is the convenience wrapper used by the webhook
// controller after a successful idempotency claim.
func (q *Queue) EnqueueWebhookProcess(recordID uint, gatewayOrderID string) (*Job, error) {
	payload := WebhookProcessJobPayload{
		WebhookRecordID: recordID,
		GatewayOrderID:  gatewayOrderID,
	}
	return q.EnqueueJob(JobTypeWebhookProcess, payload.ToMap())
}
