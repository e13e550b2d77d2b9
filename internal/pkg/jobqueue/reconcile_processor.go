package jobqueue

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2/log"
)

// processWebhookReconcileJob re-runs reconciliation for a webhook event
// whose first pass failed. A returned error triggers the queue's retry
// schedule until the attempt budget runs out.
func (q *Queue) processWebhookReconcileJob(ctx context.Context, job *Job) error {
	payload, err := WebhookReconcileJobPayloadFromMap(job.Payload)
	if err != nil {
		return fmt.Errorf("invalid webhook reconcile payload: %w", err)
	}
	if payload.WebhookEventID == 0 {
		return fmt.Errorf("webhook reconcile payload missing event id")
	}
	if q.reprocessor == nil {
		return fmt.Errorf("no webhook reprocessor configured")
	}

	if err := q.reprocessor.Reprocess(ctx, payload.WebhookEventID); err != nil {
		return fmt.Errorf("reconcile webhook event %d: %w", payload.WebhookEventID, err)
	}
	log.Infof("[JobQueue] Reconciled webhook event %d", payload.WebhookEventID)
	return nil
}

// Enqueuer schedules webhook reconcile retries on the queue. The first
// attempt waits out the initial backoff step rather than running
// immediately after the failed ingest.
type Enqueuer struct {
	queue *Queue
}

// NewEnqueuer returns an Enqueuer bound to the given queue.
func NewEnqueuer(queue *Queue) *Enqueuer {
	return &Enqueuer{queue: queue}
}

// EnqueueWebhookReconcile schedules a retry for the stored webhook event.
func (e *Enqueuer) EnqueueWebhookReconcile(_ context.Context, webhookEventID uint) error {
	payload := WebhookReconcileJobPayload{WebhookEventID: webhookEventID}
	_, err := e.queue.EnqueueJobIn(JobTypeWebhookReconcile, payload.ToMap(), backoffFor(0))
	return err
}
