package billing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"

	"github.com/LensVaultHQ/LensVault/app/models"
	"github.com/LensVaultHQ/LensVault/internal/pkg/payments"
)

// RetryEnqueuer schedules another reconciliation attempt for a stored
// webhook event after a synchronous attempt failed.
type RetryEnqueuer interface {
	EnqueueWebhookReconcile(ctx context.Context, webhookEventID uint) error
}

// Ingestor is the webhook front door: it authenticates deliveries,
// records them for audit, collapses redeliveries and hands fresh events
// to the reconciler. Per delivery: received, then rejected on a failed
// signature, then processed or error after reconciliation.
type Ingestor struct {
	registry   *payments.Registry
	reconciler *Service
	repo       Repository
	retry      RetryEnqueuer
}

// IngestResult tells the transport layer what to answer. The provider is
// always given a 2xx once the delivery authenticates, even when
// reconciliation is deferred to retry.
type IngestResult struct {
	StatusCode int
	Duplicate  bool
	EventID    uint
}

func NewIngestor(registry *payments.Registry, reconciler *Service, repo Repository, retry RetryEnqueuer) *Ingestor {
	return &Ingestor{
		registry:   registry,
		reconciler: reconciler,
		repo:       repo,
		retry:      retry,
	}
}

// Ingest processes one raw webhook delivery for the named provider.
func (in *Ingestor) Ingest(ctx context.Context, provider string, body []byte, headers payments.Headers) (*IngestResult, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	adapter, ok := in.registry.Get(provider)
	if !ok {
		return &IngestResult{StatusCode: http.StatusNotFound},
			&NotFoundError{Code: CodeUnknownProvider, Message: fmt.Sprintf("unknown provider %q", provider)}
	}

	if !adapter.VerifyWebhookSignature(ctx, body, headers) {
		in.audit(provider, "", models.WebhookStatusRejected, http.StatusUnauthorized, "signature verification failed", body)
		return &IngestResult{StatusCode: http.StatusUnauthorized}, nil
	}

	parser, ok := in.registry.GetWebhookParser(provider)
	if !ok {
		in.audit(provider, "", models.WebhookStatusError, http.StatusOK, "provider has no webhook parser", body)
		return &IngestResult{StatusCode: http.StatusOK}, nil
	}
	ev, err := parser.ParseWebhookEvent(body, headers)
	if err != nil {
		// Authenticated but unparseable: record it and ack so the
		// provider stops redelivering a payload we can never use.
		in.audit(provider, "", models.WebhookStatusError, http.StatusOK, err.Error(), body)
		return &IngestResult{StatusCode: http.StatusOK}, nil
	}

	eventID := strings.TrimSpace(ev.EventID)
	if eventID == "" {
		eventID = "hash:" + sha256Sum(body)
	}

	created, stored, err := in.repo.CreateWebhookEventIfNotExists(&models.WebhookEvent{
		Provider:        provider,
		ProviderEventID: eventID,
		EventType:       ev.EventType,
		Status:          models.WebhookStatusReceived,
		PayloadJSON:     string(body),
	})
	if err != nil {
		return &IngestResult{StatusCode: http.StatusInternalServerError}, fmt.Errorf("record webhook event: %w", err)
	}

	if !created {
		// At-least-once redelivery. The first delivery owns the business
		// effect: it is processed already, still reconciling, or parked for
		// the retry worker. Keep the audit trail but touch no business
		// state. The surrogate id keeps the original row intact under the
		// unique index.
		in.audit(provider, "dup:"+uuid.NewString()+":"+eventID, models.WebhookStatusReceived, http.StatusOK, "", body)
		return &IngestResult{StatusCode: http.StatusOK, Duplicate: true, EventID: stored.ID}, nil
	}

	if err := in.repo.IncrementWebhookAttempts(stored.ID); err != nil {
		log.Warnf("[Billing] attempt counter for webhook %d: %v", stored.ID, err)
	}

	if err := in.reconciler.HandleEvent(ctx, ev); err != nil {
		if markErr := in.repo.MarkWebhookStatus(stored.ID, models.WebhookStatusError, http.StatusOK, err.Error()); markErr != nil {
			log.Errorf("[Billing] mark webhook %d error: %v", stored.ID, markErr)
		}
		if in.retry != nil {
			if enqErr := in.retry.EnqueueWebhookReconcile(ctx, stored.ID); enqErr != nil {
				log.Errorf("[Billing] enqueue retry for webhook %d: %v", stored.ID, enqErr)
			}
		}
		log.Warnf("[Billing] webhook %d (%s %s) deferred to retry: %v", stored.ID, provider, ev.EventType, err)
		return &IngestResult{StatusCode: http.StatusOK, EventID: stored.ID}, nil
	}

	if err := in.repo.MarkWebhookStatus(stored.ID, models.WebhookStatusProcessed, http.StatusOK, ""); err != nil {
		return &IngestResult{StatusCode: http.StatusOK, EventID: stored.ID}, fmt.Errorf("mark webhook processed: %w", err)
	}
	return &IngestResult{StatusCode: http.StatusOK, EventID: stored.ID}, nil
}

// Reprocess re-runs reconciliation for a stored webhook event; the retry
// worker calls this on each scheduled attempt.
func (in *Ingestor) Reprocess(ctx context.Context, webhookEventID uint) error {
	stored, err := in.repo.GetWebhookEvent(webhookEventID)
	if err != nil {
		return fmt.Errorf("load webhook event %d: %w", webhookEventID, err)
	}
	if stored.Status == models.WebhookStatusProcessed {
		return nil
	}

	parser, ok := in.registry.GetWebhookParser(stored.Provider)
	if !ok {
		return fmt.Errorf("provider %q has no webhook parser", stored.Provider)
	}
	ev, err := parser.ParseWebhookEvent([]byte(stored.PayloadJSON), nil)
	if err != nil {
		return fmt.Errorf("reparse webhook event %d: %w", webhookEventID, err)
	}

	if err := in.repo.IncrementWebhookAttempts(stored.ID); err != nil {
		log.Warnf("[Billing] attempt counter for webhook %d: %v", stored.ID, err)
	}
	if err := in.reconciler.HandleEvent(ctx, ev); err != nil {
		if markErr := in.repo.MarkWebhookStatus(stored.ID, models.WebhookStatusError, http.StatusOK, err.Error()); markErr != nil {
			log.Errorf("[Billing] mark webhook %d error: %v", stored.ID, markErr)
		}
		return err
	}
	return in.repo.MarkWebhookStatus(stored.ID, models.WebhookStatusProcessed, http.StatusOK, "")
}

func (in *Ingestor) audit(provider, eventID, status string, code int, message string, body []byte) {
	if eventID == "" {
		eventID = "hash:" + sha256Sum(body)
	}
	_, _, err := in.repo.CreateWebhookEventIfNotExists(&models.WebhookEvent{
		Provider:        provider,
		ProviderEventID: eventID,
		Status:          status,
		ResponseCode:    code,
		ErrorMessage:    truncate(message, 500),
		PayloadJSON:     string(body),
	})
	if err != nil {
		log.Errorf("[Billing] audit row for %s webhook: %v", provider, err)
	}
}

func sha256Sum(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}
