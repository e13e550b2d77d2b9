package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/LensVaultHQ/LensVault/app/models"
	"github.com/LensVaultHQ/LensVault/internal/pkg/payments"
)

// DowngradeService runs the consent-gated downgrade workflow: paying
// users cannot instantly self-cancel, they request a downgrade and
// confirm it with a single-use token within seven days.
type DowngradeService struct {
	repo       Repository
	registry   *payments.Registry
	reconciler *Service
	admin      AdminNotifier
}

func NewDowngradeService(repo Repository, registry *payments.Registry, reconciler *Service, admin AdminNotifier) *DowngradeService {
	return &DowngradeService{
		repo:       repo,
		registry:   registry,
		reconciler: reconciler,
		admin:      admin,
	}
}

// InstantCancel always refuses for users with an active paid
// subscription, pointing the caller at the downgrade workflow.
func (d *DowngradeService) InstantCancel(ctx context.Context, userID uint) error {
	_ = ctx
	sub, err := d.activeSubscription(userID)
	if err != nil {
		return err
	}
	if sub != nil {
		return ErrDowngradeViaRequest
	}
	return ErrNoActiveSubscription
}

// RequestDowngrade opens (or replaces) the user's pending downgrade
// request. A prior pending request is transitioned to canceled and its
// token becomes permanently invalid.
func (d *DowngradeService) RequestDowngrade(ctx context.Context, userID uint) (*models.DowngradeRequest, error) {
	sub, err := d.activeSubscription(userID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, ErrNoActiveSubscription
	}

	if prior, err := d.repo.GetPendingDowngradeByUser(userID); err == nil {
		prior.Status = models.DowngradeStatusCanceled
		if err := d.repo.SaveDowngradeRequest(prior); err != nil {
			return nil, fmt.Errorf("supersede downgrade request %d: %w", prior.ID, err)
		}
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	req := &models.DowngradeRequest{
		UserID:      userID,
		CurrentTier: sub.Tier,
		TargetTier:  models.TierStarter,
		Status:      models.DowngradeStatusPending,
	}
	if err := req.GenerateConfirmToken(); err != nil {
		return nil, fmt.Errorf("generate confirm token: %w", err)
	}
	if err := d.repo.CreateDowngradeRequest(req); err != nil {
		return nil, fmt.Errorf("create downgrade request: %w", err)
	}

	if d.admin != nil {
		subject := fmt.Sprintf("Downgrade requested by user %d", userID)
		message := fmt.Sprintf("User %d (%s, %s) requested a downgrade to %s. Request #%d expires %s.",
			userID, sub.Tier, sub.Provider, req.TargetTier, req.ID,
			req.ConfirmTokenExpiresAt.Format(time.RFC3339))
		if err := d.admin.NotifyAdmin(ctx, subject, message); err != nil {
			log.Warnf("[Billing] admin notice for downgrade request %d failed: %v", req.ID, err)
		}
	}
	return req, nil
}

// ConfirmDowngrade redeems a confirmation token: cancels the provider
// subscription, moves the user back to starter and completes the
// request. Redeeming an already-completed token is a no-op success, so
// confirm is safe to retry and double-submission cannot cancel twice.
func (d *DowngradeService) ConfirmDowngrade(ctx context.Context, token string) (*models.DowngradeRequest, error) {
	if token == "" {
		return nil, ErrTokenNotFound
	}
	req, err := d.repo.GetDowngradeByToken(token)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTokenNotFound
		}
		return nil, err
	}

	// The completed check doubles as the double-submission guard.
	if req.Status == models.DowngradeStatusCompleted {
		return req, nil
	}
	if req.IsTokenExpired() {
		return nil, ErrTokenExpired
	}

	sub, err := d.activeSubscription(req.UserID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, ErrNoActiveSubscription
	}

	if err := d.cancelAtProvider(ctx, sub); err != nil {
		return nil, err
	}

	fromTier := sub.Tier
	sub.Status = models.SubscriptionStatusCanceled
	if err := d.repo.SaveSubscription(sub); err != nil {
		return nil, fmt.Errorf("save subscription: %w", err)
	}

	user, err := d.repo.GetUser(req.UserID)
	if err != nil {
		return nil, fmt.Errorf("load user %d: %w", req.UserID, err)
	}
	user.Tier = models.TierStarter
	if err := d.repo.SaveUser(user); err != nil {
		return nil, fmt.Errorf("save user %d: %w", req.UserID, err)
	}

	if err := d.repo.AppendHistory(&models.SubscriptionHistory{
		UserID:           req.UserID,
		Provider:         sub.Provider,
		EventType:        models.HistoryEventDowngraded,
		FromTier:         fromTier,
		ToTier:           models.TierStarter,
		PaymentReference: sub.ProviderSubscriptionID,
	}); err != nil {
		return nil, fmt.Errorf("append history: %w", err)
	}

	now := time.Now()
	req.Status = models.DowngradeStatusCompleted
	req.CompletedAt = &now
	if err := d.repo.SaveDowngradeRequest(req); err != nil {
		return nil, fmt.Errorf("complete downgrade request %d: %w", req.ID, err)
	}

	if d.reconciler != nil {
		d.reconciler.recomputeEntitlements(ctx, req.UserID)
		d.reconciler.notify(ctx, req.UserID, NotifyDowngraded, models.TierStarter, sub.BillingCycle, nil)
	}
	return req, nil
}

// ExpireStaleRequests cancels every pending downgrade request whose
// confirmation token has lapsed; their tokens then behave as unknown.
// The queue manager runs this periodically as a maintenance task.
func (d *DowngradeService) ExpireStaleRequests(ctx context.Context) (int64, error) {
	_ = ctx
	n, err := d.repo.ExpirePendingDowngrades(time.Now())
	if err != nil {
		return 0, fmt.Errorf("expire downgrade requests: %w", err)
	}
	if n > 0 {
		log.Infof("[Billing] expired %d stale downgrade requests", n)
	}
	return n, nil
}

func (d *DowngradeService) cancelAtProvider(ctx context.Context, sub *models.Subscription) error {
	sp, ok := d.registry.GetSubscriptionProvider(sub.Provider)
	if !ok {
		return fmt.Errorf("provider %q cannot cancel subscriptions", sub.Provider)
	}
	result, err := sp.CancelSubscription(ctx, sub.ProviderSubscriptionID)
	if err != nil {
		return fmt.Errorf("cancel at %s: %w", sub.Provider, err)
	}
	if result != nil && result.Status == payments.StatusFailed {
		return fmt.Errorf("cancel at %s rejected: %s", sub.Provider, result.ErrorMessage)
	}
	return nil
}

func (d *DowngradeService) activeSubscription(userID uint) (*models.Subscription, error) {
	sub, err := d.repo.GetActiveSubscriptionByUser(userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return sub, nil
}
