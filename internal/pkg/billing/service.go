package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/LensVaultHQ/LensVault/app/models"
	"github.com/LensVaultHQ/LensVault/internal/pkg/entitlements"
	"github.com/LensVaultHQ/LensVault/internal/pkg/payments"
)

// Service reconciles normalized provider events into local subscription
// state, the user's tier, the history ledger and the entitlement
// collaborators.
type Service struct {
	repo     Repository
	notifier Notifier
	quota    QuotaUpdater

	locks *keyedMutex
}

// NewService creates a reconciler. Notifier and quota may be nil; the
// corresponding side effects are then skipped.
func NewService(repo Repository, notifier Notifier, quota QuotaUpdater) *Service {
	return &Service{
		repo:     repo,
		notifier: notifier,
		quota:    quota,
		locks:    newKeyedMutex(),
	}
}

// NewServiceFromDB creates a reconciler from a GORM DB handle.
func NewServiceFromDB(db *gorm.DB, notifier Notifier, quota QuotaUpdater) *Service {
	return NewService(NewRepository(db), notifier, quota)
}

// HandleEvent applies one normalized webhook event. Transitions for the
// same (provider, subscription) are serialized with a keyed mutex;
// callers guarantee dedupe of identical deliveries upstream.
func (s *Service) HandleEvent(ctx context.Context, ev *payments.Event) error {
	if ev == nil {
		return errors.New("nil event")
	}
	if ev.Kind == payments.EventIgnored || ev.Kind == "" {
		return nil
	}
	if strings.TrimSpace(ev.SubscriptionID) == "" {
		return fmt.Errorf("%s event %s carries no subscription id", ev.Provider, ev.EventType)
	}

	key := ev.Provider + ":" + ev.SubscriptionID
	s.locks.Lock(key)
	defer s.locks.Unlock(key)

	switch ev.Kind {
	case payments.EventCheckoutCompleted:
		return s.applyCompleted(ctx, ev)
	case payments.EventRenewed:
		return s.applyRenewed(ctx, ev)
	case payments.EventSubscriptionUpdated:
		return s.applyUpdated(ctx, ev)
	case payments.EventCanceled:
		return s.applyCanceled(ctx, ev)
	case payments.EventPaymentFailed:
		return s.applyPaymentFailed(ctx, ev)
	default:
		return nil
	}
}

func (s *Service) applyCompleted(ctx context.Context, ev *payments.Event) error {
	existing, err := s.findSubscription(ev)
	if err != nil {
		return err
	}

	// A completed checkout for an already-known subscription with the same
	// tier is a renewal arriving through the checkout channel (some
	// gateways report both through one event type).
	if existing != nil && (ev.Tier == "" || ev.Tier == existing.Tier) {
		return s.applyRenewed(ctx, ev)
	}

	// Some gateways mint a fresh transaction reference for every plan
	// charge, so a renewal arrives with an unseen subscription id. Match
	// it against the customer's live subscription on the same plan before
	// treating it as a first checkout.
	if existing == nil && ev.CustomerID != "" && ev.PlanRef != "" {
		if prior, err := s.repo.GetSubscriptionByCustomerPlan(ev.Provider, ev.CustomerID, ev.PlanRef); err == nil && prior != nil {
			renewal := *ev
			renewal.SubscriptionID = prior.ProviderSubscriptionID
			return s.applyRenewed(ctx, &renewal)
		} else if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
	}

	userID := s.attributeUser(ev, existing)
	if userID == 0 {
		return fmt.Errorf("%s event %s cannot be attributed to a user", ev.Provider, ev.EventType)
	}
	user, err := s.repo.GetUser(userID)
	if err != nil {
		return fmt.Errorf("load user %d: %w", userID, err)
	}
	fromTier := user.Tier

	tier := ev.Tier
	if tier == "" && existing != nil {
		tier = existing.Tier
	}
	if !models.ValidTier(tier) {
		return fmt.Errorf("%s event %s carries unknown tier %q", ev.Provider, ev.EventType, tier)
	}

	sub := &models.Subscription{
		UserID:                 userID,
		Provider:               ev.Provider,
		ProviderSubscriptionID: ev.SubscriptionID,
		ProviderCustomerID:     ev.CustomerID,
		ProviderPlanRef:        ev.PlanRef,
		Tier:                   tier,
		BillingCycle:           normalizeCycle(ev.BillingCycle),
		Status:                 models.SubscriptionStatusActive,
		Amount:                 ev.Amount,
		Currency:               ev.Currency,
		CurrentPeriodStart:     ev.CurrentPeriodStart,
		CurrentPeriodEnd:       ev.CurrentPeriodEnd,
	}
	if err := s.repo.UpsertSubscription(sub); err != nil {
		return fmt.Errorf("upsert subscription: %w", err)
	}

	eventType := models.HistoryEventCreated
	if existing != nil {
		eventType = models.HistoryEventUpgraded
	}
	if err := s.repo.AppendHistory(&models.SubscriptionHistory{
		UserID:           userID,
		Provider:         ev.Provider,
		EventType:        eventType,
		FromTier:         fromTier,
		ToTier:           tier,
		PaymentReference: ev.TransactionRef,
	}); err != nil {
		return fmt.Errorf("append history: %w", err)
	}

	user.Tier = tier
	if ev.CustomerID != "" {
		user.SetProviderCustomerID(ev.Provider, ev.CustomerID)
	}
	if err := s.repo.SaveUser(user); err != nil {
		return fmt.Errorf("save user %d: %w", userID, err)
	}

	s.recomputeEntitlements(ctx, userID)
	s.notify(ctx, userID, NotifyActivated, tier, sub.BillingCycle, ev.CurrentPeriodEnd)
	return nil
}

func (s *Service) applyRenewed(ctx context.Context, ev *payments.Event) error {
	sub, err := s.findSubscription(ev)
	if err != nil {
		return err
	}
	if sub == nil {
		// The renewal can overtake the checkout event; retry lets the
		// checkout land first.
		return fmt.Errorf("renewal for unknown %s subscription %s", ev.Provider, ev.SubscriptionID)
	}

	if ev.CurrentPeriodStart != nil {
		sub.CurrentPeriodStart = ev.CurrentPeriodStart
	}
	if ev.CurrentPeriodEnd != nil {
		sub.CurrentPeriodEnd = ev.CurrentPeriodEnd
	}
	if ev.Amount > 0 {
		sub.Amount = ev.Amount
	}
	sub.Status = models.SubscriptionStatusActive
	if err := s.repo.SaveSubscription(sub); err != nil {
		return fmt.Errorf("save subscription: %w", err)
	}

	if err := s.repo.AppendHistory(&models.SubscriptionHistory{
		UserID:           sub.UserID,
		Provider:         ev.Provider,
		EventType:        models.HistoryEventRenewed,
		FromTier:         sub.Tier,
		ToTier:           sub.Tier,
		PaymentReference: ev.TransactionRef,
	}); err != nil {
		return fmt.Errorf("append history: %w", err)
	}

	s.notify(ctx, sub.UserID, NotifyRenewed, sub.Tier, sub.BillingCycle, sub.CurrentPeriodEnd)
	return nil
}

func (s *Service) applyUpdated(ctx context.Context, ev *payments.Event) error {
	sub, err := s.findSubscription(ev)
	if err != nil {
		return err
	}
	if sub == nil {
		return fmt.Errorf("update for unknown %s subscription %s", ev.Provider, ev.SubscriptionID)
	}

	fromTier := sub.Tier
	if ev.Tier != "" && models.ValidTier(ev.Tier) {
		sub.Tier = ev.Tier
	}
	if ev.BillingCycle != "" {
		sub.BillingCycle = normalizeCycle(ev.BillingCycle)
	}
	if ev.PlanRef != "" {
		sub.ProviderPlanRef = ev.PlanRef
	}
	if ev.CurrentPeriodStart != nil {
		sub.CurrentPeriodStart = ev.CurrentPeriodStart
	}
	if ev.CurrentPeriodEnd != nil {
		sub.CurrentPeriodEnd = ev.CurrentPeriodEnd
	}
	if err := s.repo.SaveSubscription(sub); err != nil {
		return fmt.Errorf("save subscription: %w", err)
	}

	if sub.Tier != fromTier {
		eventType := models.HistoryEventUpgraded
		if tierRank(sub.Tier) < tierRank(fromTier) {
			eventType = models.HistoryEventDowngraded
		}
		if err := s.repo.AppendHistory(&models.SubscriptionHistory{
			UserID:           sub.UserID,
			Provider:         ev.Provider,
			EventType:        eventType,
			FromTier:         fromTier,
			ToTier:           sub.Tier,
			PaymentReference: ev.TransactionRef,
		}); err != nil {
			return fmt.Errorf("append history: %w", err)
		}

		user, err := s.repo.GetUser(sub.UserID)
		if err != nil {
			return fmt.Errorf("load user %d: %w", sub.UserID, err)
		}
		user.Tier = sub.Tier
		if err := s.repo.SaveUser(user); err != nil {
			return fmt.Errorf("save user %d: %w", sub.UserID, err)
		}
		s.recomputeEntitlements(ctx, sub.UserID)
	}

	s.notify(ctx, sub.UserID, NotifyUpdated, sub.Tier, sub.BillingCycle, sub.CurrentPeriodEnd)
	return nil
}

func (s *Service) applyCanceled(ctx context.Context, ev *payments.Event) error {
	sub, err := s.findSubscription(ev)
	if err != nil {
		return err
	}
	if sub == nil {
		return fmt.Errorf("cancellation for unknown %s subscription %s", ev.Provider, ev.SubscriptionID)
	}

	fromTier := sub.Tier
	sub.Status = models.SubscriptionStatusCanceled
	if err := s.repo.SaveSubscription(sub); err != nil {
		return fmt.Errorf("save subscription: %w", err)
	}

	user, err := s.repo.GetUser(sub.UserID)
	if err != nil {
		return fmt.Errorf("load user %d: %w", sub.UserID, err)
	}
	user.Tier = models.TierStarter
	if err := s.repo.SaveUser(user); err != nil {
		return fmt.Errorf("save user %d: %w", sub.UserID, err)
	}

	if err := s.repo.AppendHistory(&models.SubscriptionHistory{
		UserID:           sub.UserID,
		Provider:         ev.Provider,
		EventType:        models.HistoryEventCanceled,
		FromTier:         fromTier,
		ToTier:           models.TierStarter,
		PaymentReference: ev.TransactionRef,
	}); err != nil {
		return fmt.Errorf("append history: %w", err)
	}

	s.recomputeEntitlements(ctx, sub.UserID)
	s.notify(ctx, sub.UserID, NotifyCanceled, models.TierStarter, sub.BillingCycle, nil)
	return nil
}

func (s *Service) applyPaymentFailed(ctx context.Context, ev *payments.Event) error {
	sub, err := s.findSubscription(ev)
	if err != nil {
		return err
	}
	if sub == nil {
		return fmt.Errorf("payment failure for unknown %s subscription %s", ev.Provider, ev.SubscriptionID)
	}

	// No tier change; the provider's own dunning decides what happens
	// next. The grace status keeps the user entitled meanwhile.
	sub.Status = models.SubscriptionStatusPastDue
	if err := s.repo.SaveSubscription(sub); err != nil {
		return fmt.Errorf("save subscription: %w", err)
	}

	if err := s.repo.AppendHistory(&models.SubscriptionHistory{
		UserID:           sub.UserID,
		Provider:         ev.Provider,
		EventType:        models.HistoryEventPaymentFailed,
		FromTier:         sub.Tier,
		ToTier:           sub.Tier,
		PaymentReference: ev.TransactionRef,
	}); err != nil {
		return fmt.Errorf("append history: %w", err)
	}

	s.notify(ctx, sub.UserID, NotifyPaymentFailed, sub.Tier, sub.BillingCycle, sub.CurrentPeriodEnd)
	return nil
}

// ResolveUserLimits computes the user's effective entitlement set from
// the plan catalog: fixed tiers read directly, BYO resolves base plus
// the user's selected add-ons.
func (s *Service) ResolveUserLimits(ctx context.Context, userID uint) (entitlements.Limits, error) {
	_ = ctx
	user, err := s.repo.GetUser(userID)
	if err != nil {
		return entitlements.Limits{}, err
	}

	tierName := user.Tier
	if tierName == "" {
		tierName = models.TierStarter
	}
	tier, err := s.repo.GetPlanTier(tierName)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entitlements.Limits{}, fmt.Errorf("plan catalog has no tier %q", tierName)
		}
		return entitlements.Limits{}, err
	}

	if tierName == models.TierBYO {
		addons, err := s.repo.ListUserAddons(userID)
		if err != nil {
			return entitlements.Limits{}, err
		}
		return entitlements.ResolveBYO(tier, addons)
	}
	return entitlements.ResolveTier(tier)
}

// ListHistory returns the most recent ledger entries for a user.
func (s *Service) ListHistory(ctx context.Context, userID uint, limit int) ([]models.SubscriptionHistory, error) {
	_ = ctx
	return s.repo.ListHistoryByUser(userID, limit)
}

// RecomputeEntitlements resolves the user's effective limits and pushes
// them to the quota collaborator. Webhook reconciliation runs this on
// every tier change; callers changing the add-on selection outside the
// webhook path must invoke it too, or externally enforced quotas go
// stale until the next provider event.
func (s *Service) RecomputeEntitlements(ctx context.Context, userID uint) (entitlements.Limits, error) {
	limits, err := s.ResolveUserLimits(ctx, userID)
	if err != nil {
		return entitlements.Limits{}, err
	}
	if s.quota != nil {
		if err := s.quota.ApplyLimits(ctx, userID, limits); err != nil {
			return limits, fmt.Errorf("quota update for user %d: %w", userID, err)
		}
	}
	return limits, nil
}

func (s *Service) recomputeEntitlements(ctx context.Context, userID uint) {
	if s.quota == nil {
		return
	}
	if _, err := s.RecomputeEntitlements(ctx, userID); err != nil {
		log.Errorf("[Billing] entitlement recompute for user %d failed: %v", userID, err)
	}
}

// notify failures are logged, never propagated: a missed notice must not
// fail a paid event.
func (s *Service) notify(ctx context.Context, userID uint, kind, tier, cycle string, periodEnd *time.Time) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, userID, kind, tier, cycle, periodEnd); err != nil {
		log.Warnf("[Billing] notification %s for user %d failed: %v", kind, userID, err)
	}
}

func (s *Service) findSubscription(ev *payments.Event) (*models.Subscription, error) {
	sub, err := s.repo.GetSubscription(ev.Provider, ev.SubscriptionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return sub, nil
}

func (s *Service) attributeUser(ev *payments.Event, existing *models.Subscription) uint {
	if ev.UserID != 0 {
		return ev.UserID
	}
	if existing != nil {
		return existing.UserID
	}
	return 0
}

func normalizeCycle(cycle string) string {
	switch strings.ToLower(strings.TrimSpace(cycle)) {
	case models.BillingCycleAnnual, "year", "yearly":
		return models.BillingCycleAnnual
	default:
		return models.BillingCycleMonthly
	}
}

func tierRank(tier string) int {
	switch tier {
	case models.TierStarter:
		return 0
	case models.TierPro:
		return 1
	case models.TierStudio:
		return 2
	case models.TierBusiness:
		return 3
	case models.TierBYO:
		return 1
	default:
		return 0
	}
}
