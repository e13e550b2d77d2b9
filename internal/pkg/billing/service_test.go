package billing

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/LensVaultHQ/LensVault/app/models"
	"github.com/LensVaultHQ/LensVault/internal/pkg/payments"
)

func checkoutEvent(userID uint, tier string) *payments.Event {
	end := time.Now().Add(30 * 24 * time.Hour)
	return &payments.Event{
		Provider:         "stripe",
		EventID:          "evt_1",
		Kind:             payments.EventCheckoutCompleted,
		EventType:        "checkout.session.completed",
		UserID:           userID,
		Tier:             tier,
		BillingCycle:     "monthly",
		SubscriptionID:   "sub_42",
		CustomerID:       "cus_9",
		Amount:           2900,
		Currency:         "usd",
		CurrentPeriodEnd: &end,
		TransactionRef:   "cs_1",
	}
}

func TestCheckoutCompletedCreatesSubscription(t *testing.T) {
	repo := newFakeRepo()
	repo.addUser(7, models.TierStarter)
	repo.addTier(models.TierPro, 100)
	notifier := &fakeNotifier{}
	quota := newFakeQuota()
	svc := NewService(repo, notifier, quota)

	if err := svc.HandleEvent(context.Background(), checkoutEvent(7, models.TierPro)); err != nil {
		t.Fatalf("handle failed: %v", err)
	}

	sub, err := repo.GetSubscription("stripe", "sub_42")
	if err != nil {
		t.Fatalf("subscription missing: %v", err)
	}
	if sub.Tier != models.TierPro || sub.Status != models.SubscriptionStatusActive {
		t.Errorf("subscription = %+v", sub)
	}

	user, _ := repo.GetUser(7)
	if user.Tier != models.TierPro {
		t.Errorf("user tier = %q", user.Tier)
	}
	if user.StripeCustomerID != "cus_9" {
		t.Errorf("customer id not persisted: %q", user.StripeCustomerID)
	}

	created := repo.historyByType(models.HistoryEventCreated)
	if len(created) != 1 {
		t.Fatalf("created history rows = %d", len(created))
	}
	if created[0].FromTier != models.TierStarter || created[0].ToTier != models.TierPro {
		t.Errorf("history = %+v", created[0])
	}

	if calls := notifier.byKind(NotifyActivated); len(calls) != 1 || calls[0].UserID != 7 {
		t.Errorf("activation notices = %v", calls)
	}
	if limits, ok := quota.applied[7]; !ok || limits.StorageBytes == nil || *limits.StorageBytes != 100<<30 {
		t.Errorf("quota not re-baselined: %v", quota.applied)
	}
}

func TestCheckoutCompletedForKnownSubscriptionIsRenewal(t *testing.T) {
	repo := newFakeRepo()
	repo.addUser(7, models.TierPro)
	repo.addTier(models.TierPro, 100)
	notifier := &fakeNotifier{}
	svc := NewService(repo, notifier, newFakeQuota())

	if err := svc.HandleEvent(context.Background(), checkoutEvent(7, models.TierPro)); err != nil {
		t.Fatalf("first handle failed: %v", err)
	}

	second := checkoutEvent(7, models.TierPro)
	second.EventID = "evt_2"
	second.TransactionRef = "cs_2"
	if err := svc.HandleEvent(context.Background(), second); err != nil {
		t.Fatalf("second handle failed: %v", err)
	}

	if rows := repo.historyByType(models.HistoryEventCreated); len(rows) != 1 {
		t.Errorf("created rows = %d, want 1", len(rows))
	}
	if rows := repo.historyByType(models.HistoryEventRenewed); len(rows) != 1 {
		t.Errorf("renewed rows = %d, want 1", len(rows))
	}
}

func TestRenewedUpdatesPeriod(t *testing.T) {
	repo := newFakeRepo()
	repo.addUser(7, models.TierPro)
	repo.addTier(models.TierPro, 100)
	notifier := &fakeNotifier{}
	svc := NewService(repo, notifier, newFakeQuota())

	if err := svc.HandleEvent(context.Background(), checkoutEvent(7, models.TierPro)); err != nil {
		t.Fatalf("checkout failed: %v", err)
	}

	newEnd := time.Now().Add(60 * 24 * time.Hour)
	err := svc.HandleEvent(context.Background(), &payments.Event{
		Provider:         "stripe",
		EventID:          "evt_renew",
		Kind:             payments.EventRenewed,
		SubscriptionID:   "sub_42",
		Amount:           2900,
		CurrentPeriodEnd: &newEnd,
		TransactionRef:   "in_2",
	})
	if err != nil {
		t.Fatalf("renewal failed: %v", err)
	}

	sub, _ := repo.GetSubscription("stripe", "sub_42")
	if sub.CurrentPeriodEnd == nil || !sub.CurrentPeriodEnd.Equal(newEnd) {
		t.Errorf("period end = %v", sub.CurrentPeriodEnd)
	}
	if len(notifier.byKind(NotifyRenewed)) != 1 {
		t.Error("renewal notice missing")
	}
}

func TestRenewalForUnknownSubscriptionErrors(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo, nil, nil)

	err := svc.HandleEvent(context.Background(), &payments.Event{
		Provider:       "stripe",
		Kind:           payments.EventRenewed,
		SubscriptionID: "sub_unknown",
	})
	if err == nil {
		t.Fatal("out-of-order renewal must error so the retry queue can re-run it")
	}
}

func TestCanceledResetsToStarter(t *testing.T) {
	repo := newFakeRepo()
	repo.addUser(7, models.TierPro)
	repo.addTier(models.TierPro, 100)
	repo.addTier(models.TierStarter, 5)
	notifier := &fakeNotifier{}
	quota := newFakeQuota()
	svc := NewService(repo, notifier, quota)

	if err := svc.HandleEvent(context.Background(), checkoutEvent(7, models.TierPro)); err != nil {
		t.Fatalf("checkout failed: %v", err)
	}
	err := svc.HandleEvent(context.Background(), &payments.Event{
		Provider:       "stripe",
		EventID:        "evt_cancel",
		Kind:           payments.EventCanceled,
		SubscriptionID: "sub_42",
	})
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}

	sub, _ := repo.GetSubscription("stripe", "sub_42")
	if sub.Status != models.SubscriptionStatusCanceled {
		t.Errorf("status = %q", sub.Status)
	}
	user, _ := repo.GetUser(7)
	if user.Tier != models.TierStarter {
		t.Errorf("user tier = %q", user.Tier)
	}
	rows := repo.historyByType(models.HistoryEventCanceled)
	if len(rows) != 1 || rows[0].ToTier != models.TierStarter {
		t.Errorf("canceled history = %v", rows)
	}
	if limits := quota.applied[7]; limits.StorageBytes == nil || *limits.StorageBytes != 5<<30 {
		t.Errorf("quota not reset to starter: %v", limits)
	}
}

func TestPaymentFailedKeepsTier(t *testing.T) {
	repo := newFakeRepo()
	repo.addUser(7, models.TierPro)
	repo.addTier(models.TierPro, 100)
	notifier := &fakeNotifier{}
	svc := NewService(repo, notifier, newFakeQuota())

	if err := svc.HandleEvent(context.Background(), checkoutEvent(7, models.TierPro)); err != nil {
		t.Fatalf("checkout failed: %v", err)
	}
	err := svc.HandleEvent(context.Background(), &payments.Event{
		Provider:       "stripe",
		EventID:        "evt_fail",
		Kind:           payments.EventPaymentFailed,
		SubscriptionID: "sub_42",
	})
	if err != nil {
		t.Fatalf("payment failure handling failed: %v", err)
	}

	user, _ := repo.GetUser(7)
	if user.Tier != models.TierPro {
		t.Errorf("tier changed on payment failure: %q", user.Tier)
	}
	sub, _ := repo.GetSubscription("stripe", "sub_42")
	if sub.Status != models.SubscriptionStatusPastDue {
		t.Errorf("status = %q", sub.Status)
	}
	if len(notifier.byKind(NotifyPaymentFailed)) != 1 {
		t.Error("payment failure notice missing")
	}
}

func TestIgnoredEventIsNoOp(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo, nil, nil)
	if err := svc.HandleEvent(context.Background(), &payments.Event{Provider: "stripe", Kind: payments.EventIgnored}); err != nil {
		t.Fatalf("ignored event must be a no-op: %v", err)
	}
	if len(repo.history) != 0 {
		t.Error("ignored event touched history")
	}
}

func TestConcurrentRenewalsSerialize(t *testing.T) {
	repo := newFakeRepo()
	repo.addUser(7, models.TierPro)
	repo.addTier(models.TierPro, 100)
	svc := NewService(repo, nil, nil)

	if err := svc.HandleEvent(context.Background(), checkoutEvent(7, models.TierPro)); err != nil {
		t.Fatalf("checkout failed: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			end := time.Now().Add(time.Duration(30+n) * 24 * time.Hour)
			_ = svc.HandleEvent(context.Background(), &payments.Event{
				Provider:         "stripe",
				Kind:             payments.EventRenewed,
				SubscriptionID:   "sub_42",
				CurrentPeriodEnd: &end,
			})
		}(i)
	}
	wg.Wait()

	if rows := repo.historyByType(models.HistoryEventRenewed); len(rows) != 8 {
		t.Errorf("renewed rows = %d, want one per distinct event", len(rows))
	}
}

func TestResolveUserLimitsBYO(t *testing.T) {
	repo := newFakeRepo()
	repo.addUser(9, models.TierBYO)
	base := int64(5 << 30)
	repo.tiers[models.TierBYO] = &models.PlanTier{Name: models.TierBYO, StorageBytes: &base, IsActive: true}
	extra := int64(25 << 30)
	repo.userAddons[9] = []models.PlanAddon{
		{Name: "+25GB", Type: models.AddonTypeStorage, StorageBytes: &extra, IsActive: true},
	}
	svc := NewService(repo, nil, nil)

	limits, err := svc.ResolveUserLimits(context.Background(), 9)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if limits.StorageBytes == nil || *limits.StorageBytes != 30<<30 {
		t.Errorf("storage = %v, want 30GB", limits.StorageBytes)
	}
}

func TestRecomputeEntitlementsPushesQuota(t *testing.T) {
	repo := newFakeRepo()
	repo.addUser(9, models.TierBYO)
	base := int64(5 << 30)
	repo.tiers[models.TierBYO] = &models.PlanTier{Name: models.TierBYO, StorageBytes: &base, IsActive: true}
	quota := newFakeQuota()
	svc := NewService(repo, nil, quota)

	// The user picks up a storage add-on outside the webhook path; the
	// quota store must see the new ceiling immediately.
	extra := int64(100 << 30)
	repo.userAddons[9] = []models.PlanAddon{
		{Name: "+100GB", Type: models.AddonTypeStorage, StorageBytes: &extra, IsActive: true},
	}

	limits, err := svc.RecomputeEntitlements(context.Background(), 9)
	if err != nil {
		t.Fatalf("recompute failed: %v", err)
	}
	want := base + extra
	if limits.StorageBytes == nil || *limits.StorageBytes != want {
		t.Errorf("resolved storage = %v, want %d", limits.StorageBytes, want)
	}
	applied, ok := quota.applied[9]
	if !ok {
		t.Fatal("quota store was not updated")
	}
	if applied.StorageBytes == nil || *applied.StorageBytes != want {
		t.Errorf("applied storage = %v, want %d", applied.StorageBytes, want)
	}
}

func TestCompletedChargeWithFreshReferenceRenews(t *testing.T) {
	repo := newFakeRepo()
	repo.addUser(7, models.TierStarter)
	repo.addTier(models.TierPro, 100)
	svc := NewService(repo, &fakeNotifier{}, newFakeQuota())

	first := checkoutEvent(7, models.TierPro)
	first.Provider = "flutterwave"
	first.SubscriptionID = "sub-7-pro-1700000000"
	first.CustomerID = "331"
	first.PlanRef = "plan_55"
	if err := svc.HandleEvent(context.Background(), first); err != nil {
		t.Fatalf("checkout failed: %v", err)
	}

	// The gateway mints a fresh reference for the renewal charge and the
	// payload carries no attribution metadata.
	renewal := &payments.Event{
		Provider:       "flutterwave",
		EventID:        "charge.completed:8802",
		Kind:           payments.EventCheckoutCompleted,
		EventType:      "charge.completed",
		SubscriptionID: "tx-fresh-8802",
		CustomerID:     "331",
		PlanRef:        "plan_55",
		Amount:         2900,
		Currency:       "usd",
		TransactionRef: "tx-fresh-8802",
	}
	if err := svc.HandleEvent(context.Background(), renewal); err != nil {
		t.Fatalf("renewal charge failed: %v", err)
	}

	if len(repo.subs) != 1 {
		t.Fatalf("subscription rows = %d, want 1", len(repo.subs))
	}
	if _, err := repo.GetSubscription("flutterwave", "tx-fresh-8802"); err == nil {
		t.Error("renewal charge created a second subscription row")
	}
	if rows := repo.historyByType(models.HistoryEventRenewed); len(rows) != 1 {
		t.Errorf("renewed history rows = %d, want 1", len(rows))
	}
	if rows := repo.historyByType(models.HistoryEventCreated); len(rows) != 1 {
		t.Errorf("created history rows = %d, want 1", len(rows))
	}
}
