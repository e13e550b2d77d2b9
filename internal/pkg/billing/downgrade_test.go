package billing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/LensVaultHQ/LensVault/app/models"
	"github.com/LensVaultHQ/LensVault/internal/pkg/payments"
)

func newDowngradeHarness() (*DowngradeService, *fakeRepo, *fakeGateway, *fakeAdminNotifier, *fakeNotifier) {
	repo := newFakeRepo()
	repo.addUser(7, models.TierPro)
	repo.addTier(models.TierPro, 100)
	repo.addTier(models.TierStarter, 5)

	gw := &fakeGateway{name: "stripe", verifyOK: true}
	registry := payments.NewRegistry(payments.NewMemoryCache())
	registry.Register(gw)

	notifier := &fakeNotifier{}
	reconciler := NewService(repo, notifier, newFakeQuota())
	admin := &fakeAdminNotifier{}
	return NewDowngradeService(repo, registry, reconciler, admin), repo, gw, admin, notifier
}

func activatePro(t *testing.T, repo *fakeRepo) {
	t.Helper()
	end := time.Now().Add(30 * 24 * time.Hour)
	err := repo.UpsertSubscription(&models.Subscription{
		UserID:                 7,
		Provider:               "stripe",
		ProviderSubscriptionID: "sub_42",
		Tier:                   models.TierPro,
		BillingCycle:           models.BillingCycleMonthly,
		Status:                 models.SubscriptionStatusActive,
		CurrentPeriodEnd:       &end,
	})
	if err != nil {
		t.Fatalf("seed subscription: %v", err)
	}
}

func TestInstantCancelRejectedWithActiveSubscription(t *testing.T) {
	d, repo, _, _, _ := newDowngradeHarness()
	activatePro(t, repo)

	err := d.InstantCancel(context.Background(), 7)
	if !IsConflict(err) {
		t.Fatalf("want conflict, got %v", err)
	}
	if ErrorCode(err) != CodeDowngradeViaRequest {
		t.Errorf("code = %q", ErrorCode(err))
	}
	sub, _ := repo.GetSubscription("stripe", "sub_42")
	if sub.Status != models.SubscriptionStatusActive {
		t.Error("instant cancel touched the subscription")
	}
}

func TestInstantCancelWithoutSubscription(t *testing.T) {
	d, _, _, _, _ := newDowngradeHarness()
	err := d.InstantCancel(context.Background(), 7)
	if !errors.Is(err, ErrNoActiveSubscription) {
		t.Fatalf("want no-subscription error, got %v", err)
	}
}

func TestRequestDowngradeNeedsSubscription(t *testing.T) {
	d, _, _, _, _ := newDowngradeHarness()
	if _, err := d.RequestDowngrade(context.Background(), 7); !errors.Is(err, ErrNoActiveSubscription) {
		t.Fatalf("want no-subscription error, got %v", err)
	}
}

func TestRequestDowngradeNotifiesAdmins(t *testing.T) {
	d, repo, _, admin, _ := newDowngradeHarness()
	activatePro(t, repo)

	req, err := d.RequestDowngrade(context.Background(), 7)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if req.Status != models.DowngradeStatusPending || req.ConfirmToken == "" {
		t.Errorf("request = %+v", req)
	}
	if req.ConfirmTokenExpiresAt.Before(time.Now().Add(6 * 24 * time.Hour)) {
		t.Error("token expiry shorter than seven days")
	}
	if len(admin.subjects) != 1 {
		t.Errorf("admin notices = %v", admin.subjects)
	}
}

func TestSecondRequestSupersedesFirst(t *testing.T) {
	d, repo, _, _, _ := newDowngradeHarness()
	activatePro(t, repo)

	first, err := d.RequestDowngrade(context.Background(), 7)
	if err != nil {
		t.Fatalf("first request failed: %v", err)
	}
	second, err := d.RequestDowngrade(context.Background(), 7)
	if err != nil {
		t.Fatalf("second request failed: %v", err)
	}

	var pending int
	for _, r := range repo.downgrades {
		if r.Status == models.DowngradeStatusPending {
			pending++
		}
	}
	if pending != 1 {
		t.Errorf("pending requests = %d, want exactly 1", pending)
	}

	// The superseded token behaves as unknown.
	if _, err := d.ConfirmDowngrade(context.Background(), first.ConfirmToken); !errors.Is(err, ErrTokenNotFound) {
		t.Errorf("superseded token: want not-found, got %v", err)
	}
	// The fresh token still works.
	if _, err := d.ConfirmDowngrade(context.Background(), second.ConfirmToken); err != nil {
		t.Errorf("fresh token: %v", err)
	}
}

func TestConfirmDowngradeCompletes(t *testing.T) {
	d, repo, gw, _, notifier := newDowngradeHarness()
	activatePro(t, repo)

	req, err := d.RequestDowngrade(context.Background(), 7)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	confirmed, err := d.ConfirmDowngrade(context.Background(), req.ConfirmToken)
	if err != nil {
		t.Fatalf("confirm failed: %v", err)
	}

	if confirmed.Status != models.DowngradeStatusCompleted || confirmed.CompletedAt == nil {
		t.Errorf("request = %+v", confirmed)
	}
	if gw.cancels != 1 {
		t.Errorf("provider cancels = %d, want 1", gw.cancels)
	}
	sub, _ := repo.GetSubscription("stripe", "sub_42")
	if sub.Status != models.SubscriptionStatusCanceled {
		t.Errorf("sub status = %q", sub.Status)
	}
	user, _ := repo.GetUser(7)
	if user.Tier != models.TierStarter {
		t.Errorf("user tier = %q", user.Tier)
	}
	if rows := repo.historyByType(models.HistoryEventDowngraded); len(rows) != 1 {
		t.Errorf("downgraded history rows = %d", len(rows))
	}
	if len(notifier.byKind(NotifyDowngraded)) != 1 {
		t.Error("downgrade notice missing")
	}
}

func TestConfirmTwiceIsNoOp(t *testing.T) {
	d, repo, gw, _, _ := newDowngradeHarness()
	activatePro(t, repo)

	req, _ := d.RequestDowngrade(context.Background(), 7)
	if _, err := d.ConfirmDowngrade(context.Background(), req.ConfirmToken); err != nil {
		t.Fatalf("first confirm failed: %v", err)
	}
	again, err := d.ConfirmDowngrade(context.Background(), req.ConfirmToken)
	if err != nil {
		t.Fatalf("second confirm must be a no-op success: %v", err)
	}
	if again.Status != models.DowngradeStatusCompleted {
		t.Errorf("status = %q", again.Status)
	}
	if gw.cancels != 1 {
		t.Errorf("provider canceled %d times, want 1", gw.cancels)
	}
	if rows := repo.historyByType(models.HistoryEventDowngraded); len(rows) != 1 {
		t.Errorf("downgraded history rows = %d, want 1", len(rows))
	}
}

func TestConfirmUnknownToken(t *testing.T) {
	d, _, _, _, _ := newDowngradeHarness()
	if _, err := d.ConfirmDowngrade(context.Background(), "nope"); !errors.Is(err, ErrTokenNotFound) {
		t.Fatalf("want not-found, got %v", err)
	}
}

func TestConfirmExpiredToken(t *testing.T) {
	d, repo, gw, _, _ := newDowngradeHarness()
	activatePro(t, repo)

	req, _ := d.RequestDowngrade(context.Background(), 7)
	repo.mu.Lock()
	for _, r := range repo.downgrades {
		if r.ID == req.ID {
			r.ConfirmTokenExpiresAt = time.Now().Add(-time.Hour)
		}
	}
	repo.mu.Unlock()

	if _, err := d.ConfirmDowngrade(context.Background(), req.ConfirmToken); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("want expired, got %v", err)
	}
	if gw.cancels != 0 {
		t.Error("expired confirm reached the provider")
	}
	user, _ := repo.GetUser(7)
	if user.Tier != models.TierPro {
		t.Error("expired confirm changed state")
	}
}

func TestConfirmFailsWhenProviderRejects(t *testing.T) {
	d, repo, gw, _, _ := newDowngradeHarness()
	activatePro(t, repo)
	gw.cancelFail = true

	req, _ := d.RequestDowngrade(context.Background(), 7)
	if _, err := d.ConfirmDowngrade(context.Background(), req.ConfirmToken); err == nil {
		t.Fatal("provider rejection must fail the confirm")
	}
	// No partial state change.
	sub, _ := repo.GetSubscription("stripe", "sub_42")
	if sub.Status != models.SubscriptionStatusActive {
		t.Errorf("sub status = %q", sub.Status)
	}
	stored, _ := repo.GetDowngradeByToken(req.ConfirmToken)
	if stored.Status != models.DowngradeStatusPending {
		t.Errorf("request status = %q", stored.Status)
	}
}

func TestExpireStaleRequestsCancelsLapsedTokens(t *testing.T) {
	d, repo, _, _, _ := newDowngradeHarness()
	activatePro(t, repo)

	req, err := d.RequestDowngrade(context.Background(), 7)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	repo.mu.Lock()
	for _, r := range repo.downgrades {
		if r.ID == req.ID {
			r.ConfirmTokenExpiresAt = time.Now().Add(-time.Hour)
		}
	}
	repo.mu.Unlock()

	n, err := d.ExpireStaleRequests(context.Background())
	if err != nil {
		t.Fatalf("expire failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expired = %d, want 1", n)
	}

	// The lapsed token now behaves as an unknown one.
	if _, err := d.ConfirmDowngrade(context.Background(), req.ConfirmToken); !errors.Is(err, ErrTokenNotFound) {
		t.Errorf("confirm after expiry = %v, want token-not-found", err)
	}

	// A fresh request survives the sweep.
	fresh, err := d.RequestDowngrade(context.Background(), 7)
	if err != nil {
		t.Fatalf("second request failed: %v", err)
	}
	if n, err := d.ExpireStaleRequests(context.Background()); err != nil || n != 0 {
		t.Errorf("sweep touched a fresh request: n=%d err=%v", n, err)
	}
	pending, err := repo.GetPendingDowngradeByUser(7)
	if err != nil || pending.ID != fresh.ID {
		t.Errorf("fresh request no longer pending: %v", err)
	}
}
