package billing

import (
	"context"
	"time"

	"github.com/LensVaultHQ/LensVault/internal/pkg/entitlements"
)

// Notifier delivers subscription lifecycle notices to the user. Channel
// and template are the implementation's business; the reconciler only
// reports what happened.
type Notifier interface {
	Notify(ctx context.Context, userID uint, eventKind, tier, billingCycle string, periodEnd *time.Time) error
}

// AdminNotifier alerts operators, used when a downgrade request needs a
// human in the loop.
type AdminNotifier interface {
	NotifyAdmin(ctx context.Context, subject, message string) error
}

// QuotaUpdater re-baselines a user's resource ceilings from a freshly
// resolved entitlement set.
type QuotaUpdater interface {
	ApplyLimits(ctx context.Context, userID uint, limits entitlements.Limits) error
}

// Notification event kinds passed to the Notifier.
const (
	NotifyActivated          = "subscription_activated"
	NotifyRenewed            = "subscription_renewed"
	NotifyUpdated            = "subscription_updated"
	NotifyCanceled           = "subscription_canceled"
	NotifyPaymentFailed      = "payment_failed"
	NotifyDowngradeRequested = "downgrade_requested"
	NotifyDowngraded         = "downgrade_completed"
)
