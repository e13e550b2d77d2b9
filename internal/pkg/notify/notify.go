package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/LensVaultHQ/LensVault/app/models"
	"github.com/LensVaultHQ/LensVault/internal/pkg/billing"
	"github.com/LensVaultHQ/LensVault/internal/pkg/env"
	"github.com/LensVaultHQ/LensVault/internal/pkg/jobqueue"
)

// UserSource resolves a user id to its account record.
type UserSource interface {
	GetUser(id uint) (*models.User, error)
}

// JobEnqueuer hands rendered emails to the background queue.
type JobEnqueuer interface {
	EnqueueJob(jobType jobqueue.JobType, payload map[string]interface{}) (*jobqueue.Job, error)
}

// BillingNotifier delivers subscription lifecycle notices: an email via
// the job queue plus an in-app notification row when a DB handle is set.
type BillingNotifier struct {
	users UserSource
	queue JobEnqueuer
	db    *gorm.DB
}

func NewBillingNotifier(users UserSource, queue JobEnqueuer, db *gorm.DB) *BillingNotifier {
	return &BillingNotifier{users: users, queue: queue, db: db}
}

func (n *BillingNotifier) Notify(_ context.Context, userID uint, eventKind, tier, billingCycle string, periodEnd *time.Time) error {
	user, err := n.users.GetUser(userID)
	if err != nil {
		return fmt.Errorf("load user %d: %w", userID, err)
	}

	subject, body := renderNotice(user.Name, eventKind, tier, billingCycle, periodEnd)

	payload := jobqueue.NotificationEmailJobPayload{To: user.Email, Subject: subject, Body: body}
	if _, err := n.queue.EnqueueJob(jobqueue.JobTypeNotificationEmail, payload.ToMap()); err != nil {
		return fmt.Errorf("enqueue notice email: %w", err)
	}

	if n.db != nil {
		if err := models.CreateNotification(n.db, userID, models.NotificationTypeBilling, subject, 0); err != nil {
			log.Warnf("[Notify] In-app notice for user %d failed: %v", userID, err)
		}
	}
	return nil
}

func renderNotice(name, eventKind, tier, billingCycle string, periodEnd *time.Time) (subject, body string) {
	plan := tier
	if billingCycle != "" {
		plan = fmt.Sprintf("%s (%s)", tier, billingCycle)
	}

	switch eventKind {
	case billing.NotifyActivated:
		subject = fmt.Sprintf("Your %s plan is active", tier)
		body = fmt.Sprintf("Hi %s,<br><br>your %s plan is now active.", name, plan)
	case billing.NotifyRenewed:
		subject = fmt.Sprintf("Your %s plan renewed", tier)
		body = fmt.Sprintf("Hi %s,<br><br>your %s plan has renewed.", name, plan)
	case billing.NotifyUpdated:
		subject = "Your plan changed"
		body = fmt.Sprintf("Hi %s,<br><br>your plan is now %s.", name, plan)
	case billing.NotifyCanceled:
		subject = "Your subscription was canceled"
		body = fmt.Sprintf("Hi %s,<br><br>your subscription ended and your account is back on the starter plan.", name)
	case billing.NotifyPaymentFailed:
		subject = "Payment failed"
		body = fmt.Sprintf("Hi %s,<br><br>the latest payment for your %s plan failed. Please update your payment method.", name, plan)
	case billing.NotifyDowngraded:
		subject = "Downgrade completed"
		body = fmt.Sprintf("Hi %s,<br><br>your downgrade is complete and your account is on the starter plan.", name)
	default:
		subject = "Subscription update"
		body = fmt.Sprintf("Hi %s,<br><br>there was an update to your subscription.", name)
	}

	if periodEnd != nil {
		body += fmt.Sprintf("<br>Current period ends %s.", periodEnd.Format("2006-01-02"))
	}
	body += "<br><br>Your LensVault team"
	return subject, body
}

// AdminMailer alerts operators via the ADMIN_EMAIL address.
type AdminMailer struct {
	queue JobEnqueuer
}

func NewAdminMailer(queue JobEnqueuer) *AdminMailer {
	return &AdminMailer{queue: queue}
}

func (a *AdminMailer) NotifyAdmin(_ context.Context, subject, message string) error {
	to := env.GetEnv("ADMIN_EMAIL", "")
	if to == "" {
		log.Warn("[Notify] ADMIN_EMAIL not set, dropping admin notice")
		return nil
	}
	payload := jobqueue.NotificationEmailJobPayload{To: to, Subject: subject, Body: message}
	_, err := a.queue.EnqueueJob(jobqueue.JobTypeNotificationEmail, payload.ToMap())
	return err
}
