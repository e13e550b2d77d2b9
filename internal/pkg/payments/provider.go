package payments

import (
	"context"
	"fmt"
	"net/textproto"
	"strings"
	"time"
)

// Result statuses shared by all providers.
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusRefunded  = "refunded"
)

// PaymentResult is the provider-agnostic outcome of a charge, refund or
// status lookup. Amount is in minor units of Currency. A failed result
// always carries a non-empty ErrorMessage.
type PaymentResult struct {
	TransactionID string                 `json:"transaction_id"`
	Status        string                 `json:"status"`
	Provider      string                 `json:"provider"`
	Amount        int64                  `json:"amount"`
	Currency      string                 `json:"currency"`
	CustomerID    string                 `json:"customer_id,omitempty"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
	ErrorMessage  string                 `json:"error_message,omitempty"`
}

// SubscriptionResult is the provider-agnostic outcome of a subscription
// operation. Status is the provider-native string, not yet normalized.
type SubscriptionResult struct {
	SubscriptionID   string                 `json:"subscription_id"`
	Status           string                 `json:"status"`
	Provider         string                 `json:"provider"`
	CustomerID       string                 `json:"customer_id,omitempty"`
	PlanID           string                 `json:"plan_id,omitempty"`
	Amount           int64                  `json:"amount,omitempty"`
	Currency         string                 `json:"currency,omitempty"`
	CurrentPeriodEnd *time.Time             `json:"current_period_end,omitempty"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
	ErrorMessage     string                 `json:"error_message,omitempty"`
}

// ChargeRequest describes a one-off charge. Amount is in minor units.
type ChargeRequest struct {
	Amount         int64
	Currency       string
	Email          string
	Reference      string
	Description    string
	ReturnURL      string
	IdempotencyKey string
	Metadata       map[string]string
}

// CreateSubscriptionRequest describes a hosted-checkout subscription
// creation. UserID, Tier and BillingCycle are planted as provider metadata
// so webhook events can be attributed back to the local user.
type CreateSubscriptionRequest struct {
	UserID       uint
	Tier         string
	BillingCycle string
	Amount       int64
	Currency     string
	Email        string
	CustomerID   string
	PlanRef      string
	SuccessURL   string
	CancelURL    string
}

// SubscriptionUpdate carries the changes for an UpdateSubscription call.
// Zero-valued fields are left untouched.
type SubscriptionUpdate struct {
	PlanRef      string
	Tier         string
	BillingCycle string
	Amount       int64
	Currency     string
}

// PaymentProvider is the charge-side capability set every adapter
// implements. Business failures (declined card, invalid plan) are mapped to
// a failed PaymentResult, never returned as errors; errors are reserved for
// transport problems the caller may want to retry or surface.
type PaymentProvider interface {
	Name() string
	Charge(ctx context.Context, req ChargeRequest) (*PaymentResult, error)
	Refund(ctx context.Context, transactionID string, amount *int64) (*PaymentResult, error)
	GetPaymentStatus(ctx context.Context, transactionID string) (*PaymentResult, error)
	VerifyWebhookSignature(ctx context.Context, body []byte, headers Headers) bool
	GetSupportedCurrencies() []string
}

// SubscriptionProvider is the subscription-side capability set, implemented
// by adapters whose network supports recurring billing.
type SubscriptionProvider interface {
	CreateSubscription(ctx context.Context, req CreateSubscriptionRequest) (*SubscriptionResult, error)
	CancelSubscription(ctx context.Context, subscriptionID string) (*SubscriptionResult, error)
	UpdateSubscription(ctx context.Context, subscriptionID string, changes SubscriptionUpdate) (*SubscriptionResult, error)
	GetSubscriptionStatus(ctx context.Context, subscriptionID string) (*SubscriptionResult, error)
}

// WebhookParser normalizes a verified provider payload into an Event the
// reconciler understands. Raw JSON never crosses the adapter boundary.
type WebhookParser interface {
	ParseWebhookEvent(body []byte, headers Headers) (*Event, error)
}

// Event kinds produced by ParseWebhookEvent.
const (
	EventCheckoutCompleted   = "checkout_completed"
	EventRenewed             = "renewed"
	EventSubscriptionUpdated = "subscription_updated"
	EventCanceled            = "canceled"
	EventPaymentFailed       = "payment_failed"
	EventIgnored             = "ignored"
)

// Event is a normalized webhook event. UserID, Tier and BillingCycle come
// from metadata planted at checkout time and may be zero for events the
// provider does not attribute (the reconciler then resolves the user via
// the stored subscription row).
type Event struct {
	Provider           string
	EventID            string
	Kind               string
	EventType          string
	UserID             uint
	Tier               string
	BillingCycle       string
	SubscriptionID     string
	CustomerID         string
	PlanRef            string
	Amount             int64
	Currency           string
	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
	TransactionRef     string
}

// Headers is a case-insensitive view of the transport headers that arrived
// with a webhook delivery.
type Headers map[string]string

func (h Headers) Get(key string) string {
	if v, ok := h[key]; ok {
		return v
	}
	canon := textproto.CanonicalMIMEHeaderKey(key)
	if v, ok := h[canon]; ok {
		return v
	}
	lower := strings.ToLower(key)
	for k, v := range h {
		if strings.ToLower(k) == lower {
			return v
		}
	}
	return ""
}

// ConfigurationError is fatal: it is returned at adapter construction time
// when credentials are missing and prevents the adapter from being used.
type ConfigurationError struct {
	Provider string
	Missing  string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s: missing configuration %s", e.Provider, e.Missing)
}

func supportsCurrency(currencies []string, currency string) bool {
	c := strings.ToLower(strings.TrimSpace(currency))
	for _, cur := range currencies {
		if cur == c {
			return true
		}
	}
	return false
}

// failedPayment builds the typed failure result used for provider-reported
// business failures.
func failedPayment(provider, msg string) *PaymentResult {
	if strings.TrimSpace(msg) == "" {
		msg = "provider rejected the request"
	}
	return &PaymentResult{Provider: provider, Status: StatusFailed, ErrorMessage: msg}
}

func failedSubscription(provider, msg string) *SubscriptionResult {
	if strings.TrimSpace(msg) == "" {
		msg = "provider rejected the request"
	}
	return &SubscriptionResult{Provider: provider, Status: StatusFailed, ErrorMessage: msg}
}
