package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/LensVaultHQ/LensVault/internal/pkg/env"
)

const defaultStripeAPIBaseURL = "https://api.stripe.com"

var stripeCurrencies = []string{"usd", "eur", "gbp", "cad", "aud", "chf", "sek", "nok", "dkk", "jpy", "sgd", "nzd"}

// StripeProvider is the card-rail adapter. Amounts are already minor units
// on the wire. In test mode all external calls are bypassed and synthetic
// identifiers are generated locally.
type StripeProvider struct {
	SecretKey     string
	WebhookSecret string
	APIBaseURL    string
	TestMode      bool

	HTTPClient *http.Client
}

// NewStripeProviderFromEnv builds the adapter from environment config.
// A missing secret key is a fatal configuration error outside test mode.
func NewStripeProviderFromEnv() (*StripeProvider, error) {
	p := &StripeProvider{
		SecretKey:     strings.TrimSpace(env.GetEnv("STRIPE_SECRET_KEY", "")),
		WebhookSecret: strings.TrimSpace(env.GetEnv("STRIPE_WEBHOOK_SECRET", "")),
		APIBaseURL:    strings.TrimRight(env.GetEnv("STRIPE_API_BASE_URL", defaultStripeAPIBaseURL), "/"),
		TestMode:      env.GetBool("STRIPE_TEST_MODE", false),
		HTTPClient: &http.Client{
			Timeout: 20 * time.Second,
		},
	}
	if p.SecretKey == "" && !p.TestMode {
		return nil, &ConfigurationError{Provider: "stripe", Missing: "STRIPE_SECRET_KEY"}
	}
	return p, nil
}

func (p *StripeProvider) Name() string { return "stripe" }

func (p *StripeProvider) GetSupportedCurrencies() []string { return stripeCurrencies }

func (p *StripeProvider) Charge(ctx context.Context, req ChargeRequest) (*PaymentResult, error) {
	if !supportsCurrency(stripeCurrencies, req.Currency) {
		return failedPayment("stripe", fmt.Sprintf("unsupported currency: %s", req.Currency)), nil
	}
	if p.TestMode {
		return &PaymentResult{
			TransactionID: "pi_test_" + uuid.New().String(),
			Status:        StatusCompleted,
			Provider:      "stripe",
			Amount:        req.Amount,
			Currency:      strings.ToLower(req.Currency),
			Metadata:      map[string]interface{}{"test_mode": true},
		}, nil
	}

	form := url.Values{}
	form.Set("amount", strconv.FormatInt(req.Amount, 10))
	form.Set("currency", strings.ToLower(req.Currency))
	form.Set("automatic_payment_methods[enabled]", "true")
	if req.Email != "" {
		form.Set("receipt_email", req.Email)
	}
	if req.Description != "" {
		form.Set("description", req.Description)
	}
	for k, v := range req.Metadata {
		form.Set("metadata["+k+"]", v)
	}

	status, body, err := p.call(ctx, http.MethodPost, "/v1/payment_intents", form, req.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return failedPayment("stripe", stripeErrorMessage(body, status)), nil
	}
	return p.mapPaymentIntent(body)
}

func (p *StripeProvider) Refund(ctx context.Context, transactionID string, amount *int64) (*PaymentResult, error) {
	if p.TestMode {
		return &PaymentResult{
			TransactionID: transactionID,
			Status:        StatusRefunded,
			Provider:      "stripe",
		}, nil
	}

	form := url.Values{}
	form.Set("payment_intent", transactionID)
	if amount != nil {
		form.Set("amount", strconv.FormatInt(*amount, 10))
	}

	status, body, err := p.call(ctx, http.MethodPost, "/v1/refunds", form, "")
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return failedPayment("stripe", stripeErrorMessage(body, status)), nil
	}

	var raw struct {
		ID       string `json:"id"`
		Status   string `json:"status"`
		Amount   int64  `json:"amount"`
		Currency string `json:"currency"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, err
	}
	result := &PaymentResult{
		TransactionID: transactionID,
		Provider:      "stripe",
		Amount:        raw.Amount,
		Currency:      raw.Currency,
		Metadata:      map[string]interface{}{"refund_id": raw.ID},
	}
	switch raw.Status {
	case "succeeded":
		result.Status = StatusRefunded
	case "pending":
		result.Status = StatusPending
	default:
		result.Status = StatusFailed
		result.ErrorMessage = "refund " + raw.Status
	}
	return result, nil
}

func (p *StripeProvider) GetPaymentStatus(ctx context.Context, transactionID string) (*PaymentResult, error) {
	status, body, err := p.call(ctx, http.MethodGet, "/v1/payment_intents/"+url.PathEscape(transactionID), nil, "")
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return failedPayment("stripe", stripeErrorMessage(body, status)), nil
	}
	return p.mapPaymentIntent(body)
}

// CreateSubscription opens a hosted checkout session in subscription mode.
// The returned SubscriptionID is the session reference; the real
// subscription id arrives with the checkout.session.completed webhook.
func (p *StripeProvider) CreateSubscription(ctx context.Context, req CreateSubscriptionRequest) (*SubscriptionResult, error) {
	if p.TestMode {
		sessionID := "cs_test_" + uuid.New().String()
		return &SubscriptionResult{
			SubscriptionID: sessionID,
			Status:         "open",
			Provider:       "stripe",
			PlanID:         req.PlanRef,
			Metadata: map[string]interface{}{
				"checkout_url": "https://checkout.stripe.com/test/" + sessionID,
				"test_mode":    true,
			},
		}, nil
	}

	form := url.Values{}
	form.Set("mode", "subscription")
	form.Set("line_items[0][price]", req.PlanRef)
	form.Set("line_items[0][quantity]", "1")
	form.Set("success_url", req.SuccessURL)
	form.Set("cancel_url", req.CancelURL)
	form.Set("client_reference_id", strconv.FormatUint(uint64(req.UserID), 10))
	if req.CustomerID != "" {
		form.Set("customer", req.CustomerID)
	} else if req.Email != "" {
		form.Set("customer_email", req.Email)
	}
	// Metadata is planted on both the session and the subscription so every
	// later webhook can be attributed to the local user.
	for _, prefix := range []string{"metadata", "subscription_data[metadata]"} {
		form.Set(prefix+"[user_id]", strconv.FormatUint(uint64(req.UserID), 10))
		form.Set(prefix+"[tier]", req.Tier)
		form.Set(prefix+"[billing_cycle]", req.BillingCycle)
	}

	status, body, err := p.call(ctx, http.MethodPost, "/v1/checkout/sessions", form, "")
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return failedSubscription("stripe", stripeErrorMessage(body, status)), nil
	}

	var raw struct {
		ID       string `json:"id"`
		URL      string `json:"url"`
		Customer string `json:"customer"`
		Status   string `json:"status"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, err
	}
	return &SubscriptionResult{
		SubscriptionID: raw.ID,
		Status:         raw.Status,
		Provider:       "stripe",
		CustomerID:     raw.Customer,
		PlanID:         req.PlanRef,
		Metadata:       map[string]interface{}{"checkout_url": raw.URL},
	}, nil
}

func (p *StripeProvider) CancelSubscription(ctx context.Context, subscriptionID string) (*SubscriptionResult, error) {
	if p.TestMode {
		return &SubscriptionResult{SubscriptionID: subscriptionID, Status: "canceled", Provider: "stripe"}, nil
	}

	status, body, err := p.call(ctx, http.MethodDelete, "/v1/subscriptions/"+url.PathEscape(subscriptionID), nil, "")
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return failedSubscription("stripe", stripeErrorMessage(body, status)), nil
	}
	return p.mapSubscription(body)
}

func (p *StripeProvider) UpdateSubscription(ctx context.Context, subscriptionID string, changes SubscriptionUpdate) (*SubscriptionResult, error) {
	if changes.PlanRef == "" {
		return failedSubscription("stripe", "no plan reference in subscription update"), nil
	}

	// The price sits on a subscription item, so fetch the item id first.
	status, body, err := p.call(ctx, http.MethodGet, "/v1/subscriptions/"+url.PathEscape(subscriptionID), nil, "")
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return failedSubscription("stripe", stripeErrorMessage(body, status)), nil
	}
	var current struct {
		Items struct {
			Data []struct {
				ID string `json:"id"`
			} `json:"data"`
		} `json:"items"`
	}
	if err := json.Unmarshal(body, &current); err != nil {
		return nil, err
	}
	if len(current.Items.Data) == 0 {
		return failedSubscription("stripe", "subscription has no items"), nil
	}

	form := url.Values{}
	form.Set("items[0][id]", current.Items.Data[0].ID)
	form.Set("items[0][price]", changes.PlanRef)
	form.Set("proration_behavior", "create_prorations")
	if changes.Tier != "" {
		form.Set("metadata[tier]", changes.Tier)
	}
	if changes.BillingCycle != "" {
		form.Set("metadata[billing_cycle]", changes.BillingCycle)
	}

	status, body, err = p.call(ctx, http.MethodPost, "/v1/subscriptions/"+url.PathEscape(subscriptionID), form, "")
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return failedSubscription("stripe", stripeErrorMessage(body, status)), nil
	}
	return p.mapSubscription(body)
}

func (p *StripeProvider) GetSubscriptionStatus(ctx context.Context, subscriptionID string) (*SubscriptionResult, error) {
	status, body, err := p.call(ctx, http.MethodGet, "/v1/subscriptions/"+url.PathEscape(subscriptionID), nil, "")
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return failedSubscription("stripe", stripeErrorMessage(body, status)), nil
	}
	return p.mapSubscription(body)
}

// VerifyWebhookSignature checks the timestamped Stripe-Signature header
// against the webhook secret with the default tolerance window. It fails
// closed when the secret is absent, except in test mode.
func (p *StripeProvider) VerifyWebhookSignature(_ context.Context, body []byte, headers Headers) bool {
	if p.TestMode {
		return true
	}
	if p.WebhookSecret == "" {
		return false
	}
	return webhook.ValidatePayload(body, headers.Get("Stripe-Signature"), p.WebhookSecret) == nil
}

func (p *StripeProvider) ParseWebhookEvent(body []byte, _ Headers) (*Event, error) {
	var event stripe.Event
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, fmt.Errorf("stripe webhook payload: %w", err)
	}

	out := &Event{
		Provider:  "stripe",
		EventID:   event.ID,
		EventType: string(event.Type),
		Kind:      EventIgnored,
	}

	switch event.Type {
	case "checkout.session.completed":
		var session struct {
			ID                string            `json:"id"`
			Customer          string            `json:"customer"`
			Subscription      string            `json:"subscription"`
			ClientReferenceID string            `json:"client_reference_id"`
			Metadata          map[string]string `json:"metadata"`
			AmountTotal       int64             `json:"amount_total"`
			Currency          string            `json:"currency"`
		}
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return nil, err
		}
		out.Kind = EventCheckoutCompleted
		out.SubscriptionID = session.Subscription
		out.CustomerID = session.Customer
		out.Amount = session.AmountTotal
		out.Currency = session.Currency
		out.TransactionRef = session.ID
		out.Tier = session.Metadata["tier"]
		out.BillingCycle = session.Metadata["billing_cycle"]
		out.UserID = parseUserID(session.Metadata["user_id"], session.ClientReferenceID)

	case "invoice.paid", "invoice.payment_succeeded":
		var invoice struct {
			ID           string `json:"id"`
			Customer     string `json:"customer"`
			Subscription string `json:"subscription"`
			AmountPaid   int64  `json:"amount_paid"`
			Currency     string `json:"currency"`
			Lines        struct {
				Data []struct {
					Period struct {
						Start int64 `json:"start"`
						End   int64 `json:"end"`
					} `json:"period"`
				} `json:"data"`
			} `json:"lines"`
		}
		if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
			return nil, err
		}
		out.Kind = EventRenewed
		out.SubscriptionID = invoice.Subscription
		out.CustomerID = invoice.Customer
		out.Amount = invoice.AmountPaid
		out.Currency = invoice.Currency
		out.TransactionRef = invoice.ID
		if len(invoice.Lines.Data) > 0 {
			out.CurrentPeriodStart = unixTime(invoice.Lines.Data[0].Period.Start)
			out.CurrentPeriodEnd = unixTime(invoice.Lines.Data[0].Period.End)
		}

	case "customer.subscription.updated", "customer.subscription.deleted":
		var sub struct {
			ID                 string            `json:"id"`
			Customer           string            `json:"customer"`
			Status             string            `json:"status"`
			CurrentPeriodStart int64             `json:"current_period_start"`
			CurrentPeriodEnd   int64             `json:"current_period_end"`
			Currency           string            `json:"currency"`
			Metadata           map[string]string `json:"metadata"`
		}
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return nil, err
		}
		if event.Type == "customer.subscription.deleted" {
			out.Kind = EventCanceled
		} else {
			out.Kind = EventSubscriptionUpdated
		}
		out.SubscriptionID = sub.ID
		out.CustomerID = sub.Customer
		out.Currency = sub.Currency
		out.CurrentPeriodStart = unixTime(sub.CurrentPeriodStart)
		out.CurrentPeriodEnd = unixTime(sub.CurrentPeriodEnd)
		out.Tier = sub.Metadata["tier"]
		out.BillingCycle = sub.Metadata["billing_cycle"]
		out.UserID = parseUserID(sub.Metadata["user_id"], "")
		out.TransactionRef = sub.ID

	case "invoice.payment_failed":
		var invoice struct {
			ID           string `json:"id"`
			Customer     string `json:"customer"`
			Subscription string `json:"subscription"`
		}
		if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
			return nil, err
		}
		out.Kind = EventPaymentFailed
		out.SubscriptionID = invoice.Subscription
		out.CustomerID = invoice.Customer
		out.TransactionRef = invoice.ID
	}

	return out, nil
}

func (p *StripeProvider) mapPaymentIntent(body []byte) (*PaymentResult, error) {
	var raw struct {
		ID               string            `json:"id"`
		Status           string            `json:"status"`
		Amount           int64             `json:"amount"`
		Currency         string            `json:"currency"`
		Customer         string            `json:"customer"`
		Metadata         map[string]string `json:"metadata"`
		LastPaymentError *struct {
			Message string `json:"message"`
		} `json:"last_payment_error"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, err
	}

	result := &PaymentResult{
		TransactionID: raw.ID,
		Provider:      "stripe",
		Amount:        raw.Amount,
		Currency:      raw.Currency,
		CustomerID:    raw.Customer,
		Metadata:      stringMapToAny(raw.Metadata),
	}
	switch raw.Status {
	case "succeeded":
		result.Status = StatusCompleted
	case "canceled":
		result.Status = StatusFailed
		result.ErrorMessage = "payment intent canceled"
		if raw.LastPaymentError != nil && raw.LastPaymentError.Message != "" {
			result.ErrorMessage = raw.LastPaymentError.Message
		}
	default:
		result.Status = StatusPending
	}
	return result, nil
}

func (p *StripeProvider) mapSubscription(body []byte) (*SubscriptionResult, error) {
	var raw struct {
		ID                 string `json:"id"`
		Status             string `json:"status"`
		Customer           string `json:"customer"`
		Currency           string `json:"currency"`
		CurrentPeriodEnd   int64  `json:"current_period_end"`
		CurrentPeriodStart int64  `json:"current_period_start"`
		Items              struct {
			Data []struct {
				Price struct {
					ID         string `json:"id"`
					UnitAmount int64  `json:"unit_amount"`
				} `json:"price"`
			} `json:"data"`
		} `json:"items"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, err
	}

	result := &SubscriptionResult{
		SubscriptionID:   raw.ID,
		Status:           raw.Status,
		Provider:         "stripe",
		CustomerID:       raw.Customer,
		Currency:         raw.Currency,
		CurrentPeriodEnd: unixTime(raw.CurrentPeriodEnd),
	}
	if len(raw.Items.Data) > 0 {
		result.PlanID = raw.Items.Data[0].Price.ID
		result.Amount = raw.Items.Data[0].Price.UnitAmount
	}
	return result, nil
}

func (p *StripeProvider) call(ctx context.Context, method, path string, form url.Values, idempotencyKey string) (int, []byte, error) {
	var reqBody io.Reader
	if form != nil {
		reqBody = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, p.APIBaseURL+path, reqBody)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+p.SecretKey)
	req.Header.Set("Accept", "application/json")
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := p.HTTPClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	return resp.StatusCode, body, nil
}

func stripeErrorMessage(body []byte, status int) string {
	var raw struct {
		Error struct {
			Message string `json:"message"`
			Code    string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &raw); err == nil && raw.Error.Message != "" {
		return raw.Error.Message
	}
	return fmt.Sprintf("stripe request failed: status=%d", status)
}

func parseUserID(candidates ...string) uint {
	for _, c := range candidates {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if id, err := strconv.ParseUint(c, 10, 64); err == nil && id > 0 {
			return uint(id)
		}
	}
	return 0
}

func unixTime(ts int64) *time.Time {
	if ts <= 0 {
		return nil
	}
	t := time.Unix(ts, 0).UTC()
	return &t
}

func stringMapToAny(in map[string]string) map[string]interface{} {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
