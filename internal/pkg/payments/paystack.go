package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/LensVaultHQ/LensVault/internal/pkg/env"
)

const defaultPaystackAPIBaseURL = "https://api.paystack.co"

var paystackCurrencies = []string{"ngn", "ghs", "zar", "kes", "usd"}

// PaystackProvider is the first emerging-market gateway adapter. Amounts
// are minor units (kobo/pesewas). Webhook signatures are an HMAC-SHA512
// over the raw body with the secret key, hex-encoded.
type PaystackProvider struct {
	SecretKey  string
	APIBaseURL string

	HTTPClient *http.Client
}

func NewPaystackProviderFromEnv() (*PaystackProvider, error) {
	p := &PaystackProvider{
		SecretKey:  strings.TrimSpace(env.GetEnv("PAYSTACK_SECRET_KEY", "")),
		APIBaseURL: strings.TrimRight(env.GetEnv("PAYSTACK_API_BASE_URL", defaultPaystackAPIBaseURL), "/"),
		HTTPClient: &http.Client{
			Timeout: 20 * time.Second,
		},
	}
	if p.SecretKey == "" {
		return nil, &ConfigurationError{Provider: "paystack", Missing: "PAYSTACK_SECRET_KEY"}
	}
	return p, nil
}

func (p *PaystackProvider) Name() string { return "paystack" }

func (p *PaystackProvider) GetSupportedCurrencies() []string { return paystackCurrencies }

func (p *PaystackProvider) Charge(ctx context.Context, req ChargeRequest) (*PaymentResult, error) {
	if !supportsCurrency(paystackCurrencies, req.Currency) {
		return failedPayment("paystack", fmt.Sprintf("unsupported currency: %s", req.Currency)), nil
	}

	payload := map[string]interface{}{
		"email":    req.Email,
		"amount":   req.Amount,
		"currency": strings.ToUpper(req.Currency),
	}
	if req.Reference != "" {
		payload["reference"] = req.Reference
	}
	if req.ReturnURL != "" {
		payload["callback_url"] = req.ReturnURL
	}
	if len(req.Metadata) > 0 {
		payload["metadata"] = req.Metadata
	}

	status, body, err := p.call(ctx, http.MethodPost, "/transaction/initialize", payload)
	if err != nil {
		return nil, err
	}
	ok, message, data := paystackEnvelope(body)
	if status < 200 || status >= 300 || !ok {
		return failedPayment("paystack", message), nil
	}

	var raw struct {
		AuthorizationURL string `json:"authorization_url"`
		AccessCode       string `json:"access_code"`
		Reference        string `json:"reference"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	return &PaymentResult{
		TransactionID: raw.Reference,
		Status:        StatusPending,
		Provider:      "paystack",
		Amount:        req.Amount,
		Currency:      strings.ToLower(req.Currency),
		Metadata: map[string]interface{}{
			"authorization_url": raw.AuthorizationURL,
			"access_code":       raw.AccessCode,
		},
	}, nil
}

func (p *PaystackProvider) Refund(ctx context.Context, transactionID string, amount *int64) (*PaymentResult, error) {
	payload := map[string]interface{}{
		"transaction": transactionID,
	}
	if amount != nil {
		payload["amount"] = *amount
	}

	status, body, err := p.call(ctx, http.MethodPost, "/refund", payload)
	if err != nil {
		return nil, err
	}
	ok, message, data := paystackEnvelope(body)
	if status < 200 || status >= 300 || !ok {
		return failedPayment("paystack", message), nil
	}

	var raw struct {
		Status   string `json:"status"`
		Amount   int64  `json:"amount"`
		Currency string `json:"currency"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	result := &PaymentResult{
		TransactionID: transactionID,
		Provider:      "paystack",
		Amount:        raw.Amount,
		Currency:      strings.ToLower(raw.Currency),
	}
	switch strings.ToLower(raw.Status) {
	case "processed":
		result.Status = StatusRefunded
	case "pending", "processing":
		result.Status = StatusPending
	default:
		result.Status = StatusFailed
		result.ErrorMessage = "refund " + strings.ToLower(raw.Status)
	}
	return result, nil
}

func (p *PaystackProvider) GetPaymentStatus(ctx context.Context, transactionID string) (*PaymentResult, error) {
	status, body, err := p.call(ctx, http.MethodGet, "/transaction/verify/"+transactionID, nil)
	if err != nil {
		return nil, err
	}
	ok, message, data := paystackEnvelope(body)
	if status < 200 || status >= 300 || !ok {
		return failedPayment("paystack", message), nil
	}

	var raw struct {
		Status         string `json:"status"`
		Reference      string `json:"reference"`
		Amount         int64  `json:"amount"`
		Currency       string `json:"currency"`
		GatewayMessage string `json:"gateway_response"`
		Customer       struct {
			CustomerCode string `json:"customer_code"`
		} `json:"customer"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	result := &PaymentResult{
		TransactionID: raw.Reference,
		Provider:      "paystack",
		Amount:        raw.Amount,
		Currency:      strings.ToLower(raw.Currency),
		CustomerID:    raw.Customer.CustomerCode,
	}
	switch strings.ToLower(raw.Status) {
	case "success":
		result.Status = StatusCompleted
	case "failed", "abandoned":
		result.Status = StatusFailed
		result.ErrorMessage = raw.GatewayMessage
		if result.ErrorMessage == "" {
			result.ErrorMessage = "transaction " + strings.ToLower(raw.Status)
		}
	case "reversed":
		result.Status = StatusRefunded
	default:
		result.Status = StatusPending
	}
	return result, nil
}

// CreateSubscription initializes a plan-bound transaction; the customer
// authorizes it on Paystack's hosted page and the subscription.create
// webhook carries the subscription code back.
func (p *PaystackProvider) CreateSubscription(ctx context.Context, req CreateSubscriptionRequest) (*SubscriptionResult, error) {
	if req.PlanRef == "" {
		return failedSubscription("paystack", "no plan code configured for tier "+req.Tier), nil
	}

	payload := map[string]interface{}{
		"email":    req.Email,
		"amount":   req.Amount,
		"currency": strings.ToUpper(req.Currency),
		"plan":     req.PlanRef,
		"metadata": map[string]string{
			"user_id":       strconv.FormatUint(uint64(req.UserID), 10),
			"tier":          req.Tier,
			"billing_cycle": req.BillingCycle,
		},
	}
	if req.SuccessURL != "" {
		payload["callback_url"] = req.SuccessURL
	}

	status, body, err := p.call(ctx, http.MethodPost, "/transaction/initialize", payload)
	if err != nil {
		return nil, err
	}
	ok, message, data := paystackEnvelope(body)
	if status < 200 || status >= 300 || !ok {
		return failedSubscription("paystack", message), nil
	}

	var raw struct {
		AuthorizationURL string `json:"authorization_url"`
		Reference        string `json:"reference"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	return &SubscriptionResult{
		SubscriptionID: raw.Reference,
		Status:         "pending",
		Provider:       "paystack",
		PlanID:         req.PlanRef,
		Amount:         req.Amount,
		Currency:       strings.ToLower(req.Currency),
		Metadata:       map[string]interface{}{"checkout_url": raw.AuthorizationURL},
	}, nil
}

func (p *PaystackProvider) CancelSubscription(ctx context.Context, subscriptionID string) (*SubscriptionResult, error) {
	// Disabling needs the email token, so fetch the subscription first.
	status, body, err := p.call(ctx, http.MethodGet, "/subscription/"+subscriptionID, nil)
	if err != nil {
		return nil, err
	}
	ok, message, data := paystackEnvelope(body)
	if status < 200 || status >= 300 || !ok {
		return failedSubscription("paystack", message), nil
	}
	var sub struct {
		SubscriptionCode string `json:"subscription_code"`
		EmailToken       string `json:"email_token"`
	}
	if err := json.Unmarshal(data, &sub); err != nil {
		return nil, err
	}

	status, body, err = p.call(ctx, http.MethodPost, "/subscription/disable", map[string]interface{}{
		"code":  sub.SubscriptionCode,
		"token": sub.EmailToken,
	})
	if err != nil {
		return nil, err
	}
	ok, message, _ = paystackEnvelope(body)
	if status < 200 || status >= 300 || !ok {
		return failedSubscription("paystack", message), nil
	}
	return &SubscriptionResult{
		SubscriptionID: sub.SubscriptionCode,
		Status:         "cancelled",
		Provider:       "paystack",
	}, nil
}

func (p *PaystackProvider) UpdateSubscription(_ context.Context, subscriptionID string, _ SubscriptionUpdate) (*SubscriptionResult, error) {
	// Paystack has no in-place plan change; subscriptions are recreated on
	// the new plan.
	result := failedSubscription("paystack", "plan changes require a new subscription")
	result.SubscriptionID = subscriptionID
	return result, nil
}

func (p *PaystackProvider) GetSubscriptionStatus(ctx context.Context, subscriptionID string) (*SubscriptionResult, error) {
	status, body, err := p.call(ctx, http.MethodGet, "/subscription/"+subscriptionID, nil)
	if err != nil {
		return nil, err
	}
	ok, message, data := paystackEnvelope(body)
	if status < 200 || status >= 300 || !ok {
		return failedSubscription("paystack", message), nil
	}

	var raw struct {
		SubscriptionCode string    `json:"subscription_code"`
		Status           string    `json:"status"`
		Amount           int64     `json:"amount"`
		NextPaymentDate  time.Time `json:"next_payment_date"`
		Plan             struct {
			PlanCode string `json:"plan_code"`
			Currency string `json:"currency"`
		} `json:"plan"`
		Customer struct {
			CustomerCode string `json:"customer_code"`
		} `json:"customer"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	result := &SubscriptionResult{
		SubscriptionID: raw.SubscriptionCode,
		Status:         raw.Status,
		Provider:       "paystack",
		PlanID:         raw.Plan.PlanCode,
		Amount:         raw.Amount,
		Currency:       strings.ToLower(raw.Plan.Currency),
		CustomerID:     raw.Customer.CustomerCode,
	}
	if !raw.NextPaymentDate.IsZero() {
		t := raw.NextPaymentDate
		result.CurrentPeriodEnd = &t
	}
	return result, nil
}

// VerifyWebhookSignature checks x-paystack-signature: hex HMAC-SHA512 of
// the raw body with the secret key, compared in constant time.
func (p *PaystackProvider) VerifyWebhookSignature(_ context.Context, body []byte, headers Headers) bool {
	if p.SecretKey == "" {
		return false
	}
	return verifyHexHMACSHA512(body, headers.Get("X-Paystack-Signature"), p.SecretKey)
}

func (p *PaystackProvider) ParseWebhookEvent(body []byte, _ Headers) (*Event, error) {
	var raw struct {
		Event string `json:"event"`
		Data  struct {
			ID               json.Number `json:"id"`
			Reference        string      `json:"reference"`
			SubscriptionCode string      `json:"subscription_code"`
			Status           string      `json:"status"`
			Amount           int64       `json:"amount"`
			Currency         string      `json:"currency"`
			Paid             bool        `json:"paid"`
			NextPaymentDate  *time.Time  `json:"next_payment_date"`
			Metadata         struct {
				UserID       string `json:"user_id"`
				Tier         string `json:"tier"`
				BillingCycle string `json:"billing_cycle"`
			} `json:"metadata"`
			Plan struct {
				PlanCode string `json:"plan_code"`
			} `json:"plan"`
			Customer struct {
				CustomerCode string `json:"customer_code"`
			} `json:"customer"`
			Subscription struct {
				SubscriptionCode string `json:"subscription_code"`
			} `json:"subscription"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("paystack webhook payload: %w", err)
	}

	out := &Event{
		Provider:  "paystack",
		EventType: raw.Event,
		Kind:      EventIgnored,
		Currency:  strings.ToLower(raw.Data.Currency),
		Amount:    raw.Data.Amount,
	}
	// Paystack sends no top-level event id; the transaction reference or
	// subscription code identifies the delivery.
	switch {
	case raw.Data.Reference != "":
		out.EventID = raw.Event + ":" + raw.Data.Reference
	case raw.Data.SubscriptionCode != "":
		out.EventID = raw.Event + ":" + raw.Data.SubscriptionCode
	}

	switch raw.Event {
	case "subscription.create":
		out.Kind = EventCheckoutCompleted
		out.SubscriptionID = raw.Data.SubscriptionCode
		out.CustomerID = raw.Data.Customer.CustomerCode
		out.PlanRef = raw.Data.Plan.PlanCode
		out.TransactionRef = raw.Data.SubscriptionCode
		out.UserID = parseUserID(raw.Data.Metadata.UserID)
		out.Tier = raw.Data.Metadata.Tier
		out.BillingCycle = raw.Data.Metadata.BillingCycle
		if raw.Data.NextPaymentDate != nil {
			out.CurrentPeriodEnd = raw.Data.NextPaymentDate
		}

	case "invoice.update", "invoice.payment_succeeded":
		if raw.Data.Paid || raw.Event == "invoice.payment_succeeded" {
			out.Kind = EventRenewed
		}
		out.SubscriptionID = raw.Data.Subscription.SubscriptionCode
		out.CustomerID = raw.Data.Customer.CustomerCode
		out.TransactionRef = raw.Data.Reference
		if raw.Data.NextPaymentDate != nil {
			out.CurrentPeriodEnd = raw.Data.NextPaymentDate
		}

	case "subscription.disable", "subscription.not_renew":
		out.Kind = EventCanceled
		out.SubscriptionID = raw.Data.SubscriptionCode
		out.CustomerID = raw.Data.Customer.CustomerCode
		out.TransactionRef = raw.Data.SubscriptionCode

	case "invoice.payment_failed", "charge.failed":
		out.Kind = EventPaymentFailed
		out.SubscriptionID = raw.Data.Subscription.SubscriptionCode
		if out.SubscriptionID == "" {
			out.SubscriptionID = raw.Data.SubscriptionCode
		}
		out.CustomerID = raw.Data.Customer.CustomerCode
		out.TransactionRef = raw.Data.Reference
	}

	return out, nil
}

func (p *PaystackProvider) call(ctx context.Context, method, path string, payload interface{}) (int, []byte, error) {
	var reqBody io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, err
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.APIBaseURL+path, reqBody)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+p.SecretKey)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.HTTPClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	return resp.StatusCode, body, nil
}

// paystackEnvelope unwraps paystack's {status, message, data} response shape.
func paystackEnvelope(body []byte) (bool, string, json.RawMessage) {
	var raw struct {
		Status  bool            `json:"status"`
		Message string          `json:"message"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return false, "unexpected paystack response", nil
	}
	message := raw.Message
	if message == "" {
		message = "paystack request failed"
	}
	return raw.Status, message, raw.Data
}
