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

const (
	defaultPaypalAPIBaseURL = "https://api-m.paypal.com"

	paypalTokenCacheKey   = "paypal:oauth_token"
	paypalTokenSafetyTTL  = 60 * time.Second
	paypalProductCacheKey = "paypal:product_id"
)

var paypalCurrencies = []string{"usd", "eur", "gbp", "cad", "aud", "chf", "sek", "nok", "dkk", "jpy", "sgd", "nzd", "mxn", "brl"}

// Headers PayPal requires on every webhook delivery; absence of any one of
// them means the delivery cannot be verified and is rejected.
var paypalWebhookHeaders = []string{
	"Paypal-Transmission-Id",
	"Paypal-Transmission-Time",
	"Paypal-Transmission-Sig",
	"Paypal-Cert-Url",
	"Paypal-Auth-Algo",
}

// PayPalProvider is the wallet/redirect adapter. Webhook authenticity is not
// verified locally; it is confirmed by calling PayPal's own verification
// endpoint. OAuth tokens and catalog product/plan ids are kept in the
// injected cache.
type PayPalProvider struct {
	ClientID     string
	ClientSecret string
	WebhookID    string
	APIBaseURL   string
	ProductName  string

	HTTPClient *http.Client
	Cache      Cache
}

func NewPayPalProviderFromEnv(cache Cache) (*PayPalProvider, error) {
	p := &PayPalProvider{
		ClientID:     strings.TrimSpace(env.GetEnv("PAYPAL_CLIENT_ID", "")),
		ClientSecret: strings.TrimSpace(env.GetEnv("PAYPAL_CLIENT_SECRET", "")),
		WebhookID:    strings.TrimSpace(env.GetEnv("PAYPAL_WEBHOOK_ID", "")),
		APIBaseURL:   strings.TrimRight(env.GetEnv("PAYPAL_API_BASE_URL", defaultPaypalAPIBaseURL), "/"),
		ProductName:  env.GetEnv("PAYPAL_PRODUCT_NAME", "LensVault Subscription"),
		HTTPClient: &http.Client{
			Timeout: 20 * time.Second,
		},
		Cache: cache,
	}
	if p.ClientID == "" || p.ClientSecret == "" {
		return nil, &ConfigurationError{Provider: "paypal", Missing: "PAYPAL_CLIENT_ID/PAYPAL_CLIENT_SECRET"}
	}
	if p.Cache == nil {
		p.Cache = NewMemoryCache()
	}
	return p, nil
}

func (p *PayPalProvider) Name() string { return "paypal" }

func (p *PayPalProvider) GetSupportedCurrencies() []string { return paypalCurrencies }

// getAccessToken returns a cached client-credentials token, fetching a new
// one when absent. The cache TTL is the provider-reported expiry minus a
// safety margin so an about-to-expire token is never reused.
func (p *PayPalProvider) getAccessToken(ctx context.Context) (string, error) {
	if token, ok := p.Cache.Get(ctx, paypalTokenCacheKey); ok && token != "" {
		return token, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.APIBaseURL+"/v1/oauth2/token",
		strings.NewReader("grant_type=client_credentials"))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(p.ClientID, p.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := p.HTTPClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("paypal token request failed: status=%d body=%s", resp.StatusCode, string(body))
	}

	var raw struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return "", err
	}
	if raw.AccessToken == "" {
		return "", fmt.Errorf("paypal token response missing access_token")
	}

	ttl := time.Duration(raw.ExpiresIn)*time.Second - paypalTokenSafetyTTL
	if ttl > 0 {
		_ = p.Cache.Set(ctx, paypalTokenCacheKey, raw.AccessToken, ttl)
	}
	return raw.AccessToken, nil
}

func (p *PayPalProvider) Charge(ctx context.Context, req ChargeRequest) (*PaymentResult, error) {
	if !supportsCurrency(paypalCurrencies, req.Currency) {
		return failedPayment("paypal", fmt.Sprintf("unsupported currency: %s", req.Currency)), nil
	}

	payload := map[string]interface{}{
		"intent": "CAPTURE",
		"purchase_units": []map[string]interface{}{{
			"reference_id": req.Reference,
			"description":  req.Description,
			"amount": map[string]string{
				"currency_code": strings.ToUpper(req.Currency),
				"value":         minorToMajorString(req.Amount),
			},
		}},
	}
	if req.ReturnURL != "" {
		payload["application_context"] = map[string]string{"return_url": req.ReturnURL}
	}

	status, body, err := p.call(ctx, http.MethodPost, "/v2/checkout/orders", payload)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return failedPayment("paypal", paypalErrorMessage(body, status)), nil
	}

	var raw struct {
		ID     string `json:"id"`
		Status string `json:"status"`
		Links  []struct {
			Rel  string `json:"rel"`
			Href string `json:"href"`
		} `json:"links"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, err
	}

	result := &PaymentResult{
		TransactionID: raw.ID,
		Provider:      "paypal",
		Amount:        req.Amount,
		Currency:      strings.ToLower(req.Currency),
		Metadata:      map[string]interface{}{},
	}
	for _, link := range raw.Links {
		if link.Rel == "approve" || link.Rel == "payer-action" {
			result.Metadata["approval_url"] = link.Href
		}
	}
	switch raw.Status {
	case "COMPLETED":
		result.Status = StatusCompleted
	case "VOIDED":
		result.Status = StatusFailed
		result.ErrorMessage = "order voided"
	default:
		// CREATED / APPROVED / PAYER_ACTION_REQUIRED all await capture.
		result.Status = StatusPending
	}
	return result, nil
}

func (p *PayPalProvider) Refund(ctx context.Context, transactionID string, amount *int64) (*PaymentResult, error) {
	payload := map[string]interface{}{}
	if amount != nil {
		payload["amount"] = map[string]string{
			"value":         minorToMajorString(*amount),
			"currency_code": "USD",
		}
	}

	status, body, err := p.call(ctx, http.MethodPost, "/v2/payments/captures/"+transactionID+"/refund", payload)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return failedPayment("paypal", paypalErrorMessage(body, status)), nil
	}

	var raw struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, err
	}
	result := &PaymentResult{
		TransactionID: transactionID,
		Provider:      "paypal",
		Metadata:      map[string]interface{}{"refund_id": raw.ID},
	}
	switch raw.Status {
	case "COMPLETED":
		result.Status = StatusRefunded
	case "PENDING":
		result.Status = StatusPending
	default:
		result.Status = StatusFailed
		result.ErrorMessage = "refund " + strings.ToLower(raw.Status)
	}
	return result, nil
}

func (p *PayPalProvider) GetPaymentStatus(ctx context.Context, transactionID string) (*PaymentResult, error) {
	status, body, err := p.call(ctx, http.MethodGet, "/v2/checkout/orders/"+transactionID, nil)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return failedPayment("paypal", paypalErrorMessage(body, status)), nil
	}

	var raw struct {
		ID            string `json:"id"`
		Status        string `json:"status"`
		PurchaseUnits []struct {
			Amount struct {
				CurrencyCode string `json:"currency_code"`
				Value        string `json:"value"`
			} `json:"amount"`
		} `json:"purchase_units"`
		Payer struct {
			PayerID string `json:"payer_id"`
		} `json:"payer"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, err
	}

	result := &PaymentResult{
		TransactionID: raw.ID,
		Provider:      "paypal",
		CustomerID:    raw.Payer.PayerID,
	}
	if len(raw.PurchaseUnits) > 0 {
		result.Currency = strings.ToLower(raw.PurchaseUnits[0].Amount.CurrencyCode)
		result.Amount = majorStringToMinor(raw.PurchaseUnits[0].Amount.Value)
	}
	switch raw.Status {
	case "COMPLETED":
		result.Status = StatusCompleted
	case "VOIDED":
		result.Status = StatusFailed
		result.ErrorMessage = "order voided"
	default:
		result.Status = StatusPending
	}
	return result, nil
}

// ensurePlan creates the catalog product and billing plan for a tier/cycle
// pair idempotently, caching the created ids so repeated checkouts reuse
// them instead of re-creating catalog resources.
func (p *PayPalProvider) ensurePlan(ctx context.Context, req CreateSubscriptionRequest) (string, error) {
	planKey := fmt.Sprintf("paypal:plan:%s:%s:%s", req.Tier, req.BillingCycle, strings.ToLower(req.Currency))
	if planID, ok := p.Cache.Get(ctx, planKey); ok && planID != "" {
		return planID, nil
	}

	productID, ok := p.Cache.Get(ctx, paypalProductCacheKey)
	if !ok || productID == "" {
		status, body, err := p.call(ctx, http.MethodPost, "/v1/catalogs/products", map[string]interface{}{
			"name": p.ProductName,
			"type": "SERVICE",
		})
		if err != nil {
			return "", err
		}
		if status < 200 || status >= 300 {
			return "", fmt.Errorf("paypal product create failed: %s", paypalErrorMessage(body, status))
		}
		var raw struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(body, &raw); err != nil {
			return "", err
		}
		productID = raw.ID
		_ = p.Cache.Set(ctx, paypalProductCacheKey, productID, 0)
	}

	interval := "MONTH"
	if req.BillingCycle == "annual" {
		interval = "YEAR"
	}
	status, body, err := p.call(ctx, http.MethodPost, "/v1/billing/plans", map[string]interface{}{
		"product_id": productID,
		"name":       fmt.Sprintf("%s %s (%s)", p.ProductName, req.Tier, req.BillingCycle),
		"billing_cycles": []map[string]interface{}{{
			"frequency": map[string]interface{}{
				"interval_unit":  interval,
				"interval_count": 1,
			},
			"tenure_type":  "REGULAR",
			"sequence":     1,
			"total_cycles": 0,
			"pricing_scheme": map[string]interface{}{
				"fixed_price": map[string]string{
					"value":         minorToMajorString(req.Amount),
					"currency_code": strings.ToUpper(req.Currency),
				},
			},
		}},
		"payment_preferences": map[string]interface{}{
			"auto_bill_outstanding": true,
		},
	})
	if err != nil {
		return "", err
	}
	if status < 200 || status >= 300 {
		return "", fmt.Errorf("paypal plan create failed: %s", paypalErrorMessage(body, status))
	}
	var raw struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return "", err
	}
	_ = p.Cache.Set(ctx, planKey, raw.ID, 0)
	return raw.ID, nil
}

func (p *PayPalProvider) CreateSubscription(ctx context.Context, req CreateSubscriptionRequest) (*SubscriptionResult, error) {
	planID := req.PlanRef
	if planID == "" {
		var err error
		planID, err = p.ensurePlan(ctx, req)
		if err != nil {
			return nil, err
		}
	}

	payload := map[string]interface{}{
		"plan_id":   planID,
		"custom_id": packCustomID(req.UserID, req.Tier, req.BillingCycle),
		"application_context": map[string]string{
			"return_url":  req.SuccessURL,
			"cancel_url":  req.CancelURL,
			"user_action": "SUBSCRIBE_NOW",
		},
	}
	if req.Email != "" {
		payload["subscriber"] = map[string]interface{}{
			"email_address": req.Email,
		}
	}

	status, body, err := p.call(ctx, http.MethodPost, "/v1/billing/subscriptions", payload)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return failedSubscription("paypal", paypalErrorMessage(body, status)), nil
	}

	var raw struct {
		ID     string `json:"id"`
		Status string `json:"status"`
		Links  []struct {
			Rel  string `json:"rel"`
			Href string `json:"href"`
		} `json:"links"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, err
	}

	result := &SubscriptionResult{
		SubscriptionID: raw.ID,
		Status:         raw.Status,
		Provider:       "paypal",
		PlanID:         planID,
		Amount:         req.Amount,
		Currency:       strings.ToLower(req.Currency),
		Metadata:       map[string]interface{}{},
	}
	for _, link := range raw.Links {
		if link.Rel == "approve" {
			result.Metadata["checkout_url"] = link.Href
		}
	}
	return result, nil
}

func (p *PayPalProvider) CancelSubscription(ctx context.Context, subscriptionID string) (*SubscriptionResult, error) {
	status, body, err := p.call(ctx, http.MethodPost, "/v1/billing/subscriptions/"+subscriptionID+"/cancel", map[string]interface{}{
		"reason": "Customer requested downgrade",
	})
	if err != nil {
		return nil, err
	}
	// Cancel returns 204 with no body on success.
	if status != http.StatusNoContent && (status < 200 || status >= 300) {
		return failedSubscription("paypal", paypalErrorMessage(body, status)), nil
	}
	return &SubscriptionResult{
		SubscriptionID: subscriptionID,
		Status:         "CANCELLED",
		Provider:       "paypal",
	}, nil
}

func (p *PayPalProvider) UpdateSubscription(ctx context.Context, subscriptionID string, changes SubscriptionUpdate) (*SubscriptionResult, error) {
	if changes.PlanRef == "" {
		return failedSubscription("paypal", "no plan reference in subscription update"), nil
	}
	status, body, err := p.call(ctx, http.MethodPost, "/v1/billing/subscriptions/"+subscriptionID+"/revise", map[string]interface{}{
		"plan_id": changes.PlanRef,
	})
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return failedSubscription("paypal", paypalErrorMessage(body, status)), nil
	}
	var raw struct {
		PlanID string `json:"plan_id"`
	}
	_ = json.Unmarshal(body, &raw)
	return &SubscriptionResult{
		SubscriptionID: subscriptionID,
		Status:         "ACTIVE",
		Provider:       "paypal",
		PlanID:         raw.PlanID,
	}, nil
}

func (p *PayPalProvider) GetSubscriptionStatus(ctx context.Context, subscriptionID string) (*SubscriptionResult, error) {
	status, body, err := p.call(ctx, http.MethodGet, "/v1/billing/subscriptions/"+subscriptionID, nil)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return failedSubscription("paypal", paypalErrorMessage(body, status)), nil
	}

	var raw struct {
		ID          string `json:"id"`
		Status      string `json:"status"`
		PlanID      string `json:"plan_id"`
		BillingInfo struct {
			NextBillingTime time.Time `json:"next_billing_time"`
		} `json:"billing_info"`
		Subscriber struct {
			PayerID string `json:"payer_id"`
		} `json:"subscriber"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, err
	}

	result := &SubscriptionResult{
		SubscriptionID: raw.ID,
		Status:         raw.Status,
		Provider:       "paypal",
		PlanID:         raw.PlanID,
		CustomerID:     raw.Subscriber.PayerID,
	}
	if !raw.BillingInfo.NextBillingTime.IsZero() {
		t := raw.BillingInfo.NextBillingTime
		result.CurrentPeriodEnd = &t
	}
	return result, nil
}

// VerifyWebhookSignature confirms authenticity by calling PayPal's
// verification endpoint with all transport headers. A missing required
// header rejects the delivery outright.
func (p *PayPalProvider) VerifyWebhookSignature(ctx context.Context, body []byte, headers Headers) bool {
	if p.WebhookID == "" {
		return false
	}
	values := make(map[string]string, len(paypalWebhookHeaders))
	for _, name := range paypalWebhookHeaders {
		v := strings.TrimSpace(headers.Get(name))
		if v == "" {
			return false
		}
		values[name] = v
	}

	payload := map[string]interface{}{
		"transmission_id":   values["Paypal-Transmission-Id"],
		"transmission_time": values["Paypal-Transmission-Time"],
		"transmission_sig":  values["Paypal-Transmission-Sig"],
		"cert_url":          values["Paypal-Cert-Url"],
		"auth_algo":         values["Paypal-Auth-Algo"],
		"webhook_id":        p.WebhookID,
		"webhook_event":     json.RawMessage(body),
	}

	status, respBody, err := p.call(ctx, http.MethodPost, "/v1/notification/verify-webhook-signature", payload)
	if err != nil || status < 200 || status >= 300 {
		return false
	}
	var raw struct {
		VerificationStatus string `json:"verification_status"`
	}
	if err := json.Unmarshal(respBody, &raw); err != nil {
		return false
	}
	return raw.VerificationStatus == "SUCCESS"
}

func (p *PayPalProvider) ParseWebhookEvent(body []byte, _ Headers) (*Event, error) {
	var raw struct {
		ID           string `json:"id"`
		EventType    string `json:"event_type"`
		ResourceType string `json:"resource_type"`
		Resource     struct {
			ID                 string `json:"id"`
			PlanID             string `json:"plan_id"`
			CustomID           string `json:"custom_id"`
			Status             string `json:"status"`
			BillingAgreementID string `json:"billing_agreement_id"`
			Amount             struct {
				Total    string `json:"total"`
				Currency string `json:"currency"`
			} `json:"amount"`
			BillingInfo struct {
				NextBillingTime time.Time `json:"next_billing_time"`
			} `json:"billing_info"`
			Subscriber struct {
				PayerID string `json:"payer_id"`
			} `json:"subscriber"`
		} `json:"resource"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("paypal webhook payload: %w", err)
	}

	out := &Event{
		Provider:  "paypal",
		EventID:   raw.ID,
		EventType: raw.EventType,
		Kind:      EventIgnored,
	}

	switch raw.EventType {
	case "BILLING.SUBSCRIPTION.ACTIVATED":
		out.Kind = EventCheckoutCompleted
		out.SubscriptionID = raw.Resource.ID
		out.PlanRef = raw.Resource.PlanID
		out.CustomerID = raw.Resource.Subscriber.PayerID
		out.TransactionRef = raw.Resource.ID
		out.UserID, out.Tier, out.BillingCycle = unpackCustomID(raw.Resource.CustomID)
		if !raw.Resource.BillingInfo.NextBillingTime.IsZero() {
			t := raw.Resource.BillingInfo.NextBillingTime
			out.CurrentPeriodEnd = &t
		}

	case "PAYMENT.SALE.COMPLETED":
		out.Kind = EventRenewed
		out.SubscriptionID = raw.Resource.BillingAgreementID
		out.TransactionRef = raw.Resource.ID
		out.Amount = majorStringToMinor(raw.Resource.Amount.Total)
		out.Currency = strings.ToLower(raw.Resource.Amount.Currency)
		out.UserID, out.Tier, out.BillingCycle = unpackCustomID(raw.Resource.CustomID)

	case "BILLING.SUBSCRIPTION.UPDATED":
		out.Kind = EventSubscriptionUpdated
		out.SubscriptionID = raw.Resource.ID
		out.PlanRef = raw.Resource.PlanID
		out.TransactionRef = raw.Resource.ID
		out.UserID, out.Tier, out.BillingCycle = unpackCustomID(raw.Resource.CustomID)

	case "BILLING.SUBSCRIPTION.CANCELLED", "BILLING.SUBSCRIPTION.EXPIRED", "BILLING.SUBSCRIPTION.SUSPENDED":
		out.Kind = EventCanceled
		out.SubscriptionID = raw.Resource.ID
		out.TransactionRef = raw.Resource.ID
		out.UserID, _, _ = unpackCustomID(raw.Resource.CustomID)

	case "BILLING.SUBSCRIPTION.PAYMENT.FAILED":
		out.Kind = EventPaymentFailed
		out.SubscriptionID = raw.Resource.ID
		out.TransactionRef = raw.Resource.ID
		out.UserID, _, _ = unpackCustomID(raw.Resource.CustomID)
	}

	return out, nil
}

func (p *PayPalProvider) call(ctx context.Context, method, path string, payload interface{}) (int, []byte, error) {
	token, err := p.getAccessToken(ctx)
	if err != nil {
		return 0, nil, err
	}

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
	req.Header.Set("Authorization", "Bearer "+token)
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

func paypalErrorMessage(body []byte, status int) string {
	var raw struct {
		Name    string `json:"name"`
		Message string `json:"message"`
		Details []struct {
			Description string `json:"description"`
		} `json:"details"`
	}
	if err := json.Unmarshal(body, &raw); err == nil {
		if len(raw.Details) > 0 && raw.Details[0].Description != "" {
			return raw.Details[0].Description
		}
		if raw.Message != "" {
			return raw.Message
		}
	}
	return fmt.Sprintf("paypal request failed: status=%d", status)
}

// packCustomID folds the local user reference and plan selection into
// PayPal's custom_id field (max 127 chars) so webhooks carry them back.
func packCustomID(userID uint, tier, cycle string) string {
	return fmt.Sprintf("%d|%s|%s", userID, tier, cycle)
}

func unpackCustomID(customID string) (uint, string, string) {
	parts := strings.SplitN(strings.TrimSpace(customID), "|", 3)
	if len(parts) != 3 {
		return 0, "", ""
	}
	id, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return 0, "", ""
	}
	return uint(id), parts[1], parts[2]
}

