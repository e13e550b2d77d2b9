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

const defaultFlutterwaveAPIBaseURL = "https://api.flutterwave.com/v3"

var flutterwaveCurrencies = []string{"ngn", "ghs", "kes", "ugx", "tzs", "rwf", "zmw", "usd"}

// FlutterwaveProvider is the second emerging-market gateway adapter. The
// gateway's API speaks MAJOR currency units while the rest of the system
// speaks minor units, so every amount converts at this boundary: divide
// by 100 going out, multiply by 100 coming back.
type FlutterwaveProvider struct {
	SecretKey  string
	SecretHash string
	APIBaseURL string

	HTTPClient *http.Client
	Cache      Cache
}

func NewFlutterwaveProviderFromEnv(cache Cache) (*FlutterwaveProvider, error) {
	p := &FlutterwaveProvider{
		SecretKey:  strings.TrimSpace(env.GetEnv("FLUTTERWAVE_SECRET_KEY", "")),
		SecretHash: strings.TrimSpace(env.GetEnv("FLUTTERWAVE_SECRET_HASH", "")),
		APIBaseURL: strings.TrimRight(env.GetEnv("FLUTTERWAVE_API_BASE_URL", defaultFlutterwaveAPIBaseURL), "/"),
		HTTPClient: &http.Client{
			Timeout: 20 * time.Second,
		},
		Cache: cache,
	}
	if p.SecretKey == "" {
		return nil, &ConfigurationError{Provider: "flutterwave", Missing: "FLUTTERWAVE_SECRET_KEY"}
	}
	if p.Cache == nil {
		p.Cache = NewMemoryCache()
	}
	return p, nil
}

func (p *FlutterwaveProvider) Name() string { return "flutterwave" }

func (p *FlutterwaveProvider) GetSupportedCurrencies() []string { return flutterwaveCurrencies }

func (p *FlutterwaveProvider) Charge(ctx context.Context, req ChargeRequest) (*PaymentResult, error) {
	if !supportsCurrency(flutterwaveCurrencies, req.Currency) {
		return failedPayment("flutterwave", fmt.Sprintf("unsupported currency: %s", req.Currency)), nil
	}

	payload := map[string]interface{}{
		"tx_ref":   req.Reference,
		"amount":   minorToMajorString(req.Amount),
		"currency": strings.ToUpper(req.Currency),
		"customer": map[string]string{"email": req.Email},
	}
	if req.ReturnURL != "" {
		payload["redirect_url"] = req.ReturnURL
	}
	if len(req.Metadata) > 0 {
		payload["meta"] = req.Metadata
	}

	status, body, err := p.call(ctx, http.MethodPost, "/payments", payload)
	if err != nil {
		return nil, err
	}
	ok, message, data := flutterwaveEnvelope(body)
	if status < 200 || status >= 300 || !ok {
		return failedPayment("flutterwave", message), nil
	}

	var raw struct {
		Link string `json:"link"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	return &PaymentResult{
		TransactionID: req.Reference,
		Status:        StatusPending,
		Provider:      "flutterwave",
		Amount:        req.Amount,
		Currency:      strings.ToLower(req.Currency),
		Metadata:      map[string]interface{}{"payment_link": raw.Link},
	}, nil
}

func (p *FlutterwaveProvider) Refund(ctx context.Context, transactionID string, amount *int64) (*PaymentResult, error) {
	payload := map[string]interface{}{}
	if amount != nil {
		payload["amount"] = minorToMajorString(*amount)
	}

	status, body, err := p.call(ctx, http.MethodPost, "/transactions/"+transactionID+"/refund", payload)
	if err != nil {
		return nil, err
	}
	ok, message, data := flutterwaveEnvelope(body)
	if status < 200 || status >= 300 || !ok {
		return failedPayment("flutterwave", message), nil
	}

	var raw struct {
		Status       string      `json:"status"`
		AmountMajor  json.Number `json:"amount_refunded"`
		Currency     string      `json:"currency"`
		FlwRef       string      `json:"flw_ref"`
		RefundStatus string      `json:"refund_status"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	result := &PaymentResult{
		TransactionID: transactionID,
		Provider:      "flutterwave",
		Currency:      strings.ToLower(raw.Currency),
		Amount:        majorNumberToMinor(raw.AmountMajor),
	}
	switch strings.ToLower(raw.Status + raw.RefundStatus) {
	case "completed", "successcompleted", "success":
		result.Status = StatusRefunded
	case "failed":
		result.Status = StatusFailed
		result.ErrorMessage = "refund failed"
	default:
		result.Status = StatusPending
	}
	return result, nil
}

func (p *FlutterwaveProvider) GetPaymentStatus(ctx context.Context, transactionID string) (*PaymentResult, error) {
	status, body, err := p.call(ctx, http.MethodGet, "/transactions/"+transactionID+"/verify", nil)
	if err != nil {
		return nil, err
	}
	ok, message, data := flutterwaveEnvelope(body)
	if status < 200 || status >= 300 || !ok {
		return failedPayment("flutterwave", message), nil
	}

	var raw struct {
		ID       json.Number `json:"id"`
		TxRef    string      `json:"tx_ref"`
		Status   string      `json:"status"`
		Amount   json.Number `json:"amount"`
		Currency string      `json:"currency"`
		Customer struct {
			ID json.Number `json:"id"`
		} `json:"customer"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	result := &PaymentResult{
		TransactionID: raw.ID.String(),
		Provider:      "flutterwave",
		Amount:        majorNumberToMinor(raw.Amount),
		Currency:      strings.ToLower(raw.Currency),
		CustomerID:    raw.Customer.ID.String(),
	}
	switch strings.ToLower(raw.Status) {
	case "successful":
		result.Status = StatusCompleted
	case "failed":
		result.Status = StatusFailed
		result.ErrorMessage = "transaction failed"
	default:
		result.Status = StatusPending
	}
	return result, nil
}

// ensurePaymentPlan creates (or reuses a cached) payment plan for the
// tier/cycle/currency combination. Plan amounts go out in major units.
func (p *FlutterwaveProvider) ensurePaymentPlan(ctx context.Context, tier, cycle, currency string, amount int64) (string, error) {
	cacheKey := fmt.Sprintf("flutterwave:plan:%s:%s:%s", tier, cycle, strings.ToLower(currency))
	if id, ok := p.Cache.Get(ctx, cacheKey); ok {
		return id, nil
	}

	interval := "monthly"
	if cycle == "annual" {
		interval = "yearly"
	}
	status, body, err := p.call(ctx, http.MethodPost, "/payment-plans", map[string]interface{}{
		"name":     fmt.Sprintf("LensVault %s (%s)", tier, cycle),
		"amount":   minorToMajorString(amount),
		"interval": interval,
		"currency": strings.ToUpper(currency),
	})
	if err != nil {
		return "", err
	}
	ok, message, data := flutterwaveEnvelope(body)
	if status < 200 || status >= 300 || !ok {
		return "", fmt.Errorf("flutterwave payment plan creation failed: %s", message)
	}
	var raw struct {
		ID json.Number `json:"id"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return "", err
	}
	_ = p.Cache.Set(ctx, cacheKey, raw.ID.String(), 24*time.Hour)
	return raw.ID.String(), nil
}

func (p *FlutterwaveProvider) CreateSubscription(ctx context.Context, req CreateSubscriptionRequest) (*SubscriptionResult, error) {
	if !supportsCurrency(flutterwaveCurrencies, req.Currency) {
		return failedSubscription("flutterwave", fmt.Sprintf("unsupported currency: %s", req.Currency)), nil
	}

	planID := req.PlanRef
	if planID == "" {
		var err error
		planID, err = p.ensurePaymentPlan(ctx, req.Tier, req.BillingCycle, req.Currency, req.Amount)
		if err != nil {
			return nil, err
		}
	}

	txRef := fmt.Sprintf("sub-%d-%s-%d", req.UserID, req.Tier, time.Now().Unix())
	payload := map[string]interface{}{
		"tx_ref":       txRef,
		"amount":       minorToMajorString(req.Amount),
		"currency":     strings.ToUpper(req.Currency),
		"payment_plan": planID,
		"customer":     map[string]string{"email": req.Email},
		"meta": map[string]string{
			"user_id":       strconv.FormatUint(uint64(req.UserID), 10),
			"tier":          req.Tier,
			"billing_cycle": req.BillingCycle,
		},
	}
	if req.SuccessURL != "" {
		payload["redirect_url"] = req.SuccessURL
	}

	status, body, err := p.call(ctx, http.MethodPost, "/payments", payload)
	if err != nil {
		return nil, err
	}
	ok, message, data := flutterwaveEnvelope(body)
	if status < 200 || status >= 300 || !ok {
		return failedSubscription("flutterwave", message), nil
	}

	var raw struct {
		Link string `json:"link"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	return &SubscriptionResult{
		SubscriptionID: txRef,
		Status:         "pending",
		Provider:       "flutterwave",
		PlanID:         planID,
		Amount:         req.Amount,
		Currency:       strings.ToLower(req.Currency),
		Metadata:       map[string]interface{}{"checkout_url": raw.Link},
	}, nil
}

func (p *FlutterwaveProvider) CancelSubscription(ctx context.Context, subscriptionID string) (*SubscriptionResult, error) {
	status, body, err := p.call(ctx, http.MethodPut, "/subscriptions/"+subscriptionID+"/cancel", nil)
	if err != nil {
		return nil, err
	}
	ok, message, _ := flutterwaveEnvelope(body)
	if status < 200 || status >= 300 || !ok {
		return failedSubscription("flutterwave", message), nil
	}
	return &SubscriptionResult{
		SubscriptionID: subscriptionID,
		Status:         "cancelled",
		Provider:       "flutterwave",
	}, nil
}

func (p *FlutterwaveProvider) UpdateSubscription(_ context.Context, subscriptionID string, _ SubscriptionUpdate) (*SubscriptionResult, error) {
	// The gateway has no plan-change endpoint; callers cancel and
	// resubscribe on the new plan instead.
	result := failedSubscription("flutterwave", "plan changes not supported, cancel and resubscribe")
	result.SubscriptionID = subscriptionID
	return result, nil
}

func (p *FlutterwaveProvider) GetSubscriptionStatus(ctx context.Context, subscriptionID string) (*SubscriptionResult, error) {
	status, body, err := p.call(ctx, http.MethodGet, "/subscriptions/"+subscriptionID, nil)
	if err != nil {
		return nil, err
	}
	ok, message, data := flutterwaveEnvelope(body)
	if status < 200 || status >= 300 || !ok {
		return failedSubscription("flutterwave", message), nil
	}

	var raw struct {
		ID       json.Number `json:"id"`
		Amount   json.Number `json:"amount"`
		Currency string      `json:"currency"`
		Status   string      `json:"status"`
		Plan     json.Number `json:"plan"`
		Customer struct {
			ID json.Number `json:"id"`
		} `json:"customer"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	return &SubscriptionResult{
		SubscriptionID: raw.ID.String(),
		Status:         raw.Status,
		Provider:       "flutterwave",
		PlanID:         raw.Plan.String(),
		Amount:         majorNumberToMinor(raw.Amount),
		Currency:       strings.ToLower(raw.Currency),
		CustomerID:     raw.Customer.ID.String(),
	}, nil
}

// VerifyWebhookSignature accepts either scheme the gateway uses: a
// base64 HMAC-SHA256 of the raw body in verif-hash, or the legacy plain
// secret-hash comparison against the same header. A payload-embedded
// verif_hash of sha256(transactionID + secretHash + txRef) is the final
// fallback. All comparisons are constant time.
func (p *FlutterwaveProvider) VerifyWebhookSignature(_ context.Context, body []byte, headers Headers) bool {
	if p.SecretHash == "" {
		return false
	}

	if sig := headers.Get("verif-hash"); sig != "" {
		if verifyBase64HMACSHA256(body, sig, p.SecretHash) {
			return true
		}
		if constantTimeEquals(sig, p.SecretHash) {
			return true
		}
	}

	var raw struct {
		VerifHash string `json:"verif_hash"`
		Data      struct {
			ID    json.Number `json:"id"`
			TxRef string      `json:"tx_ref"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return false
	}
	if raw.VerifHash == "" {
		return false
	}
	expected := sha256Hex(raw.Data.ID.String() + p.SecretHash + raw.Data.TxRef)
	return constantTimeEquals(raw.VerifHash, expected)
}

func (p *FlutterwaveProvider) ParseWebhookEvent(body []byte, _ Headers) (*Event, error) {
	var raw struct {
		Event string `json:"event"`
		Data  struct {
			ID          json.Number `json:"id"`
			TxRef       string      `json:"tx_ref"`
			Status      string      `json:"status"`
			Amount      json.Number `json:"amount"`
			Currency    string      `json:"currency"`
			PaymentPlan json.Number `json:"payment_plan"`
			Customer    struct {
				ID json.Number `json:"id"`
			} `json:"customer"`
			Meta struct {
				UserID       string `json:"user_id"`
				Tier         string `json:"tier"`
				BillingCycle string `json:"billing_cycle"`
			} `json:"meta"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("flutterwave webhook payload: %w", err)
	}

	out := &Event{
		Provider:       "flutterwave",
		EventType:      raw.Event,
		Kind:           EventIgnored,
		EventID:        raw.Event + ":" + raw.Data.ID.String(),
		Amount:         majorNumberToMinor(raw.Data.Amount),
		Currency:       strings.ToLower(raw.Data.Currency),
		CustomerID:     raw.Data.Customer.ID.String(),
		TransactionRef: raw.Data.TxRef,
		UserID:         parseUserID(raw.Data.Meta.UserID),
		Tier:           raw.Data.Meta.Tier,
		BillingCycle:   raw.Data.Meta.BillingCycle,
	}

	switch raw.Event {
	case "charge.completed":
		if !strings.EqualFold(raw.Data.Status, "successful") {
			out.Kind = EventPaymentFailed
			out.SubscriptionID = raw.Data.TxRef
			break
		}
		// A charge on a payment plan is either the initial checkout or a
		// renewal; first-seen subscription handling upstream disambiguates.
		if raw.Data.PaymentPlan.String() != "" && raw.Data.PaymentPlan.String() != "0" {
			out.Kind = EventCheckoutCompleted
			out.PlanRef = raw.Data.PaymentPlan.String()
		} else {
			out.Kind = EventRenewed
		}
		out.SubscriptionID = raw.Data.TxRef

	case "subscription.cancelled":
		out.Kind = EventCanceled
		out.SubscriptionID = raw.Data.TxRef
		if out.SubscriptionID == "" {
			out.SubscriptionID = raw.Data.ID.String()
		}

	case "charge.failed":
		out.Kind = EventPaymentFailed
		out.SubscriptionID = raw.Data.TxRef
	}

	return out, nil
}

func (p *FlutterwaveProvider) call(ctx context.Context, method, path string, payload interface{}) (int, []byte, error) {
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

func flutterwaveEnvelope(body []byte) (bool, string, json.RawMessage) {
	var raw struct {
		Status  string          `json:"status"`
		Message string          `json:"message"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return false, "unexpected flutterwave response", nil
	}
	message := raw.Message
	if message == "" {
		message = "flutterwave request failed"
	}
	return strings.EqualFold(raw.Status, "success"), message, raw.Data
}

