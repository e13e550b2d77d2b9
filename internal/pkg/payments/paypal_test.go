package payments

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestPayPal(baseURL string) *PayPalProvider {
	return &PayPalProvider{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		WebhookID:    "WH-42",
		APIBaseURL:   baseURL,
		ProductName:  "LensVault Subscription",
		HTTPClient:   &http.Client{Timeout: 5 * time.Second},
		Cache:        NewMemoryCache(),
	}
}

// paypalTokenHandler answers the oauth endpoint and counts token fetches.
func paypalTokenHandler(t *testing.T, calls *int) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		*calls++
		user, pass, ok := r.BasicAuth()
		if !ok || user != "client-id" || pass != "client-secret" {
			t.Errorf("bad basic auth: %s/%s", user, pass)
		}
		w.Write([]byte(`{"access_token":"A21.token","token_type":"Bearer","expires_in":32400}`))
	}
}

func TestPayPalTokenCached(t *testing.T) {
	var tokenCalls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/oauth2/token":
			paypalTokenHandler(t, &tokenCalls)(w, r)
		case "/v2/checkout/orders/ord-1":
			if r.Header.Get("Authorization") != "Bearer A21.token" {
				t.Errorf("authorization = %q", r.Header.Get("Authorization"))
			}
			w.Write([]byte(`{"id":"ord-1","status":"COMPLETED","purchase_units":[{"amount":{"currency_code":"USD","value":"100.00"}}]}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer server.Close()

	p := newTestPayPal(server.URL)
	for i := 0; i < 3; i++ {
		result, err := p.GetPaymentStatus(context.Background(), "ord-1")
		if err != nil {
			t.Fatalf("status lookup failed: %v", err)
		}
		if result.Status != StatusCompleted || result.Amount != 10000 {
			t.Errorf("result = %+v", result)
		}
	}
	if tokenCalls != 1 {
		t.Errorf("token fetched %d times, want 1", tokenCalls)
	}
}

func TestPayPalChargeCreatesOrder(t *testing.T) {
	var tokenCalls int
	var gotOrder map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/oauth2/token":
			paypalTokenHandler(t, &tokenCalls)(w, r)
		case "/v2/checkout/orders":
			json.NewDecoder(r.Body).Decode(&gotOrder)
			w.WriteHeader(http.StatusCreated)
			w.Write([]byte(`{"id":"ord-9","status":"CREATED","links":[{"rel":"approve","href":"https://www.paypal.com/checkoutnow?token=ord-9"}]}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer server.Close()

	p := newTestPayPal(server.URL)
	result, err := p.Charge(context.Background(), ChargeRequest{
		Amount:   10000,
		Currency: "usd",
		Email:    "studio@example.com",
	})
	if err != nil {
		t.Fatalf("charge failed: %v", err)
	}
	units := gotOrder["purchase_units"].([]interface{})
	amount := units[0].(map[string]interface{})["amount"].(map[string]interface{})
	// 10000 minor units go out as the decimal string "100.00".
	if amount["value"] != "100.00" || amount["currency_code"] != "USD" {
		t.Errorf("sent amount = %v", amount)
	}
	if result.Status != StatusPending {
		t.Errorf("status = %q, want pending until capture", result.Status)
	}
	if result.Metadata["approval_url"] != "https://www.paypal.com/checkoutnow?token=ord-9" {
		t.Errorf("approval url missing: %v", result.Metadata)
	}
}

func TestPayPalCreateSubscriptionReusesCachedPlan(t *testing.T) {
	var tokenCalls, productCalls, planCalls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/oauth2/token":
			paypalTokenHandler(t, &tokenCalls)(w, r)
		case "/v1/catalogs/products":
			productCalls++
			w.WriteHeader(http.StatusCreated)
			w.Write([]byte(`{"id":"PROD-1"}`))
		case "/v1/billing/plans":
			planCalls++
			w.WriteHeader(http.StatusCreated)
			w.Write([]byte(`{"id":"P-PLAN-1"}`))
		case "/v1/billing/subscriptions":
			var payload map[string]interface{}
			json.NewDecoder(r.Body).Decode(&payload)
			if payload["custom_id"] != "7|pro|monthly" {
				t.Errorf("custom_id = %v", payload["custom_id"])
			}
			w.WriteHeader(http.StatusCreated)
			w.Write([]byte(`{"id":"I-SUB1","status":"APPROVAL_PENDING","links":[{"rel":"approve","href":"https://www.paypal.com/webapps/billing/subscriptions?ba_token=x"}]}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer server.Close()

	p := newTestPayPal(server.URL)
	req := CreateSubscriptionRequest{
		UserID:       7,
		Tier:         "pro",
		BillingCycle: "monthly",
		Amount:       2900,
		Currency:     "usd",
		Email:        "studio@example.com",
	}
	for i := 0; i < 2; i++ {
		result, err := p.CreateSubscription(context.Background(), req)
		if err != nil {
			t.Fatalf("create failed: %v", err)
		}
		if result.SubscriptionID != "I-SUB1" {
			t.Errorf("subscription id = %q", result.SubscriptionID)
		}
		if result.Metadata["checkout_url"] == "" {
			t.Error("approval link not surfaced")
		}
	}
	if productCalls != 1 || planCalls != 1 {
		t.Errorf("product created %d times, plan %d times; want 1 and 1", productCalls, planCalls)
	}
}

func TestPayPalCancelSubscriptionNoContent(t *testing.T) {
	var tokenCalls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/oauth2/token":
			paypalTokenHandler(t, &tokenCalls)(w, r)
		case "/v1/billing/subscriptions/I-SUB1/cancel":
			w.WriteHeader(http.StatusNoContent)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer server.Close()

	p := newTestPayPal(server.URL)
	result, err := p.CancelSubscription(context.Background(), "I-SUB1")
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if result.Status != "CANCELLED" {
		t.Errorf("status = %q", result.Status)
	}
}

func TestPayPalVerifyWebhookSignatureRemote(t *testing.T) {
	var verifyPayload map[string]interface{}
	var tokenCalls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/oauth2/token":
			paypalTokenHandler(t, &tokenCalls)(w, r)
		case "/v1/notification/verify-webhook-signature":
			json.NewDecoder(r.Body).Decode(&verifyPayload)
			w.Write([]byte(`{"verification_status":"SUCCESS"}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer server.Close()

	p := newTestPayPal(server.URL)
	headers := Headers{
		"Paypal-Transmission-Id":   "tid-1",
		"Paypal-Transmission-Time": "2026-09-01T10:00:00Z",
		"Paypal-Transmission-Sig":  "sig",
		"Paypal-Cert-Url":          "https://api.paypal.com/cert",
		"Paypal-Auth-Algo":         "SHA256withRSA",
	}
	body := []byte(`{"id":"WH-EVT-1","event_type":"PAYMENT.SALE.COMPLETED"}`)

	if !p.VerifyWebhookSignature(context.Background(), body, headers) {
		t.Fatal("remote-verified delivery rejected")
	}
	if verifyPayload["webhook_id"] != "WH-42" || verifyPayload["transmission_id"] != "tid-1" {
		t.Errorf("verify payload = %v", verifyPayload)
	}

	// A delivery missing any required header is rejected without a call.
	incomplete := Headers{"Paypal-Transmission-Id": "tid-1"}
	if p.VerifyWebhookSignature(context.Background(), body, incomplete) {
		t.Fatal("delivery with missing headers accepted")
	}
}

func TestPayPalParseSubscriptionActivated(t *testing.T) {
	p := newTestPayPal("http://unused.invalid")
	body := []byte(`{
		"id": "WH-EVT-2",
		"event_type": "BILLING.SUBSCRIPTION.ACTIVATED",
		"resource": {
			"id": "I-SUB1",
			"plan_id": "P-PLAN-1",
			"custom_id": "7|pro|monthly",
			"status": "ACTIVE",
			"billing_info": {"next_billing_time": "2026-10-01T10:00:00Z"},
			"subscriber": {"payer_id": "PAYER7"}
		}
	}`)

	event, err := p.ParseWebhookEvent(body, nil)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if event.Kind != EventCheckoutCompleted || event.EventID != "WH-EVT-2" {
		t.Errorf("kind=%q id=%q", event.Kind, event.EventID)
	}
	if event.UserID != 7 || event.Tier != "pro" || event.BillingCycle != "monthly" {
		t.Errorf("attribution = %d %q %q", event.UserID, event.Tier, event.BillingCycle)
	}
	if event.CurrentPeriodEnd == nil {
		t.Error("next billing time not mapped to period end")
	}
}

func TestPayPalParseSaleCompleted(t *testing.T) {
	p := newTestPayPal("http://unused.invalid")
	body := []byte(`{
		"id": "WH-EVT-3",
		"event_type": "PAYMENT.SALE.COMPLETED",
		"resource": {
			"id": "SALE-1",
			"billing_agreement_id": "I-SUB1",
			"custom_id": "7|pro|monthly",
			"amount": {"total": "29.00", "currency": "USD"}
		}
	}`)

	event, err := p.ParseWebhookEvent(body, nil)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if event.Kind != EventRenewed || event.SubscriptionID != "I-SUB1" {
		t.Errorf("kind=%q sub=%q", event.Kind, event.SubscriptionID)
	}
	if event.Amount != 2900 || event.Currency != "usd" {
		t.Errorf("amount = %d %q", event.Amount, event.Currency)
	}
}

func TestPackUnpackCustomID(t *testing.T) {
	packed := packCustomID(42, "studio", "annual")
	if packed != "42|studio|annual" {
		t.Errorf("packed = %q", packed)
	}
	id, tier, cycle := unpackCustomID(packed)
	if id != 42 || tier != "studio" || cycle != "annual" {
		t.Errorf("unpacked = %d %q %q", id, tier, cycle)
	}
	if id, _, _ := unpackCustomID("garbage"); id != 0 {
		t.Errorf("garbage custom_id returned user %d", id)
	}
}
