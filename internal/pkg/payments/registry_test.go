package payments

import (
	"context"
	"fmt"
	"testing"
)

// stubProvider records charges and answers with a canned result.
type stubProvider struct {
	name       string
	currencies []string
	charges    int
	fail       bool
}

func (s *stubProvider) Name() string                    { return s.name }
func (s *stubProvider) GetSupportedCurrencies() []string { return s.currencies }

func (s *stubProvider) Charge(_ context.Context, req ChargeRequest) (*PaymentResult, error) {
	s.charges++
	if s.fail {
		return nil, fmt.Errorf("%s unreachable", s.name)
	}
	return &PaymentResult{
		TransactionID: fmt.Sprintf("%s-tx-%d", s.name, s.charges),
		Status:        StatusCompleted,
		Provider:      s.name,
		Amount:        req.Amount,
		Currency:      req.Currency,
	}, nil
}

func (s *stubProvider) Refund(_ context.Context, id string, _ *int64) (*PaymentResult, error) {
	return &PaymentResult{TransactionID: id, Status: StatusRefunded, Provider: s.name}, nil
}

func (s *stubProvider) GetPaymentStatus(_ context.Context, id string) (*PaymentResult, error) {
	return &PaymentResult{TransactionID: id, Status: StatusCompleted, Provider: s.name}, nil
}

func (s *stubProvider) VerifyWebhookSignature(context.Context, []byte, Headers) bool { return true }

func newTestRegistry() (*Registry, *stubProvider, *stubProvider, *stubProvider) {
	stripe := &stubProvider{name: "stripe", currencies: []string{"usd", "eur"}}
	paystack := &stubProvider{name: "paystack", currencies: []string{"ngn", "ghs"}}
	flutterwave := &stubProvider{name: "flutterwave", currencies: []string{"kes", "ngn"}}

	r := NewRegistry(NewMemoryCache())
	r.Register(stripe)
	r.Register(paystack)
	r.Register(flutterwave)
	return r, stripe, paystack, flutterwave
}

func TestRegistryRouteByCurrency(t *testing.T) {
	r, _, _, _ := newTestRegistry()

	cases := map[string]string{
		"ngn": "paystack",
		"ghs": "paystack",
		"kes": "flutterwave",
		"usd": "stripe",
		"eur": "stripe",
	}
	for currency, want := range cases {
		p, err := r.RouteByCurrency(currency)
		if err != nil {
			t.Fatalf("route %s: %v", currency, err)
		}
		if p.Name() != want {
			t.Errorf("route %s = %s, want %s", currency, p.Name(), want)
		}
	}

	if _, err := r.RouteByCurrency("xxx"); err == nil {
		t.Error("unsupported currency must not route")
	}
}

func TestRegistryChargeRoutes(t *testing.T) {
	r, _, paystack, _ := newTestRegistry()

	result, err := r.Charge(context.Background(), ChargeRequest{Amount: 500000, Currency: "ngn"})
	if err != nil {
		t.Fatalf("charge failed: %v", err)
	}
	if result.Provider != "paystack" || paystack.charges != 1 {
		t.Errorf("charge went to %s (paystack charges=%d)", result.Provider, paystack.charges)
	}
}

func TestRegistryChargeViaUnknownProvider(t *testing.T) {
	r, _, _, _ := newTestRegistry()
	if _, err := r.ChargeVia(context.Background(), "square", ChargeRequest{Amount: 100, Currency: "usd"}); err == nil {
		t.Error("unknown provider must error")
	}
}

func TestRegistryIdempotentChargeReplay(t *testing.T) {
	r, stripe, _, _ := newTestRegistry()

	req := ChargeRequest{Amount: 2500, Currency: "usd", IdempotencyKey: "order-77"}
	first, err := r.Charge(context.Background(), req)
	if err != nil {
		t.Fatalf("charge failed: %v", err)
	}
	second, err := r.Charge(context.Background(), req)
	if err != nil {
		t.Fatalf("replay failed: %v", err)
	}
	if stripe.charges != 1 {
		t.Errorf("provider charged %d times, want 1", stripe.charges)
	}
	if first.TransactionID != second.TransactionID {
		t.Errorf("replay returned a different transaction: %q vs %q", first.TransactionID, second.TransactionID)
	}

	// A different key charges again.
	req.IdempotencyKey = "order-78"
	if _, err := r.Charge(context.Background(), req); err != nil {
		t.Fatalf("charge failed: %v", err)
	}
	if stripe.charges != 2 {
		t.Errorf("provider charged %d times, want 2", stripe.charges)
	}
}

func TestRegistryErrorsAreNotCached(t *testing.T) {
	r, stripe, _, _ := newTestRegistry()
	stripe.fail = true

	req := ChargeRequest{Amount: 2500, Currency: "usd", IdempotencyKey: "order-79"}
	if _, err := r.Charge(context.Background(), req); err == nil {
		t.Fatal("transport failure must surface as error")
	}

	stripe.fail = false
	result, err := r.Charge(context.Background(), req)
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if result.Status != StatusCompleted {
		t.Errorf("retry result = %+v", result)
	}
}

func TestRegistryNamesSorted(t *testing.T) {
	r, _, _, _ := newTestRegistry()
	names := r.Names()
	want := []string{"flutterwave", "paystack", "stripe"}
	if len(names) != len(want) {
		t.Fatalf("names = %v", names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("names = %v, want %v", names, want)
		}
	}
}
