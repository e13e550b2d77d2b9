package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/LensVaultHQ/LensVault/internal/pkg/env"
)

const defaultIdempotencyTTL = 24 * time.Hour

// defaultCurrencyRoutes sends West African currencies to paystack, the
// wider African set to flutterwave, and everything else to stripe.
var defaultCurrencyRoutes = map[string]string{
	"ngn": "paystack",
	"ghs": "paystack",
	"kes": "flutterwave",
	"ugx": "flutterwave",
	"tzs": "flutterwave",
	"rwf": "flutterwave",
	"zmw": "flutterwave",
}

// Registry holds the configured payment providers and routes charge
// traffic to them by name or by currency.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]PaymentProvider
	routes    map[string]string
	fallback  string

	cache          Cache
	idempotencyTTL time.Duration
}

func NewRegistry(cache Cache) *Registry {
	if cache == nil {
		cache = NewMemoryCache()
	}
	routes := make(map[string]string, len(defaultCurrencyRoutes))
	for k, v := range defaultCurrencyRoutes {
		routes[k] = v
	}
	return &Registry{
		providers:      make(map[string]PaymentProvider),
		routes:         routes,
		fallback:       "stripe",
		cache:          cache,
		idempotencyTTL: defaultIdempotencyTTL,
	}
}

// NewRegistryFromEnv builds every provider whose credentials are present.
// A provider with missing configuration is skipped with a log line rather
// than failing startup; at least one provider must come up.
func NewRegistryFromEnv(cache Cache) (*Registry, error) {
	r := NewRegistry(cache)

	if ttl := env.GetEnv("IDEMPOTENCY_CACHE_TTL", ""); ttl != "" {
		if d, err := time.ParseDuration(ttl); err == nil && d > 0 {
			r.idempotencyTTL = d
		}
	}
	// PAYMENT_CURRENCY_ROUTES=ngn:paystack,kes:flutterwave
	if raw := env.GetEnv("PAYMENT_CURRENCY_ROUTES", ""); raw != "" {
		for _, pair := range strings.Split(raw, ",") {
			parts := strings.SplitN(strings.TrimSpace(pair), ":", 2)
			if len(parts) == 2 && parts[0] != "" && parts[1] != "" {
				r.routes[strings.ToLower(parts[0])] = strings.ToLower(parts[1])
			}
		}
	}

	if p, err := NewStripeProviderFromEnv(); err != nil {
		log.Printf("[Payments] stripe disabled: %v", err)
	} else {
		r.Register(p)
	}
	if p, err := NewPayPalProviderFromEnv(cache); err != nil {
		log.Printf("[Payments] paypal disabled: %v", err)
	} else {
		r.Register(p)
	}
	if p, err := NewPaystackProviderFromEnv(); err != nil {
		log.Printf("[Payments] paystack disabled: %v", err)
	} else {
		r.Register(p)
	}
	if p, err := NewFlutterwaveProviderFromEnv(cache); err != nil {
		log.Printf("[Payments] flutterwave disabled: %v", err)
	} else {
		r.Register(p)
	}

	if len(r.Names()) == 0 {
		return nil, fmt.Errorf("no payment provider configured")
	}
	return r, nil
}

func (r *Registry) Register(p PaymentProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[strings.ToLower(p.Name())] = p
}

func (r *Registry) Get(name string) (PaymentProvider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[strings.ToLower(name)]
	return p, ok
}

// GetSubscriptionProvider returns the named provider if it also manages
// subscriptions.
func (r *Registry) GetSubscriptionProvider(name string) (SubscriptionProvider, bool) {
	p, ok := r.Get(name)
	if !ok {
		return nil, false
	}
	sp, ok := p.(SubscriptionProvider)
	return sp, ok
}

// GetWebhookParser returns the named provider's webhook side.
func (r *Registry) GetWebhookParser(name string) (WebhookParser, bool) {
	p, ok := r.Get(name)
	if !ok {
		return nil, false
	}
	wp, ok := p.(WebhookParser)
	return wp, ok
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RouteByCurrency picks the provider for a currency: an explicit route
// first, then the fallback, then any registered provider that supports
// the currency.
func (r *Registry) RouteByCurrency(currency string) (PaymentProvider, error) {
	currency = strings.ToLower(currency)

	r.mu.RLock()
	routed := r.routes[currency]
	fallback := r.fallback
	r.mu.RUnlock()

	if routed != "" {
		if p, ok := r.Get(routed); ok && supportsCurrency(p.GetSupportedCurrencies(), currency) {
			return p, nil
		}
	}
	if p, ok := r.Get(fallback); ok && supportsCurrency(p.GetSupportedCurrencies(), currency) {
		return p, nil
	}
	for _, name := range r.Names() {
		if p, ok := r.Get(name); ok && supportsCurrency(p.GetSupportedCurrencies(), currency) {
			return p, nil
		}
	}
	return nil, fmt.Errorf("no provider supports currency %q", currency)
}

// Charge routes by currency and executes the charge. When the request
// carries an idempotency key, a replay within the cache window returns
// the recorded result without hitting the provider again.
func (r *Registry) Charge(ctx context.Context, req ChargeRequest) (*PaymentResult, error) {
	provider, err := r.RouteByCurrency(req.Currency)
	if err != nil {
		return nil, err
	}
	return r.chargeWith(ctx, provider, req)
}

// ChargeVia is Charge pinned to a named provider.
func (r *Registry) ChargeVia(ctx context.Context, providerName string, req ChargeRequest) (*PaymentResult, error) {
	provider, ok := r.Get(providerName)
	if !ok {
		return nil, fmt.Errorf("unknown payment provider %q", providerName)
	}
	return r.chargeWith(ctx, provider, req)
}

func (r *Registry) chargeWith(ctx context.Context, provider PaymentProvider, req ChargeRequest) (*PaymentResult, error) {
	if req.IdempotencyKey == "" {
		return provider.Charge(ctx, req)
	}

	cacheKey := fmt.Sprintf("payments:idem:%s:%s", provider.Name(), req.IdempotencyKey)
	if cached, ok := r.cache.Get(ctx, cacheKey); ok {
		var result PaymentResult
		if err := json.Unmarshal([]byte(cached), &result); err == nil {
			return &result, nil
		}
	}

	result, err := provider.Charge(ctx, req)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(result); err == nil {
		_ = r.cache.Set(ctx, cacheKey, string(data), r.idempotencyTTL)
	}
	return result, nil
}
