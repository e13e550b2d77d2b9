package billing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/LensVaultHQ/LensVault/app/models"
	"github.com/LensVaultHQ/LensVault/internal/pkg/entitlements"
	"github.com/LensVaultHQ/LensVault/internal/pkg/payments"
)

// fakeRepo is an in-memory Repository for service-level tests.
type fakeRepo struct {
	mu sync.Mutex

	users      map[uint]*models.User
	subs       []*models.Subscription
	history    []models.SubscriptionHistory
	webhooks   []*models.WebhookEvent
	downgrades []*models.DowngradeRequest
	tiers      map[string]*models.PlanTier
	userAddons map[uint][]models.PlanAddon

	nextID uint
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		users:      make(map[uint]*models.User),
		tiers:      make(map[string]*models.PlanTier),
		userAddons: make(map[uint][]models.PlanAddon),
		nextID:     1,
	}
}

func (f *fakeRepo) id() uint {
	id := f.nextID
	f.nextID++
	return id
}

func (f *fakeRepo) addUser(id uint, tier string) *models.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := &models.User{ID: id, Name: fmt.Sprintf("user-%d", id), Email: fmt.Sprintf("u%d@example.com", id), Tier: tier}
	f.users[id] = u
	return u
}

func (f *fakeRepo) addTier(name string, storageGB int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	storage := storageGB << 30
	f.tiers[name] = &models.PlanTier{Name: name, StorageBytes: &storage, IsActive: true}
}

func (f *fakeRepo) GetUser(id uint) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *u
	return &cp, nil
}

func (f *fakeRepo) SaveUser(user *models.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *user
	f.users[user.ID] = &cp
	return nil
}

func (f *fakeRepo) GetSubscription(provider, providerSubscriptionID string) (*models.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.subs {
		if s.Provider == provider && s.ProviderSubscriptionID == providerSubscriptionID {
			cp := *s
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeRepo) GetSubscriptionByCustomerPlan(provider, customerID, planRef string) (*models.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.subs) - 1; i >= 0; i-- {
		s := f.subs[i]
		if s.Provider == provider && s.ProviderCustomerID == customerID && s.ProviderPlanRef == planRef && s.IsActive() {
			cp := *s
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeRepo) GetActiveSubscriptionByUser(userID uint) (*models.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.subs) - 1; i >= 0; i-- {
		s := f.subs[i]
		if s.UserID == userID && s.IsActive() {
			cp := *s
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeRepo) UpsertSubscription(sub *models.Subscription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.subs {
		if s.Provider == sub.Provider && s.ProviderSubscriptionID == sub.ProviderSubscriptionID {
			sub.ID = s.ID
			*s = *sub
			return nil
		}
	}
	sub.ID = f.id()
	cp := *sub
	f.subs = append(f.subs, &cp)
	return nil
}

func (f *fakeRepo) SaveSubscription(sub *models.Subscription) error {
	return f.UpsertSubscription(sub)
}

func (f *fakeRepo) AppendHistory(entry *models.SubscriptionHistory) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry.ID = f.id()
	entry.CreatedAt = time.Now()
	f.history = append(f.history, *entry)
	return nil
}

func (f *fakeRepo) ListHistoryByUser(userID uint, limit int) ([]models.SubscriptionHistory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.SubscriptionHistory
	for i := len(f.history) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if f.history[i].UserID == userID {
			out = append(out, f.history[i])
		}
	}
	return out, nil
}

func (f *fakeRepo) CreateWebhookEventIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, w := range f.webhooks {
		if w.Provider == event.Provider && w.ProviderEventID == event.ProviderEventID {
			cp := *w
			return false, &cp, nil
		}
	}
	event.ID = f.id()
	event.ReceivedAt = time.Now()
	cp := *event
	f.webhooks = append(f.webhooks, &cp)
	stored := cp
	return true, &stored, nil
}

func (f *fakeRepo) GetWebhookEvent(id uint) (*models.WebhookEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, w := range f.webhooks {
		if w.ID == id {
			cp := *w
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeRepo) MarkWebhookStatus(id uint, status string, responseCode int, errorMessage string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, w := range f.webhooks {
		if w.ID == id {
			w.Status = status
			w.ResponseCode = responseCode
			w.ErrorMessage = truncate(errorMessage, 500)
			now := time.Now()
			w.ProcessedAt = &now
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

func (f *fakeRepo) IncrementWebhookAttempts(id uint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, w := range f.webhooks {
		if w.ID == id {
			w.Attempts++
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

func (f *fakeRepo) CreateDowngradeRequest(req *models.DowngradeRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	req.ID = f.id()
	req.RequestedAt = time.Now()
	cp := *req
	f.downgrades = append(f.downgrades, &cp)
	return nil
}

func (f *fakeRepo) SaveDowngradeRequest(req *models.DowngradeRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range f.downgrades {
		if d.ID == req.ID {
			*d = *req
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

func (f *fakeRepo) GetPendingDowngradeByUser(userID uint) (*models.DowngradeRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.downgrades) - 1; i >= 0; i-- {
		d := f.downgrades[i]
		if d.UserID == userID && d.Status == models.DowngradeStatusPending {
			cp := *d
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeRepo) GetDowngradeByToken(token string) (*models.DowngradeRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range f.downgrades {
		if d.ConfirmToken == token && d.Status != models.DowngradeStatusCanceled {
			cp := *d
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeRepo) ExpirePendingDowngrades(before time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, d := range f.downgrades {
		if d.Status == models.DowngradeStatusPending && d.ConfirmTokenExpiresAt.Before(before) {
			d.Status = models.DowngradeStatusCanceled
			n++
		}
	}
	return n, nil
}

func (f *fakeRepo) GetPlanTier(name string) (*models.PlanTier, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tiers[name]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *t
	return &cp, nil
}

func (f *fakeRepo) ListUserAddons(userID uint) ([]models.PlanAddon, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.userAddons[userID], nil
}

func (f *fakeRepo) historyByType(eventType string) []models.SubscriptionHistory {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.SubscriptionHistory
	for _, h := range f.history {
		if h.EventType == eventType {
			out = append(out, h)
		}
	}
	return out
}

type notifyCall struct {
	UserID uint
	Kind   string
	Tier   string
	Cycle  string
}

type fakeNotifier struct {
	mu    sync.Mutex
	calls []notifyCall
}

func (n *fakeNotifier) Notify(_ context.Context, userID uint, kind, tier, cycle string, _ *time.Time) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, notifyCall{UserID: userID, Kind: kind, Tier: tier, Cycle: cycle})
	return nil
}

func (n *fakeNotifier) byKind(kind string) []notifyCall {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []notifyCall
	for _, c := range n.calls {
		if c.Kind == kind {
			out = append(out, c)
		}
	}
	return out
}

type fakeQuota struct {
	mu      sync.Mutex
	applied map[uint]entitlements.Limits
}

func newFakeQuota() *fakeQuota {
	return &fakeQuota{applied: make(map[uint]entitlements.Limits)}
}

func (q *fakeQuota) ApplyLimits(_ context.Context, userID uint, limits entitlements.Limits) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.applied[userID] = limits
	return nil
}

type fakeAdminNotifier struct {
	mu       sync.Mutex
	subjects []string
}

func (a *fakeAdminNotifier) NotifyAdmin(_ context.Context, subject, _ string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.subjects = append(a.subjects, subject)
	return nil
}

type fakeEnqueuer struct {
	mu  sync.Mutex
	ids []uint
}

func (e *fakeEnqueuer) EnqueueWebhookReconcile(_ context.Context, webhookEventID uint) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ids = append(e.ids, webhookEventID)
	return nil
}

// fakeGateway is a full-capability provider stub for ingest and
// downgrade tests.
type fakeGateway struct {
	name       string
	verifyOK   bool
	event      *payments.Event
	parseErr   error
	cancels    int
	cancelFail bool
}

func (g *fakeGateway) Name() string                     { return g.name }
func (g *fakeGateway) GetSupportedCurrencies() []string { return []string{"usd"} }

func (g *fakeGateway) Charge(_ context.Context, req payments.ChargeRequest) (*payments.PaymentResult, error) {
	return &payments.PaymentResult{Status: payments.StatusCompleted, Provider: g.name, Amount: req.Amount}, nil
}

func (g *fakeGateway) Refund(_ context.Context, id string, _ *int64) (*payments.PaymentResult, error) {
	return &payments.PaymentResult{TransactionID: id, Status: payments.StatusRefunded, Provider: g.name}, nil
}

func (g *fakeGateway) GetPaymentStatus(_ context.Context, id string) (*payments.PaymentResult, error) {
	return &payments.PaymentResult{TransactionID: id, Status: payments.StatusCompleted, Provider: g.name}, nil
}

func (g *fakeGateway) VerifyWebhookSignature(context.Context, []byte, payments.Headers) bool {
	return g.verifyOK
}

func (g *fakeGateway) ParseWebhookEvent([]byte, payments.Headers) (*payments.Event, error) {
	if g.parseErr != nil {
		return nil, g.parseErr
	}
	cp := *g.event
	return &cp, nil
}

func (g *fakeGateway) CreateSubscription(_ context.Context, req payments.CreateSubscriptionRequest) (*payments.SubscriptionResult, error) {
	return &payments.SubscriptionResult{
		SubscriptionID: "sub-new",
		Status:         "pending",
		Provider:       g.name,
		Metadata:       map[string]interface{}{"checkout_url": "https://pay.example.com/" + req.Tier},
	}, nil
}

func (g *fakeGateway) CancelSubscription(_ context.Context, id string) (*payments.SubscriptionResult, error) {
	g.cancels++
	if g.cancelFail {
		return &payments.SubscriptionResult{SubscriptionID: id, Status: payments.StatusFailed, Provider: g.name, ErrorMessage: "cannot cancel"}, nil
	}
	return &payments.SubscriptionResult{SubscriptionID: id, Status: "canceled", Provider: g.name}, nil
}

func (g *fakeGateway) UpdateSubscription(_ context.Context, id string, _ payments.SubscriptionUpdate) (*payments.SubscriptionResult, error) {
	return &payments.SubscriptionResult{SubscriptionID: id, Status: "active", Provider: g.name}, nil
}

func (g *fakeGateway) GetSubscriptionStatus(_ context.Context, id string) (*payments.SubscriptionResult, error) {
	return &payments.SubscriptionResult{SubscriptionID: id, Status: "active", Provider: g.name}, nil
}
