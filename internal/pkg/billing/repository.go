package billing

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/LensVaultHQ/LensVault/app/models"
)

// Repository provides DB operations used by the billing services.
type Repository interface {
	GetUser(id uint) (*models.User, error)
	SaveUser(user *models.User) error

	GetSubscription(provider, providerSubscriptionID string) (*models.Subscription, error)
	GetSubscriptionByCustomerPlan(provider, customerID, planRef string) (*models.Subscription, error)
	GetActiveSubscriptionByUser(userID uint) (*models.Subscription, error)
	UpsertSubscription(sub *models.Subscription) error
	SaveSubscription(sub *models.Subscription) error

	AppendHistory(entry *models.SubscriptionHistory) error
	ListHistoryByUser(userID uint, limit int) ([]models.SubscriptionHistory, error)

	CreateWebhookEventIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error)
	GetWebhookEvent(id uint) (*models.WebhookEvent, error)
	MarkWebhookStatus(id uint, status string, responseCode int, errorMessage string) error
	IncrementWebhookAttempts(id uint) error

	CreateDowngradeRequest(req *models.DowngradeRequest) error
	SaveDowngradeRequest(req *models.DowngradeRequest) error
	GetPendingDowngradeByUser(userID uint) (*models.DowngradeRequest, error)
	GetDowngradeByToken(token string) (*models.DowngradeRequest, error)
	ExpirePendingDowngrades(before time.Time) (int64, error)

	GetPlanTier(name string) (*models.PlanTier, error)
	ListUserAddons(userID uint) ([]models.PlanAddon, error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a billing repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) GetUser(id uint) (*models.User, error) {
	var user models.User
	if err := r.db.First(&user, id).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *gormRepository) SaveUser(user *models.User) error {
	return r.db.Save(user).Error
}

func (r *gormRepository) GetSubscription(provider, providerSubscriptionID string) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.Where("provider = ? AND provider_subscription_id = ?", provider, providerSubscriptionID).
		First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) GetSubscriptionByCustomerPlan(provider, customerID, planRef string) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.Where("provider = ? AND provider_customer_id = ? AND provider_plan_ref = ? AND status IN ?",
		provider, customerID, planRef,
		[]string{models.SubscriptionStatusActive, models.SubscriptionStatusPastDue}).
		Order("id DESC").
		First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) GetActiveSubscriptionByUser(userID uint) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.Where("user_id = ? AND status IN ?", userID,
		[]string{models.SubscriptionStatusActive, models.SubscriptionStatusPastDue}).
		Order("updated_at DESC").
		First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) UpsertSubscription(sub *models.Subscription) error {
	if err := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_subscription_id"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"user_id",
			"provider_customer_id",
			"provider_plan_ref",
			"tier",
			"billing_cycle",
			"status",
			"amount",
			"currency",
			"current_period_start",
			"current_period_end",
			"updated_at",
		}),
	}).Create(sub).Error; err != nil {
		return err
	}

	// Ensure ID is populated after upsert.
	return r.db.Where("provider = ? AND provider_subscription_id = ?", sub.Provider, sub.ProviderSubscriptionID).
		First(sub).Error
}

func (r *gormRepository) SaveSubscription(sub *models.Subscription) error {
	return r.db.Save(sub).Error
}

func (r *gormRepository) AppendHistory(entry *models.SubscriptionHistory) error {
	return r.db.Create(entry).Error
}

func (r *gormRepository) ListHistoryByUser(userID uint, limit int) ([]models.SubscriptionHistory, error) {
	if limit <= 0 {
		limit = 50
	}
	var entries []models.SubscriptionHistory
	err := r.db.Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}

func (r *gormRepository) CreateWebhookEventIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_event_id"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.WebhookEvent
	if err := r.db.Where("provider = ? AND provider_event_id = ?", event.Provider, event.ProviderEventID).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormRepository) GetWebhookEvent(id uint) (*models.WebhookEvent, error) {
	var event models.WebhookEvent
	if err := r.db.First(&event, id).Error; err != nil {
		return nil, err
	}
	return &event, nil
}

func (r *gormRepository) MarkWebhookStatus(id uint, status string, responseCode int, errorMessage string) error {
	updates := map[string]interface{}{
		"status":        status,
		"response_code": responseCode,
		"error_message": truncate(errorMessage, 500),
	}
	if status == models.WebhookStatusProcessed || status == models.WebhookStatusError {
		now := time.Now()
		updates["processed_at"] = &now
	}
	return r.db.Model(&models.WebhookEvent{}).Where("id = ?", id).Updates(updates).Error
}

func (r *gormRepository) IncrementWebhookAttempts(id uint) error {
	return r.db.Model(&models.WebhookEvent{}).Where("id = ?", id).
		UpdateColumn("attempts", gorm.Expr("attempts + 1")).Error
}

func (r *gormRepository) CreateDowngradeRequest(req *models.DowngradeRequest) error {
	return r.db.Create(req).Error
}

func (r *gormRepository) SaveDowngradeRequest(req *models.DowngradeRequest) error {
	return r.db.Save(req).Error
}

func (r *gormRepository) GetPendingDowngradeByUser(userID uint) (*models.DowngradeRequest, error) {
	var req models.DowngradeRequest
	err := r.db.Where("user_id = ? AND status = ?", userID, models.DowngradeStatusPending).
		Order("requested_at DESC").
		First(&req).Error
	if err != nil {
		return nil, err
	}
	return &req, nil
}

func (r *gormRepository) GetDowngradeByToken(token string) (*models.DowngradeRequest, error) {
	var req models.DowngradeRequest
	// Superseded (canceled) requests must behave as unknown tokens.
	err := r.db.Where("confirm_token = ? AND status <> ?", token, models.DowngradeStatusCanceled).
		First(&req).Error
	if err != nil {
		return nil, err
	}
	return &req, nil
}

func (r *gormRepository) ExpirePendingDowngrades(before time.Time) (int64, error) {
	res := r.db.Model(&models.DowngradeRequest{}).
		Where("status = ? AND confirm_token_expires_at < ?", models.DowngradeStatusPending, before).
		Update("status", models.DowngradeStatusCanceled)
	return res.RowsAffected, res.Error
}

func (r *gormRepository) GetPlanTier(name string) (*models.PlanTier, error) {
	var tier models.PlanTier
	err := r.db.Where("name = ? AND is_active = ?", name, true).First(&tier).Error
	if err != nil {
		return nil, err
	}
	return &tier, nil
}

func (r *gormRepository) ListUserAddons(userID uint) ([]models.PlanAddon, error) {
	var addons []models.PlanAddon
	err := r.db.
		Joins("JOIN user_addons ON user_addons.addon_id = plan_addons.id").
		Where("user_addons.user_id = ? AND plan_addons.is_active = ?", userID, true).
		Find(&addons).Error
	return addons, err
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
