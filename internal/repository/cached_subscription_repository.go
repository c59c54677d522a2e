package repository

import (
	"context"

	"github.com/Dhoini/Carrier-billing-gateway/internal/domain"
	"github.com/Dhoini/Carrier-billing-gateway/pkg/logger"
	"github.com/google/uuid"
)

// cachedSubscriptionRepo оборачивает SubscriptionRepository кешем Redis по
// схеме cache-aside. Кеш best-effort: ошибка кеша логируется, но запрос
// уходит в базу и не падает.
type cachedSubscriptionRepo struct {
	repo  SubscriptionRepository
	cache *RedisCacheRepository
	log   *logger.Logger
}

// NewCachedSubscriptionRepository создает репозиторий подписок с кешированием.
func NewCachedSubscriptionRepository(repo SubscriptionRepository, cache *RedisCacheRepository, log *logger.Logger) SubscriptionRepository {
	return &cachedSubscriptionRepo{
		repo:  repo,
		cache: cache,
		log:   log,
	}
}

// Create сохраняет подписку и кладет ее в кеш.
func (r *cachedSubscriptionRepo) Create(ctx context.Context, sub *domain.Subscription) error {
	if err := r.repo.Create(ctx, sub); err != nil {
		return err
	}

	if err := r.cache.CacheSubscription(ctx, sub); err != nil {
		r.log.Warnw("Failed to cache subscription after create", "error", err, "subscriptionID", sub.ID)
	}
	return nil
}

// Update обновляет подписку и перезаписывает кеш.
func (r *cachedSubscriptionRepo) Update(ctx context.Context, sub *domain.Subscription) error {
	if err := r.repo.Update(ctx, sub); err != nil {
		return err
	}

	if err := r.cache.InvalidateSubscription(ctx, sub); err != nil {
		r.log.Warnw("Failed to invalidate subscription cache after update", "error", err, "subscriptionID", sub.ID)
	}
	if err := r.cache.CacheSubscription(ctx, sub); err != nil {
		r.log.Warnw("Failed to cache subscription after update", "error", err, "subscriptionID", sub.ID)
	}
	return nil
}

// GetByID сначала смотрит в кеш, затем в базу.
func (r *cachedSubscriptionRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Subscription, error) {
	cached, err := r.cache.GetCachedSubscription(ctx, id)
	if err == nil && cached != nil {
		return cached, nil
	}

	sub, err := r.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if cacheErr := r.cache.CacheSubscription(ctx, sub); cacheErr != nil {
		r.log.Warnw("Failed to cache subscription after DB read", "error", cacheErr, "subscriptionID", sub.ID)
	}
	return sub, nil
}

// GetByOperatorSubID сначала смотрит в кеш, затем в базу.
func (r *cachedSubscriptionRepo) GetByOperatorSubID(ctx context.Context, operatorCode, operatorSubID string) (*domain.Subscription, error) {
	cached, err := r.cache.GetCachedSubscriptionByOperatorSubID(ctx, operatorCode, operatorSubID)
	if err == nil && cached != nil {
		return cached, nil
	}

	sub, err := r.repo.GetByOperatorSubID(ctx, operatorCode, operatorSubID)
	if err != nil {
		return nil, err
	}

	if cacheErr := r.cache.CacheSubscription(ctx, sub); cacheErr != nil {
		r.log.Warnw("Failed to cache subscription after DB read", "error", cacheErr, "subscriptionID", sub.ID)
	}
	return sub, nil
}

// GetByIdentifier сначала смотрит в кеш, затем в базу.
func (r *cachedSubscriptionRepo) GetByIdentifier(ctx context.Context, operatorCode, identifier string) ([]domain.Subscription, error) {
	cached, err := r.cache.GetCachedIdentifierSubscriptions(ctx, operatorCode, identifier)
	if err == nil && cached != nil {
		return cached, nil
	}

	subs, err := r.repo.GetByIdentifier(ctx, operatorCode, identifier)
	if err != nil {
		return nil, err
	}

	if cacheErr := r.cache.CacheIdentifierSubscriptions(ctx, operatorCode, identifier, subs); cacheErr != nil {
		r.log.Warnw("Failed to cache identifier subscriptions after DB read", "error", cacheErr, "operator", operatorCode)
	}
	return subs, nil
}
