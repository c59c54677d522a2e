package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Dhoini/Carrier-billing-gateway/internal/domain"
	"github.com/Dhoini/Carrier-billing-gateway/pkg/logger"
	"github.com/google/uuid"
)

const (
	// Префиксы ключей для различных типов данных
	subscriptionKeyPrefix  = "subscription:"
	operatorSubKeyPrefix   = "operator_sub:"
	identifierSubKeyPrefix = "identifier_subs:"

	// TTL для кэша
	defaultCacheTTL = 15 * time.Minute
)

// RedisCacheRepository реализует кеширование подписок в Redis
type RedisCacheRepository struct {
	client *redis.Client
	log    *logger.Logger
}

// NewRedisCacheRepository создает новый экземпляр Redis репозитория
func NewRedisCacheRepository(redisAddr, redisPassword string, redisDB int, log *logger.Logger) (*RedisCacheRepository, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     redisAddr,
		Password: redisPassword,
		DB:       redisDB,
	})

	// Проверяем соединение с Redis
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		log.Errorw("Failed to connect to Redis", "error", err)
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Infow("Connected to Redis successfully", "addr", redisAddr)
	return &RedisCacheRepository{
		client: client,
		log:    log,
	}, nil
}

// Close закрывает соединение с Redis
func (r *RedisCacheRepository) Close() error {
	return r.client.Close()
}

// CacheSubscription кеширует подписку по платформенному UUID и по паре
// (operator_code, operator_sub_id) - вебхук-движок ищет по второму ключу.
func (r *RedisCacheRepository) CacheSubscription(ctx context.Context, sub *domain.Subscription) error {
	data, err := json.Marshal(sub)
	if err != nil {
		r.log.Errorw("Failed to marshal subscription for caching", "error", err, "subscriptionID", sub.ID)
		return fmt.Errorf("failed to marshal subscription: %w", err)
	}

	key := fmt.Sprintf("%s%s", subscriptionKeyPrefix, sub.ID)
	if err := r.client.Set(ctx, key, data, defaultCacheTTL).Err(); err != nil {
		r.log.Errorw("Failed to cache subscription in Redis", "error", err, "subscriptionID", sub.ID)
		return fmt.Errorf("failed to cache subscription: %w", err)
	}

	if sub.OperatorSubID != "" {
		opKey := fmt.Sprintf("%s%s:%s", operatorSubKeyPrefix, sub.OperatorCode, sub.OperatorSubID)
		if err := r.client.Set(ctx, opKey, data, defaultCacheTTL).Err(); err != nil {
			r.log.Errorw("Failed to cache subscription by operator sub ID", "error", err, "subscriptionID", sub.ID)
			return fmt.Errorf("failed to cache subscription by operator sub ID: %w", err)
		}
	}

	r.log.Debugw("Subscription cached successfully", "subscriptionID", sub.ID)
	return nil
}

// GetCachedSubscription получает подписку из кеша по платформенному UUID.
// Промах кеша - это nil без ошибки.
func (r *RedisCacheRepository) GetCachedSubscription(ctx context.Context, id uuid.UUID) (*domain.Subscription, error) {
	key := fmt.Sprintf("%s%s", subscriptionKeyPrefix, id)
	return r.getSubscription(ctx, key)
}

// GetCachedSubscriptionByOperatorSubID получает подписку из кеша по ID оператора
func (r *RedisCacheRepository) GetCachedSubscriptionByOperatorSubID(ctx context.Context, operatorCode, operatorSubID string) (*domain.Subscription, error) {
	key := fmt.Sprintf("%s%s:%s", operatorSubKeyPrefix, operatorCode, operatorSubID)
	return r.getSubscription(ctx, key)
}

func (r *RedisCacheRepository) getSubscription(ctx context.Context, key string) (*domain.Subscription, error) {
	data, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			r.log.Debugw("Subscription not found in cache", "key", key)
			return nil, nil
		}
		r.log.Errorw("Error getting subscription from Redis", "error", err, "key", key)
		return nil, fmt.Errorf("failed to get subscription from cache: %w", err)
	}

	var sub domain.Subscription
	if err := json.Unmarshal(data, &sub); err != nil {
		r.log.Errorw("Failed to unmarshal cached subscription", "error", err, "key", key)
		return nil, fmt.Errorf("failed to unmarshal cached subscription: %w", err)
	}

	r.log.Debugw("Subscription retrieved from cache", "subscriptionID", sub.ID)
	return &sub, nil
}

// InvalidateSubscription удаляет подписку из кеша по всем ключам
func (r *RedisCacheRepository) InvalidateSubscription(ctx context.Context, sub *domain.Subscription) error {
	keys := []string{fmt.Sprintf("%s%s", subscriptionKeyPrefix, sub.ID)}
	if sub.OperatorSubID != "" {
		keys = append(keys, fmt.Sprintf("%s%s:%s", operatorSubKeyPrefix, sub.OperatorCode, sub.OperatorSubID))
	}
	keys = append(keys, fmt.Sprintf("%s%s:%s", identifierSubKeyPrefix, sub.OperatorCode, sub.Identifier))

	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		r.log.Errorw("Failed to invalidate subscription cache", "error", err, "subscriptionID", sub.ID)
		return fmt.Errorf("failed to invalidate subscription cache: %w", err)
	}

	r.log.Debugw("Subscription cache invalidated", "subscriptionID", sub.ID)
	return nil
}

// CacheIdentifierSubscriptions кеширует список подписок абонента у оператора
func (r *RedisCacheRepository) CacheIdentifierSubscriptions(ctx context.Context, operatorCode, identifier string, subs []domain.Subscription) error {
	key := fmt.Sprintf("%s%s:%s", identifierSubKeyPrefix, operatorCode, identifier)

	data, err := json.Marshal(subs)
	if err != nil {
		r.log.Errorw("Failed to marshal identifier subscriptions for caching", "error", err, "operator", operatorCode)
		return fmt.Errorf("failed to marshal identifier subscriptions: %w", err)
	}

	if err := r.client.Set(ctx, key, data, defaultCacheTTL).Err(); err != nil {
		r.log.Errorw("Failed to cache identifier subscriptions in Redis", "error", err, "operator", operatorCode)
		return fmt.Errorf("failed to cache identifier subscriptions: %w", err)
	}

	r.log.Debugw("Identifier subscriptions cached successfully", "operator", operatorCode, "count", len(subs))
	return nil
}

// GetCachedIdentifierSubscriptions получает список подписок абонента из кеша
func (r *RedisCacheRepository) GetCachedIdentifierSubscriptions(ctx context.Context, operatorCode, identifier string) ([]domain.Subscription, error) {
	key := fmt.Sprintf("%s%s:%s", identifierSubKeyPrefix, operatorCode, identifier)

	data, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			r.log.Debugw("Identifier subscriptions not found in cache", "operator", operatorCode)
			return nil, nil
		}
		r.log.Errorw("Error getting identifier subscriptions from Redis", "error", err, "operator", operatorCode)
		return nil, fmt.Errorf("failed to get identifier subscriptions from cache: %w", err)
	}

	var subs []domain.Subscription
	if err := json.Unmarshal(data, &subs); err != nil {
		r.log.Errorw("Failed to unmarshal cached identifier subscriptions", "error", err, "operator", operatorCode)
		return nil, fmt.Errorf("failed to unmarshal cached identifier subscriptions: %w", err)
	}

	r.log.Debugw("Identifier subscriptions retrieved from cache", "operator", operatorCode, "count", len(subs))
	return subs, nil
}
