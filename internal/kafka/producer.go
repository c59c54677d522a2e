// Package kafka публикует биллинговые события для внешних потребителей:
// изменения транзакций, изменения подписок и DLQ вебхуков для алертинга.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/Dhoini/Carrier-billing-gateway/internal/domain"
	"github.com/Dhoini/Carrier-billing-gateway/pkg/logger"
)

// Топики биллингового шлюза
const (
	TopicTransactions  = "billing_transactions"
	TopicSubscriptions = "billing_subscriptions"
	TopicWebhookDLQ    = "billing_webhook_dlq"
)

// Producer определяет интерфейс для публикации событий в Kafka.
type Producer interface {
	// PublishTransaction отправляет снимок транзакции после смены статуса.
	PublishTransaction(ctx context.Context, tx *domain.Transaction) error

	// PublishSubscription отправляет снимок подписки после смены статуса.
	PublishSubscription(ctx context.Context, sub *domain.Subscription) error

	// PublishWebhookDLQ отправляет событие, исчерпавшее попытки обработки.
	// Потребитель топика - внешний алертинг.
	PublishWebhookDLQ(ctx context.Context, event *domain.WebhookEvent) error

	// Close закрывает соединение продюсера Kafka.
	Close() error
}

// kafkaProducer реализует интерфейс Producer, используя segmentio/kafka-go.
type kafkaProducer struct {
	writer *kafka.Writer
	log    *logger.Logger
}

// NewKafkaProducer создает и настраивает новый продюсер Kafka.
func NewKafkaProducer(brokers []string, log *logger.Logger) (Producer, error) {
	if len(brokers) == 0 {
		log.Errorw("Kafka brokers list is empty in config, cannot create producer")
		return nil, errors.New("kafka brokers are not configured")
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireOne,
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		ReadTimeout:  10 * time.Second,
	}

	log.Infow("Kafka producer initialized", "brokers", brokers)
	return &kafkaProducer{
		writer: writer,
		log:    log,
	}, nil
}

// PublishTransaction публикует снимок транзакции. Ключ сообщения - ID
// транзакции: все события одной транзакции попадают в одну партицию и
// сохраняют порядок.
func (k *kafkaProducer) PublishTransaction(ctx context.Context, tx *domain.Transaction) error {
	return k.publish(ctx, TopicTransactions, tx.ID.String(), tx)
}

// PublishSubscription публикует снимок подписки с ключом по ID подписки.
func (k *kafkaProducer) PublishSubscription(ctx context.Context, sub *domain.Subscription) error {
	return k.publish(ctx, TopicSubscriptions, sub.ID.String(), sub)
}

// PublishWebhookDLQ публикует событие вебхука, исчерпавшее попытки.
func (k *kafkaProducer) PublishWebhookDLQ(ctx context.Context, event *domain.WebhookEvent) error {
	return k.publish(ctx, TopicWebhookDLQ, event.ID.String(), event)
}

func (k *kafkaProducer) publish(ctx context.Context, topic, key string, payload any) error {
	messageValue, err := json.Marshal(payload)
	if err != nil {
		k.log.Errorw("Failed to marshal message data to JSON for Kafka", "error", err, "topic", topic, "key", key)
		return fmt.Errorf("kafka: failed to marshal message data: %w", err)
	}

	message := kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: messageValue,
		Time:  time.Now(),
	}

	writeCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	if err := k.writer.WriteMessages(writeCtx, message); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			k.log.Errorw("Kafka write timeout exceeded", "error", err, "topic", topic, "key", key)
			return fmt.Errorf("kafka: write timeout: %w", err)
		}
		k.log.Errorw("Failed to write message to Kafka", "error", err, "topic", topic, "key", key)
		return fmt.Errorf("kafka: failed to write message: %w", err)
	}

	k.log.Debugw("Published message to Kafka", "topic", topic, "key", key)
	return nil
}

// Close закрывает соединение Kafka Writer при graceful shutdown.
func (k *kafkaProducer) Close() error {
	k.log.Infow("Closing Kafka producer writer...")
	if err := k.writer.Close(); err != nil {
		k.log.Errorw("Failed to close Kafka writer", "error", err)
		return fmt.Errorf("kafka: failed to close writer: %w", err)
	}
	k.log.Infow("Kafka producer writer closed successfully")
	return nil
}
