// Package publisher 将交易生命周期事件发布到 Kafka
package publisher

import (
	"context"

	"github.com/wyfcoding/paymentplatform/internal/transaction/domain"
	"github.com/wyfcoding/paymentplatform/pkg/mq"
)

const statusChangedTopic = "payment.transaction.status_changed"

// KafkaEventPublisher 基于 Kafka 的事件发布实现
type KafkaEventPublisher struct {
	producer *mq.KafkaProducer
}

// NewKafkaEventPublisher 创建事件发布器
func NewKafkaEventPublisher(producer *mq.KafkaProducer) *KafkaEventPublisher {
	return &KafkaEventPublisher{producer: producer}
}

// PublishStatusChanged 发布状态变更事件，按交易 ID 分区保证单交易内有序
func (p *KafkaEventPublisher) PublishStatusChanged(ctx context.Context, event domain.StatusChangedEvent) error {
	return p.producer.PublishJSON(ctx, statusChangedTopic, event.TransactionID, event)
}
