// Package queue 提供对话消息的异步投递与消费，驱动包括内存、Redis List 与 RabbitMQ。
package queue

import (
	"context"
)

// Handler 处理来自消息队列的一条原始消息。
type Handler func(ctx context.Context, payload []byte) error

// Producer 负责向队列投递消息。
type Producer interface {
	Publish(ctx context.Context, payload []byte) error
	Close() error
}

// Consumer 负责从队列中消费消息。
type Consumer interface {
	Consume(ctx context.Context, workerCount int, handler Handler) error
	Close() error
}

// Queue 同时具备生产者与消费者能力。
type Queue interface {
	Producer
	Consumer
}
