package queue

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/RosarioB/eliza-nft/internal/agent"
	xerrors "github.com/RosarioB/eliza-nft/internal/errors"
	"github.com/RosarioB/eliza-nft/pkg/logger"
)

// MessageHandler 定义了处理器所需的 Agent 能力。
type MessageHandler interface {
	Handle(ctx context.Context, msg agent.Message) agent.Outcome
}

// Processor 负责从队列消费消息并交给 Agent 处理。
// 同一参与者的消息由 Agent 的按键锁串行化。
type Processor struct {
	handler     MessageHandler
	consumer    Consumer
	workerCount int
	logger      *slog.Logger
}

// ProcessorOption 定义可选配置。
type ProcessorOption func(*Processor)

// WithProcessorLogger 指定日志输出。
func WithProcessorLogger(l *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithWorkerCount 设置消费协程数量。
func WithWorkerCount(workers int) ProcessorOption {
	return func(p *Processor) {
		if workers > 0 {
			p.workerCount = workers
		}
	}
}

// NewProcessor 构造 Processor。
func NewProcessor(handler MessageHandler, consumer Consumer, opts ...ProcessorOption) *Processor {
	p := &Processor{
		handler:     handler,
		consumer:    consumer,
		workerCount: 1,
		logger:      logger.Named("queue"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Start 启动消息处理循环，直到 ctx 结束。
func (p *Processor) Start(ctx context.Context) error {
	if p.consumer == nil || p.handler == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置消息消费者")
	}
	return p.consumer.Consume(ctx, p.workerCount, p.handle)
}

// handle 解码消息并交给 Agent。Agent 内部已吞掉业务失败，
// 这里只对无法解码的消息返回 nil 并丢弃，避免毒消息反复投递。
func (p *Processor) handle(ctx context.Context, payload []byte) error {
	var msg agent.Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		p.logger.WarnContext(ctx, "丢弃无法解析的消息", slog.String("error", err.Error()))
		return nil
	}
	if strings.TrimSpace(msg.ParticipantID) == "" {
		p.logger.WarnContext(ctx, "丢弃缺少参与者的消息", slog.String("message_id", msg.ID))
		return nil
	}
	out := p.handler.Handle(ctx, msg)
	p.logger.DebugContext(ctx, "消息处理完成",
		slog.String("message_id", msg.ID),
		slog.String("key", out.Key),
		slog.String("outcome", string(out.Kind)))
	return nil
}

// Publisher 将消息编码后投递到队列。
type Publisher struct {
	producer Producer
	now      func() time.Time
}

// NewPublisher 创建消息投递器。
func NewPublisher(producer Producer) *Publisher {
	return &Publisher{producer: producer, now: time.Now}
}

// Enqueue 补全消息 ID 与接收时间后投递，返回最终的消息。
func (p *Publisher) Enqueue(ctx context.Context, msg agent.Message) (agent.Message, error) {
	if p == nil || p.producer == nil {
		return msg, xerrors.New(xerrors.CodeInitializationFailure, "未配置消息队列")
	}
	if strings.TrimSpace(msg.ParticipantID) == "" {
		return msg, xerrors.New(xerrors.CodeInvalidArgument, "参与者 ID 不能为空")
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.ReceivedAt == 0 {
		msg.ReceivedAt = p.now().UnixMilli()
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return msg, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码消息失败")
	}
	if err := p.producer.Publish(ctx, payload); err != nil {
		return msg, xerrors.Wrap(xerrors.CodeUnknown, err, "投递消息失败", xerrors.WithMetadata("message_id", msg.ID))
	}
	logger.Audit().InfoContext(ctx, "message accepted",
		slog.String("message_id", msg.ID),
		slog.String("participant", msg.ParticipantID))
	return msg, nil
}
