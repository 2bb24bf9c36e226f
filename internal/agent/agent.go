package agent

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"strings"
	"time"

	xerrors "github.com/RosarioB/eliza-nft/internal/errors"
	"github.com/RosarioB/eliza-nft/internal/mint"
	"github.com/RosarioB/eliza-nft/internal/nft"
	"github.com/RosarioB/eliza-nft/internal/observability/alerting"
	"github.com/RosarioB/eliza-nft/internal/observability/metrics"
	"github.com/RosarioB/eliza-nft/internal/storage"
	"github.com/RosarioB/eliza-nft/internal/storage/memory"
	"github.com/RosarioB/eliza-nft/internal/storage/mysql"
	"github.com/RosarioB/eliza-nft/pkg/logger"
)

// Message 是一条来自聊天桥接层的对话消息。
type Message struct {
	ID            string `json:"id,omitempty"`
	ParticipantID string `json:"user_id"`
	Text          string `json:"text"`
	ReceivedAt    int64  `json:"received_at,omitempty"`
}

// OutcomeKind 描述一次评估的结果类别。
type OutcomeKind string

const (
	// OutcomeSkipped 表示记录已铸造，本轮不再处理。
	OutcomeSkipped OutcomeKind = "skipped"
	// OutcomeUnchanged 表示本轮没有新的字段。
	OutcomeUnchanged OutcomeKind = "unchanged"
	// OutcomeMerged 表示写入了新字段但记录仍未完整。
	OutcomeMerged OutcomeKind = "merged"
	// OutcomeMinted 表示铸造交易已提交并写回存储。
	OutcomeMinted OutcomeKind = "minted"
	// OutcomeFailed 表示某个步骤失败，错误已被记录并吞掉。
	OutcomeFailed OutcomeKind = "failed"
)

// 失败发生的阶段。
const (
	StageLock    = "lock"
	StageLoad    = "load"
	StageExtract = "extract"
	StageSave    = "save"
	StageMint    = "mint"
	StagePersist = "persist"
)

// Outcome 是 Handle 的类型化结果，供日志、指标和 API 区分失败类型。
type Outcome struct {
	Kind    OutcomeKind
	Key     string
	Record  nft.Record
	Changed bool
	Receipt *mint.Receipt
	Stage   string
	Err     error
}

// Code 返回失败对应的错误码，成功时为空。
func (o Outcome) Code() xerrors.Code {
	if o.Err == nil {
		return ""
	}
	return xerrors.CodeOf(o.Err)
}

// Minter 对完整记录执行铸造，*mint.Pipeline 实现了该接口。
type Minter interface {
	Mint(ctx context.Context, record nft.Record) (mint.Receipt, error)
}

// Agent 协调字段抽取、记录合并与铸造流水线，是系统的业务核心。
type Agent struct {
	name        string
	store       *nft.Store
	extractor   Extractor
	minter      Minter
	locker      storage.Locker
	ledger      mysql.MintRepository
	alerter     alerting.Dispatcher
	explorerURL string
	now         func() time.Time
	llmTimeout  time.Duration
	mintTimeout time.Duration
	log         *slog.Logger
}

// Option 定义可选的 Agent 配置。
type Option func(*Agent)

// WithLocker 替换按键互斥实现，多实例部署时应使用 redis.Locker。
func WithLocker(locker storage.Locker) Option {
	return func(a *Agent) {
		if locker != nil {
			a.locker = locker
		}
	}
}

// WithLedger 配置铸造台账。
func WithLedger(repo mysql.MintRepository) Option {
	return func(a *Agent) {
		a.ledger = repo
	}
}

// WithAlerter 配置告警分发器。
func WithAlerter(d alerting.Dispatcher) Option {
	return func(a *Agent) {
		a.alerter = d
	}
}

// WithExplorerURL 设置区块浏览器地址。
func WithExplorerURL(url string) Option {
	return func(a *Agent) {
		if url = strings.TrimRight(strings.TrimSpace(url), "/"); url != "" {
			a.explorerURL = url
		}
	}
}

// WithClock 替换时间源，主要用于测试。
func WithClock(now func() time.Time) Option {
	return func(a *Agent) {
		if now != nil {
			a.now = now
		}
	}
}

// WithLLMTimeout 设置调用大模型的超时时间。
func WithLLMTimeout(timeout time.Duration) Option {
	return func(a *Agent) {
		if timeout < 0 {
			timeout = 0
		}
		a.llmTimeout = timeout
	}
}

// WithMintTimeout 设置整条铸造流水线的超时时间。
func WithMintTimeout(timeout time.Duration) Option {
	return func(a *Agent) {
		if timeout < 0 {
			timeout = 0
		}
		a.mintTimeout = timeout
	}
}

// New 创建一个 Agent。name 参与存储键的拼接。
func New(name string, store *nft.Store, extractor Extractor, minter Minter, opts ...Option) *Agent {
	ag := &Agent{
		name:        name,
		store:       store,
		extractor:   extractor,
		minter:      minter,
		locker:      memory.NewKeyedMutex(),
		explorerURL: mint.DefaultExplorerURL,
		now:         time.Now,
		log:         logger.Named("agent"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(ag)
		}
	}
	return ag
}

// Name 返回代理名称。
func (a *Agent) Name() string {
	return a.name
}

// Key 返回参与者的存储键。
func (a *Agent) Key(participantID string) string {
	return nft.CacheKey(a.name, participantID)
}

// Validate 判断本轮是否需要运行评估器：记录尚未铸造时为 true。
// 读取失败时记录日志并返回 false。
func (a *Agent) Validate(ctx context.Context, participantID string) bool {
	key := a.Key(participantID)
	record, err := a.store.Load(ctx, key)
	if err != nil {
		a.logFailure(ctx, key, "validate", err)
		return false
	}
	return !record.IsMinted()
}

// Handle 处理一条消息：抽取、合并、在记录完整时铸造。任何失败都不会向外传播，
// 只体现在返回的 Outcome 中。
func (a *Agent) Handle(ctx context.Context, msg Message) (out Outcome) {
	defer func() {
		metrics.ObserveEvaluation(string(out.Kind))
	}()

	participant := strings.TrimSpace(msg.ParticipantID)
	if participant == "" {
		return a.fail(ctx, Outcome{}, StageLoad, xerrors.New(xerrors.CodeInvalidArgument, "参与者 ID 不能为空"))
	}
	key := a.Key(participant)
	out = Outcome{Key: key}

	if a.store == nil || a.extractor == nil || a.minter == nil {
		return a.fail(ctx, out, StageLoad, xerrors.New(xerrors.CodeInitializationFailure, "代理依赖未完整配置"))
	}

	// 同一个键上的读改写串行执行。
	unlock, err := a.locker.Lock(ctx, key)
	if err != nil {
		return a.fail(ctx, out, StageLock, xerrors.Wrap(xerrors.CodeCacheFailure, err, "获取记录锁失败", xerrors.WithMetadata("key", key)))
	}
	defer unlock()

	// 加锁后重新读取记录。
	record, err := a.store.Load(ctx, key)
	if err != nil {
		return a.fail(ctx, out, StageLoad, err)
	}
	out.Record = record
	if record.IsMinted() {
		out.Kind = OutcomeSkipped
		return out
	}

	if !nft.IsComplete(record) {
		fields, err := a.extract(ctx, msg.Text)
		if err != nil {
			return a.fail(ctx, out, StageExtract, err)
		}
		merged, changed := nft.Merge(record, fields, a.now())
		if changed {
			if err := a.store.Save(ctx, key, merged); err != nil {
				return a.fail(ctx, out, StageSave, err)
			}
			a.log.InfoContext(ctx, "NFT 字段已更新",
				slog.String("key", key),
				slog.Any("missing", nft.MissingFields(merged)))
		}
		record = merged
		out.Record = merged
		out.Changed = changed
		if !nft.IsComplete(record) {
			out.Kind = OutcomeUnchanged
			if changed {
				out.Kind = OutcomeMerged
			}
			return out
		}
	}

	receipt, err := a.mint(ctx, record)
	if err != nil {
		return a.fail(ctx, out, StageMint, err)
	}
	out.Receipt = &receipt
	a.log.InfoContext(ctx, "NFT 铸造交易已提交",
		slog.String("key", key),
		slog.String("tx_hash", receipt.TxHash.Hex()),
		slog.String("token_uri", receipt.TokenURI))

	minted := nft.Minted(receipt.TxHash.Hex(), a.now())
	if err := a.store.Save(ctx, key, minted); err != nil {
		// 交易已经提交，但存储未更新，下一轮仍会看到完整记录。
		return a.fail(ctx, out, StagePersist, xerrors.Wrap(xerrors.CodeCacheFailure, err, "写入铸造结果失败",
			xerrors.WithMetadata("key", key),
			xerrors.WithMetadata("tx_hash", receipt.TxHash.Hex()),
			xerrors.WithSeverity(xerrors.SeverityCritical),
			xerrors.WithAlert(true)))
	}
	out.Record = minted
	out.Kind = OutcomeMinted

	metrics.ObserveMint()
	logger.Audit().InfoContext(ctx, "nft minted",
		slog.String("key", key),
		slog.String("participant", participant),
		slog.String("recipient", receipt.Recipient.Hex()),
		slog.String("tx_hash", receipt.TxHash.Hex()),
		slog.Int64("chain_id", receipt.ChainID))
	a.recordLedger(ctx, participant, key, record, receipt)
	return out
}

func (a *Agent) extract(ctx context.Context, text string) (nft.Fields, error) {
	if strings.TrimSpace(text) == "" {
		return nft.Fields{}, nil
	}
	llmCtx := ctx
	if a.llmTimeout > 0 {
		var cancel context.CancelFunc
		llmCtx, cancel = context.WithTimeout(ctx, a.llmTimeout)
		defer cancel()
	}
	fields, err := a.extractor.Extract(llmCtx, text)
	if err != nil {
		if stdErrors.Is(err, context.DeadlineExceeded) {
			return nft.Fields{}, xerrors.Wrap(xerrors.CodeTimeout, err, "大模型抽取超时")
		}
		if _, ok := xerrors.From(err); !ok {
			err = xerrors.Wrap(xerrors.CodeExtractionFailure, err, "抽取 NFT 字段失败")
		}
		return nft.Fields{}, err
	}
	return fields, nil
}

func (a *Agent) mint(ctx context.Context, record nft.Record) (mint.Receipt, error) {
	mintCtx := ctx
	if a.mintTimeout > 0 {
		var cancel context.CancelFunc
		mintCtx, cancel = context.WithTimeout(ctx, a.mintTimeout)
		defer cancel()
	}
	receipt, err := a.minter.Mint(mintCtx, record)
	if err != nil {
		if _, ok := xerrors.From(err); !ok {
			err = xerrors.Wrap(xerrors.CodeMintFailure, err, "铸造失败")
		}
		return mint.Receipt{}, err
	}
	return receipt, nil
}

func (a *Agent) recordLedger(ctx context.Context, participant, key string, record nft.Record, receipt mint.Receipt) {
	if a.ledger == nil {
		return
	}
	entry := mysql.MintRecord{
		RecordKey:       key,
		Participant:     participant,
		Recipient:       record.Recipient,
		ResolvedAddress: receipt.Recipient.Hex(),
		TokenURI:        receipt.TokenURI,
		TxHash:          receipt.TxHash.Hex(),
		ChainID:         receipt.ChainID,
		CreatedAt:       a.now().UnixMilli(),
	}
	if err := a.ledger.Save(ctx, entry); err != nil {
		a.log.WarnContext(ctx, "写入铸造台账失败",
			slog.String("key", key),
			slog.String("tx_hash", entry.TxHash),
			slog.String("error", err.Error()))
	}
}

// fail 记录失败、更新指标并按需告警，然后返回失败结果。
func (a *Agent) fail(ctx context.Context, out Outcome, stage string, err error) Outcome {
	out.Kind = OutcomeFailed
	out.Stage = stage
	out.Err = err
	a.logFailure(ctx, out.Key, stage, err)
	if xerrors.ShouldAlert(err) && a.alerter != nil {
		event := alerting.EventFromError(err, out.Key, stage, a.now())
		if alertErr := a.alerter.Notify(ctx, event); alertErr != nil {
			a.log.WarnContext(ctx, "发送告警失败", slog.String("key", out.Key), slog.String("error", alertErr.Error()))
		}
	}
	return out
}

func (a *Agent) logFailure(ctx context.Context, key, stage string, err error) {
	code := xerrors.CodeOf(err)
	metrics.ObserveFailure(string(code))
	a.log.ErrorContext(ctx, "NFT 数据评估失败",
		slog.String("key", key),
		slog.String("stage", stage),
		slog.String("error_code", string(code)),
		slog.String("error", err.Error()))
}
