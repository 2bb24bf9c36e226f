package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/ethereum/go-ethereum/common"

	"github.com/RosarioB/eliza-nft/internal/agent"
	"github.com/RosarioB/eliza-nft/internal/api"
	"github.com/RosarioB/eliza-nft/internal/config"
	"github.com/RosarioB/eliza-nft/internal/ipfs"
	"github.com/RosarioB/eliza-nft/internal/llm"
	"github.com/RosarioB/eliza-nft/internal/llm/gemini"
	"github.com/RosarioB/eliza-nft/internal/llm/openai"
	"github.com/RosarioB/eliza-nft/internal/llm/pythonbridge"
	"github.com/RosarioB/eliza-nft/internal/mint"
	"github.com/RosarioB/eliza-nft/internal/nft"
	"github.com/RosarioB/eliza-nft/internal/observability/alerting"
	"github.com/RosarioB/eliza-nft/internal/queue"
	"github.com/RosarioB/eliza-nft/internal/secrets"
	"github.com/RosarioB/eliza-nft/internal/storage"
	"github.com/RosarioB/eliza-nft/internal/storage/dynamodb"
	"github.com/RosarioB/eliza-nft/internal/storage/memory"
	"github.com/RosarioB/eliza-nft/internal/storage/mysql"
	redisstore "github.com/RosarioB/eliza-nft/internal/storage/redis"
	"github.com/RosarioB/eliza-nft/internal/web3"
	"github.com/RosarioB/eliza-nft/internal/web3/ens"
	"github.com/RosarioB/eliza-nft/internal/web3/provider"
	"github.com/RosarioB/eliza-nft/pkg/logger"
)

// application 持有守护进程运行期间需要关闭的组件。
type application struct {
	agent   *agent.Agent
	ledger  mysql.MintRepository
	sweeper sweeper
	chain   provider.Chain
	closers []func()
}

// Close 按创建的逆序释放资源。
func (a *application) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// build 根据配置装配代理及其依赖。
func build(ctx context.Context, cfg *config.Config) (_ *application, err error) {
	app := &application{}
	defer func() {
		if err != nil {
			app.Close()
		}
	}()
	log := logger.Named("mintagentd")

	if err := os.MkdirAll(cfg.Runtime.DataDir, 0o755); err != nil {
		return nil, err
	}

	var awsCfg awsLoader
	cache, locker, err := buildCache(ctx, cfg, &awsCfg, app)
	if err != nil {
		return nil, err
	}

	ledger, err := buildLedger(ctx, cfg)
	if err != nil {
		return nil, err
	}
	app.ledger = ledger
	app.closers = append(app.closers, func() {
		if err := ledger.Close(); err != nil {
			log.Warn("关闭铸造台账失败", "error", err)
		}
	})

	llmClient, err := createLLMClient(ctx, cfg)
	if err != nil {
		return nil, err
	}

	defs, err := web3.LoadChainDefinitions(cfg.Web3.ChainConfig)
	if err != nil {
		return nil, err
	}
	registry, err := provider.NewRegistry(ctx, defs)
	if err != nil {
		return nil, err
	}
	app.closers = append(app.closers, registry.Close)

	mintChain, err := registry.Chain(cfg.Web3.MintChain)
	if err != nil {
		return nil, err
	}

	var resolver mint.NameResolver
	if ensChain, err := registry.Chain(cfg.Web3.ENSChain); err != nil {
		log.Warn("未配置 ENS 解析链，仅接受十六进制地址", "chain", cfg.Web3.ENSChain, "error", err)
	} else {
		r, err := ens.NewResolver(ensChain.Client.Caller())
		if err != nil {
			return nil, err
		}
		resolver = r
	}

	signer, err := loadSigner(ctx, cfg, &awsCfg)
	if err != nil {
		return nil, err
	}

	uploader, err := ipfs.NewPinataClient(ipfs.Config{
		JWT:     cfg.ResolveJWT(),
		BaseURL: cfg.IPFS.BaseURL,
		Timeout: cfg.IPFS.Timeout(),
	})
	if err != nil {
		return nil, err
	}

	mintOpts := []mint.Option{
		mint.WithChainID(firstPositive(cfg.Web3.ChainID, mintChain.Definition.ChainID)),
		mint.WithGasLimit(cfg.Web3.GasLimit),
	}
	if addr := strings.TrimSpace(cfg.Web3.ContractAddress); addr != "" {
		if !common.IsHexAddress(addr) {
			return nil, fmt.Errorf("合约地址格式不正确: %s", addr)
		}
		mintOpts = append(mintOpts, mint.WithContract(common.HexToAddress(addr)))
	}
	pipeline, err := mint.New(uploader, resolver, mintChain.Client, signer, mintOpts...)
	if err != nil {
		return nil, err
	}
	if err := checkMintChain(ctx, mintChain.Client, pipeline.ChainID()); err != nil {
		return nil, err
	}
	app.chain = mintChain

	explorer := cfg.Web3.ExplorerURL
	if explorer == "" {
		explorer = mintChain.Definition.ExplorerURL
	}
	if explorer == "" {
		explorer = mint.DefaultExplorerURL
	}

	store := nft.NewStore(cache, nft.WithTTL(cfg.Agent.RecordTTL()))
	agentOpts := []agent.Option{
		agent.WithLocker(locker),
		agent.WithLedger(ledger),
		agent.WithAlerter(buildAlerter(cfg)),
		agent.WithExplorerURL(explorer),
		agent.WithMintTimeout(cfg.Agent.MintTimeout()),
		agent.WithLLMTimeout(cfg.LLM.CallTimeout()),
	}
	app.agent = agent.New(cfg.Agent.Name, store, agent.NewModelExtractor(llmClient), pipeline, agentOpts...)

	log.Info("铸造流水线就绪",
		"chain", mintChain.Name,
		"chain_id", pipeline.ChainID(),
		"signer", signer.Address().Hex(),
		"explorer", explorer,
		"ens", resolver != nil,
	)
	return app, nil
}

// checkMintChain 在启动时确认铸造链可达，且节点的链 ID 与签名使用的一致。
// 节点暂不可达只记录告警。
func checkMintChain(ctx context.Context, checker api.ChainChecker, chainID int64) error {
	log := logger.Named("mintagentd")
	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	snapshot, err := checker.FetchChainSnapshot(checkCtx)
	if err != nil {
		log.Warn("铸造链暂不可达", "error", err)
		return nil
	}
	if want := fmt.Sprintf("0x%x", chainID); snapshot.ChainID != want {
		return fmt.Errorf("铸造链节点返回链 ID %s，与配置的 %s 不一致", snapshot.ChainID, want)
	}
	log.Info("铸造链就绪", "chain_id", snapshot.ChainID, "block", snapshot.BlockNumber)
	return nil
}

// awsLoader 在首次需要时加载一次 AWS 配置。
type awsLoader struct {
	region string
	cfg    *aws.Config
}

func (l *awsLoader) load(ctx context.Context, region string) (aws.Config, error) {
	if l.cfg != nil && (region == "" || region == l.region) {
		return *l.cfg, nil
	}
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("加载 AWS 配置失败: %w", err)
	}
	l.region, l.cfg = region, &cfg
	return cfg, nil
}

func buildCache(ctx context.Context, cfg *config.Config, loader *awsLoader, app *application) (storage.Cache, storage.Locker, error) {
	cacheCfg := cfg.Storage.Cache
	switch cacheCfg.Driver {
	case "", "memory":
		cache := memory.NewCache()
		app.sweeper = cache
		return cache, memory.NewKeyedMutex(), nil
	case "redis":
		client, err := redisstore.Dial(ctx, redisstore.Config{
			Address:   cacheCfg.Redis.Address,
			Password:  cacheCfg.Redis.Password,
			DB:        cacheCfg.Redis.DB,
			KeyPrefix: cacheCfg.Redis.KeyPrefix,
		})
		if err != nil {
			return nil, nil, err
		}
		app.closers = append(app.closers, func() { _ = client.Close() })
		cache := redisstore.NewCache(client, cacheCfg.Redis.KeyPrefix)
		locker := redisstore.NewLocker(client, cacheCfg.Redis.KeyPrefix, redisstore.WithLease(cfg.Agent.LockLease()))
		return cache, locker, nil
	case "dynamodb":
		awsCfg, err := loader.load(ctx, cacheCfg.DynamoDB.Region)
		if err != nil {
			return nil, nil, err
		}
		client := awsdynamodb.NewFromConfig(awsCfg, func(o *awsdynamodb.Options) {
			if cacheCfg.DynamoDB.Endpoint != "" {
				o.BaseEndpoint = aws.String(cacheCfg.DynamoDB.Endpoint)
			}
		})
		cache, err := dynamodb.New(client, cacheCfg.DynamoDB.Table)
		if err != nil {
			return nil, nil, err
		}
		logger.Named("mintagentd").Warn("DynamoDB 缓存使用进程内锁，多实例部署时请改用 redis 驱动")
		return cache, memory.NewKeyedMutex(), nil
	default:
		return nil, nil, fmt.Errorf("未知的缓存驱动: %s", cacheCfg.Driver)
	}
}

func buildLedger(ctx context.Context, cfg *config.Config) (mysql.MintRepository, error) {
	ledgerCfg := cfg.Storage.Ledger
	switch ledgerCfg.Driver {
	case "", "memory":
		return mysql.NewMemoryMintRepository(cfg.Runtime.DataDir)
	case "mysql":
		return mysql.NewSQLMintRepository(ctx, mysql.Config{
			DSN:             ledgerCfg.DSN,
			MaxOpenConns:    ledgerCfg.MaxOpenConns,
			MaxIdleConns:    ledgerCfg.MaxIdleConns,
			ConnMaxLifetime: time.Duration(ledgerCfg.ConnMaxLifetimeSeconds) * time.Second,
			ConnMaxIdleTime: time.Duration(ledgerCfg.ConnMaxIdleTimeSeconds) * time.Second,
		})
	default:
		return nil, fmt.Errorf("未知的台账驱动: %s", ledgerCfg.Driver)
	}
}

func createLLMClient(ctx context.Context, cfg *config.Config) (llm.Client, error) {
	switch cfg.LLM.Provider {
	case "python_bridge":
		scriptPath := pythonbridge.ResolveScriptPath(cfg.LLM.Python.WorkingDir, cfg.LLM.Python.ScriptPath)
		return pythonbridge.NewClient(cfg.LLM.Python.PythonExecutable, scriptPath, cfg.LLM.Python.WorkingDir)
	case "", "openai":
		return openai.NewClient(openai.Config{
			APIKey:  cfg.ResolveAPIKey(),
			BaseURL: cfg.LLM.OpenAI.BaseURL,
			Models:  cfg.LLM.Models,
			Timeout: cfg.LLM.OpenAI.Timeout(),
		})
	case "gemini":
		return gemini.NewClient(ctx, gemini.Config{
			APIKey: cfg.ResolveAPIKey(),
			Models: cfg.LLM.Models,
		})
	default:
		return nil, fmt.Errorf("未知的大模型 provider: %s", cfg.LLM.Provider)
	}
}

// loadSigner 优先从 SSM 参数读取私钥，否则读取环境变量。
func loadSigner(ctx context.Context, cfg *config.Config, loader *awsLoader) (*web3.Signer, error) {
	var (
		getter secrets.Getter
		name   string
	)
	if param := strings.TrimSpace(cfg.Web3.PrivateKeySSMParameter); param != "" {
		awsCfg, err := loader.load(ctx, "")
		if err != nil {
			return nil, err
		}
		ssm, err := secrets.NewSSM(awsssm.NewFromConfig(awsCfg))
		if err != nil {
			return nil, err
		}
		getter, name = ssm, param
	} else {
		getter, name = secrets.NewEnv(), cfg.Web3.PrivateKeyEnv
	}

	key, err := getter.GetParameter(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("读取签名私钥失败: %w", err)
	}
	return web3.NewSignerFromHex(key)
}

func buildAlerter(cfg *config.Config) alerting.Dispatcher {
	notifiers := []alerting.Notifier{&alerting.LogNotifier{}}
	if url := cfg.ResolveSlackWebhook(); url != "" {
		notifiers = append(notifiers, &alerting.SlackNotifier{Sender: alerting.NewWebhookSender(url)})
	}
	return alerting.NewFanout(notifiers...)
}

func buildQueue(ctx context.Context, cfg *config.Config) (queue.Queue, error) {
	qc := cfg.Queue
	switch qc.Driver {
	case "", "memory":
		return queue.NewMemoryQueue(qc.Capacity), nil
	case "redis":
		return queue.NewRedisQueue(ctx, queue.RedisConfig{
			Address:   qc.Redis.Address,
			Password:  qc.Redis.Password,
			DB:        qc.Redis.DB,
			Queue:     qc.Redis.Queue,
			BlockWait: time.Duration(qc.Redis.BlockWaitSeconds) * time.Second,
		})
	case "rabbitmq":
		return queue.NewRabbitMQQueue(queue.RabbitMQConfig{
			URL:        qc.RabbitMQ.URL,
			Queue:      qc.RabbitMQ.Queue,
			Prefetch:   qc.RabbitMQ.Prefetch,
			Durable:    qc.RabbitMQ.Durable,
			AutoDelete: qc.RabbitMQ.AutoDelete,
		})
	default:
		return nil, fmt.Errorf("未知的队列驱动: %s", qc.Driver)
	}
}

func firstPositive(values ...int64) int64 {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}
