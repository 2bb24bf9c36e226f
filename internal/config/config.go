package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/RosarioB/eliza-nft/internal/llm"
	"github.com/RosarioB/eliza-nft/pkg/logger"
)

// Config 描述了铸造代理在启动阶段需要加载的核心配置。
type Config struct {
	Server   ServerConfig   `json:"server"`
	Agent    AgentConfig    `json:"agent"`
	Storage  StorageConfig  `json:"storage"`
	Queue    QueueConfig    `json:"queue"`
	LLM      LLMConfig      `json:"llm"`
	IPFS     IPFSConfig     `json:"ipfs"`
	Web3     Web3Config     `json:"web3"`
	Alerting AlertingConfig `json:"alerting"`
	Logging  logger.Config  `json:"logging"`
	Runtime  RuntimeConfig  `json:"runtime"`
}

// ServerConfig 控制 API 服务与指标服务的监听地址。
type ServerConfig struct {
	Address        string `json:"address"`
	MetricsAddress string `json:"metrics_address"`
}

// AgentConfig 描述代理名称与记录生命周期。
type AgentConfig struct {
	Name               string `json:"name"`
	RecordTTLSeconds   int    `json:"record_ttl_seconds"`
	LockLeaseSeconds   int    `json:"lock_lease_seconds"`
	MintTimeoutSeconds int    `json:"mint_timeout_seconds"`
}

// RecordTTL 返回记录过期时间。
func (a AgentConfig) RecordTTL() time.Duration {
	return time.Duration(a.RecordTTLSeconds) * time.Second
}

// LockLease 返回分布式锁租期。
func (a AgentConfig) LockLease() time.Duration {
	return time.Duration(a.LockLeaseSeconds) * time.Second
}

// MintTimeout 返回单次铸造流程的超时。
func (a AgentConfig) MintTimeout() time.Duration {
	return time.Duration(a.MintTimeoutSeconds) * time.Second
}

// StorageConfig 统一描述记录缓存与铸造账本的后端。
type StorageConfig struct {
	Cache  CacheConfig  `json:"cache"`
	Ledger LedgerConfig `json:"ledger"`
}

// CacheConfig 选择参与者记录的存储驱动。
type CacheConfig struct {
	Driver   string         `json:"driver"`
	Redis    RedisConfig    `json:"redis"`
	DynamoDB DynamoDBConfig `json:"dynamodb"`
}

// RedisConfig 描述 Redis 连接信息。
type RedisConfig struct {
	Address   string `json:"address"`
	Password  string `json:"password"`
	DB        int    `json:"db"`
	KeyPrefix string `json:"key_prefix"`
}

// DynamoDBConfig 描述 DynamoDB 表与区域。
type DynamoDBConfig struct {
	Table    string `json:"table"`
	Region   string `json:"region"`
	Endpoint string `json:"endpoint"`
}

// LedgerConfig 描述铸造历史的存储方式。
type LedgerConfig struct {
	Driver                 string `json:"driver"`
	DSN                    string `json:"dsn"`
	MaxOpenConns           int    `json:"max_open_conns"`
	MaxIdleConns           int    `json:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `json:"conn_max_lifetime_seconds"`
	ConnMaxIdleTimeSeconds int    `json:"conn_max_idle_time_seconds"`
}

// QueueConfig 控制异步消息队列。
type QueueConfig struct {
	Driver   string         `json:"driver"`
	Worker   int            `json:"worker"`
	Capacity int            `json:"capacity"`
	Redis    RedisQueue     `json:"redis"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq"`
}

// RedisQueue 描述基于 Redis List 的队列。
type RedisQueue struct {
	Address          string `json:"address"`
	Password         string `json:"password"`
	DB               int    `json:"db"`
	Queue            string `json:"queue"`
	BlockWaitSeconds int    `json:"block_wait_seconds"`
}

// RabbitMQConfig 描述 RabbitMQ 队列。
type RabbitMQConfig struct {
	URL        string `json:"url"`
	Queue      string `json:"queue"`
	Prefetch   int    `json:"prefetch"`
	Durable    bool   `json:"durable"`
	AutoDelete bool   `json:"auto_delete"`
}

// LLMConfig 用于配置大模型推理的调用方式。
type LLMConfig struct {
	Provider string             `json:"provider"`
	Models   llm.Models         `json:"models"`
	OpenAI   OpenAIConfig       `json:"openai"`
	Gemini   GeminiConfig       `json:"gemini"`
	Python   PythonBridgeConfig `json:"python_bridge"`
}

// OpenAIConfig 描述 OpenAI 兼容接口。
type OpenAIConfig struct {
	APIKey         string `json:"api_key"`
	APIKeyEnv      string `json:"api_key_env"`
	BaseURL        string `json:"base_url"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// Timeout 返回请求超时。
func (o OpenAIConfig) Timeout() time.Duration {
	return time.Duration(o.TimeoutSeconds) * time.Second
}

// 非 OpenAI 后端的单次调用超时。
const defaultLLMTimeoutSeconds = 60

// CallTimeout 返回一次字段抽取调用的超时。
func (l LLMConfig) CallTimeout() time.Duration {
	if l.Provider == "openai" && l.OpenAI.TimeoutSeconds > 0 {
		return l.OpenAI.Timeout()
	}
	return defaultLLMTimeoutSeconds * time.Second
}

// GeminiConfig 描述 Gemini API。
type GeminiConfig struct {
	APIKey    string `json:"api_key"`
	APIKeyEnv string `json:"api_key_env"`
}

// PythonBridgeConfig 描述通过 Python 脚本完成推理时所需的信息。
type PythonBridgeConfig struct {
	PythonExecutable string `json:"python_executable"`
	ScriptPath       string `json:"script_path"`
	WorkingDir       string `json:"working_dir"`
}

// IPFSConfig 描述 Pinata 上传参数。
type IPFSConfig struct {
	JWT            string `json:"jwt"`
	JWTEnv         string `json:"jwt_env"`
	BaseURL        string `json:"base_url"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// Timeout 返回上传超时。
func (i IPFSConfig) Timeout() time.Duration {
	return time.Duration(i.TimeoutSeconds) * time.Second
}

// Web3Config 描述链配置文件、签名私钥来源与铸造合约。
type Web3Config struct {
	ChainConfig            string `json:"chain_config"`
	MintChain              string `json:"mint_chain"`
	ENSChain               string `json:"ens_chain"`
	PrivateKeyEnv          string `json:"private_key_env"`
	PrivateKeySSMParameter string `json:"private_key_ssm_parameter"`
	ContractAddress        string `json:"contract_address"`
	ChainID                int64  `json:"chain_id"`
	GasLimit               uint64 `json:"gas_limit"`
	ExplorerURL            string `json:"explorer_url"`
}

// AlertingConfig 描述 Slack 告警。
type AlertingConfig struct {
	SlackWebhookURL    string `json:"slack_webhook_url"`
	SlackWebhookURLEnv string `json:"slack_webhook_url_env"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir  string   `json:"data_dir"`
	EnvFiles []string `json:"env_files"`
}

// Load 负责解析指定路径的 JSON 配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	baseDir := filepath.Dir(path)
	cfg.applyDefaults(baseDir)
	if err := LoadEnvFiles(cfg.Runtime.EnvFiles...); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadEnvFiles 将 .env 文件加载进进程环境，不存在的文件会被忽略，
// 已存在的环境变量不会被覆盖。
func LoadEnvFiles(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("加载环境文件 %s 失败: %w", p, err)
		}
	}
	return nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	if c.Agent.Name == "" {
		c.Agent.Name = "Minty"
	}
	if c.Agent.RecordTTLSeconds <= 0 {
		c.Agent.RecordTTLSeconds = 600
	}
	if c.Agent.LockLeaseSeconds <= 0 {
		c.Agent.LockLeaseSeconds = 180
	}
	if c.Agent.MintTimeoutSeconds <= 0 {
		c.Agent.MintTimeoutSeconds = 90
	}

	if c.Storage.Cache.Driver == "" {
		c.Storage.Cache.Driver = "memory"
	}
	if c.Storage.Cache.Redis.KeyPrefix == "" {
		c.Storage.Cache.Redis.KeyPrefix = "nftmint:"
	}
	if c.Storage.Ledger.Driver == "" {
		c.Storage.Ledger.Driver = "memory"
	}

	if c.Queue.Driver == "" {
		c.Queue.Driver = "memory"
	}
	if c.Queue.Worker <= 0 {
		c.Queue.Worker = 4
	}
	if c.Queue.Capacity <= 0 {
		c.Queue.Capacity = 1024
	}
	if c.Queue.Redis.Queue == "" {
		c.Queue.Redis.Queue = "nftmint:messages"
	}
	if c.Queue.RabbitMQ.Queue == "" {
		c.Queue.RabbitMQ.Queue = "nftmint.messages"
	}

	if c.LLM.Provider == "" {
		c.LLM.Provider = "openai"
	}
	if c.LLM.OpenAI.TimeoutSeconds <= 0 {
		c.LLM.OpenAI.TimeoutSeconds = defaultLLMTimeoutSeconds
	}
	if c.LLM.OpenAI.APIKeyEnv == "" {
		c.LLM.OpenAI.APIKeyEnv = "OPENAI_API_KEY"
	}
	if c.LLM.Gemini.APIKeyEnv == "" {
		c.LLM.Gemini.APIKeyEnv = "GEMINI_API_KEY"
	}
	if c.LLM.Python.PythonExecutable == "" {
		c.LLM.Python.PythonExecutable = "python3"
	}
	c.LLM.Python.WorkingDir = resolvePath(baseDir, c.LLM.Python.WorkingDir, baseDir)

	if c.IPFS.JWTEnv == "" {
		c.IPFS.JWTEnv = "PINATA_JWT"
	}

	c.Web3.ChainConfig = resolvePath(baseDir, c.Web3.ChainConfig, filepath.Join(baseDir, "chain.yaml"))
	if c.Web3.MintChain == "" {
		c.Web3.MintChain = "base-sepolia"
	}
	if c.Web3.ENSChain == "" {
		c.Web3.ENSChain = "mainnet"
	}
	if c.Web3.PrivateKeyEnv == "" {
		c.Web3.PrivateKeyEnv = "EVM_PRIVATE_KEY"
	}
	c.Web3.ExplorerURL = strings.TrimRight(strings.TrimSpace(c.Web3.ExplorerURL), "/")

	if c.Alerting.SlackWebhookURLEnv == "" {
		c.Alerting.SlackWebhookURLEnv = "SLACK_WEBHOOK_URL"
	}

	if c.Logging.Audit.Path != "" {
		c.Logging.Audit.Path = resolvePath(baseDir, c.Logging.Audit.Path, "")
	}

	c.Runtime.DataDir = resolvePath(baseDir, c.Runtime.DataDir, filepath.Join(baseDir, "data"))
	if len(c.Runtime.EnvFiles) == 0 {
		c.Runtime.EnvFiles = []string{".env"}
	}
	for i, p := range c.Runtime.EnvFiles {
		c.Runtime.EnvFiles[i] = resolvePath(baseDir, p, p)
	}
}

func resolvePath(baseDir, value, fallback string) string {
	if value == "" {
		return fallback
	}
	if filepath.IsAbs(value) {
		return value
	}
	return filepath.Join(baseDir, value)
}

// Validate 检查驱动名称等枚举字段。
func (c *Config) Validate() error {
	var errs []error
	check := func(field, value string, allowed ...string) {
		for _, a := range allowed {
			if value == a {
				return
			}
		}
		errs = append(errs, fmt.Errorf("%s 不支持 %q，可选值: %s", field, value, strings.Join(allowed, ", ")))
	}
	check("storage.cache.driver", c.Storage.Cache.Driver, "memory", "redis", "dynamodb")
	check("storage.ledger.driver", c.Storage.Ledger.Driver, "memory", "mysql")
	check("queue.driver", c.Queue.Driver, "memory", "redis", "rabbitmq")
	check("llm.provider", c.LLM.Provider, "openai", "gemini", "python_bridge")

	if c.Storage.Cache.Driver == "redis" && c.Storage.Cache.Redis.Address == "" {
		errs = append(errs, errors.New("storage.cache.redis.address 不能为空"))
	}
	if c.Storage.Cache.Driver == "dynamodb" && c.Storage.Cache.DynamoDB.Table == "" {
		errs = append(errs, errors.New("storage.cache.dynamodb.table 不能为空"))
	}
	if c.Storage.Ledger.Driver == "mysql" && c.Storage.Ledger.DSN == "" {
		errs = append(errs, errors.New("storage.ledger.dsn 不能为空"))
	}
	if c.Queue.Driver == "redis" && c.Queue.Redis.Address == "" {
		errs = append(errs, errors.New("queue.redis.address 不能为空"))
	}
	if c.Queue.Driver == "rabbitmq" && c.Queue.RabbitMQ.URL == "" {
		errs = append(errs, errors.New("queue.rabbitmq.url 不能为空"))
	}
	if c.LLM.Provider == "python_bridge" && c.LLM.Python.ScriptPath == "" {
		errs = append(errs, errors.New("llm.python_bridge.script_path 不能为空"))
	}
	// 持锁期间依次执行抽取和铸造，租期必须覆盖两者的超时之和。
	if c.Storage.Cache.Driver == "redis" {
		if budget := c.LLM.CallTimeout() + c.Agent.MintTimeout(); c.Agent.LockLease() <= budget {
			errs = append(errs, fmt.Errorf("agent.lock_lease_seconds (%v) 必须大于抽取与铸造超时之和 (%v)", c.Agent.LockLease(), budget))
		}
	}
	return errors.Join(errs...)
}

// ResolveAPIKey 返回当前 provider 的 API Key：优先使用字面值，其次读取环境变量。
func (c *Config) ResolveAPIKey() string {
	switch c.LLM.Provider {
	case "openai":
		return resolveSecret(c.LLM.OpenAI.APIKey, c.LLM.OpenAI.APIKeyEnv)
	case "gemini":
		return resolveSecret(c.LLM.Gemini.APIKey, c.LLM.Gemini.APIKeyEnv)
	default:
		return ""
	}
}

// ResolveJWT 返回 Pinata JWT。
func (c *Config) ResolveJWT() string {
	return resolveSecret(c.IPFS.JWT, c.IPFS.JWTEnv)
}

// ResolveSlackWebhook 返回 Slack webhook 地址，未配置时为空。
func (c *Config) ResolveSlackWebhook() string {
	return resolveSecret(c.Alerting.SlackWebhookURL, c.Alerting.SlackWebhookURLEnv)
}

func resolveSecret(value, env string) string {
	if v := strings.TrimSpace(value); v != "" {
		return v
	}
	if env == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(env))
}
