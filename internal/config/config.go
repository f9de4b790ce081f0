package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"contract-deployer/pkg/logger"
)

// Config 描述了部署工具在启动阶段需要加载的核心配置。
type Config struct {
	Server   ServerConfig   `json:"server"`
	Runtime  RuntimeConfig  `json:"runtime"`
	Web3     Web3Config     `json:"web3"`
	Signers  SignerConfig   `json:"signers"`
	Storage  StorageConfig  `json:"storage"`
	Queue    QueueConfig    `json:"queue"`
	Lock     LockConfig     `json:"lock"`
	Verify   VerifyConfig   `json:"verify"`
	Logging  logger.Config  `json:"logging"`
	Tracing  TracingConfig  `json:"tracing"`
	Alerting AlertingConfig `json:"alerting"`
	Auth     AuthConfig     `json:"auth"`
}

// ServerConfig 控制 API 服务的监听地址。
type ServerConfig struct {
	Address string `json:"address" env:"DEPLOYER_SERVER_ADDRESS"`
}

// RuntimeConfig 描述任务目录、构建产物目录与数据目录。
type RuntimeConfig struct {
	DataDir      string `json:"data_dir" env:"DEPLOYER_DATA_DIR"`
	TasksDir     string `json:"tasks_dir" env:"DEPLOYER_TASKS_DIR"`
	ArtifactsDir string `json:"artifacts_dir" env:"DEPLOYER_ARTIFACTS_DIR"`
	// Mode 为任务运行模式：live、test、check、readonly。
	Mode string `json:"mode" env:"DEPLOYER_MODE"`
}

// Web3Config 包含访问区块链节点所需的信息。
type Web3Config struct {
	ChainConfig          string `json:"chain_config" env:"DEPLOYER_CHAIN_CONFIG"`
	DefaultChain         string `json:"default_chain" env:"DEPLOYER_NETWORK"`
	RPCURL               string `json:"rpc_url" env:"DEPLOYER_RPC_URL"`
	DeployTimeoutSeconds int    `json:"deploy_timeout_seconds"`
}

// DeployTimeout 返回单次部署等待回执的超时时间。
func (c Web3Config) DeployTimeout() time.Duration {
	return time.Duration(c.DeployTimeoutSeconds) * time.Second
}

// SignerConfig 描述签名账户的来源。私钥与口令只从环境变量读取。
type SignerConfig struct {
	PrivateKeys []string `json:"-" env:"DEPLOYER_PRIVATE_KEYS" envSeparator:","`
	KeystoreDir string   `json:"keystore_dir" env:"DEPLOYER_KEYSTORE_DIR"`
	Passphrase  string   `json:"-" env:"DEPLOYER_KEYSTORE_PASSPHRASE"`
}

// StorageConfig 统一描述部署记录与部署作业的存储后端。
type StorageConfig struct {
	Outputs OutputStoreConfig `json:"outputs"`
	Jobs    JobStoreConfig    `json:"jobs"`
}

// OutputStoreConfig 支持 file、mysql、sqlite 三种驱动。
type OutputStoreConfig struct {
	Driver string `json:"driver"`
	DSN    string `json:"dsn" env:"DEPLOYER_OUTPUTS_DSN"`
	Path   string `json:"path"`
}

// JobStoreConfig 支持 memory 与 mysql 两种驱动。
type JobStoreConfig struct {
	Driver                 string `json:"driver"`
	DSN                    string `json:"dsn" env:"DEPLOYER_JOBS_DSN"`
	Retries                int    `json:"retries"`
	MaxOpenConns           int    `json:"max_open_conns"`
	MaxIdleConns           int    `json:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `json:"conn_max_lifetime_seconds"`
}

// QueueConfig 描述部署作业队列。
type QueueConfig struct {
	Driver   string         `json:"driver"`
	Worker   int            `json:"worker"`
	Redis    RedisConfig    `json:"redis"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq"`
}

// RedisConfig 描述 Redis 连接参数。
type RedisConfig struct {
	Address   string `json:"address" env:"DEPLOYER_REDIS_ADDRESS"`
	Password  string `json:"-" env:"DEPLOYER_REDIS_PASSWORD"`
	DB        int    `json:"db"`
	Queue     string `json:"queue"`
	BlockWait int    `json:"block_wait_seconds"`
}

// RabbitMQConfig 描述 RabbitMQ 连接参数。
type RabbitMQConfig struct {
	URL        string `json:"url" env:"DEPLOYER_RABBITMQ_URL"`
	Queue      string `json:"queue"`
	Prefetch   int    `json:"prefetch"`
	Durable    bool   `json:"durable"`
	AutoDelete bool   `json:"auto_delete"`
}

// LockConfig 控制部署互斥锁，支持 memory 与 redis。
type LockConfig struct {
	Driver     string      `json:"driver"`
	TTLSeconds int         `json:"ttl_seconds"`
	Redis      RedisConfig `json:"redis"`
}

// TTL 返回锁的过期时间。
func (c LockConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// VerifyConfig 控制部署后的校验方式：none 或 bytecode。
type VerifyConfig struct {
	Mode string `json:"mode" env:"DEPLOYER_VERIFY_MODE"`
}

// TracingConfig 描述 OTLP 链路追踪导出。
type TracingConfig struct {
	Endpoint    string `json:"endpoint" env:"DEPLOYER_OTEL_ENDPOINT"`
	ServiceName string `json:"service_name"`
}

// AlertingConfig 描述告警渠道。
type AlertingConfig struct {
	WebhookURL string `json:"webhook_url" env:"DEPLOYER_ALERT_WEBHOOK"`
}

// AuthConfig 控制 API 认证。AdminToken 只从环境变量读取，拥有全部权限。
type AuthConfig struct {
	Mode       string           `json:"mode" env:"DEPLOYER_AUTH_MODE"`
	AdminToken string           `json:"-" env:"DEPLOYER_API_TOKEN"`
	Tokens     []APITokenConfig `json:"tokens"`
}

// APITokenConfig 描述配置文件中的一个 API Token，只保存 SHA-256 摘要。
type APITokenConfig struct {
	Name        string   `json:"name"`
	TokenHash   string   `json:"token_sha256"`
	Permissions []string `json:"permissions"`
	Disabled    bool     `json:"disabled"`
}

// Load 解析指定路径的 JSON 配置文件，并用环境变量覆盖。
// path 为空时只使用默认值与环境变量。
func Load(path string) (*Config, error) {
	var cfg Config
	baseDir := "."

	if strings.TrimSpace(path) != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
		if err := json.Unmarshal(content, &cfg); err != nil {
			return nil, fmt.Errorf("解析配置失败: %w", err)
		}
		baseDir = filepath.Dir(path)
	}

	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("解析环境变量失败: %w", err)
	}

	cfg.applyDefaults(baseDir)
	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	c.Runtime.DataDir = resolvePath(baseDir, c.Runtime.DataDir, "data")
	c.Runtime.TasksDir = resolvePath(baseDir, c.Runtime.TasksDir, "tasks")
	c.Runtime.ArtifactsDir = resolvePath(baseDir, c.Runtime.ArtifactsDir, "artifacts")
	if c.Runtime.Mode == "" {
		c.Runtime.Mode = "live"
	}

	if c.Web3.ChainConfig != "" && !filepath.IsAbs(c.Web3.ChainConfig) {
		c.Web3.ChainConfig = filepath.Join(baseDir, c.Web3.ChainConfig)
	}
	if c.Web3.DeployTimeoutSeconds <= 0 {
		c.Web3.DeployTimeoutSeconds = 300
	}
	if c.Signers.KeystoreDir != "" && !filepath.IsAbs(c.Signers.KeystoreDir) {
		c.Signers.KeystoreDir = filepath.Join(baseDir, c.Signers.KeystoreDir)
	}

	if c.Storage.Outputs.Driver == "" {
		c.Storage.Outputs.Driver = "file"
	}
	if c.Storage.Outputs.Driver == "sqlite" && c.Storage.Outputs.Path == "" {
		c.Storage.Outputs.Path = filepath.Join(c.Runtime.DataDir, "deployments.db")
	}
	if c.Storage.Jobs.Driver == "" {
		c.Storage.Jobs.Driver = "memory"
	}
	if c.Storage.Jobs.Retries <= 0 {
		c.Storage.Jobs.Retries = 3
	}

	if c.Queue.Driver == "" {
		c.Queue.Driver = "memory"
	}
	if c.Queue.Worker <= 0 {
		c.Queue.Worker = 1
	}

	if c.Lock.Driver == "" {
		c.Lock.Driver = "memory"
	}
	if c.Lock.TTLSeconds <= 0 {
		c.Lock.TTLSeconds = 600
	}

	if c.Verify.Mode == "" {
		c.Verify.Mode = "bytecode"
	}
	if c.Auth.Mode == "" {
		c.Auth.Mode = "disabled"
		if c.Auth.AdminToken != "" || len(c.Auth.Tokens) > 0 {
			c.Auth.Mode = "token"
		}
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "contract-deployer"
	}
}

func resolvePath(baseDir, value, fallback string) string {
	if value == "" {
		return filepath.Join(baseDir, fallback)
	}
	if filepath.IsAbs(value) {
		return value
	}
	return filepath.Join(baseDir, value)
}
