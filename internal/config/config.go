package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/mitchellh/go-homedir"

	"keygate-sdk/pkg/logger"
)

const (
	// EnvConfigPath 指定配置文件路径的环境变量。
	EnvConfigPath = "KEYGATE_CONFIG"
	// DefaultPath 是未设置环境变量时使用的配置文件。
	DefaultPath = "configs/keygate.json"
	// DefaultEnvFile 是本地开发使用的环境变量文件。
	DefaultEnvFile = ".env.local"
)

// Config 描述了 Keygate 工具与守护进程在启动阶段需要加载的配置。
type Config struct {
	Keygate  KeygateConfig  `json:"keygate"`
	Wallet   WalletConfig   `json:"wallet"`
	Funding  FundingConfig  `json:"funding"`
	LLM      LLMConfig      `json:"llm"`
	Agent    AgentConfig    `json:"agent"`
	Storage  StorageConfig  `json:"storage"`
	Task     TaskConfig     `json:"task"`
	Server   ServerConfig   `json:"server"`
	Auth     AuthConfig     `json:"auth"`
	Logging  logger.Config  `json:"logging"`
	Metrics  MetricsConfig  `json:"metrics"`
	Alerting AlertingConfig `json:"alerting"`
}

// KeygateConfig 描述 Keygate 服务端点与身份文件。
type KeygateConfig struct {
	Network              string `json:"network"`
	NetworksFile         string `json:"networks_file"`
	URL                  string `json:"url"`
	IdentityPath         string `json:"identity_path"`
	TimeoutSeconds       int    `json:"timeout_seconds"`
	IngressExpirySeconds int    `json:"ingress_expiry_seconds"`
}

// WalletConfig 选择钱包 ID 的持久化方式。
type WalletConfig struct {
	Store    string `json:"store"`
	Path     string `json:"path"`
	RedisKey string `json:"redis_key"`
}

// FundingConfig 控制新钱包的本地充值。Enabled 为空时仅在本地网络启用。
type FundingConfig struct {
	Enabled    *bool  `json:"enabled"`
	Executable string `json:"executable"`
	Amount     string `json:"amount"`
	Memo       string `json:"memo"`
	Network    string `json:"network"`
	Identity   string `json:"identity"`
	Fee        string `json:"fee"`
}

// LLMConfig 用于配置大模型推理的调用方式。
type LLMConfig struct {
	Provider       string             `json:"provider"`
	APIKeyEnv      string             `json:"api_key_env"`
	Model          string             `json:"model"`
	BaseURL        string             `json:"base_url"`
	TimeoutSeconds int                `json:"timeout_seconds"`
	Python         PythonBridgeConfig `json:"python_bridge"`
}

// PythonBridgeConfig 描述通过 Python 脚本完成推理时所需的信息。
type PythonBridgeConfig struct {
	PythonExecutable string `json:"python_executable"`
	ScriptPath       string `json:"script_path"`
	WorkingDir       string `json:"working_dir"`
}

// AgentConfig 描述聊天 Agent 的参数。
type AgentConfig struct {
	Name            string  `json:"name"`
	Instructions    string  `json:"instructions"`
	MemoryDepth     int     `json:"memory_depth"`
	KnowledgePath   string  `json:"knowledge_path"`
	MaxTokens       int     `json:"max_tokens"`
	Temperature     float64 `json:"temperature"`
	TimeoutSeconds  int     `json:"timeout_seconds"`
	IntervalSeconds int     `json:"interval_seconds"`
	MinBalance      string  `json:"min_balance"`
}

// StorageConfig 统一描述 MySQL、Redis 等后端的连接信息。
type StorageConfig struct {
	MySQL MySQLConfig `json:"mysql"`
	Redis RedisConfig `json:"redis"`
}

// MySQLConfig 是 MySQL 连接池参数。
type MySQLConfig struct {
	DSN                    string `json:"dsn"`
	MaxOpenConns           int    `json:"max_open_conns"`
	MaxIdleConns           int    `json:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `json:"conn_max_lifetime_seconds"`
	ConnMaxIdleTimeSeconds int    `json:"conn_max_idle_time_seconds"`
}

// RedisConfig 是 Redis 连接参数。
type RedisConfig struct {
	Address            string `json:"address"`
	Password           string `json:"password"`
	DB                 int    `json:"db"`
	DialTimeoutSeconds int    `json:"dial_timeout_seconds"`
	KeyPrefix          string `json:"key_prefix"`
}

// TaskConfig 描述任务存储、队列与工作协程。
type TaskConfig struct {
	Store      string         `json:"store"`
	Queue      QueueConfig    `json:"queue"`
	Workers    int            `json:"workers"`
	MaxRetries int            `json:"max_retries"`
	RabbitMQ   RabbitMQConfig `json:"rabbitmq"`
	Kafka      KafkaConfig    `json:"kafka"`
}

// QueueConfig 选择队列驱动。
type QueueConfig struct {
	Driver           string `json:"driver"`
	Buffer           int    `json:"buffer"`
	Name             string `json:"name"`
	BlockWaitSeconds int    `json:"block_wait_seconds"`
}

// RabbitMQConfig 是 RabbitMQ 队列参数。
type RabbitMQConfig struct {
	URL        string `json:"url"`
	Queue      string `json:"queue"`
	Prefetch   int    `json:"prefetch"`
	Durable    bool   `json:"durable"`
	AutoDelete bool   `json:"auto_delete"`
}

// KafkaConfig 是 Kafka 队列参数。
type KafkaConfig struct {
	Brokers        []string `json:"brokers"`
	Topic          string   `json:"topic"`
	GroupID        string   `json:"group_id"`
	MaxWaitSeconds int      `json:"max_wait_seconds"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address string `json:"address"`
}

// AuthConfig 描述 API 的认证方式。
type AuthConfig struct {
	Mode   string        `json:"mode"`
	Tokens []TokenConfig `json:"tokens"`
	JWT    JWTConfig     `json:"jwt"`
}

// TokenConfig 是一个静态 API 令牌。
type TokenConfig struct {
	Token       string   `json:"token"`
	Subject     string   `json:"subject"`
	Permissions []string `json:"permissions"`
}

// JWTConfig 是 HS256 JWT 参数，SecretEnv 优先于 Secret。
type JWTConfig struct {
	Secret           string   `json:"secret"`
	SecretEnv        string   `json:"secret_env"`
	Issuer           string   `json:"issuer"`
	Audience         []string `json:"audience"`
	AccessTTLSeconds int64    `json:"access_ttl_seconds"`
}

// MetricsConfig 控制 Prometheus 指标的暴露方式。
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Address string `json:"address"`
}

// AlertingConfig 描述告警渠道。
type AlertingConfig struct {
	Channels     []string          `json:"channels"`
	WebhookURL   string            `json:"webhook_url"`
	Headers      map[string]string `json:"headers"`
	SlackURL     string            `json:"slack_webhook_url"`
	SlackChannel string            `json:"slack_channel"`
}

// Path 返回配置文件路径，优先读取 KEYGATE_CONFIG。
func Path() string {
	if path := strings.TrimSpace(os.Getenv(EnvConfigPath)); path != "" {
		return path
	}
	return DefaultPath
}

// Load 负责解析指定路径的 JSON 配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("展开配置路径失败: %w", err)
	}

	file, err := os.Open(expanded)
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

	if err := cfg.applyDefaults(filepath.Dir(expanded)); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default 返回不依赖配置文件的默认配置，相对路径以 baseDir 为准。
func Default(baseDir string) (*Config, error) {
	var cfg Config
	if err := cfg.applyDefaults(baseDir); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault 在配置文件不存在时退回默认配置。
func LoadOrDefault(path string) (*Config, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("展开配置路径失败: %w", err)
	}
	if _, err := os.Stat(expanded); errors.Is(err, os.ErrNotExist) {
		return Default(".")
	}
	return Load(path)
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) error {
	if c.Keygate.Network == "" {
		c.Keygate.Network = "local"
	}
	if c.Keygate.IdentityPath == "" {
		c.Keygate.IdentityPath = "~/.config/dfx/identity/default/identity.pem"
	}
	if c.Keygate.TimeoutSeconds <= 0 {
		c.Keygate.TimeoutSeconds = 30
	}
	if c.Keygate.IngressExpirySeconds <= 0 {
		c.Keygate.IngressExpirySeconds = 300
	}

	if c.Wallet.Store == "" {
		c.Wallet.Store = "file"
	}
	if c.Wallet.Path == "" {
		switch c.Wallet.Store {
		case "csv":
			c.Wallet.Path = "wallets.csv"
		default:
			c.Wallet.Path = "config.json"
		}
	}
	if c.Wallet.RedisKey == "" {
		c.Wallet.RedisKey = "wallets"
	}

	if c.LLM.Provider == "" {
		c.LLM.Provider = "anthropic"
	}
	if c.LLM.APIKeyEnv == "" {
		switch c.LLM.Provider {
		case "openai":
			c.LLM.APIKeyEnv = "OPENAI_API_KEY"
		case "anthropic":
			c.LLM.APIKeyEnv = "ANTHROPIC_API_KEY"
		}
	}
	if c.LLM.TimeoutSeconds <= 0 {
		c.LLM.TimeoutSeconds = 60
	}
	if c.LLM.Python.PythonExecutable == "" {
		c.LLM.Python.PythonExecutable = "python3"
	}
	if c.LLM.Python.WorkingDir == "" {
		c.LLM.Python.WorkingDir = baseDir
	}

	if c.Agent.Name == "" {
		c.Agent.Name = "ICP Assistant"
	}
	if c.Agent.MaxTokens <= 0 {
		c.Agent.MaxTokens = 1024
	}
	if c.Agent.TimeoutSeconds <= 0 {
		c.Agent.TimeoutSeconds = 60
	}
	if c.Agent.IntervalSeconds <= 0 {
		c.Agent.IntervalSeconds = 60
	}
	if c.Agent.MinBalance == "" {
		c.Agent.MinBalance = "5"
	}

	if c.Storage.Redis.KeyPrefix == "" {
		c.Storage.Redis.KeyPrefix = "keygate"
	}

	if c.Task.Store == "" {
		c.Task.Store = "memory"
	}
	if c.Task.Queue.Driver == "" {
		c.Task.Queue.Driver = "memory"
	}
	if c.Task.Queue.Buffer <= 0 {
		c.Task.Queue.Buffer = 1024
	}
	if c.Task.Workers <= 0 {
		c.Task.Workers = 4
	}
	if c.Task.MaxRetries <= 0 {
		c.Task.MaxRetries = 3
	}

	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	if c.Auth.Mode == "" {
		c.Auth.Mode = "disabled"
	}
	if c.Auth.JWT.SecretEnv != "" {
		if secret := os.Getenv(c.Auth.JWT.SecretEnv); secret != "" {
			c.Auth.JWT.Secret = secret
		}
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Audit.Enabled && c.Logging.Audit.Path == "" {
		c.Logging.Audit.Path = "logs/audit.log"
	}

	if c.Metrics.Address == "" {
		c.Metrics.Address = ":9090"
	}
	if len(c.Alerting.Channels) == 0 {
		c.Alerting.Channels = []string{"log"}
	}

	var err error
	paths := []*string{
		&c.Keygate.NetworksFile,
		&c.Keygate.IdentityPath,
		&c.Wallet.Path,
		&c.LLM.Python.ScriptPath,
		&c.LLM.Python.WorkingDir,
		&c.Agent.KnowledgePath,
		&c.Logging.Audit.Path,
	}
	for _, p := range paths {
		if *p, err = resolvePath(baseDir, *p); err != nil {
			return err
		}
	}
	return nil
}

// resolvePath 展开 ~ 并把相对路径解析到配置文件所在目录。
func resolvePath(baseDir, path string) (string, error) {
	if path == "" {
		return "", nil
	}
	expanded, err := homedir.Expand(path)
	if err != nil {
		return "", fmt.Errorf("展开路径 %s 失败: %w", path, err)
	}
	if filepath.IsAbs(expanded) {
		return expanded, nil
	}
	return filepath.Join(baseDir, expanded), nil
}

// FundingEnabled 判断是否需要为新钱包充值。
func (c *Config) FundingEnabled() bool {
	if c.Funding.Enabled != nil {
		return *c.Funding.Enabled
	}
	return c.Keygate.Network == "local"
}

// APIKey 从环境变量读取大模型 API Key。
func (c *Config) APIKey() string {
	if c.LLM.APIKeyEnv == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(c.LLM.APIKeyEnv))
}

// LoadEnv 加载 .env 文件，文件不存在时忽略。已存在的环境变量不会被覆盖。
func LoadEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{DefaultEnvFile}
	}
	for _, path := range paths {
		expanded, err := homedir.Expand(path)
		if err != nil {
			return fmt.Errorf("展开路径 %s 失败: %w", path, err)
		}
		if _, err := os.Stat(expanded); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(expanded); err != nil {
			return fmt.Errorf("加载环境变量文件 %s 失败: %w", expanded, err)
		}
	}
	return nil
}

// RequireEnv 检查必需的环境变量，返回缺失项组成的错误。
func RequireEnv(names ...string) error {
	var missing []string
	for _, name := range names {
		if strings.TrimSpace(os.Getenv(name)) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("Missing required environment variables: %s", strings.Join(missing, ", "))
	}
	return nil
}
