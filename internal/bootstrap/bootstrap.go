package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"keygate-sdk/internal/agent"
	"keygate-sdk/internal/auth"
	"keygate-sdk/internal/config"
	"keygate-sdk/internal/funding"
	"keygate-sdk/internal/identity"
	"keygate-sdk/internal/keygate"
	"keygate-sdk/internal/knowledge"
	"keygate-sdk/internal/llm"
	"keygate-sdk/internal/llm/anthropic"
	"keygate-sdk/internal/llm/openai"
	"keygate-sdk/internal/llm/pythonbridge"
	"keygate-sdk/internal/observability/alerting"
	"keygate-sdk/internal/observability/metrics"
	mysqlstore "keygate-sdk/internal/storage/mysql"
	redisstore "keygate-sdk/internal/storage/redis"
	"keygate-sdk/internal/task"
	"keygate-sdk/internal/wallet"
)

// Resources 持有多个组件共享的 Redis 与 MySQL 连接，按需建立。
type Resources struct {
	cfg *config.Config

	mu    sync.Mutex
	redis *goredis.Client
	db    *sql.DB
}

// NewResources 创建共享资源容器，不会立即连接任何后端。
func NewResources(cfg *config.Config) *Resources {
	return &Resources{cfg: cfg}
}

// Redis 返回共享的 Redis 客户端。
func (r *Resources) Redis(ctx context.Context) (*goredis.Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.redis != nil {
		return r.redis, nil
	}
	client, err := redisstore.NewClient(ctx, r.redisConfig())
	if err != nil {
		return nil, err
	}
	r.redis = client
	return client, nil
}

func (r *Resources) redisConfig() redisstore.Config {
	rc := r.cfg.Storage.Redis
	return redisstore.Config{
		Address:     rc.Address,
		Password:    rc.Password,
		DB:          rc.DB,
		DialTimeout: time.Duration(rc.DialTimeoutSeconds) * time.Second,
		KeyPrefix:   rc.KeyPrefix,
	}
}

// MySQL 返回共享的连接池，首次打开时执行迁移。
func (r *Resources) MySQL(ctx context.Context) (*sql.DB, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.db != nil {
		return r.db, nil
	}
	mc := r.cfg.Storage.MySQL
	db, err := mysqlstore.Open(ctx, mysqlstore.Config{
		DSN:             mc.DSN,
		MaxOpenConns:    mc.MaxOpenConns,
		MaxIdleConns:    mc.MaxIdleConns,
		ConnMaxLifetime: time.Duration(mc.ConnMaxLifetimeSeconds) * time.Second,
		ConnMaxIdleTime: time.Duration(mc.ConnMaxIdleTimeSeconds) * time.Second,
	})
	if err != nil {
		return nil, err
	}
	r.db = db
	return db, nil
}

// Close 关闭已建立的连接。
func (r *Resources) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	if r.redis != nil {
		if err := r.redis.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
			errs = append(errs, err)
		}
		r.redis = nil
	}
	if r.db != nil {
		if err := r.db.Close(); err != nil {
			errs = append(errs, err)
		}
		r.db = nil
	}
	return errors.Join(errs...)
}

// Network 解析要连接的 Keygate 网络，keygate.url 优先于命名网络。
func Network(cfg *config.Config) (keygate.Network, error) {
	if url := strings.TrimSpace(cfg.Keygate.URL); url != "" {
		return keygate.NetworkForURL(url), nil
	}
	registry, err := keygate.LoadNetworks(cfg.Keygate.NetworksFile)
	if err != nil {
		return keygate.Network{}, err
	}
	return registry.Resolve(cfg.Keygate.Network)
}

// KeygateClient 加载身份文件并创建客户端，observer 可以为空。
func KeygateClient(cfg *config.Config, observer keygate.CallObserver) (*keygate.Client, error) {
	id, err := identity.Load(cfg.Keygate.IdentityPath)
	if err != nil {
		return nil, err
	}
	network, err := Network(cfg)
	if err != nil {
		return nil, err
	}
	opts := []keygate.Option{
		keygate.WithTimeout(time.Duration(cfg.Keygate.TimeoutSeconds) * time.Second),
		keygate.WithIngressExpiry(time.Duration(cfg.Keygate.IngressExpirySeconds) * time.Second),
	}
	if observer != nil {
		opts = append(opts, keygate.WithObserver(observer))
	}
	return keygate.New(id, network, opts...)
}

// WalletStore 根据 wallet.store 打开钱包 ID 存储。
func WalletStore(ctx context.Context, cfg *config.Config, res *Resources) (wallet.Store, error) {
	switch strings.ToLower(cfg.Wallet.Store) {
	case "memory":
		return wallet.NewMemoryStore(), nil
	case "", "file":
		return wallet.NewFileStore(cfg.Wallet.Path)
	case "csv":
		return wallet.NewCSVStore(cfg.Wallet.Path)
	case "redis":
		client, err := res.Redis(ctx)
		if err != nil {
			return nil, err
		}
		return wallet.NewRedisStore(client, res.redisConfig().Key(cfg.Wallet.RedisKey))
	case "mysql":
		db, err := res.MySQL(ctx)
		if err != nil {
			return nil, err
		}
		return wallet.NewMySQLStore(db, cfg.Keygate.Network)
	default:
		return nil, fmt.Errorf("未知的钱包存储: %s", cfg.Wallet.Store)
	}
}

// Funder 返回新钱包的充值方式。
func Funder(cfg *config.Config) wallet.Funder {
	if !cfg.FundingEnabled() {
		return funding.Noop{}
	}
	return funding.NewDFXFunder(funding.DFXConfig{
		Executable: cfg.Funding.Executable,
		Amount:     cfg.Funding.Amount,
		Memo:       cfg.Funding.Memo,
		Network:    cfg.Funding.Network,
		Identity:   cfg.Funding.Identity,
		Fee:        cfg.Funding.Fee,
	}, nil)
}

// WalletService 组装客户端、存储与充值器。
func WalletService(ctx context.Context, cfg *config.Config, res *Resources, observer keygate.CallObserver) (*wallet.Service, error) {
	client, err := KeygateClient(cfg, observer)
	if err != nil {
		return nil, err
	}
	store, err := WalletStore(ctx, cfg, res)
	if err != nil {
		return nil, err
	}
	return wallet.NewService(client, store, wallet.WithFunder(Funder(cfg))), nil
}

// LLMClient 根据 llm.provider 创建补全客户端。
func LLMClient(cfg *config.Config) (llm.Client, error) {
	timeout := time.Duration(cfg.LLM.TimeoutSeconds) * time.Second
	switch strings.ToLower(cfg.LLM.Provider) {
	case "anthropic":
		return anthropic.NewClient(anthropic.Config{
			APIKey:  cfg.APIKey(),
			BaseURL: cfg.LLM.BaseURL,
			Model:   cfg.LLM.Model,
			Timeout: timeout,
		})
	case "openai":
		return openai.NewClient(openai.Config{
			APIKey:  cfg.APIKey(),
			BaseURL: cfg.LLM.BaseURL,
			Model:   cfg.LLM.Model,
			Timeout: timeout,
		})
	case "python_bridge":
		py := cfg.LLM.Python
		script := pythonbridge.ResolveScriptPath(py.WorkingDir, py.ScriptPath)
		return pythonbridge.NewClient(py.PythonExecutable, script, py.WorkingDir)
	default:
		return nil, fmt.Errorf("未知的 LLM provider: %s", cfg.LLM.Provider)
	}
}

// NewAgent 创建 Agent，instructions 为空时使用 agent.instructions 或 fallback。
func NewAgent(cfg *config.Config, client llm.Client, w agent.Wallet, name, fallback string) (*agent.Agent, error) {
	instructions := cfg.Agent.Instructions
	if instructions == "" {
		instructions = fallback
	}
	if name == "" {
		name = cfg.Agent.Name
	}
	opts := []agent.Option{
		agent.WithMemoryDepth(cfg.Agent.MemoryDepth),
		agent.WithLLMTimeout(time.Duration(cfg.Agent.TimeoutSeconds) * time.Second),
		agent.WithSampling(cfg.Agent.MaxTokens, cfg.Agent.Temperature),
	}
	if cfg.Agent.KnowledgePath != "" {
		provider, err := knowledge.LoadStaticProvider(cfg.Agent.KnowledgePath, 0)
		if err != nil {
			return nil, err
		}
		opts = append(opts, agent.WithKnowledgeProvider(provider))
	}
	return agent.New(name, instructions, client, w, opts...), nil
}

// Instructions 返回运行模式对应的默认指令，配置中的 agent.instructions 优先。
func Instructions(mode string) string {
	if mode == "autonomous" {
		return agent.AutonomousInstructions
	}
	return agent.ChatInstructions
}

// MinBalance 解析余额告警阈值。
func MinBalance(cfg *config.Config) (decimal.Decimal, error) {
	if strings.TrimSpace(cfg.Agent.MinBalance) == "" {
		return agent.DefaultMinBalance, nil
	}
	value, err := decimal.NewFromString(cfg.Agent.MinBalance)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("解析 min_balance 失败: %w", err)
	}
	return value, nil
}

// AlertDispatcher 根据 alerting.channels 组装告警渠道。
func AlertDispatcher(cfg *config.Config) (alerting.Dispatcher, error) {
	client := &http.Client{Timeout: 10 * time.Second}
	var notifiers []alerting.Notifier
	for _, channel := range cfg.Alerting.Channels {
		switch alerting.Channel(strings.ToLower(channel)) {
		case alerting.ChannelLog:
			notifiers = append(notifiers, alerting.LogNotifier{})
		case alerting.ChannelWebhook:
			if cfg.Alerting.WebhookURL == "" {
				return nil, errors.New("webhook 告警缺少 webhook_url")
			}
			notifiers = append(notifiers, &alerting.WebhookNotifier{
				URL:     cfg.Alerting.WebhookURL,
				Headers: cfg.Alerting.Headers,
				Client:  client,
			})
		case alerting.ChannelSlack:
			if cfg.Alerting.SlackURL == "" {
				return nil, errors.New("slack 告警缺少 slack_webhook_url")
			}
			notifiers = append(notifiers, &alerting.SlackNotifier{
				Sender:    &alerting.SlackWebhookSender{WebhookURL: cfg.Alerting.SlackURL, Client: client},
				ChannelID: cfg.Alerting.SlackChannel,
			})
		default:
			return nil, fmt.Errorf("未知的告警渠道: %s", channel)
		}
	}
	return alerting.NewFanout(notifiers...), nil
}

// AuthService 根据 auth 配置创建认证服务。
func AuthService(cfg *config.Config) (*auth.Service, error) {
	tokens := make([]auth.StaticToken, 0, len(cfg.Auth.Tokens))
	for _, t := range cfg.Auth.Tokens {
		tokens = append(tokens, auth.StaticToken{Token: t.Token, Subject: t.Subject, Permissions: t.Permissions})
	}
	return auth.NewService(auth.Config{
		Mode:   auth.Mode(cfg.Auth.Mode),
		Tokens: tokens,
		JWT: auth.JWTOptions{
			Secret:    cfg.Auth.JWT.Secret,
			Issuer:    cfg.Auth.JWT.Issuer,
			Audience:  cfg.Auth.JWT.Audience,
			AccessTTL: cfg.Auth.JWT.AccessTTLSeconds,
		},
	})
}

// TaskStore 根据 task.store 创建任务存储。
func TaskStore(ctx context.Context, cfg *config.Config, res *Resources) (task.Store, error) {
	switch strings.ToLower(cfg.Task.Store) {
	case "", "memory":
		return task.NewMemoryStore(), nil
	case "mysql":
		db, err := res.MySQL(ctx)
		if err != nil {
			return nil, err
		}
		return task.NewMySQLStore(db)
	default:
		return nil, fmt.Errorf("未知的任务存储: %s", cfg.Task.Store)
	}
}

// TaskQueue 根据 task.queue.driver 创建队列。
func TaskQueue(ctx context.Context, cfg *config.Config, res *Resources) (task.Queue, error) {
	qc := cfg.Task.Queue
	switch strings.ToLower(qc.Driver) {
	case "", "memory":
		return task.NewMemoryQueue(qc.Buffer), nil
	case "redis":
		client, err := res.Redis(ctx)
		if err != nil {
			return nil, err
		}
		name := qc.Name
		if name == "" {
			name = res.redisConfig().Key("jobs")
		}
		return task.NewRedisQueue(client, name, time.Duration(qc.BlockWaitSeconds)*time.Second)
	case "rabbitmq":
		rc := cfg.Task.RabbitMQ
		return task.NewRabbitMQQueue(task.RabbitMQConfig{
			URL:        rc.URL,
			Queue:      rc.Queue,
			Prefetch:   rc.Prefetch,
			Durable:    rc.Durable,
			AutoDelete: rc.AutoDelete,
		})
	case "kafka":
		kc := cfg.Task.Kafka
		return task.NewKafkaQueue(task.KafkaConfig{
			Brokers: kc.Brokers,
			Topic:   kc.Topic,
			GroupID: kc.GroupID,
			MaxWait: time.Duration(kc.MaxWaitSeconds) * time.Second,
		})
	default:
		return nil, fmt.Errorf("未知的队列驱动: %s", qc.Driver)
	}
}

var (
	_ keygate.CallObserver     = (*metrics.Registry)(nil)
	_ agent.LowBalanceObserver = (*metrics.Registry)(nil)
)
