package wallet

import (
	"context"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	xerrors "keygate-sdk/internal/errors"
	"keygate-sdk/internal/icp"
	"keygate-sdk/internal/keygate"
	"keygate-sdk/pkg/logger"
)

// Client 是 Service 依赖的 Keygate 客户端能力，*keygate.Client 满足该接口。
type Client interface {
	Init(ctx context.Context) error
	CreateWallet(ctx context.Context) (icp.Principal, error)
	GetICPAccount(ctx context.Context, walletID string) (string, error)
	GetICPBalance(ctx context.Context, walletID string) (icp.Tokens, error)
	ExecuteTransaction(ctx context.Context, walletID string, tx keygate.TransactionArgs) (keygate.IntentStatus, error)
}

// Funder 在钱包创建后为其充值。
type Funder interface {
	Fund(ctx context.Context, account string) error
}

// Option 自定义 Service。
type Option func(*Service)

// WithFunder 设置新钱包的充值方式。
func WithFunder(f Funder) Option {
	return func(s *Service) {
		s.funder = f
	}
}

// WithLogger 指定日志实例。
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// Service 持有一个 Keygate 客户端，负责钱包的创建、记录与查询。
type Service struct {
	client Client
	store  Store
	funder Funder
	log    *slog.Logger
}

// NewService 创建钱包服务，store 为空时使用内存存储。
func NewService(client Client, store Store, opts ...Option) *Service {
	if store == nil {
		store = NewMemoryStore()
	}
	s := &Service{
		client: client,
		store:  store,
		log:    logger.Named("wallet"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Init 初始化底层客户端。
func (s *Service) Init(ctx context.Context) error {
	return s.client.Init(ctx)
}

// CreateWallet 创建钱包、记录 ID 并尝试充值。充值失败只记录日志。
func (s *Service) CreateWallet(ctx context.Context) (string, error) {
	principal, err := s.client.CreateWallet(ctx)
	if err != nil {
		return "", err
	}
	walletID := principal.String()
	logger.Audit().Info("wallet created", "wallet_id", walletID)

	if err := s.store.Add(ctx, walletID); err != nil {
		return walletID, xerrors.Wrap(xerrors.CodeStorageFailure, err, "记录钱包 ID 失败",
			xerrors.WithMetadata("wallet_id", walletID),
			xerrors.WithRetryable(false),
		)
	}

	if s.funder != nil {
		s.fund(ctx, walletID)
	}
	return walletID, nil
}

func (s *Service) fund(ctx context.Context, walletID string) {
	account, err := s.client.GetICPAccount(ctx, walletID)
	if err != nil {
		s.log.Warn("获取钱包地址失败，跳过充值", "wallet_id", walletID, "error", err)
		return
	}
	if err := s.funder.Fund(ctx, account); err != nil {
		s.log.Warn("钱包充值失败", "wallet_id", walletID, "account", account, "error", err)
		return
	}
	s.log.Info("钱包已充值", "wallet_id", walletID, "account", account)
}

// GetICPAddress 返回钱包的 ICP 账户地址。
func (s *Service) GetICPAddress(ctx context.Context, walletID string) (string, error) {
	if err := requireWalletID(walletID); err != nil {
		return "", err
	}
	return s.client.GetICPAccount(ctx, walletID)
}

// GetICPBalance 返回钱包余额，空 ID 在发出请求之前就会被拒绝。
func (s *Service) GetICPBalance(ctx context.Context, walletID string) (icp.Tokens, error) {
	if err := requireWalletID(walletID); err != nil {
		return icp.Tokens{}, err
	}
	s.log.Debug("查询钱包余额", "wallet_id", walletID)
	return s.client.GetICPBalance(ctx, walletID)
}

// ExecuteTransaction 执行一次转账。
func (s *Service) ExecuteTransaction(ctx context.Context, walletID string, tx keygate.TransactionArgs) (keygate.IntentStatus, error) {
	if err := requireWalletID(walletID); err != nil {
		return keygate.IntentStatus{}, err
	}
	return s.client.ExecuteTransaction(ctx, walletID, tx)
}

// Transfer 以收款地址与金额的形式发起转账。
func (s *Service) Transfer(ctx context.Context, walletID, to string, amount decimal.Decimal) (keygate.IntentStatus, error) {
	return s.ExecuteTransaction(ctx, walletID, keygate.TransactionArgs{To: to, Amount: amount})
}

// Wallets 返回本地记录的全部钱包 ID。
func (s *Service) Wallets(ctx context.Context) ([]string, error) {
	ids, err := s.store.List(ctx)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取钱包列表失败")
	}
	return ids, nil
}

// Close 关闭存储。
func (s *Service) Close() error {
	return s.store.Close()
}

func requireWalletID(walletID string) error {
	if strings.TrimSpace(walletID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "Wallet ID cannot be empty")
	}
	return nil
}

var _ Client = (*keygate.Client)(nil)
