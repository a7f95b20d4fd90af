package keygate

import (
	"context"
	"encoding/hex"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	gethrpc "github.com/ethereum/go-ethereum/rpc"

	xerrors "keygate-sdk/internal/errors"
	"keygate-sdk/internal/icp"
	"keygate-sdk/internal/identity"
	"keygate-sdk/pkg/logger"
)

const (
	// CodeTransactionPending 表示更新调用已提交但尚未得到应答。
	CodeTransactionPending xerrors.Code = "TRANSACTION_PENDING"
	// CodeApprovalRequired 表示钱包阈值大于 1，提案需要其他签名人批准。
	CodeApprovalRequired xerrors.Code = "APPROVAL_REQUIRED"
	// CodeCallRejected 表示服务端拒绝了调用。
	CodeCallRejected xerrors.Code = "CALL_REJECTED"
	// CodeRequestExpired 表示请求超过了 ingress 过期时间。
	CodeRequestExpired xerrors.Code = "REQUEST_EXPIRED"
)

func init() {
	xerrors.Register(CodeTransactionPending, xerrors.Attributes{Message: "Transaction is still pending", Severity: xerrors.SeverityWarning, Alert: true})
	xerrors.Register(CodeApprovalRequired, xerrors.Attributes{Message: "Transaction failed", Severity: xerrors.SeverityWarning})
	xerrors.Register(CodeCallRejected, xerrors.Attributes{Message: "call rejected by keygate", Severity: xerrors.SeverityWarning, Alert: true})
	xerrors.Register(CodeRequestExpired, xerrors.Attributes{Message: "request expired", Severity: xerrors.SeverityInfo, Retryable: true})
}

const (
	defaultIngressExpiry = 5 * time.Minute
	defaultTimeout       = 30 * time.Second
)

// CallObserver 接收每次远程调用的耗时与结果，通常由 metrics 包实现。
type CallObserver interface {
	ObserveCall(method string, duration time.Duration, err error)
}

// Option 自定义客户端行为。
type Option func(*Client)

// WithHTTPClient 指定底层 HTTP 客户端。
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithRPCClient 使用已建立的 RPC 连接，Init 不再拨号。
func WithRPCClient(rc *gethrpc.Client) Option {
	return func(c *Client) {
		c.rpc = rc
	}
}

// WithObserver 注册调用观察者。
func WithObserver(o CallObserver) Option {
	return func(c *Client) {
		c.observer = o
	}
}

// WithIngressExpiry 设置请求签名的有效期。
func WithIngressExpiry(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.ingressExpiry = d
		}
	}
}

// WithTimeout 设置单次调用的超时时间。
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// Client 是 Keygate 钱包服务的客户端。调用 Init 之前，其余方法都会返回初始化错误。
type Client struct {
	identity      *identity.Identity
	network       Network
	httpClient    *http.Client
	observer      CallObserver
	ingressExpiry time.Duration
	timeout       time.Duration
	now           func() time.Time

	mu          sync.RWMutex
	rpc         *gethrpc.Client
	initialized bool
	rootKey     []byte
}

// New 创建客户端，不发起任何网络请求。
func New(id *identity.Identity, network Network, opts ...Option) (*Client, error) {
	if id == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "身份不能为空")
	}
	network = network.withDefaults()
	if err := network.validate(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "网络配置非法")
	}
	c := &Client{
		identity:      id,
		network:       network,
		httpClient:    &http.Client{},
		ingressExpiry: defaultIngressExpiry,
		timeout:       defaultTimeout,
		now:           time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// Init 建立与服务的会话。本地网络会拉取 root key，重复调用是安全的。
func (c *Client) Init(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.initialized {
		return nil
	}

	if c.rpc == nil {
		rc, err := gethrpc.DialOptions(ctx, c.network.URL, gethrpc.WithHTTPClient(c.httpClient))
		if err != nil {
			return xerrors.Wrap(xerrors.CodeInitializationFailure, err, "连接 Keygate 服务失败", xerrors.WithMetadata("url", c.network.URL))
		}
		c.rpc = rc
	}

	var status Status
	if err := c.invoke(ctx, "keygate_status", &status); err != nil {
		return xerrors.Wrap(xerrors.CodeInitializationFailure, err, "获取 Keygate 服务状态失败", xerrors.WithMetadata("url", c.network.URL))
	}
	if c.network.ShouldFetchRootKey() {
		key, err := hex.DecodeString(status.RootKey)
		if err != nil || len(key) == 0 {
			return xerrors.New(xerrors.CodeInitializationFailure, "服务返回的 root key 无效", xerrors.WithMetadata("url", c.network.URL))
		}
		c.rootKey = key
	}
	c.initialized = true

	logger.L().Info("Keygate 客户端已初始化",
		"network", c.network.Name,
		"url", c.network.URL,
		"principal", c.identity.Principal().String(),
	)
	return nil
}

// Close 释放底层连接。
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rpc != nil {
		c.rpc.Close()
		c.rpc = nil
	}
	c.initialized = false
}

// Principal 返回调用方身份。
func (c *Client) Principal() icp.Principal {
	return c.identity.Principal()
}

// Network 返回客户端使用的网络。
func (c *Client) Network() Network {
	return c.network
}

// RootKey 返回 Init 时拉取的 root key，主网为空。
func (c *Client) RootKey() []byte {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]byte(nil), c.rootKey...)
}

// CreateWallet 创建新的钱包 canister，返回钱包 ID。
func (c *Client) CreateWallet(ctx context.Context) (icp.Principal, error) {
	management := icp.MustParsePrincipal(ManagementCanisterID)
	effective, err := c.network.Effective()
	if err != nil {
		return icp.Principal{}, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "effective canister 非法")
	}
	var result CreateWalletResult
	if err := c.update(ctx, management, methodCreateWallet, CreateWalletArgs{EffectiveCanisterID: effective}, &result); err != nil {
		return icp.Principal{}, err
	}
	if result.CanisterID.IsZero() {
		return icp.Principal{}, xerrors.New(xerrors.CodeUpstreamFailure, "服务未返回钱包 ID", xerrors.WithRetryable(false))
	}
	return result.CanisterID, nil
}

// GetICPAccount 查询钱包的 ICP 账户地址。
func (c *Client) GetICPAccount(ctx context.Context, walletID string) (string, error) {
	wallet, err := parseWalletID(walletID)
	if err != nil {
		return "", err
	}
	var account string
	if err := c.query(ctx, wallet, methodGetICPAccount, nil, &account); err != nil {
		return "", err
	}
	return account, nil
}

// GetICPBalance 查询钱包默认子账户在账本上的余额。
func (c *Client) GetICPBalance(ctx context.Context, walletID string) (icp.Tokens, error) {
	wallet, err := parseWalletID(walletID)
	if err != nil {
		return icp.Tokens{}, err
	}
	ledger, err := c.network.Ledger()
	if err != nil {
		return icp.Tokens{}, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "账本 canister 非法")
	}
	var balance icp.Tokens
	args := AccountBalanceArgs{Account: icp.DefaultAccount(wallet)}
	if err := c.query(ctx, ledger, methodAccountBalance, args, &balance); err != nil {
		return icp.Tokens{}, err
	}
	return balance, nil
}

// ExecuteTransaction 提交转账提案，阈值不超过 1 时直接执行并返回交易状态。
func (c *Client) ExecuteTransaction(ctx context.Context, walletID string, tx TransactionArgs) (IntentStatus, error) {
	wallet, err := parseWalletID(walletID)
	if err != nil {
		return IntentStatus{}, err
	}
	if _, err := icp.ParseAccountIdentifier(tx.To); err != nil {
		return IntentStatus{}, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "收款地址非法", xerrors.WithMetadata("to", tx.To))
	}
	amount, err := icp.FromDecimal(tx.Amount)
	if err != nil {
		return IntentStatus{}, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "转账金额非法", xerrors.WithMetadata("amount", tx.Amount.String()))
	}

	proposal := ProposeTransactionArgs{
		To:              strings.ToLower(strings.TrimSpace(tx.To)),
		Token:           NativeICPToken,
		TransactionType: TransactionTransfer,
		Network:         NetworkICP,
		Amount:          amount.Float64(),
	}
	var proposed ProposedTransaction
	if err := c.update(ctx, wallet, methodProposeTransaction, proposal, &proposed); err != nil {
		return IntentStatus{}, err
	}

	var threshold uint64
	if err := c.query(ctx, wallet, methodGetThreshold, nil, &threshold); err != nil {
		return IntentStatus{}, xerrors.Wrap(xerrors.CodeOf(err), err, "读取钱包阈值失败",
			xerrors.WithRetryable(false),
			xerrors.WithMetadata("proposal_id", strconv.FormatUint(proposed.ID, 10)),
		)
	}
	if threshold > 1 {
		return IntentStatus{}, xerrors.New(CodeApprovalRequired,
			fmt.Sprintf("Transaction failed: 钱包阈值为 %d，提案 %d 需要其他签名人批准", threshold, proposed.ID),
			xerrors.WithMetadata("proposal_id", strconv.FormatUint(proposed.ID, 10)),
		)
	}

	var status IntentStatus
	if err := c.update(ctx, wallet, methodExecuteTransaction, ExecuteTransactionArgs{ID: proposed.ID}, &status); err != nil {
		return IntentStatus{}, err
	}

	logger.Audit().Info("transaction executed",
		"wallet_id", wallet.String(),
		"to", proposal.To,
		"amount_e8s", amount.E8s,
		"proposal_id", proposed.ID,
		"status", status.String(),
	)
	return status, nil
}

func parseWalletID(walletID string) (icp.Principal, error) {
	if strings.TrimSpace(walletID) == "" {
		return icp.Principal{}, xerrors.New(xerrors.CodeInvalidArgument, "Wallet ID cannot be empty")
	}
	p, err := icp.ParsePrincipal(walletID)
	if err != nil {
		return icp.Principal{}, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "钱包 ID 非法", xerrors.WithMetadata("wallet_id", walletID))
	}
	return p, nil
}

func (c *Client) session() (*gethrpc.Client, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.initialized || c.rpc == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "KeygateClient not initialized. Make sure to call Init() before using other methods.")
	}
	return c.rpc, nil
}

func (c *Client) query(ctx context.Context, canister icp.Principal, method string, arg, out any) error {
	env, err := newEnvelope(c.identity, RequestQuery, canister, method, arg, c.now().Add(c.ingressExpiry))
	if err != nil {
		return err
	}
	var reply json.RawMessage
	if err := c.call(ctx, "keygate_query", method, &reply, env); err != nil {
		return err
	}
	if err := json.Unmarshal(reply, out); err != nil {
		return xerrors.Wrap(xerrors.CodeUpstreamFailure, err, "解析查询结果失败", xerrors.WithMetadata("method", method))
	}
	return nil
}

// update 发送更新调用。请求一旦发出，失败都不可自动重试，避免重复扣款或重复建钱包。
func (c *Client) update(ctx context.Context, canister icp.Principal, method string, arg, out any) error {
	if _, err := c.session(); err != nil {
		return err
	}
	env, err := newEnvelope(c.identity, RequestCall, canister, method, arg, c.now().Add(c.ingressExpiry))
	if err != nil {
		return err
	}
	var reply CallReply
	if err := c.call(ctx, "keygate_call", method, &reply, env); err != nil {
		return xerrors.Wrap(xerrors.CodeOf(err), err, "更新调用失败",
			xerrors.WithRetryable(false),
			xerrors.WithMetadata("method", method),
			xerrors.WithMetadata("nonce", env.Nonce),
		)
	}
	switch reply.Status {
	case CallReplied:
		if err := json.Unmarshal(reply.Reply, out); err != nil {
			return xerrors.Wrap(xerrors.CodeUpstreamFailure, err, "解析调用结果失败", xerrors.WithRetryable(false), xerrors.WithMetadata("method", method))
		}
		return nil
	case CallProcessing:
		return xerrors.New(CodeTransactionPending, "", xerrors.WithMetadata("method", method), xerrors.WithMetadata("nonce", env.Nonce))
	case CallRejected:
		return xerrors.New(CodeCallRejected, reply.RejectMessage, xerrors.WithMetadata("method", method))
	default:
		return xerrors.New(xerrors.CodeUpstreamFailure, fmt.Sprintf("未知的调用状态 %q", reply.Status), xerrors.WithRetryable(false))
	}
}

func (c *Client) call(ctx context.Context, rpcMethod, method string, out any, env Envelope) error {
	rc, err := c.session()
	if err != nil {
		return err
	}
	start := time.Now()
	err = c.roundTrip(ctx, rc, out, rpcMethod, env)
	if c.observer != nil {
		c.observer.ObserveCall(method, time.Since(start), err)
	}
	return err
}

func (c *Client) invoke(ctx context.Context, rpcMethod string, out any) error {
	start := time.Now()
	err := c.roundTrip(ctx, c.rpc, out, rpcMethod)
	if c.observer != nil {
		c.observer.ObserveCall(strings.TrimPrefix(rpcMethod, "keygate_"), time.Since(start), err)
	}
	return err
}

func (c *Client) roundTrip(ctx context.Context, rc *gethrpc.Client, out any, rpcMethod string, args ...any) error {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	err := rc.CallContext(callCtx, out, rpcMethod, args...)
	if err == nil {
		return nil
	}
	if ctxErr := callCtx.Err(); ctxErr != nil {
		return xerrors.Wrap(xerrors.CodeTimeout, err, "调用 Keygate 超时", xerrors.WithMetadata("rpc_method", rpcMethod))
	}
	var rpcErr gethrpc.Error
	if stdErrors.As(err, &rpcErr) {
		return xerrors.Wrap(CodeCallRejected, err, "Keygate 拒绝了请求",
			xerrors.WithMetadata("rpc_method", rpcMethod),
			xerrors.WithMetadata("error_code", strconv.Itoa(rpcErr.ErrorCode())),
		)
	}
	return xerrors.Wrap(xerrors.CodeUpstreamFailure, err, "调用 Keygate 失败", xerrors.WithMetadata("rpc_method", rpcMethod))
}
