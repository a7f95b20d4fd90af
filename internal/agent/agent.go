package agent

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	xerrors "keygate-sdk/internal/errors"
	"keygate-sdk/internal/icp"
	"keygate-sdk/internal/keygate"
	"keygate-sdk/internal/knowledge"
	"keygate-sdk/internal/llm"
	"keygate-sdk/pkg/logger"
)

// CodeLLMFailure 表示调用大模型失败。
const CodeLLMFailure xerrors.Code = "LLM_FAILURE"

func init() {
	xerrors.Register(CodeLLMFailure, xerrors.Attributes{Message: "language model call failed", Severity: xerrors.SeverityWarning, Retryable: true})
}

// Wallet 是 Agent 依赖的钱包能力，*wallet.Service 满足该接口。
type Wallet interface {
	Init(ctx context.Context) error
	CreateWallet(ctx context.Context) (string, error)
	GetICPAddress(ctx context.Context, walletID string) (string, error)
	GetICPBalance(ctx context.Context, walletID string) (icp.Tokens, error)
	ExecuteTransaction(ctx context.Context, walletID string, tx keygate.TransactionArgs) (keygate.IntentStatus, error)
}

const (
	defaultMaxTokens = 1024
	errorPrefix      = "Error processing message: "
)

// Agent 让大模型在四个钱包操作中选择一个执行。
type Agent struct {
	name         string
	instructions string
	llmClient    llm.Client
	wallet       Wallet
	knowledge    knowledge.Provider
	memoryDepth  int
	llmTimeout   time.Duration
	maxTokens    int
	temperature  float64
	log          *slog.Logger

	mu       sync.Mutex
	walletID string
	history  []llm.Message
}

// Option 定义可选的 Agent 配置。
type Option func(*Agent)

// WithMemoryDepth 设置保留的历史对话轮数，0 表示每条消息独立处理。
func WithMemoryDepth(depth int) Option {
	return func(a *Agent) {
		if depth >= 0 {
			a.memoryDepth = depth
		}
	}
}

// WithKnowledgeProvider 配置知识库，命中的条目会追加到系统提示中。
func WithKnowledgeProvider(provider knowledge.Provider) Option {
	return func(a *Agent) {
		a.knowledge = provider
	}
}

// WithLLMTimeout 设置单次调用大模型的超时时间。
func WithLLMTimeout(timeout time.Duration) Option {
	return func(a *Agent) {
		if timeout < 0 {
			timeout = 0
		}
		a.llmTimeout = timeout
	}
}

// WithWalletID 复用已有钱包，Initialize 不再创建新钱包。
func WithWalletID(walletID string) Option {
	return func(a *Agent) {
		a.walletID = strings.TrimSpace(walletID)
	}
}

// WithSampling 设置 max_tokens 与 temperature。
func WithSampling(maxTokens int, temperature float64) Option {
	return func(a *Agent) {
		if maxTokens > 0 {
			a.maxTokens = maxTokens
		}
		a.temperature = temperature
	}
}

// New 创建一个 Agent。
func New(name, instructions string, llmClient llm.Client, wallet Wallet, opts ...Option) *Agent {
	a := &Agent{
		name:         name,
		instructions: instructions,
		llmClient:    llmClient,
		wallet:       wallet,
		maxTokens:    defaultMaxTokens,
		log:          logger.Named("agent"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// Name 返回 Agent 名称。
func (a *Agent) Name() string {
	return a.name
}

// WalletID 返回 Agent 自己的钱包 ID，初始化前为空。
func (a *Agent) WalletID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.walletID
}

// Initialize 初始化钱包客户端并创建 Agent 的钱包。
func (a *Agent) Initialize(ctx context.Context) error {
	if a.wallet == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置钱包服务")
	}
	if err := a.wallet.Init(ctx); err != nil {
		return err
	}
	if a.WalletID() != "" {
		return nil
	}
	walletID, err := a.wallet.CreateWallet(ctx)
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.walletID = walletID
	a.mu.Unlock()
	a.log.Info("Agent 钱包已创建", "agent", a.name, "wallet_id", walletID)
	return nil
}

func (a *Agent) requireWallet() (string, error) {
	walletID := a.WalletID()
	if walletID == "" {
		return "", xerrors.New(xerrors.CodeInitializationFailure, "Agent not initialized. Call Initialize() first.")
	}
	return walletID, nil
}

// SystemPrompt 返回针对某条消息的系统提示。
func (a *Agent) SystemPrompt(message string) string {
	var snippets []knowledge.Snippet
	if a.knowledge != nil {
		snippets = a.knowledge.Query(message)
	}
	return buildSystemPrompt(a.name, a.instructions, snippets)
}

// ProcessMessage 处理一条用户消息。任何失败都会转换为文本返回，不会向上抛出。
func (a *Agent) ProcessMessage(ctx context.Context, message string) string {
	reply, err := a.processMessage(ctx, message)
	if err != nil {
		a.log.Error("处理消息失败", "agent", a.name, "error", err, "code", xerrors.CodeOf(err))
		return errorPrefix + err.Error()
	}
	return reply
}

func (a *Agent) processMessage(ctx context.Context, message string) (string, error) {
	if a.llmClient == nil {
		return "", xerrors.New(xerrors.CodeInitializationFailure, "未配置大模型客户端")
	}

	system := a.SystemPrompt(message)
	messages := append(a.recentHistory(), llm.UserMessage(message))

	content, err := a.complete(ctx, system, messages)
	if err != nil {
		return "", err
	}

	reply := content
	if name, args, found := parseFunctionCall(content); found {
		if fn, ok := ParseFunction(name); ok {
			result, err := a.Call(ctx, fn, args)
			if err != nil {
				return "", fmt.Errorf("%s: %w", fn, err)
			}
			followUp := append(messages,
				llm.AssistantMessage(content),
				llm.UserMessage("Function result: "+result),
			)
			reply, err = a.complete(ctx, system, followUp)
			if err != nil {
				return "", err
			}
		} else {
			a.log.Warn("大模型请求了未知函数", "function", name)
		}
	}

	a.remember(message, reply)
	return reply, nil
}

// Call 通过查找表执行函数。
func (a *Agent) Call(ctx context.Context, fn Function, args []byte) (string, error) {
	spec, ok := functionTable[fn]
	if !ok {
		return "", xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("unknown function %q", fn))
	}
	a.log.Info("执行钱包函数", "agent", a.name, "function", string(fn))
	return spec.handler(ctx, a, args)
}

func (a *Agent) complete(ctx context.Context, system string, messages []llm.Message) (string, error) {
	callCtx := ctx
	if a.llmTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, a.llmTimeout)
		defer cancel()
	}
	resp, err := a.llmClient.Complete(callCtx, llm.Request{
		System:      system,
		Messages:    messages,
		MaxTokens:   a.maxTokens,
		Temperature: a.temperature,
	})
	if err != nil {
		if stdErrors.Is(err, context.DeadlineExceeded) {
			return "", xerrors.Wrap(xerrors.CodeTimeout, err, "大模型推理超时")
		}
		return "", xerrors.Wrap(CodeLLMFailure, err, "大模型推理失败")
	}
	if resp == nil {
		return "", xerrors.New(CodeLLMFailure, "大模型返回为空")
	}
	return resp.Text, nil
}

func (a *Agent) recentHistory() []llm.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]llm.Message(nil), a.history...)
}

func (a *Agent) remember(message, reply string) {
	if a.memoryDepth <= 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.history = append(a.history, llm.UserMessage(message), llm.AssistantMessage(reply))
	if limit := a.memoryDepth * 2; len(a.history) > limit {
		a.history = append([]llm.Message(nil), a.history[len(a.history)-limit:]...)
	}
}
