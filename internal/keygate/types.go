package keygate

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"keygate-sdk/internal/icp"
)

const (
	// NativeICPToken 是原生 ICP 的代币路径。
	NativeICPToken = "icp:native"

	methodCreateWallet       = "provisional_create_wallet"
	methodGetICPAccount      = "get_icp_account"
	methodAccountBalance     = "account_balance"
	methodProposeTransaction = "propose_transaction"
	methodGetThreshold       = "get_threshold"
	methodExecuteTransaction = "execute_transaction"
)

// TransactionType 是钱包支持的交易类型。
type TransactionType string

const (
	TransactionTransfer TransactionType = "Transfer"
)

// SupportedNetwork 是交易所在的网络。
type SupportedNetwork string

const (
	NetworkICP SupportedNetwork = "ICP"
)

// TransactionArgs 是一次 ICP 转账的参数：收款账户地址与金额（ICP）。
type TransactionArgs struct {
	To     string          `json:"to"`
	Amount decimal.Decimal `json:"amount"`
}

// ProposeTransactionArgs 是发送给钱包的提案参数。
type ProposeTransactionArgs struct {
	To              string           `json:"to"`
	Token           string           `json:"token"`
	TransactionType TransactionType  `json:"transaction_type"`
	Network         SupportedNetwork `json:"network"`
	Amount          float64          `json:"amount"`
}

// ProposedTransaction 是钱包返回的提案。
type ProposedTransaction struct {
	ID              uint64           `json:"id"`
	To              string           `json:"to"`
	Token           string           `json:"token"`
	Network         SupportedNetwork `json:"network"`
	Amount          float64          `json:"amount"`
	TransactionType TransactionType  `json:"transaction_type"`
	Signers         []icp.Principal  `json:"signers"`
	Rejections      []icp.Principal  `json:"rejections"`
}

// IntentState 是交易意图的状态。
type IntentState string

const (
	IntentPending    IntentState = "Pending"
	IntentInProgress IntentState = "InProgress"
	IntentCompleted  IntentState = "Completed"
	IntentRejected   IntentState = "Rejected"
	IntentFailed     IntentState = "Failed"
)

func (s IntentState) valid() bool {
	switch s {
	case IntentPending, IntentInProgress, IntentCompleted, IntentRejected, IntentFailed:
		return true
	}
	return false
}

// IntentStatus 是执行交易后的结果，线上格式为 {"Completed":"detail"}。
type IntentStatus struct {
	State  IntentState `json:"state"`
	Detail string      `json:"detail"`
}

// Terminal 判断状态是否已经结束。
func (s IntentStatus) Terminal() bool {
	return s.State == IntentCompleted || s.State == IntentRejected || s.State == IntentFailed
}

func (s IntentStatus) String() string {
	if s.Detail == "" {
		return string(s.State)
	}
	return fmt.Sprintf("%s(%s)", s.State, s.Detail)
}

// MarshalJSON 输出单键对象形式。
func (s IntentStatus) MarshalJSON() ([]byte, error) {
	if !s.State.valid() {
		return nil, fmt.Errorf("未知的交易状态 %q", s.State)
	}
	return json.Marshal(map[string]string{string(s.State): s.Detail})
}

// UnmarshalJSON 解析单键对象形式。
func (s *IntentStatus) UnmarshalJSON(data []byte) error {
	var variant map[string]string
	if err := json.Unmarshal(data, &variant); err != nil {
		return fmt.Errorf("解析交易状态失败: %w", err)
	}
	if len(variant) != 1 {
		return fmt.Errorf("交易状态应只包含一个字段，实际 %d 个", len(variant))
	}
	for key, detail := range variant {
		state := IntentState(key)
		if !state.valid() {
			return fmt.Errorf("未知的交易状态 %q", key)
		}
		s.State = state
		s.Detail = detail
	}
	return nil
}

// AccountBalanceArgs 是账本余额查询参数。
type AccountBalanceArgs struct {
	Account icp.AccountIdentifier `json:"account"`
}

// CreateWalletArgs 是创建钱包的参数。
type CreateWalletArgs struct {
	EffectiveCanisterID icp.Principal `json:"effective_canister_id"`
}

// CreateWalletResult 是创建钱包的返回。
type CreateWalletResult struct {
	CanisterID icp.Principal `json:"canister_id"`
}

// ExecuteTransactionArgs 是执行提案的参数。
type ExecuteTransactionArgs struct {
	ID uint64 `json:"id"`
}

// CallStatus 是更新调用的应答状态。
type CallStatus string

const (
	CallReplied    CallStatus = "replied"
	CallProcessing CallStatus = "processing"
	CallRejected   CallStatus = "rejected"
)

// CallReply 是 keygate_call 的返回。
type CallReply struct {
	Status        CallStatus      `json:"status"`
	Reply         json.RawMessage `json:"reply,omitempty"`
	RejectMessage string          `json:"reject_message,omitempty"`
}

// Status 是 keygate_status 的返回。
type Status struct {
	Network string `json:"network"`
	RootKey string `json:"root_key"`
	Healthy bool   `json:"healthy"`
}
