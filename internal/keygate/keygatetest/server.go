// Package keygatetest provides an in-memory Keygate service for tests and
// local demos. It speaks the same JSON-RPC surface as the real service and
// verifies every signed envelope it receives.
package keygatetest

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"sync"
	"time"

	gethrpc "github.com/ethereum/go-ethereum/rpc"
	"github.com/shopspring/decimal"

	"keygate-sdk/internal/icp"
	"keygate-sdk/internal/keygate"
)

// Wallet 是测试服务中的一个钱包。
type Wallet struct {
	ID        icp.Principal
	Threshold uint64
	proposals map[uint64]keygate.ProposeTransactionArgs
}

// Server 是内存版 Keygate 服务。
type Server struct {
	URL     string
	RootKey []byte

	mu        sync.Mutex
	wallets   map[string]*Wallet
	balances  map[icp.AccountIdentifier]uint64
	pending   map[string]bool
	rejects   map[string]string
	requests  []keygate.Envelope
	nextIndex uint64
	nextID    uint64

	rpc  *gethrpc.Server
	http *httptest.Server
}

// NewServer 启动 HTTP 测试服务，调用方负责 Close。
func NewServer() *Server {
	s := newServer()
	s.http = httptest.NewServer(s.rpc)
	s.URL = s.http.URL
	return s
}

func newServer() *Server {
	s := &Server{
		RootKey:   []byte("keygatetest-root-key"),
		wallets:   make(map[string]*Wallet),
		balances:  make(map[icp.AccountIdentifier]uint64),
		pending:   make(map[string]bool),
		rejects:   make(map[string]string),
		nextIndex: 100,
		nextID:    1,
	}
	s.rpc = gethrpc.NewServer()
	if err := s.rpc.RegisterName("keygate", &service{s: s}); err != nil {
		panic(err)
	}
	return s
}

// Close 停止服务。
func (s *Server) Close() {
	if s.http != nil {
		s.http.Close()
	}
	s.rpc.Stop()
}

// Network 返回指向本服务的网络定义。
func (s *Server) Network() keygate.Network {
	return keygate.NetworkForURL(s.URL)
}

// Fund 向账户充值。
func (s *Server) Fund(account icp.AccountIdentifier, e8s uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[account] += e8s
}

// Balance 返回账户余额。
func (s *Server) Balance(account icp.AccountIdentifier) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances[account]
}

// SetThreshold 修改钱包的审批阈值。
func (s *Server) SetThreshold(walletID icp.Principal, threshold uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok := s.wallets[walletID.String()]; ok {
		w.Threshold = threshold
	}
}

// SetPending 让指定方法的更新调用一直返回 processing。
func (s *Server) SetPending(method string, pending bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[method] = pending
}

// SetReject 让指定方法返回拒绝，message 为空时取消。
func (s *Server) SetReject(method, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if message == "" {
		delete(s.rejects, method)
		return
	}
	s.rejects[method] = message
}

// Wallets 返回已创建的钱包 ID。
func (s *Server) Wallets() []icp.Principal {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]icp.Principal, 0, len(s.wallets))
	for _, w := range s.wallets {
		out = append(out, w.ID)
	}
	return out
}

// Requests 返回收到的全部请求。
func (s *Server) Requests() []keygate.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]keygate.Envelope(nil), s.requests...)
}

// CountRequests 统计指定方法被调用的次数。
func (s *Server) CountRequests(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, env := range s.requests {
		if env.MethodName == method {
			n++
		}
	}
	return n
}

func (s *Server) record(env keygate.Envelope) error {
	if err := keygate.VerifyEnvelope(env, time.Now()); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, env)
	return nil
}

func (s *Server) newCanisterID() icp.Principal {
	raw := make([]byte, 10)
	binary.BigEndian.PutUint64(raw, s.nextIndex)
	raw[8], raw[9] = 0x01, 0x01
	s.nextIndex++
	p, _ := icp.NewPrincipal(raw)
	return p
}

type service struct {
	s *Server
}

func (svc *service) Status() keygate.Status {
	return keygate.Status{Network: "keygatetest", RootKey: hex.EncodeToString(svc.s.RootKey), Healthy: true}
}

func (svc *service) Query(_ context.Context, env keygate.Envelope) (json.RawMessage, error) {
	s := svc.s
	if err := s.record(env); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg, ok := s.rejects[env.MethodName]; ok {
		return nil, fmt.Errorf("%s", msg)
	}

	switch env.MethodName {
	case "account_balance":
		if env.CanisterID != keygate.LedgerCanisterID {
			return nil, fmt.Errorf("canister %s has no method account_balance", env.CanisterID)
		}
		var args keygate.AccountBalanceArgs
		if err := json.Unmarshal(env.Arg, &args); err != nil {
			return nil, err
		}
		return json.Marshal(icp.FromE8s(s.balances[args.Account]))
	case "get_icp_account":
		w, err := s.wallet(env.CanisterID)
		if err != nil {
			return nil, err
		}
		return json.Marshal(icp.DefaultAccount(w.ID).String())
	case "get_threshold":
		w, err := s.wallet(env.CanisterID)
		if err != nil {
			return nil, err
		}
		return json.Marshal(w.Threshold)
	default:
		return nil, fmt.Errorf("unknown query method %s", env.MethodName)
	}
}

func (svc *service) Call(_ context.Context, env keygate.Envelope) (keygate.CallReply, error) {
	s := svc.s
	if err := s.record(env); err != nil {
		return keygate.CallReply{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg, ok := s.rejects[env.MethodName]; ok {
		return keygate.CallReply{Status: keygate.CallRejected, RejectMessage: msg}, nil
	}
	if s.pending[env.MethodName] {
		return keygate.CallReply{Status: keygate.CallProcessing}, nil
	}

	var (
		result any
		err    error
	)
	switch env.MethodName {
	case "provisional_create_wallet":
		if env.CanisterID != keygate.ManagementCanisterID {
			return keygate.CallReply{}, fmt.Errorf("canister %s cannot create wallets", env.CanisterID)
		}
		w := &Wallet{ID: s.newCanisterID(), Threshold: 1, proposals: make(map[uint64]keygate.ProposeTransactionArgs)}
		s.wallets[w.ID.String()] = w
		result = keygate.CreateWalletResult{CanisterID: w.ID}
	case "propose_transaction":
		result, err = s.propose(env)
	case "execute_transaction":
		result, err = s.execute(env)
	default:
		err = fmt.Errorf("unknown update method %s", env.MethodName)
	}
	if err != nil {
		return keygate.CallReply{}, err
	}
	reply, err := json.Marshal(result)
	if err != nil {
		return keygate.CallReply{}, err
	}
	return keygate.CallReply{Status: keygate.CallReplied, Reply: reply}, nil
}

func (s *Server) wallet(id string) (*Wallet, error) {
	w, ok := s.wallets[id]
	if !ok {
		return nil, fmt.Errorf("wallet %s not found", id)
	}
	return w, nil
}

func (s *Server) propose(env keygate.Envelope) (keygate.ProposedTransaction, error) {
	w, err := s.wallet(env.CanisterID)
	if err != nil {
		return keygate.ProposedTransaction{}, err
	}
	var args keygate.ProposeTransactionArgs
	if err := json.Unmarshal(env.Arg, &args); err != nil {
		return keygate.ProposedTransaction{}, err
	}
	id := s.nextID
	s.nextID++
	w.proposals[id] = args
	sender, _ := icp.ParsePrincipal(env.Sender)
	return keygate.ProposedTransaction{
		ID:              id,
		To:              args.To,
		Token:           args.Token,
		Network:         args.Network,
		Amount:          args.Amount,
		TransactionType: args.TransactionType,
		Signers:         []icp.Principal{sender},
		Rejections:      []icp.Principal{},
	}, nil
}

func (s *Server) execute(env keygate.Envelope) (keygate.IntentStatus, error) {
	w, err := s.wallet(env.CanisterID)
	if err != nil {
		return keygate.IntentStatus{}, err
	}
	var args keygate.ExecuteTransactionArgs
	if err := json.Unmarshal(env.Arg, &args); err != nil {
		return keygate.IntentStatus{}, err
	}
	proposal, ok := w.proposals[args.ID]
	if !ok {
		return keygate.IntentStatus{State: keygate.IntentFailed, Detail: fmt.Sprintf("proposal %d not found", args.ID)}, nil
	}
	delete(w.proposals, args.ID)

	amount, err := icp.FromDecimal(decimal.NewFromFloat(proposal.Amount))
	if err != nil {
		return keygate.IntentStatus{State: keygate.IntentFailed, Detail: err.Error()}, nil
	}
	to, err := icp.ParseAccountIdentifier(proposal.To)
	if err != nil {
		return keygate.IntentStatus{State: keygate.IntentFailed, Detail: err.Error()}, nil
	}
	from := icp.DefaultAccount(w.ID)
	if s.balances[from] < amount.E8s {
		return keygate.IntentStatus{State: keygate.IntentFailed, Detail: "insufficient funds"}, nil
	}
	s.balances[from] -= amount.E8s
	s.balances[to] += amount.E8s
	return keygate.IntentStatus{
		State:  keygate.IntentCompleted,
		Detail: fmt.Sprintf("transferred %s ICP to %s", amount, to),
	}, nil
}
