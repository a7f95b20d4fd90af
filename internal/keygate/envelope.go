package keygate

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	xerrors "keygate-sdk/internal/errors"
	"keygate-sdk/internal/icp"
	"keygate-sdk/internal/identity"
)

// RequestType 区分只读查询与更新调用。
type RequestType string

const (
	RequestQuery RequestType = "query"
	RequestCall  RequestType = "call"
)

// Envelope 是每次调用携带的签名请求。签名覆盖除 signature 以外的全部字段。
type Envelope struct {
	RequestType   RequestType     `json:"request_type"`
	CanisterID    string          `json:"canister_id"`
	MethodName    string          `json:"method_name"`
	Arg           json.RawMessage `json:"arg"`
	Sender        string          `json:"sender"`
	PublicKey     string          `json:"public_key"`
	IngressExpiry int64           `json:"ingress_expiry"`
	Nonce         string          `json:"nonce"`
	Signature     string          `json:"signature,omitempty"`
}

// SigningPayload 返回参与签名的字节。
func (e Envelope) SigningPayload() ([]byte, error) {
	unsigned := e
	unsigned.Signature = ""
	payload, err := json.Marshal(unsigned)
	if err != nil {
		return nil, fmt.Errorf("序列化请求失败: %w", err)
	}
	return payload, nil
}

func newEnvelope(id *identity.Identity, kind RequestType, canister icp.Principal, method string, arg any, expiry time.Time) (Envelope, error) {
	raw := json.RawMessage("null")
	if arg != nil {
		encoded, err := json.Marshal(arg)
		if err != nil {
			return Envelope{}, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "序列化调用参数失败", xerrors.WithMetadata("method", method))
		}
		raw = encoded
	}
	env := Envelope{
		RequestType:   kind,
		CanisterID:    canister.String(),
		MethodName:    method,
		Arg:           raw,
		Sender:        id.Principal().String(),
		PublicKey:     hex.EncodeToString(id.PublicKeyDER()),
		IngressExpiry: expiry.UnixNano(),
		Nonce:         uuid.NewString(),
	}
	payload, err := env.SigningPayload()
	if err != nil {
		return Envelope{}, err
	}
	sig, err := id.Sign(payload)
	if err != nil {
		return Envelope{}, xerrors.Wrap(identity.CodeSignatureInvalid, err, "签名请求失败")
	}
	env.Signature = hex.EncodeToString(sig)
	return env, nil
}

// VerifyEnvelope 校验签名、发送方与过期时间，供服务端或网关使用。
func VerifyEnvelope(env Envelope, now time.Time) error {
	pub, err := hex.DecodeString(env.PublicKey)
	if err != nil {
		return xerrors.Wrap(identity.CodeSignatureInvalid, err, "公钥不是十六进制")
	}
	sig, err := hex.DecodeString(env.Signature)
	if err != nil {
		return xerrors.Wrap(identity.CodeSignatureInvalid, err, "签名不是十六进制")
	}
	if icp.SelfAuthenticating(pub).String() != env.Sender {
		return xerrors.New(identity.CodeSignatureInvalid, "发送方与公钥不匹配", xerrors.WithMetadata("sender", env.Sender))
	}
	if now.UnixNano() > env.IngressExpiry {
		return xerrors.New(CodeRequestExpired, "", xerrors.WithMetadata("nonce", env.Nonce))
	}
	payload, err := env.SigningPayload()
	if err != nil {
		return err
	}
	return identity.Verify(pub, payload, sig)
}
