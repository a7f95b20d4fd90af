package identity

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/mitchellh/go-homedir"

	xerrors "keygate-sdk/internal/errors"
	"keygate-sdk/internal/icp"
)

const (
	// CodeIdentityInvalid 表示身份文件无法读取或解析。
	CodeIdentityInvalid xerrors.Code = "IDENTITY_INVALID"
	// CodeSignatureInvalid 表示签名校验失败。
	CodeSignatureInvalid xerrors.Code = "SIGNATURE_INVALID"
)

func init() {
	xerrors.Register(CodeIdentityInvalid, xerrors.Attributes{Message: "identity file invalid", Severity: xerrors.SeverityWarning})
	xerrors.Register(CodeSignatureInvalid, xerrors.Attributes{Message: "signature verification failed", Severity: xerrors.SeverityWarning})
}

var (
	oidSecp256k1   = asn1.ObjectIdentifier{1, 3, 132, 0, 10}
	oidECPublicKey = asn1.ObjectIdentifier{1, 2, 840, 10045, 2, 1}

	// secp256k1 SubjectPublicKeyInfo 的固定前缀，后接 65 字节未压缩公钥。
	derPrefix = mustHex("3056301006072a8648ce3d020106052b8104000a034200")
)

// ecPrivateKey 对应 SEC1 的 ECPrivateKey 结构。
type ecPrivateKey struct {
	Version       int
	PrivateKey    []byte
	NamedCurveOID asn1.ObjectIdentifier `asn1:"optional,explicit,tag:0"`
	PublicKey     asn1.BitString        `asn1:"optional,explicit,tag:1"`
}

type pkcs8 struct {
	Version    int
	Algo       pkix.AlgorithmIdentifier
	PrivateKey []byte
}

// Identity 是调用方的 secp256k1 身份，所有请求都以它签名。
type Identity struct {
	key       *ecdsa.PrivateKey
	der       []byte
	principal icp.Principal
}

// Load 读取 PEM 身份文件，路径支持 ~ 展开。
func Load(path string) (*Identity, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, xerrors.Wrap(CodeIdentityInvalid, err, "展开身份文件路径失败", xerrors.WithMetadata("path", path))
	}
	data, err := os.ReadFile(expanded)
	if err != nil {
		return nil, xerrors.Wrap(CodeIdentityInvalid, err, "读取身份文件失败", xerrors.WithMetadata("path", expanded))
	}
	id, err := Parse(data)
	if err != nil {
		return nil, xerrors.Wrap(CodeIdentityInvalid, err, "解析身份文件失败", xerrors.WithMetadata("path", expanded))
	}
	return id, nil
}

// Parse 解析 PEM 内容，支持 SEC1 的 EC PRIVATE KEY 与 PKCS#8 的 PRIVATE KEY，忽略 EC PARAMETERS 块。
func Parse(data []byte) (*Identity, error) {
	rest := data
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			return nil, fmt.Errorf("未找到私钥 PEM 块")
		}
		switch block.Type {
		case "EC PARAMETERS":
			continue
		case "EC PRIVATE KEY":
			scalar, err := parseSEC1(block.Bytes)
			if err != nil {
				return nil, err
			}
			return fromScalar(scalar)
		case "PRIVATE KEY":
			scalar, err := parsePKCS8(block.Bytes)
			if err != nil {
				return nil, err
			}
			return fromScalar(scalar)
		default:
			return nil, fmt.Errorf("不支持的 PEM 类型 %q", block.Type)
		}
	}
}

func parseSEC1(der []byte) ([]byte, error) {
	var key ecPrivateKey
	if _, err := asn1.Unmarshal(der, &key); err != nil {
		return nil, fmt.Errorf("解析 EC 私钥失败: %w", err)
	}
	if key.Version != 1 {
		return nil, fmt.Errorf("不支持的 EC 私钥版本 %d", key.Version)
	}
	if len(key.NamedCurveOID) > 0 && !key.NamedCurveOID.Equal(oidSecp256k1) {
		return nil, fmt.Errorf("不支持的曲线 %s，仅支持 secp256k1", key.NamedCurveOID)
	}
	return key.PrivateKey, nil
}

func parsePKCS8(der []byte) ([]byte, error) {
	var key pkcs8
	if _, err := asn1.Unmarshal(der, &key); err != nil {
		return nil, fmt.Errorf("解析 PKCS#8 私钥失败: %w", err)
	}
	if !key.Algo.Algorithm.Equal(oidECPublicKey) {
		return nil, fmt.Errorf("不支持的密钥算法 %s", key.Algo.Algorithm)
	}
	var curve asn1.ObjectIdentifier
	if _, err := asn1.Unmarshal(key.Algo.Parameters.FullBytes, &curve); err != nil {
		return nil, fmt.Errorf("解析曲线参数失败: %w", err)
	}
	if !curve.Equal(oidSecp256k1) {
		return nil, fmt.Errorf("不支持的曲线 %s，仅支持 secp256k1", curve)
	}
	return parseSEC1(key.PrivateKey)
}

func fromScalar(scalar []byte) (*Identity, error) {
	key, err := crypto.ToECDSA(scalar)
	if err != nil {
		return nil, fmt.Errorf("私钥无效: %w", err)
	}
	return fromKey(key), nil
}

func fromKey(key *ecdsa.PrivateKey) *Identity {
	der := make([]byte, 0, len(derPrefix)+65)
	der = append(der, derPrefix...)
	der = append(der, crypto.FromECDSAPub(&key.PublicKey)...)
	return &Identity{key: key, der: der, principal: icp.SelfAuthenticating(der)}
}

// Generate 生成新的随机身份。
func Generate() (*Identity, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("生成私钥失败: %w", err)
	}
	return fromKey(key), nil
}

// Principal 返回身份对应的自认证 principal。
func (i *Identity) Principal() icp.Principal {
	return i.principal
}

// PublicKeyDER 返回 DER 编码的公钥。
func (i *Identity) PublicKeyDER() []byte {
	return append([]byte(nil), i.der...)
}

// Sign 对 payload 的 Keccak-256 摘要签名，返回 65 字节可恢复签名。
func (i *Identity) Sign(payload []byte) ([]byte, error) {
	sig, err := crypto.Sign(crypto.Keccak256(payload), i.key)
	if err != nil {
		return nil, fmt.Errorf("签名失败: %w", err)
	}
	return sig, nil
}

// EncodePEM 以 dfx 兼容的 SEC1 格式导出身份。
func (i *Identity) EncodePEM() ([]byte, error) {
	pub := crypto.FromECDSAPub(&i.key.PublicKey)
	der, err := asn1.Marshal(ecPrivateKey{
		Version:       1,
		PrivateKey:    crypto.FromECDSA(i.key),
		NamedCurveOID: oidSecp256k1,
		PublicKey:     asn1.BitString{Bytes: pub, BitLength: len(pub) * 8},
	})
	if err != nil {
		return nil, fmt.Errorf("编码私钥失败: %w", err)
	}
	params, err := asn1.Marshal(oidSecp256k1)
	if err != nil {
		return nil, fmt.Errorf("编码曲线参数失败: %w", err)
	}
	var buf bytes.Buffer
	if err := pem.Encode(&buf, &pem.Block{Type: "EC PARAMETERS", Bytes: params}); err != nil {
		return nil, err
	}
	if err := pem.Encode(&buf, &pem.Block{Type: "EC PRIVATE KEY", Bytes: der}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Verify 使用 DER 公钥校验签名。
func Verify(derPublicKey, payload, signature []byte) error {
	if len(derPublicKey) != len(derPrefix)+65 || !bytes.HasPrefix(derPublicKey, derPrefix) {
		return xerrors.New(CodeSignatureInvalid, "公钥不是 secp256k1 DER 编码")
	}
	if len(signature) < 64 {
		return xerrors.New(CodeSignatureInvalid, "签名长度不足")
	}
	pub := derPublicKey[len(derPrefix):]
	if !crypto.VerifySignature(pub, crypto.Keccak256(payload), signature[:64]) {
		return xerrors.New(CodeSignatureInvalid, "")
	}
	return nil
}

func mustHex(s string) []byte {
	b, err := hex.DecodeString(s)
	if err != nil {
		panic(err)
	}
	return b
}
