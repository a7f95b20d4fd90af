package icp

import (
	"crypto/sha256"
	"encoding/base32"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"strings"
)

const (
	// MaxPrincipalLength 是 principal 原始字节的最大长度。
	MaxPrincipalLength = 29

	selfAuthenticatingTag = 0x02
	anonymousTag          = 0x04
)

var principalEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// Principal 是 IC 上的账户、钱包或 canister 标识。
type Principal struct {
	raw []byte
}

// NewPrincipal 基于原始字节构造 principal。
func NewPrincipal(raw []byte) (Principal, error) {
	if len(raw) > MaxPrincipalLength {
		return Principal{}, fmt.Errorf("principal 长度 %d 超过上限 %d", len(raw), MaxPrincipalLength)
	}
	clone := make([]byte, len(raw))
	copy(clone, raw)
	return Principal{raw: clone}, nil
}

// SelfAuthenticating 由 DER 编码的公钥派生自认证 principal。
func SelfAuthenticating(derPublicKey []byte) Principal {
	sum := sha256.Sum224(derPublicKey)
	raw := make([]byte, 0, len(sum)+1)
	raw = append(raw, sum[:]...)
	raw = append(raw, selfAuthenticatingTag)
	return Principal{raw: raw}
}

// Anonymous 返回匿名 principal。
func Anonymous() Principal {
	return Principal{raw: []byte{anonymousTag}}
}

// ParsePrincipal 解析文本形式的 principal 并校验 CRC32。
func ParsePrincipal(text string) (Principal, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return Principal{}, fmt.Errorf("principal 不能为空")
	}
	compact := strings.ToUpper(strings.ReplaceAll(trimmed, "-", ""))
	decoded, err := principalEncoding.DecodeString(compact)
	if err != nil {
		return Principal{}, fmt.Errorf("principal %q 编码非法: %w", text, err)
	}
	if len(decoded) < 4 {
		return Principal{}, fmt.Errorf("principal %q 过短", text)
	}
	p, err := NewPrincipal(decoded[4:])
	if err != nil {
		return Principal{}, err
	}
	if binary.BigEndian.Uint32(decoded[:4]) != crc32.ChecksumIEEE(p.raw) {
		return Principal{}, fmt.Errorf("principal %q 校验和不匹配", text)
	}
	if p.String() != strings.ToLower(trimmed) {
		return Principal{}, fmt.Errorf("principal %q 分组格式非法", text)
	}
	return p, nil
}

// MustParsePrincipal 用于常量场景，解析失败直接 panic。
func MustParsePrincipal(text string) Principal {
	p, err := ParsePrincipal(text)
	if err != nil {
		panic(err)
	}
	return p
}

// Bytes 返回原始字节的副本。
func (p Principal) Bytes() []byte {
	clone := make([]byte, len(p.raw))
	copy(clone, p.raw)
	return clone
}

// IsZero 判断 principal 是否未赋值。
func (p Principal) IsZero() bool {
	return len(p.raw) == 0
}

// Equal 比较两个 principal。
func (p Principal) Equal(other Principal) bool {
	return string(p.raw) == string(other.raw)
}

func (p Principal) String() string {
	buf := make([]byte, 4+len(p.raw))
	binary.BigEndian.PutUint32(buf, crc32.ChecksumIEEE(p.raw))
	copy(buf[4:], p.raw)
	encoded := strings.ToLower(principalEncoding.EncodeToString(buf))

	var b strings.Builder
	for i := 0; i < len(encoded); i += 5 {
		if i > 0 {
			b.WriteByte('-')
		}
		end := i + 5
		if end > len(encoded) {
			end = len(encoded)
		}
		b.WriteString(encoded[i:end])
	}
	return b.String()
}

// MarshalJSON 以文本形式序列化。
func (p Principal) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

// UnmarshalJSON 解析文本形式的 principal。
func (p *Principal) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err != nil {
		return fmt.Errorf("principal 必须是字符串: %w", err)
	}
	parsed, err := ParsePrincipal(text)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
