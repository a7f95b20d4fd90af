package icp

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"strings"
)

const (
	// SubaccountLength 是子账户的字节长度。
	SubaccountLength = 32
	// AccountIdentifierLength 是账户标识（含校验和）的字节长度。
	AccountIdentifierLength = 32

	accountDomainSeparator = "\x0Aaccount-id"
)

// Subaccount 是 32 字节的子账户。
type Subaccount [SubaccountLength]byte

// DefaultSubaccount 为全零子账户。
var DefaultSubaccount Subaccount

// AccountIdentifier 是账本使用的账户地址：4 字节 CRC32 + 28 字节 SHA-224。
type AccountIdentifier [AccountIdentifierLength]byte

// NewAccountIdentifier 由 principal 与子账户派生账户地址。
func NewAccountIdentifier(owner Principal, sub Subaccount) AccountIdentifier {
	h := sha256.New224()
	h.Write([]byte(accountDomainSeparator))
	h.Write(owner.raw)
	h.Write(sub[:])
	hash := h.Sum(nil)

	var id AccountIdentifier
	binary.BigEndian.PutUint32(id[:4], crc32.ChecksumIEEE(hash))
	copy(id[4:], hash)
	return id
}

// DefaultAccount 返回 principal 在默认子账户下的账户地址。
func DefaultAccount(owner Principal) AccountIdentifier {
	return NewAccountIdentifier(owner, DefaultSubaccount)
}

// ParseAccountIdentifier 解析 64 位十六进制地址并校验 CRC32。
func ParseAccountIdentifier(text string) (AccountIdentifier, error) {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) != hex.EncodedLen(AccountIdentifierLength) {
		return AccountIdentifier{}, fmt.Errorf("账户地址 %q 长度应为 %d 个十六进制字符", text, hex.EncodedLen(AccountIdentifierLength))
	}
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return AccountIdentifier{}, fmt.Errorf("账户地址 %q 不是十六进制: %w", text, err)
	}
	var id AccountIdentifier
	copy(id[:], raw)
	if binary.BigEndian.Uint32(id[:4]) != crc32.ChecksumIEEE(id[4:]) {
		return AccountIdentifier{}, fmt.Errorf("账户地址 %q 校验和不匹配", text)
	}
	return id, nil
}

// Bytes 返回地址字节。
func (a AccountIdentifier) Bytes() []byte {
	return append([]byte(nil), a[:]...)
}

func (a AccountIdentifier) String() string {
	return hex.EncodeToString(a[:])
}

// MarshalJSON 以十六进制字符串序列化。
func (a AccountIdentifier) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON 解析十六进制字符串。
func (a *AccountIdentifier) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err != nil {
		return fmt.Errorf("账户地址必须是字符串: %w", err)
	}
	parsed, err := ParseAccountIdentifier(text)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
