package keygate

import (
	"fmt"
	"net/url"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"keygate-sdk/internal/icp"
)

const (
	// LocalURL 是本地副本的默认地址。
	LocalURL = "http://localhost:4943"
	// MainnetURL 是主网边界节点地址。
	MainnetURL = "https://ic0.app"

	// LedgerCanisterID 是 ICP 账本 canister。
	LedgerCanisterID = "ryjl3-tyaaa-aaaaa-aaaba-cai"
	// EffectiveCanisterID 是本地创建钱包时使用的 effective canister。
	EffectiveCanisterID = "rwlgt-iiaaa-aaaaa-aaaaa-cai"
	// ManagementCanisterID 是管理 canister。
	ManagementCanisterID = "aaaaa-aa"
)

// Network 描述一个 Keygate 服务端点。
type Network struct {
	Name                string `yaml:"-"`
	URL                 string `yaml:"url"`
	FetchRootKey        *bool  `yaml:"fetch_root_key"`
	LedgerCanisterID    string `yaml:"ledger_canister_id"`
	EffectiveCanisterID string `yaml:"effective_canister_id"`
	Description         string `yaml:"description"`
}

// NetworkDefinitions 对应 networks.yaml 的结构。
type NetworkDefinitions struct {
	Default  string             `yaml:"default"`
	Networks map[string]Network `yaml:"networks"`
}

// NetworkForURL 根据 URL 构造网络定义，本地地址会拉取 root key。
func NetworkForURL(rawURL string) Network {
	n := Network{Name: "custom", URL: rawURL}
	return n.withDefaults()
}

// ShouldFetchRootKey 判断初始化时是否需要拉取 root key。
func (n Network) ShouldFetchRootKey() bool {
	if n.FetchRootKey != nil {
		return *n.FetchRootKey
	}
	return isLocalURL(n.URL)
}

// Ledger 返回账本 canister 的 principal。
func (n Network) Ledger() (icp.Principal, error) {
	return icp.ParsePrincipal(n.LedgerCanisterID)
}

// Effective 返回创建钱包时使用的 effective canister。
func (n Network) Effective() (icp.Principal, error) {
	return icp.ParsePrincipal(n.EffectiveCanisterID)
}

func (n Network) withDefaults() Network {
	n.URL = strings.TrimSpace(n.URL)
	if n.LedgerCanisterID == "" {
		n.LedgerCanisterID = LedgerCanisterID
	}
	if n.EffectiveCanisterID == "" {
		n.EffectiveCanisterID = EffectiveCanisterID
	}
	return n
}

func (n Network) validate() error {
	if n.URL == "" {
		return fmt.Errorf("网络 %s 未配置 url", n.Name)
	}
	if _, err := url.ParseRequestURI(n.URL); err != nil {
		return fmt.Errorf("网络 %s 的 url 非法: %w", n.Name, err)
	}
	if _, err := n.Ledger(); err != nil {
		return fmt.Errorf("网络 %s 的账本 canister 非法: %w", n.Name, err)
	}
	if _, err := n.Effective(); err != nil {
		return fmt.Errorf("网络 %s 的 effective canister 非法: %w", n.Name, err)
	}
	return nil
}

func isLocalURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	switch u.Hostname() {
	case "localhost", "127.0.0.1", "::1", "0.0.0.0":
		return true
	}
	return false
}

// BuiltinNetworks 返回内置的 local 与 ic 两个网络。
func BuiltinNetworks() NetworkDefinitions {
	return NetworkDefinitions{
		Default: "local",
		Networks: map[string]Network{
			"local": {URL: LocalURL, Description: "dfx 本地副本"},
			"ic":    {URL: MainnetURL, Description: "Internet Computer 主网"},
		},
	}
}

// Registry 管理按名称索引的网络定义。
type Registry struct {
	defaultNetwork string
	networks       map[string]Network
}

// LoadNetworks 解析 networks.yaml，路径为空时使用内置定义。
func LoadNetworks(path string) (*Registry, error) {
	defs := BuiltinNetworks()
	if strings.TrimSpace(path) != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("读取网络配置失败: %w", err)
		}
		var parsed NetworkDefinitions
		if err := yaml.Unmarshal(content, &parsed); err != nil {
			return nil, fmt.Errorf("解析网络配置失败: %w", err)
		}
		defs = parsed
	}
	return NewRegistry(defs)
}

// NewRegistry 校验定义并构建注册表。
func NewRegistry(defs NetworkDefinitions) (*Registry, error) {
	if len(defs.Networks) == 0 {
		return nil, fmt.Errorf("未配置任何 Keygate 网络")
	}
	networks := make(map[string]Network, len(defs.Networks))
	for name, n := range defs.Networks {
		n.Name = name
		n = n.withDefaults()
		if err := n.validate(); err != nil {
			return nil, err
		}
		networks[name] = n
	}

	defaultNetwork := defs.Default
	if defaultNetwork == "" {
		names := make([]string, 0, len(networks))
		for name := range networks {
			names = append(names, name)
		}
		sort.Strings(names)
		defaultNetwork = names[0]
	}
	if _, ok := networks[defaultNetwork]; !ok {
		return nil, fmt.Errorf("默认网络 %s 未在配置中找到", defaultNetwork)
	}
	return &Registry{defaultNetwork: defaultNetwork, networks: networks}, nil
}

// Resolve 按名称返回网络，名称为空时返回默认网络。
func (r *Registry) Resolve(name string) (Network, error) {
	if r == nil {
		return Network{}, fmt.Errorf("未初始化的网络注册表")
	}
	if strings.TrimSpace(name) == "" {
		name = r.defaultNetwork
	}
	n, ok := r.networks[name]
	if !ok {
		return Network{}, fmt.Errorf("未知的 Keygate 网络 %s", name)
	}
	return n, nil
}

// Default 返回默认网络名称。
func (r *Registry) Default() string {
	if r == nil {
		return ""
	}
	return r.defaultNetwork
}

// Names 返回已注册的网络名称。
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.networks))
	for name := range r.networks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
