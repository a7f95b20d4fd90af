package knowledge

import (
	"encoding/json"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/mitchellh/go-homedir"
	"gopkg.in/yaml.v3"

	xerrors "keygate-sdk/internal/errors"
)

const defaultMaxResults = 3

// Provider 根据用户消息检索参考资料。
type Provider interface {
	Query(message string) []Snippet
}

// Snippet 是一条可注入系统提示词的参考资料。
// 没有关键字和标签的条目视为通用资料，只在命中条目不足时补位。
type Snippet struct {
	Title    string   `json:"title" yaml:"title"`
	Content  string   `json:"content" yaml:"content"`
	Keywords []string `json:"keywords,omitempty" yaml:"keywords"`
	Tags     []string `json:"tags,omitempty" yaml:"tags"`
}

// StaticProvider 在内存中保存固定的资料集合。
type StaticProvider struct {
	items      []Snippet
	maxResults int
}

// NewStaticProvider 构造资料集合，maxResults <= 0 时最多返回 3 条。
func NewStaticProvider(items []Snippet, maxResults int) *StaticProvider {
	if maxResults <= 0 {
		maxResults = defaultMaxResults
	}
	return &StaticProvider{items: slices.Clone(items), maxResults: maxResults}
}

// LoadStaticProvider 读取 JSON 或 YAML 资料文件，按扩展名选择格式，路径支持 ~。
func LoadStaticProvider(path string, maxResults int) (*StaticProvider, error) {
	if strings.TrimSpace(path) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "知识库文件路径不能为空")
	}
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "解析知识库路径失败")
	}
	data, err := os.ReadFile(expanded)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "读取知识库文件失败",
			xerrors.WithMetadata("path", expanded))
	}

	var entries []Snippet
	switch strings.ToLower(filepath.Ext(expanded)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &entries)
	default:
		err = json.Unmarshal(data, &entries)
	}
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "解析知识库文件失败",
			xerrors.WithMetadata("path", expanded))
	}
	return NewStaticProvider(entries, maxResults), nil
}

// Query 按命中的关键字与标签数量从高到低返回条目，分数相同时保持文件顺序。
func (p *StaticProvider) Query(message string) []Snippet {
	if p == nil || len(p.items) == 0 {
		return nil
	}
	message = strings.ToLower(message)

	type scored struct {
		index int
		score int
	}
	var hits []scored
	var general []int
	for i, item := range p.items {
		if len(item.Keywords) == 0 && len(item.Tags) == 0 {
			general = append(general, i)
			continue
		}
		if score := countHits(message, item.Keywords) + countHits(message, item.Tags); score > 0 {
			hits = append(hits, scored{index: i, score: score})
		}
	}
	slices.SortStableFunc(hits, func(a, b scored) int { return b.score - a.score })

	out := make([]Snippet, 0, p.maxResults)
	for _, h := range hits {
		if len(out) == p.maxResults {
			return out
		}
		out = append(out, p.items[h.index])
	}
	for _, i := range general {
		if len(out) == p.maxResults {
			break
		}
		out = append(out, p.items[i])
	}
	return out
}

func countHits(message string, words []string) int {
	n := 0
	for _, word := range words {
		word = strings.ToLower(strings.TrimSpace(word))
		if word != "" && strings.Contains(message, word) {
			n++
		}
	}
	return n
}

var _ Provider = (*StaticProvider)(nil)
