package anthropic

import (
	"context"
	"net/http"
	"strings"
	"time"

	xerrors "keygate-sdk/internal/errors"
	"keygate-sdk/internal/llm"
)

const (
	defaultBaseURL    = "https://api.anthropic.com"
	defaultModelName  = "claude-3-sonnet-20240229"
	defaultAPIVersion = "2023-06-01"
	defaultMaxTokens  = 1024
	defaultTimeout    = 60 * time.Second
)

// Config 描述调用 Anthropic Messages API 所需的信息。
type Config struct {
	APIKey     string
	BaseURL    string
	Model      string
	APIVersion string
	Timeout    time.Duration
}

// Client 通过 HTTP 调用 Anthropic Messages API。
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	apiVersion string
	httpClient *http.Client
}

// NewClient 根据配置创建客户端。
func NewClient(cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未提供 Anthropic API Key")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModelName
	}
	version := strings.TrimSpace(cfg.APIVersion)
	if version == "" {
		version = defaultAPIVersion
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		apiKey:     apiKey,
		baseURL:    baseURL,
		model:      model,
		apiVersion: version,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

type messagesRequest struct {
	Model       string        `json:"model"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
	System      string        `json:"system,omitempty"`
	Messages    []llm.Message `json:"messages"`
}

type messagesResponse struct {
	Model      string `json:"model"`
	StopReason string `json:"stop_reason"`
	Content    []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

// Complete 发送一次 Messages 请求并返回第一段文本。
func (c *Client) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	if len(req.Messages) == 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "消息列表不能为空")
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	var decoded messagesResponse
	err := llm.PostJSON(ctx, llm.Endpoint{
		Provider: "Anthropic",
		URL:      c.baseURL + "/v1/messages",
		Header: http.Header{
			"X-Api-Key":         {c.apiKey},
			"Anthropic-Version": {c.apiVersion},
		},
		Client: c.httpClient,
	}, messagesRequest{
		Model:       c.model,
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
		System:      req.System,
		Messages:    req.Messages,
	}, &decoded)
	if err != nil {
		return nil, err
	}
	for _, block := range decoded.Content {
		if block.Type == "text" {
			return &llm.Response{Text: block.Text, Model: decoded.Model, StopReason: decoded.StopReason}, nil
		}
	}
	return nil, xerrors.New(xerrors.CodeUpstreamFailure, "Anthropic 响应中没有文本内容")
}

var _ llm.Client = (*Client)(nil)
