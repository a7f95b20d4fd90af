package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	xerrors "keygate-sdk/internal/errors"
)

// errorBodyLimit 限制读取的错误响应大小。
const errorBodyLimit = 4096

// Endpoint 是一个 JSON over HTTP 的补全接口。
type Endpoint struct {
	Provider string
	URL      string
	Header   http.Header
	Client   *http.Client
}

// PostJSON 发送 in 并把成功响应解码到 out。
//
// 失败按状态码分类：401/403 为 UNAUTHENTICATED，429 与 5xx 为可重试的 UPSTREAM_FAILURE，
// 其他 4xx 为 INVALID_ARGUMENT。响应体中的 {"error":{"type","message"}} 会写入错误信息。
func PostJSON(ctx context.Context, ep Endpoint, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, ep.Provider+" 请求序列化失败")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(payload))
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "构建 "+ep.Provider+" 请求失败")
	}
	for key, values := range ep.Header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	req.Header.Set("Content-Type", "application/json")

	client := ep.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return xerrors.Wrap(xerrors.CodeTimeout, err, "请求 "+ep.Provider+" 超时")
		}
		return xerrors.Wrap(xerrors.CodeUpstreamFailure, err, "请求 "+ep.Provider+" 失败")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		return statusError(ep.Provider, resp.StatusCode, body)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return xerrors.Wrap(xerrors.CodeUpstreamFailure, err, "解析 "+ep.Provider+" 响应失败")
	}
	return nil
}

func statusError(provider string, status int, body []byte) error {
	var decoded struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	detail := strings.TrimSpace(string(body))
	if json.Unmarshal(body, &decoded) == nil && decoded.Error.Message != "" {
		detail = decoded.Error.Message
		if decoded.Error.Type != "" {
			detail = decoded.Error.Type + ": " + detail
		}
	}

	code := xerrors.CodeInvalidArgument
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		code = xerrors.CodeUnauthenticated
	case status == http.StatusTooManyRequests || status >= http.StatusInternalServerError:
		code = xerrors.CodeUpstreamFailure
	}
	return xerrors.New(code, fmt.Sprintf("%s 返回错误状态 %d: %s", provider, status, detail),
		xerrors.WithMetadata("provider", provider),
		xerrors.WithMetadata("status", strconv.Itoa(status)),
		xerrors.WithRetryable(code == xerrors.CodeUpstreamFailure),
	)
}
