package pythonbridge

import (
	"bytes"
	"context"
	"encoding/json"
	stdErrors "errors"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/mitchellh/go-homedir"

	xerrors "keygate-sdk/internal/errors"
	"keygate-sdk/internal/llm"
)

// stderrLimit 限制错误信息中保留的 stderr 长度。
const stderrLimit = 512

// Client 把补全请求交给本地脚本，用于离线演示 Agent。
//
// 脚本从 stdin 读取 llm.Request 的 JSON，向 stdout 输出 {"text": "..."}；
// 输出不是 JSON 时整段 stdout 作为回复文本。
type Client struct {
	interpreter string
	script      string
	dir         string
}

// NewClient 创建客户端，interpreter 为空时使用 python3。
func NewClient(interpreter, script, dir string) (*Client, error) {
	if strings.TrimSpace(script) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "未指定 Python 脚本路径")
	}
	if interpreter == "" {
		interpreter = "python3"
	}
	return &Client{interpreter: interpreter, script: script, dir: dir}, nil
}

// Complete 运行一次脚本。
func (c *Client) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	input, err := json.Marshal(req)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "序列化补全请求失败")
	}

	cmd := exec.CommandContext(ctx, c.interpreter, c.script)
	cmd.Dir = c.dir
	cmd.Stdin = bytes.NewReader(input)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, xerrors.Wrap(xerrors.CodeTimeout, ctx.Err(), "Python 脚本超时")
		}
		opts := []xerrors.Option{xerrors.WithMetadata("stderr", tail(stderr.String()))}
		var exitErr *exec.ExitError
		if stdErrors.As(err, &exitErr) {
			opts = append(opts, xerrors.WithMetadata("exit_code", strconv.Itoa(exitErr.ExitCode())))
		}
		return nil, xerrors.Wrap(xerrors.CodeUpstreamFailure, err, "执行 Python 脚本失败", opts...)
	}
	return parseOutput(stdout.Bytes())
}

func parseOutput(out []byte) (*llm.Response, error) {
	trimmed := bytes.TrimSpace(out)
	resp := &llm.Response{}
	if bytes.HasPrefix(trimmed, []byte("{")) {
		if err := json.Unmarshal(trimmed, resp); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeUpstreamFailure, err, "解析 Python 输出失败")
		}
	} else {
		resp.Text = string(trimmed)
	}
	if strings.TrimSpace(resp.Text) == "" {
		return nil, xerrors.New(xerrors.CodeUpstreamFailure, "Python 脚本未返回文本")
	}
	if resp.Model == "" {
		resp.Model = "python_bridge"
	}
	return resp, nil
}

func tail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > stderrLimit {
		return "..." + s[len(s)-stderrLimit:]
	}
	return s
}

// ResolveScriptPath 展开 ~，相对路径基于 baseDir。
func ResolveScriptPath(baseDir, script string) string {
	if script == "" {
		return ""
	}
	if expanded, err := homedir.Expand(script); err == nil {
		script = expanded
	}
	if filepath.IsAbs(script) || baseDir == "" {
		return script
	}
	return filepath.Join(baseDir, script)
}

var _ llm.Client = (*Client)(nil)
