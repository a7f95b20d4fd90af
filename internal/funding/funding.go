package funding

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Funder 为新创建的钱包账户充值。
type Funder interface {
	Fund(ctx context.Context, account string) error
}

// Runner 执行外部命令，返回标准输出与标准错误。
type Runner func(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)

// ExecRunner 使用 os/exec 执行命令。
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	command := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr
	err := command.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// DFXConfig 描述 dfx ledger transfer 的参数。
type DFXConfig struct {
	Executable string `json:"executable"`
	Amount     string `json:"amount"`
	Memo       string `json:"memo"`
	Network    string `json:"network"`
	Identity   string `json:"identity"`
	Fee        string `json:"fee"`
	WorkingDir string `json:"working_dir"`
}

func (c DFXConfig) withDefaults() DFXConfig {
	if c.Executable == "" {
		c.Executable = "dfx"
	}
	if c.Amount == "" {
		c.Amount = "100"
	}
	if c.Memo == "" {
		c.Memo = "1"
	}
	if c.Network == "" {
		c.Network = "local"
	}
	if c.Identity == "" {
		c.Identity = "minter"
	}
	if c.Fee == "" {
		c.Fee = "0"
	}
	return c
}

// DFXFunder 通过本地 dfx 的 minter 身份向账户转账。
type DFXFunder struct {
	cfg    DFXConfig
	runner Runner
}

// NewDFXFunder 创建 dfx 充值器，runner 为空时使用 ExecRunner。
func NewDFXFunder(cfg DFXConfig, runner Runner) *DFXFunder {
	if runner == nil {
		runner = ExecRunner
	}
	return &DFXFunder{cfg: cfg.withDefaults(), runner: runner}
}

// Args 返回传给 dfx 的参数。
func (f *DFXFunder) Args(account string) []string {
	return []string{
		"ledger", "transfer", account,
		"--amount", f.cfg.Amount,
		"--memo", f.cfg.Memo,
		"--network", f.cfg.Network,
		"--identity", f.cfg.Identity,
		"--fee", f.cfg.Fee,
	}
}

// Fund 执行转账，非零退出码返回包含 stderr 的错误。
func (f *DFXFunder) Fund(ctx context.Context, account string) error {
	if strings.TrimSpace(account) == "" {
		return fmt.Errorf("充值账户不能为空")
	}
	_, stderr, err := f.runner(ctx, f.cfg.Executable, f.Args(account)...)
	if err != nil {
		return fmt.Errorf("执行 dfx ledger transfer 失败: %v, stderr=%s", err, strings.TrimSpace(string(stderr)))
	}
	return nil
}

// Noop 不做任何充值，用于主网或关闭充值时。
type Noop struct{}

// Fund 实现 Funder。
func (Noop) Fund(context.Context, string) error { return nil }

var (
	_ Funder = (*DFXFunder)(nil)
	_ Funder = Noop{}
)
