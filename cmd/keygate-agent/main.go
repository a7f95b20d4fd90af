package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"keygate-sdk/internal/agent"
	"keygate-sdk/internal/bootstrap"
	"keygate-sdk/internal/config"
	"keygate-sdk/internal/console"
	"keygate-sdk/internal/observability/metrics"
	"keygate-sdk/pkg/logger"
)

// main 运行钱包 Agent，默认进入对话模式。
func main() {
	configPath := flag.String("config", config.Path(), "配置文件路径")
	envFile := flag.String("env", config.DefaultEnvFile, "环境变量文件")
	mode := flag.String("mode", "chat", "运行模式: chat 或 autonomous")
	name := flag.String("name", "", "Agent 名称")
	interval := flag.Duration("interval", 0, "自主模式的检查间隔")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath, *envFile, *mode, *name, *interval); err != nil {
		log.Fatalf("keygate-agent 运行失败: %v", err)
	}
}

func run(ctx context.Context, configPath, envFile, mode, name string, interval time.Duration) error {
	if err := config.LoadEnv(envFile); err != nil {
		return err
	}
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return err
	}
	if cfg.LLM.Provider != "python_bridge" {
		if err := config.RequireEnv(cfg.LLM.APIKeyEnv); err != nil {
			return err
		}
	}
	if err := logger.Init(cfg.Logging); err != nil {
		return err
	}
	defer logger.Sync()

	res := bootstrap.NewResources(cfg)
	defer res.Close()

	registry := metrics.Default()
	svc, err := bootstrap.WalletService(ctx, cfg, res, registry)
	if err != nil {
		return err
	}
	defer svc.Close()

	llmClient, err := bootstrap.LLMClient(cfg)
	if err != nil {
		return err
	}
	ag, err := bootstrap.NewAgent(cfg, llmClient, svc, name, bootstrap.Instructions(mode))
	if err != nil {
		return err
	}
	if err := ag.Initialize(ctx); err != nil {
		return err
	}
	fmt.Printf("%s initialized with wallet %s\n", ag.Name(), ag.WalletID())

	switch mode {
	case "chat":
		fmt.Println("Type 'quit', 'exit' or 'bye' to leave the conversation.")
		return console.RunChat(ctx, os.Stdin, os.Stdout, ag)
	case "autonomous":
		minBalance, err := bootstrap.MinBalance(cfg)
		if err != nil {
			return err
		}
		dispatcher, err := bootstrap.AlertDispatcher(cfg)
		if err != nil {
			return err
		}
		if interval <= 0 {
			interval = time.Duration(cfg.Agent.IntervalSeconds) * time.Second
		}
		monitor := &agent.BalanceMonitor{
			Agent:      ag,
			MinBalance: minBalance,
			Dispatcher: dispatcher,
			Observer:   registry,
		}
		err = ag.RunAutonomous(ctx, interval, monitor, os.Stdout)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	default:
		return fmt.Errorf("未知的运行模式: %s", mode)
	}
}
