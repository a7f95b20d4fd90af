package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"keygate-sdk/internal/agent"
	"keygate-sdk/internal/api"
	"keygate-sdk/internal/bootstrap"
	"keygate-sdk/internal/config"
	"keygate-sdk/internal/observability/metrics"
	"keygate-sdk/internal/task"
	"keygate-sdk/pkg/logger"
)

// main 是 Keygate 守护进程的入口。
func main() {
	configPath := flag.String("config", config.Path(), "配置文件路径")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath); err != nil {
		log.Fatalf("keygated 运行失败: %v", err)
	}
}

func run(ctx context.Context, configPath string) error {
	if err := config.LoadEnv(); err != nil {
		return err
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.Logging); err != nil {
		return err
	}
	defer logger.Sync()
	lg := logger.Named("keygated")

	res := bootstrap.NewResources(cfg)
	defer func() {
		if err := res.Close(); err != nil {
			lg.Warn("关闭共享连接失败", "error", err)
		}
	}()

	registry := metrics.Default()
	wallets, err := bootstrap.WalletService(ctx, cfg, res, registry)
	if err != nil {
		return err
	}
	if err := wallets.Init(ctx); err != nil {
		return err
	}

	// 未配置 LLM 密钥时不启用 Agent，prompt 任务会被拒绝。
	var ag *agent.Agent
	if llmClient, err := bootstrap.LLMClient(cfg); err != nil {
		lg.Warn("Agent 未启用", "error", err)
	} else {
		ag, err = bootstrap.NewAgent(cfg, llmClient, wallets, "", bootstrap.Instructions("chat"))
		if err != nil {
			return err
		}
		if err := ag.Initialize(ctx); err != nil {
			return err
		}
	}

	dispatcher, err := bootstrap.AlertDispatcher(cfg)
	if err != nil {
		return err
	}
	authService, err := bootstrap.AuthService(cfg)
	if err != nil {
		return err
	}

	taskStore, err := bootstrap.TaskStore(ctx, cfg, res)
	if err != nil {
		return err
	}
	defer taskStore.Close()

	taskQueue, err := bootstrap.TaskQueue(ctx, cfg, res)
	if err != nil {
		return err
	}
	defer func() {
		if err := taskQueue.Close(); err != nil {
			lg.Warn("关闭任务队列失败", "error", err)
		}
	}()

	var prompter task.Prompter
	if ag != nil {
		prompter = ag
	}
	executor := task.NewWalletExecutor(wallets, prompter)
	taskService := task.NewService(taskStore, taskQueue, cfg.Task.MaxRetries)
	processor := task.NewProcessor(executor, taskStore, taskQueue, taskQueue,
		task.WithWorkerCount(cfg.Task.Workers),
		task.WithAlertDispatcher(dispatcher),
		task.WithJobObserver(registry),
		task.WithProcessorLogger(logger.Named("task")),
	)

	if _, err := taskService.RequeuePending(ctx); err != nil {
		lg.Warn("重新发布待处理任务失败", "error", err)
	}

	processorCtx, processorCancel := context.WithCancel(ctx)
	defer processorCancel()
	go func() {
		if err := processor.Start(processorCtx); err != nil && !errors.Is(err, context.Canceled) {
			lg.Error("任务处理器异常退出", "error", err)
		}
	}()

	go taskService.ReportBacklog(processorCtx, 15*time.Second, registry)

	if cfg.Metrics.Enabled && cfg.Metrics.Address != cfg.Server.Address {
		go func() {
			if err := metrics.StartServer(ctx, cfg.Metrics.Address, registry); err != nil {
				lg.Error("指标服务异常退出", "error", err)
			}
		}()
	}

	opts := []api.Option{
		api.WithAuth(authService),
		api.WithMetrics(registry),
		api.WithWallets(wallets),
	}
	if ag != nil {
		opts = append(opts, api.WithAgent(ag))
	}
	server := api.NewServer(cfg.Server.Address, taskService, opts...)
	lg.Info("keygated 已启动", "address", cfg.Server.Address, "network", cfg.Keygate.Network)
	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
