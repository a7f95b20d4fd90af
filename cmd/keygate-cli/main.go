package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"keygate-sdk/internal/bootstrap"
	"keygate-sdk/internal/config"
	"keygate-sdk/internal/console"
	"keygate-sdk/pkg/logger"
)

// main 创建并充值一个钱包，然后进入钱包命令行。
func main() {
	configPath := flag.String("config", config.Path(), "配置文件路径")
	walletID := flag.String("wallet", "", "使用已有钱包 ID，不再创建新钱包")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath, *walletID); err != nil {
		log.Fatalf("keygate-cli 运行失败: %v", err)
	}
}

func run(ctx context.Context, configPath, walletID string) error {
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return err
	}
	// 命令行输出交给终端，日志只写错误。
	cfg.Logging.Level = "error"
	if err := logger.Init(cfg.Logging); err != nil {
		return err
	}
	defer logger.Sync()

	res := bootstrap.NewResources(cfg)
	defer res.Close()

	svc, err := bootstrap.WalletService(ctx, cfg, res, nil)
	if err != nil {
		return err
	}
	defer svc.Close()

	if err := svc.Init(ctx); err != nil {
		return err
	}
	fmt.Println("Keygate client initialized")

	if walletID == "" {
		walletID, err = svc.CreateWallet(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Created wallet with ID: %s\n", walletID)
	}
	address, err := svc.GetICPAddress(ctx, walletID)
	if err != nil {
		return err
	}
	fmt.Printf("ICP address: %s\n", address)

	shell := &console.Shell{Wallet: svc, WalletID: walletID, Address: address}
	return shell.Run(ctx, os.Stdin, os.Stdout, os.Stderr)
}
