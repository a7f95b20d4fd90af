package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/shopspring/decimal"

	"keygate-sdk/internal/bootstrap"
	"keygate-sdk/internal/config"
	"keygate-sdk/internal/keygate"
)

// main 依次调用客户端的每个操作并打印结果。
func main() {
	configPath := flag.String("config", config.Path(), "配置文件路径")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath); err != nil {
		log.Fatalf("keygate-demo 运行失败: %v", err)
	}
}

func run(ctx context.Context, configPath string) error {
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return err
	}
	client, err := bootstrap.KeygateClient(cfg, nil)
	if err != nil {
		return err
	}

	if err := client.Init(ctx); err != nil {
		return err
	}
	fmt.Println("Keygate client initialized")

	walletID, err := client.CreateWallet(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Created wallet with ID: %s\n", walletID)

	account, err := client.GetICPAccount(ctx, walletID.String())
	if err != nil {
		return err
	}
	fmt.Printf("ICP address: %s\n", account)

	balance, err := client.GetICPBalance(ctx, walletID.String())
	if err != nil {
		return err
	}
	fmt.Printf("ICP balance: %s ICP\n", balance)

	status, err := client.ExecuteTransaction(ctx, walletID.String(), keygate.TransactionArgs{
		To:     account,
		Amount: decimal.Zero,
	})
	if err != nil {
		return err
	}
	fmt.Printf("Transaction status: %s\n", status)
	return nil
}
