package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"keygate-sdk/sdk/go/keygated"
)

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "keygated address")
	token := flag.String("token", os.Getenv("KEYGATED_TOKEN"), "bearer token")
	walletID := flag.String("wallet", "", "wallet ID, created when empty")
	flag.Parse()

	client, err := keygated.NewClient(*baseURL, nil)
	if err != nil {
		fail(err)
	}
	client.SetAccessToken(*token)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if *walletID == "" {
		job, err := submitAndWait(ctx, client, keygated.JobRequest{Type: keygated.JobCreateWallet})
		if err != nil {
			fail(err)
		}
		*walletID = job.Result.WalletID
		fmt.Printf("created wallet %s\n", *walletID)
	}

	job, err := submitAndWait(ctx, client, keygated.JobRequest{Type: keygated.JobGetAddress, WalletID: *walletID})
	if err != nil {
		fail(err)
	}
	fmt.Printf("address: %s\n", job.Result.Address)

	job, err = submitAndWait(ctx, client, keygated.JobRequest{Type: keygated.JobGetBalance, WalletID: *walletID})
	if err != nil {
		fail(err)
	}
	fmt.Printf("balance: %s ICP\n", job.Result.Balance)
}

func submitAndWait(ctx context.Context, client *keygated.Client, req keygated.JobRequest) (keygated.Job, error) {
	job, err := client.SubmitJob(ctx, req)
	if err != nil {
		return keygated.Job{}, err
	}
	job, err = client.WaitForJob(ctx, job.ID, 500*time.Millisecond)
	if err != nil {
		return keygated.Job{}, err
	}
	if job.Status != "succeeded" || job.Result == nil {
		return job, fmt.Errorf("job %s %s: [%s] %s", job.ID, job.Status, job.ErrorCode, job.LastError)
	}
	return job, nil
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
