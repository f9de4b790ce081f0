// Command examples 提交一个部署作业并等待其完成。
//
//	DEPLOYER_URL=http://localhost:8080 DEPLOYER_API_TOKEN=... go run ./sdk/go/examples 2022XXXX-tetu-rebalanced-linear-pool mainnet
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"contract-deployer/sdk/go/deployer"
)

func main() {
	if len(os.Args) < 2 {
		log.Fatal("usage: examples <task-id> [network]")
	}
	baseURL := os.Getenv("DEPLOYER_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	network := ""
	if len(os.Args) > 2 {
		network = os.Args[2]
	}

	client, err := deployer.NewClient(baseURL, nil)
	if err != nil {
		log.Fatal(err)
	}
	client.SetAccessToken(os.Getenv("DEPLOYER_API_TOKEN"))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	submitted, err := client.SubmitJob(ctx, deployer.JobSubmission{TaskID: os.Args[1], Network: network})
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("submitted job %s (status=%s)\n", submitted.ID, submitted.Status)

	done, err := client.WaitForJob(ctx, submitted.ID, 2*time.Second)
	if err != nil {
		log.Fatal(err)
	}
	if done.Status != deployer.StatusSucceeded {
		log.Fatalf("job %s failed: %s %s", done.ID, done.ErrorCode, done.LastError)
	}
	for name, address := range done.Result.Contracts {
		fmt.Printf("%s\t%s\n", name, address)
	}
}
