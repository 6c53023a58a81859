package main

import (
	"context"
	"fmt"
	"log"
	"math/big"

	"github.com/xueqianLu/ethcontract/pkg/client"
)

const (
	baseURL   = "http://localhost:2818"
	apiKey    = ""
	apiSecret = ""
	recipient = "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"
)

func main() {
	ctx := context.Background()
	c := client.NewClient(baseURL, apiKey, apiSecret)

	// 1. Health Check
	fmt.Println("1. Performing Health Check...")
	health, err := c.Health(ctx)
	if err != nil {
		log.Fatalf("Health check failed: %v", err)
	}
	fmt.Printf("   Health status: %s\n\n", health)

	// 2. Sending account
	accounts, err := c.GetAccounts(ctx)
	if err != nil {
		log.Fatalf("Failed to get accounts: %v", err)
	}
	fmt.Printf("2. Sending from %s\n\n", accounts.From)

	// 3. Deploy the token
	fmt.Println("3. Deploying ERC20...")
	deployed, err := c.Deploy(ctx, "erc20")
	if err != nil {
		log.Fatalf("Failed to deploy: %v", err)
	}
	fmt.Printf("   Token at %s (tx %s)\n\n", deployed.ContractAddress, deployed.TransactionHash)

	// 4. Mint and transfer
	oneToken := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	if _, err := c.Mint(ctx, accounts.From, new(big.Int).Mul(oneToken, big.NewInt(100))); err != nil {
		log.Fatalf("Failed to mint: %v", err)
	}
	sent, err := c.Transfer(ctx, recipient, oneToken)
	if err != nil {
		log.Fatalf("Failed to transfer: %v", err)
	}
	for _, ev := range sent.Events {
		fmt.Printf("4. %s %v\n", ev.Event, ev.Args)
	}

	balance, err := c.BalanceOf(ctx, recipient)
	if err != nil {
		log.Fatalf("Failed to read balance: %v", err)
	}
	fmt.Printf("   Recipient balance: %s\n\n", balance)

	// 5. Generic call by name
	info, err := c.Call(ctx, "erc20", "symbol")
	if err != nil {
		log.Fatalf("Failed to call symbol: %v", err)
	}
	fmt.Printf("5. symbol() = %v\n", info)
}
