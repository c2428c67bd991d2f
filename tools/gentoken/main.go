package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/yourusername/bedrock-server-manager/internal/auth"
	"github.com/yourusername/bedrock-server-manager/internal/config"
)

func main() {
	operator := flag.String("operator", "", "Operator name recorded in the token")
	scope := flag.String("scope", auth.ScopeOperate, "Token scope: read or operate")
	duration := flag.Duration("duration", 0, "Token lifetime (defaults to auth.token_duration)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if cfg.Auth.JWTSecret == "" {
		log.Fatal("auth.jwt_secret is empty; set it (or JWT_SECRET) before minting tokens")
	}
	if *operator == "" {
		*operator = os.Getenv("USER")
	}

	lifetime := cfg.TokenDuration()
	if *duration > 0 {
		lifetime = *duration
	}

	token, expiresAt, err := auth.NewTokenManager(cfg.Auth.JWTSecret, lifetime).GenerateToken(*operator, *scope)
	if err != nil {
		log.Fatal(err)
	}

	fmt.Fprintf(os.Stderr, "Token for %s (%s) expires %s\n", *operator, *scope, expiresAt.Format(time.RFC3339))
	fmt.Println(token)
}
