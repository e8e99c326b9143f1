package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/fieldcheck/servicereport-backend/pkg/auth"
	"github.com/fieldcheck/servicereport-backend/pkg/config"
	"github.com/fieldcheck/servicereport-backend/pkg/enums"
	"github.com/fieldcheck/servicereport-backend/pkg/logger"
)

// devtoken mints an access token for local testing. Tokens are normally
// issued by the identity provider in front of the API.
func main() {
	ctx := context.Background()
	logg := logger.New(logger.Options{ServiceName: "devtoken"})
	_ = godotenv.Load()

	userFlag := flag.String("user", "", "user id (uuid)")
	roleFlag := flag.String("role", string(enums.RoleTechnician), "role claim")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logg.Error(ctx, "failed to load config", err)
		os.Exit(1)
	}
	if cfg.App.IsProd() {
		fmt.Fprintln(os.Stderr, "devtoken is disabled in prod")
		os.Exit(1)
	}

	userID, err := uuid.Parse(*userFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid -user: %v\n", err)
		os.Exit(1)
	}
	role, err := enums.ParseRole(*roleFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid -role: %v\n", err)
		os.Exit(1)
	}

	token, err := auth.MintAccessToken(cfg.JWT, time.Now(), auth.AccessTokenPayload{UserID: userID, Role: role})
	if err != nil {
		logg.Error(ctx, "failed to mint token", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
