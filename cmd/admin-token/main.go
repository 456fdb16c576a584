package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/giroflow-backend/pkg/auth"
	"github.com/angelmondragon/giroflow-backend/pkg/config"
	"github.com/angelmondragon/giroflow-backend/pkg/logger"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "admin-token"})

	_ = godotenv.Load()

	subject := flag.String("subject", "", "operator identity recorded in the token (e.g. an email)")
	role := flag.String("role", string(auth.RoleViewer), "token role: admin|viewer")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":     cfg.App.Env,
		"subject": *subject,
		"role":    *role,
	})

	token, err := auth.MintAccessToken(cfg.JWT, time.Now(), auth.AccessTokenPayload{
		Subject: *subject,
		Role:    auth.Role(*role),
	})
	if err != nil {
		logg.Error(ctx, "failed to mint admin token", err)
		os.Exit(1)
	}

	logg.Info(ctx, "admin token minted")
	fmt.Fprintln(os.Stdout, token)
}
