package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/DoyleJ11/bingo-client/internal/app"
	"github.com/DoyleJ11/bingo-client/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	flag.StringVar(&cfg.Host, "host", cfg.Host, "game server host[:port]")
	flag.BoolVar(&cfg.Secure, "secure", cfg.Secure, "use wss/https")
	flag.StringVar(&cfg.APIURL, "api", cfg.APIURL, "REST base URL")
	flag.StringVar(&cfg.Username, "user", cfg.Username, "username for login")
	flag.BoolVar(&cfg.Register, "register", cfg.Register, "create the account (user, BINGO_PASSWORD, -email) before logging in")
	flag.StringVar(&cfg.Email, "email", cfg.Email, "email for -register")
	flag.StringVar(&cfg.StatusAddr, "status", cfg.StatusAddr, "local status server address, empty to disable")
	flag.BoolVar(&cfg.AutoMark, "auto", cfg.AutoMark, "mark drawn numbers automatically")
	flag.BoolVar(&cfg.Dev, "dev", cfg.Dev, "development logging")
	flag.Parse()

	logger, err := newLogger(cfg.Dev)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a := app.New(cfg, logger, app.WithInput(os.Stdin), app.WithOutput(os.Stdout))
	res, err := a.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("bingo client stopped", zap.Error(err))
		os.Exit(1)
	}
	if res.Session != nil {
		logger.Info("game ended", zap.String("outcome", string(res.Session.Kind)), zap.String("winner", res.Session.Winner))
	}
}

func newLogger(dev bool) (*zap.Logger, error) {
	if dev {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
