package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"go.uber.org/zap"

	"github.com/tbasson/pigeon/internal/auth"
	"github.com/tbasson/pigeon/internal/server"
)

// Config is read from the environment with the PIGEON_ prefix.
type Config struct {
	Address string `envconfig:"ADDRESS" default:":8080"`
	Secret  string `envconfig:"SECRET" validate:"required"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	mintFor := flag.String("mint", "", "print a signed token for the given email and exit")
	mintTTL := flag.Duration("mint-ttl", 24*time.Hour, "lifetime of the minted token")
	flag.Parse()

	var config Config
	if err := envconfig.Process("PIGEON", &config); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	if err := validator.New().Struct(config); err != nil {
		return fmt.Errorf("config error: %w", err)
	}

	if *mintFor != "" {
		token, err := auth.GenerateToken([]byte(config.Secret), *mintFor, *mintTTL)
		if err != nil {
			return fmt.Errorf("mint failed: %w", err)
		}
		fmt.Println(token)
		return nil
	}

	log, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger setup failed: %w", err)
	}
	defer func() { _ = log.Sync() }()

	srv := server.New(log, config.Address, []byte(config.Secret))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Start()
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		log.Info("shutting down")
		srv.Stop()
	}
	return nil
}
