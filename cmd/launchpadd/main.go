package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"launchpad/config"
	"launchpad/observability/logging"
	"launchpad/rpc"
	"launchpad/state"
	"launchpad/storage"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("LAUNCHPAD_ENV"))
	logger := logging.Setup("launchpadd", env)

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Error("Failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "launchpad"))
	if err != nil {
		logger.Error("Failed to open database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	manager := state.NewManager(db)
	params, err := buildParams(cfg)
	if err != nil {
		logger.Error("Invalid node parameters", slog.Any("error", err))
		os.Exit(1)
	}
	if err := seedRoles(manager, cfg, params); err != nil {
		logger.Error("Failed to seed configured roles", slog.Any("error", err))
		os.Exit(1)
	}

	server := rpc.NewServer(manager, params, logger)
	httpServer := &http.Server{
		Addr:              cfg.RPCAddress,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("RPC server listening", slog.String("address", cfg.RPCAddress))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("RPC server stopped", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("Shutdown failed", slog.Any("error", err))
	}
}

func buildParams(cfg *config.Config) (rpc.Params, error) {
	params := rpc.Params{
		FeePoints:        cfg.FeePoints,
		RequireSignature: cfg.RequireSignature,
	}
	if strings.TrimSpace(cfg.Admin) != "" {
		admin, err := cfg.AdminAddress()
		if err != nil {
			return params, err
		}
		params.Admin = admin
	}
	if strings.TrimSpace(cfg.FeeWallet) != "" {
		feeWallet, err := cfg.FeeWalletAddress()
		if err != nil {
			return params, err
		}
		params.FeeWallet = feeWallet
	}
	return params, nil
}

// seedRoles writes the configured operator and validator grants into the
// store so a freshly provisioned node starts with a working factory.
func seedRoles(manager *state.Manager, cfg *config.Config, params rpc.Params) error {
	operators, err := cfg.OperatorAddresses()
	if err != nil {
		return err
	}
	validators, err := cfg.ValidatorAddresses()
	if err != nil {
		return err
	}
	return manager.Exec(func(m *state.Manager) error {
		for _, operator := range operators {
			if err := m.FactoryOperatorPut(operator, true); err != nil {
				return err
			}
		}
		for _, validator := range validators {
			if err := m.FactoryValidatorPut(validator, true); err != nil {
				return err
			}
		}
		return nil
	})
}
