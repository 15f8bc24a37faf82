// Package main запускает HTTP-сервер реестра наград.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ntroshkin/rewardledger-system/internal/audit"
	"github.com/ntroshkin/rewardledger-system/internal/config"
	"github.com/ntroshkin/rewardledger-system/internal/handler"
	"github.com/ntroshkin/rewardledger-system/internal/middleware"
	"github.com/ntroshkin/rewardledger-system/internal/repository"
	"github.com/ntroshkin/rewardledger-system/internal/service"
	"github.com/ntroshkin/rewardledger-system/internal/token"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	repo, err := repository.NewPostgresRepository(cfg.DatabaseURI, cfg.OwnerAddress, cfg.MinDisbursement, cfg.MaxDisbursement)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}
	defer repo.Close()

	tokenClient := token.NewClient(cfg.TokenSystemAddress)

	svc := service.NewService(repo, tokenClient, audit.NewEmitter(logger), logger, service.Options{
		RewardToken:   cfg.RewardTokenAddress,
		LedgerAddress: cfg.LedgerAddress,
		MaxBatchSize:  cfg.MaxBatchSize,
	})
	defer svc.Close()

	authMiddleware := middleware.NewAuthMiddleware(cfg.AuthSecret)
	h := handler.NewHandler(svc, logger, authMiddleware)

	r := h.SetupRouter()

	server := &http.Server{
		Addr:    cfg.RunAddress,
		Handler: r,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Запуск фоновой сверки баланса с системой токенов
	g.Go(func() error {
		return svc.RunBalanceReconciliation(ctx, time.Minute)
	})

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting reward ledger server", "addr", cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}
