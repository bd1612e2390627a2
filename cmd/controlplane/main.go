package main

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/xela07ax/spaceai-control-plane/internal/app"
	"github.com/xela07ax/spaceai-control-plane/internal/console/handler"
	"github.com/xela07ax/spaceai-control-plane/internal/console/server"
	"github.com/xela07ax/spaceai-control-plane/internal/infra"
	"github.com/xela07ax/spaceai-control-plane/internal/infra/auth"
)

func main() {
	// 1. Конфиг и логгер
	cfg, err := infra.LoadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	// Контекст для управления жизненным циклом фоновых горутин
	// При SIGTERM cancel() остановит слушателей и цикл сверки
	appCtx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// 2. Сборка ядра
	a, err := app.Build(appCtx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to build control plane", zap.Error(err))
	}
	defer a.Close()

	a.WatchKillSwitch(appCtx)
	if iv := a.ReconcileInterval(); iv > 0 {
		go a.Reconciler.Run(appCtx, iv)
	}

	// 3. Авторизация операторов
	guard, err := operatorGuard(cfg.Auth, logger)
	if err != nil {
		logger.Fatal("failed to configure operator auth", zap.Error(err))
	}

	// 4. HTTP API
	srv := &http.Server{
		Addr: fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: server.NewControlPlaneServer(logger, guard, server.Handlers{
			Triggers:   handler.NewTriggerHandler(a.Registry, a.Dispatcher, logger),
			Simulation: handler.NewSimulationHandler(a.Registry, a.Simulation, logger),
			KillSwitch: handler.NewKillSwitchHandler(a.KillSwitch, logger),
			Audit:      handler.NewAuditHandler(a.AuditLog),
			Health:     handler.NewHealthHandler(a.Backends, 2*time.Second),
		}, cfg.Server.MetricsPath, a.Prometheus),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("control plane started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("listen", zap.Error(err))
			cancel()
		}
	}()

	// 5. Graceful Shutdown
	<-appCtx.Done()
	logger.Info("control plane stopping...")

	// Даем 5 секунд на завершение запросов
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}
	logger.Info("control plane exited properly")
}

func operatorGuard(cfg infra.AuthConfig, logger *zap.Logger) (*auth.OperatorGuard, error) {
	ops := make([]auth.Operator, 0, len(cfg.Operators))
	for _, o := range cfg.Operators {
		ops = append(ops, auth.Operator{ID: o.ID, KeyHash: o.KeyHash})
	}

	if len(cfg.PublicKey) == 0 && cfg.HMACSecret == "" {
		logger.Warn("bearer operator tokens disabled: no verification key configured")
		return auth.NewOperatorGuard(ops, nil, logger), nil
	}

	var pub *rsa.PublicKey
	if len(cfg.PublicKey) > 0 {
		key, err := auth.ParseRSAPublicKey(cfg.PublicKey)
		if err != nil {
			return nil, err
		}
		pub = key
	}
	return auth.NewOperatorGuard(ops, auth.NewBaseValidator(pub, []byte(cfg.HMACSecret)), logger), nil
}
