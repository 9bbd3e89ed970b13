package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"google.golang.org/grpc"
	"google.golang.org/grpc/keepalive"

	grpc_adapter "github.com/JoeShih716/go-bank-ledger/internal/app/core/adapter/in/grpc"
	http_adapter "github.com/JoeShih716/go-bank-ledger/internal/app/core/adapter/in/http"
	memory_adapter "github.com/JoeShih716/go-bank-ledger/internal/app/core/adapter/out/memory"
	mysql_adapter "github.com/JoeShih716/go-bank-ledger/internal/app/core/adapter/out/mysql"
	postgres_adapter "github.com/JoeShih716/go-bank-ledger/internal/app/core/adapter/out/postgres"
	"github.com/JoeShih716/go-bank-ledger/internal/app/core/usecase"
	"github.com/JoeShih716/go-bank-ledger/internal/config"
	"github.com/JoeShih716/go-bank-ledger/pkg/accountno"
	"github.com/JoeShih716/go-bank-ledger/pkg/mysql"
	"github.com/JoeShih716/go-bank-ledger/pkg/postgres"
	"github.com/JoeShih716/go-bank-ledger/pkg/wal"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	flag.Parse()

	// 1. 載入設定
	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := cfg.Log.NewLogger()
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("server exited")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 2. 初始化儲存層
	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	// 3. 初始化 UseCase
	numbers, err := accountno.NewGenerator(cfg.AccountNumber.Node)
	if err != nil {
		return err
	}
	retry := []usecase.RetryOption{
		usecase.WithMaxRetries(cfg.Ledger.MaxRetries),
		usecase.WithRetryBackoff(cfg.Ledger.RetryBackoff),
	}
	engine := usecase.NewLedgerEngine(store, logger,
		usecase.WithRetry(retry...),
		usecase.WithMaxPageSize(cfg.Ledger.MaxPageSize),
	)
	accounts := usecase.NewAccountManager(store, numbers, logger, retry...)

	errCh := make(chan error, 2)

	// 4. 啟動 gRPC Server
	var grpcServer *grpc.Server
	if cfg.GRPC.Addr != "" {
		lis, err := net.Listen("tcp", cfg.GRPC.Addr)
		if err != nil {
			return fmt.Errorf("listen grpc %s: %w", cfg.GRPC.Addr, err)
		}
		srv, healthServer := grpc_adapter.NewGRPCServer(
			grpc_adapter.NewServer(engine, accounts, logger),
			logger,
			grpc.KeepaliveParams(keepalive.ServerParameters{
				MaxConnectionIdle: 5 * time.Minute,
				Time:              time.Minute,
				Timeout:           20 * time.Second,
			}),
		)
		grpcServer = srv
		defer healthServer.Shutdown()

		go func() {
			logger.Info("starting gRPC server", slog.String("addr", cfg.GRPC.Addr))
			if err := srv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				errCh <- fmt.Errorf("serve grpc: %w", err)
			}
		}()
	}

	// 5. 啟動 HTTP Server
	var app *fiber.App
	if cfg.HTTP.Addr != "" {
		app = http_adapter.NewApp(engine, accounts, logger)
		go func() {
			logger.Info("starting HTTP server", slog.String("addr", cfg.HTTP.Addr))
			if err := app.Listen(cfg.HTTP.Addr); err != nil {
				errCh <- fmt.Errorf("serve http: %w", err)
			}
		}()
	}

	// Graceful Shutdown
	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down server...")
	case runErr = <-errCh:
	}

	if app != nil {
		if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
			logger.Warn("http shutdown", slog.Any("error", err))
		}
	}
	if grpcServer != nil {
		stopped := make(chan struct{})
		go func() {
			grpcServer.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-time.After(shutdownTimeout):
			grpcServer.Stop()
		}
	}
	return runErr
}

// openStore 依 storage.driver 建立儲存層，回傳的 close 函數負責釋放連線或 WAL
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (usecase.Store, func(), error) {
	switch cfg.Storage.Driver {
	case config.DriverMySQL:
		client, err := mysql.NewClient(ctx, cfg.MySQL, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("connect mysql: %w", err)
		}
		logger.Info("connected to MySQL successfully")

		store := mysql_adapter.NewStore(client)
		if err := store.Migrate(ctx); err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		return store, func() { _ = client.Close() }, nil

	case config.DriverPostgres:
		client, err := postgres.NewClient(ctx, cfg.Postgres, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		logger.Info("connected to PostgreSQL successfully")

		store := postgres_adapter.NewStore(client, postgres_adapter.WithLockTimeout(cfg.Ledger.LockTimeout))
		if err := store.Migrate(ctx); err != nil {
			client.Close()
			return nil, nil, err
		}
		return store, client.Close, nil

	default:
		opts := []memory_adapter.Option{memory_adapter.WithLockTimeout(cfg.Ledger.LockTimeout)}
		closeFn := func() {}
		if cfg.Storage.WALPath != "" {
			if err := os.MkdirAll(filepath.Dir(cfg.Storage.WALPath), 0o755); err != nil {
				return nil, nil, fmt.Errorf("create wal dir: %w", err)
			}
			walFile, err := wal.NewWAL(cfg.Storage.WALPath)
			if err != nil {
				return nil, nil, fmt.Errorf("open wal: %w", err)
			}
			opts = append(opts, memory_adapter.WithWAL(walFile))
			closeFn = func() { _ = walFile.Close() }
		}

		store, err := memory_adapter.NewStore(opts...)
		if err != nil {
			closeFn()
			return nil, nil, fmt.Errorf("init memory store: %w", err)
		}
		logger.Info("memory store ready", slog.String("wal", cfg.Storage.WALPath))
		return store, closeFn, nil
	}
}
