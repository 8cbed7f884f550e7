package main

import (
	"context"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/joseph-ayodele/recipe-ingest/internal/app"
	"github.com/joseph-ayodele/recipe-ingest/internal/common"
)

func main() {
	cfg := common.LoadConfig()
	logger, closeLog := common.SetupLogger(cfg.Log)
	defer closeLog()
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to start", "error", err)
		os.Exit(1)
	}

	lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		logger.Error("failed to listen on address", "addr", cfg.Server.GRPCAddr, "error", err)
		_ = a.Close(context.Background())
		os.Exit(1)
	}
	grpcServer := grpc.NewServer()

	// Register gRPC health service
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)

	logger.Info("recipe-ingestd listening", "addr", cfg.Server.GRPCAddr)
	go func() {
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error("gRPC serve error", "error", err)
			stop()
		}
	}()

	if err := a.Run(ctx); err != nil {
		logger.Error("ingestion sources stopped", "error", err)
	}
	<-ctx.Done()

	healthServer.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Pipeline.JobTimeout+5*time.Second)
	defer cancel()
	if err := a.Close(shutdownCtx); err != nil {
		logger.Warn("close failed", "error", err)
	}
	grpcServer.GracefulStop()
}
