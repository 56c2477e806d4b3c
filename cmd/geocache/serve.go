package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	"github.com/TomasB/geocache/internal/config"
	"github.com/TomasB/geocache/internal/handler/denylist"
	grpchandler "github.com/TomasB/geocache/internal/handler/grpc"
	"github.com/TomasB/geocache/internal/handler/health"
	"github.com/TomasB/geocache/internal/handler/ip"
	"github.com/TomasB/geocache/internal/logging"
	"github.com/TomasB/geocache/internal/service"
	"github.com/TomasB/geocache/internal/store"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and gRPC servers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), *configFile)
		},
	}
}

func runServe(ctx context.Context, configFile string) error {
	conf, logger, err := setup(configFile, os.Stdout)
	if err != nil {
		return err
	}

	slog.Info("service starting", "log_level", logging.ParseLevel(conf.Log.Level).String(), "store", conf.Store.Driver)

	// Set Gin mode based on log level
	if logging.ParseLevel(conf.Log.Level) == slog.LevelDebug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	svc, st, cleanup, err := openService(ctx, conf, service.WithMetrics(service.NewMetrics(reg)))
	if err != nil {
		return err
	}
	defer cleanup()

	router := newRouter(logger, svc, st.Ping, reg)

	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(conf.HTTP.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)

	go func() {
		slog.Info("http server started", "port", conf.HTTP.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	var grpcSrv *grpc.Server
	if conf.GRPC.Enabled {
		lis, err := net.Listen("tcp", ":"+strconv.Itoa(conf.GRPC.Port))
		if err != nil {
			_ = srv.Close()
			return fmt.Errorf("grpc listen: %w", err)
		}
		grpcSrv = grpc.NewServer()
		grpchandler.RegisterGeoCacheServer(grpcSrv, grpchandler.NewHandler(svc))

		go func() {
			slog.Info("grpc server started", "port", conf.GRPC.Port)
			if err := grpcSrv.Serve(lis); err != nil {
				errCh <- fmt.Errorf("grpc server: %w", err)
			}
		}()
	}

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	var runErr error
	select {
	case sig := <-quit:
		slog.Info("service shutting down", "signal", sig.String())
	case runErr = <-errCh:
		slog.Error("server failed", "error", runErr)
	case <-ctx.Done():
		slog.Info("service shutting down", "reason", ctx.Err())
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if grpcSrv != nil {
		stopGRPC(shutdownCtx, grpcSrv)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
		return err
	}

	slog.Info("service stopped")
	return runErr
}

// openService opens the configured store and providers and builds the core
// service on top of them. cleanup stops the provider watchers, then releases
// the store and providers.
func openService(ctx context.Context, conf config.Config, opts ...service.Option) (*service.Service, store.Store, func(), error) {
	watchCtx, stopWatch := context.WithCancel(ctx)

	provider, closeProvider, err := buildProvider(watchCtx, conf.Provider)
	if err != nil {
		stopWatch()
		return nil, nil, nil, err
	}

	st, err := store.Open(ctx, conf.Store)
	if err != nil {
		stopWatch()
		closeProvider()
		return nil, nil, nil, fmt.Errorf("open %s store: %w", conf.Store.Driver, err)
	}
	slog.Info("store opened", "driver", conf.Store.Driver)

	opts = append([]service.Option{
		service.WithFreshness(conf.Lookup.Freshness),
		service.WithBulkWorkers(conf.Lookup.BulkWorkers),
	}, opts...)
	svc := service.New(st.Records(), st.Denies(), provider, opts...)

	cleanup := func() {
		stopWatch()
		if err := st.Close(); err != nil {
			slog.Warn("failed to close store", "error", err)
		}
		closeProvider()
	}
	return svc, st, cleanup, nil
}

func newRouter(logger *slog.Logger, svc *service.Service, ready func(context.Context) error, gatherer prometheus.Gatherer) *gin.Engine {
	router := gin.New()

	router.Use(logging.GinLogger(logger))
	router.Use(gin.Recovery())

	healthHandler := health.NewHandler(ready)
	router.GET("/health", healthHandler.Health)
	router.GET("/ready", healthHandler.Ready)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	api := router.Group("/api/v1")
	ip.NewHandler(svc).Register(api)
	denylist.NewHandler(svc).Register(api)

	return router
}

// stopGRPC drains in-flight RPCs until ctx is done, then forces the stop.
func stopGRPC(ctx context.Context, srv *grpc.Server) {
	done := make(chan struct{})
	go func() {
		srv.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		slog.Warn("grpc server forced to stop")
		srv.Stop()
	}
}
