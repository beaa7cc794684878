// Copyright (C) 2026 Kodiak Systems (dev@kodiakmq.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/kodiakmq/kodiak/pkg/cluster"
	"github.com/kodiakmq/kodiak/pkg/config"
	"github.com/kodiakmq/kodiak/pkg/logging"
	"github.com/kodiakmq/kodiak/services/featureflags"
	"github.com/kodiakmq/kodiak/services/featureflags/observability"
	"github.com/kodiakmq/kodiak/services/featureflags/routes"
	"github.com/kodiakmq/kodiak/services/memcontrol"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the node coordination services",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// initTracer wires the OTLP trace exporter when an endpoint is
// configured. Returns a shutdown func.
func initTracer(endpoint string) (func(context.Context), error) {
	ctx := context.Background()

	conn, err := grpc.NewClient(endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("kodiakd")))
	if err != nil {
		return nil, err
	}
	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))
	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.
		TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := logging.New(logging.Config{
		Level:   logging.ParseLevel(cfg.Log.Level),
		Service: "kodiakd",
		LogDir:  cfg.Log.Dir,
		JSON:    cfg.Log.JSON || !isatty.IsTerminal(os.Stderr.Fd()),
	})
	defer logger.Close()
	logger.Install()

	slog.Info("kodiak node starting",
		"node", cfg.NodeName,
		"listen", cfg.ListenAddr,
		"peers", len(cfg.Peers),
	)

	if cfg.OTLPEndpoint != "" {
		cleanup, err := initTracer(cfg.OTLPEndpoint)
		if err != nil {
			return fmt.Errorf("setup OTLP tracer: %w", err)
		}
		defer cleanup(context.Background())
	}

	// Enabled-flag persistence per configured backend.
	var store featureflags.EnabledStore
	var recordPath string
	switch cfg.StoreBackend {
	case "badger":
		badgerStore, err := featureflags.OpenBadgerStore(featureflags.BadgerStoreConfig{
			Path:       filepath.Join(cfg.DataDir, "featureflags"),
			SyncWrites: true,
			Logger:     slog.Default(),
		})
		if err != nil {
			return err
		}
		store = badgerStore
	default:
		fileStore := featureflags.NewFileStore(filepath.Join(cfg.DataDir, "enabled_flags.json"))
		store = fileStore
		recordPath = fileStore.Path()
	}
	defer store.Close()

	catalog := featureflags.NewAppCatalog()
	catalog.RegisterDeclared(featureflags.CoreAppName, featureflags.CoreFlags())

	nodes := make([]cluster.Node, 0, len(cfg.Peers))
	for _, peer := range cfg.Peers {
		nodes = append(nodes, cluster.Node{Name: peer.Name, BaseURL: peer.BaseURL})
	}
	membership := cluster.NewStaticMembership(cluster.MembershipConfig{
		Self:         cfg.NodeName,
		Nodes:        nodes,
		ProbeTimeout: cfg.ProbeTimeout.Std(),
	})

	coordinator, err := featureflags.NewCoordinator(featureflags.CoordinatorConfig{
		Store:      store,
		Catalog:    catalog,
		Membership: membership,
		RPCTimeout: cfg.RPCTimeout.Std(),
		Metrics:    observability.InitMetrics(classifyEnableError),
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := coordinator.Init(ctx); err != nil {
		return fmt.Errorf("initial registry build: %w", err)
	}

	// Out-of-band record edits trigger rebuilds; file backend only.
	if recordPath != "" {
		watcher := featureflags.NewWatcher(coordinator, recordPath)
		if err := watcher.Start(ctx); err != nil {
			slog.Warn("enabled-record watcher unavailable", "error", err)
		} else {
			defer watcher.Stop()
		}
	}

	memController, err := memcontrol.NewController(memcontrol.ControllerConfig{
		Oracle:   memcontrol.NewSystemMemory(),
		Used:     memcontrol.NewSystemMemory(),
		Interval: cfg.MemoryInterval.Std(),
		Metrics:  memcontrol.InitMetrics(),
	})
	if err != nil {
		return err
	}
	if err := memController.Start(ctx); err != nil {
		return err
	}
	defer memController.Stop()

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	routes.SetupRoutes(router, coordinator, membership)

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("peer surface listening", "addr", cfg.ListenAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	slog.Info("kodiak node stopped", "node", cfg.NodeName)
	return err
}

// classifyEnableError maps coordinator errors onto metric result labels.
func classifyEnableError(err error) string {
	var crash *featureflags.MigrationCrashError
	var peerErr *featureflags.PeerError
	switch {
	case errors.Is(err, featureflags.ErrUnsupported):
		return "unsupported"
	case errors.As(err, &crash):
		return "migration_crash"
	case errors.As(err, &peerErr):
		return "peer_error"
	default:
		return "error"
	}
}
