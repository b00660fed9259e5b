// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/pflag"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/SyedDaiam9101/fundus-service/internal/cache"
	"github.com/SyedDaiam9101/fundus-service/internal/classifier"
	"github.com/SyedDaiam9101/fundus-service/internal/config"
	"github.com/SyedDaiam9101/fundus-service/internal/handler"
	"github.com/SyedDaiam9101/fundus-service/internal/inference"
	"github.com/SyedDaiam9101/fundus-service/internal/logger"
	"github.com/SyedDaiam9101/fundus-service/internal/middleware"
	"github.com/SyedDaiam9101/fundus-service/internal/router"
	"github.com/SyedDaiam9101/fundus-service/internal/tracing"
)

const (
	serviceName    = "fundus-service"
	serviceVersion = "1.0.0"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := config.Flags()
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := config.Load(fs)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	log, err := logger.NewLogger(&cfg.Log)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	log.Info("Starting service",
		zap.String("service", serviceName),
		zap.Int("port", cfg.Port),
		zap.Int("grpc_port", cfg.GRPCPort),
		zap.String("model", cfg.Model),
		zap.String("redis", cfg.Redis),
		zap.Bool("otel", cfg.OTELEnabled))

	// Initialize OpenTelemetry tracer
	var tracerShutdown func(context.Context) error
	if cfg.OTELEnabled {
		tracerShutdown, err = tracing.Init(context.Background(), serviceName, serviceVersion, cfg.OTELEndpoint, nil)
		if err != nil {
			log.Warn("Failed to initialize tracer", zap.Error(err))
		} else {
			exporter := cfg.OTELEndpoint
			if exporter == "" {
				exporter = "stdout"
			}
			log.Info("OpenTelemetry tracing enabled", zap.String("exporter", exporter))
		}
	}

	engine, modelID, loadErr := loadEngine(cfg, log)

	// Initialize Redis cache (optional)
	var predictionCache classifier.PredictionCache
	if cfg.Redis != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		redisCache, err := cache.New(ctx, cfg.Redis)
		cancel()
		if err != nil {
			log.Warn("Failed to connect to Redis, continuing without cache", zap.Error(err))
		} else {
			defer redisCache.Close()
			predictionCache = redisCache
			log.Info("Connected to Redis", zap.String("address", cfg.Redis))
		}
	}

	clf := classifier.New(engine, loadErr, classifier.Config{
		Labels:   classifier.Labels,
		Height:   cfg.ImageHeight,
		Width:    cfg.ImageWidth,
		ModelID:  modelID,
		Cache:    predictionCache,
		CacheTTL: cfg.CacheTTL,
	}, log)
	defer clf.Close()

	gin.SetMode(cfg.GinMode)

	healthHandler := handler.NewHealthHandler(clf)
	r := router.Setup(handler.New(clf, cfg.MaxUploadBytes, log), healthHandler, cfg.AllowedOrigin, log)

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 2)

	go func() {
		log.Info("HTTP server listening", zap.String("address", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- fmt.Errorf("http server: %w", err)
		}
	}()

	var grpcServer *grpc.Server
	var grpcHealth *health.Server
	if cfg.GRPCPort > 0 {
		grpcServer, grpcHealth, err = startGRPCServer(cfg, clf, log, serveErr)
		if err != nil {
			_ = srv.Close()
			return err
		}
	}

	log.Info("Service is ready to accept requests", zap.Bool("model_loaded", clf.Loaded()))

	// Wait for interrupt signal or a server failure
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-quit:
		log.Info("Received signal, shutting down gracefully", zap.String("signal", sig.String()))
	case runErr = <-serveErr:
		log.Error("Server failed", zap.Error(runErr))
	}

	healthHandler.SetServing(false)
	if grpcHealth != nil {
		grpcHealth.Shutdown()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("HTTP server forced to shutdown", zap.Error(err))
	}
	if grpcServer != nil {
		grpcServer.GracefulStop()
	}
	if tracerShutdown != nil {
		if err := tracerShutdown(ctx); err != nil {
			log.Warn("Tracer shutdown failed", zap.Error(err))
		}
	}

	log.Info("Server exited")
	return runErr
}

// loadEngine opens the inference engine and fingerprints its artifact. A
// failure is logged and returned so the service can start degraded rather
// than exit.
func loadEngine(cfg *config.Config, log *zap.Logger) (inference.InferenceEngine, string, error) {
	if cfg.UseMockInference {
		log.Info("Using mock inference engine")
		return inference.NewMock(), "mock", nil
	}

	log.Info("Loading ONNX model", zap.String("path", cfg.Model))
	engine, err := inference.New(cfg.Model, inference.Options{
		LibraryPath: cfg.ONNXLibrary,
		InputName:   cfg.InputName,
		OutputName:  cfg.OutputName,
		NumClasses:  int64(len(classifier.Labels)),
	})
	if err != nil {
		log.Error("Failed to load model, serving without predictions", zap.Error(err))
		return nil, "", err
	}

	modelID, err := inference.Digest(cfg.Model)
	if err != nil {
		_ = engine.Close()
		log.Error("Failed to fingerprint model, serving without predictions", zap.Error(err))
		return nil, "", err
	}

	log.Info("Model loaded successfully",
		zap.String("model_digest", modelID),
		zap.Strings("labels", classifier.Labels))
	return engine, modelID, nil
}

func startGRPCServer(cfg *config.Config, clf *classifier.Classifier, log *zap.Logger, serveErr chan<- error) (*grpc.Server, *health.Server, error) {
	interceptors := []grpc.UnaryServerInterceptor{
		middleware.UnaryRequestIDInterceptor(),
		middleware.UnaryMetricsInterceptor(),
	}
	if cfg.OTELEnabled {
		interceptors = append(interceptors, otelgrpc.UnaryServerInterceptor())
	}

	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(interceptors...))
	handler.RegisterClassifierServer(grpcServer, handler.NewGRPCServer(clf))

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	reflection.Register(grpcServer)

	status := healthpb.HealthCheckResponse_SERVING
	if !clf.Loaded() {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	healthServer.SetServingStatus(handler.ClassifierServiceName, status)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	addr := fmt.Sprintf(":%d", cfg.GRPCPort)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	go func() {
		log.Info("gRPC server listening", zap.String("address", addr))
		if err := grpcServer.Serve(lis); err != nil {
			serveErr <- fmt.Errorf("grpc server: %w", err)
		}
	}()

	return grpcServer, healthServer, nil
}
