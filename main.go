// main.go
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	grpcprom "github.com/grpc-ecosystem/go-grpc-middleware/providers/prometheus"
	"github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/akhenakh/landcoverapi/catalog"
	"github.com/akhenakh/landcoverapi/coverage"
	"github.com/akhenakh/landcoverapi/tile"
)

const appName = "landcover-service"

var (
	grpcHealthServer  *grpc.Server
	httpMetricsServer *http.Server
	httpAPIServer     *http.Server

	grpcMetrics = grpcprom.NewServerMetrics(grpcprom.WithServerHandlingTimeHistogram(
		grpcprom.WithHistogramBuckets([]float64{0.01, 0.1, 0.3, 0.6, 1, 3, 6, 9}),
	))

	compositesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "landcover_composites_total",
		Help: "Tile composites by outcome.",
	}, []string{"outcome"})

	compositeDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "landcover_composite_duration_seconds",
		Help:    "Time spent compositing one tile.",
		Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 3},
	})
)

// Config holds all configuration for the application, loaded from environment variables.
type Config struct {
	LogLevel          string `env:"LOG_LEVEL" envDefault:"INFO"`
	HTTPPort          int    `env:"HTTP_PORT" envDefault:"8080"`
	HealthPort        int    `env:"HEALTH_PORT" envDefault:"6666"`
	HTTPMetricsPort   int    `env:"METRICS_PORT" envDefault:"8888"`
	CatalogPath       string `env:"CATALOG_PATH" envDefault:"catalog.yaml"`
	QueryLevel        uint32 `env:"QUERY_LEVEL" envDefault:"10"`
	CacheMaxSize      int64  `env:"CACHE_MAX_SIZE" envDefault:"1024"`
	CacheItemsToPrune uint32 `env:"CACHE_ITEMS_TO_PRUNE" envDefault:"100"`
}

func main() {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		fmt.Printf("failed to parse config: %+v\n", err)
		os.Exit(1)
	}

	logger := createLogger(cfg, appName)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(interrupt)

	g, ctx := errgroup.WithContext(ctx)

	logger.Info("loading layer catalog", "path", cfg.CatalogPath)
	cat, err := catalog.Load(cfg.CatalogPath, cfg.CacheMaxSize, cfg.CacheItemsToPrune)
	if err != nil {
		logger.Error("failed to load catalog, shutting down", "error", err)
		os.Exit(1)
	}
	logger.Info("catalog loaded", "layers", len(cat.Layers))

	healthServer := health.NewServer()

	// gRPC Health Server
	g.Go(func() error {
		return startHealthServer(logger, cfg, healthServer)
	})

	// HTTP Metrics Server (Prometheus)
	g.Go(func() error {
		return startMetricsServer(logger, cfg)
	})

	// HTTP API Server
	g.Go(func() error {
		return startHTTPAPIServer(logger, cfg, cat)
	})

	healthServer.SetServingStatus(appName, healthpb.HealthCheckResponse_SERVING)

	// Wait for termination signal or an error from one of the services
	select {
	case <-interrupt:
		slog.Warn("received termination signal, starting graceful shutdown")
		cancel()
	case <-ctx.Done():
		slog.Warn("context cancelled, starting graceful shutdown")
	}

	// Graceful Shutdown
	healthServer.Shutdown()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if httpMetricsServer != nil {
		if err := httpMetricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("HTTP metrics server shutdown error", "error", err)
		}
	}
	if httpAPIServer != nil {
		if err := httpAPIServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("HTTP API server shutdown error", "error", err)
		}
	}
	if grpcHealthServer != nil {
		grpcHealthServer.GracefulStop()
	}

	// Wait for all services in the errgroup to finish
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("server group returned an error", "error", err)
		os.Exit(2)
	}
}

func startHealthServer(logger *slog.Logger, cfg Config, healthServer *health.Server) error {
	addr := fmt.Sprintf(":%d", cfg.HealthPort)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("gRPC Health server failed to listen: %w", err)
	}

	lopts := []logging.Option{logging.WithLogOnEvents(logging.StartCall, logging.FinishCall)}
	grpcHealthServer = grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			logging.UnaryServerInterceptor(
				InterceptorLogger(logger),
				lopts...),
			grpcMetrics.UnaryServerInterceptor(),
		),
	)
	healthpb.RegisterHealthServer(grpcHealthServer, healthServer)
	logger.Info("gRPC health server listening", "address", addr)
	return grpcHealthServer.Serve(lis)
}

func startMetricsServer(logger *slog.Logger, cfg Config) error {
	addr := fmt.Sprintf(":%d", cfg.HTTPMetricsPort)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	prometheus.MustRegister(grpcMetrics, compositesTotal, compositeDuration)

	httpMetricsServer = &http.Server{Addr: addr, Handler: mux}
	logger.Info("HTTP metrics server listening", "address", addr)

	if err := httpMetricsServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("HTTP metrics server failed: %w", err)
	}
	return nil
}

func startHTTPAPIServer(logger *slog.Logger, cfg Config, cat *catalog.Catalog) error {
	addr := fmt.Sprintf(":%d", cfg.HTTPPort)
	mux := http.NewServeMux()

	mux.HandleFunc("/classify/", classifyHandler(cat, cfg.QueryLevel))
	mux.HandleFunc("/coverage/", coverageHandler(cat))

	httpAPIServer = &http.Server{Addr: addr, Handler: mux}
	logger.Info("HTTP API server listening", "address", addr)

	if err := httpAPIServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("HTTP API server failed: %w", err)
	}
	return nil
}

// composite runs one tile composite and records its outcome metrics.
func composite(ctx context.Context, cat *catalog.Catalog, key tile.Key) (coverage.GeoCoverage[catalog.Class], error) {
	start := time.Now()
	cov, err := cat.Compositor.Composite(ctx, key)
	compositeDuration.Observe(time.Since(start).Seconds())
	switch {
	case err != nil:
		compositesTotal.WithLabelValues("canceled").Inc()
	case !cov.Valid():
		compositesTotal.WithLabelValues("nodata").Inc()
	default:
		compositesTotal.WithLabelValues("ok").Inc()
	}
	return cov, err
}

func classifyHandler(cat *catalog.Catalog, defaultLevel uint32) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pathParts := strings.Split(strings.TrimPrefix(r.URL.Path, "/classify/"), "/")
		if len(pathParts) != 2 {
			http.Error(w, "Invalid URL format", http.StatusBadRequest)
			return
		}
		lat, err := strconv.ParseFloat(pathParts[0], 64)
		if err != nil {
			http.Error(w, "Invalid latitude", http.StatusBadRequest)
			return
		}
		lng, err := strconv.ParseFloat(pathParts[1], 64)
		if err != nil {
			http.Error(w, "Invalid longitude", http.StatusBadRequest)
			return
		}
		level := defaultLevel
		if lv := r.URL.Query().Get("level"); lv != "" {
			v, err := strconv.ParseUint(lv, 10, 32)
			if err != nil {
				http.Error(w, "Invalid level", http.StatusBadRequest)
				return
			}
			level = uint32(v)
		}

		key, ok := tile.At(level, lng, lat)
		if !ok {
			http.Error(w, "Coordinates are outside the world extent", http.StatusBadRequest)
			return
		}

		cov, err := composite(r.Context(), cat, key)
		if err != nil {
			http.Error(w, fmt.Sprintf("Composite aborted: %v", err), http.StatusServiceUnavailable)
			return
		}

		response := map[string]interface{}{
			"latitude":  lat,
			"longitude": lng,
			"tile":      key.String(),
		}
		if class, found := cov.ReadAtCoords(lng, lat); found {
			response["class"] = class.Name
			if class.Material != "" {
				response["material"] = class.Material
			}
		} else {
			response["class"] = nil
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(response)
	}
}

func coverageHandler(cat *catalog.Catalog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pathParts := strings.Split(strings.TrimPrefix(r.URL.Path, "/coverage/"), "/")
		if len(pathParts) != 3 {
			http.Error(w, "Invalid URL format", http.StatusBadRequest)
			return
		}
		key, err := tile.ParseKey(strings.Join(pathParts, "/"))
		if err != nil {
			http.Error(w, fmt.Sprintf("Invalid tile key: %v", err), http.StatusBadRequest)
			return
		}

		cov, err := composite(r.Context(), cat, key)
		if err != nil {
			http.Error(w, fmt.Sprintf("Composite aborted: %v", err), http.StatusServiceUnavailable)
			return
		}
		if !cov.Valid() {
			http.Error(w, "No coverage data for this tile", http.StatusNotFound)
			return
		}

		grid := cov.Grid()
		cells := make([][]string, grid.Height())
		for t := 0; t < grid.Height(); t++ {
			row := make([]string, grid.Width())
			for s := 0; s < grid.Width(); s++ {
				if class, found := grid.Read(s, t); found {
					row[s] = class.String()
				}
			}
			cells[t] = row
		}
		response := map[string]interface{}{
			"tile":    key.String(),
			"extent":  cov.Extent(),
			"width":   grid.Width(),
			"height":  grid.Height(),
			"nodata":  grid.NoDataCount(),
			"classes": grid.DistinctValues(),
			"cells":   cells,
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(response)
	}
}

func createLogger(cfg Config, appName string) *slog.Logger {
	var programLevel slog.Level
	switch strings.ToUpper(cfg.LogLevel) {
	case "DEBUG":
		programLevel = slog.LevelDebug
	case "INFO":
		programLevel = slog.LevelInfo
	case "WARN":
		programLevel = slog.LevelWarn
	case "ERROR":
		programLevel = slog.LevelError
	default:
		programLevel = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     programLevel,
		AddSource: programLevel <= slog.LevelDebug,
	}).WithAttrs([]slog.Attr{slog.String("app", appName)})
	return slog.New(handler)
}

func InterceptorLogger(l *slog.Logger) logging.Logger {
	return logging.LoggerFunc(func(ctx context.Context, lvl logging.Level, msg string, fields ...any) {
		l.Log(ctx, slog.Level(lvl), msg, fields...)
	})
}
