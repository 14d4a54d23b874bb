// Command odataserver serves a NorthWind style data set over OData.
//
// Usage:
//
//	odataserver -config odataserver.yaml
//
// The database DSN of the configuration can be overridden with ODATA_DSN.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/cors"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	odata "github.com/nlstn/go-odata-classic"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	logger := cfg.logger(os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("Server failed", "error", err)
		os.Exit(1)
	}
}

func loadConfig(path string) (*Config, error) {
	if path == "" {
		cfg := defaultConfig()
		if dsn := os.Getenv(dsnEnv); dsn != "" {
			cfg.Database.DSN = dsn
		}
		return cfg, cfg.validate()
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return LoadConfiguration(f)
}

func openDatabase(cfg DatabaseConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Dialect {
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	default:
		dialector = sqlite.Open(cfg.DSN)
	}
	return gorm.Open(dialector, &gorm.Config{DisableForeignKeyConstraintWhenMigrating: true})
}

// newService builds the OData service over db.
func newService(ctx context.Context, cfg *Config, db *gorm.DB, logger *slog.Logger) (*odata.Service, error) {
	service, err := odata.NewService(odata.ServiceConfig{
		ServiceURI:      cfg.ServiceURI,
		Namespace:       "NorthWind",
		ContainerName:   "NorthWindEntities",
		DefaultPageSize: cfg.Paging.Default,
		PageSizes:       cfg.Paging.Sets,
		MaxExpandDepth:  cfg.MaxExpandDepth,
		MaxBatchSize:    cfg.MaxBatchSize,
	})
	if err != nil {
		return nil, err
	}
	if err := service.SetLogger(logger); err != nil {
		return nil, err
	}
	for _, set := range entitySets {
		if err := service.RegisterEntitySet(set.name, set.entity); err != nil {
			return nil, fmt.Errorf("failed to register %s: %w", set.name, err)
		}
	}
	if err := service.UseGORM(ctx, db, cfg.Database.Migrate); err != nil {
		return nil, err
	}
	if cfg.Database.Seed {
		if err := seed(ctx, db); err != nil {
			return nil, fmt.Errorf("failed to seed database: %w", err)
		}
	}
	if cfg.ServerTiming {
		if err := service.SetObservability(odata.ObservabilityConfig{ServiceName: "odataserver", EnableServerTiming: true}); err != nil {
			return nil, err
		}
	}
	return service, nil
}

func newRouter(cfg *Config, service http.Handler) *chi.Mux {
	r := chi.NewRouter()
	r.Use(cors.New(cors.Options{
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, "MERGE"},
		AllowedHeaders: []string{"*"},
		ExposedHeaders: []string{"DataServiceVersion", "ETag", "Location"},
	}).Handler)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	r.Mount(cfg.ServiceURI, service)
	return r
}

func run(ctx context.Context, cfg *Config, logger *slog.Logger) error {
	db, err := openDatabase(cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	service, err := newService(ctx, cfg, db, logger)
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:              cfg.Listen,
		Handler:           newRouter(cfg, service),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting to listen for connections", "addr", cfg.Listen, "service", cfg.ServiceURI, "dialect", cfg.Database.Dialect)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
