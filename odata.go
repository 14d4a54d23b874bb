// Package odata serves Go structs as an OData v2 style data service.
//
// A Service maps the resource path and system query options of a request URI
// ($filter, $orderby, $top, $skip, $skiptoken, $expand, $select, $inlinecount)
// onto a QueryProvider, then writes the result as Atom/XML or verbose JSON.
// Two providers ship with the package: an in-memory provider and a GORM backed
// SQL store.
//
// # Example
//
//	service, err := odata.NewService(odata.ServiceConfig{ServiceURI: "/NorthWind.svc"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := service.RegisterEntitySet("Customers", Customer{}); err != nil {
//	    log.Fatal(err)
//	}
//	if err := service.UseGORM(context.Background(), db, true); err != nil {
//	    log.Fatal(err)
//	}
//	http.Handle("/NorthWind.svc/", service)
package odata

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/nlstn/go-odata-classic/internal/handlers"
	"github.com/nlstn/go-odata-classic/internal/metadata"
	"github.com/nlstn/go-odata-classic/internal/observability"
	"github.com/nlstn/go-odata-classic/internal/odataerr"
	"github.com/nlstn/go-odata-classic/internal/providers"
	"github.com/nlstn/go-odata-classic/internal/providers/memory"
	"github.com/nlstn/go-odata-classic/internal/providers/sqlstore"
	"github.com/nlstn/go-odata-classic/internal/scope"
	"github.com/nlstn/go-odata-classic/internal/uriprocessor"
)

const (
	// DefaultNamespace is used when no namespace is configured for the service.
	DefaultNamespace = "ODataService"

	// DefaultContainerName is used when no entity container name is configured.
	DefaultContainerName = "Entities"

	// DefaultMaxExpandDepth is the default maximum depth of $expand paths.
	DefaultMaxExpandDepth = uriprocessor.DefaultMaxExpandDepth

	// DefaultMaxBatchSize is the default maximum number of sub-requests in a batch request.
	DefaultMaxBatchSize = handlers.DefaultMaxBatchSize
)

// ServiceConfig controls optional service behaviours.
type ServiceConfig struct {
	// ServiceURI is the service root. It may be absolute, a path such as
	// "/NorthWind.svc", or empty to use the request path up to its ".svc" segment.
	ServiceURI string

	// Namespace and ContainerName name the entity container of the service.
	Namespace     string
	ContainerName string

	// DefaultPageSize enables server-driven paging for every entity set registered
	// afterwards. Zero disables paging.
	DefaultPageSize int

	// PageSizes overrides DefaultPageSize per entity set.
	PageSizes map[string]int

	// MaxExpandDepth limits the depth of $expand paths. Default: 10.
	MaxExpandDepth int

	// MaxBatchSize limits the number of sub-requests in a batch request. Default: 100.
	MaxBatchSize int
}

// Provider types exposed for custom data sources.
type (
	QueryProvider           = providers.QueryProvider
	ResourceSetQuery        = providers.ResourceSetQuery
	RelatedResourceSetQuery = providers.RelatedResourceSetQuery
	Registry                = metadata.Registry
	ResourceSetWrapper      = metadata.ResourceSetWrapper
	MemoryProvider          = memory.Provider
	PreRequestHook          = handlers.PreRequestHook
	Error                   = odataerr.Error
)

// QueryScope is a SQL condition the SQL store adds to every read of an entity set,
// before the conditions of $filter.
type QueryScope = scope.QueryScope

// ErrNoProvider is returned when a request is served before a provider was configured.
var ErrNoProvider = errors.New("odata: no query provider configured")

// Service is an OData service over the entity sets of one registry.
type Service struct {
	cfg      ServiceConfig
	registry *Registry

	mu            sync.RWMutex
	provider      QueryProvider
	store         *sqlstore.Store
	wrapper       *providers.Wrapper
	dispatcher    *handlers.Dispatcher
	handler       http.Handler
	logger        *slog.Logger
	observability *observability.Config
	preRequest    PreRequestHook
}

// NewService creates a service with no entity sets and no provider.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Namespace == "" {
		cfg.Namespace = DefaultNamespace
	}
	if cfg.ContainerName == "" {
		cfg.ContainerName = DefaultContainerName
	}
	if cfg.DefaultPageSize < 0 {
		return nil, fmt.Errorf("odata: default page size must not be negative")
	}
	if cfg.MaxExpandDepth <= 0 {
		cfg.MaxExpandDepth = DefaultMaxExpandDepth
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = DefaultMaxBatchSize
	}
	return &Service{
		cfg:      cfg,
		registry: metadata.NewRegistry(cfg.Namespace, cfg.ContainerName),
		logger:   slog.Default(),
	}, nil
}

// Registry returns the metadata registry of the service.
func (s *Service) Registry() *Registry {
	return s.registry
}

// RegisterEntity registers an entity set for entity, named by pluralizing its type name.
func (s *Service) RegisterEntity(entity any) error {
	set, err := s.registry.RegisterEntity(entity)
	if err != nil {
		return err
	}
	return s.applyPageSize(set.Name)
}

// RegisterEntitySet registers an entity set named setName whose entity type is
// analyzed from entity, a struct or a pointer to one.
func (s *Service) RegisterEntitySet(setName string, entity any) error {
	if _, err := s.registry.RegisterEntitySet(setName, entity); err != nil {
		return err
	}
	return s.applyPageSize(setName)
}

func (s *Service) applyPageSize(setName string) error {
	size := s.cfg.DefaultPageSize
	if override, ok := s.cfg.PageSizes[setName]; ok {
		size = override
	}
	if size == 0 {
		return nil
	}
	return s.registry.SetPageSize(setName, size)
}

// SetEntitySetPageSize sets the server-driven page size of an entity set. Zero
// disables paging of the set.
func (s *Service) SetEntitySetPageSize(setName string, pageSize int) error {
	return s.registry.SetPageSize(setName, pageSize)
}

// SetNavigationTarget sets the entity set a navigation property of setName leads
// to, for entity types exposed through more than one set.
func (s *Service) SetNavigationTarget(setName, propertyName, targetSetName string) error {
	return s.registry.SetNavigationTarget(setName, propertyName, targetSetName)
}

// NewMemoryProvider creates an in-memory provider for the sets registered so far
// and makes it the provider of the service.
func (s *Service) NewMemoryProvider() (*MemoryProvider, error) {
	p := memory.New(s.registry)
	p.SetLogger(s.logger)
	if err := s.SetProvider(p); err != nil {
		return nil, err
	}
	return p, nil
}

// UseGORM serves the registered sets from db through the SQL store. With migrate
// set, the tables of the registered entity types are created or updated first.
func (s *Service) UseGORM(ctx context.Context, db *gorm.DB, migrate bool) error {
	store, err := sqlstore.New(db, s.registry)
	if err != nil {
		return fmt.Errorf("odata: %w", err)
	}
	store.SetLogger(s.logger)
	if migrate {
		if err := store.AutoMigrate(ctx); err != nil {
			return fmt.Errorf("odata: failed to migrate: %w", err)
		}
	}
	if err := s.SetProvider(store); err != nil {
		return err
	}
	s.mu.Lock()
	s.store = store
	s.mu.Unlock()
	return nil
}

// AddScope adds a condition to every read of setName. It requires the SQL store.
func (s *Service) AddScope(setName string, sc QueryScope) error {
	s.mu.RLock()
	store := s.store
	s.mu.RUnlock()
	if store == nil {
		return fmt.Errorf("odata: query scopes require the SQL store")
	}
	if _, ok := s.registry.ResourceSet(setName); !ok {
		return fmt.Errorf("odata: entity set '%s' is not registered", setName)
	}
	if err := sc.Validate(); err != nil {
		return fmt.Errorf("odata: %w", err)
	}
	store.AddScope(setName, sc)
	return nil
}

// SetProvider makes p the data source of the service. Entity sets must be
// registered before the provider is set.
func (s *Service) SetProvider(p QueryProvider) error {
	wrapper, err := providers.NewWrapper(p, s.registry)
	if err != nil {
		return err
	}
	dispatcher := handlers.NewDispatcher(wrapper, handlers.Config{
		ServiceURI:     s.cfg.ServiceURI,
		MaxExpandDepth: s.cfg.MaxExpandDepth,
		MaxBatchSize:   s.cfg.MaxBatchSize,
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	s.provider = p
	s.store = nil
	s.wrapper = wrapper
	s.dispatcher = dispatcher
	s.configureLocked()
	return nil
}

// configureLocked pushes the logger, observability and hook settings to the
// request pipeline.
func (s *Service) configureLocked() {
	if s.dispatcher == nil {
		return
	}
	s.wrapper.SetLogger(s.logger)
	s.wrapper.SetObservability(s.observability)
	s.dispatcher.SetLogger(s.logger)
	s.dispatcher.SetObservability(s.observability)
	s.dispatcher.SetPreRequestHook(s.preRequest)

	s.handler = s.dispatcher
	if s.observability != nil && s.observability.ServerTimingEnabled() {
		s.handler = observability.ServerTimingMiddleware(s.dispatcher)
	}
}

// SetLogger sets a custom logger for the service.
// If logger is nil, slog.Default() is used.
func (s *Service) SetLogger(logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = logger
	if s.store != nil {
		s.store.SetLogger(logger)
	}
	if mp, ok := s.provider.(*MemoryProvider); ok {
		mp.SetLogger(logger)
	}
	s.configureLocked()
	return nil
}

// SetPreRequestHook sets a hook called before each request is processed,
// including batch sub-requests. Returning an error rejects the request with
// 403 Forbidden.
func (s *Service) SetPreRequestHook(hook PreRequestHook) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.preRequest = hook
	s.configureLocked()
	return nil
}

// ObservabilityConfig configures tracing and metrics for the service.
// All providers are optional; when nil, the corresponding feature is disabled.
type ObservabilityConfig struct {
	// TracerProvider provides the OpenTelemetry tracer. If nil, tracing is disabled.
	TracerProvider trace.TracerProvider

	// MeterProvider provides the OpenTelemetry meter. If nil, metrics are disabled.
	MeterProvider metric.MeterProvider

	// ServiceName identifies this service in telemetry data.
	// Defaults to "odata-service" if not specified.
	ServiceName string

	// ServiceVersion is reported in telemetry attributes.
	ServiceVersion string

	// EnableServerTiming adds the Server-Timing header to responses.
	EnableServerTiming bool
}

// SetObservability configures OpenTelemetry based tracing and metrics for the
// service. Requests, batch parts and provider calls get spans; request counts,
// latencies, provider calls and batch sizes are recorded as metrics.
func (s *Service) SetObservability(cfg ObservabilityConfig) error {
	opts := []observability.Option{}
	if cfg.TracerProvider != nil {
		opts = append(opts, observability.WithTracerProvider(cfg.TracerProvider))
	}
	if cfg.MeterProvider != nil {
		opts = append(opts, observability.WithMeterProvider(cfg.MeterProvider))
	}
	if cfg.ServiceName != "" {
		opts = append(opts, observability.WithServiceName(cfg.ServiceName))
	}
	if cfg.ServiceVersion != "" {
		opts = append(opts, observability.WithServiceVersion(cfg.ServiceVersion))
	}
	if cfg.EnableServerTiming {
		opts = append(opts, observability.WithServerTiming())
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	opts = append(opts, observability.WithLogger(s.logger))
	obsCfg := observability.NewConfig(opts...)
	if err := obsCfg.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize observability: %w", err)
	}
	s.observability = obsCfg
	s.configureLocked()

	s.logger.Info("Observability configured",
		"tracing_enabled", cfg.TracerProvider != nil,
		"metrics_enabled", cfg.MeterProvider != nil,
		"server_timing_enabled", cfg.EnableServerTiming,
		"service_name", obsCfg.ServiceName(),
	)
	return nil
}

// ServerTimingMetric tracks the duration of an operation for the Server-Timing
// response header.
type ServerTimingMetric = observability.ServerTimingMetric

// StartServerTiming starts a Server-Timing metric with the given name. It is a
// no-op unless server timing is enabled for the request.
func StartServerTiming(ctx context.Context, name string) *ServerTimingMetric {
	return observability.StartServerTiming(ctx, name)
}

// ServeHTTP implements http.Handler.
func (s *Service) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	handler := s.handler
	logger := s.logger
	s.mu.RUnlock()

	if handler == nil {
		logger.Error("Request received before a provider was configured", "method", r.Method, "path", r.URL.Path)
		http.Error(w, ErrNoProvider.Error(), http.StatusInternalServerError)
		return
	}
	handler.ServeHTTP(w, r)
}
