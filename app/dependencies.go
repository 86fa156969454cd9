package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/upb/authflow/config"
	"github.com/upb/authflow/handlers"
	"github.com/upb/authflow/middleware"
	"github.com/upb/authflow/provider"
	"github.com/upb/authflow/repositories/postgres"
	"github.com/upb/authflow/resolver"
	"github.com/upb/authflow/services"
	"go.uber.org/zap"
)

// Dependencies holds all application dependencies.
// This is the central wiring point; the provider client is built once here and injected everywhere.
type Dependencies struct {
	// Infrastructure
	Config *config.Config
	Logger *zap.Logger
	DB     *postgres.DB // nil unless DATABASE_URL is set

	// Provider
	Client *provider.Client
	Admin  *provider.AdminClient // nil unless the privileged tier is enabled
	Store  provider.SessionStore

	// Session and role
	Roles    *resolver.RoleLookup
	Resolver *resolver.Resolver

	// Services
	AuthService *services.AuthService

	// HTTP
	RoleMiddleware *middleware.RoleMiddleware
	FormHandler    *handlers.FormHandler
	SessionHandler *handlers.SessionHandler
	AuthAPIHandler *handlers.AuthAPIHandler
	HealthHandler  *handlers.HealthHandler
}

// Option customizes dependency construction
type Option func(*buildOptions)

type buildOptions struct {
	providerOpts []provider.Option
}

// WithProviderOptions passes extra options to both provider clients
func WithProviderOptions(opts ...provider.Option) Option {
	return func(o *buildOptions) {
		o.providerOpts = append(o.providerOpts, opts...)
	}
}

// NewDependencies creates and wires up all application dependencies.
// The resolver is constructed but not started; call Start.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts ...Option) (*Dependencies, error) {
	if cfg == nil {
		return nil, services.ErrMissingConfig
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var o buildOptions
	for _, opt := range opts {
		opt(&o)
	}

	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	deps.initSessionStore(cfg)

	if err := deps.initProvider(cfg, o.providerOpts); err != nil {
		return nil, fmt.Errorf("failed to initialize provider client: %w", err)
	}

	if err := deps.initRoleLookup(ctx, cfg, o.providerOpts); err != nil {
		return nil, fmt.Errorf("failed to initialize role lookup: %w", err)
	}

	deps.Resolver = resolver.New(deps.Client, deps.Roles, logger.Named("resolver"))
	deps.AuthService = services.NewAuthService(deps.Resolver, logger.Named("auth"))

	deps.initHTTP()

	logger.Info("all dependencies initialized successfully",
		zap.Bool("privileged_role_lookup", deps.Roles.Privileged()),
		zap.Bool("direct_database", deps.DB != nil),
		zap.String("session_store", cfg.Session.Store))
	return deps, nil
}

// initSessionStore selects where the provider client persists tokens
func (d *Dependencies) initSessionStore(cfg *config.Config) {
	switch cfg.Session.Store {
	case "memory":
		d.Store = provider.NewMemoryStore()
	default:
		d.Store = provider.NewFileStore(cfg.Session.File)
	}
}

// initProvider builds the single provider client for the process
func (d *Dependencies) initProvider(cfg *config.Config, extra []provider.Option) error {
	opts := append([]provider.Option{
		provider.WithSessionStore(d.Store),
		provider.WithLogger(d.Logger.Named("provider")),
	}, extra...)

	client, err := provider.NewClient(cfg.Service.URL, cfg.Service.AnonKey, opts...)
	if err != nil {
		return err
	}
	d.Client = client
	d.Logger.Info("provider client initialized", zap.String("url", client.URL()))
	return nil
}

// initRoleLookup wires the record store and, when enabled, the privileged tier
func (d *Dependencies) initRoleLookup(ctx context.Context, cfg *config.Config, extra []provider.Option) error {
	var records resolver.RoleSource = d.Client
	if cfg.Database != nil {
		db, err := postgres.NewDB(ctx, *cfg.Database, d.Logger.Named("postgres"))
		if err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
		d.DB = db
		records = postgres.NewUserRepository(db, d.Logger.Named("users"))
	}

	var lookupOpts []resolver.RoleLookupOption
	if cfg.PrivilegedLookupEnabled() {
		opts := append([]provider.Option{provider.WithLogger(d.Logger.Named("admin"))}, extra...)
		admin, err := provider.NewAdminClient(cfg.Service.URL, cfg.RoleLookup.ServiceRoleKey, opts...)
		if err != nil {
			d.closeDB()
			return err
		}
		d.Admin = admin
		lookupOpts = append(lookupOpts, resolver.WithPrivilegedTier(admin))
		d.Logger.Warn("privileged role lookup enabled; the service role key must never ship to clients")
	}

	d.Roles = resolver.NewRoleLookup(records, d.Logger.Named("roles"), lookupOpts...)
	return nil
}

func (d *Dependencies) initHTTP() {
	d.RoleMiddleware = middleware.NewRoleMiddleware(d.Resolver, middleware.DefaultSettleTimeout, d.Logger)
	d.FormHandler = handlers.NewFormHandler(d.AuthService, d.Resolver, d.Logger)
	d.SessionHandler = handlers.NewSessionHandler(d.Resolver, d.Logger)

	// a nil *postgres.DB must not become a non-nil interface
	var db handlers.HealthChecker
	if d.DB != nil {
		db = d.DB
	}
	d.HealthHandler = handlers.NewHealthHandler(db, d.Resolver, d.Client, d.Logger)
	d.AuthAPIHandler = handlers.NewAuthAPIHandler(d.AuthService, d.Logger)
}

// Start runs the resolver's initialization protocol
func (d *Dependencies) Start(ctx context.Context) error {
	return d.Resolver.Start(ctx)
}

func (d *Dependencies) closeDB() error {
	if d.DB == nil {
		return nil
	}
	err := d.DB.Close()
	d.DB = nil
	return err
}

// Close gracefully shuts down all dependencies
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	if d.Resolver != nil {
		d.Resolver.Close()
	}

	if err := d.closeDB(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close database: %w", err))
	} else {
		d.Logger.Debug("database connection closed")
	}

	_ = d.Logger.Sync()

	return errors.Join(errs...)
}
