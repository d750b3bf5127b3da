package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	stdhttp "net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/agora-works/agora/internal/adapter/inbound/http"
	"github.com/agora-works/agora/internal/adapter/outbound/cel"
	"github.com/agora-works/agora/internal/adapter/outbound/memory"
	"github.com/agora-works/agora/internal/adapter/outbound/sqlite"
	"github.com/agora-works/agora/internal/config"
	"github.com/agora-works/agora/internal/domain/action"
	"github.com/agora-works/agora/internal/domain/change"
	"github.com/agora-works/agora/internal/domain/community"
	"github.com/agora-works/agora/internal/domain/condition"
	"github.com/agora-works/agora/internal/domain/container"
	"github.com/agora-works/agora/internal/domain/entity"
	"github.com/agora-works/agora/internal/domain/permission"
	"github.com/agora-works/agora/internal/service"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the governance server",
	Long: `Start the Agora governance server.

The server exposes the action pipeline over HTTP: actions are submitted,
resolved against the three authority tiers, and either applied, suspended
on conditions, or rejected.

Examples:
  # Start with config file settings
  agora serve

  # Start with a specific config file
  agora --config /path/to/agora.yaml serve

  # Start in development mode (memory store, debug logging)
  agora serve --dev`,
	RunE: runServe,
}

var devMode bool

func init() {
	serveCmd.Flags().BoolVar(&devMode, "dev", false, "Enable development mode (verbose logging)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	// Load configuration (without validation, so CLI flags can override first)
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if devMode {
		cfg.DevMode = true
	}
	cfg.SetDevDefaults()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	// Signal context for graceful shutdown. stop() restores default signal
	// handling so a second Ctrl+C does a hard kill.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	go func() {
		<-ctx.Done()
		stop()
	}()

	logLevel := parseLogLevel(cfg.Server.LogLevel)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
	logger.Debug("log level configured", "level", cfg.Server.LogLevel, "effective", logLevel.String())

	if configFile := config.ConfigFileUsed(); configFile != "" {
		logger.Info("loaded config", "file", configFile)
	}

	if err := run(ctx, cfg, logger); err != nil {
		return err
	}
	logger.Info("agora stopped")
	return nil
}

// run wires the engine together and serves HTTP until the context is
// canceled.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	shutdownTracing, err := initTracing(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to init tracing: %w", err)
	}
	defer shutdownTracing()

	changes := change.DefaultRegistry()
	conditionTypes := condition.Default()

	st, closeStore, err := openStores(cfg, changes, conditionTypes, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	directory := memory.NewActorDirectory()
	evaluator, err := cel.NewEvaluator()
	if err != nil {
		return fmt.Errorf("failed to create predicate evaluator: %w", err)
	}

	registry := prometheus.NewRegistry()
	metrics := service.NewMetrics(registry)

	env := change.Env{
		Resources:      st.resources,
		Communities:    st.communities,
		Permissions:    st.permissions,
		Conditions:     st.conditions,
		ConditionTypes: conditionTypes,
		NewID:          uuid.NewString,
		Now:            func() time.Time { return time.Now().UTC() },
	}

	graph := service.NewEntityGraph(st.resources, st.communities, st.permissions, st.conditions)
	roles := service.NewRoleService(st.communities, evaluator, directory, logger)
	conditions := service.NewConditionService(st.conditions, st.permissions, conditionTypes, env.NewID, env.Now, logger)
	resolver := service.NewResolver(st.communities, st.permissions, roles, conditions, changes, metrics, logger)
	ledger := service.NewLedger(st.actions, graph, resolver, env, metrics, logger)
	containers := service.NewContainerService(st.containers, st.actions, ledger, graph, env, metrics, logger)
	engine := service.NewEngine(ledger, containers, st.conditions, changes, logger)

	if cfg.Seed != "" {
		seed, err := config.LoadSeed(cfg.Seed)
		if err != nil {
			return err
		}
		if err := applySeed(ctx, seed, st, directory, evaluator, conditionTypes, graph, env.Now); err != nil {
			return fmt.Errorf("failed to apply seed: %w", err)
		}
		logger.Info("seed applied",
			"file", cfg.Seed,
			"actors", len(seed.Actors),
			"communities", len(seed.Communities),
			"resources", len(seed.Resources),
			"permissions", len(seed.Permissions),
		)
	}

	api := http.NewAPIHandler(engine, logger)
	srv := &stdhttp.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           api.Handler(registry),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", cfg.Server.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	timeout, err := time.ParseDuration(cfg.Server.ShutdownTimeout)
	if err != nil {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	logger.Info("shutting down", "timeout", timeout.String())
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	return nil
}

// stores bundles the six persistence interfaces the engine needs.
type stores struct {
	resources   entity.ResourceStore
	communities community.Store
	permissions permission.Store
	conditions  condition.Store
	actions     action.Store
	containers  container.Store
}

// openStores builds the persistence layer for the configured backend. The
// returned close function releases the backend's resources.
func openStores(cfg *config.Config, changes *change.Registry, conditionTypes *condition.Registry, logger *slog.Logger) (stores, func(), error) {
	switch cfg.Store.Backend {
	case "sqlite":
		db, err := sqlite.Open(cfg.Store.SQLitePath, changes, conditionTypes)
		if err != nil {
			return stores{}, nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		logger.Info("store backend: sqlite", "path", cfg.Store.SQLitePath)
		return stores{
			resources:   db,
			communities: db,
			permissions: db,
			conditions:  db,
			actions:     db,
			containers:  db,
		}, func() { _ = db.Close() }, nil
	default:
		logger.Info("store backend: memory")
		return stores{
			resources:   memory.NewResourceStore(),
			communities: memory.NewCommunityStore(),
			permissions: memory.NewPermissionStore(),
			conditions:  memory.NewConditionStore(),
			actions:     memory.NewActionStore(),
			containers:  memory.NewContainerStore(),
		}, func() {}, nil
	}
}

// initTracing sets up the global tracer provider. When tracing is disabled
// a no-op shutdown is returned and spans stay unexported.
func initTracing(ctx context.Context, cfg *config.Config, logger *slog.Logger) (func(), error) {
	if !cfg.Tracing.Enabled {
		return func() {}, nil
	}

	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName("agora"),
			semconv.ServiceVersion(Version),
		),
	)
	if err != nil {
		return nil, err
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	logger.Info("tracing enabled", "exporter", cfg.Tracing.Exporter)

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown tracer provider", "error", err)
		}
	}, nil
}

// applySeed writes the seed file's entities directly into the stores. This
// runs before the server accepts requests, so it bypasses resolution: the
// seed is the operator's statement of the initial governance state.
func applySeed(
	ctx context.Context,
	seed *config.Seed,
	st stores,
	directory *memory.ActorDirectory,
	evaluator *cel.Evaluator,
	conditionTypes *condition.Registry,
	graph *service.EntityGraph,
	now func() time.Time,
) error {
	for _, a := range seed.Actors {
		directory.SetAttributes(a.ID, a.Attributes)
	}

	for _, sc := range seed.Communities {
		com := community.New(sc.ID, sc.Name, sc.Creator, now())
		com.Foundational = sc.Foundational
		com.Governing = sc.CommunityGoverning()

		for role, members := range sc.Assigned {
			if role != community.ReservedMemberRole {
				if err := com.Roles.AddRole(role); err != nil {
					return fmt.Errorf("community %q: %w", sc.ID, err)
				}
			}
			if err := com.Roles.AddMembers(role, members...); err != nil {
				return fmt.Errorf("community %q: %w", sc.ID, err)
			}
		}
		for role, expr := range sc.Automated {
			if err := evaluator.ValidateExpression(expr); err != nil {
				return fmt.Errorf("community %q role %q: %w", sc.ID, role, err)
			}
			if err := com.Roles.AddAutomatedRole(role, expr); err != nil {
				return fmt.Errorf("community %q: %w", sc.ID, err)
			}
		}

		if lead, ok := seedLeadership(sc.Owners); ok {
			com.Authority.Owners = lead
		}
		if lead, ok := seedLeadership(sc.Governors); ok {
			com.Authority.Governors = lead
		}
		for _, tmpl := range []*condition.Template{com.Authority.Owners.Condition, com.Authority.Governors.Condition} {
			if err := conditionTypes.ValidateTemplate(tmpl); err != nil {
				return fmt.Errorf("community %q: %w", sc.ID, err)
			}
		}

		if err := st.communities.SaveCommunity(ctx, com); err != nil {
			return err
		}
	}

	for _, sr := range seed.Resources {
		res := &entity.Resource{
			ID:           sr.ID,
			Name:         sr.Name,
			Creator:      sr.Creator,
			Community:    sr.Community,
			CreatedAt:    now(),
			Foundational: sr.Foundational,
			Governing:    sr.ResourceGoverning(),
		}
		for _, item := range sr.Items {
			if err := res.AddItem(entity.Item{ID: item.ID, Name: item.Name, Creator: item.Creator}); err != nil {
				return fmt.Errorf("resource %q: %w", sr.ID, err)
			}
		}
		if err := st.resources.SaveResource(ctx, res); err != nil {
			return err
		}
	}

	for _, sp := range seed.Permissions {
		target, err := entity.ParseRef(sp.Target)
		if err != nil {
			return fmt.Errorf("permission %q: %w", sp.ID, err)
		}
		ent, err := graph.Resolve(ctx, target)
		if err != nil {
			return fmt.Errorf("permission %q: resolving target: %w", sp.ID, err)
		}
		if err := conditionTypes.ValidateTemplate(sp.Condition); err != nil {
			return fmt.Errorf("permission %q: %w", sp.ID, err)
		}

		rec := &permission.Record{
			ID:            sp.ID,
			Target:        target,
			ChangeType:    sp.ChangeType,
			Actors:        entity.NewActorSet(sp.Actors...),
			Roles:         entity.NewRolePairList(sp.Roles...),
			Anyone:        sp.Anyone,
			Inverse:       sp.Inverse,
			Configuration: sp.Configuration,
			Condition:     sp.Condition,
			Foundational:  sp.Foundational,
			Community:     ent.OwnerCommunity(),
			CreatedAt:     now(),
			SelfGoverning: true,
		}
		if err := st.permissions.SavePermission(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

// seedLeadership converts a seed leadership block. The second return is
// false when the block names nobody, so the creator default stands.
func seedLeadership(sl config.SeedLeadership) (community.Leadership, bool) {
	if len(sl.Actors) == 0 && len(sl.Roles) == 0 && sl.Condition == nil {
		return community.Leadership{}, false
	}
	return community.Leadership{
		Actors:    entity.NewActorSet(sl.Actors...),
		Roles:     entity.NewRolePairList(sl.Roles...),
		Condition: sl.Condition.Clone(),
	}, true
}

// parseLogLevel converts a string log level to slog.Level.
// Returns slog.LevelInfo for unrecognized values.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
