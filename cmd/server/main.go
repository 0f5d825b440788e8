// Agentic Commerce Checkout Server - a stateful HTTP checkout-session
// service plus a delegated-payment vault endpoint. Designed to run as a
// single stateless-ish process per the default in-memory store backend;
// store_backend=redis is reserved for a future out-of-process deployment.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/agentic-commerce/checkout-server/internal/apiversion"
	"github.com/agentic-commerce/checkout-server/internal/collaborator"
	"github.com/agentic-commerce/checkout-server/internal/config"
	"github.com/agentic-commerce/checkout-server/internal/httpapi"
	"github.com/agentic-commerce/checkout-server/internal/idempotency"
	"github.com/agentic-commerce/checkout-server/internal/idgen"
	"github.com/agentic-commerce/checkout-server/internal/middleware"
	"github.com/agentic-commerce/checkout-server/internal/orchestrator"
	"github.com/agentic-commerce/checkout-server/internal/outbox"
	"github.com/agentic-commerce/checkout-server/internal/pricing"
	"github.com/agentic-commerce/checkout-server/internal/resilience"
	"github.com/agentic-commerce/checkout-server/internal/sessionstore"
	"github.com/agentic-commerce/checkout-server/internal/vault"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	logger := initLogger()

	ctx := context.Background()
	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger.Info("configuration loaded",
		slog.String("environment", cfg.Environment),
		slog.String("api_version", cfg.APIVersion),
		slog.String("store_backend", string(cfg.StoreBackend)),
		slog.Int("api_keys", len(cfg.APIKeys)),
	)

	gen := idgen.New()
	sessions := sessionstore.New(sessionstore.WithTTL(time.Duration(cfg.SessionTTLSeconds) * time.Second))
	vaultStore := vault.New()
	idempotencyStore := idempotency.New(idempotency.WithTTL(time.Duration(cfg.IdempotencyTTLSeconds) * time.Second))
	defer sessions.Close()
	defer idempotencyStore.Close()

	catalog, tax, shipping, inventory, psp := wireCollaborators(cfg, gen)
	engine := &pricing.Engine{Catalog: catalog, Tax: tax, Shipping: shipping}

	compensationQueue := outbox.New(newCompensationHandler(inventory, logger), outbox.WithLogger(logger))
	defer compensationQueue.Close()

	orch := &orchestrator.Orchestrator{
		Sessions:        sessions,
		Vault:           vaultStore,
		Pricing:         engine,
		Inventory:       inventory,
		PSP:             psp,
		IDGen:           gen,
		Outbox:          compensationQueue,
		Logger:          logger,
		DefaultCurrency: cfg.DefaultCurrency,
		PermalinkBase:   permalinkBase(cfg),
	}

	api := httpapi.New(orch, compensationQueue, logger, nil)
	mux := http.NewServeMux()
	api.RegisterRoutes(mux)

	strictness := apiversion.Warn
	if cfg.APIVersionStrictness == "reject" {
		strictness = apiversion.Reject
	}

	httpHandler := middleware.Chain(
		middleware.Recovery(logger),
		middleware.RequestID(gen),
		middleware.Logging(logger),
		middleware.RateLimit(cfg.RateLimitRPM, cfg.RateLimitBurst),
		middleware.Auth(cfg.APIKeys),
		middleware.Signature(cfg.SignatureSecret, cfg.SignatureVendor, time.Duration(cfg.SignatureToleranceSeconds)*time.Second),
		middleware.APIVersionCheck(cfg.APIVersion, strictness),
		middleware.Idempotency(idempotencyStore, httpapi.IdempotencyScope, 5*time.Second),
	)(mux)

	server := &http.Server{
		Addr:         cfg.BindHost + ":" + cfg.BindPort,
		Handler:      httpHandler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
	serverErr := make(chan error, 1)

	go func() {
		logger.Info("server starting", slog.String("addr", server.Addr))
		serverErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serverErr:
		if err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
	case sig := <-shutdown:
		logger.Info("shutdown signal received", slog.String("signal", sig.String()))
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			server.Close()
			return fmt.Errorf("shutdown error: %w", err)
		}
	}

	logger.Info("server stopped")
	return nil
}

// permalinkBase derives the order permalink host from the GCP project when
// running in production, falling back to a placeholder for local/dev runs
// where no project is configured.
func permalinkBase(cfg *config.Config) string {
	if cfg.GCPProject == "" {
		return "https://checkout.example"
	}
	return fmt.Sprintf("https://checkout.%s.example.com", cfg.GCPProject)
}

// wireCollaborators selects the in-memory reference collaborators for the
// memory store backend (the only backend shipped here; a real deployment
// is expected to swap in HTTP-backed clients satisfying the same
// interfaces, per §6.3). Inventory and PSP are wrapped in retry-with-
// backoff and a circuit breaker; Catalog/Tax/Shipping calls happen inside
// the pricing engine's single synchronous pass and are not retried
// separately, since a failed pricing pass already fails the whole request.
func wireCollaborators(cfg *config.Config, gen *idgen.Generator) (collaborator.Catalog, collaborator.Tax, collaborator.Shipping, collaborator.Inventory, collaborator.PSP) {
	catalog := collaborator.NewMemoryCatalog()
	tax := &collaborator.MemoryTax{}
	shipping := &collaborator.MemoryShipping{StandardSubtotal: 500, ExpressSubtotal: 1500}
	inventory := resilience.NewResilientInventory(collaborator.NewMemoryInventory(catalog, gen))
	psp := resilience.NewResilientPSP(collaborator.NewMemoryPSP(gen))
	return catalog, tax, shipping, inventory, psp
}

// newCompensationHandler drains the outbox (§9): a failed completion
// enqueues a release-inventory or void-payment entry rather than retrying
// inline, and this handler is what the background worker calls to
// eventually make that compensation happen.
func newCompensationHandler(inventory collaborator.Inventory, logger *slog.Logger) outbox.Handler {
	return func(ctx context.Context, e outbox.Entry) error {
		switch e.Action {
		case outbox.ActionReleaseInventory:
			return inventory.Release(ctx, e.TargetID)
		case outbox.ActionVoidPayment:
			logger.Warn("void_payment compensation has no PSP client wired; dropping",
				slog.String("target_id", e.TargetID), slog.String("session_id", e.SessionID))
			return nil
		default:
			return fmt.Errorf("unknown compensation action %q", e.Action)
		}
	}
}

// initLogger creates a structured logger: JSON for production (Cloud
// Logging compatible), text for development, mirroring the teacher's
// dual-format logger.
func initLogger() *slog.Logger {
	level := slog.LevelInfo
	if os.Getenv("LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level, AddSource: level == slog.LevelDebug}
	if os.Getenv("ENVIRONMENT") == "production" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
