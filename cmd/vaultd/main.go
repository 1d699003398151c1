// Command vaultd runs a single vault engine against a local simulated chain
// environment: a deterministic scheduler, a staking pool set, and a fungible
// token ledger. State persists across restarts through LevelDB. The HTTP API
// mirrors the contract surface one method per route.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"sudovault/config"
	"sudovault/core/events"
	"sudovault/core/state"
	"sudovault/core/types"
	"sudovault/native/staking"
	"sudovault/native/token"
	"sudovault/native/vault"
	"sudovault/observability/logging"
	"sudovault/observability/metrics"
	"sudovault/runtime"
	"sudovault/storage"
)

func main() {
	configPath := flag.String("config", "vaultd.toml", "path to the daemon configuration")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	logger := logging.Setup(logging.Options{
		Service: "vaultd",
		Env:     cfg.Env,
		File:    cfg.LogFile,
	})

	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "vault"))
	if err != nil {
		logger.Error("open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	engine, sched, err := buildEngine(cfg, db, logger)
	if err != nil {
		logger.Error("initialize engine", "error", err)
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           newRouter(cfg, engine, sched, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}
	metricsSrv := &http.Server{
		Addr:              cfg.MetricsAddress,
		Handler:           promhttp.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("metrics listening", "address", cfg.MetricsAddress)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", "error", err)
		}
	}()
	go func() {
		logger.Info("api listening", "address", cfg.ListenAddress, "vault", cfg.VaultAccount)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
	_ = metricsSrv.Shutdown(ctx)
	logger.Info("shutdown complete")
}

// buildEngine assembles the scheduler, hosts, persistence, and the engine
// itself, restoring prior vault state when present.
func buildEngine(cfg *config.Config, db storage.Database, logger *slog.Logger) (*vault.Engine, *runtime.Scheduler, error) {
	sched := runtime.NewScheduler()
	sched.SetNow(uint64(time.Now().UnixNano()))

	manager := state.NewManager(db)
	v, found, err := manager.Load()
	if err != nil {
		return nil, nil, err
	}
	fresh := !found
	if fresh {
		v = vault.NewVault(types.AccountID(cfg.OwnerAccount), cfg.VaultIndex, cfg.VaultVersion)
	}

	engine := vault.NewEngine(types.AccountID(cfg.VaultAccount), v, sched)
	engine.SetPersister(manager)
	engine.SetEmitter(events.NewLogEmitter(logger))
	engine.SetMetrics(metrics.Vault())
	if fresh {
		// The factory hand-off covers the storage reservation.
		sched.Credit(engine.Self(), engine.StorageCost())
		engine.EmitCreated()
	}
	return engine, sched, nil
}

// env wires the simulated chain hosts reachable from the API.
type env struct {
	engine *vault.Engine
	sched  *runtime.Scheduler
	pools  map[types.AccountID]*staking.Pool
	tokens map[types.AccountID]*token.Ledger
	logger *slog.Logger
}

func newRouter(cfg *config.Config, engine *vault.Engine, sched *runtime.Scheduler, logger *slog.Logger) http.Handler {
	e := &env{
		engine: engine,
		sched:  sched,
		pools:  make(map[types.AccountID]*staking.Pool),
		tokens: make(map[types.AccountID]*token.Ledger),
		logger: logger,
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(requestID)
	r.Use(requestLogger(logger))
	r.Use(chimiddleware.Recoverer)
	if cfg.RateLimitRPS > 0 {
		r.Use(rateLimit(rate.Limit(cfg.RateLimitRPS), int(cfg.RateLimitRPS)))
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Route("/v1", func(r chi.Router) {
		r.Get("/vault", e.handleView)
		r.Post("/chain/advance", e.handleAdvance)
		r.Post("/chain/pools", e.handleAddPool)
		r.Post("/chain/tokens", e.handleAddToken)
		r.Post("/chain/fund", e.handleFund)

		r.Post("/vault/delegate", e.handleDelegate)
		r.Post("/vault/undelegate", e.handleUndelegate)
		r.Post("/vault/claim-unstaked", e.handleClaimUnstaked)
		r.Post("/vault/request-liquidity", e.handleRequestLiquidity)
		r.Post("/vault/cancel-liquidity-request", e.handleCancelLiquidityRequest)
		r.Post("/vault/accept-counter-offer", e.handleAcceptCounterOffer)
		r.Post("/vault/cancel-counter-offer", e.handleCancelCounterOffer)
		r.Post("/vault/repay-loan", e.handleRepayLoan)
		r.Post("/vault/process-claims", e.handleProcessClaims)
		r.Post("/vault/transfer-ownership", e.handleTransferOwnership)
		r.Post("/vault/list-for-takeover", e.handleListForTakeover)
		r.Post("/vault/cancel-takeover", e.handleCancelTakeover)
		r.Post("/vault/claim-vault", e.handleClaimVault)
		r.Post("/vault/withdraw", e.handleWithdraw)
		r.Post("/vault/retry-refunds", e.handleRetryRefunds)
		r.Post("/vault/ft-transfer-call", e.handleFTTransferCall)
	})
	return r
}

const requestIDHeader = "X-Request-Id"

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(withRequestID(r.Context(), id)))
	})
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", requestIDFrom(r.Context()),
			)
		})
	}
}

func rateLimit(limit rate.Limit, burst int) func(http.Handler) http.Handler {
	limiter := rate.NewLimiter(limit, burst)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type requestIDKey struct{}

func withRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

func requestIDFrom(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		return id
	}
	return ""
}
