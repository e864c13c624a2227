// Package runtime wires configuration, storage, the chain connection and the
// HTTP server into a runnable relayer process.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	app "github.com/josejordan20222-create/Wallet-Human-ID-POLYMARKET-sub002/internal/app"
	"github.com/josejordan20222-create/Wallet-Human-ID-POLYMARKET-sub002/internal/app/httpapi"
	"github.com/josejordan20222-create/Wallet-Human-ID-POLYMARKET-sub002/internal/app/metrics"
	"github.com/josejordan20222-create/Wallet-Human-ID-POLYMARKET-sub002/internal/app/services/relayer"
	"github.com/josejordan20222-create/Wallet-Human-ID-POLYMARKET-sub002/internal/app/storage"
	"github.com/josejordan20222-create/Wallet-Human-ID-POLYMARKET-sub002/internal/app/storage/memory"
	"github.com/josejordan20222-create/Wallet-Human-ID-POLYMARKET-sub002/internal/app/storage/postgres"
	"github.com/josejordan20222-create/Wallet-Human-ID-POLYMARKET-sub002/internal/chain"
	"github.com/josejordan20222-create/Wallet-Human-ID-POLYMARKET-sub002/internal/config"
	"github.com/josejordan20222-create/Wallet-Human-ID-POLYMARKET-sub002/internal/logging"
	"github.com/josejordan20222-create/Wallet-Human-ID-POLYMARKET-sub002/internal/middleware"
	"github.com/josejordan20222-create/Wallet-Human-ID-POLYMARKET-sub002/internal/platform/migrations"
	"github.com/josejordan20222-create/Wallet-Human-ID-POLYMARKET-sub002/internal/ratelimit"
	"github.com/josejordan20222-create/Wallet-Human-ID-POLYMARKET-sub002/pkg/intent"
)

// throttleIdle is how long a read-throttle bucket may sit unused before the
// cleanup job drops it.
const throttleIdle = 10 * time.Minute

// Application wires core dependencies and manages the HTTP server lifecycle.
type Application struct {
	cfg    *config.Config
	log    *logging.Logger
	app    *app.Application
	server *http.Server

	db    *sqlx.DB
	redis *redis.Client
	eth   *ethclient.Client

	mu       sync.Mutex
	listener net.Listener
}

// NewApplication builds the process from cfg. Missing chain settings leave
// the relay endpoints answering with a configuration error rather than
// failing startup; an empty DSN falls back to the in-memory store.
func NewApplication(ctx context.Context, cfg *config.Config, log *logging.Logger) (*Application, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if log == nil {
		log = logging.New("relayer", cfg.Logging)
	}
	if err := cfg.Validate(); err != nil {
		log.WithError(err).Warn("configuration incomplete; continuing with reduced functionality")
	}

	a := &Application{cfg: cfg, log: log}
	ok := false
	defer func() {
		if !ok {
			a.closeResources()
		}
	}()

	store, err := a.buildStore(ctx)
	if err != nil {
		return nil, fmt.Errorf("configure store: %w", err)
	}

	ipCounter, err := a.buildIPCounter(ctx)
	if err != nil {
		return nil, fmt.Errorf("configure rate limiter: %w", err)
	}

	var ch *app.Chain
	if cfg.Chain.Complete() {
		client, err := chain.Dial(ctx, chain.Config{RPCURL: cfg.Chain.RPCURL, ChainID: cfg.Chain.ChainID})
		if err != nil {
			return nil, fmt.Errorf("connect chain: %w", err)
		}
		a.eth = client
		if ch, err = BuildChain(ctx, client, cfg.Chain); err != nil {
			return nil, err
		}
		log.WithField("relayer", ch.Signer.Address().Hex()).
			WithField("contract", ch.Contract.Address().Hex()).
			WithField("chain_id", ch.Domain.ChainID.String()).
			Info("chain configured")
	}

	minBalance, err := cfg.Chain.MinBalance()
	if err != nil {
		return nil, err
	}
	watcherSchedule := ""
	if cfg.Watcher.Enabled {
		watcherSchedule = cfg.Watcher.Schedule
	}

	m := metrics.New()
	application, err := app.New(store, ch, app.Options{
		Relayer: relayer.Config{
			GasLimit:       cfg.Chain.GasLimit,
			MinBalance:     minBalance,
			ConfirmTimeout: cfg.Chain.ConfirmTimeout,
			PollInterval:   cfg.Chain.ConfirmPollInterval,
		},
		RateLimit: ratelimit.Config{
			ActorLimit:  cfg.RateLimit.ActorLimit,
			ActorWindow: cfg.RateLimit.ActorWindow,
			IPLimit:     cfg.RateLimit.IPLimit,
			IPWindow:    cfg.RateLimit.IPWindow,
			FailOpen:    cfg.RateLimit.FailOpen,
		},
		IPCounter:       ipCounter,
		WatcherBatch:    cfg.Watcher.BatchSize,
		WatcherSchedule: watcherSchedule,
		SweepSchedule:   cfg.RateLimit.SweepSchedule,
		Metrics:         m,
	}, log)
	if err != nil {
		return nil, err
	}
	a.app = application

	var throttle *middleware.RateLimiter
	if cfg.Server.ReadRPS > 0 {
		throttle = middleware.NewRateLimiter(cfg.Server.ReadRPS, cfg.Server.ReadBurst, log).WithMetrics(m)
		if err := application.Schedule("@every 5m", "read-throttle-cleanup", func(ctx context.Context) error {
			if n := throttle.Cleanup(throttleIdle); n > 0 {
				log.WithContext(ctx).WithField("evicted", n).Debug("idle read throttles evicted")
			}
			return nil
		}); err != nil {
			return nil, err
		}
	}

	handler := httpapi.NewHandler(application, httpapi.Options{
		WatcherToken:   cfg.Watcher.AuthToken,
		ReadThrottle:   throttle,
		AllowedOrigins: cfg.Server.CORSOrigins,
	}, log)

	a.server = &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	ok = true
	return a, nil
}

// BuildChain assembles the signer, contract binding and signing domain
// against an already connected backend. A zero chain ID is read from the
// backend.
func BuildChain(ctx context.Context, backend chain.Backend, cfg config.ChainConfig) (*app.Chain, error) {
	if !common.IsHexAddress(cfg.ContractAddress) {
		return nil, fmt.Errorf("contract address %q is not a hex address", cfg.ContractAddress)
	}
	chainID := big.NewInt(cfg.ChainID)
	if cfg.ChainID == 0 {
		id, err := backend.ChainID(ctx)
		if err != nil {
			return nil, fmt.Errorf("query chain id: %w", err)
		}
		chainID = id
	}

	signer, err := chain.NewSigner(cfg.RelayerPrivateKey, chainID)
	if err != nil {
		return nil, fmt.Errorf("load relayer key: %w", err)
	}
	contract, err := chain.NewExecutorContract(common.HexToAddress(cfg.ContractAddress))
	if err != nil {
		return nil, err
	}

	domain := intent.NewDomain(chainID, contract.Address())
	if cfg.DomainName != "" {
		domain.Name = cfg.DomainName
	}
	if cfg.DomainVersion != "" {
		domain.Version = cfg.DomainVersion
	}
	return &app.Chain{Backend: backend, Signer: signer, Contract: contract, Domain: domain}, nil
}

// OpenDatabase opens and pings the configured database.
func OpenDatabase(ctx context.Context, cfg config.DatabaseConfig) (*sqlx.DB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database dsn not configured")
	}
	driver := cfg.Driver
	if driver == "" {
		driver = "postgres"
	}

	db, err := sqlx.Open(driver, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Second)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func (a *Application) buildStore(ctx context.Context) (storage.Store, error) {
	if a.cfg.Database.DSN == "" {
		a.log.Warn("no database configured; using in-memory store")
		return memory.New(), nil
	}
	db, err := OpenDatabase(ctx, a.cfg.Database)
	if err != nil {
		return nil, err
	}
	a.db = db
	if a.cfg.Database.AutoMigrate {
		if err := migrations.Up(db.DB); err != nil {
			return nil, err
		}
		a.log.Info("database migrations applied")
	}
	return postgres.New(db), nil
}

func (a *Application) buildIPCounter(ctx context.Context) (ratelimit.IPCounter, error) {
	if strings.TrimSpace(a.cfg.Redis.Addr) == "" {
		return ratelimit.NewMemoryCounter(), nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     a.cfg.Redis.Addr,
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
	})
	a.redis = client

	counter := ratelimit.NewRedisCounter(client, a.cfg.Redis.KeyPrefix)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := counter.Ping(pingCtx); err != nil {
		if !a.cfg.RateLimit.FailOpen {
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		a.log.WithError(err).Warn("redis unreachable at startup; rate limiter will fail open")
	}
	return counter, nil
}

// App exposes the composed services.
func (a *Application) App() *app.Application {
	return a.app
}

// Addr returns the bound listener address once Run has started.
func (a *Application) Addr() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listener == nil {
		return ""
	}
	return a.listener.Addr().String()
}

// Run starts background jobs and the HTTP server and blocks until ctx is
// cancelled or the server fails.
func (a *Application) Run(ctx context.Context) error {
	if err := a.app.Start(ctx); err != nil {
		return fmt.Errorf("start services: %w", err)
	}

	ln, err := net.Listen("tcp", a.server.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", a.server.Addr, err)
	}
	a.mu.Lock()
	a.listener = ln
	a.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		a.log.WithField("addr", ln.Addr().String()).Info("HTTP server listening")
		if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Shutdown gracefully stops the HTTP server, the background jobs and the
// external connections.
func (a *Application) Shutdown(ctx context.Context) error {
	timeout := a.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var errs []error
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http server: %w", err))
	}
	if err := a.app.Stop(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("services: %w", err))
	}
	a.closeResources()
	return errors.Join(errs...)
}

func (a *Application) closeResources() {
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.WithError(err).Warn("error closing database connection")
		}
		a.db = nil
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.WithError(err).Warn("error closing redis client")
		}
		a.redis = nil
	}
	if a.eth != nil {
		a.eth.Close()
		a.eth = nil
	}
}
