package app

import (
	"context"
	"fmt"
	"time"

	"github.com/josejordan20222-create/Wallet-Human-ID-POLYMARKET-sub002/internal/app/metrics"
	"github.com/josejordan20222-create/Wallet-Human-ID-POLYMARKET-sub002/internal/app/services/nonce"
	"github.com/josejordan20222-create/Wallet-Human-ID-POLYMARKET-sub002/internal/app/services/reconciler"
	"github.com/josejordan20222-create/Wallet-Human-ID-POLYMARKET-sub002/internal/app/services/relayer"
	"github.com/josejordan20222-create/Wallet-Human-ID-POLYMARKET-sub002/internal/app/storage"
	"github.com/josejordan20222-create/Wallet-Human-ID-POLYMARKET-sub002/internal/app/storage/memory"
	"github.com/josejordan20222-create/Wallet-Human-ID-POLYMARKET-sub002/internal/app/system"
	"github.com/josejordan20222-create/Wallet-Human-ID-POLYMARKET-sub002/internal/chain"
	svcerrors "github.com/josejordan20222-create/Wallet-Human-ID-POLYMARKET-sub002/internal/errors"
	"github.com/josejordan20222-create/Wallet-Human-ID-POLYMARKET-sub002/internal/logging"
	"github.com/josejordan20222-create/Wallet-Human-ID-POLYMARKET-sub002/internal/ratelimit"
	"github.com/josejordan20222-create/Wallet-Human-ID-POLYMARKET-sub002/pkg/intent"
)

// Chain bundles the on-chain collaborators. A nil *Chain leaves the relay and
// watcher endpoints failing with a configuration error.
type Chain struct {
	Backend  chain.Backend
	Signer   *chain.Signer
	Contract *chain.ExecutorContract
	Domain   intent.Domain
}

// Options tunes the composed services.
type Options struct {
	Relayer   relayer.Config
	RateLimit ratelimit.Config
	// IPCounter defaults to a process-local ratelimit.MemoryCounter.
	IPCounter ratelimit.IPCounter

	WatcherBatch    int
	WatcherSchedule string // empty disables the in-process watcher
	SweepSchedule   string
	JobTimeout      time.Duration

	Metrics *metrics.Metrics
}

// Application ties the relay services together and manages background jobs.
type Application struct {
	manager   *system.Manager
	scheduler *system.Scheduler
	log       *logging.Logger
	chainErr  error

	Store   storage.Store
	Nonces  *nonce.Service
	Limiter *ratelimit.Limiter
	Relayer *relayer.Service
	Watcher *reconciler.Service
	Metrics *metrics.Metrics
}

// New builds the application. A nil store defaults to the in-memory
// implementation.
func New(store storage.Store, ch *Chain, opts Options, log *logging.Logger) (*Application, error) {
	if log == nil {
		log = logging.NewDefault("app")
	}
	if store == nil {
		store = memory.New()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	if opts.IPCounter == nil {
		opts.IPCounter = ratelimit.NewMemoryCounter()
	}

	a := &Application{
		manager:   system.NewManager(),
		scheduler: system.NewScheduler("scheduler", opts.JobTimeout, log),
		log:       log,
		Store:     store,
		Metrics:   opts.Metrics,
	}
	a.Nonces = nonce.New(store, log)
	a.Limiter = ratelimit.New(opts.RateLimit, opts.IPCounter, store, log).WithMetrics(opts.Metrics)

	if ch == nil {
		a.chainErr = svcerrors.Configuration("relayer not configured: RPC_URL, CONTRACT_ADDRESS and RELAYER_PRIVATE_KEY are required")
		log.Warn("chain settings missing; relay and watcher endpoints disabled")
	} else {
		rel, err := relayer.New(opts.Relayer, ch.Domain, relayer.Dependencies{
			Backend:  ch.Backend,
			Signer:   ch.Signer,
			Contract: ch.Contract,
			Nonces:   a.Nonces,
			Store:    store,
		}, log)
		if err != nil {
			return nil, fmt.Errorf("build relayer: %w", err)
		}
		a.Relayer = rel.WithMetrics(opts.Metrics)

		watcher, err := reconciler.New(store, ch.Backend, opts.WatcherBatch, log)
		if err != nil {
			return nil, fmt.Errorf("build watcher: %w", err)
		}
		a.Watcher = watcher.WithMetrics(opts.Metrics)
	}

	if opts.WatcherSchedule != "" && a.Watcher != nil {
		if err := a.Schedule(opts.WatcherSchedule, "watcher", func(ctx context.Context) error {
			_, err := a.Watcher.Run(ctx)
			return err
		}); err != nil {
			return nil, err
		}
	}

	if counter, ok := opts.IPCounter.(*ratelimit.MemoryCounter); ok && opts.SweepSchedule != "" {
		if err := a.Schedule(opts.SweepSchedule, "ip-window-sweep", func(ctx context.Context) error {
			if n := counter.Sweep(time.Now()); n > 0 {
				log.WithContext(ctx).WithField("evicted", n).Debug("expired ip windows evicted")
			}
			return nil
		}); err != nil {
			return nil, err
		}
	}

	if err := a.manager.Register(a.scheduler); err != nil {
		return nil, fmt.Errorf("register %s: %w", a.scheduler.Name(), err)
	}
	return a, nil
}

// RelayerService returns the relayer or the configuration error explaining
// why it is unavailable.
func (a *Application) RelayerService() (*relayer.Service, error) {
	if a.Relayer == nil {
		return nil, a.chainErr
	}
	return a.Relayer, nil
}

// WatcherService returns the watcher or a configuration error.
func (a *Application) WatcherService() (*reconciler.Service, error) {
	if a.Watcher == nil {
		return nil, a.chainErr
	}
	return a.Watcher, nil
}

// Schedule adds a background job. Call before Start.
func (a *Application) Schedule(spec, name string, job system.Job) error {
	return a.scheduler.Add(spec, name, job)
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}
