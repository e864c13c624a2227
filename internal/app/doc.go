// Package app composes the relayer: storage, the nonce service, the rate
// limiter, the relayer itself and the reconciliation watcher.
//
// # Package Structure
//
//	internal/app/
//	├── application.go      # Application struct, wiring and lifecycle
//	├── domain/relay/       # Relayed transaction and proposal models
//	├── storage/            # Store interfaces
//	│   ├── memory/         # In-memory implementation for tests and dev
//	│   └── postgres/       # PostgreSQL implementation (sqlx)
//	├── services/
//	│   ├── nonce/          # Intent nonce issue and consume
//	│   ├── relayer/        # Signed intent → on-chain transaction
//	│   └── reconciler/     # SUBMITTED → CONFIRMED | FAILED watcher
//	├── httpapi/            # gorilla/mux routes and handlers
//	├── runtime/            # Process wiring from config
//	├── system/             # Lifecycle manager and cron scheduler
//	└── metrics/            # Prometheus collectors
//
// # Dependency Direction
//
//	cmd/relayer/
//	      │
//	      ▼
//	internal/app/runtime ──► internal/app (composition)
//	                               │
//	                               ├──► internal/app/services/*
//	                               ├──► internal/chain, internal/ratelimit
//	                               └──► internal/app/storage/*
package app
