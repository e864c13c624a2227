// Command relayer runs the gasless execution relayer and its maintenance
// tasks.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/josejordan20222-create/Wallet-Human-ID-POLYMARKET-sub002/internal/app/runtime"
	"github.com/josejordan20222-create/Wallet-Human-ID-POLYMARKET-sub002/internal/config"
	"github.com/josejordan20222-create/Wallet-Human-ID-POLYMARKET-sub002/internal/logging"
	"github.com/josejordan20222-create/Wallet-Human-ID-POLYMARKET-sub002/internal/platform/migrations"
	"github.com/josejordan20222-create/Wallet-Human-ID-POLYMARKET-sub002/pkg/intent"
)

// Set via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	// a missing .env is normal outside local development
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgPath string

	root := &cobra.Command{
		Use:           "relayer",
		Short:         "Gasless EIP-712 execution relayer",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "config file (default config/relayer.yaml)")

	loadConfig := func() (*config.Config, *logging.Logger, error) {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return nil, nil, err
		}
		return cfg, logging.New("relayer", cfg.Logging), nil
	}

	root.AddCommand(
		newServeCmd(loadConfig),
		newMigrateCmd(loadConfig),
		newSweepCmd(loadConfig),
		newSignCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Print the build version",
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintln(cmd.OutOrStdout(), version)
			},
		},
	)
	return root
}

type configLoader func() (*config.Config, *logging.Logger, error)

func newServeCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and background jobs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			application, err := runtime.NewApplication(ctx, cfg, log)
			if err != nil {
				return err
			}
			runErr := application.Run(ctx)

			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout+5*time.Second)
			defer cancel()
			if err := application.Shutdown(shutdownCtx); err != nil {
				log.WithError(err).Error("shutdown")
			}
			log.Info("relayer stopped")
			return runErr
		},
	}
}

func newMigrateCmd(load configLoader) *cobra.Command {
	migrate := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}

	migrate.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := load()
			if err != nil {
				return err
			}
			db, err := runtime.OpenDatabase(cmd.Context(), cfg.Database)
			if err != nil {
				return err
			}
			defer db.Close()
			if err := migrations.Up(db.DB); err != nil {
				return err
			}
			log.Info("migrations applied")
			return nil
		},
	})

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := load()
			if err != nil {
				return err
			}
			db, err := runtime.OpenDatabase(cmd.Context(), cfg.Database)
			if err != nil {
				return err
			}
			defer db.Close()
			if err := migrations.Down(db.DB, steps); err != nil {
				return err
			}
			log.WithField("steps", steps).Info("migrations rolled back")
			return nil
		},
	}
	down.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back (0 for all)")
	migrate.AddCommand(down)

	migrate.AddCommand(&cobra.Command{
		Use:   "versions",
		Short: "List embedded migration versions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			versions, err := migrations.Versions()
			if err != nil {
				return err
			}
			for _, v := range versions {
				fmt.Fprintln(cmd.OutOrStdout(), v)
			}
			return nil
		},
	})
	return migrate
}

func newSweepCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one reconciliation pass over submitted transactions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := load()
			if err != nil {
				return err
			}
			cfg.Watcher.Enabled = false

			application, err := runtime.NewApplication(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer application.Shutdown(context.Background())

			watcher, err := application.App().WatcherService()
			if err != nil {
				return err
			}
			summary, err := watcher.Run(cmd.Context())
			if err != nil {
				return err
			}
			return writeJSON(cmd, summary)
		},
	}
}

type signOptions struct {
	key      string
	proposal string
	contract string
	chainID  int64
	nonce    uint64
	ttl      time.Duration
	domain   string
	version  string
}

func newSignCmd() *cobra.Command {
	var opts signOptions
	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Sign an execution intent and print the relay request body",
		RunE: func(cmd *cobra.Command, _ []string) error {
			body, err := signIntent(opts, time.Now())
			if err != nil {
				return err
			}
			return writeJSON(cmd, body)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.key, "key", os.Getenv("EXECUTOR_PRIVATE_KEY"), "executor private key (hex)")
	f.StringVar(&opts.proposal, "proposal", "", "proposal id (hex)")
	f.StringVar(&opts.contract, "contract", os.Getenv("CONTRACT_ADDRESS"), "verifying contract address")
	f.Int64Var(&opts.chainID, "chain-id", 0, "chain id of the signing domain")
	f.Uint64Var(&opts.nonce, "nonce", 0, "executor nonce")
	f.DurationVar(&opts.ttl, "ttl", 10*time.Minute, "intent lifetime")
	f.StringVar(&opts.domain, "domain-name", intent.DefaultDomainName, "EIP-712 domain name")
	f.StringVar(&opts.version, "domain-version", intent.DefaultDomainVersion, "EIP-712 domain version")
	_ = cmd.MarkFlagRequired("proposal")
	_ = cmd.MarkFlagRequired("chain-id")
	return cmd
}

// relayBody mirrors the JSON accepted by POST /api/relay/execute.
type relayBody struct {
	Executor   string `json:"executor"`
	ProposalID string `json:"proposalId"`
	Nonce      uint64 `json:"nonce"`
	Deadline   int64  `json:"deadline"`
	Signature  string `json:"signature"`
}

func signIntent(opts signOptions, now time.Time) (relayBody, error) {
	if opts.key == "" {
		return relayBody{}, fmt.Errorf("--key or EXECUTOR_PRIVATE_KEY is required")
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(opts.key), "0x"))
	if err != nil {
		return relayBody{}, fmt.Errorf("parse key: %w", err)
	}
	if !common.IsHexAddress(opts.contract) {
		return relayBody{}, fmt.Errorf("contract %q is not a hex address", opts.contract)
	}
	if opts.ttl <= 0 {
		return relayBody{}, fmt.Errorf("ttl must be positive")
	}
	pid, err := intent.ParseProposalID(opts.proposal)
	if err != nil {
		return relayBody{}, err
	}

	domain := intent.NewDomain(big.NewInt(opts.chainID), common.HexToAddress(opts.contract))
	domain.Name = opts.domain
	domain.Version = opts.version

	in := intent.ExecutionIntent{
		Executor:   crypto.PubkeyToAddress(key.PublicKey),
		ProposalID: pid,
		Nonce:      opts.nonce,
		Deadline:   now.Add(opts.ttl).Unix(),
	}
	sig, err := intent.Sign(domain, in, key)
	if err != nil {
		return relayBody{}, err
	}
	return relayBody{
		Executor:   in.Executor.Hex(),
		ProposalID: pid.Hex(),
		Nonce:      in.Nonce,
		Deadline:   in.Deadline,
		Signature:  hexutil.Encode(sig),
	}, nil
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
