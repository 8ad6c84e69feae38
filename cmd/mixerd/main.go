// main.go - Mixer vault daemon.
//
// Serves the anonymity pools and the staking ledger over REST and
// websocket:
//   - deposits append commitments to per-asset incremental merkle trees
//   - withdrawals verify Groth16 membership proofs and pay recipients
//   - pool fees accrue to season reward pools settled by stake weight
//
// Usage:
//   mixerd setup     compile the withdrawal circuit and generate keys
//   mixerd serve     run the daemon
//   mixerd config    write the default configuration file
//   mixerd version   print build information

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Aintivirus-AI/mixer-v2-contracts/internal/metrics"
	"github.com/Aintivirus-AI/mixer-v2-contracts/internal/mixer"
	"github.com/Aintivirus-AI/mixer-v2-contracts/internal/staking"
	"github.com/Aintivirus-AI/mixer-v2-contracts/internal/store"
	"github.com/Aintivirus-AI/mixer-v2-contracts/internal/vault"
	"github.com/Aintivirus-AI/mixer-v2-contracts/internal/withdraw"
)

// Build information, set at link time.
var (
	Version   = "dev"
	Commit    = "none"
	BuildTime = "unknown"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:               "mixerd",
		Short:             "Privacy mixer vault daemon",
		SilenceUsage:      true,
		CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "mixerd.yaml", "path to the configuration file")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the vault daemon",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runServe(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "setup",
			Short: "Compile the withdrawal circuit and generate Groth16 keys",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runSetup()
			},
		},
		&cobra.Command{
			Use:   "config",
			Short: "Write the default configuration file",
			RunE: func(cmd *cobra.Command, args []string) error {
				if _, err := os.Stat(configPath); err == nil {
					return fmt.Errorf("%s already exists, refusing to overwrite", configPath)
				}
				if err := SaveConfig(DefaultConfig(), configPath); err != nil {
					return err
				}
				fmt.Printf("wrote %s\n", configPath)
				return nil
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print build information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Printf("mixerd %s (commit %s, built %s)\n", Version, Commit, BuildTime)
			},
		},
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// runSetup compiles the withdrawal circuit and writes fresh Groth16 keys.
//
// WARNING: The generated keys come from a single-party setup. A production
// deployment needs a multi-party ceremony for the proving key toxic waste.
func runSetup() error {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := os.MkdirAll(cfg.Keys.Dir, 0755); err != nil {
		return fmt.Errorf("failed to create key directory: %w", err)
	}

	fmt.Printf("compiling withdrawal circuit (%d levels)...\n", withdraw.TreeLevels)
	ccs, err := withdraw.Compile()
	if err != nil {
		return fmt.Errorf("circuit compilation failed: %w", err)
	}
	pk, vk, err := withdraw.SetupOrLoadKeys(ccs, cfg.Keys.ProvingKeyPath(), cfg.Keys.VerifyingKeyPath())
	if err != nil {
		return fmt.Errorf("key setup failed: %w", err)
	}

	pkFp, err := withdraw.Fingerprint(pk)
	if err != nil {
		return err
	}
	vkFp, err := withdraw.Fingerprint(vk)
	if err != nil {
		return err
	}
	fmt.Printf("proving key   %s  (%s)\n", cfg.Keys.ProvingKeyPath(), pkFp)
	fmt.Printf("verifying key %s  (%s)\n", cfg.Keys.VerifyingKeyPath(), vkFp)
	return nil
}

// runServe wires the full daemon and blocks until shutdown.
func runServe(ctx context.Context) error {
	// 1. Load and validate configuration.
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	log, closeLog, err := newLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer closeLog()
	log.WithFields(logrus.Fields{
		"version": Version,
		"commit":  Commit,
	}).Info("mixerd starting")

	// 2. Open the journal. Deposits, nullifiers, and staking snapshots
	// survive restarts through it.
	db, err := store.Open(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("failed to open journal: %w", err)
	}
	defer db.Close()
	if cfg.Storage.Path == "" {
		log.Warn("journal path is empty, state will not survive restarts")
	}

	// 3. Rebuild the staking ledger from its snapshot.
	vaultAddr := common.HexToAddress(cfg.VaultAddress)
	ledger, err := staking.NewLedger(vaultAddr, time.Duration(cfg.Staking.Period), time.Now)
	if err != nil {
		return fmt.Errorf("failed to create staking ledger: %w", err)
	}
	snapshot, err := db.LoadStaking()
	if err != nil {
		return fmt.Errorf("failed to load staking snapshot: %w", err)
	}
	if snapshot != nil {
		if err := ledger.RestoreSnapshot(snapshot); err != nil {
			return fmt.Errorf("failed to restore staking snapshot: %w", err)
		}
		log.WithField("season", ledger.CurrentSeason().ID).Info("staking ledger restored")
	}

	// 4. Fund ledger plus faucet accounts for development setups.
	bank := vault.NewBank()
	for _, f := range cfg.Faucet {
		balance, err := uint256.FromDecimal(f.Balance)
		if err != nil {
			return fmt.Errorf("faucet balance %q: %w", f.Balance, err)
		}
		if err := bank.Mint(common.HexToAddress(f.Address), balance); err != nil {
			return fmt.Errorf("faucet mint failed: %w", err)
		}
		log.WithField("address", f.Address).Info("faucet account funded")
	}

	v, err := vault.New(vault.Config{
		Address: vaultAddr,
		Funds:   bank,
		Staking: ledger,
		Journal: db,
		Log:     log,
	})
	if err != nil {
		return fmt.Errorf("failed to create vault: %w", err)
	}

	// 5. Load the verifying key. Proof verification latency feeds the
	// mixer_proof_verify_seconds histogram.
	vk, err := withdraw.LoadVerifyingKey(cfg.Keys.VerifyingKeyPath())
	if err != nil {
		return fmt.Errorf("failed to load verifying key (run `mixerd setup` first): %w", err)
	}
	vkFp, err := withdraw.Fingerprint(vk)
	if err != nil {
		return err
	}
	log.WithField("fingerprint", vkFp).Info("verifying key loaded")
	verifier := metrics.TimedVerifier{Inner: withdraw.NewGroth16Verifier(vk)}

	// 6. Build each pool's engine and replay the journal into it.
	for _, p := range cfg.Pools {
		asset, _ := staking.ParseAsset(p.Asset)
		denomination, err := uint256.FromDecimal(p.Denomination)
		if err != nil {
			return fmt.Errorf("pool %s: %w", p.Asset, err)
		}
		var fee *uint256.Int
		if p.Fee != "" {
			if fee, err = uint256.FromDecimal(p.Fee); err != nil {
				return fmt.Errorf("pool %s: %w", p.Asset, err)
			}
		}

		engine, err := mixer.NewEngine(vaultAddr, p.TreeLevels, p.RootHistory, verifier, time.Now)
		if err != nil {
			return fmt.Errorf("pool %s: %w", p.Asset, err)
		}
		events, err := db.Deposits(asset)
		if err != nil {
			return fmt.Errorf("pool %s: failed to read deposit log: %w", p.Asset, err)
		}
		spent, err := db.Nullifiers(asset)
		if err != nil {
			return fmt.Errorf("pool %s: failed to read nullifiers: %w", p.Asset, err)
		}
		if err := engine.Restore(events, spent); err != nil {
			return fmt.Errorf("pool %s: journal replay failed: %w", p.Asset, err)
		}
		if err := v.AddPool(asset, engine, denomination, fee); err != nil {
			return fmt.Errorf("pool %s: %w", p.Asset, err)
		}
		log.WithFields(logrus.Fields{
			"asset":    p.Asset,
			"deposits": len(events),
			"spent":    len(spent),
		}).Info("pool restored")
	}

	// 7. Health checks cover the journal and the key material.
	health := NewHealthChecker(Version)
	firstAsset, _ := staking.ParseAsset(cfg.Pools[0].Asset)
	health.RegisterComponent("journal", func() error {
		_, err := db.DepositCount(firstAsset)
		return err
	})
	health.RegisterComponent("keys", func() error {
		_, err := os.Stat(cfg.Keys.VerifyingKeyPath())
		return err
	})

	// 8. Assemble the HTTP surface. The API sits behind the rate limiter;
	// health and metrics stay open for probes and scrapers.
	limiter := NewClientRateLimiter(cfg.Limits.Burst, 1, time.Minute/time.Duration(cfg.Limits.RequestsPerMinute))
	mux := http.NewServeMux()
	mux.Handle("/", limiter.Middleware(vault.NewServer(v, log).Routes()))
	mux.Handle("/healthz", health.Handler())
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:              cfg.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// 9. Serve until a signal arrives, then drain.
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.WithField("listen", cfg.Listen).Info("serving")
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
