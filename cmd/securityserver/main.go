package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v2"

	"github.com/spacelock/membership-security-backend/audit"
	"github.com/spacelock/membership-security-backend/cmd/flags"
	"github.com/spacelock/membership-security-backend/httpserver"
	"github.com/spacelock/membership-security-backend/intel"
	"github.com/spacelock/membership-security-backend/interfaces"
	"github.com/spacelock/membership-security-backend/keymaterial"
	"github.com/spacelock/membership-security-backend/storage"
	"github.com/spacelock/membership-security-backend/store"
	"github.com/spacelock/membership-security-backend/vault"
)

var serverFlags = append([]cli.Flag{
	flags.ListenAddrFlag,
	flags.DatabasePathFlag,
	flags.StorageURIsFlag,
	flags.KeySourceFlag,
	flags.MasterSeedFlag,
	flags.PepperFlag,
	flags.VaultAddrFlag,
	flags.VaultTokenFlag,
	flags.VaultMountFlag,
	flags.VaultBasePathFlag,
	flags.RedisAddrFlag,
	flags.ReviewLockTimeoutFlag,
	flags.SweepIntervalFlag,
}, flags.CommonFlags...)

func main() {
	app := &cli.App{
		Name:  "security-server",
		Usage: "Serve the membership security core: identity vault, audit log, and threat intelligence",
		Flags: serverFlags,
		Action: func(cCtx *cli.Context) error {
			logger := flags.SetupLogger(cCtx)

			// Key material
			keys, err := buildKeyProvider(cCtx, logger)
			if err != nil {
				logger.Error("Failed to initialize key material provider", "err", err)
				return err
			}

			// Persistence
			st, err := store.Open(cCtx.String(flags.DatabasePathFlag.Name))
			if err != nil {
				logger.Error("Failed to open database", "err", err)
				return err
			}
			defer st.Close()

			// Blob backends
			factory := storage.NewStorageBackendFactory(logger)
			var locations []interfaces.StorageBackendLocation
			for _, uri := range cCtx.StringSlice(flags.StorageURIsFlag.Name) {
				locations = append(locations, interfaces.StorageBackendLocation(uri))
			}
			blobs, err := factory.CreateMultiBackend(locations)
			if err != nil {
				logger.Error("Failed to initialize blob storage", "err", err)
				return err
			}

			// Review lock
			lockTimeout := cCtx.Duration(flags.ReviewLockTimeoutFlag.Name)
			var locker vault.ReviewLocker
			if redisAddr := cCtx.String(flags.RedisAddrFlag.Name); redisAddr != "" {
				logger.Info("Using redis review lock", "address", redisAddr)
				client := redis.NewClient(&redis.Options{Addr: redisAddr})
				locker = vault.NewRedisLocker(client, lockTimeout, 2*lockTimeout)
			} else {
				logger.Info("Using in-process review lock")
				locker = vault.NewMemoryLocker(lockTimeout)
			}

			auditLogger := audit.NewLogger(st.Audit, logger)
			analytics := audit.NewAnalytics(st.Audit, st.Baselines, logger)
			engine := intel.NewEngine(intel.DefaultEngineConfig(), st.Audit, st.Threats, st.Baselines, auditLogger, logger)

			vaultSvc := vault.NewService(vault.ServiceConfig{
				Keys:     keys,
				Archives: st.Archives,
				Blobs:    blobs,
				Audit:    auditLogger,
				Locker:   locker,
				Log:      logger,
			})

			handler := httpserver.NewHandler(vaultSvc, auditLogger, analytics, engine, logger)
			cfg := flags.ConfigureServer(cCtx, logger, cCtx.String(flags.ListenAddrFlag.Name))
			server, err := httpserver.New(cfg, handler)
			if err != nil {
				logger.Error("Failed to create server", "err", err)
				return err
			}

			sweeper := intel.NewSweeper(engine, cCtx.Duration(flags.SweepIntervalFlag.Name), logger)
			sweeper.RunInBackground()
			server.RunInBackground()

			exit := make(chan os.Signal, 1)
			signal.Notify(exit, os.Interrupt, syscall.SIGTERM)

			logger.Info("Server is running, press Ctrl+C to stop")
			<-exit
			logger.Info("Shutdown signal received")

			server.Shutdown()
			sweeper.Shutdown()
			logger.Info("Server shutdown complete")

			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func buildKeyProvider(cCtx *cli.Context, logger *slog.Logger) (interfaces.KeyMaterialProvider, error) {
	switch source := cCtx.String(flags.KeySourceFlag.Name); source {
	case "simple":
		logger.Info("Using simple key material provider")

		seedHex := cCtx.String(flags.MasterSeedFlag.Name)
		pepperHex := cCtx.String(flags.PepperFlag.Name)
		if seedHex == "" || pepperHex == "" {
			return nil, errors.New("master-seed and pepper are required for the simple key source")
		}

		seed, err := hex.DecodeString(seedHex)
		if err != nil {
			return nil, fmt.Errorf("invalid master-seed: %w", err)
		}
		pepper, err := hex.DecodeString(pepperHex)
		if err != nil {
			return nil, fmt.Errorf("invalid pepper: %w", err)
		}

		return keymaterial.NewSimpleProvider(seed, pepper)

	case "vault":
		logger.Info("Using HashiCorp Vault key material provider")

		token := cCtx.String(flags.VaultTokenFlag.Name)
		if token == "" {
			return nil, errors.New("vault-token is required for the vault key source")
		}

		return keymaterial.NewVaultProvider(
			cCtx.String(flags.VaultAddrFlag.Name),
			token,
			cCtx.String(flags.VaultMountFlag.Name),
			cCtx.String(flags.VaultBasePathFlag.Name),
			logger,
		)

	default:
		return nil, fmt.Errorf("invalid key-source: %s", source)
	}
}
