package flags

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/spacelock/membership-security-backend/common"
	"github.com/spacelock/membership-security-backend/httpserver"
)

func SetupLogger(cCtx *cli.Context) (log *slog.Logger) {
	logJSON := cCtx.Bool(LogJsonFlag.Name)
	logDebug := cCtx.Bool(LogDebugFlag.Name)
	logUID := cCtx.Bool(LogUidFlag.Name)
	logService := cCtx.String(LogServiceFlag.Name)

	logger := common.SetupLogger(&common.LoggingOpts{
		Debug:   logDebug,
		JSON:    logJSON,
		Service: logService,
		Version: common.Version,
	})

	if logUID {
		id := uuid.Must(uuid.NewRandom())
		logger = logger.With("uid", id.String())
	}
	return logger
}

func ConfigureServer(cCtx *cli.Context, logger *slog.Logger, listenAddr string) *httpserver.HTTPServerConfig {
	metricsAddr := cCtx.String(MetricsAddrFlag.Name)
	enablePprof := cCtx.Bool(PprofFlag.Name)
	drainDuration := time.Duration(cCtx.Int64(DrainSecondsFlag.Name)) * time.Second

	return &httpserver.HTTPServerConfig{
		ListenAddr:               listenAddr,
		MetricsAddr:              metricsAddr,
		Log:                      logger,
		EnablePprof:              enablePprof,
		DrainDuration:            drainDuration,
		GracefulShutdownDuration: 30 * time.Second,
		ReadTimeout:              60 * time.Second,
		WriteTimeout:             30 * time.Second,
	}
}

var ListenAddrFlag = &cli.StringFlag{
	Name:  "listen-addr",
	Value: "127.0.0.1:8080",
	Usage: "address to listen on for API",
}

var MetricsAddrFlag = &cli.StringFlag{
	Name:  "metrics-addr",
	Value: "127.0.0.1:8090",
	Usage: "address to listen on for Prometheus metrics",
}

var DatabasePathFlag = &cli.StringFlag{
	Name:  "db-path",
	Value: "security.db",
	Usage: "path to the SQLite database file",
}

var StorageURIsFlag = &cli.StringSliceFlag{
	Name:  "storage-uri",
	Value: cli.NewStringSlice("file:///var/lib/membership-security/blobs"),
	Usage: "blob backend location URIs (file:// or s3://); repeat for replication",
}

var KeySourceFlag = &cli.StringFlag{
	Name:  "key-source",
	Value: "simple",
	Usage: "key material source: 'simple' or 'vault'",
}

var MasterSeedFlag = &cli.StringFlag{
	Name:  "master-seed",
	Usage: "hex-encoded 32-byte master seed (required if key-source is 'simple')",
}

var PepperFlag = &cli.StringFlag{
	Name:  "pepper",
	Usage: "hex-encoded application pepper (required if key-source is 'simple')",
}

var VaultAddrFlag = &cli.StringFlag{
	Name:  "vault-addr",
	Value: "http://127.0.0.1:8200",
	Usage: "HashiCorp Vault address (if key-source is 'vault')",
}

var VaultTokenFlag = &cli.StringFlag{
	Name:    "vault-token",
	EnvVars: []string{"VAULT_TOKEN"},
	Usage:   "HashiCorp Vault token (if key-source is 'vault')",
}

var VaultMountFlag = &cli.StringFlag{
	Name:  "vault-mount",
	Value: "secret",
	Usage: "Vault KV v2 mount path",
}

var VaultBasePathFlag = &cli.StringFlag{
	Name:  "vault-base-path",
	Value: "membership-security",
	Usage: "base path for key material inside the Vault mount",
}

var RedisAddrFlag = &cli.StringFlag{
	Name:  "redis-addr",
	Usage: "redis address for the cross-process review lock; empty uses the in-process lock",
}

var ReviewLockTimeoutFlag = &cli.DurationFlag{
	Name:  "review-lock-timeout",
	Value: 5 * time.Second,
	Usage: "how long a review waits for the per-member lock before failing",
}

var SweepIntervalFlag = &cli.DurationFlag{
	Name:  "sweep-interval",
	Value: 5 * time.Minute,
	Usage: "interval between intelligence sweeps (baseline + anomaly detection)",
}

var LogJsonFlag = &cli.BoolFlag{
	Name:  "log-json",
	Value: false,
	Usage: "log in JSON format",
}
var LogDebugFlag = &cli.BoolFlag{
	Name:  "log-debug",
	Value: false,
	Usage: "log debug messages",
}
var LogUidFlag = &cli.BoolFlag{
	Name:  "log-uid",
	Value: false,
	Usage: "generate a uuid and add to all log messages",
}
var LogServiceFlag = &cli.StringFlag{
	Name:  "log-service",
	Value: common.PackageName,
	Usage: "add 'service' tag to logs",
}

var PprofFlag = &cli.BoolFlag{
	Name:  "pprof",
	Value: false,
	Usage: "enable pprof debug endpoint",
}
var DrainSecondsFlag = &cli.Int64Flag{
	Name:  "drain-seconds",
	Value: 45,
	Usage: "seconds to wait in drain HTTP request",
}

var CommonFlags = []cli.Flag{
	LogJsonFlag,
	LogDebugFlag,
	LogUidFlag,
	LogServiceFlag,
	PprofFlag,
	DrainSecondsFlag,
	MetricsAddrFlag,
}
