package bootstrap

import (
	"errors"
	"os"
	"strings"
	"time"

	"chatgem/internal/logging"
)

// LogServerConfiguration prints a redacted snapshot of the server configuration.
func LogServerConfiguration(logger logging.Logger, configPath string, config Config) {
	logger = logging.OrNop(logger)

	logger.Info("=== Server Configuration ===")

	if configPath = strings.TrimSpace(configPath); configPath != "" {
		if info, err := os.Stat(configPath); err == nil {
			logger.Info("Config file: %s (mtime %s)", configPath, info.ModTime().UTC().Format(time.RFC3339))
		} else if errors.Is(err, os.ErrNotExist) {
			logger.Warn("Config file missing: %s", configPath)
		} else {
			logger.Warn("Config file stat failed: %v", err)
		}
	} else {
		logger.Info("Config file: (none; defaults and %s_* environment)", EnvPrefix)
	}

	logger.Info("Environment: %s (settlement mode=%s)", config.Environment, config.Mode())
	logger.Info("Port: %s", config.Port)
	logger.Info("Allowed Origins: %s", strings.Join(config.AllowedOrigins, ", "))
	logger.Info("Trusted Proxies: %s", valueOrNone(strings.Join(config.TrustedProxies, ", ")))
	logger.Info("Request Timeout: %s", config.RequestTimeout)

	logger.Info("Store: %s (auto_migrate=%t)", config.Store.Driver, config.Store.AutoMigrate)
	if config.Store.Driver == StorePostgres {
		logger.Info("Postgres Pool: open=%d idle=%d lifetime=%s",
			config.Store.Postgres.MaxOpenConns, config.Store.Postgres.MaxIdleConns, config.Store.Postgres.ConnMaxLifetime)
	}

	logger.Info("JWT Secret: %s", setOrNot(config.Auth.JWTSecret))
	logger.Info("JWT Issuer: %s", valueOrNone(config.Auth.Issuer))
	logger.Info("Webhook Secret: %s", setOrNot(config.Webhook.Secret))
	logger.Info("Provider: %s (timeout=%s, api_key %s)",
		valueOrNone(config.Provider.BaseURL), config.Provider.Timeout, setOrNot(config.Provider.APIKey))
	if config.Archive.Enabled() {
		logger.Info("Payload Archive: s3://%s/%s", config.Archive.Bucket, config.Archive.Prefix)
	} else {
		logger.Info("Payload Archive: (disabled)")
	}

	logger.Info("Ledger: starting_grant=%d free_floor=%d max_balance=%d",
		config.Ledger.StartingGrant, config.Ledger.FreeFloor, config.Ledger.MaxBalance)
	logger.Info("Settlement: pending_ttl=%s sweep_interval=%s sweep_batch=%d simulate=%t",
		config.Settlement.PendingTTL, config.Settlement.SweepInterval, config.Settlement.SweepBatch,
		config.Settlement.SimulateOnProviderFailure)
	logger.Info("Bonus: %d%% at %d and above", config.Settlement.BonusPercent, config.Settlement.BonusThresholdMajor)
	logger.Info("HTTP Rate Limit: %d rpm (burst=%d); webhook %d rpm (burst=%d)",
		config.RateLimit.RequestsPerMinute, config.RateLimit.Burst,
		config.RateLimit.WebhookRequestsPerMinute, config.RateLimit.WebhookBurst)
	logger.Info("Plans configured: %d", len(config.Plans))
	logger.Info("===========================")
}

func setOrNot(secret string) string {
	if strings.TrimSpace(secret) == "" {
		return "(not set)"
	}
	return "(set)"
}

func valueOrNone(value string) string {
	if strings.TrimSpace(value) == "" {
		return "(none)"
	}
	return value
}
