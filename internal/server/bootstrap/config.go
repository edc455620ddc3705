package bootstrap

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"chatgem/internal/ledger/adapters"
	"chatgem/internal/ledger/app/settlement"
	"chatgem/internal/ledger/domain"
	serverHTTP "chatgem/internal/server/http"
)

// EnvPrefix namespaces environment overrides, e.g. CHATGEM_STORE_DRIVER.
const EnvPrefix = "CHATGEM"

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

// Config holds server configuration.
type Config struct {
	Environment    string   `mapstructure:"environment"`
	Port           string   `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	// TrustedProxies lists the reverse proxies (CIDR or address) whose
	// X-Forwarded-For header is believed.
	TrustedProxies []string `mapstructure:"trusted_proxies"`
	// ObservabilityConfig points at the YAML read by observability.LoadConfig.
	ObservabilityConfig string        `mapstructure:"observability_config"`
	RequestTimeout      time.Duration `mapstructure:"request_timeout"`

	Store      StoreConfig              `mapstructure:"store"`
	Auth       AuthConfig               `mapstructure:"auth"`
	Webhook    WebhookConfig            `mapstructure:"webhook"`
	Provider   adapters.ProviderConfig  `mapstructure:"provider"`
	Archive    adapters.S3ArchiveConfig `mapstructure:"archive"`
	Ledger     LedgerConfig             `mapstructure:"ledger"`
	Settlement SettlementConfig         `mapstructure:"settlement"`
	RateLimit  RateLimitConfig          `mapstructure:"rate_limit"`
	Plans      []domain.Plan            `mapstructure:"plans"`
}

// StoreConfig selects the ledger backend.
type StoreConfig struct {
	Driver   string                  `mapstructure:"driver"`
	Postgres adapters.PostgresConfig `mapstructure:"postgres"`
	// AutoMigrate applies embedded migrations when the server starts.
	AutoMigrate bool `mapstructure:"auto_migrate"`
}

// AuthConfig configures bearer token validation.
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string `mapstructure:"issuer"`
}

// WebhookConfig holds the shared secret used to sign provider notifications.
type WebhookConfig struct {
	Secret string `mapstructure:"secret"`
}

// LedgerConfig mirrors ledger.Config.
type LedgerConfig struct {
	StartingGrant int64 `mapstructure:"starting_grant"`
	FreeFloor     int64 `mapstructure:"free_floor"`
	MaxBalance    int64 `mapstructure:"max_balance"`
}

// SettlementConfig tunes the coordinator and the pending sweep.
type SettlementConfig struct {
	SimulateOnProviderFailure bool          `mapstructure:"simulate_on_provider_failure"`
	PendingTTL                time.Duration `mapstructure:"pending_ttl"`
	SweepInterval             time.Duration `mapstructure:"sweep_interval"`
	SweepBatch                int           `mapstructure:"sweep_batch"`
	BonusThresholdMajor       int64         `mapstructure:"bonus_threshold_major"`
	BonusPercent              int64         `mapstructure:"bonus_percent"`
	EventNode                 int64         `mapstructure:"event_node"`
}

// RateLimitConfig bounds per-caller request rates.
type RateLimitConfig struct {
	RequestsPerMinute        int `mapstructure:"requests_per_minute"`
	Burst                    int `mapstructure:"burst"`
	WebhookRequestsPerMinute int `mapstructure:"webhook_requests_per_minute"`
	WebhookBurst             int `mapstructure:"webhook_burst"`
}

var defaultAllowedOrigins = []string{
	"http://localhost:3000",
	"http://localhost:5173",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "production")
	v.SetDefault("port", "8080")
	v.SetDefault("allowed_origins", defaultAllowedOrigins)
	v.SetDefault("trusted_proxies", []string{})
	v.SetDefault("observability_config", "")
	v.SetDefault("request_timeout", 15*time.Second)

	v.SetDefault("store.driver", StoreMemory)
	v.SetDefault("store.postgres.dsn", "")
	v.SetDefault("store.postgres.max_open_conns", 20)
	v.SetDefault("store.postgres.max_idle_conns", 5)
	v.SetDefault("store.postgres.conn_max_lifetime", 30*time.Minute)
	v.SetDefault("store.auto_migrate", false)

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "")
	v.SetDefault("webhook.secret", "")

	v.SetDefault("provider.base_url", "")
	v.SetDefault("provider.api_key", "")
	v.SetDefault("provider.timeout", 10*time.Second)

	v.SetDefault("archive.bucket", "")
	v.SetDefault("archive.region", "")
	v.SetDefault("archive.base_endpoint", "")
	v.SetDefault("archive.access_key", "")
	v.SetDefault("archive.secret_key", "")
	v.SetDefault("archive.prefix", "")

	v.SetDefault("ledger.starting_grant", domain.StartingGrant)
	v.SetDefault("ledger.free_floor", domain.FreeFloor)
	v.SetDefault("ledger.max_balance", 0)

	defaults := settlement.DefaultConfig()
	v.SetDefault("settlement.simulate_on_provider_failure", false)
	v.SetDefault("settlement.pending_ttl", defaults.PendingTTL)
	v.SetDefault("settlement.sweep_interval", 5*time.Minute)
	v.SetDefault("settlement.sweep_batch", defaults.SweepBatch)
	v.SetDefault("settlement.bonus_threshold_major", defaults.BonusRule.ThresholdMajor)
	v.SetDefault("settlement.bonus_percent", defaults.BonusRule.Percent)
	v.SetDefault("settlement.event_node", 1)

	v.SetDefault("rate_limit.requests_per_minute", 120)
	v.SetDefault("rate_limit.burst", 30)
	v.SetDefault("rate_limit.webhook_requests_per_minute", 600)
	v.SetDefault("rate_limit.webhook_burst", 100)
}

// LoadConfig resolves configuration from defaults, an optional YAML file at
// path, a .env file in the working directory and CHATGEM_* environment
// variables, in increasing order of precedence.
func LoadConfig(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path = strings.TrimSpace(path); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.AllowedOrigins = normalizeList(cfg.AllowedOrigins)
	cfg.TrustedProxies = normalizeList(cfg.TrustedProxies)
	cfg.Store.Driver = strings.ToLower(strings.TrimSpace(cfg.Store.Driver))
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Mode maps Environment onto a settlement mode.
func (c Config) Mode() settlement.Mode {
	return settlement.ParseMode(c.Environment)
}

// Validate rejects configurations the server cannot run with.
func (c Config) Validate() error {
	var errs []error
	switch c.Store.Driver {
	case StoreMemory:
	case StorePostgres:
		if strings.TrimSpace(c.Store.Postgres.DSN) == "" {
			errs = append(errs, errors.New("store.postgres.dsn is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store driver %q", c.Store.Driver))
	}
	if c.Mode() == settlement.ModeProduction {
		if c.Store.Driver != StorePostgres {
			errs = append(errs, errors.New("production requires the postgres store"))
		}
		if strings.TrimSpace(c.Webhook.Secret) == "" {
			errs = append(errs, errors.New("webhook.secret is required in production"))
		}
		if strings.TrimSpace(c.Auth.JWTSecret) == "" {
			errs = append(errs, errors.New("auth.jwt_secret is required in production"))
		}
		if strings.TrimSpace(c.Provider.BaseURL) == "" {
			errs = append(errs, errors.New("provider.base_url is required in production"))
		}
	}
	if _, err := serverHTTP.ParseTrustedProxies(c.TrustedProxies); err != nil {
		errs = append(errs, err)
	}
	if c.Settlement.PendingTTL <= 0 {
		errs = append(errs, errors.New("settlement.pending_ttl must be positive"))
	}
	if c.Settlement.EventNode < 0 || c.Settlement.EventNode > 1023 {
		errs = append(errs, errors.New("settlement.event_node must be within 0..1023"))
	}
	return errors.Join(errs...)
}

// normalizeList splits comma-separated entries, trims them and drops
// blanks and duplicates.
func normalizeList(origins []string) []string {
	seen := make(map[string]struct{}, len(origins))
	out := make([]string, 0, len(origins))
	for _, origin := range origins {
		for _, part := range strings.Split(origin, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if _, ok := seen[part]; ok {
				continue
			}
			seen[part] = struct{}{}
			out = append(out, part)
		}
	}
	return out
}
