// Package config loads server settings from defaults, an optional config
// file, a .env file, PIGGY_* environment variables and command-line flags,
// in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/and161185/piggybank/internal/ledger"
	"github.com/and161185/piggybank/internal/model"
)

// EnvPrefix prefixes every environment override, e.g. PIGGY_STORE_DSN.
const EnvPrefix = "PIGGY"

// Store drivers. DriverMemory keeps nothing across restarts and is meant for
// local development only.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// DefaultSQLiteDSN is used when the sqlite driver is selected without a DSN.
const DefaultSQLiteDSN = "piggybank.db"

type GRPC struct {
	Addr       string `mapstructure:"addr"`
	TLSCert    string `mapstructure:"tls_cert"`
	TLSKey     string `mapstructure:"tls_key"`
	Reflection bool   `mapstructure:"reflection"`
}

type Admin struct {
	Addr string `mapstructure:"addr"`
}

type Auth struct {
	JWTKey   string        `mapstructure:"jwt_key"`
	TokenTTL time.Duration `mapstructure:"token_ttl"`
}

type Store struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

type Cache struct {
	RedisAddr string        `mapstructure:"redis_addr"`
	TTL       time.Duration `mapstructure:"ttl"`
}

type Rewards struct {
	Schedule string `mapstructure:"schedule"` // cron spec; empty disables the sweep
}

type RateLimit struct {
	RPS   float64 `mapstructure:"rps"` // 0 disables limiting
	Burst int     `mapstructure:"burst"`
}

type Mint struct {
	ConversionRate string `mapstructure:"conversion_rate"`
}

// RateTerms overrides one lock period. Rates are decimal strings.
type RateTerms struct {
	Days     int    `mapstructure:"days"`
	Interest string `mapstructure:"interest"`
	Penalty  string `mapstructure:"penalty"`
}

type Log struct {
	Level string `mapstructure:"level"`
}

// Config is the full server configuration.
type Config struct {
	GRPC      GRPC                 `mapstructure:"grpc"`
	Admin     Admin                `mapstructure:"admin"`
	Auth      Auth                 `mapstructure:"auth"`
	Store     Store                `mapstructure:"store"`
	Cache     Cache                `mapstructure:"cache"`
	Rewards   Rewards              `mapstructure:"rewards"`
	RateLimit RateLimit            `mapstructure:"ratelimit"`
	Mint      Mint                 `mapstructure:"mint"`
	Rates     map[string]RateTerms `mapstructure:"rates"`
	Log       Log                  `mapstructure:"log"`
}

// flag name -> config key
var flagKeys = map[string]string{
	"grpc-addr":       "grpc.addr",
	"tls-cert":        "grpc.tls_cert",
	"tls-key":         "grpc.tls_key",
	"reflection":      "grpc.reflection",
	"admin-addr":      "admin.addr",
	"jwt-key":         "auth.jwt_key",
	"store":           "store.driver",
	"dsn":             "store.dsn",
	"redis-addr":      "cache.redis_addr",
	"rewards-cron":    "rewards.schedule",
	"conversion-rate": "mint.conversion_rate",
	"log-level":       "log.level",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("grpc.addr", ":8443")
	v.SetDefault("grpc.tls_cert", "")
	v.SetDefault("grpc.tls_key", "")
	v.SetDefault("grpc.reflection", false)
	v.SetDefault("admin.addr", ":9090")
	v.SetDefault("auth.jwt_key", "")
	v.SetDefault("auth.token_ttl", 15*time.Minute)
	v.SetDefault("store.driver", DriverSQLite)
	v.SetDefault("store.dsn", "")
	v.SetDefault("cache.redis_addr", "")
	v.SetDefault("cache.ttl", 30*time.Second)
	v.SetDefault("rewards.schedule", "")
	v.SetDefault("ratelimit.rps", 20.0)
	v.SetDefault("ratelimit.burst", 40)
	v.SetDefault("mint.conversion_rate", "1")
	v.SetDefault("log.level", "info")
	// every rates.* key needs a default so env overrides reach Unmarshal
	for p, t := range ledger.DefaultRates() {
		k := "rates." + rateKey(p)
		v.SetDefault(k+".days", int(t.Duration/(24*time.Hour)))
		v.SetDefault(k+".interest", t.InterestRate.String())
		v.SetDefault(k+".penalty", t.PenaltyRate.String())
	}
}

func rateKey(p model.LockPeriod) string { return strings.ToLower(string(p)) }

// Load parses args (without the program name) and merges every source.
func Load(args []string) (*Config, error) {
	fset := pflag.NewFlagSet("piggybank-server", pflag.ContinueOnError)
	cfgFile := fset.String("config", "", "path to a yaml/json/toml config file")
	envFile := fset.String("env-file", ".env", "dotenv file preloaded into the environment")
	fset.String("grpc-addr", "", "gRPC listen address")
	fset.String("tls-cert", "", "TLS certificate (PEM); empty serves plaintext")
	fset.String("tls-key", "", "TLS private key (PEM)")
	fset.Bool("reflection", false, "enable server reflection (dev only)")
	fset.String("admin-addr", "", "admin HTTP listen address; empty disables it")
	fset.String("jwt-key", "", "HS256 verification key (required)")
	fset.String("store", "", "store driver: sqlite|postgres|memory (memory is dev only)")
	fset.String("dsn", "", "store DSN; sqlite defaults to "+DefaultSQLiteDSN)
	fset.String("redis-addr", "", "redis address for the balance cache; empty disables it")
	fset.String("rewards-cron", "", "cron schedule for the reward sweep")
	fset.String("conversion-rate", "", "tokens per minted unit")
	fset.String("log-level", "", "debug|info|warn|error")
	if err := fset.Parse(args); err != nil {
		return nil, err
	}

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("env file %s: %w", *envFile, err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if *cfgFile != "" {
		v.SetConfigFile(*cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config file: %w", err)
		}
	}
	for name, key := range flagKeys {
		f := fset.Lookup(name)
		if !f.Changed {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return nil, fmt.Errorf("bind %s: %w", name, err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("config decode: %w", err)
	}
	if c.Store.Driver == DriverSQLite && c.Store.DSN == "" {
		c.Store.DSN = DefaultSQLiteDSN
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.Auth.JWTKey == "" {
		return errors.New("config: auth.jwt_key is required")
	}
	if c.Auth.TokenTTL <= 0 {
		return errors.New("config: auth.token_ttl must be positive")
	}
	switch c.Store.Driver {
	case DriverMemory:
	case DriverPostgres, DriverSQLite:
		if c.Store.DSN == "" {
			return fmt.Errorf("config: store.dsn is required for %s", c.Store.Driver)
		}
	default:
		return fmt.Errorf("config: unknown store.driver %q", c.Store.Driver)
	}
	if (c.GRPC.TLSCert == "") != (c.GRPC.TLSKey == "") {
		return errors.New("config: grpc.tls_cert and grpc.tls_key go together")
	}
	if c.Cache.RedisAddr != "" && c.Cache.TTL <= 0 {
		return errors.New("config: cache.ttl must be positive")
	}
	if c.RateLimit.RPS < 0 {
		return errors.New("config: ratelimit.rps must not be negative")
	}
	if c.RateLimit.RPS > 0 && c.RateLimit.Burst < 1 {
		return errors.New("config: ratelimit.burst must be at least 1")
	}
	if c.Rewards.Schedule != "" {
		if _, err := cron.ParseStandard(c.Rewards.Schedule); err != nil {
			return fmt.Errorf("config: rewards.schedule: %w", err)
		}
	}
	if _, err := c.ConversionRate(); err != nil {
		return err
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("config: log.level: %w", err)
	}
	if _, err := c.RateTable(); err != nil {
		return err
	}
	return nil
}

// ConversionRate returns mint.conversion_rate, which must be positive.
func (c *Config) ConversionRate() (decimal.Decimal, error) {
	r, err := decimal.NewFromString(c.Mint.ConversionRate)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("config: mint.conversion_rate: %w", err)
	}
	if !r.IsPositive() {
		return decimal.Decimal{}, errors.New("config: mint.conversion_rate must be positive")
	}
	return r, nil
}

// RateTable applies rates.* on top of the default table.
func (c *Config) RateTable() (ledger.RateTable, error) {
	table := ledger.DefaultRates()
	for _, p := range model.LockPeriods {
		o, ok := c.Rates[rateKey(p)]
		if !ok {
			continue
		}
		t := table[p]
		if o.Days != 0 {
			t.Duration = time.Duration(o.Days) * 24 * time.Hour
		}
		if o.Interest != "" {
			r, err := decimal.NewFromString(o.Interest)
			if err != nil {
				return nil, fmt.Errorf("config: rates.%s.interest: %w", rateKey(p), err)
			}
			t.InterestRate = r
		}
		if o.Penalty != "" {
			r, err := decimal.NewFromString(o.Penalty)
			if err != nil {
				return nil, fmt.Errorf("config: rates.%s.penalty: %w", rateKey(p), err)
			}
			t.PenaltyRate = r
		}
		table[p] = t
	}
	if err := table.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return table, nil
}

// NewLogger builds a production zap logger at log.level.
func (c *Config) NewLogger() (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(c.Log.Level)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(lvl)
	return zc.Build()
}
