// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package config

import (
	"errors"
	"net"
	"strconv"
	"strings"

	"github.com/spf13/viper"

	"github.com/sigil-dev/leash/internal/telemetry"
	"github.com/sigil-dev/leash/pkg/budget"
	leasherr "github.com/sigil-dev/leash/pkg/errors"
	"github.com/sigil-dev/leash/pkg/estimate"
	"github.com/sigil-dev/leash/pkg/guard"
	"github.com/sigil-dev/leash/pkg/leash"
	"github.com/sigil-dev/leash/pkg/store"
)

// Unlimited disables a budget ceiling in configuration.
const Unlimited = -1

// Config is the top-level leash configuration.
type Config struct {
	Budget       BudgetConfig    `mapstructure:"budget"`
	Estimator    EstimatorConfig `mapstructure:"estimator"`
	Guard        GuardConfig     `mapstructure:"guard"`
	OutputPolicy string          `mapstructure:"output_policy"`
	Storage      StorageConfig   `mapstructure:"storage"`
	Server       ServerConfig    `mapstructure:"server"`
	Audit        AuditConfig     `mapstructure:"audit"`
	Telemetry    TelemetryConfig `mapstructure:"telemetry"`
}

// BudgetConfig sets the ceilings of every budget scope. -1 is unlimited.
type BudgetConfig struct {
	MaxCalls int64  `mapstructure:"max_calls"`
	MaxUnits int64  `mapstructure:"max_units"`
	Scope    string `mapstructure:"scope"`
}

// EstimatorConfig controls cost estimation.
type EstimatorConfig struct {
	DepthLimit int `mapstructure:"depth_limit"`
}

// GuardConfig is the guard policy. Restrictions are a list rather than a
// map because configuration keys are case-insensitive while argument names
// are not.
type GuardConfig struct {
	Restrictions    []RestrictionConfig `mapstructure:"restrictions"`
	Normalize       bool                `mapstructure:"normalize"`
	SearchDepth     int                 `mapstructure:"search_depth"`
	MaxPayloadBytes int64               `mapstructure:"max_payload_bytes"`
	Secrets         bool                `mapstructure:"secrets"`
	CEL             []CELRuleConfig     `mapstructure:"cel"`
}

// RestrictionConfig forbids substrings in one argument.
type RestrictionConfig struct {
	Argument  string   `mapstructure:"argument"`
	Forbidden []string `mapstructure:"forbidden"`
}

// CELRuleConfig is a CEL expression that blocks the call when it is true.
type CELRuleConfig struct {
	Name    string `mapstructure:"name"`
	Expr    string `mapstructure:"expr"`
	Message string `mapstructure:"message"`
}

// StorageConfig selects where shared budgets and the audit log live.
type StorageConfig struct {
	Backend string      `mapstructure:"backend"`
	Path    string      `mapstructure:"path"`
	Redis   RedisConfig `mapstructure:"redis"`
}

// RedisConfig addresses the Redis backend.
type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// ServerConfig controls the HTTP sidecar.
type ServerConfig struct {
	Listen      string   `mapstructure:"listen"`
	CORSOrigins []string `mapstructure:"cors_origins"`
	RateLimit   float64  `mapstructure:"rate_limit"`
	RateBurst   int      `mapstructure:"rate_burst"`
}

// AuditConfig controls the decision audit trail.
type AuditConfig struct {
	Enabled    bool `mapstructure:"enabled"`
	FailClosed bool `mapstructure:"fail_closed"`
}

// TelemetryConfig controls trace export. An empty endpoint keeps spans in
// process.
type TelemetryConfig struct {
	Endpoint   string  `mapstructure:"endpoint"`
	Insecure   bool    `mapstructure:"insecure"`
	SampleRate float64 `mapstructure:"sample_rate"`
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("budget.max_calls", Unlimited)
	v.SetDefault("budget.max_units", Unlimited)
	v.SetDefault("budget.scope", "default")
	v.SetDefault("estimator.depth_limit", estimate.DefaultDepthLimit)
	v.SetDefault("guard.normalize", false)
	v.SetDefault("guard.search_depth", guard.DefaultSearchDepth)
	v.SetDefault("guard.max_payload_bytes", 0)
	v.SetDefault("guard.secrets", false)
	v.SetDefault("output_policy", "saturate")
	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.path", "leash.db")
	v.SetDefault("storage.redis.addr", "127.0.0.1:6379")
	v.SetDefault("storage.redis.key_prefix", "leash:")
	v.SetDefault("server.listen", "127.0.0.1:18790")
	v.SetDefault("server.rate_limit", 0)
	v.SetDefault("server.rate_burst", 20)
	v.SetDefault("audit.enabled", false)
	v.SetDefault("audit.fail_closed", false)
	v.SetDefault("telemetry.endpoint", "")
	v.SetDefault("telemetry.insecure", false)
	v.SetDefault("telemetry.sample_rate", 1.0)
}

// SetupEnv maps LEASH_-prefixed environment variables onto config keys,
// e.g. LEASH_BUDGET_MAX_CALLS for budget.max_calls.
func SetupEnv(v *viper.Viper) {
	v.SetEnvPrefix("LEASH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Load reads configuration from the given path (or defaults) with
// environment variable overrides (prefix LEASH_).
func Load(path string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)
	SetupEnv(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, leasherr.Errorf(leasherr.CodeConfigLoadReadFailure, "reading config %s: %w", path, err)
		}
	}
	return FromViper(v)
}

// FromViper decodes and validates the configuration held by v.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, leasherr.Errorf(leasherr.CodeConfigParseInvalidFormat, "unmarshalling config: %w", err)
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, leasherr.Errorf(leasherr.CodeConfigValidateInvalidValue, "validating config: %w", errors.Join(errs...))
	}
	return &cfg, nil
}

// Validate checks the configuration for logical errors.
// It returns a slice of all validation errors found, collecting all issues
// rather than stopping at the first one.
func (c *Config) Validate() []error {
	var errs []error

	errs = append(errs, c.validateBudget()...)
	errs = append(errs, c.validateEstimator()...)
	errs = append(errs, c.validateGuard()...)
	errs = append(errs, c.validateStorage()...)
	errs = append(errs, c.validateServer()...)

	if _, err := leash.ParseOutputPolicy(c.OutputPolicy); err != nil {
		errs = append(errs, leasherr.Errorf(leasherr.CodeConfigValidateInvalidValue,
			"config: output_policy must be one of [saturate, strict], got %q", c.OutputPolicy))
	}
	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		errs = append(errs, leasherr.Errorf(leasherr.CodeConfigValidateInvalidValue,
			"config: telemetry.sample_rate must be between 0 and 1, got %g", c.Telemetry.SampleRate))
	}
	if c.Audit.FailClosed && !c.Audit.Enabled {
		errs = append(errs, leasherr.Errorf(leasherr.CodeConfigValidateInvalidValue,
			"config: audit.fail_closed requires audit.enabled"))
	}

	return errs
}

func (c *Config) validateBudget() []error {
	var errs []error

	for key, n := range map[string]int64{
		"budget.max_calls": c.Budget.MaxCalls,
		"budget.max_units": c.Budget.MaxUnits,
	} {
		if n < Unlimited {
			errs = append(errs, leasherr.Errorf(leasherr.CodeConfigValidateInvalidValue,
				"config: %s must be -1 (unlimited) or at least 0, got %d", key, n))
		}
	}
	if c.Budget.Scope == "" {
		errs = append(errs, leasherr.Errorf(leasherr.CodeConfigValidateInvalidValue, "config: budget.scope must not be empty"))
	}

	return errs
}

func (c *Config) validateEstimator() []error {
	if c.Estimator.DepthLimit < 1 {
		return []error{leasherr.Errorf(leasherr.CodeConfigValidateInvalidValue,
			"config: estimator.depth_limit must be greater than 0, got %d", c.Estimator.DepthLimit)}
	}
	return nil
}

func (c *Config) validateGuard() []error {
	var errs []error

	for i, r := range c.Guard.Restrictions {
		if r.Argument == "" {
			errs = append(errs, leasherr.Errorf(leasherr.CodeConfigValidateInvalidValue,
				"config: guard.restrictions[%d].argument must not be empty", i))
		}
		for j, s := range r.Forbidden {
			if s == "" {
				errs = append(errs, leasherr.Errorf(leasherr.CodeConfigValidateInvalidValue,
					"config: guard.restrictions[%d].forbidden[%d] must not be empty", i, j))
			}
		}
	}
	if c.Guard.SearchDepth < 0 {
		errs = append(errs, leasherr.Errorf(leasherr.CodeConfigValidateInvalidValue,
			"config: guard.search_depth must not be negative, got %d", c.Guard.SearchDepth))
	}
	if c.Guard.MaxPayloadBytes < 0 {
		errs = append(errs, leasherr.Errorf(leasherr.CodeConfigValidateInvalidValue,
			"config: guard.max_payload_bytes must not be negative, got %d", c.Guard.MaxPayloadBytes))
	}
	for i, r := range c.Guard.CEL {
		if strings.TrimSpace(r.Expr) == "" {
			errs = append(errs, leasherr.Errorf(leasherr.CodeConfigValidateInvalidValue,
				"config: guard.cel[%d].expr must not be empty", i))
		}
	}

	return errs
}

func (c *Config) validateStorage() []error {
	var errs []error

	if !containsString(storageBackends, c.Storage.Backend) {
		errs = append(errs, leasherr.Errorf(leasherr.CodeConfigValidateInvalidValue,
			"config: storage.backend must be one of [%s], got %q",
			strings.Join(storageBackends, ", "), c.Storage.Backend,
		))
	}
	if c.Storage.Backend == "redis" && c.Storage.Redis.Addr == "" {
		errs = append(errs, leasherr.Errorf(leasherr.CodeConfigValidateInvalidValue,
			"config: storage.redis.addr must not be empty for the redis backend"))
	}

	return errs
}

func (c *Config) validateServer() []error {
	var errs []error

	if c.Server.Listen == "" {
		errs = append(errs, leasherr.Errorf(leasherr.CodeConfigValidateInvalidValue, "config: server.listen must not be empty"))
	} else {
		_, portStr, err := net.SplitHostPort(c.Server.Listen)
		if err != nil {
			errs = append(errs, leasherr.Errorf(leasherr.CodeConfigValidateInvalidValue,
				"config: server.listen must be a valid host:port address, got %q: %w",
				c.Server.Listen, err,
			))
		} else if port, err := strconv.Atoi(portStr); err != nil || port < 1 || port > 65535 {
			errs = append(errs, leasherr.Errorf(leasherr.CodeConfigValidateInvalidValue,
				"config: server.listen port must be between 1 and 65535, got %q",
				portStr,
			))
		}
	}
	if c.Server.RateLimit < 0 {
		errs = append(errs, leasherr.Errorf(leasherr.CodeConfigValidateInvalidValue,
			"config: server.rate_limit must not be negative, got %g", c.Server.RateLimit))
	}
	if c.Server.RateLimit > 0 && c.Server.RateBurst < 1 {
		errs = append(errs, leasherr.Errorf(leasherr.CodeConfigValidateInvalidValue,
			"config: server.rate_burst must be greater than 0 when rate_limit is set, got %d", c.Server.RateBurst))
	}

	return errs
}

// storageBackends are the backends cmd/leash links in.
var storageBackends = []string{"memory", "redis", "sqlite"}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Limits converts the budget section into tracker ceilings.
func (b BudgetConfig) Limits() budget.Limits {
	var l budget.Limits
	if b.MaxCalls != Unlimited {
		l.Calls = budget.Max(b.MaxCalls)
	}
	if b.MaxUnits != Unlimited {
		l.Units = budget.Max(b.MaxUnits)
	}
	return l
}

// StoreConfig converts the storage section into a store.Config.
func (s StorageConfig) StoreConfig() *store.Config {
	return &store.Config{
		Backend:       s.Backend,
		Path:          s.Path,
		RedisAddr:     s.Redis.Addr,
		RedisPassword: s.Redis.Password,
		RedisDB:       s.Redis.DB,
		KeyPrefix:     s.Redis.KeyPrefix,
	}
}

// Tracing converts the telemetry section for a binary of the given version.
func (t TelemetryConfig) Tracing(version string) telemetry.Config {
	return telemetry.Config{
		Endpoint:   t.Endpoint,
		Insecure:   t.Insecure,
		SampleRate: t.SampleRate,
		Version:    version,
	}
}

// NewEstimator builds the configured estimator.
func (e EstimatorConfig) NewEstimator() *estimate.Estimator {
	return estimate.New(estimate.WithDepthLimit(e.DepthLimit))
}

// NewGuard builds the configured guard. Validators run in a fixed order:
// payload size, secrets, then CEL rules.
func (g GuardConfig) NewGuard() (*guard.Guard, error) {
	opts := []guard.Option{guard.WithSearchDepth(g.SearchDepth)}

	rules := make([]guard.Rule, 0, len(g.Restrictions))
	for _, r := range g.Restrictions {
		rules = append(rules, guard.Rule{Argument: r.Argument, Forbidden: r.Forbidden})
	}
	if len(rules) > 0 {
		opts = append(opts, guard.WithRules(rules...))
	}
	if g.Normalize {
		opts = append(opts, guard.WithNormalization())
	}

	var validators []guard.Validator
	if g.MaxPayloadBytes > 0 {
		validators = append(validators, guard.MaxPayloadBytes(g.MaxPayloadBytes))
	}
	if g.Secrets {
		validators = append(validators, guard.Secrets())
	}
	if len(g.CEL) > 0 {
		celRules := make([]guard.CELRule, 0, len(g.CEL))
		for _, r := range g.CEL {
			celRules = append(celRules, guard.CELRule{Name: r.Name, Expr: r.Expr, Message: r.Message})
		}
		v, err := guard.CEL(celRules...)
		if err != nil {
			return nil, err
		}
		validators = append(validators, v)
	}
	if len(validators) > 0 {
		opts = append(opts, guard.WithValidator(guard.Chain(validators...)))
	}

	return guard.New(opts...), nil
}
