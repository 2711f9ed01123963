package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/viper"
)

// Config holds all configuration for the batch execution engine
type Config struct {
	Chain         ChainConfig         `mapstructure:"chain"`
	Routing       RoutingConfig       `mapstructure:"routing"`
	Executor      ExecutorConfig      `mapstructure:"executor"`
	Batch         BatchConfig         `mapstructure:"batch"`
	Tokens        TokensConfig        `mapstructure:"tokens"`
	Wallets       WalletsConfig       `mapstructure:"wallets"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Cache         CacheConfig         `mapstructure:"cache"`
	Events        EventsConfig        `mapstructure:"events"`
	AWS           AWSConfig           `mapstructure:"aws"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Server        ServerConfig        `mapstructure:"server"`
}

// ChainConfig holds BNB Smart Chain connection configuration
type ChainConfig struct {
	ID                  int64           `mapstructure:"id"`
	RPCEndpoints        []RPCEndpoint   `mapstructure:"rpc_endpoints"`
	RateLimit           RateLimitConfig `mapstructure:"rate_limit"`
	GasPriceTTL         time.Duration   `mapstructure:"gas_price_ttl"`
	MaxGasPriceGwei     int64           `mapstructure:"max_gas_price_gwei"`
	HealthCheckInterval time.Duration   `mapstructure:"health_check_interval"`
}

// RPCEndpoint represents a chain RPC endpoint with a round-robin weight
type RPCEndpoint struct {
	URL    string `mapstructure:"url"`
	Weight int    `mapstructure:"weight"`
}

// RateLimitConfig holds per-endpoint rate limiting configuration
type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// RoutingConfig holds venue and route resolution configuration
type RoutingConfig struct {
	// BaseAsset is the liquidity-dense intermediate token for 2-hop
	// fallback routes (WBNB on BSC).
	BaseAsset        string        `mapstructure:"base_asset"`
	V2Router         string        `mapstructure:"v2_router"`
	V3Router         string        `mapstructure:"v3_router"`
	Venues           []VenueConfig `mapstructure:"venues"`
	QuoteConcurrency int64         `mapstructure:"quote_concurrency"`
}

// VenueConfig describes one queryable liquidity source
type VenueConfig struct {
	ID     string `mapstructure:"id"`
	Kind   string `mapstructure:"kind"` // constant_product or concentrated_liquidity
	FeeBps int64  `mapstructure:"fee_bps"`
	Pool   string `mapstructure:"pool"`
	Token0 string `mapstructure:"token0"`
	Token1 string `mapstructure:"token1"`
}

// ExecutorConfig holds operation execution settings
type ExecutorConfig struct {
	// DeadlineWindow is added to the current time to form the on-chain
	// swap deadline the router contract enforces.
	DeadlineWindow      time.Duration `mapstructure:"deadline_window"`
	ConfirmPollInterval time.Duration `mapstructure:"confirm_poll_interval"`
	// ConfirmTimeout is the client-side receipt wait and is clamped to
	// at least DeadlineWindow so a timeout is unambiguous.
	ConfirmTimeout  time.Duration `mapstructure:"confirm_timeout"`
	RetryAttempts   int           `mapstructure:"retry_attempts"`
	RetryBaseDelay  time.Duration `mapstructure:"retry_base_delay"`
	GasLimitSwap    uint64        `mapstructure:"gas_limit_swap"`
	GasLimitApprove uint64        `mapstructure:"gas_limit_approve"`
}

// BatchConfig holds default batch orchestration settings. Per-batch values
// submitted through the engine override these defaults.
type BatchConfig struct {
	MaxConcurrency int           `mapstructure:"max_concurrency"`
	InterOpDelay   time.Duration `mapstructure:"inter_op_delay"`
	PerOpTimeout   time.Duration `mapstructure:"per_op_timeout"`
}

// TokensConfig holds token metadata settings
type TokensConfig struct {
	// Warmup lists token addresses resolved at startup to prime the
	// metadata cache.
	Warmup []string `mapstructure:"warmup"`
}

// WalletsConfig holds development wallet keys. Production deployments keep
// key material in an external signer and leave this empty.
type WalletsConfig struct {
	Keys []string `mapstructure:"keys"`
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// CacheConfig holds caching configuration
type CacheConfig struct {
	L1MaxSize     int           `mapstructure:"l1_max_size"`
	L1BackfillTTL time.Duration `mapstructure:"l1_backfill_ttl"`
	MetadataTTL   time.Duration `mapstructure:"metadata_ttl"`
}

// EventsConfig holds the operation event stream configuration
type EventsConfig struct {
	// Publisher selects the event sink: sns, log, or noop.
	Publisher  string `mapstructure:"publisher"`
	BufferSize int    `mapstructure:"buffer_size"`
}

// AWSConfig holds AWS service configuration
type AWSConfig struct {
	Region      string `mapstructure:"region"`
	SNSTopicARN string `mapstructure:"sns_topic_arn"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Tracing TracingConfig `mapstructure:"tracing"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or text
}

// MetricsConfig holds metrics settings
type MetricsConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
}

// TracingConfig holds tracing settings
type TracingConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
}

// ServerConfig holds HTTP server configuration for health and metrics
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// Load loads configuration from file and ENGINE_* environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	// ENGINE_CHAIN_ID=56 overrides chain.id, etc.
	v.SetEnvPrefix("ENGINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// Config file not found is not fatal if env vars are set
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration or panics
func MustLoad(configPath string) *Config {
	cfg, err := Load(configPath)
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Chain defaults (BNB Smart Chain mainnet)
	v.SetDefault("chain.id", 56)
	v.SetDefault("chain.rate_limit.requests_per_second", 20)
	v.SetDefault("chain.rate_limit.burst", 40)
	v.SetDefault("chain.gas_price_ttl", "3s")
	v.SetDefault("chain.max_gas_price_gwei", 50)
	v.SetDefault("chain.health_check_interval", "30s")

	// Routing defaults (WBNB base asset, PancakeSwap routers)
	v.SetDefault("routing.base_asset", "0xbb4CdB9CBd36B01bD1cBaEBF2De08d9173bc095c")
	v.SetDefault("routing.v2_router", "0x10ED43C718714eb63d5aA57B78B54704E256024E")
	v.SetDefault("routing.v3_router", "0x13f4EA83D0bd40E75C8222255bc855a974568Dd4")
	v.SetDefault("routing.quote_concurrency", 4)

	// Executor defaults
	v.SetDefault("executor.deadline_window", "5m")
	v.SetDefault("executor.confirm_poll_interval", "3s")
	v.SetDefault("executor.confirm_timeout", "6m")
	v.SetDefault("executor.retry_attempts", 3)
	v.SetDefault("executor.retry_base_delay", "500ms")
	v.SetDefault("executor.gas_limit_swap", 350000)
	v.SetDefault("executor.gas_limit_approve", 60000)

	// Batch defaults
	v.SetDefault("batch.max_concurrency", 3)
	v.SetDefault("batch.inter_op_delay", "1s")
	v.SetDefault("batch.per_op_timeout", "10m")

	// Redis defaults
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	// Cache defaults
	v.SetDefault("cache.l1_max_size", 1000)
	v.SetDefault("cache.l1_backfill_ttl", "10m")
	v.SetDefault("cache.metadata_ttl", "720h")

	// Events defaults
	v.SetDefault("events.publisher", "log")
	v.SetDefault("events.buffer_size", 256)

	// AWS defaults
	v.SetDefault("aws.region", "us-east-1")
	v.SetDefault("aws.sns_topic_arn", "")

	// Observability defaults
	v.SetDefault("observability.logging.level", "info")
	v.SetDefault("observability.logging.format", "json")
	v.SetDefault("observability.metrics.enabled", true)
	v.SetDefault("observability.metrics.otlp_endpoint", "")
	v.SetDefault("observability.tracing.enabled", false)
	v.SetDefault("observability.tracing.endpoint", "localhost:4317")

	// Server defaults
	v.SetDefault("server.port", 8080)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	// Chain validation
	if c.Chain.ID <= 0 {
		return fmt.Errorf("chain id must be positive")
	}
	if len(c.Chain.RPCEndpoints) == 0 {
		return fmt.Errorf("at least one RPC endpoint is required")
	}
	for _, ep := range c.Chain.RPCEndpoints {
		if ep.URL == "" {
			return fmt.Errorf("RPC endpoint URL must not be empty")
		}
		if ep.Weight < 0 {
			return fmt.Errorf("RPC endpoint weight must not be negative: %s", ep.URL)
		}
	}
	if c.Chain.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("chain rate limit requests_per_second must be positive")
	}
	if c.Chain.MaxGasPriceGwei <= 0 {
		return fmt.Errorf("max gas price must be positive")
	}

	// Routing validation
	if !common.IsHexAddress(c.Routing.BaseAsset) {
		return fmt.Errorf("invalid base asset address: %s", c.Routing.BaseAsset)
	}
	if !common.IsHexAddress(c.Routing.V2Router) {
		return fmt.Errorf("invalid v2 router address: %s", c.Routing.V2Router)
	}
	if !common.IsHexAddress(c.Routing.V3Router) {
		return fmt.Errorf("invalid v3 router address: %s", c.Routing.V3Router)
	}
	if len(c.Routing.Venues) == 0 {
		return fmt.Errorf("at least one venue is required")
	}
	if c.Routing.QuoteConcurrency <= 0 {
		return fmt.Errorf("quote concurrency must be positive")
	}
	seenVenues := make(map[string]bool, len(c.Routing.Venues))
	for _, ven := range c.Routing.Venues {
		if ven.ID == "" {
			return fmt.Errorf("venue id must not be empty")
		}
		if seenVenues[ven.ID] {
			return fmt.Errorf("duplicate venue id: %s", ven.ID)
		}
		seenVenues[ven.ID] = true

		switch ven.Kind {
		case "constant_product", "concentrated_liquidity":
		default:
			return fmt.Errorf("venue %s: unknown kind %q", ven.ID, ven.Kind)
		}
		if ven.FeeBps < 0 || ven.FeeBps > 1000 {
			return fmt.Errorf("venue %s: fee_bps %d out of range [0,1000]", ven.ID, ven.FeeBps)
		}
		for name, addr := range map[string]string{
			"pool": ven.Pool, "token0": ven.Token0, "token1": ven.Token1,
		} {
			if !common.IsHexAddress(addr) {
				return fmt.Errorf("venue %s: invalid %s address: %s", ven.ID, name, addr)
			}
		}
	}

	// Executor validation
	if c.Executor.DeadlineWindow <= 0 {
		return fmt.Errorf("executor deadline window must be positive")
	}
	if c.Executor.ConfirmPollInterval <= 0 {
		return fmt.Errorf("executor confirm poll interval must be positive")
	}
	if c.Executor.RetryAttempts < 1 {
		return fmt.Errorf("executor retry attempts must be at least 1")
	}

	// Batch defaults validation; the engine re-validates per submission
	if c.Batch.MaxConcurrency < 1 || c.Batch.MaxConcurrency > 10 {
		return fmt.Errorf("batch max concurrency %d out of range [1,10]", c.Batch.MaxConcurrency)
	}
	if c.Batch.InterOpDelay < 0 {
		return fmt.Errorf("batch inter-op delay must not be negative")
	}
	if c.Batch.PerOpTimeout <= 0 {
		return fmt.Errorf("batch per-op timeout must be positive")
	}

	// Tokens validation
	for _, addr := range c.Tokens.Warmup {
		if !common.IsHexAddress(addr) {
			return fmt.Errorf("invalid warmup token address: %s", addr)
		}
	}

	// Events validation
	switch c.Events.Publisher {
	case "sns", "log", "noop":
	default:
		return fmt.Errorf("invalid events publisher: %s (expected sns, log, or noop)", c.Events.Publisher)
	}
	if c.Events.Publisher == "sns" {
		if c.AWS.Region == "" {
			return fmt.Errorf("AWS region is required for the sns publisher")
		}
		if c.AWS.SNSTopicARN == "" {
			return fmt.Errorf("SNS topic ARN is required for the sns publisher")
		}
	}
	if c.Events.BufferSize <= 0 {
		return fmt.Errorf("events buffer size must be positive")
	}

	// Redis validation
	if c.Redis.Enabled && c.Redis.Address == "" {
		return fmt.Errorf("redis address is required when redis is enabled")
	}

	// Observability validation
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.Observability.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Observability.Logging.Level)
	}

	validLogFormats := map[string]bool{
		"json": true,
		"text": true,
	}
	if !validLogFormats[c.Observability.Logging.Format] {
		return fmt.Errorf("invalid log format: %s", c.Observability.Logging.Format)
	}

	return nil
}
