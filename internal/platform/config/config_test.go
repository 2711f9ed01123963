package config

import (
	"strings"
	"testing"
	"time"
)

func validConfig() *Config {
	return &Config{
		Chain: ChainConfig{
			ID: 56,
			RPCEndpoints: []RPCEndpoint{
				{URL: "https://bsc-dataseed1.binance.org", Weight: 3},
				{URL: "https://bsc-dataseed2.binance.org", Weight: 1},
			},
			RateLimit:       RateLimitConfig{RequestsPerSecond: 20, Burst: 40},
			GasPriceTTL:     3 * time.Second,
			MaxGasPriceGwei: 50,
		},
		Routing: RoutingConfig{
			BaseAsset: "0xbb4CdB9CBd36B01bD1cBaEBF2De08d9173bc095c",
			V2Router:  "0x10ED43C718714eb63d5aA57B78B54704E256024E",
			V3Router:  "0x13f4EA83D0bd40E75C8222255bc855a974568Dd4",
			Venues: []VenueConfig{
				{
					ID:     "pancake-v2-wbnb-busd",
					Kind:   "constant_product",
					FeeBps: 25,
					Pool:   "0x58F876857a02D6762E0101bb5C46A8c1ED44Dc16",
					Token0: "0xbb4CdB9CBd36B01bD1cBaEBF2De08d9173bc095c",
					Token1: "0xe9e7CEA3DedcA5984780Bafc599bD69ADd087D56",
				},
			},
			QuoteConcurrency: 4,
		},
		Executor: ExecutorConfig{
			DeadlineWindow:      5 * time.Minute,
			ConfirmPollInterval: 3 * time.Second,
			ConfirmTimeout:      6 * time.Minute,
			RetryAttempts:       3,
			RetryBaseDelay:      500 * time.Millisecond,
			GasLimitSwap:        350000,
			GasLimitApprove:     60000,
		},
		Batch: BatchConfig{
			MaxConcurrency: 3,
			InterOpDelay:   time.Second,
			PerOpTimeout:   10 * time.Minute,
		},
		Events: EventsConfig{Publisher: "log", BufferSize: 256},
		AWS:    AWSConfig{Region: "us-east-1"},
		Observability: ObservabilityConfig{
			Logging: LoggingConfig{Level: "info", Format: "json"},
		},
		Server: ServerConfig{Port: 8080},
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got: %v", err)
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "no RPC endpoints",
			mutate:  func(c *Config) { c.Chain.RPCEndpoints = nil },
			wantErr: "at least one RPC endpoint",
		},
		{
			name:    "empty endpoint URL",
			mutate:  func(c *Config) { c.Chain.RPCEndpoints[0].URL = "" },
			wantErr: "URL must not be empty",
		},
		{
			name:    "zero chain id",
			mutate:  func(c *Config) { c.Chain.ID = 0 },
			wantErr: "chain id must be positive",
		},
		{
			name:    "bad base asset",
			mutate:  func(c *Config) { c.Routing.BaseAsset = "not-an-address" },
			wantErr: "invalid base asset address",
		},
		{
			name:    "no venues",
			mutate:  func(c *Config) { c.Routing.Venues = nil },
			wantErr: "at least one venue",
		},
		{
			name:    "unknown venue kind",
			mutate:  func(c *Config) { c.Routing.Venues[0].Kind = "orderbook" },
			wantErr: "unknown kind",
		},
		{
			name:    "fee bps out of range",
			mutate:  func(c *Config) { c.Routing.Venues[0].FeeBps = 5000 },
			wantErr: "fee_bps",
		},
		{
			name:    "bad venue pool address",
			mutate:  func(c *Config) { c.Routing.Venues[0].Pool = "0x123" },
			wantErr: "invalid pool address",
		},
		{
			name: "duplicate venue id",
			mutate: func(c *Config) {
				c.Routing.Venues = append(c.Routing.Venues, c.Routing.Venues[0])
			},
			wantErr: "duplicate venue id",
		},
		{
			name:    "concurrency too high",
			mutate:  func(c *Config) { c.Batch.MaxConcurrency = 11 },
			wantErr: "out of range [1,10]",
		},
		{
			name:    "concurrency too low",
			mutate:  func(c *Config) { c.Batch.MaxConcurrency = 0 },
			wantErr: "out of range [1,10]",
		},
		{
			name:    "bad events publisher",
			mutate:  func(c *Config) { c.Events.Publisher = "kafka" },
			wantErr: "invalid events publisher",
		},
		{
			name: "sns publisher without topic",
			mutate: func(c *Config) {
				c.Events.Publisher = "sns"
				c.AWS.SNSTopicARN = ""
			},
			wantErr: "SNS topic ARN is required",
		},
		{
			name:    "bad warmup address",
			mutate:  func(c *Config) { c.Tokens.Warmup = []string{"nope"} },
			wantErr: "invalid warmup token address",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Observability.Logging.Level = "verbose" },
			wantErr: "invalid log level",
		},
		{
			name:    "bad log format",
			mutate:  func(c *Config) { c.Observability.Logging.Format = "xml" },
			wantErr: "invalid log format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %q", tt.wantErr, err.Error())
			}
		})
	}
}
