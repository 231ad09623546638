package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

// Config holds the complete application configuration, loadable from
// environment variables (BAZAAR_ prefix), flags, or YAML config files.
type Config struct {
	Addr        string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL string `usage:"PostgreSQL connection URL (BAZAAR_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	Currency    string `default:"USD" usage:"Currency code for all orders"`

	Gateway   GatewayConfig
	Shipping  ShippingConfig
	Payments  PaymentsConfig
	Coupons   CouponsConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
	RateLimit RateLimitConfig
	CORS      CORSConfig
	Graceful  GracefulConfig
}

// GatewayConfig holds the payment gateway merchant account.
type GatewayConfig struct {
	BaseURL     string   `usage:"Payment gateway base URL" flag:"gateway-url"`
	Key         string   `usage:"Merchant key" flag:"gateway-key"`
	Salt        string   `usage:"Merchant salt" flag:"gateway-salt"`
	StatusPaths []string `usage:"Override status endpoint candidates" flag:"gateway-status-paths"`
}

// ShippingConfig holds the courier aggregator account.
type ShippingConfig struct {
	BaseURL          string `usage:"Shipping aggregator base URL" flag:"shipping-url"`
	Email            string `usage:"Aggregator account email" flag:"shipping-email"`
	Password         string `usage:"Aggregator account password" flag:"shipping-password"`
	PickupPostcode   string `usage:"Warehouse pickup postcode" flag:"pickup-postcode"`
	PreferredCourier string `default:"" usage:"Courier name fragment preferred at rate selection" flag:"preferred-courier"`
}

// PaymentsConfig holds browser destinations around the hosted checkout.
type PaymentsConfig struct {
	ThankYouURL string `usage:"Browser destination after a verified payment" flag:"thank-you-url"`
	FailedURL   string `usage:"Browser destination after a failed payment" flag:"failed-url"`
	ReturnURL   string `usage:"Public URL of the payment return endpoint" flag:"return-url"`
}

// CouponsConfig holds the coupon stacking policy.
type CouponsConfig struct {
	SinglePerOrder  bool `default:"false" usage:"Allow at most one coupon per order" flag:"single-coupon-per-order"`
	SinglePerVendor bool `default:"true" usage:"Allow at most one coupon per vendor" flag:"single-coupon-per-vendor"`
}

// RedisConfig holds the optional shared cache. Empty Addr disables it.
type RedisConfig struct {
	Addr     string `default:"" usage:"Redis address for shared caches (empty disables)" flag:"redis-addr"`
	Password string `default:"" usage:"Redis password" flag:"redis-password"`
	DB       int    `default:"0" usage:"Redis database index" flag:"redis-db"`
}

// KafkaConfig holds the optional event broker. Empty Brokers disables it.
type KafkaConfig struct {
	Brokers []string `usage:"Kafka broker addresses (empty disables events)" flag:"kafka-brokers"`
	Topic   string   `default:"bazaar.orders" usage:"Topic for order events" flag:"kafka-topic"`
}

// RateLimitConfig controls the per-client sliding window rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config
// files, and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "BAZAAR",
		Files:     []string{"config.yaml", "/etc/bazaar/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if cfg.DatabaseURL == "" {
		return nil, errors.New("database URL is required: set BAZAAR_DATABASE_URL or DATABASE_URL")
	}

	return &cfg, nil
}

// applyPlatformDefaults maps platform-provided environment variables
// (Railway, Render, etc.) that use standard names like DATABASE_URL and PORT
// to the application's BAZAAR_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
