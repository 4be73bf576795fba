package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/shopfakt/internal/taxline"
)

// Config holds the complete application configuration, loadable from
// environment variables (SHOPFAKT_ prefix), flags, or YAML config files.
// It is constructed once at startup and passed by reference; no component
// reads the process environment after this.
type Config struct {
	Addr          string `default:"0.0.0.0:8080" usage:"Webhook server listen address"`
	WebhookSecret string `usage:"Shared secret for webhook signature verification (SHOPFAKT_WEBHOOK_SECRET)" flag:"webhook-secret"`
	InFakt        InFaktConfig
	Tax           TaxConfig
	Invoice       InvoiceConfig
	Dedup         DedupConfig
	RateLimit     RateLimitConfig
	Graceful      GracefulConfig
}

// InFaktConfig controls the accounting API client and the async workflows.
type InFaktConfig struct {
	APIKey           string        `usage:"inFakt API key (SHOPFAKT_INFAKT_API_KEY)" flag:"infakt-api-key"`
	Host             string        `default:"api.infakt.pl" usage:"inFakt API host"`
	Timeout          time.Duration `default:"30s" usage:"Outbound request timeout"`
	MarkPaid         bool          `default:"true" usage:"Mark issued invoices as paid"`
	AsyncCorrections bool          `default:"true" usage:"Send refund corrections through the async endpoint"`
	PollAttempts     int           `default:"10" usage:"Async task status poll attempts"`
	PollInterval     time.Duration `default:"2s" usage:"Delay between async task status polls"`
}

// TaxConfig controls the tax-line builder. Rates are decimal fractions given
// as strings ("0.23"); an empty AdjustmentRate leaves it unset.
type TaxConfig struct {
	DefaultRate       string `default:"0.23" usage:"Fallback VAT rate when the order carries no tax data" flag:"default-rate"`
	TaxesIncluded     bool   `default:"true" usage:"Upstream prices include tax"`
	DiscountMode      string `default:"allocations" usage:"Discount policy: allocations, prorate, trailing, none" flag:"discount-mode"`
	AdjustmentName    string `default:"Korekta zaokrąglenia" usage:"Name of the rounding adjustment entry" flag:"adjustment-name"`
	AdjustmentRate    string `default:"0.23" usage:"VAT rate of the rounding adjustment entry" flag:"adjustment-rate"`
	FlatRateTaxSymbol string `default:"" usage:"Flat-rate tax symbol stamped on every entry, if any" flag:"flat-rate-symbol"`
	ZeroRateSymbol    string `default:"zw" usage:"Tax symbol for zero/exempt rates" flag:"zero-rate-symbol"`
}

// InvoiceConfig controls invoice-level fields.
type InvoiceConfig struct {
	Series        string `default:"A" usage:"Invoice numbering series"`
	PaymentMethod string `default:"transfer" usage:"Payment method stamped on invoices" flag:"payment-method"`
	DueDays       int    `default:"7" usage:"Payment term in days" flag:"due-days"`
}

// DedupConfig sizes the in-process duplicate-delivery filter.
type DedupConfig struct {
	Capacity   uint    `default:"1000000" usage:"Expected delivery count for the bloom filter"`
	FPR        float64 `default:"0.0001" usage:"Bloom filter false positive rate"`
	RecentSize int     `default:"4096" usage:"Exact-match window of recent delivery keys" flag:"recent-size"`
}

// RateLimitConfig controls the per-client sliding window rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
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
		EnvPrefix: "SHOPFAKT",
		Files:     []string{"config.yaml", "/etc/shopfakt/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if cfg.WebhookSecret == "" {
		return nil, errors.New("webhook secret is required: set SHOPFAKT_WEBHOOK_SECRET")
	}
	if cfg.InFakt.APIKey == "" {
		return nil, errors.New("inFakt API key is required: set SHOPFAKT_INFAKT_API_KEY")
	}
	if _, err := cfg.Tax.Build(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Build parses the string-typed rates into a taxline.Config.
func (c TaxConfig) Build() (taxline.Config, error) {
	defaultRate, err := decimal.NewFromString(c.DefaultRate)
	if err != nil {
		return taxline.Config{}, errors.Wrapf(err, "parse default rate %q", c.DefaultRate)
	}

	var adjRate *decimal.Decimal
	if c.AdjustmentRate != "" {
		r, err := decimal.NewFromString(c.AdjustmentRate)
		if err != nil {
			return taxline.Config{}, errors.Wrapf(err, "parse adjustment rate %q", c.AdjustmentRate)
		}
		adjRate = &r
	}

	mode := taxline.DiscountMode(c.DiscountMode)
	switch mode {
	case taxline.DiscountAllocations, taxline.DiscountProrate, taxline.DiscountTrailing, taxline.DiscountNone:
	default:
		return taxline.Config{}, errors.Errorf("unknown discount mode %q", c.DiscountMode)
	}

	return taxline.Config{
		DefaultRate:       defaultRate,
		TaxesIncluded:     c.TaxesIncluded,
		DiscountMode:      mode,
		AdjustmentName:    c.AdjustmentName,
		AdjustmentRate:    adjRate,
		FlatRateTaxSymbol: c.FlatRateTaxSymbol,
		ZeroRateSymbol:    c.ZeroRateSymbol,
	}, nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like PORT to the application's
// SHOPFAKT_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
