package configs

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/shopspring/decimal"
)

const envPrefix = "PAYAPI_"

// Provider keys as they appear under payments.
const (
	KeyCardBankTransfer = "card_bank_transfer"
	KeyMobileMoneyCard  = "mobile_money_card"
	KeyCryptoInvoice    = "crypto_invoice"
	KeyCardGlobal       = "card_global"
)

type ProviderConfig struct {
	Enabled       bool   `koanf:"enabled"`
	BaseURL       string `koanf:"base_url"`
	SecretKey     string `koanf:"secret_key"`
	WebhookSecret string `koanf:"webhook_secret"`
}

type Config struct {
	App struct {
		Name     string `koanf:"name"`
		HTTPAddr string `koanf:"http_addr"`
		LogLevel string `koanf:"log_level"`
		LogFile  string `koanf:"log_file"`
	} `koanf:"app"`

	HTTP struct {
		ReadTimeout  time.Duration `koanf:"read_timeout"`
		WriteTimeout time.Duration `koanf:"write_timeout"`
		IdleTimeout  time.Duration `koanf:"idle_timeout"`
	} `koanf:"http"`

	Store struct {
		Driver string `koanf:"driver"` // mysql | postgres | memory
	} `koanf:"store"`

	MySQL struct {
		DSN             string        `koanf:"dsn"`
		MaxOpenConns    int           `koanf:"max_open_conns"`
		MaxIdleConns    int           `koanf:"max_idle_conns"`
		ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	} `koanf:"mysql"`

	Postgres struct {
		DSN      string `koanf:"dsn"`
		MaxConns int32  `koanf:"max_conns"`
	} `koanf:"postgres"`

	Redis struct {
		Addr     string `koanf:"addr"`
		Password string `koanf:"password"`
	} `koanf:"redis"`

	Idempotency struct {
		TTL           time.Duration `koanf:"ttl"`
		WebhookWindow time.Duration `koanf:"webhook_window"`
	} `koanf:"idempotency"`

	Cache struct {
		TTL time.Duration `koanf:"ttl"`
	} `koanf:"cache"`

	Rabbit struct {
		URL        string `koanf:"url"`
		Exchange   string `koanf:"exchange"`
		RoutingKey string `koanf:"routing_key"`
		Queue      string `koanf:"queue"`
		Prefetch   int    `koanf:"prefetch"`
	} `koanf:"rabbitmq"`

	Kafka struct {
		Brokers         []string `koanf:"brokers"`
		AuditTopic      string   `koanf:"audit_topic"`
		ReplayTopic     string   `koanf:"replay_topic"`
		DeadLetterTopic string   `koanf:"dead_letter_topic"`
		GroupID         string   `koanf:"group_id"`
	} `koanf:"kafka"`

	Security struct {
		JWTSecret string `koanf:"jwt_secret"`
		Issuer    string `koanf:"issuer"`
		Audience  string `koanf:"audience"`
	} `koanf:"security"`

	CryptoConfig struct {
		KeyID     string `koanf:"key_id"`
		AES256B64 string `koanf:"aes256_b64url"`
	} `koanf:"crypto"`

	GRPC struct {
		HealthAddr string `koanf:"health_addr"`
	} `koanf:"grpc"`

	Payments struct {
		InitiateTimeout         time.Duration `koanf:"initiate_timeout"`
		WebhookTimeout          time.Duration `koanf:"webhook_timeout"`
		AmountMismatchTolerance string        `koanf:"amount_mismatch_tolerance"`
		ReferencePrefix         string        `koanf:"reference_prefix"`
		ReturnURL               string        `koanf:"return_url"`
		PublicBaseURL           string        `koanf:"public_base_url"`

		CardBankTransfer ProviderConfig `koanf:"card_bank_transfer"`
		MobileMoneyCard  ProviderConfig `koanf:"mobile_money_card"`
		CryptoInvoice    ProviderConfig `koanf:"crypto_invoice"`
		CardGlobal       ProviderConfig `koanf:"card_global"`
	} `koanf:"payments"`
}

func Load(pathDir, envName string) (Config, error) {
	k := koanf.New(".")
	// 1) base
	if err := k.Load(file.Provider(fmt.Sprintf("%s/base.yaml", pathDir)), yaml.Parser()); err != nil {
		return Config{}, fmt.Errorf("load base: %w", err)
	}

	// 2) env override (dev/staging/prod). Optional: allow missing for local runs.
	_ = k.Load(file.Provider(fmt.Sprintf("%s/%s.yaml", pathDir, envName)), yaml.Parser())

	// 3) environment variables override (prefix PAYAPI_, nested with __)
	// e.g. PAYAPI_MYSQL__DSN, PAYAPI_PAYMENTS__CARD_GLOBAL__SECRET_KEY
	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(s, envPrefix)
		s = strings.ReplaceAll(s, "__", ".")
		return strings.ToLower(s)
	}), nil); err != nil {
		return Config{}, fmt.Errorf("env overlay: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Store.Driver == "" {
		c.Store.Driver = "mysql"
	}
	if c.Payments.InitiateTimeout <= 0 {
		c.Payments.InitiateTimeout = 10 * time.Second
	}
	if c.Payments.WebhookTimeout <= 0 {
		c.Payments.WebhookTimeout = 5 * time.Second
	}
	if c.Payments.AmountMismatchTolerance == "" {
		c.Payments.AmountMismatchTolerance = "0.001"
	}
	if c.Payments.ReferencePrefix == "" {
		c.Payments.ReferencePrefix = "AM"
	}
	if c.Idempotency.TTL <= 0 {
		c.Idempotency.TTL = 24 * time.Hour
	}
	if c.Idempotency.WebhookWindow <= 0 {
		c.Idempotency.WebhookWindow = 72 * time.Hour
	}
	if c.Rabbit.Exchange == "" {
		c.Rabbit.Exchange = "payment.events"
	}
	if c.Rabbit.RoutingKey == "" {
		c.Rabbit.RoutingKey = "order.status.changed"
	}
}

// Providers returns the provider sections keyed by their config key.
func (c Config) Providers() map[string]ProviderConfig {
	return map[string]ProviderConfig{
		KeyCardBankTransfer: c.Payments.CardBankTransfer,
		KeyMobileMoneyCard:  c.Payments.MobileMoneyCard,
		KeyCryptoInvoice:    c.Payments.CryptoInvoice,
		KeyCardGlobal:       c.Payments.CardGlobal,
	}
}

// Tolerance parses payments.amount_mismatch_tolerance.
func (c Config) Tolerance() (decimal.Decimal, error) {
	d, err := decimal.NewFromString(c.Payments.AmountMismatchTolerance)
	if err != nil {
		return decimal.Zero, fmt.Errorf("payments.amount_mismatch_tolerance: %w", err)
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("payments.amount_mismatch_tolerance must not be negative")
	}
	return d, nil
}

func (c Config) Validate() error {
	if c.App.HTTPAddr == "" {
		return fmt.Errorf("app.http_addr required")
	}
	switch c.Store.Driver {
	case "mysql":
		if c.MySQL.DSN == "" {
			return fmt.Errorf("mysql.dsn required")
		}
	case "postgres":
		if c.Postgres.DSN == "" {
			return fmt.Errorf("postgres.dsn required")
		}
	case "memory":
	default:
		return fmt.Errorf("store.driver %q not supported", c.Store.Driver)
	}
	if _, err := c.Tolerance(); err != nil {
		return err
	}
	enabled := 0
	for key, p := range c.Providers() {
		if !p.Enabled {
			continue
		}
		enabled++
		if p.BaseURL == "" || p.SecretKey == "" || p.WebhookSecret == "" {
			return fmt.Errorf("payments.%s: base_url, secret_key and webhook_secret required", key)
		}
	}
	if enabled == 0 {
		return fmt.Errorf("at least one payment provider must be enabled")
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.ReplayTopic != "" && c.Kafka.GroupID == "" {
		return fmt.Errorf("kafka.group_id required when kafka.replay_topic is set")
	}
	return nil
}
