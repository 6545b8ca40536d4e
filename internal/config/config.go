package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/shopspring/decimal"
)

// Config holds all environment-driven settings for the reconciliation core.
type Config struct {
	DBHost     string `env:"DB_HOST" envDefault:"localhost"`
	DBPort     string `env:"DB_PORT" envDefault:"5432"`
	DBUser     string `env:"DB_USER" envDefault:"postgres"`
	DBPassword string `env:"DB_PASSWORD" envDefault:"postgres"`
	DBName     string `env:"DB_NAME" envDefault:"sigmatradebot"`

	BotToken    string `env:"TELEGRAM_BOT_TOKEN"`
	AdminChatID int64  `env:"ADMIN_CHAT_ID"`

	WalletGatewayURL string `env:"WALLET_GATEWAY_URL" envDefault:"http://localhost:8085"`
	WalletGatewayKey string `env:"WALLET_GATEWAY_KEY"`

	ReferralRateLevel1 float64 `env:"REFERRAL_RATE_LEVEL_1" envDefault:"0.03"`
	ReferralRateLevel2 float64 `env:"REFERRAL_RATE_LEVEL_2" envDefault:"0.02"`
	ReferralRateLevel3 float64 `env:"REFERRAL_RATE_LEVEL_3" envDefault:"0.05"`

	DepositMaxAge time.Duration `env:"DEPOSIT_MAX_AGE" envDefault:"24h"`

	RewardSweepInterval       time.Duration `env:"REWARD_SWEEP_INTERVAL" envDefault:"1h"`
	NotificationRetryInterval time.Duration `env:"NOTIFICATION_RETRY_INTERVAL" envDefault:"30m"`
	PaymentRetryInterval      time.Duration `env:"PAYMENT_RETRY_INTERVAL" envDefault:"5m"`
	DepositExpiryInterval     time.Duration `env:"DEPOSIT_EXPIRY_INTERVAL" envDefault:"1h"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"console"`
}

// Load parses configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, nil
}

// DSN builds the postgres connection string.
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=UTC",
		c.DBHost, c.DBUser, c.DBPassword, c.DBName, c.DBPort)
}

// ReferralRates returns the per-level reward rate table.
func (c *Config) ReferralRates() map[int]decimal.Decimal {
	return map[int]decimal.Decimal{
		1: decimal.NewFromFloat(c.ReferralRateLevel1),
		2: decimal.NewFromFloat(c.ReferralRateLevel2),
		3: decimal.NewFromFloat(c.ReferralRateLevel3),
	}
}
