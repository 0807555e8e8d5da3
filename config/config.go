// Package config reads process configuration from the environment and
// optional .env files.
package config

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/warp/staffdocs/leave"
)

// DefaultEnvFiles are read in order when present. Variables already set in
// the environment win.
var DefaultEnvFiles = []string{".env", ".env.local"}

type RulesOptions struct {
	FilingLeadDays       int `env:"FILING_LEAD_DAYS" envDefault:"14"`
	ContractWarningDays  int `env:"CONTRACT_WARNING_DAYS" envDefault:"14"`
	MaxPendingPaidLeave  int `env:"MAX_PENDING_PAID_LEAVE" envDefault:"3"`
	MaxPendingExtensions int `env:"MAX_PENDING_EXTENSIONS" envDefault:"1"`
}

type AllocatorOptions struct {
	HorizonMonths  int `env:"ALLOC_HORIZON_MONTHS" envDefault:"1"`
	MaxExpansions  int `env:"ALLOC_MAX_EXPANSIONS" envDefault:"3"`
	MaxRangeLength int `env:"ALLOC_MAX_RANGE_LENGTH" envDefault:"14"`
}

type Configuration struct {
	HTTPPort  int    `env:"HTTP_PORT" envDefault:"8080"`
	DBPath    string `env:"DB_PATH" envDefault:"staffdocs.db"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"` // text or json

	TelegramBotToken string `env:"TELEGRAM_BOT_TOKEN"`
	RenderDir        string `env:"RENDER_DIR" envDefault:"artifacts"`
	HolidaysFile     string `env:"HOLIDAYS_FILE"`

	StaleAfter        time.Duration `env:"STALE_AFTER" envDefault:"24h"`
	StaleScanInterval time.Duration `env:"STALE_SCAN_INTERVAL" envDefault:"1h"`

	MetricsEnabled bool     `env:"METRICS_ENABLED" envDefault:"true"`
	CORSOrigins    []string `env:"CORS_ORIGINS" envSeparator:"," envDefault:"*"`

	Rules     RulesOptions
	Allocator AllocatorOptions
}

// Load reads the given .env files (missing ones are skipped) and parses the
// environment.
func Load(envFiles ...string) (*Configuration, error) {
	var existing []string
	for _, f := range envFiles {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}
	if len(existing) > 0 {
		if err := godotenv.Load(existing...); err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
	}

	c := &Configuration{}
	if err := env.Parse(c); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Configuration) Validate() error {
	var problems []string
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		problems = append(problems, fmt.Sprintf("HTTP_PORT %d out of range", c.HTTPPort))
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		problems = append(problems, fmt.Sprintf("LOG_FORMAT must be text or json, got %q", c.LogFormat))
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		problems = append(problems, err.Error())
	}
	if c.StaleAfter <= 0 {
		problems = append(problems, "STALE_AFTER must be positive")
	}
	if c.StaleScanInterval <= 0 {
		problems = append(problems, "STALE_SCAN_INTERVAL must be positive")
	}
	if c.Allocator.HorizonMonths < 1 || c.Allocator.MaxExpansions < 0 || c.Allocator.MaxRangeLength < 1 {
		problems = append(problems, "allocator horizon, expansions and range length must be positive")
	}
	if c.Rules.FilingLeadDays < 0 || c.Rules.ContractWarningDays < 0 ||
		c.Rules.MaxPendingPaidLeave < 0 || c.Rules.MaxPendingExtensions < 0 {
		problems = append(problems, "rule thresholds cannot be negative")
	}
	if len(problems) > 0 {
		return fmt.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// ValidatorRules converts the rule options.
func (c *Configuration) ValidatorRules() leave.Rules {
	return leave.Rules{
		FilingLeadDays:       c.Rules.FilingLeadDays,
		ContractWarningDays:  c.Rules.ContractWarningDays,
		MaxPendingPaidLeave:  c.Rules.MaxPendingPaidLeave,
		MaxPendingExtensions: c.Rules.MaxPendingExtensions,
	}
}

// Logger builds the process logger.
func (c *Configuration) Logger(out io.Writer) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(out)
	if level, err := logrus.ParseLevel(c.LogLevel); err == nil {
		log.SetLevel(level)
	}
	if c.LogFormat == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return log
}

func (c *Configuration) Addr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}
