package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// CadenceDaily and CadenceStartup are the recognized refresh cadences for the
// common-pair set.
const (
	CadenceDaily   = "daily"
	CadenceStartup = "startup"
)

// WebhookEnvVar names the environment variable carrying the webhook secret.
const WebhookEnvVar = "DISCORD_WEBHOOK_URL"

type Config struct {
	App       AppConfig        `yaml:"app"`
	Schedule  ScheduleConfig   `yaml:"schedule"`
	Analysis  AnalysisConfig   `yaml:"analysis"`
	Exchanges []ExchangeConfig `yaml:"exchanges" validate:"required,min=1,dive"`
	Storage   StorageConfig    `yaml:"storage"`
	Logging   LoggingConfig    `yaml:"logging"`

	// WebhookURL is never read from the YAML file; it is injected from the
	// process environment during LoadConfig.
	WebhookURL string `yaml:"-"`
}

type AppConfig struct {
	Name    string `yaml:"name" default:"perpscan"`
	Version string `yaml:"version" default:"1.0.0"`
}

type ScheduleConfig struct {
	CommonPairsUpdate string `yaml:"common_pairs_update" default:"daily" validate:"oneof=daily startup"`
	NotificationTime  string `yaml:"notification_time" default:"45 * * * *" validate:"required"`
}

type AnalysisConfig struct {
	FRDivergence FRDivergenceConfig `yaml:"fr_divergence"`
	OIRatio      OIRatioConfig      `yaml:"oi_ratio"`
}

type FRDivergenceConfig struct {
	MinVolumeUSD float64 `yaml:"min_volume_usd" default:"1000000" validate:"gte=0"`
	TopN         int     `yaml:"top_n" default:"5" validate:"gt=0"`
}

type OIRatioConfig struct {
	MinVolumeUSD float64 `yaml:"min_volume_usd" default:"10000000" validate:"gte=0"`
	MaxVolumeUSD float64 `yaml:"max_volume_usd" default:"30000000" validate:"gt=0"`
	MaxOIRatio   float64 `yaml:"max_oi_ratio" default:"1.0" validate:"gt=0"`
	TopN         int     `yaml:"top_n" default:"3" validate:"gt=0"`
	BaseExchange string  `yaml:"base_exchange" validate:"required"`
}

type ExchangeConfig struct {
	Name       string             `yaml:"name" validate:"required"`
	Type       string             `yaml:"type" validate:"required"`
	Enabled    bool               `yaml:"enabled"`
	APIBaseURL string             `yaml:"api_base_url" validate:"required,url"`
	Config     ExchangeTuneConfig `yaml:"config"`
}

// ExchangeTuneConfig carries exchange specific knobs. RateLimit is the
// advisory request budget per minute used to pace adapter calls.
type ExchangeTuneConfig struct {
	RateLimit int `yaml:"rate_limit" default:"600" validate:"gt=0"`
}

type StorageConfig struct {
	CacheFile string `yaml:"cache_file" default:"data/common_pairs.json" validate:"required"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" default:"info"`
	Format string `yaml:"format" default:"json"`
	File   string `yaml:"file" default:"logs/perpscan.log"`
	MaxAge int    `yaml:"max_age" default:"7"`
}

// LoadConfig reads, defaults, and validates the YAML configuration and
// injects the webhook secret from the environment. Any failure here is fatal
// for the process.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := defaults.Set(&config); err != nil {
		return nil, fmt.Errorf("failed to apply config defaults: %w", err)
	}

	config.WebhookURL = strings.TrimSpace(os.Getenv(WebhookEnvVar))

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

var validate = validator.New()

func validateConfig(cfg *Config) error {
	if cfg.WebhookURL == "" {
		return fmt.Errorf("%s must be set in the environment", WebhookEnvVar)
	}

	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("field '%s' failed '%s' constraint", fe.Namespace(), fe.Tag())
		}
		return err
	}

	oi := cfg.Analysis.OIRatio
	if oi.MaxVolumeUSD < oi.MinVolumeUSD {
		return fmt.Errorf("analysis.oi_ratio.max_volume_usd must be >= min_volume_usd")
	}

	enabled := cfg.EnabledExchanges()
	if len(enabled) == 0 {
		return fmt.Errorf("no exchanges enabled")
	}
	seen := make(map[string]struct{}, len(cfg.Exchanges))
	for _, ex := range cfg.Exchanges {
		name := strings.ToLower(ex.Name)
		if _, dup := seen[name]; dup {
			return fmt.Errorf("duplicate exchange name '%s'", ex.Name)
		}
		seen[name] = struct{}{}
	}

	baseEnabled := false
	for _, ex := range enabled {
		if strings.EqualFold(ex.Name, cfg.Analysis.OIRatio.BaseExchange) {
			baseEnabled = true
			break
		}
	}
	if !baseEnabled {
		return fmt.Errorf("analysis.oi_ratio.base_exchange '%s' is not an enabled exchange", cfg.Analysis.OIRatio.BaseExchange)
	}

	return nil
}

// EnabledExchanges returns the exchanges that participate in polling cycles,
// in configuration order.
func (c *Config) EnabledExchanges() []ExchangeConfig {
	out := make([]ExchangeConfig, 0, len(c.Exchanges))
	for _, ex := range c.Exchanges {
		if ex.Enabled {
			out = append(out, ex)
		}
	}
	return out
}

// EnabledExchangeNames returns the sorted names of enabled exchanges. The
// sorted form doubles as the pair-set cache key so that enabling or disabling
// an exchange invalidates a cached set.
func (c *Config) EnabledExchangeNames() []string {
	names := make([]string, 0, len(c.Exchanges))
	for _, ex := range c.Exchanges {
		if ex.Enabled {
			names = append(names, ex.Name)
		}
	}
	sort.Strings(names)
	return names
}
