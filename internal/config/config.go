package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Gmail      GmailConfig      `yaml:"gmail" mapstructure:"gmail"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	HubSpot    HubSpotConfig    `yaml:"hubspot" mapstructure:"hubspot"`
	Salesforce SalesforceConfig `yaml:"salesforce" mapstructure:"salesforce"`
	Run        RunConfig        `yaml:"run" mapstructure:"run"`
	Resilience ResilienceConfig `yaml:"resilience" mapstructure:"resilience"`
	Pricing    PricingConfig    `yaml:"pricing" mapstructure:"pricing"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// GmailConfig configures mailbox polling.
type GmailConfig struct {
	BaseURL     string          `yaml:"base_url" mapstructure:"base_url"`
	MaxMessages int             `yaml:"max_messages" mapstructure:"max_messages"`
	Accounts    []AccountConfig `yaml:"accounts" mapstructure:"accounts"`
}

// AccountConfig is one monitored mailbox: the owning user, its access token,
// and the CRM providers its mail routes to.
type AccountConfig struct {
	UserID      string   `yaml:"user_id" mapstructure:"user_id"`
	AccessToken string   `yaml:"access_token" mapstructure:"access_token"`
	Providers   []string `yaml:"providers" mapstructure:"providers"`
}

// AnthropicConfig holds Anthropic API settings. Keys is the ordered
// credential list the gateway rotates through.
type AnthropicConfig struct {
	Keys        []string `yaml:"keys" mapstructure:"keys"`
	Model       string   `yaml:"model" mapstructure:"model"`
	MaxTokens   int      `yaml:"max_tokens" mapstructure:"max_tokens"`
	TimeoutSecs int      `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// HubSpotConfig holds HubSpot private app settings.
type HubSpotConfig struct {
	Token   string `yaml:"token" mapstructure:"token"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// SalesforceConfig holds Salesforce JWT auth settings.
type SalesforceConfig struct {
	Domain      string `yaml:"domain" mapstructure:"domain"`
	Username    string `yaml:"username" mapstructure:"username"`
	ConsumerKey string `yaml:"consumer_key" mapstructure:"consumer_key"`
	KeyPath     string `yaml:"key_path" mapstructure:"key_path"`
	InstanceURL string `yaml:"instance_url" mapstructure:"instance_url"`
}

// RunConfig configures pipeline execution.
type RunConfig struct {
	MaxConcurrentUsers int `yaml:"max_concurrent_users" mapstructure:"max_concurrent_users"`
	PollIntervalSecs   int `yaml:"poll_interval_secs" mapstructure:"poll_interval_secs"`
}

// ResilienceConfig tunes the per-provider circuit breakers around CRM
// execution. Zero values fall back to the package defaults.
type ResilienceConfig struct {
	CircuitFailureThreshold int `yaml:"circuit_failure_threshold" mapstructure:"circuit_failure_threshold"`
	CircuitResetTimeoutSecs int `yaml:"circuit_reset_timeout_secs" mapstructure:"circuit_reset_timeout_secs"`
}

// PricingConfig holds per-provider pricing rates.
type PricingConfig struct {
	Anthropic map[string]ModelPricing `yaml:"anthropic" mapstructure:"anthropic"`
}

// ModelPricing holds per-model token pricing (USD per million tokens).
type ModelPricing struct {
	Input  float64 `yaml:"input" mapstructure:"input"`
	Output float64 `yaml:"output" mapstructure:"output"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Validate checks that the configuration required for the given mode is
// present. Modes: "sync" (mailbox polling only), "run" (full pipeline),
// "migrate" (schema setup).
func (c *Config) Validate(mode string) error {
	var problems []string

	requireDB := func() {
		if c.Store.DatabaseURL == "" {
			problems = append(problems, "store.database_url is required")
		}
		if c.Store.Driver != "postgres" && c.Store.Driver != "sqlite" {
			problems = append(problems, "store.driver must be postgres or sqlite")
		}
	}
	requireAccounts := func() {
		if len(c.Gmail.Accounts) == 0 {
			problems = append(problems, "gmail.accounts must list at least one mailbox")
		}
		for _, a := range c.Gmail.Accounts {
			if a.UserID == "" {
				problems = append(problems, "gmail.accounts entries require user_id")
			}
		}
		if c.Gmail.MaxMessages < 1 || c.Gmail.MaxMessages > 500 {
			problems = append(problems, "gmail.max_messages must be between 1 and 500")
		}
	}

	switch mode {
	case "migrate":
		requireDB()
	case "sync":
		requireDB()
		requireAccounts()
	case "run":
		requireDB()
		requireAccounts()
		if len(c.Anthropic.Keys) == 0 {
			problems = append(problems, "anthropic.keys must list at least one credential")
		}
		if c.Run.MaxConcurrentUsers < 1 || c.Run.MaxConcurrentUsers > 50 {
			problems = append(problems, "run.max_concurrent_users must be between 1 and 50")
		}
		if c.Run.PollIntervalSecs < 10 {
			problems = append(problems, "run.poll_interval_secs must be >= 10")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.New("config: " + strings.Join(problems, "; "))
	}
	return nil
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("MAILCRM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("gmail.base_url", "https://gmail.googleapis.com")
	v.SetDefault("gmail.max_messages", 25)
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 1024)
	v.SetDefault("anthropic.timeout_secs", 60)
	v.SetDefault("hubspot.base_url", "https://api.hubapi.com")
	v.SetDefault("salesforce.domain", "https://login.salesforce.com")
	v.SetDefault("run.max_concurrent_users", 4)
	v.SetDefault("run.poll_interval_secs", 300)
	v.SetDefault("resilience.circuit_failure_threshold", 5)
	v.SetDefault("resilience.circuit_reset_timeout_secs", 30)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
