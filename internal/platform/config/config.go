package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Provider     ProviderConfig     `mapstructure:"provider"`
	OIDC         OIDCConfig         `mapstructure:"oidc"`
	JWT          JWTConfig          `mapstructure:"jwt"`
	Pull         PullConfig         `mapstructure:"pull"`
	Entitlements EntitlementsConfig `mapstructure:"entitlements"`
	Logging      LoggingConfig      `mapstructure:"logging"`
}

type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

type DatabaseConfig struct {
	Path           string `mapstructure:"path"`
	MaxConnections int    `mapstructure:"max_connections"`
}

// ProviderConfig describes the identity provider this deployment
// mirrors data from.
type ProviderConfig struct {
	// BaseURL is the root of the provider's API, e.g.
	// https://accounts.example.com
	BaseURL string `mapstructure:"base_url"`

	// WebhookSecret is the shared HMAC secret for cache-invalidation
	// notices.
	WebhookSecret string `mapstructure:"webhook_secret"`

	// DisableCreate stops pulls from creating users or organizations
	// that do not already exist locally.
	DisableCreate bool `mapstructure:"disable_create"`

	// DisableCreateAgency stops agency accounts from being created at
	// all, including during interactive login.
	DisableCreateAgency bool `mapstructure:"disable_create_agency"`

	// WhitelistVerifiedJournalists restricts login to identities that
	// belong to at least one verified journalist organization.
	WhitelistVerifiedJournalists bool `mapstructure:"whitelist_verified_journalists"`

	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

type OIDCConfig struct {
	// IssuerURL is used for discovery; usually <provider>/openid.
	IssuerURL    string   `mapstructure:"issuer_url"`
	ClientID     string   `mapstructure:"client_id"`
	ClientSecret string   `mapstructure:"client_secret"`
	RedirectURL  string   `mapstructure:"redirect_url"`
	Scopes       []string `mapstructure:"scopes"`

	// PostLogoutURL is where the provider sends the browser after
	// end-session.
	PostLogoutURL string `mapstructure:"post_logout_url"`
}

type JWTConfig struct {
	Secret         string        `mapstructure:"secret"`
	AccessTokenTTL time.Duration `mapstructure:"access_token_ttl"`
}

type PullConfig struct {
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	RetryAttempts int           `mapstructure:"retry_attempts"`
	RetryBackoff  time.Duration `mapstructure:"retry_backoff"`
	MaxBackoff    time.Duration `mapstructure:"max_backoff"`
	BatchSize     int           `mapstructure:"batch_size"`
}

// ResourceField declares one key that may appear in an entitlement's
// resources mapping, with the value used when the provider omits it.
type ResourceField struct {
	Name    string `mapstructure:"name"`
	Default any    `mapstructure:"default"`
}

type EntitlementsConfig struct {
	ResourceFields []ResourceField `mapstructure:"resource_fields"`
}

type LoggingConfig struct {
	Level    string `mapstructure:"level"`
	Format   string `mapstructure:"format"`
	Output   string `mapstructure:"output"`
	FilePath string `mapstructure:"file_path"`
}

func Load(path string) (*Config, error) {
	viper.SetConfigFile(path)
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		return nil, err
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Provider.RequestTimeout == 0 {
		c.Provider.RequestTimeout = 10 * time.Second
	}
	if c.Pull.PollInterval == 0 {
		c.Pull.PollInterval = 5 * time.Second
	}
	if c.Pull.RetryAttempts == 0 {
		c.Pull.RetryAttempts = 5
	}
	if c.Pull.RetryBackoff == 0 {
		c.Pull.RetryBackoff = time.Second
	}
	if c.Pull.MaxBackoff == 0 {
		c.Pull.MaxBackoff = 10 * time.Minute
	}
	if c.Pull.BatchSize == 0 {
		c.Pull.BatchSize = 25
	}
	if c.JWT.AccessTokenTTL == 0 {
		c.JWT.AccessTokenTTL = 15 * time.Minute
	}
	if len(c.OIDC.Scopes) == 0 {
		c.OIDC.Scopes = []string{"openid", "email", "profile", "uuid", "organizations"}
	}
}

// Validate checks every required key eagerly and reports all missing
// keys in a single error, so a misconfigured deployment fails at
// startup with the complete list.
func (c *Config) Validate() error {
	var missing []string
	required := []struct {
		key   string
		value string
	}{
		{"provider.base_url", c.Provider.BaseURL},
		{"provider.webhook_secret", c.Provider.WebhookSecret},
		{"oidc.issuer_url", c.OIDC.IssuerURL},
		{"oidc.client_id", c.OIDC.ClientID},
		{"oidc.client_secret", c.OIDC.ClientSecret},
		{"oidc.redirect_url", c.OIDC.RedirectURL},
		{"jwt.secret", c.JWT.Secret},
		{"database.path", c.Database.Path},
	}
	for _, r := range required {
		if r.value == "" {
			missing = append(missing, r.key)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required config keys: %s", strings.Join(missing, ", "))
	}
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unrecognized logging.level %q (want debug, info, warn or error)", c.Logging.Level)
	}
	return nil
}
