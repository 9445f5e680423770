package identity

import (
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config collects every tunable the engine exposes. Values load from a
// YAML file, environment variables, or both; the environment wins.
type Config struct {
	SigningKey string `yaml:"signing_key" env:"IDENTITY_SIGNING_KEY" env-required:"true" env-description:"HMAC key used to sign access tokens"`
	Issuer     string `yaml:"issuer" env:"IDENTITY_ISSUER" env-default:"go-identity"`
	Audience   string `yaml:"audience" env:"IDENTITY_AUDIENCE" env-default:"go-identity"`

	AccessTokenTTL       time.Duration `yaml:"access_token_ttl" env:"IDENTITY_ACCESS_TOKEN_TTL" env-default:"15m"`
	RefreshTokenTTL      time.Duration `yaml:"refresh_token_ttl" env:"IDENTITY_REFRESH_TOKEN_TTL" env-default:"168h"`
	EmailVerificationTTL time.Duration `yaml:"email_verification_ttl" env:"IDENTITY_EMAIL_VERIFICATION_TTL" env-default:"24h"`
	PasswordResetTTL     time.Duration `yaml:"password_reset_ttl" env:"IDENTITY_PASSWORD_RESET_TTL" env-default:"1h"`

	BcryptCost    int           `yaml:"bcrypt_cost" env:"IDENTITY_BCRYPT_COST" env-default:"12"`
	SweepInterval time.Duration `yaml:"sweep_interval" env:"IDENTITY_SWEEP_INTERVAL" env-default:"24h"`

	Mail     MailConfig     `yaml:"mail"`
	Database DatabaseConfig `yaml:"database"`
}

// DatabaseConfig describes the backing store. The getters satisfy the
// persistence client's config surface.
type DatabaseConfig struct {
	Driver      string        `yaml:"driver" env:"IDENTITY_DB_DRIVER" env-default:"sqlite"`
	DSN         string        `yaml:"dsn" env:"IDENTITY_DB_DSN" env-default:"file::memory:?cache=shared"`
	Database    string        `yaml:"database" env:"IDENTITY_DB_NAME"`
	Server      string        `yaml:"server" env:"IDENTITY_DB_SERVER"`
	Debug       bool          `yaml:"debug" env:"IDENTITY_DB_DEBUG"`
	PingTimeout time.Duration `yaml:"ping_timeout" env:"IDENTITY_DB_PING_TIMEOUT" env-default:"5s"`
}

func (d DatabaseConfig) GetDriver() string {
	return d.Driver
}

func (d DatabaseConfig) GetDatabase() string {
	return d.Database
}

func (d DatabaseConfig) GetDSN() string {
	return d.DSN
}

func (d DatabaseConfig) GetServer() string {
	return d.Server
}

func (d DatabaseConfig) GetDebug() bool {
	return d.Debug
}

func (d DatabaseConfig) GetPingTimeout() time.Duration {
	return d.PingTimeout
}

func (d DatabaseConfig) GetOtelIdentifier() string {
	return ""
}

// LoadConfig reads configuration from the given YAML file merged with the
// environment. An empty path loads from the environment alone.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		if err := cleanenv.ReadConfig(path, cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	}

	if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}
