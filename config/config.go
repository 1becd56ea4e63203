package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
	Database DatabaseConfig `yaml:"database"`
	Minio    MinioConfig    `yaml:"minio"`
	Payments PaymentsConfig `yaml:"payments"`
	Auth     AuthConfig     `yaml:"auth"`
	Users    []User         `yaml:"users"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
}

type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

type DatabaseConfig struct {
	// DSN is the Postgres connection string. Empty means the in-memory
	// store (development and tests).
	DSN string `yaml:"dsn"`
}

type MinioConfig struct {
	Endpoint    string `yaml:"endpoint"`
	AccessKey   string `yaml:"access_key"`
	SecretKey   string `yaml:"secret_key"`
	Bucket      string `yaml:"bucket"`
	UseSSL      bool   `yaml:"use_ssl"`
	ExpireHours int    `yaml:"expire_hours"`
}

type PaymentsConfig struct {
	APIURL        string `yaml:"api_url"`
	APIKey        string `yaml:"api_key"`
	WebhookSecret string `yaml:"webhook_secret"`
	// SuccessURL and CancelURL are where the provider redirects the payer
	// after checkout. The redirect flags are advisory; status is always
	// re-verified server side.
	SuccessURL           string `yaml:"success_url"`
	CancelURL            string `yaml:"cancel_url"`
	TimeoutSeconds       int    `yaml:"timeout_seconds"`
	VerifyAttempts       int    `yaml:"verify_attempts"`
	RetryBaseMillis      int    `yaml:"retry_base_ms"`
	SweepIntervalMinutes int    `yaml:"sweep_interval_minutes"`
	SessionMaxAgeMinutes int    `yaml:"session_max_age_minutes"`
}

type AuthConfig struct {
	JWTSecret        string `yaml:"jwt_secret"`
	TokenExpireHours int    `yaml:"token_expire_hours"`
}

type User struct {
	ID       string `yaml:"id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// Set defaults
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Minio.ExpireHours == 0 {
		cfg.Minio.ExpireHours = 24
	}
	if cfg.Auth.TokenExpireHours == 0 {
		cfg.Auth.TokenExpireHours = 24
	}
	if cfg.Payments.TimeoutSeconds == 0 {
		cfg.Payments.TimeoutSeconds = 30
	}
	if cfg.Payments.VerifyAttempts == 0 {
		cfg.Payments.VerifyAttempts = 3
	}
	if cfg.Payments.RetryBaseMillis == 0 {
		cfg.Payments.RetryBaseMillis = 500
	}
	if cfg.Payments.SweepIntervalMinutes == 0 {
		cfg.Payments.SweepIntervalMinutes = 5
	}
	if cfg.Payments.SessionMaxAgeMinutes == 0 {
		cfg.Payments.SessionMaxAgeMinutes = 60
	}

	return &cfg, nil
}

// FindUser finds a user by username
func (c *Config) FindUser(username string) *User {
	for i := range c.Users {
		if c.Users[i].Username == username {
			return &c.Users[i]
		}
	}
	return nil
}
