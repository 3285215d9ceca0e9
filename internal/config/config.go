package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix              = "FIELDSYNC"
	defaultHTTPAddress     = "0.0.0.0:8080"
	defaultDatabasePath    = "fieldsync.db"
	defaultLogLevel        = "info"
	defaultConflictPolicy  = "server_wins"
	defaultTokenTTLMinutes = 30
	defaultBlobRegion      = "us-east-1"
)

// AppConfig captures runtime configuration for the sync API server.
type AppConfig struct {
	HTTPAddress    string
	DatabasePath   string
	LogLevel       string
	SigningSecret  string
	TokenTTL       time.Duration
	ConflictPolicy string
	BlobBucket     string
	BlobRegion     string
	BlobEndpoint   string
	BlobAccessKey  string
	BlobSecretKey  string
	BlobPublicURL  string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("auth.token_ttl_minutes", defaultTokenTTLMinutes)
	configViper.SetDefault("sync.conflict_policy", defaultConflictPolicy)
	configViper.SetDefault("blob.region", defaultBlobRegion)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:    configViper.GetString("http.address"),
		DatabasePath:   configViper.GetString("database.path"),
		LogLevel:       configViper.GetString("log.level"),
		SigningSecret:  configViper.GetString("auth.signing_secret"),
		TokenTTL:       time.Duration(configViper.GetInt("auth.token_ttl_minutes")) * time.Minute,
		ConflictPolicy: configViper.GetString("sync.conflict_policy"),
		BlobBucket:     configViper.GetString("blob.bucket"),
		BlobRegion:     configViper.GetString("blob.region"),
		BlobEndpoint:   configViper.GetString("blob.endpoint"),
		BlobAccessKey:  configViper.GetString("blob.access_key"),
		BlobSecretKey:  configViper.GetString("blob.secret_key"),
		BlobPublicURL:  configViper.GetString("blob.public_base_url"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.BlobBucket) == "" {
		return fmt.Errorf("blob.bucket is required")
	}
	switch strings.ToLower(strings.TrimSpace(c.ConflictPolicy)) {
	case "server_wins", "field_merge":
	default:
		return fmt.Errorf("sync.conflict_policy must be server_wins or field_merge")
	}
	return nil
}
