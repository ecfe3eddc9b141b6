package config

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

const (
	envPrefix           = "STATUSD"
	defaultHTTPAddress  = "localhost:8000"
	defaultDatabasePath = "statusd.db"
	defaultLogLevel     = "info"
)

// AppConfig captures runtime configuration for the status daemon.
type AppConfig struct {
	HTTPAddress     string
	DatabasePath    string
	Password        string
	CookieSalt      string
	MQTTServer      string
	MQTTTopicPrefix string
	SpaceAPIPath    string
	LogLevel        string
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
	configViper.SetDefault("auth.password", "")
	configViper.SetDefault("auth.cookie_salt", "")
	configViper.SetDefault("mqtt.server", "")
	configViper.SetDefault("mqtt.topic_prefix", "")
	configViper.SetDefault("spaceapi.path", "")
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:     configViper.GetString("http.address"),
		DatabasePath:    configViper.GetString("database.path"),
		Password:        configViper.GetString("auth.password"),
		CookieSalt:      configViper.GetString("auth.cookie_salt"),
		MQTTServer:      configViper.GetString("mqtt.server"),
		MQTTTopicPrefix: configViper.GetString("mqtt.topic_prefix"),
		SpaceAPIPath:    configViper.GetString("spaceapi.path"),
		LogLevel:        configViper.GetString("log.level"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.HTTPAddress) == "" {
		return fmt.Errorf("http.address is required")
	}
	if c.CookieSalt != "" {
		decoded, err := hex.DecodeString(c.CookieSalt)
		if err != nil || len(decoded) != 32 {
			return fmt.Errorf("auth.cookie_salt must be 64 hex characters")
		}
	}
	return nil
}
