package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                = "TUTORHUB"
	defaultHTTPAddress       = "0.0.0.0:8080"
	defaultDatabasePath      = "tutorhub.db"
	defaultLogLevel          = "info"
	defaultStoreDriver       = StoreDriverSQLite
	defaultRedisAddress      = "localhost:6379"
	defaultSessionIssuer     = "tauth"
	defaultCookieName        = "app_session"
	defaultTimezone          = "Local"
	defaultFocusSeconds      = 25 * 60
	defaultShortBreakSeconds = 5 * 60
	defaultLongBreakSeconds  = 15 * 60
	defaultLongBreakInterval = 4
	defaultFocusBonus        = 25
	defaultSubmitBonus       = 50
)

// Supported store drivers.
const (
	StoreDriverSQLite = "sqlite"
	StoreDriverMemory = "memory"
	StoreDriverRedis  = "redis"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress       string
	AllowedOrigins    []string
	DatabasePath      string
	LogLevel          string
	StoreDriver       string
	RedisAddress      string
	RedisPassword     string
	RedisDB           int
	SessionSigningKey string
	SessionIssuer     string
	SessionCookieName string
	Timezone          string
	Location          *time.Location
	Timer             TimerConfig
	SubmitBonus       int64
}

// TimerConfig holds the session timer cadence.
type TimerConfig struct {
	FocusSeconds      int
	ShortBreakSeconds int
	LongBreakSeconds  int
	LongBreakInterval int
	FocusBonus        int64
	AutoContinue      bool
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
	configViper.SetDefault("http.allowed_origins", []string{})
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("store.driver", defaultStoreDriver)
	configViper.SetDefault("redis.address", defaultRedisAddress)
	configViper.SetDefault("redis.db", 0)
	configViper.SetDefault("auth.issuer", defaultSessionIssuer)
	configViper.SetDefault("auth.cookie_name", defaultCookieName)
	configViper.SetDefault("app.timezone", defaultTimezone)
	configViper.SetDefault("timer.focus_seconds", defaultFocusSeconds)
	configViper.SetDefault("timer.short_break_seconds", defaultShortBreakSeconds)
	configViper.SetDefault("timer.long_break_seconds", defaultLongBreakSeconds)
	configViper.SetDefault("timer.long_break_interval", defaultLongBreakInterval)
	configViper.SetDefault("timer.focus_bonus", defaultFocusBonus)
	configViper.SetDefault("timer.auto_continue", true)
	configViper.SetDefault("tasks.submit_bonus", defaultSubmitBonus)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:       configViper.GetString("http.address"),
		AllowedOrigins:    parseOrigins(configViper.GetStringSlice("http.allowed_origins")),
		DatabasePath:      configViper.GetString("database.path"),
		LogLevel:          configViper.GetString("log.level"),
		StoreDriver:       strings.ToLower(strings.TrimSpace(configViper.GetString("store.driver"))),
		RedisAddress:      configViper.GetString("redis.address"),
		RedisPassword:     configViper.GetString("redis.password"),
		RedisDB:           configViper.GetInt("redis.db"),
		SessionSigningKey: configViper.GetString("auth.signing_secret"),
		SessionIssuer:     configViper.GetString("auth.issuer"),
		SessionCookieName: configViper.GetString("auth.cookie_name"),
		Timezone:          configViper.GetString("app.timezone"),
		Timer: TimerConfig{
			FocusSeconds:      configViper.GetInt("timer.focus_seconds"),
			ShortBreakSeconds: configViper.GetInt("timer.short_break_seconds"),
			LongBreakSeconds:  configViper.GetInt("timer.long_break_seconds"),
			LongBreakInterval: configViper.GetInt("timer.long_break_interval"),
			FocusBonus:        configViper.GetInt64("timer.focus_bonus"),
			AutoContinue:      configViper.GetBool("timer.auto_continue"),
		},
		SubmitBonus: configViper.GetInt64("tasks.submit_bonus"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	location, err := time.LoadLocation(strings.TrimSpace(cfg.Timezone))
	if err != nil {
		return AppConfig{}, fmt.Errorf("app.timezone: %w", err)
	}
	cfg.Location = location

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SessionSigningKey) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.SessionCookieName) == "" {
		return fmt.Errorf("auth.cookie_name is required")
	}
	switch c.StoreDriver {
	case StoreDriverSQLite:
		if strings.TrimSpace(c.DatabasePath) == "" {
			return fmt.Errorf("database.path is required")
		}
	case StoreDriverRedis:
		if strings.TrimSpace(c.RedisAddress) == "" {
			return fmt.Errorf("redis.address is required")
		}
	case StoreDriverMemory:
	default:
		return fmt.Errorf("store.driver %q is not supported", c.StoreDriver)
	}
	for _, origin := range c.AllowedOrigins {
		if !strings.HasPrefix(origin, "http://") && !strings.HasPrefix(origin, "https://") {
			return fmt.Errorf("http.allowed_origins: %q must be an http(s) origin", origin)
		}
	}
	if c.Timer.FocusBonus < 0 || c.SubmitBonus < 0 {
		return fmt.Errorf("experience bonuses must not be negative")
	}
	return nil
}

// parseOrigins accepts list values as well as comma separated env strings.
func parseOrigins(values []string) []string {
	origins := make([]string, 0, len(values))
	for _, value := range values {
		for _, origin := range strings.Split(value, ",") {
			origin = strings.TrimRight(strings.TrimSpace(origin), "/")
			if origin != "" {
				origins = append(origins, origin)
			}
		}
	}
	return origins
}
