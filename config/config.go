package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/fuad-daoud/guildkit/logger/dlog"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

const EnvPrefix = "GUILDKIT"

type Config struct {
	APIURL     string `mapstructure:"api_url"`
	GatewayURL string `mapstructure:"gateway_url"`
	Token      string `mapstructure:"token"`

	Timeout           time.Duration `mapstructure:"timeout"`
	MaxRetries        int           `mapstructure:"max_retries"`
	MaxRetryDelay     time.Duration `mapstructure:"max_retry_delay"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`

	ReconnectInitial  time.Duration `mapstructure:"reconnect_initial"`
	ReconnectMax      time.Duration `mapstructure:"reconnect_max"`
	ResyncOnReconnect bool          `mapstructure:"resync_on_reconnect"`
	// ResyncSchedule is a standard cron spec for periodic full resyncs.
	ResyncSchedule    string `mapstructure:"resync_schedule"`
	ResyncConcurrency int    `mapstructure:"resync_concurrency"`

	LogLevel    string `mapstructure:"log_level"`
	LogDir      string `mapstructure:"log_dir"`
	ArchiveCron string `mapstructure:"archive_cron"`
	StatusAddr  string `mapstructure:"status_addr"`
}

func Default() Config {
	return Config{
		APIURL:            "http://localhost:8080/api",
		GatewayURL:        "ws://localhost:8080/gateway",
		Timeout:           10 * time.Second,
		MaxRetries:        3,
		MaxRetryDelay:     30 * time.Second,
		RequestsPerSecond: 50,
		ReconnectInitial:  time.Second,
		ReconnectMax:      time.Minute,
		ResyncOnReconnect: true,
		ResyncConcurrency: 4,
		LogLevel:          "info",
	}
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("api_url", d.APIURL)
	v.SetDefault("gateway_url", d.GatewayURL)
	v.SetDefault("token", d.Token)
	v.SetDefault("timeout", d.Timeout)
	v.SetDefault("max_retries", d.MaxRetries)
	v.SetDefault("max_retry_delay", d.MaxRetryDelay)
	v.SetDefault("requests_per_second", d.RequestsPerSecond)
	v.SetDefault("reconnect_initial", d.ReconnectInitial)
	v.SetDefault("reconnect_max", d.ReconnectMax)
	v.SetDefault("resync_on_reconnect", d.ResyncOnReconnect)
	v.SetDefault("resync_schedule", d.ResyncSchedule)
	v.SetDefault("resync_concurrency", d.ResyncConcurrency)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("log_dir", d.LogDir)
	v.SetDefault("archive_cron", d.ArchiveCron)
	v.SetDefault("status_addr", d.StatusAddr)
}

// Load reads .env, then the YAML file at path when it is not empty, then
// GUILDKIT_* environment variables, later sources winning.
func Load(path string) (Config, error) {
	_ = godotenv.Load(".env")

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		slog.Error("Unable to unmarshal config", "err", err)
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c Config) Validate() error {
	var errs []error
	if _, err := url.ParseRequestURI(c.APIURL); err != nil {
		errs = append(errs, fmt.Errorf("api_url: %w", err))
	}
	if c.GatewayURL != "" {
		if u, err := url.Parse(c.GatewayURL); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
			errs = append(errs, fmt.Errorf("gateway_url %q: want a ws:// or wss:// url", c.GatewayURL))
		}
	}
	if c.Timeout <= 0 {
		errs = append(errs, errors.New("timeout must be positive"))
	}
	if c.MaxRetries < 0 {
		errs = append(errs, errors.New("max_retries must not be negative"))
	}
	if c.MaxRetryDelay <= 0 {
		errs = append(errs, errors.New("max_retry_delay must be positive"))
	}
	if c.RequestsPerSecond < 0 {
		errs = append(errs, errors.New("requests_per_second must not be negative"))
	}
	if c.ReconnectInitial <= 0 || c.ReconnectMax < c.ReconnectInitial {
		errs = append(errs, errors.New("reconnect delays must be positive with reconnect_max >= reconnect_initial"))
	}
	if c.ResyncConcurrency < 1 {
		errs = append(errs, errors.New("resync_concurrency must be at least 1"))
	}
	for key, spec := range map[string]string{"resync_schedule": c.ResyncSchedule, "archive_cron": c.ArchiveCron} {
		if spec == "" {
			continue
		}
		if _, err := cron.ParseStandard(spec); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
		}
	}
	if _, err := dlog.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// LogValue leaves the token out.
func (c Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("api_url", c.APIURL),
		slog.String("gateway_url", c.GatewayURL),
		slog.Bool("token_set", c.Token != ""),
		slog.Duration("timeout", c.Timeout),
		slog.Int("max_retries", c.MaxRetries),
		slog.Bool("resync_on_reconnect", c.ResyncOnReconnect),
		slog.String("resync_schedule", c.ResyncSchedule),
		slog.String("log_level", c.LogLevel),
		slog.String("status_addr", c.StatusAddr),
	)
}
