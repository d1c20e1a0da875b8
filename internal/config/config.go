package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"

	"orbwatch/internal/logging"
)

// DefaultBaseURL is the listing site scraped by orbwatch.
const DefaultBaseURL = "https://orbwatch.trade"

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scraper   ScraperConfig   `mapstructure:"scraper"`
	Browser   BrowserConfig   `mapstructure:"browser"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	API       APIConfig       `mapstructure:"api"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity. Either DSN or the
// discrete host/user/password/name fields may be supplied.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	CreateDatabase  bool          `mapstructure:"create_database"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
}

// ScraperConfig selects what is scraped from the listing page.
type ScraperConfig struct {
	BaseURL         string        `mapstructure:"base_url"`
	View            string        `mapstructure:"view"`
	Currencies      []string      `mapstructure:"currencies"`
	WaitSelector    string        `mapstructure:"wait_selector"`
	WaitTimeout     time.Duration `mapstructure:"wait_timeout"`
	NavigateTimeout time.Duration `mapstructure:"navigate_timeout"`
}

// BrowserConfig tunes the headless Chromium process.
type BrowserConfig struct {
	ExecPath    string   `mapstructure:"exec_path"`
	UserDataDir string   `mapstructure:"user_data_dir"`
	UserAgent   string   `mapstructure:"user_agent"`
	ExtraFlags  []string `mapstructure:"extra_flags"`
}

// SchedulerConfig governs scrape cadence.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	Cron            string        `mapstructure:"cron"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	RunOnStart      bool          `mapstructure:"run_on_start"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
	CycleTimeout    time.Duration `mapstructure:"cycle_timeout"`
}

// APIConfig configures the read/trigger HTTP API.
type APIConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Address         string        `mapstructure:"address"`
	Window          time.Duration `mapstructure:"window"`
	MaxWindow       time.Duration `mapstructure:"max_window"`
	Currency        string        `mapstructure:"currency"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	ReleaseMode     bool          `mapstructure:"release_mode"`
}

// AlertingConfig defines price-change alert thresholds and routing.
type AlertingConfig struct {
	Enabled      bool           `mapstructure:"enabled"`
	ThresholdPct float64        `mapstructure:"threshold_pct"`
	Channels     []string       `mapstructure:"channels"`
	Telegram     TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig 描述 Telegram 告警参数。
type TelegramConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	BotToken string        `mapstructure:"bot_token"`
	ChatID   string        `mapstructure:"chat_id"`
	APIBase  string        `mapstructure:"api_base"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int           `mapstructure:"max_data_points"`
	Window        time.Duration `mapstructure:"window"`
}

// Load builds configuration from .env, file, environment, and defaults.
func Load(path string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("ORBWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	if err := bindLegacyEnv(v); err != nil {
		return nil, err
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

// bindLegacyEnv keeps the plain DB_* variables of existing deployments working.
func bindLegacyEnv(v *viper.Viper) error {
	bindings := map[string][]string{
		"database.host":     {"ORBWATCH_DATABASE_HOST", "DB_HOST"},
		"database.port":     {"ORBWATCH_DATABASE_PORT", "DB_PORT"},
		"database.user":     {"ORBWATCH_DATABASE_USER", "DB_USER"},
		"database.password": {"ORBWATCH_DATABASE_PASSWORD", "DB_PASSWORD"},
		"database.name":     {"ORBWATCH_DATABASE_NAME", "DB_NAME"},
		"database.dsn":      {"ORBWATCH_DATABASE_DSN", "DATABASE_URL"},
	}
	for key, envs := range bindings {
		args := append([]string{key}, envs...)
		if err := v.BindEnv(args...); err != nil {
			return fmt.Errorf("bind env %s: %w", key, err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "orbwatch")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "orbwatch")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.create_database", true)
	v.SetDefault("database.max_open_conns", 4)
	v.SetDefault("database.max_idle_conns", 0)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.connect_timeout", "10s")

	v.SetDefault("scraper.base_url", DefaultBaseURL)
	v.SetDefault("scraper.view", "currency")
	v.SetDefault("scraper.currencies", []string{"divine"})
	v.SetDefault("scraper.wait_selector", "span[data-tooltip-id]")
	v.SetDefault("scraper.wait_timeout", "10s")
	v.SetDefault("scraper.navigate_timeout", "45s")

	v.SetDefault("scheduler.interval", "1h")
	v.SetDefault("scheduler.cron", "")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.run_on_start", true)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x6f726277))
	v.SetDefault("scheduler.startup_delay", "0s")
	v.SetDefault("scheduler.cycle_timeout", "2m")

	v.SetDefault("api.enabled", true)
	v.SetDefault("api.address", "0.0.0.0:8080")
	v.SetDefault("api.window", "168h")
	v.SetDefault("api.max_window", "2160h")
	v.SetDefault("api.currency", "divine")
	v.SetDefault("api.shutdown_timeout", "5s")
	v.SetDefault("api.release_mode", true)

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.threshold_pct", 5.0)
	v.SetDefault("alerting.channels", []string{"telegram"})
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("alerting.telegram.timeout", "10s")

	v.SetDefault("export.max_data_points", 10000)
	v.SetDefault("export.window", "168h")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Scheduler.Interval <= 0 && c.Scheduler.Cron == "" {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Scheduler.Cron != "" {
		if _, err := cron.ParseStandard(c.Scheduler.Cron); err != nil {
			return fmt.Errorf("scheduler.cron is invalid: %w", err)
		}
	}
	if c.Scraper.WaitTimeout <= 0 {
		return fmt.Errorf("scraper.wait_timeout must be greater than zero")
	}
	if strings.TrimSpace(c.Scraper.View) == "" {
		return fmt.Errorf("scraper.view must not be empty")
	}
	if _, err := url.Parse(c.Scraper.BaseURL); err != nil || c.Scraper.BaseURL == "" {
		return fmt.Errorf("scraper.base_url is invalid: %q", c.Scraper.BaseURL)
	}
	if c.API.Window <= 0 {
		return fmt.Errorf("api.window must be greater than zero")
	}
	if c.API.MaxWindow > 0 && c.API.Window > c.API.MaxWindow {
		return fmt.Errorf("api.window cannot exceed api.max_window")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Alerting.ThresholdPct < 0 {
		return fmt.Errorf("alerting.threshold_pct cannot be negative")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token 必须配置")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id 必须配置")
		}
	}
	return nil
}

// ConnString returns the Postgres connection string, composing one from the
// discrete fields when no DSN is configured.
func (d DatabaseConfig) ConnString() string {
	if strings.TrimSpace(d.DSN) != "" {
		return d.DSN
	}
	if d.Host == "" {
		return ""
	}

	port := d.Port
	if port <= 0 {
		port = 5432
	}

	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(d.Host, fmt.Sprint(port)),
		Path:   "/" + d.Name,
	}
	if d.User != "" {
		if d.Password != "" {
			u.User = url.UserPassword(d.User, d.Password)
		} else {
			u.User = url.User(d.User)
		}
	}

	q := url.Values{}
	if d.SSLMode != "" {
		q.Set("sslmode", d.SSLMode)
	}
	if d.ConnectTimeout > 0 {
		q.Set("connect_timeout", fmt.Sprint(int(d.ConnectTimeout.Seconds())))
	}
	u.RawQuery = q.Encode()

	return u.String()
}
