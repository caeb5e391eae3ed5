package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"deviation-screener/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Market    MarketConfig    `mapstructure:"market"`
	Source    SourceConfig    `mapstructure:"source"`
	Analysis  AnalysisConfig  `mapstructure:"analysis"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity. An empty DSN selects in-memory stores.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// SchedulerConfig governs the check cadence of the run loop.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
}

// MarketConfig fixes the timezone and the daily cutover that split epochs.
type MarketConfig struct {
	Timezone string `mapstructure:"timezone"`
	Cutover  string `mapstructure:"cutover"`
}

// SourceConfig covers the remote price history and instrument discovery.
type SourceConfig struct {
	DiscoveryURL   string        `mapstructure:"discovery_url"`
	TableClass     string        `mapstructure:"table_class"`
	HistoryURL     string        `mapstructure:"history_url"`
	From           string        `mapstructure:"from"`
	To             string        `mapstructure:"to"`
	UserAgent      string        `mapstructure:"user_agent"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	Concurrency    int           `mapstructure:"concurrency"`
	RequestDelay   time.Duration `mapstructure:"request_delay"`
	// Instruments, when set, replaces HTML discovery with a fixed list.
	Instruments []string `mapstructure:"instruments"`
}

// AnalysisConfig holds indicator and screening parameters.
type AnalysisConfig struct {
	MaxRows   int      `mapstructure:"max_rows"`
	EMAPeriod int      `mapstructure:"ema_period"`
	RSIPeriod int      `mapstructure:"rsi_period"`
	Threshold float64  `mapstructure:"threshold"`
	Lookback  int      `mapstructure:"lookback"`
	WatchList []string `mapstructure:"watch_list"`
}

// CacheConfig locates the persisted snapshot and notification log when no database is configured.
type CacheConfig struct {
	Path string `mapstructure:"path"`
	// LogPath defaults to Path with a ".notifications" suffix.
	LogPath string `mapstructure:"log_path"`
}

// NotificationLogPath resolves the file-backed notification log location.
func (c CacheConfig) NotificationLogPath() string {
	if c.LogPath != "" {
		return c.LogPath
	}
	return c.Path + ".notifications"
}

// AlertingConfig defines notification policy and routing.
type AlertingConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Policy       string        `mapstructure:"policy"`
	Subscribers  []string      `mapstructure:"subscribers"`
	Subject      string        `mapstructure:"subject"`
	Transport    string        `mapstructure:"transport"`
	SendInterval time.Duration `mapstructure:"send_interval"`
	SMTP         SMTPConfig    `mapstructure:"smtp"`
	HTTP         HTTPConfig    `mapstructure:"http"`
}

// SMTPConfig 描述 SMTP 发信参数。
type SMTPConfig struct {
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	From     string        `mapstructure:"from"`
	StartTLS bool          `mapstructure:"starttls"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// HTTPConfig points at a JSON mail relay.
type HTTPConfig struct {
	Endpoint string        `mapstructure:"endpoint"`
	Token    string        `mapstructure:"token"`
	From     string        `mapstructure:"from"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// MetricsConfig exposes Prometheus metrics. Empty ListenAddr disables the listener.
type MetricsConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SCREENER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

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
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "screener")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stderr")

	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrations_path", "migrations")

	v.SetDefault("scheduler.interval", "5m")
	v.SetDefault("scheduler.advisory_lock_key", int64(0x53435245))
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("market.timezone", "Europe/Istanbul")
	v.SetDefault("market.cutover", "19:00")

	v.SetDefault("source.discovery_url", "https://www.isyatirim.com.tr/tr-tr/analiz/hisse/Sayfalar/default.aspx")
	v.SetDefault("source.table_class", "single-table")
	v.SetDefault("source.history_url", "https://www.isyatirim.com.tr/_Layouts/15/IsYatirim.Website/Common/ChartData.aspx/IndexHistoricalAll?period=1440&from={from}&to={to}&endeks={code}")
	v.SetDefault("source.from", "20200101000000")
	v.SetDefault("source.to", "20251231235959")
	v.SetDefault("source.user_agent", "Mozilla/5.0 (compatible; deviation-screener/1.0)")
	v.SetDefault("source.request_timeout", "15s")
	v.SetDefault("source.concurrency", 10)
	v.SetDefault("source.request_delay", "100ms")
	v.SetDefault("source.instruments", []string{})

	v.SetDefault("analysis.max_rows", 4108)
	v.SetDefault("analysis.ema_period", 200)
	v.SetDefault("analysis.rsi_period", 14)
	v.SetDefault("analysis.threshold", 0.9)
	v.SetDefault("analysis.lookback", 240)
	v.SetDefault("analysis.watch_list", []string{"MHRGY", "RTALB", "ALKA", "KLSER", "EUREN", "DOAS", "CVKMD", "IHAAS", "IZENR"})

	v.SetDefault("cache.path", "screener-cache.json")
	v.SetDefault("cache.log_path", "")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.policy", "full")
	v.SetDefault("alerting.subscribers", []string{})
	v.SetDefault("alerting.subject", "Deviation screener opportunities")
	v.SetDefault("alerting.transport", "smtp")
	v.SetDefault("alerting.send_interval", "200ms")
	v.SetDefault("alerting.smtp.port", 587)
	v.SetDefault("alerting.smtp.starttls", true)
	v.SetDefault("alerting.smtp.timeout", "15s")
	v.SetDefault("alerting.http.timeout", "10s")

	v.SetDefault("metrics.listen_addr", "")

	v.SetDefault("export.max_data_points", 100000)
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
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if _, err := time.LoadLocation(c.Market.Timezone); err != nil {
		return fmt.Errorf("market.timezone: %w", err)
	}
	if _, err := time.Parse("15:04", c.Market.Cutover); err != nil {
		return fmt.Errorf("market.cutover must be HH:MM, got %q", c.Market.Cutover)
	}
	if c.Source.Concurrency <= 0 {
		return fmt.Errorf("source.concurrency must be greater than zero")
	}
	if c.Source.RequestTimeout <= 0 {
		return fmt.Errorf("source.request_timeout must be greater than zero")
	}
	if c.Source.RequestDelay < 0 {
		return fmt.Errorf("source.request_delay cannot be negative")
	}
	if c.Source.HistoryURL == "" {
		return fmt.Errorf("source.history_url 必须配置")
	}
	if c.Source.DiscoveryURL == "" && len(c.Source.Instruments) == 0 {
		return fmt.Errorf("source.discovery_url or source.instruments must be configured")
	}
	if c.Analysis.MaxRows <= 0 || c.Analysis.EMAPeriod <= 0 || c.Analysis.RSIPeriod <= 0 || c.Analysis.Lookback <= 0 {
		return fmt.Errorf("analysis periods and max_rows must be greater than zero")
	}
	if c.Analysis.Threshold <= 0 {
		return fmt.Errorf("analysis.threshold must be greater than zero")
	}
	switch strings.ToLower(c.Alerting.Policy) {
	case "", "full", "delta":
	default:
		return fmt.Errorf("alerting.policy must be full or delta, got %q", c.Alerting.Policy)
	}
	if c.Alerting.SendInterval < 0 {
		return fmt.Errorf("alerting.send_interval cannot be negative")
	}
	c.Alerting.Transport = strings.ToLower(strings.TrimSpace(c.Alerting.Transport))
	if c.Alerting.Enabled {
		switch c.Alerting.Transport {
		case "smtp":
			if c.Alerting.SMTP.Host == "" || c.Alerting.SMTP.From == "" {
				return fmt.Errorf("alerting.smtp.host 和 alerting.smtp.from 必须配置")
			}
		case "http":
			if c.Alerting.HTTP.Endpoint == "" {
				return fmt.Errorf("alerting.http.endpoint 必须配置")
			}
		default:
			return fmt.Errorf("alerting.transport must be smtp or http, got %q", c.Alerting.Transport)
		}
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
