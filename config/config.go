package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the price pipeline
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Server    ServerConfig    `mapstructure:"server"`
	Catalog   CatalogConfig   `mapstructure:"catalog"`
	Scraper   ScraperConfig   `mapstructure:"scraper"`
	Matcher   MatcherConfig   `mapstructure:"matcher"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Storage   StorageConfig   `mapstructure:"storage"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug    bool   `mapstructure:"debug"`
	LogLevel string `mapstructure:"log_level"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Address string `mapstructure:"address"`
}

// CatalogConfig contains catalog API settings
type CatalogConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	PageSize       int           `mapstructure:"page_size"`
	MaxPages       int           `mapstructure:"max_pages"`
	RequestDelay   time.Duration `mapstructure:"request_delay"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
}

func (c CatalogConfig) Validate() error {
	if strings.TrimSpace(c.APIKey) == "" {
		return fmt.Errorf("catalog.api_key is required")
	}
	if c.PageSize <= 0 {
		return fmt.Errorf("catalog.page_size must be > 0")
	}
	if c.MaxPages <= 0 {
		return fmt.Errorf("catalog.max_pages must be > 0")
	}
	return nil
}

// ScraperConfig contains price source scraping settings
type ScraperConfig struct {
	BaseURL      string        `mapstructure:"base_url"`
	SessionLimit int           `mapstructure:"session_limit"`
	QueryDelay   time.Duration `mapstructure:"query_delay"`
	QueryTimeout time.Duration `mapstructure:"query_timeout"`
	Headless     bool          `mapstructure:"headless"`
	UserAgent    string        `mapstructure:"user_agent"`
}

func (s ScraperConfig) Validate() error {
	if strings.TrimSpace(s.BaseURL) == "" {
		return fmt.Errorf("scraper.base_url is required")
	}
	if s.SessionLimit <= 0 {
		return fmt.Errorf("scraper.session_limit must be > 0")
	}
	return nil
}

// MatcherConfig contains title matching settings.
//
// Threshold and epsilon are deliberately configuration, not constants: they
// trade precision against recall and deployments tune them. The defaults are
// a moderate-confidence threshold of 0.55 and a 1e-9 score-tie epsilon.
type MatcherConfig struct {
	AcceptanceThreshold float64 `mapstructure:"acceptance_threshold"`
	Epsilon             float64 `mapstructure:"epsilon"`
	PrefilterLimit      int     `mapstructure:"prefilter_limit"`
	RescoreFloor        float64 `mapstructure:"rescore_floor"`
}

func (m MatcherConfig) Validate() error {
	if m.AcceptanceThreshold < 0 || m.AcceptanceThreshold > 1 {
		return fmt.Errorf("matcher.acceptance_threshold must be in [0,1]")
	}
	if m.Epsilon < 0 {
		return fmt.Errorf("matcher.epsilon cannot be negative")
	}
	return nil
}

// SchedulerConfig controls the periodic refresh/scrape trigger.
type SchedulerConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Cron     string `mapstructure:"cron"`
	LockTTL  string `mapstructure:"lock_ttl"`
	RunLimit int    `mapstructure:"run_limit"`
}

// StorageConfig contains storage and persistence settings
type StorageConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// PostgresConfig contains Postgres connection settings
type PostgresConfig struct {
	URL      string        `mapstructure:"url"`
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	DBName   string        `mapstructure:"dbname"`
	SSLMode  string        `mapstructure:"sslmode"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (p PostgresConfig) Validate() error {
	if strings.TrimSpace(p.URL) != "" {
		return nil
	}
	if strings.TrimSpace(p.Host) == "" {
		return fmt.Errorf("storage.postgres.host required when url is not provided")
	}
	if strings.TrimSpace(p.DBName) == "" {
		return fmt.Errorf("storage.postgres.dbname required when url is not provided")
	}
	return nil
}

// DSN assembles a postgres connection string from the configured parts.
func (p PostgresConfig) DSN() string {
	if p.URL != "" {
		return p.URL
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl)
}

// RedisConfig contains Redis connection settings (scheduler run locks)
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns host:port, empty when redis is not configured.
func (r RedisConfig) Addr() string {
	if strings.TrimSpace(r.Host) == "" || strings.TrimSpace(r.Port) == "" {
		return ""
	}
	return fmt.Sprintf("%s:%s", r.Host, r.Port)
}

// LoadConfig loads config from file
func LoadConfig(path string) *Config {
	viper.SetConfigName("config")
	viper.SetConfigType("json")

	viper.SetDefault("general.log_level", "info")
	viper.SetDefault("server.address", ":10002")
	viper.SetDefault("catalog.base_url", "https://api.rawg.io/api")
	viper.SetDefault("catalog.page_size", 40)
	viper.SetDefault("catalog.max_pages", 13)
	viper.SetDefault("catalog.request_delay", time.Second)
	viper.SetDefault("catalog.request_timeout", 30*time.Second)
	viper.SetDefault("catalog.max_attempts", 4)
	viper.SetDefault("scraper.base_url", "https://www.dlcompare.com")
	viper.SetDefault("scraper.session_limit", 10)
	viper.SetDefault("scraper.query_delay", 3*time.Second)
	viper.SetDefault("scraper.query_timeout", 15*time.Second)
	viper.SetDefault("scraper.headless", true)
	viper.SetDefault("scraper.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")
	viper.SetDefault("matcher.acceptance_threshold", 0.55)
	viper.SetDefault("matcher.epsilon", 1e-9)
	viper.SetDefault("matcher.prefilter_limit", 50)
	viper.SetDefault("matcher.rescore_floor", 0.6)
	viper.SetDefault("scheduler.enabled", false)
	viper.SetDefault("scheduler.cron", "@daily")
	viper.SetDefault("scheduler.run_limit", 50)

	if path == "" {
		viper.AddConfigPath("./config")
		viper.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		viper.AddConfigPath(exeDir)
		viper.AddConfigPath(filepath.Join(exeDir, ".."))
	} else {
		viper.SetConfigFile(path)
	}

	viper.SetEnvPrefix("GAMEPRICER")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}

	if err := config.Catalog.Validate(); err != nil {
		panic(err)
	}
	if err := config.Scraper.Validate(); err != nil {
		panic(err)
	}
	if err := config.Matcher.Validate(); err != nil {
		panic(err)
	}
	if err := config.Storage.Postgres.Validate(); err != nil {
		panic(err)
	}
	return &config
}
