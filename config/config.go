// Package config loads service configuration from a YAML file, a .env file
// and CFE_ prefixed environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"cfetarifa/logging"
	"cfetarifa/scraper_pkg"
	"cfetarifa/tariff"
)

const envPrefix = "CFE"

type Config struct {
	Server   ServerConfig   `mapstructure:"server"   yaml:"server"`
	Portal   PortalConfig   `mapstructure:"portal"   yaml:"portal"`
	Browser  BrowserConfig  `mapstructure:"browser"  yaml:"browser"`
	Timeouts TimeoutConfig  `mapstructure:"timeouts" yaml:"timeouts"`
	Cache    CacheConfig    `mapstructure:"cache"    yaml:"cache"`
	Events   EventsConfig   `mapstructure:"events"   yaml:"events"`
	Warmup   WarmupConfig   `mapstructure:"warmup"   yaml:"warmup"`
	Logging  logging.Config `mapstructure:"logging"  yaml:"logging"`
}

type ServerConfig struct {
	Host        string   `mapstructure:"host"         yaml:"host"`
	Port        int      `mapstructure:"port"         yaml:"port"`
	CORSOrigins []string `mapstructure:"cors_origins" yaml:"cors_origins"`
}

// Addr is the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type PortalConfig struct {
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`
}

type BrowserConfig struct {
	Headless       bool   `mapstructure:"headless"        yaml:"headless"`
	ExecutablePath string `mapstructure:"executable_path" yaml:"executable_path"`
	Install        bool   `mapstructure:"install"         yaml:"install"`
	Locale         string `mapstructure:"locale"          yaml:"locale"`
}

type TimeoutConfig struct {
	Goto       time.Duration `mapstructure:"goto"        yaml:"goto"`
	LoadIdle   time.Duration `mapstructure:"load_idle"   yaml:"load_idle"`
	Consent    time.Duration `mapstructure:"consent"     yaml:"consent"`
	Controls   time.Duration `mapstructure:"controls"    yaml:"controls"`
	Select     time.Duration `mapstructure:"select"      yaml:"select"`
	Navigation time.Duration `mapstructure:"navigation"  yaml:"navigation"`
	SelectIdle time.Duration `mapstructure:"select_idle" yaml:"select_idle"`
	Markers    time.Duration `mapstructure:"markers"     yaml:"markers"`
	FinalIdle  time.Duration `mapstructure:"final_idle"  yaml:"final_idle"`
	Settle     time.Duration `mapstructure:"settle"      yaml:"settle"`
}

type CacheConfig struct {
	RedisAddr string        `mapstructure:"redis_addr" yaml:"redis_addr"`
	TTL       time.Duration `mapstructure:"ttl"        yaml:"ttl"`
}

type EventsConfig struct {
	NATSURL string `mapstructure:"nats_url" yaml:"nats_url"`
	Subject string `mapstructure:"subject"  yaml:"subject"`
}

type WarmupConfig struct {
	Schedule    string   `mapstructure:"schedule"     yaml:"schedule"`
	Codes       []string `mapstructure:"codes"        yaml:"codes"`
	SummerStart int      `mapstructure:"summer_start" yaml:"summer_start"`
}

// Load reads configuration. path may be empty, in which case config.yaml is
// looked up in ./config and /etc/cfe-tarifa and its absence is not an error.
func Load(path string) (*Config, error) {
	loadEnvFile()

	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/cfe-tarifa")
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	overrideFromEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	b := scraper_pkg.DefaultBrowserOptions()
	t := b.Timeouts
	l := logging.DefaultConfig()

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})

	v.SetDefault("portal.base_url", tariff.DefaultBaseURL)

	v.SetDefault("browser.headless", b.Headless)
	v.SetDefault("browser.executable_path", "")
	v.SetDefault("browser.install", b.Install)
	v.SetDefault("browser.locale", b.Locale)

	v.SetDefault("timeouts.goto", t.Goto)
	v.SetDefault("timeouts.load_idle", t.LoadIdle)
	v.SetDefault("timeouts.consent", t.Consent)
	v.SetDefault("timeouts.controls", t.Controls)
	v.SetDefault("timeouts.select", t.Select)
	v.SetDefault("timeouts.navigation", t.Navigation)
	v.SetDefault("timeouts.select_idle", t.SelectIdle)
	v.SetDefault("timeouts.markers", t.Markers)
	v.SetDefault("timeouts.final_idle", t.FinalIdle)
	v.SetDefault("timeouts.settle", t.Settle)

	v.SetDefault("cache.redis_addr", "")
	v.SetDefault("cache.ttl", time.Hour)

	v.SetDefault("events.nats_url", "")
	v.SetDefault("events.subject", "cfe.tariffs.fetched")

	v.SetDefault("warmup.schedule", "")
	v.SetDefault("warmup.codes", []string{string(tariff.Code1D)})
	v.SetDefault("warmup.summer_start", 5)

	v.SetDefault("logging.level", l.Level)
	v.SetDefault("logging.format", l.Format)
	v.SetDefault("logging.output", l.Output)
}

// overrideFromEnv applies the unprefixed variables common on PaaS hosts.
func overrideFromEnv(cfg *Config) {
	if p := os.Getenv("PORT"); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			cfg.Server.Port = n
		}
	}
	if path := os.Getenv("PLAYWRIGHT_EXECUTABLE_PATH"); path != "" && cfg.Browser.ExecutablePath == "" {
		cfg.Browser.ExecutablePath = path
	}
	if addr := os.Getenv("REDIS_URL"); addr != "" && cfg.Cache.RedisAddr == "" {
		cfg.Cache.RedisAddr = addr
	}
	if url := os.Getenv("NATS_URL"); url != "" && cfg.Events.NATSURL == "" {
		cfg.Events.NATSURL = url
	}
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d", c.Server.Port)
	}
	if c.Warmup.SummerStart < 1 || c.Warmup.SummerStart > 12 {
		return fmt.Errorf("invalid warmup.summer_start %d", c.Warmup.SummerStart)
	}
	if c.Cache.TTL < 0 {
		return fmt.Errorf("invalid cache.ttl %s", c.Cache.TTL)
	}
	return nil
}

// BrowserOptions maps the browser and timeout sections onto the scraper.
// An empty locale or a zero timeout keeps the scraper default.
func (c *Config) BrowserOptions() scraper_pkg.BrowserOptions {
	opts := scraper_pkg.DefaultBrowserOptions()
	opts.Headless = c.Browser.Headless
	opts.ExecutablePath = c.Browser.ExecutablePath
	opts.Install = c.Browser.Install
	if c.Browser.Locale != "" {
		opts.Locale = c.Browser.Locale
	}

	t := &opts.Timeouts
	for _, o := range []struct {
		dst *time.Duration
		v   time.Duration
	}{
		{&t.Goto, c.Timeouts.Goto},
		{&t.LoadIdle, c.Timeouts.LoadIdle},
		{&t.Consent, c.Timeouts.Consent},
		{&t.Controls, c.Timeouts.Controls},
		{&t.Select, c.Timeouts.Select},
		{&t.Navigation, c.Timeouts.Navigation},
		{&t.SelectIdle, c.Timeouts.SelectIdle},
		{&t.Markers, c.Timeouts.Markers},
		{&t.FinalIdle, c.Timeouts.FinalIdle},
		{&t.Settle, c.Timeouts.Settle},
	} {
		if o.v > 0 {
			*o.dst = o.v
		}
	}
	return opts
}

// WarmupCodes parses the configured warm-up codes.
func (c *Config) WarmupCodes() []tariff.Code {
	codes := make([]tariff.Code, 0, len(c.Warmup.Codes))
	for _, s := range c.Warmup.Codes {
		if code := tariff.ParseCode(s); code != "" {
			codes = append(codes, code)
		}
	}
	return codes
}

// loadEnvFile loads .env from the working directory or up to three parents.
// A missing file is fine.
func loadEnvFile() {
	dir, err := os.Getwd()
	if err != nil {
		return
	}
	for i := 0; i < 4; i++ {
		if err := godotenv.Load(filepath.Join(dir, ".env")); err == nil {
			return
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return
		}
		dir = parent
	}
}
