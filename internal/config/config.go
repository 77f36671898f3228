package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. APPROVAL_GATE_SERVER_ADDR.
const EnvPrefix = "APPROVAL_GATE"

// LogConfig controls the application logger.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// TelemetryConfig controls OpenTelemetry metrics and tracing.
type TelemetryConfig struct {
	ServiceName    string `mapstructure:"service_name"`
	ServiceVersion string `mapstructure:"service_version"`
	// MetricsEnable serves the Prometheus scrape endpoint at /metrics.
	MetricsEnable bool `mapstructure:"metrics_enable"`
	// OTLPEndpoint is a host:port for OTLP/HTTP export of traces and
	// metrics. Empty disables export.
	OTLPEndpoint   string        `mapstructure:"otlp_endpoint"`
	OTLPInsecure   bool          `mapstructure:"otlp_insecure"`
	ExportInterval time.Duration `mapstructure:"export_interval"`
	SamplingRatio  float64       `mapstructure:"sampling_ratio"`
}

// Config holds the configuration for the application.
type Config struct {
	Server struct {
		Addr            string        `mapstructure:"addr"`
		ReadTimeout     time.Duration `mapstructure:"read_timeout"`
		WriteTimeout    time.Duration `mapstructure:"write_timeout"`
		IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
		ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	} `mapstructure:"server"`
	TLS struct {
		Enable    bool     `mapstructure:"enable"`
		CertFile  string   `mapstructure:"cert_file"`
		KeyFile   string   `mapstructure:"key_file"`
		Hostnames []string `mapstructure:"hostnames"`
	} `mapstructure:"tls"`
	Log       LogConfig       `mapstructure:"log"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	MCP struct {
		Enable bool `mapstructure:"enable"`
	} `mapstructure:"mcp"`
	Workflow struct {
		DefaultTimeoutMinutes int `mapstructure:"default_timeout_minutes"`
	} `mapstructure:"workflow"`
	Client struct {
		BaseURL      string        `mapstructure:"base_url"`
		PollInterval time.Duration `mapstructure:"poll_interval"`
		MaxWait      time.Duration `mapstructure:"max_wait"`
	} `mapstructure:"client"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8000")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)

	v.SetDefault("tls.enable", false)
	v.SetDefault("tls.cert_file", "")
	v.SetDefault("tls.key_file", "")
	v.SetDefault("tls.hostnames", []string{})

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size", 100)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age", 28)
	v.SetDefault("log.compress", false)

	v.SetDefault("telemetry.service_name", "approval-gate")
	v.SetDefault("telemetry.service_version", "1.0.0")
	v.SetDefault("telemetry.metrics_enable", true)
	v.SetDefault("telemetry.otlp_endpoint", "")
	v.SetDefault("telemetry.otlp_insecure", true)
	v.SetDefault("telemetry.export_interval", 30*time.Second)
	v.SetDefault("telemetry.sampling_ratio", 1.0)

	v.SetDefault("mcp.enable", true)
	v.SetDefault("workflow.default_timeout_minutes", 5)

	v.SetDefault("client.base_url", "http://localhost:8000")
	v.SetDefault("client.poll_interval", 3*time.Second)
	v.SetDefault("client.max_wait", 10*time.Minute)
}

// LoadConfig loads the configuration from a file and the environment. When
// configFile is empty, config.yaml is looked up in . and ./config and may be
// absent.
func LoadConfig(configFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := config.validate(); err != nil {
		return nil, err
	}

	config.Client.BaseURL = normalizeBaseURL(config.Client.BaseURL)
	return &config, nil
}

func (c *Config) validate() error {
	if c.Workflow.DefaultTimeoutMinutes < 0 {
		return fmt.Errorf("workflow.default_timeout_minutes must be >= 0, got %d", c.Workflow.DefaultTimeoutMinutes)
	}
	if r := c.Telemetry.SamplingRatio; r < 0 || r > 1 {
		return fmt.Errorf("telemetry.sampling_ratio must be within [0, 1], got %g", r)
	}
	if c.TLS.Enable && (c.TLS.CertFile == "" || c.TLS.KeyFile == "") {
		return errors.New("tls.enable requires tls.cert_file and tls.key_file")
	}
	return nil
}

// normalizeBaseURL strips trailing slashes so paths can be appended directly.
func normalizeBaseURL(input string) string {
	return strings.TrimRight(strings.TrimSpace(input), "/")
}
