package config

import (
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server  ServerConfig
	Data    DataConfig
	Gateway GatewayConfig
	Ingest  IngestConfig
	Links   LinksConfig
	Reaper  ReaperConfig
	Groups  GroupsConfig
	Send    SendConfig
	Auth    AuthConfig
}

type ServerConfig struct {
	Port string
	Mode string
}

type DataConfig struct {
	Dir             string
	PlaceholderPath string
}

type GatewayConfig struct {
	URL              string
	HandshakeTimeout time.Duration
}

type IngestConfig struct {
	URL      string
	Platform string
	Timeout  time.Duration
}

type LinksConfig struct {
	BaseURL  string
	Channels []string
	BitlyURL string
}

type ReaperConfig struct {
	Interval    time.Duration
	IdleTimeout time.Duration
}

type GroupsConfig struct {
	FetchTimeout time.Duration
	MaxRetries   int
	BackoffBase  time.Duration
}

type SendConfig struct {
	RatePerSecond float64
	Burst         int
}

type AuthConfig struct {
	JWTSecret string
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.SetEnvPrefix("LINKPULSE")
	viper.AutomaticEnv()

	// Set defaults
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.mode", "debug")
	viper.SetDefault("data.dir", "./data")
	viper.SetDefault("data.placeholderpath", "./assets/placeholder.png")
	viper.SetDefault("gateway.handshaketimeout", "10s")
	viper.SetDefault("ingest.platform", "whatsapp")
	viper.SetDefault("ingest.timeout", "10s")
	viper.SetDefault("links.baseurl", "http://localhost:8080")
	viper.SetDefault("links.channels", []string{"whatsapp", "telegram"})
	viper.SetDefault("links.bitlyurl", "https://api-ssl.bitly.com/v4/shorten")
	viper.SetDefault("reaper.interval", "30s")
	viper.SetDefault("reaper.idletimeout", "10m")
	viper.SetDefault("groups.fetchtimeout", "15s")
	viper.SetDefault("groups.maxretries", 3)
	viper.SetDefault("groups.backoffbase", "1s")
	viper.SetDefault("send.ratepersecond", 1.0)
	viper.SetDefault("send.burst", 5)

	var cfg Config
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Override with environment variables
	if url := os.Getenv("GATEWAY_URL"); url != "" {
		cfg.Gateway.URL = url
	}
	if url := os.Getenv("INGEST_URL"); url != "" {
		cfg.Ingest.URL = url
	}
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		cfg.Auth.JWTSecret = secret
	}
	if dir := os.Getenv("DATA_DIR"); dir != "" {
		cfg.Data.Dir = dir
	}

	return &cfg, nil
}
