// Package config loads the gateway configuration from the environment.
//
// Every key is read as ZUUL_GATEWAY_<KEY>. The Zuul endpoint keys also fall
// back to their unprefixed names (ZUUL_URL, ZUUL_TENANT, ZUUL_CONNECTION).
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const envPrefix = "zuul_gateway"

// Backends lists the accepted values of Config.Backend.
var Backends = []string{"memory", "badger", "sqlite", "minio"}

type Config struct {
	// ZUUL_GATEWAY_LISTEN_ADDR
	ListenAddr string `split_words:"true" default:":8080"`
	// ZUUL_GATEWAY_SHUTDOWN_TIMEOUT
	ShutdownTimeout time.Duration `split_words:"true" default:"10s"`

	ZuulURL        string `envconfig:"ZUUL_URL" default:"http://localhost:9000"`
	ZuulTenant     string `envconfig:"ZUUL_TENANT" default:"local"`
	ZuulConnection string `envconfig:"ZUUL_CONNECTION" default:"virtual"`

	// Project is the name the gateway reports to Zuul for every event.
	Project string `default:"gateway"`
	// Token signs webhook payloads and is handed to Zuul as the hook token.
	Token string `default:"WCL92MLWMRPGKBQ5LI0LZCSIS4TRQMHR0Q"`

	LogFormat string `split_words:"true" default:"text"`
	LogLevel  string `split_words:"true" default:"info"`

	// Backend selects where object bytes live: memory, badger, sqlite or minio.
	Backend string `default:"memory"`
	// DataDir holds the badger directory or sqlite file.
	DataDir string `split_words:"true" default:"./data"`
	Minio   Minio
}

type Minio struct {
	Endpoint  string
	AccessKey string `split_words:"true"`
	SecretKey string `split_words:"true"`
	Bucket    string `default:"zuul-gateway"`
	Prefix    string `default:"objects/"`
	UseSSL    bool   `split_words:"true" default:"true"`
}

// Load reads the configuration from the environment and validates it.
func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("envconfig: %w", err)
	}
	cfg.ZuulURL = strings.TrimRight(cfg.ZuulURL, "/")

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the current Config for sanity.
func (cfg Config) Validate() error {
	u, err := url.Parse(cfg.ZuulURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid zuul url %q", cfg.ZuulURL)
	}
	if cfg.Token == "" {
		return fmt.Errorf("token must not be empty")
	}

	switch cfg.Backend {
	case "memory", "badger", "sqlite":
	case "minio":
		if cfg.Minio.Endpoint == "" {
			return fmt.Errorf("minio backend requires %s_MINIO_ENDPOINT", strings.ToUpper(envPrefix))
		}
	default:
		return fmt.Errorf("unknown backend %q, want one of %s", cfg.Backend, strings.Join(Backends, ", "))
	}
	return nil
}

// Usage prints the environment variables Config understands.
func Usage() error {
	return envconfig.Usage(envPrefix, &Config{})
}
