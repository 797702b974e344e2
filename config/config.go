// Package config loads passlog settings from defaults, an optional YAML file,
// a .env file and PASSLOG_* environment variables, in increasing priority.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds the entire configuration.
type Config struct {
	HTTP    HTTPConfig    `yaml:"http" mapstructure:"http"`
	Storage StorageConfig `yaml:"storage" mapstructure:"storage"`
	Pager   PagerConfig   `yaml:"pager" mapstructure:"pager"`
	Watch   WatchConfig   `yaml:"watch" mapstructure:"watch"`
	Ingest  IngestConfig  `yaml:"ingest" mapstructure:"ingest"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
}

// HTTPConfig configures the API listener.
type HTTPConfig struct {
	Host            string        `yaml:"host" mapstructure:"host"`
	Port            int           `yaml:"port" mapstructure:"port" validate:"min=1,max=65535"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout" validate:"gt=0"`
	CORS            CORSConfig    `yaml:"cors" mapstructure:"cors"`
}

// CORSConfig lists the origins, methods and headers browsers may use.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins" validate:"min=1"`
	AllowedMethods []string `yaml:"allowed_methods" mapstructure:"allowed_methods" validate:"min=1"`
	AllowedHeaders []string `yaml:"allowed_headers" mapstructure:"allowed_headers"`
}

// StorageConfig locates the database file.
type StorageConfig struct {
	Path string `yaml:"path" mapstructure:"path" validate:"required"`
}

// PagerConfig bounds suite pages.
type PagerConfig struct {
	PageSize    int `yaml:"page_size" mapstructure:"page_size" validate:"min=1"`
	MaxPageSize int `yaml:"max_page_size" mapstructure:"max_page_size" validate:"gtefield=PageSize"`
}

// WatchConfig tunes the watch stream.
type WatchConfig struct {
	QueueSize int           `yaml:"queue_size" mapstructure:"queue_size" validate:"min=1"`
	Heartbeat time.Duration `yaml:"heartbeat" mapstructure:"heartbeat" validate:"gt=0"`
}

// IngestConfig controls idle-suite detection.
type IngestConfig struct {
	DisconnectTimeout time.Duration `yaml:"disconnect_timeout" mapstructure:"disconnect_timeout" validate:"gt=0"`
	SweepInterval     time.Duration `yaml:"sweep_interval" mapstructure:"sweep_interval" validate:"gt=0"`
}

// LogConfig selects the log level and format.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level" validate:"oneof=trace debug info warn error"`
	Pretty bool   `yaml:"pretty" mapstructure:"pretty"`
}

// Address is the host:port the server listens on.
func (c HTTPConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

var validate = validator.New()

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.shutdown_timeout", 10*time.Second)
	v.SetDefault("http.cors.allowed_origins", []string{"*"})
	v.SetDefault("http.cors.allowed_methods", []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"})
	v.SetDefault("http.cors.allowed_headers", []string{"Content-Type"})
	v.SetDefault("storage.path", "data/passlog.db")
	v.SetDefault("pager.page_size", 50)
	v.SetDefault("pager.max_page_size", 500)
	v.SetDefault("watch.queue_size", 256)
	v.SetDefault("watch.heartbeat", 15*time.Second)
	v.SetDefault("ingest.disconnect_timeout", 5*time.Minute)
	v.SetDefault("ingest.sweep_interval", 30*time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
}

// Load builds the configuration. path may be empty, in which case passlog.yaml
// is looked up in the working directory and ./config, and its absence is not
// an error. A missing .env file is ignored.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("PASSLOG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.SetConfigName("passlog")
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	c.Log.Level = strings.ToLower(c.Log.Level)
	if err := validate.Struct(&c); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &c, nil
}
