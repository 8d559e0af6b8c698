// Package config loads the simples3 server configuration.
//
// Sources, lowest precedence first:
//  1. built-in defaults
//  2. an optional YAML file
//  3. environment variables (HOST, PORT, BUCKET, ACCESS_KEY, SECRET_KEY,
//     DATA_DIR, and SIMPLES3_<KEY> for every key)
//  4. command-line flags that were explicitly set
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"

	"github.com/eteran/simples3/internal/core"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	EnvPrefix = "SIMPLES3"

	redacted = "REDACTED"
)

type Config struct {
	Host          string        `mapstructure:"host" yaml:"host"`
	Port          int           `mapstructure:"port" yaml:"port"`
	Bucket        string        `mapstructure:"bucket" yaml:"bucket"`
	Region        string        `mapstructure:"region" yaml:"region"`
	AccessKey     string        `mapstructure:"access_key" yaml:"access_key"`
	SecretKey     string        `mapstructure:"secret_key" yaml:"secret_key"`
	DataDir       string        `mapstructure:"data_dir" yaml:"data_dir"`
	MaxObjectSize string        `mapstructure:"max_object_size" yaml:"max_object_size"`
	LogLevel      string        `mapstructure:"log_level" yaml:"log_level"`
	MetricsListen string        `mapstructure:"metrics_listen" yaml:"metrics_listen"`
	TLS           TLSConfig     `mapstructure:"tls" yaml:"tls"`
	Tracing       TracingConfig `mapstructure:"tracing" yaml:"tracing"`
}

// TLSConfig enables an additional HTTPS listener when both files are set.
type TLSConfig struct {
	Port     int    `mapstructure:"port" yaml:"port"`
	CertFile string `mapstructure:"cert_file" yaml:"cert_file"`
	KeyFile  string `mapstructure:"key_file" yaml:"key_file"`
}

type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled" yaml:"enabled"`
	Endpoint    string  `mapstructure:"endpoint" yaml:"endpoint"`
	Protocol    string  `mapstructure:"protocol" yaml:"protocol"`
	SampleRatio float64 `mapstructure:"sample_ratio" yaml:"sample_ratio"`
	ServiceName string  `mapstructure:"service_name" yaml:"service_name"`
}

// plainEnv lists the keys that are also read from an unprefixed variable.
var plainEnv = map[string]string{
	"host":       "HOST",
	"port":       "PORT",
	"bucket":     "BUCKET",
	"access_key": "ACCESS_KEY",
	"secret_key": "SECRET_KEY",
	"data_dir":   "DATA_DIR",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("port", 9000)
	v.SetDefault("bucket", core.DefaultBucket)
	v.SetDefault("region", core.DefaultRegion)
	v.SetDefault("access_key", "mykey")
	v.SetDefault("secret_key", "mysecret")
	v.SetDefault("data_dir", "./s3-data")
	v.SetDefault("max_object_size", "5GiB")
	v.SetDefault("log_level", "info")
	v.SetDefault("metrics_listen", "")

	v.SetDefault("tls.port", 9443)
	v.SetDefault("tls.cert_file", "")
	v.SetDefault("tls.key_file", "")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.protocol", "grpc")
	v.SetDefault("tracing.sample_ratio", 1.0)
	v.SetDefault("tracing.service_name", "simples3")
}

// RegisterFlags defines one flag per top-level setting on fs. Flag names are
// the config keys with '_' replaced by '-'.
func RegisterFlags(fs *flag.FlagSet) {
	fs.String("host", "", "listen host")
	fs.Int("port", 0, "listen port")
	fs.String("bucket", "", "name of the bucket to serve")
	fs.String("region", "", "region reported to clients")
	fs.String("access-key", "", "access key clients must present")
	fs.String("secret-key", "", "secret key clients must present")
	fs.String("data-dir", "", "directory holding the bucket")
	fs.String("max-object-size", "", "largest accepted object, e.g. 512MiB")
	fs.String("log-level", "", "debug, info, warn or error")
	fs.String("metrics-listen", "", "address of the Prometheus /metrics listener")
}

// Load reads the configuration. path may be empty. Only flags that were
// explicitly set on fs override the other sources; fs may be nil.
func Load(path string, fs *flag.FlagSet) (Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, name := range plainEnv {
		if err := v.BindEnv(key, EnvPrefix+"_"+strings.ToUpper(key), name); err != nil {
			return Config{}, fmt.Errorf("bind env %s: %w", name, err)
		}
	}

	if fs != nil {
		fs.Visit(func(f *flag.Flag) {
			v.Set(strings.ReplaceAll(f.Name, "-", "_"), f.Value.String())
		})
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

// Addr is the S3 listen address.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// TLSAddr is the HTTPS listen address.
func (c Config) TLSAddr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.TLS.Port))
}

// TLSEnabled reports whether a certificate and key were configured.
func (c Config) TLSEnabled() bool {
	return c.TLS.CertFile != "" && c.TLS.KeyFile != ""
}

// MaxObjectBytes parses MaxObjectSize, which accepts sizes such as "5GiB"
// or a plain byte count.
func (c Config) MaxObjectBytes() (int64, error) {
	n, err := humanize.ParseBytes(c.MaxObjectSize)
	if err != nil {
		return 0, fmt.Errorf("invalid max_object_size %q: %w", c.MaxObjectSize, err)
	}
	if n == 0 || n > 1<<62 {
		return 0, fmt.Errorf("max_object_size %q out of range", c.MaxObjectSize)
	}
	return int64(n), nil
}

// Level returns the parsed log level.
func (c Config) Level() (log.Level, error) {
	return log.ParseLevel(c.LogLevel)
}

// Validate reports every problem with the configuration at once.
func (c Config) Validate() error {
	var errs []error

	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if !core.IsValidBucketName(c.Bucket) {
		errs = append(errs, fmt.Errorf("invalid bucket name %q", c.Bucket))
	}
	if c.AccessKey == "" || c.SecretKey == "" {
		errs = append(errs, errors.New("access_key and secret_key must not be empty"))
	}
	if c.DataDir == "" {
		errs = append(errs, errors.New("data_dir must not be empty"))
	}
	if _, err := c.MaxObjectBytes(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Level(); err != nil {
		errs = append(errs, fmt.Errorf("invalid log_level %q", c.LogLevel))
	}
	if (c.TLS.CertFile == "") != (c.TLS.KeyFile == "") {
		errs = append(errs, errors.New("tls.cert_file and tls.key_file must be set together"))
	}
	if c.TLSEnabled() && (c.TLS.Port < 1 || c.TLS.Port > 65535) {
		errs = append(errs, fmt.Errorf("tls.port %d out of range", c.TLS.Port))
	}
	if c.Tracing.Enabled {
		switch c.Tracing.Protocol {
		case "grpc", "http":
		default:
			errs = append(errs, fmt.Errorf("tracing.protocol must be grpc or http, got %q", c.Tracing.Protocol))
		}
		if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
			errs = append(errs, fmt.Errorf("tracing.sample_ratio %v not in [0,1]", c.Tracing.SampleRatio))
		}
	}

	return errors.Join(errs...)
}

// Dump writes the effective configuration as YAML with the secret key
// redacted.
func (c Config) Dump(w io.Writer) error {
	if c.SecretKey != "" {
		c.SecretKey = redacted
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return enc.Close()
}
