package core

import (
	"net/http"

	"github.com/eteran/simples3/internal/auth"
	"github.com/eteran/simples3/internal/storage"
)

const (
	DefaultBucket = "simple-bucket"
	DefaultRegion = "us-east-1"
)

// AuthObserver is told about every request the validator rejects.
type AuthObserver interface {
	AuthRejected(reason string)
}

type Config struct {
	DataDir       string
	Bucket        string
	Region        string
	Credentials   auth.Credentials
	MaxObjectSize int64

	// Validator overrides the default validator built from Credentials.
	Validator *auth.Validator

	StorageObserver storage.Observer
	AuthObserver    AuthObserver

	// Middlewares wrap the S3 handler inside logging and outside
	// authentication, in the order given.
	Middlewares []func(http.Handler) http.Handler
}

type ConfigOption func(*Config)

func WithDataDir(dataDir string) ConfigOption {
	return func(cfg *Config) {
		cfg.DataDir = dataDir
	}
}

func WithBucket(bucket string) ConfigOption {
	return func(cfg *Config) {
		cfg.Bucket = bucket
	}
}

func WithRegion(region string) ConfigOption {
	return func(cfg *Config) {
		cfg.Region = region
	}
}

func WithCredentials(accessKeyID string, secretAccessKey string) ConfigOption {
	return func(cfg *Config) {
		cfg.Credentials = auth.Credentials{
			AccessKeyID:     accessKeyID,
			SecretAccessKey: secretAccessKey,
		}
	}
}

func WithMaxObjectSize(size int64) ConfigOption {
	return func(cfg *Config) {
		cfg.MaxObjectSize = size
	}
}

func WithValidator(validator *auth.Validator) ConfigOption {
	return func(cfg *Config) {
		cfg.Validator = validator
	}
}

func WithStorageObserver(observer storage.Observer) ConfigOption {
	return func(cfg *Config) {
		cfg.StorageObserver = observer
	}
}

func WithAuthObserver(observer AuthObserver) ConfigOption {
	return func(cfg *Config) {
		cfg.AuthObserver = observer
	}
}

func WithMiddleware(mw ...func(http.Handler) http.Handler) ConfigOption {
	return func(cfg *Config) {
		cfg.Middlewares = append(cfg.Middlewares, mw...)
	}
}

func NewConfig(opts ...ConfigOption) Config {
	cfg := Config{
		Bucket:        DefaultBucket,
		Region:        DefaultRegion,
		MaxObjectSize: storage.DefaultMaxObjectSize,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}
