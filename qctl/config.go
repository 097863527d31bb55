package main

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"

	"github.com/echlebek/asyncq"
)

const (
	backendBolt  = "bolt"
	backendRedis = "redis"
)

// Config holds everything qctl needs to reach a queue. Values come from the
// environment and are overridden by command line flags.
type Config struct {
	Backend     string `env:"QCTL_BACKEND"      envDefault:"bolt"`                // "bolt" or "redis"
	BoltPath    string `env:"QCTL_BOLT_PATH"    envDefault:"asyncq.db"`           // Database file for the bolt backend
	RedisAddr   string `env:"QCTL_REDIS_ADDR"   envDefault:"localhost:6379"`      // Server address for the redis backend
	RedisPrefix string `env:"QCTL_REDIS_PREFIX" envDefault:"asyncq"`              // Key prefix for the redis backend
	Queue       string `env:"QCTL_QUEUE"        envDefault:"private$/clientTest"` // Queue identity
	Create      bool   `env:"QCTL_CREATE"       envDefault:"true"`                // Create the queue if it does not exist
	Codec       string `env:"QCTL_CODEC"        envDefault:"json"`                // json, xml, json+snappy or json+lz4
	Verbose     bool   `env:"QCTL_VERBOSE"      envDefault:"false"`
}

// flagSource is the part of *cli.Context used to override the environment.
type flagSource interface {
	IsSet(name string) bool
	String(name string) string
	Bool(name string) bool
}

// loadConfig reads the environment, then applies the flags that were set.
func loadConfig(flags flagSource) (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse environment: %w", err)
	}
	for name, dst := range map[string]*string{
		"backend":      &cfg.Backend,
		"bolt-path":    &cfg.BoltPath,
		"redis-addr":   &cfg.RedisAddr,
		"redis-prefix": &cfg.RedisPrefix,
		"queue":        &cfg.Queue,
		"codec":        &cfg.Codec,
	} {
		if flags.IsSet(name) {
			*dst = flags.String(name)
		}
	}
	if flags.IsSet("create") {
		cfg.Create = flags.Bool("create")
	}
	if flags.IsSet("verbose") {
		cfg.Verbose = flags.Bool("verbose")
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	switch c.Backend {
	case backendBolt:
		if c.BoltPath == "" {
			return fmt.Errorf("bolt-path must be set for the %s backend", backendBolt)
		}
	case backendRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("redis-addr must be set for the %s backend", backendRedis)
		}
	default:
		return fmt.Errorf("unknown backend %q (want %s or %s)", c.Backend, backendBolt, backendRedis)
	}
	if _, err := asyncq.ParseIdentity(c.Queue); err != nil {
		return err
	}
	_, err := parseCodec(c.Codec)
	return err
}

func parseCodec(name string) (asyncq.Codec, error) {
	base, alg, _ := strings.Cut(strings.ToLower(name), "+")
	var codec asyncq.Codec
	switch base {
	case "json":
		codec = asyncq.JSON
	case "xml":
		codec = asyncq.XML
	default:
		return nil, fmt.Errorf("unknown codec %q", name)
	}
	switch alg {
	case "":
		return codec, nil
	case "snappy":
		return asyncq.Compressed(codec, asyncq.Snappy), nil
	case "lz4":
		return asyncq.Compressed(codec, asyncq.LZ4), nil
	default:
		return nil, fmt.Errorf("unknown compression %q", alg)
	}
}
