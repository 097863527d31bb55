package main

import (
	"context"
	"fmt"
	"time"

	"github.com/boltdb/bolt"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/echlebek/asyncq"
	"github.com/echlebek/asyncq/redisq"
)

func newSugaredLogger(verbose bool) (*zap.SugaredLogger, error) {
	if verbose {
		l, err := zap.NewDevelopment()
		if err != nil {
			return nil, fmt.Errorf("failed to create development logger: %w", err)
		}
		return l.Sugar(), nil
	}
	l, err := zap.NewProduction()
	if err != nil {
		return nil, fmt.Errorf("failed to create production logger: %w", err)
	}
	return l.Sugar(), nil
}

// openTransport connects to the configured backend. The returned function
// releases the connection.
func openTransport(ctx context.Context, cfg Config) (asyncq.Transport, func() error, error) {
	switch cfg.Backend {
	case backendBolt:
		db, err := bolt.Open(cfg.BoltPath, 0600, &bolt.Options{Timeout: time.Second})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open %s: %w", cfg.BoltPath, err)
		}
		t, err := asyncq.NewBoltTransport(db)
		if err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return t, db.Close, nil
	case backendRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("failed to reach redis at %s: %w", cfg.RedisAddr, err)
		}
		t, err := redisq.New(client, redisq.WithPrefix(cfg.RedisPrefix))
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		return t, client.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

// session is what every command works with.
type session struct {
	cfg   Config
	log   *zap.SugaredLogger
	svc   *asyncq.Service
	close func() error
}

func openSession(ctx context.Context, flags flagSource, opts ...asyncq.Option) (*session, error) {
	cfg, err := loadConfig(flags)
	if err != nil {
		return nil, fmt.Errorf("failed to build config: %w", err)
	}
	log, err := newSugaredLogger(cfg.Verbose)
	if err != nil {
		return nil, err
	}
	log.Debugw("config",
		"backend", cfg.Backend,
		"boltPath", cfg.BoltPath,
		"redisAddr", cfg.RedisAddr,
		"redisPrefix", cfg.RedisPrefix,
		"queue", cfg.Queue,
		"create", cfg.Create,
		"codec", cfg.Codec,
	)
	codec, err := parseCodec(cfg.Codec)
	if err != nil {
		return nil, err
	}
	t, closeTransport, err := openTransport(ctx, cfg)
	if err != nil {
		return nil, err
	}
	opts = append([]asyncq.Option{asyncq.WithCodec(codec)}, opts...)
	svc, err := asyncq.NewService(t, cfg.Queue, cfg.Create, log, opts...)
	if err != nil {
		_ = closeTransport()
		return nil, err
	}
	return &session{
		cfg: cfg,
		log: log,
		svc: svc,
		close: func() error {
			_ = log.Sync()
			return closeTransport()
		},
	}, nil
}
