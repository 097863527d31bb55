package redisq

import "time"

type Options struct {
	Prefix       string
	BlockTimeout time.Duration
	Clock        func() time.Time
}

type Option func(*Options)

func WithPrefix(prefix string) Option {
	return func(o *Options) { o.Prefix = prefix }
}

// WithBlockTimeout sets how long one BLPOP round waits before a blocked
// receive checks whether its handle was closed. Redis counts BLPOP timeouts
// in seconds, so shorter values are raised to one second.
func WithBlockTimeout(d time.Duration) Option {
	return func(o *Options) { o.BlockTimeout = d }
}

// WithClock sets the clock used to stamp and expire messages.
func WithClock(now func() time.Time) Option {
	return func(o *Options) { o.Clock = now }
}
