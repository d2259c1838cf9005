package catalog

import (
	"errors"
	"log/slog"
	"time"
)

const (
	DefaultConcurrency  = 5
	DefaultQuoteTimeout = 15 * time.Second
)

type Config struct {
	Logger *slog.Logger `json:"-"`
	// Maximum number of quotes in flight per provider
	Concurrency int `json:"concurrency"`
	// Deadline of a single quote request
	QuoteTimeout time.Duration `json:"quote-timeout"`
}

func DefaultConfig() Config {
	return Config{
		Logger:       slog.Default(),
		Concurrency:  DefaultConcurrency,
		QuoteTimeout: DefaultQuoteTimeout,
	}
}

func Validate(config Config) error {
	if config.Concurrency < 1 {
		return errors.New("concurrency must be greater than 0")
	}
	if config.QuoteTimeout <= 0 {
		return errors.New("quote-timeout must be greater than 0")
	}
	return nil
}

func (c Config) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}
