package fleet

import "log/slog"

type Observer func(Event)

type Config struct {
	Logger *slog.Logger `json:"-"`
	// Observer receives allocation events synchronously, on the allocating goroutine
	Observer Observer `json:"-"`
}

func (c Config) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}
