package sse

import "time"

// Config holds configuration for SSE connections
type Config struct {
	// KeepAliveInterval is how often a comment ping is written so proxies
	// don't time out an idle stream
	KeepAliveInterval time.Duration
	// EventIDs adds an id: line to every event (debug builds)
	EventIDs bool
}

// DefaultConfig returns the default SSE configuration.
// 10 seconds is safe for most proxies and edge runtimes.
func DefaultConfig() *Config {
	return &Config{
		KeepAliveInterval: 10 * time.Second,
	}
}
